package storage_test

import (
	"path/filepath"
	"testing"

	"github.com/pixperk/rolodex/pkg/storage"
	"github.com/pixperk/rolodex/pkg/storage/storagetest"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.RecordStore {
		return storage.NewMemoryStore()
	})
}

func TestBoltStore(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.RecordStore {
		s, err := storage.NewBoltStore(filepath.Join(t.TempDir(), "records.db"))
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		return s
	})
}

func TestSQLiteStore(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.RecordStore {
		s, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "records.sqlite"))
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		return s
	})
}

func TestBoltStoreReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.db")

	s1, err := storage.NewBoltStore(path)
	require.NoError(t, err)
	rec := storagetest.Seed(t, s1, "Ada", 0)
	require.NoError(t, s1.Close())

	s2, err := storage.NewBoltStore(path)
	require.NoError(t, err)
	defer s2.Close()

	got, err := s2.Get(t.Context(), rec.ID)
	require.NoError(t, err)
	require.Equal(t, "Ada", got.Name)
}
