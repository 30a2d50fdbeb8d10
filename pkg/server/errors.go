package server

import (
	"errors"
	"fmt"

	"github.com/pixperk/rolodex/pkg/raft"
	"github.com/pixperk/rolodex/pkg/types"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// converts domain errors to gRPC status errors
func toGRPCError(err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, types.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())

	case errors.Is(err, types.ErrLockConflict):
		return status.Error(codes.FailedPrecondition, err.Error())

	case errors.Is(err, types.ErrNotOwner):
		return status.Error(codes.PermissionDenied, err.Error())

	case errors.Is(err, types.ErrValidation), errors.Is(err, types.ErrMissingIdentity):
		return status.Error(codes.InvalidArgument, err.Error())

	case errors.Is(err, raft.ErrNotLeader):
		return status.Error(codes.Unavailable, err.Error())

	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// returned when the hub drops a stream that stopped reading
func evictedError(connID string) error {
	return status.Error(codes.ResourceExhausted, fmt.Sprintf("connection %s evicted: outbound queue full", connID))
}
