package main

import (
	"os"

	"github.com/pixperk/rolodex/pkg/config"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration as YAML",
	Long: `Print the configuration rolodex would run with after merging defaults,
the config file, ROLODEX_* environment variables and flags.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(v)
		if err != nil {
			return err
		}

		// never echo credentials
		users := make([]config.User, len(cfg.Auth.Users))
		for i, u := range cfg.Auth.Users {
			users[i] = config.User{Username: u.Username, Password: "********"}
		}
		cfg.Auth.Users = users

		enc := yaml.NewEncoder(os.Stdout)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(cfg)
	},
}
