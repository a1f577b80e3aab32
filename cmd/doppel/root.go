package main

import (
	"strings"

	"github.com/spf13/cobra"

	"doppel/internal/api"
	"doppel/internal/config"
)

// commandContext resolves the daemon address and auth token once per
// invocation, from flags first and the config file as fallback.
type commandContext struct {
	addrFlag   *string
	tokenFlag  *string
	configFlag *string

	client *api.Client
}

func (c *commandContext) ensureClient() (*api.Client, error) {
	if c.client != nil {
		return c.client, nil
	}

	addr := strings.TrimSpace(*c.addrFlag)
	token := *c.tokenFlag
	if addr == "" || token == "" {
		cfg, _, _, err := config.Load(*c.configFlag)
		if err != nil {
			return nil, err
		}
		if addr == "" {
			addr = cfg.Paths.APIBind
		}
		if token == "" {
			token = cfg.Paths.APIToken
		}
	}

	c.client = api.NewClient(addr, token)
	return c.client, nil
}

func newRootCommand() *cobra.Command {
	var addrFlag, tokenFlag, configFlag string
	ctx := &commandContext{addrFlag: &addrFlag, tokenFlag: &tokenFlag, configFlag: &configFlag}

	rootCmd := &cobra.Command{
		Use:           "doppel",
		Short:         "Operator CLI for the digital twin workflow daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
	rootCmd.PersistentFlags().StringVar(&addrFlag, "addr", "", "Daemon API address (host:port)")
	rootCmd.PersistentFlags().StringVar(&tokenFlag, "token", "", "API bearer token")
	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path")

	rootCmd.AddCommand(newStatusCommand(ctx))
	rootCmd.AddCommand(newProcessesCommand(ctx))
	rootCmd.AddCommand(newProcessCommand(ctx))
	rootCmd.AddCommand(newCreateCommand(ctx))
	return rootCmd
}
