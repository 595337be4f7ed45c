package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/angeloszaimis/edge-proxy/config"
	"github.com/angeloszaimis/edge-proxy/pkg/logger"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the configuration",
	Long: `Load and validate the configuration, compile the routing table and
load the TLS certificates without starting any listener.`,
	RunE: runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg, err := config.NewLoader(cfgFile, logger.Discard()).Load()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	a, err := newApp(cfg, logger.Discard())
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	defer a.close()

	snapshot := a.mapper.Snapshot()
	fmt.Fprintf(cmd.OutOrStdout(), "configuration valid: %d backends, %d routes, %d certificates\n",
		len(snapshot.Backends()), len(snapshot.Routes()), a.certs.Len())
	return nil
}
