package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "edge-proxy",
	Short: "TLS-terminating reverse proxy with response caching",
	Long: `edge-proxy routes inbound HTTP and HTTPS requests to backend pools,
serves cacheable responses from a size-bounded in-memory cache, and steers
traffic away from unhealthy backends.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"config file path (default: config.yaml in ./config or the working directory)")
}
