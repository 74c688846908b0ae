// Command bastion runs the authorization server and its maintenance
// subcommands.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/bastionlabs/bastion/internal/config"
)

var (
	flagConfig  string
	flagEnvFile string
)

func main() {
	root := &cobra.Command{
		Use:           "bastion",
		Short:         "OAuth 2.0 authorization server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			_ = godotenv.Load(flagEnvFile)
		},
	}
	root.PersistentFlags().StringVar(&flagConfig, "config", os.Getenv("BASTION_CONFIG"), "path to config YAML")
	root.PersistentFlags().StringVar(&flagEnvFile, "env-file", ".env", "dotenv file with overrides")

	root.AddCommand(serveCmd(), clientCmd(), sweepCmd(), secretCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	return config.Load(flagConfig)
}
