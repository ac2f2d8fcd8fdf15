package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"invoicing-engine/internal/config"
	"invoicing-engine/internal/logger"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "invoiced",
	Short: "Fiscal document engine CLI",
	Long: `invoiced manages the fiscal document engine: database migrations,
the recurring invoice runner, PDF rendering and accounting exports.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_ = godotenv.Load()
		var err error
		cfg, err = config.Load()
		if err != nil {
			return err
		}
		return logger.Setup(cfg.GetLoggerConfig())
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
