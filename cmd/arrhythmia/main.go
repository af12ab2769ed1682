package main

import (
	"os"

	"github.com/spf13/cobra"

	_ "github.com/WKolasaa/ArrhythmiaClassifier/docs"
	"github.com/WKolasaa/ArrhythmiaClassifier/internal/config"
)

const version = "1.0.0"

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "arrhythmia",
		Short:         "ECG arrhythmia classification backend",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		// без подкоманды запускается сервер
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), config.Load())
		},
	}
	root.AddCommand(
		newServeCmd(),
		newMigrateCmd(),
		newSeedCmd(),
		newRetrainCmd(),
		newMCPCmd(),
		newEmulateCmd(),
		newHealthcheckCmd(),
	)
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		if config.Logger == nil {
			config.InitLogger()
		}
		config.Logger.Error("Command failed", "error", err)
		os.Exit(1)
	}
}
