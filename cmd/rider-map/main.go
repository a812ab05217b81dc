package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"rider-map/pkg/config"
	"rider-map/pkg/logger"
)

const serviceName = "rider-map"

var configFile string

var rootCmd = &cobra.Command{
	Use:   "rider-map",
	Short: "Live rider locations map for the admin console",
	Long: `rider-map serves the admin riders map: it polls the rider locations
snapshot, refreshes on push notifications and renders markers, clusters and
the camera viewport for every connected admin.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", ".env",
		"config file (.env key=value or .yaml); a missing default file is ignored")
	rootCmd.AddCommand(serveCmd, snapshotCmd, notifyCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the config file named by --config. The default .env is
// optional; an explicitly named file must exist.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	name := configFile
	if !cmd.Flags().Changed("config") {
		if _, err := os.Stat(name); errors.Is(err, fs.ErrNotExist) {
			name = ""
		}
	}
	cfg, err := config.LoadConfig(name)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

func newLogger() logger.Logger {
	return logger.NewLogger(serviceName)
}
