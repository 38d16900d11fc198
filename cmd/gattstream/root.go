package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/user/gattstream/config"
	"github.com/user/gattstream/logger"
)

var (
	// Global flags
	cfgFile  string
	dataDir  string
	deviceID string
	logLevel string
	framing  string
	compress string

	// Shared state set during PersistentPreRunE
	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "gattstream",
	Short: "Chunked, compressed message streams over a simulated BLE GATT link",
	Long: `gattstream sends length-unbounded messages between devices over a link
that only carries small acknowledged characteristic writes. Messages are
compressed, wrapped in <START>/<END> markers and written as 512 byte chunks;
the receiver reassembles them from whatever fragments arrive.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		path := cfgFile
		if path == "" {
			path = config.DefaultPath()
		}
		var err error
		cfg, err = config.Load(path)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		// Override config with flags
		if dataDir != "" {
			cfg.DataDir = dataDir
		}
		if deviceID != "" {
			cfg.DeviceID = deviceID
		}
		if logLevel != "" {
			cfg.LogLevel = logLevel
		}
		if framing != "" {
			cfg.Framing = framing
		}
		if compress != "" {
			cfg.Compression = compress
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		logger.SetLevel(cfg.Level())
		return nil
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ~/.gattstream-data/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "data directory holding sockets and the device id")
	rootCmd.PersistentFlags().StringVar(&deviceID, "id", "", "device UUID (default: persisted in the data directory)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "trace, debug, info, warn or error")
	rootCmd.PersistentFlags().StringVar(&framing, "framing", "", "frame delimiting: marker or length")
	rootCmd.PersistentFlags().StringVar(&compress, "compression", "", "payload compression: zlib or deflate")
}
