// Package cmd implements CLI commands using cobra framework.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"firestige.xyz/flowscope/internal/config"
	"firestige.xyz/flowscope/internal/log"

	// Capture backends and sinks register themselves on import.
	_ "firestige.xyz/flowscope/internal/sink/console"
	_ "firestige.xyz/flowscope/internal/sink/file"
	_ "firestige.xyz/flowscope/internal/sink/kafka"
	_ "firestige.xyz/flowscope/internal/source/afpacket"
	_ "firestige.xyz/flowscope/internal/source/file"
	_ "firestige.xyz/flowscope/internal/source/pcap"
)

var (
	// Global flags
	configFile string

	// cfg is loaded once per invocation by loadConfig.
	cfg *config.GlobalConfig
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "flowscope",
	Short: "flowscope - passive TCP flow analyzer",
	Long: `flowscope captures link-layer frames from a live interface or a capture file,
reassembles fragmented IPv4 datagrams, tracks TCP connection state per stream,
identifies the application protocol and delivers one record per segment to a sink.`,
	Version:       "0.1.0",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "",
		"config file path (defaults plus FLOWSCOPE_* environment when empty)")

	rootCmd.AddCommand(captureCmd)
	rootCmd.AddCommand(replayCmd)
	rootCmd.AddCommand(devicesCmd)
	rootCmd.AddCommand(validateCmd)
}

// loadConfig loads the configuration and initializes logging.
func loadConfig() error {
	c, err := config.Load(configFile)
	if err != nil {
		return err
	}
	cfg = c
	return nil
}

func initLogging() error {
	if err := log.Init(cfg.Log); err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	return nil
}
