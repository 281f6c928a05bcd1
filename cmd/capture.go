package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"firestige.xyz/flowscope/internal/core"
)

var (
	captureDevice    string
	captureBackend   string
	captureSaveFile  string
	captureFilter    string
	captureNoDisplay bool
)

var captureCmd = &cobra.Command{
	Use:   "capture",
	Short: "Capture and analyze live traffic",
	Long: `Capture frames from a network device and analyze them.

The device may be a glob pattern matched against the device list; the first
match is used. With the dashboard enabled, type commands followed by Enter:
  s            start/stop capture
  d <device>   switch device
  q            quit

Examples:
  flowscope capture -d eth0
  flowscope capture -d 'en*' --filter 'tcp port 443' --save out.pcap
  flowscope capture -c flowscope.yml --no-dashboard`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := loadConfig(); err != nil {
			return err
		}
		applyCaptureFlags(cmd)

		showDashboard := cfg.Dashboard.Enabled && !captureNoDisplay
		if showDashboard {
			// The dashboard owns the terminal.
			cfg.Log.Console = "none"
		}
		if err := initLogging(); err != nil {
			return err
		}
		if cfg.Capture.Device == "" && !showDashboard {
			return fmt.Errorf("capture: --device required without dashboard: %w", core.ErrNoTarget)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return runSession(ctx, cfg, sessionOptions{
			target:    cfg.Capture.Device,
			dashboard: showDashboard,
		})
	},
}

func init() {
	captureCmd.Flags().StringVarP(&captureDevice, "device", "d", "", "device name or glob pattern")
	captureCmd.Flags().StringVarP(&captureBackend, "backend", "b", "", "capture backend (pcap, afpacket)")
	captureCmd.Flags().StringVarP(&captureSaveFile, "save", "w", "", "also write every frame to this pcap file")
	captureCmd.Flags().StringVarP(&captureFilter, "filter", "f", "", "BPF filter expression")
	captureCmd.Flags().BoolVar(&captureNoDisplay, "no-dashboard", false, "disable the terminal dashboard")
}

// applyCaptureFlags lets explicitly set flags override the configuration.
func applyCaptureFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	if flags.Changed("device") {
		cfg.Capture.Device = captureDevice
	}
	if flags.Changed("backend") {
		cfg.Capture.Backend = captureBackend
	}
	if flags.Changed("save") {
		cfg.Capture.SaveFile = captureSaveFile
	}
	if flags.Changed("filter") {
		cfg.Capture.BPFFilter = captureFilter
	}
}
