package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"firestige.xyz/flowscope/internal/config"
)

var (
	replayFile   string
	replaySink   string
	replayFilter string
)

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Analyze a pcap or pcapng file",
	Long: `Run a capture file through the same pipeline as live capture and exit
at the end of the file. Records go to the console sink unless a sink is
configured or given with --sink.

Examples:
  flowscope replay -f trace.pcap
  flowscope replay -f trace.pcapng --filter 'tcp port 22'
  flowscope replay -f trace.pcap --sink kafka -c flowscope.yml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := loadConfig(); err != nil {
			return err
		}
		cfg.Capture.Backend = "file"
		if cmd.Flags().Changed("filter") {
			cfg.Capture.BPFFilter = replayFilter
		}
		switch {
		case replaySink != "":
			cfg.Sink.Type = replaySink
		case cfg.Sink.Type == config.SinkNone:
			cfg.Sink.Type = "console"
		}
		if err := cfg.ValidateAndApplyDefaults(); err != nil {
			return err
		}
		if err := initLogging(); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return runSession(ctx, cfg, sessionOptions{
			target:    replayFile,
			stopAtEOF: true,
		})
	},
}

func init() {
	replayCmd.Flags().StringVarP(&replayFile, "file", "f", "", "capture file to replay (required)")
	replayCmd.Flags().StringVarP(&replaySink, "sink", "s", "", "sink type overriding the configuration (kafka, file, console, none)")
	replayCmd.Flags().StringVar(&replayFilter, "filter", "", "BPF filter expression")
	replayCmd.MarkFlagRequired("file")
}
