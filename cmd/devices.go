package cmd

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"firestige.xyz/flowscope/internal/source"
)

var (
	devicesMatch   string
	devicesBackend string
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List capture devices",
	Long: `List the devices the capture backend can open.

Examples:
  flowscope devices
  flowscope devices --match 'eth*'
  flowscope devices -b afpacket`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := loadConfig(); err != nil {
			return err
		}
		backend := cfg.Capture.Backend
		if devicesBackend != "" {
			backend = devicesBackend
		}

		src, err := source.New(backend)
		if err != nil {
			return err
		}
		devices, err := src.ListDevices()
		if err != nil {
			return fmt.Errorf("list devices: %w", err)
		}
		devices, err = source.MatchDevices(devices, devicesMatch)
		if err != nil {
			return err
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "NAME\tADDRESSES\tDESCRIPTION")
		for _, d := range devices {
			addrs := make([]string, len(d.Addresses))
			for i, a := range d.Addresses {
				addrs[i] = a.String()
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\n", d.Name, strings.Join(addrs, ","), d.Description)
		}
		return tw.Flush()
	},
}

func init() {
	devicesCmd.Flags().StringVarP(&devicesMatch, "match", "m", "", "glob pattern filtering device names")
	devicesCmd.Flags().StringVarP(&devicesBackend, "backend", "b", "", "capture backend (pcap, afpacket)")
}
