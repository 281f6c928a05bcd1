// Package dashboard renders the session state on a terminal and reads
// operator commands.
package dashboard

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"golang.org/x/term"

	"firestige.xyz/flowscope/internal/core"
	"firestige.xyz/flowscope/internal/session"
)

const (
	defaultRefresh = 500 * time.Millisecond
	defaultWidth   = 120
	defaultHeight  = 30

	// headerLines is the number of lines Render prints before the records.
	headerLines = 4

	clearScreen = "\x1b[H\x1b[2J"
)

// Render draws snap as a status header followed by a table of recent records.
func Render(w io.Writer, snap session.Snapshot, width int) error {
	state := "stopped"
	if snap.Capturing {
		state = "capturing"
	}
	target := snap.Target
	if target == "" {
		target = "<none>"
	}

	fmt.Fprintf(w, "flowscope  device: %s  state: %s  frames: %d  records: %d\n",
		target, state, snap.Packets, snap.Records)
	switch {
	case snap.Fatal != nil:
		fmt.Fprintf(w, "error: %v\n", snap.Fatal)
	case snap.Message != "":
		fmt.Fprintf(w, "%s\n", snap.Message)
	default:
		fmt.Fprintln(w)
	}
	fmt.Fprintln(w, "[s] start/stop  [d <device>] select device  [q] quit")

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tSOURCE\tDESTINATION\tFLAGS\tSTATE\tAPP\tLEN")
	for i := range snap.Recent {
		r := &snap.Recent[i]
		line := fmt.Sprintf("%s\t%s:%d\t%s:%d\t%s\t%s\t%s\t%d",
			r.Timestamp.Format("15:04:05.000"),
			r.SrcIP, r.SrcPort,
			r.DstIP, r.DstPort,
			flagString(r.TCPFlags),
			r.TCPState,
			r.AppProtocol,
			r.PayloadLen)
		fmt.Fprintln(tw, truncate(line, width))
	}
	return tw.Flush()
}

var flagNames = []struct {
	bit  uint8
	name byte
}{
	{core.TCPFlagSYN, 'S'},
	{core.TCPFlagACK, 'A'},
	{core.TCPFlagFIN, 'F'},
	{core.TCPFlagRST, 'R'},
	{core.TCPFlagPSH, 'P'},
	{core.TCPFlagURG, 'U'},
}

// flagString lists the set TCP flags, e.g. "SA" for SYN+ACK.
func flagString(flags uint8) string {
	var b strings.Builder
	for _, f := range flagNames {
		if flags&f.bit != 0 {
			b.WriteByte(f.name)
		}
	}
	if b.Len() == 0 {
		return "-"
	}
	return b.String()
}

// truncate shortens a line that would wrap. Tabs count as one column, so
// this is approximate once tabwriter pads the cells.
func truncate(s string, width int) string {
	if width <= 0 || len(s) <= width {
		return s
	}
	return s[:width]
}

// Dashboard periodically redraws the session state.
type Dashboard struct {
	state   *session.State
	out     io.Writer
	refresh time.Duration
	rows    int // 0 = fit the terminal
}

// New creates a dashboard writing to out.
func New(state *session.State, out io.Writer, refresh time.Duration, rows int) *Dashboard {
	if refresh <= 0 {
		refresh = defaultRefresh
	}
	return &Dashboard{state: state, out: out, refresh: refresh, rows: rows}
}

// Run redraws until ctx is cancelled.
func (d *Dashboard) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.refresh)
	defer ticker.Stop()

	for {
		if err := d.draw(); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (d *Dashboard) draw() error {
	width, height := d.size()
	rows := d.rows
	if rows <= 0 {
		rows = max(height-headerLines-1, 1)
	}
	if _, err := io.WriteString(d.out, clearScreen); err != nil {
		return err
	}
	return Render(d.out, d.state.Snapshot(rows), width)
}

func (d *Dashboard) size() (width, height int) {
	if f, ok := d.out.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		if w, h, err := term.GetSize(int(f.Fd())); err == nil {
			return w, h
		}
	}
	return defaultWidth, defaultHeight
}

// Control applies operator commands read line by line from in:
//
//	s           toggle capture
//	d <device>  select a capture device
//	q           quit
//
// It returns when q is read, in reaches EOF or ctx is cancelled. The
// returned bool reports whether the operator asked to quit.
func Control(ctx context.Context, in io.Reader, state *session.State) (bool, error) {
	lines := make(chan string)
	errc := make(chan error, 1)
	go func() {
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		errc <- sc.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return false, nil
		case err := <-errc:
			return false, err
		case line := <-lines:
			if quit := apply(line, state); quit {
				return true, nil
			}
		}
	}
}

// apply executes one command line.
func apply(line string, state *session.State) (quit bool) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}
	switch strings.ToLower(fields[0]) {
	case "q", "quit":
		return true
	case "s", "start", "stop":
		on := state.ToggleCapture()
		slog.Debug("capture toggled", "capturing", on)
	case "d", "device":
		if len(fields) < 2 {
			state.SetMessage("usage: d <device>")
			return false
		}
		state.SetTarget(fields[1])
		state.SetMessage("selected " + fields[1])
	default:
		state.SetMessage(fmt.Sprintf("unknown command %q", fields[0]))
	}
	return false
}
