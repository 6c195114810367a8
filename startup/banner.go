package startup

import (
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

const (
	// ANSI color codes
	reset  = "\033[0m"
	bold   = "\033[1m"
	dim    = "\033[2m"
	cyan   = "\033[36m"
	green  = "\033[32m"
	yellow = "\033[33m"
	white  = "\033[37m"

	indent = "    "
)

// BannerOptions configures the startup banner display.
type BannerOptions struct {
	Version  string
	LocalURL string
	// Snapshots names the session backend, e.g. "disk".
	Snapshots string
	Exports   string // Empty if S3 export is disabled
	DevMode   bool
}

// ColorsEnabled returns true if ANSI colors should be used on w.
func ColorsEnabled(w io.Writer) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

type painter bool

func (p painter) color(code, text string) string {
	if !p {
		return text
	}
	return code + text + reset
}

// PrintBanner writes the startup banner to w.
func PrintBanner(w io.Writer, opts BannerOptions) {
	p := painter(ColorsEnabled(w))
	wsURL := "ws" + strings.TrimPrefix(opts.LocalURL, "http") + "/ws"

	fmt.Fprintln(w)
	logo := p.color(cyan, "◆") + "  " + p.color(bold+white, "C O L L A B")
	fmt.Fprintf(w, "%s%s%s%s\n", indent, logo, strings.Repeat(" ", 30), p.color(dim, opts.Version))
	if opts.DevMode {
		fmt.Fprintf(w, "%s%s\n", indent, p.color(yellow, "development mode"))
	}
	fmt.Fprintln(w)

	row := func(label, value string) {
		fmt.Fprintf(w, "%s%s %s\n", indent, p.color(dim, fmt.Sprintf("▸ %-9s", label)), value)
	}
	row("Local", p.color(green, opts.LocalURL))
	row("Socket", p.color(green, wsURL))
	row("Metrics", p.color(green, opts.LocalURL+"/metrics"))
	row("Sessions", opts.Snapshots)
	if opts.Exports != "" {
		row("Exports", opts.Exports)
	}
	fmt.Fprintln(w)
}

// PrintFooter prints the footer with shutdown instructions.
func PrintFooter(w io.Writer) {
	fmt.Fprintf(w, "%s%s\n", indent, painter(ColorsEnabled(w)).color(dim, "Press Ctrl+C to stop"))
	fmt.Fprintln(w)
}
