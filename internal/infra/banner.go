package infra

import (
	"fmt"
	"io"
	"strings"
)

// ANSI Color Codes
const (
	ColorReset  = "\033[0m"
	ColorRed    = "\033[31m"
	ColorYellow = "\033[33m"
	ColorCyan   = "\033[36m"
)

// PrintBanner writes the startup banner. Volatile storage and margin are highlighted
// because both change what a restart or a bad fill means.
func PrintBanner(w io.Writer, cfg *Config) {
	color := ColorCyan
	switch {
	case cfg.Storage.Backend == "memory":
		color = ColorYellow
	case cfg.Risk.AllowMargin:
		color = ColorRed
	}

	profile := cfg.Engine.Latency.Profile
	if profile == "" {
		profile = "zero"
	}
	feed := cfg.Feed.WSURL
	if feed == "" {
		feed = "(api only)"
	}

	line := func(format string, args ...any) {
		fmt.Fprintf(w, "%s"+format+"%s\n", append(append([]any{color}, args...), ColorReset)...)
	}

	fmt.Fprintln(w)
	line("###########################################################")
	line("#                                                         #")
	line("#                  Paper Trading Engine                   #")
	line("#                                                         #")
	line("#   IDENTITY: %-43s #", cfg.Engine.Identity)
	line("#   SYMBOLS:  %-43s #", truncate(strings.Join(cfg.Engine.Symbols, ","), 43))
	line("#   CASH:     %-43s #", cfg.Engine.InitialCash)
	line("#   LATENCY:  %-43s #", profile)
	line("#   STORAGE:  %-43s #", cfg.Storage.Backend)
	line("#   FEED:     %-43s #", truncate(feed, 43))
	line("#   VERSION:  %-43s #", cfg.App.Version)
	line("#                                                         #")
	if cfg.Storage.Backend == "memory" {
		fmt.Fprintf(w, "%s#   WARNING: CHECKPOINTS ARE NOT PERSISTED                #%s\n", ColorYellow, ColorReset)
	}
	if cfg.Risk.AllowMargin {
		fmt.Fprintf(w, "%s#   WARNING: MARGIN ENABLED, CASH MAY GO NEGATIVE         #%s\n", ColorRed, ColorReset)
	}
	line("###########################################################")
	fmt.Fprintln(w)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
