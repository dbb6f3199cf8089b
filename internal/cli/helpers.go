package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/limber-app/limber/internal/daemon"
)

// openDaemon loads the config and wires the engine without starting any
// background service. Engine logs are reduced to warnings unless --verbose.
func openDaemon(ctx context.Context) (*daemon.Daemon, error) {
	cfg, err := daemon.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if !verboseFlag {
		cfg.Logging.Level = "warn"
	}
	return daemon.NewWithConfig(ctx, cfg)
}

func out(cmd *cobra.Command) io.Writer {
	return cmd.OutOrStdout()
}

// checkmark renders a boolean for tables.
func checkmark(ok bool) string {
	if ok {
		return "yes"
	}
	return "-"
}

// truncate shortens s to n runes.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return strings.TrimSpace(string(r[:n-1])) + "…"
}
