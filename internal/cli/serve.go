package cli

import (
	"github.com/spf13/cobra"

	"github.com/limber-app/limber/internal/daemon"
)

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Host to listen on (overrides config)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Port to listen on (overrides config)")
	serveCmd.Flags().BoolVar(&serveNoSweep, "no-sweep", false, "Disable the periodic sweep")
	rootCmd.AddCommand(serveCmd)
}

var (
	serveHost    string
	servePort    int
	serveNoSweep bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Limber API server",
	Long: `Start the HTTP API server, the health checker and the periodic sweep
that breaks stale streaks, refills flex saves and rotates challenges.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := daemon.LoadConfig()
	if err != nil {
		return err
	}

	// Override config from flags
	if serveHost != "" {
		cfg.API.Host = serveHost
	}
	if servePort > 0 {
		cfg.API.Port = servePort
	}
	if serveNoSweep {
		cfg.Scheduler.Enabled = false
	}

	d, err := daemon.NewWithConfig(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer d.Close()

	return d.Serve(cmd.Context())
}
