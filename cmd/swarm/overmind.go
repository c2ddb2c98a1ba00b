package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/arcombe012/zergswarm/pkg/config"
	"github.com/arcombe012/zergswarm/pkg/metrics"
	"github.com/arcombe012/zergswarm/pkg/overmind"
)

var overmindCmd = &cobra.Command{
	Use:   "overmind",
	Short: "Run the overmind coordinator process",
	RunE:  runOvermind,
}

func init() {
	overmindCmd.Flags().String("bind_address", "tcp://0.0.0.0:0", "Bus address to bind")
	overmindCmd.Flags().String("central_server", "", "Central overmind bus address (satellite mode if set)")
	overmindCmd.Flags().String("settings_file", "settings.ini", "Settings file path")
	overmindCmd.Flags().String("hatchery_file", "", "Hatchery plugin (.so) path handed to spawned colonies")
	overmindCmd.Flags().Duration("launch_delay", 0, "Delay before spawning colonies")
	overmindCmd.Flags().Int("reporting_interval", 0, "Minutes between intermediate stats prints (0 disables)")
	overmindCmd.Flags().String("admin_address", "", "Address to serve /metrics and /health on (disabled if empty)")
}

func runOvermind(cmd *cobra.Command, args []string) error {
	bindAddress, _ := cmd.Flags().GetString("bind_address")
	centralServer, _ := cmd.Flags().GetString("central_server")
	settingsFile, _ := cmd.Flags().GetString("settings_file")
	hatcheryFile, _ := cmd.Flags().GetString("hatchery_file")
	launchDelay, _ := cmd.Flags().GetDuration("launch_delay")
	reportingIntervalMinutes, _ := cmd.Flags().GetInt("reporting_interval")
	adminAddress, _ := cmd.Flags().GetString("admin_address")

	settings, err := config.LoadSettings(settingsFile)
	if err != nil {
		return fmt.Errorf("overmind: %w", err)
	}

	o, err := overmind.New(settings, overmind.Options{
		BindAddress:       bindAddress,
		CentralServer:     centralServer,
		HatcheryFile:      hatcheryFile,
		LaunchDelay:       launchDelay,
		ReportingInterval: time.Duration(reportingIntervalMinutes) * time.Minute,
	})
	if err != nil {
		return fmt.Errorf("overmind: %w", err)
	}

	fmt.Printf("overmind listening on %s, coordinating %d colonies\n", o.Address(), o.ColonyCount())

	if adminAddress != "" {
		serveAdmin(adminAddress)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := o.Run(ctx); err != nil {
		return fmt.Errorf("overmind: %w", err)
	}
	fmt.Println(o.Report().String())
	return nil
}

// serveAdmin exposes /metrics and the health/readiness/liveness endpoints
// on a listener distinct from the bus, per SPEC_FULL's "both overmind and
// colony expose GET /metrics on a separate --admin_address" requirement.
func serveAdmin(address string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/health", metrics.HealthHandler())
	mux.HandleFunc("/ready", metrics.ReadyHandler())
	mux.HandleFunc("/live", metrics.LivenessHandler())
	go func() {
		if err := http.ListenAndServe(address, mux); err != nil {
			fmt.Fprintf(os.Stderr, "admin listener failed on %s: %v\n", address, err)
		}
	}()
}
