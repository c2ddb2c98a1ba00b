package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"plugin"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/arcombe012/zergswarm/pkg/colony"
	"github.com/arcombe012/zergswarm/pkg/hatchling"
	"github.com/arcombe012/zergswarm/pkg/metrics"
	"github.com/arcombe012/zergswarm/pkg/report"
)

var colonyCmd = &cobra.Command{
	Use:   "colony",
	Short: "Run a colony worker process",
	RunE:  runColony,
}

func init() {
	colonyCmd.Flags().String("central_server", "", "Overmind bus address (required)")
	colonyCmd.Flags().String("hatchery_file", "", "Hatchery plugin (.so) exporting a hatchling.Factory named Hatchling")
	colonyCmd.Flags().String("admin_address", "", "Address to serve /metrics and /health on (disabled if empty)")
	_ = colonyCmd.MarkFlagRequired("central_server")
	_ = colonyCmd.MarkFlagRequired("hatchery_file")
}

func runColony(cmd *cobra.Command, args []string) error {
	centralServer, _ := cmd.Flags().GetString("central_server")
	hatcheryFile, _ := cmd.Flags().GetString("hatchery_file")
	adminAddress, _ := cmd.Flags().GetString("admin_address")

	factory, err := loadHatchery(hatcheryFile)
	if err != nil {
		metrics.RegisterComponent("config", false, err.Error())
		return fmt.Errorf("colony: %w", err)
	}
	metrics.RegisterComponent("config", true, "hatchery loaded")

	if adminAddress != "" {
		serveAdmin(adminAddress)
	}

	acc := report.NewAccumulator(false)
	c := colony.New(centralServer, factory, acc)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := c.Run(ctx); err != nil {
		return fmt.Errorf("colony: %w", err)
	}
	return nil
}

// loadHatchery opens path as a Go plugin (built with
// `go build -buildmode=plugin`) and resolves its exported "Hatchling"
// symbol, the Go-native equivalent of original_source's
// importlib.util.spec_from_file_location hatchery loading (spec.md §6
// subprocess contract).
func loadHatchery(path string) (hatchling.Factory, error) {
	p, err := plugin.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open hatchery plugin %s: %w", path, err)
	}
	sym, err := p.Lookup("Hatchling")
	if err != nil {
		return nil, fmt.Errorf("hatchery plugin %s missing Hatchling symbol: %w", path, err)
	}
	factory, ok := sym.(func(map[string]string) (*hatchling.Registry, any, error))
	if !ok {
		return nil, fmt.Errorf("hatchery plugin %s: Hatchling symbol has the wrong type", path)
	}
	return factory, nil
}
