// Package colony implements the worker process: it claims an assignment
// from the Overmind, instantiates one hatchling per config, and runs
// them alongside a periodic stats-upload loop.
//
// Grounded on the teacher's pkg/worker/worker.go shape (a client-ID-bearing
// struct, a stop channel, a dual-goroutine run loop) generalized from
// container-executor/heartbeat semantics to hatchling-task-runner/
// stats-reporter semantics, per original_source's colony.py _run_async.
package colony

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/arcombe012/zergswarm/pkg/bus"
	"github.com/arcombe012/zergswarm/pkg/hatchling"
	"github.com/arcombe012/zergswarm/pkg/log"
	"github.com/arcombe012/zergswarm/pkg/metrics"
	"github.com/arcombe012/zergswarm/pkg/report"
)

// ReportInterval is how often the stats reporter uploads a snapshot while
// the task runner is still in flight, per spec.md §4.5 step 4 (~60s).
const ReportInterval = 60 * time.Second

// Colony runs a batch of hatchlings against one Overmind bus session.
type Colony struct {
	client  *bus.Client
	factory hatchling.Factory
	acc     *report.Accumulator
	logger  zerolog.Logger
}

// New returns a Colony that will dial serverAddress and build hatchlings
// with factory. acc accumulates every hatchling's requests; it is shared
// with the connection.Client instances the factory wires up.
func New(serverAddress string, factory hatchling.Factory, acc *report.Accumulator) *Colony {
	c := bus.NewClient(serverAddress)
	return &Colony{
		client:  c,
		factory: factory,
		acc:     acc,
		logger:  log.WithColonyID(c.ClientID()),
	}
}

// Run executes the full colony lifecycle: claim an assignment, fetch
// configs, run every hatchling to completion while periodically
// uploading stats, then disconnect. Returns a configuration-fatal error
// per spec.md §7 if the assignment or configs are malformed.
func (c *Colony) Run(ctx context.Context) error {
	if err := c.client.Open(ctx); err != nil {
		metrics.RegisterComponent("bus", false, err.Error())
		return fmt.Errorf("colony: open bus session: %w", err)
	}
	metrics.RegisterComponent("bus", true, "connected")
	defer c.client.Close(ctx)

	n, err := c.claimAssignment(ctx)
	if err != nil {
		return err
	}

	configs, err := c.fetchConfigs(ctx, n)
	if err != nil {
		return err
	}

	registries := make([]*hatchling.Registry, 0, len(configs))
	vus := make([]any, 0, len(configs))
	for i, cfg := range configs {
		reg, vu, err := c.factory(cfg)
		if err != nil {
			return fmt.Errorf("colony: build hatchling %d: %w", i, err)
		}
		registries = append(registries, reg)
		vus = append(vus, vu)
	}

	c.runWithStatsReporter(ctx, registries, vus)
	return nil
}

func (c *Colony) claimAssignment(ctx context.Context) (int, error) {
	reply, err := c.client.Call(ctx, "get_colony_config", nil)
	if err != nil {
		return 0, fmt.Errorf("colony: get_colony_config: %w", err)
	}
	n, ok := intField(reply, "hatchlings")
	if !ok || n < 1 {
		return 0, fmt.Errorf("colony: overmind assigned no hatchlings")
	}
	return n, nil
}

func (c *Colony) fetchConfigs(ctx context.Context, n int) ([]map[string]string, error) {
	reply, err := c.client.Call(ctx, "get_hatchlings_config", nil)
	if err != nil {
		return nil, fmt.Errorf("colony: get_hatchlings_config: %w", err)
	}
	raw, err := dataField(reply, "configs")
	if err != nil {
		return nil, fmt.Errorf("colony: get_hatchlings_config: %w", err)
	}
	list, ok := raw.([]any)
	if !ok || len(list) != n {
		return nil, fmt.Errorf("colony: expected %d hatchling configs, got reply %v", n, raw)
	}
	configs := make([]map[string]string, len(list))
	for i, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("colony: hatchling config %d is not an object", i)
		}
		cfg := make(map[string]string, len(m))
		for k, v := range m {
			if s, ok := v.(string); ok {
				cfg[k] = s
			} else {
				cfg[k] = fmt.Sprintf("%v", v)
			}
		}
		configs[i] = cfg
	}
	return configs, nil
}

// runWithStatsReporter runs every hatchling under a WaitGroup while a
// second goroutine uploads the process-wide accumulator every
// ReportInterval. When the task runner finishes first, the reporter is
// cancelled and performs one final, best-effort upload that is not
// itself subject to ctx cancellation (the "shield" of spec.md §4.5 step
// 5).
func (c *Colony) runWithStatsReporter(ctx context.Context, registries []*hatchling.Registry, vus []any) {
	reportCtx, cancelReporter := context.WithCancel(ctx)
	defer cancelReporter()

	var reporterDone sync.WaitGroup
	reporterDone.Add(1)
	go func() {
		defer reporterDone.Done()
		c.statsReporterLoop(reportCtx)
		c.uploadStats(context.Background())
	}()

	var tasks sync.WaitGroup
	for i, reg := range registries {
		tasks.Add(1)
		go func(i int, reg *hatchling.Registry, vu any) {
			defer tasks.Done()
			hatchlingLogger := log.WithHatchlingID(fmt.Sprintf("%s-%d", c.client.ClientID(), i))
			if err := hatchling.Run(reg, vu); err != nil {
				hatchlingLogger.Warn().Err(err).Msg("hatchling run failed")
			}
		}(i, reg, vus[i])
	}
	tasks.Wait()

	cancelReporter()
	reporterDone.Wait()
}

func (c *Colony) statsReporterLoop(ctx context.Context) {
	ticker := time.NewTicker(ReportInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.uploadStats(ctx)
		}
	}
}

func (c *Colony) uploadStats(ctx context.Context) {
	snapshot := c.acc.SnapshotAndReset()
	if snapshot.IsEmpty() {
		return
	}
	_, err := c.client.Call(ctx, "stats", map[string]any{"data": snapshot.ToMap()})
	if err != nil {
		c.logger.Warn().Err(err).Msg("stats upload failed")
	}
}

func intField(payload map[string]any, name string) (int, bool) {
	data, err := dataField(payload, name)
	if err != nil {
		return 0, false
	}
	switch v := data.(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	default:
		return 0, false
	}
}

func dataField(payload map[string]any, name string) (any, error) {
	data, ok := payload["data"].(map[string]any)
	if !ok {
		if errMsg, ok := payload["error"]; ok {
			return nil, fmt.Errorf("overmind returned error: %v", errMsg)
		}
		return nil, fmt.Errorf("reply missing data field")
	}
	v, ok := data[name]
	if !ok {
		return nil, fmt.Errorf("reply missing %s field", name)
	}
	return v, nil
}
