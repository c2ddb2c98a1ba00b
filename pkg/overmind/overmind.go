// Package overmind implements the coordinator process: it partitions the
// hatchling population across colonies, hands out sticky assignments and
// configs over the bus, and aggregates the Reports colonies upload.
//
// Grounded on the teacher's pkg/manager/manager.go minus Raft (per
// SPEC_FULL §4.6: a constructor wiring sub-components, a mutex-guarded
// in-memory commit path instead of raft.Apply) and on original_source's
// overmind.py for the handler bodies and startup choreography.
package overmind

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/arcombe012/zergswarm/pkg/bus"
	"github.com/arcombe012/zergswarm/pkg/config"
	"github.com/arcombe012/zergswarm/pkg/log"
	"github.com/arcombe012/zergswarm/pkg/metrics"
	"github.com/arcombe012/zergswarm/pkg/partition"
	"github.com/arcombe012/zergswarm/pkg/report"
	"github.com/arcombe012/zergswarm/pkg/subprocess"
)

// centralForwardTimeout bounds how long a satellite overmind waits for
// its stats forward to the central overmind, per spec.md §5 ("2-4s").
const centralForwardTimeout = 3 * time.Second

// satelliteDrainTimeout bounds how long a standalone overmind waits, at
// shutdown, for registered satellites to unregister.
const satelliteDrainTimeout = 5 * time.Minute

// Options configures a new Overmind.
type Options struct {
	BindAddress       string
	CentralServer     string // empty for standalone mode
	HatcheryFile      string
	LaunchDelay       time.Duration
	ReportingInterval time.Duration // 0 or <=1 minute disables intermediate reporting
}

// Overmind coordinates one swarm run.
type Overmind struct {
	bus     *bus.Server
	central *bus.Client // non-nil in satellite mode

	subproc *subprocess.Manager

	state      *state
	satellites *satelliteSet
	acc        *report.Accumulator

	colonyCount       int
	hatcheryFile      string
	launchDelay       time.Duration
	reportingInterval time.Duration

	startTime time.Time
	logger    zerolog.Logger
}

// New builds an Overmind from settings: it materializes the hatchling
// config list, computes the partition plan, and binds the bus server.
// It does not yet start serving; call Run for that.
func New(settings *config.Settings, opts Options) (*Overmind, error) {
	configs, err := settings.HatchlingConfigs()
	if err != nil {
		return nil, fmt.Errorf("overmind: materialize hatchling configs: %w", err)
	}
	n := len(configs)
	slots := subprocess.AvailableSlots()
	colonyCount := partition.RequiredColonyCount(n, slots, settings.MinHatchlingsPerColony, settings.MaxHatchlingsPerColony)
	plan := partition.Plan(n, slots, settings.MinHatchlingsPerColony, settings.MaxHatchlingsPerColony)

	srv := bus.NewServer()
	if err := srv.Bind(opts.BindAddress); err != nil {
		metrics.RegisterComponent("bus", false, err.Error())
		return nil, fmt.Errorf("overmind: bind bus: %w", err)
	}
	metrics.RegisterComponent("bus", true, "bound")
	metrics.RegisterComponent("config", true, "loaded")

	o := &Overmind{
		bus:               srv,
		subproc:           subprocess.NewManager(),
		state:             newState(plan, configs),
		satellites:        newSatelliteSet(),
		acc:               report.NewAccumulator(false),
		colonyCount:       colonyCount,
		hatcheryFile:      opts.HatcheryFile,
		launchDelay:       opts.LaunchDelay,
		reportingInterval: opts.ReportingInterval,
		startTime:         time.Now().Add(opts.LaunchDelay),
		logger:            log.WithComponent("overmind"),
	}
	if opts.CentralServer != "" {
		o.central = bus.NewClient(opts.CentralServer)
	}
	o.registerHandlers()

	metrics.PartitionColonyCount.Set(float64(colonyCount))
	for _, share := range plan {
		metrics.PartitionHatchlingsPerColony.Observe(float64(share))
	}
	return o, nil
}

// Address returns the bus server's bound address.
func (o *Overmind) Address() string {
	return o.bus.Address()
}

// ColonyCount returns the number of colonies the partition plan calls for.
func (o *Overmind) ColonyCount() int {
	return o.colonyCount
}

// Report returns a non-destructive snapshot of the aggregated report.
func (o *Overmind) Report() *report.Report {
	return o.acc.Snapshot()
}

func (o *Overmind) registerHandlers() {
	o.bus.RegisterHandler("get_colony_config", o.handleGetColonyConfig)
	o.bus.RegisterHandler("get_hatchlings_config", o.handleGetHatchlingsConfig)
	o.bus.RegisterHandler("stats", o.handleStats)
	o.bus.RegisterHandler("satellite_action", o.handleSatelliteAction)
}

func (o *Overmind) handleGetColonyConfig(payload map[string]any) (map[string]any, error) {
	id := stringField(payload, "client_id")
	n := o.state.assign(id)
	return map[string]any{"data": map[string]any{"hatchlings": n}}, nil
}

func (o *Overmind) handleGetHatchlingsConfig(payload map[string]any) (map[string]any, error) {
	id := stringField(payload, "client_id")
	cfgs := o.state.takeConfigs(id)
	list := make([]any, len(cfgs))
	for i, cfg := range cfgs {
		m := make(map[string]any, len(cfg))
		for k, v := range cfg {
			m[k] = v
		}
		list[i] = m
	}
	return map[string]any{"data": map[string]any{"configs": list}}, nil
}

func (o *Overmind) handleStats(payload map[string]any) (map[string]any, error) {
	data, ok := payload["data"].(map[string]any)
	if !ok {
		return map[string]any{"data": map[string]any{"stats": "error", "error": "missing data field"}}, nil
	}
	rep, err := report.FromMap(data)
	if err != nil {
		return map[string]any{"data": map[string]any{"stats": "error", "error": err.Error()}}, nil
	}
	o.acc.Merge(rep)
	metrics.ReportsMergedTotal.Inc()

	if o.central != nil {
		ctx, cancel := context.WithTimeout(context.Background(), centralForwardTimeout)
		defer cancel()
		if _, err := o.central.Call(ctx, "stats", map[string]any{"data": data}); err != nil {
			o.logger.Warn().Err(err).Msg("failed to forward stats to central overmind")
			return map[string]any{"data": map[string]any{"stats": "error", "error": err.Error()}}, nil
		}
	}
	return map[string]any{"data": map[string]any{"result": "ok"}}, nil
}

func (o *Overmind) handleSatelliteAction(payload map[string]any) (map[string]any, error) {
	id := stringField(payload, "client_id")
	data, _ := payload["data"].(map[string]any)
	action, _ := data["action"].(string)

	switch action {
	case "register":
		o.satellites.add(id)
		metrics.SatellitesRegistered.Set(float64(o.satellites.count()))
		return map[string]any{"data": map[string]any{"result": "ok", "start": o.startTime.Unix()}}, nil
	case "unregister":
		o.satellites.remove(id)
		metrics.SatellitesRegistered.Set(float64(o.satellites.count()))
		return map[string]any{"data": map[string]any{"result": "ok"}}, nil
	default:
		return map[string]any{"data": map[string]any{"result": "error", "error": "unknown satellite action"}}, nil
	}
}

func stringField(payload map[string]any, name string) string {
	s, _ := payload[name].(string)
	return s
}

// Run serves the bus and drives the startup choreography of spec.md
// §4.6/§4.7: standalone mode sleeps out launchDelay, spawns colonies,
// then (if any satellites are registered) waits up to 5 minutes for them
// to unregister; satellite mode instead registers with the central
// overmind, adopts its start time, and unregisters when its colonies
// finish.
func (o *Overmind) Run(ctx context.Context) error {
	serveErr := make(chan error, 1)
	go func() { serveErr <- o.bus.Serve(ctx) }()

	var reportingDone chan struct{}
	if o.reportingInterval > time.Minute {
		reportingDone = o.runIntermediateReporting(ctx)
	}

	var err error
	if o.central != nil {
		err = o.runSatellite(ctx)
	} else {
		err = o.runStandalone(ctx)
	}

	if reportingDone != nil {
		<-reportingDone
	}
	_ = o.bus.Close()
	if err != nil {
		return err
	}
	return <-serveErr
}

func (o *Overmind) runStandalone(ctx context.Context) error {
	if o.launchDelay > 0 {
		select {
		case <-time.After(o.launchDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err := o.subproc.RunColonies(ctx, o.Address(), o.hatcheryFile, o.colonyCount); err != nil {
		return fmt.Errorf("overmind: run colonies: %w", err)
	}
	return o.drainSatellites(ctx)
}

func (o *Overmind) drainSatellites(ctx context.Context) error {
	if o.satellites.count() == 0 {
		return nil
	}
	deadline := time.Now().Add(satelliteDrainTimeout)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for o.satellites.count() > 0 && time.Now().Before(deadline) {
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (o *Overmind) runSatellite(ctx context.Context) error {
	if err := o.central.Open(ctx); err != nil {
		return fmt.Errorf("overmind: open satellite session to central: %w", err)
	}
	defer o.central.Close(ctx)

	reply, err := o.central.Call(ctx, "satellite_action", map[string]any{"data": map[string]any{"action": "register"}})
	if err != nil {
		return fmt.Errorf("overmind: register with central: %w", err)
	}
	if data, ok := reply["data"].(map[string]any); ok {
		if start, ok := data["start"]; ok {
			if ts, ok := toUnix(start); ok {
				o.startTime = time.Unix(ts, 0)
			}
		}
	}

	if wait := time.Until(o.startTime); wait > 0 {
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	runErr := o.subproc.RunColonies(ctx, o.Address(), o.hatcheryFile, o.colonyCount)

	if _, err := o.central.Call(context.Background(), "satellite_action", map[string]any{"data": map[string]any{"action": "unregister"}}); err != nil {
		o.logger.Warn().Err(err).Msg("failed to unregister from central overmind")
	}
	if runErr != nil {
		return fmt.Errorf("overmind: run colonies: %w", runErr)
	}
	return nil
}

// runIntermediateReporting prints (without resetting) the running
// accumulator every reportingInterval, per spec.md §4.6.
func (o *Overmind) runIntermediateReporting(ctx context.Context) chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(o.reportingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fmt.Println(o.acc.Snapshot().String())
			}
		}
	}()
	return done
}

func toUnix(v any) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case int64:
		return n, true
	case int:
		return int64(n), true
	default:
		return 0, false
	}
}
