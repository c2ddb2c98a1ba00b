package overmind

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arcombe012/zergswarm/pkg/bus"
	"github.com/arcombe012/zergswarm/pkg/colony"
	"github.com/arcombe012/zergswarm/pkg/connection"
	"github.com/arcombe012/zergswarm/pkg/hatchling"
	"github.com/arcombe012/zergswarm/pkg/report"
)

// TestEndToEndTwoColoniesFourHatchlings drives spec.md §8 scenario 6: an
// Overmind bound to an ephemeral port, 2 colonies, 4 hatchlings total
// each with one ordered task (count=1) performing a GET that returns
// 200. After completion the accumulator reports 4 successes under that
// name and 0 errors. Colonies run in-process here (rather than as real
// subprocesses) so the test stays hermetic; pkg/subprocess is exercised
// separately by its own tests.
func TestEndToEndTwoColoniesFourHatchlings(t *testing.T) {
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}))
	defer target.Close()

	configs := make([]map[string]string, 4)
	for i := range configs {
		configs[i] = map[string]string{"n": "1"}
	}
	plan := []int{2, 2}

	srv := bus.NewServer()
	require.NoError(t, srv.Bind("127.0.0.1:0"))

	o := &Overmind{
		bus:         srv,
		state:       newState(plan, configs),
		satellites:  newSatelliteSet(),
		acc:         report.NewAccumulator(false),
		colonyCount: len(plan),
	}
	o.registerHandlers()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = srv.Serve(ctx) }()

	var wg sync.WaitGroup
	for i := 0; i < len(plan); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			colonyAcc := report.NewAccumulator(false)
			factory := func(cfg map[string]string) (*hatchling.Registry, any, error) {
				client := connection.New(target.URL, colonyAcc)
				reg := hatchling.NewRegistry().Ordered(0, 1, func(vu any) (bool, error) {
					_, err := client.DoRequest(context.Background(), connection.Request{
						URL: "/ping", Name: "ping", Method: connection.MethodGET,
					})
					return true, err
				})
				return reg, nil, nil
			}
			col := colony.New(srv.Address(), factory, colonyAcc)
			runCtx, cancelRun := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancelRun()
			require.NoError(t, col.Run(runCtx))
		}()
	}
	wg.Wait()

	snap := o.Report()
	require.Equal(t, 4, snap.Success["ping"].Count)
	require.Equal(t, 0, len(snap.RequestErrors))
	require.Equal(t, 0, len(snap.OtherErrors))
}
