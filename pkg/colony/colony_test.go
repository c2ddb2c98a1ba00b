package colony

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arcombe012/zergswarm/pkg/bus"
	"github.com/arcombe012/zergswarm/pkg/hatchling"
	"github.com/arcombe012/zergswarm/pkg/report"
)

func startStubOvermind(t *testing.T, configs []map[string]any) *bus.Server {
	t.Helper()
	s := bus.NewServer()
	require.NoError(t, s.Bind("127.0.0.1:0"))

	s.RegisterHandler("get_colony_config", func(payload map[string]any) (map[string]any, error) {
		return map[string]any{"data": map[string]any{"hatchlings": len(configs)}}, nil
	})
	s.RegisterHandler("get_hatchlings_config", func(payload map[string]any) (map[string]any, error) {
		list := make([]any, len(configs))
		for i, c := range configs {
			list[i] = c
		}
		return map[string]any{"data": map[string]any{"configs": list}}, nil
	})

	var received []map[string]any
	s.RegisterHandler("stats", func(payload map[string]any) (map[string]any, error) {
		if data, ok := payload["data"].(map[string]any); ok {
			received = append(received, data)
		}
		return map[string]any{"data": map[string]any{"result": "ok"}}, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = s.Serve(ctx) }()
	return s
}

func TestColonyRunFetchesAssignmentAndRunsHatchlings(t *testing.T) {
	configs := []map[string]any{
		{"name": "alice"},
		{"name": "bob"},
	}
	s := startStubOvermind(t, configs)
	acc := report.NewAccumulator(false)

	var mu sync.Mutex
	var ran []string
	factory := func(cfg map[string]string) (*hatchling.Registry, any, error) {
		name := cfg["name"]
		reg := hatchling.NewRegistry().Ordered(0, 1, func(vu any) (bool, error) {
			mu.Lock()
			ran = append(ran, name)
			mu.Unlock()
			acc.AddSuccess(name, time.Millisecond)
			return true, nil
		})
		return reg, nil, nil
	}

	col := New(s.Address(), factory, acc)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, col.Run(ctx))
	require.Len(t, ran, 2)
}

func TestColonyRunFailsOnZeroAssignment(t *testing.T) {
	s := bus.NewServer()
	require.NoError(t, s.Bind("127.0.0.1:0"))
	s.RegisterHandler("get_colony_config", func(payload map[string]any) (map[string]any, error) {
		return map[string]any{"data": map[string]any{"hatchlings": 0}}, nil
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = s.Serve(ctx) }()

	col := New(s.Address(), func(cfg map[string]string) (*hatchling.Registry, any, error) {
		return hatchling.NewRegistry(), nil, nil
	}, report.NewAccumulator(false))

	callCtx, cancelCall := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancelCall()
	err := col.Run(callCtx)
	require.Error(t, err)
}
