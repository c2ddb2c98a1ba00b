// Package subprocess spawns and supervises colony child processes.
// Adapted from the teacher's test/framework.Process (stdout/stderr pipe
// capture into a LogBuffer, signal-then-wait-then-kill shutdown), promoted
// from test scaffolding into a production component per original_source's
// subprocess_manager.py ColonySpawner.
package subprocess

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/arcombe012/zergswarm/pkg/log"
	"github.com/arcombe012/zergswarm/pkg/metrics"
)

var logger = log.WithComponent("subprocess")

// AvailableSlots reports how many CPUs this process may run on, the Go
// analog of original_source's os.sched_getaffinity(0) cardinality. Falls
// back to runtime.NumCPU on platforms without a CPU-affinity syscall.
func AvailableSlots() int {
	var set unix.CPUSet
	if err := unix.SchedGetaffinity(0, &set); err != nil {
		return runtime.NumCPU()
	}
	n := set.Count()
	if n < 1 {
		return runtime.NumCPU()
	}
	return n
}

// child tracks one colony subprocess and the stdout/stderr it captured.
type child struct {
	cmd *exec.Cmd
	log *logBuffer
}

// Manager spawns colony subprocesses and waits on them as a group.
type Manager struct {
	mu       sync.Mutex
	running  bool
	children []*child
}

// NewManager returns an idle Manager.
func NewManager() *Manager {
	return &Manager{}
}

// Running reports whether RunColonies is currently supervising a batch of
// children, mirroring original_source's running() (asyncio.Lock().locked()).
func (m *Manager) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// RunColonies launches count colony subprocesses (this same binary,
// re-invoked with a "colony" subcommand pointed at serverAddress and
// hatcheryFile) and blocks until ctx is done or every child exits.
// Each child's Wait() runs on its own goroutine so a hung child cannot
// block the others, keeping ctx cancellation responsive.
func (m *Manager) RunColonies(ctx context.Context, serverAddress, hatcheryFile string, count int) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return fmt.Errorf("subprocess: RunColonies already in progress")
	}
	m.running = true
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.running = false
		m.mu.Unlock()
	}()

	if hatcheryFile == "" {
		logger.Warn().Msg("no hatchery file configured, using default hatchery.so")
		hatcheryFile = "hatchery.so"
	}
	if _, err := os.Stat(hatcheryFile); err != nil {
		logger.Warn().Str("hatchery_file", hatcheryFile).Msg("hatchery file not found")
	}

	self, err := os.Executable()
	if err != nil {
		return fmt.Errorf("subprocess: resolve own executable: %w", err)
	}

	children := make([]*child, 0, count)
	for i := 0; i < count; i++ {
		args := []string{"colony", "--central_server", serverAddress, "--hatchery_file", hatcheryFile}
		cmd := exec.CommandContext(ctx, self, args...)
		lb := newLogBuffer()

		stdout, err := cmd.StdoutPipe()
		if err != nil {
			return fmt.Errorf("subprocess: stdout pipe for colony %d: %w", i, err)
		}
		stderr, err := cmd.StderrPipe()
		if err != nil {
			return fmt.Errorf("subprocess: stderr pipe for colony %d: %w", i, err)
		}
		if err := cmd.Start(); err != nil {
			return fmt.Errorf("subprocess: start colony %d: %w", i, err)
		}
		go captureLogs(lb, "stdout", stdout)
		go captureLogs(lb, "stderr", stderr)
		logger.Info().Int("pid", cmd.Process.Pid).Msg("colony subprocess started")
		children = append(children, &child{cmd: cmd, log: lb})
		metrics.ColoniesSpawnedTotal.Inc()
	}

	m.mu.Lock()
	m.children = children
	m.mu.Unlock()
	metrics.ColoniesRunning.Set(float64(len(children)))
	defer metrics.ColoniesRunning.Set(0)

	return m.waitAll(ctx, children)
}

// waitAll waits for every child on its own goroutine, so one hung child
// cannot block the others, and returns as soon as ctx is cancelled or
// every child has exited.
func (m *Manager) waitAll(ctx context.Context, children []*child) error {
	done := make([]bool, len(children))
	exitErr := make([]error, len(children))
	var wg sync.WaitGroup
	for i, c := range children {
		wg.Add(1)
		go func(i int, c *child) {
			defer wg.Done()
			exitErr[i] = c.cmd.Wait()
			done[i] = true
		}(i, c)
	}

	waitC := make(chan struct{})
	go func() {
		wg.Wait()
		close(waitC)
	}()

	select {
	case <-waitC:
	case <-ctx.Done():
		return ctx.Err()
	}

	for i, err := range exitErr {
		if err != nil {
			logger.Warn().Int("colony", i).Err(err).Str("output", children[i].log.String()).
				Msg("colony subprocess exited with error")
		}
	}
	return nil
}

func captureLogs(lb *logBuffer, source string, r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		lb.append(source, scanner.Text())
	}
}

// logBuffer is a minimal thread-safe ring of recent lines, enough to
// surface a failing colony's last output without keeping an unbounded
// history.
type logBuffer struct {
	mu    sync.Mutex
	lines []string
}

func newLogBuffer() *logBuffer {
	return &logBuffer{}
}

func (b *logBuffer) append(source, line string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lines = append(b.lines, fmt.Sprintf("[%s] %s", source, line))
	if len(b.lines) > 500 {
		b.lines = b.lines[len(b.lines)-500:]
	}
}

func (b *logBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := ""
	for _, l := range b.lines {
		out += l + "\n"
	}
	return out
}
