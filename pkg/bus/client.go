package bus

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/arcombe012/zergswarm/pkg/log"
	"github.com/arcombe012/zergswarm/pkg/metrics"
)

// CallTimeout is the fixed per-call timeout spec.md §4.2/§5 mandates.
const CallTimeout = 10 * time.Second

// Client is a dedicated request socket to one Server. Calls must be
// serialized by the caller (spec.md §5: "bus sockets are not shared
// across concurrent call invocations on the same client").
type Client struct {
	address string
	id      string
	logger  zerolog.Logger

	mu     sync.Mutex
	conn   net.Conn
	reader *bufio.Reader
	writer *bufio.Writer
}

// NewClient returns a Client bound to address, not yet connected.
func NewClient(address string) *Client {
	id := uuid.NewString()
	return &Client{
		address: address,
		id:      id,
		logger:  log.WithClientID(id),
	}
}

// ClientID returns the process-unique id, stable for this Client's
// lifetime.
func (c *Client) ClientID() string {
	return c.id
}

// Open connects to the server and registers the client. Matches the
// Python source's async-context-manager __aenter__.
func (c *Client) Open(ctx context.Context) error {
	dialer := net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", strings.TrimPrefix(c.address, "tcp://"))
	if err != nil {
		return fmt.Errorf("bus: connect to %s: %w", c.address, err)
	}
	c.mu.Lock()
	c.conn = conn
	c.reader = bufio.NewReader(conn)
	c.writer = bufio.NewWriter(conn)
	c.mu.Unlock()

	if _, err := c.Call(ctx, "register", map[string]any{"client_id": c.id}); err != nil {
		c.logger.Warn().Err(err).Msg("bus register call failed")
	}
	return nil
}

// Close unregisters and disconnects. Matches __aexit__.
func (c *Client) Close(ctx context.Context) error {
	_, _ = c.Call(ctx, "unregister", map[string]any{"client_id": c.id})
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// Call sends a request of the given type and waits for its reply, with a
// hard 10-second timeout layered under ctx. Telemetry is best-effort: a
// transport error or timeout returns (nil, err), never a panic; callers
// that only care about best-effort delivery should ignore the error and
// treat a nil map as "no reply".
func (c *Client) Call(ctx context.Context, msgType string, data map[string]any) (map[string]any, error) {
	c.mu.Lock()
	conn := c.conn
	writer := c.writer
	reader := c.reader
	c.mu.Unlock()

	if conn == nil {
		return nil, fmt.Errorf("bus: client not connected")
	}

	if data == nil {
		data = map[string]any{}
	}
	if _, ok := data["client_id"]; !ok {
		data["client_id"] = c.id
	}

	callCtx, cancel := context.WithTimeout(ctx, CallTimeout)
	defer cancel()

	if deadline, ok := callCtx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	defer conn.SetDeadline(time.Time{})

	timer := metrics.NewTimer()
	req := Message{Type: msgType, Payload: data}
	if err := req.encode(writer); err != nil {
		c.logger.Warn().Err(err).Str("message_type", msgType).Msg("bus call: send failed")
		metrics.BusCallsTotal.WithLabelValues(msgType, "send_error").Inc()
		return nil, err
	}

	reply, err := decodeMessage(reader)
	timer.ObserveDurationVec(metrics.BusCallDuration, msgType)
	if err != nil {
		c.logger.Warn().Err(err).Str("message_type", msgType).Msg("bus call: no reply received")
		metrics.BusCallsTotal.WithLabelValues(msgType, "no_reply").Inc()
		return nil, err
	}
	metrics.BusCallsTotal.WithLabelValues(msgType, "ok").Inc()
	return reply.Payload, nil
}

// Address returns the server address this client dials.
func (c *Client) Address() string {
	return c.address
}
