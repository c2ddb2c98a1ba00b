package bus

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/arcombe012/zergswarm/pkg/log"
	"github.com/arcombe012/zergswarm/pkg/metrics"
)

// HandlerFunc processes one request payload and returns the reply
// payload (client_id is stamped onto it by the server, not the handler).
// A non-nil error becomes a type-less error reply per spec.md §4.2.
type HandlerFunc func(payload map[string]any) (map[string]any, error)

// Server is the bus's single listener, paired 1:1 with each connected
// client: every connection processes its frames sequentially, one
// request answered before the next is read, per §6.
type Server struct {
	mu       sync.Mutex
	handlers map[string]HandlerFunc

	regMu      sync.Mutex
	registered map[string]int

	listener net.Listener
	address  string

	logger zerolog.Logger
}

// NewServer returns an unbound Server with the built-in register/unregister
// handlers already wired.
func NewServer() *Server {
	s := &Server{
		handlers:   make(map[string]HandlerFunc),
		registered: make(map[string]int),
		logger:     log.WithComponent("bus"),
	}
	s.handlers["register"] = s.handleRegister
	s.handlers["unregister"] = s.handleUnregister
	return s
}

// Bind parses address as "tcp://host:port" or a bare host (port 0 binds a
// random free port) and starts listening. Address() reports the fully
// qualified address after Bind returns.
func (s *Server) Bind(address string) error {
	host, port := parseBusAddress(address)
	ln, err := net.Listen("tcp", fmt.Sprintf("%s:%s", host, port))
	if err != nil {
		return fmt.Errorf("bus: bind %s: %w", address, err)
	}
	s.listener = ln
	s.address = fmt.Sprintf("tcp://%s", ln.Addr().String())
	return nil
}

func parseBusAddress(address string) (host, port string) {
	addr := address
	if strings.Contains(addr, "://") {
		parts := strings.SplitN(addr, "://", 2)
		addr = parts[1]
	}
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return addr, "0"
	}
	return host, port
}

// Address returns the fully qualified bound address, or "" before Bind.
func (s *Server) Address() string {
	return s.address
}

// RegisterHandler wires fn to handle messages of the given type.
func (s *Server) RegisterHandler(msgType string, fn HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[msgType] = fn
}

// Serve accepts connections until ctx is cancelled or the listener
// errors. Each connection is handled in its own goroutine.
func (s *Server) Serve(ctx context.Context) error {
	if s.listener == nil {
		return fmt.Errorf("bus: Serve called before Bind")
	}
	go func() {
		<-ctx.Done()
		_ = s.listener.Close()
	}()

	var wg sync.WaitGroup
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			wg.Wait()
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("bus: accept: %w", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.handleConn(conn)
		}()
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	reader := bufio.NewReader(conn)
	writer := bufio.NewWriter(conn)
	for {
		msg, err := decodeMessage(reader)
		if err != nil {
			return
		}
		reply := s.dispatch(msg)
		if err := reply.encode(writer); err != nil {
			s.logger.Warn().Err(err).Msg("failed to write bus reply")
			return
		}
	}
}

func (s *Server) dispatch(msg *Message) Message {
	id := clientID(msg.Payload)

	s.mu.Lock()
	handler, ok := s.handlers[msg.Type]
	s.mu.Unlock()

	if !ok {
		s.logger.Warn().Str("message_type", msg.Type).Msg("invalid bus message type")
		return Message{Type: "error", Payload: map[string]any{"client_id": id, "error": "invalid message type"}}
	}

	payload, err := s.invoke(handler, msg.Payload)
	if err != nil {
		s.logger.Warn().Err(err).Str("message_type", msg.Type).Msg("bus handler failed")
		return Message{Payload: map[string]any{"client_id": id, "error": err.Error()}}
	}
	if payload == nil {
		payload = map[string]any{}
	}
	payload["client_id"] = id
	return Message{Type: replyType(msg.Type), Payload: payload}
}

// invoke recovers a handler panic into an error so that one misbehaving
// handler never tears down the server's accept loop, per spec.md §7.
func (s *Server) invoke(fn HandlerFunc, payload map[string]any) (reply map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return fn(payload)
}

func (s *Server) handleRegister(payload map[string]any) (map[string]any, error) {
	id := clientID(payload)
	s.regMu.Lock()
	s.registered[id]++
	s.regMu.Unlock()
	metrics.BusConnectionsActive.Set(float64(s.Connections()))
	return map[string]any{"data": map[string]any{"registered": "ok"}}, nil
}

func (s *Server) handleUnregister(payload map[string]any) (map[string]any, error) {
	id := clientID(payload)
	s.regMu.Lock()
	s.registered[id]--
	s.regMu.Unlock()
	metrics.BusConnectionsActive.Set(float64(s.Connections()))
	return map[string]any{"data": map[string]any{"unregistered": "ok"}}, nil
}

// Connections returns the sum of registered-client refcounts.
func (s *Server) Connections() int {
	s.regMu.Lock()
	defer s.regMu.Unlock()
	total := 0
	for _, n := range s.registered {
		total += n
	}
	return total
}

// Close stops listening immediately.
func (s *Server) Close() error {
	if s.listener == nil {
		return nil
	}
	return s.listener.Close()
}
