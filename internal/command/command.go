// Package command implements the recorder's control plane (spec.md §4.7):
// a local UDS request/response server and a Kafka-based command/status
// receiver, both carrying the same JSON command/status envelope. Kafka
// stands in for the spec's "DDS topics" control plane, documented as an
// approximation in DESIGN.md.
//
// Grounded on the teacher's internal/command package
// (firestige-Otus/internal/command/handler.go, uds_server.go, kafka.go):
// method-dispatch-over-JSON shape for the UDS side, segmentio/kafka-go
// reader/writer pair for the remote side.
package command

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/otusdds/recorder/internal/model"
)

// Request is the wire schema of spec.md §6's command topic, reused
// verbatim for the UDS transport.
type Request struct {
	Command string         `json:"command"`
	Args    map[string]any `json:"args,omitempty"`
}

// Response answers a UDS Request.
type Response struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// StatusMessage is the wire schema of spec.md §6's status topic.
type StatusMessage struct {
	Current  string `json:"current"`
	Previous string `json:"previous"`
	Info     string `json:"info,omitempty"`
}

// Dispatcher is the minimal view command needs of controller.Controller,
// kept as a local interface to avoid a command<->controller import cycle.
type Dispatcher interface {
	Dispatch(ctx context.Context, raw string, args map[string]any) error
}

// StatsProvider answers the status/stats UDS verbs (SPEC_FULL.md §2.10,
// the in-process replacement for the dropped gRPC status service).
type StatsProvider interface {
	State() model.State
	BytesWritten() int64
}

// UDSServer is the local control-plane transport (spec.md §4.7's command
// ingress, concrete instead of abstract per SPEC_FULL.md §2.6).
type UDSServer struct {
	path       string
	dispatcher Dispatcher
	stats      StatsProvider
	log        *logrus.Entry

	mu       sync.Mutex
	listener net.Listener
	wg       sync.WaitGroup
}

// NewUDSServer constructs a server bound to a unix socket at path. Start
// creates the socket; Stop removes it.
func NewUDSServer(path string, dispatcher Dispatcher, stats StatsProvider, log *logrus.Entry) *UDSServer {
	return &UDSServer{path: path, dispatcher: dispatcher, stats: stats, log: log}
}

// Start listens on the configured path and serves connections until ctx
// is cancelled or Stop is called.
func (s *UDSServer) Start(ctx context.Context) error {
	_ = os.Remove(s.path) // clear a stale socket from an unclean prior exit

	ln, err := net.Listen("unix", s.path)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.path, err)
	}

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	s.wg.Add(1)
	go s.serve(ctx)
	return nil
}

func (s *UDSServer) serve(ctx context.Context) {
	defer s.wg.Done()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		if s.listener != nil {
			s.listener.Close()
		}
		s.mu.Unlock()
	}()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		go s.handleConn(ctx, conn)
	}
}

func (s *UDSServer) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	var req Request
	if err := json.NewDecoder(conn).Decode(&req); err != nil {
		json.NewEncoder(conn).Encode(Response{Error: "malformed request: " + err.Error()})
		return
	}

	switch strings.ToLower(strings.TrimSpace(req.Command)) {
	case "status", "stats":
		json.NewEncoder(conn).Encode(map[string]any{
			"ok":            true,
			"state":         s.stats.State().String(),
			"bytes_written": s.stats.BytesWritten(),
		})
	default:
		if err := s.dispatcher.Dispatch(ctx, req.Command, req.Args); err != nil {
			json.NewEncoder(conn).Encode(Response{Error: err.Error()})
			return
		}
		json.NewEncoder(conn).Encode(Response{OK: true})
	}
}

// Stop closes the listener, waits for in-flight connections to finish
// accept-looping, and removes the socket file.
func (s *UDSServer) Stop() error {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln != nil {
		ln.Close()
	}
	s.wg.Wait()
	return os.Remove(s.path)
}

// QueryStatus is the client half used by `recorder status` (SPEC_FULL.md
// §0): it dials the UDS socket, asks for status, and returns the decoded
// response.
func QueryStatus(path string) (map[string]any, error) {
	conn, err := net.Dial("unix", path)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", path, err)
	}
	defer conn.Close()

	if err := json.NewEncoder(conn).Encode(Request{Command: "status"}); err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.NewDecoder(conn).Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}
