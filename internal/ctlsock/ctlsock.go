// Package ctlsock implements the control-plane Unix domain socket
// server of SPEC_FULL.md §6: it accepts connections, decodes one
// ctlproto.Command per connection, and hands it to a Handler running
// on the orchestrator goroutine (via orchestrator.Enqueue), returning
// the Handler's Result to the caller.
//
// Grounded on driver/wshat/wshat.go's one-goroutine-per-input-source
// pattern (a background Accept/Read loop feeding a channel the main
// loop drains) and cmd/controller/platform_rpi.go's
// initSDCardNotifier, generalized from a single hardware input source
// to a connection-per-request Unix socket server.
package ctlsock

import (
	"errors"
	"log"
	"net"
	"os"

	"github.com/akuker/gscsi/internal/ctlproto"
)

// Handler processes one decoded Command and returns the Result to send
// back. Implementations are expected to run the mutation on the
// orchestrator goroutine (e.g. via orchestrator.Enqueue plus a
// response channel) rather than touching shared state directly from
// this package's accept goroutine.
type Handler func(ctlproto.Command) ctlproto.Result

// Server listens on a Unix domain socket and dispatches one Handler
// call per accepted connection.
type Server struct {
	Path    string
	Handler Handler

	listener net.Listener
}

// ListenAndServe creates the socket at s.Path (removing a stale one
// left by a prior crashed run, the same idiom a restarted daemon uses
// for any Unix socket) and serves connections until Close is called.
func (s *Server) ListenAndServe() error {
	if err := os.Remove(s.Path); err != nil && !os.IsNotExist(err) {
		return err
	}
	l, err := net.Listen("unix", s.Path)
	if err != nil {
		return err
	}
	s.listener = l

	for {
		conn, err := l.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		go s.serveConn(conn)
	}
}

func (s *Server) serveConn(conn net.Conn) {
	defer conn.Close()

	cmd, err := ctlproto.ReadCommand(conn)
	if err != nil {
		log.Printf("ctlsock: read command: %v", err)
		return
	}
	res := s.Handler(cmd)
	if err := ctlproto.WriteResult(conn, res); err != nil {
		log.Printf("ctlsock: write result: %v", err)
	}
}

// Close stops accepting new connections. In-flight connections are not
// interrupted.
func (s *Server) Close() error {
	if s.listener == nil {
		return nil
	}
	return s.listener.Close()
}
