package ctlsock

import (
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/akuker/gscsi/internal/ctlproto"
)

func TestServerRoundTripsOneCommand(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "ctl.sock")

	var gotAction ctlproto.Action
	srv := &Server{
		Path: sockPath,
		Handler: func(cmd ctlproto.Command) ctlproto.Result {
			gotAction = cmd.Action
			return ctlproto.Result{OK: true, Message: "attached"}
		},
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	defer srv.Close()

	// Wait for the socket file to appear rather than sleeping blindly.
	deadline := time.Now().Add(2 * time.Second)
	for {
		if conn, err := net.Dial("unix", sockPath); err == nil {
			conn.Close()
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("server never started listening")
		}
		time.Sleep(10 * time.Millisecond)
	}

	conn, err := net.Dial("unix", sockPath)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	if err := ctlproto.WriteCommand(conn, ctlproto.Command{Action: ctlproto.ActionAttach, TargetID: 0, Path: "/tmp/x.hds"}); err != nil {
		t.Fatal(err)
	}
	res, err := ctlproto.ReadResult(conn)
	if err != nil {
		t.Fatal(err)
	}
	if !res.OK || res.Message != "attached" {
		t.Fatalf("got %+v", res)
	}
	if gotAction != ctlproto.ActionAttach {
		t.Fatalf("handler saw action %q, want attach", gotAction)
	}
}

func TestCloseStopsListenAndServe(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "ctl.sock")
	srv := &Server{Path: sockPath, Handler: func(ctlproto.Command) ctlproto.Result { return ctlproto.Result{OK: true} }}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	deadline := time.Now().Add(2 * time.Second)
	for {
		if conn, err := net.Dial("unix", sockPath); err == nil {
			conn.Close()
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("server never started listening")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if err := srv.Close(); err != nil {
		t.Fatal(err)
	}
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("ListenAndServe returned %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("ListenAndServe did not return after Close")
	}
}
