package failover

import (
	"net"
	"testing"
	"time"

	"github.com/rfdonnelly/failoverd/internal/config"
	"github.com/rfdonnelly/failoverd/internal/events"
)

func newTestPrimary(t *testing.T) (*Primary, *events.Bus) {
	t.Helper()
	logger := testLogger()
	bus := events.NewBus(100, logger)
	go bus.Start()

	cfg := &config.Config{
		Server: config.ServerConfig{Role: "primary"},
		Failover: config.FailoverConfig{
			PrimaryHost:   "127.0.0.1",
			SecondaryHost: "127.0.0.1",
			ServerPort:    0, // ephemeral
			HomePath:      t.TempDir(),
			HandshakeTime: 5,
		},
	}
	deps := Deps{
		HomePath:  cfg.Failover.HomePath,
		SpoolPath: t.TempDir(),
		Hostname:  "prim01",
		HostID:    7,
		Logger:    logger,
		Bus:       bus,
	}
	return NewPrimary(cfg, deps), bus
}

func TestPrimaryAcceptsRegister(t *testing.T) {
	p, bus := newTestPrimary(t)
	defer bus.Stop()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	p.listener = ln
	go p.acceptLoop()
	defer ln.Close()

	conn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	if err := EncodeMessageTo(conn, NewRequest(SubtypeRegister)); err != nil {
		t.Fatalf("EncodeMessageTo: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	reply, err := DecodeMessage(conn)
	if err != nil {
		t.Fatalf("DecodeMessage: %v", err)
	}
	if reply.Reply == nil || reply.Reply.Code != ReplyOK {
		t.Fatalf("register reply = %+v, want ReplyOK", reply.Reply)
	}

	hostID, err := ParseHostID(reply.Reply.Text)
	if err != nil {
		t.Fatalf("ParseHostID: %v", err)
	}
	if hostID != 7 {
		t.Errorf("hostID = %d, want 7", hostID)
	}

	if p.Context().ConnState() != ConnLive {
		t.Errorf("ConnState = %v, want ConnLive", p.Context().ConnState())
	}
}

func TestPrimaryRejectsSecondRegister(t *testing.T) {
	p, bus := newTestPrimary(t)
	defer bus.Stop()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	p.listener = ln
	go p.acceptLoop()
	defer ln.Close()

	conn1, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn1.Close()
	if err := EncodeMessageTo(conn1, NewRequest(SubtypeRegister)); err != nil {
		t.Fatalf("EncodeMessageTo: %v", err)
	}
	conn1.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := DecodeMessage(conn1); err != nil {
		t.Fatalf("first register decode: %v", err)
	}

	conn2, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn2.Close()
	if err := EncodeMessageTo(conn2, NewRequest(SubtypeRegister)); err != nil {
		t.Fatalf("EncodeMessageTo: %v", err)
	}
	conn2.SetReadDeadline(time.Now().Add(2 * time.Second))
	reply, err := DecodeMessage(conn2)
	if err != nil {
		t.Fatalf("second register decode: %v", err)
	}
	if reply.Reply == nil || reply.Reply.Code != ReplyObjBusy {
		t.Fatalf("second register reply = %+v, want ReplyObjBusy", reply.Reply)
	}
}
