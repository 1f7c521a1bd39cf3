package replication

import (
	"bytes"
	"context"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/raniellyferreira/redis-inmemory-node/protocol"
)

// recordingApplier stores applied commands and answers GETACK with the
// bridge's applied offset, the way the command interpreter does.
type recordingApplier struct {
	bridge *Bridge

	mu       sync.Mutex
	commands [][]string
}

func (a *recordingApplier) Apply(ctx context.Context, args []string) protocol.Value {
	a.mu.Lock()
	a.commands = append(a.commands, args)
	a.mu.Unlock()

	if strings.EqualFold(args[0], "REPLCONF") {
		return protocol.StringArray("REPLCONF", "ACK", strconv.FormatInt(a.bridge.AppliedBytes(), 10))
	}
	return protocol.SimpleString("OK")
}

func (a *recordingApplier) applied() [][]string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([][]string(nil), a.commands...)
}

// fakeMaster accepts replicas one at a time, runs the handshake and then
// streams frames to each until it disconnects.
type fakeMaster struct {
	t        *testing.T
	listener net.Listener

	handshake chan []string
	acks      chan protocol.Value
	conn      chan net.Conn
}

func newFakeMaster(t *testing.T) *fakeMaster {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	m := &fakeMaster{
		t:         t,
		listener:  ln,
		handshake: make(chan []string, 10),
		acks:      make(chan protocol.Value, 10),
		conn:      make(chan net.Conn, 4),
	}
	go m.serve()
	t.Cleanup(func() { ln.Close() })
	return m
}

func (m *fakeMaster) serve() {
	for {
		conn, err := m.listener.Accept()
		if err != nil {
			return
		}
		m.session(conn)
		conn.Close()
	}
}

func (m *fakeMaster) session(conn net.Conn) {
	reader := protocol.NewReader(conn)
	writer := protocol.NewWriter(conn)

	replies := []string{"PONG", "OK", "OK"}
	for _, reply := range replies {
		cmd, err := reader.ReadCommand()
		if err != nil {
			return
		}
		m.handshake <- cmd.Argv()
		writer.WriteSimpleString(reply)
		writer.Flush()
	}

	cmd, err := reader.ReadCommand()
	if err != nil {
		return
	}
	m.handshake <- cmd.Argv()

	writer.WriteSimpleString("FULLRESYNC " + strings.Repeat("a", 40) + " 0")
	payload := EmptySnapshot()
	writer.WriteRaw([]byte("$" + strconv.Itoa(len(payload)) + "\r\n"))
	writer.WriteRaw(payload)
	writer.Flush()

	m.conn <- conn

	for {
		value, err := reader.ReadNext()
		if err != nil {
			return
		}
		m.acks <- value
	}
}

func TestClientHandshakeAndStream(t *testing.T) {
	master := newFakeMaster(t)

	bridge := NewBridge(RoleReplica)
	applier := &recordingApplier{bridge: bridge}

	client := NewClient(master.listener.Addr().String(), 6380, applier, bridge)
	client.SetLogger(&testLogger{t: t})

	var snapshot []byte
	client.OnSnapshot(func(payload []byte) error {
		snapshot = append([]byte(nil), payload...)
		return nil
	})

	sm := NewSyncManager(client)
	if err := sm.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer sm.Stop()

	wantHandshake := [][]string{
		{"PING"},
		{"REPLCONF", "listening-port", "6380"},
		{"REPLCONF", "capa", "psync2"},
		{"PSYNC", "?", "-1"},
	}
	for _, want := range wantHandshake {
		select {
		case got := <-master.handshake:
			if strings.Join(got, " ") != strings.Join(want, " ") {
				t.Fatalf("handshake step = %v, want %v", got, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %v", want)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := sm.WaitForSync(ctx); err != nil {
		t.Fatalf("WaitForSync() error = %v", err)
	}
	if !bytes.Equal(snapshot, EmptySnapshot()) {
		t.Errorf("snapshot = %x", snapshot)
	}

	conn := <-master.conn
	set := protocol.EncodeCommand("SET", "a", "1")
	conn.Write(set)
	conn.Write(protocol.EncodeCommand("REPLCONF", "GETACK", "*"))

	select {
	case ack := <-master.acks:
		want := protocol.StringArray("REPLCONF", "ACK", strconv.Itoa(len(set)))
		if ack.String() != want.String() {
			t.Errorf("ack = %s, want %s", ack.String(), want.String())
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no GETACK reply")
	}

	commands := applier.applied()
	if len(commands) != 2 || strings.Join(commands[0], " ") != "SET a 1" {
		t.Errorf("applied = %v", commands)
	}

	// The GETACK frame counts once it has been applied.
	getack := protocol.EncodeCommand("REPLCONF", "GETACK", "*")
	want := int64(len(set) + len(getack))
	deadline := time.Now().Add(2 * time.Second)
	for bridge.AppliedBytes() != want && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if got := bridge.AppliedBytes(); got != want {
		t.Errorf("AppliedBytes() = %d, want %d", got, want)
	}

	for sm.SyncStatus().CommandsProcessed != 2 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	status := sm.SyncStatus()
	if !status.Connected || status.MasterReplID != strings.Repeat("a", 40) || status.CommandsProcessed != 2 {
		t.Errorf("SyncStatus() = %+v", status)
	}
}

func TestClientResumesFromAppliedOffset(t *testing.T) {
	master := newFakeMaster(t)

	bridge := NewBridge(RoleReplica)
	client := NewClient(master.listener.Addr().String(), 6380, &recordingApplier{bridge: bridge}, bridge)
	client.SetLogger(&testLogger{t: t})
	client.SetRetryDelay(10 * time.Millisecond)

	if err := client.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer client.Stop()

	nextPsync := func() []string {
		t.Helper()
		for {
			select {
			case step := <-master.handshake:
				if step[0] == "PSYNC" {
					return step
				}
			case <-time.After(2 * time.Second):
				t.Fatal("timed out waiting for PSYNC")
			}
		}
	}

	if got := strings.Join(nextPsync(), " "); got != "PSYNC ? -1" {
		t.Fatalf("first PSYNC = %q", got)
	}

	conn := <-master.conn
	set := protocol.EncodeCommand("SET", "a", "1")
	conn.Write(set)

	deadline := time.Now().Add(2 * time.Second)
	for bridge.AppliedBytes() != int64(len(set)) && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	conn.Close()

	want := "PSYNC " + strings.Repeat("a", 40) + " " + strconv.Itoa(len(set))
	if got := strings.Join(nextPsync(), " "); got != want {
		t.Errorf("PSYNC after reconnect = %q, want %q", got, want)
	}
}

func TestClientStopWithoutMaster(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	client := NewClient(addr, 6380, &recordingApplier{}, NewBridge(RoleReplica))
	client.SetLogger(&testLogger{t: t})
	client.SetRetryDelay(10 * time.Millisecond)

	if err := client.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	if err := client.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if client.Stats().Connected {
		t.Error("client reports a connection to a closed port")
	}
	if err := client.Stop(); err != nil {
		t.Errorf("second Stop() error = %v", err)
	}
}

func TestParseFullResync(t *testing.T) {
	replID := strings.Repeat("b", 40)

	id, offset, err := parseFullResync(protocol.SimpleString("FULLRESYNC " + replID + " 1234"))
	if err != nil {
		t.Fatalf("parseFullResync() error = %v", err)
	}
	if id != replID || offset != 1234 {
		t.Errorf("parseFullResync() = %s, %d", id, offset)
	}

	for _, reply := range []string{"CONTINUE", "FULLRESYNC " + replID, "FULLRESYNC " + replID + " x"} {
		if _, _, err := parseFullResync(protocol.SimpleString(reply)); err == nil {
			t.Errorf("parseFullResync(%q) should fail", reply)
		}
	}
}
