package shim

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bluetuith-org/handsfree/api/bluetooth"
	"github.com/bluetuith-org/handsfree/api/config"
	"github.com/bluetuith-org/handsfree/api/errorkinds"
	"github.com/bluetuith-org/handsfree/handsfree"
	"github.com/bluetuith-org/handsfree/shim/internal/commands"
	"github.com/bluetuith-org/handsfree/shim/internal/serde"
	"github.com/sirupsen/logrus"
)

type serverRequest struct {
	Command   []string `json:"command"`
	RequestId int64    `json:"request_id"`
}

// reply is the scripted answer to one command.
// A nil reply leaves the command unanswered.
type reply struct {
	data        string
	err         string
	indications []string
}

// fakeServer is a scripted shim RPC server on a unix socket.
type fakeServer struct {
	t        *testing.T
	listener net.Listener
	script   func(argv string) *reply

	mu       sync.Mutex
	conn     net.Conn
	commands []string
	writeMu  sync.Mutex
}

func newFakeServer(t *testing.T, script func(argv string) *reply) (*fakeServer, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "shim.sock")
	listener, err := net.Listen("unix", path)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	f := &fakeServer{t: t, listener: listener, script: script}
	t.Cleanup(func() {
		listener.Close()

		f.mu.Lock()
		if f.conn != nil {
			f.conn.Close()
		}
		f.mu.Unlock()
	})

	go f.serve()

	return f, path
}

func (f *fakeServer) serve() {
	conn, err := f.listener.Accept()
	if err != nil {
		return
	}

	f.mu.Lock()
	f.conn = conn
	f.mu.Unlock()

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		var req serverRequest
		if err := serde.UnmarshalJson(scanner.Bytes(), &req); err != nil {
			f.t.Errorf("cannot decode request %q: %v", scanner.Text(), err)
			return
		}

		argv := strings.Join(req.Command, " ")
		f.mu.Lock()
		f.commands = append(f.commands, argv)
		f.mu.Unlock()

		r := &reply{}
		if f.script != nil {
			r = f.script(argv)
		}
		if r == nil {
			continue
		}

		body := `{"status":"ok","data":{` + r.data + `}}`
		if r.err != "" {
			body = `{"status":"error","error":{"name":"` + r.err + `","description":"scripted failure"}}`
		}
		f.write(commands.FrameReply, req.RequestId, body)

		for _, ind := range r.indications {
			f.write(commands.FrameIndication, 0, ind)
		}
	}
}

func (f *fakeServer) write(kind commands.FrameKind, id int64, body string) {
	header, err := commands.PackFrameHeader(kind, true, id, len(body))
	if err != nil {
		f.t.Errorf("pack header: %v", err)
		return
	}

	f.writeMu.Lock()
	defer f.writeMu.Unlock()

	f.mu.Lock()
	conn := f.conn
	f.mu.Unlock()

	if _, err := conn.Write(append(header[:], body...)); err != nil && !errors.Is(err, net.ErrClosed) {
		f.t.Logf("write: %v", err)
	}
}

func (f *fakeServer) Commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]string(nil), f.commands...)
}

func discardLogger() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)

	return logrus.NewEntry(log)
}

func TestShimStackCommands(t *testing.T) {
	t.Parallel()

	server, path := newFakeServer(t, func(argv string) *reply {
		switch argv {
		case "stack status":
			return &reply{data: `"status":1`}
		case "adapter get-name":
			return &reply{data: `"name":"Car Kit"`}
		case "adapter get-visible-mode":
			return &reply{data: `"mode":3`}
		case "hfp peer-address":
			return &reply{data: `"address":"AA:BB:CC:DD:EE:FF"`}
		case "hfp connection-status":
			return &reply{data: `"state":2`}
		}

		return &reply{}
	})

	stack := NewShimStack(Options{SocketPath: path}, discardLogger())
	if err := stack.Init(func(bluetooth.Event) {}); err != nil {
		t.Fatalf("init: %v", err)
	}

	peer, _ := bluetooth.ParseMAC("AA:BB:CC:DD:EE:FF")

	status, err := stack.Status()
	if err != nil || status != bluetooth.StackRunning {
		t.Fatalf("status = %d, %v", status, err)
	}
	name, err := stack.LocalName()
	if err != nil || name != "Car Kit" {
		t.Fatalf("name = %q, %v", name, err)
	}
	mode, err := stack.VisibleMode()
	if err != nil || mode != bluetooth.DiscoverableConnectable {
		t.Fatalf("mode = %s, %v", mode, err)
	}
	address, err := stack.PeerAddress()
	if err != nil || address != peer {
		t.Fatalf("peer = %s, %v", address, err)
	}
	state, err := stack.ConnectionStatus()
	if err != nil || state != bluetooth.Connected {
		t.Fatalf("connection = %s, %v", state, err)
	}

	for _, fn := range []func() error{
		stack.InitProfile,
		func() error { return stack.SetLocalName(bluetooth.NameUTF8, "Car Kit 2") },
		func() error { return stack.SetVisibleMode(bluetooth.DiscoverableConnectable) },
		func() error { return stack.AnswerCall(peer) },
		func() error { return stack.SetVolume(peer, 7) },
		func() error { return stack.SetAudioChannel(2) },
		func() error { return stack.Disconnect(peer) },
		func() error { return stack.Send([]byte("AT+OK")) },
	} {
		if err := fn(); err != nil {
			t.Fatalf("command failed: %v", err)
		}
	}

	if err := stack.SetVolume(peer, bluetooth.MaxVolume+1); !errors.Is(err, errorkinds.ErrInvalidConfig) {
		t.Fatalf("expected an out of range volume to be refused, got %v", err)
	}

	if err := stack.Release(); err != nil {
		t.Fatalf("release: %v", err)
	}

	want := []string{
		"stack init",
		"stack status",
		"adapter get-name",
		"adapter get-visible-mode",
		"hfp peer-address",
		"hfp connection-status",
		"hfp init --uuid 0000111e-0000-1000-8000-00805f9b34fb",
		"adapter set-name --encoding 0 --name Car Kit 2",
		"adapter set-visible-mode --mode 3",
		"hfp answer-call --address AA:BB:CC:DD:EE:FF",
		"hfp set-volume --address AA:BB:CC:DD:EE:FF --level 7",
		"audio set-channel --channel 2",
		"hfp disconnect --address AA:BB:CC:DD:EE:FF",
		"spp send --data AT+OK",
		"stack release",
	}

	got := server.Commands()
	if len(got) != len(want) {
		t.Fatalf("commands = %q, want %q", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("command %d = %q, want %q", i, got[i], want[i])
		}
	}

	if err := stack.AnswerCall(peer); !errors.Is(err, errorkinds.ErrSessionNotExist) {
		t.Fatalf("expected a closed session, got %v", err)
	}
}

func TestShimStackCommandFailures(t *testing.T) {
	t.Parallel()

	_, path := newFakeServer(t, func(argv string) *reply {
		switch {
		case strings.HasPrefix(argv, "hfp answer-call"):
			return &reply{err: "NotConnected"}
		case strings.HasPrefix(argv, "hfp disconnect"):
			return nil
		}

		return &reply{}
	})

	stack := NewShimStack(Options{SocketPath: path, ReplyTimeout: 50 * time.Millisecond}, discardLogger())
	if err := stack.Init(func(bluetooth.Event) {}); err != nil {
		t.Fatalf("init: %v", err)
	}
	defer stack.Release()

	var peer bluetooth.MacAddress

	err := stack.AnswerCall(peer)
	var commandErr commands.CommandError
	if !errors.As(err, &commandErr) || commandErr.Name != "NotConnected" {
		t.Fatalf("expected the server error, got %v", err)
	}

	if err := stack.Disconnect(peer); !errors.Is(err, errorkinds.ErrMethodTimeout) {
		t.Fatalf("expected a timeout, got %v", err)
	}
}

func TestShimStackDeliversIndications(t *testing.T) {
	t.Parallel()

	_, path := newFakeServer(t, func(argv string) *reply {
		if argv == "stack start" {
			return &reply{indications: []string{
				`[0,0]`,
				`[40,0,2,[255,238,221,204,187,170]]`,
				`[40,0,"bogus"]`,
				`[51,0,0,[255,238,221,204,187,170]]`,
			}}
		}

		return &reply{}
	})

	received := make(chan bluetooth.Event, 8)
	stack := NewShimStack(Options{SocketPath: path}, discardLogger())
	if err := stack.Init(func(ev bluetooth.Event) { received <- ev }); err != nil {
		t.Fatalf("init: %v", err)
	}
	defer stack.Release()

	if err := stack.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	want := []bluetooth.EventKind{bluetooth.EventStart, bluetooth.EventConnect, bluetooth.EventRing}
	for _, kind := range want {
		select {
		case ev := <-received:
			if ev.Kind != kind {
				t.Fatalf("event = %s, want %s", ev.Kind, kind)
			}
			if address, ok := ev.Address(); ok && address.String() != "AA:BB:CC:DD:EE:FF" {
				t.Fatalf("address = %s", address)
			}

		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for %s", kind)
		}
	}
}

func TestShimStackRepliesWhileSinkIsFull(t *testing.T) {
	t.Parallel()

	const peer = `[255,238,221,204,187,170]`

	_, path := newFakeServer(t, func(argv string) *reply {
		if argv == "stack status" {
			return &reply{data: `"status":1`, indications: []string{
				`[46,0,1,` + peer + `]`,
				`[46,0,2,` + peer + `]`,
				`[46,0,3,` + peer + `]`,
			}}
		}

		return &reply{}
	})

	channel := handsfree.NewChannel(1)
	defer channel.Close()

	stack := NewShimStack(Options{SocketPath: path, ReplyTimeout: time.Second}, discardLogger())
	if err := stack.Init(channel.Sink(discardLogger())); err != nil {
		t.Fatalf("init: %v", err)
	}
	defer stack.Release()

	if _, err := stack.Status(); err != nil {
		t.Fatalf("status: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for channel.Len() < channel.Cap() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if channel.Len() != channel.Cap() {
		t.Fatalf("channel was not filled: len = %d", channel.Len())
	}

	peerAddress, _ := bluetooth.ParseMAC("AA:BB:CC:DD:EE:FF")
	started := time.Now()
	if err := stack.AnswerCall(peerAddress); err != nil {
		t.Fatalf("answer call with a full channel: %v", err)
	}
	if elapsed := time.Since(started); elapsed >= time.Second {
		t.Fatalf("answer call took %s", elapsed)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	for want := 1; want <= 3; want++ {
		ev, err := channel.Consume(ctx)
		if err != nil {
			t.Fatalf("consume: %v", err)
		}

		p, ok := ev.Payload.(bluetooth.IndicatorPayload)
		if ev.Kind != bluetooth.EventBattery || !ok || p.Value != want {
			t.Fatalf("event = %s, want battery %d", ev, want)
		}
	}
}

func TestShimStackWithController(t *testing.T) {
	t.Parallel()

	const peer = `[255,238,221,204,187,170]`

	name := "stock"
	server, path := newFakeServer(t, func(argv string) *reply {
		switch {
		case argv == "stack start":
			return &reply{indications: []string{
				`[0,0]`,
				`[40,0,2,` + peer + `]`,
				`[51,0,0,` + peer + `]`,
				`[42,0,1,` + peer + `]`,
				`[46,0,5,` + peer + `]`,
				`[42,0,0,` + peer + `]`,
				`[41,0,0,` + peer + `]`,
			}}
		case argv == "stack stop":
			return &reply{indications: []string{`[1,0]`}}
		case argv == "stack status":
			return &reply{data: `"status":1`}
		case argv == "adapter get-name":
			return &reply{data: `"name":"` + name + `"`}
		case strings.HasPrefix(argv, "adapter set-name"):
			name = strings.TrimPrefix(argv, "adapter set-name --encoding 0 --name ")
		case argv == "adapter get-visible-mode":
			return &reply{data: `"mode":3`}
		}

		return &reply{}
	})

	stack := NewShimStack(Options{SocketPath: path}, discardLogger())
	controller, err := handsfree.NewController(stack, config.New(), handsfree.WithLogger(discardLogger()))
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := controller.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}

	var profile []string
	for _, argv := range server.Commands() {
		if strings.HasPrefix(argv, "hfp") || strings.HasPrefix(argv, "audio") || argv == "stack stop" {
			profile = append(profile, argv)
		}
	}

	want := []string{
		"hfp init --uuid 0000111e-0000-1000-8000-00805f9b34fb",
		"hfp answer-call --address AA:BB:CC:DD:EE:FF",
		"audio set-channel --channel 2",
		"hfp set-volume --address AA:BB:CC:DD:EE:FF --level 7",
		"hfp disconnect --address AA:BB:CC:DD:EE:FF",
		"stack stop",
		"hfp release",
	}
	if strings.Join(profile, "\n") != strings.Join(want, "\n") {
		t.Fatalf("commands = %q, want %q", profile, want)
	}

	peerAddress, _ := bluetooth.ParseMAC("AA:BB:CC:DD:EE:FF")
	battery, ok := controller.Store().Indicator(peerAddress, bluetooth.EventBattery)
	if !ok || battery.Value != 5 {
		t.Fatalf("battery = %+v, ok = %t", battery, ok)
	}
	if snap := controller.Snapshot(); !snap.Terminal || snap.HasPeer() {
		t.Fatalf("unexpected final session: %+v", snap)
	}
}
