package handsfree

import (
	"context"
	"errors"
	"io"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bluetuith-org/handsfree/api/bluetooth"
	"github.com/bluetuith-org/handsfree/api/config"
	"github.com/sirupsen/logrus"
)

var (
	testPeer  = mustParseMAC("AA:BB:CC:DD:EE:FF")
	otherPeer = mustParseMAC("11:22:33:44:55:66")

	errInjected = errors.New("injected failure")
)

func mustParseMAC(s string) bluetooth.MacAddress {
	mac, err := bluetooth.ParseMAC(s)
	if err != nil {
		panic(err)
	}

	return mac
}

// fakeStack records every call and fails the calls named in fail.
type fakeStack struct {
	mu    sync.Mutex
	calls []string
	sink  bluetooth.EventSink

	name   string
	mode   bluetooth.VisibleMode
	status bluetooth.StackStatus

	// keepName makes SetLocalName a no-op, so the read-back does not match.
	keepName bool
	// stopReplies makes Stop deliver a stop indication.
	stopReplies bool

	fail map[string]error
}

func newFakeStack() *fakeStack {
	return &fakeStack{
		name:        "stock",
		status:      bluetooth.StackRunning,
		stopReplies: true,
		fail:        map[string]error{},
	}
}

func (f *fakeStack) record(call string, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, call)

	return f.fail[name]
}

func (f *fakeStack) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]string(nil), f.calls...)
}

// Commands returns only the profile commands and stop requests.
func (f *fakeStack) Commands() []string {
	var commands []string

	for _, call := range f.Calls() {
		switch strings.Fields(call)[0] {
		case "answer", "volume", "disconnect", "channel", "send", "stop":
			commands = append(commands, call)
		}
	}

	return commands
}

func (f *fakeStack) Init(sink bluetooth.EventSink) error {
	f.mu.Lock()
	f.sink = sink
	f.mu.Unlock()

	return f.record("init", "init")
}

func (f *fakeStack) InitProfile() error { return f.record("profile-init", "profile-init") }
func (f *fakeStack) Start() error       { return f.record("start", "start") }

func (f *fakeStack) Stop() error {
	err := f.record("stop", "stop")

	f.mu.Lock()
	sink, reply := f.sink, f.stopReplies
	f.mu.Unlock()

	if reply && sink != nil {
		go sink(bluetooth.Event{Kind: bluetooth.EventStop})
	}

	return err
}

func (f *fakeStack) ReleaseProfile() error { return f.record("release-profile", "release-profile") }
func (f *fakeStack) Release() error        { return f.record("release", "release") }

func (f *fakeStack) Status() (bluetooth.StackStatus, error) {
	return f.status, f.record("status", "status")
}

func (f *fakeStack) LocalName() (string, error) {
	err := f.record("get-name", "get-name")

	f.mu.Lock()
	defer f.mu.Unlock()

	return f.name, err
}

func (f *fakeStack) SetLocalName(_ bluetooth.NameEncoding, name string) error {
	err := f.record("set-name "+name, "set-name")

	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil && !f.keepName {
		f.name = name
	}

	return err
}

func (f *fakeStack) VisibleMode() (bluetooth.VisibleMode, error) {
	err := f.record("get-mode", "get-mode")

	f.mu.Lock()
	defer f.mu.Unlock()

	return f.mode, err
}

func (f *fakeStack) SetVisibleMode(mode bluetooth.VisibleMode) error {
	err := f.record("set-mode "+strconv.Itoa(int(mode)), "set-mode")

	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		f.mode = mode
	}

	return err
}

func (f *fakeStack) ConnectionStatus() (bluetooth.ConnectionState, error) {
	return bluetooth.Disconnected, f.record("connection-status", "connection-status")
}

func (f *fakeStack) PeerAddress() (bluetooth.MacAddress, error) {
	return bluetooth.MacAddress{}, f.record("peer-address", "peer-address")
}

func (f *fakeStack) AnswerCall(peer bluetooth.MacAddress) error {
	return f.record("answer "+peer.String(), "answer")
}

func (f *fakeStack) SetVolume(peer bluetooth.MacAddress, level int) error {
	return f.record("volume "+peer.String()+" "+strconv.Itoa(level), "volume")
}

func (f *fakeStack) Disconnect(peer bluetooth.MacAddress) error {
	return f.record("disconnect "+peer.String(), "disconnect")
}

func (f *fakeStack) SetAudioChannel(channel int) error {
	return f.record("channel "+strconv.Itoa(channel), "channel")
}

// relayStack adds a serial data channel to fakeStack.
type relayStack struct {
	*fakeStack
}

func (r relayStack) Send(data []byte) error {
	return r.record("send "+string(data), "send")
}

func discardLogger() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	log.SetLevel(logrus.DebugLevel)

	return logrus.NewEntry(log)
}

// newTestController returns a controller whose session can be driven
// directly with handle, without running the loop.
func newTestController(t *testing.T, stack bluetooth.HandsFreeStack, opts ...Option) *Controller {
	t.Helper()

	opts = append([]Option{WithLogger(discardLogger())}, opts...)
	c, err := NewController(stack, config.New(), opts...)
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}
	c.session = newSession()

	return c
}

// runEvents runs a controller, publishes the events in order and waits for
// the run to finish.
func runEvents(t *testing.T, stack bluetooth.HandsFreeStack, cfg config.Configuration, events ...bluetooth.Event) (*Controller, error) {
	t.Helper()

	c, err := NewController(stack, cfg, WithLogger(discardLogger()))
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- c.Run(context.Background())
	}()

	for _, ev := range events {
		if err := c.Channel().Publish(context.Background(), ev); err != nil {
			break
		}
	}

	select {
	case err := <-done:
		return c, err
	case <-time.After(3 * time.Second):
		t.Fatalf("controller did not finish")
	}

	return nil, nil
}

func startEvent() bluetooth.Event {
	return bluetooth.Event{Kind: bluetooth.EventStart}
}

func stopEvent() bluetooth.Event {
	return bluetooth.Event{Kind: bluetooth.EventStop}
}

func connectEvent(state bluetooth.ConnectionState, peer bluetooth.MacAddress) bluetooth.Event {
	return bluetooth.Event{Kind: bluetooth.EventConnect, Payload: bluetooth.LinkPayload{State: state, Address: peer}}
}

func disconnectEvent(peer bluetooth.MacAddress) bluetooth.Event {
	return bluetooth.Event{Kind: bluetooth.EventDisconnect, Payload: bluetooth.LinkPayload{State: bluetooth.Disconnected, Address: peer}}
}

func callEvent(state bluetooth.CallState, peer bluetooth.MacAddress) bluetooth.Event {
	return bluetooth.Event{Kind: bluetooth.EventCall, Payload: bluetooth.CallPayload{State: state, Address: peer}}
}

func ringEvent(peer bluetooth.MacAddress) bluetooth.Event {
	return bluetooth.Event{Kind: bluetooth.EventRing, Payload: bluetooth.RingPayload{Address: peer}}
}

func indicatorEvent(kind bluetooth.EventKind, status, value int, peer bluetooth.MacAddress) bluetooth.Event {
	return bluetooth.Event{Kind: kind, Status: status, Payload: bluetooth.IndicatorPayload{Value: value, Address: peer}}
}

func equalCalls(got, want []string) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}

	return true
}
