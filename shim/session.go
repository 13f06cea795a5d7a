package shim

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Southclaws/fault"
	"github.com/Southclaws/fault/fctx"
	"github.com/Southclaws/fault/fmsg"
	"github.com/Southclaws/fault/ftag"
	"github.com/bluetuith-org/handsfree/api/bluetooth"
	"github.com/bluetuith-org/handsfree/api/errorkinds"
	"github.com/bluetuith-org/handsfree/shim/internal/commands"
	"github.com/bluetuith-org/handsfree/shim/internal/events"
	"github.com/bluetuith-org/handsfree/shim/internal/serde"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/sirupsen/logrus"
)

const (
	// ShimInitTimeout bounds the wait for a launched shim to accept connections.
	ShimInitTimeout = 3 * time.Second

	// ShimCmdReplyTimeout is the default timeout for a command reply.
	ShimCmdReplyTimeout = 5 * time.Second
)

// Options describes how to reach the shim RPC server.
type Options struct {
	// SocketPath is the unix socket the server listens on.
	SocketPath string

	// ShimPath, if set, is launched with the socket path before connecting.
	ShimPath string

	// ReplyTimeout bounds the wait for each command reply.
	ReplyTimeout time.Duration
}

// ShimStack is a hands-free radio stack reached through a shim RPC server.
//
//revive:disable
type ShimStack struct {
	opts Options
	log  *logrus.Entry

	conn net.Conn
	sink bluetooth.EventSink

	sessionClosed atomic.Bool
	cancel        context.CancelFunc

	id         *xsync.Counter
	requestMap *xsync.MapOf[int64, chan commands.CommandResponse]

	sync.Mutex
}

//revive:enable

// NewShimStack returns a stack that connects to the shim when initialized.
func NewShimStack(opts Options, log *logrus.Entry) *ShimStack {
	if opts.ReplyTimeout <= 0 {
		opts.ReplyTimeout = ShimCmdReplyTimeout
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	s := &ShimStack{
		opts: opts,
		log:  log.WithField("name", "shim"),
	}
	s.sessionClosed.Store(true)

	return s
}

// Init connects to the server, registers the event sink and initializes the stack.
func (s *ShimStack) Init(sink bluetooth.EventSink) error {
	if sink == nil {
		return wrapError(errorkinds.ErrSessionStart, "shim-init", "No event sink was provided")
	}

	if s.opts.SocketPath == "" {
		return wrapError(errorkinds.ErrInvalidConfig, "socket-path", "No socket path was provided")
	}

	ctx := s.reset(false)
	s.sink = sink

	if s.opts.ShimPath != "" {
		if err := s.launch(ctx); err != nil {
			s.reset(true)
			return wrapError(err, "start-shim", "Cannot start RPC session with shim")
		}
	}

	if err := s.startListener(ctx); err != nil {
		s.reset(true)
		return wrapError(err, "listener-shim", "Cannot start listener on provided socket")
	}

	if _, err := commands.StackInit().ExecuteWith(s.executor, s.opts.ReplyTimeout); err != nil {
		s.reset(true)
		return wrapError(err, "stack-init", "Cannot initialize the radio stack")
	}

	return nil
}

// InitProfile registers the hands-free profile with the stack.
func (s *ShimStack) InitProfile() error {
	return s.run(commands.ProfileInit(bluetooth.HandsFreeProfileUUID), "profile-init", "Cannot initialize the hands-free profile")
}

// Start asks the stack to start. Completion is reported with a start indication.
func (s *ShimStack) Start() error {
	return s.run(commands.StackStart(), "stack-start", "Cannot start the radio stack")
}

// Stop asks the stack to stop. Completion is reported with a stop indication.
func (s *ShimStack) Stop() error {
	return s.run(commands.StackStop(), "stack-stop", "Cannot stop the radio stack")
}

// ReleaseProfile unregisters the hands-free profile.
func (s *ShimStack) ReleaseProfile() error {
	return s.run(commands.ProfileRelease(), "profile-release", "Cannot release the hands-free profile")
}

// Release releases the stack and closes the connection to the server.
func (s *ShimStack) Release() error {
	if s.sessionClosed.Load() {
		return errorkinds.ErrSessionNotExist
	}

	err := s.run(commands.StackRelease(), "stack-release", "Cannot release the radio stack")
	if s.opts.ShimPath != "" {
		if _, stopErr := commands.StopRpcServer().ExecuteWith(s.executor, s.opts.ReplyTimeout); stopErr != nil {
			s.log.WithError(stopErr).Debug("shim did not acknowledge the stop request")
		}
	}
	s.reset(true)

	return err
}

// Status returns the stack status.
func (s *ShimStack) Status() (bluetooth.StackStatus, error) {
	status, err := commands.StackStatus().ExecuteWith(s.executor, s.opts.ReplyTimeout)
	if err != nil {
		return bluetooth.StackStopped, wrapError(err, "stack-status", "Cannot get the radio stack status")
	}

	return bluetooth.StackStatus(status), nil
}

// LocalName returns the name of the local device.
func (s *ShimStack) LocalName() (string, error) {
	name, err := commands.GetLocalName().ExecuteWith(s.executor, s.opts.ReplyTimeout)
	if err != nil {
		return "", wrapError(err, "get-name", "Cannot get the local name")
	}

	return name, nil
}

// SetLocalName sets the name of the local device.
func (s *ShimStack) SetLocalName(encoding bluetooth.NameEncoding, name string) error {
	return s.run(commands.SetLocalName(encoding, name), "set-name", "Cannot set the local name")
}

// VisibleMode returns the visibility mode of the local device.
func (s *ShimStack) VisibleMode() (bluetooth.VisibleMode, error) {
	mode, err := commands.GetVisibleMode().ExecuteWith(s.executor, s.opts.ReplyTimeout)
	if err != nil {
		return bluetooth.Hidden, wrapError(err, "get-visible-mode", "Cannot get the visibility mode")
	}

	return bluetooth.VisibleMode(mode), nil
}

// SetVisibleMode sets the visibility mode of the local device.
func (s *ShimStack) SetVisibleMode(mode bluetooth.VisibleMode) error {
	return s.run(commands.SetVisibleMode(mode), "set-visible-mode", "Cannot set the visibility mode")
}

// ConnectionStatus returns the hands-free link state.
func (s *ShimStack) ConnectionStatus() (bluetooth.ConnectionState, error) {
	state, err := commands.ConnectionStatus().ExecuteWith(s.executor, s.opts.ReplyTimeout)
	if err != nil {
		return bluetooth.Disconnected, wrapError(err, "connection-status", "Cannot get the connection status")
	}

	return bluetooth.ConnectionState(state), nil
}

// PeerAddress returns the address of the connected peer.
func (s *ShimStack) PeerAddress() (bluetooth.MacAddress, error) {
	address, err := commands.PeerAddress().ExecuteWith(s.executor, s.opts.ReplyTimeout)
	if err != nil {
		return bluetooth.MacAddress{}, wrapError(err, "peer-address", "Cannot get the peer address")
	}

	peer, err := bluetooth.ParseMAC(address)
	if err != nil {
		return peer, wrapError(err, "peer-address", "Invalid peer address")
	}

	return peer, nil
}

// AnswerCall answers the incoming call on the peer.
func (s *ShimStack) AnswerCall(peer bluetooth.MacAddress) error {
	return s.run(commands.AnswerCall(peer), "answer-call", "Cannot answer the call")
}

// SetVolume sets the call volume at the peer.
func (s *ShimStack) SetVolume(peer bluetooth.MacAddress, level int) error {
	if level < 0 || level > bluetooth.MaxVolume {
		return wrapError(errorkinds.ErrInvalidConfig, "set-volume", "Volume level is out of range")
	}

	return s.run(commands.SetVolume(peer, level), "set-volume", "Cannot set the call volume")
}

// Disconnect tears down the hands-free link to the peer.
func (s *ShimStack) Disconnect(peer bluetooth.MacAddress) error {
	return s.run(commands.Disconnect(peer), "disconnect", "Cannot disconnect the peer")
}

// SetAudioChannel routes call audio to the given output channel.
func (s *ShimStack) SetAudioChannel(channel int) error {
	return s.run(commands.SetAudioChannel(channel), "set-audio-channel", "Cannot set the audio channel")
}

// Send writes data to the serial port profile channel.
func (s *ShimStack) Send(data []byte) error {
	return s.run(commands.SendData(data), "spp-send", "Cannot send serial data")
}

func (s *ShimStack) run(cmd *commands.Command[commands.NoResult], at, message string) error {
	if _, err := cmd.ExecuteWith(s.executor, s.opts.ReplyTimeout); err != nil {
		return wrapError(err, at, message)
	}

	return nil
}

// launch starts the shim process and waits for its socket to appear.
func (s *ShimStack) launch(ctx context.Context) error {
	session := exec.CommandContext(
		ctx, s.opts.ShimPath,
		commands.StartRpcServer(s.opts.SocketPath).Slice()...,
	)
	session.Stdout = os.Stdout
	session.Stderr = os.Stderr
	if err := session.Start(); err != nil {
		return err
	}

	exited := make(chan error, 1)
	go func() {
		exited <- session.Wait()
	}()

	deadline := time.NewTimer(ShimInitTimeout)
	defer deadline.Stop()

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		if _, err := os.Stat(s.opts.SocketPath); err == nil {
			return nil
		}

		select {
		case err := <-exited:
			if err == nil {
				err = errorkinds.ErrSessionNotExist
			}
			return err

		case <-ctx.Done():
			return errorkinds.ErrSessionNotExist

		case <-deadline.C:
			return errorkinds.ErrMethodTimeout

		case <-ticker.C:
		}
	}
}

// startListener connects to the socket and starts the listener.
func (s *ShimStack) startListener(ctx context.Context) error {
	socket, err := net.Dial("unix", s.opts.SocketPath)
	if err != nil {
		return err
	}

	s.Lock()
	s.conn = socket
	s.Unlock()

	queue := newIndicationQueue()
	go forward(ctx, queue, s.sink)
	go s.listen(ctx, socket, queue)

	return nil
}

// listen reads frames from the socket until it is closed. Replies are handed
// to their waiting commands, indications are queued for the event sink.
func (s *ShimStack) listen(ctx context.Context, conn net.Conn, queue *indicationQueue) {
	sendData := func(c chan commands.CommandResponse, m commands.CommandResponse, final bool) {
		select {
		case c <- m:
		default:
		}

		if final {
			close(c)
		}
	}

	defer s.failPending()

	for {
		select {
		case <-ctx.Done():
			return

		default:
		}

		rawHeader := commands.RawFrameHeaderBuffer{}
		if _, err := io.ReadFull(conn, rawHeader[:]); err != nil {
			s.handleListenerError(err)
			return
		}

		header, err := commands.UnpackFrameHeader(rawHeader)
		if err != nil {
			s.handleListenerError(err)
			return
		}

		body := make([]byte, header.ContentSize)
		if _, err := io.ReadFull(conn, body); err != nil {
			s.handleListenerError(err)
			return
		}

		if header.Kind == commands.FrameIndication {
			s.handleListenerEvent(body, queue)
			continue
		}

		var response commands.CommandResponse
		if err := serde.UnmarshalJson(body, &response); err != nil {
			s.log.WithError(err).Warn("cannot decode command reply")
			response = commands.CommandResponse{
				Status: "error",
				Error:  commands.CommandError{Name: "DecodeError", Description: err.Error()},
			}
		}

		var (
			replyChan chan commands.CommandResponse
			ok        bool
		)
		if header.IsOperationComplete {
			replyChan, ok = s.requestMap.LoadAndDelete(header.RequestId)
		} else {
			replyChan, ok = s.requestMap.Load(header.RequestId)
		}

		if ok {
			sendData(replyChan, response, header.IsOperationComplete)
		}
	}
}

// handleListenerEvent converts an indication and queues it for the event sink.
func (s *ShimStack) handleListenerEvent(body []byte, queue *indicationQueue) {
	indication, err := events.Decode(body)
	if err == nil {
		var ev bluetooth.Event

		ev, err = indication.Event()
		if err == nil {
			queue.push(ev)
			return
		}
	}

	s.log.WithError(err).Warn("dropping malformed indication")
}

// handleListenerError logs errors that end the listener.
func (s *ShimStack) handleListenerError(err error) {
	if s.sessionClosed.Load() || errors.Is(err, net.ErrClosed) {
		return
	}

	s.log.WithError(err).Error("shim connection lost")
}

// failPending releases every command still waiting for a reply.
func (s *ShimStack) failPending() {
	s.Lock()
	requests := s.requestMap
	s.Unlock()

	if requests == nil {
		return
	}

	requests.Range(func(id int64, c chan commands.CommandResponse) bool {
		if _, ok := requests.LoadAndDelete(id); ok {
			close(c)
		}

		return true
	})
}

// executor forms a request using the provided parameters, generates a unique request ID,
// and sends the request to the server. Replies are matched to the request by the listener.
func (s *ShimStack) executor(params []string) (chan commands.CommandResponse, error) {
	if s.sessionClosed.Load() {
		return nil, errorkinds.ErrSessionNotExist
	}

	s.Lock()
	defer s.Unlock()

	s.id.Inc()
	id := s.id.Value()

	replyChan := make(chan commands.CommandResponse, 1)
	s.requestMap.Store(id, replyChan)

	command := map[string]any{
		"command":    params,
		"request_id": id,
	}

	commandBytes, err := serde.MarshalJson(command)
	if err != nil {
		s.requestMap.Delete(id)
		return nil, err
	}

	if _, err = s.conn.Write(append(commandBytes, '\n')); err != nil {
		s.requestMap.Delete(id)
		return nil, err
	}

	return replyChan, nil
}

// reset resets the state of the session. If 'isClosed' is true, it closes the
// socket connection and any launched shim. Otherwise all session internals are
// initialized.
func (s *ShimStack) reset(isClosed bool) context.Context {
	s.Lock()
	defer s.Unlock()

	s.sessionClosed.Store(isClosed)
	if isClosed {
		if s.cancel != nil {
			s.cancel()
		}

		if s.conn != nil {
			s.conn.Close()
		}

		return context.Background()
	}

	s.id = xsync.NewCounter()
	s.requestMap = xsync.NewMapOf[int64, chan commands.CommandResponse]()

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	return ctx
}

func wrapError(err error, at, message string) error {
	return fault.Wrap(err,
		fctx.With(context.Background(), "error_at", at),
		ftag.With(ftag.Internal),
		fmsg.With(message),
	)
}
