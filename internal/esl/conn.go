package esl

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// State is one of the engine's connection states.
type State int

const (
	StateConnecting State = iota
	StateConnected
	StateReconnecting
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Config configures an Engine.
type Config struct {
	Host     string
	Port     int
	Password string

	// MaxRetries bounds consecutive reconnect attempts before the
	// engine stops permanently with ErrMaxRetriesExceeded. Zero means
	// the protocol default of 10.
	MaxRetries int

	// RetryInterval gates reconnection attempts. Zero means the
	// protocol default of 1 second.
	RetryInterval time.Duration

	// Dial opens the transport. Overridable so tests can hand the
	// engine a net.Pipe-backed connection instead of a real socket.
	Dial func(ctx context.Context, address string) (net.Conn, error)

	// Logger receives wire-level (Trace), dispatch (Debug), and
	// lifecycle (Info/Warn/Error) logging. Defaults to slog.Default().
	Logger *slog.Logger

	// OnStateChange, if set, is invoked synchronously on the engine's
	// run loop every time the state transitions. It must not block or
	// call back into the engine. Used by callers (cmd/eslcli, when its
	// mqttbridge or wsgateway relays are enabled) that need to re-issue
	// event/filter subscriptions after a reconnect, since the core does
	// not do this itself.
	OnStateChange func(State)
}

func (c Config) address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func (c Config) maxRetries() int {
	if c.MaxRetries > 0 {
		return c.MaxRetries
	}
	return 10
}

func (c Config) retryInterval() time.Duration {
	if c.RetryInterval > 0 {
		return c.RetryInterval
	}
	return time.Second
}

func defaultDial(ctx context.Context, address string) (net.Conn, error) {
	var d net.Dialer
	return d.DialContext(ctx, "tcp", address)
}

// Engine owns one Event Socket connection: it drives the auth
// handshake, serializes synchronous commands, correlates background
// job results, fans out events to subscribers, and reconnects with a
// bounded retry budget. Callers never touch the socket directly; every
// operation is a request handed to the single goroutine that does.
type Engine struct {
	cfg Config

	cmdCh   chan *cmdReq
	bgapiCh chan *bgapiReq
	subCh   chan *subReq
	unsubCh chan int
	stopCh  chan struct{}
	doneCh  chan struct{}

	stopOnce  sync.Once
	state     atomic.Int32
	nextSubID atomic.Int64

	mu      sync.Mutex
	stopErr error
}

// NewEngine constructs an Engine for cfg. Call Start to begin the
// state machine.
func NewEngine(cfg Config) *Engine {
	if cfg.Dial == nil {
		cfg.Dial = defaultDial
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	e := &Engine{
		cfg:     cfg,
		cmdCh:   make(chan *cmdReq),
		bgapiCh: make(chan *bgapiReq),
		subCh:   make(chan *subReq),
		unsubCh: make(chan int),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
	e.state.Store(int32(StateConnecting))
	return e
}

// Start begins the connection state machine in a background goroutine
// and returns immediately. Use Done and Err to observe termination.
func (e *Engine) Start() {
	go e.run()
}

// State reports the engine's current state.
func (e *Engine) State() State {
	return State(e.state.Load())
}

// Done returns a channel closed when the engine has stopped, whether
// because Stop was called or because reconnect attempts were
// exhausted.
func (e *Engine) Done() <-chan struct{} {
	return e.doneCh
}

// Err returns the reason the engine stopped. It is only meaningful
// after Done is closed; nil means Stop was called explicitly.
func (e *Engine) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stopErr
}

// Stop terminates the engine. Any in-flight or queued synchronous
// commands are completed with ErrStopped.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stopCh) })
	<-e.doneCh
}

func (e *Engine) setState(s State) {
	e.state.Store(int32(s))
	if e.cfg.OnStateChange != nil {
		e.cfg.OnStateChange(s)
	}
}

func (e *Engine) setStopErr(err error) {
	e.mu.Lock()
	e.stopErr = err
	e.mu.Unlock()
}

// run is the engine's single actor goroutine: every mutation of the
// job registry, subscriber registry, and in-flight command state
// happens here, so none of it needs a lock.
func (e *Engine) run() {
	defer close(e.doneCh)

	dialCtx, cancelDial := context.WithCancel(context.Background())
	defer cancelDial()
	go func() {
		select {
		case <-e.stopCh:
			cancelDial()
		case <-dialCtx.Done():
		}
	}()

	jobs := newJobRegistry()
	subs := newSubscriberRegistry()
	failureCount := 0

	for {
		conn, err := e.cfg.Dial(dialCtx, e.cfg.address())
		if err != nil {
			select {
			case <-e.stopCh:
				e.setState(StateStopped)
				return
			default:
			}
			failureCount++
			e.cfg.Logger.Warn("esl: dial failed", "error", err, "attempt", failureCount)
			e.setState(StateReconnecting)
			if failureCount >= e.cfg.maxRetries() {
				e.setStopErr(ErrMaxRetriesExceeded)
				e.setState(StateStopped)
				return
			}
			if !e.sleepOrStop(e.cfg.retryInterval(), jobs, subs) {
				e.setState(StateStopped)
				return
			}
			continue
		}

		failureCount = 0
		stopped, fatalErr := e.serve(conn, jobs, subs)
		conn.Close()

		if stopped {
			e.setStopErr(fatalErr)
			e.setState(StateStopped)
			return
		}

		select {
		case <-e.stopCh:
			e.setState(StateStopped)
			return
		default:
		}
		e.setState(StateReconnecting)
	}
}

// sleepOrStop waits out the retry interval while still servicing
// subscription requests (so callers blocked in StartListening/Stop
// during a reconnect gap don't hang) and command/bgapi requests (which
// fail fast with ErrNotConnected). It returns false if Stop was called
// during the wait.
func (e *Engine) sleepOrStop(d time.Duration, jobs *jobRegistry, subs *subscriberRegistry) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	for {
		select {
		case <-timer.C:
			return true
		case <-e.stopCh:
			return false
		case req := <-e.cmdCh:
			req.reply(nil, ErrNotConnected)
		case req := <-e.bgapiCh:
			req.errCh <- ErrNotConnected
		case req := <-e.subCh:
			subs.add(req.sub)
			close(req.ack)
		case key := <-e.unsubCh:
			subs.remove(key)
		}
	}
}

// serve owns one live connection end-to-end: the auth handshake, then
// the connected dispatch loop. It returns stopped=true for auth failure
// (err is ErrAuthFailed) or an explicit Stop (err is nil);
// stopped=false means the socket closed and the caller should attempt
// to reconnect.
func (e *Engine) serve(conn net.Conn, jobs *jobRegistry, subs *subscriberRegistry) (stopped bool, err error) {
	readCh := make(chan readMsg, 16)
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		readLoop(conn, readCh)
	}()
	defer func() {
		conn.Close()
		<-readerDone
	}()

	e.setState(StateConnecting)

	var recvBuf []byte
	var queue []*cmdReq
	var inFlight *cmdReq
	authenticated := false

	for {
		select {
		case msg := <-readCh:
			if msg.err != nil {
				e.cfg.Logger.Info("esl: connection closed", "error", msg.err)
				e.failQueued(queue, inFlight, ErrNotConnected)
				return false, nil
			}

			recvBuf = append(recvBuf, msg.data...)
			var packets []*Packet
			recvBuf, packets = Parse(recvBuf)

			for _, p := range packets {
				e.cfg.Logger.Log(context.Background(), levelTrace, "esl: packet", "type", p.Type)

				if !authenticated {
					switch {
					case p.Type == "auth/request":
						if _, werr := conn.Write(encodeAuth(e.cfg.Password)); werr != nil {
							e.failQueued(queue, inFlight, ErrNotConnected)
							return false, nil
						}
					case p.Type == "command/reply" && p.Success:
						authenticated = true
						e.setState(StateConnected)
						e.cfg.Logger.Info("esl: authenticated")
					default:
						e.cfg.Logger.Error("esl: authentication failed", "type", p.Type, "reply_text", p.Header("reply-text"))
						e.failQueued(queue, inFlight, ErrAuthFailed)
						return true, ErrAuthFailed
					}
					continue
				}

				e.dispatch(p, jobs, subs, &inFlight, &queue, conn)
			}

		case req := <-e.cmdCh:
			if !authenticated {
				req.reply(nil, ErrNotConnected)
				continue
			}
			queue = append(queue, req)
			pumpQueue(&queue, &inFlight, conn, e.cfg.Logger)

		case req := <-e.bgapiCh:
			if !authenticated {
				req.errCh <- ErrNotConnected
				continue
			}
			jobID := uuid.NewString()
			encoded := encodeBgapi(req.cmd, req.args, jobID)
			if _, werr := conn.Write(encoded); werr != nil {
				req.errCh <- werr
				continue
			}
			jobs.register(jobID, req.resultCh)
			req.idCh <- jobID

		case req := <-e.subCh:
			subs.add(req.sub)
			close(req.ack)

		case key := <-e.unsubCh:
			subs.remove(key)

		case <-e.stopCh:
			e.failQueued(queue, inFlight, ErrStopped)
			return true, nil
		}
	}
}

// dispatch applies the connected-state dispatch rules from a decoded
// packet: the single in-flight synchronous command takes priority,
// then a registered background job, then ordinary event fan-out.
func (e *Engine) dispatch(p *Packet, jobs *jobRegistry, subs *subscriberRegistry, inFlight **cmdReq, queue *[]*cmdReq, conn net.Conn) {
	switch {
	case p.IsCommandReply():
		if *inFlight == nil {
			e.cfg.Logger.Debug("esl: unsolicited reply dropped", "type", p.Type)
			return
		}
		req := *inFlight
		*inFlight = nil
		req.reply(p, nil)
		pumpQueue(queue, inFlight, conn, e.cfg.Logger)

	case p.HasJobID():
		ch, ok := jobs.resolve(p.JobID)
		if !ok {
			e.cfg.Logger.Debug("esl: result for unknown job dropped", "job_id", p.JobID)
			return
		}
		deliverJobResult(ch, &JobResult{JobID: p.JobID, Packet: p})

	default:
		subs.dispatch(p)
	}
}

// failQueued completes every queued and in-flight synchronous command
// with err, since the socket they were written to (or were about to be
// written to) is gone.
func (e *Engine) failQueued(queue []*cmdReq, inFlight *cmdReq, err error) {
	if inFlight != nil {
		inFlight.reply(nil, err)
	}
	for _, req := range queue {
		req.reply(nil, err)
	}
}

// pumpQueue writes the next queued command to the wire if none is
// currently awaiting a reply. Commands whose caller already cancelled
// are skipped without being sent.
func pumpQueue(queue *[]*cmdReq, inFlight **cmdReq, conn net.Conn, logger *slog.Logger) {
	if *inFlight != nil {
		return
	}
	for len(*queue) > 0 {
		req := (*queue)[0]
		*queue = (*queue)[1:]

		select {
		case <-req.ctx.Done():
			req.reply(nil, ErrCommandCancelled)
			continue
		default:
		}

		if _, err := conn.Write(req.encoded); err != nil {
			req.reply(nil, err)
			continue
		}
		*inFlight = req
		return
	}
}

// readMsg carries one chunk of socket data, or the terminal read
// error, from readLoop to the engine's run loop.
type readMsg struct {
	data []byte
	err  error
}

// readLoop copies bytes off conn until it errors (including on Close
// from the owning goroutine), forwarding each chunk and finally the
// error over out.
func readLoop(conn net.Conn, out chan<- readMsg) {
	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			out <- readMsg{data: chunk}
		}
		if err != nil {
			out <- readMsg{err: err}
			return
		}
	}
}

// cmdReq is one synchronous command queued for the wire.
type cmdReq struct {
	ctx     context.Context
	encoded []byte
	replyCh chan cmdResult
}

type cmdResult struct {
	packet *Packet
	err    error
}

func (r *cmdReq) reply(p *Packet, err error) {
	select {
	case r.replyCh <- cmdResult{packet: p, err: err}:
	default:
	}
}

// bgapiReq is one background command request awaiting either a
// generated Job-UUID (success) or an error.
type bgapiReq struct {
	cmd, args string
	resultCh  chan *JobResult
	idCh      chan string
	errCh     chan error
}

// subReq registers a new subscriber.
type subReq struct {
	sub *subscriber
	ack chan struct{}
}

// send writes encoded to the wire and blocks until the matching reply
// arrives, ctx is cancelled, or the engine stops. It is the shared
// implementation behind Api and every other synchronous command
// helper.
func (e *Engine) send(ctx context.Context, encoded []byte) (*Packet, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	req := &cmdReq{ctx: ctx, encoded: encoded, replyCh: make(chan cmdResult, 1)}

	select {
	case e.cmdCh <- req:
	case <-e.doneCh:
		return nil, ErrStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case res := <-req.replyCh:
		return res.packet, res.err
	case <-e.doneCh:
		return nil, ErrStopped
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", ErrCommandCancelled, ctx.Err())
	}
}

// Bgapi issues a background command. It returns immediately with a
// client-generated Job-UUID and a channel that receives exactly one
// JobResult when the server's result packet arrives. The channel is
// never closed; callers that no longer care should simply stop
// reading it.
func (e *Engine) Bgapi(ctx context.Context, cmd, args string) (jobID string, result <-chan *JobResult, err error) {
	if ctx == nil {
		ctx = context.Background()
	}
	req := &bgapiReq{
		cmd:      cmd,
		args:     args,
		resultCh: make(chan *JobResult, 1),
		idCh:     make(chan string, 1),
		errCh:    make(chan error, 1),
	}

	select {
	case e.bgapiCh <- req:
	case <-e.doneCh:
		return "", nil, ErrStopped
	case <-ctx.Done():
		return "", nil, ctx.Err()
	}

	select {
	case id := <-req.idCh:
		return id, req.resultCh, nil
	case err := <-req.errCh:
		return "", nil, err
	case <-e.doneCh:
		return "", nil, ErrStopped
	case <-ctx.Done():
		return "", nil, ctx.Err()
	}
}

// Subscription is a live event registration returned by
// StartListening.
type Subscription struct {
	key     int
	events  chan *Packet
	engine  *Engine
	once    sync.Once
	stopped chan struct{}
}

// Events returns the channel events matching this subscription's
// predicate are delivered on.
func (s *Subscription) Events() <-chan *Packet {
	return s.events
}

// Stop removes the subscription. Idempotent.
func (s *Subscription) Stop() {
	s.once.Do(func() {
		close(s.stopped)
		s.engine.stopListening(s.key)
	})
}

// StartListening registers a new subscriber. predicate decides which
// packets are delivered; a nil predicate matches everything. bufSize
// sizes the subscriber's delivery channel; a value <= 0 uses a default
// of 64. If ctx is non-nil, the subscription is automatically stopped
// when ctx is done — the Go analogue of removing a subscriber whose
// originator has become unreachable, since there is no process to
// monitor directly.
func (e *Engine) StartListening(ctx context.Context, predicate func(*Packet) bool, bufSize int) *Subscription {
	if predicate == nil {
		predicate = func(*Packet) bool { return true }
	}
	if bufSize <= 0 {
		bufSize = 64
	}

	key := int(e.nextSubID.Add(1))
	sub := &Subscription{
		key:     key,
		events:  make(chan *Packet, bufSize),
		engine:  e,
		stopped: make(chan struct{}),
	}

	req := &subReq{
		sub: &subscriber{key: key, predicate: predicate, events: sub.events},
		ack: make(chan struct{}),
	}

	select {
	case e.subCh <- req:
		<-req.ack
	case <-e.doneCh:
	}

	if ctx != nil {
		go func() {
			select {
			case <-ctx.Done():
				sub.Stop()
			case <-sub.stopped:
			}
		}()
	}

	return sub
}

func (e *Engine) stopListening(key int) {
	select {
	case e.unsubCh <- key:
	case <-e.doneCh:
	}
}

// levelTrace mirrors config.LevelTrace without importing the config
// package here, to keep esl free of a dependency on the application's
// configuration layer. Callers that want TRACE-named output in their
// own handler should use config.LevelTrace / config.ReplaceLogLevelNames,
// which use the identical numeric value.
const levelTrace = slog.Level(-8)
