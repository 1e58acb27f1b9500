// Package session implements the participant's session lifecycle: microphone
// acquisition, token fetch, the real-time session, the duration timer and
// the completion/redirect policy.
//
// All state lives on one loop goroutine (Run). Asynchronous work runs in
// goroutines that post results back to the loop tagged with the attempt
// that started them; results for a superseded attempt are discarded.
package session

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Default controller settings.
const (
	DefaultConnectionType = "websocket"
	DefaultCloseTimeout   = 5 * time.Second
	tickInterval          = time.Second
)

// Config holds controller dependencies and settings.
type Config struct {
	Microphone Microphone
	Tokens     TokenSource
	Client     Client

	Policy         Policy
	ConnectionType string
	CloseTimeout   time.Duration

	// Optional.
	Clock     Clock
	Observer  Observer
	Navigator Navigator
	Logger    *slog.Logger
}

// Controller owns one participant's session state.
type Controller struct {
	mic       Microphone
	tokens    TokenSource
	client    Client
	policy    Policy
	connType  string
	closeWait time.Duration
	clock     Clock
	observer  Observer
	navigator Navigator
	logger    *slog.Logger

	events    chan func()
	quit      chan struct{}
	done      chan struct{}
	quitOnce  sync.Once
	running   atomic.Bool
	published atomic.Pointer[Snapshot]

	// Loop-owned state below.
	runCtx        context.Context
	state         State
	attempt       uint64
	sessionID     string
	transcript    []TranscriptLine
	startedAt     time.Time
	elapsed       int
	completed     bool
	errMsg        string
	redirectURL   string
	handle        MicHandle
	ticker        Ticker
	redirect      Timer
	redirectSeq   uint64
	cancelAttempt context.CancelFunc
	clientAttempt uint64
	ending        bool
}

// New creates a controller. Call Run to start its loop.
func New(cfg Config) *Controller {
	if cfg.Clock == nil {
		cfg.Clock = SystemClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.ConnectionType == "" {
		cfg.ConnectionType = DefaultConnectionType
	}
	if cfg.CloseTimeout <= 0 {
		cfg.CloseTimeout = DefaultCloseTimeout
	}
	if cfg.Observer == nil {
		cfg.Observer = ObserverFunc(func(Snapshot) {})
	}
	if cfg.Navigator == nil {
		cfg.Navigator = NavigatorFunc(func(context.Context, string) {})
	}

	c := &Controller{
		mic:       cfg.Microphone,
		tokens:    cfg.Tokens,
		client:    cfg.Client,
		policy:    cfg.Policy,
		connType:  cfg.ConnectionType,
		closeWait: cfg.CloseTimeout,
		clock:     cfg.Clock,
		observer:  cfg.Observer,
		navigator: cfg.Navigator,
		logger:    cfg.Logger,
		events:    make(chan func()),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
		runCtx:    context.Background(),
	}
	c.published.Store(&Snapshot{State: StateDisconnected, Transcript: []TranscriptLine{}})
	return c
}

// Run processes commands and events until ctx is done or Close is called.
// It performs teardown before returning.
func (c *Controller) Run(ctx context.Context) {
	if !c.running.CompareAndSwap(false, true) {
		return
	}
	defer close(c.done)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	c.runCtx = runCtx

	c.logger.Debug("session loop started")
	for {
		var tickC <-chan time.Time
		if c.ticker != nil {
			tickC = c.ticker.C()
		}

		select {
		case fn := <-c.events:
			fn()
		case <-tickC:
			c.onTick()
		case <-c.quit:
			c.teardown()
			return
		case <-ctx.Done():
			// Sink events raised by teardown's close must not block on this loop.
			c.quitOnce.Do(func() { close(c.quit) })
			c.teardown()
			return
		}
	}
}

// Close tears the controller down: the ticker stops, the microphone is
// released and a pending redirect is cancelled. It waits for the loop to
// exit and is safe to call more than once.
func (c *Controller) Close() {
	c.quitOnce.Do(func() { close(c.quit) })
	if c.running.Load() {
		<-c.done
	}
}

// Done is closed when the loop has exited.
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

// Snapshot returns the most recently published state.
func (c *Controller) Snapshot() Snapshot {
	return *c.published.Load()
}

// Start begins a new attempt. It returns once the attempt is accepted;
// acquisition, token fetch and session open continue in the background and
// failures surface in the snapshot's Error.
func (c *Controller) Start(ctx context.Context) error {
	reply := make(chan error, 1)
	if err := c.post(ctx, func() { reply <- c.handleStart() }); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrClosed
	}
}

// End closes the session and applies the completion policy. Elapsed time is
// measured when End is received, not when the close finishes.
func (c *Controller) End(ctx context.Context) (Outcome, error) {
	type result struct {
		outcome Outcome
		err     error
	}
	reply := make(chan result, 1)
	err := c.post(ctx, func() {
		c.handleEnd(func(o Outcome, err error) { reply <- result{o, err} })
	})
	if err != nil {
		return Outcome{}, err
	}
	select {
	case r := <-reply:
		return r.outcome, r.err
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	case <-c.done:
		return Outcome{}, ErrClosed
	}
}

// post hands fn to the loop. The queue is unbuffered so a nil return means
// fn will run.
func (c *Controller) post(ctx context.Context, fn func()) error {
	select {
	case <-c.quit:
		return ErrClosed
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case c.events <- fn:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.quit:
		return ErrClosed
	case <-c.done:
		return ErrClosed
	}
}

// postAsync is post for background goroutines. It reports whether fn was
// queued.
func (c *Controller) postAsync(fn func()) bool {
	return c.post(context.Background(), fn) == nil
}

func (c *Controller) current(attempt uint64) bool {
	return attempt == c.attempt
}

func (c *Controller) handleStart() error {
	if c.state != StateDisconnected {
		return &InvalidTransitionError{Op: "start", From: c.state}
	}
	if c.ending {
		return &InvalidTransitionError{Op: "start before close completes", From: c.state}
	}

	c.cancelRedirect()
	c.stopTicker()
	c.releaseMic("restart")

	c.attempt++
	c.sessionID = uuid.NewString()
	c.transcript = nil
	c.elapsed = 0
	c.completed = false
	c.errMsg = ""
	c.redirectURL = ""
	c.startedAt = time.Time{}
	c.state = StateConnecting

	ctx, cancel := context.WithCancel(c.runCtx)
	c.cancelAttempt = cancel

	attempt := c.attempt
	c.logger.Info("session starting", "session_id", c.sessionID, "attempt", attempt)
	c.publish()

	go c.acquire(ctx, attempt)
	return nil
}

func (c *Controller) acquire(ctx context.Context, attempt uint64) {
	h, err := c.mic.Acquire(ctx)
	if !c.postAsync(func() { c.onMicAcquired(ctx, attempt, h, err) }) && h != nil {
		_ = h.Release()
	}
}

func (c *Controller) onMicAcquired(ctx context.Context, attempt uint64, h MicHandle, err error) {
	if !c.current(attempt) || c.state != StateConnecting || c.ending {
		if h != nil {
			if relErr := h.Release(); relErr != nil {
				c.logger.Warn("release stale microphone failed", "attempt", attempt, "error", relErr)
			}
		}
		c.logger.Debug("discarding stale microphone result", "attempt", attempt)
		return
	}
	if err != nil {
		c.failStart(&PermissionError{Cause: err})
		return
	}

	c.handle = h
	c.publish()

	go func() {
		tok, err := c.tokens.Token(ctx)
		c.postAsync(func() { c.onToken(ctx, attempt, tok, err) })
	}()
}

func (c *Controller) onToken(ctx context.Context, attempt uint64, tok string, err error) {
	if !c.current(attempt) || c.state != StateConnecting || c.ending {
		c.logger.Debug("discarding stale token result", "attempt", attempt)
		return
	}
	if err != nil {
		c.failStart(&StartError{Stage: "token", Cause: err})
		return
	}

	req := Request{
		Token:          tok,
		ConnectionType: c.connType,
		Audio:          c.handle.Frames(),
	}
	sink := &attemptSink{c: c, attempt: attempt}
	c.clientAttempt = attempt

	go func() {
		err := c.client.StartSession(ctx, req, sink)
		c.postAsync(func() { c.onOpened(attempt, err) })
	}()
}

func (c *Controller) onOpened(attempt uint64, err error) {
	if !c.current(attempt) || c.state == StateDisconnected {
		if err == nil && c.clientAttempt == attempt {
			// Opened after the attempt was abandoned; nothing newer owns the client.
			go c.closeClient(attempt)
		}
		c.logger.Debug("discarding stale session open", "attempt", attempt, "error", err)
		return
	}
	if err != nil {
		c.failStart(&StartError{Stage: "open", Cause: err})
		return
	}
	c.logger.Debug("session open returned", "session_id", c.sessionID)
}

func (c *Controller) failStart(err error) {
	c.logger.Error("session start failed", "session_id", c.sessionID, "error", err)
	c.endAttempt()
	c.errMsg = StartFailedMessage
	c.publish()
}

// endAttempt stops the ticker, releases the microphone and cancels in-flight
// work. State becomes Disconnected.
func (c *Controller) endAttempt() {
	c.stopTicker()
	c.releaseMic("end")
	if c.cancelAttempt != nil {
		c.cancelAttempt()
		c.cancelAttempt = nil
	}
	c.state = StateDisconnected
}

func (c *Controller) onConnected(attempt uint64) {
	if !c.current(attempt) || c.state != StateConnecting || c.ending {
		return
	}
	c.state = StateConnected
	c.startedAt = c.clock.Now()
	c.elapsed = 0
	c.ticker = c.clock.NewTicker(tickInterval)
	c.logger.Info("session connected", "session_id", c.sessionID)
	c.publish()
}

func (c *Controller) onMessage(attempt uint64, m Message) {
	if !c.current(attempt) || !c.state.Active() {
		return
	}
	if m.Text == "" {
		return
	}
	c.transcript = append(c.transcript, TranscriptLine{Speaker: m.Source, Text: m.Text})
	c.publish()
}

func (c *Controller) onDisconnected(attempt uint64) {
	if !c.current(attempt) || c.state == StateDisconnected {
		return
	}
	c.logger.Info("session disconnected", "session_id", c.sessionID)
	c.endAttempt()
	c.publish()
}

func (c *Controller) onFailed(attempt uint64, err error) {
	if !c.current(attempt) || c.state == StateDisconnected {
		return
	}
	c.logger.Error("session error", "error", &SessionError{SessionID: c.sessionID, Cause: err})
	c.endAttempt()
	c.publish()
}

// onTick recomputes elapsed from the connect time rather than counting ticks.
func (c *Controller) onTick() {
	if c.state != StateConnected {
		return
	}
	elapsed := elapsedSeconds(c.startedAt, c.clock.Now())
	if elapsed != c.elapsed {
		c.elapsed = elapsed
		c.publish()
	}
}

func (c *Controller) handleEnd(reply func(Outcome, error)) {
	if c.state == StateDisconnected || c.ending {
		reply(Outcome{}, ErrNoActiveSession)
		return
	}

	if c.state == StateConnected {
		c.elapsed = elapsedSeconds(c.startedAt, c.clock.Now())
	}
	elapsed := c.elapsed
	attempt := c.attempt

	c.logger.Info("session ending", "session_id", c.sessionID, "elapsed_seconds", elapsed)
	c.endAttempt()
	c.ending = true
	c.publish()

	go func() {
		err := c.closeClient(attempt)
		queued := c.postAsync(func() {
			c.ending = false
			if err != nil {
				c.logger.Warn("session close failed", "attempt", attempt, "error", err)
			}
			reply(c.applyOutcome(elapsed), nil)
		})
		if !queued {
			reply(Outcome{}, ErrClosed)
		}
	}()
}

func (c *Controller) closeClient(attempt uint64) error {
	ctx, cancel := context.WithTimeout(context.Background(), c.closeWait)
	defer cancel()
	err := c.client.EndSession(ctx)
	if err != nil {
		c.logger.Debug("end session returned error", "attempt", attempt, "error", err)
	}
	return err
}

func (c *Controller) applyOutcome(elapsed int) Outcome {
	outcome := c.policy.Evaluate(elapsed)
	c.elapsed = outcome.ElapsedSeconds
	if outcome.Completed {
		c.completed = true
		c.errMsg = ""
		c.redirectURL = outcome.RedirectURL
		c.scheduleRedirect(outcome.RedirectURL)
		c.logger.Info("session completed", "session_id", c.sessionID, "elapsed_seconds", elapsed)
	} else {
		c.completed = false
		c.errMsg = outcome.Message
		c.logger.Info("session ended early", "session_id", c.sessionID, "elapsed_seconds", elapsed)
	}
	c.publish()
	return outcome
}

func (c *Controller) scheduleRedirect(url string) {
	c.cancelRedirect()
	c.redirectSeq++
	seq := c.redirectSeq
	c.redirect = c.clock.AfterFunc(c.policy.RedirectDelay, func() {
		c.postAsync(func() { c.fireRedirect(seq, url) })
	})
}

func (c *Controller) fireRedirect(seq uint64, url string) {
	if c.redirect == nil || seq != c.redirectSeq {
		return
	}
	c.redirect = nil
	c.logger.Info("redirecting to survey", "url", url)
	c.navigator.Redirect(c.runCtx, url)
}

func (c *Controller) cancelRedirect() {
	if c.redirect != nil {
		c.redirect.Stop()
		c.redirect = nil
	}
}

func (c *Controller) stopTicker() {
	if c.ticker != nil {
		c.ticker.Stop()
		c.ticker = nil
	}
}

func (c *Controller) releaseMic(reason string) {
	if c.handle == nil {
		return
	}
	if err := c.handle.Release(); err != nil {
		c.logger.Warn("microphone release failed", "reason", reason, "error", err)
	}
	c.handle = nil
}

func (c *Controller) teardown() {
	active := c.state.Active()
	c.stopTicker()
	c.releaseMic("teardown")
	c.cancelRedirect()
	if c.cancelAttempt != nil {
		c.cancelAttempt()
		c.cancelAttempt = nil
	}
	if active {
		_ = c.closeClient(c.attempt)
	}
	c.publish()
	c.logger.Debug("session loop stopped")
}

func (c *Controller) publish() {
	transcript := make([]TranscriptLine, len(c.transcript))
	copy(transcript, c.transcript)

	snap := &Snapshot{
		State:          c.state,
		Attempt:        c.attempt,
		SessionID:      c.sessionID,
		Transcript:     transcript,
		ElapsedSeconds: c.elapsed,
		Completed:      c.completed,
		Error:          c.errMsg,
		MicActive:      c.handle != nil,
		UpdatedAt:      c.clock.Now(),
	}
	if c.redirect != nil {
		snap.RedirectURL = c.redirectURL
	}
	c.published.Store(snap)
	c.observer.StateChanged(*snap)
}

func elapsedSeconds(start, now time.Time) int {
	if start.IsZero() || now.Before(start) {
		return 0
	}
	return int(now.Sub(start) / time.Second)
}

// attemptSink stamps client events with the attempt that opened the session.
type attemptSink struct {
	c       *Controller
	attempt uint64
}

func (s *attemptSink) Connected() {
	s.c.postAsync(func() { s.c.onConnected(s.attempt) })
}

func (s *attemptSink) Message(m Message) {
	s.c.postAsync(func() { s.c.onMessage(s.attempt, m) })
}

func (s *attemptSink) Disconnected() {
	s.c.postAsync(func() { s.c.onDisconnected(s.attempt) })
}

func (s *attemptSink) Failed(err error) {
	s.c.postAsync(func() { s.c.onFailed(s.attempt, err) })
}
