// Package relay bridges a client connection to the upstream real-time API.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/ashureev/voice-relay/internal/domain"
	"github.com/ashureev/voice-relay/internal/framelog"
	"github.com/ashureev/voice-relay/internal/identity"
	"github.com/ashureev/voice-relay/internal/realtime"
)

// Peer is one side of a relayed session.
type Peer interface {
	Send(ctx context.Context, f realtime.Frame) error
	Receive(ctx context.Context) iter.Seq2[realtime.Frame, error]
	Close() error
}

// DialFunc opens the upstream side of a session.
type DialFunc func(ctx context.Context) (Peer, error)

// Gateway loads and stores the context of a session.
type Gateway interface {
	FetchContext(ctx context.Context, userID string) (*domain.SessionContext, error)
	PersistSessionResult(ctx context.Context, userID string, result domain.SessionResult) error
}

// closeStatusSetter is implemented by peers that can choose their close code.
type closeStatusSetter interface {
	SetCloseStatus(code websocket.StatusCode, reason string)
}

// State is the lifecycle phase of a session.
type State int

// Session states.
const (
	StateAwaitingStart State = iota
	StateFetchingContext
	StateBridging
	StateFinalizing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateAwaitingStart:
		return "awaiting_start"
	case StateFetchingContext:
		return "fetching_context"
	case StateBridging:
		return "bridging"
	case StateFinalizing:
		return "finalizing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// SessionConfig controls a single session.
type SessionConfig struct {
	Realtime     realtime.SessionConfig
	StoreTimeout time.Duration
	// NoticeTimeout bounds writes of relay notices once the session is ending.
	NoticeTimeout time.Duration
}

var (
	errClientClosed    = errors.New("client closed")
	errUpstreamClosed  = errors.New("upstream closed")
	errSessionComplete = errors.New("session complete")
)

// Session relays one client connection. Run drives it; Close may be called
// from any goroutine.
type Session struct {
	id        string
	client    Peer
	dial      DialFunc
	gateway   Gateway
	cfg       SessionConfig
	logger    *slog.Logger
	metrics   *Metrics
	frames    framelog.Logger
	startedAt time.Time

	mu         sync.Mutex
	state      State
	userID     string
	transcript string
	upstream   Peer
	outcome    string
	notified   bool
}

// SessionDeps groups the collaborators of a session.
type SessionDeps struct {
	Dial    DialFunc
	Gateway Gateway
	Logger  *slog.Logger
	Metrics *Metrics
	Frames  framelog.Logger
}

// NewSession creates a session for client. userID is the identity resolved
// from the connection and may be overridden by the start command.
func NewSession(id, userID string, client Peer, deps SessionDeps, cfg SessionConfig) *Session {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	frames := deps.Frames
	if frames == nil {
		frames = framelog.Nop{}
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 10 * time.Second
	}
	if cfg.NoticeTimeout <= 0 {
		cfg.NoticeTimeout = 5 * time.Second
	}

	return &Session{
		id:        id,
		client:    client,
		dial:      deps.Dial,
		gateway:   deps.Gateway,
		cfg:       cfg,
		logger:    logger.With("session_id", id),
		metrics:   deps.Metrics,
		frames:    frames,
		startedAt: time.Now(),
		state:     StateAwaitingStart,
		userID:    userID,
	}
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// Info is a point-in-time view of a session.
type Info struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	State     string    `json:"state"`
	StartedAt time.Time `json:"started_at"`
}

// Info returns a snapshot of the session.
func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Info{ID: s.id, UserID: s.userID, State: s.state.String(), StartedAt: s.startedAt}
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Run drives the session until both connections are closed.
func (s *Session) Run(ctx context.Context) {
	s.metrics.sessionOpened()
	defer s.finish()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Relay session panic", "panic", r, "stack", string(debug.Stack()))
			_ = s.fail(ctx, realtime.CodeInternal, fmt.Errorf("relay session panic: %v", r))
		}
	}()

	upstream, err := s.awaitStart(ctx)
	if err != nil {
		_ = s.fail(ctx, realtime.ErrorCode(err), err)
		return
	}
	if upstream == nil {
		s.setOutcome(OutcomeClientClosed)
		return
	}

	s.bridge(ctx, upstream)
}

// Close closes both connections and moves the session to StateClosed.
func (s *Session) Close() error {
	s.mu.Lock()
	s.state = StateClosed
	upstream := s.upstream
	s.mu.Unlock()

	err := s.client.Close()
	if upstream != nil {
		err = multierr.Append(err, upstream.Close())
	}
	return err
}

// Shutdown closes the session with a going-away status.
func (s *Session) Shutdown() error {
	s.setOutcome(OutcomeShutdown)

	s.mu.Lock()
	upstream := s.upstream
	s.mu.Unlock()

	for _, p := range []Peer{s.client, upstream} {
		if cs, ok := p.(closeStatusSetter); ok {
			cs.SetCloseStatus(websocket.StatusGoingAway, "relay shutting down")
		}
	}
	return s.Close()
}

// awaitStart reads client frames until a start command succeeds. It returns
// a nil Peer when the client leaves before starting.
func (s *Session) awaitStart(ctx context.Context) (Peer, error) {
	for f, err := range s.client.Receive(ctx) {
		if err != nil {
			return nil, err
		}
		s.observe(DirClientToRelay, f, "")

		cmd, ok, err := realtime.ParseStartCommand(f)
		if err != nil {
			return nil, err
		}
		if !ok {
			if !realtime.WellFormed(f) {
				return nil, fmt.Errorf("%w: malformed frame before start", domain.ErrProtocol)
			}
			s.metrics.dropped(DirClientToRelay, "not_started")
			s.reject(ctx, realtime.CodeSessionNotStarted)
			continue
		}

		upstream, err := s.start(ctx, cmd)
		if err == nil {
			return upstream, nil
		}
		if !errors.Is(err, domain.ErrUserNotFound) {
			return nil, err
		}

		s.logger.Info("Start rejected, awaiting another start", "error", err)
		s.setState(StateAwaitingStart)
		s.reject(ctx, realtime.CodeUserNotFound)
	}
	return nil, nil
}

// start fetches the context, opens the upstream and sends the context to it.
func (s *Session) start(ctx context.Context, cmd realtime.StartCommand) (Peer, error) {
	s.mu.Lock()
	if s.state != StateAwaitingStart {
		s.mu.Unlock()
		return nil, domain.ErrSessionStarted
	}
	s.state = StateFetchingContext
	userID := s.userID
	if cmd.UserID != "" {
		userID = cmd.UserID
	}
	s.mu.Unlock()

	if cmd.UserID != "" && !identity.ValidUserID(cmd.UserID) {
		return nil, fmt.Errorf("%w: invalid user id in start command", domain.ErrProtocol)
	}

	if userID == "" {
		return nil, fmt.Errorf("no user id for session: %w", domain.ErrUserNotFound)
	}

	logger := s.logger.With("user_id", userID)
	logger.Info("Starting relay session")

	sc, err := s.gateway.FetchContext(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", domain.ErrContextUnavailable, err)
	}
	if cmd.Transcript != "" {
		sc.Transcript = cmd.Transcript
	}

	payload, err := json.Marshal(sc)
	if err != nil {
		return nil, fmt.Errorf("encode session context: %w", err)
	}

	began := time.Now()
	upstream, err := s.dial(ctx)
	if err != nil {
		return nil, err
	}
	s.metrics.upstreamConnected(time.Since(began))

	contextFrame := realtime.Text(payload)
	if err := upstream.Send(ctx, contextFrame); err != nil {
		_ = upstream.Close()
		return nil, fmt.Errorf("send session context: %w", err)
	}
	s.observe(DirRelayToUpstream, contextFrame, "session.context")

	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		_ = upstream.Close()
		return nil, fmt.Errorf("start session: %w", domain.ErrConnClosed)
	}
	s.state = StateBridging
	s.userID = userID
	s.transcript = sc.Transcript
	s.upstream = upstream
	s.mu.Unlock()

	logger.Info("Relay session bridging",
		"recent_sessions", len(sc.RecentSessions),
		"relationships", len(sc.Relationships),
	)
	return upstream, nil
}

// bridge relays frames both ways until either side ends.
func (s *Session) bridge(ctx context.Context, upstream Peer) {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(s.guard(gctx, func(ctx context.Context) error { return s.pumpClient(ctx, upstream) }))
	g.Go(s.guard(gctx, func(ctx context.Context) error { return s.pumpUpstream(ctx, upstream) }))

	err := g.Wait()
	if err != nil && !errors.Is(err, errClientClosed) && !errors.Is(err, errUpstreamClosed) && !errors.Is(err, errSessionComplete) {
		s.logger.Warn("Relay bridge ended with error", "error", err)
	}
}

// guard runs one pump and closes both connections when it returns. errgroup
// does not propagate panics, so a panicking pump is recovered here.
func (s *Session) guard(ctx context.Context, pump func(context.Context) error) func() error {
	return func() (err error) {
		defer func() { _ = s.Close() }()
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("Relay pump panic", "panic", r, "stack", string(debug.Stack()))
				err = s.fail(ctx, realtime.CodeInternal, fmt.Errorf("relay pump panic: %v", r))
			}
		}()
		return pump(ctx)
	}
}

// stop records why a pump ended. The outcome is set before guard closes the
// connections so the pump that observed the end labels the session.
func (s *Session) stop(outcome string, err error) error {
	s.setOutcome(outcome)
	return err
}

// fail ends the session on an error. Unless the session is already closed,
// the client gets one error notice and a non-normal close status.
func (s *Session) fail(ctx context.Context, code string, err error) error {
	s.setOutcome(OutcomeFailed)
	if s.State() == StateClosed {
		return err
	}

	s.logger.Warn("Relay session failed", "code", code, "error", err)
	s.notifyTerminal(ctx, realtime.ErrorNotice(code, realtime.Message(code)))
	if cs, ok := s.client.(closeStatusSetter); ok {
		cs.SetCloseStatus(websocket.StatusInternalError, code)
	}
	return err
}

func (s *Session) pumpClient(ctx context.Context, upstream Peer) error {
	for f, err := range s.client.Receive(ctx) {
		if err != nil {
			return s.fail(ctx, realtime.CodeConnection, err)
		}

		switch st := s.State(); {
		case st == StateClosed:
			return errClientClosed
		case st != StateBridging:
			s.metrics.dropped(DirClientToUpstream, "finalizing")
			continue
		}

		if realtime.IsStartCommand(f) {
			s.metrics.dropped(DirClientToUpstream, "already_started")
			s.reject(ctx, realtime.CodeSessionStarted)
			continue
		}
		if !realtime.WellFormed(f) {
			s.logger.Warn("Dropping malformed client frame", "size", len(f.Data))
			s.metrics.dropped(DirClientToUpstream, "malformed")
			continue
		}

		if err := upstream.Send(ctx, f); err != nil {
			return s.fail(ctx, realtime.CodeConnection, err)
		}
		s.observe(DirClientToUpstream, f, "")
	}
	if s.State() == StateFinalizing {
		return errClientClosed
	}
	return s.stop(OutcomeClientClosed, errClientClosed)
}

func (s *Session) pumpUpstream(ctx context.Context, upstream Peer) error {
	for f, err := range upstream.Receive(ctx) {
		if err != nil {
			return s.fail(ctx, realtime.CodeConnection, err)
		}
		if s.State() == StateClosed {
			return errUpstreamClosed
		}

		ev := realtime.Classify(f)
		switch ev.Class {
		case realtime.ClassMalformed:
			s.logger.Warn("Dropping malformed upstream frame", "size", len(f.Data))
			s.metrics.dropped(DirUpstreamToClient, "malformed")
			continue
		case realtime.ClassCompletion:
			s.observe(DirUpstreamToRelay, f, ev.Class.String())
			s.finalize(ctx, f, ev)
			return errSessionComplete
		}

		if ev.Type == realtime.EventError {
			s.logger.Warn("Upstream reported error", "event", ev)
		}

		if err := s.client.Send(ctx, f); err != nil {
			return s.fail(ctx, realtime.CodeConnection, err)
		}
		s.observe(DirUpstreamToClient, f, ev.Type)

		if ev.Class == realtime.ClassSessionCreated {
			update, err := realtime.SessionUpdate(s.cfg.Realtime)
			if err != nil {
				return s.fail(ctx, realtime.CodeInternal, fmt.Errorf("build session update: %w", err))
			}
			if err := upstream.Send(ctx, update); err != nil {
				return s.fail(ctx, realtime.CodeConnection, err)
			}
			s.observe(DirRelayToUpstream, update, realtime.EventSessionUpdate)
			s.logger.Debug("Session configuration sent")
		}
	}
	return s.stop(OutcomeUpstreamClosed, errUpstreamClosed)
}

// finalize persists the completion and notifies the client. Only the first
// completion of a session is persisted.
func (s *Session) finalize(ctx context.Context, f realtime.Frame, ev realtime.Event) {
	s.mu.Lock()
	if s.state != StateBridging {
		s.mu.Unlock()
		return
	}
	s.state = StateFinalizing
	userID, transcript := s.userID, s.transcript
	s.mu.Unlock()

	c := ev.Completion()
	if c.Transcript != "" {
		transcript = c.Transcript
	}
	result := domain.SessionResult{
		SessionID:            s.id,
		Summary:              c.Summary,
		Transcript:           transcript,
		UpdatedProfile:       c.UpdatedProfile,
		UpdatedRelationships: c.UpdatedRelationships,
	}

	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.StoreTimeout)
	defer cancel()

	if err := s.gateway.PersistSessionResult(pctx, userID, result); err != nil {
		s.logger.Error("Failed to persist session result", "user_id", userID, "error", err)
		s.setOutcome(OutcomePersistenceFailed)
		s.notifyTerminal(ctx, realtime.ErrorNotice(realtime.CodePersistenceFailed, realtime.Message(realtime.CodePersistenceFailed)))
		return
	}

	s.logger.Info("Session complete", "user_id", userID)
	s.setOutcome(OutcomeCompleted)
	s.notifyTerminal(ctx, realtime.CompleteNotice(f.Data))
}

// reject sends a non-terminal error notice to the client.
func (s *Session) reject(ctx context.Context, code string) {
	notice := realtime.ErrorNotice(code, realtime.Message(code))
	if err := s.client.Send(ctx, notice); err != nil {
		s.logger.Debug("Failed to send notice", "code", code, "error", err)
		return
	}
	s.observe(DirRelayToClient, notice, code)
}

// notifyTerminal sends the final notice of the session. At most one is sent.
func (s *Session) notifyTerminal(ctx context.Context, notice realtime.Frame) {
	s.mu.Lock()
	if s.notified {
		s.mu.Unlock()
		return
	}
	s.notified = true
	s.mu.Unlock()

	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.NoticeTimeout)
	defer cancel()
	if err := s.client.Send(nctx, notice); err != nil {
		s.logger.Debug("Failed to send final notice", "error", err)
		return
	}
	s.observe(DirRelayToClient, notice, "")
}

func (s *Session) finish() {
	_ = s.Close()

	s.mu.Lock()
	outcome, userID := s.outcome, s.userID
	s.mu.Unlock()
	if outcome == "" {
		outcome = OutcomeClientClosed
	}

	s.metrics.sessionClosed(outcome)
	s.frames.Forget(s.id)
	s.logger.Info("Relay session ended",
		"user_id", userID,
		"outcome", outcome,
		"duration", time.Since(s.startedAt),
	)
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateClosed {
		s.state = st
	}
}

// setOutcome records the first outcome reported for the session.
func (s *Session) setOutcome(outcome string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.outcome == "" {
		s.outcome = outcome
	}
}

func (s *Session) observe(direction string, f realtime.Frame, eventType string) {
	s.metrics.frame(direction, f.Kind())

	s.mu.Lock()
	userID := s.userID
	s.mu.Unlock()

	s.frames.Log(framelog.Event{
		UserID:    userID,
		SessionID: s.id,
		Direction: direction,
		Kind:      f.Kind(),
		EventType: eventType,
		Size:      len(f.Data),
	})
}
