package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/rickgao/pricefeed/internal/buffer"
	"github.com/rickgao/pricefeed/internal/interest"
	"github.com/rickgao/pricefeed/internal/metrics"
	"github.com/rickgao/pricefeed/internal/model"
	"github.com/rickgao/pricefeed/internal/protocol"
)

// Manager owns the single upstream connection.
type Manager interface {
	// Connect starts the connection loop. No-op unless Disconnected.
	Connect()

	// Disconnect closes the connection and stops reconnecting. It is
	// terminal until Connect is called again. Waits for the connection
	// goroutines to exit or ctx to expire.
	Disconnect(ctx context.Context) error

	// ApplyChange queues the subscribe/unsubscribe requests for an interest
	// change. Never blocks on the network. Dropped while not connected,
	// since the next connect re-sends the full set.
	ApplyChange(change interest.Change)

	// State returns the current connection state.
	State() State

	// IsConnected reports whether a session is established.
	IsConnected() bool

	// Stats returns current connection statistics.
	Stats() ManagerStats
}

// Option configures a Manager.
type Option func(*manager)

// WithClock sets the clock used for backoff timers.
func WithClock(clock clockwork.Clock) Option {
	return func(m *manager) { m.clock = clock }
}

// WithClientFactory replaces the websocket client constructor.
func WithClientFactory(f ClientFactory) Option {
	return func(m *manager) { m.newClient = f }
}

// WithStateHook registers a callback for every state transition. Hooks are
// called in transition order and must not call Connect or Disconnect.
func WithStateHook(fn func(from, to State)) Option {
	return func(m *manager) { m.hooks = append(m.hooks, fn) }
}

// WithMetrics records connection metrics.
func WithMetrics(fm *metrics.FeedMetrics) Option {
	return func(m *manager) { m.metrics = fm }
}

// request is one queued outbound frame. version is the registry version of
// the change that produced it.
type request struct {
	action  string
	symbols []model.Symbol
	version uint64
}

// session is one established connection.
type session struct {
	id     string
	client Client
	queue  *buffer.Queue[request]
	logger *slog.Logger
}

// manager implements the Manager interface.
type manager struct {
	cfg       ManagerConfig
	source    InterestSource
	handler   FrameHandler
	logger    *slog.Logger
	clock     clockwork.Clock
	newClient ClientFactory
	hooks     []func(from, to State)
	metrics   *metrics.FeedMetrics
	jitter    func(time.Duration) time.Duration

	// transMu serializes transitions so hooks observe them in order.
	// Lock order: transMu, then mu.
	transMu sync.Mutex

	mu             sync.RWMutex
	state          State
	cancel         context.CancelFunc
	done           chan struct{}
	current        *session
	connectedSince time.Time
	lastErr        string

	attempts   atomic.Int64
	failures   atomic.Int64
	sessions   atomic.Int64
	sent       atomic.Int64
	sendErrors atomic.Int64
}

// NewManager creates a new Connection Manager in the Disconnected state.
func NewManager(cfg ManagerConfig, source InterestSource, handler FrameHandler, logger *slog.Logger, opts ...Option) Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if source == nil {
		source = emptySource{}
	}
	if handler == nil {
		handler = func([]byte, time.Time) {}
	}

	m := &manager{
		cfg:       cfg,
		source:    source,
		handler:   handler,
		logger:    logger,
		clock:     clockwork.NewRealClock(),
		newClient: NewClient,
		jitter:    jitter,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

type emptySource struct{}

func (emptySource) Snapshot() ([]model.Symbol, uint64) { return nil, 0 }

// Connect starts the connection loop.
func (m *manager) Connect() {
	m.transMu.Lock()
	defer m.transMu.Unlock()

	m.mu.Lock()
	if m.state != StateDisconnected {
		m.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	m.cancel = cancel
	m.done = done
	m.state = StateConnecting
	m.mu.Unlock()

	m.notify(StateDisconnected, StateConnecting)
	go m.run(ctx, done)
}

// Disconnect closes the connection and cancels any pending reconnect.
func (m *manager) Disconnect(ctx context.Context) error {
	m.transMu.Lock()
	m.mu.Lock()
	if m.state == StateDisconnected {
		m.mu.Unlock()
		m.transMu.Unlock()
		return nil
	}
	from := m.state
	m.state = StateDisconnected
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()

	cancel()
	m.notify(from, StateDisconnected)
	m.transMu.Unlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		m.logger.Warn("disconnect timeout, connection goroutine still running")
		return ctx.Err()
	}
}

// ApplyChange queues requests for an interest change on the live session.
func (m *manager) ApplyChange(change interest.Change) {
	if change.Empty() {
		return
	}

	m.mu.RLock()
	sess := m.current
	m.mu.RUnlock()
	if sess == nil {
		return
	}

	if len(change.Removed) > 0 {
		sess.queue.Push(request{action: protocol.ActionUnsubscribe, symbols: change.Removed, version: change.Version})
	}
	if len(change.Added) > 0 {
		sess.queue.Push(request{action: protocol.ActionSubscribe, symbols: change.Added, version: change.Version})
	}
}

// State returns the current connection state.
func (m *manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// IsConnected reports whether a session is established.
func (m *manager) IsConnected() bool {
	return m.State() == StateConnected
}

// Stats returns current statistics.
func (m *manager) Stats() ManagerStats {
	m.mu.RLock()
	stats := ManagerStats{
		State:          m.state,
		ConnectedSince: m.connectedSince,
		LastError:      m.lastErr,
	}
	if m.current != nil {
		stats.SessionID = m.current.id
	}
	m.mu.RUnlock()

	stats.Attempts = m.attempts.Load()
	stats.Failures = m.failures.Load()
	stats.Sessions = m.sessions.Load()
	stats.RequestsSent = m.sent.Load()
	stats.SendErrors = m.sendErrors.Load()
	return stats
}

// run is the connection loop. Exactly one run goroutine exists per Connect,
// so at most one handshake is ever in flight.
func (m *manager) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	attempt := 0
	for {
		established := m.connectOnce(ctx, attempt)
		if ctx.Err() != nil {
			return
		}
		if established {
			attempt = 0
			m.metrics.Reconnect()
		}

		delay := m.jitter(backoffDelay(m.cfg.ReconnectBaseDelay, m.cfg.ReconnectMaxDelay, attempt))
		attempt++

		if !m.transition(ctx, StateReconnecting) {
			return
		}
		m.logger.Info("reconnecting", "attempt", attempt, "backoff", delay)

		if !m.sleep(ctx, delay) {
			return
		}
		if !m.transition(ctx, StateConnecting) {
			return
		}
	}
}

// connectOnce performs one handshake and, on success, serves the session
// until it ends. Returns true if a session was established.
func (m *manager) connectOnce(ctx context.Context, attempt int) bool {
	id := uuid.NewString()
	logger := m.logger.With("session", id)
	client := m.newClient(m.cfg.Client, logger)

	m.attempts.Add(1)
	if err := client.Connect(ctx); err != nil {
		client.Close()
		if ctx.Err() != nil {
			return false
		}
		m.failures.Add(1)
		m.metrics.ConnectAttempt(false)
		m.setLastError(err)

		if attempt == 0 {
			m.logger.Warn("connect failed", "url", m.cfg.Client.URL, "error", err)
		} else {
			m.logger.Debug("connect failed", "url", m.cfg.Client.URL, "attempt", attempt, "error", err)
		}
		return false
	}
	m.metrics.ConnectAttempt(true)

	sess := &session{
		id:     id,
		client: client,
		queue:  buffer.New[request](m.cfg.OutboundBuffer),
		logger: logger,
	}
	if !m.establish(ctx, sess) {
		client.Close()
		return false
	}

	if attempt > 0 {
		m.logger.Info("connection restored", "session", id, "attempts", attempt+1)
	} else {
		m.logger.Info("connected", "session", id, "url", m.cfg.Client.URL)
	}

	m.serve(ctx, sess)
	return true
}

// establish publishes sess as the live session and enters Connected.
func (m *manager) establish(ctx context.Context, sess *session) bool {
	m.transMu.Lock()
	defer m.transMu.Unlock()

	m.mu.Lock()
	if ctx.Err() != nil {
		m.mu.Unlock()
		return false
	}
	from := m.state
	m.state = StateConnected
	m.current = sess
	m.connectedSince = m.clock.Now()
	m.mu.Unlock()

	m.sessions.Add(1)
	m.notify(from, StateConnected)
	return true
}

// serve sends the full interest set, then pumps frames until the session ends.
//
// The session is published before the interest snapshot is taken, so every
// change committed after the snapshot is queued on this session, and every
// change at or before the snapshot version is already covered by it.
func (m *manager) serve(ctx context.Context, sess *session) {
	symbols, version := m.source.Snapshot()

	writeErr := make(chan error, 1)
	if len(symbols) > 0 {
		if err := m.send(sess, request{action: protocol.ActionSubscribe, symbols: symbols, version: version}); err != nil {
			writeErr <- err
		}
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		m.writeLoop(sess, version, writeErr)
	}()

	err := m.readLoop(ctx, sess, writeErr)

	m.mu.Lock()
	if m.current == sess {
		m.current = nil
		m.connectedSince = time.Time{}
	}
	m.mu.Unlock()

	sess.queue.Close()
	sess.client.Close()
	wg.Wait()

	if ctx.Err() == nil {
		m.setLastError(err)
		sess.logger.Warn("connection lost", "error", err)
	} else {
		sess.logger.Debug("session closed")
	}
}

// readLoop hands inbound frames to the handler until the session fails.
func (m *manager) readLoop(ctx context.Context, sess *session, writeErr <-chan error) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-writeErr:
			return fmt.Errorf("write: %w", err)

		case err := <-sess.client.Errors():
			return err

		case msg := <-sess.client.Messages():
			m.handler(msg.Data, msg.ReceivedAt)
		}
	}
}

// writeLoop drains the session queue in order, skipping deltas already
// covered by the initial subscribe.
func (m *manager) writeLoop(sess *session, snapshotVersion uint64, writeErr chan<- error) {
	for {
		req, ok := sess.queue.Pop()
		if !ok {
			return
		}
		if req.version <= snapshotVersion {
			continue
		}

		if err := m.send(sess, req); err != nil {
			if !errors.Is(err, ErrNotConnected) {
				select {
				case writeErr <- err:
				default:
				}
			}
			return
		}
	}
}

func (m *manager) send(sess *session, req request) error {
	var (
		data []byte
		err  error
	)
	if req.action == protocol.ActionUnsubscribe {
		data, err = protocol.EncodeUnsubscribe(req.symbols)
	} else {
		data, err = protocol.EncodeSubscribe(req.symbols)
	}
	if errors.Is(err, protocol.ErrNoSymbols) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("encode %s: %w", req.action, err)
	}

	if err := sess.client.Send(data); err != nil {
		m.sendErrors.Add(1)
		return err
	}

	m.sent.Add(1)
	m.metrics.RequestSent(req.action)
	sess.logger.Debug("request sent", "action", req.action, "symbols", len(req.symbols))
	return nil
}

// transition moves to state to unless the loop was cancelled.
func (m *manager) transition(ctx context.Context, to State) bool {
	m.transMu.Lock()
	defer m.transMu.Unlock()

	m.mu.Lock()
	if ctx.Err() != nil {
		m.mu.Unlock()
		return false
	}
	from := m.state
	m.state = to
	m.mu.Unlock()

	m.notify(from, to)
	return true
}

// notify must be called with transMu held.
func (m *manager) notify(from, to State) {
	if from == to {
		return
	}
	m.logger.Debug("state changed", "from", from, "to", to)
	m.metrics.SetConnectionState(int(to), to == StateConnected)
	for _, hook := range m.hooks {
		hook(from, to)
	}
}

func (m *manager) sleep(ctx context.Context, d time.Duration) bool {
	timer := m.clock.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.Chan():
		return true
	}
}

func (m *manager) setLastError(err error) {
	if err == nil {
		return
	}
	m.mu.Lock()
	m.lastErr = err.Error()
	m.mu.Unlock()
}
