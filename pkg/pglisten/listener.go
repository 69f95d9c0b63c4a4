// Package pglisten owns the single long-lived LISTEN connection to Postgres
// and surfaces incoming NOTIFY events as a restartable stream. Connection
// failures are never fatal: the listener degrades, waits a fixed delay, and
// reconnects, indefinitely.
package pglisten

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"

	"github.com/illmade-knight/go-change-relay/pkg/bridge"
)

// State enumerates the lifecycle of the listening connection.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateListening
	StateDegraded
)

// String returns the state name for logs and stats snapshots.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateListening:
		return "listening"
	case StateDegraded:
		return "degraded"
	default:
		return "unknown"
	}
}

// Conn is the subset of a pgx connection the listener uses. It exists so the
// reconnect state machine can be exercised against a fake connection.
type Conn interface {
	Exec(ctx context.Context, sql string) error
	WaitForNotification(ctx context.Context) (*pgconn.Notification, error)
	Close(ctx context.Context) error
}

// DialFunc opens a Conn. The default dials with pgx.Connect.
type DialFunc func(ctx context.Context, connString string) (Conn, error)

type pgxConn struct {
	conn *pgx.Conn
}

func (c *pgxConn) Exec(ctx context.Context, sql string) error {
	_, err := c.conn.Exec(ctx, sql)
	return err
}

func (c *pgxConn) WaitForNotification(ctx context.Context) (*pgconn.Notification, error) {
	return c.conn.WaitForNotification(ctx)
}

func (c *pgxConn) Close(ctx context.Context) error {
	return c.conn.Close(ctx)
}

func pgxDial(ctx context.Context, connString string) (Conn, error) {
	conn, err := pgx.Connect(ctx, connString)
	if err != nil {
		return nil, err
	}
	return &pgxConn{conn: conn}, nil
}

// Listener implements bridge.NotificationConsumer for a Postgres
// LISTEN/NOTIFY source. At most one underlying connection exists at any time;
// a failed connection is fully closed before the next attempt dials.
type Listener struct {
	cfg    *Config
	dial   DialFunc
	logger zerolog.Logger

	outputChan chan bridge.Notification
	doneChan   chan struct{}
	closeOnce  sync.Once
	state      atomic.Int32

	mu      sync.Mutex
	cancel  context.CancelFunc
	started bool
	stopped bool
}

// NewListener creates a new Listener. It does not connect until Start is
// called.
func NewListener(cfg *Config, logger zerolog.Logger) (*Listener, error) {
	if cfg.ConnString == "" {
		return nil, fmt.Errorf("postgres connection string is required")
	}
	if len(cfg.Channels) == 0 {
		return nil, fmt.Errorf("at least one notification channel is required")
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}
	return &Listener{
		cfg:        cfg,
		dial:       pgxDial,
		logger:     logger.With().Str("component", "PgListener").Logger(),
		outputChan: make(chan bridge.Notification, 256),
		doneChan:   make(chan struct{}),
	}, nil
}

// Messages returns the read-only channel of raw notifications.
func (l *Listener) Messages() <-chan bridge.Notification {
	return l.outputChan
}

// Done returns a channel that is closed when the listener has fully stopped.
func (l *Listener) Done() <-chan struct{} {
	return l.doneChan
}

// State reports the current connection state.
func (l *Listener) State() State {
	return State(l.state.Load())
}

// Start launches the listen/reconnect supervisor. It is idempotent: calling
// it while the listener is already connecting or listening is a no-op, and a
// stopped listener stays stopped.
func (l *Listener) Start(ctx context.Context) error {
	l.mu.Lock()
	if l.started || l.stopped {
		l.mu.Unlock()
		return nil
	}
	l.started = true
	runCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.mu.Unlock()

	l.state.Store(int32(StateConnecting))
	go l.run(runCtx)
	return nil
}

// Stop cancels any in-flight connection attempt or pending reconnect and
// releases the underlying connection. Safe to call from any state,
// repeatedly; already-joined client subscriptions are untouched, they belong
// to the transport layer.
func (l *Listener) Stop(ctx context.Context) error {
	l.mu.Lock()
	l.stopped = true
	cancel := l.cancel
	started := l.started
	l.mu.Unlock()

	if !started {
		l.shutdown()
		return nil
	}

	cancel()
	select {
	case <-l.doneChan:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run is the supervisor loop: one connection attempt at a time, one pending
// reconnect timer at most. It exits only on shutdown.
func (l *Listener) run(ctx context.Context) {
	defer l.shutdown()
	for {
		err := l.listenOnce(ctx)
		if ctx.Err() != nil {
			return
		}

		l.state.Store(int32(StateDegraded))
		l.logger.Error().Err(err).Dur("retry_in", l.cfg.ReconnectDelay).Msg("Listen connection failed, scheduling reconnect.")

		select {
		case <-time.After(l.cfg.ReconnectDelay):
		case <-ctx.Done():
			return
		}
		l.state.Store(int32(StateConnecting))
	}
}

// listenOnce dials, registers every channel and then blocks draining
// notifications until the connection errors or ctx is cancelled. The
// connection is always closed before returning, so a reconnect attempt never
// overlaps a live connection.
func (l *Listener) listenOnce(ctx context.Context) error {
	conn, err := l.dial(ctx, l.cfg.ConnString)
	if err != nil {
		return fmt.Errorf("failed to connect to change source: %w", err)
	}
	defer func() {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer closeCancel()
		_ = conn.Close(closeCtx)
	}()

	for _, channel := range l.cfg.Channels {
		// Partial registration is a failed attempt, not a partial success.
		if err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{channel}.Sanitize()); err != nil {
			return fmt.Errorf("failed to LISTEN on channel %q: %w", channel, err)
		}
	}

	l.state.Store(int32(StateListening))
	l.logger.Info().Strs("channels", l.cfg.Channels).Msg("Listening for change notifications.")

	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			return fmt.Errorf("wait for notification: %w", err)
		}
		notification := bridge.Notification{
			Channel:    n.Channel,
			Payload:    n.Payload,
			ReceivedAt: time.Now().UTC(),
		}
		select {
		case l.outputChan <- notification:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// shutdown moves the listener to its terminal state and closes its channels.
func (l *Listener) shutdown() {
	l.state.Store(int32(StateDisconnected))
	l.closeOnce.Do(func() {
		close(l.outputChan)
		close(l.doneChan)
		l.logger.Info().Msg("Listener stopped.")
	})
}
