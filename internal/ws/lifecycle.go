package ws

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/tri2820/backend/indexer/internal/codec"
	"github.com/tri2820/backend/indexer/internal/model"
)

const defaultRetryDelay = 5 * time.Second

// ConfigSource supplies the capabilities advertised on each connection
type ConfigSource interface {
	WorkerConfig() model.WorkerConfig
}

// Handler serves one active connection. It returns when the connection
// is no longer usable.
type Handler interface {
	Serve(ctx context.Context, conn *Conn) error
}

// Observer is notified of lifecycle transitions
type Observer interface {
	OnStateChange(from, to State)
	OnBackoff(attempt int, delay time.Duration, cause error)
}

// Options configures a Lifecycle
type Options struct {
	URL      string
	WorkerID string

	// Config builds the handshake. Nil skips registration entirely.
	Config ConfigSource

	Backoff    *Backoff
	RetryDelay time.Duration // fixed delay after non-transport failures

	MaxMessageBytes int64
	PingPeriod      time.Duration
	Dialer          *websocket.Dialer

	Observers []Observer
	Logger    *zap.SugaredLogger
}

// Lifecycle owns the worker's single connection and its state machine.
// Only Run transitions the state.
type Lifecycle struct {
	opts    Options
	handler Handler
	backoff *Backoff
	log     *zap.SugaredLogger

	state    atomic.Int32
	failures atomic.Int64

	mu            sync.Mutex
	cancelSession context.CancelFunc
	reconnect     atomic.Bool
	wake          chan struct{}
}

// NewLifecycle creates the connection lifecycle for handler
func NewLifecycle(opts Options, handler Handler) *Lifecycle {
	if opts.Backoff == nil {
		opts.Backoff = NewBackoff(time.Second, 60*time.Second, time.Second)
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = defaultRetryDelay
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}
	return &Lifecycle{
		opts:    opts,
		handler: handler,
		backoff: opts.Backoff,
		log:     opts.Logger,
		wake:    make(chan struct{}, 1),
	}
}

// State returns the current connection state
func (l *Lifecycle) State() State {
	return State(l.state.Load())
}

// Failures returns the number of consecutive failed sessions
func (l *Lifecycle) Failures() int {
	return int(l.failures.Load())
}

// Run connects and reconnects until ctx is cancelled. It never gives up on
// connection failures.
func (l *Lifecycle) Run(ctx context.Context) error {
	defer l.setState(Disconnected)

	for ctx.Err() == nil {
		err := l.session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if l.reconnect.Swap(false) {
			// operator request, not a failure
			l.log.Infof("manual reconnect requested")
			continue
		}

		delay := l.nextDelay(err)
		attempt := int(l.failures.Add(1))
		l.setState(BackingOff)
		for _, o := range l.opts.Observers {
			o.OnBackoff(attempt, delay, err)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-l.wake:
		case <-time.After(delay):
		}
	}
	return nil
}

// Reconnect drops the current connection (or cuts a pending backoff short)
// and connects again without delay.
func (l *Lifecycle) Reconnect() {
	l.reconnect.Store(true)

	l.mu.Lock()
	cancel := l.cancelSession
	l.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

func (l *Lifecycle) session(ctx context.Context) error {
	// this attempt satisfies any reconnect requested before it
	l.reconnect.Store(false)
	select {
	case <-l.wake:
	default:
	}

	l.setState(Connecting)

	header := http.Header{}
	if l.opts.WorkerID != "" {
		header.Set("X-Worker-ID", l.opts.WorkerID)
	}
	conn, err := Dial(ctx, l.opts.Dialer, l.opts.URL, header, l.opts.MaxMessageBytes, l.opts.PingPeriod)
	if err != nil {
		return err
	}

	sessionCtx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(sessionCtx, func() { conn.Close() })

	l.mu.Lock()
	l.cancelSession = cancel
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		l.cancelSession = nil
		l.mu.Unlock()
		stop()
		cancel()
		conn.Close()
	}()

	if l.opts.Config != nil {
		l.setState(Registering)
		if err := l.register(conn); err != nil {
			return err
		}
	}

	l.setState(Active)
	l.backoff.Reset()
	l.failures.Store(0)
	l.log.Infof("connected to %s", l.opts.URL)

	go conn.keepalive(sessionCtx, l.opts.PingPeriod)

	return l.handler.Serve(sessionCtx, conn)
}

// register sends the i_am_worker frame. The dispatcher does not ack it.
func (l *Lifecycle) register(conn *Conn) error {
	cfg := l.opts.Config.WorkerConfig()
	frame, err := codec.Encode(model.NewHandshake(cfg), nil)
	if err != nil {
		return err
	}
	if err := conn.WriteFrame(frame); err != nil {
		return err
	}
	l.log.Infof("registered as worker: %s", frame.Data)
	return nil
}

func (l *Lifecycle) nextDelay(err error) time.Duration {
	if err == nil || IsTransport(err) {
		delay := l.backoff.Next()
		l.log.Warnf("connection failed: %v; reconnecting in %.2fs", err, delay.Seconds())
		return delay
	}

	l.log.Errorf("unexpected error: %v; retrying in %v", err, l.opts.RetryDelay)
	return l.opts.RetryDelay
}

func (l *Lifecycle) setState(s State) {
	prev := State(l.state.Swap(int32(s)))
	if prev == s {
		return
	}
	for _, o := range l.opts.Observers {
		o.OnStateChange(prev, s)
	}
}
