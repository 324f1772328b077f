package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"ollama-chat-bridge/internal/backend"
	"ollama-chat-bridge/internal/store"
	"ollama-chat-bridge/internal/telemetry"
	"ollama-chat-bridge/internal/types"
)

const ledgerTimeout = 5 * time.Second

// ErrClosed is returned by Serve once CloseAll has been called.
var ErrClosed = errors.New("session manager closed")

// Options configures a Manager. Ledger, Logger and Metrics are optional.
type Options struct {
	Backend      backend.Client
	DefaultModel string
	Ledger       store.Ledger
	Logger       *slog.Logger
	Metrics      *telemetry.Metrics
}

// Manager owns the session registry and routes inbound frames to sessions.
type Manager struct {
	backend      backend.Client
	defaultModel string
	ledger       store.Ledger
	logger       *slog.Logger
	metrics      *telemetry.Metrics
	registry     *Registry

	mu      sync.Mutex
	closing bool
	serving sync.WaitGroup
}

func NewManager(opts Options) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		backend:      opts.Backend,
		defaultModel: opts.DefaultModel,
		ledger:       opts.Ledger,
		logger:       logger,
		metrics:      opts.Metrics,
		registry:     NewRegistry(),
	}
}

func (m *Manager) Registry() *Registry { return m.registry }

func (m *Manager) DefaultModel() string { return m.defaultModel }

// Serve runs the read loop for one client channel until the channel fails
// or closes, and returns the error that ended it. Frames are handled in
// arrival order. On return the session is unregistered, any running
// generation has stopped and the channel is closed.
func (m *Manager) Serve(ctx context.Context, conn Conn) error {
	m.mu.Lock()
	if m.closing {
		m.mu.Unlock()
		_ = conn.Close()
		return ErrClosed
	}
	// Registered under mu so CloseAll either sees this session or turns it away.
	sess, err := m.open(ctx, conn)
	if err != nil {
		m.mu.Unlock()
		_ = conn.Close()
		return err
	}
	m.serving.Add(1)
	m.mu.Unlock()
	defer m.serving.Done()
	defer m.teardown(sess)

	for {
		var frame types.InboundFrame
		if err := conn.ReadJSON(&frame); err != nil {
			return err
		}
		sess.dispatch(frame)
	}
}

// CloseAll refuses new channels, closes every live one and waits until each
// Serve call has unwound, so no generation touches the ledger afterwards.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	m.closing = true
	m.mu.Unlock()

	for _, s := range m.registry.list() {
		s.cancel()
		_ = s.conn.Close()
	}
	m.serving.Wait()
}

func (m *Manager) open(ctx context.Context, conn Conn) (*Session, error) {
	sctx, cancel := context.WithCancel(ctx)
	sess := &Session{
		ID:        uuid.NewString(),
		CreatedAt: time.Now(),
		conn:      conn,
		ctx:       sctx,
		cancel:    cancel,
		manager:   m,
	}
	sess.logger = m.logger.With("session_id", sess.ID)

	if err := m.registry.Add(sess); err != nil {
		cancel()
		return nil, err
	}
	m.metrics.SessionOpened(ctx)
	sess.logger.Info("session opened")
	return sess, nil
}

func (m *Manager) teardown(sess *Session) {
	sess.cancel()
	_ = sess.conn.Close()
	sess.wg.Wait()
	if m.registry.Remove(sess.ID) {
		m.metrics.SessionClosed(context.Background())
	}
	sess.logger.Info("session closed")
}

func (m *Manager) record(g store.Generation) {
	if m.ledger == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), ledgerTimeout)
	defer cancel()
	if err := m.ledger.Record(ctx, g); err != nil {
		m.logger.Warn("failed to record generation", "session_id", g.SessionID, "error", err)
	}
}

func (s *Session) dispatch(frame types.InboundFrame) {
	switch frame.Type {
	case types.FrameCancel:
		s.requestCancel()
	case types.FrameChat, "":
		s.startGeneration(frame)
	default:
		s.logger.Debug("unknown frame type", "type", frame.Type)
		_ = s.send(types.OutboundFrame{Type: types.FrameError, Content: "unknown frame type: " + frame.Type})
	}
}
