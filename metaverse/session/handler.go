package session

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/wricardo/metaverse-presence/metaverse/grid"
	"github.com/wricardo/metaverse-presence/metaverse/presence"
	"github.com/wricardo/metaverse-presence/metaverse/room"
	"github.com/wricardo/metaverse-presence/metaverse/space"
)

// Default timeouts for external calls made while handling a session.
const (
	DefaultLookupTimeout  = 5 * time.Second
	DefaultPublishTimeout = 2 * time.Second
)

// TokenVerifier returns the user id carried by a valid token.
type TokenVerifier interface {
	Verify(token string) (string, error)
}

// Config wires a Handler. Directory, Verifier and Spaces are required.
type Config struct {
	Directory *room.Directory
	Verifier  TokenVerifier
	Spaces    space.Lookup

	// Sink receives join/leave events. Nil disables publishing.
	Sink presence.Sink
	// Rand picks spawn points. Must be safe for concurrent use.
	Rand grid.Rand

	// LookupTimeout bounds the space lookup on join. Zero uses
	// DefaultLookupTimeout; a negative value disables the bound.
	LookupTimeout  time.Duration
	PublishTimeout time.Duration

	Logger *zap.Logger
}

// Counters are cumulative handler statistics.
type Counters struct {
	Sessions      int64 `json:"sessions"`
	Joins         int64 `json:"joins"`
	JoinFailures  int64 `json:"join_failures"`
	MovesAccepted int64 `json:"moves_accepted"`
	MovesRejected int64 `json:"moves_rejected"`
}

// Handler holds what every session shares.
type Handler struct {
	directory      *room.Directory
	verifier       TokenVerifier
	spaces         space.Lookup
	sink           presence.Sink
	rand           grid.Rand
	lookupTimeout  time.Duration
	publishTimeout time.Duration
	logger         *zap.Logger

	sessions      atomic.Int64
	joins         atomic.Int64
	joinFailures  atomic.Int64
	movesAccepted atomic.Int64
	movesRejected atomic.Int64
}

// NewHandler validates cfg and applies defaults.
func NewHandler(cfg Config) (*Handler, error) {
	if cfg.Directory == nil {
		return nil, errors.New("session: directory is required")
	}
	if cfg.Verifier == nil {
		return nil, errors.New("session: token verifier is required")
	}
	if cfg.Spaces == nil {
		return nil, errors.New("session: space lookup is required")
	}

	h := &Handler{
		directory:      cfg.Directory,
		verifier:       cfg.Verifier,
		spaces:         cfg.Spaces,
		sink:           cfg.Sink,
		rand:           cfg.Rand,
		lookupTimeout:  cfg.LookupTimeout,
		publishTimeout: cfg.PublishTimeout,
		logger:         cfg.Logger,
	}
	if h.rand == nil {
		h.rand = globalRand{}
	}
	if h.lookupTimeout == 0 {
		h.lookupTimeout = DefaultLookupTimeout
	}
	if h.publishTimeout <= 0 {
		h.publishTimeout = DefaultPublishTimeout
	}
	if h.logger == nil {
		h.logger = zap.NewNop()
	}
	return h, nil
}

// NewSession binds a new Unjoined session to conn. Cancelling ctx aborts any
// in-flight space lookup, as does Close.
func (h *Handler) NewSession(ctx context.Context, conn *Connection) *Session {
	sctx, cancel := context.WithCancel(ctx)
	h.sessions.Add(1)
	return &Session{
		h:      h,
		conn:   conn,
		ctx:    sctx,
		cancel: cancel,
		logger: h.logger.With(zap.String("connection_id", conn.ID())),
	}
}

// Counters returns a snapshot of the handler statistics.
func (h *Handler) Counters() Counters {
	return Counters{
		Sessions:      h.sessions.Load(),
		Joins:         h.joins.Load(),
		JoinFailures:  h.joinFailures.Load(),
		MovesAccepted: h.movesAccepted.Load(),
		MovesRejected: h.movesRejected.Load(),
	}
}

// Directory returns the room directory sessions register in.
func (h *Handler) Directory() *room.Directory { return h.directory }

func (h *Handler) publish(logger *zap.Logger, ev presence.Event) {
	if h.sink == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), h.publishTimeout)
	defer cancel()
	if err := h.sink.Publish(ctx, ev); err != nil {
		logger.Warn("presence publish failed", zap.String("kind", string(ev.Kind)), zap.Error(err))
	}
}

type globalRand struct{}

func (globalRand) IntN(n int) int { return rand.IntN(n) }
