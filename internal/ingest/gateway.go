package ingest

import (
	"context"
	"crypto/rand"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"

	"github.com/yndnr/ingestmesh/internal/core/domain"
	"github.com/yndnr/ingestmesh/internal/protocol"
	"github.com/yndnr/ingestmesh/internal/telemetry/logger"
	"github.com/yndnr/ingestmesh/internal/telemetry/metric"
)

// Deps are the collaborators shared by the handlers.
type Deps struct {
	Sessions SessionStore
	Logs     LogStore

	// Collector receives temporary log paths once partitions finish.
	Collector Collector

	// Sink receives verified blocks. Nil runs the server as a verifying
	// relay that drops blocks after verification.
	Sink Sink

	// Tracker is shared by context and partition handlers. NewGateway
	// creates one when nil.
	Tracker *PartitionTracker

	OnComplete CompleteFunc
	Reporter   ErrorReporter
	Metrics    *metric.Registry
	Logger     *slog.Logger
}

func (d *Deps) defaults() {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Tracker == nil {
		d.Tracker = NewPartitionTracker()
	}
	if d.Collector == nil {
		d.Collector = nopCollector{}
	}
	if d.Reporter == nil {
		d.Reporter = logReporter{logger: d.Logger}
	}
}

// connLogger tags the base logger with the connection ID carried by ctx.
func (d *Deps) connLogger(ctx context.Context, args ...any) *slog.Logger {
	l := d.Logger
	if id := logger.ConnIDFromContext(ctx); id != "" {
		l = l.With(logger.ConnIDKey, id)
	}
	if len(args) > 0 {
		l = l.With(args...)
	}
	return l
}

type nopCollector struct{}

func (nopCollector) Add(string)    {}
func (nopCollector) Remove(string) {}

// Config tunes the gateway and handlers.
type Config struct {
	// PathPrefix is stripped from request paths before routing.
	PathPrefix string

	// MaxPayload limits a single incoming message.
	MaxPayload int64

	// CloseGrace delays the close of an accepted partition in relay mode
	// so in-flight acknowledgements reach the peer.
	CloseGrace time.Duration

	// MaxParts bounds the partitions a session may declare.
	MaxParts int

	// ReadinessConcurrency bounds the completion readiness batch.
	ReadinessConcurrency int
}

// DefaultConfig returns the defaults used for zero fields.
func DefaultConfig() Config {
	return Config{
		PathPrefix:           "/",
		MaxPayload:           9 << 20,
		CloseGrace:           250 * time.Millisecond,
		MaxParts:             65536,
		ReadinessConcurrency: 8,
	}
}

func (c *Config) defaults() {
	d := DefaultConfig()
	if c.PathPrefix == "" {
		c.PathPrefix = d.PathPrefix
	}
	if c.MaxPayload <= 0 {
		c.MaxPayload = d.MaxPayload
	}
	if c.CloseGrace < 0 {
		c.CloseGrace = 0
	}
	if c.MaxParts <= 0 {
		c.MaxParts = d.MaxParts
	}
	if c.ReadinessConcurrency <= 0 {
		c.ReadinessConcurrency = d.ReadinessConcurrency
	}
}

// Gateway routes connections to the context or partition handler and
// turns handler errors into close codes.
type Gateway struct {
	deps Deps
	cfg  Config

	contexts   *ContextHandler
	partitions *PartitionHandler
	upgrader   websocket.Upgrader

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewGateway creates a gateway. Sessions and Logs are required.
func NewGateway(deps Deps, cfg Config) *Gateway {
	deps.defaults()
	cfg.defaults()

	ctx, cancel := context.WithCancel(context.Background())
	return &Gateway{
		deps:       deps,
		cfg:        cfg,
		contexts:   NewContextHandler(deps, cfg),
		partitions: NewPartitionHandler(deps, cfg),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  32 << 10,
			WriteBufferSize: 32 << 10,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		ctx:    ctx,
		cancel: cancel,
	}
}

// Tracker returns the partition tracker shared by the handlers.
func (g *Gateway) Tracker() *PartitionTracker {
	return g.deps.Tracker
}

func newConnID() string {
	entropy := ulid.Monotonic(rand.Reader, 0)
	id, err := ulid.New(ulid.Timestamp(time.Now()), entropy)
	if err != nil {
		return ""
	}
	return id.String()
}

// Handle serves one connection routed by path and closes it. The returned
// error is the one the connection was closed for; a peer that goes away
// or a gateway shutdown returns nil.
func (g *Gateway) Handle(ctx context.Context, conn protocol.Conn, path string) error {
	g.wg.Add(1)
	defer g.wg.Done()

	if logger.ConnIDFromContext(ctx) == "" {
		ctx = logger.WithConnID(ctx, newConnID())
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(g.ctx, cancel)
	defer stop()

	log := g.deps.connLogger(ctx, "remote", conn.RemoteAddr())

	route, err := ParseRoute(path)
	if err != nil {
		g.deps.Metrics.ConnectionRejected("invalid_route")
		log.Info("rejecting connection", "path", path, "error", err)
		g.closeWith(conn, err)
		return err
	}

	g.deps.Metrics.ConnectionOpened(route.Kind.String())
	defer g.deps.Metrics.ConnectionClosed()

	log.Debug("connection routed",
		"kind", route.Kind.String(),
		"session", route.Session.String(),
		"page", route.Page,
		"action", route.Action)

	switch route.Kind {
	case RoutePartition:
		err = g.partitions.Serve(ctx, conn, route)
	default:
		err = g.contexts.Serve(ctx, conn, route.Session)
	}
	return g.finish(ctx, conn, route, err, log)
}

func (g *Gateway) finish(ctx context.Context, conn protocol.Conn, route Route, err error, log *slog.Logger) error {
	switch {
	case err == nil:
		conn.Close(protocol.CodeNormal, "")
		return nil
	case g.ctx.Err() != nil:
		conn.Close(protocol.CodeGoingAway, "server shutting down")
		return nil
	case protocol.IsClosed(err), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		log.Debug("peer went away", "error", err)
		conn.Close(protocol.CodeNormal, "")
		return nil
	}

	reason := domain.CloseReasonFor(err)
	conn.Close(protocol.CodeFor(reason.Kind), reason.Reason)

	if domain.IsEscalated(err) {
		g.deps.Reporter.Report(ctx, route, err)
	} else {
		log.Info("connection closed",
			"close", reason.Kind.String(),
			"code", domain.CodeOf(err),
			"error", err)
	}
	return err
}

func (g *Gateway) closeWith(conn protocol.Conn, err error) {
	reason := domain.CloseReasonFor(err)
	conn.Close(protocol.CodeFor(reason.Kind), reason.Reason)
}

// ServeHTTP upgrades the request to a WebSocket and handles it. The
// connection ID is returned in the X-Request-ID header; a request ID
// already attached to the request context is reused.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := logger.ConnIDFromContext(r.Context())
	if id == "" {
		id = newConnID()
	}
	hdr := http.Header{}
	hdr.Set("X-Request-ID", id)

	ws, err := g.upgrader.Upgrade(w, r, hdr)
	if err != nil {
		g.deps.Metrics.ConnectionRejected("upgrade")
		g.deps.Logger.Debug("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	path := strings.TrimPrefix(r.URL.Path, strings.TrimSuffix(g.cfg.PathPrefix, "/"))
	ctx := logger.WithConnID(r.Context(), id)
	_ = g.Handle(ctx, protocol.NewWebSocketConn(ws, g.cfg.MaxPayload), path)
}

// Close cancels all connections and waits for their handlers to return
// or for ctx to end.
func (g *Gateway) Close(ctx context.Context) error {
	g.cancel()

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
