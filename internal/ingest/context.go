package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/yndnr/ingestmesh/internal/core/domain"
	"github.com/yndnr/ingestmesh/internal/infra/workerpool"
	"github.com/yndnr/ingestmesh/internal/protocol"
	"github.com/yndnr/ingestmesh/pkg/partkey"
)

// ContextState is a state of a context connection.
type ContextState int

const (
	AwaitingSecret ContextState = iota
	SecretSent
	AwaitingMetadata
	MetadataStored
	AwaitingCompletionSignal
	ContextClosed
)

func (s ContextState) String() string {
	switch s {
	case AwaitingSecret:
		return "awaiting_secret"
	case SecretSent:
		return "secret_sent"
	case AwaitingMetadata:
		return "awaiting_metadata"
	case MetadataStored:
		return "metadata_stored"
	case AwaitingCompletionSignal:
		return "awaiting_completion_signal"
	case ContextClosed:
		return "closed"
	default:
		return fmt.Sprintf("ContextState(%d)", int(s))
	}
}

// ContextHandler negotiates a session: it issues the master secret,
// stores metadata and handles the completion signal.
type ContextHandler struct {
	deps Deps
	cfg  Config
}

// NewContextHandler creates a context handler.
func NewContextHandler(deps Deps, cfg Config) *ContextHandler {
	deps.defaults()
	cfg.defaults()
	return &ContextHandler{deps: deps, cfg: cfg}
}

// contextConn is the per-connection state machine.
type contextConn struct {
	h      *ContextHandler
	conn   protocol.Conn
	key    domain.SessionKey
	secret []byte
	state  ContextState
	logger *slog.Logger
}

func (c *contextConn) to(s ContextState) {
	c.logger.Debug("context state", "from", c.state.String(), "to", s.String())
	c.state = s
}

// Serve runs the negotiation on conn until the peer signals completion,
// closes, or an error occurs. A nil return means the connection should
// be closed normally.
func (h *ContextHandler) Serve(ctx context.Context, conn protocol.Conn, key domain.SessionKey) error {
	c := &contextConn{
		h:      h,
		conn:   conn,
		key:    key,
		state:  AwaitingSecret,
		logger: h.deps.connLogger(ctx, "session", key.String()),
	}
	defer c.to(ContextClosed)

	secret, created, err := h.deps.Sessions.GetOrCreateSecret(ctx, key)
	if err != nil {
		return err
	}
	c.secret = secret
	if created {
		c.logger.Info("session created")
	}

	if err := conn.WriteFrame(ctx, &protocol.Frame{Channel: protocol.ChannelKey, Data: secret}); err != nil {
		return err
	}
	c.to(SecretSent)
	c.to(AwaitingMetadata)

	for {
		f, err := conn.ReadFrame(ctx)
		if err != nil {
			return err
		}

		switch f.Channel {
		case protocol.ChannelMetadata:
			if err := c.storeMetadata(ctx, f.Data); err != nil {
				return err
			}
		case protocol.ChannelSignal:
			done, err := c.signal(ctx, f)
			if err != nil || done {
				return err
			}
		default:
			c.logger.Debug("ignoring frame", "channel", f.Channel)
		}
	}
}

// storeMetadata validates, enriches and persists metadata, then echoes
// the stored document so the peer learns the partition keys.
func (c *contextConn) storeMetadata(ctx context.Context, raw []byte) error {
	var md domain.Metadata
	if err := json.Unmarshal(raw, &md); err != nil {
		return domain.ErrInvalidMetadata.WithDetails("not a JSON object").WithCause(err)
	}
	if err := md.Validate(); err != nil {
		return err
	}

	parts := md.PartCount()
	if parts > c.h.cfg.MaxParts {
		return domain.ErrInvalidMetadata.WithDetails(fmt.Sprintf("%d partitions exceeds limit %d", parts, c.h.cfg.MaxParts))
	}
	keys, err := partkey.Keys(c.secret, parts, md.PageSize)
	if err != nil {
		return domain.ErrInternal.WithDetails("derive partition keys").WithCause(err)
	}
	md.Parts = parts
	md.Key = c.key.String()
	md.Keys = keys

	if err := c.h.deps.Sessions.PutMetadata(ctx, c.key, &md); err != nil {
		return err
	}
	c.to(MetadataStored)
	c.logger.Info("metadata stored", "parts", parts, "size", md.Size, "page_size", md.PageSize)

	out, err := json.Marshal(&md)
	if err != nil {
		return domain.ErrInternal.WithCause(err)
	}
	if err := c.conn.WriteFrame(ctx, &protocol.Frame{Channel: protocol.ChannelMetadata, Data: out}); err != nil {
		return err
	}
	c.to(AwaitingCompletionSignal)
	return nil
}

// signal handles a completion signal. It returns true when the
// connection is done.
func (c *contextConn) signal(ctx context.Context, f *protocol.Frame) (bool, error) {
	s, err := protocol.DecodeSignal(f)
	if err != nil {
		return false, domain.ErrBadRequest.WithDetails("malformed signal").WithCause(err)
	}
	if !s.Complete {
		return false, nil
	}

	md, err := c.h.deps.Sessions.GetMetadata(ctx, c.key)
	if err != nil {
		return false, err
	}

	c.checkReadiness(ctx, md)

	first, err := c.h.deps.Sessions.MarkComplete(ctx, c.key)
	if err != nil {
		return false, err
	}
	if first {
		c.h.deps.Metrics.SessionCompleted()
		c.logger.Info("session complete", "parts", md.PartCount())
		if c.h.deps.OnComplete != nil {
			c.h.deps.OnComplete(ctx, c.key, md)
		}
	} else {
		c.logger.Debug("duplicate completion signal")
	}
	c.h.deps.Tracker.Forget(c.key)
	return true, nil
}

// checkReadiness logs partitions that have not passed audit on this
// server. The client decides when the upload is complete, so this never
// blocks completion.
func (c *contextConn) checkReadiness(ctx context.Context, md *domain.Metadata) {
	parts := md.PartCount()
	pages := make([]uint64, parts)
	for i := range pages {
		pages[i] = uint64(i + 1)
	}

	errs := workerpool.RunBatch(ctx, c.h.cfg.ReadinessConcurrency, pages, func(_ context.Context, page uint64) error {
		if !c.h.deps.Tracker.Accepted(c.key, page) {
			return fmt.Errorf("partition %d not accepted", page)
		}
		return nil
	})
	if missing := workerpool.Failed(pages, errs); len(missing) > 0 {
		c.logger.Warn("completion signalled before all partitions were accepted",
			"missing", missing, "parts", parts)
	}
}
