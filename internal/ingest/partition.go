package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/yndnr/ingestmesh/internal/core/domain"
	"github.com/yndnr/ingestmesh/internal/protocol"
	"github.com/yndnr/ingestmesh/internal/telemetry/metric"
	"github.com/yndnr/ingestmesh/internal/vlog"
	"github.com/yndnr/ingestmesh/pkg/partkey"
)

// PartitionState is a state of a partition connection.
type PartitionState int

const (
	DerivingIdentity PartitionState = iota
	Replicating
	Syncing
	Auditing
	Accepted
	Rejected
	CollectingScheduled
)

func (s PartitionState) String() string {
	switch s {
	case DerivingIdentity:
		return "deriving_identity"
	case Replicating:
		return "replicating"
	case Syncing:
		return "syncing"
	case Auditing:
		return "auditing"
	case Accepted:
		return "accepted"
	case Rejected:
		return "rejected"
	case CollectingScheduled:
		return "collecting_scheduled"
	default:
		return fmt.Sprintf("PartitionState(%d)", int(s))
	}
}

// PartitionHandler replicates one partition's verified log from the peer,
// writes verified blocks through to the sink and audits the result.
type PartitionHandler struct {
	deps Deps
	cfg  Config
}

// NewPartitionHandler creates a partition handler.
func NewPartitionHandler(deps Deps, cfg Config) *PartitionHandler {
	deps.defaults()
	cfg.defaults()
	return &PartitionHandler{deps: deps, cfg: cfg}
}

type partitionConn struct {
	h     *PartitionHandler
	conn  protocol.Conn
	route Route
	md    *domain.Metadata
	part  domain.Partition

	// size bounds the partition's bytes; sized is false when the upload
	// size is unknown and only pageSize applies.
	size  int64
	sized bool
	// short is set once a block under bufferSize was appended. Only the
	// last block of a partition may be short.
	short bool

	log     Log
	path    string
	closed  bool
	state   PartitionState
	outcome string
	logger  *slog.Logger
}

func (p *partitionConn) to(s PartitionState) {
	p.logger.Debug("partition state", "from", p.state.String(), "to", s.String())
	p.state = s
}

// Serve runs the partition protocol for route on conn.
func (h *PartitionHandler) Serve(ctx context.Context, conn protocol.Conn, route Route) error {
	p := &partitionConn{
		h:       h,
		conn:    conn,
		route:   route,
		state:   DerivingIdentity,
		outcome: metric.OutcomeAborted,
		logger: h.deps.connLogger(ctx,
			"session", route.Session.String(),
			"page", route.Page),
	}
	defer p.release()

	if err := p.open(ctx); err != nil {
		return err
	}

	if route.Action == ActionAudit {
		if p.log.Length() == 0 {
			p.schedule()
			return domain.ErrBadRequest.WithDetails("partition has no blocks to audit")
		}
		if err := p.flushRetained(ctx); err != nil {
			return err
		}
		return p.audit(ctx, 0)
	}
	return p.replicate(ctx)
}

// open loads the session, derives the partition identity and opens its log.
func (p *partitionConn) open(ctx context.Context) error {
	sessions := p.h.deps.Sessions
	key := p.route.Session

	secret, err := sessions.GetSecret(ctx, key)
	if err != nil {
		return err
	}
	md, err := sessions.GetMetadata(ctx, key)
	if err != nil {
		return err
	}
	if err := md.Validate(); err != nil {
		return err
	}
	if parts := md.PartCount(); p.route.Page > uint64(parts) {
		return domain.ErrBadRequest.WithDetails(
			fmt.Sprintf("partition %d out of range, session has %d", p.route.Page, parts))
	}
	p.md = md
	p.part = domain.Partition{Session: key, Page: p.route.Page}
	p.size, p.sized = p.part.Size(md)

	id, err := partkey.Derive(secret, p.route.Page, md.PageSize)
	if err != nil {
		return domain.ErrInternal.WithDetails("derive partition identity").WithCause(err)
	}

	// A partition that comes back must not be collected under it. Remove
	// returns only after a sweep already deleting the path is done, so
	// the log is opened on a fresh directory.
	p.path = p.h.deps.Logs.Path(id)
	p.h.deps.Collector.Remove(p.path)

	log, err := p.h.deps.Logs.Open(id)
	if err != nil {
		return domain.ErrInternal.WithDetails("open partition log").WithCause(err)
	}
	p.log = log
	p.short = log.ByteLength() < log.Length()*uint64(md.BufferSize)

	p.logger.Debug("partition log opened",
		"path", p.path,
		"length", log.Length(),
		"byte_length", log.ByteLength())
	return nil
}

// flushRetained hands blocks held by an aborted attempt to the sink.
func (p *partitionConn) flushRetained(ctx context.Context) error {
	held := p.log.Retained()
	if len(held) == 0 {
		return nil
	}
	p.logger.Info("flushing retained blocks", "retained", len(held))
	for _, i := range held {
		data, err := p.log.Get(i)
		if err != nil {
			return domain.ErrInternal.WithDetails(fmt.Sprintf("read retained block %d", i)).WithCause(err)
		}
		if err := p.writeThrough(ctx, i, data); err != nil {
			return err
		}
	}
	return nil
}

func (p *partitionConn) replicate(ctx context.Context) error {
	p.to(Replicating)

	if err := p.flushRetained(ctx); err != nil {
		return err
	}

	have := &protocol.Frame{
		Channel:    protocol.ChannelHave,
		Length:     p.log.Length(),
		ByteLength: p.log.ByteLength(),
	}
	if err := p.conn.WriteFrame(ctx, have); err != nil {
		return err
	}

	for {
		f, err := p.conn.ReadFrame(ctx)
		if err != nil {
			return err
		}

		switch f.Channel {
		case protocol.ChannelBlock:
			if err := p.block(ctx, f); err != nil {
				return err
			}
		case protocol.ChannelSync:
			p.to(Syncing)
			if f.Length != p.log.Length() {
				return domain.ErrBadRequest.WithDetails(
					fmt.Sprintf("sync at length %d, server has %d", f.Length, p.log.Length()))
			}
			return p.audit(ctx, f.ByteLength)
		default:
			p.logger.Debug("ignoring frame", "channel", f.Channel)
		}
	}
}

// block verifies one block, writes it through and acknowledges it.
func (p *partitionConn) block(ctx context.Context, f *protocol.Frame) error {
	size := int64(len(f.Data))
	if size > p.md.BufferSize {
		return domain.ErrBadRequest.WithDetails(
			fmt.Sprintf("block %d is %d bytes, bufferSize is %d", f.Index, size, p.md.BufferSize))
	}
	if p.short {
		return domain.ErrBadRequest.WithDetails(
			fmt.Sprintf("block %d follows a short block", f.Index))
	}
	end := int64(p.log.ByteLength()) + size
	if end > p.size {
		return domain.ErrBadRequest.WithDetails(
			fmt.Sprintf("block %d overflows partition size %d", f.Index, p.size))
	}
	if size < p.md.BufferSize && p.sized && end != p.size {
		return domain.ErrBadRequest.WithDetails(
			fmt.Sprintf("block %d is short but not the last of the partition", f.Index))
	}

	if err := p.log.Append(f.Index, f.Data, f.Signature); err != nil {
		switch {
		case errors.Is(err, vlog.ErrVerification):
			return p.reject(domain.ErrBlockVerification.WithDetails(fmt.Sprintf("block %d", f.Index)).WithCause(err))
		case errors.Is(err, vlog.ErrOutOfOrder):
			return domain.ErrBadRequest.WithDetails(
				fmt.Sprintf("expected block %d, got %d", p.log.Length(), f.Index))
		default:
			return domain.ErrInternal.WithDetails("append block").WithCause(err)
		}
	}
	p.h.deps.Metrics.BlockVerified()
	if size < p.md.BufferSize {
		p.short = true
	}

	if err := p.writeThrough(ctx, f.Index, f.Data); err != nil {
		return err
	}

	return p.conn.WriteFrame(ctx, &protocol.Frame{
		Channel:    protocol.ChannelAck,
		Index:      f.Index,
		Length:     p.log.Length(),
		ByteLength: p.log.ByteLength(),
	})
}

// writeThrough hands a verified block to the sink and evicts it from the
// log once the sink accepted it. A failed write leaves the block held.
func (p *partitionConn) writeThrough(ctx context.Context, index uint64, data []byte) error {
	if sink := p.h.deps.Sink; sink != nil {
		off := p.part.BlockOffset(index, p.md)
		if err := sink.Write(ctx, p.route.Session, off, data, p.md); err != nil {
			p.h.deps.Metrics.SinkError()
			p.logger.Warn("sink write failed", "index", index, "offset", off, "error", err)
			return domain.ErrSinkWrite.WithDetails(fmt.Sprintf("block %d at offset %d", index, off)).WithCause(err)
		}
		p.h.deps.Metrics.BlockWritten(len(data))
	}

	if err := p.log.Evict(index); err != nil {
		return domain.ErrInternal.WithDetails(fmt.Sprintf("evict block %d", index)).WithCause(err)
	}
	return nil
}

// audit checks the whole log. wantBytes is the byte length the peer
// announced; zero skips the comparison.
func (p *partitionConn) audit(ctx context.Context, wantBytes uint64) error {
	p.to(Auditing)

	report, err := p.log.Audit()
	if err != nil {
		return domain.ErrInternal.WithDetails("audit").WithCause(err)
	}
	if !report.OK() {
		return p.reject(domain.ErrAuditFailed.WithDetails(
			fmt.Sprintf("%d of %d blocks invalid", len(report.Invalid), p.log.Length())))
	}
	if wantBytes != 0 && wantBytes != p.log.ByteLength() {
		return p.reject(domain.ErrAuditFailed.WithDetails(
			fmt.Sprintf("peer announced %d bytes, log holds %d", wantBytes, p.log.ByteLength())))
	}
	// An incomplete partition is kept for the peer to resume.
	if p.sized && int64(p.log.ByteLength()) < p.size {
		return domain.ErrBadRequest.WithDetails(
			fmt.Sprintf("partition incomplete, %d of %d bytes", p.log.ByteLength(), p.size))
	}

	p.to(Accepted)
	p.outcome = metric.OutcomeAccepted
	p.h.deps.Tracker.Accept(p.route.Session, p.route.Page)
	p.logger.Info("partition accepted", "blocks", report.Valid, "bytes", p.log.ByteLength())
	p.schedule()

	if p.h.deps.Sink == nil && p.h.cfg.CloseGrace > 0 {
		t := time.NewTimer(p.h.cfg.CloseGrace)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
		}
	}
	return nil
}

// reject ends the partition and schedules its storage so corrupted data
// does not linger.
func (p *partitionConn) reject(err error) error {
	p.to(Rejected)
	p.outcome = metric.OutcomeRejected
	p.logger.Warn("partition rejected", "error", err)
	p.schedule()
	return err
}

// schedule closes the log and hands its storage to the collector.
func (p *partitionConn) schedule() {
	p.closeLog()
	p.h.deps.Collector.Add(p.path)
	p.to(CollectingScheduled)
}

func (p *partitionConn) closeLog() {
	if p.log == nil || p.closed {
		return
	}
	p.closed = true
	if err := p.log.Close(); err != nil {
		p.logger.Warn("close partition log", "error", err)
	}
}

func (p *partitionConn) release() {
	p.closeLog()
	if p.log != nil {
		p.h.deps.Metrics.PartitionFinished(p.outcome)
	}
}
