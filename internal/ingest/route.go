package ingest

import (
	"strconv"
	"strings"

	"github.com/yndnr/ingestmesh/internal/core/domain"
)

// Partition actions.
const (
	ActionReplicate = "replicate"
	ActionAudit     = "audit"
)

// RouteKind tells which handler serves a route.
type RouteKind int

const (
	RouteContext RouteKind = iota
	RoutePartition
)

// String returns the metric label of the route kind.
func (k RouteKind) String() string {
	if k == RoutePartition {
		return "partition"
	}
	return "context"
}

// Route is a parsed request path.
type Route struct {
	Kind    RouteKind
	Session domain.SessionKey
	Page    uint64
	Action  string
}

// maxPathLen bounds the path accepted before parsing.
const maxPathLen = 256

// ParseRoute parses a path of the form /<session>[/<page>[/<action>]].
// Leading and trailing slashes are ignored. A second segment that is not a
// number routes to the context handler; page 0 and unknown actions are
// rejected.
func ParseRoute(path string) (Route, error) {
	if len(path) > maxPathLen {
		return Route{}, domain.ErrInvalidRequest.WithDetails("path too long")
	}

	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return Route{}, domain.ErrInvalidSessionKey.WithDetails("missing session key")
	}
	segs := strings.Split(trimmed, "/")
	if len(segs) > 3 {
		return Route{}, domain.ErrInvalidRequest.WithDetails("too many path segments")
	}

	key, err := domain.ParseSessionKey(segs[0])
	if err != nil {
		return Route{}, err
	}
	r := Route{Kind: RouteContext, Session: key}
	if len(segs) == 1 {
		return r, nil
	}

	page, err := strconv.ParseUint(segs[1], 10, 64)
	if err != nil {
		return r, nil
	}
	if page == 0 {
		return Route{}, domain.ErrBadRequest.WithDetails("partition numbers start at 1")
	}

	r.Kind = RoutePartition
	r.Page = page
	if len(segs) == 3 {
		r.Action = segs[2]
	}
	switch r.Action {
	case "", ActionReplicate:
		r.Action = ActionReplicate
	case ActionAudit:
	default:
		return Route{}, domain.ErrBadRequest.WithDetails("unknown action " + strconv.Quote(r.Action))
	}
	return r, nil
}
