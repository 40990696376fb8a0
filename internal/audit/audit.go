// Package audit records state-changing actions.  Entries are append-only:
// the log never updates or removes a record once written.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/gommon/log"

	"github.com/parkline/capacity-engine/internal/model"
	"github.com/parkline/capacity-engine/internal/store"
)

// DefaultQueryLimit caps queries that do not ask for a limit.
const DefaultQueryLimit = 100

// MaxQueryLimit is the largest limit honoured by Query.
const MaxQueryLimit = 1000

type actorKey struct{}

// Actor identifies who performed an action.
type Actor struct {
	UserID string
	ParkID string
	Role   string
}

// WithActor returns a context carrying the acting user.
func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, a)
}

// ActorFromContext returns the actor stored by WithActor.  System actions
// such as the hold sweeper run with the zero Actor.
func ActorFromContext(ctx context.Context) Actor {
	a, _ := ctx.Value(actorKey{}).(Actor)
	return a
}

// Log writes and reads audit entries.
type Log struct {
	store  store.AuditStore
	logger *log.Logger
	Now    func() time.Time
}

// NewLog returns a Log backed by s.
func NewLog(s store.AuditStore) *Log {
	return &Log{store: s, logger: log.New("audit"), Now: time.Now}
}

// Record appends an entry for action on the given entity.  The acting user
// is taken from ctx; parkID names the park that owns the entity.
//
// Record never fails the caller's operation: by the time it is called the
// state change has been committed, so a write failure is logged and
// swallowed.
func (l *Log) Record(ctx context.Context, action, entityType, entityID, parkID string, details map[string]any) {
	actor := ActorFromContext(ctx)
	userID := actor.UserID
	if userID == "" {
		userID = "system"
	}
	e := model.AuditEntry{
		ID:         uuid.NewString(),
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		UserID:     userID,
		ParkID:     parkID,
		Details:    details,
		CreatedAt:  l.Now().UTC(),
	}
	if err := l.store.AppendAudit(ctx, e); err != nil {
		l.logger.Errorf("append %s %s/%s: %v", action, entityType, entityID, err)
	}
}

// Query returns entries matching f, newest first.  Park-bound callers
// only see their own park's entries.
func (l *Log) Query(ctx context.Context, f model.AuditFilter) ([]model.AuditEntry, error) {
	if actor := ActorFromContext(ctx); f.ParkID == "" && !actor.CanAccess("") {
		f.ParkID = actor.ParkID
	}
	if err := Authorize(ctx, f.ParkID); err != nil {
		return nil, err
	}
	if f.Limit <= 0 {
		f.Limit = DefaultQueryLimit
	}
	if f.Limit > MaxQueryLimit {
		f.Limit = MaxQueryLimit
	}
	entries, err := l.store.QueryAudit(ctx, f)
	if err != nil {
		return nil, model.Internal("query audit log", err)
	}
	return entries, nil
}

// Roles carried in access tokens.  ADMIN and SERVICE act across parks;
// MANAGER and AGENT are bound to the park in their token.
const (
	RoleAdmin   = "ADMIN"
	RoleService = "SERVICE"
	RoleManager = "MANAGER"
	RoleAgent   = "AGENT"
)

// CanAccess reports whether the actor may act on resources of parkID.
// The zero Actor is the engine itself and may act anywhere.
func (a Actor) CanAccess(parkID string) bool {
	if a == (Actor{}) || a.Role == RoleAdmin || a.Role == RoleService {
		return true
	}
	return a.ParkID != "" && a.ParkID == parkID
}

// Authorize returns model.ErrForbidden when the actor in ctx may not act
// on parkID.
func Authorize(ctx context.Context, parkID string) error {
	if !ActorFromContext(ctx).CanAccess(parkID) {
		return model.ErrForbidden
	}
	return nil
}
