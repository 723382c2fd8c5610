package identity

import (
	"context"
	"time"
)

// ActivityEventType enumerates supported activity categories.
type ActivityEventType string

const (
	ActivityEventAccountRegistered  ActivityEventType = "account.registered"
	ActivityEventAccountActivated   ActivityEventType = "account.activated"
	ActivityEventActivationApproved ActivityEventType = "activation.approved"
	ActivityEventActivationRejected ActivityEventType = "activation.rejected"
	ActivityEventLoginSuccess       ActivityEventType = "session.login.success"
	ActivityEventLoginFailure       ActivityEventType = "session.login.failure"
	ActivityEventLoginPending       ActivityEventType = "session.login.pending"
	ActivityEventRefreshReuse       ActivityEventType = "session.refresh.reuse"
	ActivityEventLogout             ActivityEventType = "session.logout"
	ActivityEventPasswordChanged    ActivityEventType = "password.changed"
	ActivityEventPasswordReset      ActivityEventType = "password.reset.requested"
	ActivityEventReconciled         ActivityEventType = "account.reconciled"
)

// ActivityEvent captures audit-friendly information about an action.
type ActivityEvent struct {
	EventType  ActivityEventType
	Actor      ActorRef
	AccountID  string
	FromStatus ActivationStatus
	ToStatus   ActivationStatus
	Metadata   map[string]any
	OccurredAt time.Time
}

// ActivitySink consumes activity events for auditing purposes.
type ActivitySink interface {
	Record(ctx context.Context, event ActivityEvent) error
}

// ActivitySinkFunc adapts a function to the ActivitySink interface.
type ActivitySinkFunc func(ctx context.Context, event ActivityEvent) error

// Record implements ActivitySink.
func (f ActivitySinkFunc) Record(ctx context.Context, event ActivityEvent) error {
	if f == nil {
		return nil
	}
	return f(ctx, event)
}

type noopActivitySink struct{}

func (noopActivitySink) Record(context.Context, ActivityEvent) error {
	return nil
}

func normalizeActivitySink(s ActivitySink) ActivitySink {
	if s == nil {
		return noopActivitySink{}
	}
	return s
}

// activityRecorder stamps and forwards events, logging sink failures.
type activityRecorder struct {
	sink   ActivitySink
	logger Logger
	now    func() time.Time
}

func (r activityRecorder) record(ctx context.Context, event ActivityEvent) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = r.now()
	}
	if event.Actor.Type == "" {
		event.Actor = SystemActor
	}
	if err := r.sink.Record(ctx, event); err != nil {
		r.logger.Warn("activity sink error", "error", err, "event", string(event.EventType))
	}
}
