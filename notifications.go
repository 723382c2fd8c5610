package identity

import "context"

// NotificationKind names a notification template.
type NotificationKind string

const (
	NotificationRegistrationReceived NotificationKind = "registration.received"
	NotificationReviewRequired       NotificationKind = "review.required"
	NotificationAccountActivated     NotificationKind = "account.activated"
	NotificationAccountRejected      NotificationKind = "account.rejected"
)

// Notification is one message to deliver. To is empty for messages bound to
// the administrator channel.
type Notification struct {
	Kind      NotificationKind
	To        string
	AccountID string
	Data      map[string]any
}

// Notifier delivers notifications. Delivery is best-effort from the core's
// point of view: errors are logged, never surfaced.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, n Notification) error

// Notify implements Notifier.
func (f NotifierFunc) Notify(ctx context.Context, n Notification) error {
	if f == nil {
		return nil
	}
	return f(ctx, n)
}

type noopNotifier struct{}

func (noopNotifier) Notify(context.Context, Notification) error { return nil }

func normalizeNotifier(n Notifier) Notifier {
	if n == nil {
		return noopNotifier{}
	}
	return n
}

func accountNotification(kind NotificationKind, account *Account, extra map[string]any) Notification {
	data := map[string]any{
		"email":     account.Email,
		"firstName": account.FirstName,
		"lastName":  account.LastName,
		"fullName":  account.FullName(),
	}
	if account.LicenseNumber != "" {
		data["licenseNumber"] = account.LicenseNumber
	}
	for k, v := range extra {
		data[k] = v
	}

	return Notification{
		Kind:      kind,
		To:        account.Email,
		AccountID: account.ID.String(),
		Data:      data,
	}
}

func dispatch(ctx context.Context, notifier Notifier, logger Logger, notifications ...Notification) {
	for _, n := range notifications {
		if err := notifier.Notify(ctx, n); err != nil {
			logger.Warn("notification delivery failed",
				"error", err,
				"kind", string(n.Kind),
				"account_id", n.AccountID,
			)
		}
	}
}
