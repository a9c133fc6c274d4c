package sync

import (
	"context"
	"log/slog"
	"time"
)

// NotificationKind is one of the three independent outcome categories of a
// sync pass.
type NotificationKind string

// Notification kinds.
const (
	NotifySynced    NotificationKind = "synced"
	NotifyConflicts NotificationKind = "conflicts"
	NotifyFailed    NotificationKind = "failed"
)

// Notification reports one outcome category. Rendering is up to the
// receiver.
type Notification struct {
	Kind   NotificationKind `json:"kind"`
	Count  int              `json:"count"`
	Result SyncResult       `json:"result"`
	At     time.Time        `json:"at"`
}

// Notifier receives pass outcomes. Implementations must not block for long.
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, n Notification)

// Notify implements Notifier.
func (f NotifierFunc) Notify(ctx context.Context, n Notification) {
	f(ctx, n)
}

// MultiNotifier fans out to several notifiers in order.
type MultiNotifier []Notifier

// Notify implements Notifier.
func (m MultiNotifier) Notify(ctx context.Context, n Notification) {
	for _, notifier := range m {
		notifier.Notify(ctx, n)
	}
}

// LogNotifier writes notifications to a logger.
type LogNotifier struct {
	Logger *slog.Logger
}

// Notify implements Notifier.
func (l LogNotifier) Notify(ctx context.Context, n Notification) {
	level := slog.LevelInfo
	if n.Kind != NotifySynced {
		level = slog.LevelWarn
	}

	l.Logger.Log(ctx, level, "sync outcome",
		slog.String("kind", string(n.Kind)),
		slog.Int("count", n.Count),
	)
}

// Notifications splits a pass result into one notification per nonzero
// count, in synced, conflicts, failed order.
func Notifications(res SyncResult, at time.Time) []Notification {
	var out []Notification

	add := func(kind NotificationKind, count int) {
		if count > 0 {
			out = append(out, Notification{Kind: kind, Count: count, Result: res, At: at})
		}
	}

	add(NotifySynced, res.Success)
	add(NotifyConflicts, res.Conflicts)
	add(NotifyFailed, res.Failed)

	return out
}
