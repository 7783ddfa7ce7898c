package service

import (
	"context"
	"fmt"

	"pairchat/internal/metrics"
	"pairchat/pkg/store/types"

	"github.com/sirupsen/logrus"
)

// Permission is the local notification permission state.
type Permission string

const (
	PermissionGranted Permission = "granted"
	PermissionDenied  Permission = "denied"
	PermissionDefault Permission = "default"
)

// Notifier is the local notification surface provided by the host
// application. Implementations own the permission state; Notify is only
// called when permission has been granted.
type Notifier interface {
	RequestPermission(ctx context.Context) (Permission, error)
	Permission() Permission
	Notify(ctx context.Context, title, body, icon string) error
}

// FocusSource reports whether the viewing surface is currently in
// foreground focus.
type FocusSource interface {
	Focused() bool
}

// FocusFunc adapts a function to a FocusSource.
type FocusFunc func() bool

func (f FocusFunc) Focused() bool { return f() }

// NotificationGate decides, per change event, whether a local alert should
// fire. Pure decision, no log mutation.
type NotificationGate struct {
	participants *Registry
	focus        FocusSource
}

// NewNotificationGate wires the gate to the participant registry and focus
// source.
func NewNotificationGate(participants *Registry, focus FocusSource) *NotificationGate {
	return &NotificationGate{participants: participants, focus: focus}
}

// ShouldNotify reports whether the event warrants a local alert: an insert,
// from a remote participant, while the surface is not in foreground focus.
func (g *NotificationGate) ShouldNotify(event types.ChangeEvent) bool {
	if event.Kind != types.EventInsert {
		return false
	}
	if g.participants.IsLocal(event.Row.Sender) {
		return false
	}
	if g.focus != nil && g.focus.Focused() {
		return false
	}
	return true
}

// dispatchNotification fires the local alert for a gated event. Permission
// checks stay here so the gate itself remains a pure decision.
func dispatchNotification(ctx context.Context, notifier Notifier, participants *Registry, row types.MessageRow, logger *logrus.Logger) {
	if notifier == nil || notifier.Permission() != PermissionGranted {
		return
	}

	title := fmt.Sprintf("New message from %s", row.Sender)
	icon := participants.AvatarURL(row.Sender)

	if err := notifier.Notify(ctx, title, row.Message, icon); err != nil {
		logger.WithError(err).Warn("Failed to deliver local notification")
		return
	}

	metrics.IncrementCounter("notifications_emitted", nil, "Local notifications emitted")
}

// LogNotifier is a Notifier that only logs, for headless hosts and tests.
type LogNotifier struct {
	Logger    *logrus.Logger
	Permitted Permission
}

func (n *LogNotifier) RequestPermission(ctx context.Context) (Permission, error) {
	if n.Permitted == "" {
		n.Permitted = PermissionGranted
	}
	return n.Permitted, nil
}

func (n *LogNotifier) Permission() Permission {
	if n.Permitted == "" {
		return PermissionDefault
	}
	return n.Permitted
}

func (n *LogNotifier) Notify(ctx context.Context, title, body, icon string) error {
	if n.Logger != nil {
		n.Logger.WithFields(logrus.Fields{
			"title": title,
			"body":  SanitizeContent(body),
		}).Info("Local notification")
	}
	return nil
}
