// Package notify relays task events to chat channels.
package notify

import (
	"context"

	"github.com/zulandar/darkroom/internal/events"
	"go.uber.org/zap"
)

// Notifier posts a formatted event to one chat destination.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, evt FormattedEvent) error
}

// Relay fans task events out to every configured Notifier.
type Relay struct {
	notifiers []Notifier
	log       *zap.Logger
}

// NewRelay creates a Relay. A nil logger disables logging.
func NewRelay(log *zap.Logger, notifiers ...Notifier) *Relay {
	if log == nil {
		log = zap.NewNop()
	}
	return &Relay{notifiers: notifiers, log: log.Named("notify")}
}

// Len returns the number of notifiers.
func (r *Relay) Len() int { return len(r.notifiers) }

// Run consumes events until the channel closes or ctx is cancelled.
func (r *Relay) Run(ctx context.Context, evts <-chan events.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-evts:
			if !ok {
				return
			}
			r.Handle(ctx, evt)
		}
	}
}

// Handle formats evt and posts it everywhere. Delivery failures are logged.
func (r *Relay) Handle(ctx context.Context, evt events.Event) {
	formatted, ok := FormatTaskEvent(evt)
	if !ok {
		return
	}
	for _, n := range r.notifiers {
		if err := n.Notify(ctx, formatted); err != nil {
			r.log.Warn("notification failed", zap.String("notifier", n.Name()),
				zap.String("task_id", evt.TaskID), zap.String("kind", string(evt.Kind)), zap.Error(err))
		}
	}
}
