package alerts

import (
	"context"

	"go.uber.org/zap"
)

// Sink is one delivery channel for alerts.
type Sink interface {
	Name() string
	Send(ctx context.Context, message string) error
}

// Notifier fans a message out to every sink. Delivery is best effort: a
// failing sink is logged and never affects the caller or the other sinks.
type Notifier struct {
	sinks []Sink
	log   *zap.Logger
}

func NewNotifier(log *zap.Logger, sinks ...Sink) *Notifier {
	if log == nil {
		log = zap.NewNop()
	}
	kept := make([]Sink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			kept = append(kept, s)
		}
	}
	return &Notifier{sinks: kept, log: log}
}

func (n *Notifier) Notify(ctx context.Context, message string) {
	if n == nil {
		return
	}
	for _, sink := range n.sinks {
		n.deliver(ctx, sink, message)
	}
}

func (n *Notifier) deliver(ctx context.Context, sink Sink, message string) {
	defer func() {
		if r := recover(); r != nil {
			n.log.Error("alert sink panicked", zap.String("sink", sink.Name()), zap.Any("panic", r))
		}
	}()
	if err := sink.Send(ctx, message); err != nil {
		n.log.Warn("alert delivery failed", zap.String("sink", sink.Name()), zap.Error(err))
	}
}

func (n *Notifier) Sinks() int {
	if n == nil {
		return 0
	}
	return len(n.sinks)
}
