package app

import (
	"context"
	"time"

	"mmbot/internal/alerts"
)

// maybeHeartbeat sends the status digest when the heartbeat schedule has
// come due. It is checked once at the start of every cycle, so a digest can
// be late by up to one cycle.
func (a *App) maybeHeartbeat(ctx context.Context) {
	if a.heartbeat == nil {
		return
	}
	now := a.now()
	a.mu.Lock()
	next := a.nextHeartbeat
	if next.IsZero() {
		a.nextHeartbeat = a.heartbeat.Next(now)
		a.mu.Unlock()
		return
	}
	if now.Before(next) {
		a.mu.Unlock()
		return
	}
	a.nextHeartbeat = a.heartbeat.Next(now)
	digest := a.stats
	a.mu.Unlock()
	a.notifier.Notify(ctx, alerts.Heartbeat(digest))
}

func (a *App) setNextHeartbeat(t time.Time) {
	a.mu.Lock()
	a.nextHeartbeat = t
	a.mu.Unlock()
}

// Digest returns cycle counters and the last observed quote.
func (a *App) Digest() alerts.Digest {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stats
}
