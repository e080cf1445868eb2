package state

import "context"

type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// History is implemented by stores that also keep an ordered log of cycles.
type History interface {
	Append(ctx context.Context, id string, atMS int64, payload string) error
	Recent(ctx context.Context, limit int) ([]string, error)
	Prune(ctx context.Context, retain int) error
}
