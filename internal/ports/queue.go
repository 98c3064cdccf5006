package ports

import (
	"context"
	"syncq/internal/domain"
)

// QueueStore persists the sub-queues of the command queue.
type QueueStore interface {
	// Load returns the commands stored for one sub-queue.
	Load(ctx context.Context, qt domain.QueueType) ([]*domain.Command, error)
	// Save clears the store and writes the whole snapshot.
	Save(ctx context.Context, snapshot map[domain.QueueType][]*domain.Command) error
	Close() error
}

// AccountStore has the semantics of a per-account key/value bag.
type AccountStore interface {
	Get(name string) (domain.Account, bool)
	List() []domain.Account
	Set(name, key, value string) error
	Remove(name string) error
}
