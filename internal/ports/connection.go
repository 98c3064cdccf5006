package ports

import (
	"context"
	"syncq/internal/domain"
)

// Connection performs remote operations against one origin. Failures are
// reported as *domain.ConnectionError.
type Connection interface {
	GetTimeline(ctx context.Context, tl domain.Timeline, page domain.TimelinePage) ([]domain.Note, error)
	GetActors(ctx context.Context, tl domain.Timeline, limit int) ([]domain.Actor, error)
	GetNote(ctx context.Context, oid string) (domain.Note, error)
	GetActor(ctx context.Context, oid string) (domain.Actor, error)
	UpdateNote(ctx context.Context, note domain.Note) (domain.Note, error)
	DeleteNote(ctx context.Context, oid string) error
	Like(ctx context.Context, oid string, like bool) (domain.Note, error)
	Announce(ctx context.Context, oid string, announce bool) (domain.Note, error)
	Follow(ctx context.Context, actorOID string, follow bool) (domain.Actor, error)
	RateLimitStatus(ctx context.Context) (domain.RateLimit, error)
	GetOpenInstances(ctx context.Context) ([]domain.Origin, error)
	Download(ctx context.Context, url string) ([]byte, string, error)
}

type ConnectionFactory interface {
	ForAccount(acct domain.Account) (Connection, error)
	// ForOrigin builds an unauthenticated connection; origin may be empty.
	ForOrigin(origin string) (Connection, error)
}
