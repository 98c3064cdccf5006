package ports

import (
	"context"
	"syncq/internal/domain"
)

// DataUpdater applies the results of remote calls to local storage.
type DataUpdater interface {
	SaveNotes(ctx context.Context, tl domain.Timeline, notes []domain.Note) (added int, err error)
	SaveActors(ctx context.Context, tl domain.Timeline, actors []domain.Actor) (added int, err error)
	SaveActor(ctx context.Context, actor domain.Actor) error
	TimelinePosition(ctx context.Context, tl domain.Timeline) (youngest, oldest string, err error)
	SetTimelinePosition(ctx context.Context, tl domain.Timeline, youngest, oldest string) error

	CreateDraft(ctx context.Context, acct domain.Account, content, inReplyTo string) (int64, error)
	LoadDraft(ctx context.Context, localID int64) (domain.Note, error)
	MarkNoteSent(ctx context.Context, localID int64, sent domain.Note) error
	MarkNoteStatus(ctx context.Context, localID int64, status domain.NoteStatus) error
	MarkNoteDeleted(ctx context.Context, origin, oid string) error
	SetNoteFlags(ctx context.Context, note domain.Note) error
	SetFollowing(ctx context.Context, account string, actor domain.Actor) error

	CreateDownload(ctx context.Context, url string) (int64, error)
	LoadDownload(ctx context.Context, id int64) (domain.Download, error)
	SaveDownload(ctx context.Context, d domain.Download) error

	SaveOrigins(ctx context.Context, origins []domain.Origin) (int, error)
}
