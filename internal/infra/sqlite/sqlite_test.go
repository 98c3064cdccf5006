package sqlite

import (
	"context"
	"testing"
	"time"

	"syncq/internal/domain"
	"syncq/internal/queue"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestDB opens an in-memory database with the full schema.
func setupTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(context.Background(), MemoryPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

var testNow = time.Date(2026, 5, 4, 10, 30, 0, 0, time.UTC)

var homeTL = domain.Timeline{
	Type:    domain.TimelineHome,
	Account: "alice@example.social",
	Origin:  "https://example.social",
}

func TestCommandStore_SaveReplacesContent(t *testing.T) {
	ctx := context.Background()
	store := NewCommandStore(setupTestDB(t))

	a := domain.NewCommand(domain.CodeGetTimeline, homeTL, testNow)
	b := domain.NewItemCommand(domain.CodeLike, homeTL, "99", testNow.Add(time.Second))
	b.Result.PrepareForLaunch(testNow.Add(time.Minute))
	b.Result.IncrementIo("connection reset")
	b.Result.AfterExecutionEnded()

	require.NoError(t, store.Save(ctx, map[domain.QueueType][]*domain.Command{
		domain.QueueCurrent: {a},
		domain.QueueRetry:   {b},
	}))

	current, err := store.Load(ctx, domain.QueueCurrent)
	require.NoError(t, err)
	require.Len(t, current, 1)
	assert.Equal(t, a, current[0])

	retry, err := store.Load(ctx, domain.QueueRetry)
	require.NoError(t, err)
	require.Len(t, retry, 1)
	assert.Equal(t, b, retry[0])
	assert.Equal(t, domain.DefaultRetries-1, retry[0].Result.RetriesLeft)
	assert.Equal(t, "connection reset", retry[0].Result.Message)

	require.NoError(t, store.Save(ctx, map[domain.QueueType][]*domain.Command{
		domain.QueueError: {a},
	}))
	current, err = store.Load(ctx, domain.QueueCurrent)
	require.NoError(t, err)
	assert.Empty(t, current)
	errq, err := store.Load(ctx, domain.QueueError)
	require.NoError(t, err)
	assert.Len(t, errq, 1)
}

func TestCommandStore_QueueRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewCommandStore(setupTestDB(t))
	clock := func() time.Time { return testNow }

	q := queue.New(store, queue.DefaultConfig(), queue.WithClock(clock))
	require.NoError(t, q.Load(ctx))
	q.Add(domain.QueueCurrent, domain.NewCommand(domain.CodeGetTimeline, homeTL, testNow))
	q.Add(domain.QueuePre, domain.NewItemCommand(domain.CodeGetAttachment, domain.EmptyTimeline, "3", testNow))
	q.Add(domain.QueueError, domain.NewItemCommand(domain.CodeFollow, homeTL, "actor-7", testNow))
	require.NoError(t, q.Save(ctx))

	reloaded := queue.New(store, queue.DefaultConfig(), queue.WithClock(clock))
	require.NoError(t, reloaded.Load(ctx))
	assert.Equal(t, q.Snapshot(), reloaded.Snapshot())
}

func TestDataStore_SaveNotesCountsNewOnly(t *testing.T) {
	ctx := context.Background()
	data := NewDataStore(setupTestDB(t))

	author := domain.Actor{OID: "u1", Origin: homeTL.Origin, Username: "bob"}
	notes := []domain.Note{
		{OID: "n1", Origin: homeTL.Origin, Author: author, Content: "hello", CreatedAt: testNow},
		{OID: "n2", Origin: homeTL.Origin, Author: author, Content: "world", CreatedAt: testNow},
	}
	added, err := data.SaveNotes(ctx, homeTL, notes)
	require.NoError(t, err)
	assert.Equal(t, 2, added)

	notes[1].Favorited = true
	notes = append(notes, domain.Note{OID: "n3", Author: author, Content: "again"})
	added, err = data.SaveNotes(ctx, homeTL, notes)
	require.NoError(t, err)
	assert.Equal(t, 1, added)
}

func TestDataStore_TimelinePosition(t *testing.T) {
	ctx := context.Background()
	data := NewDataStore(setupTestDB(t))

	y, o, err := data.TimelinePosition(ctx, homeTL)
	require.NoError(t, err)
	assert.Empty(t, y)
	assert.Empty(t, o)

	require.NoError(t, data.SetTimelinePosition(ctx, homeTL, "200", "100"))
	require.NoError(t, data.SetTimelinePosition(ctx, homeTL, "300", "100"))
	y, o, err = data.TimelinePosition(ctx, homeTL)
	require.NoError(t, err)
	assert.Equal(t, "300", y)
	assert.Equal(t, "100", o)
}

func TestDataStore_DraftLifecycle(t *testing.T) {
	ctx := context.Background()
	data := NewDataStore(setupTestDB(t))
	acct := domain.Account{Name: "alice@example.social", Data: map[string]string{domain.AccountKeyOrigin: homeTL.Origin}}

	id, err := data.CreateDraft(ctx, acct, "first post", "")
	require.NoError(t, err)

	draft, err := data.LoadDraft(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "first post", draft.Content)
	assert.Equal(t, homeTL.Origin, draft.Origin)

	sent := domain.Note{OID: "remote-1", URL: "https://example.social/@alice/1", Author: domain.Actor{OID: "me", Origin: homeTL.Origin}, CreatedAt: testNow}
	require.NoError(t, data.MarkNoteSent(ctx, id, sent))
	n, status, err := data.LoadNote(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.NoteSent, status)
	assert.Equal(t, "remote-1", n.OID)

	require.NoError(t, data.MarkNoteDeleted(ctx, homeTL.Origin, "remote-1"))
	_, status, err = data.LoadNote(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.NoteDeleted, status)

	_, err = data.LoadDraft(ctx, 999)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDataStore_Following(t *testing.T) {
	ctx := context.Background()
	data := NewDataStore(setupTestDB(t))
	actor := domain.Actor{OID: "a1", Origin: homeTL.Origin, Username: "carol", Following: true}

	require.NoError(t, data.SetFollowing(ctx, homeTL.Account, actor))
	ok, err := data.IsFollowing(ctx, homeTL.Account, actor.Origin, actor.OID)
	require.NoError(t, err)
	assert.True(t, ok)

	actor.Following = false
	require.NoError(t, data.SetFollowing(ctx, homeTL.Account, actor))
	ok, err = data.IsFollowing(ctx, homeTL.Account, actor.Origin, actor.OID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDataStore_SaveActors(t *testing.T) {
	ctx := context.Background()
	data := NewDataStore(setupTestDB(t))
	followers := domain.Timeline{Type: domain.TimelineFollowers, Account: homeTL.Account, Origin: homeTL.Origin}
	actors := []domain.Actor{{OID: "a1", Origin: homeTL.Origin}, {OID: "a2", Origin: homeTL.Origin}}

	added, err := data.SaveActors(ctx, followers, actors)
	require.NoError(t, err)
	assert.Equal(t, 2, added)
	added, err = data.SaveActors(ctx, followers, actors)
	require.NoError(t, err)
	assert.Zero(t, added)
}

func TestDataStore_Downloads(t *testing.T) {
	ctx := context.Background()
	data := NewDataStore(setupTestDB(t))

	id, err := data.CreateDownload(ctx, "https://example.social/media/1.png")
	require.NoError(t, err)
	again, err := data.CreateDownload(ctx, "https://example.social/media/1.png")
	require.NoError(t, err)
	assert.Equal(t, id, again)

	d, err := data.LoadDownload(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.DownloadAbsent, d.Status)

	d.Status = domain.DownloadLoaded
	d.ContentType = "image/png"
	d.Path = "/tmp/1.png"
	require.NoError(t, data.SaveDownload(ctx, d))
	got, err := data.LoadDownload(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, d, got)
}

func TestDataStore_SaveOrigins(t *testing.T) {
	ctx := context.Background()
	data := NewDataStore(setupTestDB(t))
	origins := []domain.Origin{{Name: "one", URL: "https://one.example"}, {Name: "two", URL: "https://two.example"}}

	added, err := data.SaveOrigins(ctx, origins)
	require.NoError(t, err)
	assert.Equal(t, 2, added)

	origins[0].Users = 10
	added, err = data.SaveOrigins(ctx, origins)
	require.NoError(t, err)
	assert.Zero(t, added)
}
