package executor

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strconv"

	"syncq/internal/domain"
)

func (e *Executor) registerDefaults() {
	e.Register(domain.CodeGetNote, HandlerFunc(getNote))
	e.Register(domain.CodeGetActor, HandlerFunc(getActor))
	e.Register(domain.CodeUpdateNote, HandlerFunc(updateNote))
	e.Register(domain.CodeDeleteNote, HandlerFunc(deleteNote))
	e.Register(domain.CodeLike, noteFlag(true, false))
	e.Register(domain.CodeUndoLike, noteFlag(false, false))
	e.Register(domain.CodeAnnounce, noteFlag(true, true))
	e.Register(domain.CodeUndoAnnounce, noteFlag(false, true))
	e.Register(domain.CodeFollow, follow(true))
	e.Register(domain.CodeUndoFollow, follow(false))
	e.Register(domain.CodeRateLimitStatus, HandlerFunc(rateLimitStatus))
	e.Register(domain.CodeGetAttachment, HandlerFunc(e.download))
	e.Register(domain.CodeGetAvatar, HandlerFunc(e.download))
	e.Register(domain.CodeGetOpenInstances, HandlerFunc(getOpenInstances))
}

func requireItem(cmd *domain.Command) error {
	if cmd.ItemID == "" {
		return domain.NewConnectionError(domain.KindParse, 0, fmt.Errorf("%s without item id", cmd.Code))
	}
	return nil
}

// withActor fills the actor of the timeline from the account when it is missing.
func withActor(tl domain.Timeline, acct domain.Account) domain.Timeline {
	if tl.ActorID == "" {
		tl.ActorID = acct.ActorID()
	}
	if tl.Origin == "" {
		tl.Origin = acct.Origin()
	}
	return tl
}

// getTimeline fetches notes newer than the stored youngest position, or older
// than the stored oldest one for get_older_timeline.
func getTimeline(ctx context.Context, ex *Execution) error {
	cmd := ex.Command
	tl := withActor(cmd.Timeline, ex.Account)
	if !tl.IsSyncable() {
		return domain.NewConnectionError(domain.KindNotSupported, 0, fmt.Errorf("timeline %s cannot be synced", tl))
	}

	youngest, oldest, err := ex.Data.TimelinePosition(ctx, cmd.Timeline)
	if err != nil {
		return err
	}
	older := cmd.Code == domain.CodeGetOlderTimeline
	page := domain.TimelinePage{Limit: ex.exec.opts.PageLimit}
	if older {
		page.Until = oldest
	} else {
		page.Since = youngest
	}

	ex.Progress("loading %s", tl)
	notes, err := ex.Conn.GetTimeline(ctx, tl, page)
	if err != nil {
		return err
	}
	added, err := ex.Data.SaveNotes(ctx, cmd.Timeline, notes)
	if err != nil {
		return err
	}
	cmd.Result.DownloadedCount = len(notes)
	cmd.Result.NewCount = added
	ex.scheduleMedia(ctx, notes...)

	if len(notes) > 0 {
		// notes come newest first
		if !older || youngest == "" {
			youngest = notes[0].OID
		}
		if older || oldest == "" {
			oldest = notes[len(notes)-1].OID
		}
		if err := ex.Data.SetTimelinePosition(ctx, cmd.Timeline, youngest, oldest); err != nil {
			return err
		}
	}
	ex.Logger.Debug().Int("downloaded", len(notes)).Int("new", added).Msg("timeline synced")
	return nil
}

// getActors loads the followers or friends of an actor.
func getActors(ctx context.Context, ex *Execution) error {
	cmd := ex.Command
	tl := withActor(cmd.Timeline, ex.Account)
	switch cmd.Code {
	case domain.CodeGetFollowers:
		tl.Type = domain.TimelineFollowers
	case domain.CodeGetFriends:
		tl.Type = domain.TimelineFriends
	}
	if tl.Account == "" {
		tl.Account = ex.Account.Name
	}

	ex.Progress("loading %s", tl)
	actors, err := ex.Conn.GetActors(ctx, tl, ex.exec.opts.PageLimit)
	if err != nil {
		return err
	}
	added, err := ex.Data.SaveActors(ctx, tl, actors)
	if err != nil {
		return err
	}
	cmd.Result.DownloadedCount = len(actors)
	cmd.Result.NewCount = added
	for _, a := range actors {
		ex.scheduleDownload(ctx, domain.CodeGetAvatar, a.AvatarURL)
	}
	return nil
}

func getNote(ctx context.Context, ex *Execution) error {
	if err := requireItem(ex.Command); err != nil {
		return err
	}
	n, err := ex.Conn.GetNote(ctx, ex.Command.ItemID)
	if err != nil {
		return err
	}
	added, err := ex.Data.SaveNotes(ctx, withActor(ex.Command.Timeline, ex.Account), []domain.Note{n})
	if err != nil {
		return err
	}
	ex.Command.Result.DownloadedCount = 1
	ex.Command.Result.NewCount = added
	ex.Command.Result.ResultItemID = n.OID
	ex.scheduleMedia(ctx, n)
	return nil
}

func getActor(ctx context.Context, ex *Execution) error {
	if err := requireItem(ex.Command); err != nil {
		return err
	}
	a, err := ex.Conn.GetActor(ctx, ex.Command.ItemID)
	if err != nil {
		return err
	}
	if err := ex.Data.SaveActor(ctx, a); err != nil {
		return err
	}
	ex.scheduleDownload(ctx, domain.CodeGetAvatar, a.AvatarURL)
	ex.Command.Result.DownloadedCount = 1
	ex.Command.Result.ResultItemID = a.OID
	return nil
}

// updateNote sends the locally stored draft whose id is the item id.
func updateNote(ctx context.Context, ex *Execution) error {
	cmd := ex.Command
	localID, err := strconv.ParseInt(cmd.ItemID, 10, 64)
	if err != nil {
		return domain.NewConnectionError(domain.KindParse, 0, fmt.Errorf("bad draft id %q", cmd.ItemID))
	}
	draft, err := ex.Data.LoadDraft(ctx, localID)
	if err != nil {
		return err
	}
	if err := ex.Data.MarkNoteStatus(ctx, localID, domain.NoteSending); err != nil {
		return err
	}

	ex.Progress("sending note %d", localID)
	sent, err := ex.Conn.UpdateNote(ctx, draft)
	if err != nil {
		if serr := ex.Data.MarkNoteStatus(ctx, localID, domain.NoteDraft); serr != nil {
			ex.Logger.Error().Err(serr).Int64("note", localID).Msg("failed to restore draft status")
		}
		return err
	}
	if err := ex.Data.MarkNoteSent(ctx, localID, sent); err != nil {
		return err
	}
	cmd.Result.ResultItemID = sent.OID
	return nil
}

func deleteNote(ctx context.Context, ex *Execution) error {
	if err := requireItem(ex.Command); err != nil {
		return err
	}
	err := ex.Conn.DeleteNote(ctx, ex.Command.ItemID)
	if kind, ok := domain.KindOf(err); ok && kind == domain.KindNotFound {
		// already gone
		err = nil
	}
	if err != nil {
		return err
	}
	return ex.Data.MarkNoteDeleted(ctx, ex.Account.Origin(), ex.Command.ItemID)
}

// noteFlag likes (or announces) a note, or undoes it.
func noteFlag(on, announce bool) Handler {
	return HandlerFunc(func(ctx context.Context, ex *Execution) error {
		if err := requireItem(ex.Command); err != nil {
			return err
		}
		var (
			n   domain.Note
			err error
		)
		if announce {
			n, err = ex.Conn.Announce(ctx, ex.Command.ItemID, on)
		} else {
			n, err = ex.Conn.Like(ctx, ex.Command.ItemID, on)
		}
		if err != nil {
			return err
		}
		if n.OID == "" {
			n.OID = ex.Command.ItemID
		}
		if n.Origin == "" {
			n.Origin = ex.Account.Origin()
		}
		if err := ex.Data.SetNoteFlags(ctx, n); err != nil {
			return err
		}
		ex.Command.Result.ResultItemID = n.OID
		return nil
	})
}

func follow(on bool) Handler {
	return HandlerFunc(func(ctx context.Context, ex *Execution) error {
		if err := requireItem(ex.Command); err != nil {
			return err
		}
		a, err := ex.Conn.Follow(ctx, ex.Command.ItemID, on)
		if err != nil {
			return err
		}
		if a.Origin == "" {
			a.Origin = ex.Account.Origin()
		}
		if a.Following != on {
			// locked accounts answer with a pending request
			ex.Logger.Info().Str("actor", a.OID).Bool("following", a.Following).Msg("follow state differs from request")
		}
		if err := ex.Data.SetFollowing(ctx, ex.Account.Name, a); err != nil {
			return err
		}
		ex.Command.Result.ResultItemID = a.OID
		return nil
	})
}

func rateLimitStatus(ctx context.Context, ex *Execution) error {
	rl, err := ex.Conn.RateLimitStatus(ctx)
	if err != nil {
		return err
	}
	ex.Command.Result.Message = fmt.Sprintf("%d of %d requests left", rl.Remaining, rl.Limit)
	return nil
}

func getOpenInstances(ctx context.Context, ex *Execution) error {
	origins, err := ex.Conn.GetOpenInstances(ctx)
	if err != nil {
		return err
	}
	added, err := ex.Data.SaveOrigins(ctx, origins)
	if err != nil {
		return err
	}
	ex.Command.Result.DownloadedCount = len(origins)
	ex.Command.Result.NewCount = added
	return nil
}

// download fetches the file of the download whose id is the item id.
func (e *Executor) download(ctx context.Context, ex *Execution) error {
	id, err := strconv.ParseInt(ex.Command.ItemID, 10, 64)
	if err != nil {
		return domain.NewConnectionError(domain.KindParse, 0, fmt.Errorf("bad download id %q", ex.Command.ItemID))
	}
	d, err := ex.Data.LoadDownload(ctx, id)
	if err != nil {
		return err
	}

	ex.Progress("downloading %s", d.URL)
	body, contentType, err := ex.Conn.Download(ctx, d.URL)
	if err != nil {
		if kind, ok := domain.KindOf(err); ok && kind.Hard() {
			d.Status = domain.DownloadHardErr
			if serr := ex.Data.SaveDownload(ctx, d); serr != nil {
				ex.Logger.Error().Err(serr).Int64("download", id).Msg("failed to mark download")
			}
		}
		return err
	}

	if err := os.MkdirAll(e.opts.DownloadDir, 0o755); err != nil {
		return fmt.Errorf("create download dir: %w", err)
	}
	path := filepath.Join(e.opts.DownloadDir, strconv.FormatInt(id, 10)+extension(contentType))
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}

	d.Status = domain.DownloadLoaded
	d.ContentType = contentType
	d.Path = path
	if err := ex.Data.SaveDownload(ctx, d); err != nil {
		return err
	}
	ex.Command.Result.DownloadedCount = 1
	ex.Command.Result.ResultItemID = ex.Command.ItemID
	return nil
}

// scheduleMedia queues the attachments of notes and the avatars of their authors.
func (ex *Execution) scheduleMedia(ctx context.Context, notes ...domain.Note) {
	avatars := make(map[string]bool)
	for _, n := range notes {
		for _, url := range n.Attachments {
			ex.scheduleDownload(ctx, domain.CodeGetAttachment, url)
		}
		if url := n.Author.AvatarURL; url != "" && !avatars[url] {
			avatars[url] = true
			ex.scheduleDownload(ctx, domain.CodeGetAvatar, url)
		}
	}
}

// scheduleDownload registers url as a download and queues code for it unless
// it was already fetched or failed for good. Failures only get logged: the
// command that found the media has succeeded.
func (ex *Execution) scheduleDownload(ctx context.Context, code domain.CommandCode, url string) {
	sink := ex.exec.sink
	if url == "" || sink == nil {
		return
	}
	logger := ex.Logger.With().Str("url", url).Logger()
	id, err := ex.Data.CreateDownload(ctx, url)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to register download")
		return
	}
	d, err := ex.Data.LoadDownload(ctx, id)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to load download")
		return
	}
	if d.Status != domain.DownloadAbsent {
		return
	}
	cmd := domain.NewItemCommand(code, domain.EmptyTimeline, strconv.FormatInt(id, 10), ex.exec.opts.Now())
	if err := sink.Enqueue(cmd); err != nil {
		logger.Warn().Err(err).Msg("failed to queue download")
	}
}

func extension(contentType string) string {
	if contentType == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ""
	}
	exts, _ := mime.ExtensionsByType(mt)
	if len(exts) == 0 {
		return ""
	}
	return exts[0]
}
