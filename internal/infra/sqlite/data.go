package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"syncq/internal/domain"
	"syncq/internal/ports"
)

var _ ports.DataUpdater = (*DataStore)(nil)

const (
	sqlUpsertActor = `INSERT INTO actor(origin, oid, username, display_name, url, avatar_url, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(origin, oid) DO UPDATE SET
			username = excluded.username,
			display_name = excluded.display_name,
			url = excluded.url,
			avatar_url = excluded.avatar_url,
			updated_at = excluded.updated_at`

	sqlSelectNoteIDByOID = `SELECT id FROM note WHERE origin = ? AND oid = ?`
	sqlInsertNote        = `INSERT INTO note(origin, oid, account, author_oid, content, url, in_reply_to, created_at, status, favorited, reblogged)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	sqlUpdateReceivedNote = `UPDATE note SET content = ?, url = ?, favorited = ?, reblogged = ? WHERE id = ?`
	sqlInsertTimelineItem = `INSERT OR IGNORE INTO timeline_item(timeline_key, note_id) VALUES (?, ?)`

	sqlSelectTimelinePosition = `SELECT youngest, oldest FROM timeline WHERE timeline_key = ?`
	sqlUpsertTimelinePosition = `INSERT INTO timeline(timeline_key, youngest, oldest, synced_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(timeline_key) DO UPDATE SET
			youngest = excluded.youngest, oldest = excluded.oldest, synced_at = excluded.synced_at`

	sqlInsertDraft      = `INSERT INTO note(origin, account, content, in_reply_to, created_at, status) VALUES (?, ?, ?, ?, ?, ?)`
	sqlSelectNoteByID   = `SELECT id, origin, oid, account, author_oid, content, url, in_reply_to, created_at, status, favorited, reblogged FROM note WHERE id = ?`
	sqlMarkNoteSent     = `UPDATE note SET oid = ?, url = ?, author_oid = ?, created_at = ?, status = ? WHERE id = ?`
	sqlMarkNoteStatus   = `UPDATE note SET status = ? WHERE id = ?`
	sqlMarkNoteDeleted  = `UPDATE note SET status = ? WHERE origin = ? AND oid = ?`
	sqlUpdateNoteFlags  = `UPDATE note SET favorited = ?, reblogged = ? WHERE origin = ? AND oid = ?`
	sqlInsertFriendship = `INSERT OR IGNORE INTO friendship(account, relation, actor_origin, actor_oid) VALUES (?, ?, ?, ?)`
	sqlDeleteFriendship = `DELETE FROM friendship WHERE account = ? AND relation = ? AND actor_origin = ? AND actor_oid = ?`
	sqlCountFriendship  = `SELECT COUNT(*) FROM friendship WHERE account = ? AND relation = ? AND actor_origin = ? AND actor_oid = ?`

	sqlInsertDownload   = `INSERT INTO download(url, status, updated_at) VALUES (?, ?, ?) ON CONFLICT(url) DO NOTHING`
	sqlSelectDownloadID = `SELECT id FROM download WHERE url = ?`
	sqlSelectDownload   = `SELECT id, url, status, content_type, path FROM download WHERE id = ?`
	sqlUpdateDownload   = `UPDATE download SET status = ?, content_type = ?, path = ?, updated_at = ? WHERE id = ?`

	sqlUpsertOrigin = `INSERT INTO origin(url, name, users, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(url) DO UPDATE SET name = excluded.name, users = excluded.users, updated_at = excluded.updated_at`
	sqlCountOrigin = `SELECT COUNT(*) FROM origin WHERE url = ?`
)

const relationFriends = "friends"

// DataStore applies remote results to the local tables.
type DataStore struct {
	db  *DB
	now func() time.Time
}

func NewDataStore(db *DB) *DataStore {
	return &DataStore{db: db, now: time.Now}
}

func (s *DataStore) upsertActor(ctx context.Context, tx *sql.Tx, a domain.Actor) error {
	if a.OID == "" {
		return nil
	}
	_, err := tx.ExecContext(ctx, sqlUpsertActor, a.Origin, a.OID, a.Username, a.DisplayName, a.URL, a.AvatarURL, s.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("upsert actor %s: %w", a.OID, err)
	}
	return nil
}

func (s *DataStore) SaveActor(ctx context.Context, a domain.Actor) error {
	return s.db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		return s.upsertActor(ctx, tx, a)
	})
}

// SaveNotes stores received notes and links them to the timeline. It returns
// the number of notes that were not known before.
func (s *DataStore) SaveNotes(ctx context.Context, tl domain.Timeline, notes []domain.Note) (int, error) {
	added := 0
	err := s.db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		added = 0
		for _, n := range notes {
			if err := s.upsertActor(ctx, tx, n.Author); err != nil {
				return err
			}
			origin := n.Origin
			if origin == "" {
				origin = tl.Origin
			}
			var id int64
			err := tx.QueryRowContext(ctx, sqlSelectNoteIDByOID, origin, n.OID).Scan(&id)
			switch {
			case errors.Is(err, sql.ErrNoRows):
				res, err := tx.ExecContext(ctx, sqlInsertNote, origin, n.OID, tl.Account, n.Author.OID, n.Content, n.URL,
					n.InReplyTo, domain.ToMillis(n.CreatedAt), string(domain.NoteReceived), boolInt(n.Favorited), boolInt(n.Reblogged))
				if err != nil {
					return fmt.Errorf("insert note %s: %w", n.OID, err)
				}
				if id, err = res.LastInsertId(); err != nil {
					return err
				}
				added++
			case err != nil:
				return fmt.Errorf("select note %s: %w", n.OID, err)
			default:
				if _, err := tx.ExecContext(ctx, sqlUpdateReceivedNote, n.Content, n.URL, boolInt(n.Favorited), boolInt(n.Reblogged), id); err != nil {
					return fmt.Errorf("update note %s: %w", n.OID, err)
				}
			}
			if _, err := tx.ExecContext(ctx, sqlInsertTimelineItem, tl.Key(), id); err != nil {
				return fmt.Errorf("link note %s: %w", n.OID, err)
			}
		}
		return nil
	})
	return added, err
}

// SaveActors stores the actors of a followers/friends list for the timeline's account.
func (s *DataStore) SaveActors(ctx context.Context, tl domain.Timeline, actors []domain.Actor) (int, error) {
	added := 0
	err := s.db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		added = 0
		for _, a := range actors {
			if err := s.upsertActor(ctx, tx, a); err != nil {
				return err
			}
			res, err := tx.ExecContext(ctx, sqlInsertFriendship, tl.Account, string(tl.Type), a.Origin, a.OID)
			if err != nil {
				return fmt.Errorf("insert friendship %s: %w", a.OID, err)
			}
			if n, _ := res.RowsAffected(); n > 0 {
				added++
			}
		}
		return nil
	})
	return added, err
}

func (s *DataStore) SetFollowing(ctx context.Context, account string, a domain.Actor) error {
	return s.db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		if err := s.upsertActor(ctx, tx, a); err != nil {
			return err
		}
		stmt := sqlDeleteFriendship
		if a.Following {
			stmt = sqlInsertFriendship
		}
		_, err := tx.ExecContext(ctx, stmt, account, relationFriends, a.Origin, a.OID)
		return err
	})
}

// IsFollowing reports whether account follows the actor.
func (s *DataStore) IsFollowing(ctx context.Context, account, origin, oid string) (bool, error) {
	var n int
	err := s.db.db.QueryRowContext(ctx, sqlCountFriendship, account, relationFriends, origin, oid).Scan(&n)
	return n > 0, err
}

func (s *DataStore) TimelinePosition(ctx context.Context, tl domain.Timeline) (string, string, error) {
	var youngest, oldest sql.NullString
	err := s.db.db.QueryRowContext(ctx, sqlSelectTimelinePosition, tl.Key()).Scan(&youngest, &oldest)
	if errors.Is(err, sql.ErrNoRows) {
		return "", "", nil
	}
	return youngest.String, oldest.String, err
}

func (s *DataStore) SetTimelinePosition(ctx context.Context, tl domain.Timeline, youngest, oldest string) error {
	return s.db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, sqlUpsertTimelinePosition, tl.Key(), youngest, oldest, s.now().UnixMilli())
		return err
	})
}

// CreateDraft stores a note to be sent by an update_note command.
func (s *DataStore) CreateDraft(ctx context.Context, acct domain.Account, content, inReplyTo string) (int64, error) {
	var id int64
	err := s.db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, sqlInsertDraft, acct.Origin(), acct.Name, content, inReplyTo,
			s.now().UnixMilli(), string(domain.NoteDraft))
		if err != nil {
			return fmt.Errorf("insert draft: %w", err)
		}
		id, err = res.LastInsertId()
		return err
	})
	return id, err
}

func (s *DataStore) LoadDraft(ctx context.Context, localID int64) (domain.Note, error) {
	n, _, err := s.LoadNote(ctx, localID)
	return n, err
}

// LoadNote returns the note with the given local id and its status.
func (s *DataStore) LoadNote(ctx context.Context, localID int64) (domain.Note, domain.NoteStatus, error) {
	var (
		n                                  domain.Note
		oid, account, author, url, replyTo sql.NullString
		content                            sql.NullString
		created                            sql.NullInt64
		status                             string
		fav, reb                           int
	)
	err := s.db.db.QueryRowContext(ctx, sqlSelectNoteByID, localID).
		Scan(&n.LocalID, &n.Origin, &oid, &account, &author, &content, &url, &replyTo, &created, &status, &fav, &reb)
	if errors.Is(err, sql.ErrNoRows) {
		return n, "", fmt.Errorf("note %d: %w", localID, domain.ErrNotFound)
	}
	if err != nil {
		return n, "", fmt.Errorf("select note %d: %w", localID, err)
	}
	n.OID = oid.String
	n.Author = domain.Actor{OID: author.String, Origin: n.Origin, Username: account.String}
	n.Content = content.String
	n.URL = url.String
	n.InReplyTo = replyTo.String
	n.CreatedAt = domain.FromMillis(created.Int64)
	n.Favorited = fav != 0
	n.Reblogged = reb != 0
	return n, domain.NoteStatus(status), nil
}

func (s *DataStore) MarkNoteSent(ctx context.Context, localID int64, sent domain.Note) error {
	return s.db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		if err := s.upsertActor(ctx, tx, sent.Author); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, sqlMarkNoteSent, nullString(sent.OID), sent.URL, sent.Author.OID,
			domain.ToMillis(sent.CreatedAt), string(domain.NoteSent), localID)
		return err
	})
}

func (s *DataStore) MarkNoteStatus(ctx context.Context, localID int64, status domain.NoteStatus) error {
	return s.db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, sqlMarkNoteStatus, string(status), localID)
		return err
	})
}

func (s *DataStore) MarkNoteDeleted(ctx context.Context, origin, oid string) error {
	return s.db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, sqlMarkNoteDeleted, string(domain.NoteDeleted), origin, oid)
		return err
	})
}

func (s *DataStore) SetNoteFlags(ctx context.Context, n domain.Note) error {
	return s.db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, sqlUpdateNoteFlags, boolInt(n.Favorited), boolInt(n.Reblogged), n.Origin, n.OID)
		return err
	})
}

// CreateDownload registers url and returns its id; an existing url keeps its id.
func (s *DataStore) CreateDownload(ctx context.Context, url string) (int64, error) {
	var id int64
	err := s.db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, sqlInsertDownload, url, string(domain.DownloadAbsent), s.now().UnixMilli()); err != nil {
			return fmt.Errorf("insert download: %w", err)
		}
		return tx.QueryRowContext(ctx, sqlSelectDownloadID, url).Scan(&id)
	})
	return id, err
}

func (s *DataStore) LoadDownload(ctx context.Context, id int64) (domain.Download, error) {
	var (
		d            domain.Download
		status       string
		ctype, fpath sql.NullString
	)
	err := s.db.db.QueryRowContext(ctx, sqlSelectDownload, id).Scan(&d.ID, &d.URL, &status, &ctype, &fpath)
	if errors.Is(err, sql.ErrNoRows) {
		return d, fmt.Errorf("download %d: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return d, fmt.Errorf("select download %d: %w", id, err)
	}
	d.Status = domain.DownloadStatus(status)
	d.ContentType = ctype.String
	d.Path = fpath.String
	return d, nil
}

func (s *DataStore) SaveDownload(ctx context.Context, d domain.Download) error {
	return s.db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, sqlUpdateDownload, string(d.Status), d.ContentType, d.Path, s.now().UnixMilli(), d.ID)
		return err
	})
}

// SaveOrigins upserts the origins and returns how many were new.
func (s *DataStore) SaveOrigins(ctx context.Context, origins []domain.Origin) (int, error) {
	added := 0
	err := s.db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		added = 0
		for _, o := range origins {
			var n int
			if err := tx.QueryRowContext(ctx, sqlCountOrigin, o.URL).Scan(&n); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, sqlUpsertOrigin, o.URL, o.Name, o.Users, s.now().UnixMilli()); err != nil {
				return fmt.Errorf("upsert origin %s: %w", o.URL, err)
			}
			if n == 0 {
				added++
			}
		}
		return nil
	})
	return added, err
}
