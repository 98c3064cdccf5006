package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"syncq/internal/domain"
	"syncq/internal/ports"
)

var _ ports.QueueStore = (*CommandStore)(nil)

// commandColumns mirror the keys of domain.Command.Record.
var commandColumns = []string{
	"id", "code",
	"timeline_type", "timeline_account", "timeline_origin", "timeline_actor_id", "timeline_search",
	"item_id", "description", "in_foreground", "manual", "created_at",
	"execution_count", "retries_left", "last_executed",
	"num_auth_exceptions", "num_io_exceptions", "num_parse_exceptions",
	"message", "downloaded_count", "new_count", "result_item_id",
}

var (
	sqlInsertCommand = `INSERT OR REPLACE INTO command(queue_type, ` + strings.Join(commandColumns, ", ") +
		`) VALUES (?` + strings.Repeat(", ?", len(commandColumns)) + `)`
	sqlSelectCommands = `SELECT ` + strings.Join(commandColumns, ", ") +
		` FROM command WHERE queue_type = ? ORDER BY created_at, id`
)

const sqlDeleteAllCommands = `DELETE FROM command`

// CommandStore persists the command queue in the command table.
type CommandStore struct {
	db *DB
	// closeDB is set when the store owns the database handle.
	closeDB bool
}

func NewCommandStore(db *DB) *CommandStore {
	return &CommandStore{db: db}
}

// OpenCommandStore opens its own database at path.
func OpenCommandStore(ctx context.Context, path string) (*CommandStore, error) {
	db, err := Open(ctx, path)
	if err != nil {
		return nil, err
	}
	return &CommandStore{db: db, closeDB: true}, nil
}

func (s *CommandStore) Load(ctx context.Context, qt domain.QueueType) ([]*domain.Command, error) {
	rows, err := s.db.db.QueryContext(ctx, sqlSelectCommands, string(qt))
	if err != nil {
		return nil, fmt.Errorf("select %s commands: %w", qt, err)
	}
	defer rows.Close()

	var out []*domain.Command
	vals := make([]sql.NullString, len(commandColumns))
	dest := make([]any, len(commandColumns))
	for i := range vals {
		dest[i] = &vals[i]
	}
	for rows.Next() {
		if err := rows.Scan(dest...); err != nil {
			return out, fmt.Errorf("scan command: %w", err)
		}
		rec := make(map[string]string, len(commandColumns))
		for i, col := range commandColumns {
			rec[col] = vals[i].String
		}
		c, err := domain.CommandFromRecord(rec)
		if err != nil {
			return out, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Save replaces the whole table content with snapshot.
func (s *CommandStore) Save(ctx context.Context, snapshot map[domain.QueueType][]*domain.Command) error {
	return s.db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, sqlDeleteAllCommands); err != nil {
			return fmt.Errorf("clear command table: %w", err)
		}
		stmt, err := tx.PrepareContext(ctx, sqlInsertCommand)
		if err != nil {
			return fmt.Errorf("prepare insert: %w", err)
		}
		defer stmt.Close()

		args := make([]any, len(commandColumns)+1)
		for qt, cmds := range snapshot {
			for _, c := range cmds {
				rec := c.Record()
				args[0] = string(qt)
				for i, col := range commandColumns {
					args[i+1] = rec[col]
				}
				if _, err := stmt.ExecContext(ctx, args...); err != nil {
					return fmt.Errorf("insert command %s: %w", c.ID, err)
				}
			}
		}
		return nil
	})
}

func (s *CommandStore) Close() error {
	if s.closeDB {
		return s.db.Close()
	}
	return nil
}
