package sqlite

var schema = []string{
	sqlCreateCommandTable,
	`CREATE INDEX IF NOT EXISTS idx_command_queue_type ON command(queue_type)`,
	sqlCreateOriginTable,
	sqlCreateActorTable,
	sqlCreateNoteTable,
	sqlCreateTimelineTable,
	sqlCreateTimelineItemTable,
	sqlCreateFriendshipTable,
	sqlCreateDownloadTable,
}

const (
	// Queue entries, one row per command and queue it is placed in.
	sqlCreateCommandTable = `CREATE TABLE IF NOT EXISTS command(
		id TEXT NOT NULL,
		queue_type TEXT NOT NULL,
		code TEXT NOT NULL,
		timeline_type TEXT,
		timeline_account TEXT,
		timeline_origin TEXT,
		timeline_actor_id TEXT,
		timeline_search TEXT,
		item_id TEXT,
		description TEXT,
		in_foreground INTEGER DEFAULT 0,
		manual INTEGER DEFAULT 0,
		created_at INTEGER NOT NULL,
		execution_count INTEGER DEFAULT 0,
		retries_left INTEGER DEFAULT 0,
		last_executed INTEGER DEFAULT 0,
		num_auth_exceptions INTEGER DEFAULT 0,
		num_io_exceptions INTEGER DEFAULT 0,
		num_parse_exceptions INTEGER DEFAULT 0,
		message TEXT,
		downloaded_count INTEGER DEFAULT 0,
		new_count INTEGER DEFAULT 0,
		result_item_id TEXT,
		PRIMARY KEY (id, queue_type)
	)`

	sqlCreateOriginTable = `CREATE TABLE IF NOT EXISTS origin(
		url TEXT NOT NULL PRIMARY KEY,
		name TEXT,
		users INTEGER DEFAULT 0,
		updated_at INTEGER
	)`

	sqlCreateActorTable = `CREATE TABLE IF NOT EXISTS actor(
		origin TEXT NOT NULL,
		oid TEXT NOT NULL,
		username TEXT,
		display_name TEXT,
		url TEXT,
		avatar_url TEXT,
		updated_at INTEGER,
		PRIMARY KEY (origin, oid)
	)`

	sqlCreateNoteTable = `CREATE TABLE IF NOT EXISTS note(
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		origin TEXT NOT NULL,
		oid TEXT,
		account TEXT,
		author_oid TEXT,
		content TEXT,
		url TEXT,
		in_reply_to TEXT,
		created_at INTEGER,
		status TEXT NOT NULL,
		favorited INTEGER DEFAULT 0,
		reblogged INTEGER DEFAULT 0,
		UNIQUE (origin, oid)
	)`

	sqlCreateTimelineTable = `CREATE TABLE IF NOT EXISTS timeline(
		timeline_key TEXT NOT NULL PRIMARY KEY,
		youngest TEXT,
		oldest TEXT,
		synced_at INTEGER
	)`

	sqlCreateTimelineItemTable = `CREATE TABLE IF NOT EXISTS timeline_item(
		timeline_key TEXT NOT NULL,
		note_id INTEGER NOT NULL,
		PRIMARY KEY (timeline_key, note_id)
	)`

	sqlCreateFriendshipTable = `CREATE TABLE IF NOT EXISTS friendship(
		account TEXT NOT NULL,
		relation TEXT NOT NULL,
		actor_origin TEXT NOT NULL,
		actor_oid TEXT NOT NULL,
		PRIMARY KEY (account, relation, actor_origin, actor_oid)
	)`

	sqlCreateDownloadTable = `CREATE TABLE IF NOT EXISTS download(
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		url TEXT NOT NULL UNIQUE,
		status TEXT NOT NULL,
		content_type TEXT,
		path TEXT,
		updated_at INTEGER
	)`
)
