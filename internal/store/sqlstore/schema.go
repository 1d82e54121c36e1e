package sqlstore

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS messages (
		seq        INTEGER PRIMARY KEY AUTOINCREMENT,
		id         TEXT NOT NULL UNIQUE,
		username   TEXT NOT NULL,
		body       TEXT,
		file_name  TEXT,
		file_type  TEXT,
		file_size  INTEGER,
		file_data  TEXT,
		ts         INTEGER NOT NULL,
		client_ts  INTEGER,
		status     TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_ts ON messages(ts DESC, seq DESC)`,
	`CREATE TABLE IF NOT EXISTS users (
		username   TEXT PRIMARY KEY,
		session_id TEXT,
		online     BOOLEAN NOT NULL DEFAULT 0,
		last_seen  INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_users_online ON users(online, last_seen)`,
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS messages (
		seq        BIGSERIAL PRIMARY KEY,
		id         TEXT NOT NULL UNIQUE,
		username   TEXT NOT NULL,
		body       TEXT,
		file_name  TEXT,
		file_type  TEXT,
		file_size  BIGINT,
		file_data  TEXT,
		ts         BIGINT NOT NULL,
		client_ts  BIGINT,
		status     TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_ts ON messages(ts DESC, seq DESC)`,
	`CREATE TABLE IF NOT EXISTS users (
		username   TEXT PRIMARY KEY,
		session_id TEXT,
		online     BOOLEAN NOT NULL DEFAULT FALSE,
		last_seen  BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_users_online ON users(online, last_seen)`,
}
