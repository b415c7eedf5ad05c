// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package archive

const (
	// SchemaVersion tracks the database schema version for migrations
	SchemaVersion = 1
)

// Schema creates the archive tables. Ids are the backend's, so a record
// seen twice (streamed, then paged in from history) is stored once.
const Schema = `
CREATE TABLE IF NOT EXISTS metadata (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
) WITHOUT ROWID;

CREATE TABLE IF NOT EXISTS messages (
    id INTEGER PRIMARY KEY,      -- backend message id
    role TEXT NOT NULL,          -- user, assistant
    content TEXT NOT NULL,
    rating INTEGER NOT NULL DEFAULT 0,
    created_at INTEGER NOT NULL, -- Unix milliseconds
    archived_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_created_at ON messages(created_at);

CREATE TABLE IF NOT EXISTS audits (
    id INTEGER PRIMARY KEY,      -- backend id of the review message
    input TEXT NOT NULL DEFAULT '',
    review TEXT NOT NULL,
    created_at INTEGER NOT NULL,
    archived_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_audits_created_at ON audits(created_at);

CREATE VIRTUAL TABLE IF NOT EXISTS messages_fts USING fts5(
    content,
    content='messages',
    content_rowid='id',
    tokenize='unicode61 remove_diacritics 2'
);

CREATE TRIGGER IF NOT EXISTS messages_ai AFTER INSERT ON messages BEGIN
    INSERT INTO messages_fts(rowid, content) VALUES (new.id, new.content);
END;

CREATE TRIGGER IF NOT EXISTS messages_ad AFTER DELETE ON messages BEGIN
    INSERT INTO messages_fts(messages_fts, rowid, content) VALUES ('delete', old.id, old.content);
END;

CREATE TRIGGER IF NOT EXISTS messages_au AFTER UPDATE OF content ON messages BEGIN
    INSERT INTO messages_fts(messages_fts, rowid, content) VALUES ('delete', old.id, old.content);
    INSERT INTO messages_fts(rowid, content) VALUES (new.id, new.content);
END;

CREATE VIRTUAL TABLE IF NOT EXISTS audits_fts USING fts5(
    input,
    review,
    content='audits',
    content_rowid='id',
    tokenize='unicode61 remove_diacritics 2'
);

CREATE TRIGGER IF NOT EXISTS audits_ai AFTER INSERT ON audits BEGIN
    INSERT INTO audits_fts(rowid, input, review) VALUES (new.id, new.input, new.review);
END;

CREATE TRIGGER IF NOT EXISTS audits_ad AFTER DELETE ON audits BEGIN
    INSERT INTO audits_fts(audits_fts, rowid, input, review) VALUES ('delete', old.id, old.input, old.review);
END;

CREATE TRIGGER IF NOT EXISTS audits_au AFTER UPDATE ON audits BEGIN
    INSERT INTO audits_fts(audits_fts, rowid, input, review) VALUES ('delete', old.id, old.input, old.review);
    INSERT INTO audits_fts(rowid, input, review) VALUES (new.id, new.input, new.review);
END;
`

// InitMetadata seeds the metadata table.
const InitMetadata = `
INSERT OR IGNORE INTO metadata (key, value) VALUES ('schema_version', '1');
INSERT OR IGNORE INTO metadata (key, value) VALUES ('created_at', strftime('%s', 'now'));
`
