package storage

const sqlCreateJournalTable = `
CREATE TABLE IF NOT EXISTS pod_events (
	pod VARCHAR NOT NULL,
	action VARCHAR NOT NULL,
	observedAt TIMESTAMP NOT NULL
);
`

const sqlInsertJournalRow = `INSERT INTO pod_events (pod, action, observedAt) VALUES (?, ?, ?)`

const sqlSelectRecent = `SELECT pod, action, observedAt FROM pod_events ORDER BY observedAt DESC LIMIT ?`

const sqlCountJournalRows = `SELECT COUNT(*) FROM pod_events`
