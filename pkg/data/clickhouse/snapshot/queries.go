package snapshot

const snapshotColumns = `window_index, rank, subject, score, window_start, window_end, chain_id, contract, created_at`

// CreateTableQuery returns the CREATE TABLE query for the archive table.
// Rows are keyed by (window_index, rank) and the newest created_at wins on
// merge, so archiving a window twice leaves one copy.
func CreateTableQuery(tableName string) string {
	return `CREATE TABLE IF NOT EXISTS ` + tableName + ` (
		window_index Int64,
		rank UInt16,
		subject String,
		score Int64,
		window_start DateTime('UTC'),
		window_end DateTime('UTC'),
		chain_id Int64,
		contract String,
		created_at DateTime64(3, 'UTC')
	)
	ENGINE = ReplacingMergeTree(created_at)
	ORDER BY (window_index, rank)`
}

// InsertQueryForBatch returns the INSERT query without VALUES clause (for PrepareBatch).
func InsertQueryForBatch(tableName string) string {
	return `INSERT INTO ` + tableName + ` (` + snapshotColumns + `)`
}

// SelectWindowQuery returns the ranked rows of one window.
func SelectWindowQuery(tableName string) string {
	return `SELECT ` + snapshotColumns + ` FROM ` + tableName + ` FINAL WHERE window_index = ? ORDER BY rank`
}
