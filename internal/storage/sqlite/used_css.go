package sqlite

import "database/sql"

const usedCSSDDL = `
CREATE TABLE IF NOT EXISTS %[1]s (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	url           TEXT NOT NULL,
	css           TEXT NOT NULL,
	hash          TEXT NOT NULL,
	unprocessed   INTEGER NOT NULL DEFAULT 0,
	retries       INTEGER NOT NULL DEFAULT 0,
	is_mobile     INTEGER NOT NULL DEFAULT 0,
	modified      INTEGER NOT NULL DEFAULT 0,
	last_accessed INTEGER NOT NULL DEFAULT 0
)`

const usedCSSIndexDDL = `CREATE INDEX IF NOT EXISTS %[1]s_url_idx ON %[1]s (url, is_mobile)`

// UsedCSSTable manages the lifecycle of the used-CSS table.
type UsedCSSTable struct {
	table
}

// NewUsedCSSTable builds the table handle. Name defaults to rucss_used_css.
func NewUsedCSSTable(db *sql.DB, tableName string) (*UsedCSSTable, error) {
	if tableName == "" {
		tableName = "rucss_used_css"
	}
	t, err := newTable(db, tableName, usedCSSDDL, usedCSSIndexDDL)
	if err != nil {
		return nil, err
	}
	return &UsedCSSTable{table: t}, nil
}
