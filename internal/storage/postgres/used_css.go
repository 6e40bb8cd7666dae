package postgres

const usedCSSDDL = `
CREATE TABLE IF NOT EXISTS %[1]s (
	id          BIGSERIAL PRIMARY KEY,
	url         TEXT NOT NULL,
	css         TEXT NOT NULL,
	hash        TEXT NOT NULL,
	unprocessed BOOLEAN NOT NULL DEFAULT FALSE,
	retries     INTEGER NOT NULL DEFAULT 0,
	is_mobile   BOOLEAN NOT NULL DEFAULT FALSE,
	modified    TIMESTAMPTZ NOT NULL DEFAULT now(),
	last_accessed TIMESTAMPTZ NOT NULL DEFAULT now()
)`

const usedCSSIndexDDL = `CREATE INDEX IF NOT EXISTS %[1]s_url_idx ON %[1]s (url, is_mobile)`

// UsedCSSTable manages the lifecycle of the used-CSS table. Rows are written elsewhere.
type UsedCSSTable struct {
	table
}

// NewUsedCSSTable builds the table handle. Name defaults to rucss_used_css.
func NewUsedCSSTable(db DB, tableName string) (*UsedCSSTable, error) {
	if tableName == "" {
		tableName = "rucss_used_css"
	}
	t, err := newTable(db, tableName, usedCSSDDL, usedCSSIndexDDL)
	if err != nil {
		return nil, err
	}
	return &UsedCSSTable{table: t}, nil
}
