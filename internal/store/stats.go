package store

import (
	"context"
	"os"
)

// Stats holds database statistics.
type Stats struct {
	DBPath        string         `json:"db_path"`
	DBSizeBytes   int64          `json:"db_size_bytes"`
	SchemaVersion int            `json:"schema_version"`
	Documents     int            `json:"documents"`
	Revisions     int            `json:"revisions"`
	Blocks        int            `json:"blocks"`
	Tasks         int            `json:"tasks"`
	Jobs          map[string]int `json:"jobs"`
}

// Stats returns database statistics.
func (s *SQLiteStore) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{DBPath: s.path, Jobs: map[string]int{}}

	if info, err := os.Stat(s.path); err == nil {
		st.DBSizeBytes = info.Size()
	}

	st.SchemaVersion, _ = s.UserVersion(ctx)
	counts := []struct {
		dest  *int
		query string
	}{
		{&st.Documents, `SELECT COUNT(*) FROM documents`},
		{&st.Revisions, `SELECT COUNT(*) FROM document_revisions`},
		{&st.Blocks, `SELECT COUNT(*) FROM blocks`},
		{&st.Tasks, `SELECT COUNT(*) FROM tasks`},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, c.query).Scan(c.dest); err != nil {
			return st, err
		}
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM silent_analysis_jobs
		GROUP BY status ORDER BY status`)
	if err != nil {
		return st, err
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return st, err
		}
		st.Jobs[status] = n
	}
	return st, rows.Err()
}
