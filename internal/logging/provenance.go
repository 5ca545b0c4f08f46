package logging

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// #region log-decision
// LogDecision writes a provenance entry to the provenance_log table.
func LogDecision(db *sql.DB, entry ProvenanceEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := db.Exec(
		`INSERT INTO provenance_log (unit_id, env_id, metric, variant, action, kind, detail_json, reason, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.UnitID,
		entry.EnvID,
		entry.Metric,
		nullIfEmpty(entry.Variant),
		entry.Action,
		nullIfEmpty(entry.Kind),
		nullIfEmpty(entry.DetailJSON),
		nullIfEmpty(entry.Reason),
		entry.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("log decision: %w", err)
	}
	return nil
}

// DetailJSON marshals a UnitRecord for ProvenanceEntry.DetailJSON.
func DetailJSON(rec UnitRecord) string {
	b, err := json.Marshal(rec)
	if err != nil {
		return ""
	}
	return string(b)
}

// #endregion log-decision

// #region list-decisions
// ListDecisions returns the most recent provenance entries, newest first.
// An empty envID lists every environment.
func ListDecisions(db *sql.DB, envID string, limit int) ([]ProvenanceEntry, error) {
	rows, err := db.Query(
		`SELECT unit_id, env_id, metric, variant, action, kind, detail_json, reason, created_at
		 FROM provenance_log WHERE (? = '' OR env_id = ?) ORDER BY id DESC LIMIT ?`,
		envID, envID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list decisions: %w", err)
	}
	defer rows.Close()

	var out []ProvenanceEntry
	for rows.Next() {
		var e ProvenanceEntry
		var variant, kind, detail, reason sql.NullString
		var createdStr string
		if err := rows.Scan(&e.UnitID, &e.EnvID, &e.Metric, &variant, &e.Action, &kind, &detail, &reason, &createdStr); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		e.Variant, e.Kind, e.DetailJSON, e.Reason = variant.String, kind.String, detail.String, reason.String
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
		out = append(out, e)
	}
	return out, rows.Err()
}

// #endregion list-decisions

// #region helpers
func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// #endregion helpers
