package logging

import (
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

// #region helpers
func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(1)
	_, err = db.Exec(`CREATE TABLE provenance_log (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		unit_id     TEXT NOT NULL,
		env_id      TEXT NOT NULL,
		metric      TEXT NOT NULL,
		variant     TEXT,
		action      TEXT NOT NULL,
		kind        TEXT,
		detail_json TEXT,
		reason      TEXT,
		created_at  TEXT NOT NULL
	)`)
	if err != nil {
		t.Fatalf("create table: %v", err)
	}
	return db
}

// #endregion helpers

// #region log-decision-tests
func TestLogDecision_Success(t *testing.T) {
	db := setupDB(t)
	defer db.Close()

	entry := ProvenanceEntry{
		UnitID:     "u1",
		EnvID:      "ORAN_log_new0",
		Metric:     "Throughput_Mbps",
		Variant:    "llm_1",
		Action:     "recovered",
		DetailJSON: DetailJSON(UnitRecord{TargetEnv: "ORAN_log_new0", ReferenceEnv: "ORAN_log_embb_3", Ratio: 1.5}),
		Reason:     "mass preserved",
		CreatedAt:  time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}

	if err := LogDecision(db, entry); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var count int
	db.QueryRow("SELECT COUNT(*) FROM provenance_log").Scan(&count)
	if count != 1 {
		t.Errorf("expected 1 row, got %d", count)
	}

	var unitID, action, detail string
	db.QueryRow("SELECT unit_id, action, detail_json FROM provenance_log").Scan(&unitID, &action, &detail)
	if unitID != "u1" {
		t.Errorf("expected unit_id 'u1', got %q", unitID)
	}
	if action != "recovered" {
		t.Errorf("expected action 'recovered', got %q", action)
	}
	var rec UnitRecord
	if err := json.Unmarshal([]byte(detail), &rec); err != nil {
		t.Fatalf("unmarshal detail: %v", err)
	}
	if rec.ReferenceEnv != "ORAN_log_embb_3" || rec.Ratio != 1.5 {
		t.Errorf("unexpected detail %+v", rec)
	}
}

func TestLogDecision_ZeroCreatedAt(t *testing.T) {
	db := setupDB(t)
	defer db.Close()

	before := time.Now().UTC()
	err := LogDecision(db, ProvenanceEntry{UnitID: "u2", EnvID: "e", Metric: "m", Action: "skipped"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var createdAtStr string
	db.QueryRow("SELECT created_at FROM provenance_log").Scan(&createdAtStr)
	createdAt, err := time.Parse(time.RFC3339Nano, createdAtStr)
	if err != nil {
		t.Fatalf("parse created_at: %v", err)
	}
	if createdAt.Before(before) {
		t.Error("expected auto-filled created_at to be >= test start time")
	}
}

func TestLogDecision_EmptyOptionalFields(t *testing.T) {
	db := setupDB(t)
	defer db.Close()

	entry := ProvenanceEntry{UnitID: "u3", EnvID: "e", Metric: "m", Action: "failed"}
	if err := LogDecision(db, entry); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var variant, kind, detail, reason sql.NullString
	db.QueryRow("SELECT variant, kind, detail_json, reason FROM provenance_log").Scan(
		&variant, &kind, &detail, &reason,
	)
	if variant.Valid || kind.Valid || detail.Valid || reason.Valid {
		t.Errorf("expected NULLs for empty fields, got %v %v %v %v", variant, kind, detail, reason)
	}
}

func TestLogDecision_Error(t *testing.T) {
	db := setupDB(t)
	db.Close() // close to force error

	err := LogDecision(db, ProvenanceEntry{UnitID: "u4", EnvID: "e", Metric: "m", Action: "recovered"})
	if err == nil {
		t.Fatal("expected error on closed db")
	}
}

func TestListDecisions(t *testing.T) {
	db := setupDB(t)
	defer db.Close()

	for _, e := range []ProvenanceEntry{
		{UnitID: "a", EnvID: "new0", Metric: "m", Action: "recovered"},
		{UnitID: "b", EnvID: "new1", Metric: "m", Action: "failed", Kind: "parse_error"},
		{UnitID: "c", EnvID: "new0", Metric: "m", Action: "skipped", Kind: "missing_reference_data"},
	} {
		if err := LogDecision(db, e); err != nil {
			t.Fatalf("LogDecision: %v", err)
		}
	}

	got, err := ListDecisions(db, "new0", 10)
	if err != nil {
		t.Fatalf("ListDecisions: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(got))
	}
	if got[0].UnitID != "c" || got[0].Kind != "missing_reference_data" {
		t.Errorf("expected newest first, got %+v", got[0])
	}

	all, err := ListDecisions(db, "", 1)
	if err != nil {
		t.Fatalf("ListDecisions: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected limit 1, got %d", len(all))
	}
}

// #endregion log-decision-tests

// #region logger-tests
func TestNewLogger(t *testing.T) {
	for _, verbose := range []bool{false, true} {
		logger, err := NewLogger(verbose)
		if err != nil {
			t.Fatalf("NewLogger(%v): %v", verbose, err)
		}
		if got := logger.Core().Enabled(-1); got != verbose {
			t.Errorf("verbose=%v: debug enabled = %v", verbose, got)
		}
	}
}

// #endregion logger-tests

// #region null-if-empty-tests
func TestNullIfEmpty_Empty(t *testing.T) {
	result := nullIfEmpty("")
	if result != nil {
		t.Errorf("expected nil for empty string, got %v", result)
	}
}

func TestNullIfEmpty_NonEmpty(t *testing.T) {
	result := nullIfEmpty("hello")
	if result != "hello" {
		t.Errorf("expected 'hello', got %v", result)
	}
}

// #endregion null-if-empty-tests
