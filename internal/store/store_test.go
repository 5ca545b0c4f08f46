package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/danielpatrickdp/importance-shift/internal/attribution"
	"github.com/danielpatrickdp/importance-shift/internal/eval"
)

func tempDB(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := NewStore(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func measured(env string) attribution.Vector {
	return attribution.NewVector(env, "Throughput_Mbps", map[string]float64{
		"TxPower":    0.31,
		"PRB_num":    0.42,
		"Scheduling": 0.07,
	})
}

func TestImportAndGetVector(t *testing.T) {
	s := tempDB(t)
	v := measured("ORAN_log_embb_3")

	if err := s.ImportVector(v, "shap_outputs/ORAN_log_embb_3.json"); err != nil {
		t.Fatalf("ImportVector: %v", err)
	}
	got, err := s.GetVector(v.EnvID, v.Metric, attribution.VariantMeasured)
	if err != nil {
		t.Fatalf("GetVector: %v", err)
	}
	if len(got.Values) != len(v.Values) {
		t.Fatalf("expected %d features, got %d", len(v.Values), len(got.Values))
	}
	for f, x := range v.Values {
		if got.Values[f] != x {
			t.Fatalf("%s: expected %v, got %v", f, x, got.Values[f])
		}
	}
	if got.EnvID != v.EnvID || got.Metric != v.Metric {
		t.Fatalf("unexpected key %s/%s", got.EnvID, got.Metric)
	}
}

func TestImportIsImmutable(t *testing.T) {
	s := tempDB(t)
	v := measured("ref")

	if err := s.ImportVector(v, ""); err != nil {
		t.Fatalf("ImportVector: %v", err)
	}
	if err := s.ImportVector(v.Clone(), ""); err != nil {
		t.Fatalf("re-import of identical vector should succeed: %v", err)
	}

	changed := v.Clone()
	changed.Values["TxPower"] = 0.99
	err := s.ImportVector(changed, "")
	if !errors.Is(err, ErrImmutable) {
		t.Fatalf("expected ErrImmutable, got %v", err)
	}

	got, _ := s.GetVector("ref", "Throughput_Mbps", attribution.VariantMeasured)
	if got.Values["TxPower"] != 0.31 {
		t.Fatalf("measured vector was overwritten: %v", got.Values["TxPower"])
	}
}

func TestImportRejectsInvalid(t *testing.T) {
	s := tempDB(t)
	bad := attribution.NewVector("e", "m", map[string]float64{"A": -1})
	if err := s.ImportVector(bad, ""); err == nil {
		t.Fatal("expected error for negative value")
	}
}

func TestPutVectorUpserts(t *testing.T) {
	s := tempDB(t)
	v := attribution.NewVector("new0", "Throughput_Mbps", map[string]float64{"A": 1})

	id1, err := s.PutVector(v, "llm_1", "unit-1")
	if err != nil {
		t.Fatalf("PutVector: %v", err)
	}
	v.Values["A"] = 2
	id2, err := s.PutVector(v, "llm_1", "unit-2")
	if err != nil {
		t.Fatalf("PutVector: %v", err)
	}
	if id1 == id2 {
		t.Fatal("expected a new row id on overwrite")
	}

	got, err := s.GetVector("new0", "Throughput_Mbps", "llm_1")
	if err != nil {
		t.Fatalf("GetVector: %v", err)
	}
	if got.Values["A"] != 2 {
		t.Fatalf("expected A=2, got %v", got.Values["A"])
	}

	if _, err := s.PutVector(v, attribution.VariantMeasured, ""); err == nil {
		t.Fatal("expected error writing measured variant through PutVector")
	}
}

func TestGetVectorMissing(t *testing.T) {
	s := tempDB(t)
	_, err := s.GetVector("nope", "Throughput_Mbps", attribution.VariantMeasured)
	if !errors.Is(err, attribution.ErrMissingReferenceData) {
		t.Fatalf("expected ErrMissingReferenceData, got %v", err)
	}
}

func TestListVectorsAndRecords(t *testing.T) {
	s := tempDB(t)
	if err := s.ImportVector(measured("new0"), ""); err != nil {
		t.Fatalf("ImportVector: %v", err)
	}
	for _, variant := range []string{"llm_1", "llm_merged", "extrapolated"} {
		if _, err := s.PutVector(measured("new0"), variant, ""); err != nil {
			t.Fatalf("PutVector %s: %v", variant, err)
		}
	}

	byVariant, err := s.ListVectors("new0", "Throughput_Mbps")
	if err != nil {
		t.Fatalf("ListVectors: %v", err)
	}
	if len(byVariant) != 4 {
		t.Fatalf("expected 4 variants, got %d", len(byVariant))
	}

	recs, err := s.ListRecords("llm_1", 10)
	if err != nil {
		t.Fatalf("ListRecords: %v", err)
	}
	if len(recs) != 1 || recs[0].Variant != "llm_1" {
		t.Fatalf("expected one llm_1 record, got %+v", recs)
	}
	all, err := s.ListRecords("", 10)
	if err != nil {
		t.Fatalf("ListRecords: %v", err)
	}
	if len(all) != 4 {
		t.Fatalf("expected 4 records, got %d", len(all))
	}
}

func TestSamples(t *testing.T) {
	s := tempDB(t)
	if err := s.PutSamples("ref", "Throughput_Mbps", []float64{10, 20, 30}); err != nil {
		t.Fatalf("PutSamples: %v", err)
	}
	mean, err := s.MeanSample("ref", "Throughput_Mbps")
	if err != nil {
		t.Fatalf("MeanSample: %v", err)
	}
	if mean != 20 {
		t.Fatalf("expected mean 20, got %f", mean)
	}

	if _, err := s.MeanSample("ref", "Avg_Delay_ms"); !errors.Is(err, attribution.ErrMissingReferenceData) {
		t.Fatalf("expected ErrMissingReferenceData, got %v", err)
	}

	if err := s.PutSamples("empty", "m", nil); err == nil {
		t.Fatal("expected error storing no samples")
	}
}

func TestResponses(t *testing.T) {
	s := tempDB(t)
	r := OracleResponse{UnitID: "u1", TargetEnv: "new0", ReferenceEnv: "ref", Metric: "Throughput_Mbps", Rank: 1, Prompt: "p", Response: "{}"}
	if err := s.SaveResponse(r); err != nil {
		t.Fatalf("SaveResponse: %v", err)
	}
	if err := s.SaveResponse(OracleResponse{UnitID: "u2", TargetEnv: "new0", ReferenceEnv: "ref2", Metric: "Throughput_Mbps", Rank: 2}); err != nil {
		t.Fatalf("SaveResponse: %v", err)
	}

	got, err := s.ListResponses("new0")
	if err != nil {
		t.Fatalf("ListResponses: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 responses, got %d", len(got))
	}
	if got[0].Response != "{}" || got[1].Response != "" || got[1].Rank != 2 {
		t.Fatalf("unexpected responses %+v", got)
	}
}

func TestEvaluations(t *testing.T) {
	s := tempDB(t)
	recs := []eval.Record{
		{Variant: "llm_1", Metric: "Throughput_Mbps", EnvID: "new0", Comparison: eval.Comparison{CosineError: 0.1, RMSE: 0.2, NRMSEMax: 0.3}, Pass: true},
		{Variant: "llm_2", Metric: "Throughput_Mbps", EnvID: "new0", Anomaly: "zero_vector", Comparison: eval.Comparison{CosineError: 1}},
	}
	if err := s.SaveEvaluations("run-a", recs); err != nil {
		t.Fatalf("SaveEvaluations: %v", err)
	}
	if err := s.SaveEvaluations("run-b", recs[:1]); err != nil {
		t.Fatalf("SaveEvaluations: %v", err)
	}

	got, err := s.ListEvaluations("run-a")
	if err != nil {
		t.Fatalf("ListEvaluations: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 records, got %d", len(got))
	}
	if got[0] != recs[0] || got[1] != recs[1] {
		t.Fatalf("round trip mismatch:\n%+v\n%+v", got, recs)
	}

	all, _ := s.ListEvaluations("")
	if len(all) != 3 {
		t.Fatalf("expected 3 records across runs, got %d", len(all))
	}
}

func TestExportJSON(t *testing.T) {
	s := tempDB(t)
	a := attribution.NewVector("new0", "Throughput_Mbps", map[string]float64{"A": 1.5})
	b := attribution.NewVector("new0", "Avg_Delay_ms", map[string]float64{"B": 0.25})
	for _, v := range []attribution.Vector{a, b} {
		if _, err := s.PutVector(v, attribution.VariantMerged, ""); err != nil {
			t.Fatalf("PutVector: %v", err)
		}
	}

	dir := t.TempDir()
	path, err := s.ExportJSON(dir, "new0", attribution.VariantMerged)
	if err != nil {
		t.Fatalf("ExportJSON: %v", err)
	}
	if path != filepath.Join(dir, "new0", "llm_merged.json") {
		t.Fatalf("unexpected path %s", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read export: %v", err)
	}
	var doc map[string]map[string]float64
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("unmarshal export: %v", err)
	}
	if doc["Throughput_Mbps"]["A"] != 1.5 || doc["Avg_Delay_ms"]["B"] != 0.25 {
		t.Fatalf("unexpected export %v", doc)
	}

	entries, _ := os.ReadDir(filepath.Join(dir, "new0"))
	if len(entries) != 1 {
		t.Fatalf("expected only the export file, found %d entries", len(entries))
	}

	if _, err := s.ExportJSON(dir, "new0", "extrapolated"); !errors.Is(err, attribution.ErrMissingReferenceData) {
		t.Fatalf("expected ErrMissingReferenceData, got %v", err)
	}
}

func TestValueRoundTrip(t *testing.T) {
	original := []float64{0, 1.5, -2.25, math.MaxFloat64, math.SmallestNonzeroFloat64}
	decoded, err := decodeValues(encodeValues(original))
	if err != nil {
		t.Fatalf("decodeValues: %v", err)
	}
	for i := range original {
		if original[i] != decoded[i] {
			t.Fatalf("mismatch at %d: %v != %v", i, original[i], decoded[i])
		}
	}
	if _, err := decodeValues([]byte{1, 2, 3}); err == nil {
		t.Fatal("expected error for truncated blob")
	}
}

func TestNewStoreInvalidPath(t *testing.T) {
	_, err := NewStore(filepath.Join(string(os.PathSeparator), "nonexistent", "deep", "path", "test.db"))
	if err == nil {
		t.Fatal("expected error for invalid path")
	}
}

func TestNewStorePragmasOnEveryConnection(t *testing.T) {
	s := tempDB(t)
	ctx := context.Background()

	// Hold several connections open at once so the pool has to dial new ones.
	var conns []*sql.Conn
	for i := 0; i < 4; i++ {
		c, err := s.DB().Conn(ctx)
		if err != nil {
			t.Fatalf("conn %d: %v", i, err)
		}
		conns = append(conns, c)
	}
	for i, c := range conns {
		var timeout int
		if err := c.QueryRowContext(ctx, "PRAGMA busy_timeout").Scan(&timeout); err != nil {
			t.Fatalf("conn %d busy_timeout: %v", i, err)
		}
		if timeout != busyTimeoutMs {
			t.Errorf("conn %d busy_timeout = %d, want %d", i, timeout, busyTimeoutMs)
		}
		var mode string
		if err := c.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&mode); err != nil {
			t.Fatalf("conn %d journal_mode: %v", i, err)
		}
		if mode != "wal" {
			t.Errorf("conn %d journal_mode = %q, want wal", i, mode)
		}
	}
	for _, c := range conns {
		c.Close()
	}
}

func TestPutVectorConcurrentWriters(t *testing.T) {
	s := tempDB(t)
	const writers = 16
	const perWriter = 5

	var wg sync.WaitGroup
	errs := make(chan error, writers*perWriter)
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				v := attribution.NewVector(fmt.Sprintf("ORAN_embb_%d", w), "Throughput_Mbps", map[string]float64{
					"TxPower": float64(i + 1), "PRB_num": 0.5,
				})
				if _, err := s.PutVector(v, fmt.Sprintf("llm_%d", i+1), "test"); err != nil {
					errs <- err
				}
				if err := s.PutSamples(v.EnvID, v.Metric, []float64{float64(i)}); err != nil {
					errs <- err
				}
			}
		}(w)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent write: %v", err)
	}

	recs, err := s.ListRecords("llm_3", 100)
	if err != nil {
		t.Fatalf("ListRecords: %v", err)
	}
	if len(recs) != writers {
		t.Errorf("llm_3 rows = %d, want %d", len(recs), writers)
	}
}

// corruptDB opens an in-memory SQLite with the full schema via NewStoreWithDB
// so tests can drop tables or insert bad rows.
func corruptDB(t *testing.T) (*Store, *sql.DB) {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open in-memory db: %v", err)
	}
	db.SetMaxOpenConns(1)
	if err := Migrate(db); err != nil {
		t.Fatalf("create schema: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewStoreWithDB(db), db
}

func TestGetVector_BadFeatureJSON(t *testing.T) {
	s, db := corruptDB(t)
	_, err := db.Exec(
		`INSERT INTO vectors (id, env_id, metric, variant, features, vals, created_at)
		 VALUES ('x', 'e', 'm', 'measured', 'not-json', x'', '2026-01-01T00:00:00Z')`,
	)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := s.GetVector("e", "m", "measured"); err == nil {
		t.Fatal("expected error for bad feature JSON")
	}
}

func TestGetVector_LengthMismatch(t *testing.T) {
	s, db := corruptDB(t)
	_, err := db.Exec(
		`INSERT INTO vectors (id, env_id, metric, variant, features, vals, created_at)
		 VALUES ('x', 'e', 'm', 'measured', '["a","b"]', ?, '2026-01-01T00:00:00Z')`,
		encodeValues([]float64{1}),
	)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := s.GetVector("e", "m", "measured"); err == nil {
		t.Fatal("expected error for feature/value length mismatch")
	}
}

func TestSaveEvaluations_TableMissing(t *testing.T) {
	s, db := corruptDB(t)
	db.Exec("DROP TABLE evaluations")
	if err := s.SaveEvaluations("r", []eval.Record{{Variant: "v"}}); err == nil {
		t.Fatal("expected error when evaluations table is missing")
	}
}

func TestOperationsOnClosedDB(t *testing.T) {
	s := tempDB(t)
	s.Close()

	if err := s.ImportVector(measured("e"), ""); err == nil {
		t.Fatal("ImportVector: expected error on closed DB")
	}
	if _, err := s.PutVector(measured("e"), "llm_1", ""); err == nil {
		t.Fatal("PutVector: expected error on closed DB")
	}
	if _, err := s.ListVectors("e", "m"); err == nil {
		t.Fatal("ListVectors: expected error on closed DB")
	}
	if err := s.PutSamples("e", "m", []float64{1}); err == nil {
		t.Fatal("PutSamples: expected error on closed DB")
	}
	if err := s.SaveResponse(OracleResponse{UnitID: "u"}); err == nil {
		t.Fatal("SaveResponse: expected error on closed DB")
	}
	if _, err := s.ListEvaluations(""); err == nil {
		t.Fatal("ListEvaluations: expected error on closed DB")
	}
}
