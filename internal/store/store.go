// Package store persists attribution vectors, metric samples, raw oracle
// responses and evaluation records in SQLite.
package store

import (
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/stat"
	_ "modernc.org/sqlite"

	"github.com/danielpatrickdp/importance-shift/internal/attribution"
	"github.com/danielpatrickdp/importance-shift/internal/eval"
)

// ErrImmutable is returned when an import would overwrite a measured vector
// with different content.
var ErrImmutable = errors.New("measured vector already stored with different values")

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS vectors (
	id          TEXT PRIMARY KEY,
	env_id      TEXT NOT NULL,
	metric      TEXT NOT NULL,
	variant     TEXT NOT NULL,
	features    TEXT NOT NULL,
	vals        BLOB NOT NULL,
	source      TEXT,
	created_at  TEXT NOT NULL,
	UNIQUE (env_id, metric, variant)
);

CREATE TABLE IF NOT EXISTS metric_samples (
	env_id      TEXT NOT NULL,
	metric      TEXT NOT NULL,
	samples     BLOB NOT NULL,
	PRIMARY KEY (env_id, metric)
);

CREATE TABLE IF NOT EXISTS oracle_responses (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	unit_id       TEXT NOT NULL,
	target_env    TEXT NOT NULL,
	reference_env TEXT NOT NULL,
	metric        TEXT NOT NULL,
	rank          INTEGER NOT NULL,
	prompt        TEXT,
	response      TEXT,
	created_at    TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS provenance_log (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	unit_id       TEXT NOT NULL,
	env_id        TEXT NOT NULL,
	metric        TEXT NOT NULL,
	variant       TEXT,
	action        TEXT NOT NULL,
	kind          TEXT,
	detail_json   TEXT,
	reason        TEXT,
	created_at    TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS evaluations (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id        TEXT NOT NULL,
	variant       TEXT NOT NULL,
	metric        TEXT NOT NULL,
	env_id        TEXT NOT NULL,
	cosine_error  REAL NOT NULL,
	rmse          REAL NOT NULL,
	nrmse_max     REAL NOT NULL,
	pass          INTEGER NOT NULL,
	anomaly       TEXT,
	created_at    TEXT NOT NULL
);
`

// #endregion schema

// #region store-struct
// Store manages persisted vectors in SQLite.
type Store struct {
	db *sql.DB
}

// #endregion store-struct

// #region constructor
// NewStore opens a SQLite database and runs migrations. The pragmas travel in
// the DSN so every pooled connection gets them; transactions take the write
// lock at BEGIN and wait up to busyTimeoutMs for concurrent writers.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

const busyTimeoutMs = 5000

func dsn(path string) string {
	return fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_txlock=immediate", path, busyTimeoutMs)
}

// NewStoreWithDB wraps an already-migrated database.
func NewStoreWithDB(db *sql.DB) *Store {
	return &Store{db: db}
}

// Migrate creates the schema on db.
func Migrate(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// #endregion constructor

// #region close
// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for use by other packages (e.g. logging).
func (s *Store) DB() *sql.DB {
	return s.db
}

// #endregion close

// #region import-vector
// ImportVector stores a measured vector. Measured vectors are immutable:
// re-importing identical content is a no-op, different content is
// ErrImmutable.
func (s *Store) ImportVector(v attribution.Vector, source string) error {
	if err := v.Validate(); err != nil {
		return fmt.Errorf("import %s/%s: %w", v.EnvID, v.Metric, err)
	}
	features, values := v.Pairs()
	featJSON, err := json.Marshal(features)
	if err != nil {
		return fmt.Errorf("marshal features: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(
		`INSERT INTO vectors (id, env_id, metric, variant, features, vals, source, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(env_id, metric, variant) DO NOTHING`,
		uuid.New().String(), v.EnvID, v.Metric, attribution.VariantMeasured,
		string(featJSON), encodeValues(values), nullIfEmpty(source), now(),
	)
	if err != nil {
		return fmt.Errorf("insert vector: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		var storedFeat string
		var storedVals []byte
		err := tx.QueryRow(
			`SELECT features, vals FROM vectors WHERE env_id = ? AND metric = ? AND variant = ?`,
			v.EnvID, v.Metric, attribution.VariantMeasured,
		).Scan(&storedFeat, &storedVals)
		if err != nil {
			return fmt.Errorf("read existing vector: %w", err)
		}
		if storedFeat != string(featJSON) || string(storedVals) != string(encodeValues(values)) {
			return fmt.Errorf("%s/%s: %w", v.EnvID, v.Metric, ErrImmutable)
		}
	}
	return tx.Commit()
}

// #endregion import-vector

// #region put-vector
// PutVector upserts a derived vector under variant and returns its row ID.
// The measured variant is reserved for ImportVector.
func (s *Store) PutVector(v attribution.Vector, variant, source string) (string, error) {
	if variant == attribution.VariantMeasured {
		return "", fmt.Errorf("put %s/%s: variant %q is import-only", v.EnvID, v.Metric, variant)
	}
	features, values := v.Pairs()
	featJSON, err := json.Marshal(features)
	if err != nil {
		return "", fmt.Errorf("marshal features: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return "", fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	id := uuid.New().String()
	_, err = tx.Exec(
		`INSERT INTO vectors (id, env_id, metric, variant, features, vals, source, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(env_id, metric, variant) DO UPDATE SET
		   id = excluded.id, features = excluded.features, vals = excluded.vals,
		   source = excluded.source, created_at = excluded.created_at`,
		id, v.EnvID, v.Metric, variant, string(featJSON), encodeValues(values), nullIfEmpty(source), now(),
	)
	if err != nil {
		return "", fmt.Errorf("upsert vector: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}
	return id, nil
}

// #endregion put-vector

// #region get-vector
// GetVector reads one vector. A missing row is ErrMissingReferenceData.
func (s *Store) GetVector(envID, metric, variant string) (attribution.Vector, error) {
	rec, err := s.scanVector(s.db.QueryRow(
		`SELECT id, env_id, metric, variant, features, vals, source, created_at
		 FROM vectors WHERE env_id = ? AND metric = ? AND variant = ?`,
		envID, metric, variant,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return attribution.Vector{}, fmt.Errorf("%s/%s/%s: %w", envID, metric, variant, attribution.ErrMissingReferenceData)
	}
	if err != nil {
		return attribution.Vector{}, fmt.Errorf("get vector %s/%s/%s: %w", envID, metric, variant, err)
	}
	return rec.Vector, nil
}

// ListVectors returns every variant stored for (envID, metric), keyed by
// variant.
func (s *Store) ListVectors(envID, metric string) (map[string]attribution.Vector, error) {
	rows, err := s.db.Query(
		`SELECT id, env_id, metric, variant, features, vals, source, created_at
		 FROM vectors WHERE env_id = ? AND metric = ? ORDER BY variant`,
		envID, metric,
	)
	if err != nil {
		return nil, fmt.Errorf("list vectors: %w", err)
	}
	defer rows.Close()

	out := make(map[string]attribution.Vector)
	for rows.Next() {
		rec, err := s.scanVector(rows)
		if err != nil {
			return nil, err
		}
		out[rec.Variant] = rec.Vector
	}
	return out, rows.Err()
}

// ListRecords returns stored vectors, newest first. An empty variant lists
// all variants.
func (s *Store) ListRecords(variant string, limit int) ([]VectorRecord, error) {
	rows, err := s.db.Query(
		`SELECT id, env_id, metric, variant, features, vals, source, created_at
		 FROM vectors WHERE (? = '' OR variant = ?) ORDER BY created_at DESC, env_id, metric LIMIT ?`,
		variant, variant, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	var out []VectorRecord
	for rows.Next() {
		rec, err := s.scanVector(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Store) scanVector(row rowScanner) (VectorRecord, error) {
	var rec VectorRecord
	var envID, metric, featJSON, createdStr string
	var blob []byte
	var source sql.NullString
	if err := row.Scan(&rec.ID, &envID, &metric, &rec.Variant, &featJSON, &blob, &source, &createdStr); err != nil {
		return VectorRecord{}, err
	}
	var features []string
	if err := json.Unmarshal([]byte(featJSON), &features); err != nil {
		return VectorRecord{}, fmt.Errorf("unmarshal features for %s/%s: %w", envID, metric, err)
	}
	values, err := decodeValues(blob)
	if err != nil {
		return VectorRecord{}, fmt.Errorf("decode values for %s/%s: %w", envID, metric, err)
	}
	rec.Vector, err = attribution.FromPairs(envID, metric, features, values)
	if err != nil {
		return VectorRecord{}, err
	}
	if source.Valid {
		rec.Source = source.String
	}
	rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
	return rec, nil
}

// #endregion get-vector

// #region metric-samples
// PutSamples replaces the metric samples for (envID, metric).
func (s *Store) PutSamples(envID, metric string, samples []float64) error {
	if len(samples) == 0 {
		return fmt.Errorf("put samples %s/%s: no samples", envID, metric)
	}
	_, err := s.db.Exec(
		`INSERT INTO metric_samples (env_id, metric, samples) VALUES (?, ?, ?)
		 ON CONFLICT(env_id, metric) DO UPDATE SET samples = excluded.samples`,
		envID, metric, encodeValues(samples),
	)
	if err != nil {
		return fmt.Errorf("put samples %s/%s: %w", envID, metric, err)
	}
	return nil
}

// MeanSample returns the mean of the stored samples. No samples is
// ErrMissingReferenceData.
func (s *Store) MeanSample(envID, metric string) (float64, error) {
	var blob []byte
	err := s.db.QueryRow(
		`SELECT samples FROM metric_samples WHERE env_id = ? AND metric = ?`, envID, metric,
	).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("samples %s/%s: %w", envID, metric, attribution.ErrMissingReferenceData)
	}
	if err != nil {
		return 0, fmt.Errorf("get samples %s/%s: %w", envID, metric, err)
	}
	samples, err := decodeValues(blob)
	if err != nil {
		return 0, fmt.Errorf("decode samples %s/%s: %w", envID, metric, err)
	}
	if len(samples) == 0 {
		return 0, fmt.Errorf("samples %s/%s: empty: %w", envID, metric, attribution.ErrMissingReferenceData)
	}
	return stat.Mean(samples, nil), nil
}

// #endregion metric-samples

// #region oracle-responses
// SaveResponse records the raw oracle text for a unit.
func (s *Store) SaveResponse(r OracleResponse) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(
		`INSERT INTO oracle_responses (unit_id, target_env, reference_env, metric, rank, prompt, response, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.UnitID, r.TargetEnv, r.ReferenceEnv, r.Metric, r.Rank,
		nullIfEmpty(r.Prompt), nullIfEmpty(r.Response), r.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("save response: %w", err)
	}
	return nil
}

// ListResponses returns the responses recorded for targetEnv in insertion
// order.
func (s *Store) ListResponses(targetEnv string) ([]OracleResponse, error) {
	rows, err := s.db.Query(
		`SELECT unit_id, target_env, reference_env, metric, rank, prompt, response, created_at
		 FROM oracle_responses WHERE target_env = ? ORDER BY id`, targetEnv,
	)
	if err != nil {
		return nil, fmt.Errorf("list responses: %w", err)
	}
	defer rows.Close()

	var out []OracleResponse
	for rows.Next() {
		var r OracleResponse
		var prompt, response sql.NullString
		var createdStr string
		if err := rows.Scan(&r.UnitID, &r.TargetEnv, &r.ReferenceEnv, &r.Metric, &r.Rank, &prompt, &response, &createdStr); err != nil {
			return nil, fmt.Errorf("scan response: %w", err)
		}
		r.Prompt, r.Response = prompt.String, response.String
		r.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
		out = append(out, r)
	}
	return out, rows.Err()
}

// #endregion oracle-responses

// #region evaluations
// SaveEvaluations stores the records of one evaluation run in a single
// transaction.
func (s *Store) SaveEvaluations(runID string, records []eval.Record) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(
		`INSERT INTO evaluations (run_id, variant, metric, env_id, cosine_error, rmse, nrmse_max, pass, anomaly, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	ts := now()
	for _, r := range records {
		pass := 0
		if r.Pass {
			pass = 1
		}
		if _, err := stmt.Exec(runID, r.Variant, r.Metric, r.EnvID, r.CosineError, r.RMSE, r.NRMSEMax, pass, nullIfEmpty(r.Anomaly), ts); err != nil {
			return fmt.Errorf("insert evaluation %s/%s/%s: %w", r.EnvID, r.Metric, r.Variant, err)
		}
	}
	return tx.Commit()
}

// ListEvaluations returns the records of runID, or of every run when runID is
// empty.
func (s *Store) ListEvaluations(runID string) ([]eval.Record, error) {
	rows, err := s.db.Query(
		`SELECT variant, metric, env_id, cosine_error, rmse, nrmse_max, pass, anomaly
		 FROM evaluations WHERE (? = '' OR run_id = ?) ORDER BY id`, runID, runID,
	)
	if err != nil {
		return nil, fmt.Errorf("list evaluations: %w", err)
	}
	defer rows.Close()

	var out []eval.Record
	for rows.Next() {
		var r eval.Record
		var pass int
		var anomaly sql.NullString
		if err := rows.Scan(&r.Variant, &r.Metric, &r.EnvID, &r.CosineError, &r.RMSE, &r.NRMSEMax, &pass, &anomaly); err != nil {
			return nil, fmt.Errorf("scan evaluation: %w", err)
		}
		r.Pass = pass == 1
		r.Anomaly = anomaly.String
		out = append(out, r)
	}
	return out, rows.Err()
}

// #endregion evaluations

// #region export
// ExportJSON writes {metric: {feature: value}} for every metric stored under
// (envID, variant) to dir/<envID>/<variant>.json. The file is written to a
// temporary name and renamed so readers never see a partial file.
func (s *Store) ExportJSON(dir, envID, variant string) (string, error) {
	rows, err := s.db.Query(
		`SELECT id, env_id, metric, variant, features, vals, source, created_at
		 FROM vectors WHERE env_id = ? AND variant = ? ORDER BY metric`, envID, variant,
	)
	if err != nil {
		return "", fmt.Errorf("query export: %w", err)
	}
	defer rows.Close()

	doc := make(map[string]map[string]float64)
	for rows.Next() {
		rec, err := s.scanVector(rows)
		if err != nil {
			return "", err
		}
		doc[rec.Vector.Metric] = rec.Vector.Values
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("iterate export: %w", err)
	}
	if len(doc) == 0 {
		return "", fmt.Errorf("export %s/%s: %w", envID, variant, attribution.ErrMissingReferenceData)
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal export: %w", err)
	}
	outDir := filepath.Join(dir, envID)
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", fmt.Errorf("mkdir export dir: %w", err)
	}
	path := filepath.Join(outDir, variant+".json")
	if err := writeFileAtomic(path, data); err != nil {
		return "", err
	}
	return path, nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}

// #endregion export

// #region vector-encoding
func encodeValues(v []float64) []byte {
	buf := make([]byte, len(v)*8)
	for i, f := range v {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(f))
	}
	return buf
}

func decodeValues(b []byte) ([]float64, error) {
	if len(b)%8 != 0 {
		return nil, fmt.Errorf("blob length %d is not a multiple of 8", len(b))
	}
	v := make([]float64, len(b)/8)
	for i := range v {
		v[i] = math.Float64frombits(binary.LittleEndian.Uint64(b[i*8:]))
	}
	return v, nil
}

// #endregion vector-encoding

// #region helpers
func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// #endregion helpers
