package store

import (
	"time"

	"github.com/danielpatrickdp/importance-shift/internal/attribution"
)

// #region vector-record
// VectorRecord is one persisted vector with its storage metadata.
type VectorRecord struct {
	ID        string
	Variant   string
	Source    string // file or unit that produced it
	Vector    attribution.Vector
	CreatedAt time.Time
}

// Key identifies a stored vector.
type Key struct {
	EnvID   string
	Metric  string
	Variant string
}

// #endregion vector-record

// #region oracle-response
// OracleResponse is the raw text returned for one recovery unit, kept so the
// parse can be replayed offline.
type OracleResponse struct {
	UnitID       string
	TargetEnv    string
	ReferenceEnv string
	Metric       string
	Rank         int
	Prompt       string
	Response     string
	CreatedAt    time.Time
}

// #endregion oracle-response
