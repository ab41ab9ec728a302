// Package store keeps a record of every conversion.
//
// Records let the upload server answer "what happened to upload X" after the
// response has been sent, and let the CLI list recent conversions. Three
// backends are provided:
//   - Memory: in-process storage for tests and single-instance servers
//   - FileStore: one JSON file per record, for the CLI
//   - Mongo: shared storage for multi-instance deployments
//
// # Usage
//
//	st := store.NewMemory()
//	rec := store.FromOutcome(outcome, err, url)
//	if err := st.Put(ctx, rec); err != nil {
//	    return err
//	}
//
//	rec, err := st.Get(ctx, id)
//	if err != nil {
//	    return err
//	}
//	if rec == nil {
//	    // Unknown conversion
//	}
package store

import (
	"context"
	"time"

	"github.com/matzehuels/gerbershot/pkg/errors"
	"github.com/matzehuels/gerbershot/pkg/pipeline"
)

// Status is the final state of a conversion.
type Status string

// Conversion statuses.
const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// DefaultListLimit bounds List when no limit is given.
const DefaultListLimit = 50

// Record describes one finished conversion.
type Record struct {
	ID        string           `json:"id" bson:"_id"`
	Archive   string           `json:"archive" bson:"archive"`
	Status    Status           `json:"status" bson:"status"`
	Code      errors.Code      `json:"code,omitempty" bson:"code,omitempty"`
	Message   string           `json:"message,omitempty" bson:"message,omitempty"`
	Artifact  string           `json:"artifact,omitempty" bson:"artifact,omitempty"`
	URL       string           `json:"url,omitempty" bson:"url,omitempty"`
	FileCount int              `json:"file_count" bson:"file_count"`
	CacheHit  bool             `json:"cache_hit" bson:"cache_hit"`
	Warnings  []errors.Warning `json:"warnings,omitempty" bson:"warnings,omitempty"`
	Duration  time.Duration    `json:"duration" bson:"duration"`
	CreatedAt time.Time        `json:"created_at" bson:"created_at"`
}

// FromOutcome builds a record from the result of a conversion. out may be nil
// when the conversion failed before a scratch directory was acquired; the
// record then gets a fresh ID from the caller via id.
func FromOutcome(id string, out *pipeline.Outcome, err error, url string) *Record {
	rec := &Record{
		ID:        id,
		Status:    StatusSucceeded,
		URL:       url,
		CreatedAt: time.Now().UTC(),
	}
	if out != nil {
		rec.ID = out.ID
		rec.Archive = out.Archive
		rec.Artifact = out.Artifact.Name
		rec.FileCount = out.FileCount
		rec.CacheHit = out.CacheHit
		rec.Warnings = out.Warnings
		rec.Duration = out.Stats.TotalTime
	}
	if err != nil {
		rec.Status = StatusFailed
		rec.Code = errors.GetCode(err)
		if rec.Code == "" {
			rec.Code = errors.ErrCodeInternal
		}
		rec.Message = errors.UserMessage(err)
		rec.Artifact = ""
		rec.URL = ""
	}
	return rec
}

// Store is the interface for record storage backends.
type Store interface {
	// Get retrieves a record by ID.
	// Returns nil, nil if the record doesn't exist.
	Get(ctx context.Context, id string) (*Record, error)

	// Put stores a record, replacing any record with the same ID.
	Put(ctx context.Context, rec *Record) error

	// List returns up to limit records, newest first.
	List(ctx context.Context, limit int) ([]*Record, error)

	// Delete removes a record. Deleting a missing record is not an error.
	Delete(ctx context.Context, id string) error

	// Close releases backend resources.
	Close() error
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	return limit
}
