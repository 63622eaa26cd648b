// File: internal/history/history.go
// Description: Bounded, most-recent-first history of bite records shared by
// every storage backend.

package history

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/bitesense/api/schemas"
)

// Capacity is the number of records kept. Older records are dropped on append.
const Capacity = 10

// ErrNotFound is returned by Get when no record has the requested id.
var ErrNotFound = errors.New("bite record not found")

// Store persists bite records. Every implementation keeps at most Capacity
// records, lists them newest first and reads fresh on every call.
type Store interface {
	// Append assigns an id and timestamp, inserts rec at the head and trims
	// the history to Capacity, all in one atomic step.
	Append(ctx context.Context, rec schemas.BiteRecord) (schemas.BiteRecord, error)
	// Clear atomically removes every record.
	Clear(ctx context.Context) error
	// List returns the records, newest first. Corrupt data yields an empty list.
	List(ctx context.Context) ([]schemas.BiteRecord, error)
	// Get returns the record with the given id or ErrNotFound.
	Get(ctx context.Context, id string) (schemas.BiteRecord, error)
	Close() error
}

var codec = jsoniter.ConfigCompatibleWithStandardLibrary

// stamp fills in the fields assigned at save time.
func stamp(rec schemas.BiteRecord, now time.Time) schemas.BiteRecord {
	rec.ID = uuid.NewString()
	rec.CreatedAt = now.UTC()
	rec.Analysis = rec.Analysis.Clone()
	return rec
}

// prepend inserts rec at the head and keeps the Capacity newest records.
func prepend(list []schemas.BiteRecord, rec schemas.BiteRecord) []schemas.BiteRecord {
	out := make([]schemas.BiteRecord, 0, min(len(list)+1, Capacity))
	out = append(out, rec)
	for _, r := range list {
		if len(out) == Capacity {
			break
		}
		out = append(out, r)
	}
	return out
}

func find(list []schemas.BiteRecord, id string) (schemas.BiteRecord, error) {
	for _, r := range list {
		if r.ID == id {
			return r, nil
		}
	}
	return schemas.BiteRecord{}, ErrNotFound
}

func encodeList(list []schemas.BiteRecord) ([]byte, error) {
	if list == nil {
		list = []schemas.BiteRecord{}
	}
	return codec.Marshal(list)
}

// decodeList parses a serialized history. Corrupt data is logged and
// treated as an empty history.
func decodeList(data []byte, logger *zap.Logger) []schemas.BiteRecord {
	if len(data) == 0 {
		return []schemas.BiteRecord{}
	}
	var list []schemas.BiteRecord
	if err := codec.Unmarshal(data, &list); err != nil {
		logger.Warn("Discarding corrupt bite history", zap.Error(err), zap.Int("bytes", len(data)))
		return []schemas.BiteRecord{}
	}
	if list == nil {
		return []schemas.BiteRecord{}
	}
	return list
}
