// Package store persists checkpoint state so interrupted analysis runs can
// resume.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/examprep/examprep-cli/internal/model"
)

// ErrNotFound is returned when a write targets a checkpoint that does not exist.
var ErrNotFound = eris.New("checkpoint not found")

// CheckpointStore persists per-run progress. Each checkpoint id has a single
// writer: RecordUnit is a read-modify-write and concurrent writers to the same
// id are not serialized.
type CheckpointStore interface {
	// Initialize creates an empty checkpoint and returns its id.
	Initialize(ctx context.Context, subject string, totalUnits int) (string, error)
	// RecordUnit adds a completed unit and its analysis.
	RecordUnit(ctx context.Context, id string, unit int, analysis model.UnitAnalysis) error
	// Load returns the checkpoint, or nil and no error when it is absent.
	Load(ctx context.Context, id string) (*model.CheckpointState, error)
	// Discard removes the checkpoint. Discarding an absent id is a no-op.
	Discard(ctx context.Context, id string) error
	// List returns the most recently updated checkpoints first.
	List(ctx context.Context, limit int) ([]model.CheckpointSummary, error)

	Migrate(ctx context.Context) error
	Close() error
}

// NewCheckpointID returns "<subject-slug>-<unixnano>-<uuid8>".
func NewCheckpointID(subject string, now time.Time) string {
	return fmt.Sprintf("%s-%d-%s", slug(subject), now.UnixNano(), uuid.NewString()[:8])
}

func slug(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(s) {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			b.WriteRune(r)
			dash = false
		case !dash && b.Len() > 0:
			b.WriteByte('-')
			dash = true
		}
		if b.Len() >= 40 {
			break
		}
	}
	out := strings.Trim(b.String(), "-")
	if out == "" {
		return "run"
	}
	return out
}

func validateTotal(totalUnits int) error {
	if totalUnits <= 0 {
		return eris.Errorf("store: total units must be positive, got %d", totalUnits)
	}
	return nil
}

func encodeState(st *model.CheckpointState) ([]byte, error) {
	data, err := json.Marshal(st)
	if err != nil {
		return nil, eris.Wrap(err, "store: encode checkpoint")
	}
	return data, nil
}

func decodeState(data []byte) (*model.CheckpointState, error) {
	var st model.CheckpointState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, eris.Wrap(err, "store: decode checkpoint")
	}
	if st.CompletedUnits == nil {
		st.CompletedUnits = []int{}
	}
	if st.Results == nil {
		st.Results = make(map[int]model.UnitAnalysis)
	}
	return &st, nil
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > 1000 {
		return 50
	}
	return limit
}
