package scoring

import (
	"fmt"
	"time"

	"driftwatch/internal/store"
	"driftwatch/internal/types"
)

// Retention is the score-history window; older snapshots are pruned
const Retention = 24 * time.Hour

// Recorder persists periodic distraction-score snapshots as a bounded series
type Recorder struct {
	store *store.Store
}

// NewRecorder creates a recorder backed by the store
func NewRecorder(st *store.Store) *Recorder {
	return &Recorder{store: st}
}

// Snapshot appends one entry (overall = mean of per-domain scores) and
// enforces the retention window
func (r *Recorder) Snapshot(perDomain map[string]float64, totalEvents int) error {
	if len(perDomain) == 0 {
		return nil
	}

	overall := 0.0
	for _, v := range perDomain {
		overall += v
	}
	overall /= float64(len(perDomain))

	entry := types.DistractionScoreEntry{
		Timestamp:       time.Now(),
		OverallScore:    overall,
		PerDomainScores: perDomain,
		TotalEvents:     totalEvents,
	}
	if err := r.store.AppendScore(entry); err != nil {
		return fmt.Errorf("failed to record snapshot: %w", err)
	}
	return r.store.PruneScores(Retention)
}

// History returns the snapshots from the trailing rng window (capped at the
// retention window)
func (r *Recorder) History(rng time.Duration) ([]types.DistractionScoreEntry, error) {
	if rng <= 0 || rng > Retention {
		rng = Retention
	}
	now := time.Now()
	return r.store.ScoreHistory(now.Add(-rng), now)
}
