// Package revision decides when a document save deserves an immutable
// snapshot and implements recovery and restore with undo.
package revision

import (
	"time"

	"github.com/bainianlaoyao/stream-note/internal/model"
)

const (
	AutoSaveInterval = 30 * time.Second
	AbsoluteDelta    = 120
	RelativeDelta    = 0.18

	PreDestructiveMinChars  = 80
	PreDestructiveDropRatio = 0.4

	CandidateWindow = 200
	MaxCandidates   = 3
	YesterdayAge    = 24 * time.Hour
)

// Candidate kinds.
const (
	KindLatest    = "latest"
	KindYesterday = "yesterday"
	KindStable    = "stable"
)

// Candidate is a revision offered for recovery.
type Candidate struct {
	Kind     string         `json:"kind"`
	Revision model.Revision `json:"revision"`
}

// IsDestructive reports whether shrinking from oldChars to newChars drops
// enough text to warrant keeping the old content.
func IsDestructive(oldChars, newChars int) bool {
	if oldChars < PreDestructiveMinChars || newChars >= oldChars {
		return false
	}
	return float64(oldChars-newChars)/float64(oldChars) >= PreDestructiveDropRatio
}

// ShouldAutoSave reports whether new content hashing to newHash with
// newChars characters warrants a snapshot after latest. A nil latest always
// does; matching content never does.
func ShouldAutoSave(latest *model.Revision, newHash string, newChars int, now time.Time) bool {
	if latest == nil {
		return true
	}
	if latest.ContentHash == newHash {
		return false
	}
	if now.Sub(latest.CreatedAt) >= AutoSaveInterval {
		return true
	}
	delta := newChars - latest.CharCount
	if delta < 0 {
		delta = -delta
	}
	if delta >= AbsoluteDelta {
		return true
	}
	return float64(delta)/float64(max(1, latest.CharCount)) >= RelativeDelta
}

// PickCandidates selects recovery candidates from revs, which must be
// ordered newest first.
func PickCandidates(revs []model.Revision, now time.Time) []Candidate {
	if len(revs) == 0 {
		return nil
	}
	if len(revs) > CandidateWindow {
		revs = revs[:CandidateWindow]
	}

	picked := map[string]bool{revs[0].ID: true}
	out := []Candidate{{Kind: KindLatest, Revision: revs[0]}}

	for _, r := range revs {
		if picked[r.ID] {
			continue
		}
		if now.Sub(r.CreatedAt) >= YesterdayAge {
			picked[r.ID] = true
			out = append(out, Candidate{Kind: KindYesterday, Revision: r})
			break
		}
	}

	stable := -1
	for i, r := range revs {
		if picked[r.ID] {
			continue
		}
		// Newest first, so strict > keeps the newest on ties.
		if stable < 0 || r.CharCount > revs[stable].CharCount {
			stable = i
		}
	}
	if stable >= 0 {
		out = append(out, Candidate{Kind: KindStable, Revision: revs[stable]})
	}

	if len(out) > MaxCandidates {
		out = out[:MaxCandidates]
	}
	return out
}
