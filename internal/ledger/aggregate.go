package ledger

import (
	"sort"
	"time"

	"fluxrepair/pkg/domain"
)

// ReactionFrequency counts how many successful repairs added a reaction.
type ReactionFrequency struct {
	ReactionID string  `json:"reaction_id" yaml:"reaction_id"`
	Count      int     `json:"count" yaml:"count"`
	Percent    float64 `json:"percent" yaml:"percent"`
}

// Frequencies counts reaction identifiers across REPAIR_SUCCEEDED rows,
// ranked by count descending then identifier ascending. Percent is relative
// to the number of rows passed in. It is a pure function of rows, so it can
// be recomputed from any persisted ledger.
func Frequencies(rows []domain.Outcome) []ReactionFrequency {
	counts := make(map[string]int)
	for _, r := range rows {
		if r.Classification != domain.ClassRepairSucceeded {
			continue
		}
		for _, id := range r.ReactionsAdded {
			counts[id]++
		}
	}
	return rank(counts, len(rows))
}

// SetFrequencies counts how many of the added sets contain each reaction.
// Percent is relative to the number of sets.
func SetFrequencies(sets [][]string) []ReactionFrequency {
	counts := make(map[string]int)
	for _, set := range sets {
		seen := make(map[string]struct{}, len(set))
		for _, id := range set {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			counts[id]++
		}
	}
	return rank(counts, len(sets))
}

func rank(counts map[string]int, total int) []ReactionFrequency {
	out := make([]ReactionFrequency, 0, len(counts))
	for id, n := range counts {
		f := ReactionFrequency{ReactionID: id, Count: n}
		if total > 0 {
			f.Percent = 100 * float64(n) / float64(total)
		}
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].ReactionID < out[j].ReactionID
	})
	return out
}

// Top returns at most n leading entries of freqs. n <= 0 returns all.
func Top(freqs []ReactionFrequency, n int) []ReactionFrequency {
	if n <= 0 || n >= len(freqs) {
		return freqs
	}
	return freqs[:n]
}

// AddedStats describes the size distribution of successful repairs.
type AddedStats struct {
	Mean   float64 `json:"mean" yaml:"mean"`
	Median float64 `json:"median" yaml:"median"`
	Max    int     `json:"max" yaml:"max"`
}

// Summary is the end-of-run report: totals per classification and per error
// category plus run timing.
type Summary struct {
	RunID           string                        `json:"run_id" yaml:"run_id"`
	StartedAt       time.Time                     `json:"started_at" yaml:"started_at"`
	FinishedAt      time.Time                     `json:"finished_at" yaml:"finished_at"`
	ElapsedSeconds  float64                       `json:"elapsed_seconds" yaml:"elapsed_seconds"`
	Total           int                           `json:"total" yaml:"total"`
	RepairAttempted int                           `json:"repair_attempted" yaml:"repair_attempted"`
	Grew            int                           `json:"grew" yaml:"grew"`
	Classifications map[domain.Classification]int `json:"classifications" yaml:"classifications"`
	ErrorCategories map[domain.ErrorCategory]int  `json:"error_categories" yaml:"error_categories"`
	ReactionsAdded  AddedStats                    `json:"reactions_added" yaml:"reactions_added"`
	DistinctAdded   int                           `json:"distinct_reactions_added" yaml:"distinct_reactions_added"`
	MultiCandidate  int                           `json:"rows_with_multiple_candidates" yaml:"rows_with_multiple_candidates"`
}

// Summarize counts rows per classification and per error category. Every
// known classification appears in the map, with zero when unused, so a run
// with no successes still reports a complete table.
func Summarize(runID string, rows []domain.Outcome) Summary {
	s := Summary{
		RunID:           runID,
		Total:           len(rows),
		Classifications: make(map[domain.Classification]int, len(domain.Classifications)),
		ErrorCategories: make(map[domain.ErrorCategory]int),
	}
	for _, c := range domain.Classifications {
		s.Classifications[c] = 0
	}
	var sizes []int
	distinct := make(map[string]struct{})
	for _, r := range rows {
		s.Classifications[r.Classification]++
		if r.ErrorCategory != domain.CategoryNone {
			s.ErrorCategories[r.ErrorCategory]++
		}
		if r.RepairAttempted {
			s.RepairAttempted++
		}
		if r.Grew() {
			s.Grew++
		}
		if r.CandidateCount > 1 {
			s.MultiCandidate++
		}
		if r.Classification == domain.ClassRepairSucceeded {
			sizes = append(sizes, r.NumReactionsAdded())
			for _, id := range r.ReactionsAdded {
				distinct[id] = struct{}{}
			}
		}
	}
	s.DistinctAdded = len(distinct)
	s.ReactionsAdded = addedStats(sizes)
	return s
}

func addedStats(sizes []int) AddedStats {
	if len(sizes) == 0 {
		return AddedStats{}
	}
	sort.Ints(sizes)
	total := 0
	for _, n := range sizes {
		total += n
	}
	st := AddedStats{Mean: float64(total) / float64(len(sizes)), Max: sizes[len(sizes)-1]}
	mid := len(sizes) / 2
	if len(sizes)%2 == 1 {
		st.Median = float64(sizes[mid])
	} else {
		st.Median = float64(sizes[mid-1]+sizes[mid]) / 2
	}
	return st
}

// ErrorEntry is one line of the error log, keyed by experiment.
type ErrorEntry struct {
	Index     int                  `json:"index" yaml:"index"`
	Organism  string               `json:"organism" yaml:"organism"`
	OrgID     string               `json:"org_id" yaml:"org_id"`
	Condition string               `json:"condition" yaml:"condition"`
	Category  domain.ErrorCategory `json:"error_category" yaml:"error_category"`
	Message   string               `json:"error_message" yaml:"error_message"`
}

// ErrorLog lists the rows classified ERROR in work-list order.
func ErrorLog(rows []domain.Outcome) []ErrorEntry {
	var out []ErrorEntry
	for _, r := range rows {
		if r.Classification != domain.ClassError {
			continue
		}
		out = append(out, ErrorEntry{
			Index:     r.Index,
			Organism:  r.Organism,
			OrgID:     r.OrgID,
			Condition: r.Condition,
			Category:  r.ErrorCategory,
			Message:   r.ErrorMessage,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}
