package reconcile

import (
	"context"
	"fmt"
	"strings"
)

// Relation is one association collection of a publication keyed by K.
// Implementations run against the caller's open transaction and never commit.
type Relation[K comparable] interface {
	Current(ctx context.Context, publicationID int) ([]K, error)
	Remove(ctx context.Context, publicationID int, keys []K) (int64, error)
	Add(ctx context.Context, publicationID int, keys []K) (int64, error)
}

// Relations groups the three association collections of a publication
type Relations struct {
	Creators Relation[int]
	Genres   Relation[int]
	Keywords Relation[string]
}

// Target is the desired association state
type Target struct {
	CreatorIDs []int
	GenreIDs   []int
	Keywords   []string
}

// Normalize drops non-positive ids, trims keywords, discards blank keywords
// and collapses duplicates.
func (t Target) Normalize() Target {
	out := Target{
		CreatorIDs: positiveIDs(t.CreatorIDs),
		GenreIDs:   positiveIDs(t.GenreIDs),
	}
	keywords := make([]string, 0, len(t.Keywords))
	for _, k := range t.Keywords {
		if k = strings.TrimSpace(k); k != "" {
			keywords = append(keywords, k)
		}
	}
	out.Keywords = unique(keywords)
	return out
}

func positiveIDs(ids []int) []int {
	out := make([]int, 0, len(ids))
	for _, id := range ids {
		if id > 0 {
			out = append(out, id)
		}
	}
	return unique(out)
}

// Change records what was written for one relation
type Change[K comparable] struct {
	Added   []K   `json:"added,omitempty"`
	Removed []K   `json:"removed,omitempty"`
	Writes  int64 `json:"writes"`
}

// Report summarises a reconciliation
type Report struct {
	Creators Change[int]    `json:"creators"`
	Genres   Change[int]    `json:"genres"`
	Keywords Change[string] `json:"keywords"`
}

// Writes is the number of association rows inserted or deleted
func (r Report) Writes() int64 {
	return r.Creators.Writes + r.Genres.Writes + r.Keywords.Writes
}

// Changed reports whether any association row was written
func (r Report) Changed() bool {
	return r.Writes() > 0
}

// Reconcile diffs each relation of publicationID against target and applies
// removals then additions. It stops at the first error; the caller owns the
// transaction and must roll back every relation together.
func Reconcile(ctx context.Context, rels Relations, publicationID int, target Target) (Report, error) {
	var report Report
	target = target.Normalize()

	var err error
	if report.Creators, err = apply(ctx, rels.Creators, publicationID, target.CreatorIDs); err != nil {
		return report, fmt.Errorf("reconcile creators: %w", err)
	}
	if report.Genres, err = apply(ctx, rels.Genres, publicationID, target.GenreIDs); err != nil {
		return report, fmt.Errorf("reconcile genres: %w", err)
	}
	if report.Keywords, err = apply(ctx, rels.Keywords, publicationID, target.Keywords); err != nil {
		return report, fmt.Errorf("reconcile keywords: %w", err)
	}
	return report, nil
}

func apply[K comparable](ctx context.Context, rel Relation[K], publicationID int, target []K) (Change[K], error) {
	var change Change[K]

	current, err := rel.Current(ctx, publicationID)
	if err != nil {
		return change, err
	}

	toAdd, toRemove := Diff(current, target)

	if len(toRemove) > 0 {
		n, err := rel.Remove(ctx, publicationID, toRemove)
		if err != nil {
			return change, err
		}
		change.Removed = toRemove
		change.Writes += n
	}
	if len(toAdd) > 0 {
		n, err := rel.Add(ctx, publicationID, toAdd)
		if err != nil {
			return change, err
		}
		change.Added = toAdd
		change.Writes += n
	}
	return change, nil
}
