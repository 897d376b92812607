package insights

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"insights-backend/internal/shared/metrics"
	"insights-backend/internal/shared/telemetry"
)

// MergeEngine folds newly derived attributes into the store.
type MergeEngine struct {
	store  Store
	locker Locker
	now    func() time.Time
	newID  func() string
}

// NewMergeEngine defaults to an in-process KeyedMutex when locker is nil.
func NewMergeEngine(store Store, locker Locker) *MergeEngine {
	if locker == nil {
		locker = NewKeyedMutex()
	}
	return &MergeEngine{
		store:  store,
		locker: locker,
		now:    func() time.Time { return time.Now().UTC() },
		newID:  uuid.NewString,
	}
}

// MergeStats counts the writes made by one merge.
type MergeStats struct {
	DuplicatesRemoved int
	Updated           int
	Inserted          int
}

// Merge first collapses existing records that share a normalized name, keeping the
// highest score, then upserts each attribute by normalized name. Merges for the same
// (user, category) are serialized.
func (e *MergeEngine) Merge(ctx context.Context, userID string, category Category, attrs map[string]float64) error {
	_, err := e.MergeWithStats(ctx, userID, category, attrs)
	return err
}

func (e *MergeEngine) MergeWithStats(ctx context.Context, userID string, category Category, attrs map[string]float64) (MergeStats, error) {
	if strings.TrimSpace(userID) == "" {
		return MergeStats{}, errors.New("userID is required")
	}
	if _, err := ParseCategory(string(category)); err != nil {
		return MergeStats{}, err
	}
	unlock, err := e.locker.Lock(ctx, lockKey(userID, category))
	if err != nil {
		return MergeStats{}, fmt.Errorf("acquire merge lock: %w", err)
	}
	defer unlock()

	var stats MergeStats
	run := func(s Store) error {
		var err error
		stats, err = e.mergeLocked(ctx, s, userID, category, attrs)
		return err
	}
	if tx, ok := e.store.(TxStore); ok {
		err = tx.WithinMergeTx(ctx, userID, category, run)
	} else {
		err = run(e.store)
	}
	if err != nil {
		return MergeStats{}, err
	}

	metrics.IncInsightMerge(stats.DuplicatesRemoved)
	telemetry.Info("insights.merged", map[string]any{
		"user_id":            userID,
		"category":           string(category),
		"duplicates_removed": stats.DuplicatesRemoved,
		"updated":            stats.Updated,
		"inserted":           stats.Inserted,
	})
	return stats, nil
}

func (e *MergeEngine) mergeLocked(ctx context.Context, s Store, userID string, category Category, attrs map[string]float64) (MergeStats, error) {
	var stats MergeStats

	existing, err := s.List(ctx, userID, category)
	if err != nil {
		return stats, fmt.Errorf("list insights: %w", err)
	}
	keepers := make(map[string]Record, len(existing))
	var losers []Record
	for _, r := range existing {
		key := r.NormalizedName()
		current, ok := keepers[key]
		if !ok {
			keepers[key] = r
			continue
		}
		if preferred(r, current) {
			keepers[key] = r
			losers = append(losers, current)
		} else {
			losers = append(losers, r)
		}
	}
	sort.Slice(losers, func(i, j int) bool { return losers[i].ID < losers[j].ID })
	for _, r := range losers {
		if err := s.Delete(ctx, r.ID); err != nil {
			return stats, fmt.Errorf("delete duplicate insight %s: %w", r.ID, err)
		}
		stats.DuplicatesRemoved++
	}

	now := e.now()
	for _, attr := range collapseAttributes(attrs) {
		current, err := s.Get(ctx, userID, category, attr.key)
		switch {
		case err == nil:
			if current.Name == attr.name && current.Score == attr.score {
				continue
			}
			current.Name = attr.name
			current.Score = attr.score
			current.UpdatedAt = now
			if err := s.Upsert(ctx, current); err != nil {
				return stats, fmt.Errorf("update insight %s: %w", current.ID, err)
			}
			stats.Updated++
			continue
		case !errors.Is(err, ErrNotFound):
			return stats, fmt.Errorf("get insight %q: %w", attr.key, err)
		}
		rec := Record{
			ID:        e.newID(),
			UserID:    userID,
			Category:  category,
			Name:      attr.name,
			Score:     attr.score,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := s.Upsert(ctx, rec); err != nil {
			return stats, fmt.Errorf("insert insight %q: %w", attr.name, err)
		}
		stats.Inserted++
	}
	return stats, nil
}

type attribute struct {
	key   string
	name  string
	score float64
}

// collapseAttributes trims names, drops blanks and keeps the max score when new names
// collide after normalization. Output is sorted by normalized name.
func collapseAttributes(attrs map[string]float64) []attribute {
	byKey := make(map[string]attribute, len(attrs))
	for name, score := range attrs {
		trimmed := strings.TrimSpace(name)
		if trimmed == "" {
			continue
		}
		a := attribute{key: NormalizeName(trimmed), name: trimmed, score: score}
		current, ok := byKey[a.key]
		if !ok || a.score > current.score || (a.score == current.score && a.name < current.name) {
			byKey[a.key] = a
		}
	}
	out := make([]attribute, 0, len(byKey))
	for _, a := range byKey {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].key < out[j].key })
	return out
}

// preferred reports whether a should be kept over b: higher score, then older, then smaller id.
func preferred(a, b Record) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

func olderFirst(a, b Record) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}
