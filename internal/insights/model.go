package insights

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrNotFound        = errors.New("insight not found")
	ErrInvalidCategory = errors.New("invalid insight category")
)

// Category groups derived attributes.
type Category string

const (
	CategoryStrength Category = "strength"
	CategoryWeakness Category = "weakness"
)

// Categories lists every category in merge order.
var Categories = []Category{CategoryStrength, CategoryWeakness}

func ParseCategory(raw string) (Category, error) {
	switch Category(strings.ToLower(strings.TrimSpace(raw))) {
	case CategoryStrength, "strengths":
		return CategoryStrength, nil
	case CategoryWeakness, "weaknesses":
		return CategoryWeakness, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidCategory, raw)
}

// NormalizeName is the dedup identity of an insight name.
func NormalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Record is one stored insight.
type Record struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Category  Category  `json:"category"`
	Name      string    `json:"name"`
	Score     float64   `json:"score"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// NormalizedName returns NormalizeName(r.Name).
func (r Record) NormalizedName() string {
	return NormalizeName(r.Name)
}

// Store persists insight records.
type Store interface {
	// List returns every record for the user and category, oldest first.
	List(ctx context.Context, userID string, category Category) ([]Record, error)
	// Get returns the highest scoring record with the given normalized name.
	Get(ctx context.Context, userID string, category Category, normalizedName string) (Record, error)
	// Upsert updates the record with rec.ID or inserts it when no such record exists.
	Upsert(ctx context.Context, rec Record) error
	Delete(ctx context.Context, id string) error
}

// TxStore is implemented by stores that can run a whole merge in one transaction
// holding a (user, category) lock.
type TxStore interface {
	Store
	WithinMergeTx(ctx context.Context, userID string, category Category, fn func(Store) error) error
}
