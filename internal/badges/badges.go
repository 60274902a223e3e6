// Package badges holds the badge catalog: the static registry of every badge
// a provider can earn, keyed by a stable id.
//
// The catalog is built once at process start and never mutated. Other
// packages receive it as a dependency and refer to badges by id only.
package badges

import (
	"errors"
	"fmt"
	"sort"
)

var (
	ErrBadgeNotFound  = errors.New("badge not found")
	ErrDuplicateBadge = errors.New("duplicate badge id")
)

// Category groups badges for display and filtering.
type Category string

const (
	CategoryAchievement Category = "achievement" // Volume milestones
	CategoryPerformance Category = "performance" // Service quality
	CategoryDynamic     Category = "dynamic"     // Time-limited, re-earnable
)

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	switch c {
	case CategoryAchievement, CategoryPerformance, CategoryDynamic:
		return true
	}
	return false
}

// Definition is an immutable catalog entry.
type Definition struct {
	ID          string   `json:"id" yaml:"id"`
	Name        string   `json:"name" yaml:"name"`
	Description string   `json:"description" yaml:"description"`
	Category    Category `json:"category" yaml:"category"`
	ScoreImpact int      `json:"scoreImpact,omitempty" yaml:"score_impact"`
	TimeLimited bool     `json:"timeLimited,omitempty" yaml:"time_limited"`
	ExpiryDays  int      `json:"expiryDays,omitempty" yaml:"expiry_days"`
}

// Catalog is a read-only lookup table of badge definitions.
type Catalog struct {
	byID map[string]Definition
	ids  []string // sorted
}

// NewCatalog builds a catalog from definitions. Ids must be unique and
// time-limited badges must declare a positive expiry.
func NewCatalog(defs ...Definition) (*Catalog, error) {
	c := &Catalog{byID: make(map[string]Definition, len(defs))}
	for _, d := range defs {
		if d.ID == "" {
			return nil, fmt.Errorf("badge %q: empty id", d.Name)
		}
		if _, ok := c.byID[d.ID]; ok {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateBadge, d.ID)
		}
		if !d.Category.Valid() {
			return nil, fmt.Errorf("badge %s: unknown category %q", d.ID, d.Category)
		}
		if d.TimeLimited && d.ExpiryDays <= 0 {
			return nil, fmt.Errorf("badge %s: time-limited badge needs expiry days", d.ID)
		}
		if !d.TimeLimited {
			d.ExpiryDays = 0
		}
		c.byID[d.ID] = d
		c.ids = append(c.ids, d.ID)
	}
	sort.Strings(c.ids)
	return c, nil
}

// MustCatalog is NewCatalog for static tables; it panics on error.
func MustCatalog(defs ...Definition) *Catalog {
	c, err := NewCatalog(defs...)
	if err != nil {
		panic(err)
	}
	return c
}

// Lookup returns the definition for id.
func (c *Catalog) Lookup(id string) (Definition, error) {
	d, ok := c.byID[id]
	if !ok {
		return Definition{}, fmt.Errorf("%w: %s", ErrBadgeNotFound, id)
	}
	return d, nil
}

// Has reports whether id is in the catalog.
func (c *Catalog) Has(id string) bool {
	_, ok := c.byID[id]
	return ok
}

// AllWithCategory returns every definition in category, ordered by id.
func (c *Catalog) AllWithCategory(cat Category) []Definition {
	var out []Definition
	for _, id := range c.ids {
		if d := c.byID[id]; d.Category == cat {
			out = append(out, d)
		}
	}
	return out
}

// All returns every definition ordered by id.
func (c *Catalog) All() []Definition {
	out := make([]Definition, 0, len(c.ids))
	for _, id := range c.ids {
		out = append(out, c.byID[id])
	}
	return out
}

// Len returns the number of badges in the catalog.
func (c *Catalog) Len() int { return len(c.ids) }
