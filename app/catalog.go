package app

import (
	"fmt"
	"os"

	"github.com/alvin-junjun/ai-guzhi-analysis/app/models"

	"gopkg.in/yaml.v3"
)

// Catalog holds the read-only membership plan definitions. Plans are
// immutable inputs at settlement time; price and name are snapshotted onto
// each order, so edits to the file never rewrite settled orders.
type Catalog struct {
	plans []models.Plan
	byID  map[string]models.Plan
}

type catalogFile struct {
	Plans []models.Plan `yaml:"plans"`
}

// LoadCatalog reads plan definitions from a YAML file. An empty path
// yields the built-in default catalog.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return NewCatalog(DefaultPlans()), nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plan catalog: %w", err)
	}

	var f catalogFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse plan catalog: %w", err)
	}
	if len(f.Plans) == 0 {
		return nil, fmt.Errorf("plan catalog %s defines no plans", path)
	}
	for _, p := range f.Plans {
		if p.ID == "" || p.DurationDays <= 0 {
			return nil, fmt.Errorf("plan catalog %s: plan %q needs an id and a positive duration", path, p.Name)
		}
	}
	return NewCatalog(f.Plans), nil
}

func NewCatalog(plans []models.Plan) *Catalog {
	byID := make(map[string]models.Plan, len(plans))
	for _, p := range plans {
		byID[p.ID] = p
	}
	return &Catalog{plans: plans, byID: byID}
}

// PlanByID looks up one plan.
func (c *Catalog) PlanByID(id string) (models.Plan, bool) {
	p, ok := c.byID[id]
	return p, ok
}

// Plans returns all plans in catalog order.
func (c *Catalog) Plans() []models.Plan {
	out := make([]models.Plan, len(c.plans))
	copy(out, c.plans)
	return out
}

// DefaultPlans is the catalog used when no plans file is configured.
func DefaultPlans() []models.Plan {
	return []models.Plan{
		{
			ID: "weekly", Name: "Weekly Pass", Price: 9.9, OriginalPrice: 19.9,
			DurationDays: 7, DailyAnalysisLimit: 50, WatchlistLimit: 50,
		},
		{
			ID: "monthly", Name: "Monthly Pass", Price: 29.9, OriginalPrice: 49.9,
			DurationDays: 30, DailyAnalysisLimit: models.UnlimitedDailyLimit,
			WatchlistLimit: 100, Recommended: true,
		},
		{
			ID: "quarterly", Name: "Quarterly Pass", Price: 79.9, OriginalPrice: 149.9,
			DurationDays: 90, DailyAnalysisLimit: models.UnlimitedDailyLimit,
			WatchlistLimit: 200,
		},
		{
			ID: "yearly", Name: "Yearly Pass", Price: 299.9, OriginalPrice: 599.9,
			DurationDays: 365, DailyAnalysisLimit: models.UnlimitedDailyLimit,
			WatchlistLimit: 200,
		},
	}
}
