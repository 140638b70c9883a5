// Package credit computes run costs and performs balance checks and
// debits against the prepaid credit ledger.
package credit

import (
	"github.com/sells-group/rank-tracker/internal/model"
)

// Rates holds the per-unit credit price of each check type.
type Rates struct {
	SearchRankPerCheck int `yaml:"search_rank_per_check" mapstructure:"search_rank_per_check"`
	GeoGridPerCheck    int `yaml:"geo_grid_per_check" mapstructure:"geo_grid_per_check"`
	LLMPerCheck        int `yaml:"llm_per_check" mapstructure:"llm_per_check"`
}

// DefaultRates returns the default credit pricing.
func DefaultRates() Rates {
	return Rates{
		SearchRankPerCheck: 1,
		GeoGridPerCheck:    1,
		LLMPerCheck:        2,
	}
}

// Plan describes a prospective run for cost estimation.
type Plan struct {
	CheckTypes    []model.CheckType
	GridSize      int // geo-grid: points per term
	KeywordCount  int
	DeviceCount   int // search-rank: devices per term
	QuestionCount int // llm-visibility: questions asked
	ProviderCount int // llm-visibility: providers queried
}

// Usage describes what a run actually attempted, for post-run billing.
type Usage struct {
	SearchRankChecks int // term × device calls attempted
	GeoGridChecks    int // point × term calls attempted
	LLMChecks        int // question × provider calls attempted
}

// Calculator computes credit costs.
type Calculator struct {
	rates Rates
}

// NewCalculator creates a Calculator with the given rates.
func NewCalculator(rates Rates) *Calculator {
	return &Calculator{rates: rates}
}

// EstimateCost returns the total planned cost of a run. Cost is strictly
// additive across check types: disabling one type removes exactly that
// type's sub-cost.
func (c *Calculator) EstimateCost(p Plan) int {
	total := 0
	for _, t := range p.CheckTypes {
		switch t {
		case model.CheckSearchRank:
			total += c.SearchRankCost(p.KeywordCount, p.DeviceCount)
		case model.CheckGeoGrid:
			total += c.GeoGridCost(p.GridSize, p.KeywordCount)
		case model.CheckLLMVisibility:
			total += c.LLMCost(p.QuestionCount, p.ProviderCount)
		}
	}
	return total
}

// ActualCost prices what a run actually attempted. Calls that never
// executed are never billed.
func (c *Calculator) ActualCost(u Usage) int {
	return u.SearchRankChecks*c.rates.SearchRankPerCheck +
		u.GeoGridChecks*c.rates.GeoGridPerCheck +
		u.LLMChecks*c.rates.LLMPerCheck
}

// SearchRankCost scales with search term count times device count.
func (c *Calculator) SearchRankCost(keywords, devices int) int {
	return keywords * devices * c.rates.SearchRankPerCheck
}

// GeoGridCost scales with grid size times keyword count.
func (c *Calculator) GeoGridCost(gridSize, keywords int) int {
	return gridSize * keywords * c.rates.GeoGridPerCheck
}

// LLMCost scales with question count times provider count.
func (c *Calculator) LLMCost(questions, providers int) int {
	return questions * providers * c.rates.LLMPerCheck
}
