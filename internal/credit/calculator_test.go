package credit

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/rank-tracker/internal/model"
)

func testCalc() *Calculator {
	return NewCalculator(Rates{
		SearchRankPerCheck: 1,
		GeoGridPerCheck:    1,
		LLMPerCheck:        2,
	})
}

func allTypes() []model.CheckType {
	return []model.CheckType{model.CheckSearchRank, model.CheckGeoGrid, model.CheckLLMVisibility}
}

func TestEstimateCost(t *testing.T) {
	t.Parallel()

	calc := testCalc()

	tests := []struct {
		name string
		plan Plan
		want int
	}{
		{
			name: "all types",
			plan: Plan{
				CheckTypes: allTypes(),
				GridSize:   9, KeywordCount: 3, DeviceCount: 2,
				QuestionCount: 4, ProviderCount: 2,
			},
			// search: 3*2*1=6, grid: 9*3*1=27, llm: 4*2*2=16
			want: 49,
		},
		{
			name: "geo grid only",
			plan: Plan{
				CheckTypes: []model.CheckType{model.CheckGeoGrid},
				GridSize:   25, KeywordCount: 2,
			},
			want: 50,
		},
		{
			name: "no types enabled",
			plan: Plan{GridSize: 49, KeywordCount: 10, DeviceCount: 2},
			want: 0,
		},
		{
			name: "zero keywords",
			plan: Plan{CheckTypes: allTypes(), GridSize: 9, DeviceCount: 2},
			want: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, calc.EstimateCost(tt.plan))
		})
	}
}

// Disabling any one check type must reduce the total by exactly that
// type's sub-cost and nothing else.
func TestEstimateCost_StrictlyAdditive(t *testing.T) {
	t.Parallel()

	calc := testCalc()
	plan := Plan{
		CheckTypes: allTypes(),
		GridSize:   9, KeywordCount: 3, DeviceCount: 2,
		QuestionCount: 4, ProviderCount: 2,
	}
	full := calc.EstimateCost(plan)

	subCosts := map[model.CheckType]int{
		model.CheckSearchRank:    calc.SearchRankCost(plan.KeywordCount, plan.DeviceCount),
		model.CheckGeoGrid:       calc.GeoGridCost(plan.GridSize, plan.KeywordCount),
		model.CheckLLMVisibility: calc.LLMCost(plan.QuestionCount, plan.ProviderCount),
	}

	for disabled, sub := range subCosts {
		reduced := plan
		reduced.CheckTypes = nil
		for _, ct := range plan.CheckTypes {
			if ct != disabled {
				reduced.CheckTypes = append(reduced.CheckTypes, ct)
			}
		}
		assert.Equal(t, full-sub, calc.EstimateCost(reduced),
			"disabling %s should remove exactly its sub-cost", disabled)
	}
}

func TestActualCost_BillsOnlyAttemptedCalls(t *testing.T) {
	t.Parallel()

	calc := testCalc()

	assert.Equal(t, 0, calc.ActualCost(Usage{}))
	assert.Equal(t, 4, calc.ActualCost(Usage{GeoGridChecks: 4}))
	assert.Equal(t, 4+6, calc.ActualCost(Usage{GeoGridChecks: 4, LLMChecks: 3}))
	assert.Equal(t, 2+4+6, calc.ActualCost(Usage{SearchRankChecks: 2, GeoGridChecks: 4, LLMChecks: 3}))
}

func TestDefaultRates(t *testing.T) {
	t.Parallel()

	r := DefaultRates()
	assert.Positive(t, r.SearchRankPerCheck)
	assert.Positive(t, r.GeoGridPerCheck)
	assert.Positive(t, r.LLMPerCheck)
}
