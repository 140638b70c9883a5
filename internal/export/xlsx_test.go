package export

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/rank-tracker/internal/model"
)

func TestWriteSummaries_RoundTrip(t *testing.T) {
	t.Parallel()

	summaries := []model.DailySummary{
		{
			Date:            "2026-03-01",
			VisibilityScore: 62.5,
			MeanPosition:    5.4,
			Terms: []model.TermSummary{{
				Term:        "coffee shop",
				PointsTotal: 9,
				BucketPct: map[model.Bucket]float64{
					model.BucketTop3:      44.44,
					model.BucketTop10:     33.33,
					model.BucketTop20:     11.11,
					model.BucketInvisible: 11.11,
				},
				MeanPosition:    5.4,
				VisibilityScore: 62.5,
			}},
		},
		{Date: "2026-03-02", Skipped: true},
	}

	path := filepath.Join(t.TempDir(), "out.xlsx")
	require.NoError(t, WriteSummaries(path, summaries))

	f, err := xlsx.OpenFile(path)
	require.NoError(t, err)
	require.Len(t, f.Sheets, 2)

	overview := f.Sheets[0]
	assert.Equal(t, "Daily Summary", overview.Name)
	require.Len(t, overview.Rows, 3)
	assert.Equal(t, "Date", overview.Rows[0].Cells[0].String())
	assert.Equal(t, "2026-03-01", overview.Rows[1].Cells[0].String())
	assert.Equal(t, "62.50", overview.Rows[1].Cells[1].String())
	assert.Equal(t, "true", overview.Rows[2].Cells[5].String())

	detail := f.Sheets[1]
	assert.Equal(t, "Terms", detail.Name)
	require.Len(t, detail.Rows, 2)
	assert.Equal(t, "coffee shop", detail.Rows[1].Cells[1].String())
	assert.Equal(t, "44.44", detail.Rows[1].Cells[4].String())
}

func TestWriteSummaries_Empty(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "empty.xlsx")
	require.NoError(t, WriteSummaries(path, nil))

	f, err := xlsx.OpenFile(path)
	require.NoError(t, err)
	require.Len(t, f.Sheets, 2)
	assert.Len(t, f.Sheets[0].Rows, 1)
}
