// Package export writes tracking summaries to XLSX workbooks.
package export

import (
	"strconv"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/rank-tracker/internal/model"
)

var summaryHeader = []string{
	"Date", "Visibility Score", "Mean Position", "Score Delta", "Position Delta", "Skipped",
}

var termHeader = []string{
	"Date", "Term", "Points", "Errors",
	"Top 3 %", "Top 10 %", "Top 20 %", "Invisible %",
	"Mean Position", "Visibility Score",
}

// WriteSummaries writes one workbook with a daily overview sheet and a
// per-term detail sheet. Summaries should be in date order.
func WriteSummaries(path string, summaries []model.DailySummary) error {
	f := xlsx.NewFile()

	overview, err := f.AddSheet("Daily Summary")
	if err != nil {
		return eris.Wrap(err, "export: add summary sheet")
	}
	writeRow(overview, summaryHeader)

	detail, err := f.AddSheet("Terms")
	if err != nil {
		return eris.Wrap(err, "export: add terms sheet")
	}
	writeRow(detail, termHeader)

	for _, sum := range summaries {
		writeRow(overview, []string{
			sum.Date,
			formatFloat(sum.VisibilityScore),
			formatFloat(sum.MeanPosition),
			formatFloat(sum.ScoreDelta),
			formatFloat(sum.PositionDelta),
			strconv.FormatBool(sum.Skipped),
		})
		for _, ts := range sum.Terms {
			writeRow(detail, []string{
				sum.Date,
				ts.Term,
				strconv.Itoa(ts.PointsTotal),
				strconv.Itoa(ts.PointsErrored),
				formatFloat(ts.BucketPct[model.BucketTop3]),
				formatFloat(ts.BucketPct[model.BucketTop10]),
				formatFloat(ts.BucketPct[model.BucketTop20]),
				formatFloat(ts.BucketPct[model.BucketInvisible]),
				formatFloat(ts.MeanPosition),
				formatFloat(ts.VisibilityScore),
			})
		}
	}

	if err := f.Save(path); err != nil {
		return eris.Wrapf(err, "export: save %s", path)
	}
	return nil
}

func writeRow(sheet *xlsx.Sheet, values []string) {
	row := sheet.AddRow()
	for _, v := range values {
		row.AddCell().SetString(v)
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}
