package model

// Bucket is the ordinal visibility category derived from a raw rank
// position. Buckets partition 1..N with no gaps or overlaps; a nil
// position always maps to BucketInvisible.
type Bucket string

const (
	BucketTop3      Bucket = "top_3"
	BucketTop10     Bucket = "top_10"
	BucketTop20     Bucket = "top_20"
	BucketInvisible Bucket = "invisible"
)

// Bucket boundaries (inclusive upper bounds).
const (
	top3Max  = 3
	top10Max = 10
	top20Max = 20
)

// Buckets lists all buckets from most to least visible.
func Buckets() []Bucket {
	return []Bucket{BucketTop3, BucketTop10, BucketTop20, BucketInvisible}
}

// ClassifyPosition maps a rank position to its bucket. A nil or
// non-positive position means the business was absent from the results.
func ClassifyPosition(position *int) Bucket {
	if position == nil || *position <= 0 {
		return BucketInvisible
	}
	switch p := *position; {
	case p <= top3Max:
		return BucketTop3
	case p <= top10Max:
		return BucketTop10
	case p <= top20Max:
		return BucketTop20
	default:
		return BucketInvisible
	}
}

// BucketWeight returns the visibility weight used by the summary
// aggregator's scalar score. More visible buckets weigh more.
func BucketWeight(b Bucket) float64 {
	switch b {
	case BucketTop3:
		return 1.0
	case BucketTop10:
		return 0.66
	case BucketTop20:
		return 0.33
	default:
		return 0
	}
}
