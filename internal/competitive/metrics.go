package competitive

import (
	"math"
	"sort"

	"github.com/montanaflynn/stats"

	"trailpulse/pkg/contracts/domain"
)

// TopN selects the top-N window of an ordered result set. With limitByRank
// true only records whose rank falls in [1, n] qualify, which is what the
// headline mean/std summaries use. With limitByRank false the first n
// records in rank order qualify regardless of their numeric rank, which is
// what the RCI family uses: a race missing ranks 1 and 2 must not shrink
// its top-10 window.
func TopN(results []domain.ResultRecord, n int, limitByRank bool) []domain.ResultRecord {
	if n <= 0 || len(results) == 0 {
		return nil
	}
	if limitByRank {
		out := make([]domain.ResultRecord, 0, n)
		for _, r := range results {
			if r.Rank >= 1 && r.Rank <= n {
				out = append(out, r)
			}
		}
		return out
	}
	if n > len(results) {
		n = len(results)
	}
	out := make([]domain.ResultRecord, n)
	copy(out, results[:n])
	return out
}

// Scores extracts the score column of a result set.
func Scores(results []domain.ResultRecord) []float64 {
	out := make([]float64, 0, len(results))
	for _, r := range results {
		out = append(out, r.Score)
	}
	return out
}

// Mean returns the arithmetic mean of values, NaN when empty.
func Mean(values []float64) float64 {
	m, err := stats.Mean(values)
	if err != nil {
		return math.NaN()
	}
	return m
}

// StdPop returns the population standard deviation of values (divide by
// count, not count-1), NaN when empty.
func StdPop(values []float64) float64 {
	s, err := stats.StandardDeviationPopulation(values)
	if err != nil {
		return math.NaN()
	}
	return s
}

// RCI computes the Race Competitiveness Index of a score set: mean minus
// population standard deviation. NaN when the set is empty.
func RCI(scores []float64) float64 {
	if len(scores) == 0 {
		return math.NaN()
	}
	return Mean(scores) - StdPop(scores)
}

// RCIForN computes RCI over the first n records in rank order.
func RCIForN(results []domain.ResultRecord, n int) float64 {
	return RCI(Scores(TopN(results, n, false)))
}

// giniInput sorts the non-negative finite scores ascending; negative and
// non-finite values do not count toward n.
func giniInput(scores []float64) []float64 {
	clean := make([]float64, 0, len(scores))
	for _, v := range scores {
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		clean = append(clean, v)
	}
	sort.Float64s(clean)
	return clean
}

// Gini computes the Gini coefficient of a score distribution:
//
//	G = (2 * sum(i * x_i)) / (n * sum(x)) - (n + 1) / n
//
// with 1-based i over the ascending sorted values. NaN for an empty set,
// 0 for a zero-sum set.
func Gini(scores []float64) float64 {
	values := giniInput(scores)
	n := len(values)
	if n == 0 {
		return math.NaN()
	}
	var sum, weighted float64
	for i, v := range values {
		sum += v
		weighted += float64(i+1) * v
	}
	if sum == 0 {
		return 0
	}
	fn := float64(n)
	return (2*weighted)/(fn*sum) - (fn+1)/fn
}

// LorenzCurve computes the cumulative population fraction against the
// cumulative score fraction over the same sorted, filtered set Gini uses.
// Empty and zero-sum sets yield the degenerate two-point diagonal.
func LorenzCurve(scores []float64) []LorenzPoint {
	values := giniInput(scores)
	var sum float64
	for _, v := range values {
		sum += v
	}
	if len(values) == 0 || sum == 0 {
		return []LorenzPoint{{X: 0, Y: 0}, {X: 1, Y: 1}}
	}
	points := make([]LorenzPoint, 0, len(values)+1)
	points = append(points, LorenzPoint{X: 0, Y: 0})
	var cum float64
	fn := float64(len(values))
	for i, v := range values {
		cum += v
		points = append(points, LorenzPoint{
			X: float64(i+1) / fn,
			Y: cum / sum,
		})
	}
	return points
}

// AUCNormalized computes the trapezoidal area under the (rank, score)
// curve for records with rank in [1, topN], divided by topN times the
// score ceiling. NaN when fewer than two records qualify.
func AUCNormalized(results []domain.ResultRecord, topN int) float64 {
	if topN <= 0 {
		return math.NaN()
	}
	points := TopN(results, topN, true)
	if len(points) < 2 {
		return math.NaN()
	}
	var area float64
	for i := 1; i < len(points); i++ {
		dx := float64(points[i].Rank - points[i-1].Rank)
		area += dx * (points[i].Score + points[i-1].Score) / 2
	}
	return area / (float64(topN) * ScoreCeiling)
}

// BucketCount returns the number of rank buckets used for a top-N window.
func BucketCount(topN int) int {
	count := int(math.Ceil(float64(topN) / 10))
	if count < 3 {
		count = 3
	}
	if count > 10 {
		count = 10
	}
	return count
}

// BucketMeans partitions ranks 1..topN into contiguous equal-width ranges
// and returns the mean score per range. NaN marks an empty bucket; ranges
// that would start beyond topN are omitted rather than padded.
func BucketMeans(results []domain.ResultRecord, topN int) []float64 {
	if topN <= 0 {
		return nil
	}
	size := int(math.Ceil(float64(topN) / float64(BucketCount(topN))))
	if size < 1 {
		size = 1
	}
	var means []float64
	for start := 1; start <= topN; start += size {
		end := start + size - 1
		if end > topN {
			end = topN
		}
		var sum float64
		var count int
		for _, r := range results {
			if r.Rank >= start && r.Rank <= end {
				sum += r.Score
				count++
			}
		}
		if count == 0 {
			means = append(means, math.NaN())
		} else {
			means = append(means, sum/float64(count))
		}
	}
	return means
}
