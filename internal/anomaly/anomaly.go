// Package anomaly classifies grid tiles against the population of tiles they
// were analyzed with.
//
// Classification is relative to a batch: a tile is interesting when its
// fractal dimension lies more than Sigma population standard deviations from
// the batch mean and its fit is trustworthy (R² above MinRSquared). The same
// tile can be classified differently in a different batch.
package anomaly

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/ironsheep/xenarch/internal/metrics"
)

// zScoreMaxSentinel is reported when the population has no spread but the
// value differs from the mean.
const zScoreMaxSentinel = 100.0

// Rule is the outlier test.
type Rule struct {
	Sigma       float64 `json:"sigma"`
	MinRSquared float64 `json:"min_r_squared"`
}

// DefaultRule is 2σ with R² > 0.9.
func DefaultRule() Rule {
	return Rule{Sigma: 2, MinRSquared: 0.9}
}

// Stats are the population (ddof 0) statistics of fractal dimension.
type Stats struct {
	Count          int     `json:"count"`
	MeanFractalDim float64 `json:"mean_fractal_dim"`
	StdFractalDim  float64 `json:"std_fractal_dim"`
}

// Population computes Stats over records. An empty batch yields zero Stats.
func Population(records []metrics.Record) Stats {
	if len(records) == 0 {
		return Stats{}
	}
	fds := make([]float64, len(records))
	for i, r := range records {
		fds[i] = r.Metrics.FractalDimension
	}
	mean, variance := stat.PopMeanVariance(fds, nil)
	return Stats{Count: len(records), MeanFractalDim: mean, StdFractalDim: math.Sqrt(variance)}
}

// IsInteresting applies the rule to one record.
func (r Rule) IsInteresting(rec metrics.Record, s Stats) bool {
	dev := math.Abs(rec.Metrics.FractalDimension - s.MeanFractalDim)
	return dev > r.Sigma*s.StdFractalDim && rec.Metrics.RSquared > r.MinRSquared
}

// Summary is the classification of a batch.
type Summary struct {
	Stats       Stats
	Interesting []metrics.Record
}

// InterestingIDs returns the grid IDs of the interesting records, in batch order.
func (s Summary) InterestingIDs() []string {
	ids := make([]string, len(s.Interesting))
	for i, r := range s.Interesting {
		ids[i] = r.GridID
	}
	return ids
}

// Classify computes the population of records and selects the interesting
// ones, keeping their input order.
func Classify(records []metrics.Record, rule Rule) Summary {
	s := Summary{Stats: Population(records)}
	for _, rec := range records {
		if rule.IsInteresting(rec, s.Stats) {
			s.Interesting = append(s.Interesting, rec)
		}
	}
	return s
}

// Scored is a record with its z-score in the population.
type Scored struct {
	Record metrics.Record `json:"record"`
	ZScore float64        `json:"z_score"`
}

// ZScore returns how many standard deviations fd lies from the mean. With no
// spread it is 0 for the mean itself and ±100 otherwise.
func (s Stats) ZScore(fd float64) float64 {
	diff := fd - s.MeanFractalDim
	if s.StdFractalDim == 0 {
		if diff == 0 {
			return 0
		}
		return math.Copysign(zScoreMaxSentinel, diff)
	}
	return diff / s.StdFractalDim
}

// Rank orders records by |z| descending. Ties keep grid ID order.
func Rank(records []metrics.Record, s Stats) []Scored {
	out := make([]Scored, len(records))
	for i, r := range records {
		out[i] = Scored{Record: r, ZScore: s.ZScore(r.Metrics.FractalDimension)}
	}
	sort.SliceStable(out, func(i, j int) bool {
		zi, zj := math.Abs(out[i].ZScore), math.Abs(out[j].ZScore)
		if zi != zj {
			return zi > zj
		}
		return out[i].Record.GridID < out[j].Record.GridID
	})
	return out
}
