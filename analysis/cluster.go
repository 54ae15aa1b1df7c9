package analysis

import (
	"math"
	"math/rand"
	"sort"
	"strconv"
)

const (
	// DefaultClusters is the number of behavioral groups
	DefaultClusters = 2
	// DefaultSeed makes repeated runs assign identical clusters
	DefaultSeed int64 = 42

	maxIterations = 300

	InsufficientDataMessage = "Not enough data to analyze patterns."
)

// ClusterStats aggregates one cluster's members
type ClusterStats struct {
	DurationMean float64 `json:"Duration_mean"`
	ProfitMean   float64 `json:"Profit_mean"`
	ProfitCount  int     `json:"Profit_count"`
}

// ClusteredTrade is a trade tagged with its cluster. Cluster is nil for trades
// that could not be placed because their duration is unknown.
type ClusteredTrade struct {
	RoundTripTrade
	Cluster *int `json:"cluster"`
}

// DataQuality reports trades that were kept but are suspect
type DataQuality struct {
	DateOrderViolations int `json:"date_order_violations"`
	UnclusteredTrades   int `json:"unclustered_trades"`
}

// PatternAnalysis is either an informational message or a cluster summary
type PatternAnalysis struct {
	Message     string                  `json:"message,omitempty"`
	Clusters    map[string]ClusterStats `json:"clusters,omitempty"`
	TradeData   []ClusteredTrade        `json:"trade_data,omitempty"`
	DataQuality *DataQuality            `json:"data_quality,omitempty"`
}

// Insufficient reports whether clustering was skipped
func (p PatternAnalysis) Insufficient() bool {
	return p.Clusters == nil
}

type point struct {
	duration, profit float64
}

// Cluster partitions trades by (duration, profit) with seeded k-means.
// Fewer than two usable trades yields the informational result.
func Cluster(trades []RoundTripTrade, k int, seed int64) PatternAnalysis {
	var (
		points  []point
		members []int
		quality DataQuality
	)
	for i, tr := range trades {
		if tr.DateOrderViolation {
			quality.DateOrderViolations++
		}
		if tr.DurationDays == nil || math.IsNaN(tr.Profit) || math.IsInf(tr.Profit, 0) {
			quality.UnclusteredTrades++
			continue
		}
		points = append(points, point{float64(*tr.DurationDays), tr.Profit})
		members = append(members, i)
	}

	if len(points) < 2 {
		return PatternAnalysis{Message: InsufficientDataMessage}
	}
	if k < 1 {
		k = DefaultClusters
	}

	labels, centroids := kmeans(points, k, seed)

	stats := make(map[string]ClusterStats, len(centroids))
	sums := make([]ClusterStats, len(centroids))
	for i, label := range labels {
		sums[label].DurationMean += points[i].duration
		sums[label].ProfitMean += points[i].profit
		sums[label].ProfitCount++
	}
	for c, s := range sums {
		if s.ProfitCount == 0 {
			continue
		}
		n := float64(s.ProfitCount)
		stats[strconv.Itoa(c)] = ClusterStats{
			DurationMean: s.DurationMean / n,
			ProfitMean:   s.ProfitMean / n,
			ProfitCount:  s.ProfitCount,
		}
	}

	data := make([]ClusteredTrade, len(trades))
	for i, tr := range trades {
		if math.IsNaN(tr.Profit) || math.IsInf(tr.Profit, 0) {
			tr.Profit = 0
		}
		data[i] = ClusteredTrade{RoundTripTrade: tr}
	}
	for i, idx := range members {
		label := labels[i]
		data[idx].Cluster = &label
	}

	res := PatternAnalysis{Clusters: stats, TradeData: data}
	if quality != (DataQuality{}) {
		res.DataQuality = &quality
	}
	return res
}

// kmeans runs k-means++ seeding then Lloyd iterations. Labels are renumbered
// so that centroids ascend by duration then profit.
func kmeans(points []point, k int, seed int64) ([]int, []point) {
	if distinct := countDistinct(points); distinct < k {
		k = distinct
	}
	rng := rand.New(rand.NewSource(seed))
	centroids := seedCentroids(points, k, rng)
	labels := make([]int, len(points))
	for i := range labels {
		labels[i] = -1
	}

	for iter := 0; iter < maxIterations; iter++ {
		changed := false
		for i, p := range points {
			best := nearest(p, centroids)
			if labels[i] != best {
				labels[i] = best
				changed = true
			}
		}
		if !changed {
			break
		}

		sums := make([]point, k)
		counts := make([]int, k)
		for i, p := range points {
			sums[labels[i]].duration += p.duration
			sums[labels[i]].profit += p.profit
			counts[labels[i]]++
		}
		for c := range centroids {
			// An emptied cluster keeps its previous centroid
			if counts[c] > 0 {
				centroids[c] = point{sums[c].duration / float64(counts[c]), sums[c].profit / float64(counts[c])}
			}
		}
	}

	return relabel(labels, centroids)
}

func seedCentroids(points []point, k int, rng *rand.Rand) []point {
	centroids := make([]point, 0, k)
	centroids = append(centroids, points[rng.Intn(len(points))])

	dist := make([]float64, len(points))
	for len(centroids) < k {
		total := 0.0
		for i, p := range points {
			dist[i] = sqDist(p, centroids[nearest(p, centroids)])
			total += dist[i]
		}
		target := rng.Float64() * total
		chosen := -1
		for i, d := range dist {
			if d == 0 {
				continue
			}
			chosen = i
			target -= d
			if target <= 0 {
				break
			}
		}
		centroids = append(centroids, points[chosen])
	}
	return centroids
}

func relabel(labels []int, centroids []point) ([]int, []point) {
	order := make([]int, len(centroids))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		ca, cb := centroids[order[a]], centroids[order[b]]
		if ca.duration != cb.duration {
			return ca.duration < cb.duration
		}
		return ca.profit < cb.profit
	})

	newID := make([]int, len(centroids))
	sorted := make([]point, len(centroids))
	for newLabel, old := range order {
		newID[old] = newLabel
		sorted[newLabel] = centroids[old]
	}
	out := make([]int, len(labels))
	for i, l := range labels {
		out[i] = newID[l]
	}
	return out, sorted
}

func nearest(p point, centroids []point) int {
	best, bestDist := 0, math.Inf(1)
	for c, centroid := range centroids {
		if d := sqDist(p, centroid); d < bestDist {
			best, bestDist = c, d
		}
	}
	return best
}

func sqDist(a, b point) float64 {
	dd := a.duration - b.duration
	dp := a.profit - b.profit
	return dd*dd + dp*dp
}

func countDistinct(points []point) int {
	seen := make(map[point]struct{}, len(points))
	for _, p := range points {
		seen[p] = struct{}{}
	}
	return len(seen)
}
