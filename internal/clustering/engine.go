// Package clustering groups candidate populations into density clusters
// over embedding space. It is pure: callers pass immutable snapshots of
// (id, embedding) pairs, nothing here touches a store or a provider.
package clustering

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/insightd/internal/vecmath"
)

const (
	// DefaultEps is the maximum cosine distance between neighbors.
	DefaultEps = 0.3

	// DefaultMinSamples is the minimum neighborhood size (the point
	// itself included) for a point to be a core point.
	DefaultMinSamples = 2

	// DefaultMinPopulation gates clustering entirely: populations below
	// it return no clusters.
	DefaultMinPopulation = 10
)

// Point is one candidate in the population snapshot.
type Point struct {
	ID        string
	Embedding []float32
}

// Cluster is one dense region of the population. MemberIDs are sorted.
// Centroid is the renormalized mean of member embeddings; Radius is the
// maximum cosine distance from the centroid to any member.
type Cluster struct {
	MemberIDs []string
	Centroid  []float32
	Radius    float64
}

// Config holds the density parameters.
type Config struct {
	Eps           float64
	MinSamples    int
	MinPopulation int
}

// DefaultConfig returns the default clustering parameters.
func DefaultConfig() Config {
	return Config{
		Eps:           DefaultEps,
		MinSamples:    DefaultMinSamples,
		MinPopulation: DefaultMinPopulation,
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Eps <= 0 || c.Eps > 2 {
		return fmt.Errorf("eps must be in (0, 2], got %g", c.Eps)
	}
	if c.MinSamples < 2 {
		return fmt.Errorf("min samples must be at least 2, got %d", c.MinSamples)
	}
	if c.MinPopulation < 0 {
		return fmt.Errorf("min population cannot be negative, got %d", c.MinPopulation)
	}
	return nil
}

// Engine runs density-based clustering (DBSCAN) over cosine distance.
type Engine struct {
	config Config
	logger *zap.Logger
}

// NewEngine creates a clustering engine.
func NewEngine(config Config, logger *zap.Logger) (*Engine, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid clustering config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{config: config, logger: logger}, nil
}

// Labels used during expansion.
const (
	labelUnclassified = 0
	labelNoise        = -1
)

// DiscoverClusters clusters the population. Points without an embedding
// are skipped. Points not assigned to any dense region are dropped, not
// returned as singleton clusters. Membership is deterministic for
// identical input regardless of its order.
func (e *Engine) DiscoverClusters(population []Point) []Cluster {
	points := make([]Point, 0, len(population))
	for _, p := range population {
		if len(p.Embedding) == 0 {
			continue
		}
		points = append(points, p)
	}

	if len(points) < e.config.MinPopulation {
		e.logger.Debug("population below clustering minimum",
			zap.Int("population", len(points)),
			zap.Int("minimum", e.config.MinPopulation))
		return nil
	}

	// Canonical processing order makes membership independent of the
	// caller's input order.
	sort.Slice(points, func(i, j int) bool { return points[i].ID < points[j].ID })

	labels := make([]int, len(points))
	nextCluster := 0

	for i := range points {
		if labels[i] != labelUnclassified {
			continue
		}

		neighbors := e.regionQuery(points, i)
		if len(neighbors) < e.config.MinSamples {
			labels[i] = labelNoise
			continue
		}

		nextCluster++
		e.expandCluster(points, labels, i, neighbors, nextCluster)
	}

	clusters := e.collect(points, labels, nextCluster)

	e.logger.Debug("clustering complete",
		zap.Int("population", len(points)),
		zap.Int("clusters", len(clusters)))
	return clusters
}

// regionQuery returns the indices within eps of point i, including i
// itself, in ascending index order.
func (e *Engine) regionQuery(points []Point, i int) []int {
	var neighbors []int
	for j := range points {
		if vecmath.CosineDistance(points[i].Embedding, points[j].Embedding) <= e.config.Eps {
			neighbors = append(neighbors, j)
		}
	}
	return neighbors
}

// expandCluster grows cluster id from the seed neighborhood.
func (e *Engine) expandCluster(points []Point, labels []int, seed int, neighbors []int, cluster int) {
	labels[seed] = cluster

	queue := append([]int(nil), neighbors...)
	for len(queue) > 0 {
		j := queue[0]
		queue = queue[1:]

		if labels[j] == labelNoise {
			labels[j] = cluster // border point reached from a core point
		}
		if labels[j] != labelUnclassified {
			continue
		}
		labels[j] = cluster

		reachable := e.regionQuery(points, j)
		if len(reachable) >= e.config.MinSamples {
			queue = append(queue, reachable...)
		}
	}
}

// collect builds Cluster values from the labeled points.
func (e *Engine) collect(points []Point, labels []int, clusterCount int) []Cluster {
	members := make(map[int][]int, clusterCount)
	for i, label := range labels {
		if label > 0 {
			members[label] = append(members[label], i)
		}
	}

	clusters := make([]Cluster, 0, len(members))
	for cluster := 1; cluster <= clusterCount; cluster++ {
		indices := members[cluster]
		if len(indices) == 0 {
			continue
		}

		ids := make([]string, len(indices))
		embeddings := make([][]float32, len(indices))
		for k, idx := range indices {
			ids[k] = points[idx].ID
			embeddings[k] = points[idx].Embedding
		}
		sort.Strings(ids)

		centroid := vecmath.Centroid(embeddings)

		var radius float64
		for _, embedding := range embeddings {
			if d := vecmath.CosineDistance(centroid, embedding); d > radius {
				radius = d
			}
		}

		clusters = append(clusters, Cluster{
			MemberIDs: ids,
			Centroid:  centroid,
			Radius:    radius,
		})
	}

	sort.Slice(clusters, func(i, j int) bool {
		return clusters[i].MemberIDs[0] < clusters[j].MemberIDs[0]
	})
	return clusters
}

// AvgPairwiseSimilarity returns the mean cosine similarity over all
// distinct pairs. Fewer than two vectors score 1.0.
func AvgPairwiseSimilarity(vectors [][]float32) float64 {
	if len(vectors) < 2 {
		return 1.0
	}

	var sum float64
	var pairs int
	for i := 0; i < len(vectors); i++ {
		for j := i + 1; j < len(vectors); j++ {
			sum += vecmath.CosineSimilarity(vectors[i], vectors[j])
			pairs++
		}
	}
	return sum / float64(pairs)
}
