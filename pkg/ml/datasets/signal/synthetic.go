// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package signal

import (
	"math"
	"math/rand/v2"

	"github.com/pkg/errors"
)

// SyntheticConfig configures Synthetic.
type SyntheticConfig struct {
	Name                                string
	NumNodes, NumFeatures, NumSnapshots int

	// EdgesPerNode is the number of incoming edges of each node, resampled at every snapshot.
	EdgesPerNode int

	// Seed of the random number generator: the same seed generates the same signal.
	Seed uint64

	// Noise is the standard deviation of the gaussian noise added to the targets.
	Noise float64
}

// Synthetic generates a random dynamic graph signal, where the edges (and their weights) change at every
// snapshot, and the target of each node is a function of its own features and of the weighted mean of the
// first feature of its neighbours in the previous snapshot.
//
// It is meant for demos and tests: a temporal graph model can learn it, while a model that ignores
// either the graph or the time can't fully fit it.
func Synthetic(config SyntheticConfig) (*Signal, error) {
	if config.NumNodes <= 0 || config.NumFeatures <= 0 || config.NumSnapshots <= 0 {
		return nil, errors.Errorf("invalid synthetic signal config %+v: NumNodes, NumFeatures and NumSnapshots must be > 0",
			config)
	}
	if config.EdgesPerNode < 0 {
		return nil, errors.Errorf("invalid synthetic signal config %+v: EdgesPerNode must be >= 0", config)
	}
	name := config.Name
	if name == "" {
		name = "synthetic"
	}
	rng := rand.New(rand.NewPCG(config.Seed, config.Seed))
	numNodes, numFeatures := config.NumNodes, config.NumFeatures

	randomFeatures := func() [][]float32 {
		features := make([][]float32, numNodes)
		for node := range features {
			features[node] = make([]float32, numFeatures)
			for ii := range features[node] {
				features[node][ii] = float32(rng.NormFloat64())
			}
		}
		return features
	}

	s := New(name, numNodes, numFeatures)
	prevFeatures := randomFeatures()
	for range config.NumSnapshots {
		features := randomFeatures()
		snapshot := &Snapshot{
			Edges:    make([][2]int32, 0, numNodes*config.EdgesPerNode),
			Weights:  make([]float32, 0, numNodes*config.EdgesPerNode),
			Features: features,
			Targets:  make([]float32, numNodes),
		}
		for target := range numNodes {
			var sum, sumWeights float64
			for range config.EdgesPerNode {
				source := rng.IntN(numNodes)
				weight := 0.5 + rng.Float64()
				snapshot.Edges = append(snapshot.Edges, [2]int32{int32(source), int32(target)})
				snapshot.Weights = append(snapshot.Weights, float32(weight))
				sum += weight * float64(prevFeatures[source][0])
				sumWeights += weight
			}
			var neighbours float64
			if sumWeights > 0 {
				neighbours = sum / sumWeights
			}
			value := math.Tanh(neighbours + 0.5*float64(features[target][numFeatures-1]))
			if config.Noise > 0 {
				value += config.Noise * rng.NormFloat64()
			}
			snapshot.Targets[target] = float32(value)
		}
		if err := s.Append(snapshot); err != nil {
			return nil, err
		}
		prevFeatures = features
	}
	return s, nil
}
