// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package signal

import (
	"github.com/pkg/errors"
)

// FromTimeSeries creates a signal from one value per node per time step over a static graph.
//
// Each snapshot t uses as node features the previous lags values of each node, and as target the value at
// step t. So for a series of T steps it generates T-lags snapshots, all with the same edges and weights.
//
// Args:
//   - edges: [source, target] pairs shared by all snapshots.
//   - weights: optional (can be nil) weights of the edges.
//   - series: shaped [T][numNodes].
//   - lags: number of previous values used as features, it must be > 0.
func FromTimeSeries(name string, edges [][2]int32, weights []float32, series [][]float32, lags int) (*Signal, error) {
	if lags <= 0 {
		return nil, errors.Errorf("FromTimeSeries(%q) requires lags > 0, got %d", name, lags)
	}
	if len(series) <= lags {
		return nil, errors.Errorf("FromTimeSeries(%q) requires more than lags=%d time steps, got %d",
			name, lags, len(series))
	}
	numNodes := len(series[0])
	for t, values := range series {
		if len(values) != numNodes {
			return nil, errors.Errorf("FromTimeSeries(%q): step #%d has %d values, but step #0 has %d",
				name, t, len(values), numNodes)
		}
	}

	s := New(name, numNodes, lags)
	for t := lags; t < len(series); t++ {
		snapshot := &Snapshot{
			Edges:    edges,
			Weights:  weights,
			Features: make([][]float32, numNodes),
			Targets:  series[t],
		}
		for node := range numNodes {
			features := make([]float32, lags)
			for lag := range lags {
				features[lag] = series[t-lags+lag][node]
			}
			snapshot.Features[node] = features
		}
		if err := s.Append(snapshot); err != nil {
			return nil, err
		}
	}
	return s, nil
}
