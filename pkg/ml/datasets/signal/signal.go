// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package signal holds dynamic graph temporal signals: ordered sequences of graph snapshots, where the
// edges, their weights, the node features and the node targets can change at every time step.
//
// A Signal can be loaded from JSON (LoadJSON), built from node time series over a static graph (FromTimeSeries),
// or generated (Synthetic). It is fed to a GoMLX training loop through a Dataset of sliding windows of snapshots.
package signal

import (
	"fmt"

	"github.com/pkg/errors"
)

// Snapshot is the state of the graph at one time step.
type Snapshot struct {
	// Edges as [source, target] pairs of node indices.
	Edges [][2]int32 `json:"edges"`

	// Weights of the edges, optional. If nil all edges have weight 1.
	Weights []float32 `json:"weights,omitempty"`

	// Features of the nodes, shaped [numNodes][numFeatures].
	Features [][]float32 `json:"features"`

	// Targets of the nodes, shaped [numNodes].
	Targets []float32 `json:"targets"`
}

// Signal is a sequence of snapshots over the same set of nodes.
type Signal struct {
	Name        string      `json:"name"`
	NumNodes    int         `json:"num_nodes"`
	NumFeatures int         `json:"num_features,omitempty"`
	Snapshots   []*Snapshot `json:"snapshots"`
}

// New creates an empty Signal. Snapshots are added with Signal.Append.
func New(name string, numNodes, numFeatures int) *Signal {
	return &Signal{
		Name:        name,
		NumNodes:    numNodes,
		NumFeatures: numFeatures,
	}
}

// String implements fmt.Stringer.
func (s *Signal) String() string {
	return fmt.Sprintf("signal %q: %d snapshots, %d nodes, %d features, up to %d edges",
		s.Name, s.Len(), s.NumNodes, s.NumFeatures, s.MaxEdges())
}

// Len returns the number of snapshots.
func (s *Signal) Len() int {
	return len(s.Snapshots)
}

// MaxEdges returns the largest number of edges of any snapshot.
func (s *Signal) MaxEdges() int {
	var maxEdges int
	for _, snapshot := range s.Snapshots {
		maxEdges = max(maxEdges, len(snapshot.Edges))
	}
	return maxEdges
}

// Validate checks that the snapshot is consistent with a signal of numNodes nodes with numFeatures features.
func (snapshot *Snapshot) Validate(numNodes, numFeatures int) error {
	if snapshot.Weights != nil && len(snapshot.Weights) != len(snapshot.Edges) {
		return errors.Errorf("snapshot has %d edges but %d weights", len(snapshot.Edges), len(snapshot.Weights))
	}
	for i, edge := range snapshot.Edges {
		for _, node := range edge {
			if node < 0 || int(node) >= numNodes {
				return errors.Errorf("edge #%d (%d->%d) refers to a node out of range [0, %d)", i, edge[0], edge[1], numNodes)
			}
		}
	}
	if len(snapshot.Features) != numNodes {
		return errors.Errorf("snapshot has features for %d nodes, expected %d", len(snapshot.Features), numNodes)
	}
	for node, features := range snapshot.Features {
		if len(features) != numFeatures {
			return errors.Errorf("node #%d has %d features, expected %d", node, len(features), numFeatures)
		}
	}
	if len(snapshot.Targets) != numNodes {
		return errors.Errorf("snapshot has targets for %d nodes, expected %d", len(snapshot.Targets), numNodes)
	}
	return nil
}

// Append validates the snapshot and appends it to the signal.
//
// If the signal NumFeatures is 0, it is set from the first snapshot appended.
func (s *Signal) Append(snapshot *Snapshot) error {
	if s.NumNodes <= 0 {
		return errors.Errorf("signal %q has invalid number of nodes %d", s.Name, s.NumNodes)
	}
	if s.NumFeatures == 0 && len(snapshot.Features) > 0 {
		s.NumFeatures = len(snapshot.Features[0])
	}
	if err := snapshot.Validate(s.NumNodes, s.NumFeatures); err != nil {
		return errors.WithMessagef(err, "signal %q, snapshot #%d", s.Name, s.Len())
	}
	s.Snapshots = append(s.Snapshots, snapshot)
	return nil
}

// Split the signal in time: the first trainRatio fraction of the snapshots go to train, the rest to test.
// Both share the snapshots with the original signal.
func (s *Signal) Split(trainRatio float64) (train, test *Signal, err error) {
	if trainRatio <= 0 || trainRatio >= 1 {
		return nil, nil, errors.Errorf("trainRatio must be in the open interval (0, 1), got %g", trainRatio)
	}
	numTrain := int(trainRatio * float64(s.Len()))
	if numTrain == 0 || numTrain == s.Len() {
		return nil, nil, errors.Errorf("signal %q with %d snapshots can't be split with trainRatio=%g",
			s.Name, s.Len(), trainRatio)
	}
	train = &Signal{
		Name:        s.Name + "-train",
		NumNodes:    s.NumNodes,
		NumFeatures: s.NumFeatures,
		Snapshots:   s.Snapshots[:numTrain:numTrain],
	}
	test = &Signal{
		Name:        s.Name + "-test",
		NumNodes:    s.NumNodes,
		NumFeatures: s.NumFeatures,
		Snapshots:   s.Snapshots[numTrain:],
	}
	return
}
