// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package gnn implements message passing layers over graphs given as edge lists (COO format), as used by
// the PyTorch Geometric family of models [1].
//
// Graphs are described by Edges: a pair of integer tensors with the source and target node of each edge,
// and optional per-edge weights and a mask. Node features are shaped [numNodes, numFeatures].
//
// Since XLA requires static shapes, a graph with fewer edges than the space allocated for it can be padded
// with arbitrary (valid) node indices and have the padding masked out with Edges.WithMask.
//
// The layers provided:
//
//   - Propagate: gathers messages from the source nodes and aggregates them in the target nodes.
//   - GCN: the graph convolution of Kipf & Welling [2].
//   - GatedGraph: the gated graph convolution of Li et al. [3].
//   - TopKPool: the projection score based pooling of Cangea et al. [4].
//
// [1] https://pytorch-geometric.readthedocs.io/
// [2] https://arxiv.org/abs/1609.02907, "Semi-Supervised Classification with Graph Convolutional Networks"
// [3] https://arxiv.org/abs/1511.05493, "Gated Graph Sequence Neural Networks"
// [4] https://arxiv.org/abs/1811.01287, "Towards Sparse Hierarchical Graph Classifiers"
package gnn

import (
	"strings"

	. "github.com/gomlx/exceptions"
	"github.com/pkg/errors"
)

var (
	// ParamAggregation is the context hyperparameter with the default aggregation used by GatedGraph.
	// It can be "add" (or its alias "sum"), "mean" or "max".
	// The default is "add".
	ParamAggregation = "gnn_aggregation"
)

// AggregationType defines how messages arriving at a node are combined.
type AggregationType int

const (
	AggregationSum AggregationType = iota
	AggregationMean
	AggregationMax
)

// String implements fmt.Stringer.
func (a AggregationType) String() string {
	switch a {
	case AggregationSum:
		return "add"
	case AggregationMean:
		return "mean"
	case AggregationMax:
		return "max"
	}
	return "unknown"
}

// ParseAggregation converts the aggregation name to an AggregationType.
// Names are case-insensitive, and "add" and "sum" are synonyms.
func ParseAggregation(name string) (AggregationType, error) {
	switch strings.ToLower(name) {
	case "add", "sum":
		return AggregationSum, nil
	case "mean":
		return AggregationMean, nil
	case "max":
		return AggregationMax, nil
	}
	return AggregationSum, errors.Errorf("unknown aggregation %q, valid values are \"add\", \"sum\", \"mean\" or \"max\"", name)
}

// MustParseAggregation is like ParseAggregation, but panics on error.
// Used while building graphs, where errors are reported with panics.
func MustParseAggregation(name string) AggregationType {
	aggr, err := ParseAggregation(name)
	if err != nil {
		Panicf("gnn: %v", err)
	}
	return aggr
}
