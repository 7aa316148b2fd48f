// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package gnn

import (
	"math"

	. "github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gopjrt/dtypes"
)

// Propagate sends the values of the source node of each edge, scaled by the edge weight, to its target node,
// and aggregates the messages arriving at each node.
//
// Args:
//   - values: shaped [numSourceNodes, dim].
//   - edges: masked out edges are ignored.
//   - numNodes: number of target nodes.
//   - aggregation: how to combine the messages. Nodes that receive no messages get 0.
//
// It returns a tensor shaped [numNodes, dim].
func Propagate(values *Node, edges *Edges, numNodes int, aggregation AggregationType) *Node {
	if values.Rank() != 2 {
		Panicf("gnn.Propagate requires values shaped [numNodes, dim], got %s", values.Shape())
	}
	g := values.Graph()
	dtype := values.DType()
	dim := values.Shape().Dim(1)
	outputShape := shapes.Make(dtype, numNodes, dim)

	sourceIdx := InsertAxes(edges.Source, -1)
	targetIdx := InsertAxes(edges.Target, -1)
	messages := Gather(values, sourceIdx) // [numEdges, dim]
	messages = Mul(messages, InsertAxes(edges.EffectiveWeights(dtype), -1))

	switch aggregation {
	case AggregationSum:
		return Scatter(targetIdx, messages, outputShape, false, false)

	case AggregationMean:
		sum := Scatter(targetIdx, messages, outputShape, false, false)
		return Div(sum, MaxScalar(messageCount(edges, numNodes, dtype), 1))

	case AggregationMax:
		lowest := Scalar(g, dtype, math.Inf(-1))
		if edges.Mask != nil {
			messages = Where(edges.Mask, messages, lowest)
		}
		maxed := ScatterMax(BroadcastToDims(lowest, numNodes, dim), targetIdx, messages, false, false)
		count := Reshape(messageCount(edges, numNodes, dtype), numNodes)
		return Where(Equal(count, ZerosLike(count)), ZerosLike(maxed), maxed)
	}
	Panicf("gnn.Propagate: unknown aggregation %s", aggregation)
	return nil
}

// messageCount returns the number of (non-masked) edges arriving at each node, shaped [numNodes, 1].
func messageCount(edges *Edges, numNodes int, dtype dtypes.DType) *Node {
	g := edges.Source.Graph()
	ones := Ones(g, shapes.Make(dtype, edges.NumEdges(), 1))
	if edges.Mask != nil {
		ones = Where(InsertAxes(edges.Mask, -1), ones, ZerosLike(ones))
	}
	return Scatter(InsertAxes(edges.Target, -1), ones, shapes.Make(dtype, numNodes, 1), false, false)
}
