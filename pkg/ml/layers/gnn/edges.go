// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package gnn

import (
	. "github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gopjrt/dtypes"
)

// Edges of a directed graph, in COO format: Source[i] -> Target[i] is the i-th edge.
//
// Edges is immutable: the With* and AddRemainingSelfLoops methods return modified copies.
type Edges struct {
	// Source and Target node indices of each edge, integer tensors shaped [numEdges].
	Source, Target *Node

	// Weights is optional (can be nil), shaped [numEdges]. If nil, all edges have weight 1.
	Weights *Node

	// Mask is optional (can be nil), a boolean tensor shaped [numEdges]. Edges whose mask is false
	// are ignored by every operation, as if they were not there.
	Mask *Node
}

// NewEdges creates Edges from the source and target node indices, both integer tensors shaped [numEdges].
func NewEdges(source, target *Node) *Edges {
	if source.Rank() != 1 || !source.Shape().Equal(target.Shape()) {
		Panicf("gnn.NewEdges requires source and target shaped [numEdges], got source.shape=%s, target.shape=%s",
			source.Shape(), target.Shape())
	}
	if !source.DType().IsInt() {
		Panicf("gnn.NewEdges requires integer node indices, got dtype %s", source.DType())
	}
	return &Edges{Source: source, Target: target}
}

// EdgesFromIndex creates Edges from an "edge index" shaped [2, numEdges], where the first row
// holds the source nodes and the second row the target nodes.
func EdgesFromIndex(edgeIndex *Node) *Edges {
	if edgeIndex.Rank() != 2 || edgeIndex.Shape().Dim(0) != 2 {
		Panicf("gnn.EdgesFromIndex requires an edge index shaped [2, numEdges], got %s", edgeIndex.Shape())
	}
	numEdges := edgeIndex.Shape().Dim(1)
	source := Reshape(Slice(edgeIndex, AxisElem(0)), numEdges)
	target := Reshape(Slice(edgeIndex, AxisElem(1)), numEdges)
	return NewEdges(source, target)
}

// NumEdges returns the static number of edges, including masked ones.
func (e *Edges) NumEdges() int {
	return e.Source.Shape().Dim(0)
}

// WithWeights returns a copy of the edges with the given weights, shaped [numEdges]. It can be nil.
func (e *Edges) WithWeights(weights *Node) *Edges {
	if weights != nil {
		weights.AssertDims(e.NumEdges())
	}
	e2 := *e
	e2.Weights = weights
	return &e2
}

// WithMask returns a copy of the edges with the given boolean mask, shaped [numEdges]. It can be nil.
func (e *Edges) WithMask(mask *Node) *Edges {
	if mask != nil {
		mask.AssertDims(e.NumEdges())
		if mask.DType() != dtypes.Bool {
			Panicf("gnn.Edges.WithMask requires a boolean mask, got dtype %s", mask.DType())
		}
	}
	e2 := *e
	e2.Mask = mask
	return &e2
}

// EffectiveWeights returns the weight of each edge, converted to dtype and shaped [numEdges]:
// 1 if Weights is nil, and 0 for masked out edges.
func (e *Edges) EffectiveWeights(dtype dtypes.DType) *Node {
	g := e.Source.Graph()
	var weights *Node
	if e.Weights == nil {
		weights = Ones(g, shapes.Make(dtype, e.NumEdges()))
	} else {
		weights = ConvertDType(e.Weights, dtype)
	}
	if e.Mask != nil {
		weights = Where(e.Mask, weights, ZerosLike(weights))
	}
	return weights
}

// validMask returns Mask, or an all-true mask if none was set.
func (e *Edges) validMask() *Node {
	if e.Mask != nil {
		return e.Mask
	}
	return Ones(e.Source.Graph(), shapes.Make(dtypes.Bool, e.NumEdges()))
}

// AddRemainingSelfLoops returns a copy of the edges with one self-loop (i -> i) appended for each of
// the numNodes nodes.
//
// Nodes that already had a (non-masked) self-loop keep its weight: the original loop edge is masked out and the
// appended one takes over its weight. The others get fillValue as weight (usually 1, or 2 for the
// "improved" GCN variant).
//
// The returned Edges always have a Mask and, if fillValue != 1 or the original edges had weights, Weights.
func (e *Edges) AddRemainingSelfLoops(numNodes int, fillValue float64) *Edges {
	g := e.Source.Graph()
	indexDType := e.Source.DType()
	mask := e.validMask()
	isLoop := LogicalAnd(Equal(e.Source, e.Target), mask)

	// Weight dtype: the one of the weights, if given, or float32.
	weightsDType := dtypes.Float32
	if e.Weights != nil {
		weightsDType = e.Weights.DType()
	}
	loopNodes := Iota(g, shapes.Make(indexDType, numNodes), 0)

	// For each node, whether it had a valid self-loop, and its weight.
	targetIdx := InsertAxes(e.Target, -1)
	hadLoop := Scatter(targetIdx, InsertAxes(ConvertDType(isLoop, weightsDType), -1),
		shapes.Make(weightsDType, numNodes, 1), false, false)
	hadLoop = GreaterThan(Reshape(hadLoop, numNodes), ZerosLike(Reshape(hadLoop, numNodes)))

	newEdges := &Edges{
		Source: Concatenate([]*Node{e.Source, loopNodes}, 0),
		Target: Concatenate([]*Node{e.Target, loopNodes}, 0),
		Mask: Concatenate([]*Node{
			LogicalAnd(mask, LogicalNot(isLoop)),
			Ones(g, shapes.Make(dtypes.Bool, numNodes)),
		}, 0),
	}
	if e.Weights == nil && fillValue == 1 {
		// All weights are 1: no need to materialize them.
		return newEdges
	}

	weights := e.EffectiveWeights(weightsDType)
	loopWeights := BroadcastToDims(Scalar(g, weightsDType, fillValue), numNodes)
	if e.Weights != nil {
		existing := Scatter(targetIdx, InsertAxes(Where(isLoop, weights, ZerosLike(weights)), -1),
			shapes.Make(weightsDType, numNodes, 1), false, false)
		loopWeights = Where(hadLoop, Reshape(existing, numNodes), loopWeights)
	}
	newEdges.Weights = Concatenate([]*Node{weights, loopWeights}, 0)
	return newEdges
}

// Degree returns the weighted in-degree of each node (sum of the weights of the edges arriving at it), shaped
// [numNodes] and with the given dtype.
func (e *Edges) Degree(numNodes int, dtype dtypes.DType) *Node {
	weights := e.EffectiveWeights(dtype)
	degree := Scatter(InsertAxes(e.Target, -1), InsertAxes(weights, -1), shapes.Make(dtype, numNodes, 1), false, false)
	return Reshape(degree, numNodes)
}

// SymmetricNormalization returns the edge weights normalized as D^{-1/2}·A·D^{-1/2}, where D is the
// weighted in-degree matrix: norm[i] = deg[source[i]]^{-1/2} · weight[i] · deg[target[i]]^{-1/2}.
//
// Nodes with degree 0 contribute 0. The returned weights are shaped [numEdges], with the given dtype.
func (e *Edges) SymmetricNormalization(numNodes int, dtype dtypes.DType) *Node {
	weights := e.EffectiveWeights(dtype)
	degree := e.Degree(numNodes, dtype)
	positive := GreaterThan(degree, ZerosLike(degree))
	// Rsqrt only sees positive values, also in the gradient.
	safeDegree := Where(positive, degree, OnesLike(degree))
	invSqrtDegree := Where(positive, Rsqrt(safeDegree), ZerosLike(degree))
	sourceNorm := Gather(invSqrtDegree, InsertAxes(e.Source, -1))
	targetNorm := Gather(invSqrtDegree, InsertAxes(e.Target, -1))
	return Mul(Mul(sourceNorm, weights), targetNorm)
}
