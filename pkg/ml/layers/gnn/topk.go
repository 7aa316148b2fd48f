// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package gnn

import (
	"math"

	. "github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/context/initializers"
	"github.com/gomlx/gopjrt/dtypes"
)

// normEpsilon is the lower bound of the norm of the projection vector in TopKPool.
const normEpsilon = 1e-12

// TopKPool scores each node of x (shaped [numNodes, channels]) by its projection on a learnable vector p,
// and keeps the k best scoring nodes [4]:
//
//	score = tanh(x·p / ‖p‖)
//	pooled = x[selected] ⊙ score[selected]
//
// Ties are broken by the node index: the lower index is selected first.
// The projection vector p is created in ctx as the variable "projection", shaped [channels], initialized
// uniformly in ±1/√channels.
//
// It returns:
//   - pooled: the selected nodes features scaled by their score, shaped [k, channels], in descending score order.
//   - selected: the indices of the selected nodes, shaped [k] (Int32).
//   - scores: the score of every node, shaped [numNodes].
func TopKPool(ctx *context.Context, x *Node, k int) (pooled, selected, scores *Node) {
	if x.Rank() != 2 {
		Panicf("gnn.TopKPool requires x shaped [numNodes, channels], got %s", x.Shape())
	}
	g := x.Graph()
	dtype := x.DType()
	numNodes, channels := x.Shape().Dim(0), x.Shape().Dim(1)
	if k < 1 || k > numNodes {
		Panicf("gnn.TopKPool: k=%d must be between 1 and the number of nodes (%d)", k, numNodes)
	}

	bound := 1.0 / math.Sqrt(float64(channels))
	projection := ctx.WithInitializer(initializers.RandomUniformFn(ctx, -bound, bound)).
		VariableWithShape("projection", shapes.Make(dtype, channels)).ValueGraph(g)
	norm := Max(Sqrt(ReduceAllSum(Square(projection))), Scalar(g, dtype, normEpsilon))
	scores = Tanh(Div(Einsum("nc,c->n", x, projection), norm))

	// oneHot[i, r] = 1 if node i has rank r, for the k first ranks.
	ranks := descendingRanks(StopGradient(scores))
	oneHot := OneHot(ranks, k, dtype) // [numNodes, k]
	pooled = Einsum("nk,nc->kc", oneHot, x)
	selectedScores := Einsum("nk,n->k", oneHot, scores)
	pooled = Mul(pooled, InsertAxes(selectedScores, -1))

	// Int32 indices: float16 and bfloat16 can't represent every node index.
	nodeIndices := Iota(g, shapes.Make(dtypes.Int32, numNodes), 0)
	selected = ReduceSum(Mul(ConvertDType(oneHot, dtypes.Int32), InsertAxes(nodeIndices, -1)), 0)
	return
}

// descendingRanks returns the position of each value in a stable descending sort of values (shaped [n]):
// rank[i] = #{j: v[j] > v[i]} + #{j < i: v[j] == v[i]}.
func descendingRanks(values *Node) *Node {
	g := values.Graph()
	n := values.Shape().Dim(0)
	vi := BroadcastToDims(InsertAxes(values, -1), n, n) // vi[i, j] = v[i]
	vj := BroadcastToDims(InsertAxes(values, 0), n, n)  // vj[i, j] = v[j]
	ii := Iota(g, shapes.Make(dtypes.Int32, n, n), 0)
	jj := Iota(g, shapes.Make(dtypes.Int32, n, n), 1)
	before := LogicalOr(
		GreaterThan(vj, vi),
		LogicalAnd(Equal(vj, vi), LessThan(jj, ii)))
	return ReduceSum(ConvertDType(before, dtypes.Int32), 1)
}
