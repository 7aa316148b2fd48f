// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package temporal

import (
	. "github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/temporalgnn/pkg/ml/layers/gnn"
	"github.com/gomlx/temporalgnn/pkg/ml/layers/gru"
	"k8s.io/klog/v2"
)

// evolveGCN holds the configuration shared by EvolveGCNH and EvolveGCNO.
type evolveGCN struct {
	ctx                     *context.Context
	x                       *Node
	edges                   *gnn.Edges
	normalize, addSelfLoops bool
}

func newEvolveGCN(name string, ctx *context.Context, x *Node, edges *gnn.Edges) evolveGCN {
	if x.Rank() != 2 {
		Panicf("temporal.%s requires x shaped [numNodes, inputChannels], got %s", name, x.Shape())
	}
	return evolveGCN{
		ctx:          ctx,
		x:            x,
		edges:        edges,
		normalize:    context.GetParamOr(ctx, ParamEvolveGCNNormalize, true),
		addSelfLoops: context.GetParamOr(ctx, ParamEvolveGCNAddSelfLoops, true),
	}
}

// inputChannels of the node features, which is also the size of the (square) evolving weight matrix.
func (e *evolveGCN) inputChannels() int {
	return e.x.Shape().Dim(1)
}

// initialWeight returns the learnable weight used on the first snapshot, or checks the shape of
// the given weight.
func (e *evolveGCN) initialWeight(name string, weight *Node) *Node {
	inputChannels := e.inputChannels()
	if weight == nil {
		return e.ctx.VariableWithShape("initial_weight", shapes.Make(e.x.DType(), inputChannels, inputChannels)).
			ValueGraph(e.x.Graph())
	}
	if weight.Rank() != 2 || weight.Shape().Dim(0) != inputChannels || weight.Shape().Dim(1) != inputChannels {
		Panicf("temporal.%s: the weight must be shaped [inputChannels=%d, inputChannels=%d], got %s",
			name, inputChannels, inputChannels, weight.Shape())
	}
	return weight
}

// evolve runs one step of the GRU that evolves the weight matrix. Each row of the weight is one
// example of a sequence of length 1.
func (e *evolveGCN) evolve(input, weight *Node) *Node {
	_, evolved := gru.New(e.ctx.In("gru"), InsertAxes(input, 1), e.inputChannels()).
		InitialState(weight).
		Done()
	return evolved
}

// convolve applies the GCN with the evolved weight to the node features.
func (e *evolveGCN) convolve(weight *Node) *Node {
	return gnn.GCN(e.ctx.In("conv"), e.x, e.edges, e.inputChannels()).
		Weight(weight).
		UseBias(false).
		Normalize(e.normalize).
		AddSelfLoops(e.addSelfLoops).
		Done()
}

// EvolveGCNH holds the configuration of the "-H" version of EvolveGCN [2] for one snapshot.
// Create it with NewEvolveGCNH, configure it, and apply it with Done.
type EvolveGCNH struct {
	evolveGCN
	numNodes       int
	hidden, weight *Node
}

// NewEvolveGCNH creates the encoder for the node features x, shaped [numNodes, inputChannels], of one snapshot
// with the given edges.
//
// The weight of a GCN, shaped [inputChannels, inputChannels], is the hidden state of a GRU. At each
// snapshot the GRU is fed with a summary of the node features: the inputChannels nodes selected by
// top-k pooling (gnn.TopKPool). The evolved weight is then used to convolve the node features.
//
// The snapshot must have at least inputChannels nodes.
//
// The normalization and self-loops of the GCN default to the context hyperparameters ParamEvolveGCNNormalize and
// ParamEvolveGCNAddSelfLoops.
func NewEvolveGCNH(ctx *context.Context, x *Node, edges *gnn.Edges) *EvolveGCNH {
	return &EvolveGCNH{
		evolveGCN: newEvolveGCN("NewEvolveGCNH", ctx, x, edges),
		numNodes:  x.Shape().Dim(0),
	}
}

// NumNodes sets the configured number of nodes of the graph, used only to report the pooling ratio (see Ratio):
// the pooling always keeps inputChannels nodes of x. It defaults to the number of nodes of x, and must be > 0.
func (e *EvolveGCNH) NumNodes(numNodes int) *EvolveGCNH {
	if numNodes <= 0 {
		Panicf("temporal.EvolveGCNH: NumNodes must be > 0, got %d", numNodes)
	}
	e.numNodes = numNodes
	return e
}

// Ratio is the fraction of the (configured) nodes kept by the pooling: inputChannels / numNodes.
func (e *EvolveGCNH) Ratio() float64 {
	return float64(e.inputChannels()) / float64(e.numNodes)
}

// States sets the hidden state and the weight returned by the call for the previous snapshot.
// Both must be nil (the default, for the first snapshot) or both set, shaped [inputChannels, inputChannels].
//
// The hidden state is the one fed to the GRU. The weight returned by Done holds the same values, and
// is only checked for its shape.
func (e *EvolveGCNH) States(hidden, weight *Node) *EvolveGCNH {
	e.hidden, e.weight = hidden, weight
	return e
}

// Normalize configures whether the GCN uses the symmetric normalization of the edge weights.
func (e *EvolveGCNH) Normalize(normalize bool) *EvolveGCNH {
	e.normalize = normalize
	return e
}

// AddSelfLoops configures whether the GCN adds self-loops to the graph.
func (e *EvolveGCNH) AddSelfLoops(addSelfLoops bool) *EvolveGCNH {
	e.addSelfLoops = addSelfLoops
	return e
}

// Done applies the encoder. It returns:
//
//   - output: the node embeddings, shaped [numNodes, inputChannels].
//   - hidden: the new GRU hidden state, shaped [inputChannels, inputChannels].
//   - weight: the evolved GCN weight, shaped [inputChannels, inputChannels].
//
// It panics with an error wrapping ErrMismatchedStates if only one of the states was given.
func (e *EvolveGCNH) Done() (output, hidden, weight *Node) {
	checkStatesPair("temporal.EvolveGCNH", "hidden", e.hidden, "weight", e.weight)
	numNodes, inputChannels := e.x.Shape().Dim(0), e.inputChannels()
	if numNodes < inputChannels {
		Panicf("temporal.EvolveGCNH: the graph must have at least as many nodes (%d) as input channels (%d)",
			numNodes, inputChannels)
	}

	prevHidden := e.initialWeight("EvolveGCNH", e.hidden)
	if e.weight != nil {
		_ = e.initialWeight("EvolveGCNH", e.weight)
	}

	pooled, _, _ := gnn.TopKPool(e.ctx.In("pooling"), e.x, inputChannels)
	klog.V(2).Infof("EvolveGCNH: x.shape=%s, pooling ratio=%.3f (k=%d), pooled shape=%s",
		e.x.Shape(), e.Ratio(), inputChannels, pooled.Shape())
	hidden = e.evolve(pooled, prevHidden)
	weight = hidden
	output = e.convolve(weight)
	return
}

// EvolveGCNO holds the configuration of the "-O" version of EvolveGCN [2] for one snapshot.
// Create it with NewEvolveGCNO, configure it, and apply it with Done.
type EvolveGCNO struct {
	evolveGCN
	weight *Node
}

// NewEvolveGCNO creates the encoder for the node features x, shaped [numNodes, inputChannels], of one snapshot
// with the given edges.
//
// The weight of a GCN, shaped [inputChannels, inputChannels], is evolved by a GRU which uses it both as
// input and as hidden state. The evolved weight is then used to convolve the node features.
// Differently from EvolveGCNH, the evolution doesn't depend on the node features.
//
// The normalization and self-loops of the GCN default to the context hyperparameters ParamEvolveGCNNormalize and
// ParamEvolveGCNAddSelfLoops.
func NewEvolveGCNO(ctx *context.Context, x *Node, edges *gnn.Edges) *EvolveGCNO {
	return &EvolveGCNO{evolveGCN: newEvolveGCN("NewEvolveGCNO", ctx, x, edges)}
}

// Weight sets the weight returned by the call for the previous snapshot. If nil (the default, for the first
// snapshot), a learnable initial weight is used.
func (e *EvolveGCNO) Weight(weight *Node) *EvolveGCNO {
	e.weight = weight
	return e
}

// Normalize configures whether the GCN uses the symmetric normalization of the edge weights.
func (e *EvolveGCNO) Normalize(normalize bool) *EvolveGCNO {
	e.normalize = normalize
	return e
}

// AddSelfLoops configures whether the GCN adds self-loops to the graph.
func (e *EvolveGCNO) AddSelfLoops(addSelfLoops bool) *EvolveGCNO {
	e.addSelfLoops = addSelfLoops
	return e
}

// Done applies the encoder. It returns the node embeddings, shaped [numNodes, inputChannels], and the evolved
// weight, shaped [inputChannels, inputChannels].
func (e *EvolveGCNO) Done() (output, weight *Node) {
	prevWeight := e.initialWeight("EvolveGCNO", e.weight)
	weight = e.evolve(prevWeight, prevWeight)
	output = e.convolve(weight)
	return
}
