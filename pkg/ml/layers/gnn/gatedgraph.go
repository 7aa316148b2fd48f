// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package gnn

import (
	. "github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/temporalgnn/pkg/ml/layers/gru"
)

// GatedGraphConfig holds the configuration of a gated graph convolution. Create it with GatedGraph,
// configure it with the setter methods, and apply it with Done.
type GatedGraphConfig struct {
	ctx            *context.Context
	x              *Node
	edges          *Edges
	outputChannels int
	numLayers      int
	aggregation    AggregationType
	useBias        bool
}

// GatedGraph configures a gated graph convolution [3] of the node features x, shaped [numNodes, inputChannels],
// with inputChannels <= outputChannels:
//
//	h⁰ = x, zero padded to outputChannels
//	mˡ⁺¹ = aggregate_{j->i} (e_ji · hˡ_j·Wˡ)
//	hˡ⁺¹ = GRU(mˡ⁺¹, hˡ)
//
// The GRU cell is shared by all layers, while each layer has its own W.
// The aggregation defaults to the context hyperparameter ParamAggregation ("add").
//
// Variables created in ctx: "weights", shaped [numLayers, outputChannels, outputChannels], and the GRU cell weights
// under the scope "gru".
func GatedGraph(ctx *context.Context, x *Node, edges *Edges, outputChannels int) *GatedGraphConfig {
	if x.Rank() != 2 {
		Panicf("gnn.GatedGraph requires x shaped [numNodes, inputChannels], got %s", x.Shape())
	}
	return &GatedGraphConfig{
		ctx:            ctx,
		x:              x,
		edges:          edges,
		outputChannels: outputChannels,
		numLayers:      1,
		aggregation:    MustParseAggregation(context.GetParamOr(ctx, ParamAggregation, "add")),
		useBias:        true,
	}
}

// NumLayers sets the number of message passing iterations. Default is 1.
func (c *GatedGraphConfig) NumLayers(numLayers int) *GatedGraphConfig {
	if numLayers < 1 {
		Panicf("gnn.GatedGraph requires at least 1 layer, got %d", numLayers)
	}
	c.numLayers = numLayers
	return c
}

// Aggregation sets how messages are combined at the target nodes.
func (c *GatedGraphConfig) Aggregation(aggregation AggregationType) *GatedGraphConfig {
	c.aggregation = aggregation
	return c
}

// UseBias configures whether the GRU cell uses biases. Default is true.
func (c *GatedGraphConfig) UseBias(useBias bool) *GatedGraphConfig {
	c.useBias = useBias
	return c
}

// Done applies the convolution and returns the new node features, shaped [numNodes, outputChannels].
func (c *GatedGraphConfig) Done() *Node {
	ctx := c.ctx
	x := c.x
	g := x.Graph()
	dtype := x.DType()
	numNodes, inputChannels := x.Shape().Dim(0), x.Shape().Dim(1)
	outputChannels := c.outputChannels
	if inputChannels > outputChannels {
		Panicf("gnn.GatedGraph: the number of input channels (%d) must be <= the number of output channels (%d)",
			inputChannels, outputChannels)
	}
	if inputChannels < outputChannels {
		x = Concatenate([]*Node{x, Zeros(g, shapes.Make(dtype, numNodes, outputChannels-inputChannels))}, 1)
	}

	weights := ctx.VariableWithShape("weights", shapes.Make(dtype, c.numLayers, outputChannels, outputChannels)).ValueGraph(g)
	cellCtx := ctx.In("gru")
	inputsW := cellCtx.VariableWithShape("inputsW", shapes.Make(dtype, gru.NumGates, outputChannels, outputChannels)).ValueGraph(g)
	recurrentW := cellCtx.VariableWithShape("recurrentW", shapes.Make(dtype, gru.NumGates, outputChannels, outputChannels)).ValueGraph(g)
	var biases *Node
	if c.useBias {
		biases = cellCtx.VariableWithShape("biasesW", shapes.Make(dtype, 2*gru.NumGates, outputChannels)).ValueGraph(g)
	}

	for layer := range c.numLayers {
		layerWeights := Squeeze(Slice(weights, AxisElem(layer)), 0)
		messages := Propagate(MatMul(x, layerWeights), c.edges, numNodes, c.aggregation)
		x = gru.Cell(messages, x, inputsW, recurrentW, biases)
	}
	return x
}
