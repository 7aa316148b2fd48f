// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package gnn

import (
	. "github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/context/initializers"
)

// GCNConfig holds the configuration of a graph convolution layer. Create it with GCN, configure it
// with the setter methods, and apply it with Done.
type GCNConfig struct {
	ctx                                        *context.Context
	x                                          *Node
	edges                                      *Edges
	outputChannels                             int
	weight                                     *Node
	useBias, addSelfLoops, normalize, improved bool
}

// GCN configures a graph convolution [2] of the node features x, shaped [numNodes, inputChannels],
// over the given edges:
//
//	X' = D^{-1/2}·Â·D^{-1/2}·X·W
//
// Where Â is the adjacency matrix with self-loops added, and D its (weighted) degree matrix.
// Messages flow from the source to the target of each edge.
//
// By default, it adds self-loops, normalizes, and uses a bias. The weights are created in ctx
// as "weights" (shaped [inputChannels, outputChannels]) and "biases", unless given with GCNConfig.Weight.
func GCN(ctx *context.Context, x *Node, edges *Edges, outputChannels int) *GCNConfig {
	if x.Rank() != 2 {
		Panicf("gnn.GCN requires x shaped [numNodes, inputChannels], got %s", x.Shape())
	}
	return &GCNConfig{
		ctx:            ctx,
		x:              x,
		edges:          edges,
		outputChannels: outputChannels,
		useBias:        true,
		addSelfLoops:   true,
		normalize:      true,
	}
}

// Weight sets the weights of the convolution, shaped [inputChannels, outputChannels], instead of creating
// them as a variable. Used by models that compute (evolve) the weights themselves.
func (c *GCNConfig) Weight(weight *Node) *GCNConfig {
	c.weight = weight
	return c
}

// UseBias configures whether a bias (shaped [outputChannels]) is added to the output. Default is true.
func (c *GCNConfig) UseBias(useBias bool) *GCNConfig {
	c.useBias = useBias
	return c
}

// AddSelfLoops configures whether a self-loop is added to every node that doesn't have one. Default is true.
func (c *GCNConfig) AddSelfLoops(addSelfLoops bool) *GCNConfig {
	c.addSelfLoops = addSelfLoops
	return c
}

// Normalize configures whether to use the symmetric normalization of the edge weights. Default is true.
func (c *GCNConfig) Normalize(normalize bool) *GCNConfig {
	c.normalize = normalize
	return c
}

// Improved configures the added self-loops to have weight 2 instead of 1, as in [Fast GCN]. Default is false.
//
// [Fast GCN]: https://arxiv.org/abs/1811.05868
func (c *GCNConfig) Improved(improved bool) *GCNConfig {
	c.improved = improved
	return c
}

// Done applies the convolution and returns the new node features, shaped [numNodes, outputChannels].
func (c *GCNConfig) Done() *Node {
	x := c.x
	g := x.Graph()
	dtype := x.DType()
	numNodes := x.Shape().Dim(0)
	inputChannels := x.Shape().Dim(1)

	weight := c.weight
	if weight == nil {
		weight = c.ctx.VariableWithShape("weights", shapes.Make(dtype, inputChannels, c.outputChannels)).ValueGraph(g)
	} else {
		weight.AssertDims(inputChannels, c.outputChannels)
	}

	edges := c.edges
	if c.addSelfLoops {
		fillValue := 1.0
		if c.improved {
			fillValue = 2.0
		}
		edges = edges.AddRemainingSelfLoops(numNodes, fillValue)
	}
	if c.normalize {
		edges = edges.WithWeights(edges.SymmetricNormalization(numNodes, dtype))
	}

	output := Propagate(MatMul(x, weight), edges, numNodes, AggregationSum)
	if c.useBias {
		bias := c.ctx.WithInitializer(initializers.Zero).
			VariableWithShape("biases", shapes.Make(dtype, c.outputChannels)).ValueGraph(g)
		output = Add(output, InsertAxes(bias, 0))
	}
	return output
}
