// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package temporal implements recurrent graph encoders for dynamic graphs: sequences of graph snapshots
// where both the node features and the edges may change at every time step.
//
// Each encoder processes one snapshot per call and returns, besides the node embeddings, the recurrent
// state to be fed to the call for the next snapshot:
//
//   - DyGrEncoder [1]: a gated graph convolution followed by (stacked) LSTMs, whose hidden and cell states
//     are carried across snapshots.
//   - EvolveGCNH [2]: a GCN whose weight matrix is evolved by a GRU, driven by a top-k pooled summary of
//     the node features.
//   - EvolveGCNO [2]: a GCN whose weight matrix is evolved by a GRU that takes the weight itself as input.
//
// The recurrent states are graph values (*Node), not variables: a model processing a window of snapshots
// calls the encoder once per snapshot in the same graph, passing the states of the previous step. The
// variables of the encoder are shared across the steps, so calls after the first must use a context set
// to reuse variables (context.Context.Reuse), or an unchecked one (context.Context.Checked(false)).
//
// Example of an encoder unrolled over a window of snapshots:
//
//	var hidden, cell *Node
//	for t := range numSnapshots {
//		stepCtx := ctx.In("encoder")
//		if t > 0 {
//			stepCtx = stepCtx.Reuse()
//		}
//		var embeddings *Node
//		embeddings, hidden, cell = temporal.NewDyGrEncoder(stepCtx, x[t], edges[t]).
//			States(hidden, cell).
//			Done()
//		...
//	}
//
// [1] https://arxiv.org/abs/1911.07532, Taheri et al., "Learning to Represent the Evolution of Dynamic
// Graphs with Recurrent Models"
// [2] https://arxiv.org/abs/1902.10191, Pareja et al., "EvolveGCN: Evolving Graph Convolutional Networks for
// Dynamic Graphs"
package temporal

import (
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/pkg/errors"
)

// ErrMismatchedStates is raised (as a panic, during graph building) when only one of a pair of recurrent
// states is given: they must either be both nil (first snapshot) or both set.
var ErrMismatchedStates = errors.New("recurrent states must be given together or not at all")

var (
	// ParamDyGrConvOutChannels is the context hyperparameter with the number of output channels of the
	// DyGrEncoder gated graph convolution.
	// The default is 32.
	ParamDyGrConvOutChannels = "dygrae_conv_out_channels"

	// ParamDyGrConvNumLayers is the context hyperparameter with the number of message passing layers of the
	// DyGrEncoder gated graph convolution.
	// The default is 2.
	ParamDyGrConvNumLayers = "dygrae_conv_num_layers"

	// ParamDyGrConvAggregation is the context hyperparameter with the aggregation used by the DyGrEncoder
	// gated graph convolution: "add" (or "sum"), "mean" or "max".
	// The default is "add".
	ParamDyGrConvAggregation = "dygrae_conv_aggr"

	// ParamDyGrLSTMOutChannels is the context hyperparameter with the hidden size of the DyGrEncoder LSTMs.
	// The default is 32.
	ParamDyGrLSTMOutChannels = "dygrae_lstm_out_channels"

	// ParamDyGrLSTMNumLayers is the context hyperparameter with the number of stacked DyGrEncoder LSTMs.
	// The default is 1.
	ParamDyGrLSTMNumLayers = "dygrae_lstm_num_layers"

	// ParamEvolveGCNNormalize is the context hyperparameter that defines whether the EvolveGCN convolutions
	// use the symmetric normalization of the edge weights.
	// The default is true.
	ParamEvolveGCNNormalize = "evolvegcn_normalize"

	// ParamEvolveGCNAddSelfLoops is the context hyperparameter that defines whether the EvolveGCN convolutions
	// add self-loops to the graph.
	// The default is true.
	ParamEvolveGCNAddSelfLoops = "evolvegcn_add_self_loops"
)

// checkStatesPair panics with ErrMismatchedStates if exactly one of the states is nil.
func checkStatesPair(layerName, firstName string, first *Node, secondName string, second *Node) {
	firstSet, secondSet := first != nil, second != nil
	if firstSet != secondSet {
		panic(errors.Wrapf(ErrMismatchedStates, "%s: %s given=%t, %s given=%t",
			layerName, firstName, firstSet, secondName, secondSet))
	}
}
