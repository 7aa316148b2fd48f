// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package temporal

import (
	"fmt"

	. "github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/layers/lstm"
	"github.com/gomlx/temporalgnn/pkg/ml/layers/gnn"
	"k8s.io/klog/v2"
)

// DyGrEncoder holds the configuration of the "Dynamic Graph Representation" encoder [1] for one snapshot.
// Create it with NewDyGrEncoder, configure it, and apply it with Done.
type DyGrEncoder struct {
	ctx                            *context.Context
	x                              *Node
	edges                          *gnn.Edges
	hidden, cell                   *Node
	convOutChannels, convNumLayers int
	convAggregation                gnn.AggregationType
	lstmOutChannels, lstmNumLayers int
}

// NewDyGrEncoder creates the encoder for the node features x, shaped [numNodes, inputChannels], of one snapshot
// with the given edges.
//
// The node features go through a gated graph convolution (gnn.GatedGraph), whose output for each node is one
// step of the (stacked) LSTMs. The LSTMs use the node axis as batch axis.
//
// The configuration defaults are read from the context hyperparameters ParamDyGrConvOutChannels,
// ParamDyGrConvNumLayers, ParamDyGrConvAggregation, ParamDyGrLSTMOutChannels and ParamDyGrLSTMNumLayers.
func NewDyGrEncoder(ctx *context.Context, x *Node, edges *gnn.Edges) *DyGrEncoder {
	if x.Rank() != 2 {
		Panicf("temporal.NewDyGrEncoder requires x shaped [numNodes, inputChannels], got %s", x.Shape())
	}
	return &DyGrEncoder{
		ctx:             ctx,
		x:               x,
		edges:           edges,
		convOutChannels: context.GetParamOr(ctx, ParamDyGrConvOutChannels, 32),
		convNumLayers:   context.GetParamOr(ctx, ParamDyGrConvNumLayers, 2),
		convAggregation: gnn.MustParseAggregation(context.GetParamOr(ctx, ParamDyGrConvAggregation, "add")),
		lstmOutChannels: context.GetParamOr(ctx, ParamDyGrLSTMOutChannels, 32),
		lstmNumLayers:   context.GetParamOr(ctx, ParamDyGrLSTMNumLayers, 1),
	}
}

// ConvOutChannels sets the width of the gated graph convolution. It must be >= the number of input channels.
func (e *DyGrEncoder) ConvOutChannels(n int) *DyGrEncoder {
	e.convOutChannels = n
	return e
}

// ConvNumLayers sets the number of message passing layers of the gated graph convolution.
func (e *DyGrEncoder) ConvNumLayers(n int) *DyGrEncoder {
	e.convNumLayers = n
	return e
}

// ConvAggregation sets how the gated graph convolution aggregates the messages.
func (e *DyGrEncoder) ConvAggregation(aggregation gnn.AggregationType) *DyGrEncoder {
	e.convAggregation = aggregation
	return e
}

// LSTMOutChannels sets the hidden size of the LSTMs, which is also the size of the output embeddings.
func (e *DyGrEncoder) LSTMOutChannels(n int) *DyGrEncoder {
	e.lstmOutChannels = n
	return e
}

// LSTMNumLayers sets the number of stacked LSTMs.
func (e *DyGrEncoder) LSTMNumLayers(n int) *DyGrEncoder {
	if n < 1 {
		Panicf("temporal.DyGrEncoder requires at least 1 LSTM layer, got %d", n)
	}
	e.lstmNumLayers = n
	return e
}

// States sets the LSTMs hidden and cell states returned by the call for the previous snapshot.
// Both must be nil (the default, for the first snapshot, which starts with zero states) or both set.
//
// They are shaped [numNodes, lstmOutChannels] if there is only one LSTM layer, or
// [lstmNumLayers, numNodes, lstmOutChannels] otherwise.
func (e *DyGrEncoder) States(hidden, cell *Node) *DyGrEncoder {
	e.hidden, e.cell = hidden, cell
	return e
}

// Done applies the encoder. It returns:
//
//   - output: the node embeddings, shaped [numNodes, lstmOutChannels]: the hidden state of the last LSTM layer.
//   - hidden, cell: the new LSTM states, to be fed to the next snapshot with States. They are shaped
//     [numNodes, lstmOutChannels] if there is only one LSTM layer, or [lstmNumLayers, numNodes, lstmOutChannels]
//     otherwise.
//
// It panics with an error wrapping ErrMismatchedStates if only one of the states was given.
func (e *DyGrEncoder) Done() (output, hidden, cell *Node) {
	checkStatesPair("temporal.DyGrEncoder", "hidden", e.hidden, "cell", e.cell)
	numNodes := e.x.Shape().Dim(0)
	numLayers := e.lstmNumLayers
	prevHidden := e.splitLayers("hidden", e.hidden, numNodes)
	prevCell := e.splitLayers("cell", e.cell, numNodes)

	embeddings := gnn.GatedGraph(e.ctx.In("conv"), e.x, e.edges, e.convOutChannels).
		NumLayers(e.convNumLayers).
		Aggregation(e.convAggregation).
		Done()
	klog.V(2).Infof("DyGrEncoder: x.shape=%s, conv (%s aggregation) output shape=%s, lstm layers=%d",
		e.x.Shape(), e.convAggregation, embeddings.Shape(), numLayers)

	// Each node is one example (batch axis) of a sequence of length 1.
	lastHidden := make([]*Node, numLayers)
	lastCell := make([]*Node, numLayers)
	input := InsertAxes(embeddings, 1) // [numNodes, 1, convOutChannels]
	for layer := range numLayers {
		layerLSTM := lstm.New(e.ctx.In(fmt.Sprintf("lstm_%d", layer)), input, e.lstmOutChannels)
		if prevHidden != nil {
			// lstm states have a leading numDirections axis.
			layerLSTM = layerLSTM.InitialStates(InsertAxes(prevHidden[layer], 0), InsertAxes(prevCell[layer], 0))
		}
		_, h, c := layerLSTM.Done()
		lastHidden[layer] = Squeeze(h, 0)
		lastCell[layer] = Squeeze(c, 0)
		input = InsertAxes(lastHidden[layer], 1)
	}

	output = lastHidden[numLayers-1]
	if numLayers == 1 {
		hidden, cell = lastHidden[0], lastCell[0]
	} else {
		hidden, cell = Stack(lastHidden, 0), Stack(lastCell, 0)
	}
	return
}

// splitLayers returns the state of each LSTM layer, each shaped [numNodes, lstmOutChannels], or nil if
// state is nil.
func (e *DyGrEncoder) splitLayers(name string, state *Node, numNodes int) []*Node {
	if state == nil {
		return nil
	}
	if e.lstmNumLayers == 1 && state.Rank() == 2 {
		if state.Shape().Dim(0) != numNodes || state.Shape().Dim(1) != e.lstmOutChannels {
			Panicf("temporal.DyGrEncoder: %s state must be shaped [numNodes=%d, lstmOutChannels=%d], got %s",
				name, numNodes, e.lstmOutChannels, state.Shape())
		}
		return []*Node{state}
	}
	if state.Rank() != 3 || state.Shape().Dim(0) != e.lstmNumLayers ||
		state.Shape().Dim(1) != numNodes || state.Shape().Dim(2) != e.lstmOutChannels {
		Panicf("temporal.DyGrEncoder: %s state must be shaped [lstmNumLayers=%d, numNodes=%d, lstmOutChannels=%d], got %s",
			name, e.lstmNumLayers, numNodes, e.lstmOutChannels, state.Shape())
	}
	layers := make([]*Node, e.lstmNumLayers)
	for layer := range e.lstmNumLayers {
		layers[layer] = Squeeze(Slice(state, AxisElem(layer)), 0)
	}
	return layers
}
