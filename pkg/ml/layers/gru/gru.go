// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package gru provides a "Gated Recurrent Unit" (GRU) [1] recurrent layer, and its single step Cell.
//
// The gates follow the formulation used by PyTorch's torch.nn.GRU [2]:
//
//	r = σ(W_ir·x + b_ir + W_hr·h + b_hr)
//	z = σ(W_iz·x + b_iz + W_hz·h + b_hz)
//	n = tanh(W_in·x + b_in + r ⊙ (W_hn·h + b_hn))
//	h' = (1 - z) ⊙ n + z ⊙ h
//
// Notice the reset gate (r) is applied after the recurrent projection of the candidate (n), which differs
// from the original paper, and from the default ONNX GRU.
//
// Since GoMLX doesn't implement loops, each step of the sequence is instantiated as its own graph nodes. For
// the temporal graph models in this module the sequences are usually of length 1.
//
// [1] https://arxiv.org/abs/1406.1078, Cho et al., 2014
// [2] https://pytorch.org/docs/stable/generated/torch.nn.GRU.html
package gru

import (
	. "github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/ml/context"
)

// Gate indices in the weights: the first axis of inputsW and recurrentW have dimension NumGates,
// and biases hold 2*NumGates values, first the ones for the inputs and then for the recurrent state.
const (
	GateReset = iota
	GateUpdate
	GateNew

	NumGates
)

// GRU holds a GRU configuration. It can be created with New (or NewWithWeights),
// and once finished to be configured, can be applied to x with Done.
type GRU struct {
	ctx                                 *context.Context
	x                                   *Node
	xLengths                            *Node
	initialHiddenState                  *Node
	batchSize, featuresSize, hiddenSize int
	useBias                             bool

	// Model weights: see NewWithWeights for specification.
	inputsW, recurrentW, biasesW *Node
}

// New creates a new GRU layer to be configured and then applied to x.
// x should be shaped [batchSize, sequenceSize, featuresSize].
//
// The weights are created in ctx with the names "inputsW", "recurrentW" and "biasesW", using the
// context default initializer.
//
// Once finished configuring, call GRU.Done and it will return the hidden states.
func New(ctx *context.Context, x *Node, hiddenSize int) *GRU {
	if x.Rank() != 3 {
		Panicf("gru.New requires x to be shaped [batchSize, sequenceSize, featuresSize], got x.shape=%s", x.Shape())
	}
	return &GRU{
		ctx:          ctx,
		x:            x,
		batchSize:    x.Shape().Dim(0),
		featuresSize: x.Shape().Dim(2),
		hiddenSize:   hiddenSize,
		useBias:      true,
	}
}

// NewWithWeights creates a new GRU layer using the given weights, as opposed to creating them
// on-the-fly.
//
// Args:
//   - x: shaped [batchSize, sequenceSize, featuresSize]
//   - inputsW: shaped [NumGates, hiddenSize, featuresSize]
//   - recurrentW: shaped [NumGates, hiddenSize, hiddenSize]
//   - biases: optional (can be nil), shaped [2*NumGates, hiddenSize]: the first NumGates are applied to the
//     inputs projections, the last NumGates to the recurrent projections.
func NewWithWeights(x *Node, inputsW, recurrentW, biases *Node) *GRU {
	l := New(nil, x, inputsW.Shape().Dim(1))
	l.inputsW = inputsW
	l.recurrentW = recurrentW
	l.biasesW = biases
	l.useBias = biases != nil
	inputsW.AssertDims(NumGates, l.hiddenSize, l.featuresSize)
	recurrentW.AssertDims(NumGates, l.hiddenSize, l.hiddenSize)
	if biases != nil {
		biases.AssertDims(2*NumGates, l.hiddenSize)
	}
	return l
}

// UseBias configures whether the GRU uses biases. Default is true.
//
// It is ignored if the GRU was created with NewWithWeights: then the bias is used if one was given.
func (l *GRU) UseBias(useBias bool) *GRU {
	if l.inputsW == nil {
		l.useBias = useBias
	}
	return l
}

// Ragged indicates that x is "ragged" (the sequences are not used to the end), and its lengths are
// given by sequenceLengths, which must be shaped [batchSize].
// Steps past the end of a sequence leave the hidden state unchanged.
func (l *GRU) Ragged(sequencesLengths *Node) *GRU {
	l.xLengths = sequencesLengths
	return l
}

// InitialState configures the initial hidden state (h_0 in the literature), shaped [batchSize, hiddenSize].
// If not set it defaults to 0.
func (l *GRU) InitialState(initialHiddenState *Node) *GRU {
	l.initialHiddenState = initialHiddenState
	return l
}

// Done applies the GRU to the sequence in x. It returns:
//
//   - allHiddenStates: [sequenceSize, batchSize, hiddenSize]
//   - lastHiddenState: [batchSize, hiddenSize]
func (l *GRU) Done() (allHiddenStates, lastHiddenState *Node) {
	ctx := l.ctx
	x := l.x
	g := x.Graph()
	dtype := x.DType()
	batchSize, hiddenSize := l.batchSize, l.hiddenSize
	sequenceSize := x.Shape().Dim(1)

	inputsW, recurrentW, biasesW := l.inputsW, l.recurrentW, l.biasesW
	if inputsW == nil {
		inputsW = ctx.VariableWithShape("inputsW", shapes.Make(dtype, NumGates, hiddenSize, l.featuresSize)).ValueGraph(g)
		recurrentW = ctx.VariableWithShape("recurrentW", shapes.Make(dtype, NumGates, hiddenSize, hiddenSize)).ValueGraph(g)
		if l.useBias {
			biasesW = ctx.VariableWithShape("biasesW", shapes.Make(dtype, 2*NumGates, hiddenSize)).ValueGraph(g)
		}
	}

	prevHidden := l.initialHiddenState
	if prevHidden == nil {
		prevHidden = Zeros(g, shapes.Make(dtype, batchSize, hiddenSize))
	} else {
		prevHidden.AssertDims(batchSize, hiddenSize)
	}

	allSteps := make([]*Node, sequenceSize)
	for seqIdx := range sequenceSize {
		xStep := Reshape(Slice(x, AxisRange(), AxisElem(seqIdx)), batchSize, l.featuresSize)
		hidden := Cell(xStep, prevHidden, inputsW, recurrentW, biasesW)
		if l.xLengths != nil {
			// finished is shaped [batchSize], a prefix of the hidden state shape.
			finished := GreaterOrEqual(Scalar(g, l.xLengths.DType(), seqIdx), l.xLengths)
			hidden = Where(finished, prevHidden, hidden)
		}
		allSteps[seqIdx] = hidden
		prevHidden = hidden
	}
	allHiddenStates = Stack(allSteps, 0)
	lastHiddenState = prevHidden
	return
}

// Cell computes one GRU step for x and the previous hidden state h.
//
// Args:
//   - x: shaped [batchSize, featuresSize].
//   - h: shaped [batchSize, hiddenSize].
//   - inputsW: shaped [NumGates, hiddenSize, featuresSize].
//   - recurrentW: shaped [NumGates, hiddenSize, hiddenSize].
//   - biases: optional (can be nil), shaped [2*NumGates, hiddenSize].
//
// It returns the new hidden state, shaped [batchSize, hiddenSize].
func Cell(x, h, inputsW, recurrentW, biases *Node) *Node {
	hiddenSize := h.Shape().Dim(-1)

	// b->batchSize, f->featuresSize, n=NumGates, h->hiddenSize, j->hiddenSize (of the previous state).
	projX := Einsum("bf,nhf->nbh", x, inputsW)
	projH := Einsum("bj,nhj->nbh", h, recurrentW)
	if biases != nil {
		biasX := Reshape(Slice(biases, AxisRangeFromStart(NumGates)), NumGates, 1, hiddenSize)
		biasH := Reshape(Slice(biases, AxisRangeToEnd(NumGates)), NumGates, 1, hiddenSize)
		projX = Add(projX, biasX)
		projH = Add(projH, biasH)
	}
	gate := func(proj *Node, gateIdx int) *Node {
		return Squeeze(Slice(proj, AxisElem(gateIdx)), 0)
	}

	reset := Sigmoid(Add(gate(projX, GateReset), gate(projH, GateReset)))
	update := Sigmoid(Add(gate(projX, GateUpdate), gate(projH, GateUpdate)))
	candidate := Tanh(Add(gate(projX, GateNew), Mul(reset, gate(projH, GateNew))))
	return Add(Mul(OneMinus(update), candidate), Mul(update, h))
}
