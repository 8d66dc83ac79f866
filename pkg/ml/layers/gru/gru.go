// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package gru provides a "Gated Recurrent Unit" (GRU) [1] recurrent layer.
//
// A GRU merges the LSTM's input and forget gates into a single "update" gate (z), and uses a "reset" gate (r)
// to decide how much of the previous hidden state feeds the candidate state. It has no separate cell state,
// so it carries fewer parameters than an LSTM with the same hidden size.
//
// Like the lstm package, each step of the sequence is instantiated as its own graph nodes, so the size of the
// graph is O(N) on the size of the sequence.
//
// Weights are laid out as in the ONNX GRU operator [2], with gates ordered (z, r, h).
//
// [1] https://arxiv.org/abs/1406.1078, Cho et al., 2014
// [2] https://onnx.ai/onnx/operators/onnx__GRU.html
package gru

import (
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/layers/lstm"
)

// NumGates is the number of gates of a GRU cell: update (z), reset (r) and candidate hidden state (h).
const NumGates = 3

// DirectionType defines the direction to run the GRU. It's shared with the lstm package.
type DirectionType = lstm.DirectionType

const (
	DirForward       = lstm.DirForward
	DirReverse       = lstm.DirReverse
	DirBidirectional = lstm.DirBidirectional
)

// GRU holds a GRU configuration. It can be created with New (or NewWithWeights),
// and once finished to be configured, can be applied to x with Done.
type GRU struct {
	ctx                                 *context.Context
	x                                   *Node
	xLengths                            *Node
	initialHiddenState                  *Node
	direction                           DirectionType
	batchSize, featuresSize, hiddenSize int
	linearBeforeReset                   bool

	// Model weights: see NewWithWeights for specification.
	inputsW, recurrentW, biasesW *Node
}

// New creates a new GRU layer to be configured and then applied to x.
// x should be shaped [batchSize, sequenceSize, featuresSize].
//
// See GRU.Ragged if x is not densely used.
//
// Once finished configuring, call GRU.Done and it will return the states of the GRU.
func New(ctx *context.Context, x *Node, hiddenSize int) *GRU {
	x.AssertRank(3)
	return &GRU{
		ctx:               ctx,
		x:                 x,
		direction:         DirForward,
		batchSize:         x.Shape().Dim(0),
		featuresSize:      x.Shape().Dim(2),
		hiddenSize:        hiddenSize,
		linearBeforeReset: true,
	}
}

// NewWithWeights creates a new GRU layer using the given weights, as opposed to creating them
// on-the-fly as context variables.
//
// Args:
//   - x: shaped [batchSize, sequenceSize, featuresSize]
//   - inputsW: shaped [numDirections, 3, hiddenSize, featuresSize]
//   - recurrentW: shaped [numDirections, 3, hiddenSize, hiddenSize]
//   - biases: input biases followed by recurrent biases, shaped [numDirections, 6, hiddenSize].
func NewWithWeights(x *Node, inputsW, recurrentW, biases *Node) *GRU {
	l := New(nil, x, inputsW.Shape().Dim(2))
	l.inputsW = inputsW
	l.recurrentW = recurrentW
	l.biasesW = biases
	if inputsW.Shape().Dim(0) == 2 {
		l.direction = DirBidirectional
	}
	inputsW.AssertDims(l.NumDirections(), NumGates, l.hiddenSize, l.featuresSize)
	recurrentW.AssertDims(l.NumDirections(), NumGates, l.hiddenSize, l.hiddenSize)
	biases.AssertDims(l.NumDirections(), 2*NumGates, l.hiddenSize)
	return l
}

// Direction configures in which direction to run the GRU: DirForward, DirReverse or both.
func (l *GRU) Direction(dir DirectionType) *GRU {
	l.direction = dir
	return l
}

// Ragged indicates that x is "ragged" (the sequences are not used to the end), and its lengths are
// given by sequenceLengths, which must be shaped [batchSize].
//
// Positions at or beyond the length carry the previous hidden state unchanged, in both directions.
func (l *GRU) Ragged(sequencesLengths *Node) *GRU {
	l.xLengths = sequencesLengths
	return l
}

// LinearBeforeReset selects where the reset gate is applied when computing the candidate state:
//
//   - true: h̃ = tanh(x·Wh + Wbh + r ⊙ (h·Rh + Rbh)), as in cuDNN and PyTorch.
//   - false: h̃ = tanh(x·Wh + Wbh + (r ⊙ h)·Rh + Rbh), as in the original paper.
//
// Default is true.
func (l *GRU) LinearBeforeReset(linearBeforeReset bool) *GRU {
	l.linearBeforeReset = linearBeforeReset
	return l
}

// InitialState configures the initial hidden state (h_0), shaped [numDirections, batchSize, hiddenSize].
// If not set it defaults to 0.
func (l *GRU) InitialState(initialHiddenState *Node) *GRU {
	l.initialHiddenState = initialHiddenState
	return l
}

// NumDirections based on the direction information selected.
func (l *GRU) NumDirections() int {
	if l.direction == DirBidirectional {
		return 2
	}
	return 1
}

// Done should be called once the GRU is configured.
// It will apply the GRU layer to the sequence in x.
// - allHiddenStates: [sequenceSize, numDirections, batchSize, hiddenSize]
// - lastHiddenState: [numDirections, batchSize, hiddenSize]
func (l *GRU) Done() (allHiddenStates, lastHiddenState *Node) {
	ctx := l.ctx
	x := l.x
	g := l.x.Graph()
	dtype := x.DType()
	numDirections := l.NumDirections()
	batchSize := l.batchSize
	sequenceSize := x.Shape().Dim(1)
	featuresSize := l.featuresSize
	hiddenSize := l.hiddenSize
	xLengths := l.xLengths
	inputsW := l.inputsW
	recurrentW := l.recurrentW
	biasesW := l.biasesW

	if inputsW == nil {
		inputsW = ctx.VariableWithShape("inputsW", shapes.Make(dtype, numDirections, NumGates, hiddenSize, featuresSize)).ValueGraph(g)
		recurrentW = ctx.VariableWithShape("recurrentW", shapes.Make(dtype, numDirections, NumGates, hiddenSize, hiddenSize)).ValueGraph(g)
		biasesW = ctx.VariableWithShape("biasesW", shapes.Make(dtype, numDirections, 2*NumGates, hiddenSize)).ValueGraph(g)
	}

	// Linear projections of x for all gates, all steps at once.
	// b->batchSize, s->sequenceSize, f->featuresSize, d->numDirections, n=3, h->hiddenSize.
	projX := Einsum("bsf,dnhf->dnbsh", x, inputsW)
	{
		biasX := Slice(biasesW, AxisRange(), AxisRangeFromStart(NumGates))
		biasX = ExpandAxes(biasX, 2, 3)
		projX = Add(projX, biasX)
	}

	prevHidden := make([]*Node, numDirections)
	for dirIdx := range numDirections {
		if l.initialHiddenState == nil {
			prevHidden[dirIdx] = Zeros(g, shapes.Make(dtype, batchSize, hiddenSize))
		} else {
			l.initialHiddenState.AssertDims(numDirections, batchSize, hiddenSize)
			prevHidden[dirIdx] = Squeeze(Slice(l.initialHiddenState, AxisElem(dirIdx)), 0)
		}
	}

	seqHiddenStates := make([][]*Node, numDirections)
	for ii := range numDirections {
		seqHiddenStates[ii] = make([]*Node, sequenceSize)
	}

	for seqIdx := range sequenceSize {
		for dirIdx := range numDirections {
			seqPos := seqIdx
			if dirIdx == 1 || l.direction == DirReverse {
				seqPos = sequenceSize - 1 - seqIdx
			}
			prev := prevHidden[dirIdx]

			// recurrentW: [numDirections, 3, hiddenSize (j), hiddenSize (h)]
			dirRecurrentW := Squeeze(Slice(recurrentW, AxisElem(dirIdx)), 0)
			recurrentBiases := Slice(biasesW, AxisElem(dirIdx), AxisRangeToEnd(NumGates))
			recurrentBiases = Reshape(recurrentBiases, NumGates, 1, hiddenSize)
			projState := Einsum("bh,njh->nbj", prev, dirRecurrentW) // [3, batchSize, hiddenSize]
			projState = Add(projState, recurrentBiases)

			inputProj := func(gateIdx int) *Node {
				proj := Slice(projX, AxisElem(dirIdx), AxisElem(gateIdx), AxisRange(), AxisElem(seqPos))
				return Reshape(proj, batchSize, hiddenSize)
			}
			stateProj := func(gateIdx int) *Node {
				return Squeeze(Slice(projState, AxisElem(gateIdx)), 0)
			}

			zT := Sigmoid(Add(inputProj(0), stateProj(0)))
			rT := Sigmoid(Add(inputProj(1), stateProj(1)))
			var candidate *Node
			if l.linearBeforeReset {
				candidate = Tanh(Add(inputProj(2), Mul(rT, stateProj(2))))
			} else {
				candidateW := Squeeze(Slice(dirRecurrentW, AxisElem(2)), 0) // [hiddenSize (j), hiddenSize (h)]
				candidateBias := Reshape(Slice(recurrentBiases, AxisElem(2)), 1, hiddenSize)
				resetState := Einsum("bh,jh->bj", Mul(rT, prev), candidateW)
				candidate = Tanh(Add(inputProj(2), Add(resetState, candidateBias)))
			}
			hiddenState := Add(
				Mul(OneMinus(zT), candidate),
				Mul(zT, prev))

			// Positions after the end of the sequence keep the previous state: this works in both directions.
			if xLengths != nil {
				masked := GreaterOrEqual(Scalar(g, xLengths.DType(), seqPos), xLengths) // [batchSize]
				hiddenState = Where(masked, prev, hiddenState)
			}

			seqHiddenStates[dirIdx][seqPos] = hiddenState
			prevHidden[dirIdx] = hiddenState
		}
	}

	lastHiddenState = Stack(prevHidden, 0)
	if numDirections == 2 {
		allHiddenStates = Stack([]*Node{
			Stack(seqHiddenStates[0], 0),
			Stack(seqHiddenStates[1], 0)}, 1)
	} else {
		allHiddenStates = Stack(seqHiddenStates[0], 0)
		allHiddenStates = Reshape(allHiddenStates, sequenceSize, 1, batchSize, hiddenSize)
	}
	return
}
