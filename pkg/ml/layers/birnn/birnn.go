// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package birnn implements a stacked bidirectional recurrent encoder, using either GRU or LSTM cells.
//
// Each layer runs both directions over the sequence, concatenates their hidden states on the feature axis, and
// feeds them to the next layer. Sequences can be "ragged" (padded), in which case padded positions don't
// affect the recurrent states and are zeroed in the output.
//
// E.g.: an encoder for token embeddings, with the recurrent unit configured by a hyperparameter:
//
//	func Encoder(ctx *context.Context, embeddings, lengths *Node) *Node {
//		outputs, _ := birnn.New(ctx.In("encoder"), embeddings, 128).
//			NumLayers(2).
//			Ragged(lengths).
//			Done()
//		return outputs
//	}
package birnn

import (
	"fmt"
	"strings"

	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/layers"
	"github.com/gomlx/gomlx/pkg/ml/layers/lstm"
	"github.com/gomlx/gomlx/pkg/support/exceptions"
	"github.com/mtlnet/mtlnet/pkg/ml/layers/gru"
	"github.com/pkg/errors"
)

const (
	// ParamRecurrentUnit is the hyperparameter that selects the recurrent cell: "gru" or "lstm".
	// The default is "gru".
	ParamRecurrentUnit = "recurrent_unit"

	// ParamNumLayers is the hyperparameter with the default number of stacked bidirectional layers.
	// The default is 1.
	ParamNumLayers = "rnn_num_layers"

	// ParamDropoutRate is the dropout rate applied in between stacked layers.
	//
	// Defaults to the parameter "dropout_rate" (layers.ParamDropoutRate) and if that is not set, to 0.0 (no dropout).
	ParamDropoutRate = "rnn_dropout_rate"
)

// RecurrentUnit selects the cell used by the recurrent layers.
type RecurrentUnit int

const (
	UnitGRU RecurrentUnit = iota
	UnitLSTM
)

var unitNames = []string{"gru", "lstm"}

// String implements fmt.Stringer.
func (u RecurrentUnit) String() string {
	if u < 0 || int(u) >= len(unitNames) {
		return fmt.Sprintf("RecurrentUnit(%d)", int(u))
	}
	return unitNames[u]
}

// UnitFromName converts "gru" or "lstm" (case-insensitive) to a RecurrentUnit.
func UnitFromName(name string) (RecurrentUnit, error) {
	lower := strings.ToLower(strings.TrimSpace(name))
	for ii, unitName := range unitNames {
		if lower == unitName {
			return RecurrentUnit(ii), nil
		}
	}
	return UnitGRU, errors.Errorf("unknown recurrent unit %q, valid values are %q", name, unitNames)
}

// Config is created with New and can be configured with its methods, or by setting the corresponding
// hyperparameters in the context.
type Config struct {
	ctx          *context.Context
	x, lengths   *Node
	hiddenSize   int
	unit         RecurrentUnit
	numLayers    int
	dropoutRatio float64
}

// New creates the configuration for a stacked bidirectional RNN applied to x, shaped
// [batchSize, sequenceSize, featuresSize]. Each direction has hiddenSize units, so the outputs have 2*hiddenSize
// features.
//
// It panics if the hyperparameter ParamRecurrentUnit holds an unknown unit name.
func New(ctx *context.Context, x *Node, hiddenSize int) *Config {
	if x.Rank() != 3 {
		exceptions.Panicf("birnn: x must be shaped [batchSize, sequenceSize, featuresSize], got x.shape=%s", x.Shape())
	}
	if hiddenSize <= 0 {
		exceptions.Panicf("birnn: hiddenSize must be > 0, got %d", hiddenSize)
	}
	unit, err := UnitFromName(context.GetParamOr(ctx, ParamRecurrentUnit, UnitGRU.String()))
	if err != nil {
		panic(errors.WithMessagef(err, "birnn: invalid hyperparameter %q", ParamRecurrentUnit))
	}
	c := &Config{
		ctx:          ctx,
		x:            x,
		hiddenSize:   hiddenSize,
		unit:         unit,
		numLayers:    context.GetParamOr(ctx, ParamNumLayers, 1),
		dropoutRatio: context.GetParamOr(ctx, ParamDropoutRate, -1.0),
	}
	if c.dropoutRatio < 0 {
		c.dropoutRatio = context.GetParamOr(ctx, layers.ParamDropoutRate, 0.0)
	}
	return c
}

// Unit selects the recurrent cell. The default is given by the hyperparameter ParamRecurrentUnit, or GRU.
func (c *Config) Unit(unit RecurrentUnit) *Config {
	if unit != UnitGRU && unit != UnitLSTM {
		exceptions.Panicf("birnn: invalid recurrent unit %d", unit)
	}
	c.unit = unit
	return c
}

// NumLayers sets the number of stacked bidirectional layers. Must be >= 1.
func (c *Config) NumLayers(numLayers int) *Config {
	if numLayers < 1 {
		exceptions.Panicf("birnn: numLayers must be >= 1, got %d", numLayers)
	}
	c.numLayers = numLayers
	return c
}

// Ragged sets the length of each sequence, shaped [batchSize] with an integer dtype.
func (c *Config) Ragged(lengths *Node) *Config {
	c.lengths = lengths
	return c
}

// Dropout sets the dropout ratio applied to the inputs of every layer after the first.
// It's only active during training.
func (c *Config) Dropout(ratio float64) *Config {
	if ratio < 0 || ratio >= 1.0 {
		exceptions.Panicf("birnn: invalid dropout ratio %f -- set to 0.0 to disable it", ratio)
	}
	c.dropoutRatio = ratio
	return c
}

// Done builds the recurrent layers and returns:
//
//   - outputs: [batchSize, sequenceSize, 2*hiddenSize], forward states followed by backward states.
//     Positions beyond the sequence lengths are zero.
//   - lastHidden: [batchSize, 2*hiddenSize], the final forward and backward states of the top layer.
func (c *Config) Done() (outputs, lastHidden *Node) {
	if c.numLayers < 1 {
		exceptions.Panicf("birnn: numLayers must be >= 1, got %d", c.numLayers)
	}
	x := c.x
	g := x.Graph()
	dtype := x.DType()
	batchSize, sequenceSize := x.Shape().Dim(0), x.Shape().Dim(1)
	hiddenSize := c.hiddenSize

	for layerIdx := range c.numLayers {
		layerCtx := c.ctx.Inf("layer_%d", layerIdx)
		if layerIdx > 0 && c.dropoutRatio > 0 {
			x = layers.Dropout(layerCtx.In("dropout"), x, Scalar(g, dtype, c.dropoutRatio))
		}
		switch c.unit {
		case UnitLSTM:
			x, lastHidden = bidirectionalLSTM(layerCtx.In("lstm"), x, c.lengths, hiddenSize)
		default:
			cell := gru.New(layerCtx.In("gru"), x, hiddenSize).Direction(gru.DirBidirectional)
			if c.lengths != nil {
				cell.Ragged(c.lengths)
			}
			allStates, lastStates := cell.Done()           // [sequenceSize, 2, batchSize, hiddenSize], [2, batchSize, hiddenSize]
			x = TransposeAllDims(allStates, 2, 0, 1, 3) // [batchSize, sequenceSize, 2, hiddenSize]
			x = Reshape(x, batchSize, sequenceSize, 2*hiddenSize)
			lastHidden = TransposeAllDims(lastStates, 1, 0, 2)
			lastHidden = Reshape(lastHidden, batchSize, 2*hiddenSize)
		}
	}

	outputs = x
	if c.lengths != nil {
		outputs = Where(SequenceMask(c.lengths, sequenceSize, 2*hiddenSize), outputs, ZerosLike(outputs))
	}
	return
}

// bidirectionalLSTM runs one LSTM per direction. The backward one runs forward over the sequences reversed
// within their lengths, so padding never reaches the valid positions in either direction.
//
// It returns the outputs [batchSize, sequenceSize, 2*hiddenSize] and the last states [batchSize, 2*hiddenSize].
func bidirectionalLSTM(ctx *context.Context, x, lengths *Node, hiddenSize int) (outputs, lastHidden *Node) {
	g := x.Graph()
	batchSize, sequenceSize := x.Shape().Dim(0), x.Shape().Dim(1)
	if lengths == nil {
		lengths = BroadcastToDims(Const(g, int32(sequenceSize)), batchSize)
	}
	run := func(ctx *context.Context, x *Node) *Node {
		allStates, _, _ := lstm.New(ctx, x, hiddenSize).Direction(lstm.DirForward).Done()
		allStates = Reshape(allStates, sequenceSize, batchSize, hiddenSize)
		return TransposeAllDims(allStates, 1, 0, 2) // [batchSize, sequenceSize, hiddenSize]
	}
	forward := run(ctx.In("forward"), x)
	backwardReversed := run(ctx.In("backward"), ReverseWithinLengths(x, lengths))
	backward := ReverseWithinLengths(backwardReversed, lengths)
	outputs = Concatenate([]*Node{forward, backward}, -1)
	lastHidden = Concatenate([]*Node{lastValid(forward, lengths), lastValid(backwardReversed, lengths)}, -1)
	return
}

// ReverseWithinLengths reverses each sequence of x, shaped [batchSize, sequenceSize, ...], up to its length.
// Positions beyond the length stay in place. It is its own inverse.
func ReverseWithinLengths(x, lengths *Node) *Node {
	g := x.Graph()
	batchSize, sequenceSize := x.Shape().Dim(0), x.Shape().Dim(1)
	positions := Iota(g, shapes.Make(lengths.DType(), batchSize, sequenceSize), 1)
	limits := BroadcastToDims(ExpandAxes(lengths, -1), batchSize, sequenceSize)
	reversed := Sub(Sub(limits, OnesLike(limits)), positions)
	sourcePositions := Where(LessThan(positions, limits), reversed, positions)
	batchIndices := Iota(g, shapes.Make(lengths.DType(), batchSize, sequenceSize), 0)
	indices := Concatenate([]*Node{ExpandAxes(batchIndices, -1), ExpandAxes(sourcePositions, -1)}, -1)
	return Gather(x, indices)
}

// lastValid returns x[b, lengths[b]-1, :] for each b, or zeros for empty sequences.
func lastValid(x, lengths *Node) *Node {
	g := x.Graph()
	batchSize := x.Shape().Dim(0)
	batchIndices := Iota(g, shapes.Make(lengths.DType(), batchSize), 0)
	lastPositions := Max(Sub(lengths, OnesLike(lengths)), ZerosLike(lengths))
	indices := Concatenate([]*Node{ExpandAxes(batchIndices, -1), ExpandAxes(lastPositions, -1)}, -1)
	last := Gather(x, indices) // [batchSize, hiddenSize]
	return Where(GreaterThan(lengths, ZerosLike(lengths)), last, ZerosLike(last))
}

// SequenceMask returns a boolean mask shaped [batchSize, sequenceSize, <featureDims...>] that is true for positions
// smaller than lengths, shaped [batchSize].
func SequenceMask(lengths *Node, sequenceSize int, featureDims ...int) *Node {
	g := lengths.Graph()
	batchSize := lengths.Shape().Dim(0)
	positions := Iota(g, shapes.Make(lengths.DType(), batchSize, sequenceSize), 1)
	limits := BroadcastToDims(ExpandAxes(lengths, -1), batchSize, sequenceSize)
	mask := LessThan(positions, limits)
	if len(featureDims) == 0 {
		return mask
	}
	return BroadcastToDims(mask, append([]int{batchSize, sequenceSize}, featureDims...)...)
}
