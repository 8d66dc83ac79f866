// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package gru

import (
	"testing"

	"github.com/gomlx/gomlx/pkg/core/dtypes"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/graph/graphtest"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/gomlx/gomlx/backends/default"
)

// Zero weights and a candidate input bias of 1: z = r = 0.5 and h̃ = tanh(1) at every step, so
// H_1 = 0.5*tanh(1) and H_2 = 0.5*tanh(1) + 0.5*H_1.
func TestGRUHandComputed(t *testing.T) {
	const h1, h2 = float32(0.38079708), float32(0.57119562)
	for _, linearBeforeReset := range []bool{true, false} {
		graphtest.RunTestGraphFn(t, "GRU with constant candidate bias", func(g *Graph) (inputs, outputs []*Node) {
			x := Zeros(g, shapes.Make(dtypes.Float32, 1, 2, 1))
			inputsW := Zeros(g, shapes.Make(dtypes.Float32, 1, NumGates, 1, 1))
			recurrentW := Zeros(g, shapes.Make(dtypes.Float32, 1, NumGates, 1, 1))
			biases := Const(g, [][][]float32{{{0}, {0}, {1}, {0}, {0}, {0}}})
			inputs = []*Node{x, biases}
			all, last := NewWithWeights(x, inputsW, recurrentW, biases).
				LinearBeforeReset(linearBeforeReset).
				Done()
			outputs = []*Node{all, last}
			return
		}, []any{
			[][][][]float32{{{{h1}}}, {{{h2}}}},
			[][][]float32{{{h2}}},
		}, 1e-4)
	}
}

// Distinct weights per gate and a nonzero initial state, checked against values computed by hand for
// each candidate formulation. Gate order is z (update), r (reset), h (candidate).
func TestGRUResetModes(t *testing.T) {
	for _, tc := range []struct {
		linearBeforeReset bool
		h1, h2            float32
	}{
		{true, 0.6670520, 0.2033778},  // h̃ = tanh(xWh + Wbh + r ⊙ (hRh + Rbh))
		{false, 0.6354928, 0.1538297}, // h̃ = tanh(xWh + Wbh + (r ⊙ h)Rh + Rbh)
	} {
		graphtest.RunTestGraphFn(t, "GRU reset modes", func(g *Graph) (inputs, outputs []*Node) {
			x := Const(g, [][][]float32{{{0.6}, {-0.3}}})
			inputsW := Const(g, [][][][]float32{{{{0.5}}, {{-0.4}}, {{0.9}}}})
			recurrentW := Const(g, [][][][]float32{{{{0.3}}, {{0.7}}, {{-0.6}}}})
			biases := Const(g, [][][]float32{{{0.1}, {-0.2}, {0.3}, {0.05}, {0.15}, {-0.25}}})
			h0 := Const(g, [][][]float32{{{0.8}}})
			inputs = []*Node{x, h0}
			all, last := NewWithWeights(x, inputsW, recurrentW, biases).
				LinearBeforeReset(tc.linearBeforeReset).
				InitialState(h0).
				Done()
			outputs = []*Node{all, last}
			return
		}, []any{
			[][][][]float32{{{{tc.h1}}}, {{{tc.h2}}}},
			[][][]float32{{{tc.h2}}},
		}, 1e-4)
	}
}

func TestGRUInitialState(t *testing.T) {
	// With z saturated to 1 the state never changes.
	graphtest.RunTestGraphFn(t, "GRU keeps initial state when update gate saturates", func(g *Graph) (inputs, outputs []*Node) {
		x := Zeros(g, shapes.Make(dtypes.Float32, 1, 3, 1))
		inputsW := Zeros(g, shapes.Make(dtypes.Float32, 1, NumGates, 1, 1))
		recurrentW := Zeros(g, shapes.Make(dtypes.Float32, 1, NumGates, 1, 1))
		biases := Const(g, [][][]float32{{{100}, {0}, {1}, {0}, {0}, {0}}})
		h0 := Const(g, [][][]float32{{{0.25}}})
		inputs = []*Node{h0}
		_, last := NewWithWeights(x, inputsW, recurrentW, biases).InitialState(h0).Done()
		outputs = []*Node{last}
		return
	}, []any{
		[][][]float32{{{0.25}}},
	}, 1e-4)
}

func TestGRUShapes(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	ctx := context.New()
	const batchSize, seqLen, features, hidden = 3, 5, 4, 7
	exec := context.MustNewExec(backend, ctx, func(ctx *context.Context, x *Node) (*Node, *Node) {
		return New(ctx.In("gru"), x, hidden).Direction(DirBidirectional).Done()
	})
	x := tensors.FromShape(shapes.Make(dtypes.Float32, batchSize, seqLen, features))
	outputs := exec.MustExec(x)
	require.Len(t, outputs, 2)
	assert.Equal(t, []int{seqLen, 2, batchSize, hidden}, outputs[0].Shape().Dimensions)
	assert.Equal(t, []int{2, batchSize, hidden}, outputs[1].Shape().Dimensions)

	v := ctx.In("gru").GetVariable("inputsW")
	require.NotNil(t, v)
	assert.Equal(t, []int{2, NumGates, hidden, features}, v.Shape().Dimensions)
	v = ctx.In("gru").GetVariable("biasesW")
	require.NotNil(t, v)
	assert.Equal(t, []int{2, 2 * NumGates, hidden}, v.Shape().Dimensions)
}

// The backward direction of a bidirectional GRU over x must match a reverse-only GRU with the same
// weights, and padding beyond the ragged length must not change the final states.
func TestGRUBidirectionalAndRagged(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	ctx := context.New()
	ctx.SetRNGStateFromSeed(42)
	const hidden = 3

	// Sequence of length 4, where only the first 2 positions are valid.
	xValues := [][][]float32{{{0.1, -0.2}, {0.7, 0.3}, {5, 5}, {-5, 5}}}
	xShort := [][][]float32{{{0.1, -0.2}, {0.7, 0.3}}}

	type results struct {
		biLast, reverseLast, raggedLast, shortLast *tensors.Tensor
	}
	var r results
	require.NotPanics(t, func() {
		outputs := context.MustExecOnceN(backend, ctx, func(ctx *context.Context, inputs []*Node) []*Node {
			x, short := inputs[0], inputs[1]
			g := x.Graph()
			ctx = ctx.In("gru")
			_, biLast := New(ctx, x, hidden).Direction(DirBidirectional).Done()
			inputsW := ctx.GetVariable("inputsW").ValueGraph(g)
			recurrentW := ctx.GetVariable("recurrentW").ValueGraph(g)
			biases := ctx.GetVariable("biasesW").ValueGraph(g)
			backwardOnly := func(w *Node) *Node { return Slice(w, AxisElem(1)) }
			_, reverseLast := NewWithWeights(x, backwardOnly(inputsW), backwardOnly(recurrentW), backwardOnly(biases)).
				Direction(DirReverse).Done()

			lengths := Const(g, []int32{2})
			_, raggedLast := NewWithWeights(x, inputsW, recurrentW, biases).Ragged(lengths).Done()
			_, shortLast := NewWithWeights(short, inputsW, recurrentW, biases).Done()
			return []*Node{biLast, reverseLast, raggedLast, shortLast}
		}, tensors.FromValue(xValues), tensors.FromValue(xShort))
		r = results{outputs[0], outputs[1], outputs[2], outputs[3]}
	})

	biLast := r.biLast.Value().([][][]float32)
	reverseLast := r.reverseLast.Value().([][][]float32)
	assert.InDeltaSlice(t, biLast[1][0], reverseLast[0][0], 1e-5)

	raggedLast := r.raggedLast.Value().([][][]float32)
	shortLast := r.shortLast.Value().([][][]float32)
	for dir := range 2 {
		assert.InDeltaSlicef(t, shortLast[dir][0], raggedLast[dir][0], 1e-5, "direction %d", dir)
	}
}
