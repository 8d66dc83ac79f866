// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package mtl

import (
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/layers"
	"github.com/gomlx/gomlx/pkg/ml/layers/activations"
	"github.com/gomlx/gomlx/pkg/ml/layers/fnn"
	"github.com/mtlnet/mtlnet/pkg/ml/layers/birnn"
)

// NERHead is the entity tagger: a BiRNN over the shared representation, followed by a hidden projection with
// the configured activation and a projection to the tag logits.
//
// shared is shaped [batchSize, numWords, SharedLayerSize] and it returns [batchSize, numWords, NumTagTypes].
func NERHead(ctx *context.Context, cfg *Config, shared, lengths *Node) *Node {
	x, _ := birnn.New(ctx.In("birnn"), shared, cfg.HiddenDim).
		Unit(cfg.Unit).
		NumLayers(cfg.NumLayers).
		Dropout(cfg.Dropout).
		Ragged(lengths).
		Done()
	return fnn.New(ctx.In("ffnn"), x, cfg.NumTagTypes).
		NumHiddenLayers(1, cfg.HiddenDim).
		Activation(cfg.Activation).
		Normalization("").
		Residual(false).
		Dropout(cfg.Dropout).
		Done()
}

// REHead scores relations between every ordered pair of words: a BiRNN over the shared representation, then
// separate "head" and "tail" projections that are summed for each pair and activated, and a projection to the
// relation logits.
//
// Entry [b, i, j] scores the relation whose head entity ends at word i and whose tail entity ends at word j.
// Class 0 is "no relation".
//
// shared is shaped [batchSize, numWords, SharedLayerSize] and it returns
// [batchSize, numWords, numWords, NumRelTypes].
func REHead(ctx *context.Context, cfg *Config, shared, lengths *Node) *Node {
	batchSize, numWords := shared.Shape().Dim(0), shared.Shape().Dim(1)
	x, _ := birnn.New(ctx.In("birnn"), shared, cfg.HiddenDim).
		Unit(cfg.Unit).
		NumLayers(cfg.NumLayers).
		Dropout(cfg.Dropout).
		Ragged(lengths).
		Done()

	pairDims := []int{batchSize, numWords, numWords, cfg.HiddenDim}
	head := layers.Dense(ctx.In("ffnn_r1_head"), x, false, cfg.HiddenDim)
	tail := layers.Dense(ctx.In("ffnn_r1_tail"), x, true, cfg.HiddenDim)
	pairs := Add(
		BroadcastToDims(ExpandAxes(head, 2), pairDims...),
		BroadcastToDims(ExpandAxes(tail, 1), pairDims...))
	pairs = activations.Apply(cfg.Activation, pairs)
	pairs = dropout(ctx.In("dropout"), pairs, cfg.Dropout)
	return layers.Dense(ctx.In("ffnn_r2"), pairs, true, cfg.NumRelTypes)
}
