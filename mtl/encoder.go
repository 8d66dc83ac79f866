// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package mtl

import (
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/layers"
	"github.com/gomlx/gomlx/pkg/support/exceptions"
	"github.com/mtlnet/mtlnet/mtl/dataset"
	"github.com/mtlnet/mtlnet/pkg/ml/layers/birnn"
)

// Inputs of the model, in the order yielded by dataset.Dataset.
const (
	InputWords       = dataset.InputWords       // [batchSize, numWords] word ids.
	InputChars       = dataset.InputChars       // [batchSize, numWords, maxWordLen] character ids.
	InputCharLengths = dataset.InputCharLengths // [batchSize, numWords] number of characters of each word, 0 for padding.
	InputLengths     = dataset.InputLengths     // [batchSize] number of words of each sentence.
	InputContextual  = dataset.InputContextual  // [batchSize, numWords, contextualDim], only if contextual vectors are used.
)

// Inputs holds the model input nodes.
type Inputs struct {
	Words, Chars, CharLengths, Lengths *Node

	// Contextual is nil if contextual vectors are not used.
	Contextual *Node
}

// InputsFromNodes splits the inputs given to a train.ModelFn, validating their shapes.
func InputsFromNodes(cfg *Config, inputs []*Node) Inputs {
	wantInputs := InputLengths + 1
	if cfg.ContextualDim > 0 {
		wantInputs++
	}
	if len(inputs) != wantInputs {
		exceptions.Panicf("model expects %d inputs (contextual_dim=%d), got %d", wantInputs, cfg.ContextualDim, len(inputs))
	}
	in := Inputs{
		Words:       inputs[InputWords],
		Chars:       inputs[InputChars],
		CharLengths: inputs[InputCharLengths],
		Lengths:     inputs[InputLengths],
	}
	in.Words.AssertRank(2)
	batchSize, numWords := in.Words.Shape().Dim(0), in.Words.Shape().Dim(1)
	in.Chars.AssertRank(3)
	in.Chars.AssertDims(batchSize, numWords, in.Chars.Shape().Dim(2))
	in.CharLengths.AssertDims(batchSize, numWords)
	in.Lengths.AssertDims(batchSize)
	if cfg.ContextualDim > 0 {
		in.Contextual = inputs[InputContextual]
		in.Contextual.AssertDims(batchSize, numWords, cfg.ContextualDim)
	}
	return in
}

// CharRNN encodes each word from its characters: the characters are embedded and run through a single-layer
// BiRNN, with hidden size equal to the character embedding size, and the final forward and backward states are
// concatenated.
//
// chars is shaped [batchSize, numWords, maxWordLen] and charLengths [batchSize, numWords].
// It returns [batchSize, numWords, 2*CharDim]. Words with no characters are encoded as zeros.
func CharRNN(ctx *context.Context, cfg *Config, chars, charLengths *Node) *Node {
	batchSize, numWords, maxWordLen := chars.Shape().Dim(0), chars.Shape().Dim(1), chars.Shape().Dim(2)
	flatChars := Reshape(chars, batchSize*numWords, maxWordLen)
	flatLengths := Reshape(charLengths, batchSize*numWords)
	embedded := PaddedEmbedding(ctx.In("char_embedding"), flatChars, DType, cfg.NumCharTypes, cfg.CharDim)
	_, last := birnn.New(ctx.In("birnn"), embedded, cfg.CharDim).
		Unit(cfg.Unit).
		NumLayers(1).
		Dropout(0).
		Ragged(flatLengths).
		Done()
	return Reshape(last, batchSize, numWords, 2*cfg.CharDim)
}

// SharedEncoder builds the representation shared by both tasks: word embeddings, character encodings and
// optional contextual vectors are concatenated and run through a BiRNN, then projected to SharedLayerSize
// if needed.
//
// It returns [batchSize, numWords, SharedLayerSize], with zeros at padded positions.
func SharedEncoder(ctx *context.Context, cfg *Config, in Inputs) *Node {
	batchSize, numWords := in.Words.Shape().Dim(0), in.Words.Shape().Dim(1)
	parts := []*Node{
		PaddedEmbedding(ctx.In("word_embedding"), in.Words, DType, cfg.NumWordTypes, cfg.WordDim),
		CharRNN(ctx.In("char_rnn"), cfg, in.Chars, in.CharLengths),
	}
	if cfg.ContextualDim > 0 {
		parts = append(parts, ConvertDType(in.Contextual, DType))
	}
	x := Concatenate(parts, -1)
	x.AssertDims(batchSize, numWords, cfg.EncoderInputDim())
	x = dropout(ctx.In("input_dropout"), x, cfg.Dropout)

	x, _ = birnn.New(ctx.In("birnn"), x, cfg.SharedHiddenDim).
		Unit(cfg.Unit).
		NumLayers(cfg.NumLayers).
		Dropout(cfg.Dropout).
		Ragged(in.Lengths).
		Done()
	if 2*cfg.SharedHiddenDim != cfg.SharedLayerSize {
		x = layers.Dense(ctx.In("projection"), x, true, cfg.SharedLayerSize)
		x = Where(birnn.SequenceMask(in.Lengths, numWords), x, ZerosLike(x))
	}
	return x
}

// dropout is a no-op if rate is 0, and only active during training.
func dropout(ctx *context.Context, x *Node, rate float64) *Node {
	if rate <= 0 {
		return x
	}
	return layers.Dropout(ctx, x, Scalar(x.Graph(), x.DType(), rate))
}
