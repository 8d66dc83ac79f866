// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package mtl implements a multi-task model for joint named-entity recognition (NER) and relation extraction (RE).
//
// Words are represented by the concatenation of a word embedding, a character-level BiRNN encoding and optional
// precomputed contextual vectors (e.g. ELMo). A shared BiRNN encoder (GRU or LSTM) feeds two task-specific heads:
//
//   - NER: a BiRNN followed by a feed-forward classifier over BIO tags, for each word.
//   - RE: a BiRNN followed by a pairwise feed-forward classifier over relation types, for each ordered pair of words.
//
// Both tasks are trained jointly with a weighted sum of their cross-entropy losses.
//
// All hyperparameters are read from the context, see CreateDefaultContext and the Param* constants.
package mtl

import (
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/pkg/errors"
)

// Outputs of ModelGraph.
const (
	OutputNERLogits = iota // [batchSize, numWords, numTagTypes]
	OutputRELogits         // [batchSize, numWords, numWords, numRelTypes]
)

// ModelGraph builds the multi-task model. It implements train.ModelFn.
//
// The inputs are described by the Input* constants, and it returns the NER and RE logits (see Output* constants).
func ModelGraph(ctx *context.Context, spec any, inputs []*Node) []*Node {
	_ = spec // Not used.
	cfg, err := ConfigFromContext(ctx)
	if err != nil {
		panic(errors.WithMessage(err, "failed to build the multi-task model"))
	}
	in := InputsFromNodes(cfg, inputs)
	shared := SharedEncoder(ctx.In("shared"), cfg, in)
	nerLogits := NERHead(ctx.In("ner"), cfg, shared, in.Lengths)
	reLogits := REHead(ctx.In("re"), cfg, shared, in.Lengths)
	return []*Node{nerLogits, reLogits}
}
