// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package mtl

import (
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/support/exceptions"
	"github.com/pkg/errors"
)

const (
	// ModelScope is the context scope under which TrainModel builds the model.
	ModelScope = "model"

	// EmbeddingVarName is the name of the embedding table variable, in the scope of each embedding.
	EmbeddingVarName = "embeddings"
)

// WordEmbeddingScope is the scope path, relative to the model scope, of the word embedding table.
var WordEmbeddingScope = []string{"shared", "word_embedding"}

// PaddedEmbedding looks up ids in an embedding table of shape [vocabSize, dim] and returns [<ids dims...>, dim].
//
// The PadID entry always embeds to zeros, and no gradient flows to its row.
//
// If the variable EmbeddingVarName already exists in ctx scope (e.g. set with SetPretrainedWordEmbeddings) it is
// used as is, as long as its shape matches.
func PaddedEmbedding(ctx *context.Context, ids *Node, dtype dtypes.DType, vocabSize, dim int) *Node {
	g := ids.Graph()
	if !ids.DType().IsInt() {
		exceptions.Panicf("PaddedEmbedding: ids must have an integer dtype, got %s", ids.Shape())
	}
	tableShape := shapes.Make(dtype, vocabSize, dim)
	tableVar := ctx.GetVariable(EmbeddingVarName)
	if tableVar != nil {
		if !tableVar.Shape().Equal(tableShape) {
			exceptions.Panicf("PaddedEmbedding: existing table %q in scope %q has shape %s, wanted %s",
				EmbeddingVarName, ctx.Scope(), tableVar.Shape(), tableShape)
		}
	} else {
		tableVar = ctx.VariableWithShape(EmbeddingVarName, tableShape)
	}
	table := tableVar.ValueGraph(g)
	embedded := Gather(table, ExpandAxes(ids, -1))
	notPad := NotEqual(ids, ZerosLike(ids))
	return Where(notPad, embedded, ZerosLike(embedded))
}

// SetPretrainedWordEmbeddings creates the word embedding table of the model in ctx (the root context) with the
// given values, shaped [numWordTypes, wordDim]. The PAD row is zeroed.
//
// It must be called before the model graph is first built. If frozen, the table is not updated by training.
func SetPretrainedWordEmbeddings(ctx *context.Context, table *tensors.Tensor, frozen bool) error {
	if table.Rank() != 2 {
		return errors.Errorf("pretrained word embeddings must be shaped [numWordTypes, wordDim], got %s", table.Shape())
	}
	embCtx := ctx.In(ModelScope)
	for _, scope := range WordEmbeddingScope {
		embCtx = embCtx.In(scope)
	}
	if embCtx.GetVariable(EmbeddingVarName) != nil {
		return errors.Errorf("word embeddings already exist in scope %q", embCtx.Scope())
	}
	err := exceptions.TryCatch[error](func() {
		tensors.MustMutableFlatData[float32](table, func(flat []float32) {
			dim := table.Shape().Dim(1)
			clear(flat[PadID*dim : (PadID+1)*dim])
		})
		v := embCtx.VariableWithValue(EmbeddingVarName, table)
		v.SetTrainable(!frozen)
	})
	return errors.WithMessage(err, "failed to set pretrained word embeddings")
}
