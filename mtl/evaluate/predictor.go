// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package evaluate

import (
	"io"

	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/gomlx/gomlx/pkg/support/exceptions"
	"github.com/gomlx/gomlx/pkg/support/xslices"
	"github.com/mtlnet/mtlnet/mtl/dataset"
	"github.com/pkg/errors"
)

// Prediction holds the decoded output of the model for one sentence.
type Prediction struct {
	Sentence  *dataset.Sentence
	Tags      []string
	Entities  []Span
	Relations []Triple
}

// Predictor runs a trained model and decodes its predictions.
type Predictor struct {
	vocabs *dataset.Vocabularies
	exec   *context.Exec
}

// NewPredictor creates a Predictor for modelFn, whose first two outputs must be the NER logits
// [batchSize, numWords, numTags] and the RE logits [batchSize, numWords, numWords, numRelations].
//
// ctx must be the context (and scope) the model was trained with: its variables are reused, and no
// new variable is created.
func NewPredictor(backend backends.Backend, ctx *context.Context, modelFn train.ModelFn, vocabs *dataset.Vocabularies) *Predictor {
	exec := context.MustNewExec(backend, ctx.Reuse(), func(ctx *context.Context, inputs []*Node) []*Node {
		outputs := modelFn(ctx, nil, inputs)
		if len(outputs) < 2 {
			exceptions.Panicf("model must return the NER and RE logits, got %d outputs", len(outputs))
		}
		return []*Node{
			ArgMax(outputs[0], -1, dtypes.Int32),
			ArgMax(outputs[1], -1, dtypes.Int32),
		}
	})
	return &Predictor{vocabs: vocabs, exec: exec}
}

// Predict runs the model on a batch built by dataset.Dataset, and decodes the predictions of the given examples,
// which must be the first rows of the batch.
func (p *Predictor) Predict(examples []*dataset.Example, inputs []*tensors.Tensor) ([]Prediction, error) {
	var tagsT, relationsT *tensors.Tensor
	err := exceptions.TryCatch[error](func() {
		tagsT, relationsT = p.exec.MustExec2(xslices.Map(inputs, func(t *tensors.Tensor) any { return t })...)
	})
	if err != nil {
		return nil, errors.WithMessage(err, "failed to run the model")
	}
	defer func() {
		_ = tagsT.FinalizeAll()
		_ = relationsT.FinalizeAll()
	}()

	numWords := tagsT.Shape().Dim(1)
	if len(examples) > tagsT.Shape().Dim(0) {
		return nil, errors.Errorf("got %d examples for a batch of %d", len(examples), tagsT.Shape().Dim(0))
	}
	tagIDs := tensors.MustCopyFlatData[int32](tagsT)
	relationIDs := tensors.MustCopyFlatData[int32](relationsT)
	predictions := make([]Prediction, len(examples))
	for row, ex := range examples {
		n := ex.NumWords()
		tags := dataset.Decode(p.vocabs.Tags, tagIDs[row*numWords:row*numWords+n])
		entities := DecodeEntities(tags)
		rowRelations := relationIDs[row*numWords*numWords : (row+1)*numWords*numWords]
		predictions[row] = Prediction{
			Sentence:  ex.Sentence,
			Tags:      tags,
			Entities:  entities,
			Relations: DecodeRelations(rowRelations, numWords, entities, p.vocabs.Relations),
		}
	}
	return predictions, nil
}

// Evaluate runs the model over the whole (finite) dataset and scores the predictions against the gold
// annotations. The dataset is reset before and after.
func (p *Predictor) Evaluate(ds *dataset.Dataset) (*Scores, error) {
	if ds.Infinite {
		return nil, errors.Errorf("cannot evaluate on infinite dataset %q", ds.Name())
	}
	ds.Reset()
	defer ds.Reset()
	scores := NewScores()
	for {
		examples, inputs, labels, err := ds.YieldExamples()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.WithMessagef(err, "failed to evaluate on %q", ds.Name())
		}
		for _, t := range labels {
			_ = t.FinalizeAll()
		}
		predictions, err := p.Predict(examples, inputs)
		for _, t := range inputs {
			_ = t.FinalizeAll()
		}
		if err != nil {
			return nil, errors.WithMessagef(err, "failed to evaluate on %q", ds.Name())
		}
		for _, prediction := range predictions {
			scores.Add(GoldEntities(prediction.Sentence), prediction.Entities,
				GoldRelations(prediction.Sentence), prediction.Relations)
		}
	}
	return scores, nil
}
