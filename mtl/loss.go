// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package mtl

import (
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/gomlx/gomlx/pkg/ml/train/losses"
	"github.com/gomlx/gomlx/pkg/ml/train/metrics"
	"github.com/gomlx/gomlx/pkg/support/exceptions"
	"github.com/mtlnet/mtlnet/mtl/dataset"
)

// Labels yielded by dataset.Dataset, in order.
const (
	LabelTags      = dataset.LabelTags      // [batchSize, numWords] tag ids.
	LabelRelations = dataset.LabelRelations // [batchSize, numWords, numWords] relation ids, 0 for "no relation".
	LabelMask      = dataset.LabelMask      // [batchSize, numWords] true for words that are not padding.
)

// LossFn returns the multi-task loss, weighting each task by the hyperparameters ParamNERLossWeight and
// ParamRELossWeight.
func LossFn(ctx *context.Context) train.LossFn {
	nerWeight := context.GetParamOr(ctx, ParamNERLossWeight, 1.0)
	reWeight := context.GetParamOr(ctx, ParamRELossWeight, 1.0)
	return func(labels, predictions []*Node) *Node {
		checkLabels(labels, predictions)
		mask := labels[LabelMask]
		nerLoss := NERLoss(labels[LabelTags], mask, predictions[OutputNERLogits])
		reLoss := RELoss(labels[LabelRelations], mask, predictions[OutputRELogits])
		return Add(MulScalar(nerLoss, nerWeight), MulScalar(reLoss, reWeight))
	}
}

func checkLabels(labels, predictions []*Node) {
	if len(labels) != LabelMask+1 || len(predictions) < OutputRELogits+1 {
		exceptions.Panicf("multi-task loss expects %d labels and %d predictions, got %d and %d",
			LabelMask+1, OutputRELogits+1, len(labels), len(predictions))
	}
}

// NERLoss is the mean cross-entropy of the tags over the words that are not padding.
func NERLoss(tags, mask, logits *Node) *Node {
	perWord := losses.SparseCategoricalCrossEntropyLogits(
		[]*Node{ExpandAxes(tags, -1), mask},
		[]*Node{logits})
	return maskedMean(perWord, mask)
}

// RELoss is the mean cross-entropy of the relations over the pairs of words that are not padding.
func RELoss(relations, mask, logits *Node) *Node {
	pairMask := PairMask(mask)
	perPair := losses.SparseCategoricalCrossEntropyLogits(
		[]*Node{ExpandAxes(relations, -1), pairMask},
		[]*Node{logits})
	return maskedMean(perPair, pairMask)
}

// PairMask converts a words mask shaped [batchSize, numWords] to a mask of pairs of words,
// shaped [batchSize, numWords, numWords].
func PairMask(mask *Node) *Node {
	batchSize, numWords := mask.Shape().Dim(0), mask.Shape().Dim(1)
	return LogicalAnd(
		BroadcastToDims(ExpandAxes(mask, 2), batchSize, numWords, numWords),
		BroadcastToDims(ExpandAxes(mask, 1), batchSize, numWords, numWords))
}

// maskedMean of x over the entries where mask is true. It returns 0 if the mask is all false.
func maskedMean(x, mask *Node) *Node {
	g := x.Graph()
	dtype := x.DType()
	total := ReduceAllSum(Where(mask, x, ZerosLike(x)))
	count := ReduceAllSum(ConvertDType(mask, dtype))
	return Div(total, Max(count, ScalarOne(g, dtype)))
}

// NERAccuracyGraph is the fraction of words (not padding) whose most likely tag is the labeled one.
func NERAccuracyGraph(ctx *context.Context, labels, predictions []*Node) *Node {
	return metrics.SparseCategoricalAccuracyGraph(ctx,
		[]*Node{ExpandAxes(labels[LabelTags], -1), labels[LabelMask]},
		[]*Node{predictions[OutputNERLogits]})
}

// REAccuracyGraph is the fraction of pairs of words (not padding) whose most likely relation is the labeled one.
func REAccuracyGraph(ctx *context.Context, labels, predictions []*Node) *Node {
	return metrics.SparseCategoricalAccuracyGraph(ctx,
		[]*Node{ExpandAxes(labels[LabelRelations], -1), PairMask(labels[LabelMask])},
		[]*Node{predictions[OutputRELogits]})
}

// NewNERAccuracy returns a mean metric of NERAccuracyGraph.
func NewNERAccuracy(name, shortName string) *metrics.MeanMetric {
	return metrics.NewMeanMetric(name, shortName, metrics.AccuracyMetricType, NERAccuracyGraph, nil)
}

// NewREAccuracy returns a mean metric of REAccuracyGraph.
func NewREAccuracy(name, shortName string) *metrics.MeanMetric {
	return metrics.NewMeanMetric(name, shortName, metrics.AccuracyMetricType, REAccuracyGraph, nil)
}

// NewMovingAverageNERAccuracy returns an exponential moving average of NERAccuracyGraph, used during training.
func NewMovingAverageNERAccuracy(name, shortName string, newExampleWeight float64) metrics.Interface {
	return metrics.NewExponentialMovingAverageMetric(name, shortName, metrics.AccuracyMetricType,
		NERAccuracyGraph, nil, newExampleWeight)
}

// NewMovingAverageREAccuracy returns an exponential moving average of REAccuracyGraph, used during training.
func NewMovingAverageREAccuracy(name, shortName string, newExampleWeight float64) metrics.Interface {
	return metrics.NewExponentialMovingAverageMetric(name, shortName, metrics.AccuracyMetricType,
		REAccuracyGraph, nil, newExampleWeight)
}
