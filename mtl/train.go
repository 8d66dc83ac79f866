// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package mtl

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"slices"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/gomlx/gomlx/pkg/ml/train/metrics"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
	"github.com/gomlx/gomlx/pkg/support/exceptions"
	"github.com/gomlx/gomlx/pkg/support/fsutil"
	"github.com/gomlx/gomlx/ui/commandline"
	"github.com/janpfeifer/must"
	"github.com/mtlnet/mtlnet/mtl/dataset"
	"github.com/mtlnet/mtlnet/mtl/evaluate"
	"github.com/mtlnet/mtlnet/mtl/wordvec"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Corpus files expected in the data directory. Only TrainFile is required.
const (
	TrainFile = "train.jsonl"
	DevFile   = "dev.jsonl"
	TestFile  = "test.jsonl"
)

// Corpora holds the sentences of each split. Dev and Test may be empty.
type Corpora struct {
	Train, Dev, Test []*dataset.Sentence
}

// LoadCorpora reads the splits from dataDir.
func LoadCorpora(dataDir string) (*Corpora, error) {
	dataDir, err := fsutil.ReplaceTildeInDir(dataDir)
	if err != nil {
		return nil, err
	}
	corpora := &Corpora{}
	corpora.Train, err = dataset.LoadCorpus(filepath.Join(dataDir, TrainFile))
	if err != nil {
		return nil, err
	}
	if len(corpora.Train) == 0 {
		return nil, errors.Errorf("training corpus %q is empty", filepath.Join(dataDir, TrainFile))
	}
	for _, split := range []struct {
		file string
		dst  *[]*dataset.Sentence
	}{{DevFile, &corpora.Dev}, {TestFile, &corpora.Test}} {
		filePath := filepath.Join(dataDir, split.file)
		if _, statErr := os.Stat(filePath); statErr != nil {
			klog.V(1).Infof("No %s found in %q", split.file, dataDir)
			continue
		}
		*split.dst, err = dataset.LoadCorpus(filePath)
		if err != nil {
			return nil, err
		}
	}
	return corpora, nil
}

// SetVocabularySizes sets the hyperparameters of the vocabulary sizes in ctx.
func SetVocabularySizes(ctx *context.Context, vocabs *dataset.Vocabularies) {
	ctx.SetParams(map[string]any{
		ParamNumWordTypes: vocabs.Words.Len(),
		ParamNumCharTypes: vocabs.Chars.Len(),
		ParamNumTagTypes:  vocabs.Tags.Len(),
		ParamNumRelTypes:  vocabs.Relations.Len(),
	})
}

// TrainModel with hyperparameters given in ctx, on the corpora found in dataDir.
//
// paramsSet lists the hyperparameters explicitly set by the user, which presets don't overwrite.
// If evaluateOnEnd is set, it prints the metrics and the entity and relation scores on the dev and test splits.
func TrainModel(ctx *context.Context, dataDir string, paramsSet []string, evaluateOnEnd bool, verbosity int) {
	must.M(ApplyPreset(ctx, paramsSet))
	corpora := must.M1(LoadCorpora(dataDir))
	if verbosity >= 1 {
		fmt.Printf("Corpus: %s train, %s dev, %s test sentences\n",
			humanize.Comma(int64(len(corpora.Train))),
			humanize.Comma(int64(len(corpora.Dev))),
			humanize.Comma(int64(len(corpora.Test))))
		fmt.Println(dataset.Summary(corpora.Train))
	}

	// Vocabularies come from the training split only.
	vocabs := dataset.BuildVocabularies(corpora.Train,
		context.GetParamOr(ctx, "data_min_word_freq", 1),
		context.GetParamOr(ctx, "data_lowercase", false))
	SetVocabularySizes(ctx, vocabs)
	klog.V(1).Infof("Vocabularies: %d words, %d chars, %d tags, %d relations",
		vocabs.Words.Len(), vocabs.Chars.Len(), vocabs.Tags.Len(), vocabs.Relations.Len())

	// Contextual vectors.
	var contextual *wordvec.ContextualStore
	if contextualFile := context.GetParamOr(ctx, "contextual_file", ""); contextualFile != "" {
		contextual = must.M1(wordvec.LoadContextual(contextualFile))
		contextualDim := context.GetParamOr(ctx, ParamContextualDim, 0)
		if slices.Contains(paramsSet, ParamContextualDim) && contextualDim != contextual.Dim() {
			exceptions.Panicf("%q=%d, but contextual vectors in %q have dim %d",
				ParamContextualDim, contextualDim, contextualFile, contextual.Dim())
		}
		ctx.SetParam(ParamContextualDim, contextual.Dim())
	} else if contextualDim := context.GetParamOr(ctx, ParamContextualDim, 0); contextualDim > 0 {
		exceptions.Panicf("%q=%d requires contextual vectors, set \"contextual_file\"", ParamContextualDim, contextualDim)
	}

	// Validate the configuration before doing any expensive work.
	cfg := must.M1(ConfigFromContext(ctx))

	// Pretrained word embeddings.
	if gloveFile := context.GetParamOr(ctx, "glove_file", ""); gloveFile != "" {
		rng := rand.New(rand.NewSource(int64(context.GetParamOr(ctx, "data_seed", 42))))
		table, coverage := must.M2(wordvec.LoadGloVe(gloveFile, vocabs, cfg.WordDim, rng))
		fmt.Printf("GloVe: %s of %s words found (%.1f%%)\n", humanize.Comma(int64(coverage.Found)),
			humanize.Comma(int64(coverage.Total)), 100*coverage.Ratio())
		must.M(SetPretrainedWordEmbeddings(ctx, table, cfg.FreezeWordEmbeddings))
	}

	// Backend handles creation of ML computation graphs, accelerator resources, etc.
	backend := backends.MustNew()
	if verbosity >= 1 {
		fmt.Printf("Backend %q:\t%s\n", backend.Name(), backend.Description())
	}

	// Create datasets used for training and evaluation.
	batchSize := context.GetParamOr(ctx, "batch_size", 0)
	if batchSize <= 0 {
		exceptions.Panicf("Batch size must be > 0 (maybe it was not set?): %d", batchSize)
	}
	evalBatchSize := context.GetParamOr(ctx, "eval_batch_size", 0)
	if evalBatchSize <= 0 {
		evalBatchSize = batchSize
	}
	maxWordLen := context.GetParamOr(ctx, "data_max_word_len", dataset.DefaultMaxWordLen)
	newDataset := func(name string, sentences []*dataset.Sentence, batchSize int) *dataset.Dataset {
		ds := dataset.NewDataset(name, sentences, vocabs, batchSize).WithMaxWordLen(maxWordLen)
		if contextual != nil {
			ds.WithContextual(contextual)
		}
		return ds
	}
	shuffleSeed := int64(context.GetParamOr(ctx, "data_seed", 42))
	trainDS := newDataset("train", corpora.Train, batchSize).
		WithInfinite(true).
		WithShuffle(rand.New(rand.NewSource(shuffleSeed)))
	evalDatasets := []*dataset.Dataset{newDataset("train-eval", corpora.Train, evalBatchSize)}
	if len(corpora.Dev) > 0 {
		evalDatasets = append(evalDatasets, newDataset("dev", corpora.Dev, evalBatchSize))
	}
	if len(corpora.Test) > 0 {
		evalDatasets = append(evalDatasets, newDataset("test", corpora.Test, evalBatchSize))
	}
	if verbosity >= 2 {
		fmt.Println(commandline.SprintContextSettings(ctx))
	}

	// Create a train.Trainer: this object will orchestrate running the model, feeding
	// results to the optimizer, evaluating the metrics, etc. (all happens in trainer.TrainStep)
	ctx = ctx.In(ModelScope) // Convention scope used for model creation.
	trainer := train.NewTrainer(backend, ctx, ModelGraph,
		LossFn(ctx),
		optimizers.FromContext(ctx),
		[]metrics.Interface{
			NewMovingAverageNERAccuracy("Moving Average NER Accuracy", "~ner", 0.01),
			NewMovingAverageREAccuracy("Moving Average RE Accuracy", "~re", 0.01),
		}, // trainMetrics
		[]metrics.Interface{
			NewNERAccuracy("Mean NER Accuracy", "#ner"),
			NewREAccuracy("Mean RE Accuracy", "#re"),
		}) // evalMetrics

	// Use standard training loop.
	loop := train.NewLoop(trainer)
	if verbosity >= 0 {
		commandline.AttachProgressBar(loop) // Attaches a progress bar to the loop.
	}

	// Loop for given number of steps.
	numTrainSteps := context.GetParamOr(ctx, "train_steps", 0)
	globalStep := int(optimizers.GetGlobalStep(ctx))
	if globalStep > 0 {
		trainer.SetContext(ctx.Reuse())
	}
	if globalStep < numTrainSteps {
		_ = must.M1(loop.RunSteps(trainDS, numTrainSteps-globalStep))
		if verbosity >= 1 {
			fmt.Printf("\t[Step %d] median train step: %d microseconds\n",
				loop.LoopStep, loop.MedianTrainStepDuration().Microseconds())
			fmt.Printf("Model: %s parameters\n", humanize.Comma(int64(ctx.NumParameters())))
		}
	} else {
		fmt.Printf("\t - target train_steps=%d already reached. To train further, set a number additional "+
			"to current global step.\n", numTrainSteps)
	}

	// Finally, print an evaluation on the evaluation datasets.
	if evaluateOnEnd {
		if verbosity >= 1 {
			fmt.Println()
		}
		trainDatasets := make([]train.Dataset, len(evalDatasets))
		for ii, ds := range evalDatasets {
			trainDatasets[ii] = ds
		}
		must.M(commandline.ReportEval(trainer, trainDatasets...))
		predictor := evaluate.NewPredictor(backend, ctx, ModelGraph, vocabs)
		for _, ds := range evalDatasets[1:] {
			scores := must.M1(predictor.Evaluate(ds))
			fmt.Println(evaluate.Report(ds.Name(), scores))
		}
	}
}
