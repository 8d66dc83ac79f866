// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package mtl

import (
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/layers"
	"github.com/gomlx/gomlx/pkg/ml/layers/activations"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
	"github.com/gomlx/gomlx/pkg/support/xslices"
	"github.com/mtlnet/mtlnet/mtl/dataset"
	"github.com/mtlnet/mtlnet/pkg/ml/layers/birnn"
	"github.com/pkg/errors"
)

// Hyperparameters of the multi-task model, stored in the context.
const (
	// ParamNumWordTypes is the word vocabulary size, including PAD and UNK. Set from the vocabulary by TrainModel.
	ParamNumWordTypes = "mtl_num_word_types"

	// ParamNumCharTypes is the character vocabulary size, including PAD and UNK.
	ParamNumCharTypes = "mtl_num_char_types"

	// ParamNumTagTypes is the number of BIO tags used by the NER head.
	ParamNumTagTypes = "mtl_num_tag_types"

	// ParamNumRelTypes is the number of relation classes, including the "no relation" class 0.
	ParamNumRelTypes = "mtl_num_rel_types"

	ParamWordDim = "mtl_word_dim"
	ParamCharDim = "mtl_char_dim"

	// ParamContextualDim is the size of the precomputed contextual (ELMo) vectors concatenated to the word
	// representation. 0 disables them.
	ParamContextualDim = "mtl_contextual_dim"

	// ParamHiddenDim is the hidden size (per direction) of the recurrent layers and of the heads' first projection.
	ParamHiddenDim = "mtl_hidden_dim"

	// ParamSharedHiddenDim overrides the hidden size of the shared encoder's BiRNN. 0 uses ParamHiddenDim.
	ParamSharedHiddenDim = "mtl_shared_hidden_dim"

	// ParamSharedLayerSize is the output size of the shared encoder, the input of the task-specific layers.
	ParamSharedLayerSize = "mtl_shared_layer_size"

	// ParamNumLayers is the number of stacked bidirectional layers in each recurrent encoder.
	ParamNumLayers = "mtl_num_layers"

	// ParamNERLossWeight and ParamRELossWeight weight each task in the total loss.
	ParamNERLossWeight = "mtl_ner_loss_weight"
	ParamRELossWeight  = "mtl_re_loss_weight"

	// ParamFreezeWordEmbeddings keeps pretrained word embeddings fixed during training.
	ParamFreezeWordEmbeddings = "mtl_freeze_word_embeddings"

	// ParamPreset names a preset configuration applied by ApplyPreset. See Presets.
	ParamPreset = "mtl_preset"

	// ParamDropoutRate is the dropout applied to the encoder inputs, in between recurrent layers, and in the heads.
	ParamDropoutRate = layers.ParamDropoutRate

	// ParamActivation is the activation of the heads' first projection: "relu", "tanh" or "gelu".
	ParamActivation = activations.ParamActivation

	// ParamRecurrentUnit selects "gru" or "lstm" cells for all recurrent layers.
	ParamRecurrentUnit = birnn.ParamRecurrentUnit
)

// PadID is the index reserved for padding in the word and character vocabularies. Its embedding is always zero.
const PadID = dataset.PadID

// DType used by the model.
var DType = dtypes.Float32

// SupportedActivations lists the activations accepted for the heads.
var SupportedActivations = []activations.Type{activations.TypeRelu, activations.TypeTanh, activations.TypeGelu}

// Preset is a named set of hyperparameters that can be applied with ApplyPreset.
type Preset struct {
	Params map[string]any

	// SharedWidthFromInput sets ParamSharedHiddenDim to the resolved encoder input width (see
	// Config.EncoderInputDim), and ParamSharedLayerSize to both directions of it.
	SharedWidthFromInput bool
}

// Presets by name.
//
// "elmo_glove" is the fixed-dimension shared encoder: 300-dimensional GloVe word vectors, 1024-dimensional ELMo
// vectors and 32-dimensional characters, with the shared BiRNN as wide as its input.
var Presets = map[string]Preset{
	"elmo_glove": {
		Params: map[string]any{
			ParamWordDim:       300,
			ParamCharDim:       32,
			ParamContextualDim: 1024,
		},
		SharedWidthFromInput: true,
	},
}

// Config holds the model hyperparameters read from the context.
type Config struct {
	NumWordTypes, NumCharTypes int
	NumTagTypes, NumRelTypes   int

	WordDim, CharDim, ContextualDim int
	HiddenDim, SharedHiddenDim      int
	SharedLayerSize, NumLayers      int

	Dropout    float64
	Activation activations.Type
	Unit       birnn.RecurrentUnit

	NERLossWeight, RELossWeight float64
	FreezeWordEmbeddings        bool
}

// CreateDefaultContext sets the context with default hyperparameters to use with TrainModel.
func CreateDefaultContext() *context.Context {
	ctx := context.New()
	ctx.ResetRNGState()
	ctx.SetParams(map[string]any{
		"train_steps": 3000,

		// batch_size for training.
		"batch_size": 32,

		// eval_batch_size can be larger than training, it's more efficient.
		"eval_batch_size": 100,

		// Corpus parameters.
		"data_min_word_freq": 1,     // Words seen fewer times in the training corpus are mapped to UNK.
		"data_lowercase":     false, // Lowercase words before the vocabulary lookup (characters keep their case).
		"data_max_word_len":  20,    // Words are truncated to this many characters for the CharRNN.
		"glove_file":         "",    // GloVe text file used to initialize the word embeddings, if set.
		"contextual_file":    "",    // .npz file with precomputed contextual vectors per sentence, if set.
		"data_seed":          42,    // Seed for shuffling and for the random vectors of words missing in glove_file.

		// Model.
		ParamPreset:               "",
		ParamWordDim:              100,
		ParamCharDim:              25,
		ParamContextualDim:        0,
		ParamHiddenDim:            128,
		ParamSharedHiddenDim:      0,
		ParamSharedLayerSize:      256,
		ParamNumLayers:            1,
		ParamNERLossWeight:        1.0,
		ParamRELossWeight:         1.0,
		ParamFreezeWordEmbeddings: false,
		ParamDropoutRate:          0.3,
		ParamActivation:           "relu",
		ParamRecurrentUnit:        "gru",

		optimizers.ParamOptimizer:    "adam",
		optimizers.ParamLearningRate: 1e-3,
	})
	return ctx
}

// ApplyPreset sets the hyperparameters of the preset named in ParamPreset, if any.
// Parameters listed in paramsSet (explicitly set by the user) are not overwritten.
func ApplyPreset(ctx *context.Context, paramsSet []string) error {
	name := context.GetParamOr(ctx, ParamPreset, "")
	if name == "" {
		return nil
	}
	preset, found := Presets[name]
	if !found {
		return errors.Errorf("unknown preset %q for %q, valid values are %q", name, ParamPreset, xslices.SortedKeys(Presets))
	}
	userSet := make(map[string]bool, len(paramsSet))
	for _, key := range paramsSet {
		userSet[key] = true
	}
	setDefault := func(key string, value any) {
		if !userSet[key] {
			ctx.SetParam(key, value)
		}
	}
	for key, value := range preset.Params {
		setDefault(key, value)
	}
	if preset.SharedWidthFromInput {
		inputDim := context.GetParamOr(ctx, ParamWordDim, 0) +
			2*context.GetParamOr(ctx, ParamCharDim, 0) +
			context.GetParamOr(ctx, ParamContextualDim, 0)
		setDefault(ParamSharedHiddenDim, inputDim)
		setDefault(ParamSharedLayerSize, 2*context.GetParamOr(ctx, ParamSharedHiddenDim, inputDim))
	}
	return nil
}

// ConfigFromContext reads the model hyperparameters from the context and validates them.
func ConfigFromContext(ctx *context.Context) (*Config, error) {
	cfg := &Config{
		NumWordTypes:         context.GetParamOr(ctx, ParamNumWordTypes, 0),
		NumCharTypes:         context.GetParamOr(ctx, ParamNumCharTypes, 0),
		NumTagTypes:          context.GetParamOr(ctx, ParamNumTagTypes, 0),
		NumRelTypes:          context.GetParamOr(ctx, ParamNumRelTypes, 0),
		WordDim:              context.GetParamOr(ctx, ParamWordDim, 100),
		CharDim:              context.GetParamOr(ctx, ParamCharDim, 25),
		ContextualDim:        context.GetParamOr(ctx, ParamContextualDim, 0),
		HiddenDim:            context.GetParamOr(ctx, ParamHiddenDim, 128),
		SharedHiddenDim:      context.GetParamOr(ctx, ParamSharedHiddenDim, 0),
		SharedLayerSize:      context.GetParamOr(ctx, ParamSharedLayerSize, 256),
		NumLayers:            context.GetParamOr(ctx, ParamNumLayers, 1),
		Dropout:              context.GetParamOr(ctx, ParamDropoutRate, 0.0),
		NERLossWeight:        context.GetParamOr(ctx, ParamNERLossWeight, 1.0),
		RELossWeight:         context.GetParamOr(ctx, ParamRELossWeight, 1.0),
		FreezeWordEmbeddings: context.GetParamOr(ctx, ParamFreezeWordEmbeddings, false),
	}
	if cfg.SharedHiddenDim == 0 {
		cfg.SharedHiddenDim = cfg.HiddenDim
	}

	activationName := context.GetParamOr(ctx, ParamActivation, "relu")
	activation, err := activations.TypeString(activationName)
	if err != nil {
		return nil, errors.Errorf("unsupported activation %q for %q, valid values are %v",
			activationName, ParamActivation, SupportedActivations)
	}
	cfg.Activation = activation

	cfg.Unit, err = birnn.UnitFromName(context.GetParamOr(ctx, ParamRecurrentUnit, "gru"))
	if err != nil {
		return nil, errors.WithMessagef(err, "invalid %q", ParamRecurrentUnit)
	}
	if err = cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that all dimensions are valid and the activation is supported.
func (cfg *Config) Validate() error {
	positive := []struct {
		name  string
		value int
	}{
		{ParamNumWordTypes, cfg.NumWordTypes},
		{ParamNumCharTypes, cfg.NumCharTypes},
		{ParamNumTagTypes, cfg.NumTagTypes},
		{ParamNumRelTypes, cfg.NumRelTypes},
		{ParamWordDim, cfg.WordDim},
		{ParamCharDim, cfg.CharDim},
		{ParamHiddenDim, cfg.HiddenDim},
		{ParamSharedHiddenDim, cfg.SharedHiddenDim},
		{ParamSharedLayerSize, cfg.SharedLayerSize},
		{ParamNumLayers, cfg.NumLayers},
	}
	for _, p := range positive {
		if p.value <= 0 {
			return errors.Errorf("hyperparameter %q must be > 0, got %d", p.name, p.value)
		}
	}
	if cfg.NumWordTypes <= PadID+1 || cfg.NumCharTypes <= PadID+1 {
		return errors.Errorf("vocabularies must hold at least PAD and one more entry, got %d words and %d characters",
			cfg.NumWordTypes, cfg.NumCharTypes)
	}
	if cfg.ContextualDim < 0 {
		return errors.Errorf("hyperparameter %q must be >= 0, got %d", ParamContextualDim, cfg.ContextualDim)
	}
	if cfg.Dropout < 0 || cfg.Dropout >= 1 {
		return errors.Errorf("hyperparameter %q must be in [0, 1), got %g", ParamDropoutRate, cfg.Dropout)
	}
	if cfg.NERLossWeight < 0 || cfg.RELossWeight < 0 || cfg.NERLossWeight+cfg.RELossWeight == 0 {
		return errors.Errorf("loss weights must be >= 0 and not both 0, got ner=%g, re=%g",
			cfg.NERLossWeight, cfg.RELossWeight)
	}
	supported := false
	for _, activation := range SupportedActivations {
		supported = supported || activation == cfg.Activation
	}
	if !supported {
		return errors.Errorf("unsupported activation %q for %q, valid values are %v",
			cfg.Activation, ParamActivation, SupportedActivations)
	}
	if cfg.Unit != birnn.UnitGRU && cfg.Unit != birnn.UnitLSTM {
		return errors.Errorf("invalid recurrent unit %s", cfg.Unit)
	}
	return nil
}

// EncoderInputDim is the width of the shared encoder's input: word embedding, both directions of the character
// encoder and the contextual vectors.
func (cfg *Config) EncoderInputDim() int {
	return cfg.WordDim + 2*cfg.CharDim + cfg.ContextualDim
}
