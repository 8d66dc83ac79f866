// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package dataset

import (
	"io"
	"math/rand"
	"sync"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/pkg/errors"
)

// Inputs yielded by Dataset, in order. They match the inputs expected by the model.
const (
	InputWords       = iota // int32 [batchSize, numWords]
	InputChars              // int32 [batchSize, numWords, maxWordLen]
	InputCharLengths        // int32 [batchSize, numWords]
	InputLengths            // int32 [batchSize]
	InputContextual         // float32 [batchSize, numWords, contextualDim], only if a ContextualSource is set.
)

// Labels yielded by Dataset, in order.
const (
	LabelTags      = iota // int32 [batchSize, numWords]
	LabelRelations        // int32 [batchSize, numWords, numWords]
	LabelMask             // bool [batchSize, numWords]
)

// ContextualSource provides precomputed contextual vectors (e.g. ELMo) for each word of a sentence.
type ContextualSource interface {
	// Dim is the size of each vector.
	Dim() int

	// Vectors returns one vector per word of the sentence with the given id.
	Vectors(sentenceID string) ([][]float32, error)
}

// Dataset yields batches of encoded sentences. It implements train.Dataset.
//
// Batches always have BatchSize rows: the last batch of a finite dataset is completed with empty rows, whose
// length is 0 and whose mask is all false. The number of words is the longest sentence in the batch rounded up
// to a multiple of BucketSize, to limit the number of graphs compiled.
type Dataset struct {
	name       string
	Vocabs     *Vocabularies
	Examples   []*Example
	BatchSize  int
	BucketSize int
	MaxWordLen int
	Contextual ContextualSource

	// muIndices protects the indices, the mutable part of the Dataset, to allow
	// for concurrent calls to Yield.
	muIndices sync.Mutex
	Pos       int
	Infinite  bool

	// Shuffle is used to reshuffle the examples at every Reset, if not nil.
	Shuffle *rand.Rand
}

// Assert *Dataset implements train.Dataset
var _ train.Dataset = &Dataset{}

// Default values used by NewDataset.
const (
	DefaultBucketSize = 8
	DefaultMaxWordLen = 20
)

// NewDataset encodes the sentences and creates a finite, unshuffled Dataset.
// Use the With* methods to configure it.
func NewDataset(name string, sentences []*Sentence, vocabs *Vocabularies, batchSize int) *Dataset {
	return &Dataset{
		name:       name,
		Vocabs:     vocabs,
		Examples:   EncodeAll(sentences, vocabs),
		BatchSize:  batchSize,
		BucketSize: DefaultBucketSize,
		MaxWordLen: DefaultMaxWordLen,
	}
}

// WithInfinite makes the dataset loop forever, reshuffling at every epoch if a Shuffle is set.
func (ds *Dataset) WithInfinite(infinite bool) *Dataset {
	ds.Infinite = infinite
	return ds
}

// WithShuffle shuffles the examples, using the given random number generator.
func (ds *Dataset) WithShuffle(rng *rand.Rand) *Dataset {
	ds.Shuffle = rng
	ds.Reset()
	return ds
}

// WithContextual adds the contextual vectors as the InputContextual input.
func (ds *Dataset) WithContextual(source ContextualSource) *Dataset {
	ds.Contextual = source
	return ds
}

// WithMaxWordLen sets the number of characters per word fed to the character encoder. Longer words are truncated.
func (ds *Dataset) WithMaxWordLen(maxWordLen int) *Dataset {
	ds.MaxWordLen = maxWordLen
	return ds
}

// WithBucketSize sets the multiple to which the number of words of a batch is rounded up.
func (ds *Dataset) WithBucketSize(bucketSize int) *Dataset {
	ds.BucketSize = bucketSize
	return ds
}

// Name implements train.Dataset.
func (ds *Dataset) Name() string { return ds.name }

// Reset implements train.Dataset.
func (ds *Dataset) Reset() {
	ds.muIndices.Lock()
	defer ds.muIndices.Unlock()
	ds.resetLocked()
}

// resetLocked implements Reset, when Dataset.muIndices is already locked.
func (ds *Dataset) resetLocked() {
	if ds.Shuffle != nil {
		ds.Shuffle.Shuffle(len(ds.Examples), func(i, j int) {
			ds.Examples[i], ds.Examples[j] = ds.Examples[j], ds.Examples[i]
		})
	}
	ds.Pos = 0
}

// Yield implements train.Dataset. If not infinite, it returns io.EOF at the end of the dataset.
//
// It returns `spec==nil` always. It can be called concurrently.
func (ds *Dataset) Yield() (spec any, inputs, labels []*tensors.Tensor, err error) {
	_, inputs, labels, err = ds.YieldExamples()
	return
}

// YieldExamples is like Yield, but also returns the examples in the batch. There may be fewer examples
// than rows in the batch, at the end of a finite dataset.
func (ds *Dataset) YieldExamples() (examples []*Example, inputs, labels []*tensors.Tensor, err error) {
	if ds.BatchSize <= 0 {
		return nil, nil, nil, errors.Errorf("dataset %q: invalid batch size %d", ds.name, ds.BatchSize)
	}
	if len(ds.Examples) == 0 {
		return nil, nil, nil, io.EOF
	}

	// Lock only while selecting the examples for the batch.
	ds.muIndices.Lock()
	if ds.Infinite {
		examples = make([]*Example, 0, ds.BatchSize)
		for len(examples) < ds.BatchSize {
			if ds.Pos >= len(ds.Examples) {
				ds.resetLocked()
			}
			n := min(ds.BatchSize-len(examples), len(ds.Examples)-ds.Pos)
			examples = append(examples, ds.Examples[ds.Pos:ds.Pos+n]...)
			ds.Pos += n
		}
	} else {
		if ds.Pos >= len(ds.Examples) {
			ds.muIndices.Unlock()
			return nil, nil, nil, io.EOF
		}
		n := min(ds.BatchSize, len(ds.Examples)-ds.Pos)
		examples = ds.Examples[ds.Pos : ds.Pos+n]
		ds.Pos += n
	}
	ds.muIndices.Unlock()
	// From now on ds is immutable, and it can be run concurrently.

	inputs, labels, err = ds.Batch(examples)
	return
}

// Batch builds the input and label tensors for the given examples, padded to BatchSize rows.
func (ds *Dataset) Batch(examples []*Example) (inputs, labels []*tensors.Tensor, err error) {
	batchSize := max(ds.BatchSize, len(examples))
	numWords := 1
	for _, ex := range examples {
		numWords = max(numWords, ex.NumWords())
	}
	numWords = roundUp(numWords, ds.BucketSize)
	maxWordLen := max(ds.MaxWordLen, 1)

	words := make([]int32, batchSize*numWords)
	chars := make([]int32, batchSize*numWords*maxWordLen)
	charLengths := make([]int32, batchSize*numWords)
	lengths := make([]int32, batchSize)
	tags := make([]int32, batchSize*numWords)
	relations := make([]int32, batchSize*numWords*numWords)
	mask := make([]bool, batchSize*numWords)
	var contextual []float32
	var contextualDim int
	if ds.Contextual != nil {
		contextualDim = ds.Contextual.Dim()
		contextual = make([]float32, batchSize*numWords*contextualDim)
	}

	for row, ex := range examples {
		n := ex.NumWords()
		lengths[row] = int32(n)
		rowStart := row * numWords
		padInto(words[rowStart:rowStart+numWords], ex.Words)
		padInto(tags[rowStart:rowStart+numWords], ex.Tags)
		for pos, wordChars := range ex.Chars {
			wordStart := (rowStart + pos) * maxWordLen
			charLengths[rowStart+pos] = int32(padInto(chars[wordStart:wordStart+maxWordLen], wordChars))
			mask[rowStart+pos] = true
		}
		relStart := row * numWords * numWords
		for _, cell := range ex.Relations {
			relations[relStart+int(cell.Head)*numWords+int(cell.Tail)] = cell.Type
		}
		if ds.Contextual != nil {
			vectors, err := ds.Contextual.Vectors(ex.Sentence.ID)
			if err != nil {
				return nil, nil, errors.WithMessagef(err, "dataset %q", ds.name)
			}
			if len(vectors) < n {
				return nil, nil, errors.Errorf("dataset %q: sentence %q has %d words but %d contextual vectors",
					ds.name, ex.Sentence.ID, n, len(vectors))
			}
			for pos := range n {
				if len(vectors[pos]) != contextualDim {
					return nil, nil, errors.Errorf("dataset %q: sentence %q has contextual vectors of size %d, wanted %d",
						ds.name, ex.Sentence.ID, len(vectors[pos]), contextualDim)
				}
				start := (rowStart + pos) * contextualDim
				copy(contextual[start:start+contextualDim], vectors[pos])
			}
		}
	}

	inputs = []*tensors.Tensor{
		tensors.FromFlatDataAndDimensions(words, batchSize, numWords),
		tensors.FromFlatDataAndDimensions(chars, batchSize, numWords, maxWordLen),
		tensors.FromFlatDataAndDimensions(charLengths, batchSize, numWords),
		tensors.FromFlatDataAndDimensions(lengths, batchSize),
	}
	if ds.Contextual != nil {
		inputs = append(inputs, tensors.FromFlatDataAndDimensions(contextual, batchSize, numWords, contextualDim))
	}
	labels = []*tensors.Tensor{
		tensors.FromFlatDataAndDimensions(tags, batchSize, numWords),
		tensors.FromFlatDataAndDimensions(relations, batchSize, numWords, numWords),
		tensors.FromFlatDataAndDimensions(mask, batchSize, numWords),
	}
	return inputs, labels, nil
}
