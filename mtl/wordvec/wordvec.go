// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package wordvec loads pretrained word representations: static GloVe vectors, used to initialize the word
// embedding table, and precomputed contextual vectors (e.g. ELMo), fed to the model as an extra input.
package wordvec

import (
	"bufio"
	"io"
	"math/rand"
	"os"
	"strconv"
	"strings"

	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/core/tensors/numpy"
	"github.com/gomlx/gomlx/pkg/support/fsutil"
	"github.com/mtlnet/mtlnet/mtl/dataset"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// InitStdDev is the standard deviation of the random vectors given to words missing from the pretrained file.
const InitStdDev = 0.1

// Coverage reports how many words of the vocabulary were found in a pretrained file.
type Coverage struct {
	Found, Total int
}

// Ratio of words found.
func (c Coverage) Ratio() float64 {
	if c.Total == 0 {
		return 0
	}
	return float64(c.Found) / float64(c.Total)
}

// LoadGloVe reads a GloVe text file (one word per line followed by its values) and returns the embedding table
// for the vocabulary, shaped [vocabs.Words.Len(), dim].
//
// The PAD row is zero. Words not found in the file (including UNK) get random values drawn from rng.
// Lines whose word is not in the vocabulary are skipped without parsing their values.
func LoadGloVe(filePath string, vocabs *dataset.Vocabularies, dim int, rng *rand.Rand) (*tensors.Tensor, Coverage, error) {
	filePath, err := fsutil.ReplaceTildeInDir(filePath)
	if err != nil {
		return nil, Coverage{}, err
	}
	f, err := os.Open(filePath)
	if err != nil {
		return nil, Coverage{}, errors.Wrapf(err, "failed to open GloVe file %q", filePath)
	}
	defer func() { _ = f.Close() }()
	return ReadGloVe(f, vocabs, dim, rng)
}

// ReadGloVe is like LoadGloVe, but reads from r.
func ReadGloVe(r io.Reader, vocabs *dataset.Vocabularies, dim int, rng *rand.Rand) (*tensors.Tensor, Coverage, error) {
	if dim <= 0 {
		return nil, Coverage{}, errors.Errorf("invalid GloVe dimension %d", dim)
	}
	vocabSize := vocabs.Words.Len()
	table := make([]float32, vocabSize*dim)
	found := make([]bool, vocabSize)
	found[dataset.PadID] = true

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimRight(scanner.Text(), " \t\r")
		if line == "" {
			continue
		}
		// Some tokens contain spaces (e.g. ". . ."): the values are always the last dim fields.
		fields := strings.Split(line, " ")
		if len(fields) <= dim {
			return nil, Coverage{}, errors.Errorf("GloVe line %d has %d fields, expected a word followed by %d values",
				lineNum, len(fields), dim)
		}
		word := strings.Join(fields[:len(fields)-dim], " ")
		id, inVocab := vocabs.Words.ID(vocabs.Normalize(word))
		if !inVocab || found[id] {
			// With lowercasing, the first (usually most frequent) casing wins.
			continue
		}
		row := table[id*dim : (id+1)*dim]
		for ii, field := range fields[len(fields)-dim:] {
			v, err := strconv.ParseFloat(field, 32)
			if err != nil {
				return nil, Coverage{}, errors.Wrapf(err, "GloVe line %d: failed to parse value #%d of %q", lineNum, ii, word)
			}
			row[ii] = float32(v)
		}
		found[id] = true
	}
	if err := scanner.Err(); err != nil {
		return nil, Coverage{}, errors.Wrap(err, "failed reading GloVe file")
	}

	coverage := Coverage{Total: vocabSize - dataset.UnkID - 1}
	for id := dataset.UnkID; id < vocabSize; id++ {
		if found[id] {
			if id > dataset.UnkID {
				coverage.Found++
			}
			continue
		}
		row := table[id*dim : (id+1)*dim]
		for ii := range row {
			row[ii] = float32(rng.NormFloat64() * InitStdDev)
		}
	}
	klog.V(1).Infof("GloVe: %d of %d words found", coverage.Found, coverage.Total)
	return tensors.FromFlatDataAndDimensions(table, vocabSize, dim), coverage, nil
}

// ContextualStore holds precomputed contextual vectors for each sentence, keyed by sentence id.
// It implements dataset.ContextualSource.
type ContextualStore struct {
	dim     int
	vectors map[string][][]float32
}

var _ dataset.ContextualSource = (*ContextualStore)(nil)

// LoadContextual reads a .npz file with one array per sentence, named after the sentence id and shaped
// [numWords, dim]. Arrays can be float32 or float64, and they must all have the same dim.
func LoadContextual(filePath string) (*ContextualStore, error) {
	filePath, err := fsutil.ReplaceTildeInDir(filePath)
	if err != nil {
		return nil, err
	}
	arrays, err := numpy.FromNpzFile(filePath)
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to load contextual vectors")
	}
	store := &ContextualStore{vectors: make(map[string][][]float32, len(arrays))}
	for id, t := range arrays {
		if t.Rank() != 2 {
			return nil, errors.Errorf("contextual vectors for %q should be shaped [numWords, dim], got %s", id, t.Shape())
		}
		numWords, dim := t.Shape().Dim(0), t.Shape().Dim(1)
		if store.dim == 0 {
			store.dim = dim
		} else if dim != store.dim {
			return nil, errors.Errorf("contextual vectors for %q have dim %d, others have %d", id, dim, store.dim)
		}
		var flat []float32
		switch t.DType() {
		case dtypes.Float32:
			flat = tensors.MustCopyFlatData[float32](t)
		case dtypes.Float64:
			flat64 := tensors.MustCopyFlatData[float64](t)
			flat = make([]float32, len(flat64))
			for ii, v := range flat64 {
				flat[ii] = float32(v)
			}
		default:
			return nil, errors.Errorf("contextual vectors for %q have dtype %s, only float32 and float64 are supported", id, t.DType())
		}
		rows := make([][]float32, numWords)
		for ii := range rows {
			rows[ii] = flat[ii*dim : (ii+1)*dim]
		}
		store.vectors[id] = rows
	}
	if len(store.vectors) == 0 {
		return nil, errors.Errorf("no contextual vectors found in %q", filePath)
	}
	klog.V(1).Infof("Contextual vectors: %d sentences, dim=%d", len(store.vectors), store.dim)
	return store, nil
}

// Dim implements dataset.ContextualSource.
func (s *ContextualStore) Dim() int { return s.dim }

// Len returns the number of sentences with contextual vectors.
func (s *ContextualStore) Len() int { return len(s.vectors) }

// Vectors implements dataset.ContextualSource.
func (s *ContextualStore) Vectors(sentenceID string) ([][]float32, error) {
	rows, found := s.vectors[sentenceID]
	if !found {
		return nil, errors.Errorf("no contextual vectors for sentence %q", sentenceID)
	}
	return rows, nil
}
