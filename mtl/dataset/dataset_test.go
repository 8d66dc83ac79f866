// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package dataset

import (
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testCorpus = `
{"id": "s1", "tokens": ["John", "lives", "in", "New", "York"], "entities": [{"start": 0, "end": 1, "type": "PER"}, {"start": 3, "end": 5, "type": "LOC"}], "relations": [{"head": 0, "tail": 1, "type": "lives_in"}]}

{"tokens": ["Mary", "works", "for", "Acme", "in", "Paris"], "entities": [{"start": 0, "end": 1, "type": "PER"}, {"start": 3, "end": 4, "type": "ORG"}, {"start": 5, "end": 6, "type": "LOC"}], "relations": [{"head": 0, "tail": 1, "type": "works_for"}, {"head": 1, "tail": 2, "type": "located_in"}]}
{"id": "s3", "tokens": ["Nothing", "here"]}
`

func loadTestCorpus(t *testing.T) []*Sentence {
	sentences, err := ReadCorpus(strings.NewReader(testCorpus), "test")
	require.NoError(t, err)
	require.Len(t, sentences, 3)
	return sentences
}

func TestReadCorpus(t *testing.T) {
	sentences := loadTestCorpus(t)
	assert.Equal(t, "s1", sentences[0].ID)
	assert.Equal(t, "test:4", sentences[1].ID)
	assert.Equal(t, "[John]PER lives in [New York]LOC", sentences[0].String())
	assert.Empty(t, sentences[2].Entities)

	// Written to a file.
	filePath := filepath.Join(t.TempDir(), "corpus.jsonl")
	require.NoError(t, os.WriteFile(filePath, []byte(testCorpus), 0o644))
	fromFile, err := LoadCorpus(filePath)
	require.NoError(t, err)
	assert.Len(t, fromFile, 3)

	_, err = LoadCorpus(filepath.Join(t.TempDir(), "missing.jsonl"))
	require.Error(t, err)
}

func TestReadCorpusInvalid(t *testing.T) {
	for name, line := range map[string]string{
		"json":          `{"tokens": [`,
		"empty":         `{"tokens": []}`,
		"span":          `{"tokens": ["a"], "entities": [{"start": 0, "end": 2, "type": "X"}]}`,
		"overlap":       `{"tokens": ["a", "b"], "entities": [{"start": 0, "end": 2, "type": "X"}, {"start": 1, "end": 2, "type": "Y"}]}`,
		"no type":       `{"tokens": ["a"], "entities": [{"start": 0, "end": 1}]}`,
		"relation":      `{"tokens": ["a"], "entities": [{"start": 0, "end": 1, "type": "X"}], "relations": [{"head": 0, "tail": 1, "type": "R"}]}`,
		"relation type": `{"tokens": ["a"], "entities": [{"start": 0, "end": 1, "type": "X"}], "relations": [{"head": 0, "tail": 0}]}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ReadCorpus(strings.NewReader(line), "bad")
			require.Error(t, err)
			assert.Contains(t, err.Error(), "bad:1")
		})
	}
}

func TestVocabularies(t *testing.T) {
	sentences := loadTestCorpus(t)
	vocabs := BuildVocabularies(sentences, 1, true)

	assert.Equal(t, PadToken, vocabs.Words.Token(PadID))
	assert.Equal(t, UnkToken, vocabs.Words.Token(UnkID))
	assert.Equal(t, "in", vocabs.Words.Token(2), "most frequent word should come first")
	assert.Equal(t, UnkID, vocabs.WordID("never-seen"))
	assert.Equal(t, vocabs.WordID("john"), vocabs.WordID("John"), "lowercase lookup")
	assert.Equal(t, PadToken, vocabs.Chars.Token(PadID))

	assert.Equal(t, []string{"O", "B-LOC", "I-LOC", "B-ORG", "I-ORG", "B-PER", "I-PER"},
		Decode(vocabs.Tags, []int{0, 1, 2, 3, 4, 5, 6}))
	assert.Equal(t, []string{"LOC", "ORG", "PER"}, vocabs.EntityTypes())
	assert.Equal(t, []string{NoRelation, "lives_in", "located_in", "works_for"},
		Decode(vocabs.Relations, []int32{0, 1, 2, 3}))

	// Words seen only once are trimmed.
	trimmed := BuildVocabularies(sentences, 2, true)
	assert.Equal(t, 3, trimmed.Words.Len())
	assert.Equal(t, UnkID, trimmed.WordID("John"))
}

func TestVocabulariesReserveSpecials(t *testing.T) {
	sentences := []*Sentence{{ID: "a", Tokens: []string{"<PAD>", "<UNK>", "x"},
		Entities:  []Entity{{0, 1, "PER"}, {2, 3, "PER"}},
		Relations: []Relation{{0, 1, NoRelation}}}}
	vocabs := BuildVocabularies(sentences, 1, false)
	assert.Equal(t, 5, vocabs.Words.Len())
	assert.Equal(t, PadToken, vocabs.Words.Token(PadID))
	assert.Equal(t, UnkToken, vocabs.Words.Token(UnkID))
	padWord, unkWord := vocabs.WordID(PadToken), vocabs.WordID(UnkToken)
	assert.Greater(t, padWord, UnkID, "a corpus word spelled like PAD is a regular word")
	assert.Greater(t, unkWord, UnkID)
	assert.NotEqual(t, padWord, unkWord)
	assert.Equal(t, PadToken, vocabs.Words.Token(padWord))

	relID, found := vocabs.Relations.ID(NoRelation)
	require.True(t, found)
	assert.Equal(t, 1, relID, "a relation type spelled like the no-relation class gets its own id")
	assert.Equal(t, 2, vocabs.Relations.Len())

	ex := Encode(sentences[0], vocabs)
	assert.Equal(t, []int32{int32(padWord), int32(unkWord), int32(vocabs.WordID("x"))}, ex.Words)
	assert.NotContains(t, ex.Words, int32(PadID))
	assert.Equal(t, []RelationCell{{Head: 0, Tail: 2, Type: 1}}, ex.Relations)
}

func TestEncode(t *testing.T) {
	sentences := loadTestCorpus(t)
	vocabs := BuildVocabularies(sentences, 1, false)
	ex := Encode(sentences[0], vocabs)
	assert.Equal(t, 5, ex.NumWords())
	assert.Equal(t, []string{"B-PER", "O", "O", "B-LOC", "I-LOC"}, Decode(vocabs.Tags, ex.Tags))
	assert.Len(t, ex.Chars[3], 3)
	livesIn, _ := vocabs.Relations.ID("lives_in")
	assert.Equal(t, []RelationCell{{Head: 0, Tail: 4, Type: int32(livesIn)}}, ex.Relations)

	// Entity types unknown to the vocabularies are tagged as outside.
	other := &Sentence{ID: "x", Tokens: []string{"Zed", "Corp"},
		Entities:  []Entity{{0, 1, "PER"}, {1, 2, "COMPANY"}},
		Relations: []Relation{{0, 1, "works_for"}}}
	ex = Encode(other, vocabs)
	assert.Equal(t, []string{"B-PER", "O"}, Decode(vocabs.Tags, ex.Tags))
	assert.Empty(t, ex.Relations)
	assert.Equal(t, []int32{UnkID, UnkID}, ex.Words)
}

func TestDatasetYield(t *testing.T) {
	sentences := loadTestCorpus(t)
	vocabs := BuildVocabularies(sentences, 1, false)
	ds := NewDataset("test", sentences, vocabs, 2).WithBucketSize(4).WithMaxWordLen(3)

	examples, inputs, labels, err := ds.YieldExamples()
	require.NoError(t, err)
	require.Len(t, examples, 2)
	require.Len(t, inputs, InputLengths+1)
	require.Len(t, labels, LabelMask+1)
	// Longest sentence has 6 words, rounded up to 8.
	assert.Equal(t, []int{2, 8}, inputs[InputWords].Shape().Dimensions)
	assert.Equal(t, []int{2, 8, 3}, inputs[InputChars].Shape().Dimensions)
	assert.Equal(t, []int{2, 8, 8}, labels[LabelRelations].Shape().Dimensions)
	assert.Equal(t, []int32{5, 6}, tensors.MustCopyFlatData[int32](inputs[InputLengths]))

	charLengths := tensors.MustCopyFlatData[int32](inputs[InputCharLengths])
	assert.Equal(t, []int32{3, 3, 2, 3, 3, 0, 0, 0}, charLengths[:8], "words truncated to 3 characters")
	mask := tensors.MustCopyFlatData[bool](labels[LabelMask])
	assert.Equal(t, []bool{true, true, true, true, true, false, false, false}, mask[:8])

	relations := tensors.MustCopyFlatData[int32](labels[LabelRelations])
	livesIn, _ := vocabs.Relations.ID("lives_in")
	assert.Equal(t, int32(livesIn), relations[0*8+4])

	// Last batch is completed with an empty row.
	examples, inputs, labels, err = ds.YieldExamples()
	require.NoError(t, err)
	require.Len(t, examples, 1)
	assert.Equal(t, []int{2, 4}, inputs[InputWords].Shape().Dimensions)
	assert.Equal(t, []int32{2, 0}, tensors.MustCopyFlatData[int32](inputs[InputLengths]))
	assert.Equal(t, []bool{true, true, false, false, false, false, false, false},
		tensors.MustCopyFlatData[bool](labels[LabelMask]))

	_, _, _, err = ds.Yield()
	require.ErrorIs(t, err, io.EOF)

	ds.Reset()
	_, _, _, err = ds.Yield()
	require.NoError(t, err)
}

func TestDatasetInfinite(t *testing.T) {
	sentences := loadTestCorpus(t)
	vocabs := BuildVocabularies(sentences, 1, false)
	ds := NewDataset("train", sentences, vocabs, 2).WithInfinite(true).WithShuffle(rand.New(rand.NewSource(42)))
	seen := make(map[string]int)
	for range 6 {
		examples, _, _, err := ds.YieldExamples()
		require.NoError(t, err)
		require.Len(t, examples, 2)
		for _, ex := range examples {
			seen[ex.Sentence.ID]++
		}
	}
	// 12 examples drawn from 3 sentences, 4 epochs.
	assert.Len(t, seen, 3)
	for id, count := range seen {
		assert.Equal(t, 4, count, "sentence %q", id)
	}
}

type fakeContextual struct {
	dim     int
	vectors map[string][][]float32
}

func (f *fakeContextual) Dim() int { return f.dim }

func (f *fakeContextual) Vectors(id string) ([][]float32, error) {
	v, found := f.vectors[id]
	if !found {
		return nil, io.ErrUnexpectedEOF
	}
	return v, nil
}

func TestDatasetContextual(t *testing.T) {
	sentences := loadTestCorpus(t)[2:]
	vocabs := BuildVocabularies(sentences, 1, false)
	source := &fakeContextual{dim: 2, vectors: map[string][][]float32{"s3": {{1, 2}, {3, 4}}}}
	ds := NewDataset("ctx", sentences, vocabs, 1).WithBucketSize(3).WithContextual(source)
	_, inputs, _, err := ds.Yield()
	require.NoError(t, err)
	require.Len(t, inputs, InputContextual+1)
	assert.Equal(t, []float32{1, 2, 3, 4, 0, 0}, tensors.MustCopyFlatData[float32](inputs[InputContextual]))

	// Too few vectors.
	source.vectors["s3"] = [][]float32{{1, 2}}
	ds.Reset()
	_, _, _, err = ds.Yield()
	require.Error(t, err)
}

func TestSummary(t *testing.T) {
	sentences := loadTestCorpus(t)
	summary := Summary(sentences)
	assert.Equal(t, 6, summary.Nrow())
	assert.Equal(t, 2, CountType(summary, KindEntity, "PER"))
	assert.Equal(t, 2, CountType(summary, KindEntity, "LOC"))
	assert.Equal(t, 1, CountType(summary, KindRelation, "works_for"))
	assert.Equal(t, 0, CountType(summary, KindRelation, "PER"))
	assert.Equal(t, KindEntity, summary.Col(SummaryKindCol).Records()[0])

	assert.Equal(t, 0, Summary(nil).Nrow())
}
