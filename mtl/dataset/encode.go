// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package dataset

import "golang.org/x/exp/constraints"

// RelationCell is a non-zero entry of the relation matrix of a sentence: the relation Type between the entity
// ending at word Head and the entity ending at word Tail.
type RelationCell struct {
	Head, Tail, Type int32
}

// Example is a sentence encoded with the vocabularies.
type Example struct {
	Sentence *Sentence

	Words []int32

	// Chars holds the (untruncated) character ids of each word.
	Chars [][]int32

	// Tags holds the BIO tag ids of each word.
	Tags []int32

	// Relations holds the non-zero entries of the [numWords, numWords] relation matrix.
	Relations []RelationCell
}

// NumWords in the sentence.
func (ex *Example) NumWords() int { return len(ex.Words) }

// Encode converts a sentence to ids.
//
// Unknown words and characters are mapped to UnkID. Entities and relations whose types are not in the
// vocabularies are left out (tagged OutsideTag and NoRelation).
//
// A relation is placed at the cell [end of head entity, end of tail entity]. If two relations fall in the same
// cell, the last one in the sentence is kept.
func Encode(s *Sentence, vocabs *Vocabularies) *Example {
	numWords := len(s.Tokens)
	ex := &Example{
		Sentence: s,
		Words:    make([]int32, numWords),
		Chars:    make([][]int32, numWords),
		Tags:     make([]int32, numWords),
	}
	for pos, token := range s.Tokens {
		ex.Words[pos] = int32(vocabs.WordID(token))
		runes := []rune(token)
		ex.Chars[pos] = make([]int32, len(runes))
		for ii, r := range runes {
			ex.Chars[pos][ii] = int32(vocabs.Chars.IDOrUnk(string(r)))
		}
	}

	known := make([]bool, len(s.Entities))
	for entityIdx, e := range s.Entities {
		beginID, foundBegin := vocabs.Tags.ID(BeginTag(e.Type))
		insideID, foundInside := vocabs.Tags.ID(InsideTag(e.Type))
		if !foundBegin || !foundInside {
			continue
		}
		known[entityIdx] = true
		ex.Tags[e.Start] = int32(beginID)
		for pos := e.Start + 1; pos < e.End; pos++ {
			ex.Tags[pos] = int32(insideID)
		}
	}

	cells := make(map[[2]int32]int)
	for _, r := range s.Relations {
		relID, found := vocabs.Relations.ID(r.Type)
		if !found || relID == 0 || !known[r.Head] || !known[r.Tail] {
			continue
		}
		key := [2]int32{int32(s.Entities[r.Head].End - 1), int32(s.Entities[r.Tail].End - 1)}
		if idx, dup := cells[key]; dup {
			ex.Relations[idx].Type = int32(relID)
			continue
		}
		cells[key] = len(ex.Relations)
		ex.Relations = append(ex.Relations, RelationCell{Head: key[0], Tail: key[1], Type: int32(relID)})
	}
	return ex
}

// EncodeAll encodes all sentences.
func EncodeAll(sentences []*Sentence, vocabs *Vocabularies) []*Example {
	examples := make([]*Example, len(sentences))
	for ii, s := range sentences {
		examples[ii] = Encode(s, vocabs)
	}
	return examples
}

// padInto copies src into the start of dst, truncating if needed, and zeroes (PadID) the rest.
// It returns the number of elements copied.
func padInto[T constraints.Integer](dst, src []T) int {
	n := copy(dst, src)
	clear(dst[n:])
	return n
}

// roundUp rounds n up to a multiple of base. Non-positive base leaves n unchanged.
func roundUp[T constraints.Integer](n, base T) T {
	if base <= 0 || n%base == 0 {
		return n
	}
	return (n/base + 1) * base
}
