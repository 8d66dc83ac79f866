// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package evaluate decodes the predictions of the multi-task model into entities and relations, and scores them
// against the gold annotations.
package evaluate

import (
	"fmt"
	"strings"

	"github.com/mtlnet/mtlnet/mtl/dataset"
)

// Span is a typed entity span, from Start (inclusive) to End (exclusive).
type Span struct {
	Start, End int
	Type       string
}

func (s Span) String() string { return fmt.Sprintf("%s[%d:%d]", s.Type, s.Start, s.End) }

// Triple is a typed relation between two entity spans.
type Triple struct {
	Head, Tail Span
	Type       string
}

func (t Triple) String() string { return fmt.Sprintf("%s(%s, %s)", t.Type, t.Head, t.Tail) }

// DecodeEntities converts BIO tags to entity spans.
//
// An "I-" tag that doesn't continue an entity of the same type starts a new entity. Tags that are neither
// "B-" nor "I-" (including "O") are outside entities.
func DecodeEntities(tags []string) []Span {
	var spans []Span
	var current *Span
	closeCurrent := func(end int) {
		if current != nil {
			current.End = end
			spans = append(spans, *current)
			current = nil
		}
	}
	for pos, tag := range tags {
		if entityType, found := strings.CutPrefix(tag, "B-"); found {
			closeCurrent(pos)
			current = &Span{Start: pos, Type: entityType}
			continue
		}
		if entityType, found := strings.CutPrefix(tag, "I-"); found {
			if current != nil && current.Type == entityType {
				continue
			}
			closeCurrent(pos)
			current = &Span{Start: pos, Type: entityType}
			continue
		}
		closeCurrent(pos)
	}
	closeCurrent(len(tags))
	return spans
}

// DecodeRelations returns the relations between the given entities.
//
// classes holds the predicted relation class of each pair of words, flat in row-major order over
// [numWords, numWords]: entry (i, j) is the relation whose head entity ends at word i and whose tail entity
// ends at word j. Class 0 is dataset.NoRelation. Pairs of an entity with itself are ignored.
func DecodeRelations[T ~int32 | ~int64 | ~int](classes []T, numWords int, entities []Span, relations *dataset.Vocab) []Triple {
	var triples []Triple
	for headIdx, head := range entities {
		for tailIdx, tail := range entities {
			if headIdx == tailIdx || head.End > numWords || tail.End > numWords {
				continue
			}
			class := int(classes[(head.End-1)*numWords+tail.End-1])
			if class == 0 {
				continue
			}
			triples = append(triples, Triple{Head: head, Tail: tail, Type: relations.Token(class)})
		}
	}
	return triples
}

// GoldEntities returns the annotated entities of a sentence.
func GoldEntities(s *dataset.Sentence) []Span {
	spans := make([]Span, len(s.Entities))
	for ii, e := range s.Entities {
		spans[ii] = Span{Start: e.Start, End: e.End, Type: e.Type}
	}
	return spans
}

// GoldRelations returns the annotated relations of a sentence.
func GoldRelations(s *dataset.Sentence) []Triple {
	entities := GoldEntities(s)
	triples := make([]Triple, len(s.Relations))
	for ii, r := range s.Relations {
		triples[ii] = Triple{Head: entities[r.Head], Tail: entities[r.Tail], Type: r.Type}
	}
	return triples
}
