// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package evaluate

import (
	"github.com/gomlx/gomlx/pkg/support/xslices"
)

// Counts of predicted, gold and correct items, from which precision, recall and F1 are derived.
type Counts struct {
	Predicted, Gold, Correct int
}

// Precision is Correct/Predicted, or 0 if nothing was predicted.
func (c Counts) Precision() float64 {
	if c.Predicted == 0 {
		return 0
	}
	return float64(c.Correct) / float64(c.Predicted)
}

// Recall is Correct/Gold, or 0 if there is no gold item.
func (c Counts) Recall() float64 {
	if c.Gold == 0 {
		return 0
	}
	return float64(c.Correct) / float64(c.Gold)
}

// F1 is the harmonic mean of Precision and Recall.
func (c Counts) F1() float64 {
	p, r := c.Precision(), c.Recall()
	if p+r == 0 {
		return 0
	}
	return 2 * p * r / (p + r)
}

// Scores accumulates entity and relation counts, micro-averaged over all types and per type.
//
// An entity is correct if its span and type match a gold entity. A relation is correct if its type and the
// spans and types of both entities match a gold relation.
type Scores struct {
	Sentences       int
	Entities        Counts
	Relations       Counts
	EntitiesByType  map[string]*Counts
	RelationsByType map[string]*Counts
}

// NewScores creates empty Scores.
func NewScores() *Scores {
	return &Scores{
		EntitiesByType:  make(map[string]*Counts),
		RelationsByType: make(map[string]*Counts),
	}
}

func countsFor(m map[string]*Counts, key string) *Counts {
	c, found := m[key]
	if !found {
		c = &Counts{}
		m[key] = c
	}
	return c
}

// accumulate matches predicted against gold items, counting duplicates only once.
func accumulate[T comparable](total *Counts, byType map[string]*Counts, typeOf func(T) string, gold, predicted []T) {
	goldSet := make(map[T]bool, len(gold))
	for _, item := range gold {
		if goldSet[item] {
			continue
		}
		goldSet[item] = true
		total.Gold++
		countsFor(byType, typeOf(item)).Gold++
	}
	seen := make(map[T]bool, len(predicted))
	for _, item := range predicted {
		if seen[item] {
			continue
		}
		seen[item] = true
		c := countsFor(byType, typeOf(item))
		total.Predicted++
		c.Predicted++
		if goldSet[item] {
			total.Correct++
			c.Correct++
		}
	}
}

// Add the gold and predicted entities and relations of one sentence.
func (s *Scores) Add(goldEntities, predictedEntities []Span, goldRelations, predictedRelations []Triple) {
	s.Sentences++
	accumulate(&s.Entities, s.EntitiesByType, func(span Span) string { return span.Type },
		goldEntities, predictedEntities)
	accumulate(&s.Relations, s.RelationsByType, func(t Triple) string { return t.Type },
		goldRelations, predictedRelations)
}

// EntityTypes returns the sorted entity types seen in gold or predictions.
func (s *Scores) EntityTypes() []string { return xslices.SortedKeys(s.EntitiesByType) }

// RelationTypes returns the sorted relation types seen in gold or predictions.
func (s *Scores) RelationTypes() []string { return xslices.SortedKeys(s.RelationsByType) }
