// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package dataset

import (
	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"github.com/gomlx/gomlx/pkg/support/xslices"
)

// Columns of the DataFrame returned by Summary.
const (
	SummaryKindCol  = "kind"
	SummaryTypeCol  = "type"
	SummaryCountCol = "count"
	SummaryWordsCol = "mean_words"
)

// Values of the SummaryKindCol column.
const (
	KindEntity   = "entity"
	KindRelation = "relation"
)

// Summary returns one row per entity type and relation type found in the sentences, with their counts.
// For entities, SummaryWordsCol is the mean number of words per entity. For relations, it is the mean
// number of words between the end of the head entity and the end of the tail entity.
//
// Rows are sorted by kind and then by decreasing count.
func Summary(sentences []*Sentence) dataframe.DataFrame {
	type stats struct {
		count int
		words int
	}
	entities := make(map[string]*stats)
	relations := make(map[string]*stats)
	add := func(m map[string]*stats, key string, words int) {
		s, found := m[key]
		if !found {
			s = &stats{}
			m[key] = s
		}
		s.count++
		s.words += words
	}
	for _, sentence := range sentences {
		for _, e := range sentence.Entities {
			add(entities, e.Type, e.End-e.Start)
		}
		for _, r := range sentence.Relations {
			distance := sentence.Entities[r.Tail].End - sentence.Entities[r.Head].End
			add(relations, r.Type, max(distance, -distance))
		}
	}

	var kinds, types []string
	var counts []int
	var meanWords []float64
	for _, group := range []struct {
		kind string
		m    map[string]*stats
	}{{KindEntity, entities}, {KindRelation, relations}} {
		for _, key := range xslices.SortedKeys(group.m) {
			s := group.m[key]
			kinds = append(kinds, group.kind)
			types = append(types, key)
			counts = append(counts, s.count)
			meanWords = append(meanWords, float64(s.words)/float64(s.count))
		}
	}
	df := dataframe.New(
		series.New(kinds, series.String, SummaryKindCol),
		series.New(types, series.String, SummaryTypeCol),
		series.New(counts, series.Int, SummaryCountCol),
		series.New(meanWords, series.Float, SummaryWordsCol),
	)
	if df.Nrow() == 0 {
		return df
	}
	return df.Arrange(dataframe.Sort(SummaryKindCol), dataframe.RevSort(SummaryCountCol))
}

// CountType returns the count of the given kind and type in a DataFrame returned by Summary, or 0 if not present.
func CountType(summary dataframe.DataFrame, kind, typeName string) int {
	if summary.Nrow() == 0 {
		return 0
	}
	filtered := summary.
		Filter(dataframe.F{Colname: SummaryKindCol, Comparator: series.Eq, Comparando: kind}).
		Filter(dataframe.F{Colname: SummaryTypeCol, Comparator: series.Eq, Comparando: typeName})
	if filtered.Nrow() == 0 {
		return 0
	}
	counts, err := filtered.Col(SummaryCountCol).Int()
	if err != nil {
		return 0
	}
	return counts[0]
}
