// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package dataset

import (
	"slices"
	"sort"
	"strings"

	"golang.org/x/exp/constraints"
)

// Special entries of the vocabularies.
const (
	PadToken = "<PAD>"
	UnkToken = "<UNK>"

	// PadID and UnkID are the ids of PadToken and UnkToken in the word and character vocabularies.
	PadID = 0
	UnkID = 1

	// OutsideTag is the BIO tag of tokens outside any entity. It has id 0 in the tag vocabulary.
	OutsideTag = "O"

	// NoRelation is the relation class of pairs of tokens that are not related. It has id 0 in the relation vocabulary.
	NoRelation = "NONE"
)

// VocabEntry include the Token and its count.
type VocabEntry struct {
	Token string
	Count int
}

// Vocab maps tokens to contiguous ids. The first NumSpecial entries are reserved and never reordered or trimmed.
//
// Special entries are not in MapTokens: a registered token that happens to spell a special one (e.g. a corpus
// word "<PAD>") gets an id of its own.
type Vocab struct {
	ListEntries []VocabEntry
	MapTokens   map[string]int
	TotalCount  int
	NumSpecial  int
}

// NewVocab creates a vocabulary whose first entries are the given special tokens.
func NewVocab(specials ...string) *Vocab {
	v := &Vocab{
		MapTokens:  make(map[string]int),
		NumSpecial: len(specials),
	}
	for _, token := range specials {
		v.ListEntries = append(v.ListEntries, VocabEntry{token, 0})
	}
	return v
}

// RegisterToken returns the index for the token, and increments the count for the token.
func (v *Vocab) RegisterToken(token string) (idx int) {
	v.TotalCount++
	var found bool
	idx, found = v.MapTokens[token]
	if !found {
		idx = len(v.ListEntries)
		v.MapTokens[token] = idx
		v.ListEntries = append(v.ListEntries, VocabEntry{token, 1})
	} else {
		v.ListEntries[idx].Count++
	}
	return idx
}

// SortByFrequency sorts the non-special entries by decreasing count, ties broken alphabetically, so the ids
// are deterministic.
func (v *Vocab) SortByFrequency() {
	subSlice := v.ListEntries[v.NumSpecial:]
	sort.Slice(subSlice, func(i, j int) bool {
		if subSlice[i].Count != subSlice[j].Count {
			return subSlice[i].Count > subSlice[j].Count
		}
		return subSlice[i].Token < subSlice[j].Token
	})
	v.rebuildMap()
}

// SortAlphabetically sorts the non-special entries by token.
func (v *Vocab) SortAlphabetically() {
	slices.SortFunc(v.ListEntries[v.NumSpecial:], func(a, b VocabEntry) int {
		return strings.Compare(a.Token, b.Token)
	})
	v.rebuildMap()
}

// Trim removes the non-special entries seen fewer than minCount times.
func (v *Vocab) Trim(minCount int) {
	kept := v.ListEntries[:v.NumSpecial]
	for _, entry := range v.ListEntries[v.NumSpecial:] {
		if entry.Count >= minCount {
			kept = append(kept, entry)
		}
	}
	v.ListEntries = kept
	v.rebuildMap()
}

func (v *Vocab) rebuildMap() {
	v.MapTokens = make(map[string]int, len(v.ListEntries))
	for ii, entry := range v.ListEntries[v.NumSpecial:] {
		v.MapTokens[entry.Token] = v.NumSpecial + ii
	}
}

// Len returns the number of entries, including the special ones.
func (v *Vocab) Len() int { return len(v.ListEntries) }

// ID returns the id of a registered token, and whether it was found. Special entries are not looked up.
func (v *Vocab) ID(token string) (int, bool) {
	id, found := v.MapTokens[token]
	return id, found
}

// IDOrUnk returns the id of token, or UnkID if it is not in the vocabulary.
func (v *Vocab) IDOrUnk(token string) int {
	if id, found := v.MapTokens[token]; found {
		return id
	}
	return UnkID
}

// Token returns the token for the given id, or UnkToken if it is out of range.
func (v *Vocab) Token(id int) string {
	if id < 0 || id >= len(v.ListEntries) {
		return UnkToken
	}
	return v.ListEntries[id].Token
}

// Decode converts ids to their tokens.
func Decode[T constraints.Integer](v *Vocab, ids []T) []string {
	tokens := make([]string, len(ids))
	for ii, id := range ids {
		tokens[ii] = v.Token(int(id))
	}
	return tokens
}

// Vocabularies holds all the vocabularies used to encode sentences.
type Vocabularies struct {
	Words, Chars, Tags, Relations *Vocab

	// Lowercase words before looking them up. Characters keep their case.
	Lowercase bool
}

// BuildVocabularies builds the vocabularies from a (training) corpus.
//
// Words seen fewer than minWordFreq times are left out, and will be encoded as UnkID. Tags are the BIO tags
// of all entity types, and relations include NoRelation at id 0.
func BuildVocabularies(sentences []*Sentence, minWordFreq int, lowercase bool) *Vocabularies {
	vocabs := &Vocabularies{
		Words:     NewVocab(PadToken, UnkToken),
		Chars:     NewVocab(PadToken, UnkToken),
		Tags:      NewVocab(OutsideTag),
		Relations: NewVocab(NoRelation),
		Lowercase: lowercase,
	}
	entityTypes := NewVocab()
	for _, s := range sentences {
		for _, token := range s.Tokens {
			vocabs.Words.RegisterToken(vocabs.Normalize(token))
			for _, r := range token {
				vocabs.Chars.RegisterToken(string(r))
			}
		}
		for _, e := range s.Entities {
			entityTypes.RegisterToken(e.Type)
		}
		for _, r := range s.Relations {
			vocabs.Relations.RegisterToken(r.Type)
		}
	}
	vocabs.Words.SortByFrequency()
	if minWordFreq > 1 {
		vocabs.Words.Trim(minWordFreq)
	}
	vocabs.Chars.SortByFrequency()
	vocabs.Relations.SortAlphabetically()
	entityTypes.SortAlphabetically()
	for _, entry := range entityTypes.ListEntries {
		vocabs.Tags.RegisterToken(BeginTag(entry.Token))
		vocabs.Tags.RegisterToken(InsideTag(entry.Token))
	}
	return vocabs
}

// Normalize returns the form of the word used in the word vocabulary.
func (vocabs *Vocabularies) Normalize(word string) string {
	if vocabs.Lowercase {
		return strings.ToLower(word)
	}
	return word
}

// WordID returns the id of a word, or UnkID if unknown.
func (vocabs *Vocabularies) WordID(word string) int {
	return vocabs.Words.IDOrUnk(vocabs.Normalize(word))
}

// EntityTypes returns the entity types, in the order of their tags.
func (vocabs *Vocabularies) EntityTypes() []string {
	var types []string
	for _, entry := range vocabs.Tags.ListEntries[vocabs.Tags.NumSpecial:] {
		if entityType, isBegin := strings.CutPrefix(entry.Token, "B-"); isBegin {
			types = append(types, entityType)
		}
	}
	return types
}

// BeginTag returns the BIO tag for the first token of an entity of the given type.
func BeginTag(entityType string) string { return "B-" + entityType }

// InsideTag returns the BIO tag for the following tokens of an entity of the given type.
func InsideTag(entityType string) string { return "I-" + entityType }
