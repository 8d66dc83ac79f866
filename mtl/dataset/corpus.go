// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package dataset loads corpora annotated with entities and relations, builds their vocabularies and
// yields padded batches for the multi-task model.
//
// The corpus format is JSON lines, one sentence per line:
//
//	{"id": "s1", "tokens": ["John", "lives", "in", "New", "York"],
//	 "entities": [{"start": 0, "end": 1, "type": "PER"}, {"start": 3, "end": 5, "type": "LOC"}],
//	 "relations": [{"head": 0, "tail": 1, "type": "lives_in"}]}
//
// Entity spans are token offsets with "end" exclusive. Relation "head" and "tail" index into "entities".
package dataset

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/gomlx/gomlx/pkg/support/fsutil"
	"github.com/pkg/errors"
)

// Entity is a typed span of tokens, from Start (inclusive) to End (exclusive).
type Entity struct {
	Start int    `json:"start"`
	End   int    `json:"end"`
	Type  string `json:"type"`
}

// Relation is a typed, directed relation between two entities, given by their index in Sentence.Entities.
type Relation struct {
	Head int    `json:"head"`
	Tail int    `json:"tail"`
	Type string `json:"type"`
}

// Sentence is one annotated example of the corpus.
type Sentence struct {
	ID        string     `json:"id"`
	Tokens    []string   `json:"tokens"`
	Entities  []Entity   `json:"entities"`
	Relations []Relation `json:"relations"`
}

// Validate checks that entity spans are within the sentence and don't overlap, and that relations refer
// to existing entities.
func (s *Sentence) Validate() error {
	if len(s.Tokens) == 0 {
		return errors.Errorf("sentence %q has no tokens", s.ID)
	}
	covered := make([]int, len(s.Tokens))
	for ii := range covered {
		covered[ii] = -1
	}
	for entityIdx, e := range s.Entities {
		if e.Start < 0 || e.End > len(s.Tokens) || e.Start >= e.End {
			return errors.Errorf("sentence %q: entity #%d has invalid span [%d, %d) for %d tokens",
				s.ID, entityIdx, e.Start, e.End, len(s.Tokens))
		}
		if e.Type == "" {
			return errors.Errorf("sentence %q: entity #%d has no type", s.ID, entityIdx)
		}
		for pos := e.Start; pos < e.End; pos++ {
			if covered[pos] >= 0 {
				return errors.Errorf("sentence %q: entities #%d and #%d overlap at token %d",
					s.ID, covered[pos], entityIdx, pos)
			}
			covered[pos] = entityIdx
		}
	}
	for relIdx, r := range s.Relations {
		if r.Head < 0 || r.Head >= len(s.Entities) || r.Tail < 0 || r.Tail >= len(s.Entities) {
			return errors.Errorf("sentence %q: relation #%d refers to entities (%d, %d), but there are only %d entities",
				s.ID, relIdx, r.Head, r.Tail, len(s.Entities))
		}
		if r.Type == "" {
			return errors.Errorf("sentence %q: relation #%d has no type", s.ID, relIdx)
		}
	}
	return nil
}

// String returns the tokens of the sentence with entities in brackets.
func (s *Sentence) String() string {
	parts := make([]string, 0, len(s.Tokens))
	starts := make(map[int]Entity, len(s.Entities))
	for _, e := range s.Entities {
		starts[e.Start] = e
	}
	for pos := 0; pos < len(s.Tokens); {
		if e, found := starts[pos]; found {
			parts = append(parts, fmt.Sprintf("[%s]%s", strings.Join(s.Tokens[e.Start:e.End], " "), e.Type))
			pos = e.End
			continue
		}
		parts = append(parts, s.Tokens[pos])
		pos++
	}
	return strings.Join(parts, " ")
}

// ReadCorpus parses a JSON lines corpus. Empty lines are skipped, and sentences without an ID are given
// one based on their line number.
func ReadCorpus(r io.Reader, name string) ([]*Sentence, error) {
	var sentences []*Sentence
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		s := &Sentence{}
		if err := json.Unmarshal([]byte(line), s); err != nil {
			return nil, errors.Wrapf(err, "%s:%d: failed to parse sentence", name, lineNum)
		}
		if s.ID == "" {
			s.ID = fmt.Sprintf("%s:%d", name, lineNum)
		}
		if err := s.Validate(); err != nil {
			return nil, errors.WithMessagef(err, "%s:%d", name, lineNum)
		}
		sentences = append(sentences, s)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "failed reading %s", name)
	}
	return sentences, nil
}

// LoadCorpus reads a JSON lines corpus file. "~" in the path is expanded to the home directory.
func LoadCorpus(filePath string) ([]*Sentence, error) {
	filePath, err := fsutil.ReplaceTildeInDir(filePath)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open corpus %q", filePath)
	}
	defer func() { _ = f.Close() }()
	return ReadCorpus(f, filePath)
}
