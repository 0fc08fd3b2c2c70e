/*
 * This file is part of Loqa (https://github.com/loqalabs/loqa).
 * Copyright (C) 2025 Loqa Labs
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program. If not, see <https://www.gnu.org/licenses/>.
 */

// Package spajson tokenizes the relaxed JSON dialect used by the host framework for
// module arguments and property values: keys and values may be bare words, '=' may
// replace ':', and commas between items are optional.
package spajson

import (
	"fmt"
	"strings"
)

// Kind classifies a token.
type Kind int

const (
	KindEOF Kind = iota
	KindString
	KindObjectStart
	KindObjectEnd
	KindArrayStart
	KindArrayEnd
)

// Tokenizer walks a relaxed JSON document token by token.
type Tokenizer struct {
	src string
	pos int
}

// NewTokenizer returns a tokenizer over s.
func NewTokenizer(s string) *Tokenizer {
	return &Tokenizer{src: s}
}

func isSeparator(c byte) bool {
	switch c {
	case ' ', '\t', '\n', '\r', ',', ':', '=':
		return true
	}
	return false
}

func isDelimiter(c byte) bool {
	return isSeparator(c) || c == '{' || c == '}' || c == '[' || c == ']' || c == '"'
}

func (t *Tokenizer) skip() {
	for t.pos < len(t.src) {
		c := t.src[t.pos]
		if c == '#' {
			for t.pos < len(t.src) && t.src[t.pos] != '\n' {
				t.pos++
			}
			continue
		}
		if !isSeparator(c) {
			return
		}
		t.pos++
	}
}

// Next returns the next token. Container delimiters carry no text.
func (t *Tokenizer) Next() (Kind, string, error) {
	t.skip()
	if t.pos >= len(t.src) {
		return KindEOF, "", nil
	}
	switch c := t.src[t.pos]; c {
	case '{':
		t.pos++
		return KindObjectStart, "", nil
	case '}':
		t.pos++
		return KindObjectEnd, "", nil
	case '[':
		t.pos++
		return KindArrayStart, "", nil
	case ']':
		t.pos++
		return KindArrayEnd, "", nil
	case '"':
		return t.quoted()
	}
	start := t.pos
	for t.pos < len(t.src) && !isDelimiter(t.src[t.pos]) {
		t.pos++
	}
	return KindString, t.src[start:t.pos], nil
}

func (t *Tokenizer) quoted() (Kind, string, error) {
	var b strings.Builder
	t.pos++
	for t.pos < len(t.src) {
		c := t.src[t.pos]
		switch c {
		case '"':
			t.pos++
			return KindString, b.String(), nil
		case '\\':
			if t.pos+1 >= len(t.src) {
				return KindEOF, "", fmt.Errorf("unterminated escape at offset %d", t.pos)
			}
			t.pos++
			switch e := t.src[t.pos]; e {
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			default:
				b.WriteByte(e)
			}
		default:
			b.WriteByte(c)
		}
		t.pos++
	}
	return KindEOF, "", fmt.Errorf("unterminated string starting before offset %d", t.pos)
}

// Container returns the raw text of the container whose opening delimiter has just been
// consumed, including both delimiters, and advances past it.
func (t *Tokenizer) Container(open Kind) (string, error) {
	if open != KindObjectStart && open != KindArrayStart {
		return "", fmt.Errorf("not a container: %d", open)
	}
	start := t.pos - 1
	depth := 1
	for depth > 0 {
		kind, _, err := t.Next()
		if err != nil {
			return "", err
		}
		switch kind {
		case KindEOF:
			return "", fmt.Errorf("unterminated container starting at offset %d", start)
		case KindObjectStart, KindArrayStart:
			depth++
		case KindObjectEnd, KindArrayEnd:
			depth--
		}
	}
	return t.src[start:t.pos], nil
}

// Pair is one key/value entry of an object. Nested containers are kept as raw text.
type Pair struct {
	Key   string
	Value string
}

// ParseObject parses an object with or without its enclosing braces.
func ParseObject(s string) ([]Pair, error) {
	t := NewTokenizer(s)
	var pairs []Pair
	braced := false
	for {
		kind, key, err := t.Next()
		if err != nil {
			return nil, err
		}
		switch kind {
		case KindEOF:
			return pairs, nil
		case KindObjectStart:
			if braced || len(pairs) > 0 {
				return nil, fmt.Errorf("unexpected '{' at offset %d", t.pos-1)
			}
			braced = true
			continue
		case KindObjectEnd:
			if !braced {
				return nil, fmt.Errorf("unexpected '}' at offset %d", t.pos-1)
			}
			return pairs, nil
		case KindString:
		default:
			return nil, fmt.Errorf("expected key at offset %d", t.pos)
		}

		vkind, value, err := t.Next()
		if err != nil {
			return nil, err
		}
		switch vkind {
		case KindString:
		case KindObjectStart, KindArrayStart:
			if value, err = t.Container(vkind); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("missing value for key %q", key)
		}
		pairs = append(pairs, Pair{Key: key, Value: value})
	}
}

// ParseArray returns the string items of an array. A value without brackets is read as a
// bare list. Nested containers are skipped.
func ParseArray(s string) ([]string, error) {
	t := NewTokenizer(s)
	var items []string
	bracketed := false
	for {
		kind, v, err := t.Next()
		if err != nil {
			return nil, err
		}
		switch kind {
		case KindEOF:
			return items, nil
		case KindArrayStart:
			if !bracketed && len(items) == 0 {
				bracketed = true
				continue
			}
			if _, err := t.Container(kind); err != nil {
				return nil, err
			}
		case KindObjectStart:
			if _, err := t.Container(kind); err != nil {
				return nil, err
			}
		case KindArrayEnd:
			return items, nil
		case KindString:
			items = append(items, v)
		default:
			return nil, fmt.Errorf("unexpected token at offset %d", t.pos)
		}
	}
}
