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

package spajson

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenizer(t *testing.T) {
	tok := NewTokenizer(`{ key = "a b" list: [1, 2] } # trailing`)

	want := []struct {
		kind Kind
		text string
	}{
		{KindObjectStart, ""},
		{KindString, "key"},
		{KindString, "a b"},
		{KindString, "list"},
		{KindArrayStart, ""},
		{KindString, "1"},
		{KindString, "2"},
		{KindArrayEnd, ""},
		{KindObjectEnd, ""},
		{KindEOF, ""},
	}
	for _, w := range want {
		kind, text, err := tok.Next()
		require.NoError(t, err)
		assert.Equal(t, w.kind, kind)
		assert.Equal(t, w.text, text)
	}
}

func TestTokenizerErrors(t *testing.T) {
	_, _, err := NewTokenizer(`"unterminated`).Next()
	assert.Error(t, err)

	_, _, err = NewTokenizer(`"bad escape\`).Next()
	assert.Error(t, err)

	tok := NewTokenizer(`[ 1 2`)
	kind, _, err := tok.Next()
	require.NoError(t, err)
	_, err = tok.Container(kind)
	assert.Error(t, err)

	_, err = NewTokenizer("x").Container(KindString)
	assert.Error(t, err)
}

func TestParseObject(t *testing.T) {
	t.Run("braced", func(t *testing.T) {
		pairs, err := ParseObject(`{ media.class = Audio/Sink, node.name: "pal sink" }`)
		require.NoError(t, err)
		assert.Equal(t, []Pair{
			{Key: "media.class", Value: "Audio/Sink"},
			{Key: "node.name", Value: "pal sink"},
		}, pairs)
	})

	t.Run("bare", func(t *testing.T) {
		pairs, err := ParseObject(`audio.rate = 44100 audio.channels = 2`)
		require.NoError(t, err)
		assert.Len(t, pairs, 2)
	})

	t.Run("nested_containers_kept_raw", func(t *testing.T) {
		pairs, err := ParseObject(`{ stream.props = { audio.position = [ FL FR ] } audio.position = [ MONO ] }`)
		require.NoError(t, err)
		assert.Equal(t, []Pair{
			{Key: "stream.props", Value: "{ audio.position = [ FL FR ] }"},
			{Key: "audio.position", Value: "[ MONO ]"},
		}, pairs)
	})

	t.Run("comments", func(t *testing.T) {
		pairs, err := ParseObject("{\n # comment\n a = b\n}")
		require.NoError(t, err)
		assert.Equal(t, []Pair{{Key: "a", Value: "b"}}, pairs)
	})

	t.Run("empty", func(t *testing.T) {
		pairs, err := ParseObject("")
		require.NoError(t, err)
		assert.Empty(t, pairs)
	})

	t.Run("errors", func(t *testing.T) {
		for _, s := range []string{`{ a = }`, `a = b }`, `{ [ ] }`, `{ a }`} {
			_, err := ParseObject(s)
			assert.Error(t, err, s)
		}
	})
}

func TestParseArray(t *testing.T) {
	items, err := ParseArray(`[ FL, FR "RL" ]`)
	require.NoError(t, err)
	assert.Equal(t, []string{"FL", "FR", "RL"}, items)

	items, err = ParseArray(`FL FR`)
	require.NoError(t, err)
	assert.Equal(t, []string{"FL", "FR"}, items)

	items, err = ParseArray(`[ ]`)
	require.NoError(t, err)
	assert.Empty(t, items)
}
