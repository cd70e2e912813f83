// SPDX-License-Identifier: MIT

package encoder

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeKey(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
		err  error
	}{
		{"plain", "abcd-efgh-1234", "abcd-efgh-1234", nil},
		{"surrounding whitespace", "  abcd-efgh \n", "abcd-efgh", nil},
		{"embedded whitespace", "ab cd\tef", "abcdef", nil},
		{"stray backup marker", "backup=1/abcd", "abcd", nil},
		{"doubled backup marker", "backup=1/backup=1/abcd", "abcd", nil},
		{"empty", "   ", "", ErrEmptyKey},
		{"only markers", "backup=1/backup=1/", "", ErrEmptyKey},
		{"query chars", "abcd?x=1", "", ErrInvalidKey},
		{"ampersand", "ab&cd", "", ErrInvalidKey},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := SanitizeKey(tc.in)
			if tc.err != nil {
				assert.ErrorIs(t, err, tc.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestSanitizeKeyIdempotent(t *testing.T) {
	inputs := []string{"abcd-1234", " ab cd ", "backup=1/abcd", "x-y-z"}
	for _, in := range inputs {
		once, err := SanitizeKey(in)
		require.NoError(t, err)
		twice, err := SanitizeKey(once)
		require.NoError(t, err)
		assert.Equal(t, once, twice)
	}
}

func TestNormalizeURL(t *testing.T) {
	got, err := NormalizeURL("rtmps://b.rtmps.youtube.com/live2", "abcd-1234")
	require.NoError(t, err)
	assert.Equal(t, "rtmps://b.rtmps.youtube.com/live2?backup=1/abcd-1234", got)

	// Trailing slash and stale query are normalized away.
	got, err = NormalizeURL("rtmps://b.rtmps.youtube.com/live2/?backup=1/old-key", "abcd-1234")
	require.NoError(t, err)
	assert.Equal(t, "rtmps://b.rtmps.youtube.com/live2?backup=1/abcd-1234", got)

	_, err = NormalizeURL("rtmp://a.rtmp.youtube.com/live2", "abcd")
	assert.Error(t, err, "plain rtmp is rejected")
}

func TestNormalizeURLIdempotent(t *testing.T) {
	key := "abcd-1234"
	once, err := NormalizeURL("rtmps://b.rtmps.youtube.com/live2", key)
	require.NoError(t, err)
	twice, err := NormalizeURL(once, key)
	require.NoError(t, err)
	assert.Equal(t, once, twice)
}

func TestNormalizedURLInvariants(t *testing.T) {
	got, err := NormalizeURL("rtmps://b.rtmps.youtube.com/live2", " backup=1/ab cd ")
	require.NoError(t, err)
	assert.NotContains(t, got[strings.Index(got, "?")+1:], " ")
	assert.Equal(t, 1, strings.Count(got, "backup=1/"))
	assert.Equal(t, 1, strings.Count(got, "?"))
	require.NoError(t, ValidateTargetURL(got))
}

func TestValidateTargetURL(t *testing.T) {
	assert.NoError(t, ValidateTargetURL("rtmps://b.rtmps.youtube.com/live2?backup=1/abcd"))
	assert.Error(t, ValidateTargetURL("rtmps://a.rtmps.youtube.com/live2/abcd"),
		"primary ingest without backup marker is refused")
	assert.Error(t, ValidateTargetURL("rtmp://b.rtmps.youtube.com/live2?backup=1/abcd"))
	assert.Error(t, ValidateTargetURL("rtmps://b/live2?backup=1/backup=1/abcd"))
}

func TestMaskKey(t *testing.T) {
	assert.Equal(t, "rtmps://b/live2?backup=1/***", maskKey("rtmps://b/live2?backup=1/secret"))
	assert.Equal(t, "rtmps://b/live2", maskKey("rtmps://b/live2"))
}
