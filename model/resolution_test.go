package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/converge-vcs/converge/objectid"
)

func TestResolutionDecisionUntaggedWire(t *testing.T) {
	idx := IndexDecision(2)
	b, err := json.Marshal(idx)
	require.NoError(t, err)
	require.Equal(t, "2", string(b))

	var decoded ResolutionDecision
	require.NoError(t, json.Unmarshal(b, &decoded))
	require.Equal(t, idx, decoded)

	key := KeyDecision(VariantKey{SourceTag: "pub-1", Kind: File{Blob: objectid.Of([]byte("x")), Mode: 0o644, Size: 1}})
	b, err = json.Marshal(key)
	require.NoError(t, err)
	require.Contains(t, string(b), `"source":"pub-1"`)

	var decodedKey ResolutionDecision
	require.NoError(t, json.Unmarshal(b, &decodedKey))
	require.Equal(t, key, decodedKey)
}

func TestVariantKeyEqualIgnoresOrdering(t *testing.T) {
	// Two variants built in different field-set orders but same content
	// must compare equal: the key is a function of content, not position.
	blob := objectid.Of([]byte("two\n"))
	v1 := SuperpositionVariant{SourceTag: "pub-2", Kind: File{Blob: blob, Mode: 0o100644, Size: 4}}
	v2 := SuperpositionVariant{Kind: File{Size: 4, Mode: 0o100644, Blob: blob}, SourceTag: "pub-2"}
	require.True(t, v1.Key().Equal(v2.Key()))

	other := SuperpositionVariant{SourceTag: "pub-1", Kind: File{Blob: blob, Mode: 0o100644, Size: 4}}
	require.False(t, v1.Key().Equal(other.Key()))
}

func TestVariantKeyDistinguishesTombstone(t *testing.T) {
	a := VariantKey{SourceTag: "pub-1", Kind: Tombstone{}}
	b := VariantKey{SourceTag: "pub-1", Kind: Symlink{Target: ""}}
	require.False(t, a.Equal(b))
}
