package objectid

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOfIsDeterministic(t *testing.T) {
	a := Of([]byte("hello"))
	b := Of([]byte("hello"))
	require.Equal(t, a, b)
	require.Len(t, string(a), 64)
	require.Equal(t, strings.ToLower(string(a)), string(a))
}

func TestOfDistinguishesContent(t *testing.T) {
	require.NotEqual(t, Of([]byte("one")), Of([]byte("two")))
}

func TestVerifyRoundTrip(t *testing.T) {
	id := Of([]byte("payload"))
	require.NoError(t, Verify(id, []byte("payload")))
	require.Error(t, Verify(id, []byte("tampered")))
}

func TestValid(t *testing.T) {
	require.True(t, Of([]byte("x")).Valid())
	require.False(t, ID("not-a-digest").Valid())
}
