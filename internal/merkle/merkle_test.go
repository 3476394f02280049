package merkle

import (
	"testing"

	"github.com/stretchr/testify/require"

	"example.com/pharmatrace/services/provenance/internal/security"
)

func TestBuildRootEmpty(t *testing.T) {
	root := BuildRoot(security.New(""), nil)

	require.Equal(t, "", root.Root)
	require.Equal(t, 0, root.Count)
}

func TestBuildRootDeterministic(t *testing.T) {
	crypto := security.New("")
	items := []string{"h1", "h2", "h3"}

	first := BuildRoot(crypto, items)
	second := BuildRoot(crypto, items)

	require.Equal(t, first, second)
	require.Equal(t, 3, first.Count)
	require.Len(t, first.Root, 64)
}

func TestBuildRootIsOrderSensitive(t *testing.T) {
	crypto := security.New("")

	forward := BuildRoot(crypto, []string{"h1", "h2"})
	reversed := BuildRoot(crypto, []string{"h2", "h1"})

	require.NotEqual(t, forward.Root, reversed.Root)
}

func TestBuildRootMatchesConcatenatedHash(t *testing.T) {
	crypto := security.New("")

	root := BuildRoot(crypto, []string{"h1", "h2"})
	require.Equal(t, crypto.Hash("h1h2"), root.Root)
}
