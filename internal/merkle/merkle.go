// Package merkle builds the batch commitment digest recorded at mint time.
//
// The commitment is a single SHA-256 over the in-order concatenation of all
// token hashes. It is tamper-evident for the batch as a whole but does not
// support per-leaf inclusion proofs; upgrading to a binary tree changes the
// stored root value and must be versioned.
package merkle

import (
	"strings"

	"example.com/pharmatrace/services/provenance/internal/security"
)

// Root is a batch commitment over an ordered list of token hashes
type Root struct {
	Root  string `json:"root"`
	Count int    `json:"count"`
}

// BuildRoot computes the commitment over items in their given order. Empty
// input yields an empty root and count 0.
func BuildRoot(crypto *security.TokenCrypto, items []string) Root {
	if len(items) == 0 {
		return Root{Root: "", Count: 0}
	}

	var payload strings.Builder
	for _, item := range items {
		payload.WriteString(item)
	}

	return Root{
		Root:  crypto.Hash(payload.String()),
		Count: len(items),
	}
}
