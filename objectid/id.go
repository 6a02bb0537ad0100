// Package objectid computes and verifies content-addressed identifiers:
// the hash of an object's canonical byte serialization, as a lowercase
// 64-hex string with no algorithm prefix.
//
// Hashing and verification are delegated to
// github.com/opencontainers/go-digest: we compute with digest.Canonical
// and use digest.Verifier rather than hand-rolling sha256 bookkeeping.
package objectid

import (
	"fmt"
	"io"

	digest "github.com/opencontainers/go-digest"
)

// ID is a persisted object's content-addressed identifier: 64 lowercase hex
// characters, the canonical digest's hex component with its "sha256:"
// algorithm prefix stripped.
type ID string

// Of returns the ID of the given canonical bytes.
func Of(canonical []byte) ID {
	return fromDigest(digest.Canonical.FromBytes(canonical))
}

// OfReader streams content through the canonical hash and returns its ID.
func OfReader(r io.Reader) (ID, error) {
	d, err := digest.Canonical.FromReader(r)
	if err != nil {
		return "", err
	}
	return fromDigest(d), nil
}

func fromDigest(d digest.Digest) ID {
	return ID(d.Encoded())
}

// Digest reconstitutes the full algorithm-prefixed digest.Digest for id, for
// use with digest.Verifier.
func (id ID) Digest() digest.Digest {
	return digest.NewDigestFromEncoded(digest.Canonical, string(id))
}

// Valid reports whether id is a well-formed 64-hex digest.
func (id ID) Valid() bool {
	return id.Digest().Validate() == nil
}

func (id ID) String() string { return string(id) }

// Verify hashes canonical and returns an error unless it hashes to id. Used
// on every object read (store package) to enforce the invariant that
// "any persisted object's identifier equals the hash of its canonical
// bytes, verified on read".
func Verify(id ID, canonical []byte) error {
	verifier := id.Digest().Verifier()
	if _, err := verifier.Write(canonical); err != nil {
		return err
	}
	if !verifier.Verified() {
		return fmt.Errorf("objectid: content does not match id %s", id)
	}
	return nil
}
