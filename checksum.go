package snapsync

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

const checksumPrefix = "sha256:"

// Checksum is a content identifier (e.g., "sha256:abc123...") for an encoded
// snapshot node. Checksums compare by value and are never derived from
// memory identity; two processes encoding the same logical content arrive
// at the same checksum.
type Checksum string

// ChecksumBytes computes the checksum of encoded object bytes.
func ChecksumBytes(data []byte) Checksum {
	h := sha256.Sum256(data)
	return Checksum(checksumPrefix + hex.EncodeToString(h[:]))
}

// Compute computes the checksum of a node's canonical encoding. It is a pure
// function of (kind, content, ordered children checksums). Content that
// cannot be canonically serialized fails with ErrNotCanonical.
func Compute(n *SnapshotNode) (Checksum, error) {
	data, err := n.Encode()
	if err != nil {
		return "", err
	}
	return ChecksumBytes(data), nil
}

// Valid reports whether c has the expected "sha256:<hex64>" form.
func (c Checksum) Valid() bool {
	_, err := c.raw()
	return err == nil
}

// Short returns an abbreviated form for display.
func (c Checksum) Short() string {
	if len(c) < len(checksumPrefix)+12 {
		return string(c)
	}
	return string(c[len(checksumPrefix) : len(checksumPrefix)+12])
}

// raw decodes the 32-byte hash value.
func (c Checksum) raw() ([sha256.Size]byte, error) {
	var out [sha256.Size]byte
	s := string(c)
	if len(s) != len(checksumPrefix)+2*sha256.Size || s[:len(checksumPrefix)] != checksumPrefix {
		return out, fmt.Errorf("%w: malformed checksum %q", ErrNotCanonical, s)
	}
	decoded, err := hex.DecodeString(s[len(checksumPrefix):])
	if err != nil {
		return out, fmt.Errorf("%w: malformed checksum %q", ErrNotCanonical, s)
	}
	copy(out[:], decoded)
	return out, nil
}

func checksumFromRaw(raw [sha256.Size]byte) Checksum {
	return Checksum(checksumPrefix + hex.EncodeToString(raw[:]))
}
