// Package infohash holds the two fixed-width identifiers a swarm is keyed
// by: the 20-byte torrent info-hash and the 20-byte local/remote peer id.
package infohash

import (
	"encoding/hex"
	"errors"
	"fmt"
)

const Size = 20

// ErrBadLength is returned when a caller supplies neither 20 raw bytes nor
// a 40-character hex string.
var ErrBadLength = errors.New("infohash: want 20 bytes or 40 hex chars")

// Hash is a torrent info-hash. The zero value is not a valid hash; use
// Parse or ParseBytes to construct one.
type Hash [Size]byte

// Parse accepts either a 40-character lowercase/uppercase hex string or a
// raw 20-byte string and returns the corresponding Hash.
func Parse(s string) (Hash, error) {
	switch len(s) {
	case Size:
		return ParseBytes([]byte(s))
	case Size * 2:
		b, err := hex.DecodeString(s)
		if err != nil {
			return Hash{}, fmt.Errorf("infohash: %w", err)
		}
		return ParseBytes(b)
	default:
		return Hash{}, ErrBadLength
	}
}

// ParseBytes accepts exactly 20 raw bytes.
func ParseBytes(b []byte) (Hash, error) {
	if len(b) != Size {
		return Hash{}, ErrBadLength
	}
	var h Hash
	copy(h[:], b)
	return h, nil
}

// String returns the lowercase hex encoding, the map key used to route
// incoming handshakes to a Pool's swarms.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// Bytes returns the 20 raw bytes.
func (h Hash) Bytes() []byte {
	return h[:]
}

// MarshalText implements encoding.TextMarshaler.
func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (h *Hash) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// PeerID is the 20-byte identifier a client picks for itself and presents
// during the handshake.
type PeerID [Size]byte

// ParsePeerID accepts raw 20-byte ids as-is; shorter UTF-8 ids (the
// "-XX0001-xxxxxxxxxxxx" client-id convention) are zero-padded on the
// right and longer ones are truncated to 20 bytes, mirroring how
// BitTorrent clients construct a peer id from a short prefix plus
// random bytes.
func ParsePeerID(s string) (PeerID, error) {
	var id PeerID
	b := []byte(s)
	copy(id[:], b)
	return id, nil
}

func (id PeerID) String() string {
	return hex.EncodeToString(id[:])
}

func (id PeerID) Bytes() []byte {
	return id[:]
}

func (id PeerID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *PeerID) UnmarshalText(text []byte) error {
	b, err := hex.DecodeString(string(text))
	if err != nil {
		return fmt.Errorf("infohash: %w", err)
	}
	parsed, err := ParsePeerID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
