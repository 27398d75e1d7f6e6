package meta

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// Version is a per-path version token, serialized as "<sequence>:<hex-nonce>".
// The sequence increments on every mutation of the path; the nonce exists so
// two writes racing on the same sequence number still produce distinct
// version strings.
type Version struct {
	Seq   uint64
	Nonce string
}

// EmptyFolder is the constant version served for folders that do not exist or
// hold nothing. It is identical for every such folder so clients can cache
// empty listings uniformly.
var EmptyFolder = Version{Seq: 0, Nonce: "e"}

// String renders the wire form, e.g. "3:9f2ac81d".
func (v Version) String() string {
	return fmt.Sprintf("%d:%s", v.Seq, v.Nonce)
}

// ParseVersion parses the wire form back into a Version.
func ParseVersion(s string) (Version, error) {
	seqStr, nonce, ok := strings.Cut(s, ":")
	if !ok || nonce == "" {
		return Version{}, fmt.Errorf("meta: malformed version %q", s)
	}
	seq, err := strconv.ParseUint(seqStr, 10, 64)
	if err != nil {
		return Version{}, fmt.Errorf("meta: malformed version %q: %w", s, err)
	}
	return Version{Seq: seq, Nonce: nonce}, nil
}

// newNonce returns 4 random bytes hex-encoded.
func newNonce() string {
	var b [4]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}
