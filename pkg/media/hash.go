package media

import (
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"math/big"
	"strings"
)

// hashChunkSize keeps digest computation from loading whole files in memory.
const hashChunkSize = 64 * 1024

// SHA1Sum computes the sha1 digest of the reader's content as 40 lowercase
// hex characters, streaming in 64 KiB chunks.
func SHA1Sum(r io.Reader) (string, error) {
	h := sha1.New()
	if _, err := io.CopyBuffer(h, r, make([]byte, hashChunkSize)); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// SHA256Sum computes the sha256 digest of the reader's content as 64
// lowercase hex characters, streaming in 64 KiB chunks.
func SHA256Sum(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.CopyBuffer(h, r, make([]byte, hashChunkSize)); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Base16ToBase36 converts a hexadecimal string into MediaWiki's base-36
// representation: lowercase, zero-filled to 31 characters. An empty input
// returns an empty string.
func Base16ToBase36(number string) (string, error) {
	if number == "" {
		return "", nil
	}
	n, ok := new(big.Int).SetString(strings.TrimSpace(number), 16)
	if !ok {
		return "", fmt.Errorf("%q is not a base-16 number", number)
	}
	return zfill(n.Text(36), 31), nil
}

// Base36ToBase16 converts a MediaWiki base-36 string back into its
// hexadecimal representation: lowercase, zero-filled to 40 characters.
// An empty input returns an empty string.
func Base36ToBase16(number string) (string, error) {
	if number == "" {
		return "", nil
	}
	n, ok := new(big.Int).SetString(strings.ToLower(strings.TrimSpace(number)), 36)
	if !ok {
		return "", fmt.Errorf("%q is not a base-36 number", number)
	}
	return zfill(n.Text(16), 40), nil
}

// zfill left-pads s with zeros to the given width.
func zfill(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return strings.Repeat("0", width-len(s)) + s
}
