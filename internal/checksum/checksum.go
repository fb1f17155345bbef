// Package checksum computes content digests for vault files and remote blobs.
package checksum

import (
	"crypto/sha1" //nolint:gosec // git object ids are SHA-1
	"crypto/sha256"
	"encoding/hex"
	"strconv"
)

// Sum returns the hex-encoded SHA-256 digest of data.
func Sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// GitBlob returns the object id git assigns to data stored as a blob,
// which is the revision GitHub reports for a file in a tree.
func GitBlob(data []byte) string {
	h := sha1.New() //nolint:gosec
	h.Write([]byte("blob " + strconv.Itoa(len(data)) + "\x00"))
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}
