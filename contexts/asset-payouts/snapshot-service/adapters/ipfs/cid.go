package ipfs

import (
	"crypto/sha256"

	"github.com/mr-tron/base58"
)

// Multihash prefix of a sha2-256 digest: function code 0x12, length 0x20.
var sha256MultihashPrefix = []byte{0x12, 0x20}

// LocalContentKey returns the base58 sha2-256 multihash of data. It has the
// CIDv0 shape but is not the CID an IPFS node assigns to the same bytes: the
// node hashes the UnixFS dag-pb encoding of the file, not the raw content.
// Use it only to address MemoryStore documents.
func LocalContentKey(data []byte) string {
	digest := sha256.Sum256(data)
	multihash := make([]byte, 0, len(sha256MultihashPrefix)+len(digest))
	multihash = append(multihash, sha256MultihashPrefix...)
	multihash = append(multihash, digest[:]...)
	return base58.Encode(multihash)
}

// IsCIDv0 reports whether value is base58 and decodes to a sha2-256 multihash.
func IsCIDv0(value string) bool {
	decoded, err := base58.Decode(value)
	if err != nil || len(decoded) != 34 {
		return false
	}
	return decoded[0] == sha256MultihashPrefix[0] && decoded[1] == sha256MultihashPrefix[1]
}
