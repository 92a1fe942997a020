package blob

import (
	"encoding/hex"

	"github.com/zeebo/blake3"
)

// ContentHash is the hex BLAKE3-256 digest recorded under MetaContentHash.
func ContentHash(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}
