package ledger

import (
	"encoding/hex"
	"fmt"

	"github.com/zeebo/blake3"
)

// TxHash derives the transaction hash recorded for a committed write.
func TxHash(blockNumber uint64, from string, nonce uint64, method string, params string) string {
	sum := blake3.Sum256([]byte(fmt.Sprintf("%d|%s|%d|%s|%s", blockNumber, from, nonce, method, params)))
	return "0x" + hex.EncodeToString(sum[:])
}

// RewardShare splits the per-round reward evenly among contributors.
func RewardShare(total int64, contributors int) int64 {
	if contributors <= 0 {
		return 0
	}
	return total / int64(contributors)
}

// Address derives a 20-byte hex ledger address from seed.
func Address(seed string) string {
	sum := blake3.Sum256([]byte(seed))
	return "0x" + hex.EncodeToString(sum[:20])
}
