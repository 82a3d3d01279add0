package crypto

import (
	"encoding/binary"
	"encoding/hex"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// SyntheticRef derives a deterministic placeholder transaction reference
// for one leg of a simulated trade. Real broadcast signatures never exist
// for these trades, so the reference only has to be unique per attempt.
func SyntheticRef(leg string, opportunityID int64, wallet string, nonce int64) string {
	var buf [16]byte
	binary.BigEndian.PutUint64(buf[:8], uint64(opportunityID))
	binary.BigEndian.PutUint64(buf[8:], uint64(nonce))
	h := ethcrypto.Keccak256([]byte(leg), []byte(wallet), buf[:])
	return "simulated_" + leg + "_tx_" + hex.EncodeToString(h[:16])
}
