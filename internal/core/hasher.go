package core

import (
	"DSCEngine/internal/ledger"
	"crypto/sha256"
	"encoding/binary"
	"sort"
)

const GenesisHashSeed = "DSCEngine:genesis:v1"

// GenesisHash is the chain tip before the first operation.
func GenesisHash() [32]byte {
	return sha256.Sum256([]byte(GenesisHashSeed))
}

// StateHasher chains state hashes across operations.
type StateHasher struct {
	prevHash [32]byte
}

func NewStateHasher() *StateHasher {
	return &StateHasher{prevHash: GenesisHash()}
}

// ComputeHash calculates state_hash[N] = SHA-256(prev_hash || sequence || state_digest)
// and advances the chain.
func (h *StateHasher) ComputeHash(sequence int64, stateDigest []byte) [32]byte {
	hash := ChainHash(h.prevHash, sequence, stateDigest)
	h.prevHash = hash
	return hash
}

// ChainHash is the pure form of ComputeHash, used by integrity checks.
func ChainHash(prev [32]byte, sequence int64, stateDigest []byte) [32]byte {
	hasher := sha256.New()
	hasher.Write(prev[:])

	var seqBuf [8]byte
	binary.LittleEndian.PutUint64(seqBuf[:], uint64(sequence))
	hasher.Write(seqBuf[:])

	hasher.Write(stateDigest)

	var hash [32]byte
	copy(hash[:], hasher.Sum(nil))
	return hash
}

func (h *StateHasher) GetPrevHash() [32]byte {
	return h.prevHash
}

func (h *StateHasher) SetPrevHash(hash [32]byte) {
	h.prevHash = hash
}

// StateDigest builds the canonical bytes for the accounts touched by batches:
// for each account in path order, len(path) || path || balance (32 bytes BE).
func StateDigest(batches []*ledger.Batch, balance func(ledger.AccountKey) [32]byte) []byte {
	affected := make(map[string]ledger.AccountKey)
	for _, b := range batches {
		for _, j := range b.Journals {
			affected[j.DebitAccount.AccountPath()] = j.DebitAccount
			affected[j.CreditAccount.AccountPath()] = j.CreditAccount
		}
	}

	paths := make([]string, 0, len(affected))
	for p := range affected {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	digest := make([]byte, 0, len(paths)*96)
	for _, p := range paths {
		digest = append(digest, byte(len(p)))
		digest = append(digest, p...)
		bal := balance(affected[p])
		digest = append(digest, bal[:]...)
	}
	return digest
}
