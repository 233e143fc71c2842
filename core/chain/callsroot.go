package chain

import (
	"github.com/ethereum/go-ethereum/core/rawdb"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethdb/memorydb"
	"github.com/ethereum/go-ethereum/rlp"
	gethtrie "github.com/ethereum/go-ethereum/trie"
	"github.com/ethereum/go-ethereum/triedb"

	"accumreg/core/types"
)

// ComputeCallsRoot builds the canonical call trie for a block and returns its
// root hash. Calls are stored RLP-encoded and keyed by their index in RLP
// form, matching Ethereum's transaction trie.
func ComputeCallsRoot(calls []*types.Call) ([]byte, error) {
	backend := memorydb.New()
	db := rawdb.NewDatabase(backend)
	trieDB := triedb.NewDatabase(db, triedb.HashDefaults)
	trie, err := gethtrie.New(gethtrie.TrieID(gethtypes.EmptyRootHash), trieDB)
	if err != nil {
		return nil, err
	}
	for i, call := range calls {
		key := rlp.AppendUint64(nil, uint64(i))
		payload, err := rlp.EncodeToBytes(call)
		if err != nil {
			return nil, err
		}
		if err := trie.Update(key, payload); err != nil {
			return nil, err
		}
	}
	hash := trie.Hash()
	return hash.Bytes(), nil
}
