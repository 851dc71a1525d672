package cache

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"assetsnap/contexts/asset-payouts/snapshot-service/domain/merkle"
)

func buildTree(t *testing.T) *merkle.Tree {
	t.Helper()
	tree, err := merkle.NewTree([]merkle.AccountBalance{
		merkle.NewAccountBalance(common.HexToAddress("0x01"), big.NewInt(5)),
		merkle.NewAccountBalance(common.HexToAddress("0x02"), big.NewInt(9)),
	}, merkle.Keccak256)
	if err != nil {
		t.Fatalf("build tree: %v", err)
	}
	return tree
}

func TestTreeCacheKeysByChainAssetAndRoot(t *testing.T) {
	cache := NewTreeCache(time.Minute)
	tree := buildTree(t)
	asset := common.HexToAddress("0xaa")

	cache.Put(1, asset, tree)
	if got, ok := cache.Get(1, asset, tree.RootHash()); !ok || got != tree {
		t.Fatal("expected cached tree")
	}
	if _, ok := cache.Get(2, asset, tree.RootHash()); ok {
		t.Fatal("other chain must miss")
	}
	if _, ok := cache.Get(1, common.HexToAddress("0xbb"), tree.RootHash()); ok {
		t.Fatal("other asset must miss")
	}
	if cache.Len() != 1 {
		t.Fatalf("expected 1 entry, got %d", cache.Len())
	}
}

func TestTreeCacheExpires(t *testing.T) {
	cache := NewTreeCache(20 * time.Millisecond)
	tree := buildTree(t)
	cache.Put(1, common.HexToAddress("0xaa"), tree)
	time.Sleep(50 * time.Millisecond)
	if _, ok := cache.Get(1, common.HexToAddress("0xaa"), tree.RootHash()); ok {
		t.Fatal("expected entry to expire")
	}
}
