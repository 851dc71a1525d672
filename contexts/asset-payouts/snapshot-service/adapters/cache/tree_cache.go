package cache

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	gocache "github.com/patrickmn/go-cache"

	"assetsnap/contexts/asset-payouts/snapshot-service/domain/merkle"
	"assetsnap/contexts/asset-payouts/snapshot-service/ports"
)

const (
	DefaultTTL      = 10 * time.Minute
	cleanupInterval = 2 * DefaultTTL
)

// TreeCache keeps verified trees keyed by chain, asset and root hash. Trees are
// immutable once built, so entries are shared between readers.
type TreeCache struct {
	cache *gocache.Cache
}

func NewTreeCache(ttl time.Duration) *TreeCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	cleanup := cleanupInterval
	if ttl > DefaultTTL {
		cleanup = 2 * ttl
	}
	return &TreeCache{cache: gocache.New(ttl, cleanup)}
}

func (c *TreeCache) Get(chainID int64, asset common.Address, root merkle.Hash) (*merkle.Tree, bool) {
	value, ok := c.cache.Get(treeKey(chainID, asset, root))
	if !ok {
		return nil, false
	}
	tree, ok := value.(*merkle.Tree)
	return tree, ok
}

func (c *TreeCache) Put(chainID int64, asset common.Address, tree *merkle.Tree) {
	if tree == nil {
		return
	}
	c.cache.SetDefault(treeKey(chainID, asset, tree.RootHash()), tree)
}

func (c *TreeCache) Len() int {
	return c.cache.ItemCount()
}

func treeKey(chainID int64, asset common.Address, root merkle.Hash) string {
	return fmt.Sprintf("%d/%s/%s", chainID, asset.Hex(), root.String())
}

var _ ports.TreeCache = (*TreeCache)(nil)
