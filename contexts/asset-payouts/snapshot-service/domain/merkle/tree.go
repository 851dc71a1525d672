// Package merkle builds the holder-balance tree whose root is published with a
// payout and whose proof paths are verified by the payout contract.
//
// Hashing policy:
//   - leaf  = H(address ++ uint256(balance))
//   - node  = H(left ++ right), positional
//
// Leaves are sorted by ascending hash before pairing so the root depends only on
// the leaf set. When a level has an odd number of nodes the last one is carried
// up unchanged.
package merkle

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrEmptyTree        = errors.New("merkle tree requires at least one leaf")
	ErrDuplicateAddress = errors.New("duplicate leaf address")
	ErrDuplicateLeaf    = errors.New("duplicate leaf hash")
	ErrNilHashFunction  = errors.New("hash function is required")
)

// Position tells on which side of the running hash a sibling is concatenated.
type Position uint8

const (
	PositionLeft Position = iota
	PositionRight
)

func (p Position) String() string {
	if p == PositionLeft {
		return "LEFT"
	}
	return "RIGHT"
}

func (p Position) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// PathSegment is one step of a proof path, leaf first.
type PathSegment struct {
	Sibling  Hash     `json:"hash"`
	Position Position `json:"position"`
}

// Node is either a leaf (Leaf() != nil) or an internal node with two children.
type Node struct {
	hash   Hash
	left   *Node
	right  *Node
	parent *Node
	leaf   *LeafNode
}

func (n *Node) Hash() Hash   { return n.hash.Clone() }
func (n *Node) Left() *Node  { return n.left }
func (n *Node) Right() *Node { return n.right }
func (n *Node) IsLeaf() bool { return n.leaf != nil }

// Leaf returns a copy of the leaf carried by n, or false for internal nodes.
func (n *Node) Leaf() (LeafNode, bool) {
	if n.leaf == nil {
		return LeafNode{}, false
	}
	return n.leaf.clone(), true
}

// LeafNode pairs a leaf hash with the balance it was derived from.
type LeafNode struct {
	Hash Hash
	Data AccountBalance
	node *Node
}

func (l *LeafNode) clone() LeafNode {
	return LeafNode{
		Hash: l.Hash.Clone(),
		Data: NewAccountBalance(l.Data.Address, l.Data.Balance),
		node: l.node,
	}
}

// Tree is immutable after NewTree returns and safe for concurrent readers.
// Accessors hand out copies, never the tree's own hashes or balances.
type Tree struct {
	root          *Node
	hashFn        HashFunction
	leaves        []*LeafNode
	leafByHash    map[string]*LeafNode
	leafByAddress map[common.Address]*LeafNode
	totalBalance  *big.Int
}

// NewTree builds a tree over balances. Input order does not affect the result.
func NewTree(balances []AccountBalance, hashFn HashFunction) (*Tree, error) {
	if hashFn == nil {
		return nil, ErrNilHashFunction
	}
	if len(balances) == 0 {
		return nil, ErrEmptyTree
	}

	tree := &Tree{
		hashFn:        hashFn,
		leaves:        make([]*LeafNode, 0, len(balances)),
		leafByHash:    make(map[string]*LeafNode, len(balances)),
		leafByAddress: make(map[common.Address]*LeafNode, len(balances)),
		totalBalance:  new(big.Int),
	}
	for _, balance := range balances {
		if _, exists := tree.leafByAddress[balance.Address]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateAddress, balance.Address.Hex())
		}
		encoded, err := balance.Encode()
		if err != nil {
			return nil, err
		}
		data := NewAccountBalance(balance.Address, balance.Balance)
		leaf := &LeafNode{Hash: hashFn.Hash(encoded), Data: data}
		if _, exists := tree.leafByHash[string(leaf.Hash)]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateLeaf, leaf.Hash)
		}
		leaf.node = &Node{hash: leaf.Hash, leaf: leaf}

		tree.leaves = append(tree.leaves, leaf)
		tree.leafByHash[string(leaf.Hash)] = leaf
		tree.leafByAddress[balance.Address] = leaf
		tree.totalBalance.Add(tree.totalBalance, data.Balance)
	}

	sort.Slice(tree.leaves, func(i, j int) bool {
		return tree.leaves[i].Hash.Compare(tree.leaves[j].Hash) < 0
	})

	level := make([]*Node, 0, len(tree.leaves))
	for _, leaf := range tree.leaves {
		level = append(level, leaf.node)
	}
	for len(level) > 1 {
		next := make([]*Node, 0, (len(level)+1)/2)
		for i := 0; i+1 < len(level); i += 2 {
			next = append(next, join(hashFn, level[i], level[i+1]))
		}
		if len(level)%2 == 1 {
			next = append(next, level[len(level)-1])
		}
		level = next
	}
	tree.root = level[0]
	return tree, nil
}

func join(hashFn HashFunction, left *Node, right *Node) *Node {
	parent := &Node{
		hash:  hashPair(hashFn, left.hash, right.hash),
		left:  left,
		right: right,
	}
	left.parent = parent
	right.parent = parent
	return parent
}

func hashPair(hashFn HashFunction, left Hash, right Hash) Hash {
	buf := make([]byte, 0, len(left)+len(right))
	buf = append(buf, left...)
	buf = append(buf, right...)
	return hashFn.Hash(buf)
}

func (t *Tree) Root() *Node                { return t.root }
func (t *Tree) RootHash() Hash             { return t.root.hash.Clone() }
func (t *Tree) HashFunction() HashFunction { return t.hashFn }
func (t *Tree) Size() int                  { return len(t.leaves) }

// TotalBalance is the sum of all leaf balances.
func (t *Tree) TotalBalance() *big.Int {
	return new(big.Int).Set(t.totalBalance)
}

// Leaves returns the leaves in canonical (ascending hash) order.
func (t *Tree) Leaves() []LeafNode {
	out := make([]LeafNode, 0, len(t.leaves))
	for _, leaf := range t.leaves {
		out = append(out, leaf.clone())
	}
	return out
}

// Balances returns the leaf inputs in canonical order.
func (t *Tree) Balances() []AccountBalance {
	out := make([]AccountBalance, 0, len(t.leaves))
	for _, leaf := range t.leaves {
		out = append(out, NewAccountBalance(leaf.Data.Address, leaf.Data.Balance))
	}
	return out
}

func (t *Tree) LeafByAddress(address common.Address) (LeafNode, bool) {
	leaf, ok := t.leafByAddress[address]
	if !ok {
		return LeafNode{}, false
	}
	return leaf.clone(), true
}

func (t *Tree) LeafByHash(hash Hash) (LeafNode, bool) {
	leaf, ok := t.leafByHash[string(hash)]
	if !ok {
		return LeafNode{}, false
	}
	return leaf.clone(), true
}

func (t *Tree) ContainsAddress(address common.Address) bool {
	_, ok := t.leafByAddress[address]
	return ok
}

// HasLeafSet reports whether balances are exactly the tree's leaves, ignoring
// order. Equal leaf sets hash to the same root.
func (t *Tree) HasLeafSet(balances []AccountBalance) bool {
	if len(balances) != len(t.leaves) {
		return false
	}
	seen := make(map[common.Address]struct{}, len(balances))
	for _, balance := range balances {
		if _, dup := seen[balance.Address]; dup {
			return false
		}
		seen[balance.Address] = struct{}{}
		leaf, ok := t.leafByAddress[balance.Address]
		if !ok || balance.Balance == nil || leaf.Data.Balance.Cmp(balance.Balance) != 0 {
			return false
		}
	}
	return true
}

// PathTo returns the sibling hashes from leaf up to the root. The path of a
// single-leaf tree is empty. ok is false when leaf does not belong to t.
func (t *Tree) PathTo(leaf LeafNode) (path []PathSegment, ok bool) {
	own, found := t.leafByHash[string(leaf.Hash)]
	if !found {
		return nil, false
	}
	path = make([]PathSegment, 0)
	for current := own.node; current.parent != nil; current = current.parent {
		parent := current.parent
		if parent.left == current {
			path = append(path, PathSegment{Sibling: parent.right.hash.Clone(), Position: PositionRight})
		} else {
			path = append(path, PathSegment{Sibling: parent.left.hash.Clone(), Position: PositionLeft})
		}
	}
	return path, true
}

// VerifyPath folds leafHash with path and compares the result to root.
func VerifyPath(hashFn HashFunction, leafHash Hash, path []PathSegment, root Hash) bool {
	if hashFn == nil || len(leafHash) == 0 {
		return false
	}
	running := leafHash
	for _, segment := range path {
		if segment.Position == PositionLeft {
			running = hashPair(hashFn, segment.Sibling, running)
		} else {
			running = hashPair(hashFn, running, segment.Sibling)
		}
	}
	return running.Equal(root)
}

type treeDocument struct {
	MerkleRoot   string         `json:"merkle_root"`
	HashFn       string         `json:"hash_fn"`
	TotalBalance string         `json:"total_balance"`
	Leaves       []leafDocument `json:"leaves"`
}

type leafDocument struct {
	Address string `json:"address"`
	Balance string `json:"balance"`
	Hash    string `json:"hash"`
}

// MarshalJSON renders the document uploaded to the content store.
func (t *Tree) MarshalJSON() ([]byte, error) {
	doc := treeDocument{
		MerkleRoot:   t.root.hash.String(),
		HashFn:       string(t.hashFn.Name()),
		TotalBalance: t.totalBalance.String(),
		Leaves:       make([]leafDocument, 0, len(t.leaves)),
	}
	for _, leaf := range t.leaves {
		doc.Leaves = append(doc.Leaves, leafDocument{
			Address: leaf.Data.Address.Hex(),
			Balance: leaf.Data.Balance.String(),
			Hash:    leaf.Hash.String(),
		})
	}
	return json.Marshal(doc)
}
