package merkle

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// LeafEncodingLength is len(address) + one 32-byte word.
const LeafEncodingLength = common.AddressLength + 32

var (
	ErrNilBalance      = errors.New("balance is required")
	ErrNegativeBalance = errors.New("balance must not be negative")
	ErrBalanceOverflow = errors.New("balance does not fit in uint256")
)

// AccountBalance is the immutable leaf input of a tree.
type AccountBalance struct {
	Address common.Address
	Balance *big.Int
}

func NewAccountBalance(address common.Address, balance *big.Int) AccountBalance {
	var copied *big.Int
	if balance != nil {
		copied = new(big.Int).Set(balance)
	}
	return AccountBalance{Address: address, Balance: copied}
}

// Encode returns address ++ uint256(balance) big-endian, the same bytes as
// abi.encodePacked(address, uint256) on chain.
func (b AccountBalance) Encode() ([]byte, error) {
	if b.Balance == nil {
		return nil, fmt.Errorf("%w: %s", ErrNilBalance, b.Address.Hex())
	}
	if b.Balance.Sign() < 0 {
		return nil, fmt.Errorf("%w: %s", ErrNegativeBalance, b.Address.Hex())
	}
	word, overflow := uint256.FromBig(b.Balance)
	if overflow {
		return nil, fmt.Errorf("%w: %s", ErrBalanceOverflow, b.Address.Hex())
	}
	encoded := make([]byte, 0, LeafEncodingLength)
	encoded = append(encoded, b.Address.Bytes()...)
	packed := word.Bytes32()
	encoded = append(encoded, packed[:]...)
	return encoded, nil
}
