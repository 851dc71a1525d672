package merkle

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// Hash is an opaque hash output. Its text form is 0x-prefixed lowercase hex.
type Hash []byte

func (h Hash) String() string {
	return hexutil.Encode(h)
}

// Clone returns a copy that does not share storage with h.
func (h Hash) Clone() Hash {
	if h == nil {
		return nil
	}
	return append(Hash(nil), h...)
}

func (h Hash) Equal(other Hash) bool {
	return bytes.Equal(h, other)
}

func (h Hash) Compare(other Hash) int {
	return bytes.Compare(h, other)
}

func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

func (h *Hash) UnmarshalText(text []byte) error {
	parsed, err := ParseHash(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// ParseHash decodes the text form produced by Hash.String.
func ParseHash(value string) (Hash, error) {
	decoded, err := hexutil.Decode(strings.ToLower(strings.TrimSpace(value)))
	if err != nil {
		return nil, fmt.Errorf("parse hash %q: %w", value, err)
	}
	if len(decoded) == 0 {
		return nil, errors.New("parse hash: empty value")
	}
	return Hash(decoded), nil
}

type HashFunctionName string

const (
	HashFunctionIdentity  HashFunctionName = "IDENTITY"
	HashFunctionKeccak256 HashFunctionName = "KECCAK_256"
)

// HashFunction is a pure bytes -> Hash strategy. Implementations must be
// deterministic and safe for concurrent use.
type HashFunction interface {
	Name() HashFunctionName
	Hash(data []byte) Hash
}

var (
	// Identity returns its input unchanged. Only useful for tests and debugging,
	// node hashes grow with tree height.
	Identity HashFunction = identityHash{}
	// Keccak256 matches the EVM keccak256 opcode.
	Keccak256 HashFunction = keccakHash{}
)

var ErrUnknownHashFunction = errors.New("unknown hash function")

func HashFunctionByName(name string) (HashFunction, error) {
	switch HashFunctionName(strings.ToUpper(strings.TrimSpace(name))) {
	case HashFunctionIdentity:
		return Identity, nil
	case HashFunctionKeccak256:
		return Keccak256, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownHashFunction, name)
	}
}

type identityHash struct{}

func (identityHash) Name() HashFunctionName { return HashFunctionIdentity }

func (identityHash) Hash(data []byte) Hash {
	return append(Hash(nil), data...)
}

type keccakHash struct{}

func (keccakHash) Name() HashFunctionName { return HashFunctionKeccak256 }

func (keccakHash) Hash(data []byte) Hash {
	return Hash(crypto.Keccak256(data))
}
