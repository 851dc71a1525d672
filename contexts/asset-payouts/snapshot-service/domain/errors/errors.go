package errors

import (
	"errors"
	"fmt"
)

var (
	ErrSnapshotNotFound         = errors.New("asset snapshot not found")
	ErrTreeNotFound             = errors.New("merkle tree not found")
	ErrPayoutNotFound           = errors.New("payout not found")
	ErrInvalidSnapshotInput     = errors.New("invalid asset snapshot input")
	ErrInvalidPayout            = errors.New("invalid payout")
	ErrEmptyHolderSet           = errors.New("asset has no holders at snapshot block")
	ErrInvalidHolderSet         = errors.New("invalid holder set")
	ErrUploadFailed             = errors.New("content upload failed")
	ErrSnapshotNotPending       = errors.New("asset snapshot is not pending")
	ErrRepositoryInvariantBroke = errors.New("repository invariant violated")
)

// ChainReadError wraps a chain connector failure. Transient failures (network,
// rate limiting, deadlines) are still not retried in process.
type ChainReadError struct {
	Transient bool
	Err       error
}

func (e *ChainReadError) Error() string {
	kind := "persistent"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("%s chain read error: %v", kind, e.Err)
}

func (e *ChainReadError) Unwrap() error { return e.Err }

func TransientChainRead(err error) error {
	return &ChainReadError{Transient: true, Err: err}
}

func PersistentChainRead(err error) error {
	return &ChainReadError{Transient: false, Err: err}
}

// TreeIntegrityError reports a persisted root whose leaves no longer rebuild
// to the stored hash. It matches ErrTreeNotFound so callers see "not found".
type TreeIntegrityError struct {
	RootID   string
	Stored   string
	Computed string
}

func (e *TreeIntegrityError) Error() string {
	return fmt.Sprintf("merkle tree %s integrity mismatch: stored %s computed %s", e.RootID, e.Stored, e.Computed)
}

func (e *TreeIntegrityError) Is(target error) bool {
	return target == ErrTreeNotFound
}
