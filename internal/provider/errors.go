package provider

import (
	"errors"
	"fmt"
	"strings"

	"txqueue/internal/infrastructure/ethrpc"
	"txqueue/internal/race"
)

var (
	ErrProviderUnavailable = errors.New("provider unavailable")
	ErrEndpointUnreachable = errors.New("endpoint unreachable")
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrDecode              = errors.New("decode error")
	ErrEstimationReverted  = errors.New("gas estimation reverted")
	ErrRejected            = errors.New("transaction rejected")
	ErrConfirmationTimeout = errors.New("confirmation timeout")
)

// nodeError reports whether err was produced by the node itself rather
// than by the transport.
func nodeError(err error) (*ethrpc.RPCError, bool) {
	var rpcErr *ethrpc.RPCError
	if errors.As(err, &rpcErr) {
		return rpcErr, true
	}
	return nil, false
}

// allNodeErrors reports whether every endpoint answered with an error
// object. An empty set is false.
func allNodeErrors(errs []error) bool {
	if len(errs) == 0 {
		return false
	}
	for _, err := range errs {
		if _, ok := nodeError(err); !ok {
			return false
		}
	}
	return true
}

// memberErrors splits a joined race failure back into the per-endpoint
// errors.
func memberErrors(err error) []error {
	joined, ok := err.(interface{ Unwrap() []error })
	if !ok {
		return []error{err}
	}
	var errs []error
	for _, member := range joined.Unwrap() {
		if errors.Is(member, race.ErrNoQualifyingResult) {
			continue
		}
		errs = append(errs, member)
	}
	return errs
}

func isRevert(err error) bool {
	rpcErr, ok := nodeError(err)
	if !ok {
		return false
	}
	return rpcErr.Code == 3 || strings.Contains(strings.ToLower(rpcErr.Message), "revert")
}

// revertClass classifies estimate failures that count as a simulated revert.
func revertClass(err error) error {
	if isRevert(err) {
		return ErrEstimationReverted
	}
	return nil
}

func wrap(sentinel, err error) error {
	if err == nil {
		return sentinel
	}
	return fmt.Errorf("%w: %w", sentinel, err)
}
