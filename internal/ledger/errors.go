package ledger

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrUnreachable covers transport failures and timeouts. Callers may retry.
	ErrUnreachable = errors.New("ledger unreachable")
	// ErrRejected is a ledger-side precondition failure. Not retryable.
	ErrRejected = errors.New("ledger rejected transaction")

	ErrAlreadyRegistered = fmt.Errorf("%w: client already registered", ErrRejected)
	ErrNotRegistered     = fmt.Errorf("%w: client not registered", ErrRejected)
	ErrAlreadySubmitted  = fmt.Errorf("%w: update already submitted for this round", ErrRejected)
	ErrQuorumNotMet      = fmt.Errorf("%w: not enough updates to finalize the round", ErrRejected)
	ErrRoundMismatch     = fmt.Errorf("%w: round is not the current round", ErrRejected)
	ErrNoSuchUpdate      = fmt.Errorf("%w: no such round update", ErrRejected)
)

// IsBenign reports whether err is a registration or submission no-op.
func IsBenign(err error) bool {
	return errors.Is(err, ErrAlreadyRegistered) || errors.Is(err, ErrAlreadySubmitted)
}

// Unreachable wraps err so that errors.Is(err, ErrUnreachable) holds.
func Unreachable(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrUnreachable) {
		return err
	}
	return fmt.Errorf("%s: %w: %w", op, ErrUnreachable, err)
}

// classify maps context expiry onto ErrUnreachable and leaves ledger errors as they are.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return Unreachable(op, err)
	}
	return err
}
