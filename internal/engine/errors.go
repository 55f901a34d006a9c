package engine

import (
	"errors"
	"fmt"

	"promo-code-engine/internal/identity"
	"promo-code-engine/internal/retry"
)

type Kind string

const (
	KindConfiguration    Kind = "configuration"
	KindCaptcha          Kind = "captcha"
	KindRetriesExhausted Kind = "retries_exhausted"
	KindRemote           Kind = "remote"
	KindCatalogMismatch  Kind = "catalog_mismatch"
	KindInvalidChoice    Kind = "invalid_choice"
	KindActivation       Kind = "activation_failure"
	KindUnknown          Kind = "unknown"
)

var (
	ErrNoCodes           = errors.New("no codes available")
	ErrInsufficientCodes = errors.New("insufficient codes")
	ErrInvalidChoice     = errors.New("invalid choice")
	ErrUnknownProduct    = errors.New("product is not configured")
	ErrNotConfirmed      = errors.New("confirm-choice did not report success")
)

// Error tags a run failure with its kind. Err is the underlying failure.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf classifies err. Untagged errors fall back on their sentinels.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	switch {
	case errors.Is(err, identity.ErrMissingSecret), errors.Is(err, ErrUnknownProduct):
		return KindConfiguration
	case errors.Is(err, retry.ErrExhausted):
		return KindRetriesExhausted
	case errors.Is(err, ErrNoCodes), errors.Is(err, ErrInsufficientCodes):
		return KindCatalogMismatch
	case errors.Is(err, ErrInvalidChoice):
		return KindInvalidChoice
	}
	return KindUnknown
}

// remoteError tags a failed remote call, keeping exhaustion distinct.
func remoteError(op string, err error) error {
	kind := KindRemote
	if errors.Is(err, retry.ErrExhausted) {
		kind = KindRetriesExhausted
	}
	return &Error{Kind: kind, Op: op, Err: err}
}
