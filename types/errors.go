package types

import (
	"errors"
	"fmt"
)

// X402Error is a coded error. Codes, not messages, drive HTTP mapping.
type X402Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

func (e *X402Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *X402Error) Unwrap() error {
	return e.Err
}

// Is matches any *X402Error carrying the same code.
func (e *X402Error) Is(target error) bool {
	var t *X402Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// NewError builds a coded error.
func NewError(code, format string, args ...any) *X402Error {
	return &X402Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WrapError builds a coded error around a cause.
func WrapError(code string, err error, format string, args ...any) *X402Error {
	return &X402Error{Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}

// ErrorCode returns the code of the first X402Error in err's chain, or "".
func ErrorCode(err error) string {
	var xe *X402Error
	if errors.As(err, &xe) {
		return xe.Code
	}
	return ""
}

// Server-side codes.
const (
	ErrConfigError         = "CONFIG_ERROR"
	ErrInvalidProof        = "INVALID_PROOF"
	ErrUnsupportedMethod   = "UNSUPPORTED_METHOD"
	ErrVerificationFailed  = "VERIFICATION_FAILED"
	ErrReplayDetected      = "REPLAY_DETECTED"
	ErrUpstreamUnavailable = "UPSTREAM_UNAVAILABLE"
)

// Client-side codes.
const (
	ErrNoCompatibleMethod = "NO_COMPATIBLE_METHOD"
	ErrInsufficientFunds  = "INSUFFICIENT_FUNDS"
	ErrPaymentFailed      = "PAYMENT_FAILED"
	ErrPaymentRejected    = "PAYMENT_REJECTED"
	ErrInvalidInvoice     = "INVALID_INVOICE"
	ErrUnexpectedStatus   = "UNEXPECTED_STATUS"
)

// Sentinels for errors.Is; only the code is compared.
var (
	ErrConfig      = &X402Error{Code: ErrConfigError, Message: "configuration error"}
	ErrStructural  = &X402Error{Code: ErrInvalidProof, Message: "malformed payment proof"}
	ErrUnsupported = &X402Error{Code: ErrUnsupportedMethod, Message: "unsupported payment method"}
	ErrVerify      = &X402Error{Code: ErrVerificationFailed, Message: "payment verification failed"}
	ErrReplay      = &X402Error{Code: ErrReplayDetected, Message: "payment proof already used"}
	ErrUpstream    = &X402Error{Code: ErrUpstreamUnavailable, Message: "upstream unavailable"}
)
