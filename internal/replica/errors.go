package replica

import (
	"errors"
	"fmt"

	"github.com/roach88/jsonsync/internal/history"
)

// Error is a failure surfaced by the replica API.
//
// Structural mismatches are never errors: they come back as applied=false.
// Errors are reserved for programmer mistakes and broken invariants.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// Err is the underlying cause, if any.
	Err error
}

// ErrorCode categorizes replica errors.
type ErrorCode string

const (
	// ErrCodeIdentityCollision indicates a mark this replica already used
	// was seen again. Either two replicas share an id or one operation was
	// chained onto the same predecessor twice.
	ErrCodeIdentityCollision ErrorCode = "IDENTITY_COLLISION"

	// ErrCodeInvalidAddressing indicates a malformed JSON pointer.
	ErrCodeInvalidAddressing ErrorCode = "INVALID_ADDRESSING"

	// ErrCodeInvalidChain indicates an after reference this replica cannot
	// continue: no mark, or a mark authored elsewhere or never logged.
	ErrCodeInvalidChain ErrorCode = "INVALID_CHAIN"

	// ErrCodeEntropyUnavailable indicates the replica id could not be
	// generated.
	ErrCodeEntropyUnavailable ErrorCode = "ENTROPY_UNAVAILABLE"

	// ErrCodeMalformedMessage indicates bytes from a peer that do not
	// decode as a wire message.
	ErrCodeMalformedMessage ErrorCode = "MALFORMED_MESSAGE"
)

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func hasCode(err error, code ErrorCode) bool {
	var re *Error
	if errors.As(err, &re) {
		return re.Code == code
	}
	return false
}

// IsIdentityCollision returns true for identity collisions, wrapped or
// raw from the history log.
func IsIdentityCollision(err error) bool {
	return hasCode(err, ErrCodeIdentityCollision) || history.IsIdentityCollision(err)
}

// IsInvalidAddressing returns true if err rejects a malformed pointer.
func IsInvalidAddressing(err error) bool {
	return hasCode(err, ErrCodeInvalidAddressing)
}

// IsInvalidChain returns true if err rejects an after reference.
func IsInvalidChain(err error) bool {
	return hasCode(err, ErrCodeInvalidChain)
}

// IsEntropyUnavailable returns true if the replica id could not be drawn.
func IsEntropyUnavailable(err error) bool {
	return hasCode(err, ErrCodeEntropyUnavailable)
}

// IsMalformedMessage returns true if a received message did not decode.
func IsMalformedMessage(err error) bool {
	return hasCode(err, ErrCodeMalformedMessage)
}

func wrapMerge(err error) error {
	if history.IsIdentityCollision(err) {
		return &Error{Code: ErrCodeIdentityCollision, Message: "merge refused", Err: err}
	}
	return err
}
