package biddingerrors

import (
	"errors"
	"fmt"
)

// Stable codes surfaced to callers
const (
	CodeInvalidAmount    = "INVALID_AMOUNT"
	CodeLotNotFound      = "LOT_NOT_FOUND"
	CodeLotClosed        = "LOT_CLOSED"
	CodeBidTooLow        = "BID_TOO_LOW"
	CodeBidConflict      = "BID_CONFLICT"
	CodeEmptyComment     = "EMPTY_COMMENT"
	CodeCommentTooLong   = "COMMENT_TOO_LONG"
	CodeInvalidMaxAmount = "INVALID_MAX_AMOUNT"
	CodeAutoBidNotFound  = "AUTOBID_NOT_FOUND"
	CodeInvalidLot       = "INVALID_LOT"
	CodeUnauthorized     = "UNAUTHORIZED"
	CodeForbidden        = "FORBIDDEN"
	CodeInternal         = "INTERNAL"
)

// Repository-level errors
var (
	ErrLotNotFound     = errors.New(CodeLotNotFound)
	ErrAutoBidNotFound = errors.New(CodeAutoBidNotFound)
)

// business logic errors
var (
	ErrInvalidAmount    = errors.New(CodeInvalidAmount)
	ErrLotClosed        = errors.New(CodeLotClosed)
	ErrBidTooLow        = errors.New(CodeBidTooLow)
	ErrBidConflict      = errors.New(CodeBidConflict)
	ErrEmptyComment     = errors.New(CodeEmptyComment)
	ErrCommentTooLong   = errors.New(CodeCommentTooLong)
	ErrInvalidMaxAmount = errors.New(CodeInvalidMaxAmount)
	ErrInvalidLot       = errors.New(CodeInvalidLot)
)

// identity errors
var (
	ErrUnauthorized = errors.New(CodeUnauthorized)
	ErrForbidden    = errors.New(CodeForbidden)
)

// BidTooLowError reports the minimum acceptable amount at the time of rejection.
// Conflict is set when the bid lost a race against a concurrent commit.
type BidTooLowError struct {
	Minimum  int64
	Conflict bool
}

func (e *BidTooLowError) Error() string {
	return fmt.Sprintf("%s:%d", CodeBidTooLow, e.Minimum)
}

// Is makes errors.Is(err, ErrBidTooLow) hold for every BidTooLowError
func (e *BidTooLowError) Is(target error) bool {
	return target == ErrBidTooLow
}

// NewBidTooLow returns a BidTooLowError for the given minimum
func NewBidTooLow(minimum int64, conflict bool) error {
	return &BidTooLowError{Minimum: minimum, Conflict: conflict}
}

// MinimumBid extracts the reported minimum from a BID_TOO_LOW error
func MinimumBid(err error) (int64, bool) {
	var tooLow *BidTooLowError
	if errors.As(err, &tooLow) {
		return tooLow.Minimum, true
	}
	return 0, false
}

var coded = []error{
	ErrInvalidAmount,
	ErrLotNotFound,
	ErrLotClosed,
	ErrBidConflict,
	ErrEmptyComment,
	ErrCommentTooLong,
	ErrInvalidMaxAmount,
	ErrAutoBidNotFound,
	ErrInvalidLot,
	ErrUnauthorized,
	ErrForbidden,
}

// Code maps an error to its stable machine readable code.
// Anything not recognised is an infrastructure failure and maps to INTERNAL.
func Code(err error) string {
	if err == nil {
		return ""
	}
	if minimum, ok := MinimumBid(err); ok {
		return fmt.Sprintf("%s:%d", CodeBidTooLow, minimum)
	}
	for _, target := range coded {
		if errors.Is(err, target) {
			return target.Error()
		}
	}
	return CodeInternal
}

// IsRetryable reports whether the caller may retry, possibly with a new amount
// or once the lot state has changed.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrBidTooLow) || errors.Is(err, ErrBidConflict) || errors.Is(err, ErrLotClosed)
}

// IsDomain reports whether err belongs to the client input or domain state
// categories, as opposed to an infrastructure failure.
func IsDomain(err error) bool {
	return err != nil && Code(err) != CodeInternal
}
