package docstore

import (
	"errors"
	"fmt"
)

// ErrorCode classifies the errors surfaced by the session engine and the document stores.
type ErrorCode int

const (
	Unknown ErrorCode = iota
	// NonUniqueObjectIdentity means a document id is already mapped to a different live entity.
	NonUniqueObjectIdentity
	// NotAssociated means the entity is not tracked by the session.
	NotAssociated
	// ReadOnlyViolation means a read-only document was deleted or otherwise modified.
	ReadOnlyViolation
	// ReadVetoed means the store flagged the document as unreadable. UserData carries a ReadVeto.
	ReadVetoed
	// ChangedEntityDeleteByKey means an id delete targeted a tracked entity with unsaved changes.
	ChangedEntityDeleteByKey
	// KeyMismatch means the entity's id field diverged from its tracked document key.
	KeyMismatch
	// InvalidIdentifier means a generated or explicit id is malformed.
	InvalidIdentifier
	// RequestBudgetExceeded means the session's round trip ceiling was breached.
	RequestBudgetExceeded
	// DocumentGone means a refresh target no longer exists in the store.
	DocumentGone
	// ConversionFailure means materializing an entity from its document failed.
	ConversionFailure
	// ConcurrencyViolation means a version precondition did not hold in the store.
	ConcurrencyViolation
	// AlreadyDeleted means the entity was marked for deletion in this session.
	AlreadyDeleted
	// DeferredCommandConflict means a deferred command already targets the document.
	DeferredCommandConflict
	// TransportFailure means the store's response is unusable (e.g. misaligned results).
	TransportFailure
)

var errorCodeNames = map[ErrorCode]string{
	Unknown:                  "Unknown",
	NonUniqueObjectIdentity:  "NonUniqueObjectIdentity",
	NotAssociated:            "NotAssociated",
	ReadOnlyViolation:        "ReadOnlyViolation",
	ReadVetoed:               "ReadVetoed",
	ChangedEntityDeleteByKey: "ChangedEntityDeleteByKey",
	KeyMismatch:              "KeyMismatch",
	InvalidIdentifier:        "InvalidIdentifier",
	RequestBudgetExceeded:    "RequestBudgetExceeded",
	DocumentGone:             "DocumentGone",
	ConversionFailure:        "ConversionFailure",
	ConcurrencyViolation:     "ConcurrencyViolation",
	AlreadyDeleted:           "AlreadyDeleted",
	DeferredCommandConflict:  "DeferredCommandConflict",
	TransportFailure:         "TransportFailure",
}

func (c ErrorCode) String() string {
	if s, ok := errorCodeNames[c]; ok {
		return s
	}
	return fmt.Sprintf("ErrorCode(%d)", int(c))
}

// Error is the docstore custom error.
type Error struct {
	Code     ErrorCode
	Err      error
	UserData any
}

func (e Error) Error() string {
	if e.UserData == nil {
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
	return fmt.Sprintf("%s: %v, user data: %v", e.Code, e.Err, e.UserData)
}

// Unwrap returns the underlying error.
func (e Error) Unwrap() error {
	return e.Err
}

// NewError creates an Error with a formatted message.
func NewError(code ErrorCode, userData any, format string, args ...any) Error {
	return Error{
		Code:     code,
		Err:      fmt.Errorf(format, args...),
		UserData: userData,
	}
}

// IsCode reports whether err (or any error it wraps) is an Error with the given code.
func IsCode(err error, code ErrorCode) bool {
	var e Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	var pe *Error
	if errors.As(err, &pe) && pe != nil {
		return pe.Code == code
	}
	return false
}

// CodeOf returns the code of err, Unknown if err is not an Error.
func CodeOf(err error) ErrorCode {
	var e Error
	if errors.As(err, &e) {
		return e.Code
	}
	return Unknown
}

// ParseErrorCode returns the code named s, Unknown when there is none.
func ParseErrorCode(s string) ErrorCode {
	for c, n := range errorCodeNames {
		if n == s {
			return c
		}
	}
	return Unknown
}
