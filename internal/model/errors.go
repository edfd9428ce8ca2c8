package model

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"syscall"
)

// ErrorKind classifies a failure and determines how it propagates.
type ErrorKind string

const (
	KindValidation    ErrorKind = "validation_error"
	KindQuotaExceeded ErrorKind = "quota_exceeded"
	KindRateLimited   ErrorKind = "rate_limited"
	KindAuth          ErrorKind = "auth_error"
	KindNetwork       ErrorKind = "network_error"
	KindDatabase      ErrorKind = "database_error"
	KindSelection     ErrorKind = "selection_error"
	KindUnknown       ErrorKind = "unknown"
)

// Selection error reasons, kept distinct for observability.
const (
	ReasonMalformedResponse = "malformed_response"
	ReasonContractViolation = "contract_violation"
)

var userMessages = map[ErrorKind]string{
	KindValidation:    "The request is invalid. Check the flow type and answers.",
	KindQuotaExceeded: "The planning service has exhausted its quota. Please try again later.",
	KindRateLimited:   "The planning service is temporarily busy. Please try again in a few moments.",
	KindAuth:          "The planning service is misconfigured. Please contact support.",
	KindNetwork:       "A network problem interrupted planning. Please try again.",
	KindDatabase:      "The expert directory is temporarily unavailable.",
	KindSelection:     "Expert matching returned an unusable result.",
	KindUnknown:       "An unexpected error occurred during trip planning. Please try again.",
}

// UserMessage returns the stable human-readable message for the kind.
func (k ErrorKind) UserMessage() string {
	if m, ok := userMessages[k]; ok {
		return m
	}
	return userMessages[KindUnknown]
}

// Retryable reports whether a caller may retry the whole request later.
func (k ErrorKind) Retryable() bool {
	switch k {
	case KindQuotaExceeded, KindRateLimited, KindNetwork, KindDatabase:
		return true
	default:
		return false
	}
}

// Error is a classified failure. Detail is authored by this service and safe
// to show callers; Err holds the underlying cause and is only ever logged.
type Error struct {
	Kind   ErrorKind
	Reason string
	Detail string
	Err    error
}

// NewError returns a classified error with no underlying cause.
func NewError(kind ErrorKind, detail string) *Error {
	return &Error{Kind: kind, Detail: detail}
}

// WrapError classifies err under kind.
func WrapError(kind ErrorKind, detail string, err error) *Error {
	return &Error{Kind: kind, Detail: detail, Err: err}
}

// SelectionError returns a selection_error with the given reason.
func SelectionError(reason, detail string) *Error {
	return &Error{Kind: KindSelection, Reason: reason, Detail: detail}
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Reason != "" {
		msg += " (" + e.Reason + ")"
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// MarshalJSON never includes the underlying cause.
func (e *Error) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Kind    ErrorKind `json:"kind"`
		Reason  string    `json:"reason,omitempty"`
		Message string    `json:"message"`
		Detail  string    `json:"detail,omitempty"`
	}{e.Kind, e.Reason, e.Kind.UserMessage(), e.Detail})
}

// Kinder is implemented by errors that know their own classification.
type Kinder interface {
	Kind() ErrorKind
}

// Classify maps any error onto the taxonomy. A nil error yields nil.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	var me *Error
	if errors.As(err, &me) {
		return me
	}
	var k Kinder
	if errors.As(err, &k) {
		return WrapError(k.Kind(), "", err)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return WrapError(KindNetwork, "request deadline exceeded", err)
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return WrapError(KindNetwork, "", err)
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return WrapError(KindNetwork, "", err)
	}
	return WrapError(KindUnknown, "", err)
}

// KindOf returns the classification of err, or "" for nil.
func KindOf(err error) ErrorKind {
	if e := Classify(err); e != nil {
		return e.Kind
	}
	return ""
}
