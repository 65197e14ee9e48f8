package bridge

import (
	"errors"
	"fmt"
)

var (
	ErrValidation      = errors.New("invalid message field")
	ErrEncoding        = errors.New("payload encoding failed")
	ErrDecoding        = errors.New("malformed payload")
	ErrUnsupportedKind = errors.New("unsupported message kind")
	ErrPeerUnavailable = errors.New("peer application unavailable")
	ErrRegistration    = errors.New("invalid registration")
	ErrNotRegistered   = errors.New("app not registered")
	ErrDuplicateToken  = errors.New("correlation token already outstanding")
)

// ValidationError reports an outbound field that violates its constraints.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid field %q: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

type EncodingError struct {
	Key    string
	Reason string
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("encode %q: %s", e.Key, e.Reason)
}

func (e *EncodingError) Unwrap() error { return ErrEncoding }

// DecodingError reports an inbound payload that could not be parsed. Err, when
// set, is the underlying parse failure.
type DecodingError struct {
	Key    string
	Reason string
	Err    error
}

func (e *DecodingError) Error() string {
	msg := fmt.Sprintf("decode %q: %s", e.Key, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DecodingError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrDecoding, e.Err}
	}
	return []error{ErrDecoding}
}

// UnsupportedKindError is returned for a discriminator this bridge does not
// handle. Such payloads are dropped at the protocol boundary.
type UnsupportedKindError struct {
	Discriminator string
}

func (e *UnsupportedKindError) Error() string {
	return fmt.Sprintf("unsupported message kind %q", e.Discriminator)
}

func (e *UnsupportedKindError) Unwrap() error { return ErrUnsupportedKind }

type RegistrationError struct {
	Field  string
	Reason string
}

func (e *RegistrationError) Error() string {
	return fmt.Sprintf("register %s: %s", e.Field, e.Reason)
}

func (e *RegistrationError) Unwrap() error { return ErrRegistration }
