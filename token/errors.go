package token

import "errors"

var (
	// ErrMalformed is returned when a token cannot be parsed.
	ErrMalformed = errors.New("token malformed")

	// ErrInvalidSignature is returned when the signature does not verify
	// or the header names an algorithm other than RS256.
	ErrInvalidSignature = errors.New("token signature invalid")

	// ErrSubjectMismatch is returned when the token subject differs from the
	// expected identity.
	ErrSubjectMismatch = errors.New("token subject mismatch")

	// ErrExpired is returned when the token is at or past its expiry.
	ErrExpired = errors.New("token expired")

	// ErrEmptySubject is returned by Issue for an empty subject.
	ErrEmptySubject = errors.New("token subject is empty")
)
