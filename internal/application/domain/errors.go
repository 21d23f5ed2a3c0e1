package domain

import "github.com/pkg/errors"

var (
	// ErrVerificationFailed is returned when a reveal or group signature does not verify.
	ErrVerificationFailed = errors.New("signature verification failed")
	// ErrStaleEpoch is returned when a write targets a ring slot that now belongs to a newer epoch.
	ErrStaleEpoch = errors.New("epoch is outside the history window")
	// ErrConflictingThreshold is returned when a different group signature already exists for an epoch.
	ErrConflictingThreshold = errors.New("conflicting threshold signature for epoch")
	// ErrOversizedCommittee is returned when a committee is larger than the population.
	ErrOversizedCommittee = errors.New("committee size exceeds population")
	// ErrZeroCommittees is returned when committees per slot or slots per epoch is zero.
	ErrZeroCommittees = errors.New("committee count must be positive")
	// ErrTooManyCommittees is returned when committees per slot times slots per epoch is out of range.
	ErrTooManyCommittees = errors.New("too many committees per epoch")
	// ErrEmptyPopulation is returned when selecting from an empty permutation.
	ErrEmptyPopulation = errors.New("empty validator population")
)
