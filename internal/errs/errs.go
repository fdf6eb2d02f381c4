// Package errs implements the unified failure classification shared by the
// controller and the agent. Every subsystem error surfaces to the reconciler
// as a single Kind plus a human message, which becomes a status write.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an error into one of the taxonomy entries.
type Kind string

const (
	MissingMetadata      Kind = "MissingMetadata"
	SecretLookup         Kind = "SecretLookup"
	ProviderAuth         Kind = "ProviderAuth"
	RepoConfig           Kind = "RepoConfig"
	RepoClone            Kind = "RepoClone"
	RepoPull             Kind = "RepoPull"
	RefreshIntervalShort Kind = "RefreshIntervalTooShort"
	MaxPullRetry         Kind = "MaxPullRetry"
	Decrypt              Kind = "Decrypt"
	Rpc                  Kind = "Rpc"
	Apply                Kind = "Apply"
	Watch                Kind = "Watch"
)

// Error is a classified, wrapped error. Its message is what ends up in
// Decryptor.status.current.errorMessage.
type Error struct {
	Kind   Kind
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New builds a classified error with no underlying cause.
func New(kind Kind, reason string) *Error {
	return &Error{Kind: kind, Reason: reason}
}

// Wrap classifies an existing error under kind.
func Wrap(kind Kind, reason string, err error) *Error {
	return &Error{Kind: kind, Reason: reason, Err: err}
}

// KindOf extracts the Kind of a classified error, or "" if err was never
// classified by this package.
func KindOf(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return ""
}
