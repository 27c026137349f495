// Package resolver turns the references users type on the command line into
// ledger entries.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/dyluth/mirror/pkg/ledger"
)

// ErrInvalidRef is wrapped by errors about malformed references.
var ErrInvalidRef = errors.New("invalid entry reference")

// MinPrefixLength is the minimum required length for hash prefixes.
// Set to 6 characters to balance usability with collision avoidance.
const MinPrefixLength = 6

// EntryFinder is the part of the ledger the resolver needs.
type EntryFinder interface {
	Get(ctx context.Context, seq uint64) (ledger.Entry, error)
	FindByHashPrefix(ctx context.Context, prefix string) ([]ledger.Entry, error)
}

// ResolveEntry resolves ref to exactly one ledger entry.
//
// ref may be:
//  1. "#N" or a plain number shorter than MinPrefixLength - a sequence number
//  2. a full 64-character hash - looked up directly
//  3. a hash prefix of at least MinPrefixLength characters
func ResolveEntry(ctx context.Context, finder EntryFinder, ref string) (ledger.Entry, error) {
	ref = strings.ToLower(strings.TrimSpace(ref))
	if ref == "" {
		return ledger.Entry{}, fmt.Errorf("%w: cannot be empty", ErrInvalidRef)
	}

	if seq, ok := parseSequence(ref); ok {
		entry, err := finder.Get(ctx, seq)
		if err != nil {
			if ledger.IsNotFound(err) {
				return ledger.Entry{}, &NotFoundError{Ref: ref}
			}
			return ledger.Entry{}, fmt.Errorf("failed to fetch entry: %w", err)
		}
		return entry, nil
	}

	if !isHex(ref) {
		return ledger.Entry{}, fmt.Errorf("%w '%s': use a sequence number or hash prefix", ErrInvalidRef, ref)
	}
	if len(ref) < MinPrefixLength {
		return ledger.Entry{}, fmt.Errorf("%w: hash prefix must be at least %d characters (got %d)", ErrInvalidRef, MinPrefixLength, len(ref))
	}

	matches, err := finder.FindByHashPrefix(ctx, ref)
	if err != nil {
		return ledger.Entry{}, fmt.Errorf("failed to search ledger: %w", err)
	}

	switch len(matches) {
	case 0:
		return ledger.Entry{}, &NotFoundError{Ref: ref}
	case 1:
		return matches[0], nil
	default:
		hashes := make([]string, len(matches))
		for i, m := range matches {
			hashes[i] = m.Hash
		}
		return ledger.Entry{}, &AmbiguousError{Prefix: ref, Matches: hashes}
	}
}

func parseSequence(ref string) (uint64, bool) {
	explicit := strings.HasPrefix(ref, "#")
	digits := strings.TrimPrefix(ref, "#")
	if !explicit && len(digits) >= MinPrefixLength {
		return 0, false
	}
	seq, err := strconv.ParseUint(digits, 10, 64)
	if err != nil {
		return 0, false
	}
	return seq, true
}

func isHex(s string) bool {
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// NotFoundError indicates no entry matched the reference.
type NotFoundError struct {
	Ref string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no ledger entry matches '%s'", e.Ref)
}

// AmbiguousError indicates multiple entries matched a hash prefix.
type AmbiguousError struct {
	Prefix  string
	Matches []string
}

func (e *AmbiguousError) Error() string {
	return fmt.Sprintf("ambiguous hash prefix '%s' matches %d entries", e.Prefix, len(e.Matches))
}

// FormatAmbiguousError creates a user-friendly error message for ambiguous prefixes.
// Lists all matching hashes (up to 10, then "...and N more").
func FormatAmbiguousError(err *AmbiguousError) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Error: ambiguous hash prefix '%s' matches %d entries:\n", err.Prefix, len(err.Matches))

	displayCount := min(len(err.Matches), 10)
	for i := 0; i < displayCount; i++ {
		fmt.Fprintf(&b, "  %s\n", err.Matches[i])
	}
	if len(err.Matches) > 10 {
		fmt.Fprintf(&b, "  ...and %d more\n", len(err.Matches)-10)
	}

	b.WriteString("\nUse a longer prefix or the #sequence form.")
	return b.String()
}

// IsNotFoundError checks if an error is a NotFoundError.
func IsNotFoundError(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsAmbiguousError checks if an error is an AmbiguousError.
func IsAmbiguousError(err error) bool {
	var ae *AmbiguousError
	return errors.As(err, &ae)
}
