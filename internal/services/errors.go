// Package services defines the business logic for the script catalog: the
// reputation ledger, moderation, catalog management, and script requests.
// This file centralizes service-level error values so that they can be
// consistently returned by service methods and checked by callers.
//
// Translation into user-facing messages or HTTP status codes is performed
// at the handler layer.
package services

import "errors"

var (
	// ErrDuplicateVote is returned when a voter already holds a vote of the
	// same kind on the script.
	ErrDuplicateVote = errors.New("vote already recorded for this origin")

	// ErrScriptNotFound indicates that the referenced script does not exist.
	ErrScriptNotFound = errors.New("script not found")

	// ErrRequestNotFound indicates that the referenced script request does
	// not exist.
	ErrRequestNotFound = errors.New("script request not found")

	// ErrExtractionIncomplete is returned when the metadata extractor still
	// leaves required fields empty after every attempt.
	ErrExtractionIncomplete = errors.New("failed to extract all required metadata")

	// ErrExtractionFailed wraps extractor failures that survived the retry
	// policy.
	ErrExtractionFailed = errors.New("metadata extraction failed")

	// ErrDuplicateContent is returned when a script with identical content
	// is already stored.
	ErrDuplicateContent = errors.New("script content already exists")

	// ErrInvalidMetadata wraps field validation failures.
	ErrInvalidMetadata = errors.New("invalid script metadata")

	// ErrInvalidVoter is returned when the voter identity is blank.
	ErrInvalidVoter = errors.New("voter identity is required")
)
