package handlers

// Machine-readable codes carried in ErrorResponse.Code. Clients branch on
// these; the message is for humans only.
const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeNotFound         = "not_found"
	ErrCodeConflict         = "conflict"
	ErrCodeMethodNotAllowed = "method_not_allowed"
	ErrCodePayloadTooLarge  = "payload_too_large"
	ErrCodeInternal         = "internal_error"
	ErrCodeListFailed       = "list_failed"

	// A second like or downvote from the same origin.
	ErrCodeDuplicateVote = "duplicate_vote"

	// Metadata extraction.
	ErrCodeExtractionIncomplete = "extraction_incomplete"
	ErrCodeUpstream             = "upstream_error"
	ErrCodeNotConfigured        = "not_configured"
)
