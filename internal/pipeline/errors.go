package pipeline

import "errors"

var (
	// ErrNoQuestionsFound means a tagging dispatch had no explicit question
	// list and the paper has no live root questions to fall back on.
	ErrNoQuestionsFound = errors.New("no questions found for paper")

	// ErrJobNotFound means a callback referenced a job id with no ledger row.
	// Callbacks for unknown jobs are rejected rather than best-effort
	// recreated; a dispatch always writes a ledger row first.
	ErrJobNotFound = errors.New("job not found")

	// ErrJobIDOutOfRange means a callback supplied a job id outside the
	// 32-bit signed range the tagging contract allows.
	ErrJobIDOutOfRange = errors.New("job_id out of int32 range")

	// ErrMaxDepthExceeded guards the tree inserter against runaway nesting
	// in malformed replication payloads.
	ErrMaxDepthExceeded = errors.New("replication tree exceeds maximum depth")

	// ErrParentNotFound means a custom-prompt extension referenced a parent
	// question row that does not exist.
	ErrParentNotFound = errors.New("parent question not found")
)
