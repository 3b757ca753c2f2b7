package sota

import "errors"

// Sentinel errors. Most components prefer degradation over raising (§7):
// these are reserved for boundaries where the caller must be able to
// distinguish "not found" or "misconfigured" from a degraded-but-valid
// result.
var (
	// ErrDocumentNotFound is returned when a document ID does not exist.
	ErrDocumentNotFound = errors.New("sota: document not found")

	// ErrDocumentExists is returned when trying to ingest a duplicate id.
	ErrDocumentExists = errors.New("sota: document already exists")

	// ErrUnsupportedFormat is returned for unrecognized file formats.
	ErrUnsupportedFormat = errors.New("sota: unsupported document format")

	// ErrParsingFailed is returned when document parsing fails.
	ErrParsingFailed = errors.New("sota: parsing failed")

	// ErrEmbeddingFailed is returned when embedding generation fails.
	ErrEmbeddingFailed = errors.New("sota: embedding generation failed")

	// ErrLLMUnavailable is returned when the model provider is unreachable.
	ErrLLMUnavailable = errors.New("sota: model provider unavailable")

	// ErrLLMRequestFailed is returned when a model request fails.
	ErrLLMRequestFailed = errors.New("sota: model request failed")

	// ErrStoreClosed is returned when operating on a closed store.
	ErrStoreClosed = errors.New("sota: store is closed")

	// ErrNoResults is returned when retrieval yields no matching units.
	ErrNoResults = errors.New("sota: no results found")

	// ErrInvalidConfig is returned for invalid configuration values.
	ErrInvalidConfig = errors.New("sota: invalid configuration")

	// ErrSchemaConformance is returned when a model's structured output
	// could not be made to conform to the requested schema after the
	// retry budget is exhausted (§7 Schema taxonomy).
	ErrSchemaConformance = errors.New("sota: model output does not conform to schema")

	// ErrQuotaExhausted names the state in which every key in an API key
	// pool has been exhausted (§7 Quota taxonomy). No code path in this
	// module returns it.
	ErrQuotaExhausted = errors.New("sota: API key pool exhausted")

	// ErrAsyncTaskTimeout is returned when a Kanban async task poll
	// exceeds its timeout (§5, §7 Cancellation/timeout taxonomy). The
	// task itself remains on the board.
	ErrAsyncTaskTimeout = errors.New("sota: async task timed out waiting for completion")

	// ErrTaskNotFound is returned when a task id is not present on the
	// board.
	ErrTaskNotFound = errors.New("sota: task not found")
)
