// Package errors provides structured error handling for ragserve.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: IO and storage errors
//   - 3XX: Collaborator errors (indexes, embedder, reranker, LLM, tools)
//   - 4XX: Validation errors
//   - 5XX: Internal errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryIO indicates file, disk, and store I/O errors.
	CategoryIO Category = "IO"
	// CategoryCollaborator indicates failures of external collaborators
	// (index adapters, embedding provider, reranker, LLM, tool backends).
	CategoryCollaborator Category = "COLLABORATOR"
	// CategoryValidation indicates input validation errors.
	CategoryValidation Category = "VALIDATION"
	// CategoryInternal indicates unexpected internal errors.
	CategoryInternal Category = "INTERNAL"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal indicates unrecoverable error, must abort.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates operation failed but can continue.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded operation, continuing.
	SeverityWarning Severity = "WARNING"
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigNotFound = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid  = "ERR_102_CONFIG_INVALID"

	// IO errors (200-299)
	ErrCodeFileNotFound    = "ERR_201_FILE_NOT_FOUND"
	ErrCodeFileUnsupported = "ERR_202_FILE_UNSUPPORTED"
	ErrCodeIndexLocked     = "ERR_203_INDEX_LOCKED"
	ErrCodeCorruptIndex    = "ERR_204_CORRUPT_INDEX"
	ErrCodeHistoryStore    = "ERR_205_HISTORY_STORE"

	// Collaborator errors (300-399)
	ErrCodeAdapterUnavailable = "ERR_301_ADAPTER_UNAVAILABLE"
	ErrCodeEmbeddingFailed    = "ERR_302_EMBEDDING_FAILED"
	ErrCodeRerankFailed       = "ERR_303_RERANK_FAILED"
	ErrCodeLLMFailed          = "ERR_304_LLM_FAILED"
	ErrCodeToolFailed         = "ERR_305_TOOL_FAILED"
	ErrCodeNetworkTimeout     = "ERR_306_NETWORK_TIMEOUT"

	// Validation errors (400-499)
	ErrCodeInvalidInput    = "ERR_401_INVALID_INPUT"
	ErrCodeInvalidTopK     = "ERR_402_INVALID_TOP_K"
	ErrCodeInvalidAlpha    = "ERR_403_INVALID_ALPHA"
	ErrCodeQueryEmpty      = "ERR_404_QUERY_EMPTY"
	ErrCodeSessionNotFound = "ERR_405_SESSION_NOT_FOUND"

	// Internal errors (500-599)
	ErrCodeInternal     = "ERR_501_INTERNAL"
	ErrCodeIngestFailed = "ERR_502_INGEST_FAILED"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	// Numeric portion, e.g. "301" from "ERR_301_ADAPTER_UNAVAILABLE"
	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryIO
	case '3':
		return CategoryCollaborator
	case '4':
		return CategoryValidation
	default:
		return CategoryInternal
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeCorruptIndex:
		return SeverityFatal
	case ErrCodeRerankFailed:
		// Reranking degrades to fused ordering; the retrieval still succeeds.
		return SeverityWarning
	}

	if isRetryableCode(code) {
		return SeverityWarning
	}

	return SeverityError
}

// isRetryableCode checks if an error code represents a retryable error.
// Only transient collaborator failures are retryable; validation and
// configuration errors never are.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeAdapterUnavailable,
		ErrCodeNetworkTimeout,
		ErrCodeLLMFailed:
		return true
	}
	return false
}
