package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_DerivesCategoryAndSeverityFromCode(t *testing.T) {
	tests := []struct {
		name      string
		code      string
		category  Category
		severity  Severity
		retryable bool
	}{
		{"config", ErrCodeConfigInvalid, CategoryConfig, SeverityError, false},
		{"io", ErrCodeFileNotFound, CategoryIO, SeverityError, false},
		{"adapter", ErrCodeAdapterUnavailable, CategoryCollaborator, SeverityWarning, true},
		{"rerank degrades", ErrCodeRerankFailed, CategoryCollaborator, SeverityWarning, false},
		{"validation", ErrCodeInvalidTopK, CategoryValidation, SeverityError, false},
		{"internal", ErrCodeInternal, CategoryInternal, SeverityError, false},
		{"corrupt index fatal", ErrCodeCorruptIndex, CategoryIO, SeverityFatal, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New(tt.code, "boom", nil)
			assert.Equal(t, tt.category, err.Category)
			assert.Equal(t, tt.severity, err.Severity)
			assert.Equal(t, tt.retryable, err.Retryable)
		})
	}
}

func TestRagError_ErrorIncludesCode(t *testing.T) {
	err := New(ErrCodeQueryEmpty, "query must not be empty", nil)
	assert.Equal(t, "[ERR_404_QUERY_EMPTY] query must not be empty", err.Error())
}

func TestRagError_IsMatchesByCode(t *testing.T) {
	err := AdapterUnavailable("lexical", fmt.Errorf("connection refused"))

	assert.True(t, stderrors.Is(err, New(ErrCodeAdapterUnavailable, "", nil)))
	assert.False(t, stderrors.Is(err, New(ErrCodeEmbeddingFailed, "", nil)))
}

func TestRagError_UnwrapPreservesCause(t *testing.T) {
	cause := fmt.Errorf("dial tcp: connection refused")
	err := Wrap(ErrCodeAdapterUnavailable, cause)

	require.NotNil(t, err)
	assert.Equal(t, cause, stderrors.Unwrap(err))
	assert.True(t, stderrors.Is(err, cause))
}

func TestWrap_NilReturnsNil(t *testing.T) {
	assert.Nil(t, Wrap(ErrCodeInternal, nil))
}

func TestAdapterUnavailable_CarriesChannelDetail(t *testing.T) {
	err := AdapterUnavailable("vector", fmt.Errorf("timeout"))

	assert.Equal(t, "vector", err.Details["channel"])
	assert.Contains(t, err.Message, "vector")
	assert.True(t, IsRetryable(err))
}

func TestGetCode_NonRagError(t *testing.T) {
	assert.Equal(t, "", GetCode(fmt.Errorf("plain")))
	assert.Equal(t, ErrCodeLLMFailed, GetCode(New(ErrCodeLLMFailed, "x", nil)))
}
