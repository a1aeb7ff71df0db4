// Package mcp implements the Model Context Protocol (MCP) server for tablerag.
package mcp

import (
	"context"
	"errors"
	"fmt"

	apperrors "github.com/Aman-CERP/tablerag/internal/errors"
)

// Custom MCP error codes for tablerag.
const (
	// ErrCodeIndexNotReady indicates no index is loaded yet.
	ErrCodeIndexNotReady = -32001

	// ErrCodeScoringFailed indicates an embedding or re-ranking model failed.
	ErrCodeScoringFailed = -32002

	// ErrCodeTimeout indicates the request timed out.
	ErrCodeTimeout = -32003

	// ErrCodeIndexCorrupt indicates the persisted index must be rebuilt.
	ErrCodeIndexCorrupt = -32004

	// Standard JSON-RPC error codes.
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternalError  = -32603
)

// ErrToolNotFound indicates the requested tool does not exist.
var ErrToolNotFound = errors.New("tool not found")

// MCPError represents an MCP protocol error with code and message.
// Message is always safe to show to an end user.
type MCPError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *MCPError) Error() string {
	return e.Message
}

// MapError converts internal errors to MCP errors. Messages come from
// errors.UserMessage; raw error text never reaches the client.
func MapError(err error) *MCPError {
	if err == nil {
		return nil
	}

	var mcpErr *MCPError
	if errors.As(err, &mcpErr) {
		return mcpErr
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &MCPError{Code: ErrCodeTimeout, Message: "Request timed out."}
	case errors.Is(err, context.Canceled):
		return &MCPError{Code: ErrCodeTimeout, Message: "Request was canceled."}
	case errors.Is(err, ErrToolNotFound):
		return &MCPError{Code: ErrCodeMethodNotFound, Message: "Tool not found."}
	}

	msg := apperrors.UserMessage(err)
	switch apperrors.GetCode(err) {
	case apperrors.ErrCodeNotReady, apperrors.ErrCodeEmptyCorpus:
		return &MCPError{Code: ErrCodeIndexNotReady, Message: msg}
	case apperrors.ErrCodeCorruptIndex:
		return &MCPError{Code: ErrCodeIndexCorrupt, Message: msg}
	case apperrors.ErrCodeScoringFailed, apperrors.ErrCodeEmbeddingFailed, apperrors.ErrCodeModelLoad:
		return &MCPError{Code: ErrCodeScoringFailed, Message: msg}
	case apperrors.ErrCodeInvalidInput, apperrors.ErrCodeInvalidQuery:
		return &MCPError{Code: ErrCodeInvalidParams, Message: msg}
	default:
		return &MCPError{Code: ErrCodeInternalError, Message: msg}
	}
}

// NewInvalidParamsError creates an error for invalid parameters with a custom message.
func NewInvalidParamsError(msg string) *MCPError {
	return &MCPError{
		Code:    ErrCodeInvalidParams,
		Message: msg,
	}
}

// NewMethodNotFoundError creates an error for unknown tools.
func NewMethodNotFoundError(name string) *MCPError {
	return &MCPError{
		Code:    ErrCodeMethodNotFound,
		Message: fmt.Sprintf("Tool '%s' not found.", name),
	}
}
