package errors

import (
	"encoding/json"
	"fmt"
	"strings"
)

// User-facing messages for the conversational layer. Raw error text is
// never shown to end users.
const (
	MsgNoKnowledgeBase = "No knowledge base is available yet. Upload and index a report first."
	MsgRebuildIndex    = "The index needs to be rebuilt."
	MsgSearchDown      = "Search is temporarily unavailable. Please try again later."
	MsgGeneric         = "Something went wrong while answering that question."
)

// UserMessage maps an error to the text shown to end users.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	switch GetCode(err) {
	case ErrCodeNotReady, ErrCodeEmptyCorpus:
		return MsgNoKnowledgeBase
	case ErrCodeCorruptIndex:
		return MsgRebuildIndex
	case ErrCodeScoringFailed, ErrCodeEmbeddingFailed, ErrCodeModelLoad:
		return MsgSearchDown
	default:
		return MsgGeneric
	}
}

// FormatForCLI formats an error for CLI output.
func FormatForCLI(err error) string {
	if err == nil {
		return ""
	}

	ae, ok := As(err)
	if !ok {
		ae = Wrap(ErrCodeInternal, err)
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Error: %s\n", ae.Message))
	if reason := ae.Details["reason"]; reason != "" {
		sb.WriteString(fmt.Sprintf("  Reason: %s\n", reason))
	}
	if ae.Cause != nil && ae.Cause.Error() != ae.Message {
		sb.WriteString(fmt.Sprintf("  Cause: %v\n", ae.Cause))
	}
	if ae.Suggestion != "" {
		sb.WriteString(fmt.Sprintf("  Hint: %s\n", ae.Suggestion))
	}
	sb.WriteString(fmt.Sprintf("  Code: %s\n", ae.Code))

	return sb.String()
}

// jsonError is the JSON representation of an error.
type jsonError struct {
	Code       string            `json:"code"`
	Message    string            `json:"message"`
	Category   string            `json:"category"`
	Severity   string            `json:"severity"`
	Details    map[string]string `json:"details,omitempty"`
	Suggestion string            `json:"suggestion,omitempty"`
	Cause      string            `json:"cause,omitempty"`
	Retryable  bool              `json:"retryable"`
}

// FormatJSON returns a JSON representation of the error.
func FormatJSON(err error) ([]byte, error) {
	if err == nil {
		return json.Marshal(nil)
	}

	ae, ok := As(err)
	if !ok {
		ae = Wrap(ErrCodeInternal, err)
	}

	je := jsonError{
		Code:       ae.Code,
		Message:    ae.Message,
		Category:   string(ae.Category),
		Severity:   string(ae.Severity),
		Details:    ae.Details,
		Suggestion: ae.Suggestion,
		Retryable:  ae.Retryable,
	}
	if ae.Cause != nil {
		je.Cause = ae.Cause.Error()
	}

	return json.Marshal(je)
}

// LogAttrs formats an error as key-value pairs for slog.
func LogAttrs(err error) []any {
	if err == nil {
		return nil
	}
	ae, ok := As(err)
	if !ok {
		return []any{"error", err.Error()}
	}
	attrs := []any{
		"error_code", ae.Code,
		"error", ae.Error(),
		"category", string(ae.Category),
	}
	for k, v := range ae.Details {
		attrs = append(attrs, "detail_"+k, v)
	}
	return attrs
}
