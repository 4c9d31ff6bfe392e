package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrExternalTool  = errors.New("external tool error")
	ErrValidation    = errors.New("validation error")
	ErrConfiguration = errors.New("configuration error")
	ErrNotFound      = errors.New("not found")
	ErrTimeout       = errors.New("timeout")
	ErrTransient     = errors.New("transient failure")

	// ErrConflict marks a unique-constraint violation reported by the job
	// store on create. Callers resolve it by re-reading and adopting the
	// existing record; it is matched with errors.Is, never by message text.
	ErrConflict = errors.New("unique violation")

	// ErrLeaseLost marks a heartbeat or submission rejected because the
	// job's claim lease expired and another worker may own it now.
	ErrLeaseLost = errors.New("claim lease lost")
)

// Wrap builds an error message that includes stage context while tagging it
// with the provided marker for later classification. The marker should be
// one of the exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Kind names the taxonomy bucket an error belongs to, for log fields and
// per-item error reporting.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrLeaseLost):
		return "lease_lost"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrConfiguration):
		return "configuration"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrExternalTool):
		return "external_tool"
	case errors.Is(err, ErrTransient):
		return "transient"
	default:
		return "unexpected"
	}
}

// Hint returns operator guidance for an error's taxonomy bucket, or an
// empty string when there is nothing actionable to say.
func Hint(err error) string {
	switch Kind(err) {
	case "external_tool":
		return "verify the tool is installed and on PATH; see shelfscan config validate"
	case "configuration":
		return "check the config file; see shelfscan config show"
	case "validation":
		return "the job payload is malformed; fix the cursor before retrying"
	case "lease_lost":
		return "another worker owns this job now; no action needed"
	case "timeout", "transient":
		return "usually resolves on retry"
	default:
		return ""
	}
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
