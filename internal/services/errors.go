package services

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

var (
	ErrTransient     = errors.New("transient failure")
	ErrResource      = errors.New("resource exhausted")
	ErrValidation    = errors.New("validation error")
	ErrConfiguration = errors.New("configuration error")
	ErrCritical      = errors.New("critical failure")
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
)

// Category groups failures by how the caller should react to them.
type Category string

const (
	CategoryTransient     Category = "transient"
	CategoryResource      Category = "resource"
	CategoryValidation    Category = "validation"
	CategoryConfiguration Category = "configuration"
	CategoryCritical      Category = "critical"
	CategoryUnknown       Category = "unknown"
)

// Wrap builds an error message that includes component context while tagging
// it with the provided marker for later classification. The marker should be
// one of the exported sentinel errors above.
func Wrap(marker error, component, operation, message string, err error) error {
	detail := buildDetail(component, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Categorize maps err onto the failure taxonomy. Explicit markers win over
// network error inspection, which wins over message heuristics.
func Categorize(err error) Category {
	if err == nil {
		return CategoryUnknown
	}
	switch {
	case errors.Is(err, ErrCritical):
		return CategoryCritical
	case errors.Is(err, ErrConfiguration):
		return CategoryConfiguration
	case errors.Is(err, ErrResource):
		return CategoryResource
	case errors.Is(err, ErrTransient):
		return CategoryTransient
	case errors.Is(err, ErrValidation), errors.Is(err, ErrNotFound), errors.Is(err, ErrConflict):
		return CategoryValidation
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return CategoryTransient
	}

	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, "unauthorized", "forbidden", "permission denied", "authentication", "invalid api key"):
		return CategoryCritical
	case containsAny(msg, "out of memory", "memory", "quota", "resource exhausted"):
		return CategoryResource
	case containsAny(msg, "rate limit", "timeout", "timed out", "connection", "temporarily unavailable", "overloaded"):
		return CategoryTransient
	case containsAny(msg, "config", "missing setting", "not configured"):
		return CategoryConfiguration
	case containsAny(msg, "invalid", "malformed", "validation", "parse"):
		return CategoryValidation
	}
	return CategoryUnknown
}

// IsRetryable reports whether the category allows another attempt.
func (c Category) IsRetryable() bool {
	return c == CategoryTransient || c == CategoryResource
}

// IsFatal reports whether the category must abort the run.
func (c Category) IsFatal() bool {
	return c == CategoryCritical || c == CategoryConfiguration
}

func containsAny(s string, needles ...string) bool {
	for _, needle := range needles {
		if strings.Contains(s, needle) {
			return true
		}
	}
	return false
}

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	if component = strings.TrimSpace(component); component != "" {
		parts = append(parts, component)
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
