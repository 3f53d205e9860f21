// Package apperror provides coded errors classified by how callers react.
package apperror

import (
	"errors"
	"log/slog"
	"strings"
)

// Kind classifies an error by how the caller is expected to react to it.
type Kind string

const (
	// KindConfiguration aborts a run before any cycle executes.
	KindConfiguration Kind = "configuration"
	// KindMalformedInput is recovered per item; the run continues.
	KindMalformedInput Kind = "malformed_input"
	// KindRunFailure means nothing was published for the run.
	KindRunFailure Kind = "run_failure"
	// KindExternal wraps collaborator failures.
	KindExternal Kind = "external"
	// KindInternal is everything else.
	KindInternal Kind = "internal"
)

// AppError is a coded error with an optional cause.
type AppError struct {
	Code    Code   `json:"code"`
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
	Context string `json:"context,omitempty"`
	cause   error
}

// Option customises an AppError at construction.
type Option func(*AppError)

// WithMessage replaces the catalog message.
func WithMessage(message string) Option {
	return func(e *AppError) { e.Message = message }
}

// WithContext attaches the subject of the error, such as a pool id.
func WithContext(context string) Option {
	return func(e *AppError) { e.Context = context }
}

// WithKind overrides the catalog kind.
func WithKind(kind Kind) Option {
	return func(e *AppError) { e.Kind = kind }
}

// WithCause wraps an underlying error.
func WithCause(cause error) Option {
	return func(e *AppError) { e.cause = cause }
}

// New builds an error for code, taking kind and message from the catalog.
func New(code Code, opts ...Option) *AppError {
	info, ok := catalog[code]
	if !ok {
		info = codeInfo{kind: KindInternal, message: string(code)}
	}
	err := &AppError{Code: code, Kind: info.kind, Message: info.message}
	for _, opt := range opts {
		opt(err)
	}
	return err
}

// Configuration is shorthand for a configuration error about context.
func Configuration(context string) *AppError {
	return New(CodeConfigurationError, WithContext(context))
}

// External marks a collaborator failure.
func External(code Code, context string, cause error) *AppError {
	return New(code, WithContext(context), WithCause(cause), WithKind(KindExternal))
}

// Wrap returns err as an AppError. An AppError already in the chain is
// returned as is, gaining context if it had none.
func Wrap(err error, code Code, context string) *AppError {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		if appErr.Context == "" {
			appErr.Context = context
		}
		return appErr
	}
	return New(code, WithContext(context), WithCause(err))
}

func (e *AppError) Error() string {
	var sb strings.Builder
	sb.WriteString(string(e.Code))
	sb.WriteString(": ")
	sb.WriteString(e.Message)
	if e.Context != "" {
		sb.WriteString(" (")
		sb.WriteString(e.Context)
		sb.WriteString(")")
	}
	if e.cause != nil {
		sb.WriteString(": ")
		sb.WriteString(e.cause.Error())
	}
	return sb.String()
}

func (e *AppError) Unwrap() error { return e.cause }

// Is matches any *AppError carrying the same code.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	return ok && e.Code == t.Code
}

// LogValue renders the error as a group when logged through slog.
func (e *AppError) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.String("code", string(e.Code)),
		slog.String("kind", string(e.Kind)),
		slog.String("message", e.Message),
	}
	if e.Context != "" {
		attrs = append(attrs, slog.String("context", e.Context))
	}
	if e.cause != nil {
		attrs = append(attrs, slog.String("cause", e.cause.Error()))
	}
	return slog.GroupValue(attrs...)
}

// GetCode extracts the code from err, CodeUnknownError for foreign errors.
func GetCode(err error) Code {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeUnknownError
}

// GetKind extracts the kind from err, KindInternal for foreign errors.
func GetKind(err error) Kind {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// IsCode reports whether err carries code anywhere in its chain.
func IsCode(err error, code Code) bool {
	return errors.Is(err, &AppError{Code: code})
}
