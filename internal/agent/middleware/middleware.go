// Package middleware wraps tools in an error containment boundary, so
// a failing capability degrades into a polite answer instead of
// breaking the conversation.
package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/veramoney/assistant/internal/agent/tool"
	"github.com/veramoney/assistant/internal/domain"
	"github.com/veramoney/assistant/internal/metrics"
	"github.com/veramoney/assistant/internal/transport/stockapi"
	"github.com/veramoney/assistant/internal/transport/weatherapi"
)

// ErrorKind is the closed classification of tool failures.
type ErrorKind int

const (
	KindValidation ErrorKind = iota
	KindNotConfigured
	KindUnavailable
	KindTransport
	KindEmbedding
	KindIndex
	KindInternal
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotConfigured:
		return "not_configured"
	case KindUnavailable:
		return "unavailable"
	case KindTransport:
		return "transport"
	case KindEmbedding:
		return "embedding"
	case KindIndex:
		return "index"
	default:
		return "internal"
	}
}

// Classify maps an error to its kind. Anything unrecognized is
// internal.
func Classify(err error) ErrorKind {
	switch {
	case errors.Is(err, domain.ErrValidation),
		errors.Is(err, weatherapi.ErrCityNotFound),
		errors.Is(err, stockapi.ErrUnknownSymbol):
		return KindValidation
	case errors.Is(err, domain.ErrNotConfigured):
		return KindNotConfigured
	case errors.Is(err, weatherapi.ErrQuotaExceeded),
		errors.Is(err, stockapi.ErrQuotaExceeded),
		errors.Is(err, context.DeadlineExceeded):
		return KindUnavailable
	case errors.Is(err, domain.ErrEmbeddingProvider):
		return KindEmbedding
	case errors.Is(err, domain.ErrIndexUnavailable):
		return KindIndex
	case errors.Is(err, domain.ErrTransport):
		return KindTransport
	default:
		return KindInternal
	}
}

// SafeTool decorates a tool so Invoke never returns an error: failures
// and panics become user-safe fallback messages naming the service.
type SafeTool struct {
	inner   tool.Tool
	service string
	logger  *zap.Logger
}

// Wrap decorates a tool. The service name appears in fallback messages,
// e.g. "weather data" or "the knowledge base".
func Wrap(t tool.Tool, service string, logger *zap.Logger) *SafeTool {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SafeTool{inner: t, service: service, logger: logger}
}

func (s *SafeTool) Name() string                { return s.inner.Name() }
func (s *SafeTool) Description() string         { return s.inner.Description() }
func (s *SafeTool) Parameters() json.RawMessage { return s.inner.Parameters() }

// Invoke runs the wrapped tool. The returned error is always nil.
func (s *SafeTool) Invoke(ctx context.Context, args json.RawMessage) (result string, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("tool panicked",
				zap.String("tool", s.inner.Name()),
				zap.Any("panic", r))
			metrics.ToolInvocationsTotal.WithLabelValues(s.inner.Name(), KindInternal.String()).Inc()
			result = s.fallback(KindInternal)
			err = nil
		}
	}()

	out, invokeErr := s.inner.Invoke(ctx, args)
	if invokeErr != nil {
		kind := Classify(invokeErr)
		s.logger.Warn("tool failed",
			zap.String("tool", s.inner.Name()),
			zap.String("kind", kind.String()),
			zap.Error(invokeErr))
		metrics.ToolInvocationsTotal.WithLabelValues(s.inner.Name(), kind.String()).Inc()
		return s.fallback(kind), nil
	}

	metrics.ToolInvocationsTotal.WithLabelValues(s.inner.Name(), "success").Inc()
	return out, nil
}

// fallback is the bounded, user-safe message handed to the model as the
// tool result.
func (s *SafeTool) fallback(kind ErrorKind) string {
	switch kind {
	case KindValidation:
		return fmt.Sprintf(
			"I couldn't process that request for %s. Please check the details and try again.",
			s.service)
	case KindNotConfigured:
		return fmt.Sprintf("%s is not available in this deployment.", s.service)
	default:
		return fmt.Sprintf(
			"I'm having trouble accessing %s right now. Please try again in a moment.",
			s.service)
	}
}
