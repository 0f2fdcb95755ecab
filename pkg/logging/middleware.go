package logging

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// HandlerFunc is any context-aware operation that can be wrapped with logging
type HandlerFunc[P, R any] func(ctx context.Context, params P) (R, error)

// WrapHandler wraps a handler with start/finish logging. The request id is
// taken from the context or generated if absent.
func WrapHandler[P, R any](logger Logger, operation string, handler HandlerFunc[P, R]) HandlerFunc[P, R] {
	return func(ctx context.Context, params P) (R, error) {
		requestID := RequestIDFromContext(ctx)
		if requestID == "" {
			requestID = uuid.New().String()
			ctx = ContextWithRequestID(ctx, requestID)
		}

		log := logger.WithContext(ctx).WithFields(String("operation", operation))
		log.Debug("operation started")

		start := time.Now()
		result, err := handler(ctx, params)
		duration := time.Since(start)

		if err != nil {
			log.WithError(err).WithFields(Duration("duration", duration)).Warn("operation failed")
		} else {
			log.WithFields(Duration("duration", duration)).Debug("operation completed")
		}
		return result, err
	}
}

// IDGenerator generates unique identifiers for sessions and outbound requests
type IDGenerator interface {
	Generate() string
}

// UUIDGenerator generates random UUIDs
type UUIDGenerator struct{}

// Generate generates a new UUID
func (UUIDGenerator) Generate() string {
	return uuid.New().String()
}

// PrefixedGenerator generates prefixed identifiers
type PrefixedGenerator struct {
	Prefix    string
	Generator IDGenerator
}

// Generate generates a new prefixed id
func (g *PrefixedGenerator) Generate() string {
	gen := g.Generator
	if gen == nil {
		gen = UUIDGenerator{}
	}
	return g.Prefix + "-" + gen.Generate()
}
