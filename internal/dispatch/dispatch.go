// Package dispatch implements the tool dispatcher (C11): it wraps every
// externally invocable operation with request framing, an outer timeout,
// input validation, and a uniform success/error envelope.
package dispatch

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"ragserver/internal/graph"
	"ragserver/internal/logging"
	"ragserver/internal/store"
)

// ErrorKind mirrors the error taxonomy (section 7).
type ErrorKind string

const (
	ErrInvalidInput         ErrorKind = "InvalidInput"
	ErrFetchFailed          ErrorKind = "FetchFailed"
	ErrVectorStoreUnavail   ErrorKind = "VectorStoreUnavailable"
	ErrGraphUnavailable     ErrorKind = "GraphUnavailable"
	ErrGraphCleanupFailed   ErrorKind = "GraphCleanupFailed"
	ErrCancelled            ErrorKind = "Cancelled"
	ErrInternal             ErrorKind = "InternalError"
)

// Error is the dispatcher's error envelope payload.
type Error struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
	Detail  string    `json:"detail,omitempty"`
}

func (e *Error) Error() string { return string(e.Kind) + ": " + e.Message }

// ValidationError marks an error produced by an input-validation function as
// InvalidInput rather than InternalError.
type ValidationError struct{ msg string }

func (e *ValidationError) Error() string { return e.msg }

// NewValidationError builds a ValidationError with msg.
func NewValidationError(msg string) error { return &ValidationError{msg: msg} }

// Envelope is the uniform completion record returned by every dispatched
// operation: {success, operation, request_id, elapsed_seconds, result|error}.
type Envelope struct {
	Success        bool    `json:"success"`
	Operation      string  `json:"operation"`
	RequestID      string  `json:"request_id"`
	ElapsedSeconds float64 `json:"elapsed_seconds"`
	Result         any     `json:"result,omitempty"`
	Error          *Error  `json:"error,omitempty"`
}

// Metrics is the minimal counter sink Dispatch reports tool invocations
// against; satisfied by *obs.OtelMetrics.
type Metrics interface {
	IncCounter(name string, labels map[string]string)
}

// Dispatcher wraps operation invocations with request framing, timeouts, and
// input validation, independent of the transport (stdio or HTTP) that
// ultimately calls it.
type Dispatcher struct {
	defaultTimeout time.Duration
	perOpTimeout   map[string]time.Duration
	metrics        Metrics
}

// New builds a Dispatcher. defaultTimeout <= 0 falls back to 60s.
// perOpTimeout may be nil.
func New(defaultTimeout time.Duration, perOpTimeout map[string]time.Duration) *Dispatcher {
	if defaultTimeout <= 0 {
		defaultTimeout = 60 * time.Second
	}
	return &Dispatcher{defaultTimeout: defaultTimeout, perOpTimeout: perOpTimeout}
}

// SetMetrics attaches a Metrics sink; nil disables counting. Safe to call
// once after New, before the server starts serving requests.
func (d *Dispatcher) SetMetrics(m Metrics) {
	d.metrics = m
}

func (d *Dispatcher) timeoutFor(operation string) time.Duration {
	if t, ok := d.perOpTimeout[operation]; ok && t > 0 {
		return t
	}
	return d.defaultTimeout
}

// Dispatch runs validate, and if it passes, runs fn under an operation-scoped
// timeout, framing the call with a request id and start/end logs and
// returning the uniform completion envelope. validate may be nil to skip
// input validation.
func (d *Dispatcher) Dispatch(ctx context.Context, operation string, validate func() error, fn func(ctx context.Context) (any, error)) Envelope {
	id := requestID()
	log := logging.Log.WithFields(logrus.Fields{"operation": operation, "request_id": id})
	log.Info("start")

	if validate != nil {
		if err := validate(); err != nil {
			log.WithError(err).Warn("end: invalid input")
			d.countCall(operation, string(ErrInvalidInput))
			return Envelope{
				Operation: operation,
				RequestID: id,
				Error:     &Error{Kind: ErrInvalidInput, Message: err.Error()},
			}
		}
	}

	opCtx, cancel := context.WithTimeout(ctx, d.timeoutFor(operation))
	defer cancel()

	start := time.Now()
	result, err := fn(opCtx)
	elapsed := time.Since(start).Seconds()

	if err != nil {
		envErr := classify(err)
		log.WithError(err).WithField("elapsed_seconds", elapsed).Warn("end: failed")
		d.countCall(operation, string(envErr.Kind))
		return Envelope{Operation: operation, RequestID: id, ElapsedSeconds: elapsed, Error: envErr}
	}

	log.WithField("elapsed_seconds", elapsed).Info("end: success")
	d.countCall(operation, "success")
	return Envelope{Success: true, Operation: operation, RequestID: id, ElapsedSeconds: elapsed, Result: result}
}

func (d *Dispatcher) countCall(operation, outcome string) {
	if d.metrics == nil {
		return
	}
	d.metrics.IncCounter("tool_calls_total", map[string]string{"operation": operation, "outcome": outcome})
}

func classify(err error) *Error {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return &Error{Kind: ErrInvalidInput, Message: err.Error()}
	}
	var de *Error
	if errors.As(err, &de) {
		return de
	}
	var cleanupErr *graph.ErrCleanupFailed
	if errors.As(err, &cleanupErr) {
		return &Error{Kind: ErrGraphCleanupFailed, Message: "graph cleanup failed, transaction rolled back"}
	}
	if errors.Is(err, graph.ErrGraphUnavailable) {
		return &Error{Kind: ErrGraphUnavailable, Message: "graph backend unavailable"}
	}
	var storeErr *store.ErrUnavailable
	if errors.As(err, &storeErr) {
		return &Error{Kind: ErrVectorStoreUnavail, Message: "vector store unavailable, try again after the cool-off window"}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: ErrCancelled, Message: "operation timed out"}
	}
	if errors.Is(err, context.Canceled) {
		return &Error{Kind: ErrCancelled, Message: "operation cancelled"}
	}
	return &Error{Kind: ErrInternal, Message: "internal error processing request"}
}

func requestID() string {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return "00000000"
	}
	return hex.EncodeToString(buf)
}
