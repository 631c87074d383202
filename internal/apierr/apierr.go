// Package apierr defines the relayer API's error taxonomy: a stable set of
// kinds, each with a fixed HTTP status and retry hint, so internal error
// detail never leaks across the HTTP boundary.
package apierr

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/dustnet/relayer/pkg/log"
)

// Kind is one of the abstract error kinds from the error-handling design.
type Kind string

const (
	InvalidRequest          Kind = "InvalidRequest"
	InvalidProofLength      Kind = "InvalidProofLength"
	UnsupportedChain        Kind = "UnsupportedChain"
	NonZeroPublicAmount     Kind = "NonZeroPublicAmount"
	UnknownMerkleRoot       Kind = "UnknownMerkleRoot"
	NullifierAlreadySpent   Kind = "NullifierAlreadySpent"
	LeafOutOfRange          Kind = "LeafOutOfRange"
	ChainUnavailable        Kind = "ChainUnavailable"
	TxReverted              Kind = "TxReverted"
	ReceiptTimeout          Kind = "ReceiptTimeout"
	IndexInvariantViolation Kind = "IndexInvariantViolation"
	LocalVerifyFailed       Kind = "LocalVerifyFailed"
	Internal                Kind = "Internal"
)

// statusFor is the fixed Kind -> HTTP status mapping from the error taxonomy.
var statusFor = map[Kind]int{
	InvalidRequest:          http.StatusBadRequest,
	InvalidProofLength:      http.StatusBadRequest,
	UnsupportedChain:        http.StatusBadRequest,
	NonZeroPublicAmount:     http.StatusBadRequest,
	UnknownMerkleRoot:       http.StatusBadRequest,
	NullifierAlreadySpent:   http.StatusBadRequest,
	LeafOutOfRange:          http.StatusNotFound,
	ChainUnavailable:        http.StatusServiceUnavailable,
	TxReverted:              http.StatusBadRequest,
	ReceiptTimeout:          http.StatusGatewayTimeout,
	IndexInvariantViolation: http.StatusInternalServerError,
	LocalVerifyFailed:       http.StatusInternalServerError,
	Internal:                http.StatusInternalServerError,
}

// retryableKinds are the kinds a client may reasonably retry.
var retryableKinds = map[Kind]bool{
	UnknownMerkleRoot: true,
	ChainUnavailable:  true,
	ReceiptTimeout:    true,
}

// Error is the boundary error type every API handler returns instead of a
// raw error. Message is safe to show a client; Cause (if any) stays server-side.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// New constructs an *Error of the given kind with a client-safe message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs an *Error of the given kind carrying an internal cause
// that is logged but never sent to the client.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// HTTPStatus returns the fixed status code for kind, defaulting to 500 for
// an unrecognized kind.
func (k Kind) HTTPStatus() int {
	if status, ok := statusFor[k]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// Retryable reports whether a client may reasonably retry an error of kind.
func (k Kind) Retryable() bool { return retryableKinds[k] }

type body struct {
	Error string `json:"error"`
}

// Write sends the JSON error envelope the API contract promises:
// {"error": string}. Any error that is not an *Error is logged with its full
// detail and reported to the client as a generic Internal error --
// internals never leak across the boundary.
func Write(logger *log.Logger, w http.ResponseWriter, err error) {
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		if logger != nil {
			logger.Error("unhandled internal error", "err", err)
		}
		apiErr = New(Internal, "internal error, please try again")
	} else if apiErr.Cause != nil && logger != nil {
		logger.Error("request failed", "kind", apiErr.Kind, "cause", apiErr.Cause)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apiErr.Kind.HTTPStatus())
	_ = json.NewEncoder(w).Encode(body{Error: apiErr.Message})
}
