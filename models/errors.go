package models

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies service failures so the transport layer can map them
// to HTTP status codes without string matching.
type ErrorKind string

const (
	ErrKindUnsupportedFormat ErrorKind = "unsupported_format"
	ErrKindSignatureMismatch ErrorKind = "signature_mismatch"
	ErrKindEmptyExtraction   ErrorKind = "empty_extraction"
	ErrKindExtractionFailed  ErrorKind = "extraction_failed"
	ErrKindFileTooLarge      ErrorKind = "file_too_large"
	ErrKindInvalidFilter     ErrorKind = "invalid_filter"
	ErrKindInvalidRequest    ErrorKind = "invalid_request"
	ErrKindEmbeddingFailed   ErrorKind = "embedding_failed"
	ErrKindStoreUnavailable  ErrorKind = "store_unavailable"
	ErrKindNotFound          ErrorKind = "not_found"
	ErrKindInconsistent      ErrorKind = "inconsistent_state"
	ErrKindInternal          ErrorKind = "internal"
)

// ServiceError carries a classification and a single human-readable message.
type ServiceError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

func NewServiceError(kind ErrorKind, message string) *ServiceError {
	return &ServiceError{Kind: kind, Message: message}
}

func WrapServiceError(kind ErrorKind, message string, err error) *ServiceError {
	return &ServiceError{Kind: kind, Message: message, Err: err}
}

// KindOf extracts the error kind, defaulting to internal.
func KindOf(err error) ErrorKind {
	var se *ServiceError
	if errors.As(err, &se) {
		return se.Kind
	}
	return ErrKindInternal
}

// HTTPStatus maps an error to the status code the handler should return.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case ErrKindUnsupportedFormat, ErrKindSignatureMismatch, ErrKindEmptyExtraction,
		ErrKindExtractionFailed, ErrKindFileTooLarge, ErrKindInvalidFilter, ErrKindInvalidRequest:
		return http.StatusBadRequest
	case ErrKindNotFound:
		return http.StatusNotFound
	case ErrKindStoreUnavailable, ErrKindEmbeddingFailed:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
