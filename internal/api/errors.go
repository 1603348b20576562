package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/kenneth/envvault/internal/crypto"
	"github.com/kenneth/envvault/internal/domain"
	"github.com/kenneth/envvault/internal/vault"
)

// FieldError names the request field an error is about.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// APIError is the JSON error body returned by every endpoint.
type APIError struct {
	Name       string       `json:"name"`
	Message    string       `json:"message"`
	Code       int          `json:"code"`
	Data       []FieldError `json:"data,omitempty"`
	RequestID  string       `json:"request_id,omitempty"`
	HTTPStatus int          `json:"-"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return e.Name + ": " + e.Message
}

// WriteJSON writes the error response.
func (e *APIError) WriteJSON(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.HTTPStatus)
	if err := json.NewEncoder(w).Encode(e); err != nil {
		http.Error(w, e.Message, e.HTTPStatus)
	}
}

var kindStatus = map[domain.Kind]int{
	domain.KindValidation:        http.StatusUnprocessableEntity,
	domain.KindDuplicateKey:      http.StatusConflict,
	domain.KindNotFound:          http.StatusNotFound,
	domain.KindAuthorization:     http.StatusForbidden,
	domain.KindInvalidToken:      http.StatusUnauthorized,
	domain.KindUnauthenticated:   http.StatusUnauthorized,
	domain.KindExpired:           http.StatusBadRequest,
	domain.KindBadRequest:        http.StatusBadRequest,
	domain.KindRetryableIssuance: http.StatusServiceUnavailable,
}

// TranslateError maps service errors to API errors. Domain errors are
// surfaced verbatim with their field; crypto, vault and unknown errors
// become opaque 500s.
func TranslateError(err error) *APIError {
	if err == nil {
		return nil
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}

	var de *domain.Error
	if errors.As(err, &de) {
		status, ok := kindStatus[de.Kind]
		if !ok {
			status = http.StatusInternalServerError
		}
		e := &APIError{
			Name:       string(de.Kind),
			Message:    de.Message,
			Code:       status,
			HTTPStatus: status,
		}
		if de.Field != "" {
			e.Data = []FieldError{{Field: de.Field, Message: de.Message}}
		}
		return e
	}

	var ve *vault.Error
	if errors.As(err, &ve) {
		return &APIError{
			Name:       "KeyVaultError",
			Message:    "The stored key material could not be opened.",
			Code:       http.StatusInternalServerError,
			HTTPStatus: http.StatusInternalServerError,
		}
	}

	var ce *crypto.Error
	if errors.As(err, &ce) {
		return &APIError{
			Name:       "CryptoError",
			Message:    "A stored value could not be decrypted.",
			Code:       http.StatusInternalServerError,
			HTTPStatus: http.StatusInternalServerError,
		}
	}

	return ErrInternal
}

// Predefined API errors
var (
	ErrInvalidRequest = &APIError{
		Name:       "BadRequestError",
		Message:    "The request body is not valid JSON.",
		Code:       http.StatusBadRequest,
		HTTPStatus: http.StatusBadRequest,
	}

	ErrRequestTooLarge = &APIError{
		Name:       "RequestTooLargeError",
		Message:    "The request body is too large.",
		Code:       http.StatusRequestEntityTooLarge,
		HTTPStatus: http.StatusRequestEntityTooLarge,
	}

	ErrInternal = &APIError{
		Name:       "InternalError",
		Message:    "We encountered an internal error. Please try again.",
		Code:       http.StatusInternalServerError,
		HTTPStatus: http.StatusInternalServerError,
	}

	ErrNotFoundRoute = &APIError{
		Name:       "NotFoundError",
		Message:    "The requested resource does not exist.",
		Code:       http.StatusNotFound,
		HTTPStatus: http.StatusNotFound,
	}

	ErrMethodNotAllowed = &APIError{
		Name:       "MethodNotAllowedError",
		Message:    "The specified method is not allowed against this resource.",
		Code:       http.StatusMethodNotAllowed,
		HTTPStatus: http.StatusMethodNotAllowed,
	}
)
