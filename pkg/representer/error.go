package representer

import (
	"encoding/json"
	"net/http"
)

// Error identifiers
const (
	ErrIDNotFound           = "urn:openproject-org:api:v3:errors:NotFound"
	ErrIDUnauthenticated    = "urn:openproject-org:api:v3:errors:Unauthenticated"
	ErrIDMissingPermission  = "urn:openproject-org:api:v3:errors:MissingPermission"
	ErrIDConstraintViolated = "urn:openproject-org:api:v3:errors:PropertyConstraintViolation"
	ErrIDMultipleErrors     = "urn:openproject-org:api:v3:errors:MultipleErrors"
	ErrIDUpdateConflict     = "urn:openproject-org:api:v3:errors:UpdateConflict"
	ErrIDInvalidRequestBody = "urn:openproject-org:api:v3:errors:InvalidRequestBody"
	ErrIDInvalidQuery       = "urn:openproject-org:api:v3:errors:InvalidQuery"
	ErrIDTooManyRequests    = "urn:openproject-org:api:v3:errors:TooManyRequests"
	ErrIDInternal           = "urn:openproject-org:api:v3:errors:InternalServerError"
)

// MediaType is the content type of every API response
const MediaType = "application/hal+json; charset=utf-8"

// Error is the HAL error body
type Error struct {
	Type            string        `json:"_type"`
	ErrorIdentifier string        `json:"errorIdentifier"`
	Message         string        `json:"message"`
	Details         *ErrorDetails `json:"_embedded,omitempty"`
}

// ErrorDetails holds the attribute of a constraint violation or nested errors
type ErrorDetails struct {
	Details *AttributeDetails `json:"details,omitempty"`
	Errors  []*Error          `json:"errors,omitempty"`
}

// AttributeDetails names the attribute a violation refers to
type AttributeDetails struct {
	Attribute string `json:"attribute"`
}

// NewError builds a single error
func NewError(identifier, message string) *Error {
	return &Error{Type: "Error", ErrorIdentifier: identifier, Message: message}
}

// NewConstraintViolation builds a violation for one attribute
func NewConstraintViolation(attribute, message string) *Error {
	e := NewError(ErrIDConstraintViolated, message)
	e.Details = &ErrorDetails{Details: &AttributeDetails{Attribute: attribute}}
	return e
}

// NewMultipleErrors wraps several errors; a single error is returned as is
func NewMultipleErrors(errs []*Error) *Error {
	if len(errs) == 1 {
		return errs[0]
	}
	e := NewError(ErrIDMultipleErrors, "Multiple field constraints have been violated.")
	e.Details = &ErrorDetails{Errors: errs}
	return e
}

// WriteJSON writes v as a HAL response
func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", MediaType)
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// WriteError writes a HAL error response
func WriteError(w http.ResponseWriter, status int, identifier, message string) {
	WriteJSON(w, status, NewError(identifier, message))
}
