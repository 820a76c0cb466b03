// Package httputil provides HTTP handler utilities for consistent error
// handling, JSON encoding/decoding, and request parsing. It is the single
// place where the apperrors taxonomy is translated into HTTP status codes.
package httputil

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/meridianerp/meridian/pkg/apperrors"
)

// ErrorResponse represents a standardized error response
type ErrorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}

// WriteErrorMessage writes a JSON error response with a custom message
func WriteErrorMessage(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{Error: message})
}

// WriteAppError translates the application error taxonomy into a response.
// ValidationError carries its field name; NotFound and PermissionDenied are
// both surfaced as 404 on public resource routes via WriteScopedError, and
// distinguishably here for admin tooling. Anything unrecognized is a 500
// with the detail withheld from the client.
func WriteAppError(w http.ResponseWriter, err error) {
	var ve *apperrors.ValidationError
	switch {
	case errors.As(err, &ve):
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(ErrorResponse{Error: ve.Message, Field: ve.Field})
	case apperrors.IsPermissionDenied(err):
		WriteErrorMessage(w, http.StatusForbidden, err.Error())
	case apperrors.IsNotFound(err):
		WriteErrorMessage(w, http.StatusNotFound, err.Error())
	default:
		WriteErrorMessage(w, http.StatusInternalServerError, "internal server error")
	}
}

// WriteScopedError is WriteAppError for public organization-scoped resource
// routes: permission denials and missing rows collapse into the same 404 so
// responses do not reveal whether a row exists in another tenant.
func WriteScopedError(w http.ResponseWriter, err error) {
	if apperrors.IsPermissionDenied(err) || apperrors.IsNotFound(err) {
		WriteErrorMessage(w, http.StatusNotFound, "not found")
		return
	}
	WriteAppError(w, err)
}

// WriteCreated writes a successful creation response (201 Created)
func WriteCreated(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusCreated, data)
}

// WriteSuccess writes a successful response (200 OK)
func WriteSuccess(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusOK, data)
}

// WriteNoContent writes a successful response with no content (204)
func WriteNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// WriteBadRequest writes a bad request error (400)
func WriteBadRequest(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusBadRequest, message)
}

// WriteUnauthorized writes an unauthorized error (401)
func WriteUnauthorized(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusUnauthorized, message)
}

// WriteForbidden writes a forbidden error (403)
func WriteForbidden(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusForbidden, message)
}

// WriteNotFound writes a not found error (404)
func WriteNotFound(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusNotFound, message)
}

// WriteInternalError writes an internal server error response (500)
func WriteInternalError(w http.ResponseWriter, err error) {
	WriteErrorMessage(w, http.StatusInternalServerError, err.Error())
}
