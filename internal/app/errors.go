package app

import (
	"fmt"
	"net/http"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

func errFormNotFound() *DomainError {
	return domainError(http.StatusNotFound, "NOT_FOUND", "Form not found or expired", nil)
}

func errValidation(message string, fields map[string]string) *DomainError {
	if len(fields) == 0 {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", message, nil)
	}
	return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", message, fields)
}

func errServer() *DomainError {
	return domainError(http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil)
}
