package bubble

import (
	"context"
	"errors"
	"fmt"
	"net"
)

type ConfigErrorCode string

const (
	ConfigErrorMissingDomain      ConfigErrorCode = "missing_domain"
	ConfigErrorInvalidBaseURL     ConfigErrorCode = "invalid_base_url"
	ConfigErrorMissingToken       ConfigErrorCode = "missing_token"
	ConfigErrorMissingCollection  ConfigErrorCode = "missing_collection"
	ConfigErrorInvalidEnvironment ConfigErrorCode = "invalid_environment"
)

type ConfigError struct {
	Code  ConfigErrorCode
	Value string
	Cause error
}

func (e *ConfigError) Error() string {
	if e == nil {
		return "invalid bubble config"
	}
	switch e.Code {
	case ConfigErrorMissingDomain:
		return "BUBBLE_APP_DOMAIN is required"
	case ConfigErrorInvalidBaseURL:
		return fmt.Sprintf("invalid BUBBLE_BASE_URL=%q; expected absolute URL", e.Value)
	case ConfigErrorMissingToken:
		return "BUBBLE_API_TOKEN is required"
	case ConfigErrorMissingCollection:
		if e.Value != "" {
			return fmt.Sprintf("%s is required", e.Value)
		}
		return "bubble collection name is required"
	case ConfigErrorInvalidEnvironment:
		return fmt.Sprintf("invalid environment %q; expected production or version-test", e.Value)
	default:
		return "invalid bubble config"
	}
}

func (e *ConfigError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// ErrorKind is the closed set of outcomes a store call can fail with.
type ErrorKind string

const (
	KindConfiguration       ErrorKind = "configuration"
	KindValidation          ErrorKind = "validation"
	KindUnauthorized        ErrorKind = "unauthorized"
	KindForbidden           ErrorKind = "forbidden"
	KindNotFound            ErrorKind = "not_found"
	KindGateway             ErrorKind = "gateway"
	KindParse               ErrorKind = "parse"
	KindCorrelationMismatch ErrorKind = "correlation_mismatch"
)

type OperationError struct {
	Kind       ErrorKind
	Operation  string
	Collection string
	StatusCode int
	Message    string
	// Body is the (truncated) response body returned by the store, if any.
	Body  string
	Cause error
}

func (e *OperationError) Error() string {
	if e == nil {
		return "bubble operation failed"
	}
	msg := e.Message
	if msg == "" && e.Cause != nil {
		msg = e.Cause.Error()
	}
	if msg == "" {
		return fmt.Sprintf(
			"bubble operation failed (op=%s collection=%s kind=%s status=%d)",
			e.Operation,
			e.Collection,
			e.Kind,
			e.StatusCode,
		)
	}
	return fmt.Sprintf(
		"bubble operation failed (op=%s collection=%s kind=%s status=%d): %s",
		e.Operation,
		e.Collection,
		e.Kind,
		e.StatusCode,
		msg,
	)
}

func (e *OperationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// KindOf classifies err. Errors that did not come from this package are gateway errors.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var cfgErr *ConfigError
	if errors.As(err, &cfgErr) {
		return KindConfiguration
	}
	var opErr *OperationError
	if errors.As(err, &opErr) {
		return opErr.Kind
	}
	return KindGateway
}

func IsNotFound(err error) bool {
	return KindOf(err) == KindNotFound
}

func kindForStatus(status int) ErrorKind {
	switch status {
	case 400:
		return KindValidation
	case 401:
		return KindUnauthorized
	case 403:
		return KindForbidden
	case 404:
		return KindNotFound
	default:
		return KindGateway
	}
}

func classifyHTTPCallError(op, collection string, err error) error {
	if err == nil {
		return nil
	}
	msg := "bubble request failed"
	if errors.Is(err, context.DeadlineExceeded) {
		msg = "bubble request timed out"
	} else {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			msg = "bubble request timed out"
		}
	}
	return &OperationError{
		Kind:       KindGateway,
		Operation:  op,
		Collection: collection,
		Message:    msg,
		Cause:      err,
	}
}
