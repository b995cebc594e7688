// Package syncerr defines the error taxonomy shared by the sync components.
//
// Three kinds of failure are distinguished:
//   - ConfigurationError: missing credentials, private key or id column. Fatal, never retried.
//   - TransportError: non-2xx response or network failure while paginating. Aborts the cycle only.
//   - DataShapeError: headers cannot be derived because no record is available.
package syncerr

import (
	"errors"
	"fmt"
	"unicode/utf8"
)

// maxBodyLen bounds the response body kept on a TransportError.
const maxBodyLen = 512

// ConfigurationError reports a setup problem that retrying cannot fix.
type ConfigurationError struct {
	Op     string
	Reason string
	Err    error
}

func (e *ConfigurationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: configuration error: %s: %v", e.Op, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: configuration error: %s", e.Op, e.Reason)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// Configuration builds a ConfigurationError.
func Configuration(op, reason string, err error) error {
	return &ConfigurationError{Op: op, Reason: reason, Err: err}
}

// TransportError reports a failed request against an aggregator endpoint.
// StatusCode is zero when the request never produced a response.
type TransportError struct {
	Endpoint   string
	StatusCode int
	Body       string
	Err        error
}

func (e *TransportError) Error() string {
	switch {
	case e.StatusCode != 0:
		return fmt.Sprintf("transport error: %s returned %d: %s", e.Endpoint, e.StatusCode, e.Body)
	case e.Err != nil:
		return fmt.Sprintf("transport error: %s: %v", e.Endpoint, e.Err)
	default:
		return fmt.Sprintf("transport error: %s", e.Endpoint)
	}
}

func (e *TransportError) Unwrap() error { return e.Err }

// Transport builds a TransportError, truncating body to a loggable size
// on a rune boundary.
func Transport(endpoint string, statusCode int, body []byte, err error) error {
	b := string(body)
	if len(b) > maxBodyLen {
		cut := maxBodyLen
		for cut > 0 && !utf8.RuneStart(b[cut]) {
			cut--
		}
		b = b[:cut] + "..."
	}
	return &TransportError{Endpoint: endpoint, StatusCode: statusCode, Body: b, Err: err}
}

// DataShapeError reports that a payload cannot be projected onto the store.
type DataShapeError struct {
	Reason string
}

func (e *DataShapeError) Error() string {
	return "data shape error: " + e.Reason
}

// DataShape builds a DataShapeError.
func DataShape(reason string) error {
	return &DataShapeError{Reason: reason}
}

// IsConfiguration reports whether err wraps a ConfigurationError.
func IsConfiguration(err error) bool {
	var target *ConfigurationError
	return errors.As(err, &target)
}

// IsTransport reports whether err wraps a TransportError.
func IsTransport(err error) bool {
	var target *TransportError
	return errors.As(err, &target)
}

// IsDataShape reports whether err wraps a DataShapeError.
func IsDataShape(err error) bool {
	var target *DataShapeError
	return errors.As(err, &target)
}
