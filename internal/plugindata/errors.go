package plugindata

import (
	"errors"
	"fmt"

	"github.com/pluginhub/pluginhub/internal/plugins"
)

// Kind classifies why a plugin data operation failed.
type Kind string

const (
	KindNumberMissing    Kind = "NUMBER_MISSING"
	KindQueryInvalid     Kind = "QUERY_INVALID"
	KindConnectorMissing Kind = "CONNECTOR_MISSING"
	KindPluginDisabled   Kind = "PLUGIN_DISABLED"
	KindDataInvalid      Kind = "DATA_INVALID"
	KindUnauthorised     Kind = "UNAUTHORISED"
	KindDataNotFound     Kind = "DATA_NOT_FOUND"
	// KindConnector wraps any error returned by the connector itself.
	KindConnector Kind = "CONNECTOR_ERROR"
)

// Error is a failed step of a plugin data operation.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

func connectorError(err error) *Error {
	if errors.Is(err, plugins.ErrDataNotFound) {
		return &Error{Kind: KindDataNotFound, Err: err}
	}
	return &Error{Kind: KindConnector, Err: err}
}

// KindOf returns the Kind carried by err, or "" when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
