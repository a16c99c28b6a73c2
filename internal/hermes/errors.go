package hermes

import (
	"errors"
	"fmt"
)

var (
	// ErrNodeUnavailable matches every NodeUnavailableError via errors.Is.
	ErrNodeUnavailable = errors.New("hermes: node unavailable")

	// ErrProxyNotFound matches every ProxyNotFoundError via errors.Is.
	ErrProxyNotFound = errors.New("hermes: proxy not found")
)

// NodeUnavailableError reports that the agent could not be queried: the
// request timed out, the connection was refused, the agent answered with a
// non-200 status, or the response body was not valid JSON or lacked a
// requested field.
type NodeUnavailableError struct {
	URL    string
	Reason string
	Err    error
}

func (e *NodeUnavailableError) Error() string {
	return fmt.Sprintf("failed to get stats from %s: %s", e.URL, e.Reason)
}

func (e *NodeUnavailableError) Unwrap() error { return e.Err }

func (e *NodeUnavailableError) Is(target error) bool {
	return target == ErrNodeUnavailable
}

// ProxyNotFoundError reports that the agent answered but did not list the
// requested proxy.
type ProxyNotFoundError struct {
	Proxy string
	Host  string
}

func (e *ProxyNotFoundError) Error() string {
	return fmt.Sprintf("proxy %q was not found on %s", e.Proxy, e.Host)
}

func (e *ProxyNotFoundError) Is(target error) bool {
	return target == ErrProxyNotFound
}
