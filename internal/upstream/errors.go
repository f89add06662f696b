package upstream

import (
	"errors"
	"fmt"
)

// Category is the normalized failure taxonomy for upstream reads.
type Category string

const (
	// CategoryTimeout: the call exceeded its deadline.
	CategoryTimeout Category = "timeout"
	// CategoryNetwork: the request never produced an HTTP response.
	CategoryNetwork Category = "network"
	// CategoryBadStatus: a non-2xx response.
	CategoryBadStatus Category = "bad_status"
	// CategoryBadData: a 2xx response that could not be decoded into the expected shape.
	CategoryBadData Category = "bad_data"
	// CategoryUpstreamData: a decodable response carrying an explicit error field.
	CategoryUpstreamData Category = "upstream_data"
)

// Error wraps an upstream failure with its category. Message may contain raw
// upstream text and must never be shown to end users.
type Error struct {
	Category   Category
	Action     string
	Message    string
	StatusCode int
	Underlying error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("upstream %s [%s]: %s", e.Action, e.Category, e.Message)
	if e.Underlying != nil {
		msg += ": " + e.Underlying.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Underlying
}

func newError(category Category, action, message string, underlying error) *Error {
	return &Error{Category: category, Action: action, Message: message, Underlying: underlying}
}

// CategoryOf extracts the category from an error chain. Errors that did not
// come from this package report CategoryNetwork.
func CategoryOf(err error) Category {
	var ue *Error
	if errors.As(err, &ue) {
		return ue.Category
	}
	return CategoryNetwork
}

// IsUpstreamData reports whether the upstream answered with an explicit error field.
func IsUpstreamData(err error) bool {
	return err != nil && CategoryOf(err) == CategoryUpstreamData
}
