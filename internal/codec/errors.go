package codec

import (
	"errors"
	"fmt"
)

// ErrSkip marks an account block that does not carry a tracked bridge call.
// It is expected for most of the feed and is not a failure.
var ErrSkip = errors.New("not a bridge call")

// ErrNotNotification is returned for frames that are not subscription notifications.
var ErrNotNotification = errors.New("not a subscription notification")

// MalformedError reports a recognized call whose payload could not be decoded.
// Have and Want describe the truncation point when the payload is short.
type MalformedError struct {
	Method string
	Field  string
	Have   int
	Want   int
	Err    error
}

func (e *MalformedError) Error() string {
	switch {
	case e.Want > 0 && e.Have < e.Want:
		return fmt.Sprintf("malformed %s payload: truncated at %d bytes, want %d", e.Method, e.Have, e.Want)
	case e.Field != "":
		return fmt.Sprintf("malformed %s payload: field %s: %v", e.Method, e.Field, e.Err)
	default:
		return fmt.Sprintf("malformed %s payload: %v", e.Method, e.Err)
	}
}

func (e *MalformedError) Unwrap() error {
	return e.Err
}

// IsMalformed reports whether err is a MalformedError.
func IsMalformed(err error) bool {
	var malformed *MalformedError
	return errors.As(err, &malformed)
}
