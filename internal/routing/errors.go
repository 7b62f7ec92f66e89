package routing

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrNoCity is the backend's answer for an origin outside every served city.
var ErrNoCity = errors.New("no city found nearby")

// StatusError is a non-2xx backend reply.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("routing backend returned status %d: %s", e.Status, e.Body)
}

var expectedReasons = []string{
	"invalid city",
	"city not valid",
	"no city found nearby",
}

// IsCancellation reports aborted work. It is not a failure and should be
// swallowed silently.
func IsCancellation(err error) bool {
	return errors.Is(err, context.Canceled)
}

// IsExpected reports known, user-caused failures such as picking an origin
// outside every served city. They are not worth alerting on.
func IsExpected(err error) bool {
	if errors.Is(err, ErrNoCity) {
		return true
	}
	var se *StatusError
	if errors.As(err, &se) {
		body := strings.ToLower(se.Body)
		for _, r := range expectedReasons {
			if strings.Contains(body, r) {
				return true
			}
		}
	}
	return false
}
