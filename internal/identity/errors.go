package identity

import "errors"

// ErrUnauthenticated is returned when a request carries no subject.
var ErrUnauthenticated = errors.New("unauthenticated")
