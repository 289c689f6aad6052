package agent

import "errors"

// ErrInvalidSession is returned when a client operation runs before
// CreateSession or after Close. This is a programming error in the caller,
// never retried.
var ErrInvalidSession = errors.New("agent: invalid session")
