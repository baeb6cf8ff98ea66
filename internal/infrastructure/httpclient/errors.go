package httpclient

import "errors"

// ErrServerStatus marks a 5xx response
var ErrServerStatus = errors.New("server error status")
