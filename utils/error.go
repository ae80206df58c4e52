package utils

import "errors"

var ErrorRecordNotFound = errors.New("record not found")

// ErrorUpstreamFeed wraps failures coming from the external bank feed so
// callers can tell them apart from local store failures.
var ErrorUpstreamFeed = errors.New("upstream feed error")
