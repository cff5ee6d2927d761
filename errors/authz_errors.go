// errors/authz_errors.go
package errors

import "errors"

var (
	ErrServiceNotFound    = errors.New("service not found in policy admin")
	ErrRefresherStopped   = errors.New("policy refresher is not running")
	ErrRefresherRunning   = errors.New("policy refresher is already running")
	ErrSearchFailed       = errors.New("search query execution failed")
	ErrVertexLookupFailed = errors.New("vertex property lookup failed")
	ErrInvalidRequest     = errors.New("invalid request payload")
	ErrUnauthorized       = errors.New("unauthorized")
)
