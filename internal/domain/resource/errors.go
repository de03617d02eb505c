package resource

import "errors"

var (
	ErrResourceNotFound    = errors.New("resource not found")
	ErrResourceUnavailable = errors.New("resource is not available")
	ErrResourceOccupied    = errors.New("resource is currently occupied")
	ErrInvalidStatusChange = errors.New("invalid occupancy status change")
	ErrNotBlocked          = errors.New("resource is not blocked")
)
