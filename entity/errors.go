package entity

import "errors"

// 错误类型，调用方通过errors.Is判断
var (
	ErrNotFound         = errors.New("not found")
	ErrConflict         = errors.New("override held by another route")
	ErrNotOwner         = errors.New("not the override owner")
	ErrRouteUnavailable = errors.New("route unavailable")
	ErrInvalidInput     = errors.New("invalid input")
)
