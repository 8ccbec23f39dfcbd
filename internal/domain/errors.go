package domain

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrCreationFailed   = errors.New("creation failed")
	ErrPipelineFailed   = errors.New("pipeline failed")
	ErrNoResult         = errors.New("no acceptable result")
	ErrUnsupportedMedia = errors.New("unsupported media")
	ErrMediaTooLarge    = errors.New("media too large")
	ErrMediaUnreadable  = errors.New("media unreadable")
	ErrBrokenLink       = errors.New("broken link")
	ErrPanelFull        = errors.New("panel full")
	ErrJobTimeout       = errors.New("job wait timed out")
)
