package domain

import "errors"

var (
	ErrInvalidCodeFormat  = errors.New("invalid room code format")
	ErrRoomNotFound       = errors.New("room not found")
	ErrRoomFull           = errors.New("room is full")
	ErrNotAuthorized      = errors.New("not authorized")
	ErrBackendUnavailable = errors.New("backend unavailable")
	ErrPathNotFound       = errors.New("path not found")
	ErrInvalidInput       = errors.New("invalid input")
	ErrAlreadyInRoom      = errors.New("already in a room")
)
