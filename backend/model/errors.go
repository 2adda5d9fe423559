package model

import "errors"

// Wire error codes.
const (
	CodeInvalidRequest = "invalid_request"
	CodeRoomNotFound   = "room_not_found"
	CodeRoomFull       = "room_full"
	CodeRoomMismatch   = "room_mismatch"
	CodeNotJoined      = "not_joined"
	CodeAlreadyJoined  = "already_joined"
	CodeRateLimited    = "rate_limited"
	CodeExecutionBusy  = "execution_busy"
	CodeInternal       = "internal"
)

var (
	ErrInvalidRequest = errors.New("invalid request")
	ErrRoomNotFound   = errors.New("room is not found")
	ErrRoomFull       = errors.New("room is full")
	ErrRoomNotEmpty   = errors.New("room is not empty")
	ErrRoomMismatch   = errors.New("message targets a room the connection has not joined")
	ErrNotJoined      = errors.New("connection has not joined a room")
	ErrAlreadyJoined  = errors.New("connection has already joined a room")
	ErrRateLimited    = errors.New("too many messages")
	ErrExecutionBusy  = errors.New("an execution is already running in this room")

	ErrExecutionBackendUnavailable = errors.New("code execution backend is unavailable")
)

// ErrorCode maps err to its wire code. Unknown errors become CodeInternal.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return CodeInvalidRequest
	case errors.Is(err, ErrRoomNotFound):
		return CodeRoomNotFound
	case errors.Is(err, ErrRoomFull):
		return CodeRoomFull
	case errors.Is(err, ErrRoomMismatch):
		return CodeRoomMismatch
	case errors.Is(err, ErrNotJoined):
		return CodeNotJoined
	case errors.Is(err, ErrAlreadyJoined):
		return CodeAlreadyJoined
	case errors.Is(err, ErrRateLimited):
		return CodeRateLimited
	case errors.Is(err, ErrExecutionBusy):
		return CodeExecutionBusy
	}
	return CodeInternal
}
