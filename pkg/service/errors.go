package service

import "errors"

var (
	ErrChatNotFound       = errors.New("chat not found")
	ErrUserNotFound       = errors.New("user not found")
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrPasswordNotSet     = errors.New("PASSWORD_NOT_SET")
	ErrModelNotConfigured = errors.New("model not configured")
	ErrStreamCancelled    = errors.New("stream cancelled")
	ErrStreamSuperseded   = errors.New("stream superseded by a newer request")
	ErrStreamNotOwned     = errors.New("stream belongs to another user")
	ErrClientDisconnected = errors.New("client disconnected")
)
