package user

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrUsernameRequired  = errors.New("username is required")
	ErrInvalidUsername   = errors.New("invalid username")
	ErrAuthorityRequired = errors.New("authority name is required")
	ErrInvalidAuthority  = errors.New("invalid authority name")
	ErrAlreadyExists     = errors.New("already exists")
	ErrInvalidStatus     = errors.New("invalid account status")
)
