package service

import (
	"errors"
	"fmt"
)

var (
	// 业务错误定义
	ErrPollNotFound  = errors.New("poll not found")
	ErrValidation    = errors.New("validation failed")
	ErrPollClosed    = errors.New("poll is closed")
	ErrDuplicateVote = errors.New("participant has already voted in this poll")
	ErrInvalidOption = errors.New("option does not belong to this poll")
)

func validationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
