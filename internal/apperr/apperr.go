package apperr

import (
	"errors"
	"fmt"
)

// Kind 标识一类业务失败，传输层据此映射状态码。
type Kind string

const (
	KindNotFound        Kind = "not_found"
	KindInvalidOTP      Kind = "invalid_otp"
	KindOTPExpired      Kind = "otp_expired"
	KindInvalidFormat   Kind = "invalid_format"
	KindInvalidDateTime Kind = "invalid_datetime"
	KindInvalidConfig   Kind = "invalid_config"
	KindAlreadyBooked   Kind = "already_booked"
	KindSlotTaken       Kind = "slot_taken"
	KindPastSlot        Kind = "past_slot"
	KindStorage         Kind = "storage_failure"
)

// Error 是带 Kind 标签的业务错误。
//
// 核心层的每个操作都返回这种可恢复的错误而不是直接中断进程。
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New 创建一个指定 Kind 的错误。
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap 包装底层错误（通常是存储层 I/O 失败）。
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf 提取错误的 Kind；非业务错误返回 KindStorage。
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindStorage
}

// MessageOf 提取面向用户的错误消息。
func MessageOf(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return "internal error"
}

// IsKind 判断错误是否属于指定 Kind。
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
