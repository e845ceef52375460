package coordinator

import (
	"fmt"
)

// ErrorCode is the machine-checkable category of a coordinator failure.
type ErrorCode string

const (
	CodeValidation ErrorCode = "validation_error"
	CodeForbidden  ErrorCode = "forbidden"
	CodeNotFound   ErrorCode = "not_found"
	CodeInternal   ErrorCode = "internal_error"
)

// Error is a typed, non-retryable coordinator failure. Reason narrows the
// category to a stable identifier callers can match on.
type Error struct {
	Code    ErrorCode `json:"code"`
	Reason  string    `json:"reason"`
	Message string    `json:"message"`
	Err     error     `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s", e.Message, e.Err.Error())
	}

	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func NewValidationError(msg string) *Error {
	return &Error{
		Code:    CodeValidation,
		Reason:  "invalid_input",
		Message: msg,
	}
}

func NewNotAMemberError() *Error {
	return &Error{
		Code:    CodeForbidden,
		Reason:  "not_a_member",
		Message: "user is not a participant of this room",
	}
}

func NewNotCreatorError() *Error {
	return &Error{
		Code:    CodeForbidden,
		Reason:  "not_creator",
		Message: "only the room creator may perform this action",
	}
}

func NewRoomInactiveError() *Error {
	return &Error{
		Code:    CodeForbidden,
		Reason:  "room_inactive",
		Message: "room is no longer active",
	}
}

func NewRoomFullError() *Error {
	return &Error{
		Code:    CodeForbidden,
		Reason:  "room_full",
		Message: "room has reached its maximum number of participants",
	}
}

func NewWrongPasswordError() *Error {
	return &Error{
		Code:    CodeForbidden,
		Reason:  "wrong_password",
		Message: "incorrect room password",
	}
}

func NewRoomNotFoundError() *Error {
	return &Error{
		Code:    CodeNotFound,
		Reason:  "room_not_found",
		Message: "room not found",
	}
}

func NewTargetNotFoundError() *Error {
	return &Error{
		Code:    CodeNotFound,
		Reason:  "target_not_found",
		Message: "target user is not a participant of this room",
	}
}

func NewParticipantNotFoundError() *Error {
	return &Error{
		Code:    CodeNotFound,
		Reason:  "participant_not_found",
		Message: "user is not a participant of this room",
	}
}

func NewSelfKickError() *Error {
	return &Error{
		Code:    CodeValidation,
		Reason:  "self_kick",
		Message: "cannot kick yourself",
	}
}

func NewInternalError(err error) *Error {
	return &Error{
		Code:    CodeInternal,
		Reason:  "internal",
		Message: "internal error",
		Err:     err,
	}
}
