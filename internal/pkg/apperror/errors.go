package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

type ErrorCode string

const (
	// ErrCodeValidation — некорректный ввод (сумма, роль). Состояние не менялось.
	ErrCodeValidation ErrorCode = "VALIDATION_ERROR"
	// ErrCodeStateConflict — операция несовместима с текущим состоянием
	// (заблокированный escrow, уже ожидающая выплата). Состояние не менялось.
	ErrCodeStateConflict ErrorCode = "STATE_CONFLICT"
	// ErrCodeProvider — провайдер отклонил вызов или не ответил вовремя.
	// Локальных записей не создано, повтор безопасен.
	ErrCodeProvider ErrorCode = "PROVIDER_ERROR"
	// ErrCodeReconciliation — вебхук ссылается на неизвестную запись.
	// Событие зафиксировано и не будет переобработано; требуется оператор.
	ErrCodeReconciliation ErrorCode = "RECONCILIATION_ERROR"
	// ErrCodeConsistency — баланс ушёл бы в минус. Недостижимо при работающих
	// guard-ах; срабатывание означает дефект и требует алерта.
	ErrCodeConsistency ErrorCode = "CONSISTENCY_ERROR"

	ErrCodeNotFound     ErrorCode = "NOT_FOUND"
	ErrCodeUnauthorized ErrorCode = "UNAUTHORIZED"
	ErrCodeForbidden    ErrorCode = "FORBIDDEN"
	ErrCodeInternal     ErrorCode = "INTERNAL_ERROR"
)

type AppError struct {
	Code       ErrorCode
	Message    string
	HTTPStatus int
	Cause      error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: codeToHTTPStatus(code),
	}
}

func Wrap(err error, code ErrorCode, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: codeToHTTPStatus(code),
		Cause:      err,
	}
}

func codeToHTTPStatus(code ErrorCode) int {
	switch code {
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case ErrCodeForbidden:
		return http.StatusForbidden
	case ErrCodeValidation:
		return http.StatusBadRequest
	case ErrCodeStateConflict:
		return http.StatusConflict
	case ErrCodeProvider:
		return http.StatusBadGateway
	case ErrCodeReconciliation:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// CodeOf возвращает код ошибки или ErrCodeInternal для неклассифицированных.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrCodeInternal
}

func IsValidation(err error) bool {
	return CodeOf(err) == ErrCodeValidation
}

func IsStateConflict(err error) bool {
	return CodeOf(err) == ErrCodeStateConflict
}

func IsProvider(err error) bool {
	return CodeOf(err) == ErrCodeProvider
}

func IsNotFound(err error) bool {
	return CodeOf(err) == ErrCodeNotFound
}
