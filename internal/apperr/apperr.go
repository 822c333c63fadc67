// Package apperr описывает классы ошибок сервиса и их отображение
// в HTTP-статусы. Класс ошибки переживает обёртывание через fmt.Errorf.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind - класс ошибки.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindMixedPlan
	KindConflict
	KindNotFound
	KindExternal
	KindInvariant
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindMixedPlan:
		return "mixed_plan"
	case KindConflict:
		return "conflict"
	case KindNotFound:
		return "not_found"
	case KindExternal:
		return "external_service"
	case KindInvariant:
		return "invariant_violation"
	default:
		return "internal"
	}
}

// Error - ошибка с классом, операцией и сообщением для клиента.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Err != nil && e.Msg != "":
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// E собирает ошибку заданного класса.
func E(kind Kind, op, msg string, err error) error {
	return &Error{Kind: kind, Op: op, Msg: msg, Err: err}
}

// Validation - некорректный или неполный ввод.
func Validation(op, msg string) error {
	return E(KindValidation, op, msg, nil)
}

// MixedPlan - в одной покупке совмещены пробный и обычный планы.
func MixedPlan(op string) error {
	return E(KindMixedPlan, op, "cannot combine trial plans with regular plans", nil)
}

// Conflict - запрос противоречит текущему состоянию пользователя.
func Conflict(op, msg string) error {
	return E(KindConflict, op, msg, nil)
}

// NotFound - сущность не найдена.
func NotFound(op, msg string) error {
	return E(KindNotFound, op, msg, nil)
}

// External - сбой внешнего сервиса (каталог, оплата, уведомления).
func External(op string, err error) error {
	return E(KindExternal, op, "external service failure", err)
}

// Invariant - нарушение инварианта, событие должно быть отклонено целиком.
func Invariant(op, msg string) error {
	return E(KindInvariant, op, msg, nil)
}

// KindOf возвращает класс первой ошибки apperr в цепочке.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is сообщает, относится ли err к классу kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Message возвращает сообщение, безопасное для отдачи клиенту.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Msg != "" {
		return e.Msg
	}
	return "internal error"
}

// HTTPStatus отображает класс ошибки в HTTP-статус.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation, KindMixedPlan:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
