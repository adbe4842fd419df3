package apperr

import (
	"fmt"
	"net/http"

	"github.com/pkg/errors"
)

// Классы ошибок для маппинга в HTTP-коды. Проверяются через errors.Is,
// обёртки через pkg/errors сохраняют цепочку.
var (
	ErrAuthentication = errors.New("authentication failed")
	ErrValidation     = errors.New("validation failed")
	ErrNotFound       = errors.New("not found")
	ErrConflict       = errors.New("conflict")
	ErrExternal       = errors.New("external service error")
	ErrUnresolved     = errors.New("status mapping unresolved")
)

func Validation(msg string) error {
	return errors.Wrap(ErrValidation, msg)
}

func NotFound(msg string) error {
	return errors.Wrap(ErrNotFound, msg)
}

// External помечает err классом ErrExternal, не теряя исходную цепочку:
// errors.Is находит и класс, и причину.
func External(err error, msg string) error {
	return fmt.Errorf("%s: %w: %w", msg, ErrExternal, err)
}

// HTTPStatus переводит класс ошибки в HTTP-код ответа.
// Неклассифицированные ошибки считаем внутренними (5xx),
// чтобы источник вебхука сам сделал redelivery.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrAuthentication):
		return http.StatusUnauthorized
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
