package domain

import (
	"errors"
	"fmt"
)

// Ошибки уровня домена. Хендлеры отображают их в HTTP-статусы,
// сервисы никогда не оборачивают их так, чтобы терялся errors.Is.
var (
	// ErrQuotaExceeded возвращается, когда резервирование не помещается в квоту
	// пользователя (с учетом допуска GraceBytes) либо исчерпан лимит попыток CAS.
	ErrQuotaExceeded = errors.New("storage quota exceeded")

	// ErrDuplicateContent — не сбой, а нормальный исход: контент с таким
	// отпечатком уже зафиксирован за другим видео этого пользователя.
	ErrDuplicateContent = errors.New("duplicate content")

	// ErrReservationNotFound — резервирование уже завершено или отменено.
	ErrReservationNotFound = errors.New("upload reservation not found")

	// ErrReservationMismatch — ключ объекта не совпадает с зарезервированным.
	ErrReservationMismatch = errors.New("upload reservation mismatch")

	// ErrTransactionConflict — транзакция хранилища отклонена по предусловию
	// после исчерпания внутренних повторов.
	ErrTransactionConflict = errors.New("transaction conflict")

	// ErrVideoNotFound — запись о видео отсутствует.
	ErrVideoNotFound = errors.New("video not found")

	// ErrForbiddenKey — ключ объекта лежит вне пространства имен пользователя.
	ErrForbiddenKey = errors.New("object key outside caller namespace")
)

// ValidationError описывает отклоненный без повторов некорректный ввод.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

func NewValidationError(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// IsValidation сообщает, является ли ошибка ошибкой валидации.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
