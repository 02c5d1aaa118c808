package domain

import "errors"

var (
	// ErrNotFound возвращается когда запись не найдена
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput возвращается при некорректных входных данных
	ErrInvalidInput = errors.New("invalid input")

	// ErrValidationFailed возвращается когда сделка не прошла проверки капитала/позиций
	ErrValidationFailed = errors.New("trade validation failed")

	// ErrAllocationRejected возвращается когда хранилище отклонило условное резервирование капитала
	ErrAllocationRejected = errors.New("capital allocation rejected")

	// ErrTradeNotActive возвращается при попытке закрыть уже закрытую сделку
	ErrTradeNotActive = errors.New("trade is not active")

	// ErrPriceUnavailable возвращается когда котировку не удалось получить
	ErrPriceUnavailable = errors.New("price unavailable")

	// ErrNotificationFailed возвращается при ошибке доставки уведомления
	ErrNotificationFailed = errors.New("notification delivery failed")

	// ErrDataIntegrity возвращается при ошибке записи в хранилище
	ErrDataIntegrity = errors.New("data integrity error")

	// ErrUnknownMarket возвращается для неизвестного рынка
	ErrUnknownMarket = errors.New("unknown market")

	// ErrConfiguration возвращается при отсутствии обязательной настройки
	ErrConfiguration = errors.New("configuration error")

	// ErrLeaseHeld возвращается когда lease удерживает другой инстанс
	ErrLeaseHeld = errors.New("lease held by another instance")

	// ErrDatabaseConnection возвращается при ошибке подключения к БД
	ErrDatabaseConnection = errors.New("database connection error")
)
