package session

import "errors"

var (
	// ErrSessionExists у диалога уже есть сессия
	ErrSessionExists = errors.New("session: session already exists for call")
	// ErrNotRunning SIP сервер не подключен к реестру
	ErrNotRunning = errors.New("session: signaling not running")
	// ErrNoActiveCall нет активных звонков
	ErrNoActiveCall = errors.New("session: no active call")
	// ErrEmptyText пустой текст для симуляции
	ErrEmptyText = errors.New("session: empty text")
)
