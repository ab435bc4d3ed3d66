// Package sl содержит вспомогательные функции для работы с логгером slog.
package sl

import "log/slog"

// Err возвращает slog.Attr с ключом "error" и значением текста ошибки.
//
// Пример:
//
//	log.Error("failed to adjust balance", sl.Err(err))
func Err(err error) slog.Attr {
	return slog.Attr{
		Key:   "error",
		Value: slog.StringValue(err.Error()),
	}
}

// Node возвращает slog.Attr с идентификатором узла доступа.
// Используется при логировании результатов рассылки на узлы.
func Node(nodeID string) slog.Attr {
	return slog.Attr{
		Key:   "node",
		Value: slog.StringValue(nodeID),
	}
}
