package logger

import (
	"time"

	"github.com/sirupsen/logrus"
)

// Log — общий логгер сервиса. Инициализируется один раз при старте
// процесса (и сервера, и воркера) до любого другого кода.
var Log *logrus.Logger

// Init инициализирует структурированный логгер с заданным уровнем.
// Невалидный уровень молча понижается до info.
func Init(level string) {
	Log = logrus.New()

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	Log.SetLevel(lvl)

	// JSON для production: агрегатор логов разбирает поля переходов
	// (order_id, reference, milestone) без дополнительного парсинга.
	Log.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: time.RFC3339,
	})
}

// SetTextFormatter переключает логи в текстовый формат (для development).
func SetTextFormatter() {
	if Log != nil {
		Log.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}
}
