package logger

import "github.com/sirupsen/logrus"

// Log — общий структурированный логгер приложения.
var Log *logrus.Logger

// Init создаёт логгер с заданным уровнем. По умолчанию пишем JSON,
// в development main переключает формат через SetTextFormatter.
func Init(level string) {
	Log = logrus.New()

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	Log.SetLevel(lvl)
	Log.SetFormatter(&logrus.JSONFormatter{})
}

// SetTextFormatter переключает логгер на человекочитаемый вывод.
func SetTextFormatter() {
	if Log != nil {
		Log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
}
