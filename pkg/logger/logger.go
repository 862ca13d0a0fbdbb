package logger

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Log はアプリケーション全体で共有するロガーです。
// InitLogger を呼ぶ前でも使えるよう、標準設定で初期化しておきます。
var Log = logrus.New()

// InitLogger はログレベルと出力先を設定します。
// filePath が空でなければ標準出力とファイルの両方に書き出します。
func InitLogger(levelStr string, filePath string) error {
	Log = logrus.New()

	Log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})

	level, err := logrus.ParseLevel(levelStr)
	if err != nil {
		level = logrus.InfoLevel
	}
	Log.SetLevel(level)

	writers := []io.Writer{os.Stdout}
	if filePath != "" {
		file, err := os.OpenFile(filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			return err
		}
		writers = append(writers, file)
	}
	Log.SetOutput(io.MultiWriter(writers...))

	return nil
}
