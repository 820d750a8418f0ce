package logger

import (
	"io"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

// singleton instances
var (
	consoleLogger *logrus.Logger
	fileLogger    *logrus.Logger
)

// for thread safe singleton
var (
	consoleOnce sync.Once
	fileOnce    sync.Once
	hookOnce    sync.Once

	fileMu  sync.Mutex
	logFile *os.File
)

// console logger
func Console() *logrus.Logger {
	consoleOnce.Do(func() {
		consoleLogger = newConsoleLogger()
	})

	return consoleLogger
}

// File returns the file logger. Until SetFile it writes to the console output.
func File() *logrus.Logger {
	fileOnce.Do(func() {
		fileLogger = newFileLogger()
	})

	return fileLogger
}

// SetFile points the file logger at path and mirrors every console entry
// into it, independent of the console output.
func SetFile(path string) error {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		return err
	}
	l := File()

	fileMu.Lock()
	if logFile != nil {
		logFile.Close()
	}
	logFile = file
	l.SetOutput(file)
	fileMu.Unlock()

	hookOnce.Do(func() {
		Console().AddHook(fileHook{})
	})
	return nil
}

// Configure applies the level to both loggers.
func Configure(level string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	Console().SetLevel(lvl)
	File().SetLevel(lvl)
	return nil
}

// Silence discards console output, used by tests and --quiet. A log file set
// with SetFile keeps receiving entries.
func Silence() {
	Console().SetOutput(io.Discard)
}

// fileHook forwards console entries to the file logger.
type fileHook struct{}

func (fileHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (fileHook) Fire(entry *logrus.Entry) error {
	l := File()
	if !l.IsLevelEnabled(entry.Level) {
		return nil
	}
	line, err := l.Formatter.Format(entry)
	if err != nil {
		return err
	}
	fileMu.Lock()
	defer fileMu.Unlock()
	_, err = l.Out.Write(line)
	return err
}

func newConsoleLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetLevel(logrus.WarnLevel)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})

	return logger
}

func newFileLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.InfoLevel)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
		DisableColors:   true,
	})
	logger.SetOutput(Console().Out)

	return logger
}
