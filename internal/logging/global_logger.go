package logging

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// DefaultLogsDir is where rotated log files are written when file logging is enabled.
const DefaultLogsDir = "logs"

var (
	setupOnce  sync.Once
	outputMu   sync.Mutex
	fileWriter *lumberjack.Logger
)

// LogFormatter renders entries as a single line:
// [2006-01-02 15:04:05] [info] [file.go:42] message key=value
type LogFormatter struct{}

// Format implements logrus.Formatter.
func (f *LogFormatter) Format(entry *log.Entry) ([]byte, error) {
	var b *bytes.Buffer
	if entry.Buffer != nil {
		b = entry.Buffer
	} else {
		b = &bytes.Buffer{}
	}

	timestamp := entry.Time.Format("2006-01-02 15:04:05")
	level := entry.Level.String()
	if level == "warning" {
		level = "warn"
	}
	message := strings.TrimRight(entry.Message, "\r\n")

	if entry.Caller != nil {
		fmt.Fprintf(b, "[%s] [%s] [%s:%d] %s", timestamp, level, filepath.Base(entry.Caller.File), entry.Caller.Line, message)
	} else {
		fmt.Fprintf(b, "[%s] [%s] %s", timestamp, level, message)
	}
	for key, value := range entry.Data {
		fmt.Fprintf(b, " %s=%v", key, value)
	}
	b.WriteByte('\n')
	return b.Bytes(), nil
}

// SetupBaseLogger configures the shared logrus instance and routes gin's own
// writers through it. It is safe to call more than once.
func SetupBaseLogger() {
	setupOnce.Do(func() {
		log.SetOutput(os.Stdout)
		log.SetReportCaller(true)
		log.SetFormatter(&LogFormatter{})
		log.AddHook(GlobalBuffer)

		gin.DefaultWriter = log.StandardLogger().WriterLevel(log.InfoLevel)
		gin.DefaultErrorWriter = log.StandardLogger().WriterLevel(log.ErrorLevel)
	})
}

// SetLogLevel maps a textual level onto logrus. Unknown values fall back to info.
func SetLogLevel(level string) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug", "verbose":
		log.SetLevel(log.DebugLevel)
	case "warn", "warning":
		log.SetLevel(log.WarnLevel)
	case "error":
		log.SetLevel(log.ErrorLevel)
	case "quiet", "silent":
		log.SetLevel(log.FatalLevel)
	default:
		log.SetLevel(log.InfoLevel)
	}
}

// ConfigureLogOutput switches between stdout and rotating files under dir.
// An empty dir selects DefaultLogsDir.
func ConfigureLogOutput(loggingToFile bool, dir string) error {
	outputMu.Lock()
	defer outputMu.Unlock()

	if !loggingToFile {
		closeFileWriter()
		log.SetOutput(os.Stdout)
		return nil
	}

	if dir == "" {
		dir = DefaultLogsDir
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("logging: create log directory: %w", err)
	}

	closeFileWriter()
	fileWriter = &lumberjack.Logger{
		Filename:   filepath.Join(dir, "codebuddy-api.log"),
		MaxSize:    10,
		MaxBackups: 5,
		MaxAge:     14,
		Compress:   false,
	}
	log.SetOutput(io.MultiWriter(os.Stdout, fileWriter))
	return nil
}

func closeFileWriter() {
	if fileWriter == nil {
		return
	}
	if errClose := fileWriter.Close(); errClose != nil {
		fmt.Fprintf(os.Stderr, "logging: close log file: %v\n", errClose)
	}
	fileWriter = nil
}
