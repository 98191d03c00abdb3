package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/autoanosis/ai-relay-go/internal/config"
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Field names shared by every request-scoped log line.
const (
	FieldRequestID = "request_id"
	FieldClientIP  = "client_ip"
)

// NewLogger builds the relay logger from the logging section of the config.
func NewLogger(cfg *config.LoggingConfig) (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}

	out, err := openOutput(cfg)
	if err != nil {
		return nil, fmt.Errorf("log output: %w", err)
	}

	logger := logrus.New()
	logger.SetLevel(level)
	logger.SetFormatter(newFormatter(cfg.Format))
	logger.SetOutput(out)
	return logger, nil
}

func newFormatter(format string) logrus.Formatter {
	if format == "text" {
		return &logrus.TextFormatter{
			TimestampFormat: "2006-01-02 15:04:05",
			FullTimestamp:   true,
		}
	}
	return &logrus.JSONFormatter{
		TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime:  "timestamp",
			logrus.FieldKeyLevel: "level",
			logrus.FieldKeyMsg:   "message",
		},
	}
}

// openOutput returns stdout, stderr, or a size-rotated file.
func openOutput(cfg *config.LoggingConfig) (io.Writer, error) {
	switch cfg.Output {
	case "", "stdout":
		return os.Stdout, nil
	case "stderr":
		return os.Stderr, nil
	case "file":
		if err := os.MkdirAll(filepath.Dir(cfg.File.Path), 0o755); err != nil {
			return nil, err
		}
		return &lumberjack.Logger{
			Filename:   cfg.File.Path,
			MaxSize:    cfg.File.MaxSize, // megabytes
			MaxBackups: cfg.File.MaxBackups,
			MaxAge:     cfg.File.MaxAge, // days
			Compress:   true,
		}, nil
	default:
		return nil, fmt.Errorf("unknown output %q", cfg.Output)
	}
}

// WithRequest scopes a logger to one HTTP request.
func WithRequest(logger *logrus.Logger, requestID, clientIP string) *logrus.Entry {
	return logger.WithFields(logrus.Fields{
		FieldRequestID: requestID,
		FieldClientIP:  clientIP,
	})
}
