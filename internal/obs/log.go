package obs

import (
	"sync"

	"go.uber.org/zap"
)

var (
	loggerMu sync.Mutex
	logger   *zap.Logger
)

// Logger returns the shared structured logger used across the service.
func Logger() *zap.Logger {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	if logger == nil {
		cfg := zap.NewProductionConfig()
		cfg.DisableStacktrace = true
		l, err := cfg.Build()
		if err != nil {
			l = zap.NewNop()
		}
		logger = l
	}
	return logger
}

// ReplaceLogger swaps the shared logger and returns a restore func. Test use only.
func ReplaceLogger(l *zap.Logger) func() {
	loggerMu.Lock()
	prev := logger
	logger = l
	loggerMu.Unlock()
	return func() {
		loggerMu.Lock()
		logger = prev
		loggerMu.Unlock()
	}
}
