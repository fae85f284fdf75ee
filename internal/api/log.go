package api

import (
	"sync"

	"github.com/agrisol/cropdoctor/internal/logger"
)

var (
	pkgLogger  logger.Logger
	loggerOnce sync.Once
)

// GetLogger returns the HTTP server module logger
func GetLogger() logger.Logger {
	loggerOnce.Do(func() {
		pkgLogger = logger.Global().Module("http")
	})
	return pkgLogger
}
