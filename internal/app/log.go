package app

import (
	"sync"

	"github.com/agrisol/cropdoctor/internal/logger"
)

var (
	pkgLogger  logger.Logger
	loggerOnce sync.Once
)

// GetLogger returns the application wiring module logger
func GetLogger() logger.Logger {
	loggerOnce.Do(func() {
		pkgLogger = logger.Global().Module("app")
	})
	return pkgLogger
}
