package diagnosis

import (
	"sync"

	"github.com/agrisol/cropdoctor/internal/logger"
)

var (
	pkgLogger  logger.Logger
	loggerOnce sync.Once
)

// GetLogger returns the diagnosis module logger
func GetLogger() logger.Logger {
	loggerOnce.Do(func() {
		pkgLogger = logger.Global().Module("diagnosis")
	})
	return pkgLogger
}
