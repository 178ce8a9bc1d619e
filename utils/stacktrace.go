package utils

import (
	"runtime/debug"

	log "github.com/sirupsen/logrus"
)

// StackTraceFromPanic logs stack trace
func StackTraceFromPanic(logger *log.Entry) {
	if r := recover(); r != nil {
		logger.Errorf("%v", r)
		logger.Errorf("stacktrace from panic: %s", string(debug.Stack()))
		panic(r)
	}
}
