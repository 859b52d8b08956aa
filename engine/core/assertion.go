package core

import (
	"fmt"
	"sync/atomic"

	"github.com/cockroachdb/errors"
)

// FatalHandler receives unrecoverable conditions. The default handler logs
// at fatal level, which terminates the process.
type FatalHandler func(err error)

var fatalHandler atomic.Pointer[FatalHandler]

func defaultFatalHandler(err error) {
	LogFatal("%+v", err)
}

// SetFatalHandler replaces the handler used by Fatal and Verify and returns
// the previous one. Passing nil restores the default handler.
func SetFatalHandler(h FatalHandler) FatalHandler {
	if h == nil {
		h = defaultFatalHandler
	}
	prev := fatalHandler.Swap(&h)
	if prev == nil {
		return defaultFatalHandler
	}
	return *prev
}

// Fatal reports an unrecoverable condition. Resource exhaustion, corrupt
// asset data, transfer timeouts and allocator misuse all end up here.
func Fatal(err error) {
	if err == nil {
		return
	}
	h := fatalHandler.Load()
	if h == nil {
		defaultFatalHandler(errors.Mark(err, ErrFatal))
		return
	}
	(*h)(errors.Mark(err, ErrFatal))
}

// Verify calls Fatal when cond does not hold.
func Verify(cond bool, msg string, args ...interface{}) {
	if cond {
		return
	}
	Fatal(errors.AssertionFailedWithDepthf(1, "%s", fmt.Sprintf(msg, args...)))
}

// VerifyNonFatal logs an error when cond does not hold and reports whether
// it held.
func VerifyNonFatal(cond bool, msg string, args ...interface{}) bool {
	if !cond {
		LogError("verification failed: "+msg, args...)
	}
	return cond
}
