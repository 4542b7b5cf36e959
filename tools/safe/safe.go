package safe

import (
	"fmt"
	"reflect"

	"PPRelay/logger"
	"PPRelay/tools/errs"

	"go.uber.org/zap"
)

// MustNotNil panics if the given value is nil.
// Used while wiring components in main.
func MustNotNil(v any, name string) {
	if v == nil {
		panic(fmt.Sprintf("%s must not be nil", name))
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		if rv.IsNil() {
			panic(fmt.Sprintf("%s must not be nil", name))
		}
	}
}

// Go starts a goroutine that recovers from panic,
// so that one broken task doesn't crash the relay.
func Go(name string, f func()) {
	go func() {
		defer Recover(name)
		f()
	}()
}

// Recover is meant to be deferred; it logs the panic with its stack.
func Recover(name string) {
	if r := recover(); r != nil {
		logger.Log.Error("[safe] panic recovered",
			zap.String("task", name),
			zap.Error(errs.ErrPanic(r)),
			zap.Stack("stack"),
		)
	}
}

// Call runs f and turns a panic into an error.
func Call(f func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errs.ErrPanic(r)
		}
	}()
	return f()
}
