// Package failfast panics on broken invariants: programming errors no
// caller can handle, such as releasing a mapping more often than it was
// retained or starting a writer without a write function.
package failfast

import (
	"fmt"
	"reflect"
)

// If panics with the formatted message unless cond holds.
func If(cond bool, format string, args ...interface{}) {
	if !cond {
		panic(fmt.Errorf("fail-fast: "+format, args...))
	}
}

// NotNil panics if v is nil. Typed nils (pointers, funcs, maps, chans,
// interfaces, slices) count as nil.
func NotNil(v interface{}, name string) {
	if v == nil {
		panic(fmt.Errorf("fail-fast: %s is nil", name))
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Func, reflect.Map, reflect.Chan, reflect.Interface, reflect.Slice:
		if rv.IsNil() {
			panic(fmt.Errorf("fail-fast: %s is nil", name))
		}
	}
}
