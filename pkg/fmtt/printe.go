// Package fmtt dumps an error chain one layer at a time, for procdctl's
// --debug flag. procd's own errors nest deeply by the time they reach the
// CLI — a wire.ErrIO or wire.ErrProtocol wrapping a net.OpError wrapping a
// syscall.Errno, or a procdclient.FailureError carrying the supervisor's
// NO_SUCH_JOB/JOB_STARTED/JOB_STOPPED reason — and the one-line
// Error() string collapses all of that into something too thin to debug a
// misbehaving job from.
package fmtt

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/davecgh/go-spew/spew"
)

// PrintErrChainDebug walks err's Unwrap chain top to bottom, printing each
// layer's concrete type, its Error() text, a spew dump of its fields, and
// whether it exposes Unwrap/Cause — enough to tell, for example, whether a
// failed `procdctl start` bottomed out in wire.ErrIO (a transport problem)
// versus a procdclient.FailureError with reason NO_SUCH_JOB (an operator
// typo).
func PrintErrChainDebug(err error) {
	if err == nil {
		fmt.Println("<nil>")
		return
	}

	for i := 0; err != nil; err = errors.Unwrap(err) {
		fmt.Printf("[%d] %T\n", i, err)
		fmt.Printf("   Error(): %v\n", err)

		spew.Dump(err)

		rv := reflect.ValueOf(err)
		rt := reflect.TypeOf(err)
		if rt.Kind() == reflect.Ptr {
			rv = rv.Elem()
			rt = rt.Elem()
		}
		if rt.Kind() == reflect.Struct {
			for j := 0; j < rt.NumField(); j++ {
				f := rt.Field(j)
				v := rv.Field(j)
				if v.CanInterface() {
					fmt.Printf("   Field %s (%s): %+v\n", f.Name, f.Type, v.Interface())
				}
			}
		}

		if u, ok := err.(interface{ Unwrap() error }); ok {
			fmt.Printf("   Has Unwrap(): %T\n", u.Unwrap())
		}
		if c, ok := err.(interface{ Cause() error }); ok {
			fmt.Printf("   Has Cause(): %T\n", c.Cause())
		}

		i++
	}
}
