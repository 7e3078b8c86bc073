// Package classes holds the command class definitions known to the stack.
package classes

import "zwave-go-home/internal/cc"

// RegisterStandard registers every command class implemented here.
func RegisterStandard(r *cc.Registry) {
	r.Register(Meter)  // 0x32
	r.Register(WakeUp) // 0x84
}
