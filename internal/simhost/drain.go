package simhost

import "sync/atomic"

// drainFlag marks a host as draining, per host rather than process-wide so
// the simulator can roll hosts one at a time.
type drainFlag struct {
	on atomic.Bool
}

func (d *drainFlag) Set(on bool)      { d.on.Store(on) }
func (d *drainFlag) IsDraining() bool { return d.on.Load() }
