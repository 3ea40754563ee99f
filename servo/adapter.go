/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package servo

import (
	"github.com/ptpcore/port/port"
)

// PortFilter adapts a PiServo to the port engine's port.Filter capability:
// the engine hands it Measurements, opaque to the servo's internals, and
// reads back a frequency correction whenever the servo considers itself
// locked.
type PortFilter struct {
	servo *PiServo
}

// NewPortFilter wraps an already-configured PiServo for use as a
// port.Filter.
func NewPortFilter(s *PiServo) *PortFilter {
	return &PortFilter{servo: s}
}

// Sample feeds m's offset into the underlying PiServo and reports the
// resulting frequency adjustment (parts per billion, carried in a
// port.Duration the same way correctionField carries fixed-point
// nanoseconds) whenever the servo is locked or filtering. A servo still in
// StateInit or mid-jump reports ok=false: the caller should not apply a
// correction yet.
func (f *PortFilter) Sample(m port.Measurement) (port.Duration, bool) {
	localTs := uint64(m.EventTime.Nanos)
	ppb, state := f.servo.Sample(int64(m.OffsetFromMaster)>>16, localTs)
	switch state {
	case StateLocked, StateFilter:
		return port.NewDuration(int64(ppb)), true
	default:
		return 0, false
	}
}
