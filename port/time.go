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

package port

import (
	"fmt"

	ptp "github.com/ptpcore/port/ptp/protocol"
)

// Duration is a signed, scaled nanosecond duration: 64 bits of nanoseconds
// with 16 fractional bits, matching the on-wire PTP TimeInterval/
// correctionField representation exactly. It is the same type the codec
// uses for Header.CorrectionField, so correction arithmetic never needs a
// conversion.
type Duration = ptp.Correction

// NewDuration builds a Duration from a whole number of nanoseconds.
func NewDuration(ns int64) Duration {
	return Duration(ns << 16)
}

// Time is a 96-bit fixed-point instant: 64 integer bits of nanoseconds
// since the PTP epoch, plus a 32-bit fractional nanosecond residue. This
// mirrors the reference implementation's U96F32 (see DESIGN.md, "Time
// representation") rather than the seconds-scaled layout one might guess
// from the field names alone.
type Time struct {
	Nanos int64
	Frac  uint32 // sub-nanosecond residue, units of 2^-32 ns
}

// NewTime builds a Time from whole nanoseconds with a zero fractional part.
func NewTime(nanos int64) Time {
	return Time{Nanos: nanos}
}

// FracDuration returns the fractional residue expressed as a Duration
// (2^-16-ns ticks), the scale correctionField arithmetic is carried out in.
// This is the exact conversion the S1/S3 scenarios exercise: an ingress
// timestamp's sub-nanosecond residue folds into correctionField via
// Frac >> 16.
func (t Time) FracDuration() Duration {
	return Duration(t.Frac >> 16)
}

// Sub returns t - u as a Duration, truncating to whole nanoseconds (the
// fractional residues are not carried through subtraction; callers that
// need sub-nanosecond precision in the result should fold FracDuration in
// themselves, as MasterState.handleEventReceive does for correctionField).
func (t Time) Sub(u Time) Duration {
	return NewDuration(t.Nanos - u.Nanos)
}

// Add returns t shifted by d, dropping d's fractional bits below whole
// nanoseconds (symmetric with Sub).
func (t Time) Add(d Duration) Time {
	return Time{Nanos: t.Nanos + int64(d)>>16, Frac: t.Frac}
}

// ToWireTimestamp truncates t to the wire Timestamp representation
// (48-bit seconds, 32-bit nanoseconds), dropping the fractional residue
// entirely - the wire format has no sub-nanosecond field.
func (t Time) ToWireTimestamp() ptp.Timestamp {
	secs := t.Nanos / 1e9
	nanos := t.Nanos % 1e9
	ts := ptp.Timestamp{Nanoseconds: uint32(nanos)}
	ts.Seconds[0] = byte(secs >> 40)
	ts.Seconds[1] = byte(secs >> 32)
	ts.Seconds[2] = byte(secs >> 24)
	ts.Seconds[3] = byte(secs >> 16)
	ts.Seconds[4] = byte(secs >> 8)
	ts.Seconds[5] = byte(secs)
	return ts
}

// TimeFromWireTimestamp converts a wire Timestamp to a Time with a zero
// fractional part (the wire format carries no sub-nanosecond residue).
func TimeFromWireTimestamp(ts ptp.Timestamp) Time {
	return Time{Nanos: int64(ts.Seconds.Seconds())*1e9 + int64(ts.Nanoseconds)}
}

func (t Time) String() string {
	return fmt.Sprintf("Time(%dns+%d/2^32)", t.Nanos, t.Frac)
}
