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

// Package port implements the PTP (IEEE 1588) per-port state engine: the
// event-driven, non-blocking coordinator that tracks port role, emits
// correctly sequenced on-wire messages, folds ingress timestamps into
// measurements, and returns action streams for an external I/O layer to
// execute. The engine itself never touches a clock, a socket, or a timer;
// those are the capabilities below, supplied by the caller.

// Clock is the exclusive-borrow handle to the OS/hardware clock. Borrow
// must fail fast (return false) on reentrant access rather than block -
// the engine has no suspension points and never retries internally.
type Clock interface {
	// Borrow attempts to take exclusive access to the clock for the
	// duration of fn. It reports whether the borrow succeeded; if it
	// didn't (the clock handle is already held), fn is not called.
	Borrow(fn func(now Time)) (ok bool)
	// Adjust steps/slews the clock by offset and scales its frequency by
	// freq (1.0 = no rate change), informed by the current TimePropertiesDS.
	Adjust(offset Duration, freq float64, tp TimePropertiesDS) error
}

// Filter absorbs measurements and turns them into correction proposals. The
// engine treats it as an opaque consumer; filter/servo design is out of
// scope for this package.
type Filter interface {
	Sample(m Measurement) (offsetCorrection Duration, ok bool)
}

// Rng supplies the jitter used to spread DelayReq transmissions across
// their mean interval.
type Rng interface {
	// Float64 returns a pseudo-random number in [0.0, 1.0).
	Float64() float64
}

// Logger is the minimal structured-logging surface the engine needs. It is
// satisfied by a *logrus.Entry (see logrusAdapter in cmd/ptpportd),
// keeping the core itself free of any concrete logging dependency.
type Logger interface {
	Debugf(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// nopLogger discards everything; used when the caller passes a nil Logger.
type nopLogger struct{}

func (nopLogger) Debugf(string, ...interface{}) {}
func (nopLogger) Warnf(string, ...interface{})  {}
func (nopLogger) Errorf(string, ...interface{}) {}

func orNop(l Logger) Logger {
	if l == nil {
		return nopLogger{}
	}
	return l
}
