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

package clock

import (
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/ptpcore/port/phc"
	"github.com/ptpcore/port/port"
)

// SystemClock is the port engine's Clock capability backed by a real
// clockid_t (CLOCK_REALTIME by default, or a PHC's dynamic clockid when
// constructed over a /dev/ptpN fd via NewPHCClock). Borrow fails fast
// instead of blocking: a second concurrent Borrow call observes the held
// flag and returns false immediately, matching the engine's
// no-suspension-point contract.
type SystemClock struct {
	clockID int32
	held    atomic.Bool

	// file keeps the PHC device open for the clock's lifetime when built
	// by NewPHCClock; nil for NewSystemClock. Without this reference the
	// *os.File would be collected and its finalizer would close the fd
	// clockID still names.
	file *os.File
}

// NewSystemClock wraps clockid for use as a port.Clock. Pass
// unix.CLOCK_REALTIME for the OS clock; use NewPHCClock instead to adjust
// a NIC's hardware clock directly.
func NewSystemClock(clockID int32) *SystemClock {
	return &SystemClock{clockID: clockID}
}

// NewPHCClock opens the PTP Hardware Clock device backing iface and wraps
// it as a port.Clock via the device's dynamic clockid (phc.Device.ClockID).
// The returned SystemClock owns the device fd and keeps it open for as
// long as the SystemClock itself is reachable.
func NewPHCClock(iface string) (*SystemClock, error) {
	path, err := phc.IfaceToPHCDevice(iface)
	if err != nil {
		return nil, fmt.Errorf("resolving PHC device for %s: %w", iface, err)
	}
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	dev := phc.FromFile(f)
	return &SystemClock{clockID: dev.ClockID(), file: f}, nil
}

// Borrow implements port.Clock.
func (c *SystemClock) Borrow(fn func(now port.Time)) bool {
	if !c.held.CompareAndSwap(false, true) {
		return false
	}
	defer c.held.Store(false)

	var ts unix.Timespec
	if err := unix.ClockGettime(c.clockID, &ts); err != nil {
		return false
	}
	fn(port.Time{Nanos: ts.Sec*1e9 + ts.Nsec})
	return true
}

// Adjust implements port.Clock: freq (1.0 = no rate change) is converted
// from a dimensionless multiplier to the parts-per-billion scale AdjFreqPPB
// expects, then offset is stepped in directly (this is the one-shot
// "discipline now" path; a production loop would instead slew continuously,
// which is a servo/scheduling concern this package doesn't own).
func (c *SystemClock) Adjust(offset port.Duration, freq float64, _ port.TimePropertiesDS) error {
	freqPPB := (freq - 1.0) * 1e9
	if _, err := AdjFreqPPB(c.clockID, freqPPB); err != nil {
		return err
	}
	if offset == 0 {
		return nil
	}
	_, err := Step(c.clockID, offsetToStdDuration(offset))
	return err
}

func offsetToStdDuration(d port.Duration) time.Duration {
	return time.Duration(int64(d) >> 16)
}
