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

import "time"

// ActionKind tags the variant carried by a PortAction.
type ActionKind uint8

const (
	// ActionSendTimeCritical requests the I/O layer send Bytes over the
	// event channel and report back the egress hardware timestamp for Ctx.
	ActionSendTimeCritical ActionKind = iota
	// ActionSendGeneral requests the I/O layer send Bytes over the general
	// channel; no egress timestamp is needed.
	ActionSendGeneral
	// ActionResetAnnounceTimer (re)arms the Announce interval timer.
	ActionResetAnnounceTimer
	// ActionResetSyncTimer (re)arms the Sync interval timer.
	ActionResetSyncTimer
	// ActionResetDelayRequestTimer (re)arms the DelayReq interval timer.
	ActionResetDelayRequestTimer
	// ActionResetAnnounceReceiptTimer (re)arms the Announce-receipt
	// timeout, which the surrounding BMC layer uses to detect a lost
	// master.
	ActionResetAnnounceReceiptTimer
)

// MessageClass identifies which counter/correlation class a
// TimestampContext or SequenceGenerator belongs to.
type MessageClass uint8

const (
	ClassSync MessageClass = iota
	ClassAnnounce
	ClassDelayReq
)

// TimestampContext is the opaque token minted when a time-critical send is
// requested and redeemed when the I/O layer reports the egress hardware
// timestamp. It carries the minimum state needed to route the reply back
// to the pending operation it belongs to: which message class, and which
// sequenceId.
type TimestampContext struct {
	Class MessageClass
	Seq   uint16
}

// PortAction is one element of the engine's output alphabet. Bytes, when
// present, is a sub-slice of the caller-provided buffer passed into the
// operation that produced it - the caller must consume the action sequence
// before reusing that buffer.
type PortAction struct {
	Kind  ActionKind
	Ctx   TimestampContext // valid when Kind == ActionSendTimeCritical
	Bytes []byte           // valid when Kind is one of the Send* kinds
	Dur   time.Duration    // valid when Kind is one of the Reset*Timer kinds
}

// maxActions bounds a single call's action sequence; §3 requires the
// caller see at most 4 actions per call.
const maxActions = 4

// Actions is the fixed-capacity, non-heap buffer every engine operation
// writes into and returns a slice of. Callers must fully consume the
// returned slice before the next call on the same port - it aliases
// the Actions value's own backing array.
type Actions struct {
	buf [maxActions]PortAction
	n   int
}

func (a *Actions) reset() *Actions {
	a.n = 0
	return a
}

func (a *Actions) push(act PortAction) {
	a.buf[a.n] = act
	a.n++
}

// Slice returns the actions produced by the call that filled a, aliasing
// a's own backing array.
func (a *Actions) Slice() []PortAction {
	return a.buf[:a.n]
}
