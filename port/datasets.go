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
	"time"

	ptp "github.com/ptpcore/port/ptp/protocol"
)

// DefaultDS holds this PTP Instance's own identity and clock quality, the
// borrowed instance-global dataset every engine call reads but never owns.
type DefaultDS struct {
	ClockIdentity ptp.ClockIdentity
	Priority1     uint8
	Priority2     uint8
	ClockQuality  ptp.ClockQuality
	DomainNumber  uint8
	SlaveOnly     bool
}

// ParentDS holds what this Instance currently believes about its parent
// (the Grandmaster, when this port is Master and forwarding a foreign
// Grandmaster's clock, or itself when it is the Grandmaster). Populated and
// updated by the surrounding BMC layer; the engine only reads it.
type ParentDS struct {
	GrandmasterIdentity     ptp.ClockIdentity
	GrandmasterClockQuality ptp.ClockQuality
	GrandmasterPriority1    uint8
	GrandmasterPriority2    uint8
}

// CurrentDS holds the instance's current synchronization state, as derived
// from the most recent Measurement.
type CurrentDS struct {
	StepsRemoved     uint16
	OffsetFromMaster Duration
	MeanPathDelay    Duration
}

// TimePropertiesDS holds the timescale properties that flow into Announce's
// flagField and currentUtcOffset.
type TimePropertiesDS struct {
	CurrentUTCOffset      int16
	CurrentUTCOffsetValid bool
	Leap59                bool
	Leap61                bool
	TimeTraceable         bool
	FrequencyTraceable    bool
	PTPTimescale          bool
	TimeSource            ptp.TimeSource
}

func (tp TimePropertiesDS) flags() uint16 {
	var f uint16
	if tp.Leap61 {
		f |= ptp.FlagLeap61
	}
	if tp.Leap59 {
		f |= ptp.FlagLeap59
	}
	if tp.CurrentUTCOffsetValid {
		f |= ptp.FlagCurrentUtcOffsetValid
	}
	if tp.PTPTimescale {
		f |= ptp.FlagPTPTimescale
	}
	if tp.TimeTraceable {
		f |= ptp.FlagTimeTraceable
	}
	if tp.FrequencyTraceable {
		f |= ptp.FlagFrequencyTraceable
	}
	return f
}

// Measurement is the servo's input: a clock offset and path delay derived
// from a matched Sync/FollowUp/DelayReq/DelayResp quartet.
type Measurement struct {
	OffsetFromMaster Duration
	MeanPathDelay    Duration
	EventTime        Time
	Announce         ptp.Announce
}

// PortConfig holds the per-port timer intervals as wall-clock durations
// (matching how the teacher's InstanceConfig/PortConfig express intervals);
// this is surrounding configuration, not core state, but MasterState/
// SlaveState operations need it to compute ResetXTimer durations and
// logMessageInterval fields.
type PortConfig struct {
	AnnounceInterval     time.Duration
	SyncInterval         time.Duration
	MinDelayReqInterval  time.Duration
	DelayReqInterval     time.Duration
	AnnounceReceiptCount uint8
}
