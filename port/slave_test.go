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
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	ptp "github.com/ptpcore/port/ptp/protocol"
)

type fixedRng struct{ v float64 }

func (r fixedRng) Float64() float64 { return r.v }

// TestSlaveTwoStepMeasurement reproduces S5: t1=100, t2=150, t3=200, t4=260
// yields offsetFromMaster=-5ns, meanPathDelay=55ns.
func TestSlaveTwoStepMeasurement(t *testing.T) {
	s := NewSlaveState(nil)
	masterIdent := testIdentity(1)
	ownIdent := testIdentity(2)

	sync := &ptp.SyncDelayReq{
		Header: ptp.Header{
			SdoIDAndMsgType:    ptp.NewSdoIDAndMsgType(ptp.MessageSync, 0),
			FlagField:          ptp.FlagTwoStep,
			SourcePortIdentity: masterIdent,
			SequenceID:         3,
		},
	}
	s.handleEventReceive(sync, NewTime(150))
	_, ok := s.extractMeasurement()
	require.False(t, ok, "measurement not ready before FollowUp+delay")

	followUp := &ptp.FollowUp{
		Header: ptp.Header{
			SdoIDAndMsgType:    ptp.NewSdoIDAndMsgType(ptp.MessageFollowUp, 0),
			SourcePortIdentity: masterIdent,
			SequenceID:         3,
		},
		FollowUpBody: ptp.FollowUpBody{PreciseOriginTimestamp: NewTime(100).ToWireTimestamp()},
	}
	s.handleGeneralReceive(followUp, ownIdent)
	_, ok = s.extractMeasurement()
	require.False(t, ok, "measurement not ready before a delay round-trip exists")

	buf := make([]byte, 128)
	cfg := testConfig()
	rng := fixedRng{v: 0.5} // jitter multiplier 1.0

	actions := s.sendDelayRequest(rng, cfg, ownIdent, DefaultDS{}, buf, &Actions{})
	require.Len(t, actions, 2)
	require.Equal(t, ActionResetDelayRequestTimer, actions[0].Kind)
	require.Equal(t, cfg.DelayReqInterval, actions[0].Dur)
	require.Equal(t, ActionSendTimeCritical, actions[1].Kind)
	seq := actions[1].Ctx.Seq

	s.handleTimestamp(TimestampContext{Class: ClassDelayReq, Seq: seq}, NewTime(200))

	delayResp := &ptp.DelayResp{
		Header: ptp.Header{
			SdoIDAndMsgType:    ptp.NewSdoIDAndMsgType(ptp.MessageDelayResp, 0),
			SourcePortIdentity: masterIdent,
			SequenceID:         seq,
		},
		DelayRespBody: ptp.DelayRespBody{
			ReceiveTimestamp:       NewTime(260).ToWireTimestamp(),
			RequestingPortIdentity: ownIdent,
		},
	}
	s.handleGeneralReceive(delayResp, ownIdent)

	m, ok := s.extractMeasurement()
	require.True(t, ok)
	require.Equal(t, Duration(-5<<16), m.OffsetFromMaster)
	require.Equal(t, Duration(55<<16), m.MeanPathDelay)

	// I7: extracting a second time without new input returns false.
	_, ok = s.extractMeasurement()
	require.False(t, ok)
}

// TestSlaveRetainsDelayAcrossSyncCycles covers the §4.4 "t3/t4 retained for
// next cycle" behavior: after a measurement is produced, a fresh Sync/
// FollowUp pair alone (no new DelayReq round) produces another measurement
// reusing the retained t3/t4.
func TestSlaveRetainsDelayAcrossSyncCycles(t *testing.T) {
	s := NewSlaveState(nil)
	masterIdent := testIdentity(1)
	ownIdent := testIdentity(2)
	buf := make([]byte, 128)
	cfg := testConfig()
	rng := fixedRng{v: 0.5}

	sync := func(seq uint16, t2 int64) {
		s.handleEventReceive(&ptp.SyncDelayReq{
			Header: ptp.Header{
				SdoIDAndMsgType:    ptp.NewSdoIDAndMsgType(ptp.MessageSync, 0),
				FlagField:          ptp.FlagTwoStep,
				SourcePortIdentity: masterIdent,
				SequenceID:         seq,
			},
		}, NewTime(t2))
	}
	followUp := func(seq uint16, t1 int64) {
		s.handleGeneralReceive(&ptp.FollowUp{
			Header: ptp.Header{
				SdoIDAndMsgType:    ptp.NewSdoIDAndMsgType(ptp.MessageFollowUp, 0),
				SourcePortIdentity: masterIdent,
				SequenceID:         seq,
			},
			FollowUpBody: ptp.FollowUpBody{PreciseOriginTimestamp: NewTime(t1).ToWireTimestamp()},
		}, ownIdent)
	}

	sync(1, 150)
	followUp(1, 100)
	_, ok := s.extractMeasurement()
	require.False(t, ok)

	actions := s.sendDelayRequest(rng, cfg, ownIdent, DefaultDS{}, buf, &Actions{})
	seq := actions[1].Ctx.Seq
	s.handleTimestamp(TimestampContext{Class: ClassDelayReq, Seq: seq}, NewTime(200))
	s.handleGeneralReceive(&ptp.DelayResp{
		Header: ptp.Header{
			SdoIDAndMsgType:    ptp.NewSdoIDAndMsgType(ptp.MessageDelayResp, 0),
			SourcePortIdentity: masterIdent,
			SequenceID:         seq,
		},
		DelayRespBody: ptp.DelayRespBody{
			ReceiveTimestamp:       NewTime(260).ToWireTimestamp(),
			RequestingPortIdentity: ownIdent,
		},
	}, ownIdent)
	m1, ok := s.extractMeasurement()
	require.True(t, ok)
	require.Equal(t, Duration(-5<<16), m1.OffsetFromMaster)

	// second Sync/FollowUp cycle, no new DelayReq round at all.
	sync(2, 1150)
	followUp(2, 1100)
	m2, ok := s.extractMeasurement()
	require.True(t, ok)
	require.Equal(t, Duration(-5<<16), m2.OffsetFromMaster)
	require.Equal(t, Duration(55<<16), m2.MeanPathDelay)
}

func TestSlaveStaleDelayRespDropped(t *testing.T) {
	s := NewSlaveState(nil)
	masterIdent := testIdentity(1)
	ownIdent := testIdentity(2)

	resp := &ptp.DelayResp{
		Header: ptp.Header{
			SdoIDAndMsgType:    ptp.NewSdoIDAndMsgType(ptp.MessageDelayResp, 0),
			SourcePortIdentity: masterIdent,
			SequenceID:         42,
		},
		DelayRespBody: ptp.DelayRespBody{RequestingPortIdentity: ownIdent},
	}
	s.handleGeneralReceive(resp, ownIdent)
	require.False(t, s.haveDelay)
}

func TestSlaveJitterBounds(t *testing.T) {
	s := NewSlaveState(nil)
	ownIdent := testIdentity(2)
	buf := make([]byte, 128)
	cfg := PortConfig{MinDelayReqInterval: time.Second, DelayReqInterval: time.Second}

	for _, v := range []float64{0, 0.25, 0.5, 0.75, 0.999} {
		actions := s.sendDelayRequest(fixedRng{v: v}, cfg, ownIdent, DefaultDS{}, buf, &Actions{})
		dur := actions[0].Dur
		require.GreaterOrEqual(t, dur, time.Duration(float64(time.Second)*0.5))
		require.Less(t, dur, time.Duration(float64(time.Second)*1.5+1))
	}
}
