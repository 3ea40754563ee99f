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

	"github.com/stretchr/testify/require"

	ptp "github.com/ptpcore/port/ptp/protocol"
)

// TestDispatchListeningAbsorbsEverything covers I6: a Listening port
// answers every call with an empty action sequence.
func TestDispatchListeningAbsorbsEverything(t *testing.T) {
	p := NewPort(testIdentity(1), testConfig(), DefaultDS{}, nil)
	buf := make([]byte, 128)
	clk := &fakeClock{now: NewTime(1)}

	require.Empty(t, p.SendSync(clk, buf))
	require.Empty(t, p.SendAnnounce(ParentDS{}, TimePropertiesDS{}, buf))
	require.Empty(t, p.SendDelayRequest(fixedRng{v: 0.5}, buf))
	require.Empty(t, p.EventMessageReceived(syncBytes(t, 0), NewTime(1), buf))
	require.Empty(t, p.GeneralMessageReceived(announceBytes(t, 0)))
	require.Empty(t, p.SendTimestampAvailable(TimestampContext{}, NewTime(1), buf))
	_, ok := p.ExtractMeasurement()
	require.False(t, ok)
}

// TestDispatchRoleInappropriateCallsAreEmpty covers I6's other half: calling
// a Master-only operation on a Slave port (and vice versa) returns zero
// actions rather than failing.
func TestDispatchRoleInappropriateCallsAreEmpty(t *testing.T) {
	p := NewPort(testIdentity(1), testConfig(), DefaultDS{}, nil)
	buf := make([]byte, 128)

	p.SetRole(RoleSlave)
	require.Empty(t, p.SendSync(&fakeClock{now: NewTime(1)}, buf))
	require.Empty(t, p.SendAnnounce(ParentDS{}, TimePropertiesDS{}, buf))

	p.SetRole(RoleMaster)
	require.Empty(t, p.SendDelayRequest(fixedRng{v: 0.5}, buf))
}

func TestDispatchMasterRoundTrip(t *testing.T) {
	p := NewPort(testIdentity(1), testConfig(), DefaultDS{}, nil)
	p.SetRole(RoleMaster)
	buf := make([]byte, 128)
	clk := &fakeClock{now: NewTime(100)}

	actions := p.SendSync(clk, buf)
	require.Len(t, actions, 2)
	ctx := actions[1].Ctx

	fuActions := p.SendTimestampAvailable(ctx, NewTime(110), buf)
	require.Len(t, fuActions, 1)
	require.Equal(t, ActionSendGeneral, fuActions[0].Kind)
}

func TestDispatchSlaveRoundTrip(t *testing.T) {
	p := NewPort(testIdentity(2), testConfig(), DefaultDS{}, nil)
	p.SetRole(RoleSlave)
	buf := make([]byte, 128)
	masterIdent := testIdentity(1)

	sync := ptp.SyncDelayReq{
		Header: ptp.Header{
			SdoIDAndMsgType:    ptp.NewSdoIDAndMsgType(ptp.MessageSync, 0),
			FlagField:          ptp.FlagTwoStep,
			SourcePortIdentity: masterIdent,
			SequenceID:         3,
			MessageLength:      ptp.HeaderSize + ptp.SyncDelayReqBodySize,
		},
	}
	raw := make([]byte, 64)
	n, err := sync.MarshalBinaryTo(raw)
	require.NoError(t, err)
	require.Empty(t, p.EventMessageReceived(raw[:n], NewTime(150), buf))

	followUp := ptp.FollowUp{
		Header: ptp.Header{
			SdoIDAndMsgType:    ptp.NewSdoIDAndMsgType(ptp.MessageFollowUp, 0),
			SourcePortIdentity: masterIdent,
			SequenceID:         3,
			MessageLength:      ptp.HeaderSize + ptp.FollowUpBodySize,
		},
		FollowUpBody: ptp.FollowUpBody{PreciseOriginTimestamp: NewTime(100).ToWireTimestamp()},
	}
	fuRaw := make([]byte, 64)
	n, err = followUp.MarshalBinaryTo(fuRaw)
	require.NoError(t, err)
	require.Empty(t, p.GeneralMessageReceived(fuRaw[:n]))

	_, ok := p.ExtractMeasurement()
	require.False(t, ok, "no delay round-trip yet")

	dreqActions := p.SendDelayRequest(fixedRng{v: 0.5}, buf)
	require.Len(t, dreqActions, 2)
	seq := dreqActions[1].Ctx.Seq

	p.SendTimestampAvailable(TimestampContext{Class: ClassDelayReq, Seq: seq}, NewTime(200), buf)

	dresp := ptp.DelayResp{
		Header: ptp.Header{
			SdoIDAndMsgType:    ptp.NewSdoIDAndMsgType(ptp.MessageDelayResp, 0),
			SourcePortIdentity: masterIdent,
			SequenceID:         seq,
			MessageLength:      ptp.HeaderSize + ptp.DelayRespBodySize,
		},
		DelayRespBody: ptp.DelayRespBody{
			ReceiveTimestamp:       NewTime(260).ToWireTimestamp(),
			RequestingPortIdentity: testIdentity(2),
		},
	}
	drRaw := make([]byte, 64)
	n, err = dresp.MarshalBinaryTo(drRaw)
	require.NoError(t, err)
	require.Empty(t, p.GeneralMessageReceived(drRaw[:n]))

	m, ok := p.ExtractMeasurement()
	require.True(t, ok)
	require.Equal(t, Duration(-5<<16), m.OffsetFromMaster)
	require.Equal(t, Duration(55<<16), m.MeanPathDelay)
}

func syncBytes(t *testing.T, seq uint16) []byte {
	t.Helper()
	msg := ptp.SyncDelayReq{
		Header: ptp.Header{
			SdoIDAndMsgType: ptp.NewSdoIDAndMsgType(ptp.MessageSync, 0),
			SequenceID:      seq,
			MessageLength:   ptp.HeaderSize + ptp.SyncDelayReqBodySize,
		},
	}
	buf := make([]byte, 64)
	n, err := msg.MarshalBinaryTo(buf)
	require.NoError(t, err)
	return buf[:n]
}

func announceBytes(t *testing.T, seq uint16) []byte {
	t.Helper()
	msg := ptp.Announce{
		Header: ptp.Header{
			SdoIDAndMsgType: ptp.NewSdoIDAndMsgType(ptp.MessageAnnounce, 0),
			SequenceID:      seq,
			MessageLength:   ptp.HeaderSize + ptp.AnnounceBodySize,
		},
	}
	buf := make([]byte, 64)
	n, err := msg.MarshalBinaryTo(buf)
	require.NoError(t, err)
	return buf[:n]
}
