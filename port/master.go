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
	ptp "github.com/ptpcore/port/ptp/protocol"
)

// MasterState is the per-port record for a port currently acting as
// Master: it produces Announce and Sync streams on timer, answers DelayReq
// promptly with DelayResp, and emits the FollowUp that carries the precise
// Sync egress timestamp once the I/O layer reports it. Both sequence
// generators free-run across the Master role's lifetime; they are never
// reset by a timer tick, and a port re-entering Master later gets a fresh
// MasterState (and so fresh counters) rather than resuming these.
type MasterState struct {
	announceSeq SequenceGenerator
	syncSeq     SequenceGenerator

	// pendingSync is the sequenceId of the most recent Sync whose FollowUp
	// has not yet been sent. Only one Sync can be outstanding at a time:
	// a new sendSync call overwrites it, so a stale TimestampContext
	// redeemed late is logged and dropped by handleTimestamp.
	pendingSync     uint16
	havePendingSync bool

	log Logger
}

// NewMasterState returns a fresh MasterState with both sequence generators
// starting at zero.
func NewMasterState(log Logger) *MasterState {
	return &MasterState{log: orNop(log)}
}

// sendSync reads clock.now() as the preliminary Sync origin timestamp,
// sets the two-step flag (FollowUp will carry the precise timestamp), and
// returns [ResetSyncTimer(syncInterval), SendTimeCritical(ctx, bytes)].
//
// If the clock is momentarily inaccessible (exclusive borrow conflict) the
// action sequence is empty: no timer is reset either, so the surrounding
// scheduler is responsible for observing the empty response and retrying
// on its own schedule (see DESIGN.md, Open Question: clock-busy sequence
// counter behavior). The sync sequence counter is consumed only when
// serialization is actually attempted, matching the reference behavior
// cited in S6.
func (m *MasterState) sendSync(clk Clock, cfg PortConfig, pi ptp.PortIdentity, defaultDS DefaultDS, buf []byte, out *Actions) []PortAction {
	out.reset()

	ok := clk.Borrow(func(now Time) {
		seq := m.syncSeq.Generate()

		msg := ptp.SyncDelayReq{
			Header: ptp.Header{
				SdoIDAndMsgType:    ptp.NewSdoIDAndMsgType(ptp.MessageSync, 0),
				Version:            ptp.Version,
				MessageLength:      ptp.HeaderSize + ptp.SyncDelayReqBodySize,
				DomainNumber:       defaultDS.DomainNumber,
				FlagField:          ptp.FlagTwoStep,
				SourcePortIdentity: pi,
				SequenceID:         seq,
			},
			SyncDelayReqBody: ptp.SyncDelayReqBody{
				OriginTimestamp: now.ToWireTimestamp(),
			},
		}

		n, err := msg.MarshalBinaryTo(buf)
		if err != nil {
			m.log.Errorf("sendSync: encoding Sync: %v", err)
			return
		}

		m.pendingSync = seq
		m.havePendingSync = true

		out.push(PortAction{Kind: ActionResetSyncTimer, Dur: cfg.SyncInterval})
		out.push(PortAction{
			Kind:  ActionSendTimeCritical,
			Ctx:   TimestampContext{Class: ClassSync, Seq: seq},
			Bytes: buf[:n],
		})
	})
	if !ok {
		m.log.Warnf("sendSync: clock handle busy, dropping this tick")
	}
	return out.Slice()
}

// handleTimestamp redeems a TimestampContext minted by sendSync. If ctx
// names the pending Sync, it emits a FollowUp carrying egressTime as the
// precise origin timestamp and egressTime's sub-nanosecond residue as
// correctionField (see S1). Any other context - stale, from a superseded
// role, or simply unrecognized - is logged and dropped.
func (m *MasterState) handleTimestamp(ctx TimestampContext, egressTime Time, pi ptp.PortIdentity, buf []byte, out *Actions) []PortAction {
	out.reset()

	if ctx.Class != ClassSync || !m.havePendingSync || ctx.Seq != m.pendingSync {
		m.log.Warnf("handleTimestamp: stale or unrecognized context %+v", ctx)
		return out.Slice()
	}
	m.havePendingSync = false

	msg := ptp.FollowUp{
		Header: ptp.Header{
			SdoIDAndMsgType:    ptp.NewSdoIDAndMsgType(ptp.MessageFollowUp, 0),
			Version:            ptp.Version,
			MessageLength:      ptp.HeaderSize + ptp.FollowUpBodySize,
			CorrectionField:    egressTime.FracDuration(),
			SourcePortIdentity: pi,
			SequenceID:         ctx.Seq,
		},
		FollowUpBody: ptp.FollowUpBody{
			PreciseOriginTimestamp: egressTime.ToWireTimestamp(),
		},
	}
	n, err := msg.MarshalBinaryTo(buf)
	if err != nil {
		m.log.Errorf("handleTimestamp: encoding FollowUp: %v", err)
		return out.Slice()
	}
	out.push(PortAction{Kind: ActionSendGeneral, Bytes: buf[:n]})
	return out.Slice()
}

// sendAnnounce assembles an Announce from the borrowed instance-global
// datasets and returns [ResetAnnounceTimer(announceInterval),
// SendGeneral(bytes)].
func (m *MasterState) sendAnnounce(cfg PortConfig, pi ptp.PortIdentity, defaultDS DefaultDS, parentDS ParentDS, tp TimePropertiesDS, buf []byte, out *Actions) []PortAction {
	out.reset()

	seq := m.announceSeq.Generate()
	msg := ptp.Announce{
		Header: ptp.Header{
			SdoIDAndMsgType:    ptp.NewSdoIDAndMsgType(ptp.MessageAnnounce, 0),
			Version:            ptp.Version,
			MessageLength:      ptp.HeaderSize + ptp.AnnounceBodySize,
			DomainNumber:       defaultDS.DomainNumber,
			FlagField:          tp.flags(),
			SourcePortIdentity: pi,
			SequenceID:         seq,
		},
		AnnounceBody: ptp.AnnounceBody{
			CurrentUTCOffset:        tp.CurrentUTCOffset,
			GrandmasterPriority1:    parentDS.GrandmasterPriority1,
			GrandmasterClockQuality: parentDS.GrandmasterClockQuality,
			GrandmasterPriority2:    parentDS.GrandmasterPriority2,
			GrandmasterIdentity:     parentDS.GrandmasterIdentity,
			StepsRemoved:            0,
			TimeSource:              tp.TimeSource,
		},
	}
	n, err := msg.MarshalBinaryTo(buf)
	if err != nil {
		m.log.Errorf("sendAnnounce: encoding Announce: %v", err)
		return out.Slice()
	}
	out.push(PortAction{Kind: ActionResetAnnounceTimer, Dur: cfg.AnnounceInterval})
	out.push(PortAction{Kind: ActionSendGeneral, Bytes: buf[:n]})
	return out.Slice()
}

// handleEventReceive processes an event-channel message addressed to this
// Master port. Self-sourced messages (I5) and anything but DelayReq are
// dropped; a DelayReq gets an immediate DelayResp whose correctionField is
// the request's correctionField plus the ingress timestamp's
// sub-nanosecond residue (S3).
func (m *MasterState) handleEventReceive(msg *ptp.SyncDelayReq, ingressTime Time, minDelayReqInterval ptp.LogInterval, pi ptp.PortIdentity, buf []byte, out *Actions) []PortAction {
	out.reset()

	if msg.Header.SourcePortIdentity == pi {
		return out.Slice() // self-echo, silently dropped
	}
	if msg.Header.MessageType() != ptp.MessageDelayReq {
		m.log.Warnf("handleEventReceive: unexpected message type %s on Master port", msg.Header.MessageType())
		return out.Slice()
	}

	resp := ptp.DelayResp{
		Header: ptp.Header{
			SdoIDAndMsgType:    ptp.NewSdoIDAndMsgType(ptp.MessageDelayResp, 0),
			Version:            ptp.Version,
			MessageLength:      ptp.HeaderSize + ptp.DelayRespBodySize,
			CorrectionField:    msg.Header.CorrectionField + ingressTime.FracDuration(),
			SourcePortIdentity: pi,
			SequenceID:         msg.Header.SequenceID,
			LogMessageInterval: minDelayReqInterval,
		},
		DelayRespBody: ptp.DelayRespBody{
			ReceiveTimestamp:       ingressTime.ToWireTimestamp(),
			RequestingPortIdentity: msg.Header.SourcePortIdentity,
		},
	}
	n, err := resp.MarshalBinaryTo(buf)
	if err != nil {
		m.log.Errorf("handleEventReceive: encoding DelayResp: %v", err)
		return out.Slice()
	}
	out.push(PortAction{Kind: ActionSendGeneral, Bytes: buf[:n]})
	return out.Slice()
}
