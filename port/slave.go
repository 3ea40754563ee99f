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

// SlaveState is the per-port record for a port currently acting as Slave:
// it accepts one Master's Sync stream, schedules DelayReq probes, and
// emits an offset+delay measurement whenever a complete
// Sync/FollowUp/DelayReq/DelayResp quartet is available. At most one
// DelayReq may be outstanding awaiting its egress timestamp at a time; a
// new one may be scheduled only after the previous has been either
// timestamped or abandoned.
type SlaveState struct {
	delayReqSeq SequenceGenerator

	// the DelayReq currently in flight, not yet matched to a DelayResp.
	pendingDelayReqSeq  uint16
	havePendingDelayReq bool
	pendingT3           Time
	havePendingT3       bool

	// last complete (t3, t4) round-trip; retained across Sync/FollowUp
	// cycles until a newer DelayReq/DelayResp round replaces it (§4.4:
	// "t3/t4 retained for next cycle").
	retainedT3 Time
	retainedT4 Time
	haveDelay  bool

	// most recent Sync (and, for two-step, its FollowUp).
	syncSeq          uint16
	haveSync         bool
	awaitingFollowUp bool
	t2               Time // sync ingress timestamp
	originTimestamp  Time // Sync/FollowUp originTimestamp
	correctionSum    Duration

	lastAnnounce ptp.Announce
	haveAnnounce bool

	measurement     Measurement
	haveMeasurement bool

	log Logger
}

// NewSlaveState returns a fresh SlaveState in the Waiting state.
func NewSlaveState(log Logger) *SlaveState {
	return &SlaveState{log: orNop(log)}
}

// handleEventReceive processes an event-channel message delivered while
// this port is Slave. Only Sync is meaningful here.
func (s *SlaveState) handleEventReceive(msg *ptp.SyncDelayReq, ingressTime Time) {
	if msg.Header.MessageType() != ptp.MessageSync {
		return
	}

	s.syncSeq = msg.Header.SequenceID
	s.haveSync = true
	s.t2 = ingressTime
	s.originTimestamp = TimeFromWireTimestamp(msg.OriginTimestamp)
	s.correctionSum = msg.Header.CorrectionField

	if msg.Header.FlagField&ptp.FlagTwoStep != 0 {
		s.awaitingFollowUp = true
		return
	}
	// one-step: the Sync itself carries the precise timestamp, attempt
	// measurement immediately against whatever delay round is retained.
	s.awaitingFollowUp = false
	s.attemptMeasurement()
}

// handleGeneralReceive processes a general-channel message: FollowUp,
// DelayResp, or Announce.
func (s *SlaveState) handleGeneralReceive(msg interface{}, ownPortIdentity ptp.PortIdentity) {
	switch m := msg.(type) {
	case *ptp.FollowUp:
		if !s.haveSync || !s.awaitingFollowUp || m.Header.SequenceID != s.syncSeq {
			s.log.Warnf("handleGeneralReceive: FollowUp seq=%d does not match pending Sync", m.Header.SequenceID)
			return
		}
		s.originTimestamp = TimeFromWireTimestamp(m.PreciseOriginTimestamp)
		s.correctionSum += m.Header.CorrectionField
		s.awaitingFollowUp = false
		s.attemptMeasurement()

	case *ptp.DelayResp:
		if m.RequestingPortIdentity != ownPortIdentity {
			return
		}
		if !s.havePendingDelayReq || m.Header.SequenceID != s.pendingDelayReqSeq || !s.havePendingT3 {
			s.log.Warnf("handleGeneralReceive: DelayResp seq=%d has no matching pending DelayReq", m.Header.SequenceID)
			return
		}
		s.retainedT3 = s.pendingT3
		s.retainedT4 = TimeFromWireTimestamp(m.ReceiveTimestamp)
		s.haveDelay = true
		s.havePendingDelayReq = false
		s.havePendingT3 = false
		s.attemptMeasurement()

	case *ptp.Announce:
		s.lastAnnounce = *m
		s.haveAnnounce = true
	}
}

// sendDelayRequest emits a DelayReq with a fresh sequenceId and a zero
// origin timestamp (the meaningful timestamp is the egress one, reported
// later via handleTimestamp), and reschedules itself with jitter:
// meanInterval * uniform(0.5, 1.5), where
// meanInterval = max(minDelayReqInterval, config.delayMechanism.interval).
func (s *SlaveState) sendDelayRequest(rng Rng, cfg PortConfig, pi ptp.PortIdentity, defaultDS DefaultDS, buf []byte, out *Actions) []PortAction {
	out.reset()

	seq := s.delayReqSeq.Generate()
	msg := ptp.SyncDelayReq{
		Header: ptp.Header{
			SdoIDAndMsgType:    ptp.NewSdoIDAndMsgType(ptp.MessageDelayReq, 0),
			Version:            ptp.Version,
			MessageLength:      ptp.HeaderSize + ptp.SyncDelayReqBodySize,
			DomainNumber:       defaultDS.DomainNumber,
			SourcePortIdentity: pi,
			SequenceID:         seq,
		},
	}
	n, err := msg.MarshalBinaryTo(buf)
	if err != nil {
		s.log.Errorf("sendDelayRequest: encoding DelayReq: %v", err)
		return out.Slice()
	}

	s.pendingDelayReqSeq = seq
	s.havePendingDelayReq = true
	s.havePendingT3 = false

	meanInterval := cfg.MinDelayReqInterval
	if cfg.DelayReqInterval > meanInterval {
		meanInterval = cfg.DelayReqInterval
	}
	jitter := 0.5 + rng.Float64() // uniform(0.5, 1.5)
	dur := time.Duration(float64(meanInterval) * jitter)

	out.push(PortAction{Kind: ActionResetDelayRequestTimer, Dur: dur})
	out.push(PortAction{
		Kind:  ActionSendTimeCritical,
		Ctx:   TimestampContext{Class: ClassDelayReq, Seq: seq},
		Bytes: buf[:n],
	})
	return out.Slice()
}

// handleTimestamp redeems a TimestampContext minted by sendDelayRequest,
// storing the egress timestamp as t3. Any other context is dropped.
func (s *SlaveState) handleTimestamp(ctx TimestampContext, egressTime Time) {
	if ctx.Class != ClassDelayReq || !s.havePendingDelayReq || ctx.Seq != s.pendingDelayReqSeq {
		s.log.Warnf("handleTimestamp: stale or unrecognized context %+v", ctx)
		return
	}
	s.pendingT3 = egressTime
	s.havePendingT3 = true
}

// attemptMeasurement computes offsetFromMaster and meanPathDelay once
// t1 (originTimestamp+correctionSum), t2, t3 and t4 are all available.
func (s *SlaveState) attemptMeasurement() {
	if !s.haveSync || s.awaitingFollowUp || !s.haveDelay {
		return
	}

	t1 := s.originTimestamp.Add(s.correctionSum)
	t2 := s.t2
	t3 := s.retainedT3
	t4 := s.retainedT4

	clientToServerDiff := t4.Sub(t3)
	serverToClientDiff := t2.Sub(t1)
	offset := (serverToClientDiff - clientToServerDiff) / 2
	delay := (serverToClientDiff + clientToServerDiff) / 2

	s.measurement = Measurement{
		OffsetFromMaster: offset,
		MeanPathDelay:    delay,
		EventTime:        t2,
		Announce:         s.lastAnnounce,
	}
	s.haveMeasurement = true

	// §4.4: ReadyToMeasure -> Waiting for the t1/t2 pair; t3/t4 retained.
	s.haveSync = false
}

// extractMeasurement returns and clears a measurement once available,
// matching I7: calling it twice without new complete input returns false
// the second time.
func (s *SlaveState) extractMeasurement() (Measurement, bool) {
	if !s.haveMeasurement {
		return Measurement{}, false
	}
	s.haveMeasurement = false
	return s.measurement, true
}
