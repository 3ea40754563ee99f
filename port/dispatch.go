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

// Role tags which behavior a Port's current PortState exhibits.
type Role uint8

const (
	RoleListening Role = iota
	RoleMaster
	RolePassive
	RoleSlave
)

func (r Role) String() string {
	switch r {
	case RoleListening:
		return "LISTENING"
	case RoleMaster:
		return "MASTER"
	case RolePassive:
		return "PASSIVE"
	case RoleSlave:
		return "SLAVE"
	default:
		return "UNKNOWN"
	}
}

// Port is the dispatcher: a tagged union over {Listening, Master, Passive,
// Slave} that routes externally delivered events to whichever role is
// currently active and returns its action stream. Listening and Passive
// absorb every event silently. The dispatcher owns no timers itself -
// those live in the surrounding system, which calls sendSync/sendAnnounce/
// sendDelayRequest on its own schedule and forwards the result.
//
// The dispatcher never chooses a transition itself: SetRole is driven
// entirely from outside (by the BMC layer). Replacing the role discards
// the previous role's state atomically; any TimestampContext minted under
// it becomes invalid and is dropped if later redeemed (a Master or Slave
// role logs a warning for it; Listening and Passive drop it without one).
type Port struct {
	role   Role
	master *MasterState
	slave  *SlaveState

	Identity  ptp.PortIdentity
	Config    PortConfig
	DefaultDS DefaultDS

	actions Actions
	log     Logger
}

// NewPort returns a dispatcher starting in the Listening role.
func NewPort(identity ptp.PortIdentity, cfg PortConfig, defaultDS DefaultDS, log Logger) *Port {
	return &Port{
		role:      RoleListening,
		Identity:  identity,
		Config:    cfg,
		DefaultDS: defaultDS,
		log:       orNop(log),
	}
}

// Role reports the dispatcher's current role.
func (p *Port) Role() Role { return p.role }

// SetRole transitions the port to a new role, discarding whatever state
// the previous role held. Called by the surrounding BMC layer; the engine
// itself never calls this.
func (p *Port) SetRole(r Role) {
	p.role = r
	switch r {
	case RoleMaster:
		p.master = NewMasterState(p.log)
		p.slave = nil
	case RoleSlave:
		p.slave = NewSlaveState(p.log)
		p.master = nil
	default:
		p.master = nil
		p.slave = nil
	}
}

// Master returns the active MasterState, or nil if the port is not
// currently Master.
func (p *Port) Master() *MasterState { return p.master }

// Slave returns the active SlaveState, or nil if the port is not
// currently Slave.
func (p *Port) Slave() *SlaveState { return p.slave }

// SendSync forwards a sync-timer expiration to the Master role. Calling
// this on any other role returns zero actions (I6).
func (p *Port) SendSync(clk Clock, buf []byte) []PortAction {
	if p.role != RoleMaster {
		return p.actions.reset().Slice()
	}
	return p.master.sendSync(clk, p.Config, p.Identity, p.DefaultDS, buf, &p.actions)
}

// SendAnnounce forwards an announce-timer expiration to the Master role.
func (p *Port) SendAnnounce(parentDS ParentDS, tp TimePropertiesDS, buf []byte) []PortAction {
	if p.role != RoleMaster {
		return p.actions.reset().Slice()
	}
	return p.master.sendAnnounce(p.Config, p.Identity, p.DefaultDS, parentDS, tp, buf, &p.actions)
}

// SendDelayRequest forwards a delayRequest-timer expiration to the Slave
// role.
func (p *Port) SendDelayRequest(rng Rng, buf []byte) []PortAction {
	if p.role != RoleSlave {
		return p.actions.reset().Slice()
	}
	return p.slave.sendDelayRequest(rng, p.Config, p.Identity, p.DefaultDS, buf, &p.actions)
}

// EventMessageReceived routes an event-channel message (Sync or DelayReq)
// to whichever role can act on it: Master answers DelayReq, Slave records
// Sync. Listening and Passive drop it silently.
func (p *Port) EventMessageReceived(raw []byte, ingressTime Time, buf []byte) []PortAction {
	p.actions.reset()

	msg, err := ptp.DecodePacket(raw)
	if err != nil {
		p.log.Warnf("EventMessageReceived: decode failed: %v", err)
		return p.actions.Slice()
	}

	switch p.role {
	case RoleMaster:
		sdr, ok := msg.(*ptp.SyncDelayReq)
		if !ok {
			p.log.Warnf("EventMessageReceived: unexpected %s on Master port", msg.MessageType())
			return p.actions.Slice()
		}
		minDelayReqInterval, _ := ptp.NewLogInterval(p.Config.MinDelayReqInterval)
		return p.master.handleEventReceive(sdr, ingressTime, minDelayReqInterval, p.Identity, buf, &p.actions)
	case RoleSlave:
		sdr, ok := msg.(*ptp.SyncDelayReq)
		if !ok || sdr.Header.MessageType() != ptp.MessageSync {
			return p.actions.Slice()
		}
		p.slave.handleEventReceive(sdr, ingressTime)
		return p.actions.Slice()
	default:
		return p.actions.Slice()
	}
}

// GeneralMessageReceived routes a general-channel message (FollowUp,
// DelayResp, Announce) to the Slave role. Master ports in this engine
// never need general-channel input (they only send on that channel).
func (p *Port) GeneralMessageReceived(raw []byte) []PortAction {
	p.actions.reset()

	msg, err := ptp.DecodePacket(raw)
	if err != nil {
		p.log.Warnf("GeneralMessageReceived: decode failed: %v", err)
		return p.actions.Slice()
	}

	if p.role == RoleSlave {
		p.slave.handleGeneralReceive(msg, p.Identity)
	}
	return p.actions.Slice()
}

// SendTimestampAvailable routes an egress-timestamp report to whichever
// role minted ctx.
func (p *Port) SendTimestampAvailable(ctx TimestampContext, egressTime Time, buf []byte) []PortAction {
	p.actions.reset()
	switch p.role {
	case RoleMaster:
		return p.master.handleTimestamp(ctx, egressTime, p.Identity, buf, &p.actions)
	case RoleSlave:
		p.slave.handleTimestamp(ctx, egressTime)
		return p.actions.Slice()
	default:
		return p.actions.Slice()
	}
}

// ExtractMeasurement returns the Slave role's pending measurement, if any.
// Returns false on any other role.
func (p *Port) ExtractMeasurement() (Measurement, bool) {
	if p.role != RoleSlave {
		return Measurement{}, false
	}
	return p.slave.extractMeasurement()
}
