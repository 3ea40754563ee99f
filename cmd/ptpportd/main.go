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

// Command ptpportd is a demonstration harness for the port engine: it
// wires a Master-role Port and a Slave-role Port together over real
// loopback UDP sockets, using the same software-timestamping path a
// production port would use on its event channel, and prints the
// resulting measurements. It is not a PTP daemon - there is no BMC layer
// or multi-client subscription model here, since the engine is a single
// port's state, not a fleet server (see DESIGN.md).
package main

import (
	"fmt"
	"math/rand"
	"net"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"github.com/ptpcore/port/clock"
	"github.com/ptpcore/port/config"
	"github.com/ptpcore/port/port"
	ptp "github.com/ptpcore/port/ptp/protocol"
	"github.com/ptpcore/port/servo"
	"github.com/ptpcore/port/stats"
	"github.com/ptpcore/port/timestamp"
)

var rootCmd = &cobra.Command{
	Use:   "ptpportd",
	Short: "demonstration harness for the PTP port state engine",
}

var (
	configPath string
	duration   time.Duration
	logLevel   string
	iface      string
)

func init() {
	runCmd.Flags().StringVar(&configPath, "config", "", "path to an InstanceConfig YAML file (optional, built-in defaults used otherwise)")
	runCmd.Flags().DurationVar(&duration, "duration", 5*time.Second, "how long to run the demo loop")
	runCmd.Flags().StringVar(&logLevel, "loglevel", "info", "log level: debug, info, warning, error")
	runCmd.Flags().StringVar(&iface, "iface", "", "network interface whose PHC should discipline the Master clock (falls back to CLOCK_REALTIME if unset or unsupported)")
	rootCmd.AddCommand(runCmd)
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "run a Master/Slave port pair over loopback UDP and print measurements",
	RunE:  runDemo,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}

type logrusAdapter struct{ *log.Entry }

func setLevel(level string) {
	switch level {
	case "debug":
		log.SetLevel(log.DebugLevel)
	case "info":
		log.SetLevel(log.InfoLevel)
	case "warning":
		log.SetLevel(log.WarnLevel)
	case "error":
		log.SetLevel(log.ErrorLevel)
	default:
		log.Fatalf("unrecognized log level: %s", level)
	}
}

// loopbackPort is a UDP endpoint bound for this demo's event (timestamped)
// or general (plain) channel.
type loopbackPort struct {
	fd   int
	addr unix.Sockaddr
}

func bindUDP(ip net.IP, port int) (int, unix.Sockaddr, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM, unix.IPPROTO_UDP)
	if err != nil {
		return -1, nil, fmt.Errorf("creating socket: %w", err)
	}
	addr := timestamp.IPToSockaddr(ip, port)
	if err := unix.Bind(fd, addr); err != nil {
		unix.Close(fd)
		return -1, nil, fmt.Errorf("binding: %w", err)
	}
	bound, err := unix.Getsockname(fd)
	if err != nil {
		unix.Close(fd)
		return -1, nil, fmt.Errorf("getsockname: %w", err)
	}
	return fd, bound, nil
}

func newEventPort(ip net.IP, port int) (*loopbackPort, error) {
	fd, addr, err := bindUDP(ip, port)
	if err != nil {
		return nil, err
	}
	if err := timestamp.EnableSWTimestamps(fd); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("enabling SW timestamps: %w", err)
	}
	return &loopbackPort{fd: fd, addr: addr}, nil
}

func newGeneralPort(ip net.IP, port int) (*loopbackPort, error) {
	fd, addr, err := bindUDP(ip, port)
	if err != nil {
		return nil, err
	}
	return &loopbackPort{fd: fd, addr: addr}, nil
}

// sendTimeCritical writes bytes out lp's socket and blocks for the kernel's
// own TX timestamp of that send - the same ReadTXtimestampBuf path a real
// HW/SW-timestamped PTP event channel uses.
func sendTimeCritical(lp *loopbackPort, dst unix.Sockaddr, bytes []byte) (port.Time, error) {
	if err := unix.Sendto(lp.fd, bytes, 0, dst); err != nil {
		return port.Time{}, fmt.Errorf("sendto: %w", err)
	}
	oob := make([]byte, timestamp.ControlSizeBytes)
	toob := make([]byte, timestamp.ControlSizeBytes)
	txTS, _, err := timestamp.ReadTXtimestampBuf(lp.fd, oob, toob)
	if err != nil {
		return port.Time{}, fmt.Errorf("reading TX timestamp: %w", err)
	}
	return port.NewTime(txTS.UnixNano()), nil
}

func sendGeneral(lp *loopbackPort, dst unix.Sockaddr, bytes []byte) error {
	return unix.Sendto(lp.fd, bytes, 0, dst)
}

// recvEvent reads one packet off an event-channel socket along with its RX
// timestamp.
func recvEvent(lp *loopbackPort) ([]byte, port.Time, error) {
	buf := make([]byte, timestamp.PayloadSizeBytes)
	oob := make([]byte, timestamp.ControlSizeBytes)
	n, _, rxTS, err := timestamp.ReadPacketWithRXTimestampBuf(lp.fd, buf, oob)
	return buf[:n], port.NewTime(rxTS.UnixNano()), err
}

func recvGeneral(lp *loopbackPort) ([]byte, error) {
	buf := make([]byte, timestamp.PayloadSizeBytes)
	n, _, _, err := unix.Recvmsg(lp.fd, buf, nil, 0)
	if err != nil {
		return nil, fmt.Errorf("recvmsg: %w", err)
	}
	return buf[:n], nil
}

func runDemo(cmd *cobra.Command, args []string) error {
	setLevel(logLevel)

	var instCfg config.InstanceConfig
	if configPath != "" {
		c, err := config.Read(configPath)
		if err != nil {
			return fmt.Errorf("reading config: %w", err)
		}
		instCfg = *c
	} else {
		instCfg = config.InstanceConfig{
			ClockIdentity: ptp.ClockIdentity(0xaabbccddeeff0011),
			Priority1:     128,
			Priority2:     128,
			ClockClass:    6,
			ClockAccuracy: 0x21,
			DomainNumber:  0,
			PTPTimescale:  true,
			TimeSource:    ptp.TimeSourceGNSS,
			UTCOffset:     37 * time.Second,
			Ports: []config.PortConfig{{
				AnnounceInterval:     2 * time.Second,
				SyncInterval:         1 * time.Second,
				MinDelayReqInterval:  1 * time.Second,
				DelayReqInterval:     1 * time.Second,
				AnnounceReceiptCount: 3,
			}},
		}
	}
	pc := instCfg.Ports[0].ToPortConfig()

	masterLog := logrusAdapter{log.WithField("role", "master")}
	slaveLog := logrusAdapter{log.WithField("role", "slave")}

	masterIdentity := ptp.PortIdentity{ClockIdentity: instCfg.ClockIdentity, PortNumber: 1}
	slaveIdentity := ptp.PortIdentity{ClockIdentity: ptp.ClockIdentity(0x1122334455667788), PortNumber: 1}

	masterPort := port.NewPort(masterIdentity, pc, instCfg.DefaultDS(), masterLog)
	masterPort.SetRole(port.RoleMaster)

	slavePort := port.NewPort(slaveIdentity, pc, port.DefaultDS{}, slaveLog)
	slavePort.SetRole(port.RoleSlave)

	masterClock := newMasterClock(iface)
	rng := rand.New(rand.NewSource(1))
	filter := servo.NewPortFilter(servo.NewPiServo(servo.DefaultServoConfig(), servo.DefaultPiServoCfg(), 0))

	st := stats.New()
	st.SetRole("master")

	loopback := net.ParseIP("127.0.0.1")
	masterEvent, err := newEventPort(loopback, 31900)
	if err != nil {
		return fmt.Errorf("master event socket: %w", err)
	}
	defer unix.Close(masterEvent.fd)
	slaveEvent, err := newEventPort(loopback, 31901)
	if err != nil {
		return fmt.Errorf("slave event socket: %w", err)
	}
	defer unix.Close(slaveEvent.fd)
	masterGeneral, err := newGeneralPort(loopback, 32000)
	if err != nil {
		return fmt.Errorf("master general socket: %w", err)
	}
	defer unix.Close(masterGeneral.fd)
	slaveGeneral, err := newGeneralPort(loopback, 32001)
	if err != nil {
		return fmt.Errorf("slave general socket: %w", err)
	}
	defer unix.Close(slaveGeneral.fd)

	go recvEventLoop(masterPort, masterEvent, masterGeneral, slaveGeneral.addr, st)
	go recvEventLoop(slavePort, slaveEvent, nil, nil, st)
	go recvGeneralLoop(slavePort, slaveGeneral, st)

	syncTicker := time.NewTicker(pc.SyncInterval)
	defer syncTicker.Stop()
	delayTicker := time.NewTicker(pc.DelayReqInterval)
	defer delayTicker.Stop()

	deadline := time.After(duration)
	sendBuf := make([]byte, 128)

	for {
		select {
		case <-deadline:
			return nil
		case <-syncTicker.C:
			runMasterActions(masterPort, masterEvent, masterGeneral, slaveEvent.addr, slaveGeneral.addr,
				masterPort.SendSync(masterClock, sendBuf), st)
		case <-delayTicker.C:
			runSlaveActions(slavePort, slaveEvent, masterEvent.addr,
				slavePort.SendDelayRequest(rngAdapter{rng}, sendBuf), st)
			if m, ok := slavePort.ExtractMeasurement(); ok {
				st.SetMeasurement(float64(m.OffsetFromMaster>>16), float64(m.MeanPathDelay>>16))
				if correction, ok := filter.Sample(m); ok {
					log.Infof("offset=%dns delay=%dns correction=%d ppb", m.OffsetFromMaster>>16, m.MeanPathDelay>>16, correction>>16)
				}
			}
		}
	}
}

// newMasterClock prefers disciplining iface's PTP Hardware Clock; if iface
// is unset or its PHC can't be resolved, it falls back to CLOCK_REALTIME.
func newMasterClock(iface string) *clock.SystemClock {
	if iface == "" {
		return clock.NewSystemClock(unix.CLOCK_REALTIME)
	}
	clk, err := clock.NewPHCClock(iface)
	if err != nil {
		log.Warnf("falling back to CLOCK_REALTIME: %v", err)
		return clock.NewSystemClock(unix.CLOCK_REALTIME)
	}
	return clk
}

// runMasterActions executes the Master role's action stream, sending
// time-critical bytes on the event socket and redeeming the resulting
// TX timestamp immediately, exactly as the engine's SendTimeCritical/
// SendTimestampAvailable contract expects.
func runMasterActions(p *port.Port, event, general *loopbackPort, eventDst, generalDst unix.Sockaddr, actions []port.PortAction, st *stats.Stats) {
	fuBuf := make([]byte, 128)
	for _, a := range actions {
		switch a.Kind {
		case port.ActionSendTimeCritical:
			egress, err := sendTimeCritical(event, eventDst, a.Bytes)
			if err != nil {
				log.Warnf("runMasterActions: %v", err)
				continue
			}
			st.IncTX(ptp.MessageSync)
			fuActions := p.SendTimestampAvailable(a.Ctx, egress, fuBuf)
			for _, fa := range fuActions {
				if fa.Kind == port.ActionSendGeneral {
					if err := sendGeneral(general, generalDst, fa.Bytes); err != nil {
						log.Warnf("runMasterActions: sending FollowUp: %v", err)
						continue
					}
					st.IncTX(ptp.MessageFollowUp)
				}
			}
		case port.ActionSendGeneral:
			if err := sendGeneral(general, generalDst, a.Bytes); err != nil {
				log.Warnf("runMasterActions: %v", err)
				continue
			}
			st.IncTX(ptp.MessageAnnounce)
		}
	}
}

// runSlaveActions mirrors runMasterActions for the Slave role's DelayReq.
func runSlaveActions(p *port.Port, event *loopbackPort, eventDst unix.Sockaddr, actions []port.PortAction, st *stats.Stats) {
	for _, a := range actions {
		if a.Kind != port.ActionSendTimeCritical {
			continue
		}
		egress, err := sendTimeCritical(event, eventDst, a.Bytes)
		if err != nil {
			log.Warnf("runSlaveActions: %v", err)
			continue
		}
		st.IncTX(ptp.MessageDelayReq)
		p.SendTimestampAvailable(a.Ctx, egress, make([]byte, 128))
	}
}

// recvEventLoop reads event-channel packets for p off lp, handing each to
// EventMessageReceived with its kernel RX timestamp. A Master port may get
// back a DelayResp to send over the general channel; a Slave port never
// produces actions here (generalOut/generalDst are nil for it).
func recvEventLoop(p *port.Port, lp *loopbackPort, generalOut *loopbackPort, generalDst unix.Sockaddr, st *stats.Stats) {
	buf := make([]byte, 128)
	for {
		raw, ingress, err := recvEvent(lp)
		if err != nil {
			return
		}
		if mt, err := ptp.ProbeMsgType(raw); err == nil {
			st.IncRX(mt)
		}
		actions := p.EventMessageReceived(raw, ingress, buf)
		for _, a := range actions {
			if a.Kind == port.ActionSendGeneral && generalOut != nil {
				if err := sendGeneral(generalOut, generalDst, a.Bytes); err != nil {
					log.Warnf("recvEventLoop: sending DelayResp: %v", err)
					continue
				}
				st.IncTX(ptp.MessageDelayResp)
			}
		}
	}
}

// recvGeneralLoop reads general-channel packets (FollowUp, DelayResp,
// Announce) for p off lp.
func recvGeneralLoop(p *port.Port, lp *loopbackPort, st *stats.Stats) {
	for {
		raw, err := recvGeneral(lp)
		if err != nil {
			return
		}
		if mt, err := ptp.ProbeMsgType(raw); err == nil {
			st.IncRX(mt)
		}
		p.GeneralMessageReceived(raw)
	}
}

type rngAdapter struct{ r *rand.Rand }

func (a rngAdapter) Float64() float64 { return a.r.Float64() }
