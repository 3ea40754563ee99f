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

// Package config loads the YAML configuration that feeds the port engine's
// borrowed datasets (DefaultDS) and per-port timer intervals (PortConfig).
package config

import (
	"errors"
	"os"
	"time"

	yaml "gopkg.in/yaml.v2"

	ptp "github.com/ptpcore/port/ptp/protocol"
	"github.com/ptpcore/port/port"
)

var errInsaneUTCoffset = errors.New("UTC offset is outside of sane range")

// InstanceConfig holds the knobs port.DefaultDS is built from, plus the
// timescale properties that flow into Announce.
type InstanceConfig struct {
	ClockIdentity ptp.ClockIdentity `yaml:"clock_identity"`
	Priority1     uint8             `yaml:"priority1"`
	Priority2     uint8             `yaml:"priority2"`
	ClockClass    ptp.ClockClass    `yaml:"clock_class"`
	ClockAccuracy ptp.ClockAccuracy `yaml:"clock_accuracy"`
	DomainNumber  uint8             `yaml:"domain_number"`
	SlaveOnly     bool              `yaml:"slave_only"`
	UTCOffset     time.Duration     `yaml:"utc_offset"`
	PTPTimescale  bool              `yaml:"ptp_timescale"`
	TimeSource    ptp.TimeSource    `yaml:"time_source"`

	Ports []PortConfig `yaml:"ports"`
}

// PortConfig mirrors port.PortConfig plus the interface name the I/O layer
// binds it to; it is the YAML-facing twin of the core's own PortConfig.
type PortConfig struct {
	Interface            string        `yaml:"interface"`
	PortNumber           uint16        `yaml:"port_number"`
	AnnounceInterval     time.Duration `yaml:"announce_interval"`
	SyncInterval         time.Duration `yaml:"sync_interval"`
	MinDelayReqInterval  time.Duration `yaml:"min_delay_req_interval"`
	DelayReqInterval     time.Duration `yaml:"delay_req_interval"`
	AnnounceReceiptCount uint8         `yaml:"announce_receipt_count"`
}

// UTCOffsetSanity checks the configured UTC offset sits in a plausible
// range. As of 2026 TAI-UTC offset is 37 seconds.
func (c *InstanceConfig) UTCOffsetSanity() error {
	if c.UTCOffset < 30*time.Second || c.UTCOffset > 50*time.Second {
		return errInsaneUTCoffset
	}
	return nil
}

// Read loads an InstanceConfig from a YAML file at path.
func Read(path string) (*InstanceConfig, error) {
	cData, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	c := &InstanceConfig{}
	if err := yaml.Unmarshal(cData, c); err != nil {
		return nil, err
	}
	if err := c.UTCOffsetSanity(); err != nil {
		return nil, err
	}
	return c, nil
}

// Write serializes c as YAML to path.
func (c *InstanceConfig) Write(path string) error {
	d, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, d, 0644)
}

// DefaultDS builds the port engine's borrowed instance dataset from c.
func (c *InstanceConfig) DefaultDS() port.DefaultDS {
	return port.DefaultDS{
		ClockIdentity: c.ClockIdentity,
		Priority1:     c.Priority1,
		Priority2:     c.Priority2,
		ClockQuality: ptp.ClockQuality{
			ClockClass:    c.ClockClass,
			ClockAccuracy: c.ClockAccuracy,
		},
		DomainNumber: c.DomainNumber,
		SlaveOnly:    c.SlaveOnly,
	}
}

// TimeProperties builds the engine's TimePropertiesDS from c.
func (c *InstanceConfig) TimeProperties() port.TimePropertiesDS {
	return port.TimePropertiesDS{
		CurrentUTCOffset:      int16(c.UTCOffset / time.Second),
		CurrentUTCOffsetValid: true,
		PTPTimescale:          c.PTPTimescale,
		TimeSource:            c.TimeSource,
	}
}

// ToPortConfig converts the YAML PortConfig into the engine's own
// port.PortConfig, dropping the I/O-layer-only fields (Interface,
// PortNumber).
func (pc PortConfig) ToPortConfig() port.PortConfig {
	return port.PortConfig{
		AnnounceInterval:     pc.AnnounceInterval,
		SyncInterval:         pc.SyncInterval,
		MinDelayReqInterval:  pc.MinDelayReqInterval,
		DelayReqInterval:     pc.DelayReqInterval,
		AnnounceReceiptCount: pc.AnnounceReceiptCount,
	}
}
