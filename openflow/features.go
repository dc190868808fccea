/*
 * vnetd - A Virtual Network OpenFlow Controller
 *
 * Copyright (C) 2026 The vnetd Authors. All rights reserved.
 *
 * This program is free software; you can redistribute it and/or modify
 * it under the terms of the GNU General Public License as published by
 * the Free Software Foundation; either version 2 of the License, or
 * any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License along
 * with this program; if not, write to the Free Software Foundation, Inc.,
 * 51 Franklin Street, Fifth Floor, Boston, MA 02110-1301 USA.
 */

package openflow

import (
	"bytes"
	"encoding/binary"
	"net"
)

const phyPortLength = 48

// PhyPort is the ofp_phy_port structure.
type PhyPort struct {
	Number uint16
	HWAddr net.HardwareAddr
	Name   string
	// Bitmap of OFPPC_* flags
	Config uint32
	// Bitmap of OFPPS_* flags
	State uint32
	// Bitmaps of OFPPF_* that describe features. All bits zeroed if unsupported or unavailable.
	Current, Advertised, Supported, Peer uint32
}

func (r *PhyPort) IsLinkDown() bool {
	return r.State&OFPPS_LINK_DOWN != 0
}

// IsReserved returns whether the port is one of the OFPP_* pseudo ports.
func (r *PhyPort) IsReserved() bool {
	return r.Number >= OFPP_MAX
}

func (r *PhyPort) MarshalBinary() ([]byte, error) {
	v := make([]byte, phyPortLength)
	binary.BigEndian.PutUint16(v[0:2], r.Number)
	copy(v[2:8], r.HWAddr)
	name := r.Name
	if len(name) > 15 {
		name = name[:15]
	}
	copy(v[8:24], name)
	binary.BigEndian.PutUint32(v[24:28], r.Config)
	binary.BigEndian.PutUint32(v[28:32], r.State)
	binary.BigEndian.PutUint32(v[32:36], r.Current)
	binary.BigEndian.PutUint32(v[36:40], r.Advertised)
	binary.BigEndian.PutUint32(v[40:44], r.Supported)
	binary.BigEndian.PutUint32(v[44:48], r.Peer)

	return v, nil
}

func (r *PhyPort) UnmarshalBinary(data []byte) error {
	if len(data) < phyPortLength {
		return ErrInvalidPacketLength
	}

	r.Number = binary.BigEndian.Uint16(data[0:2])
	r.HWAddr = make(net.HardwareAddr, 6)
	copy(r.HWAddr, data[2:8])
	name := data[8:24]
	// The name ends at the first NUL. Whatever follows is garbage.
	if i := bytes.IndexByte(name, 0); i >= 0 {
		name = name[:i]
	}
	r.Name = string(name)
	r.Config = binary.BigEndian.Uint32(data[24:28])
	r.State = binary.BigEndian.Uint32(data[28:32])
	r.Current = binary.BigEndian.Uint32(data[32:36])
	r.Advertised = binary.BigEndian.Uint32(data[36:40])
	r.Supported = binary.BigEndian.Uint32(data[40:44])
	r.Peer = binary.BigEndian.Uint32(data[44:48])

	return nil
}

// FeaturesReply is a FEATURES_REPLY message.
type FeaturesReply struct {
	Message
	DPID         uint64
	NumBuffers   uint32
	NumTables    uint8
	Capabilities uint32
	Actions      uint32
	Ports        []PhyPort
}

func NewFeaturesReply(xid uint32) *FeaturesReply {
	return &FeaturesReply{
		Message: NewMessage(OFPT_FEATURES_REPLY, xid),
	}
}

// LocalPort returns the OFPP_LOCAL port if the switch reported one.
func (r *FeaturesReply) LocalPort() (PhyPort, bool) {
	for _, p := range r.Ports {
		if p.Number == OFPP_LOCAL {
			return p, true
		}
	}

	return PhyPort{}, false
}

func (r *FeaturesReply) MarshalBinary() ([]byte, error) {
	v := make([]byte, 24, 24+len(r.Ports)*phyPortLength)
	binary.BigEndian.PutUint64(v[0:8], r.DPID)
	binary.BigEndian.PutUint32(v[8:12], r.NumBuffers)
	v[12] = r.NumTables
	binary.BigEndian.PutUint32(v[16:20], r.Capabilities)
	binary.BigEndian.PutUint32(v[20:24], r.Actions)
	for i := range r.Ports {
		p, err := r.Ports[i].MarshalBinary()
		if err != nil {
			return nil, err
		}
		v = append(v, p...)
	}
	r.SetPayload(v)

	return r.Message.MarshalBinary()
}

func (r *FeaturesReply) UnmarshalBinary(data []byte) error {
	if err := r.Message.UnmarshalBinary(data); err != nil {
		return err
	}
	if err := r.expect(OFPT_FEATURES_REPLY); err != nil {
		return err
	}

	payload := r.Payload()
	if len(payload) < 24 {
		return ErrInvalidPacketLength
	}
	r.DPID = binary.BigEndian.Uint64(payload[0:8])
	r.NumBuffers = binary.BigEndian.Uint32(payload[8:12])
	r.NumTables = payload[12]
	r.Capabilities = binary.BigEndian.Uint32(payload[16:20])
	r.Actions = binary.BigEndian.Uint32(payload[20:24])

	ports := payload[24:]
	if len(ports)%phyPortLength != 0 {
		return ErrInvalidPacketLength
	}
	r.Ports = make([]PhyPort, len(ports)/phyPortLength)
	for i := range r.Ports {
		if err := r.Ports[i].UnmarshalBinary(ports[i*phyPortLength:]); err != nil {
			return err
		}
	}

	return nil
}

// PortStatus is a PORT_STATUS message.
type PortStatus struct {
	Message
	// One of OFPPR_*.
	Reason uint8
	Port   PhyPort
}

func NewPortStatus(xid uint32) *PortStatus {
	return &PortStatus{
		Message: NewMessage(OFPT_PORT_STATUS, xid),
	}
}

func (r *PortStatus) MarshalBinary() ([]byte, error) {
	p, err := r.Port.MarshalBinary()
	if err != nil {
		return nil, err
	}
	v := make([]byte, 8, 8+len(p))
	v[0] = r.Reason
	v = append(v, p...)
	r.SetPayload(v)

	return r.Message.MarshalBinary()
}

func (r *PortStatus) UnmarshalBinary(data []byte) error {
	if err := r.Message.UnmarshalBinary(data); err != nil {
		return err
	}
	if err := r.expect(OFPT_PORT_STATUS); err != nil {
		return err
	}

	payload := r.Payload()
	if len(payload) < 8+phyPortLength {
		return ErrInvalidPacketLength
	}
	r.Reason = payload[0]

	return r.Port.UnmarshalBinary(payload[8:])
}
