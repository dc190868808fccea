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
	"encoding"
	"encoding/binary"
)

// PacketIn is a PACKET_IN message.
type PacketIn struct {
	Message
	BufferID    uint32
	TotalLength uint16
	InPort      uint16
	// One of OFPR_*.
	Reason uint8
	Data   []byte
}

func NewPacketIn(xid uint32) *PacketIn {
	return &PacketIn{
		Message:  NewMessage(OFPT_PACKET_IN, xid),
		BufferID: OFP_NO_BUFFER,
	}
}

func (r *PacketIn) MarshalBinary() ([]byte, error) {
	v := make([]byte, 10, 10+len(r.Data))
	binary.BigEndian.PutUint32(v[0:4], r.BufferID)
	binary.BigEndian.PutUint16(v[4:6], r.TotalLength)
	binary.BigEndian.PutUint16(v[6:8], r.InPort)
	v[8] = r.Reason
	v = append(v, r.Data...)
	r.SetPayload(v)

	return r.Message.MarshalBinary()
}

func (r *PacketIn) UnmarshalBinary(data []byte) error {
	if err := r.Message.UnmarshalBinary(data); err != nil {
		return err
	}
	if err := r.expect(OFPT_PACKET_IN); err != nil {
		return err
	}

	payload := r.Payload()
	if len(payload) < 10 {
		return ErrInvalidPacketLength
	}
	r.BufferID = binary.BigEndian.Uint32(payload[0:4])
	r.TotalLength = binary.BigEndian.Uint16(payload[4:6])
	r.InPort = binary.BigEndian.Uint16(payload[6:8])
	r.Reason = payload[8]
	r.Data = payload[10:]

	return nil
}

type Action interface {
	encoding.BinaryMarshaler
}

// ActionOutput is the OFPAT_OUTPUT action.
type ActionOutput struct {
	Port uint16
	// Max bytes to send when Port is OFPP_CONTROLLER.
	MaxLength uint16
}

func (r ActionOutput) MarshalBinary() ([]byte, error) {
	v := make([]byte, 8)
	binary.BigEndian.PutUint16(v[0:2], OFPAT_OUTPUT)
	binary.BigEndian.PutUint16(v[2:4], 8)
	binary.BigEndian.PutUint16(v[4:6], r.Port)
	binary.BigEndian.PutUint16(v[6:8], r.MaxLength)

	return v, nil
}

// PacketOut is a PACKET_OUT message. Data is ignored by the switch unless
// BufferID is OFP_NO_BUFFER.
type PacketOut struct {
	Message
	BufferID uint32
	// OFPP_CONTROLLER if the packet was generated by the controller.
	InPort  uint16
	Actions []Action
	Data    []byte
}

func NewPacketOut(xid uint32) *PacketOut {
	return &PacketOut{
		Message:  NewMessage(OFPT_PACKET_OUT, xid),
		BufferID: OFP_NO_BUFFER,
		InPort:   OFPP_CONTROLLER,
	}
}

func (r *PacketOut) MarshalBinary() ([]byte, error) {
	actions := make([]byte, 0)
	for _, a := range r.Actions {
		v, err := a.MarshalBinary()
		if err != nil {
			return nil, err
		}
		actions = append(actions, v...)
	}

	v := make([]byte, 8, 8+len(actions)+len(r.Data))
	binary.BigEndian.PutUint32(v[0:4], r.BufferID)
	binary.BigEndian.PutUint16(v[4:6], r.InPort)
	binary.BigEndian.PutUint16(v[6:8], uint16(len(actions)))
	v = append(v, actions...)
	v = append(v, r.Data...)
	r.SetPayload(v)

	return r.Message.MarshalBinary()
}
