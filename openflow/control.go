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
	"encoding/binary"
	"fmt"
)

type Hello struct {
	Message
}

func NewHello(xid uint32) *Hello {
	return &Hello{
		Message: NewMessage(OFPT_HELLO, xid),
	}
}

func (r *Hello) UnmarshalBinary(data []byte) error {
	if err := r.Message.UnmarshalBinary(data); err != nil {
		return err
	}

	return r.expect(OFPT_HELLO)
}

type FeaturesRequest struct {
	Message
}

func NewFeaturesRequest(xid uint32) *FeaturesRequest {
	return &FeaturesRequest{
		Message: NewMessage(OFPT_FEATURES_REQUEST, xid),
	}
}

type BarrierRequest struct {
	Message
}

func NewBarrierRequest(xid uint32) *BarrierRequest {
	return &BarrierRequest{
		Message: NewMessage(OFPT_BARRIER_REQUEST, xid),
	}
}

// SetConfig is a SET_CONFIG message.
type SetConfig struct {
	Message
	Flags uint16
	// Max bytes of new flow that datapath should send to the controller.
	MissSendLength uint16
}

func NewSetConfig(xid uint32) *SetConfig {
	return &SetConfig{
		Message:        NewMessage(OFPT_SET_CONFIG, xid),
		MissSendLength: OFPCML_NO_BUFFER,
	}
}

func (r *SetConfig) MarshalBinary() ([]byte, error) {
	v := make([]byte, 4)
	binary.BigEndian.PutUint16(v[0:2], r.Flags)
	binary.BigEndian.PutUint16(v[2:4], r.MissSendLength)
	r.SetPayload(v)

	return r.Message.MarshalBinary()
}

// Error is an ERROR message sent by a switch.
type Error struct {
	Message
	Class uint16
	Code  uint16
	Data  []byte
}

func (r *Error) Error() string {
	return fmt.Sprintf("openflow error: class=%v, code=%v", r.Class, r.Code)
}

func (r *Error) UnmarshalBinary(data []byte) error {
	if err := r.Message.UnmarshalBinary(data); err != nil {
		return err
	}
	if err := r.expect(OFPT_ERROR); err != nil {
		return err
	}

	payload := r.Payload()
	if len(payload) < 4 {
		return ErrInvalidPacketLength
	}
	r.Class = binary.BigEndian.Uint16(payload[0:2])
	r.Code = binary.BigEndian.Uint16(payload[2:4])
	r.Data = payload[4:]

	return nil
}
