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

// Echo is an ECHO_REQUEST or ECHO_REPLY message.
type Echo struct {
	Message
	Data []byte
}

func NewEchoRequest(xid uint32) *Echo {
	return &Echo{
		Message: NewMessage(OFPT_ECHO_REQUEST, xid),
	}
}

func NewEchoReply(xid uint32) *Echo {
	return &Echo{
		Message: NewMessage(OFPT_ECHO_REPLY, xid),
	}
}

func (r *Echo) MarshalBinary() ([]byte, error) {
	r.SetPayload(r.Data)
	return r.Message.MarshalBinary()
}

func (r *Echo) UnmarshalBinary(data []byte) error {
	if err := r.Message.UnmarshalBinary(data); err != nil {
		return err
	}
	if r.Type() != OFPT_ECHO_REQUEST && r.Type() != OFPT_ECHO_REPLY {
		return ErrUnexpectedType
	}
	r.Data = r.Payload()

	return nil
}
