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

package protocol

import (
	"encoding/binary"
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/pkg/errors"
)

// InfiniteLease is the lease time we hand out.
const InfiniteLease = 0xffffffff

// MessageType returns the value of the DHCP message type option.
func MessageType(v *layers.DHCPv4) (layers.DHCPMsgType, bool) {
	for _, o := range v.Options {
		if o.Type == layers.DHCPOptMessageType && len(o.Data) == 1 {
			return layers.DHCPMsgType(o.Data[0]), true
		}
	}

	return layers.DHCPMsgTypeUnspecified, false
}

// Lease is what the server hands to a client.
type Lease struct {
	ClientHW net.HardwareAddr
	ClientIP net.IP
	ServerIP net.IP
	Network  *net.IPNet
}

// Broadcast returns the directed broadcast address of the lease's network.
func (r Lease) Broadcast() net.IP {
	ip := r.Network.IP.To4()
	v := make(net.IP, 4)
	for i := range v {
		v[i] = ip[i] | ^r.Network.Mask[len(r.Network.Mask)-4+i]
	}

	return v
}

// NewDHCPReply builds an OFFER or ACK payload answering the request xid.
func NewDHCPReply(msgType layers.DHCPMsgType, xid uint32, lease Lease) ([]byte, error) {
	if msgType != layers.DHCPMsgTypeOffer && msgType != layers.DHCPMsgTypeAck {
		return nil, errors.Errorf("unsupported reply type: %v", msgType)
	}
	if lease.ClientIP.To4() == nil || lease.ServerIP.To4() == nil || lease.Network == nil {
		return nil, errors.New("incomplete lease")
	}

	leaseTime := make([]byte, 4)
	binary.BigEndian.PutUint32(leaseTime, InfiniteLease)
	mask := lease.Network.Mask
	if len(mask) == net.IPv6len {
		mask = mask[12:]
	}

	reply := &layers.DHCPv4{
		Operation:    layers.DHCPOpReply,
		HardwareType: layers.LinkTypeEthernet,
		HardwareLen:  6,
		Xid:          xid,
		ClientIP:     net.IPv4zero.To4(),
		YourClientIP: lease.ClientIP.To4(),
		NextServerIP: lease.ServerIP.To4(),
		RelayAgentIP: net.IPv4zero.To4(),
		ClientHWAddr: lease.ClientHW,
		Options: layers.DHCPOptions{
			layers.NewDHCPOption(layers.DHCPOptMessageType, []byte{byte(msgType)}),
			layers.NewDHCPOption(layers.DHCPOptServerID, lease.ServerIP.To4()),
			layers.NewDHCPOption(layers.DHCPOptLeaseTime, leaseTime),
			layers.NewDHCPOption(layers.DHCPOptBroadcastAddr, lease.Broadcast()),
			layers.NewDHCPOption(layers.DHCPOptSubnetMask, []byte(mask)),
		},
	}

	buf := gopacket.NewSerializeBuffer()
	if err := reply.SerializeTo(buf, serializeOptions); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}
