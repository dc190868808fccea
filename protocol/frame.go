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

// Package protocol builds and parses the Ethernet frames exchanged with switches.
package protocol

import (
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/pkg/errors"
)

var serializeOptions = gopacket.SerializeOptions{
	ComputeChecksums: true,
	FixLengths:       true,
}

// Frame is a decoded Ethernet frame. Layers that are not present are nil.
type Frame struct {
	Ethernet *layers.Ethernet
	ARP      *layers.ARP
	IPv4     *layers.IPv4
	TCP      *layers.TCP
	UDP      *layers.UDP
	DHCP     *layers.DHCPv4
}

// Decode parses an Ethernet frame. It fails if any recognized layer is malformed.
func Decode(data []byte) (*Frame, error) {
	packet := gopacket.NewPacket(data, layers.LayerTypeEthernet, gopacket.Default)
	if e := packet.ErrorLayer(); e != nil {
		return nil, errors.Wrap(e.Error(), "malformed frame")
	}

	f := new(Frame)
	eth, ok := packet.Layer(layers.LayerTypeEthernet).(*layers.Ethernet)
	if !ok {
		return nil, errors.New("not an ethernet frame")
	}
	f.Ethernet = eth
	if v, ok := packet.Layer(layers.LayerTypeARP).(*layers.ARP); ok {
		f.ARP = v
	}
	if v, ok := packet.Layer(layers.LayerTypeIPv4).(*layers.IPv4); ok {
		f.IPv4 = v
	}
	if v, ok := packet.Layer(layers.LayerTypeTCP).(*layers.TCP); ok {
		f.TCP = v
	}
	if v, ok := packet.Layer(layers.LayerTypeUDP).(*layers.UDP); ok {
		f.UDP = v
	}
	if v, ok := packet.Layer(layers.LayerTypeDHCPv4).(*layers.DHCPv4); ok {
		f.DHCP = v
	}

	return f, nil
}

// IsARPRequest returns whether the frame is an ARP request asking for target.
func (r *Frame) IsARPRequest(target net.IP) bool {
	if r.ARP == nil || r.ARP.Operation != layers.ARPRequest {
		return false
	}

	return net.IP(r.ARP.DstProtAddress).Equal(target)
}

// IsDHCPRequest returns whether the frame is a client to server DHCP datagram.
func (r *Frame) IsDHCPRequest() bool {
	return r.IPv4 != nil && r.UDP != nil && r.UDP.SrcPort == 68 && r.UDP.DstPort == 67
}

// IsTCPTo returns whether the frame is a TCP segment destined to ip:port.
func (r *Frame) IsTCPTo(ip net.IP, port uint16) bool {
	return r.IPv4 != nil && r.TCP != nil && r.IPv4.DstIP.Equal(ip) && uint16(r.TCP.DstPort) == port
}

func serialize(l ...gopacket.SerializableLayer) ([]byte, error) {
	buf := gopacket.NewSerializeBuffer()
	if err := gopacket.SerializeLayers(buf, serializeOptions, l...); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// NewARP builds an Ethernet frame carrying an ARP message.
func NewARP(op uint16, srcHW net.HardwareAddr, srcIP net.IP, dstHW net.HardwareAddr, dstIP net.IP) ([]byte, error) {
	if srcIP.To4() == nil || dstIP.To4() == nil {
		return nil, errors.New("ARP requires IPv4 addresses")
	}

	eth := &layers.Ethernet{
		SrcMAC:       srcHW,
		DstMAC:       dstHW,
		EthernetType: layers.EthernetTypeARP,
	}
	arp := &layers.ARP{
		AddrType:          layers.LinkTypeEthernet,
		Protocol:          layers.EthernetTypeIPv4,
		HwAddressSize:     6,
		ProtAddressSize:   4,
		Operation:         op,
		SourceHwAddress:   srcHW,
		SourceProtAddress: srcIP.To4(),
		DstHwAddress:      dstHW,
		DstProtAddress:    dstIP.To4(),
	}

	return serialize(eth, arp)
}

// NewUDP builds an Ethernet/IPv4/UDP frame with valid checksums.
func NewUDP(srcHW net.HardwareAddr, srcIP net.IP, srcPort uint16, dstHW net.HardwareAddr, dstIP net.IP, dstPort uint16, payload []byte) ([]byte, error) {
	if srcIP.To4() == nil || dstIP.To4() == nil {
		return nil, errors.New("UDP requires IPv4 addresses")
	}

	eth := &layers.Ethernet{
		SrcMAC:       srcHW,
		DstMAC:       dstHW,
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    srcIP.To4(),
		DstIP:    dstIP.To4(),
	}
	udp := &layers.UDP{
		SrcPort: layers.UDPPort(srcPort),
		DstPort: layers.UDPPort(dstPort),
	}
	if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
		return nil, err
	}

	return serialize(eth, ip, udp, gopacket.Payload(payload))
}
