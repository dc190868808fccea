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

package network

import (
	"fmt"
	"net"

	"github.com/sdnlab/vnetd/flow"
	"github.com/sdnlab/vnetd/openflow"
	"github.com/sdnlab/vnetd/protocol"

	"github.com/davecgh/go-spew/spew"
	"github.com/google/gopacket/layers"
	"github.com/op/go-logging"
)

const (
	dhcpServerPort = 67
	dhcpClientPort = 68
)

// packetIn reacts to a punted packet. Problems with the packet are logged and
// the packet is dropped: nothing here fails the session.
func (r *Switch) packetIn(msg *openflow.PacketIn) {
	port, ok := r.ports[msg.InPort]
	if !ok {
		logger.Debugf("dropping a packet from unknown port %v on %v", msg.InPort, r)
		packetInTotal.WithLabelValues("unknown_port").Inc()
		return
	}

	frame, err := protocol.Decode(msg.Data)
	if err != nil {
		logger.Debugf("dropping an undecodable packet from port %v on %v: %v", msg.InPort, r, err)
		packetInTotal.WithLabelValues("malformed").Inc()
		return
	}
	r.fdb.Learn(frame.Ethernet.SrcMAC, msg.InPort)

	conf := r.ctrl.conf
	switch {
	case frame.ARP != nil:
		packetInTotal.WithLabelValues("arp").Inc()
		r.handleARP(port, frame)
	case frame.IsTCPTo(conf.MetadataAddress, conf.MetadataPort):
		packetInTotal.WithLabelValues("metadata").Inc()
		r.handleMetadata(msg, frame)
	case frame.IsDHCPRequest():
		packetInTotal.WithLabelValues("dhcp").Inc()
		r.handleDHCP(port, frame)
	default:
		logger.Debugf("ignoring a packet from port %v on %v: %v -> %v", msg.InPort, r, frame.Ethernet.SrcMAC, frame.Ethernet.DstMAC)
		packetInTotal.WithLabelValues("other").Inc()
	}
}

func (r *Switch) handleARP(port *Port, frame *protocol.Frame) {
	arp := frame.ARP
	logger.Debugf("ARP packet: port=%v, source=%v/%v, dest=%v/%v", port.Number(),
		net.HardwareAddr(arp.SourceHwAddress), net.IP(arp.SourceProtAddress),
		net.HardwareAddr(arp.DstHwAddress), net.IP(arp.DstProtAddress))

	n := port.network
	if n == nil || n.DHCPIP == nil {
		return
	}
	if !frame.IsARPRequest(n.DHCPIP) {
		return
	}

	err := r.sendARP(port.Number(), layers.ARPReply, n.DHCPHWAddr, n.DHCPIP, frame.Ethernet.SrcMAC, net.IP(arp.SourceProtAddress))
	if err != nil {
		logger.Errorf("failed to send an ARP reply to port %v on %v: %v", port.Number(), r, err)
		return
	}
	repliesTotal.WithLabelValues("arp").Inc()
}

// handleMetadata installs a NAT pair that redirects the connection to the
// metadata backend on the host, then resubmits the packet to the pipeline
// so the first segment is not lost.
func (r *Switch) handleMetadata(msg *openflow.PacketIn, frame *protocol.Frame) {
	conf := r.ctrl.conf
	if r.localHW == nil || conf.BackendAddress == nil {
		logger.Warningf("dropping a metadata request on %v: unknown backend address", r)
		return
	}

	eth, ip, tcp := frame.Ethernet, frame.IPv4, frame.TCP
	key := natKey(msg.InPort, eth.SrcMAC, ip.SrcIP, uint16(tcp.SrcPort))
	if !r.nat.Installed(key) {
		if err := r.installNAT(msg.InPort, frame); err != nil {
			// Without the pair the packet would come back here. The client retransmits.
			logger.Errorf("dropping a metadata request: %v", err)
			return
		}
		r.nat.Add(key)
	}

	if err := r.resubmit(msg); err != nil {
		logger.Errorf("failed to resubmit a metadata request on %v: %v", r, err)
	}
}

// installNAT adds both NAT rules of the connection in frame. A half installed
// pair is removed again.
func (r *Switch) installNAT(inPort uint16, frame *protocol.Frame) error {
	var installed []flow.Flow
	for _, f := range r.natFlows(inPort, frame) {
		if err := r.addFlow(f); err != nil {
			for _, v := range installed {
				if err := r.delFlow(v.MatchString()); err != nil {
					logger.Errorf("failed to remove a NAT flow: %v", err)
				}
			}
			return err
		}
		installed = append(installed, f)
	}

	return nil
}

// resubmit sends a punted packet back through the flow tables. A packet
// buffered by the switch is referenced by its buffer id.
func (r *Switch) resubmit(msg *openflow.PacketIn) error {
	if msg.BufferID == openflow.OFP_NO_BUFFER {
		return r.packetOut(msg.InPort, openflow.OFPP_TABLE, msg.Data)
	}

	out := openflow.NewPacketOut(openflow.NewTransactionID())
	out.BufferID = msg.BufferID
	out.InPort = msg.InPort
	out.Actions = []openflow.Action{openflow.ActionOutput{Port: openflow.OFPP_TABLE}}

	return r.writer.Write(out)
}

// natFlows renders the outgoing and incoming NAT rules of the connection in frame.
func (r *Switch) natFlows(inPort uint16, frame *protocol.Frame) []flow.Flow {
	conf := r.ctrl.conf
	eth, ip, tcp := frame.Ethernet, frame.IPv4, frame.TCP
	logger.Infof("installing a DNAT entry on %v: %v:%v -> %v:%v", r, ip.SrcIP, tcp.SrcPort, conf.BackendAddress, conf.BackendPort)

	outgoing := flow.New(3, flow.TableMetadataOutgoing,
		fmt.Sprintf("tcp,%v,dl_src=%v,dl_dst=%v,nw_src=%v,tp_src=%v", flow.InPort(inPort), eth.SrcMAC, eth.DstMAC, ip.SrcIP, uint16(tcp.SrcPort)),
		fmt.Sprintf("mod_dl_dst:%v,mod_nw_dst:%v,mod_tp_dst:%v,%v", r.localHW, conf.BackendAddress, conf.BackendPort, flow.Output(flow.LocalPort)),
	)
	outgoing.IdleTimeout = natIdleTimeout

	incoming := flow.New(3, flow.TableMetadataIncoming,
		fmt.Sprintf("tcp,%v,dl_src=%v,dl_dst=%v,nw_dst=%v,tp_dst=%v", flow.InPort(flow.LocalPort), r.localHW, eth.SrcMAC, ip.SrcIP, uint16(tcp.SrcPort)),
		fmt.Sprintf("mod_dl_src:%v,mod_nw_src:%v,mod_tp_src:%v,%v", eth.DstMAC, ip.DstIP, uint16(tcp.DstPort), flow.Output(inPort)),
	)
	incoming.IdleTimeout = natIdleTimeout

	return []flow.Flow{outgoing, incoming}
}

func (r *Switch) handleDHCP(port *Port, frame *protocol.Frame) {
	n := port.network
	if n == nil {
		return
	}
	if frame.DHCP == nil {
		logger.Debugf("dropping a malformed DHCP message from port %v on %v", port.Number(), r)
		return
	}
	if logger.IsEnabledFor(logging.DEBUG) {
		logger.Debugf("DHCP message from port %v: %v", port.Number(), spew.Sdump(frame.DHCP))
	}
	if n.DHCPIP == nil {
		logger.Debugf("DHCP: %v has no DHCP server address", n)
		return
	}
	if port.hwAddr == nil || port.ip == nil {
		logger.Debugf("DHCP: port %v on %v has no bound address", port.Number(), r)
		return
	}

	msgType, ok := protocol.MessageType(frame.DHCP)
	if !ok {
		return
	}
	var reply layers.DHCPMsgType
	switch msgType {
	case layers.DHCPMsgTypeDiscover:
		reply = layers.DHCPMsgTypeOffer
	case layers.DHCPMsgTypeRequest:
		reply = layers.DHCPMsgTypeAck
	default:
		logger.Debugf("DHCP: no handler for %v", msgType)
		return
	}

	payload, err := protocol.NewDHCPReply(reply, frame.DHCP.Xid, protocol.Lease{
		ClientHW: port.hwAddr,
		ClientIP: port.ip,
		ServerIP: n.DHCPIP,
		Network:  n.IPv4,
	})
	if err != nil {
		logger.Errorf("failed to build a DHCP %v: %v", reply, err)
		return
	}
	err = r.sendUDP(port.Number(), n.DHCPHWAddr, n.DHCPIP, dhcpServerPort, port.hwAddr, port.ip, dhcpClientPort, payload)
	if err != nil {
		logger.Errorf("failed to send a DHCP %v to port %v on %v: %v", reply, port.Number(), r, err)
		return
	}
	logger.Debugf("DHCP: sent %v to %v/%v", reply, port.hwAddr, port.ip)
	repliesTotal.WithLabelValues("dhcp").Inc()
}
