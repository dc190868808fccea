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
	"sync"

	"github.com/sdnlab/vnetd/flow"
	"github.com/sdnlab/vnetd/openflow"
)

type PortType int

const (
	PortNone PortType = iota
	PortEth
	PortTunnel
	PortInstanceNet
	PortInstanceVNet
)

func (r PortType) String() string {
	switch r {
	case PortNone:
		return "none"
	case PortEth:
		return "eth"
	case PortTunnel:
		return "tunnel"
	case PortInstanceNet:
		return "instance-net"
	case PortInstanceVNet:
		return "instance-vnet"
	default:
		return fmt.Sprintf("unknown(%d)", int(r))
	}
}

const (
	broadcastHW = "ff:ff:ff:ff:ff:ff"
	// DHCP requests broadcast by a client that has no address yet.
	dhcpDiscovery = "dl_dst=ff:ff:ff:ff:ff:ff,nw_src=0.0.0.0,nw_dst=255.255.255.255,tp_src=68,tp_dst=67"
)

// Port is a switch port and the flows we installed on its behalf.
type Port struct {
	// mutex makes check-then-uninstall in deletePort atomic.
	mutex    sync.Mutex
	sw       *Switch
	info     openflow.PhyPort
	portType PortType
	active   bool
	hwAddr   net.HardwareAddr
	ip       net.IP
	network  *Network
	// Selectors of every flow we queued, used to uninstall them.
	activeFlows []string
	// Flows not yet issued to the switch.
	queuedFlows []flow.Flow
}

func newPort(sw *Switch, info openflow.PhyPort) *Port {
	return &Port{
		sw:   sw,
		info: info,
	}
}

func (r *Port) String() string {
	return fmt.Sprintf("Port(%v/%v, type=%v, active=%v)", r.info.Number, r.info.Name, r.portType, r.active)
}

func (r *Port) Number() uint16 {
	return r.info.Number
}

func (r *Port) Name() string {
	return r.info.Name
}

func (r *Port) Type() PortType {
	return r.portType
}

func (r *Port) Network() *Network {
	return r.network
}

func (r *Port) IsActive() bool {
	return r.active
}

func (r *Port) ActiveFlows() []string {
	return r.activeFlows
}

func (r *Port) QueuedFlows() []flow.Flow {
	return r.queuedFlows
}

func (r *Port) queueFlow(priority int, table flow.Table, match, actions string) {
	f := flow.New(priority, table, match, actions)
	r.activeFlows = append(r.activeFlows, f.MatchString())
	r.queuedFlows = append(r.queuedFlows, f)
}

// flush issues the queued flows as a single batch.
func (r *Port) flush() {
	if len(r.queuedFlows) == 0 {
		return
	}
	r.sw.addFlows(r.queuedFlows)
	r.queuedFlows = nil
}

func (r *Port) num() string {
	return flow.PortArg(r.info.Number)
}

// reset uninstalls every flow of the port and forgets its binding. The port stays tracked.
func (r *Port) reset() {
	r.sw.delFlows(r.activeFlows)
	r.forget()
}

// forget drops the binding and the flow bookkeeping of the port without
// touching the switch.
func (r *Port) forget() {
	r.activeFlows = nil
	r.queuedFlows = nil
	r.portType = PortNone
	r.hwAddr = nil
	r.ip = nil
	r.network = nil
}

func (r *Port) initEth() {
	r.portType = PortEth
	n := r.info.Number

	r.queueFlow(6, flow.TableClassifier, "udp,in_port=local,"+dhcpDiscovery, flow.Output(n))
	r.queueFlow(2, flow.TableClassifier, flow.InPort(n), flow.Resubmit(flow.TableRouteDirectly))
	r.queueFlow(0, flow.TableMACRoute, "", flow.Output(n))
	r.queueFlow(0, flow.TableRouteDirectly, "", flow.Output(n))
	r.queueFlow(0, flow.TableLoadDst, "", loadReg0(n))
	r.queueFlow(4, flow.TableLoadSrc, flow.InPort(n), "output:NXM_NX_REG0[]")
	r.queueFlow(1, flow.TableARPAntispoof, "arp,"+flow.InPort(n), flow.Resubmit(flow.TableARPRoute))
	r.queueFlow(0, flow.TableARPRoute, "arp", flow.Output(n))
	r.queueFlow(4, flow.TableMetadataOutgoing, flow.InPort(n), "drop")
}

func (r *Port) initGRETunnel(netID uint32) {
	r.portType = PortTunnel
	actions := fmt.Sprintf("load:%v->NXM_NX_REG1[],load:%v->NXM_NX_REG2[],%v", netID, r.num(), flow.Resubmit(flow.TableVirtualSrc))
	r.queueFlow(7, flow.TableClassifier, flow.InPort(r.info.Number), actions)
}

func (r *Port) initInstanceNet(hw net.HardwareAddr) {
	r.portType = PortInstanceNet
	n := r.info.Number

	r.queueFlow(1, flow.TableMACRoute, "dl_dst="+hw.String(), flow.Output(n))
	r.queueFlow(2, flow.TableClassifier, flow.Join(flow.InPort(n), "dl_src="+hw.String()), flow.Resubmit(flow.TableRouteDirectly))
	r.queueFlow(1, flow.TableRouteDirectly, "dl_dst="+hw.String(), flow.Output(n))
	r.queueFlow(1, flow.TableLoadDst, "dl_dst="+hw.String(), "drop")
}

func (r *Port) initInstanceVNet(netID uint32, hw net.HardwareAddr) {
	r.portType = PortInstanceVNet
	n := r.info.Number

	r.queueFlow(7, flow.TableClassifier, flow.InPort(n), fmt.Sprintf("load:%v->NXM_NX_REG1[],%v", netID, flow.Resubmit(flow.TableVirtualSrc)))
	r.queueFlow(2, flow.TableVirtualDst, fmt.Sprintf("reg1=%v,dl_dst=%v", netID, hw), flow.Output(n))
}

// installARPAntispoof accepts ARP from the port only with the bound addresses
// and drops claims of either address from anywhere else.
func (r *Port) installARPAntispoof(hw net.HardwareAddr, ip net.IP) {
	n := r.info.Number

	r.queueFlow(3, flow.TableARPAntispoof, fmt.Sprintf("arp,%v,arp_sha=%v,nw_src=%v", flow.InPort(n), hw, ip), flow.Resubmit(flow.TableARPRoute))
	r.queueFlow(2, flow.TableARPAntispoof, "arp,arp_sha="+hw.String(), "drop")
	r.queueFlow(2, flow.TableARPAntispoof, "arp,nw_src="+ip.String(), "drop")
	r.queueFlow(2, flow.TableARPRoute, fmt.Sprintf("arp,dl_dst=%v,nw_dst=%v", hw, ip), flow.Output(n))
}

func loadReg0(port uint16) string {
	return fmt.Sprintf("load:%v->NXM_NX_REG0[],%v", port, flow.Resubmit(flow.TableLoadSrc))
}

// remoteMatch renders a remote address filter. A /0 network matches anything.
func remoteMatch(field string, remote *net.IPNet) string {
	if remote == nil {
		return ""
	}
	if ones, _ := remote.Mask.Size(); ones == 0 {
		return ""
	}

	return field + "=" + remote.String()
}

// installStaticTransport admits TCP or UDP traffic to the local port(s)
// selected by localPort (empty for any) from remote, and the replies.
func (r *Port) installStaticTransport(proto uint8, hw net.HardwareAddr, ip net.IP, localPort string, remote *net.IPNet) {
	n := r.info.Number
	matchType := fmt.Sprintf("dl_type=0x0800,nw_proto=%v", proto)

	var tpDst, tpSrc string
	if localPort != "" {
		tpDst = "tp_dst=" + localPort
		tpSrc = "tp_src=" + localPort
	}

	incoming := flow.Join(matchType, "dl_dst="+hw.String(), "nw_dst="+ip.String(), remoteMatch("nw_src", remote), tpDst)
	r.queueFlow(3, flow.TableLoadDst, incoming, loadReg0(n))

	outgoing := flow.Join(matchType, flow.InPort(n), "dl_src="+hw.String(), "nw_src="+ip.String(), remoteMatch("nw_dst", remote), tpSrc)
	r.queueFlow(3, flow.TableLoadSrc, outgoing, "output:NXM_NX_REG0[]")
}

// installStaticICMP admits ICMP of the given type and code (negative for any) from remote.
func (r *Port) installStaticICMP(icmpType, icmpCode int, hw net.HardwareAddr, ip net.IP, remote *net.IPNet) {
	n := r.info.Number

	matchType := "dl_type=0x0800,nw_proto=1"
	if icmpType >= 0 {
		matchType += fmt.Sprintf(",icmp_type=%v", icmpType)
	}
	if icmpCode >= 0 {
		matchType += fmt.Sprintf(",icmp_code=%v", icmpCode)
	}

	incoming := flow.Join(matchType, "dl_dst="+hw.String(), "nw_dst="+ip.String(), remoteMatch("nw_src", remote))
	r.queueFlow(3, flow.TableLoadDst, incoming, loadReg0(n))

	outgoing := flow.Join(matchType, flow.InPort(n), "dl_src="+hw.String(), "nw_src="+ip.String(), remoteMatch("nw_dst", remote))
	r.queueFlow(3, flow.TableLoadSrc, outgoing, "output:NXM_NX_REG0[]")
}

const (
	icmpIdleTimeout = 60
	tcpIdleTimeout  = 7200
	udpIdleTimeout  = 600
)

// learnConnection renders the pair of learn actions that let replies of an
// outgoing connection back in until the connection stays idle for idleTimeout.
func learnConnection(matchType string, idleTimeout int, fields []string, reversed []string) string {
	outgoing := fmt.Sprintf("priority=2,idle_timeout=%v,table=%v,%v,NXM_OF_IN_PORT[],NXM_OF_ETH_SRC[],NXM_OF_ETH_DST[],NXM_OF_IP_SRC[],NXM_OF_IP_DST[]",
		idleTimeout, flow.TableLoadDst, matchType)
	incoming := fmt.Sprintf("priority=2,idle_timeout=%v,table=%v,%v,NXM_OF_IN_PORT[]=NXM_NX_REG0[0..15],NXM_OF_ETH_SRC[]=NXM_OF_ETH_DST[],NXM_OF_ETH_DST[]=NXM_OF_ETH_SRC[],NXM_OF_IP_SRC[]=NXM_OF_IP_DST[],NXM_OF_IP_DST[]=NXM_OF_IP_SRC[]",
		idleTimeout, flow.TableLoadDst, matchType)
	for _, v := range fields {
		outgoing += "," + v
	}
	for _, v := range reversed {
		incoming += "," + v
	}

	return fmt.Sprintf("learn(%v,output:NXM_NX_REG0[]),learn(%v,output:NXM_OF_IN_PORT[]),output:NXM_NX_REG0[]", outgoing, incoming)
}

func (r *Port) installLocalICMP(hw net.HardwareAddr, ip net.IP) {
	matchType := "dl_type=0x0800,nw_proto=1"
	actions := learnConnection(matchType, icmpIdleTimeout, nil, nil)
	r.queueFlow(1, flow.TableLoadSrc, flow.Join(matchType, flow.InPort(r.info.Number), "dl_src="+hw.String(), "nw_src="+ip.String()), actions)
}

// installLocalTransport lets the instance open TCP or UDP connections.
func (r *Port) installLocalTransport(proto uint8, hw net.HardwareAddr, ip net.IP) {
	var name string
	var idleTimeout int
	switch proto {
	case protoTCP:
		name, idleTimeout = "TCP", tcpIdleTimeout
	case protoUDP:
		name, idleTimeout = "UDP", udpIdleTimeout
	default:
		panic(fmt.Sprintf("unsupported transport protocol: %v", proto))
	}

	matchType := fmt.Sprintf("dl_type=0x0800,nw_proto=%v", proto)
	src, dst := fmt.Sprintf("NXM_OF_%v_SRC[]", name), fmt.Sprintf("NXM_OF_%v_DST[]", name)
	actions := learnConnection(matchType, idleTimeout,
		[]string{src, dst},
		[]string{src + "=" + dst, dst + "=" + src},
	)
	r.queueFlow(1, flow.TableLoadSrc, flow.Join(matchType, flow.InPort(r.info.Number), "dl_src="+hw.String(), "nw_src="+ip.String()), actions)
}
