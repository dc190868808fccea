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

	"github.com/samber/lo"
	"github.com/sdnlab/vnetd/flow"
)

// arpLearnIdleTimeout bounds MAC entries learned from ARP arriving over tunnels.
const arpLearnIdleTimeout = 3600 * 10

type NetworkConfig struct {
	ID uint32
	// DPID of the switch this network is programmed into.
	DPID    uint64
	Virtual bool
	// DHCPHWAddr and DHCPIP are the identity of the emulated DHCP server.
	// DHCP service is disabled when DHCPIP is nil.
	DHCPHWAddr net.HardwareAddr
	DHCPIP     net.IP
	IPv4       *net.IPNet
}

func (r NetworkConfig) validate() error {
	if r.IPv4 == nil || r.IPv4.IP.To4() == nil {
		return fmt.Errorf("network %v: invalid IPv4 network", r.ID)
	}
	if r.DHCPIP != nil {
		if r.DHCPIP.To4() == nil {
			return fmt.Errorf("network %v: invalid DHCP server address: %v", r.ID, r.DHCPIP)
		}
		if len(r.DHCPHWAddr) != 6 {
			return fmt.Errorf("network %v: DHCP server needs an Ethernet address", r.ID)
		}
	}

	return nil
}

// Network is a physical or virtual L2 domain on one switch.
type Network struct {
	NetworkConfig
	ports      []uint16
	localPorts []uint16
	// Flood rule templates expanded over every member or only over local members.
	flood      []flow.Template
	floodLocal []flow.Template
	// Rules issued once when the network is installed and again after the switch restarts.
	static []flow.Flow
}

func newNetwork(conf NetworkConfig) *Network {
	return &Network{NetworkConfig: conf}
}

func (r *Network) String() string {
	return fmt.Sprintf("Network(id=%v, dpid=%v, virtual=%v, ipv4=%v, ports=%v)", r.ID, r.DPID, r.Virtual, r.IPv4, r.ports)
}

func (r *Network) Ports() []uint16 {
	return append([]uint16(nil), r.ports...)
}

func (r *Network) LocalPorts() []uint16 {
	return append([]uint16(nil), r.localPorts...)
}

// AddPort adds a member port. Adding a port twice has no effect.
func (r *Network) AddPort(port uint16, local bool) {
	if !lo.Contains(r.ports, port) {
		r.ports = append(r.ports, port)
	}
	if local && !lo.Contains(r.localPorts, port) {
		r.localPorts = append(r.localPorts, port)
	}
}

func (r *Network) RemovePort(port uint16) {
	r.ports = lo.Without(r.ports, port)
	r.localPorts = lo.Without(r.localPorts, port)
}

// reset forgets the members, which belong to a switch session that no longer exists.
func (r *Network) reset() {
	r.ports = nil
	r.localPorts = nil
}

// FloodFlows expands every template over the current members: one rule per template.
func (r *Network) FloodFlows() []flow.Flow {
	result := make([]flow.Flow, 0, len(r.flood)+len(r.floodLocal))
	for _, t := range r.flood {
		result = append(result, t.Expand(r.ports))
	}
	for _, t := range r.floodLocal {
		result = append(result, t.Expand(r.localPorts))
	}

	return result
}

// StaticFlows returns the rules issued when the network was installed.
func (r *Network) StaticFlows() []flow.Flow {
	return append([]flow.Flow(nil), r.static...)
}

// installVirtual sets up the isolated pipeline keyed on the network id in
// REG1. REG2 holds the tunnel port a packet arrived on, or zero if local.
func (r *Network) installVirtual() {
	reg := fmt.Sprintf("reg1=%v", r.ID)

	r.flood = append(r.flood, flow.Template{
		Priority: 2,
		Table:    flow.TableVirtualDst,
		Match:    flow.Join(reg, "reg2=0", "dl_dst="+broadcastHW),
		Actions:  "output:" + flow.Placeholder,
	})
	r.floodLocal = append(r.floodLocal, flow.Template{
		Priority: 1,
		Table:    flow.TableVirtualDst,
		Match:    flow.Join(reg, "dl_dst="+broadcastHW),
		Actions:  "output:" + flow.Placeholder,
	})

	learnMatch := fmt.Sprintf("priority=1,idle_timeout=%v,table=%v,%v,reg2=0,NXM_OF_ETH_DST[]=NXM_OF_ETH_SRC[]", arpLearnIdleTimeout, flow.TableVirtualDst, reg)
	r.static = append(r.static,
		flow.New(2, flow.TableVirtualSrc, reg+",reg2=0", flow.Resubmit(flow.TableVirtualDst)),
		flow.New(1, flow.TableVirtualSrc, reg+",arp", fmt.Sprintf("learn(%v,output:NXM_NX_REG2[]),%v", learnMatch, flow.Resubmit(flow.TableVirtualDst))),
		flow.New(0, flow.TableVirtualSrc, reg, flow.Resubmit(flow.TableVirtualDst)),
		flow.New(0, flow.TableVirtualDst, reg, "drop"),
	)

	if r.DHCPIP == nil {
		return
	}
	r.static = append(r.static,
		flow.New(3, flow.TableVirtualDst, fmt.Sprintf("%v,arp,nw_dst=%v", reg, r.DHCPIP), "controller"),
		flow.New(3, flow.TableVirtualDst, fmt.Sprintf("%v,udp,dl_dst=%v,nw_dst=%v,tp_src=68,tp_dst=67", reg, r.DHCPHWAddr, r.DHCPIP), "controller"),
		flow.New(3, flow.TableVirtualDst, fmt.Sprintf("%v,udp,dl_dst=%v,nw_dst=255.255.255.255,tp_src=68,tp_dst=67", reg, broadcastHW), "controller"),
	)
}

func (r *Network) installPhysical() {
	bcast := "dl_dst=" + broadcastHW
	r.flood = append(r.flood,
		flow.Template{Priority: 1, Table: flow.TableMACRoute, Match: bcast, Actions: "output:" + flow.Placeholder},
		flow.Template{Priority: 1, Table: flow.TableRouteDirectly, Match: bcast, Actions: "output:" + flow.Placeholder},
		flow.Template{Priority: 1, Table: flow.TableLoadDst, Match: bcast, Actions: fmt.Sprintf("load:%v->NXM_NX_REG0[],%v", flow.Placeholder, flow.Resubmit(flow.TableLoadSrc))},
		flow.Template{Priority: 1, Table: flow.TableARPRoute, Match: "arp," + bcast + ",arp_tha=00:00:00:00:00:00", Actions: "output:" + flow.Placeholder},
	)
}
