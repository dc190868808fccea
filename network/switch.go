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
	"encoding"
	"fmt"
	"net"
	"sort"
	"time"

	"github.com/sdnlab/vnetd/flow"
	"github.com/sdnlab/vnetd/openflow"
	"github.com/sdnlab/vnetd/protocol"

	"github.com/pkg/errors"
)

// NAT rules expire after this idle time on the switch.
const natIdleTimeout = 300

// Backend programs the flow tables of one bridge.
type Backend interface {
	Name() string
	AddFlow(flow.Flow) error
	DelFlow(selector string) error
	AddFlows([]flow.Flow) error
	DelFlows(selectors []string) error
	AddGRETunnel(name string, remote net.IP, key uint32) error
}

// Writer sends OpenFlow messages over the control connection of a switch.
type Writer interface {
	Write(msg encoding.BinaryMarshaler) error
}

// Switch is one connected datapath.
type Switch struct {
	dpid    uint64
	ctrl    *Controller
	backend Backend
	writer  Writer
	ports   map[uint16]*Port
	localHW net.HardwareAddr
	fdb     *ForwardingDatabase
	nat     *natCache
}

func newSwitch(ctrl *Controller, dpid uint64, backend Backend, writer Writer) (*Switch, error) {
	fdb, err := NewForwardingDatabase(ctrl.conf.FDBSize)
	if err != nil {
		return nil, err
	}

	return &Switch{
		dpid:    dpid,
		ctrl:    ctrl,
		backend: backend,
		writer:  writer,
		ports:   make(map[uint16]*Port),
		fdb:     fdb,
		nat:     newNATCache(ctrl.conf.FDBSize, natIdleTimeout*time.Second),
	}, nil
}

func (r *Switch) String() string {
	return fmt.Sprintf("Switch(dpid=%016x, bridge=%v)", r.dpid, r.backend.Name())
}

func (r *Switch) DPID() uint64 {
	return r.dpid
}

func (r *Switch) Port(number uint16) (*Port, bool) {
	p, ok := r.ports[number]
	return p, ok
}

// portNumbers returns the tracked port numbers in ascending order.
func (r *Switch) portNumbers() []uint16 {
	result := make([]uint16, 0, len(r.ports))
	for n := range r.ports {
		result = append(result, n)
	}
	sort.Slice(result, func(i, j int) bool { return result[i] < result[j] })

	return result
}

func (r *Switch) portByName(name string) (*Port, bool) {
	for _, p := range r.ports {
		if p.info.Name == name {
			return p, true
		}
	}

	return nil, false
}

func (r *Switch) addFlow(f flow.Flow) error {
	flowsIssuedTotal.Inc()
	if err := r.backend.AddFlow(f); err != nil {
		backendErrorsTotal.Inc()
		return errors.Wrapf(err, "adding a flow on %v", r)
	}

	return nil
}

func (r *Switch) delFlow(selector string) error {
	flowsRemovedTotal.Inc()
	if err := r.backend.DelFlow(selector); err != nil {
		backendErrorsTotal.Inc()
		return errors.Wrapf(err, "removing a flow on %v", r)
	}

	return nil
}

func (r *Switch) addFlows(flows []flow.Flow) {
	if len(flows) == 0 {
		return
	}
	flowsIssuedTotal.Add(float64(len(flows)))
	if err := r.backend.AddFlows(flows); err != nil {
		backendErrorsTotal.Inc()
		logger.Errorf("failed to add %v flows on %v: %v", len(flows), r, err)
	}
}

func (r *Switch) delFlows(selectors []string) {
	if len(selectors) == 0 {
		return
	}
	flowsRemovedTotal.Add(float64(len(selectors)))
	if err := r.backend.DelFlows(selectors); err != nil {
		backendErrorsTotal.Inc()
		logger.Errorf("failed to remove %v flows on %v: %v", len(selectors), r, err)
	}
}

// ready asks the switch for its features. Flows are installed when the reply arrives.
func (r *Switch) ready() error {
	logger.Infof("switch ready: %v", r)
	return r.writer.Write(openflow.NewFeaturesRequest(openflow.NewTransactionID()))
}

func (r *Switch) featuresReply(msg *openflow.FeaturesReply) {
	logger.Infof("features reply from %v: n_buffers=%v, n_tables=%v, capabilities=%#x, actions=%#x",
		r, msg.NumBuffers, msg.NumTables, msg.Capabilities, msg.Actions)

	if local, ok := msg.LocalPort(); ok {
		r.localHW = local.HWAddr
		logger.Debugf("OFPP_LOCAL of %v: hw_addr=%v", r, r.localHW)
	} else {
		logger.Warningf("%v did not report its local port", r)
	}

	// NAT rules live on the switch only, which may have been restarted.
	r.nat.RemoveAll()

	for _, v := range msg.Ports {
		if p, ok := r.ports[v.Number]; ok {
			// Rebuild the port from scratch so its flows are issued again.
			r.ctrl.detach(r, v.Number)
			p.forget()
			p.info = v
			p.active = true
			r.ctrl.insertPort(r, p)
			continue
		}
		p := newPort(r, v)
		p.active = true
		r.ports[v.Number] = p
		portsGauge.Inc()
		r.ctrl.insertPort(r, p)
	}

	r.addFlows(r.baselineFlows())
}

// baselineFlows is the classifier pipeline shared by every network on the switch.
func (r *Switch) baselineFlows() []flow.Flow {
	conf := r.ctrl.conf
	local := flow.Output(flow.LocalPort)

	flows := []flow.Flow{
		// DHCP queries from instances and the network go to the host.
		flow.New(5, flow.TableClassifier, "udp,"+dhcpDiscovery, local),

		flow.New(3, flow.TableClassifier, "arp", flow.Resubmit(flow.TableARPAntispoof)),
		flow.New(3, flow.TableClassifier, "icmp", flow.Resubmit(flow.TableLoadDst)),
		flow.New(3, flow.TableClassifier, "tcp", flow.Resubmit(flow.TableLoadDst)),
		flow.New(3, flow.TableClassifier, "udp", flow.Resubmit(flow.TableLoadDst)),
		flow.New(2, flow.TableClassifier, flow.InPort(flow.LocalPort), flow.Resubmit(flow.TableRouteDirectly)),

		flow.New(6, flow.TableLoadSrc, flow.InPort(flow.LocalPort), "output:NXM_NX_REG0[]"),

		flow.New(1, flow.TableARPAntispoof, "arp,"+flow.InPort(flow.LocalPort), flow.Resubmit(flow.TableARPRoute)),
		flow.New(0, flow.TableARPAntispoof, "arp", "drop"),

		flow.New(5, flow.TableClassifier, fmt.Sprintf("tcp,nw_dst=%v,tp_dst=%v", conf.MetadataAddress, conf.MetadataPort), flow.Resubmit(flow.TableMetadataOutgoing)),
		flow.New(4, flow.TableMetadataOutgoing, flow.InPort(flow.LocalPort), "drop"),
		flow.New(0, flow.TableMetadataOutgoing, "", "controller"),
	}

	if conf.BackendAddress != nil {
		flows = append(flows,
			// Only the host may use its own address.
			flow.New(5, flow.TableLoadSrc, "ip,nw_src="+conf.BackendAddress.String(), "drop"),
			flow.New(5, flow.TableClassifier, fmt.Sprintf("tcp,nw_src=%v,tp_src=%v", conf.BackendAddress, conf.BackendPort), flow.Resubmit(flow.TableMetadataIncoming)),
		)
	}

	if r.localHW != nil {
		hw := "dl_dst=" + r.localHW.String()
		flows = append(flows,
			flow.New(1, flow.TableMACRoute, hw, local),
			flow.New(1, flow.TableRouteDirectly, hw, local),
			flow.New(1, flow.TableLoadDst, hw, loadReg0(flow.LocalPort)),
			flow.New(5, flow.TableLoadSrc, "dl_src="+r.localHW.String(), "drop"),
			flow.New(1, flow.TableARPRoute, "arp,"+hw, local),
		)
	}

	return flows
}

func (r *Switch) portStatus(msg *openflow.PortStatus) error {
	n := msg.Port.Number
	logger.Debugf("port status from %v: reason=%v, port=%v, name=%v, hw_addr=%v, state=%#x",
		r, msg.Reason, n, msg.Port.Name, msg.Port.HWAddr, msg.Port.State)

	switch msg.Reason {
	case openflow.OFPPR_ADD:
		logger.Infof("adding port %v (%v) on %v", n, msg.Port.Name, r)
		if _, ok := r.ports[n]; ok {
			return errors.Wrapf(ErrDuplicatedPort, "port %v on %v", n, r)
		}
		p := newPort(r, msg.Port)
		p.active = true
		r.ports[n] = p
		portsGauge.Inc()
		r.ctrl.insertPort(r, p)

	case openflow.OFPPR_DELETE:
		logger.Infof("deleting port %v (%v) on %v", n, msg.Port.Name, r)
		p, ok := r.ports[n]
		if !ok {
			return errors.Wrapf(ErrUnknownPort, "port %v on %v", n, r)
		}
		r.ctrl.deletePort(r, p)

	case openflow.OFPPR_MODIFY:
		logger.Infof("ignoring port modify: port=%v on %v", n, r)

	default:
		logger.Warningf("unknown port status reason %v from %v", msg.Reason, r)
	}

	return nil
}

func (r *Switch) packetOut(inPort, outPort uint16, data []byte) error {
	msg := openflow.NewPacketOut(openflow.NewTransactionID())
	msg.InPort = inPort
	msg.Actions = []openflow.Action{openflow.ActionOutput{Port: outPort}}
	msg.Data = data

	return r.writer.Write(msg)
}

// sendARP transmits a synthesized ARP frame out of outPort.
func (r *Switch) sendARP(outPort uint16, op uint16, srcHW net.HardwareAddr, srcIP net.IP, dstHW net.HardwareAddr, dstIP net.IP) error {
	frame, err := protocol.NewARP(op, srcHW, srcIP, dstHW, dstIP)
	if err != nil {
		return err
	}

	return r.packetOut(openflow.OFPP_CONTROLLER, outPort, frame)
}

// sendUDP transmits a synthesized UDP datagram out of outPort.
func (r *Switch) sendUDP(outPort uint16, srcHW net.HardwareAddr, srcIP net.IP, srcPort uint16, dstHW net.HardwareAddr, dstIP net.IP, dstPort uint16, payload []byte) error {
	frame, err := protocol.NewUDP(srcHW, srcIP, srcPort, dstHW, dstIP, dstPort, payload)
	if err != nil {
		return err
	}

	return r.packetOut(openflow.OFPP_CONTROLLER, outPort, frame)
}

// close forgets the ports of a switch whose session is gone.
func (r *Switch) close() {
	portsGauge.Sub(float64(len(r.ports)))
	r.ports = make(map[uint16]*Port)
	r.nat.RemoveAll()
}
