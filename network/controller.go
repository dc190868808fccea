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

// Package network is the controller core. It tracks switches, ports and
// networks, compiles them into flow rules and reacts to punted packets.
package network

import (
	"context"
	"fmt"
	"net"
	"sort"
	"sync"

	"github.com/sdnlab/vnetd/flow"
	"github.com/sdnlab/vnetd/openflow"

	"github.com/op/go-logging"
	"github.com/pkg/errors"
	"github.com/samber/lo"
)

var (
	logger = logging.MustGetLogger("network")
)

var (
	ErrUnknownSwitch     = errors.New("unknown switch")
	ErrUnknownPort       = errors.New("unknown port")
	ErrDuplicatedPort    = errors.New("duplicated port")
	ErrUnknownNetwork    = errors.New("unknown network")
	ErrDuplicatedNetwork = errors.New("duplicated network")
	ErrUnknownInstance   = errors.New("unknown instance")
	ErrNoBridge          = errors.New("no bridge found")
)

// Resolver finds the bridge of a datapath.
type Resolver interface {
	BridgeName(ctx context.Context, dpid uint64) (string, error)
}

type Config struct {
	// Address and TCP port instances use to reach the metadata service.
	MetadataAddress net.IP
	MetadataPort    uint16
	// Address and TCP port of the metadata backend on the host. NAT is
	// disabled when BackendAddress is nil.
	BackendAddress net.IP
	BackendPort    uint16
	// Capacity of the forwarding database of each switch.
	FDBSize  int
	Resolver Resolver
	// Bridge returns the backend programming the named bridge.
	Bridge func(name string) Backend
}

func (r Config) validate() error {
	if r.MetadataAddress.To4() == nil {
		return fmt.Errorf("invalid metadata address: %v", r.MetadataAddress)
	}
	if r.MetadataPort == 0 || r.BackendPort == 0 {
		return errors.New("invalid metadata port")
	}
	if r.BackendAddress != nil && r.BackendAddress.To4() == nil {
		return fmt.Errorf("invalid metadata backend address: %v", r.BackendAddress)
	}
	if r.FDBSize <= 0 {
		return fmt.Errorf("invalid forwarding database size: %v", r.FDBSize)
	}
	if r.Resolver == nil {
		return errors.New("nil bridge resolver")
	}
	if r.Bridge == nil {
		return errors.New("nil bridge backend factory")
	}

	return nil
}

// Controller owns the switches and networks. Events and provisioning calls
// are serialized by a single mutex.
type Controller struct {
	mu        sync.Mutex
	conf      Config
	switches  map[uint64]*Switch
	networks  map[uint32]*Network
	registry  *registry
	canceller *canceller
}

func NewController(conf Config) (*Controller, error) {
	if err := conf.validate(); err != nil {
		return nil, err
	}

	return &Controller{
		conf:      conf,
		switches:  make(map[uint64]*Switch),
		networks:  make(map[uint32]*Network),
		registry:  newRegistry(),
		canceller: newCanceller(),
	}, nil
}

// AddConnection serves a new switch connection until ctx is done or the connection drops.
func (r *Controller) AddConnection(ctx context.Context, c net.Conn) {
	session := newSession(r, c)
	go session.Run(ctx)
}

func (r *Controller) onSwitchConnect(ctx context.Context, dpid uint64, w Writer) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	logger.Infof("switch connected: dpid=%016x", dpid)
	// The bridge name is generated when the bridge is created unless the
	// user sets it, so we ask the switch database.
	name, err := r.conf.Resolver.BridgeName(ctx, dpid)
	if err != nil {
		return errors.Wrapf(ErrNoBridge, "datapath_id=%016x: %v", dpid, err)
	}
	if name == "" {
		return errors.Wrapf(ErrNoBridge, "datapath_id=%016x", dpid)
	}

	// The new session rebuilds every flow, so the old state is just dropped.
	if old, ok := r.switches[dpid]; ok {
		old.close()
	} else {
		switchesGauge.Inc()
	}
	for _, n := range r.networksOf(dpid) {
		n.reset()
	}

	sw, err := newSwitch(r, dpid, r.conf.Bridge(name), w)
	if err != nil {
		return err
	}
	r.switches[dpid] = sw

	return sw.ready()
}

func (r *Controller) onSwitchDisconnect(dpid uint64, w Writer) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sw, ok := r.switches[dpid]
	// Already replaced by a newer session?
	if !ok || sw.writer != w {
		return
	}
	logger.Infof("switch disconnected: %v", sw)
	sw.close()
	delete(r.switches, dpid)
	switchesGauge.Dec()
	for _, n := range r.networksOf(dpid) {
		n.reset()
	}
}

func (r *Controller) onFeaturesReply(dpid uint64, msg *openflow.FeaturesReply) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	sw, ok := r.switches[dpid]
	if !ok {
		return errors.Wrapf(ErrUnknownSwitch, "dpid=%016x", dpid)
	}
	sw.featuresReply(msg)

	// The switch may have restarted and lost its flows.
	for _, n := range r.networksOf(dpid) {
		sw.addFlows(n.static)
		r.updateNetwork(n)
	}

	return nil
}

func (r *Controller) onPortStatus(dpid uint64, msg *openflow.PortStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	sw, ok := r.switches[dpid]
	if !ok {
		return errors.Wrapf(ErrUnknownSwitch, "dpid=%016x", dpid)
	}

	return sw.portStatus(msg)
}

func (r *Controller) onPacketIn(dpid uint64, msg *openflow.PacketIn) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	sw, ok := r.switches[dpid]
	if !ok {
		return errors.Wrapf(ErrUnknownSwitch, "dpid=%016x", dpid)
	}
	sw.packetIn(msg)

	return nil
}

// networksOf returns the networks programmed into dpid ordered by id.
func (r *Controller) networksOf(dpid uint64) []*Network {
	result := make([]*Network, 0)
	for _, n := range r.networks {
		if n.DPID == dpid {
			result = append(result, n)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })

	return result
}

func (r *Controller) insertPort(sw *Switch, port *Port) {
	switch Classify(port.Name(), port.Number()) {
	case ClassEth:
		r.addEth(sw, port)
	case ClassInstance:
		r.addInstance(sw, port)
	case ClassTunnel:
		r.addTunnel(sw, port)
	default:
		logger.Debugf("ignoring %v on %v", port, sw)
	}
}

func (r *Controller) addEth(sw *Switch, port *Port) {
	port.initEth()
	port.flush()

	// Uplinks carry every physical network of the switch.
	for _, n := range r.networksOf(sw.dpid) {
		if n.Virtual {
			continue
		}
		n.AddPort(port.Number(), false)
		r.updateNetwork(n)
	}
	logger.Infof("added %v on %v", port, sw)
}

func (r *Controller) addInstance(sw *Switch, port *Port) {
	b, ok := r.registry.instance(port.Name())
	if !ok {
		logger.Debugf("no binding for instance %v on %v", port, sw)
		return
	}
	n, ok := r.networks[b.NetworkID]
	if !ok || n.DPID != sw.dpid {
		logger.Warningf("instance %v is bound to network %v that is not on %v", port.Name(), b.NetworkID, sw)
		return
	}

	port.hwAddr = b.HWAddr
	port.ip = b.IP
	port.network = n
	if n.Virtual {
		port.initInstanceVNet(n.ID, b.HWAddr)
	} else {
		port.initInstanceNet(b.HWAddr)
		port.installARPAntispoof(b.HWAddr, b.IP)
		port.applySecurityRules(b.Rules)
		port.installLocalICMP(b.HWAddr, b.IP)
		port.installLocalTransport(protoTCP, b.HWAddr, b.IP)
		port.installLocalTransport(protoUDP, b.HWAddr, b.IP)
	}
	port.flush()

	n.AddPort(port.Number(), true)
	r.updateNetwork(n)
	logger.Infof("added %v on %v to %v", port, sw, n)
}

func (r *Controller) addTunnel(sw *Switch, port *Port) {
	b, ok := r.registry.tunnel(port.Name())
	if !ok {
		logger.Debugf("no binding for tunnel %v on %v", port, sw)
		return
	}
	n, ok := r.networks[b.NetworkID]
	if !ok || !n.Virtual || n.DPID != sw.dpid {
		logger.Warningf("tunnel %v is bound to network %v that is not a virtual network on %v", port.Name(), b.NetworkID, sw)
		return
	}

	port.network = n
	port.initGRETunnel(n.ID)
	port.flush()

	n.AddPort(port.Number(), false)
	r.updateNetwork(n)
	logger.Infof("added %v on %v to %v", port, sw, n)
}

func (r *Controller) deletePort(sw *Switch, port *Port) {
	port.mutex.Lock()
	defer port.mutex.Unlock()

	if !port.active {
		return
	}
	port.active = false

	r.detach(sw, port.Number())
	sw.delFlows(port.activeFlows)
	port.activeFlows = nil
	port.queuedFlows = nil
	port.network = nil
	delete(sw.ports, port.Number())
	sw.fdb.Forget(port.Number())
	portsGauge.Dec()
	logger.Infof("deleted %v on %v", port, sw)
}

// detach removes a port from every network of the switch and recomputes their flood rules.
func (r *Controller) detach(sw *Switch, number uint16) {
	for _, n := range r.networksOf(sw.dpid) {
		if !lo.Contains(n.ports, number) {
			continue
		}
		n.RemovePort(number)
		r.updateNetwork(n)
	}
}

// resetPort takes a port out of its network and uninstalls its flows. It stays tracked.
func (r *Controller) resetPort(sw *Switch, port *Port) {
	port.mutex.Lock()
	defer port.mutex.Unlock()

	r.detach(sw, port.Number())
	port.reset()
}

func (r *Controller) updateNetwork(n *Network) {
	sw, ok := r.switches[n.DPID]
	if !ok {
		return
	}
	sw.addFlows(n.FloodFlows())
}

// InstallVirtualNetwork adds an isolated network identified by conf.ID in the switch registers.
func (r *Controller) InstallVirtualNetwork(conf NetworkConfig) error {
	conf.Virtual = true
	return r.addNetwork(conf)
}

// InstallPhysicalNetwork adds a network shared with the uplinks of the switch.
func (r *Controller) InstallPhysicalNetwork(conf NetworkConfig) error {
	conf.Virtual = false
	return r.addNetwork(conf)
}

func (r *Controller) addNetwork(conf NetworkConfig) error {
	if conf.DHCPHWAddr != nil && conf.DHCPIP == nil && conf.IPv4 != nil {
		ip, err := ReservedIP(*conf.IPv4)
		if err != nil {
			return err
		}
		conf.DHCPIP = ip
	}
	if err := conf.validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.networks[conf.ID]; ok {
		return errors.Wrapf(ErrDuplicatedNetwork, "id=%v", conf.ID)
	}
	n := newNetwork(conf)
	if n.Virtual {
		n.installVirtual()
	} else {
		n.installPhysical()
	}
	r.networks[n.ID] = n
	logger.Infof("installed %v: dhcp_hw=%v, dhcp_ip=%v", n, n.DHCPHWAddr, n.DHCPIP)

	sw, ok := r.switches[n.DPID]
	if !ok {
		// Installed when the switch connects.
		return nil
	}
	sw.addFlows(n.static)
	for _, num := range sw.portNumbers() {
		p := sw.ports[num]
		switch {
		case p.portType == PortEth && !n.Virtual:
			n.AddPort(num, false)
		case p.portType == PortNone && p.active:
			// Ports that came up before their network did.
			r.insertPort(sw, p)
		}
	}
	r.updateNetwork(n)

	return nil
}

// UpdateNetwork recomputes and issues the flood rules of a network.
func (r *Controller) UpdateNetwork(id uint32) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, ok := r.networks[id]
	if !ok {
		return errors.Wrapf(ErrUnknownNetwork, "id=%v", id)
	}
	r.updateNetwork(n)

	return nil
}

// RemoveNetwork uninstalls a network, the flows of its member ports and its bindings.
func (r *Controller) RemoveNetwork(id uint32) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, ok := r.networks[id]
	if !ok {
		return errors.Wrapf(ErrUnknownNetwork, "id=%v", id)
	}
	delete(r.networks, id)
	r.registry.unbindNetwork(id)

	if sw, ok := r.switches[n.DPID]; ok {
		for _, num := range n.Ports() {
			p, ok := sw.ports[num]
			if ok && p.network == n {
				r.resetPort(sw, p)
			}
			n.RemovePort(num)
		}
		flows := append(n.StaticFlows(), n.FloodFlows()...)
		sw.delFlows(lo.Map(flows, func(f flow.Flow, _ int) string { return f.MatchString() }))
	}
	logger.Infof("removed %v", n)

	return nil
}

// BindInstance attaches an instance interface to a network. The port is set
// up now if it already exists, or when it appears.
func (r *Controller) BindInstance(b InstanceBinding) error {
	if err := b.validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	n, ok := r.networks[b.NetworkID]
	if !ok {
		return errors.Wrapf(ErrUnknownNetwork, "id=%v", b.NetworkID)
	}
	r.registry.bindInstance(b)

	sw, ok := r.switches[n.DPID]
	if !ok {
		return nil
	}
	if p, ok := sw.portByName(b.Name); ok && p.active {
		r.resetPort(sw, p)
		r.insertPort(sw, p)
	}

	return nil
}

func (r *Controller) UnbindInstance(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.registry.unbindInstance(name) {
		return errors.Wrapf(ErrUnknownInstance, "name=%v", name)
	}
	for _, sw := range r.switches {
		if p, ok := sw.portByName(name); ok {
			r.resetPort(sw, p)
		}
	}

	return nil
}

// Instances returns the instance bindings ordered by name.
func (r *Controller) Instances() []InstanceBinding {
	r.mu.Lock()
	defer r.mu.Unlock()

	return lo.Map(r.registry.instanceNames(), func(name string, _ int) InstanceBinding {
		b, _ := r.registry.instance(name)
		return b
	})
}

// BindTunnel attaches a GRE tunnel to a virtual network and creates the tunnel port on the bridge.
func (r *Controller) BindTunnel(b TunnelBinding) error {
	if err := b.validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	n, ok := r.networks[b.NetworkID]
	if !ok {
		return errors.Wrapf(ErrUnknownNetwork, "id=%v", b.NetworkID)
	}
	if !n.Virtual {
		return fmt.Errorf("network %v is not a virtual network", n.ID)
	}
	sw, ok := r.switches[n.DPID]
	if !ok {
		return errors.Wrapf(ErrUnknownSwitch, "dpid=%016x", n.DPID)
	}
	r.registry.bindTunnel(b)

	if p, ok := sw.portByName(b.Name); ok && p.active {
		r.resetPort(sw, p)
		r.insertPort(sw, p)
		return nil
	}
	// The switch reports the new port with a port status message.
	return sw.backend.AddGRETunnel(b.Name, b.Remote, b.Key)
}

type PortInfo struct {
	Number  uint16 `json:"number"`
	Name    string `json:"name"`
	Type    string `json:"type"`
	Network uint32 `json:"network,omitempty"`
	HWAddr  string `json:"mac,omitempty"`
	IP      string `json:"ip,omitempty"`
}

type SwitchInfo struct {
	DPID    string     `json:"dpid"`
	Bridge  string     `json:"bridge"`
	LocalHW string     `json:"local_mac"`
	Ports   []PortInfo `json:"ports"`
}

func (r *Controller) Switches() []SwitchInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	dpids := lo.Keys(r.switches)
	sort.Slice(dpids, func(i, j int) bool { return dpids[i] < dpids[j] })

	result := make([]SwitchInfo, 0, len(dpids))
	for _, dpid := range dpids {
		sw := r.switches[dpid]
		info := SwitchInfo{
			DPID:    fmt.Sprintf("%016x", dpid),
			Bridge:  sw.backend.Name(),
			LocalHW: sw.localHW.String(),
			Ports:   make([]PortInfo, 0, len(sw.ports)),
		}
		for _, num := range sw.portNumbers() {
			p := sw.ports[num]
			v := PortInfo{Number: num, Name: p.Name(), Type: p.portType.String()}
			if p.network != nil {
				v.Network = p.network.ID
			}
			if p.hwAddr != nil {
				v.HWAddr = p.hwAddr.String()
			}
			if p.ip != nil {
				v.IP = p.ip.String()
			}
			info.Ports = append(info.Ports, v)
		}
		result = append(result, info)
	}

	return result
}

// FDB returns the forwarding database of a switch.
func (r *Controller) FDB(dpid uint64) ([]ForwardingEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sw, ok := r.switches[dpid]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownSwitch, "dpid=%016x", dpid)
	}

	return sw.fdb.Entries(), nil
}

type NetworkInfo struct {
	ID         uint32   `json:"id"`
	DPID       string   `json:"dpid"`
	Virtual    bool     `json:"virtual"`
	IPv4       string   `json:"ipv4"`
	DHCPHWAddr string   `json:"dhcp_mac,omitempty"`
	DHCPIP     string   `json:"dhcp_ip,omitempty"`
	Ports      []uint16 `json:"ports"`
	LocalPorts []uint16 `json:"local_ports"`
}

func (r *Controller) Networks() []NetworkInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := lo.Keys(r.networks)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	return lo.Map(ids, func(id uint32, _ int) NetworkInfo {
		n := r.networks[id]
		v := NetworkInfo{
			ID:         n.ID,
			DPID:       fmt.Sprintf("%016x", n.DPID),
			Virtual:    n.Virtual,
			IPv4:       n.IPv4.String(),
			Ports:      n.Ports(),
			LocalPorts: n.LocalPorts(),
		}
		if n.DHCPIP != nil {
			v.DHCPHWAddr = n.DHCPHWAddr.String()
			v.DHCPIP = n.DHCPIP.String()
		}
		return v
	})
}

// SendARP transmits a synthesized ARP frame out of a switch port.
func (r *Controller) SendARP(dpid uint64, outPort uint16, op uint16, srcHW net.HardwareAddr, srcIP net.IP, dstHW net.HardwareAddr, dstIP net.IP) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	sw, ok := r.switches[dpid]
	if !ok {
		return errors.Wrapf(ErrUnknownSwitch, "dpid=%016x", dpid)
	}

	return sw.sendARP(outPort, op, srcHW, srcIP, dstHW, dstIP)
}

// SendUDP transmits a synthesized UDP datagram out of a switch port.
func (r *Controller) SendUDP(dpid uint64, outPort uint16, srcHW net.HardwareAddr, srcIP net.IP, srcPort uint16, dstHW net.HardwareAddr, dstIP net.IP, dstPort uint16, payload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	sw, ok := r.switches[dpid]
	if !ok {
		return errors.Wrapf(ErrUnknownSwitch, "dpid=%016x", dpid)
	}

	return sw.sendUDP(outPort, srcHW, srcIP, srcPort, dstHW, dstIP, dstPort, payload)
}
