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
	"bytes"
	"net"
	"testing"

	"github.com/sdnlab/vnetd/flow"
	"github.com/sdnlab/vnetd/openflow"
	"github.com/sdnlab/vnetd/protocol"

	"github.com/google/go-cmp/cmp"
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/pkg/errors"
)

var (
	broadcastMAC = mustMAC("ff:ff:ff:ff:ff:ff")
	gatewayMAC   = mustMAC("02:00:00:00:00:01")
	dhcpServerIP = net.IPv4(10, 1, 0, 254).To4()
)

func packetIn(inPort uint16, data []byte) *openflow.PacketIn {
	v := openflow.NewPacketIn(openflow.NewTransactionID())
	v.InPort = inPort
	v.TotalLength = uint16(len(data))
	v.Data = data
	return v
}

// newDHCPTestController connects a switch with an uplink on port 1 and an
// instance on port 2 bound to a virtual network.
func newDHCPTestController(t *testing.T, conf NetworkConfig) (*Controller, *fakeBackend, *fakeWriter) {
	t.Helper()

	c, backend := newTestController(t)
	if err := c.InstallVirtualNetwork(conf); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err := c.BindInstance(InstanceBinding{Name: "vif-a", NetworkID: conf.ID, HWAddr: testInstanceHW, IP: testInstanceIP})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	w := connect(t, c, phyPort(1, "eth0"), phyPort(2, "vif-a"))

	return c, backend, w
}

func sendPacketIn(t *testing.T, c *Controller, inPort uint16, data []byte) {
	t.Helper()

	if err := c.onPacketIn(testDPID, packetIn(inPort, data)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func checkOutput(t *testing.T, po *openflow.PacketOut, inPort, outPort uint16) {
	t.Helper()

	if po.InPort != inPort {
		t.Fatalf("unexpected in_port: expected=%v, actual=%v", inPort, po.InPort)
	}
	if diff := cmp.Diff([]openflow.Action{openflow.ActionOutput{Port: outPort}}, po.Actions); diff != "" {
		t.Fatalf("unexpected actions (-want +got):\n%v", diff)
	}
}

func TestARPReply(t *testing.T) {
	c, _, w := newDHCPTestController(t, virtualNetwork())

	request, err := protocol.NewARP(layers.ARPRequest, testInstanceHW, testInstanceIP, broadcastMAC, dhcpServerIP)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sendPacketIn(t, c, 2, request)

	outs := w.packetOuts()
	if len(outs) != 1 {
		t.Fatalf("expected one ARP reply, got %v", len(outs))
	}
	checkOutput(t, outs[0], openflow.OFPP_CONTROLLER, 2)

	reply, err := protocol.Decode(outs[0].Data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reply.ARP == nil || reply.ARP.Operation != layers.ARPReply {
		t.Fatalf("not an ARP reply: %v", reply.ARP)
	}
	expected := [][]byte{testDHCPHW, dhcpServerIP, testInstanceHW, testInstanceIP}
	actual := [][]byte{reply.ARP.SourceHwAddress, reply.ARP.SourceProtAddress, reply.ARP.DstHwAddress, reply.ARP.DstProtAddress}
	if diff := cmp.Diff(expected, actual); diff != "" {
		t.Fatalf("unexpected ARP addresses (-want +got):\n%v", diff)
	}
	if !bytes.Equal(reply.Ethernet.DstMAC, testInstanceHW) || !bytes.Equal(reply.Ethernet.SrcMAC, testDHCPHW) {
		t.Fatalf("unexpected ethernet addresses: %v -> %v", reply.Ethernet.SrcMAC, reply.Ethernet.DstMAC)
	}

	// Other targets and ports without a network are not answered.
	other, err := protocol.NewARP(layers.ARPRequest, testInstanceHW, testInstanceIP, broadcastMAC, net.IPv4(10, 1, 0, 1))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sendPacketIn(t, c, 2, other)
	sendPacketIn(t, c, 1, request)
	if n := len(w.packetOuts()); n != 1 {
		t.Fatalf("unexpected ARP replies: %v", n)
	}
}

func dhcpFrame(t *testing.T, msgType layers.DHCPMsgType) []byte {
	t.Helper()
	return dhcpFrameWithOptions(t, layers.NewDHCPOption(layers.DHCPOptMessageType, []byte{byte(msgType)}))
}

func dhcpFrameWithOptions(t *testing.T, options ...layers.DHCPOption) []byte {
	t.Helper()

	msg := &layers.DHCPv4{
		Operation:    layers.DHCPOpRequest,
		HardwareType: layers.LinkTypeEthernet,
		HardwareLen:  6,
		Xid:          0x3d1d,
		ClientHWAddr: testInstanceHW,
		Options:      options,
	}
	buf := gopacket.NewSerializeBuffer()
	if err := gopacket.SerializeLayers(buf, gopacket.SerializeOptions{FixLengths: true}, msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	frame, err := protocol.NewUDP(testInstanceHW, net.IPv4zero, 68, broadcastMAC, net.IPv4bcast, 67, buf.Bytes())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	return frame
}

func TestDHCP(t *testing.T) {
	src := []struct {
		Request  layers.DHCPMsgType
		Reply    layers.DHCPMsgType
		Answered bool
	}{
		{layers.DHCPMsgTypeDiscover, layers.DHCPMsgTypeOffer, true},
		{layers.DHCPMsgTypeRequest, layers.DHCPMsgTypeAck, true},
		{layers.DHCPMsgTypeRelease, 0, false},
		{layers.DHCPMsgTypeInform, 0, false},
	}

	for _, v := range src {
		c, _, w := newDHCPTestController(t, virtualNetwork())
		sendPacketIn(t, c, 2, dhcpFrame(t, v.Request))

		outs := w.packetOuts()
		if !v.Answered {
			if len(outs) != 0 {
				t.Fatalf("unexpected reply to %v", v.Request)
			}
			continue
		}
		if len(outs) != 1 {
			t.Fatalf("expected one reply to %v, got %v", v.Request, len(outs))
		}
		checkOutput(t, outs[0], openflow.OFPP_CONTROLLER, 2)

		reply, err := protocol.Decode(outs[0].Data)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if reply.UDP == nil || reply.UDP.SrcPort != 67 || reply.UDP.DstPort != 68 {
			t.Fatalf("unexpected UDP ports: %v", reply.UDP)
		}
		if !reply.IPv4.SrcIP.Equal(dhcpServerIP) || !reply.IPv4.DstIP.Equal(testInstanceIP) {
			t.Fatalf("unexpected IP addresses: %v -> %v", reply.IPv4.SrcIP, reply.IPv4.DstIP)
		}
		if reply.DHCP == nil {
			t.Fatal("missing DHCP message")
		}
		msgType, ok := protocol.MessageType(reply.DHCP)
		if !ok || msgType != v.Reply {
			t.Fatalf("unexpected reply type: expected=%v, actual=%v", v.Reply, msgType)
		}
		if reply.DHCP.Xid != 0x3d1d {
			t.Fatalf("unexpected xid: %#x", reply.DHCP.Xid)
		}
		if !reply.DHCP.YourClientIP.Equal(testInstanceIP) {
			t.Fatalf("unexpected client IP: %v", reply.DHCP.YourClientIP)
		}
		if !bytes.Equal(reply.DHCP.ClientHWAddr, testInstanceHW) {
			t.Fatalf("unexpected client MAC: %v", reply.DHCP.ClientHWAddr)
		}
	}
}

func TestDHCPWithoutMessageType(t *testing.T) {
	c, _, w := newDHCPTestController(t, virtualNetwork())

	frame := dhcpFrameWithOptions(t, layers.NewDHCPOption(layers.DHCPOptHostname, []byte("vm-a")))
	decoded, err := protocol.Decode(frame)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decoded.DHCP == nil {
		t.Fatal("missing DHCP message")
	}
	if _, ok := protocol.MessageType(decoded.DHCP); ok {
		t.Fatal("unexpected message type option")
	}

	sendPacketIn(t, c, 2, frame)
	if n := len(w.packetOuts()); n != 0 {
		t.Fatalf("unexpected replies: %v", n)
	}
}

func TestDHCPWithoutServer(t *testing.T) {
	conf := virtualNetwork()
	conf.DHCPHWAddr = nil
	c, _, w := newDHCPTestController(t, conf)

	sendPacketIn(t, c, 2, dhcpFrame(t, layers.DHCPMsgTypeDiscover))
	if n := len(w.packetOuts()); n != 0 {
		t.Fatalf("unexpected replies: %v", n)
	}
}

func metadataSYN(t *testing.T, srcPort layers.TCPPort) []byte {
	t.Helper()

	eth := &layers.Ethernet{
		SrcMAC:       testInstanceHW,
		DstMAC:       gatewayMAC,
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolTCP,
		SrcIP:    testInstanceIP,
		DstIP:    net.IPv4(169, 254, 169, 254).To4(),
	}
	tcp := &layers.TCP{
		SrcPort: srcPort,
		DstPort: 80,
		SYN:     true,
		Window:  65535,
	}
	if err := tcp.SetNetworkLayerForChecksum(ip); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{ComputeChecksums: true, FixLengths: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, ip, tcp); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	return buf.Bytes()
}

func TestMetadataNAT(t *testing.T) {
	c, backend := newTestController(t)
	if err := c.InstallPhysicalNetwork(physicalNetwork()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err := c.BindInstance(InstanceBinding{Name: "vif-a", NetworkID: 10, HWAddr: testInstanceHW, IP: testInstanceIP})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	w := connect(t, c, phyPort(1, "eth0"), phyPort(2, "vif-a"))

	backend.reset()
	syn := metadataSYN(t, 40000)
	sendPacketIn(t, c, 2, syn)

	outgoing := flow.New(3, flow.TableMetadataOutgoing,
		"tcp,in_port=2,dl_src=02:00:00:00:00:0a,dl_dst=02:00:00:00:00:01,nw_src=10.1.0.10,tp_src=40000",
		"mod_dl_dst:02:00:00:00:00:fe,mod_nw_dst:192.168.0.1,mod_tp_dst:9002,local")
	outgoing.IdleTimeout = 300
	incoming := flow.New(3, flow.TableMetadataIncoming,
		"tcp,in_port=local,dl_src=02:00:00:00:00:fe,dl_dst=02:00:00:00:00:0a,nw_dst=10.1.0.10,tp_dst=40000",
		"mod_dl_src:02:00:00:00:00:01,mod_nw_src:169.254.169.254,mod_tp_src:80,output:2")
	incoming.IdleTimeout = 300
	if diff := cmp.Diff([]flow.Flow{outgoing, incoming}, backend.added); diff != "" {
		t.Fatalf("unexpected NAT flows (-want +got):\n%v", diff)
	}

	// The first packet is resubmitted to the pipeline.
	outs := w.packetOuts()
	if len(outs) != 1 {
		t.Fatalf("expected one packet out, got %v", len(outs))
	}
	checkOutput(t, outs[0], 2, openflow.OFPP_TABLE)
	if !bytes.Equal(outs[0].Data, syn) {
		t.Fatal("resubmitted packet differs from the punted one")
	}

	// A retransmission is resubmitted without installing the pair again.
	sendPacketIn(t, c, 2, syn)
	if len(backend.added) != 2 {
		t.Fatalf("NAT flows installed again: %v", len(backend.added))
	}
	if n := len(w.packetOuts()); n != 2 {
		t.Fatalf("expected two packet outs, got %v", n)
	}

	// A new connection gets its own pair.
	sendPacketIn(t, c, 2, metadataSYN(t, 40001))
	if len(backend.added) != 4 {
		t.Fatalf("expected 4 NAT flows, got %v", len(backend.added))
	}
}

// newNATTestController connects a switch with an uplink on port 1 and an
// instance on port 2 bound to a physical network.
func newNATTestController(t *testing.T) (*Controller, *fakeBackend, *fakeWriter) {
	t.Helper()

	c, backend := newTestController(t)
	if err := c.InstallPhysicalNetwork(physicalNetwork()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err := c.BindInstance(InstanceBinding{Name: "vif-a", NetworkID: 10, HWAddr: testInstanceHW, IP: testInstanceIP})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	w := connect(t, c, phyPort(1, "eth0"), phyPort(2, "vif-a"))
	backend.reset()

	return c, backend, w
}

func TestMetadataNATInstallFailure(t *testing.T) {
	c, backend, w := newNATTestController(t)
	syn := metadataSYN(t, 40000)

	// Nothing is installed and the packet is not sent back to the pipeline,
	// where it would be punted again.
	backend.failAdd = errors.New("ovs-ofctl: connection refused")
	sendPacketIn(t, c, 2, syn)
	if len(backend.added) != 0 {
		t.Fatalf("unexpected flows: %v", flowStrings(backend.added))
	}
	if n := len(w.packetOuts()); n != 0 {
		t.Fatalf("unexpected packet outs: %v", n)
	}

	// A half installed pair is removed again.
	backend.failAddAfter = 1
	sendPacketIn(t, c, 2, syn)
	if len(backend.added) != 1 {
		t.Fatalf("expected the outgoing flow only, got %v", flowStrings(backend.added))
	}
	if diff := cmp.Diff([]string{backend.added[0].MatchString()}, backend.removed); diff != "" {
		t.Fatalf("unexpected removed flows (-want +got):\n%v", diff)
	}
	if n := len(w.packetOuts()); n != 0 {
		t.Fatalf("unexpected packet outs: %v", n)
	}

	// The retransmission installs the pair once the backend recovers.
	backend.reset()
	backend.failAdd = nil
	sendPacketIn(t, c, 2, syn)
	if len(backend.added) != 2 {
		t.Fatalf("expected 2 NAT flows, got %v", flowStrings(backend.added))
	}
	outs := w.packetOuts()
	if len(outs) != 1 {
		t.Fatalf("expected one packet out, got %v", len(outs))
	}
	checkOutput(t, outs[0], 2, openflow.OFPP_TABLE)
}

func TestMetadataNATAfterFeaturesReply(t *testing.T) {
	c, backend, _ := newNATTestController(t)
	syn := metadataSYN(t, 40000)

	sendPacketIn(t, c, 2, syn)
	if len(backend.added) != 2 {
		t.Fatalf("expected 2 NAT flows, got %v", len(backend.added))
	}

	// The switch restarted and lost the pair.
	if err := c.onFeaturesReply(testDPID, featuresReply(phyPort(1, "eth0"), phyPort(2, "vif-a"))); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	backend.reset()
	sendPacketIn(t, c, 2, syn)

	count := 0
	for _, f := range backend.added {
		if f.Table == flow.TableMetadataOutgoing || f.Table == flow.TableMetadataIncoming {
			count++
		}
	}
	if count != 2 {
		t.Fatalf("expected 2 NAT flows, got %v", flowStrings(backend.added))
	}
}

func TestMetadataBufferedResubmit(t *testing.T) {
	c, _, w := newNATTestController(t)

	msg := packetIn(2, metadataSYN(t, 40000))
	msg.BufferID = 0x42
	if err := c.onPacketIn(testDPID, msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	outs := w.packetOuts()
	if len(outs) != 1 {
		t.Fatalf("expected one packet out, got %v", len(outs))
	}
	checkOutput(t, outs[0], 2, openflow.OFPP_TABLE)
	if outs[0].BufferID != 0x42 {
		t.Fatalf("unexpected buffer id: %#x", outs[0].BufferID)
	}
	if len(outs[0].Data) != 0 {
		t.Fatalf("buffered packet sent with %v bytes of data", len(outs[0].Data))
	}
}

func TestPacketInDrops(t *testing.T) {
	c, backend, w := newDHCPTestController(t, virtualNetwork())
	backend.reset()

	// Unknown port and malformed frames are dropped without an error.
	sendPacketIn(t, c, 9, dhcpFrame(t, layers.DHCPMsgTypeDiscover))
	sendPacketIn(t, c, 2, []byte{0x1, 0x2, 0x3})
	if n := len(w.packetOuts()); n != 0 {
		t.Fatalf("unexpected packet outs: %v", n)
	}
	if len(backend.added) != 0 {
		t.Fatal("unexpected flows")
	}
}

func TestForwardingDatabaseLearning(t *testing.T) {
	c, _, _ := newDHCPTestController(t, virtualNetwork())
	sendPacketIn(t, c, 2, dhcpFrame(t, layers.DHCPMsgTypeDiscover))

	entries, err := c.FDB(testDPID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expected := []ForwardingEntry{{HWAddr: testInstanceHW.String(), Port: 2}}
	if diff := cmp.Diff(expected, entries); diff != "" {
		t.Fatalf("unexpected entries (-want +got):\n%v", diff)
	}
}

func TestSendFrames(t *testing.T) {
	c, _ := newTestController(t)
	w := connect(t, c, phyPort(1, "eth0"))

	err := c.SendARP(testDPID, 1, layers.ARPRequest, testLocalHW, testBackendIP, broadcastMAC, testInstanceIP)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err = c.SendUDP(testDPID, 1, testLocalHW, testBackendIP, 9002, testInstanceHW, testInstanceIP, 40000, []byte("hello"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	outs := w.packetOuts()
	if len(outs) != 2 {
		t.Fatalf("expected two packet outs, got %v", len(outs))
	}
	for _, v := range outs {
		checkOutput(t, v, openflow.OFPP_CONTROLLER, 1)
	}

	arp, err := protocol.Decode(outs[0].Data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if arp.ARP == nil || arp.ARP.Operation != layers.ARPRequest || !net.IP(arp.ARP.DstProtAddress).Equal(testInstanceIP) {
		t.Fatalf("unexpected ARP: %v", arp.ARP)
	}

	udp, err := protocol.Decode(outs[1].Data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if udp.UDP == nil || udp.UDP.SrcPort != 9002 || udp.UDP.DstPort != 40000 {
		t.Fatalf("unexpected UDP: %v", udp.UDP)
	}
	if !bytes.Equal(udp.UDP.Payload, []byte("hello")) {
		t.Fatalf("unexpected payload: %q", udp.UDP.Payload)
	}

	err = c.SendARP(0x2, 1, layers.ARPRequest, testLocalHW, testBackendIP, broadcastMAC, testInstanceIP)
	if !errors.Is(err, ErrUnknownSwitch) {
		t.Fatalf("expected ErrUnknownSwitch, got %v", err)
	}
	err = c.SendUDP(0x2, 1, testLocalHW, testBackendIP, 9002, testInstanceHW, testInstanceIP, 40000, nil)
	if !errors.Is(err, ErrUnknownSwitch) {
		t.Fatalf("expected ErrUnknownSwitch, got %v", err)
	}
}
