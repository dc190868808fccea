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
	"context"
	"encoding"
	"fmt"
	"net"
	"testing"

	"github.com/sdnlab/vnetd/flow"
	"github.com/sdnlab/vnetd/openflow"
)

type fakeBackend struct {
	name    string
	added   []flow.Flow
	removed []string
	tunnels []string
	// failAdd makes AddFlow fail without recording anything once
	// failAddAfter flows were added.
	failAdd      error
	failAddAfter int
}

func (r *fakeBackend) Name() string {
	return r.name
}

func (r *fakeBackend) AddFlow(f flow.Flow) error {
	if r.failAdd != nil && len(r.added) >= r.failAddAfter {
		return r.failAdd
	}
	r.added = append(r.added, f)
	return nil
}

func (r *fakeBackend) DelFlow(selector string) error {
	r.removed = append(r.removed, selector)
	return nil
}

func (r *fakeBackend) AddFlows(flows []flow.Flow) error {
	r.added = append(r.added, flows...)
	return nil
}

func (r *fakeBackend) DelFlows(selectors []string) error {
	r.removed = append(r.removed, selectors...)
	return nil
}

func (r *fakeBackend) AddGRETunnel(name string, remote net.IP, key uint32) error {
	r.tunnels = append(r.tunnels, fmt.Sprintf("%v/%v/%v", name, remote, key))
	return nil
}

// reset forgets everything recorded so far.
func (r *fakeBackend) reset() {
	r.added = nil
	r.removed = nil
}

type fakeWriter struct {
	msgs []encoding.BinaryMarshaler
}

func (r *fakeWriter) Write(msg encoding.BinaryMarshaler) error {
	r.msgs = append(r.msgs, msg)
	return nil
}

func (r *fakeWriter) packetOuts() []*openflow.PacketOut {
	var result []*openflow.PacketOut
	for _, v := range r.msgs {
		if p, ok := v.(*openflow.PacketOut); ok {
			result = append(result, p)
		}
	}

	return result
}

type fakeResolver map[uint64]string

func (r fakeResolver) BridgeName(ctx context.Context, dpid uint64) (string, error) {
	name, ok := r[dpid]
	if !ok {
		return "", fmt.Errorf("no bridge for %016x", dpid)
	}

	return name, nil
}

const testDPID = 0x1

var (
	testLocalHW    = mustMAC("02:00:00:00:00:fe")
	testDHCPHW     = mustMAC("02:00:00:00:01:00")
	testInstanceHW = mustMAC("02:00:00:00:00:0a")
	testInstanceIP = net.IPv4(10, 1, 0, 10).To4()
	testBackendIP  = net.IPv4(192, 168, 0, 1).To4()
)

func mustMAC(s string) net.HardwareAddr {
	v, err := net.ParseMAC(s)
	if err != nil {
		panic(err)
	}
	return v
}

func mustCIDR(s string) *net.IPNet {
	_, v, err := net.ParseCIDR(s)
	if err != nil {
		panic(err)
	}
	return v
}

func newTestController(t *testing.T) (*Controller, *fakeBackend) {
	t.Helper()

	backend := &fakeBackend{}
	c, err := NewController(Config{
		MetadataAddress: net.IPv4(169, 254, 169, 254),
		MetadataPort:    80,
		BackendAddress:  testBackendIP,
		BackendPort:     9002,
		FDBSize:         16,
		Resolver:        fakeResolver{testDPID: "br0"},
		Bridge: func(name string) Backend {
			backend.name = name
			return backend
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	return c, backend
}

func phyPort(number uint16, name string) openflow.PhyPort {
	return openflow.PhyPort{
		Number: number,
		Name:   name,
		HWAddr: mustMAC(fmt.Sprintf("02:00:00:00:10:%02x", number&0xff)),
	}
}

// connect runs the connect sequence of the test switch with the given ports
// plus its local port.
func connect(t *testing.T, c *Controller, ports ...openflow.PhyPort) *fakeWriter {
	t.Helper()

	w := &fakeWriter{}
	if err := c.onSwitchConnect(context.Background(), testDPID, w); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(w.msgs) != 1 {
		t.Fatalf("expected a features request, got %v messages", len(w.msgs))
	}
	if _, ok := w.msgs[0].(*openflow.FeaturesRequest); !ok {
		t.Fatalf("expected a features request, got %T", w.msgs[0])
	}

	if err := c.onFeaturesReply(testDPID, featuresReply(ports...)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	return w
}

// featuresReply describes the test switch with the given ports plus its local port.
func featuresReply(ports ...openflow.PhyPort) *openflow.FeaturesReply {
	reply := openflow.NewFeaturesReply(openflow.NewTransactionID())
	reply.DPID = testDPID
	reply.Ports = append(append([]openflow.PhyPort{}, ports...), openflow.PhyPort{Number: openflow.OFPP_LOCAL, Name: "br0", HWAddr: testLocalHW})

	return reply
}

func testSwitch(t *testing.T, c *Controller) *Switch {
	t.Helper()

	sw, ok := c.switches[testDPID]
	if !ok {
		t.Fatal("the test switch is not connected")
	}
	return sw
}

func testPort(t *testing.T, c *Controller, number uint16) *Port {
	t.Helper()

	p, ok := testSwitch(t, c).Port(number)
	if !ok {
		t.Fatalf("port %v is not tracked", number)
	}
	return p
}

// flowStrings renders flows for comparison.
func flowStrings(flows []flow.Flow) []string {
	result := make([]string, len(flows))
	for i, f := range flows {
		result[i] = f.String()
	}
	return result
}
