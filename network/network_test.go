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
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestForwardingDatabase(t *testing.T) {
	fdb, err := NewForwardingDatabase(2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	a, b, c := mustMAC("02:00:00:00:00:0a"), mustMAC("02:00:00:00:00:0b"), mustMAC("02:00:00:00:00:0c")

	fdb.Learn(a, 1)
	fdb.Learn(b, 2)
	// The latest observation wins.
	fdb.Learn(a, 3)
	if port, ok := fdb.PortOf(a); !ok || port != 3 {
		t.Fatalf("unexpected port of %v: %v (%v)", a, port, ok)
	}

	// b is the least recently used entry.
	fdb.Learn(c, 1)
	if _, ok := fdb.PortOf(b); ok {
		t.Fatalf("%v should have been evicted", b)
	}
	expected := []ForwardingEntry{
		{HWAddr: "02:00:00:00:00:0a", Port: 3},
		{HWAddr: "02:00:00:00:00:0c", Port: 1},
	}
	if diff := cmp.Diff(expected, fdb.Entries()); diff != "" {
		t.Fatalf("unexpected entries (-want +got):\n%v", diff)
	}

	fdb.Forget(3)
	if diff := cmp.Diff(expected[1:], fdb.Entries()); diff != "" {
		t.Fatalf("unexpected entries (-want +got):\n%v", diff)
	}
}

func TestNetworkMembers(t *testing.T) {
	n := newNetwork(physicalNetwork())
	n.installPhysical()

	// Without members every flood rule drops.
	for _, f := range n.FloodFlows() {
		if f.Actions != "drop" {
			t.Fatalf("unexpected flood rule: %v", f)
		}
	}

	n.AddPort(1, false)
	n.AddPort(2, true)
	n.AddPort(2, true)
	n.AddPort(1, false)
	if diff := cmp.Diff([]uint16{1, 2}, n.Ports()); diff != "" {
		t.Fatalf("unexpected ports (-want +got):\n%v", diff)
	}
	if diff := cmp.Diff([]uint16{2}, n.LocalPorts()); diff != "" {
		t.Fatalf("unexpected local ports (-want +got):\n%v", diff)
	}

	expected := []string{
		"priority=1,table=14,dl_dst=ff:ff:ff:ff:ff:ff,actions=output:1,output:2",
	}
	if diff := cmp.Diff(expected, flowStrings(n.FloodFlows()[:1])); diff != "" {
		t.Fatalf("unexpected flood rule (-want +got):\n%v", diff)
	}

	// Same membership, same rules.
	if diff := cmp.Diff(flowStrings(n.FloodFlows()), flowStrings(n.FloodFlows())); diff != "" {
		t.Fatalf("flood rules are not stable (-want +got):\n%v", diff)
	}

	n.RemovePort(2)
	n.RemovePort(2)
	if diff := cmp.Diff([]uint16{1}, n.Ports()); diff != "" {
		t.Fatalf("unexpected ports (-want +got):\n%v", diff)
	}
	if len(n.LocalPorts()) != 0 {
		t.Fatalf("unexpected local ports: %v", n.LocalPorts())
	}
}

func TestNetworkConfigValidate(t *testing.T) {
	conf := physicalNetwork()
	conf.IPv4 = nil
	if err := conf.validate(); err == nil {
		t.Fatal("expected an error for a missing network")
	}

	conf = virtualNetwork()
	conf.DHCPIP = mustCIDR("10.1.0.1/32").IP
	conf.DHCPHWAddr = nil
	if err := conf.validate(); err == nil {
		t.Fatal("expected an error for a DHCP server without an Ethernet address")
	}
}
