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
	"sort"
)

// InstanceBinding attaches an instance interface to a network.
type InstanceBinding struct {
	Name      string
	NetworkID uint32
	HWAddr    net.HardwareAddr
	IP        net.IP
	Rules     []SecurityRule
}

func (r InstanceBinding) validate() error {
	if len(r.Name) <= len(instancePrefix) || Classify(r.Name, 0) != ClassInstance {
		return fmt.Errorf("invalid instance interface name: %v", r.Name)
	}
	if len(r.HWAddr) != 6 {
		return fmt.Errorf("invalid instance MAC address: %v", r.HWAddr)
	}
	if r.IP.To4() == nil {
		return fmt.Errorf("invalid instance IPv4 address: %v", r.IP)
	}

	return nil
}

// TunnelBinding attaches a GRE tunnel port to a virtual network.
type TunnelBinding struct {
	Name      string
	NetworkID uint32
	Remote    net.IP
	Key       uint32
}

func (r TunnelBinding) validate() error {
	if len(r.Name) <= len(tunnelPrefix) || Classify(r.Name, 0) != ClassTunnel {
		return fmt.Errorf("invalid tunnel name: %v", r.Name)
	}
	if r.Remote.To4() == nil {
		return fmt.Errorf("invalid tunnel remote address: %v", r.Remote)
	}

	return nil
}

// registry holds the bindings supplied by the orchestration service.
type registry struct {
	instances map[string]InstanceBinding
	tunnels   map[string]TunnelBinding
}

func newRegistry() *registry {
	return &registry{
		instances: make(map[string]InstanceBinding),
		tunnels:   make(map[string]TunnelBinding),
	}
}

func (r *registry) instance(name string) (InstanceBinding, bool) {
	v, ok := r.instances[name]
	return v, ok
}

func (r *registry) tunnel(name string) (TunnelBinding, bool) {
	v, ok := r.tunnels[name]
	return v, ok
}

func (r *registry) bindInstance(b InstanceBinding) {
	r.instances[b.Name] = b
}

func (r *registry) unbindInstance(name string) bool {
	_, ok := r.instances[name]
	delete(r.instances, name)
	return ok
}

func (r *registry) bindTunnel(b TunnelBinding) {
	r.tunnels[b.Name] = b
}

// unbindNetwork removes every binding of network id.
func (r *registry) unbindNetwork(id uint32) {
	for k, v := range r.instances {
		if v.NetworkID == id {
			delete(r.instances, k)
		}
	}
	for k, v := range r.tunnels {
		if v.NetworkID == id {
			delete(r.tunnels, k)
		}
	}
}

func (r *registry) instanceNames() []string {
	result := make([]string, 0, len(r.instances))
	for k := range r.instances {
		result = append(result, k)
	}
	sort.Strings(result)

	return result
}
