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

// Package hostnet inspects the network configuration of the host we run on.
package hostnet

import (
	"net"

	"github.com/pkg/errors"
	"github.com/vishvananda/netlink"
)

func isDefault(r netlink.Route) bool {
	if r.Dst == nil {
		return true
	}
	ones, _ := r.Dst.Mask.Size()
	return ones == 0 && r.Dst.IP.IsUnspecified()
}

// defaultRoute picks the default route with the lowest metric.
func defaultRoute(routes []netlink.Route) (netlink.Route, bool) {
	var best netlink.Route
	found := false
	for _, r := range routes {
		if !isDefault(r) {
			continue
		}
		if !found || r.Priority < best.Priority {
			best = r
			found = true
		}
	}

	return best, found
}

// DefaultGatewayAddr returns the IPv4 address of the interface holding the default route.
func DefaultGatewayAddr() (net.IP, error) {
	routes, err := netlink.RouteList(nil, netlink.FAMILY_V4)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list routes")
	}
	route, ok := defaultRoute(routes)
	if !ok {
		return nil, errors.New("no default route")
	}
	if route.Src != nil {
		return route.Src, nil
	}

	link, err := netlink.LinkByIndex(route.LinkIndex)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to find link %v", route.LinkIndex)
	}
	addrs, err := netlink.AddrList(link, netlink.FAMILY_V4)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list addresses of %v", link.Attrs().Name)
	}
	if len(addrs) == 0 {
		return nil, errors.Errorf("%v has no IPv4 address", link.Attrs().Name)
	}

	return addrs[0].IP, nil
}
