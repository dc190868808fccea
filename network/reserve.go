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
	"encoding/binary"
	"fmt"
	"net"
)

// ReservedIP returns the address reserved for the DHCP server of the network
// when none is configured: the last host address of the network.
func ReservedIP(n net.IPNet) (net.IP, error) {
	if n.IP == nil || n.Mask == nil {
		return nil, fmt.Errorf("invalid IP network: %v", n)
	}

	ip := n.IP.Mask(n.Mask).To4()
	if ip == nil {
		return nil, fmt.Errorf("invalid IPv4 address: %v", n)
	}

	ones, bits := n.Mask.Size()
	if bits != 32 || ones > 30 {
		return nil, fmt.Errorf("invalid IP mask: %v", n)
	}

	v := binary.BigEndian.Uint32(ip)
	h := uint32(1<<uint(bits-ones) - 2)
	result := make(net.IP, net.IPv4len)
	binary.BigEndian.PutUint32(result, v|h)

	return result, nil
}
