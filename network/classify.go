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
	"strings"

	"github.com/sdnlab/vnetd/openflow"
)

// PortClass is what a port name says the port is.
type PortClass int

const (
	ClassNone PortClass = iota
	ClassEth
	ClassTunnel
	ClassInstance
)

func (r PortClass) String() string {
	switch r {
	case ClassEth:
		return "eth"
	case ClassTunnel:
		return "tunnel"
	case ClassInstance:
		return "instance"
	default:
		return "none"
	}
}

const (
	ethPrefix      = "eth"
	tunnelPrefix   = "gre-"
	instancePrefix = "vif-"
)

// Classify maps a port to its class by name. Reserved port numbers are never classified.
func Classify(name string, number uint16) PortClass {
	if number >= openflow.OFPP_MAX {
		return ClassNone
	}

	switch {
	case strings.HasPrefix(name, ethPrefix):
		return ClassEth
	case strings.HasPrefix(name, tunnelPrefix):
		return ClassTunnel
	case strings.HasPrefix(name, instancePrefix):
		return ClassInstance
	default:
		return ClassNone
	}
}
