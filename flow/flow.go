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

// Package flow describes the rules we program into a switch as ovs-ofctl flow strings.
package flow

import (
	"fmt"
	"strconv"
	"strings"
)

// Table is a flow table number of the pipeline.
type Table uint8

const (
	TableClassifier       Table = 0
	TableRouteDirectly    Table = 3
	TableLoadDst          Table = 4
	TableLoadSrc          Table = 5
	TableVirtualSrc       Table = 6
	TableVirtualDst       Table = 7
	TableARPAntispoof     Table = 10
	TableARPRoute         Table = 11
	TableMetadataOutgoing Table = 12
	TableMetadataIncoming Table = 13
	TableMACRoute         Table = 14
)

// LocalPort is the OFPP_LOCAL port number.
const LocalPort = 0xfffe

// Flow is an immutable rule. Match and Actions use the ovs-ofctl syntax.
type Flow struct {
	Priority    int
	Table       Table
	IdleTimeout int
	Match       string
	Actions     string
}

func New(priority int, table Table, match, actions string) Flow {
	return Flow{
		Priority: priority,
		Table:    table,
		Match:    match,
		Actions:  actions,
	}
}

// String renders the rule the way ovs-ofctl add-flow(s) expects it.
func (r Flow) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "priority=%v,table=%v", r.Priority, r.Table)
	if r.IdleTimeout > 0 {
		fmt.Fprintf(&b, ",idle_timeout=%v", r.IdleTimeout)
	}
	if r.Match != "" {
		b.WriteString(",")
		b.WriteString(r.Match)
	}
	b.WriteString(",actions=")
	b.WriteString(r.Actions)

	return b.String()
}

// MatchString renders the strict selector (priority, table and match) used to delete this rule again.
func (r Flow) MatchString() string {
	if r.Match == "" {
		return fmt.Sprintf("priority=%v,table=%v", r.Priority, r.Table)
	}

	return fmt.Sprintf("priority=%v,table=%v,%v", r.Priority, r.Table, r.Match)
}

// PortArg renders a port number as a match or action argument.
func PortArg(port uint16) string {
	if port == LocalPort {
		return "local"
	}

	return strconv.FormatUint(uint64(port), 10)
}

func InPort(port uint16) string {
	return "in_port=" + PortArg(port)
}

func Output(port uint16) string {
	if port == LocalPort {
		return "local"
	}

	return "output:" + PortArg(port)
}

// Resubmit jumps to table t.
func Resubmit(t Table) string {
	return fmt.Sprintf("resubmit(,%v)", t)
}

// Join builds a comma separated clause list skipping empty parts.
func Join(parts ...string) string {
	v := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			v = append(v, p)
		}
	}

	return strings.Join(v, ",")
}
