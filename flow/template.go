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

package flow

import (
	"strings"

	"github.com/samber/lo"
)

// Placeholder is replaced with a member port number when a template is expanded.
const Placeholder = "<>"

// Template describes one flood rule. Actions is repeated once per member port
// with Placeholder substituted, then Suffix is appended.
type Template struct {
	Priority int
	Table    Table
	Match    string
	Actions  string
	Suffix   string
}

// Expand renders one rule outputting to every port. It emits a drop rule when
// ports is empty so a stale flood list is overwritten.
func (r Template) Expand(ports []uint16) Flow {
	clauses := lo.Map(ports, func(p uint16, _ int) string {
		return strings.ReplaceAll(r.Actions, Placeholder, PortArg(p))
	})
	actions := Join(strings.Join(clauses, ","), r.Suffix)
	if actions == "" {
		actions = "drop"
	}

	return New(r.Priority, r.Table, r.Match, actions)
}
