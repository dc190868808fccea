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

package api

import (
	"fmt"
	"strconv"

	"github.com/ant0ine/go-json-rest/rest"
)

func (r *Server) listSwitch(w rest.ResponseWriter, req *rest.Request) {
	w.WriteJson(&Response{Status: StatusOkay, Data: r.Controller.Switches()})
}

func (r *Server) listFDB(w rest.ResponseWriter, req *rest.Request) {
	dpid, err := parseDPID(req.PathParam("dpid"))
	if err != nil {
		invalidParam(w, req, err)
		return
	}

	entries, err := r.Controller.FDB(dpid)
	if err != nil {
		fail(w, req, "listFDB", err)
		return
	}
	w.WriteJson(&Response{Status: StatusOkay, Data: entries})
}

// parseDPID parses a datapath id written in hex, with or without a 0x prefix.
func parseDPID(s string) (uint64, error) {
	if len(s) > 2 && (s[:2] == "0x" || s[:2] == "0X") {
		s = s[2:]
	}
	dpid, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid datapath id: %v", s)
	}

	return dpid, nil
}
