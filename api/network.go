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
	"encoding/json"
	"fmt"
	"net"
	"strconv"

	"github.com/sdnlab/vnetd/network"

	"github.com/ant0ine/go-json-rest/rest"
	"github.com/davecgh/go-spew/spew"
)

func (r *Server) listNetwork(w rest.ResponseWriter, req *rest.Request) {
	w.WriteJson(&Response{Status: StatusOkay, Data: r.Controller.Networks()})
}

func (r *Server) addNetwork(w rest.ResponseWriter, req *rest.Request) {
	p := new(addNetworkParam)
	if err := req.DecodeJsonPayload(p); err != nil {
		invalidParam(w, req, err)
		return
	}
	logger.Debugf("addNetwork request from %v: request=%v, %v", req.RemoteAddr, requestID(req), spew.Sdump(p))

	var err error
	if p.Virtual {
		err = r.Controller.InstallVirtualNetwork(p.NetworkConfig)
	} else {
		err = r.Controller.InstallPhysicalNetwork(p.NetworkConfig)
	}
	if err != nil {
		fail(w, req, "addNetwork", err)
		return
	}
	logger.Infof("network %v installed on %016x: request=%v", p.ID, p.DPID, requestID(req))

	w.WriteJson(&Response{Status: StatusOkay})
}

type addNetworkParam struct {
	network.NetworkConfig
}

func (r *addNetworkParam) UnmarshalJSON(data []byte) error {
	v := struct {
		ID      uint32 `json:"id"`
		DPID    string `json:"dpid"`
		Virtual bool   `json:"virtual"`
		IPv4    string `json:"ipv4"`
		DHCPMAC string `json:"dhcp_mac"`
		DHCPIP  string `json:"dhcp_ip"`
	}{}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}

	dpid, err := parseDPID(v.DPID)
	if err != nil {
		return err
	}
	_, ipv4, err := net.ParseCIDR(v.IPv4)
	if err != nil || ipv4.IP.To4() == nil {
		return fmt.Errorf("invalid IPv4 network: %v", v.IPv4)
	}
	r.ID = v.ID
	r.DPID = dpid
	r.Virtual = v.Virtual
	r.IPv4 = ipv4

	if v.DHCPMAC != "" {
		mac, err := net.ParseMAC(v.DHCPMAC)
		if err != nil {
			return err
		}
		r.DHCPHWAddr = mac
	}
	if v.DHCPIP != "" {
		ip := net.ParseIP(v.DHCPIP).To4()
		if ip == nil {
			return fmt.Errorf("invalid DHCP server address: %v", v.DHCPIP)
		}
		r.DHCPIP = ip
	}

	return r.validate()
}

func (r *addNetworkParam) validate() error {
	if r.ID == 0 {
		return fmt.Errorf("invalid network id: %v", r.ID)
	}
	if r.DHCPIP != nil && r.DHCPHWAddr == nil {
		return fmt.Errorf("DHCP server address %v without a MAC address", r.DHCPIP)
	}

	return nil
}

func (r *Server) updateNetwork(w rest.ResponseWriter, req *rest.Request) {
	id, err := parseNetworkID(req.PathParam("id"))
	if err != nil {
		invalidParam(w, req, err)
		return
	}

	if err := r.Controller.UpdateNetwork(id); err != nil {
		fail(w, req, "updateNetwork", err)
		return
	}
	w.WriteJson(&Response{Status: StatusOkay})
}

func (r *Server) removeNetwork(w rest.ResponseWriter, req *rest.Request) {
	id, err := parseNetworkID(req.PathParam("id"))
	if err != nil {
		invalidParam(w, req, err)
		return
	}

	if err := r.Controller.RemoveNetwork(id); err != nil {
		fail(w, req, "removeNetwork", err)
		return
	}
	logger.Infof("network %v removed: request=%v", id, requestID(req))

	w.WriteJson(&Response{Status: StatusOkay})
}

func parseNetworkID(s string) (uint32, error) {
	id, err := strconv.ParseUint(s, 10, 32)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid network id: %v", s)
	}

	return uint32(id), nil
}
