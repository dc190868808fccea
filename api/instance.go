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

	"github.com/sdnlab/vnetd/network"

	"github.com/ant0ine/go-json-rest/rest"
	"github.com/davecgh/go-spew/spew"
	"github.com/samber/lo"
)

type Instance struct {
	Name      string   `json:"name"`
	NetworkID uint32   `json:"network_id"`
	MAC       string   `json:"mac"`
	IP        string   `json:"ip"`
	Rules     []string `json:"rules"`
}

func (r *Server) listInstance(w rest.ResponseWriter, req *rest.Request) {
	instances := lo.Map(r.Controller.Instances(), func(v network.InstanceBinding, _ int) Instance {
		return Instance{
			Name:      v.Name,
			NetworkID: v.NetworkID,
			MAC:       v.HWAddr.String(),
			IP:        v.IP.String(),
			Rules:     lo.Map(v.Rules, func(rule network.SecurityRule, _ int) string { return rule.String() }),
		}
	})
	w.WriteJson(&Response{Status: StatusOkay, Data: instances})
}

func (r *Server) bindInstance(w rest.ResponseWriter, req *rest.Request) {
	p := new(bindInstanceParam)
	if err := req.DecodeJsonPayload(p); err != nil {
		invalidParam(w, req, err)
		return
	}
	logger.Debugf("bindInstance request from %v: request=%v, %v", req.RemoteAddr, requestID(req), spew.Sdump(p))

	if err := r.Controller.BindInstance(p.InstanceBinding); err != nil {
		fail(w, req, "bindInstance", err)
		return
	}
	w.WriteJson(&Response{Status: StatusOkay})
}

type bindInstanceParam struct {
	network.InstanceBinding
}

func (r *bindInstanceParam) UnmarshalJSON(data []byte) error {
	v := struct {
		Name      string   `json:"name"`
		NetworkID uint32   `json:"network_id"`
		MAC       string   `json:"mac"`
		IP        string   `json:"ip"`
		Rules     []string `json:"rules"`
	}{}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}

	if v.Name == "" {
		return fmt.Errorf("empty instance interface name")
	}
	mac, err := net.ParseMAC(v.MAC)
	if err != nil {
		return err
	}
	ip := net.ParseIP(v.IP).To4()
	if ip == nil {
		return fmt.Errorf("invalid IPv4 address: %v", v.IP)
	}
	rules := make([]network.SecurityRule, 0, len(v.Rules))
	for _, s := range v.Rules {
		rule, err := network.ParseSecurityRule(s)
		if err != nil {
			return err
		}
		rules = append(rules, rule)
	}

	r.Name = v.Name
	r.NetworkID = v.NetworkID
	r.HWAddr = mac
	r.IP = ip
	r.Rules = rules

	return nil
}

func (r *Server) unbindInstance(w rest.ResponseWriter, req *rest.Request) {
	name := req.PathParam("name")
	if err := r.Controller.UnbindInstance(name); err != nil {
		fail(w, req, "unbindInstance", err)
		return
	}
	w.WriteJson(&Response{Status: StatusOkay})
}

func (r *Server) bindTunnel(w rest.ResponseWriter, req *rest.Request) {
	p := new(bindTunnelParam)
	if err := req.DecodeJsonPayload(p); err != nil {
		invalidParam(w, req, err)
		return
	}
	logger.Debugf("bindTunnel request from %v: request=%v, %v", req.RemoteAddr, requestID(req), spew.Sdump(p))

	if err := r.Controller.BindTunnel(p.TunnelBinding); err != nil {
		fail(w, req, "bindTunnel", err)
		return
	}
	w.WriteJson(&Response{Status: StatusOkay})
}

type bindTunnelParam struct {
	network.TunnelBinding
}

func (r *bindTunnelParam) UnmarshalJSON(data []byte) error {
	v := struct {
		Name      string `json:"name"`
		NetworkID uint32 `json:"network_id"`
		Remote    string `json:"remote"`
		Key       uint32 `json:"key"`
	}{}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}

	remote := net.ParseIP(v.Remote).To4()
	if remote == nil {
		return fmt.Errorf("invalid remote address: %v", v.Remote)
	}
	r.Name = v.Name
	r.NetworkID = v.NetworkID
	r.Remote = remote
	// The network id is the default GRE key.
	r.Key = v.Key
	if r.Key == 0 {
		r.Key = v.NetworkID
	}

	return nil
}
