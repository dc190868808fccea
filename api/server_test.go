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
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sdnlab/vnetd/network"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
)

type fakeController struct {
	switches  []network.SwitchInfo
	fdb       map[uint64][]network.ForwardingEntry
	networks  []network.NetworkConfig
	virtual   []bool
	updated   []uint32
	removed   []uint32
	instances []network.InstanceBinding
	tunnels   []network.TunnelBinding
}

func (r *fakeController) Switches() []network.SwitchInfo {
	return r.switches
}

func (r *fakeController) FDB(dpid uint64) ([]network.ForwardingEntry, error) {
	v, ok := r.fdb[dpid]
	if !ok {
		return nil, errors.Wrapf(network.ErrUnknownSwitch, "dpid=%016x", dpid)
	}
	return v, nil
}

func (r *fakeController) Networks() []network.NetworkInfo {
	return nil
}

func (r *fakeController) install(conf network.NetworkConfig, virtual bool) error {
	for _, v := range r.networks {
		if v.ID == conf.ID {
			return errors.Wrapf(network.ErrDuplicatedNetwork, "id=%v", conf.ID)
		}
	}
	r.networks = append(r.networks, conf)
	r.virtual = append(r.virtual, virtual)
	return nil
}

func (r *fakeController) InstallVirtualNetwork(conf network.NetworkConfig) error {
	return r.install(conf, true)
}

func (r *fakeController) InstallPhysicalNetwork(conf network.NetworkConfig) error {
	return r.install(conf, false)
}

func (r *fakeController) UpdateNetwork(id uint32) error {
	r.updated = append(r.updated, id)
	return nil
}

func (r *fakeController) RemoveNetwork(id uint32) error {
	for i, v := range r.networks {
		if v.ID == id {
			r.networks = append(r.networks[:i], r.networks[i+1:]...)
			r.removed = append(r.removed, id)
			return nil
		}
	}
	return errors.Wrapf(network.ErrUnknownNetwork, "id=%v", id)
}

func (r *fakeController) Instances() []network.InstanceBinding {
	return r.instances
}

func (r *fakeController) BindInstance(b network.InstanceBinding) error {
	r.instances = append(r.instances, b)
	return nil
}

func (r *fakeController) UnbindInstance(name string) error {
	return errors.Wrapf(network.ErrUnknownInstance, "name=%v", name)
}

func (r *fakeController) BindTunnel(b network.TunnelBinding) error {
	r.tunnels = append(r.tunnels, b)
	return nil
}

type testResponse struct {
	Status  Status          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func newTestHandler(t *testing.T) (http.Handler, *fakeController) {
	t.Helper()

	ctrl := &fakeController{fdb: make(map[uint64][]network.ForwardingEntry)}
	s := &Server{Port: 8080, Controller: ctrl}
	h, err := s.Handler()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	return h, ctrl
}

func call(t *testing.T, h http.Handler, method, path, body string) testResponse {
	t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("%v %v: unexpected HTTP status: %v", method, path, w.Code)
	}
	if w.Header().Get(requestIDHeader) == "" {
		t.Fatalf("%v %v: missing request id", method, path)
	}

	var resp testResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("%v %v: invalid response: %v", method, path, err)
	}

	return resp
}

func TestServerValidate(t *testing.T) {
	if _, err := (&Server{Port: 8080}).Handler(); err == nil {
		t.Fatal("expected an error for a nil controller")
	}
	if _, err := (&Server{Controller: &fakeController{}}).Handler(); err == nil {
		t.Fatal("expected an error for a zero port")
	}
}

func TestAddNetwork(t *testing.T) {
	h, ctrl := newTestHandler(t)

	src := []struct {
		Body   string
		Status Status
	}{
		{`{"id": 100, "dpid": "0000000000000001", "virtual": true, "ipv4": "10.1.0.0/24", "dhcp_mac": "02:00:00:00:01:00"}`, StatusOkay},
		{`{"id": 10, "dpid": "0x2", "ipv4": "10.2.0.0/24"}`, StatusOkay},
		{`{"id": 10, "dpid": "0x2", "ipv4": "10.2.0.0/24"}`, StatusDuplicated},
		{`{"id": 11, "dpid": "xyz", "ipv4": "10.2.0.0/24"}`, StatusInvalidParameter},
		{`{"id": 11, "dpid": "2", "ipv4": "10.2.0.0"}`, StatusInvalidParameter},
		{`{"id": 11, "dpid": "2", "ipv4": "fd00::/64"}`, StatusInvalidParameter},
		{`{"id": 0, "dpid": "2", "ipv4": "10.2.0.0/24"}`, StatusInvalidParameter},
		{`{"id": 11, "dpid": "2", "ipv4": "10.2.0.0/24", "dhcp_ip": "10.2.0.1"}`, StatusInvalidParameter},
		{`{"id": 11, "dpid": "2", "ipv4": "10.2.0.0/24", "dhcp_mac": "bogus"}`, StatusInvalidParameter},
	}
	for _, v := range src {
		resp := call(t, h, http.MethodPost, "/api/v1/network", v.Body)
		if resp.Status != v.Status {
			t.Fatalf("%v: unexpected status: expected=%v, actual=%v (%v)", v.Body, v.Status, resp.Status, resp.Message)
		}
	}

	if diff := cmp.Diff([]bool{true, false}, ctrl.virtual); diff != "" {
		t.Fatalf("unexpected network kinds (-want +got):\n%v", diff)
	}
	conf := ctrl.networks[0]
	if conf.ID != 100 || conf.DPID != 1 || conf.IPv4.String() != "10.1.0.0/24" || conf.DHCPHWAddr.String() != "02:00:00:00:01:00" {
		t.Fatalf("unexpected network config: %+v", conf)
	}
	if conf.DHCPIP != nil {
		t.Fatalf("unexpected DHCP server address: %v", conf.DHCPIP)
	}
}

func TestUpdateAndRemoveNetwork(t *testing.T) {
	h, ctrl := newTestHandler(t)
	call(t, h, http.MethodPost, "/api/v1/network", `{"id": 10, "dpid": "1", "ipv4": "10.2.0.0/24"}`)

	if resp := call(t, h, http.MethodPut, "/api/v1/network/10", ""); resp.Status != StatusOkay {
		t.Fatalf("unexpected status: %v", resp.Status)
	}
	if resp := call(t, h, http.MethodPut, "/api/v1/network/abc", ""); resp.Status != StatusInvalidParameter {
		t.Fatalf("unexpected status: %v", resp.Status)
	}
	if resp := call(t, h, http.MethodDelete, "/api/v1/network/10", ""); resp.Status != StatusOkay {
		t.Fatalf("unexpected status: %v", resp.Status)
	}
	if resp := call(t, h, http.MethodDelete, "/api/v1/network/10", ""); resp.Status != StatusNotFound {
		t.Fatalf("unexpected status: %v", resp.Status)
	}

	if diff := cmp.Diff([]uint32{10}, ctrl.updated); diff != "" {
		t.Fatalf("unexpected updates (-want +got):\n%v", diff)
	}
	if diff := cmp.Diff([]uint32{10}, ctrl.removed); diff != "" {
		t.Fatalf("unexpected removals (-want +got):\n%v", diff)
	}
}

func TestBindInstance(t *testing.T) {
	h, ctrl := newTestHandler(t)

	body := `{"name": "vif-a", "network_id": 10, "mac": "02:00:00:00:00:0a", "ip": "10.1.0.10", "rules": ["tcp:22,22,ip4:0.0.0.0", "icmp:-1,-1,ip4:10.0.0.0/8"]}`
	if resp := call(t, h, http.MethodPost, "/api/v1/instance", body); resp.Status != StatusOkay {
		t.Fatalf("unexpected status: %v (%v)", resp.Status, resp.Message)
	}
	bad := `{"name": "vif-b", "network_id": 10, "mac": "02:00:00:00:00:0b", "ip": "10.1.0.11", "rules": ["sctp:1,1,ip4:0.0.0.0"]}`
	if resp := call(t, h, http.MethodPost, "/api/v1/instance", bad); resp.Status != StatusInvalidParameter {
		t.Fatalf("unexpected status: %v", resp.Status)
	}
	if len(ctrl.instances) != 1 {
		t.Fatalf("unexpected bindings: %v", len(ctrl.instances))
	}

	resp := call(t, h, http.MethodGet, "/api/v1/instance", "")
	var instances []Instance
	if err := json.Unmarshal(resp.Data, &instances); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expected := []Instance{{
		Name:      "vif-a",
		NetworkID: 10,
		MAC:       "02:00:00:00:00:0a",
		IP:        "10.1.0.10",
		Rules:     []string{"tcp:22,22,ip4:0.0.0.0/0", "icmp:-1,-1,ip4:10.0.0.0/8"},
	}}
	if diff := cmp.Diff(expected, instances); diff != "" {
		t.Fatalf("unexpected instances (-want +got):\n%v", diff)
	}

	if resp := call(t, h, http.MethodDelete, "/api/v1/instance/vif-c", ""); resp.Status != StatusNotFound {
		t.Fatalf("unexpected status: %v", resp.Status)
	}
}

func TestBindTunnel(t *testing.T) {
	h, ctrl := newTestHandler(t)

	if resp := call(t, h, http.MethodPost, "/api/v1/tunnel", `{"name": "gre-a", "network_id": 100, "remote": "10.0.0.2"}`); resp.Status != StatusOkay {
		t.Fatalf("unexpected status: %v (%v)", resp.Status, resp.Message)
	}
	if resp := call(t, h, http.MethodPost, "/api/v1/tunnel", `{"name": "gre-b", "network_id": 100, "remote": "nowhere"}`); resp.Status != StatusInvalidParameter {
		t.Fatalf("unexpected status: %v", resp.Status)
	}

	expected := []network.TunnelBinding{{Name: "gre-a", NetworkID: 100, Remote: net.IPv4(10, 0, 0, 2).To4(), Key: 100}}
	if diff := cmp.Diff(expected, ctrl.tunnels); diff != "" {
		t.Fatalf("unexpected tunnels (-want +got):\n%v", diff)
	}
}

func TestListFDB(t *testing.T) {
	h, ctrl := newTestHandler(t)
	ctrl.fdb[1] = []network.ForwardingEntry{{HWAddr: "02:00:00:00:00:0a", Port: 2}}

	resp := call(t, h, http.MethodGet, "/api/v1/switch/0000000000000001/fdb", "")
	if resp.Status != StatusOkay {
		t.Fatalf("unexpected status: %v", resp.Status)
	}
	var entries []network.ForwardingEntry
	if err := json.Unmarshal(resp.Data, &entries); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := cmp.Diff(ctrl.fdb[1], entries); diff != "" {
		t.Fatalf("unexpected entries (-want +got):\n%v", diff)
	}

	if resp := call(t, h, http.MethodGet, "/api/v1/switch/2/fdb", ""); resp.Status != StatusNotFound {
		t.Fatalf("unexpected status: %v", resp.Status)
	}
	if resp := call(t, h, http.MethodGet, "/api/v1/switch/zz/fdb", ""); resp.Status != StatusInvalidParameter {
		t.Fatalf("unexpected status: %v", resp.Status)
	}
}

func TestMetrics(t *testing.T) {
	h, _ := newTestHandler(t)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("unexpected HTTP status: %v", w.Code)
	}
}
