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

package ofctl

import (
	"context"
	"fmt"
	"regexp"

	"github.com/ovn-kubernetes/libovsdb/client"
	"github.com/ovn-kubernetes/libovsdb/model"
	"github.com/pkg/errors"
)

// Resolver finds the bridge serving a datapath.
type Resolver interface {
	BridgeName(ctx context.Context, dpid uint64) (string, error)
}

func datapathID(dpid uint64) string {
	return fmt.Sprintf("%016x", dpid)
}

var quoted = regexp.MustCompile(`(?m)^"(.*)"`)

// VsctlResolver asks ovs-vsctl. It needs nothing but the utility itself.
type VsctlResolver struct {
	runner *Runner
}

func NewVsctlResolver(r *Runner) *VsctlResolver {
	return &VsctlResolver{runner: r}
}

func (r *VsctlResolver) BridgeName(ctx context.Context, dpid uint64) (string, error) {
	out, err := r.runner.run(ctx, nil, r.runner.vsctl,
		"--no-heading", "--", "--columns=name", "find", "bridge", "datapath_id="+datapathID(dpid))
	if err != nil {
		return "", err
	}

	m := quoted.FindSubmatch(out)
	if m == nil {
		return "", errors.Wrapf(ErrNoBridge, "datapath_id=%v", datapathID(dpid))
	}

	return string(m[1]), nil
}

const bridgeTable = "Bridge"

// OVSBridge is the subset of the Open_vSwitch Bridge table we read.
type OVSBridge struct {
	UUID       string  `ovsdb:"_uuid"`
	Name       string  `ovsdb:"name"`
	DatapathID *string `ovsdb:"datapath_id"`
}

// OVSDBResolver reads the Bridge table from a monitored OVSDB connection.
type OVSDBResolver struct {
	client client.Client
}

// DialOVSDB connects to endpoint (e.g. unix:/var/run/openvswitch/db.sock) and monitors the Bridge table.
func DialOVSDB(ctx context.Context, endpoint string) (*OVSDBResolver, error) {
	dbModel, err := model.NewClientDBModel("Open_vSwitch", map[string]model.Model{
		bridgeTable: &OVSBridge{},
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create the OVSDB model")
	}

	c, err := client.NewOVSDBClient(dbModel, client.WithEndpoint(endpoint))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create an OVSDB client")
	}
	if err := c.Connect(ctx); err != nil {
		return nil, errors.Wrapf(err, "failed to connect to %v", endpoint)
	}
	if _, err := c.MonitorAll(ctx); err != nil {
		c.Disconnect()
		return nil, errors.Wrap(err, "failed to monitor OVSDB")
	}

	return &OVSDBResolver{client: c}, nil
}

func (r *OVSDBResolver) BridgeName(ctx context.Context, dpid uint64) (string, error) {
	id := datapathID(dpid)

	var bridges []OVSBridge
	err := r.client.WhereCache(func(b *OVSBridge) bool {
		return b.DatapathID != nil && *b.DatapathID == id
	}).List(ctx, &bridges)
	if err != nil {
		return "", errors.Wrap(err, "failed to query the bridge table")
	}
	if len(bridges) == 0 {
		return "", errors.Wrapf(ErrNoBridge, "datapath_id=%v", id)
	}

	return bridges[0].Name, nil
}

func (r *OVSDBResolver) Close() {
	r.client.Disconnect()
}
