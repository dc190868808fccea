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
	"context"
	"fmt"
	"net"
	"sync/atomic"

	"github.com/sdnlab/vnetd/openflow"
	"github.com/sdnlab/vnetd/openflow/transceiver"
)

// Read buffer of a switch connection.
const streamBufferSize = 0xffff

var sessionID atomic.Uint64

// session is one switch connection. Its handlers run sequentially on the
// transceiver goroutine.
type session struct {
	id          uint64
	ctx         context.Context
	ctrl        *Controller
	transceiver *transceiver.Transceiver
	dpid        uint64
	// Whether the first FEATURES_REPLY identified the switch.
	connected bool
	// A cancel function to disconnect this session.
	canceller context.CancelFunc
}

func newSession(ctrl *Controller, conn net.Conn) *session {
	if conn == nil {
		panic("Conn is nil")
	}

	v := &session{
		id:   sessionID.Add(1),
		ctx:  context.Background(),
		ctrl: ctrl,
	}
	v.transceiver = transceiver.NewTransceiver(transceiver.NewStream(conn, streamBufferSize), v)

	return v
}

func (r *session) String() string {
	if !r.connected {
		return "session(unidentified)"
	}
	return fmt.Sprintf("session(dpid=%016x)", r.dpid)
}

func (r *session) OnHello(w transceiver.Writer, v *openflow.Hello) error {
	logger.Debugf("HELLO (xid=%v) is received", v.TransactionID())

	if err := w.Write(openflow.NewHello(openflow.NewTransactionID())); err != nil {
		return err
	}
	if err := w.Write(openflow.NewSetConfig(openflow.NewTransactionID())); err != nil {
		return err
	}

	return w.Write(openflow.NewFeaturesRequest(openflow.NewTransactionID()))
}

func (r *session) OnError(w transceiver.Writer, v *openflow.Error) error {
	logger.Errorf("ERROR from %v: %v", r, v)
	return nil
}

func (r *session) OnFeaturesReply(w transceiver.Writer, v *openflow.FeaturesReply) error {
	logger.Debugf("FEATURES_REPLY (DPID=%016x, NumBufs=%v, NumTables=%v)", v.DPID, v.NumBuffers, v.NumTables)

	// First FeaturesReply packet?
	if r.connected {
		if v.DPID != r.dpid {
			return fmt.Errorf("DPID changed within a session: %016x -> %016x", r.dpid, v.DPID)
		}
		return r.ctrl.onFeaturesReply(r.dpid, v)
	}

	// Disconnect the previous session of the same switch. A switch may open
	// a fresh connection before we notice the old one is dead.
	if cancel, ok := r.ctrl.canceller.pop(v.DPID); ok {
		logger.Infof("disconnecting the previous session of dpid=%016x", v.DPID)
		cancel()
	}
	r.dpid = v.DPID
	r.connected = true
	r.ctrl.canceller.push(r.dpid, r.id, r.canceller)

	// The switch is asked for its features again once it is registered.
	return r.ctrl.onSwitchConnect(r.ctx, r.dpid, w)
}

func (r *session) OnPortStatus(w transceiver.Writer, v *openflow.PortStatus) error {
	if !r.connected {
		return fmt.Errorf("PORT_STATUS before FEATURES_REPLY from %v", r)
	}

	return r.ctrl.onPortStatus(r.dpid, v)
}

func (r *session) OnPacketIn(w transceiver.Writer, v *openflow.PacketIn) error {
	if !r.connected {
		logger.Debugf("dropping PACKET_IN before FEATURES_REPLY from %v", r)
		return nil
	}

	return r.ctrl.onPacketIn(r.dpid, v)
}

func (r *session) Run(ctx context.Context) {
	sessionCtx, canceller := context.WithCancel(ctx)
	defer canceller()
	// This canceller will be used to disconnect this session when it is necessary.
	r.canceller = canceller
	r.ctx = sessionCtx

	if err := r.transceiver.Run(sessionCtx); err != nil {
		logger.Errorf("openflow transceiver is unexpectedly closed: %v", err)
	}
	logger.Infof("disconnected %v", r)

	r.transceiver.Close()
	if r.connected {
		// A newer session may already own the DPID.
		r.ctrl.canceller.remove(r.dpid, r.id)
		r.ctrl.onSwitchDisconnect(r.dpid, r.transceiver)
	}
}
