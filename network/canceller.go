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
	"sync"
)

// canceller keeps the cancel function of the live session of each datapath.
type canceller struct {
	mu    sync.Mutex
	elems map[uint64]cancelEntry
}

type cancelEntry struct {
	owner  uint64
	cancel context.CancelFunc
}

func newCanceller() *canceller {
	return &canceller{elems: make(map[uint64]cancelEntry)}
}

func (r *canceller) push(dpid, owner uint64, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.elems[dpid] = cancelEntry{owner: owner, cancel: cancel}
}

func (r *canceller) pop(dpid uint64) (cancel context.CancelFunc, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.elems[dpid]
	if !ok {
		return nil, false
	}
	delete(r.elems, dpid)

	return e.cancel, true
}

// remove drops the entry of dpid only if owner pushed it.
func (r *canceller) remove(dpid, owner uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.elems[dpid]; ok && e.owner == owner {
		delete(r.elems, dpid)
	}
}
