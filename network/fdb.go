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
	"fmt"
	"net"
	"sort"

	lru "github.com/hashicorp/golang-lru"
)

// ForwardingDatabase learns which port a MAC address was last seen on.
// The least recently used entry is evicted when the database is full.
type ForwardingDatabase struct {
	cache *lru.Cache
}

type ForwardingEntry struct {
	HWAddr string `json:"mac"`
	Port   uint16 `json:"port"`
}

func NewForwardingDatabase(size int) (*ForwardingDatabase, error) {
	c, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("failed to init a forwarding database: %v", err)
	}

	return &ForwardingDatabase{cache: c}, nil
}

// Learn records that mac was seen on port. The latest observation wins.
func (r *ForwardingDatabase) Learn(mac net.HardwareAddr, port uint16) {
	key := mac.String()
	if v, ok := r.cache.Peek(key); ok && v.(uint16) == port {
		// Refresh the recency only.
		r.cache.Get(key)
		return
	}
	r.cache.Add(key, port)
	logger.Debugf("learned a MAC address: mac=%v, port=%v", key, port)
}

func (r *ForwardingDatabase) PortOf(mac net.HardwareAddr) (port uint16, ok bool) {
	v, ok := r.cache.Get(mac.String())
	if !ok {
		return 0, false
	}

	return v.(uint16), true
}

// Forget removes every entry pointing to port.
func (r *ForwardingDatabase) Forget(port uint16) {
	for _, k := range r.cache.Keys() {
		if v, ok := r.cache.Peek(k); ok && v.(uint16) == port {
			r.cache.Remove(k)
		}
	}
}

// Entries returns a snapshot of the database sorted by MAC address.
func (r *ForwardingDatabase) Entries() []ForwardingEntry {
	result := make([]ForwardingEntry, 0, r.cache.Len())
	for _, k := range r.cache.Keys() {
		v, ok := r.cache.Peek(k)
		if !ok {
			continue
		}
		result = append(result, ForwardingEntry{HWAddr: k.(string), Port: v.(uint16)})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].HWAddr < result[j].HWAddr })

	return result
}
