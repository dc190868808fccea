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
	"time"

	lru "github.com/hashicorp/golang-lru"
)

// natCache remembers the connections whose NAT rules were installed recently
// so a retransmitted SYN does not install the same pair again.
type natCache struct {
	cache      *lru.Cache
	expiration time.Duration
	now        func() time.Time
}

func newNATCache(size int, expiration time.Duration) *natCache {
	c, err := lru.New(size)
	if err != nil {
		panic(fmt.Sprintf("failed to init a LRU NAT cache: %v", err))
	}

	return &natCache{
		cache:      c,
		expiration: expiration,
		now:        time.Now,
	}
}

func natKey(inPort uint16, srcHW net.HardwareAddr, srcIP net.IP, srcPort uint16) string {
	return fmt.Sprintf("%v/%v/%v/%v", inPort, srcHW, srcIP, srcPort)
}

func (r *natCache) Add(key string) {
	t := r.now()
	// Update if the key already exists.
	r.cache.Add(key, t)
	logger.Debugf("added a new NAT cache: key=%v, timestamp=%v", key, t)
}

func (r *natCache) Installed(key string) bool {
	v, ok := r.cache.Get(key)
	if !ok {
		return false
	}
	timestamp := v.(time.Time)

	// Timeout?
	if r.now().Sub(timestamp) > r.expiration {
		r.cache.Remove(key)
		logger.Debugf("removed the timed-out NAT cache: key=%v", key)
		return false
	}

	return true
}

func (r *natCache) RemoveAll() {
	r.cache.Purge()
	logger.Debug("removed all the NAT caches")
}
