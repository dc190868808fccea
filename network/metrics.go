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
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "vnetd"

var (
	packetInTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "packet_in_total",
		Help:      "Punted packets by kind.",
	}, []string{"kind"})
	repliesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "synthesized_replies_total",
		Help:      "ARP and DHCP replies sent by the controller.",
	}, []string{"kind"})
	flowsIssuedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "flows_issued_total",
		Help:      "Flow rules handed to the switch backend for installation.",
	})
	flowsRemovedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "flows_removed_total",
		Help:      "Flow rules handed to the switch backend for removal.",
	})
	backendErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "backend_errors_total",
		Help:      "Failed switch backend commands.",
	})
	switchesGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "switches",
		Help:      "Connected switches.",
	})
	portsGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "ports",
		Help:      "Active ports tracked over all switches.",
	})
)

func init() {
	prometheus.MustRegister(
		packetInTotal,
		repliesTotal,
		flowsIssuedTotal,
		flowsRemovedTotal,
		backendErrorsTotal,
		switchesGauge,
		portsGauge,
	)
}
