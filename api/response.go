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
	"errors"

	"github.com/sdnlab/vnetd/network"
)

/*
 * Status Codes:
 *
 * 200 = Okay.
 * 4xx = Client-side errors.
 * 5xx = Server-side errors.
 */
type Status int

const (
	StatusOkay = 200

	StatusInvalidParameter = 400
	StatusDuplicated       = 404
	StatusNotFound         = 405

	StatusInternalServerError = 500
	StatusServiceUnavailable  = 501
)

type Response struct {
	Status  Status      `json:"status"`
	Message string      `json:"message,omitempty"` // Human readable message related with the status code.
	Data    interface{} `json:"data,omitempty"`
}

// errorStatus maps a controller error to the status code reported to the client.
func errorStatus(err error) Status {
	switch {
	case errors.Is(err, network.ErrUnknownSwitch),
		errors.Is(err, network.ErrUnknownNetwork),
		errors.Is(err, network.ErrUnknownInstance):
		return StatusNotFound
	case errors.Is(err, network.ErrDuplicatedNetwork):
		return StatusDuplicated
	case errors.Is(err, network.ErrNoBridge):
		return StatusServiceUnavailable
	default:
		return StatusInvalidParameter
	}
}
