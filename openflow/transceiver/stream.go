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

package transceiver

import (
	"bufio"
	"encoding/binary"
	"io"
	"net"
	"sync"
	"time"

	"github.com/sdnlab/vnetd/openflow"
)

const headerLength = 8

type deadline interface {
	SetReadDeadline(time.Time) error
	SetWriteDeadline(time.Time) error
}

// Stream frames OpenFlow messages on top of a buffered connection.
type Stream struct {
	conn io.ReadWriteCloser

	rmu          sync.Mutex
	rd           *bufio.Reader
	readTimeout  time.Duration
	wmu          sync.Mutex
	writeTimeout time.Duration
}

func NewStream(conn io.ReadWriteCloser, bufSize int) *Stream {
	return &Stream{
		conn: conn,
		rd:   bufio.NewReaderSize(conn, bufSize),
	}
}

func (r *Stream) RemoteAddr() string {
	v, ok := r.conn.(interface{ RemoteAddr() net.Addr })
	if !ok {
		return "unknown"
	}

	return v.RemoteAddr().String()
}

func (r *Stream) SetReadTimeout(t time.Duration) {
	r.rmu.Lock()
	defer r.rmu.Unlock()

	r.readTimeout = t
}

func (r *Stream) SetWriteTimeout(t time.Duration) {
	r.wmu.Lock()
	defer r.wmu.Unlock()

	r.writeTimeout = t
}

// ReadFrame reads exactly one OpenFlow message. A timeout error leaves any
// partially received message in the buffer so the next call can resume it.
func (r *Stream) ReadFrame() ([]byte, error) {
	r.rmu.Lock()
	defer r.rmu.Unlock()

	r.setDeadline(func(d deadline, t time.Time) error { return d.SetReadDeadline(t) }, r.readTimeout)

	header, err := r.rd.Peek(headerLength)
	if err != nil {
		return nil, err
	}
	length := int(binary.BigEndian.Uint16(header[2:4]))
	if length < headerLength {
		return nil, openflow.ErrInvalidPacketLength
	}
	// Wait until the whole message is buffered.
	if _, err := r.rd.Peek(length); err != nil {
		return nil, err
	}

	frame := make([]byte, length)
	if _, err := io.ReadFull(r.rd, frame); err != nil {
		return nil, err
	}

	return frame, nil
}

func (r *Stream) Write(p []byte) (n int, err error) {
	r.wmu.Lock()
	defer r.wmu.Unlock()

	r.setDeadline(func(d deadline, t time.Time) error { return d.SetWriteDeadline(t) }, r.writeTimeout)
	return r.conn.Write(p)
}

func (r *Stream) setDeadline(set func(deadline, time.Time) error, timeout time.Duration) {
	d, ok := r.conn.(deadline)
	if !ok {
		return
	}

	t := time.Time{}
	if timeout > 0 {
		t = time.Now().Add(timeout)
	}
	if err := set(d, t); err != nil {
		logger.Debugf("failed to set I/O deadline: %v", err)
	}
}

func (r *Stream) Close() error {
	return r.conn.Close()
}
