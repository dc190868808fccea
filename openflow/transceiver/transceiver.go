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
	"context"
	"encoding"
	"encoding/binary"
	"time"

	"github.com/sdnlab/vnetd/openflow"

	"github.com/op/go-logging"
	"github.com/pkg/errors"
)

var (
	logger = logging.MustGetLogger("transceiver")
)

const (
	// Allowed idle time before we send an echo request to a switch.
	maxIdleTime = 10 * time.Second
	// I/O timeouts (These timeouts should be less than maxIdleTime).
	readTimeout  = 1 * time.Second
	writeTimeout = readTimeout * 2
	// Unanswered echo requests before we give up on the switch.
	maxPendingEcho = 3
	// Time limit to receive the first HELLO.
	helloTimeout = 30 * time.Second
)

type Writer interface {
	Write(msg encoding.BinaryMarshaler) error
}

// Handler receives decoded messages of a connection. Calls are never concurrent.
// A returned error closes the connection unless it is temporary.
type Handler interface {
	OnHello(Writer, *openflow.Hello) error
	OnError(Writer, *openflow.Error) error
	OnFeaturesReply(Writer, *openflow.FeaturesReply) error
	OnPortStatus(Writer, *openflow.PortStatus) error
	OnPacketIn(Writer, *openflow.PacketIn) error
}

type Transceiver struct {
	stream      *Stream
	observer    Handler
	pingCounter uint
	closed      bool
}

func NewTransceiver(stream *Stream, handler Handler) *Transceiver {
	if stream == nil {
		panic("stream is nil")
	}
	if handler == nil {
		panic("handler is nil")
	}

	return &Transceiver{
		stream:   stream,
		observer: handler,
	}
}

func isTimeout(err error) bool {
	v, ok := errors.Cause(err).(interface{ Timeout() bool })
	return ok && v.Timeout()
}

func isTemporaryErr(err error) bool {
	e, ok := errors.Cause(err).(interface{ Temporary() bool })
	return ok && e.Temporary()
}

// Run blocks until the connection is closed or ctx is done.
func (r *Transceiver) Run(ctx context.Context) error {
	defer logger.Infof("transceiver for %v is closed", r.stream.RemoteAddr())
	r.stream.SetReadTimeout(readTimeout)
	r.stream.SetWriteTimeout(writeTimeout)

	readerCtx, cancelReader := context.WithCancel(ctx)
	defer cancelReader()
	reader := r.runReader(readerCtx)

	packet, err := r.waitHello(ctx, reader)
	if err != nil {
		return err
	}

	for {
		if err := r.dispatch(packet); err != nil {
			if !isTemporaryErr(err) {
				return err
			}
			logger.Errorf("failed to dispatch the packet: %v", err)
		}

		var ok bool
		select {
		case <-ctx.Done():
			return nil
		case packet, ok = <-reader:
			if !ok {
				logger.Info("the reader channel is closed")
				return nil
			}
		}
	}
}

func (r *Transceiver) waitHello(ctx context.Context, reader <-chan []byte) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, errors.New("context done")
	case <-time.After(helloTimeout):
		return nil, errors.New("inactive for too long")
	case packet, ok := <-reader:
		if !ok {
			return nil, errors.New("the reader channel is closed")
		}
		// The first message should be HELLO.
		if packet[1] != openflow.OFPT_HELLO {
			return nil, errors.New("missing HELLO message")
		}
		if packet[0] < openflow.Version {
			return nil, openflow.ErrUnsupportedVersion
		}

		return packet, nil
	}
}

func (r *Transceiver) runReader(ctx context.Context) <-chan []byte {
	c := make(chan []byte, 4096)
	go func() {
		// Closing c tells Run that the connection has gone.
		defer close(c)

		lastActivated := time.Now()
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			packet, err := r.stream.ReadFrame()
			if err != nil {
				if !isTimeout(err) {
					logger.Errorf("failed to read the next packet: %v", err)
					return
				}
				if time.Since(lastActivated) > maxIdleTime {
					if err := r.sendEchoRequest(); err != nil {
						logger.Errorf("failed to send an echo request: %v", err)
						return
					}
					lastActivated = time.Now()
				}
				continue
			}
			lastActivated = time.Now()

			ok, err := r.handleEcho(packet)
			if err != nil {
				logger.Errorf("failed to handle the echo message: %v", err)
				return
			}
			if ok {
				continue
			}

			select {
			case c <- packet:
			default:
				logger.Error("transceiver buffer full: drop the incoming packet!")
			}
		}
	}()

	return c
}

func (r *Transceiver) sendEchoRequest() error {
	if r.pingCounter >= maxPendingEcho {
		return errors.New("switch does not respond to our echo request")
	}

	echo := openflow.NewEchoRequest(openflow.NewTransactionID())
	// The timestamp tells us the round trip time when the reply comes back.
	timestamp, err := time.Now().GobEncode()
	if err != nil {
		return err
	}
	echo.Data = timestamp

	if err := r.Write(echo); err != nil {
		return errors.Wrap(err, "failed to send ECHO_REQUEST message")
	}
	r.pingCounter++

	return nil
}

func (r *Transceiver) handleEcho(packet []byte) (ok bool, err error) {
	switch packet[1] {
	case openflow.OFPT_ECHO_REQUEST:
		msg := new(openflow.Echo)
		if err := msg.UnmarshalBinary(packet); err != nil {
			return true, err
		}
		reply := openflow.NewEchoReply(msg.TransactionID())
		reply.Data = msg.Data
		if err := r.Write(reply); err != nil {
			return true, errors.Wrap(err, "failed to send ECHO_REPLY message")
		}
		return true, nil
	case openflow.OFPT_ECHO_REPLY:
		msg := new(openflow.Echo)
		if err := msg.UnmarshalBinary(packet); err != nil {
			return true, err
		}
		timestamp := time.Time{}
		if err := timestamp.GobDecode(msg.Data); err == nil {
			logger.Debugf("echo latency to %v: %v", r.stream.RemoteAddr(), time.Since(timestamp))
		}
		r.pingCounter = 0
		return true, nil
	default:
		return false, nil
	}
}

func (r *Transceiver) dispatch(packet []byte) error {
	// Switches may advertise a higher version in HELLO. We always answer with ours.
	if packet[1] == openflow.OFPT_HELLO {
		return r.observer.OnHello(r, openflow.NewHello(binary.BigEndian.Uint32(packet[4:8])))
	}
	if packet[0] != openflow.Version {
		return openflow.ErrUnsupportedVersion
	}

	switch packet[1] {
	case openflow.OFPT_ERROR:
		msg := new(openflow.Error)
		if err := msg.UnmarshalBinary(packet); err != nil {
			return err
		}
		return r.observer.OnError(r, msg)
	case openflow.OFPT_FEATURES_REPLY:
		msg := new(openflow.FeaturesReply)
		if err := msg.UnmarshalBinary(packet); err != nil {
			return err
		}
		return r.observer.OnFeaturesReply(r, msg)
	case openflow.OFPT_PORT_STATUS:
		msg := new(openflow.PortStatus)
		if err := msg.UnmarshalBinary(packet); err != nil {
			return err
		}
		return r.observer.OnPortStatus(r, msg)
	case openflow.OFPT_PACKET_IN:
		msg := new(openflow.PacketIn)
		if err := msg.UnmarshalBinary(packet); err != nil {
			return err
		}
		return r.observer.OnPacketIn(r, msg)
	default:
		logger.Debugf("ignoring unsupported message type %v", packet[1])
		return nil
	}
}

func (r *Transceiver) Write(msg encoding.BinaryMarshaler) error {
	packet, err := msg.MarshalBinary()
	if err != nil {
		return err
	}
	if _, err := r.stream.Write(packet); err != nil {
		return err
	}

	return nil
}

func (r *Transceiver) Close() error {
	if r.closed {
		return nil
	}
	if err := r.stream.Close(); err != nil {
		return err
	}
	r.closed = true

	return nil
}
