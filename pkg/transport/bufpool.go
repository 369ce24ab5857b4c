// SPDX-FileCopyrightText: 2025 The spinscp-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package transport

import (
	log "github.com/sirupsen/logrus"

	rp "github.com/Clouded-Sabre/ringpool/lib"
)

// datagram is one recycled receive buffer. Buffers are handed from the
// receiver goroutine to the engine and returned to the pool after the
// response has been dispatched, so the hot receive path allocates nothing.
type datagram struct {
	buf []byte
	n   int
}

// newDatagram creates a pool element; params[0] is the buffer capacity.
func newDatagram(params ...interface{}) rp.DataInterface {
	if len(params) != 1 {
		log.Error("newDatagram: expected a single buffer-length parameter")
		return nil
	}
	length, ok := params[0].(int)
	if !ok {
		log.Error("newDatagram: buffer-length parameter must be an int")
		return nil
	}

	return &datagram{buf: make([]byte, length)}
}

func (d *datagram) Reset() {
	d.n = 0
}

func (d *datagram) PrintContent() {
	log.Debugf("datagram: %x", d.buf[:d.n])
}

// bytes is the received slice of the buffer.
func (d *datagram) bytes() []byte {
	return d.buf[:d.n]
}

// newReceivePool sizes a ring pool so it cannot run dry: one element held by
// the receiver, up to rxBacklog queued for the engine, one being dispatched.
func newReceivePool(bufLen, rxBacklog int) *rp.RingPool {
	return rp.NewRingPool("scp rx: ", rxBacklog+4, newDatagram, bufLen)
}
