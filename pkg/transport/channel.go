// SPDX-FileCopyrightText: 2025 The spinscp-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package transport

import (
	"time"

	"github.com/spinscp/spinscp-go/pkg/scp"
)

// channel is one slot of the outstanding window. Its state is owned by the
// engine goroutine exclusively.
//
// A channel moves Idle -> Sending -> Waiting and back to Idle. While a
// transmit job is with the sender goroutine, sendInFlight is set and the
// channel must not be completed or reused: the settled flag records a
// terminal result which is delivered once the send has been accounted for.
type channel struct {
	idx int

	active       bool
	sendInFlight bool
	settled      bool
	nTries       int
	seq          uint16

	packet    []byte // owned serialised request, stamped with seq
	respBuf   []byte
	nArgsResp int
	cb        SCPCallback

	// Terminal result stored while a send is still in flight.
	pendingErr  error
	pendingResp *scp.Response

	timer    *time.Timer
	timerGen uint64
}

// arm starts the one-shot retransmission timer. Stale fires are filtered by
// the generation counter, so a fired timer that lost the race against stop
// is harmless.
func (ch *channel) arm(d time.Duration, fire func(idx int, gen uint64)) {
	ch.timerGen++
	gen := ch.timerGen
	idx := ch.idx
	ch.timer = time.AfterFunc(d, func() {
		fire(idx, gen)
	})
}

// stop invalidates and cancels any pending timer.
func (ch *channel) stop() {
	ch.timerGen++
	if ch.timer != nil {
		ch.timer.Stop()
		ch.timer = nil
	}
}

// reset returns the channel to Idle, dropping every per-request field.
func (ch *channel) reset() {
	ch.active = false
	ch.settled = false
	ch.nTries = 0
	ch.packet = nil
	ch.respBuf = nil
	ch.nArgsResp = 0
	ch.cb = nil
	ch.pendingErr = nil
	ch.pendingResp = nil
}
