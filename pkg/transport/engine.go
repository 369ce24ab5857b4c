// SPDX-FileCopyrightText: 2025 The spinscp-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package transport

import (
	log "github.com/sirupsen/logrus"

	rp "github.com/Clouded-Sabre/ringpool/lib"

	"github.com/spinscp/spinscp-go/pkg/scp"
)

// engine is the single goroutine owning all channel and queue state. Every
// user callback is invoked from here, which serialises them without locks.
func (c *Connection) engine() {
	for {
		select {
		case <-c.kick:
			c.processQueue()

		case elem := <-c.rx:
			c.handleDatagram(elem)

		case res := <-c.sendDone:
			c.handleSendDone(res)

		case tf := <-c.timerCh:
			c.handleTimer(tf)

		case <-c.freeCh:
			c.beginFree()
		}

		if c.freeing && c.quiesced() {
			c.finishFree()
			return
		}
	}
}

// processQueue moves requests from the queue into idle channels until one of
// the two runs out.
func (c *Connection) processQueue() {
	for !c.freeing {
		ch := c.idleChannel()
		if ch == nil {
			return
		}
		r, ok := c.queue.pop()
		if !ok {
			return
		}
		c.dispatch(ch, r)
	}
}

func (c *Connection) idleChannel() *channel {
	for _, ch := range c.channels {
		if !ch.active && !ch.sendInFlight {
			return ch
		}
	}
	return nil
}

// allocSeq returns the next sequence number not held by any active channel.
// The window is far smaller than the 16-bit sequence space, so the probe
// always terminates.
func (c *Connection) allocSeq() uint16 {
	for {
		seq := c.nextSeq
		c.nextSeq++

		inUse := false
		for _, ch := range c.channels {
			if ch.active && ch.seq == seq {
				inUse = true
				break
			}
		}
		if !inUse {
			return seq
		}
	}
}

// dispatch binds a request to an idle channel and starts transmitting.
func (c *Connection) dispatch(ch *channel, r *request) {
	seq := c.allocSeq()
	pkt := r.encode()
	scp.PutSeq(pkt, seq)

	ch.active = true
	ch.settled = false
	ch.nTries = 0
	ch.seq = seq
	ch.packet = pkt
	ch.respBuf = r.respBuf
	ch.nArgsResp = r.nArgsResp
	ch.cb = r.cb

	log.WithFields(log.Fields{
		"seq":     seq,
		"cmd":     r.cmd,
		"channel": ch.idx,
	}).Debug("Dispatching SCP request")

	c.attemptTransmission(ch)
}

// attemptTransmission spends one try of the channel's retry budget. Once the
// budget is gone the request fails with ErrTimeout.
func (c *Connection) attemptTransmission(ch *channel) {
	if !ch.active {
		return
	}

	ch.nTries++
	if ch.nTries > c.opts.NTries {
		log.WithFields(log.Fields{
			"seq":     ch.seq,
			"n-tries": c.opts.NTries,
		}).Warn("SCP request timed out")

		c.settleChannel(ch, ErrTimeout, nil)
		return
	}

	ch.sendInFlight = true
	c.inFlight++
	c.sendJobs <- sendJob{idx: ch.idx, packet: ch.packet}
}

// settleChannel records a channel's terminal result. If a send is still in
// flight the result is parked until the sender has accounted for the packet
// buffer; otherwise the channel completes immediately.
func (c *Connection) settleChannel(ch *channel, err error, resp *scp.Response) {
	ch.stop()

	if ch.sendInFlight {
		ch.settled = true
		ch.pendingErr = err
		ch.pendingResp = resp
		return
	}

	c.completeChannel(ch, err, resp)
}

// completeChannel fires the terminal callback, returns the channel to Idle
// and admits queued work. Must only be called with no send in flight.
func (c *Connection) completeChannel(ch *channel, err error, resp *scp.Response) {
	ch.stop()

	cb := ch.cb
	ch.reset()

	if cb != nil {
		cb(err, resp)
	}

	c.processQueue()
}

// handleSendDone processes the sender's account of one transmission.
func (c *Connection) handleSendDone(res sendResult) {
	ch := c.channels[res.idx]
	ch.sendInFlight = false
	c.inFlight--

	switch {
	case ch.active && ch.settled:
		// The terminal result was parked awaiting this send.
		c.completeChannel(ch, ch.pendingErr, ch.pendingResp)

	case !ch.active:
		// Nothing to do; the engine quiesces on the loop's tail check.

	case res.err != nil:
		log.WithFields(log.Fields{
			"seq":   ch.seq,
			"error": res.err,
		}).Warn("SCP send errored")

		c.completeChannel(ch, &TransportError{Err: res.err}, nil)

	default:
		// The packet is on the wire; await the response.
		ch.arm(c.opts.Timeout, c.timerFired)
	}
}

// timerFired runs on the timer goroutine and posts the expiry to the engine.
func (c *Connection) timerFired(idx int, gen uint64) {
	select {
	case c.timerCh <- timerFire{idx: idx, gen: gen}:
	case <-c.done:
	}
}

func (c *Connection) handleTimer(tf timerFire) {
	ch := c.channels[tf.idx]
	if !ch.active || ch.settled || tf.gen != ch.timerGen {
		return
	}

	log.WithFields(log.Fields{
		"seq": ch.seq,
		"try": ch.nTries,
	}).Debug("SCP response timed out, retransmitting")

	c.attemptTransmission(ch)
}

// handleDatagram demultiplexes a received datagram onto the channel whose
// sequence number matches. Short, unmatched or otherwise stray datagrams are
// dropped silently.
func (c *Connection) handleDatagram(elem *rp.Element) {
	defer c.pool.ReturnElement(elem)

	payload := elem.Data.(*datagram).bytes()
	seq, ok := scp.Seq(payload)
	if !ok {
		return
	}

	for _, ch := range c.channels {
		if !ch.active || ch.settled || ch.seq != seq {
			continue
		}

		resp, err := scp.ParseResponse(payload, ch.nArgsResp)
		if err != nil {
			return
		}

		// The receive buffer is recycled, so the data payload moves into
		// the caller's response buffer now.
		n := copy(ch.respBuf, resp.Data)
		resp.Data = ch.respBuf[:n]

		c.settleChannel(ch, nil, &resp)
		return
	}
}

// beginFree cancels everything pending. Queued requests fail immediately;
// active channels settle with ErrCancelled, deferring past any in-flight
// send as usual.
func (c *Connection) beginFree() {
	if c.freeing {
		return
	}
	c.freeing = true

	log.WithField("remote", c.remote).Info("Freeing SCP connection")

	for _, r := range c.queue.close() {
		if r.cb != nil {
			r.cb(ErrCancelled, nil)
		}
	}

	for _, ch := range c.channels {
		if ch.active && !ch.settled {
			c.settleChannel(ch, ErrCancelled, nil)
		}
	}
}

// quiesced reports whether teardown may finish: no channel active and no
// send with the sender goroutine.
func (c *Connection) quiesced() bool {
	if c.inFlight != 0 {
		return false
	}
	for _, ch := range c.channels {
		if ch.active {
			return false
		}
	}
	return true
}

// finishFree releases the endpoint and stops the helper goroutines.
func (c *Connection) finishFree() {
	c.closing.Store(true)
	c.closeErr = c.udp.Close()
	close(c.sendJobs)

	log.WithField("remote", c.remote).Info("SCP connection freed")

	close(c.done)
}
