// SPDX-FileCopyrightText: 2025 The spinscp-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package transport drives the retransmitting, windowed SCP request/response
// protocol against a SpiNNaker machine over UDP. It hides packetisation,
// sequence numbers, windowing, retransmission, reordering and response
// dispatch behind a small asynchronous API.
package transport

import (
	"net"
	"sync"
	"sync/atomic"

	log "github.com/sirupsen/logrus"

	rp "github.com/Clouded-Sabre/ringpool/lib"
	"github.com/pkg/errors"

	"github.com/spinscp/spinscp-go/pkg/scp"
)

// CoreAddr identifies a core on the machine: the packed 16-bit chip address
// (X in the high byte, Y in the low byte) and the CPU number.
type CoreAddr struct {
	Chip uint16
	CPU  uint8
}

// SCPCallback receives a request's single terminal result. err is non-nil
// for timeout, transport and cancellation failures only; a response with
// cmd_rc != scp.CmdOK is delivered with err == nil and the code in resp, so
// callers must inspect resp.CmdRC themselves.
//
// Callbacks run serialised on the connection's engine goroutine. They may
// issue new requests or call Free, but must not block and must not call
// Close. The callback of a request made after Free is the exception: it runs
// on a goroutine of its own and is not serialised with the engine.
type SCPCallback func(err error, resp *scp.Response)

// sendJob hands an encoded packet to the sender goroutine. While a job is
// with the sender, the originating channel counts as send-in-flight.
type sendJob struct {
	idx    int
	packet []byte
}

// sendResult reports the outcome of one socket write.
type sendResult struct {
	idx int
	err error
}

// timerFire reports a retransmission timer expiry.
type timerFire struct {
	idx int
	gen uint64
}

// Connection is one SCP connection to a machine. All engine state (the
// channel pool, the sequence counter, the freeing flag) is owned by the
// engine goroutine; public methods communicate with it through channels and,
// apart from Close, never block.
type Connection struct {
	udp    *net.UDPConn
	remote *net.UDPAddr
	opts   Options

	queue requestQueue
	pool  *rp.RingPool

	// Engine-owned state.
	channels []*channel
	nextSeq  uint16
	freeing  bool
	inFlight int

	kick     chan struct{}
	rx       chan *rp.Element
	sendJobs chan sendJob
	sendDone chan sendResult
	timerCh  chan timerFire
	freeCh   chan struct{}

	freeOnce sync.Once
	closing  atomic.Bool
	done     chan struct{}
	closeErr error
}

// Dial opens a connection to the SCP endpoint at remote. The machine speaks
// IPv4 only. All parameters are fixed for the connection's lifetime.
func Dial(remote *net.UDPAddr, opts Options) (*Connection, error) {
	if err := opts.checkValid(); err != nil {
		return nil, errors.Wrap(err, "invalid connection options")
	}

	udp, err := net.DialUDP("udp4", nil, remote)
	if err != nil {
		return nil, errors.Wrap(err, "dialling SCP endpoint")
	}

	backlog := opts.NOutstanding + 4
	c := &Connection{
		udp:    udp,
		remote: remote,
		opts:   opts,

		pool: newReceivePool(scp.HeaderLen+4*scp.MaxArgs+opts.SCPDataLength, backlog),

		kick:     make(chan struct{}, 1),
		rx:       make(chan *rp.Element, backlog),
		sendJobs: make(chan sendJob, opts.NOutstanding),
		sendDone: make(chan sendResult, opts.NOutstanding),
		timerCh:  make(chan timerFire, opts.NOutstanding),
		freeCh:   make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	for i := 0; i < opts.NOutstanding; i++ {
		c.channels = append(c.channels, &channel{idx: i})
	}

	go c.engine()
	go c.sender()
	go c.receiver()

	log.WithFields(log.Fields{
		"remote":        remote,
		"local":         udp.LocalAddr(),
		"n-outstanding": opts.NOutstanding,
		"timeout":       opts.Timeout,
	}).Info("SCP connection established")

	return c, nil
}

// SendSCP enqueues a logical SCP request and returns immediately. The data
// payload must be at most the connection's SCPDataLength; nArgsReq selects
// how many of a1..a3 are transmitted and nArgsResp how many argument words
// the response is expected to carry. Response data is copied into respBuf,
// which may be nil if no data is expected.
func (c *Connection) SendSCP(dest CoreAddr, cmd uint16, nArgsReq, nArgsResp int,
	a1, a2, a3 uint32, data, respBuf []byte, cb SCPCallback) {

	r := &request{
		dest:      dest,
		cmd:       cmd,
		nArgsReq:  nArgsReq,
		nArgsResp: nArgsResp,
		arg1:      a1,
		arg2:      a2,
		arg3:      a3,
		data:      data,
		respBuf:   respBuf,
		cb:        cb,
	}

	if !c.queue.push(r) {
		// The connection was freed; fail the request like every other
		// pending one, off the caller's goroutine.
		if cb != nil {
			go cb(ErrCancelled, nil)
		}
		return
	}
	c.wake()
}

// wake nudges the engine to look at the request queue.
func (c *Connection) wake() {
	select {
	case c.kick <- struct{}{}:
	default:
	}
}

// Free initiates shutdown: every queued and in-flight request completes with
// ErrCancelled and the UDP endpoint is closed once in-flight sends have been
// accounted for. Free is idempotent, safe from any goroutine and returns
// before teardown finishes; await Done for completion.
func (c *Connection) Free() {
	c.freeOnce.Do(func() {
		c.freeCh <- struct{}{}
	})
}

// Done is closed once teardown has finished and all resources are released.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// Close frees the connection and blocks until teardown completes. Must not
// be called from a callback.
func (c *Connection) Close() error {
	c.Free()
	<-c.done
	return c.closeErr
}

// sender performs the socket writes on behalf of the engine. Serialising
// them here gives every transmission a well-defined in-flight window between
// job submission and result delivery.
func (c *Connection) sender() {
	for job := range c.sendJobs {
		_, err := c.udp.Write(job.packet)
		c.sendDone <- sendResult{idx: job.idx, err: err}
	}
}

// receiver blocks on the UDP socket and forwards datagrams to the engine in
// pooled buffers. Receive errors are not surfaced: their causes are opaque
// and retransmission papers over transient loss.
func (c *Connection) receiver() {
	for {
		elem := c.pool.GetElement()
		d := elem.Data.(*datagram)

		n, err := c.udp.Read(d.buf)
		if err != nil {
			c.pool.ReturnElement(elem)
			if c.closing.Load() {
				return
			}
			log.WithFields(log.Fields{
				"remote": c.remote,
				"error":  err,
			}).Debug("SCP receive errored, dropping")
			continue
		}
		d.n = n

		select {
		case c.rx <- elem:
		case <-c.done:
			c.pool.ReturnElement(elem)
			return
		}
	}
}
