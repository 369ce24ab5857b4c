// SPDX-FileCopyrightText: 2025 The spinscp-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package transport

import (
	"sync"

	"github.com/spinscp/spinscp-go/pkg/scp"
)

// request is a logical call which has not yet been assigned an outstanding
// channel.
type request struct {
	dest      CoreAddr
	cmd       uint16
	nArgsReq  int
	nArgsResp int
	arg1      uint32
	arg2      uint32
	arg3      uint32
	data      []byte
	respBuf   []byte
	cb        SCPCallback
}

func (r *request) encode() []byte {
	return scp.Packet{
		DestChip: r.dest.Chip,
		DestCPU:  r.dest.CPU,
		Cmd:      r.cmd,
		NArgs:    r.nArgsReq,
		Arg1:     r.arg1,
		Arg2:     r.arg2,
		Arg3:     r.arg3,
		Data:     r.data,
	}.Encode()
}

// requestQueue is the FIFO of requests waiting for a free channel. It is
// unbounded; callers are responsible for flow control if they need it.
// Producers push from arbitrary goroutines, the engine pops.
type requestQueue struct {
	mu     sync.Mutex
	items  []*request
	closed bool
}

// push appends a request. It reports false once the queue has been closed
// by connection teardown, in which case the caller owns the request again.
func (q *requestQueue) push(r *request) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.items = append(q.items, r)
	return true
}

// pop removes the oldest request, if any.
func (q *requestQueue) pop() (*request, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil, false
	}
	r := q.items[0]
	q.items = q.items[1:]
	return r, true
}

// close marks the queue as closed and returns everything still pending so
// the caller can fail each request exactly once.
func (q *requestQueue) close() []*request {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
	items := q.items
	q.items = nil
	return items
}

func (q *requestQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.items)
}
