// SPDX-FileCopyrightText: 2025 The spinscp-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package transport

import (
	"sync"

	"github.com/spinscp/spinscp-go/pkg/scp"
)

// BulkCallback receives a bulk transfer's single completion. On success data
// is the caller's full buffer; for reads it then holds the bytes fetched
// from the machine. When segments failed, err is the first error observed.
type BulkCallback func(err error, data []byte)

// Read fetches len(buf) bytes of the machine's memory starting at addr into
// buf. The transfer is segmented into SCP read commands of at most
// SCPDataLength bytes each; segments may complete out of order, which is
// safe because their destination ranges are disjoint.
func (c *Connection) Read(dest CoreAddr, addr uint32, buf []byte, cb BulkCallback) {
	newBulkTransfer(c, dest, addr, buf, false, cb).start()
}

// Write stores buf into the machine's memory starting at addr, segmented
// like Read.
func (c *Connection) Write(dest CoreAddr, addr uint32, buf []byte, cb BulkCallback) {
	newBulkTransfer(c, dest, addr, buf, true, cb).start()
}

// bulkTransfer tracks one segmented read or write. Segment callbacks arrive
// on the engine goroutine while the initial burst is issued from the
// caller's, so the progress fields are guarded by a mutex.
type bulkTransfer struct {
	conn  *Connection
	dest  CoreAddr
	write bool
	addr  uint32
	buf   []byte
	cb    BulkCallback

	mu          sync.Mutex
	offset      int // next byte to schedule
	outstanding int // segments in flight on the transport
	firstErr    error
	finished    bool
}

func newBulkTransfer(c *Connection, dest CoreAddr, addr uint32, buf []byte, write bool, cb BulkCallback) *bulkTransfer {
	return &bulkTransfer{
		conn:  c,
		dest:  dest,
		write: write,
		addr:  addr,
		buf:   buf,
		cb:    cb,
	}
}

func (t *bulkTransfer) start() {
	if len(t.buf) == 0 {
		go t.cb(nil, t.buf)
		return
	}

	t.mu.Lock()
	t.issueLocked()
	t.mu.Unlock()
}

// issueLocked schedules segments up to the connection's window. The
// transport queues beyond that anyway, but bounding the issue rate here
// keeps a huge transfer from materialising thousands of requests at once.
func (t *bulkTransfer) issueLocked() {
	for t.firstErr == nil && t.outstanding < t.conn.opts.NOutstanding && t.offset < len(t.buf) {
		segLen := t.conn.opts.SCPDataLength
		if rest := len(t.buf) - t.offset; rest < segLen {
			segLen = rest
		}
		segOff := t.offset
		t.offset += segLen
		t.outstanding++

		addr := t.addr + uint32(segOff)
		mode := accessMode(addr, uint32(segLen))
		seg := t.buf[segOff : segOff+segLen]

		if t.write {
			t.conn.SendSCP(t.dest, scp.CmdWrite, 3, 0,
				addr, uint32(segLen), mode, seg, nil, t.segmentDone)
		} else {
			t.conn.SendSCP(t.dest, scp.CmdRead, 3, 0,
				addr, uint32(segLen), mode, nil, seg, t.segmentDone)
		}
	}
}

// segmentDone accounts for one finished segment. After a failure the
// remaining in-flight segments still complete here so the transport can
// recycle their channels, but their results are discarded; the caller sees
// the first error only.
func (t *bulkTransfer) segmentDone(err error, resp *scp.Response) {
	t.mu.Lock()

	t.outstanding--

	if err == nil && resp.CmdRC != scp.CmdOK {
		err = &RemoteError{Code: resp.CmdRC}
	}
	if err != nil && t.firstErr == nil {
		t.firstErr = err
	}

	t.issueLocked()

	done := !t.finished && t.outstanding == 0 &&
		(t.firstErr != nil || t.offset >= len(t.buf))
	if done {
		t.finished = true
	}
	firstErr := t.firstErr

	t.mu.Unlock()

	if done {
		t.cb(firstErr, t.buf)
	}
}

// accessMode picks the widest memory access type the alignment of address
// and length permits.
func accessMode(addr, length uint32) uint32 {
	switch {
	case (addr|length)%4 == 0:
		return scp.AccessWord
	case (addr|length)%2 == 0:
		return scp.AccessHalf
	default:
		return scp.AccessByte
	}
}
