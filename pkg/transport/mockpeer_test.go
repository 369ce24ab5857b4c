// SPDX-FileCopyrightText: 2025 The spinscp-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package transport

import (
	"net"
	"sync"
	"testing"

	"github.com/spinscp/spinscp-go/pkg/scp"
)

// segRecord is one memory command observed by the peer.
type segRecord struct {
	addr   uint32
	length uint32
}

// mockPeer emulates an SC&MP endpoint on localhost. It answers version
// queries and keeps a byte-addressed memory image for read/write commands.
// Fault injection knobs cover the loss, reordering and failure scenarios.
type mockPeer struct {
	t   *testing.T
	udp *net.UDPConn

	mu       sync.Mutex
	mem      map[uint32]byte
	attempts map[uint16]int
	requests int
	segments []segRecord

	// Fault injection.
	dropAll      bool
	dropFirst    int    // drop this many attempts per sequence number
	failAddr     uint32 // answer memory commands at this address with failRC
	failRC       uint16
	reorderBatch int // buffer replies and flush each batch in reverse
	holdReplies  bool

	pending []heldReply
}

type heldReply struct {
	raddr *net.UDPAddr
	reply []byte
}

func newMockPeer(t *testing.T) *mockPeer {
	addr, err := net.ResolveUDPAddr("udp4", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	udp, err := net.ListenUDP("udp4", addr)
	if err != nil {
		t.Fatal(err)
	}

	p := &mockPeer{
		t:        t,
		udp:      udp,
		mem:      make(map[uint32]byte),
		attempts: make(map[uint16]int),
	}
	go p.serve()

	return p
}

func (p *mockPeer) addr() *net.UDPAddr {
	return p.udp.LocalAddr().(*net.UDPAddr)
}

func (p *mockPeer) close() {
	_ = p.udp.Close()
}

func (p *mockPeer) serve() {
	buf := make([]byte, 65536)
	for {
		n, raddr, err := p.udp.ReadFromUDP(buf)
		if err != nil {
			return
		}
		pkt := make([]byte, n)
		copy(pkt, buf[:n])
		p.handle(pkt, raddr)
	}
}

func (p *mockPeer) handle(pkt []byte, raddr *net.UDPAddr) {
	p.mu.Lock()
	defer p.mu.Unlock()

	req, err := scp.ParseResponse(pkt, scp.MaxArgs)
	if err != nil {
		return
	}

	p.requests++
	p.attempts[req.Seq]++

	if p.dropAll || p.attempts[req.Seq] <= p.dropFirst {
		return
	}

	// The request's command code travels in the cmd_rc slot.
	var reply []byte
	switch req.CmdRC {
	case scp.CmdVer:
		reply = buildReply(req.Seq, scp.CmdOK, 3,
			[scp.MaxArgs]uint32{0x00000000, 261 << 16, 0}, []byte("mock/SC&MP\x00"))

	case scp.CmdWrite:
		addr, length := req.Args[0], req.Args[1]
		p.segments = append(p.segments, segRecord{addr: addr, length: length})
		if p.failRC != 0 && addr == p.failAddr {
			reply = buildReply(req.Seq, p.failRC, 0, [scp.MaxArgs]uint32{}, nil)
			break
		}
		for i := uint32(0); i < length; i++ {
			p.mem[addr+i] = req.Data[i]
		}
		reply = buildReply(req.Seq, scp.CmdOK, 0, [scp.MaxArgs]uint32{}, nil)

	case scp.CmdRead:
		addr, length := req.Args[0], req.Args[1]
		p.segments = append(p.segments, segRecord{addr: addr, length: length})
		if p.failRC != 0 && addr == p.failAddr {
			reply = buildReply(req.Seq, p.failRC, 0, [scp.MaxArgs]uint32{}, nil)
			break
		}
		data := make([]byte, length)
		for i := range data {
			data[i] = p.mem[addr+uint32(i)]
		}
		reply = buildReply(req.Seq, scp.CmdOK, 0, [scp.MaxArgs]uint32{}, data)

	default:
		reply = buildReply(req.Seq, scp.CmdOK, 3, req.Args, nil)
	}

	if p.holdReplies {
		p.pending = append(p.pending, heldReply{raddr: raddr, reply: reply})
		return
	}

	if p.reorderBatch > 0 {
		p.pending = append(p.pending, heldReply{raddr: raddr, reply: reply})
		if len(p.pending) >= p.reorderBatch {
			for i := len(p.pending) - 1; i >= 0; i-- {
				p.send(p.pending[i])
			}
			p.pending = nil
		}
		return
	}

	p.send(heldReply{raddr: raddr, reply: reply})
}

// releaseOne flushes the oldest held reply.
func (p *mockPeer) releaseOne() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.pending) == 0 {
		p.t.Error("no held reply to release")
		return
	}
	p.send(p.pending[0])
	p.pending = p.pending[1:]
}

func (p *mockPeer) send(h heldReply) {
	if _, err := p.udp.WriteToUDP(h.reply, h.raddr); err != nil {
		p.t.Logf("mock peer send errored: %v", err)
	}
}

func (p *mockPeer) requestCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.requests
}

func (p *mockPeer) attemptCount(seq uint16) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.attempts[seq]
}

func (p *mockPeer) segmentRecords() []segRecord {
	p.mu.Lock()
	defer p.mu.Unlock()

	segs := make([]segRecord, len(p.segments))
	copy(segs, p.segments)
	return segs
}

func (p *mockPeer) memoryImage(addr uint32, length int) []byte {
	p.mu.Lock()
	defer p.mu.Unlock()

	img := make([]byte, length)
	for i := range img {
		img[i] = p.mem[addr+uint32(i)]
	}
	return img
}

func (p *mockPeer) setMemory(addr uint32, data []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, b := range data {
		p.mem[addr+uint32(i)] = b
	}
}

// buildReply serialises a response datagram. The rc takes the cmd_rc slot.
func buildReply(seq uint16, rc uint16, nArgs int, args [scp.MaxArgs]uint32, data []byte) []byte {
	reply := scp.Packet{
		Cmd:   rc,
		NArgs: nArgs,
		Arg1:  args[0],
		Arg2:  args[1],
		Arg3:  args[2],
		Data:  data,
	}.Encode()
	scp.PutSeq(reply, seq)
	return reply
}
