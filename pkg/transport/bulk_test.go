// SPDX-FileCopyrightText: 2025 The spinscp-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package transport

import (
	"bytes"
	"errors"
	"math/rand"
	"sort"
	"testing"
	"time"

	"github.com/spinscp/spinscp-go/pkg/scp"
)

func TestAccessMode(t *testing.T) {
	tests := []struct {
		addr   uint32
		length uint32
		mode   uint32
	}{
		{0x60240000, 256, scp.AccessWord},
		{0x60240000, 4, scp.AccessWord},
		{0x60240002, 4, scp.AccessHalf},
		{0x60240000, 2, scp.AccessHalf},
		{0x60240001, 4, scp.AccessByte},
		{0x60240000, 3, scp.AccessByte},
		{0x60240002, 7, scp.AccessByte},
		{0, 0, scp.AccessWord},
	}

	for _, test := range tests {
		if mode := accessMode(test.addr, test.length); mode != test.mode {
			t.Fatalf("accessMode(%#x, %d) is %d instead of %d",
				test.addr, test.length, mode, test.mode)
		}
	}
}

// awaitBulk runs a bulk operation to completion.
func awaitBulk(t *testing.T, run func(cb BulkCallback)) error {
	done := make(chan error, 1)
	run(func(err error, data []byte) {
		done <- err
	})

	select {
	case err := <-done:
		return err
	case <-time.After(30 * time.Second):
		t.Fatal("bulk transfer did not complete")
		return nil
	}
}

func TestBulkWrite(t *testing.T) {
	peer := newMockPeer(t)
	defer peer.close()

	opts := testOptions()
	opts.NOutstanding = 8

	c := dialPeer(t, peer, opts)
	defer c.Close()

	const base = 0x60240000
	data := make([]byte, 128*1024)
	rand.New(rand.NewSource(1)).Read(data)

	err := awaitBulk(t, func(cb BulkCallback) {
		c.Write(CoreAddr{}, base, data, cb)
	})
	if err != nil {
		t.Fatal(err)
	}

	if img := peer.memoryImage(base, len(data)); !bytes.Equal(img, data) {
		t.Fatal("peer memory image differs from the written data")
	}

	// The segments partition [0, L): sorted by address they are contiguous,
	// sized at most SCPDataLength and sum to the transfer length. Records are
	// deduplicated first, as a retransmitted segment is observed twice.
	segs := peer.segmentRecords()
	sort.Slice(segs, func(i, j int) bool { return segs[i].addr < segs[j].addr })
	unique := segs[:0]
	for _, seg := range segs {
		if len(unique) == 0 || seg.addr != unique[len(unique)-1].addr {
			unique = append(unique, seg)
		}
	}
	segs = unique
	if want := len(data) / opts.SCPDataLength; len(segs) != want {
		t.Fatalf("transfer used %d segments instead of %d", len(segs), want)
	}
	next := uint32(base)
	for _, seg := range segs {
		if seg.addr != next {
			t.Fatalf("segment at %#x leaves a gap, expected %#x", seg.addr, next)
		}
		if seg.length == 0 || seg.length > uint32(opts.SCPDataLength) {
			t.Fatalf("segment at %#x has length %d", seg.addr, seg.length)
		}
		next += seg.length
	}
	if next != base+uint32(len(data)) {
		t.Fatalf("segments cover up to %#x, expected %#x", next, base+uint32(len(data)))
	}
}

func TestBulkReadOutOfOrder(t *testing.T) {
	peer := newMockPeer(t)
	defer peer.close()

	opts := testOptions()
	opts.NOutstanding = 4
	peer.reorderBatch = 4

	const base = 0x1000
	image := make([]byte, 1024)
	rand.New(rand.NewSource(2)).Read(image)
	peer.setMemory(base, image)

	c := dialPeer(t, peer, opts)
	defer c.Close()

	buf := make([]byte, len(image))
	err := awaitBulk(t, func(cb BulkCallback) {
		c.Read(CoreAddr{}, base, buf, cb)
	})
	if err != nil {
		t.Fatal(err)
	}

	if !bytes.Equal(buf, image) {
		t.Fatal("read buffer differs from the peer's memory image")
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	peer := newMockPeer(t)
	defer peer.close()

	c := dialPeer(t, peer, testOptions())
	defer c.Close()

	const base = 0x2000
	data := make([]byte, 4096)
	rand.New(rand.NewSource(3)).Read(data)

	if err := awaitBulk(t, func(cb BulkCallback) {
		c.Write(CoreAddr{}, base, data, cb)
	}); err != nil {
		t.Fatal(err)
	}

	buf := make([]byte, len(data))
	if err := awaitBulk(t, func(cb BulkCallback) {
		c.Read(CoreAddr{}, base, buf, cb)
	}); err != nil {
		t.Fatal(err)
	}

	if !bytes.Equal(buf, data) {
		t.Fatal("data read back differs from the data written")
	}
}

func TestBulkUnalignedWrite(t *testing.T) {
	peer := newMockPeer(t)
	defer peer.close()

	c := dialPeer(t, peer, testOptions())
	defer c.Close()

	const base = 0x1001 // odd address forces byte access
	data := []byte("ten bytes!")

	if err := awaitBulk(t, func(cb BulkCallback) {
		c.Write(CoreAddr{}, base, data, cb)
	}); err != nil {
		t.Fatal(err)
	}

	if img := peer.memoryImage(base, len(data)); !bytes.Equal(img, data) {
		t.Fatal("peer memory image differs from the written data")
	}
}

func TestBulkFirstError(t *testing.T) {
	peer := newMockPeer(t)
	defer peer.close()

	opts := testOptions()
	opts.NOutstanding = 2

	const base = 0x4000
	peer.failAddr = base + 2*uint32(opts.SCPDataLength) // third segment fails
	peer.failRC = 0x86

	c := dialPeer(t, peer, opts)
	defer c.Close()

	data := make([]byte, 8*opts.SCPDataLength)
	err := awaitBulk(t, func(cb BulkCallback) {
		c.Write(CoreAddr{}, base, data, cb)
	})

	var remote *RemoteError
	if !errors.As(err, &remote) {
		t.Fatalf("transfer finished with %v, expected a RemoteError", err)
	}
	if remote.Code != 0x86 {
		t.Fatalf("RemoteError carries code %d", remote.Code)
	}
}

func TestBulkEmpty(t *testing.T) {
	peer := newMockPeer(t)
	defer peer.close()

	c := dialPeer(t, peer, testOptions())
	defer c.Close()

	if err := awaitBulk(t, func(cb BulkCallback) {
		c.Write(CoreAddr{}, 0, nil, cb)
	}); err != nil {
		t.Fatal(err)
	}
	if err := awaitBulk(t, func(cb BulkCallback) {
		c.Read(CoreAddr{}, 0, nil, cb)
	}); err != nil {
		t.Fatal(err)
	}

	if n := peer.requestCount(); n != 0 {
		t.Fatalf("empty transfers reached the peer %d times", n)
	}
}

func TestBulkCancelledByFree(t *testing.T) {
	peer := newMockPeer(t)
	defer peer.close()
	peer.dropAll = true

	opts := testOptions()
	opts.Timeout = 10 * time.Second

	c := dialPeer(t, peer, opts)

	data := make([]byte, 16*opts.SCPDataLength)
	done := make(chan error, 1)
	c.Write(CoreAddr{}, 0x5000, data, func(err error, _ []byte) {
		done <- err
	})

	time.Sleep(100 * time.Millisecond)
	c.Free()

	select {
	case err := <-done:
		if !errors.Is(err, ErrCancelled) {
			t.Fatalf("transfer finished with %v, expected ErrCancelled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("cancelled transfer did not complete")
	}

	<-c.Done()
}
