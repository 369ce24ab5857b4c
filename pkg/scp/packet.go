// SPDX-FileCopyrightText: 2025 The spinscp-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package scp

import (
	"encoding/binary"
	"fmt"
)

// An SCP packet is an SDP datagram whose payload starts with the SCP header.
// All multi-byte fields are little-endian. The layout on the wire is:
//
//	 0       1       2       3       4       5       6       7
//	+-------+-------+-------+-------+-------+-------+-------+-------+
//	|      padding  | flags |  tag  |dst c/p|src c/p|  dest chip    |
//	+-------+-------+-------+-------+-------+-------+-------+-------+
//	|   source chip |    cmd_rc     |      seq      |               |
//	+-------+-------+-------+-------+-------+-------+               +
//	|              0..3 argument words, 4 bytes each                |
//	+                                                               +
//	|                        data payload                           |
//
// The two padding bytes are an artefact of SDP-over-UDP framing and are
// always zero. Chip addresses are 16-bit with the X coordinate in the high
// byte. The sequence number lives at a fixed offset so the transport can
// stamp it after the rest of the packet has been serialised.
const (
	// HeaderLen is the length of an SCP packet with no arguments and no
	// data. Anything shorter is not an SCP packet.
	HeaderLen = 14

	cmdRCOffset = 10

	// SeqOffset is the position of the 16-bit sequence number.
	SeqOffset = 12

	argsOffset = 14
)

// sdpFlagReplyExpected asks the firmware to route a response back to us.
const sdpFlagReplyExpected byte = 0x87

// sdpTagHost is the IP tag slot used for traffic originating off-machine.
const sdpTagHost byte = 0xff

// Packet describes an outbound SCP request before serialisation. NArgs
// selects how many of Arg1..Arg3 are transmitted.
type Packet struct {
	DestChip uint16
	DestCPU  uint8
	Cmd      uint16
	NArgs    int
	Arg1     uint32
	Arg2     uint32
	Arg3     uint32
	Data     []byte
}

// Encode serialises the Packet. The sequence number field is reserved and
// zeroed; the transport stamps it with PutSeq before transmission.
func (p Packet) Encode() []byte {
	buf := make([]byte, HeaderLen+4*p.NArgs+len(p.Data))

	buf[2] = sdpFlagReplyExpected
	buf[3] = sdpTagHost
	buf[4] = p.DestCPU
	buf[5] = 0xff // source CPU/port: the host
	binary.LittleEndian.PutUint16(buf[6:], p.DestChip)
	binary.LittleEndian.PutUint16(buf[8:], 0xffff) // source chip: the host

	binary.LittleEndian.PutUint16(buf[cmdRCOffset:], p.Cmd)

	args := [MaxArgs]uint32{p.Arg1, p.Arg2, p.Arg3}
	for i := 0; i < p.NArgs; i++ {
		binary.LittleEndian.PutUint32(buf[argsOffset+4*i:], args[i])
	}

	copy(buf[argsOffset+4*p.NArgs:], p.Data)
	return buf
}

// PutSeq stamps the sequence number into an encoded packet.
func PutSeq(pkt []byte, seq uint16) {
	binary.LittleEndian.PutUint16(pkt[SeqOffset:], seq)
}

// Seq extracts the sequence number from a received datagram. The second
// return value is false if the datagram is too short to be an SCP packet.
func Seq(datagram []byte) (uint16, bool) {
	if len(datagram) < HeaderLen {
		return 0, false
	}
	return binary.LittleEndian.Uint16(datagram[SeqOffset:]), true
}

// Response is a decoded inbound SCP packet. Args holds the argument words
// that were present on the wire, zero otherwise. Data aliases the buffer
// handed to ParseResponse.
type Response struct {
	Seq   uint16
	CmdRC uint16
	NArgs int
	Args  [MaxArgs]uint32
	Data  []byte
}

// ParseResponse decodes a received datagram. nArgsResp is the number of
// argument words the caller expects the response to carry; if the datagram
// is shorter, only the words actually present are decoded and the rest stay
// zero. Everything beyond the argument words is the data payload.
//
// Parsing fails only on datagrams shorter than HeaderLen; all other byte
// sequences are accepted.
func ParseResponse(datagram []byte, nArgsResp int) (Response, error) {
	if len(datagram) < HeaderLen {
		return Response{}, fmt.Errorf("scp: datagram of %d bytes is shorter than the %d byte header",
			len(datagram), HeaderLen)
	}

	nArgs := nArgsResp
	if nArgs > MaxArgs {
		nArgs = MaxArgs
	}
	if present := (len(datagram) - HeaderLen) / 4; nArgs > present {
		nArgs = present
	}

	resp := Response{
		Seq:   binary.LittleEndian.Uint16(datagram[SeqOffset:]),
		CmdRC: binary.LittleEndian.Uint16(datagram[cmdRCOffset:]),
		NArgs: nArgs,
	}
	for i := 0; i < nArgs; i++ {
		resp.Args[i] = binary.LittleEndian.Uint32(datagram[argsOffset+4*i:])
	}
	resp.Data = datagram[argsOffset+4*nArgs:]

	return resp, nil
}
