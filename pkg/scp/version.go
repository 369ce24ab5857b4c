// SPDX-FileCopyrightText: 2025 The spinscp-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package scp

import (
	"bytes"
	"fmt"
)

// Version is the decoded payload of a CmdVer response: the responding core's
// position, the firmware's name and its version number.
type Version struct {
	X       uint8
	Y       uint8
	CPU     uint8
	Name    string
	Version float64
}

// ParseVersion decodes a CmdVer response. The chip coordinates and CPU
// number are packed into the first argument word, the version number into
// the high half-word of the second, and the data payload carries the
// NUL-terminated firmware name.
func ParseVersion(resp Response) (Version, error) {
	if resp.NArgs < 2 {
		return Version{}, fmt.Errorf("scp: version response carries %d argument words, need 2", resp.NArgs)
	}

	name := resp.Data
	if i := bytes.IndexByte(name, 0); i >= 0 {
		name = name[:i]
	}

	return Version{
		X:       uint8(resp.Args[0] >> 24),
		Y:       uint8(resp.Args[0] >> 16),
		CPU:     uint8(resp.Args[0]),
		Name:    string(name),
		Version: float64(resp.Args[1]>>16&0xffff) / 100.0,
	}, nil
}

func (v Version) String() string {
	return fmt.Sprintf("(%d, %d, %d) %s v%.2f", v.X, v.Y, v.CPU, v.Name, v.Version)
}
