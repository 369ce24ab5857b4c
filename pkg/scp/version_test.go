// SPDX-FileCopyrightText: 2025 The spinscp-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package scp

import "testing"

func TestParseVersion(t *testing.T) {
	resp := Response{
		CmdRC: CmdOK,
		NArgs: 3,
		Args:  [MaxArgs]uint32{0x01020003, 261 << 16, 0},
		Data:  []byte("SC&MP/SpiNNaker\x00junk"),
	}

	v, err := ParseVersion(resp)
	if err != nil {
		t.Fatal(err)
	}

	if v.X != 1 || v.Y != 2 || v.CPU != 3 {
		t.Fatalf("Version core is (%d, %d, %d)", v.X, v.Y, v.CPU)
	}
	if v.Name != "SC&MP/SpiNNaker" {
		t.Fatalf("Version name is %q", v.Name)
	}
	if v.Version != 2.61 {
		t.Fatalf("Version number is %v", v.Version)
	}
}

func TestParseVersionTooFewArgs(t *testing.T) {
	if _, err := ParseVersion(Response{NArgs: 1}); err == nil {
		t.Fatal("ParseVersion accepted a response with a single argument word")
	}
}
