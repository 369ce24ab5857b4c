// SPDX-FileCopyrightText: 2025 The spinscp-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package transport

import (
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
)

// Options are the per-connection parameters. They are fixed at Dial time; a
// connection must be freed and re-established to change them.
type Options struct {
	// SCPDataLength is the maximum data field length the machine supports,
	// typically 256. Bulk transfers are segmented to this size.
	SCPDataLength int

	// Timeout is the per-attempt response timeout.
	Timeout time.Duration

	// NTries is the number of transmission attempts before a request fails
	// with ErrTimeout.
	NTries int

	// NOutstanding is the size of the outstanding-channel pool, i.e. how
	// many requests may be in flight at once.
	NOutstanding int
}

// DefaultOptions returns the parameters the original firmware tooling uses.
func DefaultOptions() Options {
	return Options{
		SCPDataLength: 256,
		Timeout:       500 * time.Millisecond,
		NTries:        5,
		NOutstanding:  8,
	}
}

// checkValid reports everything wrong with the Options at once.
func (o Options) checkValid() (errs error) {
	if o.SCPDataLength <= 0 {
		errs = multierror.Append(errs,
			fmt.Errorf("SCPDataLength of %d is not positive", o.SCPDataLength))
	}
	if o.Timeout <= 0 {
		errs = multierror.Append(errs,
			fmt.Errorf("Timeout of %v is not positive", o.Timeout))
	}
	if o.NTries <= 0 {
		errs = multierror.Append(errs,
			fmt.Errorf("NTries of %d is not positive", o.NTries))
	}
	if o.NOutstanding <= 0 {
		errs = multierror.Append(errs,
			fmt.Errorf("NOutstanding of %d is not positive", o.NOutstanding))
	}

	return
}
