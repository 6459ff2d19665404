// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package realm

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync/atomic"

	"github.com/lowes/lvfs/errors"
	"github.com/lowes/lvfs/file"
	"github.com/lowes/lvfs/log"
)

// Tunnel is an open SSH tunnel, as provided by package sshtunnel.
type Tunnel interface {
	io.Closer
	// LocalAddr returns the loopback address forwarded to target.
	LocalAddr(target string) (string, bool)
	// DialContext dials addr through the jump host.
	DialContext(ctx context.Context, network, addr string) (net.Conn, error)
}

// State is the lifecycle state of a session.
type State int32

// Session states. A session moves forward only: a failed construction
// leaves no session behind, and Closed is terminal.
const (
	Unconstructed State = iota
	Constructing
	Ready
	Closed
)

var stateNames = [...]string{"unconstructed", "constructing", "ready", "closed"}

func (s State) String() string { return stateNames[s] }

// Session is a constructed backend for one profile, and the tunnel it
// runs over, if any. Sessions are shared by every location the profile
// matches. The registry owns them; they are closed by Registry.Close.
type Session struct {
	Profile *Profile
	Backend file.Backend

	tunnel Tunnel
	state  atomic.Int32
}

// State returns the session's state.
func (s *Session) State() State { return State(s.state.Load()) }

// Tunnel returns the session's tunnel, or nil.
func (s *Session) Tunnel() Tunnel { return s.tunnel }

// Close closes the backend and then tears down the tunnel. Closed is
// terminal; closing again does nothing.
func (s *Session) Close() error {
	if State(s.state.Swap(int32(Closed))) == Closed {
		return nil
	}
	var err error
	if c, ok := s.Backend.(io.Closer); ok {
		if cerr := c.Close(); cerr != nil {
			err = errors.E(fmt.Sprintf("%s: close %s", s.Profile.Name(), s.Backend), cerr)
		}
	}
	if s.tunnel != nil {
		if terr := s.tunnel.Close(); terr != nil && err == nil {
			err = errors.E(errors.Tunnel, fmt.Sprintf("%s: close tunnel", s.Profile.Name()), terr)
		}
	}
	log.Debug.Printf("%s: session closed", s.Profile.Name())
	return err
}
