// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package sshtunnel forwards local ports through an SSH jump host. A
// Tunnel binds one loopback listener per target and copies every accepted
// connection to the target over the jump host's SSH connection. It also
// dials arbitrary hosts through the jump host, for services such as
// WebHDFS that redirect clients to hosts not known in advance.
//
// Authentication is by key only: keys held by the ssh-agent named by
// SSH_AUTH_SOCK, then ~/.ssh/id_ed25519, ~/.ssh/id_ecdsa and
// ~/.ssh/id_rsa. Host keys are checked against ~/.ssh/known_hosts.
package sshtunnel

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/lowes/lvfs/errors"
	"github.com/lowes/lvfs/log"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
)

const (
	defaultPort      = "22"
	defaultKeepAlive = 30 * time.Second
)

// Config describes a tunnel.
type Config struct {
	// JumpHost is the SSH server, as host or host:port.
	JumpHost string
	// User is the SSH login name.
	User string
	// Targets are the host:port addresses to forward, as seen from the
	// jump host.
	Targets []string

	// Auth overrides the default key discovery.
	Auth []ssh.AuthMethod
	// HostKeyCallback overrides the known_hosts check.
	HostKeyCallback ssh.HostKeyCallback
	// KnownHostsFile replaces ~/.ssh/known_hosts.
	KnownHostsFile string
	// KeepAlive is the interval between keepalive requests. Zero selects
	// 30 seconds; a negative value disables keepalives.
	KeepAlive time.Duration
}

// Tunnel is an open SSH connection with its port forwards. It is safe for
// concurrent use.
type Tunnel struct {
	config Config
	client *ssh.Client
	// addrs maps each target to its local listener address.
	addrs     map[string]string
	listeners []net.Listener

	mu    sync.Mutex
	conns map[net.Conn]bool

	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// Open dials the jump host and starts forwarding each target. Failure to
// reach the jump host is reported with kind errors.Tunnel, and a rejected
// login with kind errors.Auth. There is no retry.
func Open(ctx context.Context, config Config) (*Tunnel, error) {
	if config.JumpHost == "" || config.User == "" {
		return nil, errors.E(errors.Invalid, "sshtunnel: jump host and user are required")
	}
	addr := config.JumpHost
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, defaultPort)
	}
	auth := config.Auth
	if len(auth) == 0 {
		var (
			agentConn io.Closer
			err       error
		)
		if auth, agentConn, err = defaultAuth(); err != nil {
			return nil, err
		}
		// Agent keys are only needed to log in.
		if agentConn != nil {
			defer agentConn.Close() // nolint: errcheck
		}
	}
	hostKeys := config.HostKeyCallback
	if hostKeys == nil {
		file := config.KnownHostsFile
		if file == "" {
			file = filepath.Join(homeDir(), ".ssh", "known_hosts")
		}
		var err error
		if hostKeys, err = knownhosts.New(file); err != nil {
			return nil, errors.E(errors.Tunnel, fmt.Sprintf("ssh %s: read known hosts %s", addr, file), err)
		}
	}
	clientConfig := &ssh.ClientConfig{
		User:            config.User,
		Auth:            auth,
		HostKeyCallback: hostKeys,
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, errors.E(errors.Tunnel, fmt.Sprintf("ssh %s", addr), err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, clientConfig)
	if err != nil {
		conn.Close() // nolint: errcheck
		kind := errors.Tunnel
		if strings.Contains(err.Error(), "unable to authenticate") {
			kind = errors.Auth
		}
		return nil, errors.E(kind, fmt.Sprintf("ssh %s@%s", config.User, addr), err)
	}
	_ = conn.SetDeadline(time.Time{})
	t := &Tunnel{
		config: config,
		client: ssh.NewClient(c, chans, reqs),
		addrs:  make(map[string]string),
		conns:  make(map[net.Conn]bool),
		done:   make(chan struct{}),
	}
	for _, target := range config.Targets {
		if _, ok := t.addrs[target]; ok {
			continue
		}
		l, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			t.Close() // nolint: errcheck
			return nil, errors.E(errors.Tunnel, fmt.Sprintf("ssh %s: listen for %s", addr, target), err)
		}
		t.listeners = append(t.listeners, l)
		t.addrs[target] = l.Addr().String()
		t.wg.Add(1)
		go t.accept(l, target)
		log.Debug.Printf("ssh %s: forwarding %s -> %s", addr, l.Addr(), target)
	}
	if interval := config.KeepAlive; interval >= 0 {
		if interval == 0 {
			interval = defaultKeepAlive
		}
		t.wg.Add(1)
		go t.keepAlive(interval)
	}
	log.Printf("ssh tunnel to %s@%s open, %d forwards", config.User, addr, len(t.addrs))
	return t, nil
}

// LocalAddr returns the loopback address forwarded to target.
func (t *Tunnel) LocalAddr(target string) (string, bool) {
	addr, ok := t.addrs[target]
	return addr, ok
}

// DialContext connects to addr through the jump host. Its signature
// matches net/http.Transport.DialContext.
func (t *Tunnel) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	type result struct {
		conn net.Conn
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		conn, err := t.client.Dial(network, addr)
		ch <- result{conn, err}
	}()
	select {
	case r := <-ch:
		if r.err != nil {
			return nil, errors.E(errors.Unreachable, fmt.Sprintf("ssh dial %s via %s", addr, t.config.JumpHost), r.err)
		}
		return r.conn, nil
	case <-ctx.Done():
		go func() {
			if r := <-ch; r.conn != nil {
				r.conn.Close() // nolint: errcheck
			}
		}()
		return nil, errors.E(ctx.Err())
	}
}

// String describes the tunnel.
func (t *Tunnel) String() string {
	return fmt.Sprintf("ssh://%s@%s", t.config.User, t.config.JumpHost)
}

func (t *Tunnel) accept(l net.Listener, target string) {
	defer t.wg.Done()
	for {
		local, err := l.Accept()
		if err != nil {
			select {
			case <-t.done:
			default:
				log.Error.Printf("ssh %s: accept for %s: %v", t.config.JumpHost, target, err)
			}
			return
		}
		if !t.track(local) {
			local.Close() // nolint: errcheck
			return
		}
		t.wg.Add(1)
		go t.forward(local, target)
	}
}

func (t *Tunnel) forward(local net.Conn, target string) {
	defer t.wg.Done()
	defer t.untrack(local)
	remote, err := t.client.Dial("tcp", target)
	if err != nil {
		log.Error.Printf("ssh %s: dial %s: %v", t.config.JumpHost, target, err)
		return
	}
	if !t.track(remote) {
		remote.Close() // nolint: errcheck
		return
	}
	defer t.untrack(remote)
	var wg sync.WaitGroup
	wg.Add(2)
	pipe := func(dst, src net.Conn) {
		defer wg.Done()
		_, _ = io.Copy(dst, src)
		// Propagate EOF; closing both ends also unblocks the other copy.
		dst.Close() // nolint: errcheck
		src.Close() // nolint: errcheck
	}
	go pipe(remote, local)
	go pipe(local, remote)
	wg.Wait()
}

// track records a live connection so that Close can interrupt it. It
// returns false if the tunnel is closed.
func (t *Tunnel) track(c net.Conn) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conns == nil {
		return false
	}
	t.conns[c] = true
	return true
}

func (t *Tunnel) untrack(c net.Conn) {
	c.Close() // nolint: errcheck
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.conns, c)
}

func (t *Tunnel) keepAlive(interval time.Duration) {
	defer t.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
			if _, _, err := t.client.SendRequest("keepalive@openssh.com", true, nil); err != nil {
				select {
				case <-t.done:
				default:
					log.Error.Printf("ssh %s: keepalive: %v", t.config.JumpHost, err)
				}
				return
			}
		}
	}
}

// Close stops the listeners, closes the SSH connection and every forwarded
// connection, and waits for the forwarding goroutines to exit. It is safe
// to call more than once.
func (t *Tunnel) Close() error {
	t.closeOnce.Do(func() {
		close(t.done)
		for _, l := range t.listeners {
			l.Close() // nolint: errcheck
		}
		t.mu.Lock()
		conns := t.conns
		t.conns = nil
		t.mu.Unlock()
		for c := range conns {
			c.Close() // nolint: errcheck
		}
		if err := t.client.Close(); err != nil {
			// The server may already have dropped the connection.
			log.Debug.Printf("ssh %s: close: %v", t.config.JumpHost, err)
		}
		t.wg.Wait()
		log.Printf("ssh tunnel to %s@%s closed", t.config.User, t.config.JumpHost)
	})
	return nil
}

func homeDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return home
	}
	return "/"
}

// defaultAuth collects the agent's keys, then any readable unencrypted
// default key files. It fails with kind errors.Auth if it finds none. The
// returned agent connection, if any, must be closed after login.
func defaultAuth() (_ []ssh.AuthMethod, agentConn io.Closer, _ error) {
	var (
		methods []ssh.AuthMethod
		signers []ssh.Signer
	)
	if sock := os.Getenv("SSH_AUTH_SOCK"); sock != "" {
		if conn, err := net.Dial("unix", sock); err == nil {
			agentConn = conn
			methods = append(methods, ssh.PublicKeysCallback(agent.NewClient(conn).Signers))
		} else {
			log.Debug.Printf("ssh-agent %s: %v", sock, err)
		}
	}
	for _, name := range []string{"id_ed25519", "id_ecdsa", "id_rsa"} {
		path := filepath.Join(homeDir(), ".ssh", name)
		pem, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		signer, err := ssh.ParsePrivateKey(pem)
		if err != nil {
			log.Debug.Printf("ssh key %s: %v", path, err)
			continue
		}
		signers = append(signers, signer)
	}
	if len(signers) > 0 {
		methods = append(methods, ssh.PublicKeys(signers...))
	}
	if len(methods) == 0 {
		return nil, nil, errors.E(errors.Auth, "ssh: no agent and no usable key in ~/.ssh")
	}
	return methods, agentConn, nil
}
