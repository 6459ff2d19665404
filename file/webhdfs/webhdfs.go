// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package webhdfs implements file.Backend for HDFS over its REST
// interface. A backend speaks to one of a list of namenodes; the first
// that answers becomes active, and the others are tried only when it stops
// answering. Clients connect directly, through an SSH tunnel, or with
// Kerberos (SPNEGO); they name themselves with user.name ("trusted"
// clusters) or with HTTP basic authentication.
//
// Reads and writes follow the namenode's redirects to datanodes. Through a
// tunnel, datanodes are dialed over the jump host.
package webhdfs

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/lowes/lvfs/errors"
	"github.com/lowes/lvfs/file"
	"github.com/lowes/lvfs/log"
	"github.com/lowes/lvfs/realm"
	"github.com/lowes/lvfs/retry"
)

const (
	prefix       = "/webhdfs/v1"
	maxRedirects = 5
)

// Dialer is the part of an SSH tunnel the backend uses. *sshtunnel.Tunnel
// implements it.
type Dialer interface {
	LocalAddr(target string) (string, bool)
	DialContext(ctx context.Context, network, addr string) (net.Conn, error)
}

// Options configures a backend.
type Options struct {
	// Endpoints are the namenode URLs, such as "http://nn1:50070", in
	// failover order.
	Endpoints []string
	// User is sent as user.name, unless Password is set or Kerberos is
	// true. An empty User sends no user.name.
	User string
	// Password selects HTTP basic authentication as User.
	Password string
	// Kerberos selects SPNEGO with the local ticket cache.
	Kerberos bool
	// Insecure skips TLS certificate verification.
	Insecure bool
	// Tunnel, if set, carries every connection. Endpoints must be
	// forwarded by the tunnel.
	Tunnel Dialer
}

// doer issues one HTTP request without following redirects.
type doer interface {
	Do(req *http.Request) (*http.Response, error)
}

type backend struct {
	opts Options
	// endpoints are the URLs actually dialed; through a tunnel they are
	// the tunnel's local forwards.
	endpoints []*url.URL
	client    doer

	mu     sync.Mutex
	active int
}

// New returns a backend for the given options. It probes the endpoints in
// order with GETFILESTATUS of "/", and fails with kind errors.Unreachable
// if none answers.
func New(ctx context.Context, opts Options) (file.Backend, error) {
	if len(opts.Endpoints) == 0 {
		return nil, errors.E(errors.InvalidConfig, "webhdfs: no endpoints")
	}
	b := &backend{opts: opts}
	var locals map[string]bool
	if opts.Tunnel != nil {
		locals = make(map[string]bool)
	}
	for _, raw := range opts.Endpoints {
		u, err := url.Parse(raw)
		if err != nil || u.Host == "" {
			return nil, errors.E(errors.InvalidConfig, fmt.Sprintf("webhdfs: bad endpoint %q", raw))
		}
		u.Path = strings.TrimRight(u.Path, "/")
		if opts.Tunnel != nil {
			local, ok := opts.Tunnel.LocalAddr(hostPort(u))
			if !ok {
				return nil, errors.E(errors.Tunnel, fmt.Sprintf("webhdfs: %s is not forwarded", hostPort(u)))
			}
			u.Host = local
			locals[local] = true
		}
		b.endpoints = append(b.endpoints, u)
	}
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		TLSClientConfig:     &tls.Config{InsecureSkipVerify: opts.Insecure}, // nolint: gosec
		MaxIdleConnsPerHost: 16,
	}
	if opts.Tunnel != nil {
		transport.Proxy = nil
		transport.DialContext = tunnelDialer(opts.Tunnel, locals)
	}
	httpClient := &http.Client{
		Transport: transport,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	b.client = httpClient
	if opts.Kerberos {
		var err error
		if b.client, err = kerberosClient(httpClient); err != nil {
			return nil, err
		}
	}
	if _, err := b.getFileStatus(ctx, "/"); err != nil {
		return nil, err
	}
	return b, nil
}

// FromProfile is a realm.Constructor for WebHDFS profiles.
func FromProfile(ctx context.Context, p *realm.Profile, tunnel realm.Tunnel) (file.Backend, error) {
	opts := Options{
		Endpoints: p.Endpoints(),
		Insecure:  p.Insecure,
		Kerberos:  p.Mode.Kerberos(),
	}
	if !opts.Kerberos {
		opts.User = p.Username
		opts.Password = p.Password
	}
	if p.Mode.Tunneled() {
		if tunnel == nil {
			return nil, errors.E(errors.Tunnel, fmt.Sprintf("%s: no tunnel", p.Name()))
		}
		opts.Tunnel = tunnel
		// Tunnels forward host:port targets; rewrite endpoints to match
		// them, defaulting ports the same way.
		targets, err := p.TunnelTargets()
		if err != nil {
			return nil, err
		}
		for i, e := range opts.Endpoints {
			u, _ := url.Parse(e)
			u.Host = targets[i]
			opts.Endpoints[i] = u.String()
		}
	}
	return New(ctx, opts)
}

// tunnelDialer dials the tunnel's local forwards directly and everything
// else through the jump host.
func tunnelDialer(t Dialer, locals map[string]bool) func(ctx context.Context, network, addr string) (net.Conn, error) {
	var d net.Dialer
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		if locals[addr] {
			return d.DialContext(ctx, network, addr)
		}
		return t.DialContext(ctx, network, addr)
	}
}

func hostPort(u *url.URL) string {
	if u.Port() != "" {
		return u.Host
	}
	port := "80"
	if u.Scheme == "https" {
		port = "443"
	}
	return net.JoinHostPort(u.Hostname(), port)
}

func (b *backend) String() string {
	return fmt.Sprintf("webhdfs(%s)", strings.Join(b.opts.Endpoints, ";"))
}

func (b *backend) Capabilities() file.Capabilities {
	// gokrb5 clients renegotiate on 401 by mutating shared state.
	return file.Capabilities{Streaming: true, Directories: true, ConcurrentSafe: !b.opts.Kerberos}
}

// Close releases idle connections.
func (b *backend) Close() error {
	if c, ok := b.client.(interface{ CloseIdleConnections() }); ok {
		c.CloseIdleConnections()
	}
	return nil
}

// call runs fn against the active endpoint, and on kind
// errors.Unreachable against each following endpoint in turn. The first
// endpoint to answer becomes active.
func (b *backend) call(ctx context.Context, fn func(base *url.URL) error) error {
	b.mu.Lock()
	start := b.active
	b.mu.Unlock()
	n := len(b.endpoints)
	i, errs := retry.Failover(ctx, n,
		func(err error) bool { return errors.Is(errors.Unreachable, err) && ctx.Err() == nil },
		func(i int) error { return fn(b.endpoints[(start+i)%n]) })
	var last error
	if len(errs) > 0 {
		last = errs[len(errs)-1]
	}
	if i > 0 && ctx.Err() == nil && !errors.Is(errors.Unreachable, last) {
		b.mu.Lock()
		b.active = (start + i) % n
		b.mu.Unlock()
		log.Printf("webhdfs: failed over to %s", b.opts.Endpoints[(start+i)%n])
	}
	if last == nil || len(errs) < n || !errors.Is(errors.Unreachable, last) {
		return last
	}
	msgs := make([]string, len(errs))
	for j, err := range errs {
		msgs[j] = fmt.Sprintf("%s: %v", b.opts.Endpoints[(start+j)%n], err)
	}
	return errors.E(errors.Unreachable, fmt.Sprintf("webhdfs: all endpoints unreachable: %s", strings.Join(msgs, "; ")))
}

func (b *backend) opURL(base *url.URL, p, op string, params ...string) string {
	u := *base
	u.Path = base.Path + prefix + path.Clean("/"+p)
	q := url.Values{}
	q.Set("op", op)
	if b.opts.User != "" && b.opts.Password == "" && !b.opts.Kerberos {
		q.Set("user.name", b.opts.User)
	}
	for i := 0; i+1 < len(params); i += 2 {
		q.Set(params[i], params[i+1])
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// do issues a request. If follow is true, it follows up to maxRedirects
// redirects, replaying data to each; otherwise it returns redirects to the
// caller. A nil data sends no body.
func (b *backend) do(ctx context.Context, method, rawurl string, data []byte, follow bool) (*http.Response, error) {
	for i := 0; ; i++ {
		var body io.Reader
		if data != nil {
			body = bytes.NewReader(data)
		}
		req, err := http.NewRequestWithContext(ctx, method, rawurl, body)
		if err != nil {
			return nil, errors.E(errors.Invalid, err)
		}
		if data != nil {
			req.Header.Set("Content-Type", "application/octet-stream")
		}
		if b.opts.Password != "" {
			req.SetBasicAuth(b.opts.User, b.opts.Password)
		}
		resp, err := b.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, errors.E(ctx.Err())
			}
			return nil, errors.E(errors.Unreachable, fmt.Sprintf("%s %s", method, redact(rawurl)), err)
		}
		if !follow || !isRedirect(resp.StatusCode) {
			return resp, nil
		}
		next, err := redirectURL(resp)
		drain(resp)
		if err != nil {
			return nil, err
		}
		if i == maxRedirects {
			return nil, errors.E(errors.Net, fmt.Sprintf("%s %s: too many redirects", method, redact(rawurl)))
		}
		rawurl = next
	}
}

func redirectURL(resp *http.Response) (string, error) {
	loc := resp.Header.Get("Location")
	if loc == "" {
		return "", errors.E(errors.Net, fmt.Sprintf("%s %s: redirect without location", resp.Request.Method, redact(resp.Request.URL.String())))
	}
	u, err := resp.Request.URL.Parse(loc)
	if err != nil {
		return "", errors.E(errors.Net, fmt.Sprintf("%s %s: bad redirect %q", resp.Request.Method, redact(resp.Request.URL.String()), loc), err)
	}
	return u.String(), nil
}

func isRedirect(code int) bool {
	switch code {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))
	resp.Body.Close() // nolint: errcheck
}

// redact drops the query, which may carry delegation tokens.
func redact(rawurl string) string {
	if i := strings.IndexByte(rawurl, '?'); i >= 0 {
		return rawurl[:i]
	}
	return rawurl
}

// request performs a metadata operation and decodes its JSON reply into
// v.
func (b *backend) request(ctx context.Context, method, p, op string, v interface{}, params ...string) error {
	return b.call(ctx, func(base *url.URL) error {
		resp, err := b.do(ctx, method, b.opURL(base, p, op, params...), nil, true)
		if err != nil {
			return err
		}
		defer drain(resp)
		if err := checkResponse(resp, op, p); err != nil {
			return err
		}
		if v == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			return errors.E(errors.Net, fmt.Sprintf("webhdfs %s %s: decode response", op, p), err)
		}
		return nil
	})
}

func (b *backend) getFileStatus(ctx context.Context, p string) (fileStatus, error) {
	var r struct {
		FileStatus fileStatus `json:"FileStatus"`
	}
	err := b.request(ctx, http.MethodGet, p, "GETFILESTATUS", &r)
	return r.FileStatus, err
}

func (b *backend) listStatus(ctx context.Context, p string) ([]fileStatus, error) {
	var r struct {
		FileStatuses struct {
			FileStatus []fileStatus `json:"FileStatus"`
		} `json:"FileStatuses"`
	}
	err := b.request(ctx, http.MethodGet, p, "LISTSTATUS", &r)
	return r.FileStatuses.FileStatus, err
}

// fileStatus is a WebHDFS FileStatus object.
type fileStatus struct {
	Length           int64  `json:"length"`
	ModificationTime int64  `json:"modificationTime"`
	PathSuffix       string `json:"pathSuffix"`
	Type             string `json:"type"`
}

func (s fileStatus) info() file.Info {
	info := file.Info{
		Exists:  true,
		IsDir:   s.Type == "DIRECTORY",
		ModTime: time.UnixMilli(s.ModificationTime),
	}
	if !info.IsDir {
		info.Size = s.Length
	}
	return info
}

// Stat implements file.Backend.
func (b *backend) Stat(ctx context.Context, loc file.Location) (file.Info, error) {
	s, err := b.getFileStatus(ctx, loc.Path())
	if err != nil {
		return file.Info{}, err
	}
	return s.info(), nil
}

// List implements file.Backend.
func (b *backend) List(ctx context.Context, loc file.Location, recursive bool) ([]file.Entry, error) {
	s, err := b.getFileStatus(ctx, loc.Path())
	if err != nil {
		return nil, err
	}
	if s.Type != "DIRECTORY" {
		return []file.Entry{{Path: loc.Path(), Info: s.info()}}, nil
	}
	var (
		entries []file.Entry
		todo    = []string{loc.Path()}
	)
	for len(todo) > 0 {
		dir := todo[0]
		todo = todo[1:]
		children, err := b.listStatus(ctx, dir)
		if errors.Is(errors.NotExist, err) && dir != loc.Path() {
			// Removed while listing.
			continue
		}
		if err != nil {
			return nil, err
		}
		for _, c := range children {
			p := path.Join(dir, c.PathSuffix)
			if c.Type == "DIRECTORY" && recursive {
				todo = append(todo, p)
				continue
			}
			entries = append(entries, file.Entry{Path: p, Info: c.info()})
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries, nil
}

// Open implements file.Streamer.
func (b *backend) Open(ctx context.Context, loc file.Location) (io.ReadCloser, error) {
	var body io.ReadCloser
	err := b.call(ctx, func(base *url.URL) error {
		resp, err := b.do(ctx, http.MethodGet, b.opURL(base, loc.Path(), "OPEN"), nil, true)
		if err != nil {
			return err
		}
		if err := checkResponse(resp, "OPEN", loc.Path()); err != nil {
			drain(resp)
			return err
		}
		body = resp.Body
		return nil
	})
	return body, err
}

// ReadAll implements file.Backend.
func (b *backend) ReadAll(ctx context.Context, loc file.Location) (data []byte, err error) {
	r, err := b.Open(ctx, loc)
	if err != nil {
		return nil, err
	}
	defer errors.CleanUp(r.Close, &err)
	if data, err = io.ReadAll(r); err != nil {
		return nil, errors.E(errors.Net, fmt.Sprintf("webhdfs read %s", loc.Path()), err)
	}
	return data, nil
}

// WriteAll implements file.Backend. HDFS creates missing parents.
func (b *backend) WriteAll(ctx context.Context, loc file.Location, data []byte) error {
	if data == nil {
		data = []byte{}
	}
	return b.call(ctx, func(base *url.URL) error {
		// The namenode answers CREATE with the datanode to send data to.
		resp, err := b.do(ctx, http.MethodPut, b.opURL(base, loc.Path(), "CREATE", "overwrite", "true"), nil, false)
		if err != nil {
			return err
		}
		err = checkResponse(resp, "CREATE", loc.Path())
		drain(resp)
		if err != nil {
			return err
		}
		if !isRedirect(resp.StatusCode) {
			return errors.E(errors.Net, fmt.Sprintf("webhdfs CREATE %s: expected a redirect, got %s", loc.Path(), resp.Status))
		}
		target, err := redirectURL(resp)
		if err != nil {
			return err
		}
		if resp, err = b.do(ctx, http.MethodPut, target, data, true); err != nil {
			return err
		}
		defer drain(resp)
		return checkResponse(resp, "CREATE", loc.Path())
	})
}

// Remove implements file.Backend. HDFS reports a missing path by
// answering false.
func (b *backend) Remove(ctx context.Context, loc file.Location) error {
	var r struct {
		Boolean bool `json:"boolean"`
	}
	if err := b.request(ctx, http.MethodDelete, loc.Path(), "DELETE", &r, "recursive", "false"); err != nil {
		return err
	}
	if !r.Boolean {
		return errors.E(errors.NotExist, fmt.Sprintf("webhdfs DELETE %s", loc.Path()))
	}
	return nil
}

// Mkdir implements file.Backend.
func (b *backend) Mkdir(ctx context.Context, loc file.Location) error {
	var r struct {
		Boolean bool `json:"boolean"`
	}
	if err := b.request(ctx, http.MethodPut, loc.Path(), "MKDIRS", &r); err != nil {
		return err
	}
	if !r.Boolean {
		return errors.E(fmt.Sprintf("webhdfs MKDIRS %s: refused", loc.Path()))
	}
	return nil
}
