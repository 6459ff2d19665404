// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package webhdfs_test

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// store is the namespace shared by the fake namenodes of one cluster.
type store struct {
	mu     sync.Mutex
	files  map[string][]byte
	mtimes map[string]time.Time
	dirs   map[string]bool
}

func newStore() *store {
	return &store{
		files:  make(map[string][]byte),
		mtimes: make(map[string]time.Time),
		dirs:   map[string]bool{"/": true},
	}
}

func (s *store) mkdirs(p string) {
	for ; p != "/"; p = path.Dir(p) {
		s.dirs[p] = true
	}
}

// namenode is a fake WebHDFS server. It serves the datanode side of OPEN
// and CREATE itself, under /data.
type namenode struct {
	*store
	srv *httptest.Server

	// datanode, if set, is the host:port named in redirects.
	datanode string
	// down makes the namenode answer as a standby.
	down atomic.Bool

	requests atomic.Int32

	mu      sync.Mutex
	queries []url.Values
	auth    []string
}

func newNamenode(s *store) *namenode {
	n := &namenode{store: s}
	n.srv = httptest.NewServer(http.HandlerFunc(n.serve))
	return n
}

func (n *namenode) URL() string { return n.srv.URL }

func (n *namenode) Close() { n.srv.Close() }

func (n *namenode) lastQuery() url.Values {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.queries[len(n.queries)-1]
}

func (n *namenode) lastAuth() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.auth[len(n.auth)-1]
}

func remoteException(w http.ResponseWriter, code int, exception, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	fmt.Fprintf(w, `{"RemoteException":{"exception":%q,"javaClassName":"org.apache.hadoop.%s","message":%q}}`,
		exception, exception, msg)
}

func reply(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

type status struct {
	Length           int64  `json:"length"`
	ModificationTime int64  `json:"modificationTime"`
	PathSuffix       string `json:"pathSuffix"`
	Type             string `json:"type"`
}

func (s *store) status(p string) (status, bool) {
	if s.dirs[p] {
		return status{Type: "DIRECTORY", ModificationTime: time.Now().UnixMilli()}, true
	}
	if data, ok := s.files[p]; ok {
		return status{Type: "FILE", Length: int64(len(data)), ModificationTime: s.mtimes[p].UnixMilli()}, true
	}
	return status{}, false
}

func (n *namenode) redirect(w http.ResponseWriter, r *http.Request, p, op string) {
	loc := "/data" + p + "?op=" + op
	if n.datanode != "" {
		loc = "http://" + n.datanode + loc
	}
	http.Redirect(w, r, loc, http.StatusTemporaryRedirect)
}

func (n *namenode) serve(w http.ResponseWriter, r *http.Request) {
	n.requests.Add(1)
	if strings.HasPrefix(r.URL.Path, "/data/") {
		n.serveData(w, r, strings.TrimPrefix(r.URL.Path, "/data"))
		return
	}
	n.mu.Lock()
	n.queries = append(n.queries, r.URL.Query())
	n.auth = append(n.auth, r.Header.Get("Authorization"))
	n.mu.Unlock()
	if n.down.Load() {
		remoteException(w, http.StatusForbidden, "StandbyException", "Operation category READ is not supported in state standby")
		return
	}
	if !strings.HasPrefix(r.URL.Path, "/webhdfs/v1/") {
		http.NotFound(w, r)
		return
	}
	p := path.Clean(strings.TrimPrefix(r.URL.Path, "/webhdfs/v1"))
	n.store.mu.Lock()
	defer n.store.mu.Unlock()
	notFound := func() {
		remoteException(w, http.StatusNotFound, "FileNotFoundException", "File does not exist: "+p)
	}
	switch op := r.URL.Query().Get("op"); op {
	case "GETFILESTATUS":
		st, ok := n.status(p)
		if !ok {
			notFound()
			return
		}
		reply(w, map[string]status{"FileStatus": st})
	case "LISTSTATUS":
		if !n.dirs[p] {
			notFound()
			return
		}
		children := []status{}
		for _, names := range []map[string]bool{n.dirs, n.fileSet()} {
			for child := range names {
				if child != "/" && path.Dir(child) == p {
					st, _ := n.status(child)
					st.PathSuffix = path.Base(child)
					children = append(children, st)
				}
			}
		}
		reply(w, map[string]map[string][]status{"FileStatuses": {"FileStatus": children}})
	case "OPEN":
		if _, ok := n.files[p]; !ok {
			notFound()
			return
		}
		n.redirect(w, r, p, op)
	case "CREATE":
		if n.dirs[p] {
			remoteException(w, http.StatusForbidden, "FileAlreadyExistsException", p+" is a directory")
			return
		}
		n.redirect(w, r, p, op)
	case "MKDIRS":
		n.mkdirs(p)
		reply(w, map[string]bool{"boolean": true})
	case "DELETE":
		switch {
		case n.dirs[p]:
			for child := range n.fileSet() {
				if strings.HasPrefix(child, p+"/") {
					remoteException(w, http.StatusForbidden, "PathIsNotEmptyDirectoryException", p+" is non empty")
					return
				}
			}
			delete(n.dirs, p)
		case n.hasFile(p):
			delete(n.files, p)
		default:
			reply(w, map[string]bool{"boolean": false})
			return
		}
		reply(w, map[string]bool{"boolean": true})
	default:
		remoteException(w, http.StatusBadRequest, "IllegalArgumentException", "Invalid value for webhdfs parameter \"op\"")
	}
}

func (s *store) hasFile(p string) bool {
	_, ok := s.files[p]
	return ok
}

func (s *store) fileSet() map[string]bool {
	m := make(map[string]bool, len(s.files))
	for p := range s.files {
		m[p] = true
	}
	return m
}

func (n *namenode) serveData(w http.ResponseWriter, r *http.Request, p string) {
	n.store.mu.Lock()
	defer n.store.mu.Unlock()
	switch r.Method {
	case http.MethodGet:
		data, ok := n.files[p]
		if !ok {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write(data)
	case http.MethodPut:
		data, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		n.mkdirs(path.Dir(p))
		n.files[p] = data
		n.mtimes[p] = time.Now()
		w.Header().Set("Location", "hdfs://cluster"+p)
		w.WriteHeader(http.StatusCreated)
	default:
		http.Error(w, "bad method", http.StatusMethodNotAllowed)
	}
}
