// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package miniofile_test

import (
	"bufio"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

type object struct {
	data    []byte
	modTime time.Time
}

// s3Server is a fake of the S3 REST API, path-style, for the calls
// minio-go makes on behalf of the backend. Signatures are not checked.
type s3Server struct {
	*httptest.Server

	mu       sync.Mutex
	buckets  map[string]map[string]object
	created  map[string]time.Time
	pageSize int

	// deny, if set, answers every object request with this error code and
	// status 403.
	deny string
}

func newS3Server(buckets ...string) *s3Server {
	s := &s3Server{
		buckets:  make(map[string]map[string]object),
		created:  make(map[string]time.Time),
		pageSize: 1000,
	}
	for _, b := range buckets {
		s.buckets[b] = make(map[string]object)
		s.created[b] = time.Now()
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	return s
}

// Endpoint returns the server's host:port.
func (s *s3Server) Endpoint() string { return strings.TrimPrefix(s.URL, "http://") }

type errorResponse struct {
	XMLName    xml.Name `xml:"Error"`
	Code       string   `xml:"Code"`
	Message    string   `xml:"Message"`
	BucketName string   `xml:"BucketName,omitempty"`
	Key        string   `xml:"Key,omitempty"`
	RequestID  string   `xml:"RequestId"`
}

func writeXML(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(code)
	_, _ = io.WriteString(w, xml.Header)
	_ = xml.NewEncoder(w).Encode(v)
}

func s3Error(w http.ResponseWriter, r *http.Request, status int, code, bucket, key string) {
	if r.Method == http.MethodHead {
		w.WriteHeader(status)
		return
	}
	writeXML(w, status, errorResponse{Code: code, Message: code, BucketName: bucket, Key: key, RequestID: "fake"})
}

func (s *s3Server) serve(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := strings.TrimPrefix(r.URL.Path, "/")
	if p == "" {
		s.listBuckets(w)
		return
	}
	bucket, key := p, ""
	if i := strings.Index(p, "/"); i >= 0 {
		bucket, key = p[:i], p[i+1:]
	}
	objects, ok := s.buckets[bucket]
	if key == "" {
		switch {
		case r.Method == http.MethodPut && ok:
			s3Error(w, r, http.StatusConflict, "BucketAlreadyOwnedByYou", bucket, "")
		case r.Method == http.MethodPut:
			s.buckets[bucket] = make(map[string]object)
			s.created[bucket] = time.Now()
			w.Header().Set("Location", "/"+bucket)
			w.WriteHeader(http.StatusOK)
		case !ok:
			s3Error(w, r, http.StatusNotFound, "NoSuchBucket", bucket, "")
		case r.Method == http.MethodHead:
			w.WriteHeader(http.StatusOK)
		case r.Method == http.MethodGet:
			s.list(w, r, bucket, objects)
		default:
			s3Error(w, r, http.StatusMethodNotAllowed, "MethodNotAllowed", bucket, "")
		}
		return
	}
	if !ok {
		s3Error(w, r, http.StatusNotFound, "NoSuchBucket", bucket, key)
		return
	}
	if s.deny != "" {
		s3Error(w, r, http.StatusForbidden, s.deny, bucket, key)
		return
	}
	switch r.Method {
	case http.MethodHead, http.MethodGet:
		o, ok := objects[key]
		if !ok {
			s3Error(w, r, http.StatusNotFound, "NoSuchKey", bucket, key)
			return
		}
		h := w.Header()
		h.Set("Content-Length", strconv.Itoa(len(o.data)))
		h.Set("Content-Type", "application/octet-stream")
		h.Set("Last-Modified", o.modTime.UTC().Format(http.TimeFormat))
		h.Set("ETag", `"`+fmt.Sprintf("%x", len(o.data))+`"`)
		h.Set("Accept-Ranges", "bytes")
		w.WriteHeader(http.StatusOK)
		if r.Method == http.MethodGet {
			_, _ = w.Write(o.data)
		}
	case http.MethodPut:
		data, err := readPayload(r)
		if err != nil {
			s3Error(w, r, http.StatusBadRequest, "IncompleteBody", bucket, key)
			return
		}
		objects[key] = object{data: data, modTime: time.Now()}
		w.Header().Set("ETag", `"`+fmt.Sprintf("%x", len(data))+`"`)
		w.WriteHeader(http.StatusOK)
	case http.MethodDelete:
		delete(objects, key)
		w.WriteHeader(http.StatusNoContent)
	default:
		s3Error(w, r, http.StatusMethodNotAllowed, "MethodNotAllowed", bucket, key)
	}
}

// readPayload reads a request body, decoding aws-chunked bodies.
func readPayload(r *http.Request) ([]byte, error) {
	if !strings.HasPrefix(r.Header.Get("X-Amz-Content-Sha256"), "STREAMING-") {
		return io.ReadAll(r.Body)
	}
	var (
		out bytes.Buffer
		br  = bufio.NewReader(r.Body)
	)
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			return nil, err
		}
		size, err := strconv.ParseInt(strings.TrimSpace(strings.SplitN(line, ";", 2)[0]), 16, 64)
		if err != nil {
			return nil, err
		}
		if size == 0 {
			return out.Bytes(), nil
		}
		if _, err := io.CopyN(&out, br, size); err != nil {
			return nil, err
		}
		if _, err := br.ReadString('\n'); err != nil {
			return nil, err
		}
	}
}

type listEntry struct {
	Key          string    `xml:"Key"`
	LastModified time.Time `xml:"LastModified"`
	ETag         string    `xml:"ETag"`
	Size         int64     `xml:"Size"`
	StorageClass string    `xml:"StorageClass"`
}

type commonPrefix struct {
	Prefix string `xml:"Prefix"`
}

type listBucketResult struct {
	XMLName               xml.Name       `xml:"ListBucketResult"`
	Name                  string         `xml:"Name"`
	Prefix                string         `xml:"Prefix"`
	Delimiter             string         `xml:"Delimiter,omitempty"`
	MaxKeys               int            `xml:"MaxKeys"`
	KeyCount              int            `xml:"KeyCount"`
	IsTruncated           bool           `xml:"IsTruncated"`
	ContinuationToken     string         `xml:"ContinuationToken,omitempty"`
	NextContinuationToken string         `xml:"NextContinuationToken,omitempty"`
	Contents              []listEntry    `xml:"Contents"`
	CommonPrefixes        []commonPrefix `xml:"CommonPrefixes"`
}

func (s *s3Server) list(w http.ResponseWriter, r *http.Request, bucket string, objects map[string]object) {
	q := r.URL.Query()
	prefix, delim := q.Get("prefix"), q.Get("delimiter")
	var keys []string
	for k := range objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	type record struct {
		key    string
		prefix bool
	}
	var (
		records []record
		seen    = make(map[string]bool)
	)
	for _, k := range keys {
		if i := strings.Index(k[len(prefix):], delim); delim != "" && i >= 0 {
			p := k[:len(prefix)+i+1]
			if !seen[p] {
				seen[p] = true
				records = append(records, record{key: p, prefix: true})
			}
			continue
		}
		records = append(records, record{key: k})
	}
	max := s.pageSize
	if m, err := strconv.Atoi(q.Get("max-keys")); err == nil && m > 0 && m < max {
		max = m
	}
	start, _ := strconv.Atoi(q.Get("continuation-token"))
	if start > len(records) {
		start = len(records)
	}
	end := start + max
	if end > len(records) {
		end = len(records)
	}
	result := listBucketResult{
		Name:              bucket,
		Prefix:            prefix,
		Delimiter:         delim,
		MaxKeys:           max,
		KeyCount:          end - start,
		IsTruncated:       end < len(records),
		ContinuationToken: q.Get("continuation-token"),
	}
	if result.IsTruncated {
		result.NextContinuationToken = strconv.Itoa(end)
	}
	for _, rec := range records[start:end] {
		if rec.prefix {
			result.CommonPrefixes = append(result.CommonPrefixes, commonPrefix{Prefix: rec.key})
			continue
		}
		o := objects[rec.key]
		result.Contents = append(result.Contents, listEntry{
			Key:          rec.key,
			LastModified: o.modTime.UTC(),
			ETag:         `"` + fmt.Sprintf("%x", len(o.data)) + `"`,
			Size:         int64(len(o.data)),
			StorageClass: "STANDARD",
		})
	}
	writeXML(w, http.StatusOK, result)
}

type bucketInfo struct {
	Name         string    `xml:"Name"`
	CreationDate time.Time `xml:"CreationDate"`
}

type listAllMyBucketsResult struct {
	XMLName xml.Name `xml:"ListAllMyBucketsResult"`
	Owner   struct {
		ID          string `xml:"ID"`
		DisplayName string `xml:"DisplayName"`
	} `xml:"Owner"`
	Buckets struct {
		Bucket []bucketInfo `xml:"Bucket"`
	} `xml:"Buckets"`
}

func (s *s3Server) listBuckets(w http.ResponseWriter) {
	var result listAllMyBucketsResult
	result.Owner.ID = "fake"
	for name := range s.buckets {
		result.Buckets.Bucket = append(result.Buckets.Bucket, bucketInfo{Name: name, CreationDate: s.created[name].UTC()})
	}
	writeXML(w, http.StatusOK, result)
}
