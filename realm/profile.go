// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package realm

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/lowes/lvfs/errors"
	"github.com/lowes/lvfs/log"
)

// Variant identifies a backend implementation.
type Variant int

const (
	// Local is the local filesystem. It is never configured.
	Local Variant = iota
	// WebHDFS is HDFS over its REST interface, directly, through an SSH
	// tunnel, or with Kerberos.
	WebHDFS
	// GCS is Google Cloud Storage.
	GCS
	// S3 is an S3-compatible store reached with the AWS SDK.
	S3
	// Minio is an S3-compatible store reached with the MinIO client.
	Minio

	maxVariant
)

var variantNames = [maxVariant]string{"Local", "WebHDFS", "GCS", "S3", "Minio"}

func (v Variant) String() string {
	if v < 0 || v >= maxVariant {
		return fmt.Sprintf("Variant(%d)", int(v))
	}
	return variantNames[v]
}

// classnames maps configured realm classnames to variants. Classnames are
// case sensitive. Every HDFS profile has historically been configured as
// HDFSOverSSH, with or without SSH.
var classnames = map[string]Variant{
	"HDFSOverSSH": WebHDFS,
	"WebHDFS":     WebHDFS,
	"HDFS":        WebHDFS,
	"GCS":         GCS,
	"S3":          S3,
	"Minio":       Minio,
}

// schemeVariants lists the variants that may serve each scheme.
var schemeVariants = map[string][]Variant{
	"hdfs":    {WebHDFS},
	"webhdfs": {WebHDFS},
	"gs":      {GCS},
	"s3":      {S3, Minio},
	"minio":   {Minio},
}

// Schemes returns the variants that may serve scheme, or nil if the scheme
// is not supported.
func Schemes(scheme string) []Variant {
	return schemeVariants[scheme]
}

// Mode is the connection mode of a WebHDFS profile.
type Mode int

const (
	// NoMode is the mode of profiles that are not WebHDFS.
	NoMode Mode = iota
	// DirectTrusted connects directly and names the user with user.name.
	DirectTrusted
	// TunnelTrusted is DirectTrusted through an SSH tunnel.
	TunnelTrusted
	// DirectBasic connects directly with HTTP basic authentication.
	DirectBasic
	// TunnelBasic is DirectBasic through an SSH tunnel.
	TunnelBasic
	// DirectKerberos connects directly with SPNEGO.
	DirectKerberos
	// TunnelKerberos is DirectKerberos through an SSH tunnel.
	TunnelKerberos
)

var modeNames = map[Mode]string{
	NoMode:         "none",
	DirectTrusted:  "direct-trusted",
	TunnelTrusted:  "tunnel-trusted",
	DirectBasic:    "direct-basic",
	TunnelBasic:    "tunnel-basic",
	DirectKerberos: "direct-kerberos",
	TunnelKerberos: "tunnel-kerberos",
}

func (m Mode) String() string { return modeNames[m] }

// Tunneled tells whether the mode connects through an SSH tunnel.
func (m Mode) Tunneled() bool {
	return m == TunnelTrusted || m == TunnelBasic || m == TunnelKerberos
}

// Kerberos tells whether the mode authenticates with SPNEGO.
func (m Mode) Kerberos() bool {
	return m == DirectKerberos || m == TunnelKerberos
}

// KerberosUser is the username that selects Kerberos authentication.
const KerberosUser = "kerberos"

// Realm selects the locations a profile applies to. Unset fields match
// anything.
type Realm struct {
	// Classname names the backend variant. It is required.
	Classname string `yaml:"classname"`
	// Host matches the location's host, case-insensitively.
	Host string `yaml:"host"`
	// Bucket matches the location's bucket, case-insensitively: the first
	// path segment for s3 and minio, the host for gs.
	Bucket string `yaml:"bucket"`
	// Path matches locations whose path, within the bucket for object
	// stores, starts with it.
	Path string `yaml:"path"`
}

// Profile is one configured credential stanza.
type Profile struct {
	Realm Realm `yaml:"realm"`

	SSHUsername string `yaml:"ssh_username"`
	SSHJumpHost string `yaml:"ssh_jump_host"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	// WebHDFSRoot is a ';'-separated list of namenode URLs.
	WebHDFSRoot string `yaml:"webhdfs_root"`

	// Endpoint is the S3-compatible server for Minio and S3 profiles
	// whose realm host is unset or not an endpoint.
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Secure    bool   `yaml:"secure"`
	Region    string `yaml:"region"`
	// Project is the GCP project of a GCS profile.
	Project string `yaml:"project"`
	// Insecure skips TLS certificate verification, for clusters with
	// self-signed certificates.
	Insecure bool `yaml:"insecure"`

	// Index is the profile's position in its configuration.
	Index int `yaml:"-"`
	// Variant and Mode are set by Validate.
	Variant Variant `yaml:"-"`
	Mode    Mode    `yaml:"-"`
}

// Name identifies the profile in messages: its index and classname.
func (p *Profile) Name() string {
	return fmt.Sprintf("profile %d (%s)", p.Index, p.Realm.Classname)
}

// String describes the profile without its secrets.
func (p *Profile) String() string {
	var b strings.Builder
	b.WriteString(p.Name())
	field := func(k, v string) {
		if v != "" {
			fmt.Fprintf(&b, " %s=%s", k, v)
		}
	}
	field("host", p.Realm.Host)
	field("bucket", p.Realm.Bucket)
	field("path", p.Realm.Path)
	field("ssh", sshTarget(p.SSHUsername, p.SSHJumpHost))
	field("user", p.Username)
	if p.Password != "" {
		b.WriteString(" password=***")
	}
	field("webhdfs_root", p.WebHDFSRoot)
	field("endpoint", p.Endpoint)
	field("access_key", p.AccessKey)
	if p.Mode != NoMode {
		field("mode", p.Mode.String())
	}
	return b.String()
}

func sshTarget(user, host string) string {
	if user == "" && host == "" {
		return ""
	}
	return user + "@" + host
}

// Endpoints returns the WebHDFS namenode URLs in configured order.
func (p *Profile) Endpoints() []string {
	var eps []string
	for _, e := range strings.Split(p.WebHDFSRoot, ";") {
		if e = strings.TrimSpace(e); e != "" {
			eps = append(eps, strings.TrimRight(e, "/"))
		}
	}
	return eps
}

// TunnelTargets returns the host:port of every endpoint, for forwarding.
func (p *Profile) TunnelTargets() ([]string, error) {
	var targets []string
	for _, e := range p.Endpoints() {
		u, err := url.Parse(e)
		if err != nil || u.Host == "" {
			return nil, errors.E(errors.InvalidConfig, fmt.Sprintf("%s: bad webhdfs_root entry %q", p.Name(), e))
		}
		host := u.Host
		if u.Port() == "" {
			port := "80"
			if u.Scheme == "https" {
				port = "443"
			}
			host = net.JoinHostPort(u.Hostname(), port)
		}
		targets = append(targets, host)
	}
	return targets, nil
}

// invalid returns an InvalidConfig error naming the profile and the rule
// it breaks.
func (p *Profile) invalid(rule string) error {
	return errors.E(errors.InvalidConfig, fmt.Sprintf("%s: %s", p.Name(), rule))
}

// Validate checks the profile against the legality rules of its variant,
// and sets its Variant and, for WebHDFS, its Mode. It returns an error of
// kind errors.InvalidConfig naming the profile and the violated rule.
func (p *Profile) Validate() error {
	if p.Realm.Classname == "" {
		return p.invalid("realm.classname is required")
	}
	v, ok := classnames[p.Realm.Classname]
	if !ok {
		return p.invalid(fmt.Sprintf("unknown realm classname %q", p.Realm.Classname))
	}
	p.Variant = v
	p.Mode = NoMode
	switch v {
	case WebHDFS:
		return p.validateWebHDFS()
	case S3, Minio:
		if p.AccessKey == "" || p.SecretKey == "" {
			return p.invalid("access_key and secret_key are required")
		}
		if p.SSHJumpHost != "" || p.SSHUsername != "" {
			return p.invalid("ssh tunnels are only supported for WebHDFS")
		}
	case GCS:
		if p.SSHJumpHost != "" || p.SSHUsername != "" {
			return p.invalid("ssh tunnels are only supported for WebHDFS")
		}
		if p.Password != "" {
			return p.invalid("GCS uses application default credentials, not passwords")
		}
	}
	return nil
}

// validateWebHDFS applies the connection legality table. Rows are
// evaluated in order; the first that rejects the profile names the rule.
func (p *Profile) validateWebHDFS() error {
	var (
		j = p.SSHJumpHost != ""
		u = p.SSHUsername != ""
		n = p.Username != ""
		w = p.Password != ""
		e = len(p.Endpoints()) > 0
	)
	switch {
	case !e:
		return p.invalid("webhdfs_root is required")
	case j && !u:
		return p.invalid("ssh_jump_host requires ssh_username")
	case u && !j:
		return p.invalid("ssh_username requires ssh_jump_host")
	case w && !n:
		return p.invalid("password requires username")
	case p.Username == KerberosUser && w:
		return p.invalid("kerberos does not take a password")
	}
	if _, err := p.TunnelTargets(); err != nil {
		return err
	}
	switch {
	case p.Username == KerberosUser && j:
		p.Mode = TunnelKerberos
		log.Warning.Printf("%s: kerberos through an ssh tunnel is untested", p.Name())
	case p.Username == KerberosUser:
		p.Mode = DirectKerberos
	case w && j:
		p.Mode = TunnelBasic
	case w:
		p.Mode = DirectBasic
	case j:
		p.Mode = TunnelTrusted
	default:
		p.Mode = DirectTrusted
	}
	return nil
}
