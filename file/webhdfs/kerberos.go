// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package webhdfs

import (
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jcmturner/gokrb5/v8/client"
	"github.com/jcmturner/gokrb5/v8/config"
	"github.com/jcmturner/gokrb5/v8/credentials"
	"github.com/jcmturner/gokrb5/v8/spnego"
	"github.com/lowes/lvfs/errors"
	"github.com/lowes/lvfs/log"
)

// ccachePath returns the ticket cache named by $KRB5CCNAME, or the
// default cache of the current user.
func ccachePath() string {
	if name := os.Getenv("KRB5CCNAME"); name != "" {
		return strings.TrimPrefix(name, "FILE:")
	}
	return fmt.Sprintf("/tmp/krb5cc_%d", os.Getuid())
}

func krb5ConfPath() string {
	if path := os.Getenv("KRB5_CONFIG"); path != "" {
		return path
	}
	return "/etc/krb5.conf"
}

// kerberosClient wraps c with SPNEGO negotiation, authenticating with the
// ticket granting ticket in the local cache. There is no keytab or
// password fallback: a missing or expired ticket is an errors.Auth error.
func kerberosClient(c *http.Client) (doer, error) {
	path := ccachePath()
	cc, err := credentials.LoadCCache(path)
	if err != nil {
		return nil, errors.E(errors.Auth, fmt.Sprintf("kerberos: no ticket cache at %s; run kinit", path), err)
	}
	var valid bool
	for _, cred := range cc.GetEntries() {
		if cred.EndTime.After(time.Now()) {
			valid = true
			break
		}
	}
	if !valid {
		return nil, errors.E(errors.Auth, fmt.Sprintf("kerberos: tickets in %s have expired; run kinit", path))
	}
	cfg, err := config.Load(krb5ConfPath())
	if err != nil {
		return nil, errors.E(errors.InvalidConfig, fmt.Sprintf("kerberos: load %s", krb5ConfPath()), err)
	}
	cl, err := client.NewFromCCache(cc, cfg, client.DisablePAFXFAST(true))
	if err != nil {
		return nil, errors.E(errors.Auth, fmt.Sprintf("kerberos: %s; run kinit", path), err)
	}
	log.Debug.Printf("kerberos: using tickets of %s from %s", cc.DefaultPrincipal.PrincipalName.PrincipalNameString(), path)
	return spnego.NewClient(cl, c, ""), nil
}
