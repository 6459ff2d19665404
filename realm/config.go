// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package realm

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/lowes/lvfs/errors"
	"github.com/lowes/lvfs/log"
	"gopkg.in/yaml.v3"
)

// EnvConfig names the environment variable that overrides the
// configuration search path.
const EnvConfig = "LVFS_CONFIG"

// DefaultPaths is the configuration search path, in order.
var DefaultPaths = []string{
	"./lvfs.yml",
	"~/.config/lvfs.yml",
	"/etc/creds/lvfs.yml",
	"/etc/secret/lvfs.yml",
}

// Config is an ordered list of validated profiles. It is not modified
// after it is built; to reload, build a new Config and a new Registry.
type Config struct {
	// Path is the file the configuration was read from, if any.
	Path     string
	Profiles []*Profile
}

type configFile struct {
	Credentials []*Profile `yaml:"credentials"`
}

func decodeConfig(data []byte, strict bool) (configFile, error) {
	var f configFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(strict)
	if err := dec.Decode(&f); err != nil && err != io.EOF {
		return configFile{}, err
	}
	return f, nil
}

// Parse reads a YAML configuration and validates every profile. Keys
// lvfs does not know, such as those of other tools sharing the file, are
// ignored with a warning naming them.
func Parse(data []byte) (*Config, error) {
	f, err := decodeConfig(data, true)
	if err != nil {
		var lerr error
		if f, lerr = decodeConfig(data, false); lerr != nil {
			return nil, errors.E(errors.InvalidConfig, "parse credentials", lerr)
		}
		log.Warning.Printf("credentials: ignoring unknown keys: %v", err)
	}
	config := &Config{Profiles: f.Credentials}
	for i, p := range config.Profiles {
		if p == nil {
			return nil, errors.E(errors.InvalidConfig, fmt.Sprintf("profile %d: empty stanza", i))
		}
		p.Index = i
		if err := p.Validate(); err != nil {
			return nil, err
		}
	}
	return config, nil
}

// Load reads the first configuration file found on paths. If paths is
// empty, Load searches $LVFS_CONFIG if it is set, and DefaultPaths
// otherwise. Missing files are skipped. If no file is found, Load returns
// an empty configuration and logs a warning. A file that exists but
// cannot be read or parsed is an error.
func Load(paths ...string) (*Config, error) {
	if len(paths) == 0 {
		if env := os.Getenv(EnvConfig); env != "" {
			paths = []string{env}
		} else {
			paths = DefaultPaths
		}
	}
	for _, path := range paths {
		path = expandHome(path)
		data, err := os.ReadFile(path)
		if os.IsNotExist(err) {
			log.Debug.Printf("credentials not found at %s", path)
			continue
		}
		if err != nil {
			return nil, errors.E(errors.InvalidConfig, fmt.Sprintf("read credentials %s", path), err)
		}
		config, err := Parse(data)
		if err != nil {
			return nil, errors.E(fmt.Sprintf("load %s", path), err)
		}
		config.Path = path
		log.Debug.Printf("loaded %d credential profiles from %s", len(config.Profiles), path)
		return config, nil
	}
	log.Warning.Printf("no lvfs credentials found in %s", strings.Join(paths, ", "))
	return &Config{}, nil
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
