// Copyright 2014 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// The config package defines configuration parameters for the
// hybridauth server.
package config

import (
	"crypto/tls"
	"fmt"
	"io/ioutil"
	"os"
	"strings"
	"time"

	"gopkg.in/errgo.v1"
	"gopkg.in/yaml.v2"

	"github.com/canonical/hybridauth/internal/mapper"
	"github.com/canonical/hybridauth/store"
)

// Config holds the configuration parameters for the hybridauth
// service.
type Config struct {
	// ListenAddress holds the address that the HTTP server listens
	// on.
	ListenAddress string `yaml:"listen-address"`

	// LoggingConfig holds the loggo configuration string.
	LoggingConfig string `yaml:"logging-config"`

	// AccessLog holds the name of the file that HTTP access logs
	// are written to. If it is empty no access logs are written.
	AccessLog string `yaml:"access-log"`

	// TLSCert and TLSKey hold the PEM encoded certificate and key
	// used to serve HTTPS. Both must be set or neither.
	TLSCert string `yaml:"tls-cert"`
	TLSKey  string `yaml:"tls-key"`

	// AdminPassword holds the password of the admin user of the
	// administrative API.
	AdminPassword string `yaml:"admin-password"`

	// Location holds the external URL of the service.
	Location string `yaml:"location"`

	// Storage holds the storage backend.
	Storage *store.Config `yaml:"storage"`

	// LocalEnabled records whether local login is offered alongside
	// the domains.
	LocalEnabled bool `yaml:"local-enabled"`

	// SessionTimeout holds how long the state of an authentication
	// session is kept.
	SessionTimeout DurationString `yaml:"session-timeout"`

	// AutoCreate holds the initial contents of the autocreate ACL.
	AutoCreate []string `yaml:"auto-create"`

	// Domains holds the configuration of each domain.
	Domains []mapper.DomainParams `yaml:"domains"`
}

func (c *Config) validate() error {
	var missing []string
	if c.ListenAddress == "" {
		missing = append(missing, "listen-address")
	}
	if c.Storage == nil {
		missing = append(missing, "storage")
	}
	if len(missing) != 0 {
		return errgo.Newf("missing fields %s in config file", strings.Join(missing, ", "))
	}
	if (c.TLSCert == "") != (c.TLSKey == "") {
		return errgo.Newf("tls-cert and tls-key must be specified together")
	}
	seen := make(map[string]bool)
	for i, d := range c.Domains {
		if d.Name == "" {
			return errgo.Newf("domain %d has no name", i)
		}
		if d.Name == mapper.LocalDomain {
			return errgo.Newf("domain name %q is reserved", d.Name)
		}
		if seen[d.Name] {
			return errgo.Newf("duplicate domain %q", d.Name)
		}
		seen[d.Name] = true
	}
	return nil
}

// TLSConfig returns a TLS configuration to be used for serving the
// API. If the TLS certificate and key are not specified, it returns
// nil.
func (c *Config) TLSConfig() (*tls.Config, error) {
	if c.TLSCert == "" || c.TLSKey == "" {
		return nil, nil
	}
	cert, err := tls.X509KeyPair([]byte(c.TLSCert), []byte(c.TLSKey))
	if err != nil {
		return nil, errgo.Notef(err, "cannot create certificate")
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}

// Read reads a hybridauth configuration file from the given path.
func Read(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errgo.Notef(err, "cannot open config file")
	}
	defer f.Close()
	data, err := ioutil.ReadAll(f)
	if err != nil {
		return nil, errgo.Notef(err, "cannot read %q", path)
	}
	var conf Config
	err = yaml.Unmarshal(data, &conf)
	if err != nil {
		return nil, errgo.Notef(err, "cannot parse %q", path)
	}
	if err := conf.validate(); err != nil {
		return nil, errgo.Mask(err)
	}
	return &conf, nil
}

// DurationString holds a duration that marshals and unmarshals as a
// friendly string.
type DurationString struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (dp *DurationString) UnmarshalText(data []byte) error {
	d, err := time.ParseDuration(string(data))
	if err != nil {
		return errgo.Mask(err)
	}
	dp.Duration = d
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (dp DurationString) MarshalText() ([]byte, error) {
	return []byte(dp.Duration.String()), nil
}

// String implements fmt.Stringer.
func (dp DurationString) String() string {
	return fmt.Sprint(dp.Duration)
}
