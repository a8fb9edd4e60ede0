// Copyright 2014 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package config_test

import (
	"io/ioutil"
	"path/filepath"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"

	"github.com/canonical/hybridauth/config"
	_ "github.com/canonical/hybridauth/idp/static"
	_ "github.com/canonical/hybridauth/store/memstore"
)

const testConfig = `
listen-address: 1.2.3.4:5678
logging-config: <root>=INFO;hybridauth=DEBUG
access-log: /var/log/hybridauth/access.log
admin-password: supersecret
location: https://hybridauth.example.com
local-enabled: true
session-timeout: 10m
auto-create: [corp]
storage:
  type: memory
domains:
  - name: corp
    authoritative: true
    provider:
      type: static
      description: Corporate users
      users:
        alice:
          password: alicepassword
          email: alice@example.com
    user:
      map-type: email
      hint-type: username
  - name: partner
    enabled: false
    auto-create: false
    provider:
      type: static
`

func readConfig(c *qt.C, content string) (*config.Config, error) {
	// Write the configuration content to file.
	path := filepath.Join(c.Mkdir(), "config.yaml")
	err := ioutil.WriteFile(path, []byte(content), 0666)
	c.Assert(err, qt.IsNil)

	// Read the configuration.
	return config.Read(path)
}

func TestRead(t *testing.T) {
	c := qt.New(t)
	conf, err := readConfig(c, testConfig)
	c.Assert(err, qt.IsNil)
	c.Assert(conf.ListenAddress, qt.Equals, "1.2.3.4:5678")
	c.Assert(conf.LoggingConfig, qt.Equals, "<root>=INFO;hybridauth=DEBUG")
	c.Assert(conf.AccessLog, qt.Equals, "/var/log/hybridauth/access.log")
	c.Assert(conf.AdminPassword, qt.Equals, "supersecret")
	c.Assert(conf.Location, qt.Equals, "https://hybridauth.example.com")
	c.Assert(conf.LocalEnabled, qt.IsTrue)
	c.Assert(conf.SessionTimeout.Duration, qt.Equals, 10*time.Minute)
	c.Assert(conf.AutoCreate, qt.DeepEquals, []string{"corp"})
	c.Assert(conf.Storage, qt.Not(qt.IsNil))
	c.Assert(conf.Storage.BackendFactory, qt.Not(qt.IsNil))

	c.Assert(conf.Domains, qt.HasLen, 2)
	corp := conf.Domains[0]
	c.Assert(corp.Name, qt.Equals, "corp")
	c.Assert(corp.Enabled, qt.IsNil)
	c.Assert(corp.Authoritative, qt.IsTrue)
	c.Assert(corp.Provider.Type(), qt.Equals, "static")
	c.Assert(corp.Provider.Description(), qt.Equals, "Corporate users")
	c.Assert(corp.User.MapType, qt.Equals, "email")
	c.Assert(corp.User.HintType, qt.Equals, "username")

	partner := conf.Domains[1]
	c.Assert(partner.Name, qt.Equals, "partner")
	c.Assert(*partner.Enabled, qt.IsFalse)
	c.Assert(*partner.AutoCreate, qt.IsFalse)

	tlsConfig, err := conf.TLSConfig()
	c.Assert(err, qt.IsNil)
	c.Assert(tlsConfig, qt.IsNil)
}

func TestReadErrorNotFound(t *testing.T) {
	c := qt.New(t)
	cfg, err := config.Read(filepath.Join(c.Mkdir(), "no-such-file.yaml"))
	c.Assert(err, qt.ErrorMatches, ".* no such file or directory")
	c.Assert(cfg, qt.IsNil)
}

var readErrorTests = []struct {
	about       string
	config      string
	expectError string
}{{
	about:       "empty",
	config:      "",
	expectError: "missing fields listen-address, storage in config file",
}, {
	about:       "invalid YAML",
	config:      ":",
	expectError: `cannot parse ".*": yaml: .*`,
}, {
	about: "unknown storage type",
	config: `
listen-address: :8081
storage:
  type: mongodb
`,
	expectError: `cannot parse ".*": unrecognised storage backend type "mongodb" \(available: memory\)`,
}, {
	about: "storage type not specified",
	config: `
listen-address: :8081
storage:
  connection-string: x
`,
	expectError: `cannot parse ".*": storage type not specified`,
}, {
	about: "unknown provider type",
	config: `
listen-address: :8081
storage:
  type: memory
domains:
  - name: corp
    provider:
      type: nosuch
`,
	expectError: `cannot parse ".*": unrecognised identity provider type "nosuch" \(available: static\)`,
}, {
	about: "invalid session timeout",
	config: `
listen-address: :8081
session-timeout: forever
storage:
  type: memory
`,
	expectError: `cannot parse ".*": .*invalid duration.*`,
}, {
	about: "domain without name",
	config: `
listen-address: :8081
storage:
  type: memory
domains:
  - provider:
      type: static
`,
	expectError: `domain 0 has no name`,
}, {
	about: "reserved domain name",
	config: `
listen-address: :8081
storage:
  type: memory
domains:
  - name: local
    provider:
      type: static
`,
	expectError: `domain name "local" is reserved`,
}, {
	about: "duplicate domain",
	config: `
listen-address: :8081
storage:
  type: memory
domains:
  - name: corp
    provider:
      type: static
  - name: corp
    provider:
      type: static
`,
	expectError: `duplicate domain "corp"`,
}, {
	about: "certificate without key",
	config: `
listen-address: :8081
tls-cert: something
storage:
  type: memory
`,
	expectError: `tls-cert and tls-key must be specified together`,
}}

func TestReadErrors(t *testing.T) {
	c := qt.New(t)
	for _, test := range readErrorTests {
		c.Run(test.about, func(c *qt.C) {
			cfg, err := readConfig(c, test.config)
			c.Assert(err, qt.ErrorMatches, test.expectError)
			c.Assert(cfg, qt.IsNil)
		})
	}
}

func TestDurationString(t *testing.T) {
	c := qt.New(t)
	var d config.DurationString
	err := d.UnmarshalText([]byte("1h30m"))
	c.Assert(err, qt.IsNil)
	c.Assert(d.Duration, qt.Equals, 90*time.Minute)
	data, err := d.MarshalText()
	c.Assert(err, qt.IsNil)
	c.Assert(string(data), qt.Equals, "1h30m0s")
}
