package config

import (
	"net"
	"path/filepath"
	"strconv"
	"time"
)

// Config is the validated and defaulted configuration. It is never
// modified after ApplyDefaults returns it and is safe for concurrent reads.
type Config struct {
	ikey string
	skey string
	host string

	logDir          string
	endpoints       []string
	pollingDuration float64
	daysInPast      int
	checkpointDir   string
	offset          int64

	transport Transport

	recoverFromCheckpoint bool

	tree map[string]interface{}
}

// Credentials used by the Duo Admin API.
type Credentials struct {
	IKey string
	SKey string
	Host string
}

// Transport describes where fetched logs are forwarded.
type Transport struct {
	Protocol     string
	Host         string
	Port         int
	CertFileDir  string
	CertFileName string
}

func (t Transport) Address() string {
	return net.JoinHostPort(t.Host, strconv.Itoa(t.Port))
}

// CertFilePath is empty unless the protocol is TCPSSL.
func (t Transport) CertFilePath() string {
	if t.Protocol != ProtocolTCPSSL {
		return ""
	}
	return filepath.Join(t.CertFileDir, t.CertFileName)
}

func (c *Config) EnabledEndpoints() []string {
	out := make([]string, len(c.endpoints))
	copy(out, c.endpoints)
	return out
}

// IsEnabled reports whether logs should be fetched for endpoint.
func (c *Config) IsEnabled(endpoint string) bool {
	return contains(c.endpoints, endpoint)
}

// PollingDurationSeconds is logs.polling.duration as configured (after clamping).
func (c *Config) PollingDurationSeconds() float64 {
	return c.pollingDuration
}

func (c *Config) PollingDuration() time.Duration {
	return time.Duration(c.pollingDuration * float64(time.Second))
}

func (c *Config) DaysInPast() int {
	return c.daysInPast
}

// Offset is the earliest point in time from which logs are fetched.
func (c *Config) Offset() time.Time {
	return time.Unix(c.offset, 0)
}

func (c *Config) OffsetUnix() int64 {
	return c.offset
}

func (c *Config) CheckpointDir() string {
	return c.checkpointDir
}

func (c *Config) LogDir() string {
	return c.logDir
}

func (c *Config) IKey() string {
	return c.ikey
}

func (c *Config) SKey() string {
	return c.skey
}

func (c *Config) Host() string {
	return c.host
}

func (c *Config) Credentials() Credentials {
	return Credentials{IKey: c.ikey, SKey: c.skey, Host: c.host}
}

func (c *Config) RecoverFromCheckpoint() bool {
	return c.recoverFromCheckpoint
}

func (c *Config) Transport() Transport {
	return c.transport
}

// freeze builds the lookup tree used by Get.
func (c *Config) freeze() {
	enabled := make([]interface{}, 0, len(c.endpoints))
	for _, e := range c.endpoints {
		enabled = append(enabled, e)
	}
	transport := map[string]interface{}{
		"protocol": c.transport.Protocol,
		"host":     c.transport.Host,
		"port":     c.transport.Port,
	}
	if c.transport.CertFileDir != "" {
		transport["certFileDir"] = c.transport.CertFileDir
	}
	if c.transport.CertFileName != "" {
		transport["certFileName"] = c.transport.CertFileName
	}
	c.tree = map[string]interface{}{
		"duoclient": map[string]interface{}{
			"ikey": c.ikey,
			"skey": c.skey,
			"host": c.host,
		},
		"logs": map[string]interface{}{
			"logDir": c.logDir,
			"endpoints": map[string]interface{}{
				"enabled": enabled,
			},
			"polling": map[string]interface{}{
				"duration":   c.pollingDuration,
				"daysinpast": c.daysInPast,
			},
			"checkpointDir": c.checkpointDir,
			"offset":        c.offset,
		},
		"transport": transport,
		"recoverFromCheckpoint": map[string]interface{}{
			"enabled": c.recoverFromCheckpoint,
		},
	}
}

// Get descends path key by key. A present value is returned even when it
// is false, zero or empty; only a missing key is an error. Maps and lists
// are returned as copies.
func (c *Config) Get(path ...string) (interface{}, error) {
	var cur interface{} = c.tree
	for _, key := range path {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil, &KeyNotFoundError{Path: path, Key: key}
		}
		if cur, ok = m[key]; !ok {
			return nil, &KeyNotFoundError{Path: path, Key: key}
		}
	}
	return duplicate(cur), nil
}

func duplicate(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		m := make(map[string]interface{}, len(t))
		for k, e := range t {
			m[k] = duplicate(e)
		}
		return m
	case []interface{}:
		l := make([]interface{}, len(t))
		for i, e := range t {
			l[i] = duplicate(e)
		}
		return l
	}
	return v
}

const redacted = "********"

// MarshalYAML renders the effective config with the secret key redacted.
func (c *Config) MarshalYAML() (interface{}, error) {
	out := duplicate(c.tree).(map[string]interface{})
	out["duoclient"].(map[string]interface{})["skey"] = redacted
	return out, nil
}
