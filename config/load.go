package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/refractionPOINT/duologsync/utils"
)

const (
	DefaultDirectory  = "/tmp"
	DefaultDaysInPast = 180

	// Seconds to wait between API requests.
	MinimumPollingDuration = 120
)

const (
	EndpointAdminAction = "adminaction"
	EndpointAuth        = "auth"
	EndpointTelephony   = "telephony"
)

var ValidEndpoints = []string{EndpointAdminAction, EndpointAuth, EndpointTelephony}

const defaultMsg = "Config: No value given for %s, using default value of %v"

// RawConfig is the parsed but not yet validated YAML document.
type RawConfig map[string]interface{}

// Loader runs the load, validate and default steps. Log receives one line
// per diagnostic, Now is the clock used to derive logs.offset.
type Loader struct {
	Log func(msg string)
	Now func() time.Time
}

var defaultLoader = &Loader{}

func Load(filePath string) (RawConfig, error) {
	return defaultLoader.Load(filePath)
}

func Validate(raw RawConfig) error {
	return defaultLoader.Validate(raw)
}

func ApplyDefaults(raw RawConfig) (*Config, error) {
	return defaultLoader.ApplyDefaults(raw)
}

func FromFile(filePath string, overrides ...string) (*Config, error) {
	return defaultLoader.FromFile(filePath, overrides...)
}

func (l *Loader) log(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	if l.Log == nil {
		fmt.Println(msg)
		return
	}
	l.Log(msg)
}

func (l *Loader) now() time.Time {
	if l.Now == nil {
		return time.Now()
	}
	return l.Now()
}

// FromFile loads, overrides, validates and defaults the config at filePath.
// The steps run strictly in order and the first failure is returned.
func (l *Loader) FromFile(filePath string, overrides ...string) (*Config, error) {
	raw, err := l.Load(filePath)
	if err != nil {
		return nil, err
	}
	if err := utils.ApplyOverrides(raw, overrides, fieldKinds); err != nil {
		return nil, fmt.Errorf("overrides: %v", err)
	}
	if err := l.Validate(raw); err != nil {
		return nil, err
	}
	return l.ApplyDefaults(raw)
}

// Load reads filePath fully and parses it as YAML.
func (l *Loader) Load(filePath string) (RawConfig, error) {
	b, err := os.ReadFile(filePath)
	if err != nil {
		l.log("An error occurred while opening the config file. Check that the filename and filepath are correct")
		return nil, &IOError{Path: filePath, Err: err}
	}
	raw, err := Parse(b)
	if err != nil {
		l.log("An error occurred while reading the config file. Check that the file has valid YAML.")
		return nil, &ParseError{Path: filePath, Err: err}
	}
	return raw, nil
}

// Parse decodes a YAML document into a RawConfig. An empty document is
// an empty RawConfig.
func Parse(data []byte) (RawConfig, error) {
	var doc interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if doc == nil {
		return RawConfig{}, nil
	}
	m, ok := normalize(doc).(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("top level of the document must be a mapping, got %T", doc)
	}
	return RawConfig(m), nil
}

// normalize turns the map[interface{}]interface{} yaml produces for
// non-string keys into map[string]interface{}.
func normalize(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		for k, e := range t {
			t[k] = normalize(e)
		}
		return t
	case map[interface{}]interface{}:
		m := make(map[string]interface{}, len(t))
		for k, e := range t {
			m[fmt.Sprint(k)] = normalize(e)
		}
		return m
	case []interface{}:
		for i, e := range t {
			t[i] = normalize(e)
		}
		return t
	}
	return v
}

// ApplyDefaults fills every optional field left unset, clamps the polling
// duration and derives logs.offset. raw is not modified.
func (l *Loader) ApplyDefaults(raw RawConfig) (*Config, error) {
	if err := l.Validate(raw); err != nil {
		return nil, err
	}

	duo := raw["duoclient"].(map[string]interface{})
	logs := raw["logs"].(map[string]interface{})
	transport := raw["transport"].(map[string]interface{})
	polling, _ := logs["polling"].(map[string]interface{})
	recovery, _ := raw["recoverFromCheckpoint"].(map[string]interface{})

	c := &Config{
		ikey:      duo["ikey"].(string),
		skey:      duo["skey"].(string),
		host:      duo["host"].(string),
		endpoints: endpointList(logs["endpoints"].(map[string]interface{})["enabled"]),
		transport: Transport{
			Protocol: transport["protocol"].(string),
			Host:     transport["host"].(string),
		},
	}
	c.transport.Port, _ = toInt(transport["port"])
	c.transport.CertFileDir, _ = transport["certFileDir"].(string)
	c.transport.CertFileName, _ = transport["certFileName"].(string)

	if v, ok := logs["logDir"]; ok {
		c.logDir = v.(string)
	} else {
		l.log(defaultMsg, "logs.logDir", DefaultDirectory)
		c.logDir = DefaultDirectory
	}

	if v, ok := polling["duration"]; !ok {
		l.log(defaultMsg, "logs.polling.duration", MinimumPollingDuration)
		c.pollingDuration = MinimumPollingDuration
	} else if d, _ := toFloat(v); d < MinimumPollingDuration {
		l.log("Config: Value given for logs.polling.duration was too low. Set to default value of %d", MinimumPollingDuration)
		c.pollingDuration = MinimumPollingDuration
	} else {
		c.pollingDuration = d
	}

	if v, ok := polling["daysinpast"]; ok {
		c.daysInPast, _ = toInt(v)
	} else {
		l.log(defaultMsg, "logs.polling.daysinpast", DefaultDaysInPast)
		c.daysInPast = DefaultDaysInPast
	}

	if v, ok := logs["checkpointDir"]; ok {
		c.checkpointDir = v.(string)
	} else {
		l.log(defaultMsg, "logs.checkpointDir", DefaultDirectory)
		c.checkpointDir = DefaultDirectory
	}

	if v, ok := recovery["enabled"]; ok {
		c.recoverFromCheckpoint = v.(bool)
	} else {
		l.log(defaultMsg, "recoverFromCheckpoint.enabled", false)
		c.recoverFromCheckpoint = false
	}

	// Logs older than this are never fetched.
	c.offset = l.now().Unix() - int64(c.daysInPast)*secondsPerDay

	c.freeze()
	return c, nil
}

const secondsPerDay = 24 * 60 * 60

// endpointList accepts the validated string or list form. Duplicates are
// dropped, keeping the first occurrence.
func endpointList(v interface{}) []string {
	var in []string
	switch t := v.(type) {
	case string:
		in = []string{t}
	case []interface{}:
		for _, e := range t {
			in = append(in, e.(string))
		}
	}
	seen := map[string]struct{}{}
	out := make([]string, 0, len(in))
	for _, e := range in {
		if _, ok := seen[e]; ok {
			continue
		}
		seen[e] = struct{}{}
		out = append(out, e)
	}
	return out
}
