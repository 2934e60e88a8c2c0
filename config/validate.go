package config

import (
	"fmt"
	"math"
	"reflect"
	"sort"
	"strings"
	"time"
)

const (
	ProtocolTCP    = "TCP"
	ProtocolUDP    = "UDP"
	ProtocolTCPSSL = "TCPSSL"
)

var validProtocols = []string{ProtocolTCPSSL, ProtocolTCP, ProtocolUDP}

// MaximumPollingDuration is the longest logs.polling.duration, in seconds,
// that still fits a time.Duration.
const MaximumPollingDuration = float64(math.MaxInt64 / int64(time.Second))

// fieldKinds types the values of CLI overrides by the field they set.
var fieldKinds = map[string]reflect.Kind{
	"duoclient.ikey":                reflect.String,
	"duoclient.skey":                reflect.String,
	"duoclient.host":                reflect.String,
	"logs.logDir":                   reflect.String,
	"logs.endpoints.enabled":        reflect.String,
	"logs.polling.duration":         reflect.Float64,
	"logs.polling.daysinpast":       reflect.Int,
	"logs.checkpointDir":            reflect.String,
	"transport.protocol":            reflect.String,
	"transport.host":                reflect.String,
	"transport.port":                reflect.Int,
	"transport.certFileDir":         reflect.String,
	"transport.certFileName":        reflect.String,
	"recoverFromCheckpoint.enabled": reflect.Bool,
}

// validator walks the document and records every violation instead of
// stopping at the first one.
type validator struct {
	violations []Violation
}

func (v *validator) add(path string, format string, args ...interface{}) {
	v.violations = append(v.violations, Violation{
		Path:   path,
		Reason: fmt.Sprintf(format, args...),
	})
}

// Validate checks raw against the config schema. The returned error is a
// *ConfigInvalidError listing all violations.
func (l *Loader) Validate(raw RawConfig) error {
	v := &validator{}
	root := map[string]interface{}(raw)

	if duo, ok := v.dict(root, "", "duoclient", true); ok {
		v.str(duo, "duoclient", "ikey", true)
		v.str(duo, "duoclient", "skey", true)
		v.str(duo, "duoclient", "host", true)
		v.unknown(duo, "duoclient", "ikey", "skey", "host")
	}

	if logs, ok := v.dict(root, "", "logs", true); ok {
		v.str(logs, "logs", "logDir", false)
		if ep, ok := v.dict(logs, "logs", "endpoints", true); ok {
			v.endpoints(ep)
			v.unknown(ep, "logs.endpoints", "enabled")
		}
		if polling, ok := v.dict(logs, "logs", "polling", false); ok {
			v.number(polling, "logs.polling", "duration", MaximumPollingDuration)
			v.integer(polling, "logs.polling", "daysinpast", 0, math.MaxInt32, false)
			v.unknown(polling, "logs.polling", "duration", "daysinpast")
		}
		v.str(logs, "logs", "checkpointDir", false)
		v.unknown(logs, "logs", "logDir", "endpoints", "polling", "checkpointDir")
	}

	if transport, ok := v.dict(root, "", "transport", true); ok {
		v.protocol(transport)
		v.str(transport, "transport", "host", true)
		v.integer(transport, "transport", "port", 0, 65535, true)
		v.str(transport, "transport", "certFileDir", false)
		v.str(transport, "transport", "certFileName", false)
		v.unknown(transport, "transport", "protocol", "host", "port", "certFileDir", "certFileName")
	}

	if recovery, ok := v.dict(root, "", "recoverFromCheckpoint", false); ok {
		if e, ok := v.present(recovery, "recoverFromCheckpoint", "enabled", false); ok {
			if _, isBool := e.(bool); !isBool {
				v.add("recoverFromCheckpoint.enabled", "must be of boolean type")
			}
		}
		v.unknown(recovery, "recoverFromCheckpoint", "enabled")
	}

	v.unknown(root, "", "duoclient", "logs", "transport", "recoverFromCheckpoint")

	if len(v.violations) != 0 {
		return &ConfigInvalidError{Violations: v.violations}
	}
	return nil
}

func join(parent, key string) string {
	if parent == "" {
		return key
	}
	return parent + "." + key
}

// present returns the value at key if it exists and is not null.
func (v *validator) present(m map[string]interface{}, parent, key string, required bool) (interface{}, bool) {
	e, ok := m[key]
	if !ok {
		if required {
			v.add(join(parent, key), "required field")
		}
		return nil, false
	}
	if e == nil {
		v.add(join(parent, key), "null value not allowed")
		return nil, false
	}
	return e, true
}

func (v *validator) dict(m map[string]interface{}, parent, key string, required bool) (map[string]interface{}, bool) {
	e, ok := v.present(m, parent, key, required)
	if !ok {
		return nil, false
	}
	d, ok := e.(map[string]interface{})
	if !ok {
		v.add(join(parent, key), "must be of dict type")
		return nil, false
	}
	return d, true
}

func (v *validator) str(m map[string]interface{}, parent, key string, required bool) {
	e, ok := v.present(m, parent, key, required)
	if !ok {
		return
	}
	s, ok := e.(string)
	if !ok {
		v.add(join(parent, key), "must be of string type")
		return
	}
	if s == "" {
		v.add(join(parent, key), "empty values not allowed")
	}
}

func (v *validator) number(m map[string]interface{}, parent, key string, max float64) {
	e, ok := v.present(m, parent, key, false)
	if !ok {
		return
	}
	f, ok := toFloat(e)
	if !ok {
		v.add(join(parent, key), "must be of number type")
		return
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		v.add(join(parent, key), "must be a finite number")
		return
	}
	if f > max {
		v.add(join(parent, key), "max value is %.0f", max)
	}
}

func (v *validator) integer(m map[string]interface{}, parent, key string, min, max int, required bool) {
	e, ok := v.present(m, parent, key, required)
	if !ok {
		return
	}
	i, ok := toInt(e)
	if !ok {
		// Whole numbers beyond the int range are out of bounds, not mistyped.
		switch t := e.(type) {
		case uint64:
			v.add(join(parent, key), "max value is %d", max)
		case int64:
			if t < 0 {
				v.add(join(parent, key), "min value is %d", min)
			} else {
				v.add(join(parent, key), "max value is %d", max)
			}
		default:
			v.add(join(parent, key), "must be of integer type")
		}
		return
	}
	if i < min {
		v.add(join(parent, key), "min value is %d", min)
	}
	if i > max {
		v.add(join(parent, key), "max value is %d", max)
	}
}

func (v *validator) endpoints(m map[string]interface{}) {
	const path = "logs.endpoints.enabled"
	e, ok := v.present(m, "logs.endpoints", "enabled", true)
	if !ok {
		return
	}
	switch t := e.(type) {
	case string:
		if t == "" {
			v.add(path, "empty values not allowed")
		} else if !contains(ValidEndpoints, t) {
			v.add(path, "unallowed value %s, must be one of %s", t, strings.Join(ValidEndpoints, ", "))
		}
	case []interface{}:
		if len(t) == 0 {
			v.add(path, "empty values not allowed")
		}
		for i, elem := range t {
			s, ok := elem.(string)
			if !ok {
				v.add(fmt.Sprintf("%s[%d]", path, i), "must be of string type")
				continue
			}
			if !contains(ValidEndpoints, s) {
				v.add(path, "unallowed value %s, must be one of %s", s, strings.Join(ValidEndpoints, ", "))
			}
		}
	default:
		v.add(path, "must be of ['string', 'list'] type")
	}
}

func (v *validator) protocol(m map[string]interface{}) {
	e, ok := v.present(m, "transport", "protocol", true)
	if !ok {
		return
	}
	p, ok := e.(string)
	if !ok {
		v.add("transport.protocol", "must be of string type")
		return
	}
	if !contains(validProtocols, p) {
		v.add("transport.protocol", "unallowed value %s, must be one of %s", p, strings.Join(validProtocols, ", "))
		return
	}
	if p != ProtocolTCPSSL {
		return
	}
	for _, dep := range []string{"certFileDir", "certFileName"} {
		if _, ok := m[dep]; !ok {
			v.add(join("transport", dep), "required when transport.protocol is %s", ProtocolTCPSSL)
		}
	}
}

// unknown flags keys of m that are not part of the schema, in sorted order.
func (v *validator) unknown(m map[string]interface{}, parent string, known ...string) {
	var extra []string
	for k := range m {
		if !contains(known, k) {
			extra = append(extra, k)
		}
	}
	sort.Strings(extra)
	for _, k := range extra {
		v.add(join(parent, k), "unknown field")
	}
}

func contains(list []string, s string) bool {
	for _, e := range list {
		if e == s {
			return true
		}
	}
	return false
}

func toInt(v interface{}) (int, bool) {
	switch t := v.(type) {
	case int:
		return t, true
	case int64:
		if t > math.MaxInt || t < math.MinInt {
			return 0, false
		}
		return int(t), true
	case uint64:
		if t > math.MaxInt {
			return 0, false
		}
		return int(t), true
	}
	return 0, false
}

func toFloat(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case uint64:
		return float64(t), true
	}
	return 0, false
}
