package utils

import (
	"fmt"
	"reflect"
	"regexp"
	"strconv"
	"strings"
)

var (
	arrayIndexRE = regexp.MustCompile(`(.+)\[(\d+)\]$`)
	anyIndexRE   = regexp.MustCompile(`\[\d+\]`)
)

// ApplyOverrides merges a list of `path=value` tokens (like from a CLI)
// into a nested map. Path elements are separated by dots and
// `name[N]` addresses element N of a list, growing it as needed.
// Values are converted to the kind fieldKinds gives for their path, with
// list indices left out (e.g. "logs.endpoints.enabled"). Values of
// unknown paths are typed by guessing: bool, then int, then float, else
// string.
func ApplyOverrides(out map[string]interface{}, args []string, fieldKinds map[string]reflect.Kind) error {
	for _, k := range args {
		components := strings.SplitN(k, "=", 2)
		if len(components) < 2 {
			return fmt.Errorf("invalid override (expected path=value): %s", k)
		}
		varPath := components[0]
		if varPath == "" {
			return fmt.Errorf("invalid override (empty path): %s", k)
		}
		val := convertValue(components[1], fieldKinds[anyIndexRE.ReplaceAllString(varPath, "")])
		pathElems := strings.Split(varPath, ".")

		tmp := out
		for i, v := range pathElems {
			isLast := i == len(pathElems)-1
			if matches := arrayIndexRE.FindStringSubmatch(v); len(matches) == 3 {
				index, err := strconv.Atoi(matches[2])
				if err != nil {
					return fmt.Errorf("invalid index in %s: %v", v, err)
				}
				actualKey := matches[1]
				var list []interface{}
				switch existing := tmp[actualKey].(type) {
				case nil:
				case []interface{}:
					list = existing
				default:
					// A scalar becomes the first element of the list.
					list = []interface{}{existing}
				}
				for len(list) <= index {
					list = append(list, nil)
				}
				tmp[actualKey] = list
				if isLast {
					list[index] = val
					continue
				}
				if list[index] == nil {
					list[index] = map[string]interface{}{}
				}
				next, ok := list[index].(map[string]interface{})
				if !ok {
					return fmt.Errorf("namespace collision: %v", v)
				}
				tmp = next
				continue
			}
			if isLast {
				tmp[v] = val
				continue
			}
			existing, ok := tmp[v]
			if !ok || existing == nil {
				next := map[string]interface{}{}
				tmp[v] = next
				tmp = next
				continue
			}
			next, ok := existing.(map[string]interface{})
			if !ok {
				return fmt.Errorf("namespace collision: %v", v)
			}
			tmp = next
		}
	}
	return nil
}

func convertValue(val string, kind reflect.Kind) interface{} {
	switch kind {
	case reflect.Invalid:
		return guessValue(val)
	case reflect.String:
		return val
	case reflect.Bool:
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	case reflect.Int:
		if num, err := strconv.Atoi(val); err == nil {
			return num
		}
	case reflect.Float64:
		if num, err := strconv.ParseFloat(val, 64); err == nil {
			return num
		}
	}
	// Left as text so validation reports the wrong type.
	return val
}

func guessValue(val string) interface{} {
	if b, err := strconv.ParseBool(val); val != "0" && val != "1" && err == nil {
		return b
	}
	if num, err := strconv.Atoi(val); err == nil {
		return num
	}
	if num, err := strconv.ParseFloat(val, 64); err == nil {
		return num
	}
	return val
}
