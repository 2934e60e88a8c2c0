package config

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrAlreadySet = errors.New("config already set, cannot set it more than once")
	ErrNotSet     = errors.New("cannot access values of config before setting it")
)

// IOError is returned when the config file cannot be opened or read.
type IOError struct {
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("error opening config file %s (check that the filename and filepath are correct): %v", e.Path, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// ParseError is returned when the config file is not valid YAML.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("error reading config file %s (check that the file has valid YAML): %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

type Violation struct {
	Path   string
	Reason string
}

func (v Violation) String() string {
	return fmt.Sprintf("%s: %s", v.Path, v.Reason)
}

// ConfigInvalidError carries every schema violation found, in schema order.
type ConfigInvalidError struct {
	Violations []Violation
}

func (e *ConfigInvalidError) Error() string {
	parts := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		parts = append(parts, v.String())
	}
	return fmt.Sprintf("while validating the config, the following error(s) occurred: %s", strings.Join(parts, "; "))
}

// Has reports whether a violation was recorded for path.
func (e *ConfigInvalidError) Has(path string) bool {
	for _, v := range e.Violations {
		if v.Path == path {
			return true
		}
	}
	return false
}

type KeyNotFoundError struct {
	Path []string
	Key  string
}

func (e *KeyNotFoundError) Error() string {
	return fmt.Sprintf("%s is an invalid key for this config (path %s)", e.Key, strings.Join(e.Path, "."))
}
