package config

import (
	"errors"
	"sync/atomic"
)

// Store holds the process configuration. It can be set once; reads are
// lock free and only succeed after the set.
type Store struct {
	cfg atomic.Pointer[Config]
}

func (s *Store) Set(cfg *Config) error {
	if cfg == nil {
		return errors.New("cannot set a nil config")
	}
	if !s.cfg.CompareAndSwap(nil, cfg) {
		return ErrAlreadySet
	}
	return nil
}

func (s *Store) IsSet() bool {
	return s.cfg.Load() != nil
}

func (s *Store) Config() (*Config, error) {
	cfg := s.cfg.Load()
	if cfg == nil {
		return nil, ErrNotSet
	}
	return cfg, nil
}

func (s *Store) Get(path ...string) (interface{}, error) {
	cfg, err := s.Config()
	if err != nil {
		return nil, err
	}
	return cfg.Get(path...)
}
