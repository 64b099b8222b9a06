// Copyright (c) 2016 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package server

import (
	"encoding/json"
	"sync"

	log "github.com/golang/glog"

	"github.com/westerndigitalcorporation/classindex/internal/core"
)

// OpFailure makes named operations fail with a chosen core.Error. Components
// call Fail at the top of each injectable operation; tests and the failure
// service decide what it returns.
type OpFailure struct {
	lock     sync.Mutex
	failures map[string]core.Error
	oneShot  map[string]bool
	fired    map[string]int
}

// NewOpFailure returns an OpFailure with nothing armed.
func NewOpFailure() *OpFailure {
	f := &OpFailure{fired: make(map[string]int)}
	f.reset()
	return f
}

func (f *OpFailure) reset() {
	f.failures = make(map[string]core.Error)
	f.oneShot = make(map[string]bool)
}

// Get returns what 'op' is armed with without firing it.
func (f *OpFailure) Get(op string) core.Error {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.failures[op]
}

// Set arms 'op' to fail with 'err' until cleared. NoError clears it.
func (f *OpFailure) Set(op string, err core.Error) {
	f.set(op, err, false)
}

// SetOnce arms 'op' to fail with 'err' the next time only.
func (f *OpFailure) SetOnce(op string, err core.Error) {
	f.set(op, err, true)
}

func (f *OpFailure) set(op string, err core.Error, once bool) {
	f.lock.Lock()
	defer f.lock.Unlock()
	if err == core.NoError {
		delete(f.failures, op)
		delete(f.oneShot, op)
		return
	}
	f.failures[op] = err
	f.oneShot[op] = once
}

// Fail returns the error 'op' is armed with, nil if none, disarming one-shot
// failures.
func (f *OpFailure) Fail(op string) error {
	f.lock.Lock()
	defer f.lock.Unlock()
	e, ok := f.failures[op]
	if !ok {
		return nil
	}
	f.fired[op]++
	if f.oneShot[op] {
		delete(f.failures, op)
		delete(f.oneShot, op)
	}
	return e.Error()
}

// Fired is how many times 'op' has failed on purpose.
func (f *OpFailure) Fired(op string) int {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.fired[op]
}

// Handler is registered with the failure service. The config is a JSON object
// from operation name to numeric core.Error; failures set this way persist
// until the next update.
func (f *OpFailure) Handler(config json.RawMessage) error {
	var failures map[string]core.Error
	if config != nil {
		if err := json.Unmarshal(config, &failures); err != nil {
			log.Errorf("bad op failure config %s: %s", string(config), err)
			return err
		}
	}

	f.lock.Lock()
	defer f.lock.Unlock()
	f.reset()
	for op, e := range failures {
		if e != core.NoError {
			f.failures[op] = e
		}
	}
	log.Infof("op failures now %v", f.failures)
	return nil
}
