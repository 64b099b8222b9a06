// Copyright (c) 2015 Western Digital Corporation or its affiliates.  All rights reserved.
// SPDX-License-Identifier: MIT

// Package failures lets tests and operators inject faults into a running
// process over HTTP.
//
// A component registers a handler under a key. The service keeps one JSON
// value per key, initially null, which means "no failure". A GET returns the
// whole configuration as a JSON object. A POST replaces it: every registered
// key absent from the posted object is reset to null, and its handler is
// called with a nil value. Posting "{}" clears all failures. A DELETE does the
// same.
//
// The indexer, for example, registers its per-operation failure table:
//
//	failures.Register("indexer_op_failure", opFail.Handler)
//
// and a scan can then be made to fail every archive read with:
//
//	curl localhost:4680/_failure -XPOST -d '{"indexer_op_failure": {"read": 6}}'
//
// Values are opaque to this package; each handler decodes its own.
package failures

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"

	log "github.com/golang/glog"
)

// DefaultPath is where Init mounts the default service.
const DefaultPath = "/_failure"

// Handler is called with the new value of its key, or nil when the key is
// reset. Returning an error rejects the update.
type Handler func(json.RawMessage) error

// Service is a set of failure handlers and their current values.
type Service struct {
	lock     sync.Mutex
	values   map[string]json.RawMessage // nil value means no failure
	handlers map[string]Handler
}

// New returns an empty service.
func New() *Service {
	return &Service{
		values:   make(map[string]json.RawMessage),
		handlers: make(map[string]Handler),
	}
}

var defaultService = New()

// Init mounts the default service on DefaultPath of http.DefaultServeMux.
func Init() {
	http.Handle(DefaultPath, defaultService)
}

// Register adds a handler to the default service.
func Register(key string, h func(json.RawMessage) error) error {
	return defaultService.Register(key, h)
}

// Register adds a handler under 'key'. A key can be registered once.
func (s *Service) Register(key string, h func(json.RawMessage) error) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if _, ok := s.handlers[key]; ok {
		return fmt.Errorf("failure key %q is already registered", key)
	}
	s.handlers[key] = h
	s.values[key] = nil
	return nil
}

// Keys returns the registered keys, sorted.
func (s *Service) Keys() []string {
	s.lock.Lock()
	defer s.lock.Unlock()
	keys := make([]string, 0, len(s.handlers))
	for k := range s.handlers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Get returns the current value of 'key', nil if none is set.
func (s *Service) Get(key string) json.RawMessage {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.values[key]
}

// Apply replaces the configuration. Keys missing from 'updates' are reset.
// Unknown keys reject the whole update before any handler runs.
func (s *Service) Apply(updates map[string]json.RawMessage) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	for key := range updates {
		if _, ok := s.handlers[key]; !ok {
			return fmt.Errorf("failure key %q is not registered", key)
		}
	}

	for key, cur := range s.values {
		next := updates[key]
		if isNull(next) {
			next = nil
		}
		if next == nil && cur == nil {
			continue
		}
		if err := s.handlers[key](next); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		log.Infof("failure %s set to %s", key, string(next))
		s.values[key] = next
	}
	return nil
}

func isNull(v json.RawMessage) bool {
	return v == nil || string(v) == "null"
}

// ServeHTTP implements GET, POST and DELETE of the whole configuration.
func (s *Service) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.lock.Lock()
		b, err := json.Marshal(s.values)
		s.lock.Unlock()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(b)
	case http.MethodPost:
		var updates map[string]json.RawMessage
		if err := json.NewDecoder(r.Body).Decode(&updates); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := s.Apply(updates); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
		}
	case http.MethodDelete:
		if err := s.Apply(nil); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
		}
	default:
		http.Error(w, fmt.Sprintf("unsupported method %s", r.Method), http.StatusMethodNotAllowed)
	}
}
