// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package server

import (
	"net/http"
	"sync"

	log "github.com/golang/glog"
)

// QuitHandler returns a handler that calls 'shutdown' once, on the first
// POST it receives. Should be used for testing only.
func QuitHandler(shutdown func()) http.HandlerFunc {
	var once sync.Once
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST to quit", http.StatusMethodNotAllowed)
			return
		}
		log.Infof("received a quit request from %s", r.RemoteAddr)
		w.WriteHeader(http.StatusAccepted)
		go once.Do(shutdown)
	}
}
