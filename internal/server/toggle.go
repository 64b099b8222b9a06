// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package server

import (
	"fmt"
	"net/http"

	log "github.com/golang/glog"
)

// Toggle is a boolean setting of a running service.
type Toggle interface {
	Enabled() bool
	SetEnabled(bool)
}

// ToggleHandler serves a Toggle. GET requests return the current state, POST
// requests like ?mode=true or false change it.
func ToggleHandler(name string, t Toggle) http.HandlerFunc {
	const True, False = "true", "false"
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		if r.Method == http.MethodGet {
			w.WriteHeader(http.StatusOK)
			if t.Enabled() {
				w.Write([]byte(True))
			} else {
				w.Write([]byte(False))
			}
			return
		}
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			fmt.Fprintln(w, "method must be POST")
			return
		}

		mode := r.URL.Query().Get("mode")
		if mode != True && mode != False {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprintln(w, "'mode' param must be 'true' or 'false'")
			return
		}
		t.SetEnabled(mode == True)

		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "set %s to %s", name, mode)
		log.Infof("set %s to %s", name, mode)
	}
}
