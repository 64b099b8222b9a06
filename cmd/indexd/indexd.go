// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	log "github.com/golang/glog"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/net/trace"

	"github.com/westerndigitalcorporation/classindex/internal/indexer"
	"github.com/westerndigitalcorporation/classindex/internal/nd"
	"github.com/westerndigitalcorporation/classindex/internal/server"
	"github.com/westerndigitalcorporation/classindex/internal/workspace"
	"github.com/westerndigitalcorporation/classindex/pkg/failures"
	"github.com/westerndigitalcorporation/classindex/pkg/pagedb"
)

/*

Configuring various parameters follows three steps:

  (1) Default config parameters are pulled from 'DefaultConfig', which embeds
  'indexer.DefaultProdConfig' and 'pagedb.DefaultProdConfig'.

  (2) An optional configuration file (in json format) can be specified via the
  command-line flag '-indexdCfg' to override the default values.

  (3) Optional flags can be used to override each individual parameter set in
  the previous two steps, e.g., '-index=/tmp/index.db'.

*/

// Config is the daemon's configuration.
type Config struct {
	// Path of the index database.
	IndexPath string
	// Address serving /metrics, /debug/requests and the status page.
	Addr string
	// Rescan this often even without a change notification.
	RescanInterval time.Duration
	// Project name to the class path roots indexed for it.
	Projects map[string][]string

	Indexer indexer.Config
	DB      pagedb.Config
}

// DefaultConfig is the configuration for production.
var DefaultConfig = Config{
	IndexPath:      "index.db",
	Addr:           "localhost:4680",
	RescanInterval: 10 * time.Minute,
	Indexer:        indexer.DefaultProdConfig,
	DB:             pagedb.DefaultProdConfig,
}

var (
	cfg = DefaultConfig

	// Config file name.
	cfgFile = flag.String("indexdCfg", "", "configuration file for indexd")

	indexPath  = flag.String("index", "", "path of the index database")
	addr       = flag.String("addr", "", "address for the status, metrics and debug pages")
	journal    = flag.String("journal", "", "path of the scan journal, none if empty")
	roots      = flag.String("roots", "", "comma-separated class path roots of the 'default' project")
	interval   = flag.Duration("interval", 0, "time between periodic rescans")
	useFailure = flag.Bool("useFailure", false, "whether to enable the failure service")
)

// Initialize config parameters. It first tries to read from the configuration
// file and then applies the command-line flags to override specified values.
func init() {
	flag.Parse()

	if *cfgFile != "" {
		f, err := os.Open(*cfgFile)
		if err != nil {
			log.Fatalf("couldn't open the provided config file: %s", err)
		}
		dec := json.NewDecoder(f)
		if err = dec.Decode(&cfg); err != nil {
			log.Fatalf("failed to decode the config file: %s", err)
		}
		f.Close()
	}

	// Flags only override when set to something other than their zero
	// value.
	if *indexPath != "" {
		cfg.IndexPath = *indexPath
	}
	if *addr != "" {
		cfg.Addr = *addr
	}
	if *journal != "" {
		cfg.Indexer.JournalPath = *journal
	}
	if *roots != "" {
		if cfg.Projects == nil {
			cfg.Projects = make(map[string][]string)
		}
		cfg.Projects["default"] = strings.Split(*roots, ",")
	}
	if *interval != 0 {
		cfg.RescanInterval = *interval
	}
	if *useFailure {
		cfg.Indexer.UseFailure = true
	}
}

func main() {
	if err := cfg.Indexer.Validate(); err != nil {
		log.Fatalf("Failed to validate indexer configuration: %v", err)
	}
	if err := cfg.DB.Validate(); err != nil {
		log.Fatalf("Failed to validate database configuration: %v", err)
	}
	if len(cfg.Projects) == 0 {
		log.Fatalf("Nothing to index, use -roots or Projects in the config file")
	}

	if cfg.Indexer.UseFailure {
		log.Infof("enabling failure service")
		failures.Init()
	}

	db, err := pagedb.Open(cfg.IndexPath, nd.SchemaVersion, cfg.DB)
	if err != nil {
		log.Fatalf("Failed to open index %s: %s", cfg.IndexPath, err)
	}
	host := workspace.NewFSHost()
	for name, r := range cfg.Projects {
		host.AddProject(name, r...)
	}
	ix, err := indexer.New(db, host, cfg.Indexer)
	if err != nil {
		log.Fatalf("Failed to create indexer: %s", err)
	}
	ix.AddListener(func(e indexer.Event) {
		log.Infof("reindexed %d locations", len(e.Locations))
	})

	done := make(chan struct{})
	shutdown := func() { close(done) }

	http.Handle("/metrics", promhttp.Handler())
	http.HandleFunc("/", statusHandler(ix, db))
	http.HandleFunc("/rescan", func(w http.ResponseWriter, r *http.Request) {
		ix.RescanAll()
		fmt.Fprintln(w, "rescan scheduled")
	})
	http.HandleFunc("/rebuild", func(w http.ResponseWriter, r *http.Request) {
		ix.RequestRebuildIndex()
		fmt.Fprintln(w, "rebuild scheduled")
	})
	http.HandleFunc("/automatic", server.ToggleHandler("automatic indexing", indexer.AutomaticIndexing{Indexer: ix}))
	http.HandleFunc("/_quit", server.QuitHandler(shutdown))
	// x/net/trace registers /debug/requests; allow it from anywhere the
	// status page is reachable.
	trace.AuthRequest = func(req *http.Request) (any, sensitive bool) { return true, true }

	go func() {
		log.Infof("indexd serving %s on %s", cfg.IndexPath, cfg.Addr)
		err := http.ListenAndServe(cfg.Addr, nil)
		log.Fatalf("http listener returned error: %v", err)
	}()

	ix.Start()
	ix.RescanAll()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	ticker := time.NewTicker(cfg.RescanInterval)
	defer ticker.Stop()

loop:
	for {
		select {
		case <-ticker.C:
			ix.RescanAll()
		case s := <-sig:
			log.Infof("received %s, shutting down", s)
			break loop
		case <-done:
			break loop
		}
	}

	if err := ix.Close(); err != nil {
		log.Errorf("closing indexer: %s", err)
	}
	if err := db.Close(); err != nil {
		log.Errorf("closing index: %s", err)
	}
	log.Flush()
}

// statusHandler shows the state of the index and the recent scans.
func statusHandler(ix *indexer.Indexer, db *pagedb.Database) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/plain")
		ctx, cancel := context.WithTimeout(r.Context(), time.Second)
		defer cancel()
		if err := ix.WaitForIndex(ctx, indexer.CancelIfNotReady); err != nil {
			fmt.Fprintf(w, "indexing: %s\n\n", err)
		} else {
			fmt.Fprintf(w, "idle\n\n")
		}

		var stats pagedb.Stats
		var resources int
		err := db.View(func() (err error) {
			stats = db.Stats()
			resources, err = ix.Index().ResourceCount()
			return err
		})
		if err != nil {
			fmt.Fprintf(w, "error reading index: %s\n", err)
			return
		}
		fmt.Fprintf(w, "%d resources\n%s\n", resources, stats)

		j := ix.Journal()
		if j == nil {
			return
		}
		if s, err := j.Summary(); err != nil {
			fmt.Fprintf(w, "journal: %s\n", err)
		} else {
			fmt.Fprintf(w, "%s\n", s)
		}
		h, err := j.History(10)
		if err != nil {
			fmt.Fprintf(w, "journal: %s\n", err)
			return
		}
		for _, st := range h {
			fmt.Fprintf(w, "%s %8s  %d locations, %d reindexed, %d types, %d collected%s\n",
				st.Start.Format(time.RFC3339), st.Duration.Round(time.Millisecond),
				st.Locations, st.Changed, st.Types, st.Collected, scanNote(st))
		}
	}
}

func scanNote(st *indexer.ScanStats) string {
	switch {
	case st.Err != "":
		return " (failed: " + st.Err + ")"
	case st.Rebuilt:
		return " (rebuilt)"
	}
	return ""
}
