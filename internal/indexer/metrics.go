// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package indexer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/westerndigitalcorporation/classindex/internal/server"
)

// Scan phases, as labels of phaseMetric.
const (
	phaseSnapshot    = "snapshot"
	phaseGC          = "gc"
	phaseFingerprint = "fingerprint"
	phaseIndex       = "index"
	phaseMappings    = "mappings"
	phaseFlush       = "flush"
)

var (
	scanMetric  = server.NewOpMetric("indexer_scans", "kind")
	phaseMetric = server.NewOpMetric("indexer_phases", "phase")

	classesIndexed = promauto.NewCounter(prometheus.CounterOpts{
		Subsystem: "indexer",
		Name:      "classes_indexed",
		Help:      "types added to the index",
	})
	classesSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Subsystem: "indexer",
		Name:      "classes_skipped",
		Help:      "class files skipped for format errors",
	})
	resourcesCollected = promauto.NewCounter(prometheus.CounterOpts{
		Subsystem: "indexer",
		Name:      "resources_collected",
		Help:      "resources deleted by garbage collection or supersession",
	})
	rebuilds = promauto.NewCounterVec(prometheus.CounterOpts{
		Subsystem: "indexer",
		Name:      "rebuilds",
		Help:      "times the index was cleared and rebuilt",
	}, []string{"reason"})
	selfTestFailures = promauto.NewCounter(prometheus.CounterOpts{
		Subsystem: "indexer",
		Name:      "self_test_failures",
		Help:      "indexed types that read back differently",
	})
)
