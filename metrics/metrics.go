// Package metrics centralizes the rcrowley/go-metrics registrations used
// across carrier-go, mirroring the teacher's metrics package: one package
// holds a single registry and exposes pre-registered named meters/counters
// for the rest of the module to mark.
package metrics

import (
	metrics "github.com/rcrowley/go-metrics"
)

// DefaultRegistry is the registry every metric below is registered
// against. A host application can iterate it to export to whatever sink
// it likes (nothing in carrier-go itself wires an exporter — see
// spec.md §1's excluded "logging sinks").
var DefaultRegistry = metrics.NewRegistry()

var (
	RPCCallsSent    = metrics.NewRegisteredMeter("rpc/calls/sent", DefaultRegistry)
	RPCCallsTimeout = metrics.NewRegisteredMeter("rpc/calls/timeout", DefaultRegistry)
	RPCCallsError   = metrics.NewRegisteredMeter("rpc/calls/error", DefaultRegistry)
	RPCCallsActive  = metrics.NewRegisteredGauge("rpc/calls/active", DefaultRegistry)
	RPCBytesIn      = metrics.NewRegisteredMeter("rpc/bytes/in", DefaultRegistry)
	RPCBytesOut     = metrics.NewRegisteredMeter("rpc/bytes/out", DefaultRegistry)

	KBucketSplits  = metrics.NewRegisteredCounter("kbucket/splits", DefaultRegistry)
	KBucketMerges  = metrics.NewRegisteredCounter("kbucket/merges", DefaultRegistry)
	KBucketEntries = metrics.NewRegisteredGauge("kbucket/entries", DefaultRegistry)

	TaskLookupsStarted   = metrics.NewRegisteredMeter("task/lookups/started", DefaultRegistry)
	TaskLookupsCompleted = metrics.NewRegisteredMeter("task/lookups/completed", DefaultRegistry)
	TaskActive           = metrics.NewRegisteredGauge("task/active", DefaultRegistry)

	StorageValuesCount = metrics.NewRegisteredGauge("storage/values/count", DefaultRegistry)
	StoragePeersCount  = metrics.NewRegisteredGauge("storage/peers/count", DefaultRegistry)
	StorageExpired     = metrics.NewRegisteredMeter("storage/expired", DefaultRegistry)
)
