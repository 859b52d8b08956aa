package core

import "sync/atomic"

// ResourceMetrics counts resource lifecycle events. All counters are safe
// for concurrent use.
type ResourceMetrics struct {
	LoadsScheduled      atomic.Uint64
	UploadsSubmitted    atomic.Uint64
	StagingFreed        atomic.Uint64
	RecordsDestroyed    atomic.Uint64
	DeferredFreesQueued atomic.Uint64
	DeferredFreesRun    atomic.Uint64
	GarbageCollections  atomic.Uint64
}

// ResourceMetricsSnapshot is a plain copy of ResourceMetrics.
type ResourceMetricsSnapshot struct {
	LoadsScheduled      uint64
	UploadsSubmitted    uint64
	StagingFreed        uint64
	RecordsDestroyed    uint64
	DeferredFreesQueued uint64
	DeferredFreesRun    uint64
	GarbageCollections  uint64
}

func (m *ResourceMetrics) Snapshot() ResourceMetricsSnapshot {
	return ResourceMetricsSnapshot{
		LoadsScheduled:      m.LoadsScheduled.Load(),
		UploadsSubmitted:    m.UploadsSubmitted.Load(),
		StagingFreed:        m.StagingFreed.Load(),
		RecordsDestroyed:    m.RecordsDestroyed.Load(),
		DeferredFreesQueued: m.DeferredFreesQueued.Load(),
		DeferredFreesRun:    m.DeferredFreesRun.Load(),
		GarbageCollections:  m.GarbageCollections.Load(),
	}
}

func (m *ResourceMetrics) Log() {
	s := m.Snapshot()
	LogInfo("resources: %d loads scheduled, %d uploads submitted, %d staging buffers freed, %d records destroyed",
		s.LoadsScheduled, s.UploadsSubmitted, s.StagingFreed, s.RecordsDestroyed)
	LogInfo("resources: %d deferred frees queued, %d run, %d garbage collections",
		s.DeferredFreesQueued, s.DeferredFreesRun, s.GarbageCollections)
}
