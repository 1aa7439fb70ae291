package actions

import (
	"context"
	"time"
)

// DashboardStats is a derived view over the execution log. It is recomputed
// from the log on demand and never independently stored, so it cannot drift.
//
// The counts partition the log: Total = Success + PendingApproval + InFlight
// + Failed + Rejected.
type DashboardStats struct {
	Total           int     `json:"total"`
	Success         int     `json:"success"`
	PendingApproval int     `json:"pendingApproval"`
	InFlight        int     `json:"inFlight"`
	Failed          int     `json:"failed"`
	Rejected        int     `json:"rejected"`
	SuccessRate     float64 `json:"successRate"`

	ByModule map[string]ModuleStats `json:"byModule"`
}

// ModuleStats is the per-target-module breakdown.
type ModuleStats struct {
	Total           int `json:"total"`
	Success         int `json:"success"`
	PendingApproval int `json:"pendingApproval"`
	InFlight        int `json:"inFlight"`
	Failed          int `json:"failed"`
	Rejected        int `json:"rejected"`
}

// Aggregator computes dashboard stats as a fold over the log. A short-TTL
// per-filter cache is a performance optimization only; the log stays the
// sole source of truth.
type Aggregator struct {
	log   Store
	cache *statsCache
}

// NewAggregator creates an aggregator. ttl <= 0 disables caching.
func NewAggregator(log Store, ttl time.Duration) *Aggregator {
	a := &Aggregator{log: log}
	if ttl > 0 {
		a.cache = newStatsCache(ttl)
	}
	return a
}

// ComputeStats folds the log entries matching the filter.
func (a *Aggregator) ComputeStats(ctx context.Context, f Filter) (DashboardStats, error) {
	if a.cache != nil {
		if stats, ok := a.cache.get(f.Key()); ok {
			return stats, nil
		}
	}

	records, err := a.log.List(ctx, f)
	if err != nil {
		return DashboardStats{}, err
	}

	stats := DashboardStats{ByModule: make(map[string]ModuleStats)}
	for _, rec := range records {
		stats.Total++
		module := stats.ByModule[rec.TargetModule]
		module.Total++

		switch rec.State {
		case StateSuccess:
			stats.Success++
			module.Success++
		case StatePendingApproval, StateApproved:
			stats.PendingApproval++
			module.PendingApproval++
		case StateQueued, StateRetrying:
			stats.InFlight++
			module.InFlight++
		case StateFailed:
			stats.Failed++
			module.Failed++
		case StateRejected:
			stats.Rejected++
			module.Rejected++
		}
		stats.ByModule[rec.TargetModule] = module
	}
	if stats.Total > 0 {
		stats.SuccessRate = float64(stats.Success) / float64(stats.Total)
	}

	if a.cache != nil {
		a.cache.set(f.Key(), stats)
	}
	return stats, nil
}
