package monitoring

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

type statStore struct {
	cacheLookups     sync.Map // result -> *atomic.Uint64
	registryRequests sync.Map // result -> *atomic.Uint64
	uploads          sync.Map // provider/result -> *atomic.Uint64
	syncItems        sync.Map
	resubmissions    sync.Map
	migrationItems   sync.Map

	gateways    sync.Map // host -> *gatewayStats
	maintenance sync.Map // job -> *maintenanceStats
}

func newStatStore() *statStore {
	return &statStore{}
}

func (s *statStore) counter(m *sync.Map, key string) *atomic.Uint64 {
	if value, ok := m.Load(key); ok {
		return value.(*atomic.Uint64)
	}
	actual, _ := m.LoadOrStore(key, new(atomic.Uint64))
	return actual.(*atomic.Uint64)
}

func snapshotCounters(m *sync.Map) map[string]uint64 {
	out := map[string]uint64{}
	m.Range(func(key, value any) bool {
		out[key.(string)] = value.(*atomic.Uint64).Load()
		return true
	})
	return out
}

func (s *statStore) gatewayEntry(host string) *gatewayStats {
	if value, ok := s.gateways.Load(host); ok {
		return value.(*gatewayStats)
	}
	actual, _ := s.gateways.LoadOrStore(host, &gatewayStats{})
	return actual.(*gatewayStats)
}

func (s *statStore) maintenanceEntry(job string) *maintenanceStats {
	if value, ok := s.maintenance.Load(job); ok {
		return value.(*maintenanceStats)
	}
	actual, _ := s.maintenance.LoadOrStore(job, &maintenanceStats{})
	return actual.(*maintenanceStats)
}

func (s *statStore) summary() Summary {
	gateways := []GatewaySummary{}
	s.gateways.Range(func(key, value any) bool {
		gateways = append(gateways, value.(*gatewayStats).snapshot(key.(string)))
		return true
	})
	sort.Slice(gateways, func(i, j int) bool { return gateways[i].Gateway < gateways[j].Gateway })

	jobs := []MaintenanceJobSummary{}
	s.maintenance.Range(func(key, value any) bool {
		jobs = append(jobs, value.(*maintenanceStats).snapshot(key.(string)))
		return true
	})
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].Job < jobs[j].Job })

	return Summary{
		GeneratedAt:      time.Now(),
		CacheLookups:     snapshotCounters(&s.cacheLookups),
		RegistryRequests: snapshotCounters(&s.registryRequests),
		Uploads:          snapshotCounters(&s.uploads),
		SyncItems:        snapshotCounters(&s.syncItems),
		Resubmissions:    snapshotCounters(&s.resubmissions),
		MigrationItems:   snapshotCounters(&s.migrationItems),
		Gateways:         gateways,
		Maintenance:      MaintenanceSummary{Jobs: jobs},
	}
}

type gatewayStats struct {
	success     atomic.Uint64
	failure     atomic.Uint64
	lastStatus  atomic.Value // string
	lastAttempt atomic.Int64 // unix nano
}

func (g *gatewayStats) record(result string) {
	if result == "success" {
		g.success.Add(1)
	} else {
		g.failure.Add(1)
	}
	g.lastStatus.Store(result)
	g.lastAttempt.Store(time.Now().UnixNano())
}

func (g *gatewayStats) snapshot(host string) GatewaySummary {
	status, _ := g.lastStatus.Load().(string)
	return GatewaySummary{
		Gateway:       host,
		Success:       g.success.Load(),
		Failure:       g.failure.Load(),
		LastStatus:    status,
		LastAttemptAt: unixNanoTime(g.lastAttempt.Load()),
	}
}

type maintenanceStats struct {
	lastStatus           atomic.Value // string
	lastError            atomic.Value // string
	lastRun              atomic.Int64 // unix nano
	lastDuration         atomic.Int64 // nanoseconds
	consecutiveFailures  atomic.Uint64
	totalRuns            atomic.Uint64
	lastSuccessfulRun    atomic.Int64
	consecutiveSuccesses atomic.Uint64
}

func (m *maintenanceStats) snapshot(job string) MaintenanceJobSummary {
	status, _ := m.lastStatus.Load().(string)
	errMsg, _ := m.lastError.Load().(string)

	return MaintenanceJobSummary{
		Job:                 job,
		LastStatus:          status,
		LastRunAt:           unixNanoTime(m.lastRun.Load()),
		LastDuration:        time.Duration(m.lastDuration.Load()),
		LastError:           errMsg,
		ConsecutiveFailures: m.consecutiveFailures.Load(),
		ConsecutiveSuccess:  m.consecutiveSuccesses.Load(),
		LastSuccessAt:       unixNanoTime(m.lastSuccessfulRun.Load()),
		TotalRuns:           m.totalRuns.Load(),
	}
}

func (m *maintenanceStats) record(result, message string, duration time.Duration) {
	if duration < 0 {
		duration = 0
	}
	now := time.Now()
	m.lastStatus.Store(result)
	m.lastError.Store(message)
	m.lastRun.Store(now.UnixNano())
	m.lastDuration.Store(int64(duration))
	m.totalRuns.Add(1)

	switch result {
	case "success":
		m.consecutiveFailures.Store(0)
		m.consecutiveSuccesses.Add(1)
		m.lastSuccessfulRun.Store(now.UnixNano())
	default:
		m.consecutiveFailures.Add(1)
		m.consecutiveSuccesses.Store(0)
	}
}

func unixNanoTime(ns int64) time.Time {
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}
