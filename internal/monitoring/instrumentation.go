package monitoring

import (
	"net/url"
	"strings"
	"time"
)

// ObserveAPILatency captures the HTTP request latency for the supplied route.
func ObserveAPILatency(method, path, status string, duration time.Duration) {
	module := ensureModule()
	if module == nil {
		return
	}
	if duration < 0 {
		duration = 0
	}
	method = strings.ToUpper(strings.TrimSpace(method))
	if method == "" {
		method = "UNKNOWN"
	}
	path = sanitizePath(path)
	if path == "" {
		path = "unknown"
	}
	status = strings.TrimSpace(status)
	if status == "" {
		status = "unknown"
	}
	module.metrics.apiLatency.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

// RecordCacheLookup counts a catalog read by outcome (fresh, refreshed, stale, error).
func RecordCacheLookup(result string) {
	module := ensureModule()
	if module == nil {
		return
	}
	label := normalizeLabel(result)
	module.metrics.cacheLookups.WithLabelValues(label).Inc()
	module.stats.counter(&module.stats.cacheLookups, label).Add(1)
}

// RecordRegistryRequest tracks a registry read including retry time.
func RecordRegistryRequest(operation, result string, duration time.Duration) {
	module := ensureModule()
	if module == nil {
		return
	}
	op := normalizeLabel(operation)
	res := normalizeLabel(result)
	module.metrics.registryRequests.WithLabelValues(op, res).Inc()
	observeDuration(module.metrics.registryLatency.WithLabelValues(op), duration)
	module.stats.counter(&module.stats.registryRequests, res).Add(1)
}

// RecordGatewayFetch tracks a single gateway attempt.
func RecordGatewayFetch(provider, gateway, result string) {
	module := ensureModule()
	if module == nil {
		return
	}
	host := gatewayLabel(gateway)
	res := normalizeLabel(result)
	module.metrics.gatewayFetches.WithLabelValues(normalizeLabel(provider), host, res).Inc()
	module.stats.gatewayEntry(host).record(res)
}

// RecordUpload tracks an upload attempt; bytes is ignored for failures.
func RecordUpload(provider, result string, bytes int64) {
	module := ensureModule()
	if module == nil {
		return
	}
	prov := normalizeLabel(provider)
	res := normalizeLabel(result)
	module.metrics.uploads.WithLabelValues(prov, res).Inc()
	if res == "success" && bytes > 0 {
		module.metrics.uploadBytes.WithLabelValues(prov).Add(float64(bytes))
	}
	module.stats.counter(&module.stats.uploads, prov+"/"+res).Add(1)
}

// RecordSyncItem counts one synchronizer item by result.
func RecordSyncItem(result string) {
	module := ensureModule()
	if module == nil {
		return
	}
	label := normalizeLabel(result)
	module.metrics.syncItems.WithLabelValues(label).Inc()
	module.stats.counter(&module.stats.syncItems, label).Add(1)
}

// RecordResubmission counts one resubmission attempt by result.
func RecordResubmission(result string) {
	module := ensureModule()
	if module == nil {
		return
	}
	label := normalizeLabel(result)
	module.metrics.resubmissions.WithLabelValues(label).Inc()
	module.stats.counter(&module.stats.resubmissions, label).Add(1)
}

// RecordMigrationItem counts one migrated, failed or skipped item.
func RecordMigrationItem(source, destination, outcome string) {
	module := ensureModule()
	if module == nil {
		return
	}
	label := normalizeLabel(outcome)
	module.metrics.migrationItems.WithLabelValues(normalizeLabel(source), normalizeLabel(destination), label).Inc()
	module.stats.counter(&module.stats.migrationItems, label).Add(1)
}

// RecordMaintenanceRun records the completion of a background job.
func RecordMaintenanceRun(job, result, message string, duration time.Duration) {
	module := ensureModule()
	if module == nil {
		return
	}
	jobID := normalizeLabel(job)
	result = normalizeLabel(result)
	module.metrics.maintenanceRuns.WithLabelValues(jobID, result).Inc()
	observeDuration(module.metrics.maintenanceDuration.WithLabelValues(jobID), duration)
	if result == "success" {
		module.metrics.maintenanceLastRun.WithLabelValues(jobID).Set(float64(time.Now().Unix()))
	}
	module.stats.maintenanceEntry(jobID).record(result, strings.TrimSpace(message), duration)
}

func normalizeLabel(value string) string {
	value = strings.TrimSpace(strings.ToLower(value))
	if value == "" {
		return "unknown"
	}
	return value
}

// gatewayLabel reduces a gateway base URL to its host to keep label values short.
func gatewayLabel(gateway string) string {
	gateway = strings.TrimSpace(gateway)
	if parsed, err := url.Parse(gateway); err == nil && parsed.Host != "" {
		return strings.ToLower(parsed.Host)
	}
	return normalizeLabel(gateway)
}

func sanitizePath(path string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return ""
	}
	if path == "/" {
		return "root"
	}
	path = strings.Trim(path, "/")
	return strings.ReplaceAll(path, " ", "_")
}
