package services

import "time"

func SetIndexClock(m *MemorySessionIndex, now func() time.Time) {
	m.now = now
}

func SetMetricsClock(a *MetricsAggregator, now func() time.Time) {
	a.now = now
}
