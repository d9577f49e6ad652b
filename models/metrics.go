package models

import "time"

// TableMetrics is a facility rollup derived from tables and the ledger.
type TableMetrics struct {
	BranchID               string    `json:"branch_id"`
	WindowStart            time.Time `json:"window_start"`
	WindowEnd              time.Time `json:"window_end"`
	TotalTables            int       `json:"total_tables"`
	Available              int       `json:"available"`
	Occupied               int       `json:"occupied"`
	Reserved               int       `json:"reserved"`
	Cleaning               int       `json:"cleaning"`
	Maintenance            int       `json:"maintenance"`
	OccupancyRate          float64   `json:"occupancy_rate"`
	AverageSessionDuration float64   `json:"average_session_duration"`
	TotalRevenue           float64   `json:"total_revenue"`
	TotalSessions          int       `json:"total_sessions"`
	ActiveStaff            int       `json:"active_staff"`
}

type StaffWorkload struct {
	StaffID            uint    `json:"staff_id"`
	StaffName          string  `json:"staff_name"`
	Role               string  `json:"role"`
	ActiveTables       int     `json:"active_tables"`
	TotalSessions      int     `json:"total_sessions"`
	TotalRevenue       float64 `json:"total_revenue"`
	AverageSessionTime float64 `json:"average_session_time"`
}

// MetricsReport bundles the facility rollup with per-staff workloads.
type MetricsReport struct {
	Metrics   TableMetrics    `json:"metrics"`
	Workloads []StaffWorkload `json:"workloads"`
}
