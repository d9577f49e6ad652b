package services

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/yeremiapane/restaurant-floor/database"
	"github.com/yeremiapane/restaurant-floor/models"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// Window is an inclusive time range.
type Window struct {
	From time.Time
	To   time.Time
}

// Aggregate derives branch metrics from a table snapshot and the session_end
// operations of the window. It has no side effects.
func Aggregate(branchID string, tables []models.Table, ops []models.TableOperation, staff []models.Staff, window Window) models.MetricsReport {
	m := models.TableMetrics{
		BranchID:    branchID,
		WindowStart: window.From,
		WindowEnd:   window.To,
	}

	activeTables := make(map[uint]int)
	assigned := make(map[uint]struct{})
	for _, t := range tables {
		if !t.IsActive {
			continue
		}
		m.TotalTables++
		if t.StaffID != nil {
			assigned[*t.StaffID] = struct{}{}
		}
		switch t.Status {
		case models.TableStatusAvailable:
			m.Available++
		case models.TableStatusOccupied:
			m.Occupied++
			if t.StaffID != nil {
				activeTables[*t.StaffID]++
			}
		case models.TableStatusReserved:
			m.Reserved++
		case models.TableStatusCleaning:
			m.Cleaning++
		case models.TableStatusMaintenance:
			m.Maintenance++
		}
	}
	m.ActiveStaff = len(assigned)
	if m.TotalTables > 0 {
		m.OccupancyRate = float64(m.Occupied) / float64(m.TotalTables)
	}

	type tally struct {
		sessions  int
		completed int
		minutes   int
		revenue   float64
	}
	perStaff := make(map[uint]*tally)
	var total tally
	for i := range ops {
		op := &ops[i]
		if op.Timestamp.Before(window.From) || op.Timestamp.After(window.To) {
			continue
		}
		d, ok := op.SessionEnd()
		if !ok {
			continue
		}
		total.sessions++
		var st *tally
		if d.StaffID != nil {
			st = perStaff[*d.StaffID]
			if st == nil {
				st = &tally{}
				perStaff[*d.StaffID] = st
			}
			st.sessions++
		}
		if d.Outcome != models.SessionStatusCompleted {
			continue
		}
		total.completed++
		total.minutes += d.DurationMinutes
		total.revenue += d.Amount
		if st != nil {
			st.completed++
			st.minutes += d.DurationMinutes
			st.revenue += d.Amount
		}
	}
	m.TotalSessions = total.sessions
	m.TotalRevenue = total.revenue
	if total.completed > 0 {
		m.AverageSessionDuration = float64(total.minutes) / float64(total.completed)
	}

	workloads := make([]models.StaffWorkload, 0, len(staff))
	for _, s := range staff {
		if !s.IsActive {
			continue
		}
		w := models.StaffWorkload{
			StaffID:      s.ID,
			StaffName:    s.FullName(),
			Role:         s.Role,
			ActiveTables: activeTables[s.ID],
		}
		if st := perStaff[s.ID]; st != nil {
			w.TotalSessions = st.sessions
			w.TotalRevenue = st.revenue
			if st.completed > 0 {
				w.AverageSessionTime = float64(st.minutes) / float64(st.completed)
			}
		}
		workloads = append(workloads, w)
	}
	sort.Slice(workloads, func(i, j int) bool { return workloads[i].StaffID < workloads[j].StaffID })

	return models.MetricsReport{Metrics: m, Workloads: workloads}
}

// MetricsAggregator computes reports from live data. It never takes table
// locks; identical concurrent requests share one computation.
type MetricsAggregator struct {
	repo   database.Repository
	ledger *Ledger
	group  singleflight.Group
	now    func() time.Time
}

func NewMetricsAggregator(repo database.Repository, ledger *Ledger) *MetricsAggregator {
	return &MetricsAggregator{
		repo:   repo,
		ledger: ledger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Compute reports on branchID for [from, to]. A zero to means now and a zero
// from means 24 hours before to.
func (a *MetricsAggregator) Compute(ctx context.Context, branchID string, from, to time.Time) (*models.MetricsReport, error) {
	if to.IsZero() {
		to = a.now()
	}
	if from.IsZero() {
		from = to.Add(-24 * time.Hour)
	}
	if from.After(to) {
		return nil, validationError("from must not be after to")
	}
	window := Window{From: from.UTC(), To: to.UTC()}

	key := fmt.Sprintf("%s|%d|%d", branchID, window.From.UnixNano(), window.To.UnixNano())
	v, err, _ := a.group.Do(key, func() (interface{}, error) {
		return a.compute(ctx, branchID, window)
	})
	if err != nil {
		return nil, err
	}
	report := v.(models.MetricsReport)
	return &report, nil
}

func (a *MetricsAggregator) compute(ctx context.Context, branchID string, window Window) (models.MetricsReport, error) {
	var (
		tables []models.Table
		ops    []models.TableOperation
		staff  []models.Staff
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		tables, err = a.repo.ListTables(gctx, database.TableFilter{BranchID: branchID})
		return translate(err, "tables")
	})
	g.Go(func() error {
		var err error
		ops, err = a.ledger.Window(gctx, branchID, window.From, window.To, models.OpSessionEnd)
		return err
	})
	g.Go(func() error {
		var err error
		staff, err = a.repo.ListStaff(gctx, database.StaffFilter{BranchID: branchID})
		return translate(err, "staff")
	})
	if err := g.Wait(); err != nil {
		return models.MetricsReport{}, err
	}
	return Aggregate(branchID, tables, ops, staff, window), nil
}
