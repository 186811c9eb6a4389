// Package diag runs a periodic self-report: process memory and CPU usage
// gathered with gopsutil, goroutine count from the runtime, and the
// engine's own session/slot counts, logged on a cron schedule and mirrored
// into the metrics registry.
package diag

import (
	"context"
	"os"
	"runtime"

	"github.com/robfig/cron/v3"
	"github.com/shirou/gopsutil/v3/process"

	"hostcryptoki/internal/logging"
	"hostcryptoki/internal/metrics"
)

// DefaultSchedule matches the cron spec format robfig/cron parses: every
// five minutes, frequent enough to catch a leak without flooding logs at
// the default "warn" level (reports log at debug).
const DefaultSchedule = "@every 5m"

// Stats is the engine-side counters a Reporter mirrors into its report.
type Stats struct {
	OpenSessions  int
	TokensPresent int
}

// StatsFunc supplies the current engine counters at report time.
type StatsFunc func() Stats

// Report is one self-report snapshot.
type Report struct {
	PID           int32
	RSSBytes      uint64
	CPUPercent    float64
	Goroutines    int
	OpenSessions  int
	TokensPresent int
}

// Reporter owns the cron schedule driving periodic self-reports.
type Reporter struct {
	cron  *cron.Cron
	log   *logging.Logger
	stats StatsFunc
	proc  *process.Process
}

// NewReporter builds a Reporter for the current process. stats may be nil,
// in which case reports carry zero session/token counts.
func NewReporter(log *logging.Logger, stats StatsFunc) (*Reporter, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, err
	}
	return &Reporter{
		cron:  cron.New(),
		log:   log,
		stats: stats,
		proc:  proc,
	}, nil
}

// Start schedules periodic reports under schedule, a robfig/cron spec
// string. An empty schedule selects DefaultSchedule.
func (r *Reporter) Start(schedule string) error {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	if _, err := r.cron.AddFunc(schedule, r.report); err != nil {
		return err
	}
	r.cron.Start()
	return nil
}

// Stop drains the in-flight report, if any, and halts the schedule.
func (r *Reporter) Stop() {
	<-r.cron.Stop().Done()
}

// Collect gathers one report without touching the schedule, exposed
// separately from report so callers (and tests) can sample on demand.
func (r *Reporter) Collect() Report {
	rep := Report{PID: int32(os.Getpid()), Goroutines: runtime.NumGoroutine()}

	if mi, err := r.proc.MemoryInfo(); err == nil && mi != nil {
		rep.RSSBytes = mi.RSS
	}
	if pct, err := r.proc.CPUPercent(); err == nil {
		rep.CPUPercent = pct
	}
	if r.stats != nil {
		st := r.stats()
		rep.OpenSessions = st.OpenSessions
		rep.TokensPresent = st.TokensPresent
	}
	return rep
}

func (r *Reporter) report() {
	rep := r.Collect()

	metrics.SetSessionsOpen(rep.OpenSessions)
	metrics.SetTokensPresent(rep.TokensPresent)

	r.log.Debug(context.Background(), "periodic self-report", map[string]interface{}{
		"pid":            rep.PID,
		"rss_bytes":      rep.RSSBytes,
		"cpu_percent":    rep.CPUPercent,
		"goroutines":     rep.Goroutines,
		"open_sessions":  rep.OpenSessions,
		"tokens_present": rep.TokensPresent,
	})
}
