package schedule

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// FuncJob adapts a function to Job.
type FuncJob struct {
	JobName string
	Fn      func(ctx context.Context) error
}

func (f FuncJob) Name() string                  { return f.JobName }
func (f FuncJob) Run(ctx context.Context) error { return f.Fn(ctx) }

// Scheduler runs named jobs on standard five-field cron expressions or
// descriptors such as "@hourly". A job never overlaps with itself.
type Scheduler struct {
	cron *cron.Cron
	ids  map[string]cron.EntryID
	ctx  atomic.Pointer[context.Context]
	log  *zap.Logger
}

func New(log *zap.Logger) *Scheduler {
	if log == nil {
		log = zap.NewNop()
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	return &Scheduler{
		cron: cron.New(cron.WithParser(parser)),
		ids:  make(map[string]cron.EntryID),
		log:  log,
	}
}

// Add registers job under expr. Names must be unique.
func (s *Scheduler) Add(job Job, expr string) error {
	if _, ok := s.ids[job.Name()]; ok {
		return fmt.Errorf("schedule: job %q already added", job.Name())
	}

	r := &runner{job: job, log: s.log.With(zap.String("job", job.Name())), ctx: s.context}
	id, err := s.cron.AddJob(expr, r)
	if err != nil {
		return fmt.Errorf("schedule %s at %q: %w", job.Name(), expr, err)
	}
	s.ids[job.Name()] = id
	s.log.Info("job added", zap.String("job", job.Name()), zap.String("expr", expr))
	return nil
}

// Next reports when the named job fires next. It is the zero time until
// the scheduler has been started.
func (s *Scheduler) Next(name string) (time.Time, bool) {
	id, ok := s.ids[name]
	if !ok {
		return time.Time{}, false
	}
	return s.cron.Entry(id).Next, true
}

// Start runs jobs with ctx until Stop.
func (s *Scheduler) Start(ctx context.Context) {
	s.ctx.Store(&ctx)
	s.cron.Start()
}

// Stop waits for running jobs to return.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Scheduler) context() context.Context {
	if ctx := s.ctx.Load(); ctx != nil {
		return *ctx
	}
	return context.Background()
}

type runner struct {
	job  Job
	busy atomic.Bool
	ctx  func() context.Context
	log  *zap.Logger
}

func (r *runner) Run() {
	if !r.busy.CompareAndSwap(false, true) {
		r.log.Info("previous run still going, skipping")
		return
	}
	defer r.busy.Store(false)

	start := time.Now()
	if err := r.job.Run(r.ctx()); err != nil {
		r.log.Error("job failed", zap.Error(err), zap.Duration("duration", time.Since(start)))
		return
	}
	r.log.Info("job done", zap.Duration("duration", time.Since(start)))
}
