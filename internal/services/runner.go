// Package services implements the business logic layer of the harness: it
// turns selected cases into scheduled work, reports their outcomes and
// persists run history.
package services

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kubev2v/qemu-backup-harness/internal/cases"
	"github.com/kubev2v/qemu-backup-harness/internal/config"
	"github.com/kubev2v/qemu-backup-harness/internal/harness"
	"github.com/kubev2v/qemu-backup-harness/internal/image"
	"github.com/kubev2v/qemu-backup-harness/internal/models"
	"github.com/kubev2v/qemu-backup-harness/internal/qemu"
	"github.com/kubev2v/qemu-backup-harness/internal/store"
	"github.com/kubev2v/qemu-backup-harness/pkg/scheduler"
)

var (
	passMark = color.New(color.FgGreen).SprintFunc()
	failMark = color.New(color.FgRed).SprintFunc()
	skipMark = color.New(color.FgYellow).SprintFunc()
)

// RunnerService executes functional cases on a worker pool. Each case gets
// a fresh workspace, VM and harness; the pool only bounds how many QEMU
// processes exist at once.
type RunnerService struct {
	cfg   config.Harness
	sched *scheduler.Scheduler
	store *store.Store
	log   *zap.SugaredLogger
}

// NewRunnerService creates a runner. store may be nil, which disables run
// history persistence.
func NewRunnerService(cfg config.Harness, sched *scheduler.Scheduler, st *store.Store) *RunnerService {
	return &RunnerService{
		cfg:   cfg,
		sched: sched,
		store: st,
		log:   zap.S().Named("runner"),
	}
}

// Run executes the named cases (all when names is empty) and returns the
// recorded run. A non-nil error means the harness itself misbehaved; case
// failures are reported through the run's results.
func (s *RunnerService) Run(ctx context.Context, names []string) (*models.Run, error) {
	selected, err := cases.Select(names)
	if err != nil {
		return nil, err
	}
	if len(selected) == 0 {
		return nil, fmt.Errorf("no cases to run")
	}

	run := &models.Run{
		ID:        uuid.NewString(),
		StartedAt: time.Now(),
	}
	s.log.Infow("starting run", "run", run.ID, "cases", len(selected))

	futures := make([]*scheduler.Future, 0, len(selected))
	for _, c := range selected {
		c := c
		futures = append(futures, s.sched.AddWork(c.Name, func(workCtx context.Context) models.CaseResult {
			return s.executeCase(workCtx, c)
		}))
	}

	for _, f := range futures {
		select {
		case res := <-f.C():
			s.report(res)
			run.Results = append(run.Results, res)
		case <-ctx.Done():
			for _, rest := range futures {
				rest.Stop()
			}
			return nil, ctx.Err()
		}
	}

	run.FinishedAt = time.Now()
	s.log.Infow("run finished", "run", run.ID,
		"passed", run.Passed(), "failed", run.Failed(), "skipped", run.Skipped())

	if s.store != nil {
		if err := s.store.Runs().Save(ctx, run); err != nil {
			return run, fmt.Errorf("failed to persist run %s: %w", run.ID, err)
		}
	}
	return run, nil
}

func (s *RunnerService) executeCase(ctx context.Context, c cases.Case) models.CaseResult {
	start := time.Now()
	result := models.CaseResult{Name: c.Name, Status: models.CaseStatusPassed}

	caseCtx, cancel := context.WithTimeout(ctx, s.cfg.CaseTimeout)
	defer cancel()

	dir, err := os.MkdirTemp(s.cfg.WorkDir, "harness-case-*")
	if err != nil {
		result.Status = models.CaseStatusFailed
		result.Error = fmt.Sprintf("failed to create workspace: %v", err)
		result.Duration = time.Since(start)
		return result
	}

	tool := image.NewTool(s.cfg.QemuImgBinary, s.cfg.QemuIOBinary, image.NewExecRunner())
	vm := qemu.New(s.cfg.QemuBinary, dir)
	h := harness.New(dir, tool, vm)
	defer h.Teardown()

	if err := c.Run(caseCtx, h); err != nil {
		result.Status = models.CaseStatusFailed
		result.Error = err.Error()
	}
	result.Duration = time.Since(start)
	return result
}

func (s *RunnerService) report(res models.CaseResult) {
	switch res.Status {
	case models.CaseStatusPassed:
		fmt.Printf("%s %s (%s)\n", passMark("PASS"), res.Name, res.Duration.Round(time.Millisecond))
	case models.CaseStatusFailed:
		fmt.Printf("%s %s (%s)\n     %s\n", failMark("FAIL"), res.Name, res.Duration.Round(time.Millisecond), res.Error)
	case models.CaseStatusSkipped:
		fmt.Printf("%s %s\n", skipMark("SKIP"), res.Name)
	}
}
