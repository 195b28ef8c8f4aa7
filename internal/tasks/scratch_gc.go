package tasks

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/bishopdynamics/NetbootStudioV2/internal/platform/lifecycle"
	"github.com/bishopdynamics/NetbootStudioV2/pkg/logger"
)

// ScratchGC periodically sweeps a builder's scratch root for workspace
// directories a crashed or killed build left behind before its own
// Workspace.Cleanup could run (§4.6's "scratch is always removed" holds
// within one process lifetime, not across a restart). Grounded on the
// teacher's automation.Scheduler cron-driven job runner.
type ScratchGC struct {
	root   string
	spec   string
	maxAge time.Duration
	log    *logger.Logger
	cron   *cron.Cron
}

var _ lifecycle.Service = (*ScratchGC)(nil)

// NewScratchGC creates a GC scheduler for root. spec is a standard cron
// schedule ("@hourly", "@every 1h", "0 */6 * * *", ...); entries whose
// modification time is older than maxAge are removed on each tick.
func NewScratchGC(root, spec string, maxAge time.Duration, log *logger.Logger) *ScratchGC {
	if log == nil {
		log = logger.NewDefault("scratch-gc")
	}
	if spec == "" {
		spec = "@hourly"
	}
	if maxAge <= 0 {
		maxAge = 24 * time.Hour
	}
	return &ScratchGC{root: root, spec: spec, maxAge: maxAge, log: log}
}

func (g *ScratchGC) Name() string { return "scratch-gc" }

func (g *ScratchGC) Start(ctx context.Context) error {
	g.cron = cron.New()
	if _, err := g.cron.AddFunc(g.spec, g.sweep); err != nil {
		return err
	}
	g.cron.Start()
	g.log.WithField("spec", g.spec).Info("scratch gc scheduler started")
	return nil
}

func (g *ScratchGC) Stop(ctx context.Context) error {
	if g.cron == nil {
		return nil
	}
	stopCtx := g.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	g.log.Info("scratch gc scheduler stopped")
	return nil
}

// sweep removes every top-level directory under root older than maxAge
// (plain files are left alone),
// logging but not failing on a per-entry error.
func (g *ScratchGC) sweep() {
	entries, err := os.ReadDir(g.root)
	if err != nil {
		if !os.IsNotExist(err) {
			g.log.WithField("error", err).Warn("scratch gc: read scratch root")
		}
		return
	}

	cutoff := time.Now().Add(-g.maxAge)
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(g.root, e.Name())
		if err := os.RemoveAll(path); err != nil {
			g.log.WithField("error", err).WithField("path", path).Warn("scratch gc: remove stale workspace")
			continue
		}
		g.log.WithField("path", path).Info("scratch gc: removed stale workspace")
	}
}
