package plan

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/atomikpanda/pkgdeliver/internal/actions"
	"github.com/atomikpanda/pkgdeliver/internal/audit"
	"github.com/atomikpanda/pkgdeliver/internal/metrics"
	"github.com/atomikpanda/pkgdeliver/internal/salvage"
)

// ErrorMode selects what Apply does after a step fails.
type ErrorMode int

const (
	// Abort stops at the first failed step.
	Abort ErrorMode = iota
	// Continue records the failure and applies the remaining steps.
	Continue
)

func (m ErrorMode) String() string {
	if m == Continue {
		return "continue"
	}
	return "abort"
}

// ParseErrorMode accepts "abort" (or "") and "continue".
func ParseErrorMode(s string) (ErrorMode, error) {
	switch s {
	case "", "abort":
		return Abort, nil
	case "continue":
		return Continue, nil
	default:
		return Abort, fmt.Errorf("unknown error mode %q", s)
	}
}

// IndexGroup is the index tuples of one applied action.
type IndexGroup struct {
	Action string
	Key    string
	Tuples []actions.IndexTuple
}

// Result summarizes an apply.
type Result struct {
	PlanID    string
	Installed int
	Updated   int
	Removed   int
	Failures  []error
	Indices   []IndexGroup
	Duration  time.Duration
}

// Err joins every recorded failure.
func (r *Result) Err() error {
	return errors.Join(r.Failures...)
}

// Engine applies package plans to one image. It is not safe for concurrent
// use; callers holding several plans for the same image run them in turn
// under the image lock.
type Engine struct {
	OnError   ErrorMode
	Preflight bool // validate destination actions before touching the image
	Log       zerolog.Logger
	Metrics   metrics.Metrics
	Journal   *audit.Journal
}

// Run computes the diff between origin and dest and applies it.
func (e *Engine) Run(ctx context.Context, p *PackagePlan, origin, dest []actions.Action) (*Result, error) {
	d, err := e.Prepare(p, origin, dest)
	if err != nil {
		return nil, err
	}
	return e.Apply(ctx, p, d)
}

// Prepare computes the diff and, with Preflight set, validates every
// destination action. Nothing in the image is touched.
func (e *Engine) Prepare(p *PackagePlan, origin, dest []actions.Action) (*Diff, error) {
	d, err := Compute(origin, dest)
	if err != nil {
		return nil, err
	}
	if e.Preflight {
		if errs := actions.ValidateAll(p.DestinationFMRI(), dest); len(errs) > 0 {
			return nil, errors.Join(errs...)
		}
	}
	return d, nil
}

// Apply executes d against the plan's image. Removals run before installs
// and updates. Nothing is rolled back: in Abort mode the first failure is
// returned along with the partial Result, in Continue mode every failure is
// collected and returned joined.
func (e *Engine) Apply(ctx context.Context, p *PackagePlan, d *Diff) (*Result, error) {
	m := e.Metrics
	if m == nil {
		m = metrics.Noop{}
	}
	img := p.Image()
	prevHook := img.OnSalvage
	img.OnSalvage = func(rec salvage.Record) {
		m.IncSalvaged()
		if prevHook != nil {
			prevHook(rec)
		}
	}
	defer func() { img.OnSalvage = prevHook }()

	log := e.Log.With().Str("plan_id", p.ID).Str("fmri", p.fmri()).Logger()
	ins, upd, rem := d.Counts()
	log.Info().Int("install", ins).Int("update", upd).Int("remove", rem).Msg("applying plan")

	res := &Result{PlanID: p.ID}
	start := time.Now()
	defer func() {
		res.Duration = time.Since(start)
		m.ObserveApply(res.Duration.Seconds())
	}()

	for _, s := range d.Steps() {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		err := e.step(p, s)
		a := s.Action()
		outcome := "success"
		if err != nil {
			outcome = "failure"
		}
		m.ObserveAction(a.Name(), s.Op.String(), outcome)
		e.Journal.Record(journalEntry(p, s, outcome, err))

		ev := log.Debug()
		if err != nil {
			ev = log.Error().Err(err)
		}
		ev.Str("type", a.Name()).Str("key", a.Key()).Str("op", s.Op.String()).Str("outcome", outcome).Msg("step")

		if err != nil {
			res.Failures = append(res.Failures, err)
			if e.OnError == Abort {
				return res, err
			}
			continue
		}
		switch s.Op {
		case OpInstall:
			res.Installed++
		case OpUpdate:
			res.Updated++
		case OpRemove:
			res.Removed++
			continue
		}
		res.Indices = append(res.Indices, IndexGroup{
			Action: a.Name(),
			Key:    a.Key(),
			Tuples: a.GenerateIndices(),
		})
	}

	log.Info().
		Int("installed", res.Installed).
		Int("updated", res.Updated).
		Int("removed", res.Removed).
		Int("failed", len(res.Failures)).
		Msg("plan applied")
	return res, res.Err()
}

func (e *Engine) step(p *PackagePlan, s Step) error {
	var err error
	if s.Op == OpRemove {
		err = s.Orig.Remove(p)
	} else {
		err = s.Dest.Install(p, s.Orig)
	}
	if err == nil {
		return nil
	}
	var ae *actions.Error
	if errors.As(err, &ae) && ae.FMRI == "" {
		ae.FMRI = p.fmri()
	}
	return err
}

func journalEntry(p *PackagePlan, s Step, outcome string, err error) audit.Entry {
	a := s.Action()
	e := audit.Entry{
		PlanID:  p.ID,
		FMRI:    p.fmri(),
		Op:      s.Op.String(),
		Action:  a.Name(),
		Key:     a.Key(),
		Outcome: outcome,
	}
	if err != nil {
		e.Error = err.Error()
	}
	return e
}
