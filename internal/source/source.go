// Package source fetches entity batches and races them against a timeout,
// committing a bundled fallback dataset when the primary source fails.
package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/geoglobe/globe/pkg/core"
)

var (
	// ErrSourceUnavailable covers network failures and timeouts.
	ErrSourceUnavailable = errors.New("source unavailable")
	// ErrInvalidSourceShape means the response is not the expected collection.
	ErrInvalidSourceShape = errors.New("invalid source shape")
)

// Source supplies a batch of entities.
type Source interface {
	Fetch(ctx context.Context) ([]core.Entity, error)
}

// Func adapts a plain function to Source.
type Func func(ctx context.Context) ([]core.Entity, error)

func (f Func) Fetch(ctx context.Context) ([]core.Entity, error) {
	return f(ctx)
}

// Result is the outcome of one Load.
type Result struct {
	Entities []core.Entity
	// Fallback is set when Entities came from the fallback source.
	Fallback bool
	// Notice is non-nil when the primary source failed.
	Notice     *core.Notice
	Generation uint64
}

// Loader runs one fetch-with-timeout per Load. Each Load gets a new generation;
// only the latest generation may be committed.
type Loader struct {
	primary  Source
	fallback Source
	timeout  time.Duration
	logger   *slog.Logger

	generation atomic.Uint64
}

// NewLoader creates a loader. A nil primary always uses the fallback.
func NewLoader(primary, fallback Source, timeout time.Duration, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{
		primary:  primary,
		fallback: fallback,
		timeout:  timeout,
		logger:   logger,
	}
}

// Latest returns the generation of the most recent Load.
func (l *Loader) Latest() uint64 {
	return l.generation.Load()
}

// IsLatest reports whether a result may still be committed.
func (l *Loader) IsLatest(r Result) bool {
	return r.Generation == l.generation.Load()
}

type fetchResult struct {
	entities []core.Entity
	err      error
}

// Load fetches from the primary source, falling back on failure or timeout.
// It errors only when the fallback fails as well.
func (l *Loader) Load(ctx context.Context) (Result, error) {
	gen := l.generation.Add(1)

	entities, err := l.fetchPrimary(ctx, gen)
	if err == nil {
		return Result{Entities: entities, Generation: gen}, nil
	}

	l.logger.Warn("primary source failed, using fallback dataset", "generation", gen, "error", err)
	notice := noticeFor(err)

	if l.fallback == nil {
		return Result{Generation: gen, Notice: notice}, fmt.Errorf("no fallback source: %w", err)
	}
	entities, ferr := l.fallback.Fetch(ctx)
	if ferr != nil {
		return Result{Generation: gen, Notice: notice}, fmt.Errorf("fallback source failed: %w", errors.Join(err, ferr))
	}
	return Result{Entities: entities, Fallback: true, Notice: notice, Generation: gen}, nil
}

func (l *Loader) fetchPrimary(ctx context.Context, gen uint64) ([]core.Entity, error) {
	if l.primary == nil {
		return nil, fmt.Errorf("%w: no primary source configured", ErrSourceUnavailable)
	}

	fetchCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	ch := make(chan fetchResult, 1)
	go func() {
		entities, err := l.primary.Fetch(fetchCtx)
		ch <- fetchResult{entities: entities, err: err}
	}()

	var timeout <-chan time.Time
	if l.timeout > 0 {
		timer := time.NewTimer(l.timeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case r := <-ch:
		if r.err != nil {
			return nil, classify(r.err)
		}
		return r.entities, nil
	case <-timeout:
		go l.discardLate(ch, gen)
		return nil, fmt.Errorf("%w: timed out after %s", ErrSourceUnavailable, l.timeout)
	case <-ctx.Done():
		go l.discardLate(ch, gen)
		return nil, fmt.Errorf("%w: %w", ErrSourceUnavailable, ctx.Err())
	}
}

func (l *Loader) discardLate(ch <-chan fetchResult, gen uint64) {
	r := <-ch
	l.logger.Debug("discarding late source response", "generation", gen, "entities", len(r.entities), "error", r.err)
}

// classify wraps errors that are not already a source sentinel as unavailable.
func classify(err error) error {
	if errors.Is(err, ErrInvalidSourceShape) || errors.Is(err, ErrSourceUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
}

func noticeFor(err error) *core.Notice {
	kind := core.NoticeSourceUnavailable
	if errors.Is(err, ErrInvalidSourceShape) {
		kind = core.NoticeInvalidSourceShape
	}
	return &core.Notice{
		Kind:    kind,
		Message: fmt.Sprintf("live data unavailable, showing sample data: %v", err),
	}
}
