// Package rebuild turns coalesced source-change events into fresh module
// metadata: compile, extract in a child process, merge into the host,
// republish. The guard package serializes the windows; any change arriving
// mid-build collapses into a single pending rebuild, and a change arriving
// mid-extraction kills the in-flight child so the stale artifact is never
// waited on.
package rebuild

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/plugdev/plugdev"
	"github.com/plugdev/plugdev/buildguard"
	"github.com/plugdev/plugdev/watch"
)

// Build stages, reported in Result.Stage.
const (
	StageCompile = "compile"
	StageExtract = "extract"
	StageApply   = "apply"
	StageOK      = "ok"
)

// Result is the outcome of one build attempt, published to peers as a
// status notification.
type Result struct {
	Success  bool          `json:"success"`
	Stage    string        `json:"stage"`
	Detail   string        `json:"detail,omitempty"`
	Duration time.Duration `json:"durationNs"`
}

// Compiler produces the module artifact. Implementations must honor the
// context.
type Compiler interface {
	Compile(ctx context.Context) error
}

// MetadataSource queries a built artifact for its metadata.
type MetadataSource interface {
	Params(ctx context.Context, dylibPath string) ([]plugdev.ParameterInfo, error)
	Processors(ctx context.Context, dylibPath string) ([]plugdev.ProcessorInfo, error)
}

// Store is the slice of the host the pipeline reads and replaces.
type Store interface {
	Parameters() []plugdev.ParameterInfo
	ReplaceAll(params []plugdev.ParameterInfo, procs []plugdev.ProcessorInfo)
}

// Pipeline runs the rebuild state machine over one artifact path.
type Pipeline struct {
	artifact string
	compiler Compiler
	source   MetadataSource
	store    Store
	log      *zap.Logger

	guard buildguard.Guard

	// onResult fires after every attempt; onReplaced only after a successful
	// apply, with the merged snapshot.
	onResult   func(Result)
	onReplaced func(params []plugdev.ParameterInfo, procs []plugdev.ProcessorInfo)

	mu            sync.Mutex
	cancelExtract context.CancelFunc

	builds   *prometheus.CounterVec
	duration prometheus.Histogram
}

// New wires a pipeline. reg may be nil to skip metric registration (tests).
func New(artifact string, compiler Compiler, source MetadataSource, store Store, log *zap.Logger, reg prometheus.Registerer) *Pipeline {
	p := &Pipeline{
		artifact: artifact,
		compiler: compiler,
		source:   source,
		store:    store,
		log:      log,
	}
	if reg != nil {
		p.builds = promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "plugdev_builds_total",
			Help: "Build attempts by outcome stage.",
		}, []string{"stage"})
		p.duration = promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:    "plugdev_build_duration_seconds",
			Help:    "Wall time of successful build attempts.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		})
	}
	return p
}

// OnResult registers the per-attempt status hook. Call before Run.
func (p *Pipeline) OnResult(fn func(Result)) { p.onResult = fn }

// OnReplaced registers the successful-apply hook. Call before Run.
func (p *Pipeline) OnReplaced(fn func(params []plugdev.ParameterInfo, procs []plugdev.ProcessorInfo)) {
	p.onReplaced = fn
}

// Building reports whether a build window is open.
func (p *Pipeline) Building() bool { return p.guard.Building() }

// Run consumes watcher events until ctx is cancelled or the channel closes.
func (p *Pipeline) Run(ctx context.Context, events <-chan watch.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			p.log.Info("source changed", zap.Int("paths", len(ev.Paths)))
			p.Trigger(ctx)
		}
	}
}

// Trigger requests a rebuild. When a build window is already open it marks
// the window pending and cancels any extraction in flight; the window
// restarts itself once the current attempt unwinds.
func (p *Pipeline) Trigger(ctx context.Context) {
	if p.guard.TryStart() {
		go p.window(ctx)
		return
	}
	p.guard.MarkPending()
	p.interruptExtraction()
	// The window can complete (finding no pending mark) between the failed
	// TryStart and the mark above, leaving the mark with nobody to consume
	// it. Re-check; at worst the reopened window runs one extra build.
	if p.guard.TryStart() {
		go p.window(ctx)
	}
}

// window drains one build window: run attempts until no pending mark is
// left behind the completed one.
func (p *Pipeline) window(ctx context.Context) {
	for {
		p.attempt(ctx)
		if !p.guard.Complete() {
			return
		}
		if ctx.Err() != nil {
			return
		}
		if !p.guard.TryStart() {
			// someone else reopened the window between Complete and here;
			// the queued change is theirs now
			return
		}
		p.log.Info("change arrived during build, rebuilding")
	}
}

func (p *Pipeline) attempt(ctx context.Context) {
	start := time.Now()

	if err := p.compiler.Compile(ctx); err != nil {
		p.report(Result{Stage: StageCompile, Detail: err.Error(), Duration: time.Since(start)})
		return
	}

	ectx, cancel := context.WithCancel(ctx)
	p.mu.Lock()
	p.cancelExtract = cancel
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.cancelExtract = nil
		p.mu.Unlock()
		cancel()
	}()

	params, err := p.source.Params(ectx, p.artifact)
	if err != nil {
		p.report(Result{Stage: StageExtract, Detail: err.Error(), Duration: time.Since(start)})
		return
	}
	procs, err := p.source.Processors(ectx, p.artifact)
	if err != nil {
		p.report(Result{Stage: StageExtract, Detail: err.Error(), Duration: time.Since(start)})
		return
	}

	merged := plugdev.MergeParameters(p.store.Parameters(), params)
	p.store.ReplaceAll(merged, procs)
	if p.onReplaced != nil {
		p.onReplaced(merged, procs)
	}

	took := time.Since(start)
	if p.duration != nil {
		p.duration.Observe(took.Seconds())
	}
	p.report(Result{Success: true, Stage: StageOK, Duration: took})
}

func (p *Pipeline) report(r Result) {
	if p.builds != nil {
		p.builds.WithLabelValues(r.Stage).Inc()
	}
	if r.Success {
		p.log.Info("build succeeded", zap.Duration("took", r.Duration))
	} else {
		p.log.Warn("build failed",
			zap.String("stage", r.Stage),
			zap.String("detail", r.Detail),
			zap.Duration("took", r.Duration))
	}
	if p.onResult != nil {
		p.onResult(r)
	}
}

func (p *Pipeline) interruptExtraction() {
	p.mu.Lock()
	cancel := p.cancelExtract
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}
