// Package validator checks in the background that the configured models are
// available on the model server.
package validator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const defaultRetryInterval = 30 * time.Second

// Lister returns the model identifiers served upstream.
type Lister interface {
	ListModels(ctx context.Context) ([]string, error)
}

// Models are the identifiers that must be available.
type Models struct {
	Vision  string
	General string
}

// Snapshot is the result of one availability check. Version increases with
// every recorded check; the zero Snapshot means nothing was checked yet.
type Snapshot struct {
	Version   uint64    `json:"version"`
	Checked   bool      `json:"checked"`
	Problems  []string  `json:"problems"`
	CheckedAt time.Time `json:"checked_at"`
}

// Failed reports whether the last check found problems.
func (s Snapshot) Failed() bool {
	return s.Checked && len(s.Problems) > 0
}

// Validator records availability snapshots. Readers never wait on a check
// in flight.
type Validator struct {
	lister        Lister
	logger        *zap.Logger
	retryInterval time.Duration

	models   atomic.Pointer[Models]
	snapshot atomic.Pointer[Snapshot]
	version  atomic.Uint64
	trigger  chan struct{}

	// checkMu serializes checks so versions are recorded in order.
	checkMu sync.Mutex
}

// Option configures a Validator.
type Option func(*Validator)

// WithRetryInterval sets how often a failed check is retried by Run.
func WithRetryInterval(d time.Duration) Option {
	return func(v *Validator) {
		if d > 0 {
			v.retryInterval = d
		}
	}
}

// New creates a Validator for the given models.
func New(lister Lister, models Models, logger *zap.Logger, opts ...Option) *Validator {
	v := &Validator{
		lister:        lister,
		logger:        logger,
		retryInterval: defaultRetryInterval,
		trigger:       make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(v)
	}

	v.models.Store(&models)
	v.snapshot.Store(&Snapshot{})
	return v
}

// Snapshot returns the most recently recorded result.
func (v *Validator) Snapshot() Snapshot {
	return *v.snapshot.Load()
}

// Trigger requests a background check. It never blocks; requests made while
// one is already pending are merged.
func (v *Validator) Trigger() {
	select {
	case v.trigger <- struct{}{}:
	default:
	}
}

// Reconfigure replaces the models to check and requests a check.
func (v *Validator) Reconfigure(models Models) {
	v.models.Store(&models)
	v.Trigger()
}

// Check runs one synchronous availability check and records its result.
func (v *Validator) Check(ctx context.Context) Snapshot {
	v.checkMu.Lock()
	defer v.checkMu.Unlock()

	models := *v.models.Load()
	problems := v.problems(ctx, models)

	snap := &Snapshot{
		Version:   v.version.Add(1),
		Checked:   true,
		Problems:  problems,
		CheckedAt: time.Now(),
	}
	v.snapshot.Store(snap)

	if len(problems) > 0 {
		v.logger.Warn("model validation failed",
			zap.Uint64("version", snap.Version),
			zap.Strings("problems", problems),
		)
	} else {
		v.logger.Info("model validation passed",
			zap.Uint64("version", snap.Version),
			zap.String("vision_model", models.Vision),
			zap.String("general_model", models.General),
		)
	}

	return *snap
}

func (v *Validator) problems(ctx context.Context, models Models) []string {
	available, err := v.lister.ListModels(ctx)
	if err != nil {
		return []string{fmt.Sprintf("could not list models: %v", err)}
	}

	var problems []string
	for _, want := range []struct {
		kind string
		id   string
	}{
		{"vision", models.Vision},
		{"general purpose", models.General},
	} {
		if !contains(available, want.id) {
			problems = append(problems, fmt.Sprintf("%s model %q is not available on the server", want.kind, want.id))
		}
	}
	return problems
}

// Run checks once, then again on every Trigger and periodically while the
// last result was a failure. It returns when ctx is done.
func (v *Validator) Run(ctx context.Context) error {
	v.Check(ctx)

	ticker := time.NewTicker(v.retryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-v.trigger:
			v.Check(ctx)
		case <-ticker.C:
			if v.Snapshot().Failed() {
				v.Check(ctx)
			}
		}
	}
}

// contains matches ids treating a missing tag as ":latest".
func contains(available []string, id string) bool {
	want := normalize(id)
	for _, a := range available {
		if normalize(a) == want {
			return true
		}
	}
	return false
}

// normalize appends ":latest" to an untagged id. A tag can only follow the
// last path segment, so a registry port such as host:5000/llava is not one.
func normalize(id string) string {
	id = strings.TrimSpace(id)
	if id == "" {
		return id
	}
	name := id[strings.LastIndex(id, "/")+1:]
	if !strings.Contains(name, ":") {
		return id + ":latest"
	}
	return id
}
