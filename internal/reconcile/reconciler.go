// SPDX-License-Identifier: MPL-2.0

package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/stackbind/stackbind/internal/clock"
	"github.com/stackbind/stackbind/internal/cloud"
	"github.com/stackbind/stackbind/internal/metadata"
)

const (
	// RefreshLead is how long before expiry assumed credentials are renewed.
	RefreshLead = 60 * time.Second

	// stopTimeout bounds teardown once the session context is gone.
	stopTimeout = 15 * time.Second
)

type (
	// Resolver finds the site resource bound to a directory.
	Resolver interface {
		Resolve(ctx context.Context, dir string) (metadata.Resource, error)
	}

	// Assembler turns a resource into a Binding.
	Assembler interface {
		Assemble(ctx context.Context, res metadata.Resource) (cloud.Binding, error)
	}

	// Broker provides credentials.
	Broker interface {
		AssumeRole(ctx context.Context, roleArn string) (cloud.Credentials, error)
		Ambient(ctx context.Context) (cloud.Credentials, error)
	}

	// Supervisor runs the bound command.
	Supervisor interface {
		Run(ctx context.Context, overrides map[string]string) error
		Exited() <-chan int
		Stop(ctx context.Context) error
	}

	// Reporter shows session transitions to the user.
	Reporter interface {
		Info(msg string)
		Warn(msg string)
	}

	// Options configure a bind session.
	Options struct {
		// Dir is the working directory whose site is bound.
		Dir    string
		App    string
		Stage  string
		Region string
		// Site is the framework detector's verdict for Dir.
		Site bool
		// Script forces script mode.
		Script bool
		// Local is the declared configuration used in script mode.
		Local LocalConfig
	}

	// Deps are the collaborators of a Reconciler. Clock and Reporter are
	// optional.
	Deps struct {
		Resolver   Resolver
		Assembler  Assembler
		Broker     Broker
		Supervisor Supervisor
		Clock      clock.Clock
		Reporter   Reporter
	}

	// Reconciler runs one bind session.
	Reconciler struct {
		opts Options
		deps Deps

		mu      sync.Mutex
		pending []Trigger
		state   State
		wake    chan struct{}

		// Owned by the Run goroutine.
		script     bool
		bound      bool
		binding    cloud.Binding
		timer      clock.Timer
		generation uint64
	}
)

// New creates a Reconciler.
func New(opts Options, deps Deps) *Reconciler {
	if deps.Clock == nil {
		deps.Clock = clock.Real{}
	}
	if deps.Reporter == nil {
		deps.Reporter = slogReporter{}
	}
	return &Reconciler{opts: opts, deps: deps, wake: make(chan struct{}, 1)}
}

// Notify queues t for the Run loop. It never blocks. A trigger identical to
// one still pending is dropped.
func (r *Reconciler) Notify(t Trigger) {
	r.mu.Lock()
	if slices.Contains(r.pending, t) {
		r.mu.Unlock()
		slog.Debug("coalesced trigger", "trigger", t)
		return
	}
	r.pending = append(r.pending, t)
	r.mu.Unlock()

	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// State returns the current state.
func (r *Reconciler) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// ScriptMode reports whether the session degraded to script mode.
func (r *Reconciler) ScriptMode() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.script
}

// Run binds the command and processes triggers until the command exits on
// its own, returning its exit code, or ctx is done, in which case the process
// tree is torn down and ctx's error returned. An error during startup halts
// the session.
func (r *Reconciler) Run(ctx context.Context) (int, error) {
	defer r.stopTimer()

	r.Notify(Trigger{Kind: TriggerInit})

	for {
		select {
		case <-ctx.Done():
			return 0, r.shutdown(ctx)

		case code := <-r.deps.Supervisor.Exited():
			return r.exited(ctx, code), nil

		case <-r.wake:
			for {
				if ctx.Err() != nil {
					return 0, r.shutdown(ctx)
				}
				// A natural exit ends the session even with triggers queued.
				select {
				case code := <-r.deps.Supervisor.Exited():
					return r.exited(ctx, code), nil
				default:
				}

				t, ok := r.pop()
				if !ok {
					break
				}
				if done, code, err := r.step(ctx, t); done {
					return code, err
				}
			}
		}
	}
}

// step handles t while watching for the command to exit. A pass may block
// for a long time, e.g. while waiting for a redeploy, and an exit in the
// meantime cancels it and ends the session.
func (r *Reconciler) step(ctx context.Context, t Trigger) (bool, int, error) {
	passCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errc := make(chan error, 1)
	go func() { errc <- r.handle(passCtx, t) }()

	select {
	case err := <-errc:
		if err == nil {
			return false, 0, nil
		}
		if ctx.Err() != nil {
			return true, 0, r.shutdown(ctx)
		}
		_ = r.deps.Supervisor.Stop(context.WithoutCancel(ctx)) //nolint:errcheck // already failing
		return true, 1, err

	case code := <-r.deps.Supervisor.Exited():
		cancel()
		<-errc
		return true, r.exited(ctx, code), nil

	case <-ctx.Done():
		<-errc
		return true, 0, r.shutdown(ctx)
	}
}

// exited ends the session after a natural exit. The tree is stopped anyway
// since a replacement may have been spawned while the exit was in flight.
func (r *Reconciler) exited(ctx context.Context, code int) int {
	slog.Debug("command exited", "code", code)
	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), stopTimeout)
	defer cancel()
	if err := r.deps.Supervisor.Stop(stopCtx); err != nil {
		slog.Warn("could not stop process tree after exit", "error", err)
	}
	return code
}

func (r *Reconciler) shutdown(ctx context.Context) error {
	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), stopTimeout)
	defer cancel()
	if err := r.deps.Supervisor.Stop(stopCtx); err != nil {
		return errors.Join(ctx.Err(), err)
	}
	return ctx.Err()
}

func (r *Reconciler) pop() (Trigger, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.pending) == 0 {
		return Trigger{}, false
	}
	t := r.pending[0]
	r.pending = r.pending[1:]
	return t, true
}

func (r *Reconciler) setState(s State) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

// handle processes one trigger. Only startup failures are returned; later
// failures are reported and leave the running process in place.
func (r *Reconciler) handle(ctx context.Context, t Trigger) error {
	if t.Kind == TriggerInit {
		return r.start(ctx)
	}

	if r.script {
		slog.Debug("script mode ignores trigger", "trigger", t)
		return nil
	}

	switch t.Kind {
	case TriggerSecretsUpdated:
		if !r.binding.HasSecret(t.Secret) {
			slog.Debug("ignoring update of unbound secret", "secret", t.Secret)
			return nil
		}
	case TriggerIAMExpired:
		if t.Generation != r.generation {
			slog.Debug("ignoring superseded refresh timer", "generation", t.Generation, "current", r.generation)
			return nil
		}
	}

	if err := r.pass(ctx, t); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		r.deps.Reporter.Warn(fmt.Sprintf("Could not rebind after %s, keeping the current process: %v", t, err))
		r.setState(StateBound)
	}
	return nil
}

func (r *Reconciler) start(ctx context.Context) error {
	switch {
	case r.opts.Script:
		return r.enterScript(ctx, "requested with --script")
	case !r.opts.Site:
		return r.enterScript(ctx, "no site framework detected")
	}

	err := r.pass(ctx, Trigger{Kind: TriggerInit})
	if errors.Is(err, metadata.ErrOutdatedMetadata) {
		r.deps.Reporter.Warn(fmt.Sprintf("Deployment metadata is outdated, redeploy to bind to it: %v", err))
		return r.enterScript(ctx, "metadata is outdated")
	}
	return err
}

// pass resolves, assembles and rebinds.
func (r *Reconciler) pass(ctx context.Context, t Trigger) error {
	r.setState(StateResolving)

	res, err := r.deps.Resolver.Resolve(ctx, r.opts.Dir)
	if err != nil {
		return err
	}
	b, err := r.deps.Assembler.Assemble(ctx, res)
	if err != nil {
		return err
	}

	if t.Kind == TriggerMetadataUpdated && r.bound && cloud.AreEnvsSame(b.Envs, r.binding.Envs) {
		slog.Debug("environment unchanged, not restarting", "resource", res.ID)
		// New secret names still filter secrets_updated triggers.
		r.binding.Secrets = b.Secrets
		r.setState(StateBound)
		return nil
	}

	r.setState(StateAwaitingRestart)
	creds := r.credentials(ctx, b.Role)

	// A canceled pass must not spawn a process nobody will supervise.
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.bound {
		r.deps.Reporter.Info("Restarting: " + t.reason())
	}
	if err := r.deps.Supervisor.Run(ctx, r.overrides(b.Envs, creds)); err != nil {
		return err
	}

	r.binding = b
	r.bound = true
	r.setState(StateBound)
	slog.Debug("bound", "resource", res.ID, "stack", res.Stack, "role", b.Role, "credentials", creds.Source)
	return nil
}

// credentials assumes role when present and arms the refresh timer, falling
// back to ambient credentials. Any prior timer is cancelled either way.
func (r *Reconciler) credentials(ctx context.Context, role string) cloud.Credentials {
	if role != "" {
		creds, err := r.deps.Broker.AssumeRole(ctx, role)
		if err == nil {
			r.armTimer(creds.Expiration)
			return creds
		}
		r.deps.Reporter.Warn(fmt.Sprintf("Could not assume %s, using local credentials: %v", role, err))
	}
	r.stopTimer()
	return r.ambient(ctx)
}

func (r *Reconciler) ambient(ctx context.Context) cloud.Credentials {
	creds, err := r.deps.Broker.Ambient(ctx)
	if err != nil {
		r.deps.Reporter.Warn(fmt.Sprintf("No local credentials found, running without them: %v", err))
		return cloud.Credentials{}
	}
	return creds
}

func (r *Reconciler) enterScript(ctx context.Context, reason string) error {
	r.mu.Lock()
	r.script = true
	r.mu.Unlock()
	r.setState(StateAwaitingRestart)

	env, err := r.opts.Local.Load()
	if err != nil {
		return err
	}
	creds := r.ambient(ctx)

	if err := ctx.Err(); err != nil {
		return err
	}
	r.deps.Reporter.Info("Running in script mode: " + reason)
	if err := r.deps.Supervisor.Run(ctx, r.overrides(env, creds)); err != nil {
		return err
	}
	r.binding = cloud.Binding{Envs: env}
	r.bound = true
	r.setState(StateBound)
	return nil
}

// overrides layers credentials, region and session identity over envs.
func (r *Reconciler) overrides(envs map[string]string, creds cloud.Credentials) map[string]string {
	out := maps.Clone(envs)
	if out == nil {
		out = map[string]string{}
	}
	if creds.AccessKeyID != "" {
		maps.Copy(out, creds.Env())
	}
	if r.opts.Region != "" {
		out["AWS_REGION"] = r.opts.Region
		out["AWS_DEFAULT_REGION"] = r.opts.Region
	}
	if r.opts.App != "" {
		out["STACKBIND_APP"] = r.opts.App
	}
	if r.opts.Stage != "" {
		out["STACKBIND_STAGE"] = r.opts.Stage
	}
	return out
}

// armTimer replaces the refresh timer with one firing RefreshLead before
// expiration. Expiry triggers carry the new generation; older ones are
// dropped by handle.
func (r *Reconciler) armTimer(expiration time.Time) {
	r.stopTimer()
	if expiration.IsZero() {
		return
	}
	gen := r.generation
	d := expiration.Sub(r.deps.Clock.Now()) - RefreshLead
	slog.Debug("credential refresh scheduled", "in", d, "generation", gen)
	r.timer = r.deps.Clock.AfterFunc(d, func() {
		r.Notify(Trigger{Kind: TriggerIAMExpired, Generation: gen})
	})
}

func (r *Reconciler) stopTimer() {
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	r.generation++
}

type slogReporter struct{}

func (slogReporter) Info(msg string) { slog.Info(msg) }
func (slogReporter) Warn(msg string) { slog.Warn(msg) }
