// SPDX-License-Identifier: MPL-2.0

package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stackbind/stackbind/internal/clock"
	"github.com/stackbind/stackbind/internal/cloud"
	"github.com/stackbind/stackbind/internal/metadata"
)

type fakeResolver struct {
	mu    sync.Mutex
	calls int
	// errs are returned by the first calls, in order.
	errs []error
	res  metadata.Resource
	// hold makes calls block until canceled, like polling for a redeploy.
	hold bool
}

func (f *fakeResolver) Resolve(ctx context.Context, _ string) (metadata.Resource, error) {
	f.mu.Lock()
	f.calls++
	if f.hold {
		f.mu.Unlock()
		<-ctx.Done()
		return metadata.Resource{}, ctx.Err()
	}
	defer f.mu.Unlock()
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return metadata.Resource{}, err
		}
	}
	return f.res, nil
}

func (f *fakeResolver) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeAssembler returns bindings in order, repeating the last one.
type fakeAssembler struct {
	mu       sync.Mutex
	bindings []cloud.Binding
	err      error
	entered  chan struct{}
	gate     chan struct{}
}

func (f *fakeAssembler) Assemble(context.Context, metadata.Resource) (cloud.Binding, error) {
	f.mu.Lock()
	entered, gate := f.entered, f.gate
	f.mu.Unlock()
	if gate != nil {
		entered <- struct{}{}
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		err := f.err
		f.err = nil
		return cloud.Binding{}, err
	}
	b := f.bindings[0]
	if len(f.bindings) > 1 {
		f.bindings = f.bindings[1:]
	}
	return b, nil
}

// hold makes the next calls block, ignoring cancellation, until release is
// closed. entered receives once per call.
func (f *fakeAssembler) hold() (entered <-chan struct{}, release chan<- struct{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entered = make(chan struct{}, 1)
	f.gate = make(chan struct{})
	return f.entered, f.gate
}

func (f *fakeAssembler) set(b ...cloud.Binding) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bindings = b
}

type fakeBroker struct {
	mu         sync.Mutex
	clock      *clock.Fake
	assumes    int
	assumeErr  error
	ambientErr error
}

func (f *fakeBroker) AssumeRole(_ context.Context, role string) (cloud.Credentials, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.assumes++
	if f.assumeErr != nil {
		return cloud.Credentials{}, f.assumeErr
	}
	return cloud.Credentials{
		AccessKeyID:     fmt.Sprintf("ASIA%d", f.assumes),
		SecretAccessKey: "role-secret",
		SessionToken:    "role-token",
		Expiration:      f.clock.Now().Add(time.Hour),
		Source:          cloud.SourceAssumedRole,
	}, nil
}

func (f *fakeBroker) Ambient(context.Context) (cloud.Credentials, error) {
	if f.ambientErr != nil {
		return cloud.Credentials{}, f.ambientErr
	}
	return cloud.Credentials{AccessKeyID: "AKIALOCAL", SecretAccessKey: "local-secret", Source: cloud.SourceAmbient}, nil
}

func (f *fakeBroker) Assumes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.assumes
}

type fakeSupervisor struct {
	mu     sync.Mutex
	runs   []map[string]string
	runErr error
	stops  int
	exited chan int
}

func newFakeSupervisor() *fakeSupervisor {
	return &fakeSupervisor{exited: make(chan int, 1)}
}

func (f *fakeSupervisor) Run(_ context.Context, overrides map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.runErr != nil {
		return f.runErr
	}
	if len(f.runs) > 0 {
		select {
		case <-f.exited:
		default:
		}
	}
	f.runs = append(f.runs, overrides)
	return nil
}

func (f *fakeSupervisor) Exited() <-chan int { return f.exited }

func (f *fakeSupervisor) Stop(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	return nil
}

func (f *fakeSupervisor) Runs() []map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]map[string]string(nil), f.runs...)
}

func (f *fakeSupervisor) Stops() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stops
}

func (f *fakeSupervisor) setRunErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runErr = err
}

type fakeReporter struct {
	mu    sync.Mutex
	infos []string
	warns []string
}

func (f *fakeReporter) Info(msg string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.infos = append(f.infos, msg)
}

func (f *fakeReporter) Warn(msg string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.warns = append(f.warns, msg)
}

func (f *fakeReporter) Warns() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.warns)
}

type harness struct {
	r        *Reconciler
	resolver *fakeResolver
	asm      *fakeAssembler
	broker   *fakeBroker
	sup      *fakeSupervisor
	reporter *fakeReporter
	clock    *clock.Fake

	cancel   context.CancelFunc
	done     chan result
	finished chan struct{}
}

type result struct {
	code int
	err  error
}

var (
	staticSite = metadata.Resource{Kind: metadata.KindStatic, ID: "Web", Stack: "web", Path: "."}
	serverSite = metadata.Resource{Kind: metadata.KindNextjs, ID: "Site", Stack: "web", Path: ".", Server: "site-fn"}
)

func newHarness(t *testing.T, opts Options, res metadata.Resource, bindings ...cloud.Binding) *harness {
	t.Helper()
	fc := clock.NewFake(time.Time{})
	h := &harness{
		resolver: &fakeResolver{res: res},
		asm:      &fakeAssembler{bindings: bindings},
		broker:   &fakeBroker{clock: fc},
		sup:      newFakeSupervisor(),
		reporter: &fakeReporter{},
		clock:    fc,
		done:     make(chan result, 1),
		finished: make(chan struct{}),
	}
	if opts.Dir == "" {
		opts.Dir = "/project"
	}
	if !opts.Script {
		opts.Site = opts.Site || res.Kind != ""
	}
	h.r = New(opts, Deps{
		Resolver:   h.resolver,
		Assembler:  h.asm,
		Broker:     h.broker,
		Supervisor: h.sup,
		Clock:      fc,
		Reporter:   h.reporter,
	})
	return h
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() {
		defer close(h.finished)
		code, err := h.r.Run(ctx)
		h.done <- result{code, err}
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-h.finished:
		case <-time.After(5 * time.Second):
		}
	})
}

func (h *harness) exit(t *testing.T, code int) result {
	t.Helper()
	h.sup.exited <- code
	return h.wait(t)
}

func (h *harness) wait(t *testing.T) result {
	t.Helper()
	select {
	case res := <-h.done:
		return res
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return")
		return result{}
	}
}

// settle waits until resolve has been called n times and the pass finished.
func (h *harness) settle(t *testing.T, n int) {
	t.Helper()
	waitFor(t, fmt.Sprintf("%d resolutions", n), func() bool {
		h.r.mu.Lock()
		idle := len(h.r.pending) == 0
		h.r.mu.Unlock()
		return h.resolver.Calls() >= n && idle && h.r.State() == StateBound
	})
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestStaticSiteUsesAmbientCredentials(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Options{App: "shop", Stage: "dev", Region: "eu-west-1"}, staticSite,
		cloud.Binding{Envs: map[string]string{"API_URL": "https://api"}})
	h.start(t)
	h.settle(t, 1)

	runs := h.sup.Runs()
	if len(runs) != 1 {
		t.Fatalf("supervisor runs = %d, want 1", len(runs))
	}
	env := runs[0]
	want := map[string]string{
		"API_URL":               "https://api",
		"AWS_ACCESS_KEY_ID":     "AKIALOCAL",
		"AWS_SECRET_ACCESS_KEY": "local-secret",
		"AWS_REGION":            "eu-west-1",
		"AWS_DEFAULT_REGION":    "eu-west-1",
		"STACKBIND_APP":         "shop",
		"STACKBIND_STAGE":       "dev",
	}
	if !cloud.AreEnvsSame(env, want) {
		t.Errorf("overrides = %v, want %v", env, want)
	}
	if h.broker.Assumes() != 0 {
		t.Errorf("static site assumed a role %d times", h.broker.Assumes())
	}
	if h.clock.Pending() != 0 {
		t.Error("ambient credentials armed a refresh timer")
	}

	if res := h.exit(t, 3); res.code != 3 || res.err != nil {
		t.Errorf("Run() = %d, %v, want 3, nil", res.code, res.err)
	}
}

func TestMetadataUpdatedWithSameEnvDoesNotRestart(t *testing.T) {
	t.Parallel()

	env := map[string]string{"A": "1", "B": "2"}
	h := newHarness(t, Options{}, staticSite, cloud.Binding{Envs: env})
	h.start(t)
	h.settle(t, 1)

	h.asm.set(cloud.Binding{Envs: map[string]string{"B": "2", "A": "1"}})
	h.r.Notify(Trigger{Kind: TriggerMetadataUpdated})
	h.r.Notify(Trigger{Kind: TriggerMetadataDeleted})
	h.settle(t, 3)

	if runs := h.sup.Runs(); len(runs) != 2 {
		t.Errorf("supervisor runs = %d, want 2 (init and delete only)", len(runs))
	}
}

func TestMetadataUpdatedWithSameEnvRefreshesSecrets(t *testing.T) {
	t.Parallel()

	env := map[string]string{"A": "1"}
	h := newHarness(t, Options{}, serverSite,
		cloud.Binding{Envs: env, Secrets: map[string]struct{}{"OLD_KEY": {}}})
	h.start(t)
	h.settle(t, 1)

	h.asm.set(cloud.Binding{Envs: env, Secrets: map[string]struct{}{"NEW_KEY": {}}})
	h.r.Notify(Trigger{Kind: TriggerMetadataUpdated})
	h.settle(t, 2)
	if n := len(h.sup.Runs()); n != 1 {
		t.Fatalf("supervisor runs = %d, want 1", n)
	}

	h.r.Notify(Trigger{Kind: TriggerSecretsUpdated, Secret: "OLD_KEY"})
	h.r.Notify(Trigger{Kind: TriggerSecretsUpdated, Secret: "NEW_KEY"})
	h.settle(t, 3)

	if n := len(h.sup.Runs()); n != 2 {
		t.Errorf("supervisor runs = %d, want a restart for NEW_KEY only", n)
	}
	if calls := h.resolver.Calls(); calls != 3 {
		t.Errorf("resolver calls = %d, want 3", calls)
	}
}

func TestMetadataUpdatedWithChangedEnvRestarts(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Options{}, staticSite, cloud.Binding{Envs: map[string]string{"A": "1"}})
	h.start(t)
	h.settle(t, 1)

	h.asm.set(cloud.Binding{Envs: map[string]string{"A": "2"}})
	h.r.Notify(Trigger{Kind: TriggerMetadataUpdated})
	h.settle(t, 2)

	runs := h.sup.Runs()
	if len(runs) != 2 || runs[1]["A"] != "2" {
		t.Fatalf("runs = %v, want a restart with A=2", runs)
	}
	h.reporter.mu.Lock()
	defer h.reporter.mu.Unlock()
	if len(h.reporter.infos) != 1 {
		t.Errorf("infos = %v, want one restart notice", h.reporter.infos)
	}
}

func TestSecretsUpdatedFiltering(t *testing.T) {
	t.Parallel()

	bound := cloud.Binding{
		Envs:    map[string]string{"A": "1"},
		Role:    "arn:aws:iam::1:role/site",
		Secrets: map[string]struct{}{"STRIPE_KEY": {}},
	}
	h := newHarness(t, Options{}, serverSite, bound)
	h.start(t)
	h.settle(t, 1)

	h.r.Notify(Trigger{Kind: TriggerSecretsUpdated, Secret: "OTHER"})
	h.r.Notify(Trigger{Kind: TriggerSecretsUpdated, Secret: "STRIPE_KEY"})
	h.settle(t, 2)

	if runs := h.sup.Runs(); len(runs) != 2 {
		t.Errorf("supervisor runs = %d, want 2", len(runs))
	}
	if calls := h.resolver.Calls(); calls != 2 {
		t.Errorf("resolver calls = %d, want 2 (unbound secret must not resolve)", calls)
	}
}

func TestRoleAssumptionArmsRefreshTimer(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Options{}, serverSite, cloud.Binding{Envs: map[string]string{}, Role: "arn:role"})
	start := h.clock.Now()
	h.start(t)
	h.settle(t, 1)

	deadline, ok := h.clock.NextDeadline()
	if !ok {
		t.Fatal("no refresh timer armed")
	}
	if want := start.Add(time.Hour - RefreshLead); !deadline.Equal(want) {
		t.Errorf("refresh at %s, want %s", deadline, want)
	}
	if env := h.sup.Runs()[0]; env["AWS_ACCESS_KEY_ID"] != "ASIA1" || env["AWS_SESSION_TOKEN"] != "role-token" {
		t.Errorf("overrides = %v, want assumed credentials", env)
	}

	h.clock.Set(deadline)
	h.settle(t, 2)

	if n := h.broker.Assumes(); n != 2 {
		t.Errorf("assumes = %d, want 2 after expiry", n)
	}
	if runs := h.sup.Runs(); len(runs) != 2 || runs[1]["AWS_ACCESS_KEY_ID"] != "ASIA2" {
		t.Errorf("runs = %v, want restart with renewed credentials", runs)
	}
	if n := h.clock.Pending(); n != 1 {
		t.Errorf("pending timers = %d, want exactly 1", n)
	}
	next, _ := h.clock.NextDeadline()
	if want := deadline.Add(time.Hour - RefreshLead); !next.Equal(want) {
		t.Errorf("next refresh at %s, want %s", next, want)
	}
}

func TestSupersededTimerNeverFires(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Options{}, serverSite, cloud.Binding{Envs: map[string]string{}, Role: "arn:role"})
	start := h.clock.Now()
	h.start(t)
	h.settle(t, 1)

	// A later pass 10 minutes on replaces the timer.
	h.clock.Advance(10 * time.Minute)
	h.r.Notify(Trigger{Kind: TriggerMetadataDeleted})
	h.settle(t, 2)

	if n := h.clock.Pending(); n != 1 {
		t.Fatalf("pending timers = %d, want 1", n)
	}

	// The first timer's deadline passes without a pass.
	h.clock.Set(start.Add(time.Hour - RefreshLead))
	// A stale expiry trigger that was already queued is dropped too.
	h.r.Notify(Trigger{Kind: TriggerIAMExpired, Generation: 1})
	h.r.Notify(Trigger{Kind: TriggerMetadataDeleted})
	h.settle(t, 3)

	if n := h.broker.Assumes(); n != 3 {
		t.Errorf("assumes = %d, want 3 (init, two deletes)", n)
	}
	if runs := h.sup.Runs(); len(runs) != 3 {
		t.Errorf("runs = %d, want 3", len(runs))
	}
}

func TestRoleAssumptionFailureFallsBack(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Options{}, serverSite, cloud.Binding{Envs: map[string]string{}, Role: "arn:role"})
	h.broker.assumeErr = cloud.ErrRoleAssumption
	h.start(t)
	h.settle(t, 1)

	if env := h.sup.Runs()[0]; env["AWS_ACCESS_KEY_ID"] != "AKIALOCAL" {
		t.Errorf("overrides = %v, want ambient credentials", env)
	}
	if _, ok := h.sup.Runs()[0]["AWS_SESSION_TOKEN"]; ok {
		t.Error("ambient overrides carry a session token")
	}
	if h.clock.Pending() != 0 {
		t.Error("fallback armed a refresh timer")
	}
	if h.reporter.Warns() != 1 {
		t.Errorf("warnings = %d, want 1", h.reporter.Warns())
	}
}

func TestFallbackStopsPriorTimer(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Options{}, serverSite, cloud.Binding{Envs: map[string]string{}, Role: "arn:role"})
	h.start(t)
	h.settle(t, 1)
	if h.clock.Pending() != 1 {
		t.Fatal("no timer after first assumption")
	}

	h.broker.mu.Lock()
	h.broker.assumeErr = errors.New("denied")
	h.broker.mu.Unlock()
	h.r.Notify(Trigger{Kind: TriggerMetadataDeleted})
	h.settle(t, 2)

	if n := h.clock.Pending(); n != 0 {
		t.Errorf("pending timers = %d after fallback, want 0", n)
	}
}

func TestOutdatedMetadataAtInitEntersScriptMode(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Options{Local: LocalConfig{Env: map[string]string{"LOCAL": "yes"}}}, staticSite,
		cloud.Binding{Envs: map[string]string{}})
	h.resolver.errs = []error{&metadata.OutdatedError{Stack: "web", ID: "Web", Kind: metadata.KindStatic, Field: "environment"}}
	h.start(t)
	h.settle(t, 1)

	if !h.r.ScriptMode() {
		t.Fatal("ScriptMode() = false")
	}
	runs := h.sup.Runs()
	if len(runs) != 1 || runs[0]["LOCAL"] != "yes" || runs[0]["AWS_ACCESS_KEY_ID"] != "AKIALOCAL" {
		t.Fatalf("runs = %v, want local env with ambient credentials", runs)
	}
	if h.reporter.Warns() != 1 {
		t.Errorf("warnings = %d, want 1", h.reporter.Warns())
	}

	// Script mode has no reactivity.
	h.r.Notify(Trigger{Kind: TriggerMetadataUpdated})
	h.r.Notify(Trigger{Kind: TriggerIAMExpired, Generation: 0})
	waitFor(t, "queue drained", func() bool {
		h.r.mu.Lock()
		defer h.r.mu.Unlock()
		return len(h.r.pending) == 0
	})
	time.Sleep(20 * time.Millisecond)
	if h.resolver.Calls() != 1 || len(h.sup.Runs()) != 1 {
		t.Errorf("script mode reacted: resolves=%d runs=%d", h.resolver.Calls(), len(h.sup.Runs()))
	}
}

func TestNoDetectorMatchRunsScriptWithoutPolling(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Options{}, metadata.Resource{}, cloud.Binding{})
	h.start(t)
	waitFor(t, "script run", func() bool { return len(h.sup.Runs()) == 1 })

	if h.resolver.Calls() != 0 {
		t.Errorf("resolver called %d times in script mode", h.resolver.Calls())
	}
	if !h.r.ScriptMode() {
		t.Error("ScriptMode() = false")
	}
}

func TestScriptFlagSkipsResolution(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Options{Script: true, Site: true}, staticSite, cloud.Binding{})
	h.start(t)
	waitFor(t, "script run", func() bool { return len(h.sup.Runs()) == 1 })

	if h.resolver.Calls() != 0 {
		t.Errorf("resolver called %d times with --script", h.resolver.Calls())
	}
}

func TestInitErrorHaltsSession(t *testing.T) {
	t.Parallel()

	boom := errors.New("lambda unavailable")
	h := newHarness(t, Options{}, serverSite, cloud.Binding{})
	h.asm.err = boom
	h.start(t)

	res := h.wait(t)
	if !errors.Is(res.err, boom) || res.code != 1 {
		t.Errorf("Run() = %d, %v, want 1, %v", res.code, res.err, boom)
	}
	if len(h.sup.Runs()) != 0 {
		t.Error("process spawned after failed init")
	}
}

func TestLateErrorsKeepCurrentProcess(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		setup func(h *harness)
	}{
		{
			name: "late outdated metadata",
			setup: func(h *harness) {
				h.resolver.mu.Lock()
				h.resolver.errs = []error{fmt.Errorf("stack web: %w", metadata.ErrOutdatedMetadata)}
				h.resolver.mu.Unlock()
			},
		},
		{
			name: "control plane failure",
			setup: func(h *harness) {
				h.asm.mu.Lock()
				h.asm.err = errors.New("throttled")
				h.asm.mu.Unlock()
			},
		},
		{
			name: "termination failure",
			setup: func(h *harness) {
				h.sup.setRunErr(errors.New("process tree termination failed"))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			h := newHarness(t, Options{}, staticSite, cloud.Binding{Envs: map[string]string{"A": "1"}})
			h.start(t)
			h.settle(t, 1)

			tt.setup(h)
			h.r.Notify(Trigger{Kind: TriggerMetadataDeleted})
			h.settle(t, 2)

			if h.r.ScriptMode() {
				t.Error("late failure entered script mode")
			}
			if h.reporter.Warns() != 1 {
				t.Errorf("warnings = %d, want 1", h.reporter.Warns())
			}
			if res := h.exit(t, 0); res.err != nil {
				t.Errorf("Run() error = %v, want session to continue", res.err)
			}
		})
	}
}

func TestCancelTearsDownProcess(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Options{}, staticSite, cloud.Binding{Envs: map[string]string{}})
	h.start(t)
	h.settle(t, 1)

	h.cancel()
	res := h.wait(t)
	if !errors.Is(res.err, context.Canceled) {
		t.Errorf("Run() error = %v, want context.Canceled", res.err)
	}
	if n := h.sup.Stops(); n != 1 {
		t.Errorf("stops = %d, want 1", n)
	}
}

func TestExitWhileWaitingForRedeployEndsSession(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Options{}, staticSite, cloud.Binding{Envs: map[string]string{}})
	h.start(t)
	h.settle(t, 1)

	h.resolver.mu.Lock()
	h.resolver.hold = true
	h.resolver.mu.Unlock()
	h.r.Notify(Trigger{Kind: TriggerMetadataDeleted})
	waitFor(t, "blocked resolution", func() bool {
		return h.resolver.Calls() == 2 && h.r.State() == StateResolving
	})

	if res := h.exit(t, 7); res.code != 7 || res.err != nil {
		t.Errorf("Run() = %d, %v, want 7, nil", res.code, res.err)
	}
	if n := len(h.sup.Runs()); n != 1 {
		t.Errorf("supervisor runs = %d, want 1", n)
	}
	if n := h.sup.Stops(); n != 1 {
		t.Errorf("stops = %d, want 1", n)
	}
}

// TestExitDuringPassDoesNotRespawn lets a pass finish after the command
// exited and checks that no replacement is started.
func TestExitDuringPassDoesNotRespawn(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Options{}, staticSite, cloud.Binding{Envs: map[string]string{"A": "1"}})
	h.start(t)
	h.settle(t, 1)

	entered, release := h.asm.hold()
	h.asm.set(cloud.Binding{Envs: map[string]string{"A": "2"}})
	h.r.Notify(Trigger{Kind: TriggerMetadataUpdated})
	select {
	case <-entered:
	case <-time.After(5 * time.Second):
		t.Fatal("pass never reached the assembler")
	}

	h.sup.exited <- 3
	close(release)

	if res := h.wait(t); res.code != 3 || res.err != nil {
		t.Errorf("Run() = %d, %v, want 3, nil", res.code, res.err)
	}
	if runs := h.sup.Runs(); len(runs) != 1 {
		t.Errorf("runs = %v, want only the initial spawn", runs)
	}
	if n := h.sup.Stops(); n != 1 {
		t.Errorf("stops = %d, want 1", n)
	}
}

func TestExitStopsProcessTree(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Options{}, staticSite, cloud.Binding{Envs: map[string]string{}})
	h.start(t)
	h.settle(t, 1)

	if res := h.exit(t, 0); res.code != 0 || res.err != nil {
		t.Errorf("Run() = %d, %v, want 0, nil", res.code, res.err)
	}
	if n := h.sup.Stops(); n != 1 {
		t.Errorf("stops = %d, want 1", n)
	}
}

func TestNotifyCoalescesPendingTriggers(t *testing.T) {
	t.Parallel()

	r := New(Options{}, Deps{})
	r.Notify(Trigger{Kind: TriggerMetadataUpdated})
	r.Notify(Trigger{Kind: TriggerMetadataUpdated})
	r.Notify(Trigger{Kind: TriggerSecretsUpdated, Secret: "A"})
	r.Notify(Trigger{Kind: TriggerSecretsUpdated, Secret: "B"})
	r.Notify(Trigger{Kind: TriggerSecretsUpdated, Secret: "A"})

	want := []Trigger{
		{Kind: TriggerMetadataUpdated},
		{Kind: TriggerSecretsUpdated, Secret: "A"},
		{Kind: TriggerSecretsUpdated, Secret: "B"},
	}
	if len(r.pending) != len(want) {
		t.Fatalf("pending = %v, want %v", r.pending, want)
	}
	for i := range want {
		if r.pending[i] != want[i] {
			t.Errorf("pending[%d] = %v, want %v", i, r.pending[i], want[i])
		}
	}
}

func TestStateValidate(t *testing.T) {
	t.Parallel()

	for _, s := range []State{StateIdle, StateResolving, StateBound, StateAwaitingRestart} {
		if err := s.Validate(); err != nil {
			t.Errorf("%s.Validate() = %v", s, err)
		}
	}
	err := State(9).Validate()
	if !errors.Is(err, ErrInvalidState) {
		t.Errorf("Validate() = %v, want ErrInvalidState", err)
	}
	if State(9).String() != "unknown" {
		t.Errorf("String() = %q", State(9).String())
	}
}

func TestTriggerString(t *testing.T) {
	t.Parallel()

	tests := []struct {
		t    Trigger
		want string
	}{
		{Trigger{Kind: TriggerInit}, "init"},
		{Trigger{Kind: TriggerMetadataUpdated}, "metadata_updated"},
		{Trigger{Kind: TriggerMetadataDeleted}, "metadata_deleted"},
		{Trigger{Kind: TriggerSecretsUpdated, Secret: "DB"}, "secrets_updated(DB)"},
		{Trigger{Kind: TriggerIAMExpired, Generation: 4}, "iam_expired"},
	}
	for _, tt := range tests {
		if got := tt.t.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}
