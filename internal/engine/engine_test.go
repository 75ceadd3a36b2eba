package engine_test

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"paperline/internal/capability"
	"paperline/internal/config"
	"paperline/internal/db"
	"paperline/internal/engine"
	"paperline/internal/jobs"
	"paperline/internal/migrate"
	"paperline/internal/repo"
	"paperline/internal/slots"
)

func makeZip(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, content := range files {
		f, err := w.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := f.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func manifestFor(name string) string {
	return fmt.Sprintf(`{"name":%q,"displayName":"Test","version":"1.0.0","apiVersion":"1.0"}`, name)
}

func pluginZip(t *testing.T, name string) []byte {
	return makeZip(t, map[string]string{
		"manifest.json": manifestFor(name),
		"index.js":      "export default {}",
	})
}

func newTestEngine(t *testing.T) engine.Engine {
	return newTestEngineWith(t, engine.Collaborators{})
}

func newTestEngineWith(t *testing.T, collab engine.Collaborators) engine.Engine {
	t.Helper()
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default()
	cfg.Security.EncryptionKey = base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{7}, 32))
	e, err := engine.New(conn, cfg, workspace, collab)
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	e.Now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return e
}

func install(t *testing.T, e engine.Engine, name string) {
	t.Helper()
	res, err := e.InstallPlugin(context.Background(), pluginZip(t, name), false, "tester")
	if err != nil {
		t.Fatalf("install: %v", err)
	}
	if !res.Success {
		t.Fatalf("install rejected: %s", res.Error)
	}
}

func enable(t *testing.T, e engine.Engine, name string) {
	t.Helper()
	if _, err := e.EnablePlugin(context.Background(), name, true, "tester"); err != nil {
		t.Fatalf("enable: %v", err)
	}
}

func lastEventType(t *testing.T, e engine.Engine) string {
	t.Helper()
	events, err := e.Repo.LatestEvents(context.Background(), 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) == 0 {
		t.Fatal("no events recorded")
	}
	return events[0].Type
}

func TestInstallCreatesDisabledPlugin(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	res, err := e.InstallPlugin(ctx, pluginZip(t, "hello"), false, "tester")
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success || res.Plugin == nil {
		t.Fatalf("result: %+v", res)
	}
	if res.Plugin.Enabled {
		t.Fatal("freshly installed plugin must start disabled")
	}
	if res.Plugin.Version != "1.0.0" {
		t.Fatalf("version %q", res.Plugin.Version)
	}
	if !e.Installer.Exists("hello") {
		t.Fatal("plugin directory missing")
	}
	if got := lastEventType(t, e); got != "plugin.installed" {
		t.Fatalf("event %q", got)
	}
}

func TestInstallRejectsBadArchive(t *testing.T) {
	e := newTestEngine(t)
	res, err := e.InstallPlugin(context.Background(), []byte("not an archive"), false, "tester")
	if err != nil {
		t.Fatal(err)
	}
	if res.Success || res.Error == "" {
		t.Fatalf("result: %+v", res)
	}
	if _, err := e.Repo.GetPlugin(context.Background(), "hello"); err != repo.ErrNotFound {
		t.Fatalf("row created for rejected archive: %v", err)
	}
}

func TestReinstallConflictAndForce(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	install(t, e, "hello")

	res, err := e.InstallPlugin(ctx, pluginZip(t, "hello"), false, "tester")
	if err != nil {
		t.Fatal(err)
	}
	if !res.Conflict {
		t.Fatalf("expected conflict: %+v", res)
	}

	res, err = e.InstallPlugin(ctx, pluginZip(t, "hello"), true, "tester")
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success {
		t.Fatalf("force reinstall: %+v", res)
	}
}

func TestForceReinstallKeepsRowIdentity(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	install(t, e, "hello")
	before, _ := e.Repo.GetPlugin(ctx, "hello")

	res, err := e.InstallPlugin(ctx, pluginZip(t, "hello"), true, "tester")
	if err != nil {
		t.Fatal(err)
	}
	if res.Plugin.ID != before.ID {
		t.Fatalf("row id changed on force reinstall: %s -> %s", before.ID, res.Plugin.ID)
	}
}

func TestEnableRequiresAcknowledgement(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	install(t, e, "hello")

	_, err := e.EnablePlugin(ctx, "hello", false, "tester")
	if !errors.Is(err, engine.ErrAcknowledgementRequired) {
		t.Fatalf("err = %v", err)
	}
	p, _ := e.Repo.GetPlugin(ctx, "hello")
	if p.Enabled {
		t.Fatal("plugin enabled without acknowledgement")
	}

	p, err = e.EnablePlugin(ctx, "hello", true, "tester")
	if err != nil {
		t.Fatal(err)
	}
	if !p.Enabled {
		t.Fatal("plugin not enabled")
	}
	if got := lastEventType(t, e); got != "plugin.enabled" {
		t.Fatalf("event %q", got)
	}

	_, err = e.EnablePlugin(ctx, "hello", true, "tester")
	if !errors.Is(err, engine.ErrAlreadyEnabled) {
		t.Fatalf("re-enable err = %v", err)
	}
}

func TestDisableDropsSlotRegistrations(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	install(t, e, "hello")
	enable(t, e, "hello")

	if err := e.RegisterSlot(ctx, slots.Registration{
		PluginName: "hello",
		Slot:       slots.AdminSidebar,
		Component:  stubComponent{},
	}); err != nil {
		t.Fatal(err)
	}
	if len(e.Slots.SlotComponents(slots.AdminSidebar)) != 1 {
		t.Fatal("registration missing")
	}

	p, err := e.DisablePlugin(ctx, "hello", "tester")
	if err != nil {
		t.Fatal(err)
	}
	if p.Enabled {
		t.Fatal("still enabled")
	}
	if len(e.Slots.SlotComponents(slots.AdminSidebar)) != 0 {
		t.Fatal("slot registrations survived disable")
	}

	_, err = e.DisablePlugin(ctx, "hello", "tester")
	if !errors.Is(err, engine.ErrAlreadyDisabled) {
		t.Fatalf("re-disable err = %v", err)
	}
}

func TestRegisterSlotRequiresEnabledPlugin(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	install(t, e, "hello")

	err := e.RegisterSlot(ctx, slots.Registration{PluginName: "hello", Slot: slots.AdminSidebar, Component: stubComponent{}})
	if !errors.Is(err, engine.ErrPluginDisabled) {
		t.Fatalf("err = %v", err)
	}
	err = e.RegisterSlot(ctx, slots.Registration{PluginName: "ghost", Slot: slots.AdminSidebar, Component: stubComponent{}})
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("unknown plugin err = %v", err)
	}
}

func TestRegisterSlotFillsCapabilityContext(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	install(t, e, "hello")
	enable(t, e, "hello")

	if err := e.RegisterSlot(ctx, slots.Registration{PluginName: "hello", Slot: slots.AdminSidebar, Component: stubComponent{}}); err != nil {
		t.Fatal(err)
	}
	regs := e.Slots.SlotComponents(slots.AdminSidebar)
	if len(regs) != 1 {
		t.Fatalf("%d registrations", len(regs))
	}
	reg := regs[0]
	if reg.PluginID == "" || reg.Context == nil {
		t.Fatalf("registration not filled in: %+v", reg)
	}
	if reg.Context.PluginName != "hello" || reg.Context.Data == nil {
		t.Fatalf("capability context: %+v", reg.Context)
	}
}

func TestEnqueueJob(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	install(t, e, "hello")

	_, err := e.EnqueueJob(ctx, "hello", "sync", json.RawMessage(`{}`), 0, "tester")
	if !errors.Is(err, engine.ErrPluginDisabled) {
		t.Fatalf("disabled plugin err = %v", err)
	}

	enable(t, e, "hello")
	j, err := e.EnqueueJob(ctx, "hello", "sync", json.RawMessage(`{"k":1}`), 0, "tester")
	if err != nil {
		t.Fatal(err)
	}
	if j.Status != "pending" {
		t.Fatalf("status %q", j.Status)
	}
	if j.MaxAttempts != e.Config.Jobs.MaxAttempts {
		t.Fatalf("default max attempts: %d", j.MaxAttempts)
	}

	j, err = e.EnqueueJob(ctx, "hello", "sync", nil, 7, "tester")
	if err != nil {
		t.Fatal(err)
	}
	if j.MaxAttempts != 7 {
		t.Fatalf("explicit max attempts: %d", j.MaxAttempts)
	}

	_, err = e.EnqueueJob(ctx, "ghost", "sync", nil, 0, "tester")
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("unknown plugin err = %v", err)
	}
}

func TestRemovePluginCascades(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	install(t, e, "hello")
	enable(t, e, "hello")

	p, _ := e.Repo.GetPlugin(ctx, "hello")
	if _, err := e.EnqueueJob(ctx, "hello", "sync", nil, 0, "tester"); err != nil {
		t.Fatal(err)
	}
	if err := e.DataStore(p.ID).Set(ctx, "default", "greeting", "hi", false); err != nil {
		t.Fatal(err)
	}
	if err := e.RegisterSlot(ctx, slots.Registration{PluginName: "hello", Slot: slots.AdminSidebar, Component: stubComponent{}}); err != nil {
		t.Fatal(err)
	}

	if err := e.RemovePlugin(ctx, "hello", "tester"); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Repo.GetPlugin(ctx, "hello"); err != repo.ErrNotFound {
		t.Fatalf("row survived: %v", err)
	}
	if jobs, _ := e.Repo.ListJobsForPlugin(ctx, p.ID, 10); len(jobs) != 0 {
		t.Fatalf("%d jobs survived", len(jobs))
	}
	if keys, _ := e.Repo.ListDataKeys(ctx, p.ID, "default"); len(keys) != 0 {
		t.Fatalf("%d data keys survived", len(keys))
	}
	if len(e.Slots.SlotComponents(slots.AdminSidebar)) != 0 {
		t.Fatal("slot registrations survived")
	}
	if e.Installer.Exists("hello") {
		t.Fatal("plugin directory survived")
	}
	if got := lastEventType(t, e); got != "plugin.removed" {
		t.Fatalf("event %q", got)
	}

	if err := e.RemovePlugin(ctx, "hello", "tester"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("second remove err = %v", err)
	}
}

func TestDataStoreIsScopedPerPlugin(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	install(t, e, "alpha")
	install(t, e, "beta")
	a, _ := e.Repo.GetPlugin(ctx, "alpha")
	b, _ := e.Repo.GetPlugin(ctx, "beta")

	if err := e.DataStore(a.ID).Set(ctx, "default", "shared", "from alpha", false); err != nil {
		t.Fatal(err)
	}
	_, found, err := e.DataStore(b.ID).Get(ctx, "default", "shared")
	if err != nil {
		t.Fatal(err)
	}
	if found {
		t.Fatal("cross-plugin read succeeded")
	}
}

func TestJobHandlersSeeCollaborators(t *testing.T) {
	mailer := &recordingMailer{}
	e := newTestEngineWith(t, engine.Collaborators{Mail: mailer})
	ctx := context.Background()
	install(t, e, "hello")
	enable(t, e, "hello")

	e.Handlers.Register(jobs.HandlerFunc{
		Kind: "notify",
		Fn: func(ctx context.Context, caps *capability.Context, _ json.RawMessage) error {
			if caps == nil || caps.Mail == nil {
				return errors.New("mail capability missing")
			}
			if caps.PluginName != "hello" || caps.Data == nil {
				return fmt.Errorf("capability context not filled: %+v", caps)
			}
			return caps.Mail.Send(ctx, "chair@example.org", "review reminder", "ping")
		},
	})
	if _, err := e.EnqueueJob(ctx, "hello", "notify", nil, 1, "tester"); err != nil {
		t.Fatal(err)
	}

	fixed := time.Date(2026, 4, 2, 9, 0, 0, 0, time.UTC)
	e.Queue.Now = func() time.Time { return fixed }
	results, err := e.Queue.ProcessJobs(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || !results[0].Success {
		t.Fatalf("results: %+v", results)
	}
	if len(mailer.sent) != 1 {
		t.Fatalf("mailer received %d sends", len(mailer.sent))
	}
	p, _ := e.Repo.GetPlugin(ctx, "hello")
	listed, _ := e.Repo.ListJobsForPlugin(ctx, p.ID, 1)
	if len(listed) != 1 || listed[0].UpdatedAt != fixed.UTC().Format(time.RFC3339) {
		t.Fatalf("queue clock not honored: %+v", listed)
	}
}

func TestInstallCleansUpOnStorageFailure(t *testing.T) {
	e := newTestEngine(t)
	e.DB.Close()

	_, err := e.InstallPlugin(context.Background(), pluginZip(t, "hello"), false, "tester")
	if err == nil {
		t.Fatal("install succeeded against a closed database")
	}
	if e.Installer.Exists("hello") {
		t.Fatal("plugin directory left behind without a row")
	}
}

type recordingMailer struct {
	sent []string
}

func (m *recordingMailer) Send(_ context.Context, to, subject, _ string) error {
	m.sent = append(m.sent, to+": "+subject)
	return nil
}

type stubComponent struct{}

func (stubComponent) Render(context.Context, *capability.Context) (string, error) {
	return "", nil
}
