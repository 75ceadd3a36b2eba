package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"paperline/internal/archive"
	"paperline/internal/capability"
	"paperline/internal/config"
	"paperline/internal/domain"
	"paperline/internal/events"
	"paperline/internal/installer"
	"paperline/internal/jobs"
	"paperline/internal/plugindata"
	"paperline/internal/repo"
	"paperline/internal/secretbox"
	"paperline/internal/slots"
)

// Lifecycle errors the API layer branches on.
var (
	ErrAcknowledgementRequired = errors.New("enabling a plugin requires acknowledging that it runs with full application access")
	ErrAlreadyEnabled          = errors.New("plugin is already enabled")
	ErrAlreadyDisabled         = errors.New("plugin is already disabled")
	ErrPluginDisabled          = errors.New("plugin is disabled")
)

// Engine wires the plugin platform together: archive installation, the
// per-plugin data capability, the slot registry and the job queue.
type Engine struct {
	DB        *sql.DB
	Repo      repo.Repo
	Events    events.Writer
	Config    *config.Config
	Installer installer.Installer
	Slots     *slots.Registry
	Handlers  *jobs.HandlerRegistry
	Queue     *jobs.Queue
	Codec     *secretbox.Codec
	Logger    *log.Logger
	Now       func() time.Time

	// Host collaborators surfaced to plugin code through capability
	// contexts. Wired at construction via Collaborators; nil handles are
	// passed through as nil and plugins must cope.
	Mail        capability.Mailer
	Submissions capability.Reader
	Users       capability.Reader
	Reviews     capability.Reader
	EventFeed   capability.Reader
}

// Collaborators are the host services plugin code can reach through its
// capability context. The zero value is valid for a standalone platform.
type Collaborators struct {
	Mail        capability.Mailer
	Submissions capability.Reader
	Users       capability.Reader
	Reviews     capability.Reader
	EventFeed   capability.Reader
	Logger      *log.Logger
}

// New builds an Engine for a workspace. Collaborators must be passed here,
// not assigned afterwards: the job queue captures the engine when it is
// built, so later field writes on a copy would never reach job handlers.
// The encryption codec is only constructed when a master key is configured.
func New(conn *sql.DB, cfg *config.Config, workspace string, collab Collaborators) (Engine, error) {
	e := Engine{
		DB:          conn,
		Repo:        repo.Repo{DB: conn},
		Events:      events.Writer{DB: conn},
		Config:      cfg,
		Now:         time.Now,
		Logger:      collab.Logger,
		Mail:        collab.Mail,
		Submissions: collab.Submissions,
		Users:       collab.Users,
		Reviews:     collab.Reviews,
		EventFeed:   collab.EventFeed,
	}
	e.Installer = installer.Installer{
		Root: cfg.PluginsRoot(workspace),
		Validator: archive.Validator{
			MaxBytes:    cfg.Plugins.MaxArchiveBytes,
			APIVersions: cfg.Plugins.APIVersions,
		},
	}
	if key := cfg.EncryptionKeyBytes(); key != nil {
		codec, err := secretbox.New(key)
		if err != nil {
			return Engine{}, err
		}
		e.Codec = codec
	}
	e.Slots = slots.New()
	e.Handlers = jobs.NewHandlerRegistry()
	e.Queue = &jobs.Queue{
		Repo:      e.Repo,
		Handlers:  e.Handlers,
		Logger:    collab.Logger,
		Worker:    "paperline-" + uuid.NewString()[:8],
		StaleLock: time.Duration(cfg.Jobs.StaleLockMinutes) * time.Minute,
	}
	// The engine is complete at this point, so the captured copy carries
	// the collaborators. The queue clock stays injectable via Queue.Now,
	// which is shared across engine copies.
	e.Queue.Caps = e.CapabilityContext
	e.Queue.OnDead = e.recordDeadJob
	return e, nil
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// InstallResult reports one install attempt at the platform level.
type InstallResult struct {
	Success  bool
	Conflict bool
	Error    string
	Plugin   *domain.Plugin
}

// InstallPlugin validates and extracts an uploaded archive, then records the
// plugin row. Validation failures and name conflicts come back as values;
// only infrastructure trouble is an error.
func (e Engine) InstallPlugin(ctx context.Context, data []byte, force bool, actorID string) (InstallResult, error) {
	res := e.Installer.Extract(data, force)
	if res.Conflict {
		return InstallResult{Conflict: true}, nil
	}
	if !res.Success {
		return InstallResult{Error: res.Error}, nil
	}
	// A fresh extract with no row behind it would shadow the name forever.
	// Force overwrites are left in place; the previous files are already
	// gone and a partial directory beats none.
	undo := func() {
		if !force {
			_ = e.Installer.Remove(res.PluginName)
		}
	}

	now := e.now().UTC().Format(time.RFC3339)
	manifestJSON, err := json.Marshal(res.Manifest)
	if err != nil {
		undo()
		return InstallResult{}, fmt.Errorf("encode manifest: %w", err)
	}
	p := domain.Plugin{
		ID:           uuid.NewString(),
		Name:         res.PluginName,
		Version:      res.Manifest.Version,
		Enabled:      false,
		ManifestJSON: string(manifestJSON),
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		undo()
		return InstallResult{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpsertPlugin(ctx, tx, p); err != nil {
		undo()
		return InstallResult{}, fmt.Errorf("record plugin: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "plugin.installed", "plugin", p.Name, actorID, events.EventPayload{
		"version": p.Version,
		"force":   force,
	}); err != nil {
		undo()
		return InstallResult{}, err
	}
	if err := tx.Commit(); err != nil {
		undo()
		return InstallResult{}, err
	}
	// A force re-install keeps the original row id; read back the truth.
	stored, err := e.Repo.GetPlugin(ctx, p.Name)
	if err != nil {
		return InstallResult{}, err
	}
	return InstallResult{Success: true, Plugin: &stored}, nil
}

// RemovePlugin deletes the plugin row (jobs and data entries cascade), drops
// its slot registrations, and purges its directory.
func (e Engine) RemovePlugin(ctx context.Context, name, actorID string) error {
	p, err := e.Repo.GetPlugin(ctx, name)
	if err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeletePlugin(ctx, tx, p.ID); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "plugin.removed", "plugin", p.Name, actorID, nil); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	e.Slots.RemovePlugin(p.Name)
	if err := e.Installer.Remove(p.Name); err != nil {
		return fmt.Errorf("remove plugin files: %w", err)
	}
	return nil
}

// EnablePlugin flips a plugin on. The caller must explicitly acknowledge
// that an enabled plugin runs arbitrary code with application-level trust.
func (e Engine) EnablePlugin(ctx context.Context, name string, acknowledgeRisk bool, actorID string) (domain.Plugin, error) {
	if !acknowledgeRisk {
		return domain.Plugin{}, ErrAcknowledgementRequired
	}
	p, err := e.Repo.GetPlugin(ctx, name)
	if err != nil {
		return domain.Plugin{}, err
	}
	if p.Enabled {
		return domain.Plugin{}, ErrAlreadyEnabled
	}
	if err := e.setEnabled(ctx, p, true, "plugin.enabled", actorID); err != nil {
		return domain.Plugin{}, err
	}
	return e.Repo.GetPlugin(ctx, name)
}

// DisablePlugin flips a plugin off and drops its slot registrations. No
// acknowledgement gate on the way down.
func (e Engine) DisablePlugin(ctx context.Context, name, actorID string) (domain.Plugin, error) {
	p, err := e.Repo.GetPlugin(ctx, name)
	if err != nil {
		return domain.Plugin{}, err
	}
	if !p.Enabled {
		return domain.Plugin{}, ErrAlreadyDisabled
	}
	if err := e.setEnabled(ctx, p, false, "plugin.disabled", actorID); err != nil {
		return domain.Plugin{}, err
	}
	e.Slots.RemovePlugin(p.Name)
	return e.Repo.GetPlugin(ctx, name)
}

func (e Engine) setEnabled(ctx context.Context, p domain.Plugin, enabled bool, evtType, actorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.SetPluginEnabled(ctx, tx, p.ID, enabled, e.now()); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, evtType, "plugin", p.Name, actorID, nil); err != nil {
		return err
	}
	return tx.Commit()
}

// EnqueueJob schedules background work for an enabled plugin.
func (e Engine) EnqueueJob(ctx context.Context, pluginName, jobType string, payload json.RawMessage, maxAttempts int, actorID string) (domain.PluginJob, error) {
	p, err := e.Repo.GetPlugin(ctx, pluginName)
	if err != nil {
		return domain.PluginJob{}, err
	}
	if !p.Enabled {
		return domain.PluginJob{}, ErrPluginDisabled
	}
	if maxAttempts <= 0 {
		maxAttempts = e.Config.Jobs.MaxAttempts
	}
	now := e.now().UTC().Format(time.RFC3339)
	j := domain.PluginJob{
		ID:          uuid.NewString(),
		PluginID:    p.ID,
		Type:        jobType,
		PayloadJSON: string(payload),
		Status:      domain.JobPending,
		MaxAttempts: maxAttempts,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := e.Repo.InsertJob(ctx, j); err != nil {
		return domain.PluginJob{}, err
	}
	return j, nil
}

// RegisterSlot lets an enabled plugin contribute a component to a slot.
func (e Engine) RegisterSlot(ctx context.Context, reg slots.Registration) error {
	p, err := e.Repo.GetPlugin(ctx, reg.PluginName)
	if err != nil {
		return err
	}
	if !p.Enabled {
		return ErrPluginDisabled
	}
	reg.PluginID = p.ID
	if reg.Context == nil {
		reg.Context = e.CapabilityContext(p)
	}
	e.Slots.Register(reg)
	return nil
}

// DataStore returns the scoped data capability for a plugin.
func (e Engine) DataStore(pluginID string) *plugindata.Store {
	s := plugindata.New(e.Repo, e.Codec, pluginID)
	s.Now = func() time.Time { return e.now() }
	return s
}

// CapabilityContext assembles the execution context handed to the plugin's
// slot components and job handlers.
func (e Engine) CapabilityContext(p domain.Plugin) *capability.Context {
	return &capability.Context{
		PluginID:    p.ID,
		PluginName:  p.Name,
		Data:        e.DataStore(p.ID),
		Log:         e.Logger,
		Mail:        e.Mail,
		Submissions: e.Submissions,
		Users:       e.Users,
		Reviews:     e.Reviews,
		Events:      e.EventFeed,
	}
}

// recordDeadJob appends the dead-letter event outside the processing pass's
// per-job error handling.
func (e Engine) recordDeadJob(job domain.PluginJob, lastError string) {
	ctx := context.Background()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return
	}
	defer tx.Rollback()
	if err := e.Events.Append(ctx, tx, "job.dead", "job", job.ID, "system", events.EventPayload{
		"plugin_id": job.PluginID,
		"type":      job.Type,
		"attempts":  job.Attempts,
		"error":     lastError,
	}); err != nil {
		return
	}
	_ = tx.Commit()
}
