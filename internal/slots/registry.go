// Package slots keeps the process-lifetime registry of plugin-contributed
// UI fragments. Registrations are not persisted; plugins re-register when
// they are loaded or enabled.
package slots

import (
	"context"
	"sort"
	"sync"

	"paperline/internal/capability"
)

// Fixed extension points the admin UI composes. Plugins may also register
// into their own page slot, PageSlot(name).
const (
	AdminSidebar     = "admin.sidebar"
	AdminDashboard   = "admin.dashboard.widgets"
	SubmissionDetail = "submission.detail.panels"
)

// PageSlot is the per-plugin dynamic slot for page-like content.
func PageSlot(pluginName string) string {
	return "admin.pages." + pluginName
}

// Component is the renderable capability a plugin contributes to a slot.
type Component interface {
	Render(ctx context.Context, caps *capability.Context) (string, error)
}

// Metadata carries optional presentation hints for page-like slots.
type Metadata struct {
	Path  string `json:"path,omitempty"`
	Title string `json:"title,omitempty"`
	Icon  string `json:"icon,omitempty"`
}

type Registration struct {
	PluginName string
	PluginID   string
	Slot       string
	Component  Component
	Context    *capability.Context
	Order      int
	Metadata   Metadata

	seq int
}

// Registry is an explicit instance rather than package state so tests and
// full reloads construct their own.
type Registry struct {
	mu    sync.RWMutex
	slots map[string][]Registration
	seq   int
}

func New() *Registry {
	return &Registry{slots: make(map[string][]Registration)}
}

// Register appends to the slot's list. Order decides iteration position;
// equal orders keep registration sequence.
func (r *Registry) Register(reg Registration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	reg.seq = r.seq
	r.slots[reg.Slot] = append(r.slots[reg.Slot], reg)
}

// SlotComponents returns the slot's registrations sorted by ascending order,
// ties broken by registration sequence.
func (r *Registry) SlotComponents(slot string) []Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	regs := r.slots[slot]
	out := make([]Registration, len(regs))
	copy(out, regs)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Order != out[j].Order {
			return out[i].Order < out[j].Order
		}
		return out[i].seq < out[j].seq
	})
	return out
}

// Slots lists slot names with at least one registration, sorted.
func (r *Registry) Slots() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.slots))
	for name, regs := range r.slots {
		if len(regs) > 0 {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// RemovePlugin drops every registration owned by the plugin, across all
// slots. Called on disable and uninstall.
func (r *Registry) RemovePlugin(pluginName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for slot, regs := range r.slots {
		kept := regs[:0]
		for _, reg := range regs {
			if reg.PluginName != pluginName {
				kept = append(kept, reg)
			}
		}
		if len(kept) == 0 {
			delete(r.slots, slot)
		} else {
			r.slots[slot] = kept
		}
	}
}

// Reset clears all registrations.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.slots = make(map[string][]Registration)
	r.seq = 0
}
