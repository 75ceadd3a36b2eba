// Package capability assembles the narrow, pre-scoped handles plugin code
// receives instead of raw access to shared resources. Slot components and
// job handlers both get a *Context; nothing in it can reach outside the
// owning plugin's data or the read-only collaborator views.
package capability

import (
	"context"
	"log"

	"paperline/internal/plugindata"
)

// Record is an opaque row from a host collaborator (submission, user,
// review, event). The host owns the schema; plugins read what they are
// given.
type Record = map[string]any

// Reader is read-only access to one host collection.
type Reader interface {
	Get(ctx context.Context, id string) (Record, bool, error)
	List(ctx context.Context, limit int) ([]Record, error)
}

// Mailer sends on behalf of a plugin through the host's outbound email
// collaborator.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// Context is the execution context handed to plugin code.
type Context struct {
	PluginID   string
	PluginName string
	Data       *plugindata.Store
	Log        *log.Logger

	Mail        Mailer
	Submissions Reader
	Users       Reader
	Reviews     Reader
	Events      Reader
}

// Logger never returns nil so plugin code can log unconditionally.
func (c *Context) Logger() *log.Logger {
	if c != nil && c.Log != nil {
		return c.Log
	}
	return log.Default()
}
