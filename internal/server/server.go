package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"paperline/internal/engine"
	"paperline/internal/plugindata"
	"paperline/internal/repo"
	"paperline/internal/secretbox"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"requires_acknowledgement"`
	Message string         `json:"message" example:"enabling a plugin requires acknowledging that it runs with full application access"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Paperline plugin API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Paperline Plugin API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerPlugins(group, cfg.Engine)
	registerPluginData(group, cfg.Engine)
	registerJobs(group, cfg.Engine)
	registerSlots(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerCron(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	startWebhookDispatcher(cfg.Engine)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, engine.ErrAcknowledgementRequired):
		return newAPIError(http.StatusBadRequest, "requires_acknowledgement", err.Error(), map[string]any{
			"requires_acknowledgement": true,
		})
	case errors.Is(err, engine.ErrAlreadyEnabled), errors.Is(err, engine.ErrAlreadyDisabled):
		return newAPIError(http.StatusBadRequest, "already_in_state", err.Error(), nil)
	case errors.Is(err, engine.ErrPluginDisabled):
		return newAPIError(http.StatusConflict, "plugin_disabled", err.Error(), nil)
	case errors.Is(err, secretbox.ErrNoKey):
		return newAPIError(http.StatusBadRequest, "encryption_unavailable", err.Error(), nil)
	case errors.Is(err, repo.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "path traversal"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "missing") || strings.Contains(lowered, "required"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			spec, _ = json.Marshal(api.OpenAPI())
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Paperline API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt; or X-Api-Key.
    </p>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

type pluginPath struct {
	Name string `path:"name"`
}

func registerPlugins(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-plugins",
		Method:      http.MethodGet,
		Path:        "/plugins",
		Summary:     "List installed plugins",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []PluginResponse `json:"body"`
	}, error) {
		if _, err := actorIDFromContext(ctx); err != nil {
			return nil, err
		}
		plugins, err := e.Repo.ListPlugins(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]PluginResponse, 0, len(plugins))
		for _, p := range plugins {
			out = append(out, pluginResponse(p))
		}
		return &struct {
			Body []PluginResponse `json:"body"`
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-plugin",
		Method:      http.MethodGet,
		Path:        "/plugins/{name}",
		Summary:     "Get plugin",
	}, func(ctx context.Context, input *pluginPath) (*struct {
		Body PluginResponse `json:"body"`
	}, error) {
		if _, err := actorIDFromContext(ctx); err != nil {
			return nil, err
		}
		p, err := e.Repo.GetPlugin(ctx, input.Name)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body PluginResponse `json:"body"`
		}{Body: pluginResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "install-plugin",
		Method:        http.MethodPost,
		Path:          "/plugins",
		Summary:       "Upload and install a plugin archive",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Force   bool   `query:"force" doc:"Overwrite an existing plugin with the same name"`
		RawBody []byte `contentType:"application/octet-stream"`
	}) (*struct {
		Body InstallResponse `json:"body"`
	}, error) {
		actorID, authErr := requireAdmin(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.InstallPlugin(ctx, input.RawBody, input.Force, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		if res.Conflict {
			return nil, newAPIError(http.StatusConflict, "conflict",
				"a plugin with this name is already installed; retry with force=true to overwrite", nil)
		}
		if !res.Success {
			return nil, newAPIError(http.StatusBadRequest, "invalid_archive", res.Error, nil)
		}
		return &struct {
			Body InstallResponse `json:"body"`
		}{Body: InstallResponse{Plugin: pluginResponse(*res.Plugin)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "remove-plugin",
		Method:      http.MethodDelete,
		Path:        "/plugins/{name}",
		Summary:     "Remove a plugin and all its data",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound, http.StatusInternalServerError},
	}, func(ctx context.Context, input *pluginPath) (*struct {
		Body map[string]any `json:"body"`
	}, error) {
		actorID, authErr := requireAdmin(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.RemovePlugin(ctx, input.Name, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]any `json:"body"`
		}{Body: map[string]any{"removed": input.Name}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "enable-plugin",
		Method:      http.MethodPost,
		Path:        "/plugins/{name}/enable",
		Summary:     "Enable a plugin",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		Name string `path:"name"`
		Body EnablePluginRequest
	}) (*struct {
		Body PluginResponse `json:"body"`
	}, error) {
		actorID, authErr := requireAdmin(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.EnablePlugin(ctx, input.Name, input.Body.AcknowledgeRisk, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body PluginResponse `json:"body"`
		}{Body: pluginResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "disable-plugin",
		Method:      http.MethodPost,
		Path:        "/plugins/{name}/disable",
		Summary:     "Disable a plugin",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *pluginPath) (*struct {
		Body PluginResponse `json:"body"`
	}, error) {
		actorID, authErr := requireAdmin(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.DisablePlugin(ctx, input.Name, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body PluginResponse `json:"body"`
		}{Body: pluginResponse(p)}, nil
	})
}

func registerPluginData(api huma.API, e engine.Engine) {
	type namespacePath struct {
		Name      string `path:"name"`
		Namespace string `path:"namespace"`
	}
	type keyPath struct {
		Name      string `path:"name"`
		Namespace string `path:"namespace"`
		Key       string `path:"key"`
	}

	storeFor := func(ctx context.Context, name string) (*plugindata.Store, huma.StatusError) {
		p, err := e.Repo.GetPlugin(ctx, name)
		if err != nil {
			return nil, handleError(err)
		}
		return e.DataStore(p.ID), nil
	}

	huma.Register(api, huma.Operation{
		OperationID: "list-plugin-data-keys",
		Method:      http.MethodGet,
		Path:        "/plugins/{name}/data/{namespace}",
		Summary:     "List keys in a plugin data namespace",
	}, func(ctx context.Context, input *namespacePath) (*struct {
		Body DataKeysResponse `json:"body"`
	}, error) {
		if _, err := requireAdmin(ctx); err != nil {
			return nil, err
		}
		store, serr := storeFor(ctx, input.Name)
		if serr != nil {
			return nil, serr
		}
		keys, err := store.List(ctx, input.Namespace)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DataKeysResponse `json:"body"`
		}{Body: DataKeysResponse{Namespace: input.Namespace, Keys: nonNilSlice(keys)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-plugin-data",
		Method:      http.MethodGet,
		Path:        "/plugins/{name}/data/{namespace}/{key}",
		Summary:     "Read a plugin data value",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *keyPath) (*struct {
		Body DataValueResponse `json:"body"`
	}, error) {
		if _, err := requireAdmin(ctx); err != nil {
			return nil, err
		}
		store, serr := storeFor(ctx, input.Name)
		if serr != nil {
			return nil, serr
		}
		value, ok, err := store.Get(ctx, input.Namespace, input.Key)
		if err != nil {
			return nil, handleError(err)
		}
		if !ok {
			return nil, newAPIError(http.StatusNotFound, "not_found", "key not found", nil)
		}
		return &struct {
			Body DataValueResponse `json:"body"`
		}{Body: DataValueResponse{Namespace: input.Namespace, Key: input.Key, Value: value}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-plugin-data",
		Method:      http.MethodPut,
		Path:        "/plugins/{name}/data/{namespace}/{key}",
		Summary:     "Write a plugin data value",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Name      string `path:"name"`
		Namespace string `path:"namespace"`
		Key       string `path:"key"`
		Body      SetDataRequest
	}) (*struct {
		Body DataValueResponse `json:"body"`
	}, error) {
		if _, err := requireAdmin(ctx); err != nil {
			return nil, err
		}
		store, serr := storeFor(ctx, input.Name)
		if serr != nil {
			return nil, serr
		}
		if err := store.Set(ctx, input.Namespace, input.Key, input.Body.Value, input.Body.Encrypted); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DataValueResponse `json:"body"`
		}{Body: DataValueResponse{Namespace: input.Namespace, Key: input.Key, Value: input.Body.Value}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-plugin-data",
		Method:      http.MethodDelete,
		Path:        "/plugins/{name}/data/{namespace}/{key}",
		Summary:     "Delete a plugin data value",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *keyPath) (*struct {
		Body map[string]any `json:"body"`
	}, error) {
		if _, err := requireAdmin(ctx); err != nil {
			return nil, err
		}
		store, serr := storeFor(ctx, input.Name)
		if serr != nil {
			return nil, serr
		}
		if err := store.Delete(ctx, input.Namespace, input.Key); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]any `json:"body"`
		}{Body: map[string]any{"deleted": input.Key}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "clear-plugin-data-namespace",
		Method:      http.MethodDelete,
		Path:        "/plugins/{name}/data/{namespace}",
		Summary:     "Clear a plugin data namespace",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *namespacePath) (*struct {
		Body map[string]any `json:"body"`
	}, error) {
		if _, err := requireAdmin(ctx); err != nil {
			return nil, err
		}
		store, serr := storeFor(ctx, input.Name)
		if serr != nil {
			return nil, serr
		}
		if err := store.Clear(ctx, input.Namespace); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]any `json:"body"`
		}{Body: map[string]any{"cleared": input.Namespace}}, nil
	})
}

func registerJobs(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "enqueue-job",
		Method:        http.MethodPost,
		Path:          "/plugins/{name}/jobs",
		Summary:       "Enqueue a background job for a plugin",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		Name string `path:"name"`
		Body EnqueueJobRequest
	}) (*struct {
		Body JobResponse `json:"body"`
	}, error) {
		actorID, authErr := requireAdmin(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if strings.TrimSpace(input.Body.Type) == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "job type is required", nil)
		}
		payload := json.RawMessage("{}")
		if input.Body.Payload != nil {
			data, err := json.Marshal(input.Body.Payload)
			if err != nil {
				return nil, handleError(err)
			}
			payload = data
		}
		maxAttempts := 0
		if input.Body.MaxAttempts != nil {
			maxAttempts = *input.Body.MaxAttempts
		}
		j, err := e.EnqueueJob(ctx, input.Name, input.Body.Type, payload, maxAttempts, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body JobResponse `json:"body"`
		}{Body: jobResponse(j)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-plugin-jobs",
		Method:      http.MethodGet,
		Path:        "/plugins/{name}/jobs",
		Summary:     "List recent jobs for a plugin",
	}, func(ctx context.Context, input *struct {
		Name  string `path:"name"`
		Limit int    `query:"limit" default:"50" minimum:"1" maximum:"500"`
	}) (*struct {
		Body []JobResponse `json:"body"`
	}, error) {
		if _, err := actorIDFromContext(ctx); err != nil {
			return nil, err
		}
		p, err := e.Repo.GetPlugin(ctx, input.Name)
		if err != nil {
			return nil, handleError(err)
		}
		listed, err := e.Repo.ListJobsForPlugin(ctx, p.ID, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]JobResponse, 0, len(listed))
		for _, j := range listed {
			out = append(out, jobResponse(j))
		}
		return &struct {
			Body []JobResponse `json:"body"`
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-job",
		Method:      http.MethodGet,
		Path:        "/jobs/{job_id}",
		Summary:     "Get job",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		JobID string `path:"job_id"`
	}) (*struct {
		Body JobResponse `json:"body"`
	}, error) {
		if _, err := actorIDFromContext(ctx); err != nil {
			return nil, err
		}
		j, err := e.Repo.GetJob(ctx, input.JobID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body JobResponse `json:"body"`
		}{Body: jobResponse(j)}, nil
	})
}

func registerSlots(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-slots",
		Method:      http.MethodGet,
		Path:        "/slots",
		Summary:     "List slots with registered components",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []string `json:"body"`
	}, error) {
		if _, err := actorIDFromContext(ctx); err != nil {
			return nil, err
		}
		return &struct {
			Body []string `json:"body"`
		}{Body: nonNilSlice(e.Slots.Slots())}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-slot-registrations",
		Method:      http.MethodGet,
		Path:        "/slots/{slot}",
		Summary:     "List component registrations for a slot",
	}, func(ctx context.Context, input *struct {
		Slot string `path:"slot"`
	}) (*struct {
		Body []SlotRegistrationResponse `json:"body"`
	}, error) {
		if _, err := actorIDFromContext(ctx); err != nil {
			return nil, err
		}
		regs := e.Slots.SlotComponents(input.Slot)
		out := make([]SlotRegistrationResponse, 0, len(regs))
		for _, reg := range regs {
			out = append(out, slotRegistrationResponse(reg))
		}
		return &struct {
			Body []SlotRegistrationResponse `json:"body"`
		}{Body: out}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List platform events",
	}, func(ctx context.Context, input *struct {
		After int64 `query:"after" minimum:"0"`
		Limit int   `query:"limit" default:"100" minimum:"1" maximum:"1000"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		if _, err := actorIDFromContext(ctx); err != nil {
			return nil, err
		}
		var (
			listed []EventResponse
			next   string
		)
		evts, err := e.Repo.EventsAfter(ctx, input.Limit, input.After)
		if err != nil {
			return nil, handleError(err)
		}
		for _, evt := range evts {
			listed = append(listed, eventResponse(evt))
		}
		if len(evts) == input.Limit {
			next = fmt.Sprintf("%d", evts[len(evts)-1].ID)
		}
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: paginatedEvents{Items: nonNilSlice(listed), NextCursor: next}}, nil
	})
}
