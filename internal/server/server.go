package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"workload/internal/capacity"
	"workload/internal/domain"
	"workload/internal/engine"
	"workload/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"not_found"`
	Message string         `json:"message" example:"not found"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

type requestKey struct{}
type bodyBytesKey struct{}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the workload API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
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
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bodyBytes, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			ctx := context.WithValue(r.Context(), requestKey{}, r)
			ctx = context.WithValue(ctx, bodyBytesKey{}, bodyBytes)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Workload API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerMembers(group, cfg.Engine)
	registerWorkItems(group, cfg.Engine)
	registerEffortLogs(group, cfg.Engine)
	registerWeights(group, cfg.Engine)
	registerCapacity(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	if cfg.Auth.EnableDevLogin {
		registerDevAuth(group, cfg.Auth)
	}
	registerOpenAPI(router, api, basePath)

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
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "unique constraint"):
		return newAPIError(http.StatusConflict, "conflict", msg, nil)
	case strings.Contains(lowered, "is deleted"):
		return newAPIError(http.StatusConflict, "deleted", msg, nil)
	case strings.Contains(lowered, "invalid"),
		strings.Contains(lowered, "required"),
		strings.Contains(lowered, "must not"),
		strings.Contains(lowered, "cannot"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
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
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func operations(item *huma.PathItem) []*huma.Operation {
	return []*huma.Operation{
		item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
	}
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range operations(item) {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {
						Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"},
					},
				},
			}
		}
	}
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	oas.Components.SecuritySchemes["apiKeyAuth"] = &huma.SecurityScheme{
		Type: "apiKey",
		In:   "header",
		Name: "X-Api-Key",
	}
	security := []map[string][]string{
		{"bearerAuth": {}},
		{"apiKeyAuth": {}},
	}
	oas.Security = security
	public := map[string]bool{
		path.Join("/", basePath, "health"):         true,
		path.Join("/", basePath, "auth/dev/login"): true,
	}
	for route, item := range oas.Paths {
		for _, op := range operations(item) {
			if op == nil {
				continue
			}
			if public[route] {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Workload API Docs</title>
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

func registerMembers(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-members",
		Method:      http.MethodGet,
		Path:        "/members",
		Summary:     "List team members",
	}, func(ctx context.Context, input *struct {
		ActiveOnly bool `query:"active_only"`
	}) (*struct {
		Body []domain.TeamMember `json:"body"`
	}, error) {
		items, err := e.Repo.ListMembers(ctx, input.ActiveOnly)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.TeamMember `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-member",
		Method:        http.MethodPost,
		Path:          "/members",
		Summary:       "Create team member",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Body CreateMemberRequest `json:"body"`
	}) (*struct {
		Body MemberMutationResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		m, err := e.CreateMember(ctx, engine.MemberCreateOptions{
			ID:             derefString(input.Body.ID),
			Name:           input.Body.Name,
			Role:           input.Body.Role,
			AvailableHours: input.Body.AvailableHours,
			ActorID:        actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body MemberMutationResponse `json:"body"`
		}{Body: MemberMutationResponse{Member: m, Warnings: []WarningResponse{}}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-member",
		Method:      http.MethodPatch,
		Path:        "/members/{id}",
		Summary:     "Update team member",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string              `path:"id"`
		Body UpdateMemberRequest `json:"body"`
	}) (*struct {
		Body MemberMutationResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		m, warnings, err := e.UpdateMember(ctx, engine.MemberUpdateOptions{
			ID:                  input.ID,
			Name:                input.Body.Name,
			Role:                input.Body.Role,
			AvailableHours:      input.Body.AvailableHours,
			ClearAvailableHours: input.Body.ClearAvailableHours,
			Active:              input.Body.Active,
			ActorID:             actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body MemberMutationResponse `json:"body"`
		}{Body: MemberMutationResponse{Member: m, Warnings: warningResponses(warnings)}}, nil
	})
}

func registerWorkItems(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-work-items",
		Method:      http.MethodGet,
		Path:        "/work-items",
		Summary:     "List work items",
	}, func(ctx context.Context, input *struct {
		OwnerID        string `query:"owner_id"`
		Status         string `query:"status"`
		IncludeDeleted bool   `query:"include_deleted"`
	}) (*struct {
		Body []domain.WorkItem `json:"body"`
	}, error) {
		f := repo.WorkItemFilters{OwnerID: input.OwnerID, IncludeDeleted: input.IncludeDeleted}
		if input.Status != "" {
			status := domain.WorkItemStatus(input.Status)
			if !status.Valid() {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid status", map[string]any{"status": input.Status})
			}
			f.Statuses = []domain.WorkItemStatus{status}
		}
		items, err := e.Repo.ListWorkItems(ctx, f)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.WorkItem `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-unassigned-work-items",
		Method:      http.MethodGet,
		Path:        "/work-items/unassigned",
		Summary:     "List active work items without an owner",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.WorkItem `json:"body"`
	}, error) {
		items, err := e.UnassignedItems(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.WorkItem `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-work-item",
		Method:      http.MethodGet,
		Path:        "/work-items/{id}",
		Summary:     "Get work item",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.WorkItem `json:"body"`
	}, error) {
		item, err := e.Repo.GetWorkItem(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.WorkItem `json:"body"`
		}{Body: item}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-work-item",
		Method:        http.MethodPost,
		Path:          "/work-items",
		Summary:       "Create work item",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Body CreateWorkItemRequest `json:"body"`
	}) (*struct {
		Body WorkItemMutationResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		item, warnings, err := e.CreateWorkItem(ctx, engine.WorkItemCreateOptions{
			ID:                 derefString(input.Body.ID),
			Name:               input.Body.Name,
			Kind:               input.Body.Kind,
			OwnerID:            derefString(input.Body.OwnerID),
			Role:               input.Body.Role,
			WorkType:           input.Body.WorkType,
			Phase:              input.Body.Phase,
			EffortSize:         input.Body.EffortSize,
			Status:             domain.WorkItemStatus(input.Body.Status),
			DirectHoursPerWeek: input.Body.DirectHoursPerWeek,
			ActorID:            actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body WorkItemMutationResponse `json:"body"`
		}{Body: WorkItemMutationResponse{Item: item, Warnings: warningResponses(warnings)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-work-item",
		Method:      http.MethodPatch,
		Path:        "/work-items/{id}",
		Summary:     "Update work item attributes, status or owner",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID   string                `path:"id"`
		Body UpdateWorkItemRequest `json:"body"`
	}) (*struct {
		Body WorkItemMutationResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		opts := engine.WorkItemUpdateOptions{
			ID:                 input.ID,
			Name:               input.Body.Name,
			Kind:               input.Body.Kind,
			Role:               input.Body.Role,
			WorkType:           input.Body.WorkType,
			Phase:              input.Body.Phase,
			EffortSize:         input.Body.EffortSize,
			DirectHoursPerWeek: input.Body.DirectHoursPerWeek,
			ClearDirectHours:   input.Body.ClearDirectHours,
			Owner:              input.Body.OwnerID,
			ActorID:            actorID,
		}
		if input.Body.Status != nil {
			status := domain.WorkItemStatus(*input.Body.Status)
			opts.Status = &status
		}
		item, warnings, err := e.UpdateWorkItem(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body WorkItemMutationResponse `json:"body"`
		}{Body: WorkItemMutationResponse{Item: item, Warnings: warningResponses(warnings)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reassign-work-item",
		Method:      http.MethodPost,
		Path:        "/work-items/{id}/reassign",
		Summary:     "Move a work item to another owner",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID   string                  `path:"id"`
		Body ReassignWorkItemRequest `json:"body"`
	}) (*struct {
		Body WorkItemMutationResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		item, warnings, err := e.ReassignWorkItem(ctx, input.ID, input.Body.OwnerID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body WorkItemMutationResponse `json:"body"`
		}{Body: WorkItemMutationResponse{Item: item, Warnings: warningResponses(warnings)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-work-item",
		Method:      http.MethodDelete,
		Path:        "/work-items/{id}",
		Summary:     "Mark a work item deleted",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body WorkItemMutationResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		item, warnings, err := e.DeleteWorkItem(ctx, input.ID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body WorkItemMutationResponse `json:"body"`
		}{Body: WorkItemMutationResponse{Item: item, Warnings: warningResponses(warnings)}}, nil
	})
}

func registerEffortLogs(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "save-effort-log",
		Method:      http.MethodPut,
		Path:        "/effort-logs",
		Summary:     "Create or replace a weekly effort entry",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Body SaveEffortLogRequest `json:"body"`
	}) (*struct {
		Body EffortLogMutationResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		l, warnings, err := e.SaveEffortLog(ctx, engine.EffortLogInput{
			TeamMemberID: input.Body.TeamMemberID,
			WorkItemID:   input.Body.WorkItemID,
			Week:         input.Body.Week,
			HoursSpent:   input.Body.HoursSpent,
			EffortSize:   input.Body.EffortSize,
			Note:         input.Body.Note,
			ActorID:      actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body EffortLogMutationResponse `json:"body"`
		}{Body: EffortLogMutationResponse{Log: l, Warnings: warningResponses(warnings)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-effort-logs",
		Method:      http.MethodGet,
		Path:        "/members/{id}/effort-logs",
		Summary:     "List a member's effort entries",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id"`
		Week string `query:"week"`
	}) (*struct {
		Body []domain.EffortLog `json:"body"`
	}, error) {
		week := ""
		if input.Week != "" {
			normalized, err := capacity.NormalizeWeekKey(input.Week)
			if err != nil {
				return nil, handleError(err)
			}
			week = normalized
		}
		logs, err := e.Repo.ListEffortLogs(ctx, nil, input.ID, week)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.EffortLog `json:"body"`
		}{Body: nonNilSlice(logs)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "copy-last-week",
		Method:      http.MethodPost,
		Path:        "/members/{id}/effort-logs/copy-last-week",
		Summary:     "Copy the previous week's entries into a week",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string              `path:"id"`
		Body CopyLastWeekRequest `json:"body"`
	}) (*struct {
		Body CopyLastWeekResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		week := input.Body.Week
		if week == "" {
			week = e.CurrentWeek().Format(capacity.WeekLayout)
		}
		copied, warnings, err := e.CopyLastWeek(ctx, input.ID, week, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CopyLastWeekResponse `json:"body"`
		}{Body: CopyLastWeekResponse{Copied: nonNilSlice(copied), Warnings: warningResponses(warnings)}}, nil
	})
}

func registerWeights(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-weights",
		Method:      http.MethodGet,
		Path:        "/weights",
		Summary:     "List raw weight configuration rows",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.WeightConfig `json:"body"`
	}, error) {
		rows, err := e.Repo.ListWeightConfigs(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.WeightConfig `json:"body"`
		}{Body: nonNilSlice(rows)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-weight",
		Method:      http.MethodPut,
		Path:        "/weights",
		Summary:     "Store a weight row and recompute active members",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Body SetWeightRequest `json:"body"`
	}) (*struct {
		Body WarningsResponse `json:"body"`
	}, error) {
		if err := requirePermission(ctx, PermissionAdmin); err != nil {
			return nil, err
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		warnings, err := e.SetWeight(ctx, domain.WeightConfig{
			Category: domain.WeightCategory(input.Body.Category),
			Key:      input.Body.Key,
			Value:    input.Body.Value,
		}, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body WarningsResponse `json:"body"`
		}{Body: WarningsResponse{Warnings: warningResponses(warnings)}}, nil
	})
}

func registerCapacity(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "member-capacity",
		Method:      http.MethodGet,
		Path:        "/members/{id}/capacity",
		Summary:     "Compute a member's capacity without storing it",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id"`
		Week string `query:"week"`
		Mode string `query:"mode" enum:"aggregate,item_override" default:"aggregate"`
	}) (*struct {
		Body capacity.Result `json:"body"`
	}, error) {
		week, werr := weekParam(e, input.Week)
		if werr != nil {
			return nil, werr
		}
		res, err := e.MemberCapacity(ctx, input.ID, week, capacity.Mode(input.Mode))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body capacity.Result `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "member-incomplete-items",
		Method:      http.MethodGet,
		Path:        "/members/{id}/incomplete-items",
		Summary:     "Active items that lack estimation attributes",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body []engine.IncompleteItem `json:"body"`
	}, error) {
		items, err := e.IncompleteItems(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []engine.IncompleteItem `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "member-snapshots",
		Method:      http.MethodGet,
		Path:        "/members/{id}/snapshots",
		Summary:     "Stored capacity snapshots, newest week first",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		ID    string `path:"id"`
		From  string `query:"from"`
		To    string `query:"to"`
		Limit int    `query:"limit" default:"52"`
	}) (*struct {
		Body []domain.CapacitySnapshot `json:"body"`
	}, error) {
		f := repo.SnapshotFilters{MemberID: input.ID, Limit: normalizeLimit(input.Limit)}
		for _, bound := range []struct {
			raw string
			dst *string
		}{{input.From, &f.From}, {input.To, &f.To}} {
			if bound.raw == "" {
				continue
			}
			key, err := capacity.NormalizeWeekKey(bound.raw)
			if err != nil {
				return nil, handleError(err)
			}
			*bound.dst = key
		}
		items, err := e.Repo.ListSnapshots(ctx, f)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.CapacitySnapshot `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "recalculate-member",
		Method:      http.MethodPost,
		Path:        "/members/{id}/recalculate",
		Summary:     "Recompute and store a member's snapshot",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id"`
		Week string `query:"week"`
	}) (*struct {
		Body RecalculateResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		week, werr := weekParam(e, input.Week)
		if werr != nil {
			return nil, werr
		}
		res, err := e.Recalculate(ctx, input.ID, week, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RecalculateResponse `json:"body"`
		}{Body: RecalculateResponse{Result: res}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "recalculate-all",
		Method:      http.MethodPost,
		Path:        "/recalculate",
		Summary:     "Recompute every active member for a week",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Week string `query:"week"`
	}) (*struct {
		Body WarningsResponse `json:"body"`
	}, error) {
		if err := requirePermission(ctx, PermissionAdmin); err != nil {
			return nil, err
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		week, werr := weekParam(e, input.Week)
		if werr != nil {
			return nil, werr
		}
		warnings, err := e.RecalculateAll(ctx, week, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body WarningsResponse `json:"body"`
		}{Body: WarningsResponse{Warnings: warningResponses(warnings)}}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent events",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind" enum:"team_member,work_item,effort_log,weight_config"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit" default:"50"`
		Cursor     string `query:"cursor"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		limit := normalizeLimit(input.Limit)
		var cursorID int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			cursorID = parsed
		}
		items, err := e.Repo.LatestEvents(ctx, repo.EventFilters{
			Type:       input.Type,
			EntityKind: input.EntityKind,
			EntityID:   input.EntityID,
			BeforeID:   cursorID,
			Limit:      limit + 1,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedEvents{Items: []domain.Event{}}
		if len(items) > limit {
			resp.NextCursor = fmt.Sprintf("%d", items[limit-1].ID)
			items = items[:limit]
		}
		resp.Items = append(resp.Items, items...)
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: resp}, nil
	})
}

func registerDevAuth(api huma.API, authCfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "DEV ONLY: mint a JWT for local testing",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body DevLoginRequest `json:"body"`
	}) (*struct {
		Body DevLoginResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actor := strings.TrimSpace(input.Body.ActorID)
		if actor == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "actor_id is required", nil)
		}
		token, err := signDevToken(authCfg.JWTSecret, actor, input.Body.Permissions, time.Now())
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
		}
		return &struct {
			Body DevLoginResponse `json:"body"`
		}{Body: DevLoginResponse{Token: token}}, nil
	})
}

// weekParam parses an optional week query value; empty means the current week.
func weekParam(e engine.Engine, raw string) (time.Time, huma.StatusError) {
	if raw == "" {
		return e.CurrentWeek(), nil
	}
	week, err := capacity.ParseWeek(raw)
	if err != nil {
		return time.Time{}, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), map[string]any{"week": raw})
	}
	return week, nil
}

func bodyBytes(ctx context.Context) []byte {
	if buf, ok := ctx.Value(bodyBytesKey{}).([]byte); ok {
		return buf
	}
	req, ok := ctx.Value(requestKey{}).(*http.Request)
	if !ok || req == nil {
		return nil
	}
	data, _ := io.ReadAll(req.Body)
	return data
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
}

func derefString(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}
