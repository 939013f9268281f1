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

	"fleetline/internal/domain"
	"fleetline/internal/engine"
	"fleetline/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   *engine.Engine
	BasePath string
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"bad_request"`
	Message string         `json:"message" example:"area is required"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Fleetline API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the envelope.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema/request validation errors should be 400 bad_request
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	hcfg := huma.DefaultConfig("Fleetline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerPartners(group, cfg.Engine)
	registerOrders(group, cfg.Engine)
	registerAssignments(group, cfg.Engine)
	registerDashboard(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
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
	if errors.Is(err, engine.ErrConflict) {
		return newAPIError(http.StatusConflict, "conflict", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "transition"):
		return newAPIError(http.StatusUnprocessableEntity, "invalid_transition", msg, nil)
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
    <title>Fleetline API Docs</title>
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

func registerPartners(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-partners",
		Method:      http.MethodGet,
		Path:        "/partners",
		Summary:     "List partners",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Partner `json:"body"`
	}, error) {
		items, err := e.Repo.ListPartners(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.Partner{}
		}
		return &struct {
			Body []domain.Partner `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-partner",
		Method:        http.MethodPost,
		Path:          "/partners",
		Summary:       "Register partner",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body CreatePartnerRequest `json:"body"`
	}) (*struct {
		Body domain.Partner `json:"body"`
	}, error) {
		opts := engine.PartnerCreateOptions{
			ID:    stringOrEmpty(input.Body.ID),
			Name:  input.Body.Name,
			Email: input.Body.Email,
			Phone: stringOrEmpty(input.Body.Phone),
			Areas: input.Body.Areas,
		}
		if input.Body.Status != nil {
			opts.Status = *input.Body.Status
		}
		if input.Body.Shift != nil {
			opts.Shift = *input.Body.Shift
		}
		if input.Body.Rating != nil {
			opts.Rating = *input.Body.Rating
		}
		p, err := e.CreatePartner(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Partner `json:"body"`
		}{Body: p}, nil
	})

	type PartnerPath struct {
		PartnerID string `path:"partner_id"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "get-partner",
		Method:      http.MethodGet,
		Path:        "/partners/{partner_id}",
		Summary:     "Get partner",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *PartnerPath) (*struct {
		Body domain.Partner `json:"body"`
	}, error) {
		p, err := e.Repo.GetPartner(ctx, input.PartnerID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Partner `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-partner",
		Method:      http.MethodPut,
		Path:        "/partners/{partner_id}",
		Summary:     "Update partner",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		PartnerPath
		Body UpdatePartnerRequest `json:"body"`
	}) (*struct {
		Body domain.Partner `json:"body"`
	}, error) {
		p, err := e.UpdatePartner(ctx, input.PartnerID, engine.PartnerUpdateOptions{
			Name:   input.Body.Name,
			Email:  input.Body.Email,
			Phone:  input.Body.Phone,
			Status: input.Body.Status,
			Areas:  input.Body.Areas,
			Shift:  input.Body.Shift,
			Rating: input.Body.Rating,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Partner `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-partner",
		Method:        http.MethodDelete,
		Path:          "/partners/{partner_id}",
		Summary:       "Delete partner",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *PartnerPath) (*struct{}, error) {
		if err := e.DeletePartner(ctx, input.PartnerID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerOrders(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-orders",
		Method:      http.MethodGet,
		Path:        "/orders",
		Summary:     "List orders",
	}, func(ctx context.Context, input *struct {
		Status     string `query:"status" enum:",pending,assigned,picked,delivered"`
		Area       string `query:"area"`
		AssignedTo string `query:"assigned_to"`
		Limit      int    `query:"limit" minimum:"0"`
	}) (*struct {
		Body []domain.Order `json:"body"`
	}, error) {
		items, err := e.Repo.ListOrders(ctx, repo.OrderFilters{
			Status:     input.Status,
			Area:       input.Area,
			AssignedTo: input.AssignedTo,
			Limit:      input.Limit,
		})
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.Order{}
		}
		return &struct {
			Body []domain.Order `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-order",
		Method:        http.MethodPost,
		Path:          "/orders",
		Summary:       "Register order",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body CreateOrderRequest `json:"body"`
	}) (*struct {
		Body domain.Order `json:"body"`
	}, error) {
		o, err := e.CreateOrder(ctx, engine.OrderCreateOptions{
			ID:           stringOrEmpty(input.Body.ID),
			OrderNumber:  stringOrEmpty(input.Body.OrderNumber),
			Customer:     input.Body.Customer,
			Area:         input.Body.Area,
			Items:        input.Body.Items,
			ScheduledFor: stringOrEmpty(input.Body.ScheduledFor),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Order `json:"body"`
		}{Body: o}, nil
	})

	type OrderPath struct {
		OrderID string `path:"order_id"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "get-order",
		Method:      http.MethodGet,
		Path:        "/orders/{order_id}",
		Summary:     "Get order",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *OrderPath) (*struct {
		Body domain.Order `json:"body"`
	}, error) {
		o, err := e.Repo.GetOrder(ctx, input.OrderID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Order `json:"body"`
		}{Body: o}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-order-status",
		Method:      http.MethodPut,
		Path:        "/orders/{order_id}/status",
		Summary:     "Update order status",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		OrderPath
		Body UpdateOrderStatusRequest `json:"body"`
	}) (*struct {
		Body domain.Order `json:"body"`
	}, error) {
		o, err := e.SetOrderStatus(ctx, input.OrderID, input.Body.Status, stringOrEmpty(input.Body.PartnerID))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Order `json:"body"`
		}{Body: o}, nil
	})
}

func registerAssignments(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "run-assignment",
		Method:      http.MethodPost,
		Path:        "/assignments/run",
		Summary:     "Run a dispatch pass",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body RunAssignmentResponse `json:"body"`
	}, error) {
		assignments, err := e.RunAssignment(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		if assignments == nil {
			assignments = []domain.Assignment{}
		}
		return &struct {
			Body RunAssignmentResponse `json:"body"`
		}{Body: RunAssignmentResponse{Success: true, Assignments: assignments}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "assignment-metrics",
		Method:      http.MethodGet,
		Path:        "/assignments/metrics",
		Summary:     "Assignment metrics",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body domain.AssignmentMetrics `json:"body"`
	}, error) {
		m, err := e.Repo.AssignmentMetrics(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.AssignmentMetrics `json:"body"`
		}{Body: m}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-assignments",
		Method:      http.MethodGet,
		Path:        "/assignments",
		Summary:     "List assignment log entries, newest first",
	}, func(ctx context.Context, input *struct {
		Limit int `query:"limit" minimum:"0"`
	}) (*struct {
		Body []domain.Assignment `json:"body"`
	}, error) {
		items, err := e.Repo.RecentAssignments(ctx, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.Assignment{}
		}
		return &struct {
			Body []domain.Assignment `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "active-assignments",
		Method:      http.MethodGet,
		Path:        "/assignments/active",
		Summary:     "Assignments still in flight",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Assignment `json:"body"`
	}, error) {
		items, err := e.Repo.ActiveAssignments(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.Assignment{}
		}
		return &struct {
			Body []domain.Assignment `json:"body"`
		}{Body: items}, nil
	})
}

func registerDashboard(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "dashboard",
		Method:      http.MethodGet,
		Path:        "/dashboard",
		Summary:     "Operations dashboard snapshot",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body DashboardResponse `json:"body"`
	}, error) {
		counts, err := e.Repo.CountOrdersByStatus(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		availability, err := e.Repo.PartnerAvailability(ctx, e.Config.Dispatch.Capacity)
		if err != nil {
			return nil, handleError(err)
		}
		recent, err := e.Repo.RecentAssignments(ctx, e.Config.Dispatch.RecentAssignments)
		if err != nil {
			return nil, handleError(err)
		}
		if recent == nil {
			recent = []domain.Assignment{}
		}
		fleet, err := e.Repo.FleetMetrics(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DashboardResponse `json:"body"`
		}{Body: DashboardResponse{
			OrdersByStatus:      counts,
			PartnerAvailability: availability,
			RecentAssignments:   recent,
			Fleet:               fleet,
		}}, nil
	})
}

func registerEvents(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List operational events, newest first",
	}, func(ctx context.Context, input *struct {
		Limit      int    `query:"limit" minimum:"0"`
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind"`
		EntityID   string `query:"entity_id"`
	}) (*struct {
		Body []domain.Event `json:"body"`
	}, error) {
		limit := input.Limit
		if limit == 0 {
			limit = 50
		}
		items, err := e.Repo.LatestEvents(ctx, limit, input.Type, input.EntityKind, input.EntityID)
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.Event{}
		}
		return &struct {
			Body []domain.Event `json:"body"`
		}{Body: items}, nil
	})
}
