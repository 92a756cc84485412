package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"shipline/internal/analytics"
	"shipline/internal/engine"
	"shipline/internal/numbering"
	"shipline/internal/templates"
)

type typePath struct {
	Type string `path:"type" doc:"Shipment type, e.g. Import or in-transit"`
}

func (h handlers) templatesFor(ctx context.Context, shipmentType string) (TemplatesResponse, error) {
	list, ok, err := h.e.Templates.Override(ctx, shipmentType)
	if err != nil {
		return TemplatesResponse{}, err
	}
	if !ok {
		list = templates.Builtin(shipmentType)
	}
	return TemplatesResponse{Type: shipmentType, Override: ok, Tasks: list}, nil
}

func registerTemplates(api huma.API, h handlers) {
	huma.Register(api, huma.Operation{
		OperationID: "list-template-overrides",
		Method:      http.MethodGet,
		Path:        "/templates",
		Summary:     "Shipment types with a stored template override",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []string `json:"body"`
	}, error) {
		keys, err := h.e.Templates.Overrides(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []string `json:"body"`
		}{Body: nonNilSlice(keys)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-templates",
		Method:      http.MethodGet,
		Path:        "/templates/{type}",
		Summary:     "Task templates for a shipment type",
	}, func(ctx context.Context, input *typePath) (*struct {
		Body TemplatesResponse `json:"body"`
	}, error) {
		out, err := h.templatesFor(ctx, input.Type)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TemplatesResponse `json:"body"`
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-templates",
		Method:      http.MethodPut,
		Path:        "/templates/{type}",
		Summary:     "Override task templates for a shipment type",
		Description: "Applies to shipments created afterwards. daysBefore must strictly decrease.",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Type string           `path:"type"`
		Body TemplatesRequest `json:"body"`
	}) (*struct {
		Body TemplatesResponse `json:"body"`
	}, error) {
		if err := requireRole(ctx, RoleAdmin); err != nil {
			return nil, err
		}
		if err := h.e.Templates.SetOverride(ctx, input.Type, input.Body.Tasks); err != nil {
			return nil, handleError(err)
		}
		out, err := h.templatesFor(ctx, input.Type)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TemplatesResponse `json:"body"`
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reset-templates",
		Method:      http.MethodDelete,
		Path:        "/templates/{type}",
		Summary:     "Drop the template override for a shipment type",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *typePath) (*struct {
		Body TemplatesResponse `json:"body"`
	}, error) {
		if err := requireRole(ctx, RoleAdmin); err != nil {
			return nil, err
		}
		if err := h.e.Templates.Reset(ctx, input.Type); err != nil {
			return nil, handleError(err)
		}
		out, err := h.templatesFor(ctx, input.Type)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TemplatesResponse `json:"body"`
		}{Body: out}, nil
	})
}

func registerNumbers(api huma.API, h handlers) {
	huma.Register(api, huma.Operation{
		OperationID: "peek-number",
		Method:      http.MethodGet,
		Path:        "/numbers/{type}",
		Summary:     "Preview the next shipment number",
		Description: "Does not consume the number.",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *typePath) (*struct {
		Body NumberResponse `json:"body"`
	}, error) {
		next, err := h.e.Numbers.Peek(ctx, input.Type)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body NumberResponse `json:"body"`
		}{Body: NumberResponse{Type: input.Type, Next: next, Prefix: numbering.Prefix(input.Type)}}, nil
	})
}

func registerAnalytics(api huma.API, h handlers) {
	huma.Register(api, huma.Operation{
		OperationID: "analytics-summary",
		Method:      http.MethodGet,
		Path:        "/analytics/summary",
		Summary:     "Shipment, task and loyalty summary",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body analytics.Summary `json:"body"`
	}, error) {
		doc, err := h.e.Repo.Document(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body analytics.Summary `json:"body"`
		}{Body: analytics.Summarize(doc, h.now())}, nil
	})
}

func registerSeed(api huma.API, h handlers) {
	huma.Register(api, huma.Operation{
		OperationID: "seed-demo",
		Method:      http.MethodPost,
		Path:        "/seed",
		Summary:     "Replace all data with a reproducible demo set",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Body SeedRequest `json:"body" required:"false"`
	}) (*struct {
		Body SeedResponse `json:"body"`
	}, error) {
		if err := requireRole(ctx, RoleAdmin); err != nil {
			return nil, err
		}
		doc, err := h.e.SeedDemo(ctx, engine.DemoOptions{Seed: input.Body.Seed, Shipments: input.Body.Shipments})
		if err != nil {
			return nil, handleError(err)
		}
		h.log.Info("demo data seeded")
		return &struct {
			Body SeedResponse `json:"body"`
		}{Body: SeedResponse{Shipments: len(doc.Shipments), Agents: len(doc.Agents), Customers: len(doc.Customers)}}, nil
	})
}
