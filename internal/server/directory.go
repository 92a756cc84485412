package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"shipline/internal/domain"
	"shipline/internal/engine"
	"shipline/internal/repo"
)

type LoyaltyRequest struct {
	Points     int    `json:"points" doc:"Negative values redeem points"`
	ShipmentID string `json:"shipmentId,omitempty"`
}

// registerCollection wires the create and list routes of one directory collection.
func registerCollection[In any, Out any](api huma.API, name, label string, create func(context.Context, In) (Out, error), list func(context.Context) ([]Out, error)) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-" + label,
		Method:        http.MethodPost,
		Path:          "/" + name,
		Summary:       "Create " + label,
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Body In `json:"body"`
	}) (*struct {
		Body Out `json:"body"`
	}, error) {
		out, err := create(ctx, input.Body)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body Out `json:"body"`
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-" + name,
		Method:      http.MethodGet,
		Path:        "/" + name,
		Summary:     "List " + name,
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []Out `json:"body"`
	}, error) {
		items, err := list(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []Out `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})
}

func registerDirectory(api huma.API, h handlers) {
	r := h.e.Repo
	registerCollection(api, "agents", "agent", func(ctx context.Context, in CreateAgentRequest) (domain.Agent, error) {
		return r.AddAgent(ctx, agentFromRequest(in))
	}, r.ListAgents)
	registerCollection(api, "horses", "horse", func(ctx context.Context, in CreateHorseRequest) (domain.Horse, error) {
		return r.AddHorse(ctx, horseFromRequest(in))
	}, r.ListHorses)
	registerCollection(api, "owners", "owner", func(ctx context.Context, in CreateOwnerRequest) (domain.Owner, error) {
		return r.AddOwner(ctx, ownerFromRequest(in))
	}, r.ListOwners)
	registerCollection(api, "customers", "customer", func(ctx context.Context, in CreateCustomerRequest) (domain.Customer, error) {
		return r.AddCustomer(ctx, customerFromRequest(in))
	}, r.ListCustomers)

	huma.Register(api, huma.Operation{
		OperationID: "entity-shipments",
		Method:      http.MethodGet,
		Path:        "/directory/{kind}/{entityId}/shipments",
		Summary:     "Shipments linked to a directory entity",
		Description: "kind is one of agent, horse, owner, customer (singular or plural).",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Kind     string `path:"kind"`
		EntityID string `path:"entityId"`
	}) (*struct {
		Body []domain.Shipment `json:"body"`
	}, error) {
		kind, err := repo.ParseEntityKind(input.Kind)
		if err != nil {
			return nil, handleError(err)
		}
		items, err := r.GetEntityShipments(ctx, kind, input.EntityID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Shipment `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "award-loyalty",
		Method:      http.MethodPost,
		Path:        "/customers/{customerId}/loyalty",
		Summary:     "Award or redeem loyalty points",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		CustomerID string         `path:"customerId"`
		Body       LoyaltyRequest `json:"body"`
	}) (*struct {
		Body domain.Customer `json:"body"`
	}, error) {
		c, err := r.AwardLoyalty(ctx, input.CustomerID, input.Body.ShipmentID, input.Body.Points)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Customer `json:"body"`
		}{Body: c}, nil
	})
}

func registerRequests(api huma.API, h handlers) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-request",
		Method:        http.MethodPost,
		Path:          "/requests",
		Summary:       "Submit a shipment request",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body CreateShipmentRequestRequest `json:"body"`
	}) (*struct {
		Body domain.ShipmentRequest `json:"body"`
	}, error) {
		id, err := h.e.Repo.SaveShipmentRequest(ctx, shipmentRequestFromRequest(input.Body))
		if err != nil {
			return nil, handleError(err)
		}
		req, err := h.e.Repo.GetShipmentRequest(ctx, id)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ShipmentRequest `json:"body"`
		}{Body: req}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-requests",
		Method:      http.MethodGet,
		Path:        "/requests",
		Summary:     "List shipment requests",
	}, func(ctx context.Context, input *struct {
		Status string `query:"status" enum:"new,reviewed,converted,declined"`
	}) (*struct {
		Body []domain.ShipmentRequest `json:"body"`
	}, error) {
		items, err := h.e.Repo.ListShipmentRequests(ctx, input.Status)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.ShipmentRequest `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-request",
		Method:      http.MethodGet,
		Path:        "/requests/{requestId}",
		Summary:     "Get shipment request",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		RequestID string `path:"requestId"`
	}) (*struct {
		Body domain.ShipmentRequest `json:"body"`
	}, error) {
		req, err := h.e.Repo.GetShipmentRequest(ctx, input.RequestID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ShipmentRequest `json:"body"`
		}{Body: req}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-request-status",
		Method:      http.MethodPatch,
		Path:        "/requests/{requestId}/status",
		Summary:     "Update shipment request status",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		RequestID string               `path:"requestId"`
		Body      RequestStatusRequest `json:"body"`
	}) (*struct {
		Body domain.ShipmentRequest `json:"body"`
	}, error) {
		if input.Body.Status == domain.RequestConverted {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "use the convert route to convert a request", nil)
		}
		req, err := h.e.Repo.UpdateShipmentRequestStatus(ctx, input.RequestID, input.Body.Status, "")
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ShipmentRequest `json:"body"`
		}{Body: req}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "convert-request",
		Method:      http.MethodPost,
		Path:        "/requests/{requestId}/convert",
		Summary:     "Convert a request into a shipment",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		RequestID string                `path:"requestId"`
		Body      ConvertRequestRequest `json:"body" required:"false"`
	}) (*struct {
		Body engine.ConvertResult `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := h.e.ConvertRequest(ctx, input.RequestID, engine.RequestConvertOptions{Date: input.Body.Date, ActorID: actorID})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.ConvertResult `json:"body"`
		}{Body: res}, nil
	})
}
