package server

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"shipline/internal/domain"
	"shipline/internal/engine"
	"shipline/internal/repo"
)

type shipmentPath struct {
	ShipmentID string `path:"id"`
}

type taskPath struct {
	ShipmentID string `path:"id"`
	TaskID     string `path:"taskId"`
}

type filePath struct {
	ShipmentID string `path:"id"`
	TaskID     string `path:"taskId"`
	Name       string `path:"name"`
}

func (h handlers) now() time.Time {
	if h.e.Now != nil {
		return h.e.Now()
	}
	return time.Now()
}

func registerShipments(api huma.API, h handlers) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-shipment",
		Method:        http.MethodPost,
		Path:          "/shipments",
		Summary:       "Create shipment",
		Description:   "Assigns the next shipment number and builds the task checklist for the type.",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body engine.ShipmentCreateOptions `json:"body"`
	}) (*struct {
		Body repo.AddShipmentResult `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		opts := input.Body
		opts.ActorID = actorID
		res, err := h.e.CreateShipment(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body repo.AddShipmentResult `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-shipments",
		Method:      http.MethodGet,
		Path:        "/shipments",
		Summary:     "List shipments",
		Description: "Filters by exact date and type when both are given.",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Date string `query:"date" format:"date"`
		Type string `query:"type"`
	}) (*struct {
		Body []domain.Shipment `json:"body"`
	}, error) {
		var (
			items []domain.Shipment
			err   error
		)
		switch {
		case input.Date == "" && input.Type == "":
			items, err = h.e.Repo.GetShipments(ctx)
		case input.Date != "" && input.Type != "":
			items, err = h.e.Repo.GetShipmentsByDateAndType(ctx, input.Date, input.Type)
		default:
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "date and type must be given together", nil)
		}
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Shipment `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-shipment",
		Method:      http.MethodGet,
		Path:        "/shipments/{id}",
		Summary:     "Get shipment",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *shipmentPath) (*struct {
		Body domain.Shipment `json:"body"`
	}, error) {
		s, err := h.e.Repo.GetShipmentByID(ctx, input.ShipmentID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Shipment `json:"body"`
		}{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-shipment-status",
		Method:      http.MethodPatch,
		Path:        "/shipments/{id}/status",
		Summary:     "Update shipment status",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ShipmentID string        `path:"id"`
		Body       StatusRequest `json:"body"`
	}) (*struct {
		Body domain.Shipment `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		s, err := h.e.Repo.UpdateShipmentStatus(ctx, input.ShipmentID, input.Body.Status, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Shipment `json:"body"`
		}{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "shipment-history",
		Method:      http.MethodGet,
		Path:        "/shipments/{id}/history",
		Summary:     "Shipment history",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *shipmentPath) (*struct {
		Body []domain.HistoryEntry `json:"body"`
	}, error) {
		s, err := h.e.Repo.GetShipmentByID(ctx, input.ShipmentID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.HistoryEntry `json:"body"`
		}{Body: nonNilSlice(s.History)}, nil
	})
}

func registerTasks(api huma.API, h handlers) {
	huma.Register(api, huma.Operation{
		OperationID: "update-task",
		Method:      http.MethodPatch,
		Path:        "/shipments/{id}/tasks/{taskId}",
		Summary:     "Update task",
		Description: "Shallow merge: omitted fields keep their value.",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ShipmentID string         `path:"id"`
		TaskID     string         `path:"taskId"`
		Body       repo.TaskPatch `json:"body"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := h.e.UpdateTask(ctx, input.ShipmentID, input.TaskID, input.Body, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "toggle-task",
		Method:      http.MethodPost,
		Path:        "/shipments/{id}/tasks/{taskId}/toggle",
		Summary:     "Toggle task completion",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *taskPath) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := h.e.ToggleTask(ctx, input.ShipmentID, input.TaskID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-task-recipients",
		Method:      http.MethodPut,
		Path:        "/shipments/{id}/tasks/{taskId}/recipients",
		Summary:     "Replace task email recipients",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ShipmentID string            `path:"id"`
		TaskID     string            `path:"taskId"`
		Body       RecipientsRequest `json:"body"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		emails := nonNilSlice(input.Body.Emails)
		t, err := h.e.UpdateTask(ctx, input.ShipmentID, input.TaskID, repo.TaskPatch{EmailRecipients: &emails}, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})
}

func registerFiles(api huma.API, h handlers) {
	huma.Register(api, huma.Operation{
		OperationID: "attach-file",
		Method:      http.MethodPut,
		Path:        "/shipments/{id}/tasks/{taskId}/files/{name}",
		Summary:     "Upload a task file",
		Description: "Uploading a name that is already attached replaces it.",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ShipmentID  string `path:"id"`
		TaskID      string `path:"taskId"`
		Name        string `path:"name"`
		ContentType string `header:"Content-Type"`
		RawBody     []byte `contentType:"application/octet-stream"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := h.e.AttachFile(ctx, engine.AttachFileOptions{
			ShipmentID:  input.ShipmentID,
			TaskID:      input.TaskID,
			Name:        input.Name,
			ContentType: input.ContentType,
			Body:        bytes.NewReader(input.RawBody),
			ActorID:     actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "download-file",
		Method:      http.MethodGet,
		Path:        "/shipments/{id}/tasks/{taskId}/files/{name}",
		Summary:     "Download a task file",
		Errors:      []int{http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *filePath) (*struct {
		ContentType        string `header:"Content-Type"`
		ContentDisposition string `header:"Content-Disposition"`
		Body               []byte
	}, error) {
		info, rc, err := h.e.OpenFile(ctx, input.ShipmentID, input.TaskID, input.Name)
		if err != nil {
			return nil, handleError(err)
		}
		defer rc.Close()
		data, err := io.ReadAll(rc)
		if err != nil {
			return nil, handleError(err)
		}
		ct := info.ContentType
		if ct == "" {
			ct = "application/octet-stream"
		}
		return &struct {
			ContentType        string `header:"Content-Type"`
			ContentDisposition string `header:"Content-Disposition"`
			Body               []byte
		}{ContentType: ct, ContentDisposition: fmt.Sprintf("attachment; filename=%q", input.Name), Body: data}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "file-url",
		Method:      http.MethodGet,
		Path:        "/shipments/{id}/tasks/{taskId}/files/{name}/url",
		Summary:     "Get a link to a task file",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *filePath) (*struct {
		Body FileURLResponse `json:"body"`
	}, error) {
		url, direct, err := h.e.FileURL(ctx, input.ShipmentID, input.TaskID, input.Name, h.fileURLExpiry)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body FileURLResponse `json:"body"`
		}{Body: FileURLResponse{URL: url, Direct: direct}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "detach-file",
		Method:      http.MethodDelete,
		Path:        "/shipments/{id}/tasks/{taskId}/files/{name}",
		Summary:     "Remove a task file",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *filePath) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := h.e.DetachFile(ctx, input.ShipmentID, input.TaskID, input.Name, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "send-file",
		Method:      http.MethodPost,
		Path:        "/shipments/{id}/tasks/{taskId}/files/{name}/send",
		Summary:     "Email a task file",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ShipmentID string          `path:"id"`
		TaskID     string          `path:"taskId"`
		Name       string          `path:"name"`
		Body       SendFileRequest `json:"body" required:"false"`
	}) (*struct {
		Body SendFileResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		emails := input.Body.Emails
		if len(emails) == 0 {
			_, task, err := h.e.LookupTask(ctx, input.ShipmentID, input.TaskID)
			if err != nil {
				return nil, handleError(err)
			}
			emails = task.EmailRecipients
		}
		sent, err := h.e.SendTaskFile(ctx, engine.SendFileOptions{
			ShipmentID: input.ShipmentID,
			TaskID:     input.TaskID,
			FileName:   input.Name,
			Emails:     emails,
			ActorID:    actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		if !sent {
			return nil, newAPIError(http.StatusNotFound, "not_found", "shipment "+input.ShipmentID+" not found", nil)
		}
		return &struct {
			Body SendFileResponse `json:"body"`
		}{Body: SendFileResponse{Sent: true, Recipients: nonNilSlice(emails)}}, nil
	})
}
