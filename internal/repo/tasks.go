package repo

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"shipline/internal/domain"
)

// TaskPatch is a shallow merge: nil fields are left untouched.
type TaskPatch struct {
	Title           *string            `json:"title,omitempty"`
	Description     *string            `json:"description,omitempty"`
	Category        *string            `json:"category,omitempty"`
	Completed       *bool              `json:"completed,omitempty"`
	DueDate         *string            `json:"dueDate,omitempty"`
	Overdue         *bool              `json:"overdue,omitempty"`
	Required        *bool              `json:"required,omitempty"`
	EmailRecipients *[]string          `json:"emailRecipients,omitempty"`
	Files           *[]domain.TaskFile `json:"files,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p TaskPatch) Empty() bool {
	return p.Title == nil && p.Description == nil && p.Category == nil && p.Completed == nil &&
		p.DueDate == nil && p.Overdue == nil && p.Required == nil && p.EmailRecipients == nil && p.Files == nil
}

func (p TaskPatch) apply(t *domain.Task) {
	if p.Title != nil {
		t.Title = *p.Title
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.Category != nil {
		t.Category = *p.Category
	}
	if p.Completed != nil {
		t.Completed = *p.Completed
		if t.Completed {
			t.Overdue = false
		}
	}
	if p.DueDate != nil {
		t.DueDate = *p.DueDate
	}
	if p.Overdue != nil {
		t.Overdue = *p.Overdue
	}
	if p.Required != nil {
		t.Required = *p.Required
	}
	if p.EmailRecipients != nil {
		t.EmailRecipients = append([]string(nil), (*p.EmailRecipients)...)
	}
	if p.Files != nil {
		t.Files = append([]domain.TaskFile(nil), (*p.Files)...)
	}
}

// mutateTask locates shipment and task by id, applies fn to a copy of the task and
// writes the shipment back. A missing shipment or task leaves the document untouched.
func (r *Repo) mutateTask(ctx context.Context, op, shipmentID, taskID string, fn func(t *domain.Task) error) (domain.Task, error) {
	var out domain.Task
	err := r.update(ctx, op, func(doc *domain.Document) error {
		si := doc.ShipmentIndex(shipmentID)
		if si < 0 {
			return fmt.Errorf("shipment %s: %w", shipmentID, ErrNotFound)
		}
		s := doc.Shipments[si]
		ti := s.TaskIndex(taskID)
		if ti < 0 {
			return fmt.Errorf("task %s in shipment %s: %w", taskID, shipmentID, ErrNotFound)
		}
		tasks := append([]domain.Task(nil), s.Tasks...)
		t := tasks[ti]
		if err := fn(&t); err != nil {
			return err
		}
		tasks[ti] = t
		s.Tasks = tasks
		s.UpdatedAt = r.timestamp()
		doc.Shipments[si] = s
		out = t
		return nil
	})
	if errors.Is(err, ErrNotFound) {
		r.log().Warn("task mutation target missing",
			zap.String("op", op),
			zap.String("shipment_id", shipmentID),
			zap.String("task_id", taskID),
			zap.Error(err))
	}
	return out, err
}

// UpdateShipmentTask merges patch into the task.
func (r *Repo) UpdateShipmentTask(ctx context.Context, shipmentID, taskID string, patch TaskPatch) (domain.Task, error) {
	return r.mutateTask(ctx, "update_shipment_task", shipmentID, taskID, func(t *domain.Task) error {
		patch.apply(t)
		return nil
	})
}

// ToggleTaskCompletion flips the completed flag.
func (r *Repo) ToggleTaskCompletion(ctx context.Context, shipmentID, taskID string) (domain.Task, error) {
	return r.mutateTask(ctx, "toggle_task", shipmentID, taskID, func(t *domain.Task) error {
		done := !t.Completed
		TaskPatch{Completed: &done}.apply(t)
		return nil
	})
}

// AddFileToTask appends file, stamping UploadedAt when missing. A file with the
// same name is replaced.
func (r *Repo) AddFileToTask(ctx context.Context, shipmentID, taskID string, file domain.TaskFile) (domain.Task, error) {
	if file.Name == "" {
		return domain.Task{}, domain.Invalidf("file name is required")
	}
	if file.UploadedAt == "" {
		file.UploadedAt = r.timestamp()
	}
	return r.mutateTask(ctx, "add_file_to_task", shipmentID, taskID, func(t *domain.Task) error {
		files := make([]domain.TaskFile, 0, len(t.Files)+1)
		for _, f := range t.Files {
			if f.Name != file.Name {
				files = append(files, f)
			}
		}
		t.Files = append(files, file)
		return nil
	})
}

// RemoveFileFromTask drops every file named fileName.
func (r *Repo) RemoveFileFromTask(ctx context.Context, shipmentID, taskID, fileName string) (domain.Task, error) {
	return r.mutateTask(ctx, "remove_file_from_task", shipmentID, taskID, func(t *domain.Task) error {
		var files []domain.TaskFile
		for _, f := range t.Files {
			if f.Name != fileName {
				files = append(files, f)
			}
		}
		t.Files = files
		return nil
	})
}

// UpdateTaskEmailRecipients replaces the recipient list.
func (r *Repo) UpdateTaskEmailRecipients(ctx context.Context, shipmentID, taskID string, emails []string) (domain.Task, error) {
	return r.UpdateShipmentTask(ctx, shipmentID, taskID, TaskPatch{EmailRecipients: &emails})
}
