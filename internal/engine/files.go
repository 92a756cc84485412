package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"

	"shipline/internal/blob"
	"shipline/internal/domain"
	"shipline/internal/events"
	"shipline/internal/mail"
	"shipline/internal/repo"
)

// BlobScheme prefixes task file URLs that point into the blob store.
const BlobScheme = "blob://"

// FileKey is the blob key of a task attachment.
func FileKey(shipmentID, taskID, name string) string {
	return fmt.Sprintf("shipments/%s/tasks/%s/%s", shipmentID, taskID, name)
}

func checkFileName(name string) error {
	if name == "" || name != path.Base(name) || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return domain.Invalidf("invalid file name %q", name)
	}
	return nil
}

// LookupTask resolves a task, failing with repo.ErrNotFound for a missing shipment or task.
func (e Engine) LookupTask(ctx context.Context, shipmentID, taskID string) (domain.Shipment, domain.Task, error) {
	s, err := e.Repo.GetShipmentByID(ctx, shipmentID)
	if err != nil {
		return domain.Shipment{}, domain.Task{}, err
	}
	i := s.TaskIndex(taskID)
	if i < 0 {
		return domain.Shipment{}, domain.Task{}, fmt.Errorf("task %s in shipment %s: %w", taskID, shipmentID, repo.ErrNotFound)
	}
	return s, s.Tasks[i], nil
}

type AttachFileOptions struct {
	ShipmentID  string
	TaskID      string
	Name        string
	ContentType string
	Body        io.Reader
	ActorID     string
}

// AttachFile uploads the body and records it on the task. Uploading a name that is
// already attached replaces the earlier file. The blob is removed again if the task
// cannot be updated.
func (e Engine) AttachFile(ctx context.Context, opts AttachFileOptions) (domain.Task, error) {
	if err := checkFileName(opts.Name); err != nil {
		return domain.Task{}, err
	}
	if _, _, err := e.LookupTask(ctx, opts.ShipmentID, opts.TaskID); err != nil {
		return domain.Task{}, err
	}
	key := FileKey(opts.ShipmentID, opts.TaskID, opts.Name)
	putOpts := blob.PutOptions{
		ContentType: opts.ContentType,
		Metadata:    map[string]string{"shipment": opts.ShipmentID, "task": opts.TaskID},
	}
	info, err := e.Blobs.Put(ctx, key, opts.Body, putOpts)
	if errors.Is(err, blob.ErrExists) {
		if _, err := e.Blobs.Delete(ctx, key); err != nil {
			return domain.Task{}, fmt.Errorf("replace %s: %w", key, err)
		}
		info, err = e.Blobs.Put(ctx, key, opts.Body, putOpts)
	}
	if err != nil {
		return domain.Task{}, fmt.Errorf("store file: %w", err)
	}
	t, err := e.Repo.AddFileToTask(ctx, opts.ShipmentID, opts.TaskID, domain.TaskFile{Name: opts.Name, URL: BlobScheme + key})
	if err != nil {
		if _, derr := e.Blobs.Delete(ctx, key); derr != nil {
			e.log().Warn("orphaned blob", zap.String("key", key), zap.Error(derr))
		}
		return domain.Task{}, err
	}
	e.record(ctx, opts.ShipmentID, events.FileAttached, fmt.Sprintf("File %s attached to %s", opts.Name, t.Title), opts.ActorID,
		events.EventPayload{"taskId": opts.TaskID, "fileName": opts.Name, "size": info.Size})
	return t, nil
}

func blobKeyOf(f domain.TaskFile) (string, bool) {
	if !strings.HasPrefix(f.URL, BlobScheme) {
		return "", false
	}
	return strings.TrimPrefix(f.URL, BlobScheme), true
}

func findFile(t domain.Task, name string) (domain.TaskFile, error) {
	i := t.FileIndex(name)
	if i < 0 {
		return domain.TaskFile{}, fmt.Errorf("file %s on task %s: %w", name, t.ID, repo.ErrNotFound)
	}
	return t.Files[i], nil
}

// DetachFile removes the file from the task and then deletes its blob. Files whose
// URL points outside the blob store are only unlinked.
func (e Engine) DetachFile(ctx context.Context, shipmentID, taskID, name, actorID string) (domain.Task, error) {
	_, task, err := e.LookupTask(ctx, shipmentID, taskID)
	if err != nil {
		return domain.Task{}, err
	}
	f, err := findFile(task, name)
	if err != nil {
		return domain.Task{}, err
	}
	t, err := e.Repo.RemoveFileFromTask(ctx, shipmentID, taskID, name)
	if err != nil {
		return domain.Task{}, err
	}
	if key, ok := blobKeyOf(f); ok {
		if _, err := e.Blobs.Delete(ctx, key); err != nil {
			e.log().Warn("blob delete failed", zap.String("key", key), zap.Error(err))
		}
	}
	e.record(ctx, shipmentID, events.FileRemoved, fmt.Sprintf("File %s removed from %s", name, t.Title), actorID,
		events.EventPayload{"taskId": taskID, "fileName": name})
	return t, nil
}

// OpenFile streams an attached file from the blob store.
func (e Engine) OpenFile(ctx context.Context, shipmentID, taskID, name string) (blob.Info, io.ReadCloser, error) {
	_, task, err := e.LookupTask(ctx, shipmentID, taskID)
	if err != nil {
		return blob.Info{}, nil, err
	}
	f, err := findFile(task, name)
	if err != nil {
		return blob.Info{}, nil, err
	}
	key, ok := blobKeyOf(f)
	if !ok {
		return blob.Info{}, nil, fmt.Errorf("file %s is external (%s): %w", name, f.URL, blob.ErrUnsupported)
	}
	return e.Blobs.Get(ctx, key)
}

// FileURL returns a link a client can fetch directly: a presigned URL when the blob
// store supports it, otherwise the stored URL. The bool reports whether the link is
// directly fetchable.
func (e Engine) FileURL(ctx context.Context, shipmentID, taskID, name string, expiry time.Duration) (string, bool, error) {
	_, task, err := e.LookupTask(ctx, shipmentID, taskID)
	if err != nil {
		return "", false, err
	}
	f, err := findFile(task, name)
	if err != nil {
		return "", false, err
	}
	key, ok := blobKeyOf(f)
	if !ok {
		return f.URL, true, nil
	}
	url, err := e.Blobs.PresignURL(ctx, key, blob.SignedURLOptions{Expiry: expiry})
	if errors.Is(err, blob.ErrUnsupported) {
		return f.URL, false, nil
	}
	if err != nil {
		return "", false, err
	}
	return url, true, nil
}

type SendFileOptions struct {
	ShipmentID string
	TaskID     string
	FileName   string
	// Emails defaults to the task's recipients.
	Emails  []string
	ActorID string
}

// SendTaskFile mails the file to every recipient and records the send on the shipment.
// It reports false when the shipment does not exist.
func (e Engine) SendTaskFile(ctx context.Context, opts SendFileOptions) (bool, error) {
	s, err := e.Repo.GetShipmentByID(ctx, opts.ShipmentID)
	if errors.Is(err, repo.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	i := s.TaskIndex(opts.TaskID)
	if i < 0 {
		return false, fmt.Errorf("task %s in shipment %s: %w", opts.TaskID, opts.ShipmentID, repo.ErrNotFound)
	}
	task := s.Tasks[i]
	f, err := findFile(task, opts.FileName)
	if err != nil {
		return false, err
	}
	emails := opts.Emails
	if len(emails) == 0 {
		emails = task.EmailRecipients
	}
	if len(emails) == 0 {
		return false, domain.Invalidf("no recipients for task %s", task.ID)
	}
	for _, addr := range emails {
		if err := mail.CheckAddress(addr); err != nil {
			return false, err
		}
	}
	subject := fmt.Sprintf("%s: %s", s.ShipmentNumber, task.Title)
	for _, addr := range emails {
		msg := mail.Message{
			To:          addr,
			Subject:     subject,
			Body:        fmt.Sprintf("Please find %s attached for shipment %s.", f.Name, s.ShipmentNumber),
			Attachments: []mail.Attachment{{Name: f.Name, URL: f.URL}},
		}
		if err := e.Mail.Send(ctx, msg); err != nil {
			return false, fmt.Errorf("mail %s: %w", addr, err)
		}
	}
	ok, err := e.Repo.SendFileToEmails(ctx, opts.ShipmentID, opts.TaskID, opts.FileName, emails, opts.ActorID)
	if err != nil || !ok {
		return ok, err
	}
	e.Metrics.EmailsSent(len(emails))
	return true, nil
}
