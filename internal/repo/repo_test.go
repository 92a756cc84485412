package repo_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shipline/internal/domain"
	"shipline/internal/repo"
	"shipline/internal/store"
)

type testEnv struct {
	Repo  *repo.Repo
	Slots *store.Memory
	Ctx   context.Context
}

var fixedNow = time.Date(2024, 1, 1, 9, 30, 0, 0, time.UTC)

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	slots := store.NewMemory()
	r := repo.NewFromSlots(slots, nil)
	r.Now = func() time.Time { return fixedNow }
	return testEnv{Repo: r, Slots: slots, Ctx: context.Background()}
}

func (env testEnv) rawDocument(t *testing.T) []byte {
	t.Helper()
	data, err := env.Slots.Get(env.Ctx, store.DocumentKey)
	require.NoError(t, err)
	return data
}

func shipmentWithTasks(id string) domain.Shipment {
	return domain.Shipment{
		ID:         id,
		Type:       domain.TypeImport,
		Status:     domain.StatusPending,
		Date:       "2024-02-01",
		AnimalType: "Horses",
		NumAnimals: 1,
		Tasks: []domain.Task{
			{ID: "task-1", Title: "Import permit", Category: "Documentation", Required: true, DueDate: "2024-01-02"},
			{ID: "task-2", Title: "Vet inspection", Category: "Health", Required: true, DueDate: "2024-01-12"},
		},
	}
}

func TestAddShipmentThenGetReturnsInputWithCreatedAt(t *testing.T) {
	env := newTestEnv(t)
	in := shipmentWithTasks("s1")
	_, err := env.Repo.AddShipment(env.Ctx, in)
	require.NoError(t, err)

	got, err := env.Repo.GetShipmentByID(env.Ctx, "s1")
	require.NoError(t, err)
	want := in
	want.CreatedAt = "2024-01-01T09:30:00Z"
	want.History = []domain.HistoryEntry{}
	want.Tasks = []domain.Task{in.Tasks[0], in.Tasks[1]}
	for i := range want.Tasks {
		want.Tasks[i].EmailRecipients = []string{}
		want.Tasks[i].Files = []domain.TaskFile{}
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("shipment mismatch (-want +got):\n%s", diff)
	}
}

func TestAddShipmentKeepsExistingCreatedAt(t *testing.T) {
	env := newTestEnv(t)
	in := shipmentWithTasks("s1")
	in.CreatedAt = "2023-12-24T00:00:00Z"
	res, err := env.Repo.AddShipment(env.Ctx, in)
	require.NoError(t, err)
	assert.Equal(t, "2023-12-24T00:00:00Z", res.Shipment.CreatedAt)
}

func TestAddShipmentRejectsMissingAndDuplicateID(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Repo.AddShipment(env.Ctx, domain.Shipment{})
	require.ErrorIs(t, err, domain.ErrInvalid)

	_, err = env.Repo.AddShipment(env.Ctx, shipmentWithTasks("s1"))
	require.NoError(t, err)
	_, err = env.Repo.AddShipment(env.Ctx, shipmentWithTasks("s1"))
	require.ErrorIs(t, err, repo.ErrConflict)

	all, err := env.Repo.GetShipments(env.Ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestAddShipmentLinksAgentByName(t *testing.T) {
	env := newTestEnv(t)
	agent, err := env.Repo.AddAgent(env.Ctx, domain.Agent{Name: "Jane Smith"})
	require.NoError(t, err)
	require.Empty(t, agent.ShipmentIDs)

	before, err := env.Repo.GetShipments(env.Ctx)
	require.NoError(t, err)

	res, err := env.Repo.AddShipment(env.Ctx, domain.Shipment{
		ID:         "s-export",
		Type:       domain.TypeExport,
		AnimalType: "Horses",
		NumAnimals: 2,
		Agents:     []domain.AgentAllocation{{Name: "Jane Smith", AnimalCount: 2}},
	})
	require.NoError(t, err)
	assert.Empty(t, res.Unlinked)

	agents, err := env.Repo.ListAgents(env.Ctx)
	require.NoError(t, err)
	require.Len(t, agents, 1)
	assert.Equal(t, []string{"s-export"}, agents[0].ShipmentIDs)

	after, err := env.Repo.GetShipments(env.Ctx)
	require.NoError(t, err)
	assert.Len(t, after, len(before)+1)
}

func TestAddShipmentPrefersIDAndReportsMisses(t *testing.T) {
	env := newTestEnv(t)
	first, err := env.Repo.AddHorse(env.Ctx, domain.Horse{Name: "Thunder"})
	require.NoError(t, err)
	second, err := env.Repo.AddHorse(env.Ctx, domain.Horse{Name: "Thunder"})
	require.NoError(t, err)
	owner, err := env.Repo.AddOwner(env.Ctx, domain.Owner{Name: "Ada"})
	require.NoError(t, err)

	s := shipmentWithTasks("s1")
	s.HorseID = second.ID
	s.HorseName = "Thunder"
	s.OwnerName = "ada"
	s.Agents = []domain.AgentAllocation{{Name: "Ghost", AnimalCount: 1}}
	res, err := env.Repo.AddShipment(env.Ctx, s)
	require.NoError(t, err)
	assert.ElementsMatch(t, []repo.UnlinkedRef{
		{Kind: "owner", Ref: "ada"},
		{Kind: "agent", Ref: "Ghost"},
	}, res.Unlinked)

	horses, err := env.Repo.ListHorses(env.Ctx)
	require.NoError(t, err)
	for _, h := range horses {
		switch h.ID {
		case first.ID:
			assert.Empty(t, h.ShipmentIDs)
		case second.ID:
			assert.Equal(t, []string{"s1"}, h.ShipmentIDs)
		}
	}
	owners, err := env.Repo.ListOwners(env.Ctx)
	require.NoError(t, err)
	assert.Empty(t, owners[0].ShipmentIDs)
	assert.Equal(t, owner.ID, owners[0].ID)
}

func TestGetShipmentsByDateAndType(t *testing.T) {
	env := newTestEnv(t)
	for _, s := range []domain.Shipment{
		{ID: "a", Type: domain.TypeImport, Date: "2024-03-01"},
		{ID: "b", Type: domain.TypeExport, Date: "2024-03-01"},
		{ID: "c", Type: domain.TypeImport, Date: "2024-03-02"},
		{ID: "d", Type: domain.TypeImport, Date: "2024-03-01"},
	} {
		_, err := env.Repo.AddShipment(env.Ctx, s)
		require.NoError(t, err)
	}
	got, err := env.Repo.GetShipmentsByDateAndType(env.Ctx, "2024-03-01", "import")
	require.NoError(t, err)
	ids := make([]string, 0, len(got))
	for _, s := range got {
		ids = append(ids, s.ID)
	}
	assert.Equal(t, []string{"a", "d"}, ids)

	none, err := env.Repo.GetShipmentsByDateAndType(env.Ctx, "2024-3-1", "Import")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestGetEntityShipmentsDropsDanglingIDs(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.Repo.Seed(env.Ctx, domain.Document{
		Agents:    []domain.Agent{{ID: "a1", Name: "Jane", ShipmentIDs: []string{"s1", "gone", "s2"}}},
		Shipments: []domain.Shipment{{ID: "s1"}, {ID: "s2"}, {ID: "s3"}},
	}))
	got, err := env.Repo.GetEntityShipments(env.Ctx, repo.KindAgent, "a1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "s1", got[0].ID)
	assert.Equal(t, "s2", got[1].ID)

	_, err = env.Repo.GetEntityShipments(env.Ctx, repo.KindAgent, "missing")
	require.ErrorIs(t, err, repo.ErrNotFound)
	_, err = env.Repo.GetEntityShipments(env.Ctx, repo.EntityKind("vessel"), "a1")
	require.ErrorIs(t, err, repo.ErrUnknownEntityKind)
}

func TestParseEntityKind(t *testing.T) {
	k, err := repo.ParseEntityKind("Horses")
	require.NoError(t, err)
	assert.Equal(t, repo.KindHorse, k)
	_, err = repo.ParseEntityKind("planes")
	require.ErrorIs(t, err, repo.ErrUnknownEntityKind)
}

func TestTaskMutationsOnMissingTargetsLeaveDocumentUnchanged(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Repo.AddShipment(env.Ctx, shipmentWithTasks("s1"))
	require.NoError(t, err)
	before := env.rawDocument(t)

	done := true
	ops := map[string]func(shipmentID, taskID string) error{
		"update": func(sid, tid string) error {
			_, err := env.Repo.UpdateShipmentTask(env.Ctx, sid, tid, repo.TaskPatch{Completed: &done})
			return err
		},
		"add_file": func(sid, tid string) error {
			_, err := env.Repo.AddFileToTask(env.Ctx, sid, tid, domain.TaskFile{Name: "x.pdf", URL: "blob://x"})
			return err
		},
		"remove_file": func(sid, tid string) error {
			_, err := env.Repo.RemoveFileFromTask(env.Ctx, sid, tid, "x.pdf")
			return err
		},
		"recipients": func(sid, tid string) error {
			_, err := env.Repo.UpdateTaskEmailRecipients(env.Ctx, sid, tid, []string{"a@example.com"})
			return err
		},
		"toggle": func(sid, tid string) error {
			_, err := env.Repo.ToggleTaskCompletion(env.Ctx, sid, tid)
			return err
		},
	}
	for name, op := range ops {
		t.Run(name, func(t *testing.T) {
			require.ErrorIs(t, op("nope", "task-1"), repo.ErrNotFound)
			require.ErrorIs(t, op("s1", "task-99"), repo.ErrNotFound)
			assert.Equal(t, string(before), string(env.rawDocument(t)))
		})
	}
}

func TestUpdateShipmentTaskMergesDisjointPatches(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Repo.AddShipment(env.Ctx, shipmentWithTasks("s1"))
	require.NoError(t, err)

	done := true
	_, err = env.Repo.UpdateShipmentTask(env.Ctx, "s1", "task-2", repo.TaskPatch{Completed: &done})
	require.NoError(t, err)
	recipients := []string{"vet@example.com"}
	task, err := env.Repo.UpdateShipmentTask(env.Ctx, "s1", "task-2", repo.TaskPatch{EmailRecipients: &recipients})
	require.NoError(t, err)

	assert.True(t, task.Completed)
	assert.Equal(t, recipients, task.EmailRecipients)
	assert.Equal(t, "Vet inspection", task.Title)
	assert.Equal(t, "2024-01-12", task.DueDate)

	s, err := env.Repo.GetShipmentByID(env.Ctx, "s1")
	require.NoError(t, err)
	assert.False(t, s.Tasks[0].Completed, "other tasks untouched")
	assert.Equal(t, s.Tasks[1], task)
	assert.Equal(t, "2024-01-01T09:30:00Z", s.UpdatedAt)
}

func TestToggleClearsOverdue(t *testing.T) {
	env := newTestEnv(t)
	s := shipmentWithTasks("s1")
	s.Tasks[0].Overdue = true
	_, err := env.Repo.AddShipment(env.Ctx, s)
	require.NoError(t, err)

	task, err := env.Repo.ToggleTaskCompletion(env.Ctx, "s1", "task-1")
	require.NoError(t, err)
	assert.True(t, task.Completed)
	assert.False(t, task.Overdue)

	task, err = env.Repo.ToggleTaskCompletion(env.Ctx, "s1", "task-1")
	require.NoError(t, err)
	assert.False(t, task.Completed)
}

func TestFileAttachAndDetach(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Repo.AddShipment(env.Ctx, shipmentWithTasks("s1"))
	require.NoError(t, err)

	_, err = env.Repo.AddFileToTask(env.Ctx, "s1", "task-1", domain.TaskFile{Name: "permit.pdf", URL: "blob://1"})
	require.NoError(t, err)
	_, err = env.Repo.AddFileToTask(env.Ctx, "s1", "task-1", domain.TaskFile{Name: "invoice.pdf", URL: "blob://2", UploadedAt: "2023-01-01T00:00:00Z"})
	require.NoError(t, err)
	task, err := env.Repo.AddFileToTask(env.Ctx, "s1", "task-1", domain.TaskFile{Name: "permit.pdf", URL: "blob://3"})
	require.NoError(t, err)
	require.Len(t, task.Files, 2)
	assert.Equal(t, "invoice.pdf", task.Files[0].Name)
	assert.Equal(t, "2023-01-01T00:00:00Z", task.Files[0].UploadedAt)
	assert.Equal(t, "blob://3", task.Files[1].URL)
	assert.Equal(t, "2024-01-01T09:30:00Z", task.Files[1].UploadedAt)

	task, err = env.Repo.RemoveFileFromTask(env.Ctx, "s1", "task-1", "permit.pdf")
	require.NoError(t, err)
	require.Len(t, task.Files, 1)
	assert.Equal(t, "invoice.pdf", task.Files[0].Name)

	_, err = env.Repo.AddFileToTask(env.Ctx, "s1", "task-1", domain.TaskFile{})
	require.ErrorIs(t, err, domain.ErrInvalid)
}

func TestSendFileToEmailsAppendsHistory(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Repo.AddShipment(env.Ctx, shipmentWithTasks("s1"))
	require.NoError(t, err)

	ok, err := env.Repo.SendFileToEmails(env.Ctx, "s1", "task-1", "permit.pdf", []string{"a@example.com", "b@example.com"}, "tester")
	require.NoError(t, err)
	assert.True(t, ok)

	s, err := env.Repo.GetShipmentByID(env.Ctx, "s1")
	require.NoError(t, err)
	require.Len(t, s.History, 1)
	h := s.History[0]
	assert.Equal(t, "file.emailed", h.Type)
	assert.Equal(t, "File permit.pdf sent to a@example.com, b@example.com", h.Description)
	assert.Equal(t, "2024-01-01T09:30:00Z", h.Timestamp)
	assert.Equal(t, "task-1", h.Details["taskId"])
	assert.Equal(t, "tester", h.Details["actor"])

	ok, err = env.Repo.SendFileToEmails(env.Ctx, "missing", "task-1", "permit.pdf", []string{"a@example.com"}, "")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUpdateShipmentStatus(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Repo.AddShipment(env.Ctx, shipmentWithTasks("s1"))
	require.NoError(t, err)

	s, err := env.Repo.UpdateShipmentStatus(env.Ctx, "s1", domain.StatusInProgress, "tester")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusInProgress, s.Status)
	require.Len(t, s.History, 1)
	assert.Equal(t, "status.changed", s.History[0].Type)

	_, err = env.Repo.UpdateShipmentStatus(env.Ctx, "s1", "Lost", "tester")
	require.ErrorIs(t, err, domain.ErrInvalid)
	_, err = env.Repo.UpdateShipmentStatus(env.Ctx, "nope", domain.StatusDelayed, "tester")
	require.ErrorIs(t, err, repo.ErrNotFound)
}

func TestShipmentRequests(t *testing.T) {
	env := newTestEnv(t)
	id1, err := env.Repo.SaveShipmentRequest(env.Ctx, domain.ShipmentRequest{CustomerName: "Bob", Email: "bob@example.com", Type: domain.TypeImport})
	require.NoError(t, err)
	id2, err := env.Repo.SaveShipmentRequest(env.Ctx, domain.ShipmentRequest{ID: "ignored", CustomerName: "Eve", Email: "eve@example.com", Type: domain.TypeExport})
	require.NoError(t, err)
	assert.NotEqual(t, id1, id2)
	assert.NotEqual(t, "ignored", id2)

	req, err := env.Repo.GetShipmentRequest(env.Ctx, id1)
	require.NoError(t, err)
	assert.Equal(t, domain.RequestNew, req.Status)
	assert.Equal(t, "2024-01-01T09:30:00Z", req.CreatedAt)

	_, err = env.Repo.UpdateShipmentRequestStatus(env.Ctx, id1, domain.RequestConverted, "s9")
	require.NoError(t, err)
	open, err := env.Repo.ListShipmentRequests(env.Ctx, domain.RequestNew)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, id2, open[0].ID)

	_, err = env.Repo.UpdateShipmentRequestStatus(env.Ctx, "nope", domain.RequestDeclined, "")
	require.ErrorIs(t, err, repo.ErrNotFound)
	_, err = env.Repo.UpdateShipmentRequestStatus(env.Ctx, id2, "maybe", "")
	require.ErrorIs(t, err, domain.ErrInvalid)
}

func TestClaimShipmentRequestWinsOnce(t *testing.T) {
	env := newTestEnv(t)
	id, err := env.Repo.SaveShipmentRequest(env.Ctx, domain.ShipmentRequest{CustomerName: "Bob", Email: "bob@example.com", Type: domain.TypeImport})
	require.NoError(t, err)

	before, err := env.Repo.ClaimShipmentRequest(env.Ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.RequestNew, before.Status)
	stored, err := env.Repo.GetShipmentRequest(env.Ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.RequestConverted, stored.Status)

	_, err = env.Repo.ClaimShipmentRequest(env.Ctx, id)
	require.ErrorIs(t, err, repo.ErrConflict)

	declined, err := env.Repo.SaveShipmentRequest(env.Ctx, domain.ShipmentRequest{CustomerName: "Eve", Email: "eve@example.com", Status: domain.RequestDeclined})
	require.NoError(t, err)
	_, err = env.Repo.ClaimShipmentRequest(env.Ctx, declined)
	require.ErrorIs(t, err, domain.ErrInvalid)
	_, err = env.Repo.ClaimShipmentRequest(env.Ctx, "nope")
	require.ErrorIs(t, err, repo.ErrNotFound)
}

func TestEnsureCustomerMatchesEmailCaseInsensitively(t *testing.T) {
	env := newTestEnv(t)
	first, err := env.Repo.EnsureCustomer(env.Ctx, domain.Customer{Name: "Lena", Email: "lena@example.com"})
	require.NoError(t, err)
	assert.NotEmpty(t, first.ID)
	assert.Equal(t, "2024-01-01T09:30:00Z", first.JoinedAt)

	again, err := env.Repo.EnsureCustomer(env.Ctx, domain.Customer{Name: "Lena B", Email: "LENA@example.com"})
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, "Lena", again.Name)

	all, err := env.Repo.ListCustomers(env.Ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	_, err = env.Repo.EnsureCustomer(env.Ctx, domain.Customer{Name: "No Mail"})
	require.ErrorIs(t, err, domain.ErrInvalid)
}

func TestAwardLoyalty(t *testing.T) {
	env := newTestEnv(t)
	c, err := env.Repo.AddCustomer(env.Ctx, domain.Customer{Name: "Acme", Email: "Ops@Acme.test"})
	require.NoError(t, err)

	found, err := env.Repo.FindCustomerByEmail(env.Ctx, "ops@acme.test")
	require.NoError(t, err)
	assert.Equal(t, c.ID, found.ID)

	c, err = env.Repo.AwardLoyalty(env.Ctx, c.ID, "s1", 150)
	require.NoError(t, err)
	assert.Equal(t, 150, c.LoyaltyPoints)
	c, err = env.Repo.AwardLoyalty(env.Ctx, c.ID, "s1", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"s1"}, c.ShipmentIDs)

	_, err = env.Repo.AwardLoyalty(env.Ctx, c.ID, "", -500)
	require.ErrorIs(t, err, domain.ErrInvalid)
	_, err = env.Repo.AwardLoyalty(env.Ctx, "nope", "", 1)
	require.ErrorIs(t, err, repo.ErrNotFound)
}

type failingDocs struct{ err error }

func (f failingDocs) Load(context.Context) (domain.Document, error) { return domain.Document{}, f.err }
func (f failingDocs) Save(context.Context, domain.Document) error   { return f.err }

func TestStorageErrorsPropagate(t *testing.T) {
	boom := errors.New("quota exceeded")
	r := repo.New(failingDocs{err: boom}, nil)
	_, err := r.AddShipment(context.Background(), shipmentWithTasks("s1"))
	require.ErrorIs(t, err, boom)
	_, err = r.GetShipments(context.Background())
	require.ErrorIs(t, err, boom)
	ok, err := r.SendFileToEmails(context.Background(), "s1", "t", "f", nil, "")
	require.ErrorIs(t, err, boom)
	assert.False(t, ok)
}

func TestAppendHistory(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Repo.AddShipment(env.Ctx, shipmentWithTasks("s1"))
	require.NoError(t, err)
	e, err := env.Repo.AppendHistory(env.Ctx, "s1", "task.updated", "Task task-1 updated", "", nil)
	require.NoError(t, err)
	assert.Nil(t, e.Details)
	s, err := env.Repo.GetShipmentByID(env.Ctx, "s1")
	require.NoError(t, err)
	require.Len(t, s.History, 1)
	assert.Equal(t, e.ID, s.History[0].ID)

	_, err = env.Repo.AppendHistory(env.Ctx, "nope", "task.updated", "x", "", nil)
	require.ErrorIs(t, err, repo.ErrNotFound)
}
