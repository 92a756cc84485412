package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"shipline/internal/blob"
	"shipline/internal/db"
	"shipline/internal/domain"
	"shipline/internal/engine"
	"shipline/internal/mail"
	"shipline/internal/metrics"
	"shipline/internal/migrate"
	"shipline/internal/repo"
	"shipline/internal/store"
)

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T, auth AuthConfig) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(context.Background(), conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	rec := metrics.New()
	e := engine.New(engine.Options{
		Slots:   store.NewSQLite(conn),
		Blobs:   blob.NewMemory(),
		Mail:    mail.NewLogSender(nil, 0),
		Metrics: rec,
		Now:     func() time.Time { return time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC) },
	})
	handler, err := New(Config{Engine: e, BasePath: "/v1", Auth: auth, Metrics: rec})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	headers = mergeHeaders(map[string]string{"Content-Type": "application/json"}, headers)
	return doRaw(t, client, method, url, reader, headers)
}

func doRaw(t *testing.T, client *http.Client, method, url string, body io.Reader, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, url, body)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func mergeHeaders(base, extra map[string]string) map[string]string {
	for k, v := range extra {
		base[k] = v
	}
	return base
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal %T: %v (%s)", out, err, string(data))
	}
	return out
}

func errorCode(t *testing.T, data []byte) string {
	t.Helper()
	env := decode[struct {
		Error apiErrorBody `json:"error"`
	}](t, data)
	return env.Error.Code
}

func createShipment(t *testing.T, srv *testServer, body map[string]any) domain.Shipment {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/shipments", body, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create shipment status %d: %s", res.StatusCode, string(data))
	}
	return decode[repo.AddShipmentResult](t, data).Shipment
}

func TestShipmentLifecycle(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{})
	defer cleanup()
	client := srv.Client()
	base := srv.URL + "/v1"

	s := createShipment(t, srv, map[string]any{
		"type":       "Import",
		"date":       "2024-03-01",
		"numAnimals": 2,
		"animalType": "Horses",
	})
	if s.ShipmentNumber != "IMPORT-001" {
		t.Fatalf("expected IMPORT-001, got %s", s.ShipmentNumber)
	}
	if len(s.Tasks) == 0 {
		t.Fatalf("expected tasks on new shipment")
	}
	taskID := s.Tasks[0].ID

	res, data := doJSON(t, client, http.MethodGet, base+"/shipments?date=2024-03-01&type=Import", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list by date: %d %s", res.StatusCode, string(data))
	}
	if got := decode[[]domain.Shipment](t, data); len(got) != 1 || got[0].ID != s.ID {
		t.Fatalf("unexpected filter result: %s", string(data))
	}

	res, data = doJSON(t, client, http.MethodPatch, base+"/shipments/"+s.ID+"/status", map[string]any{"status": "In Progress"}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status: %d %s", res.StatusCode, string(data))
	}
	if got := decode[domain.Shipment](t, data); got.Status != domain.StatusInProgress {
		t.Fatalf("expected In Progress, got %s", got.Status)
	}

	res, data = doJSON(t, client, http.MethodPost, base+"/shipments/"+s.ID+"/tasks/"+taskID+"/toggle", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("toggle: %d %s", res.StatusCode, string(data))
	}
	if got := decode[domain.Task](t, data); !got.Completed {
		t.Fatalf("expected completed task after toggle")
	}

	res, data = doJSON(t, client, http.MethodPut, base+"/shipments/"+s.ID+"/tasks/"+taskID+"/recipients",
		map[string]any{"emails": []string{"vet@example.com"}}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("recipients: %d %s", res.StatusCode, string(data))
	}

	fileURL := base + "/shipments/" + s.ID + "/tasks/" + taskID + "/files/permit.pdf"
	res, data = doRaw(t, client, http.MethodPut, fileURL, strings.NewReader("%PDF-1.4"), map[string]string{"Content-Type": "application/pdf"})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("upload: %d %s", res.StatusCode, string(data))
	}
	if got := decode[domain.Task](t, data); len(got.Files) != 1 || got.Files[0].Name != "permit.pdf" {
		t.Fatalf("unexpected files: %s", string(data))
	}

	res, data = doRaw(t, client, http.MethodGet, fileURL, nil, nil)
	if res.StatusCode != http.StatusOK || string(data) != "%PDF-1.4" {
		t.Fatalf("download: %d %q", res.StatusCode, string(data))
	}
	if ct := res.Header.Get("Content-Type"); ct != "application/pdf" {
		t.Fatalf("expected application/pdf, got %s", ct)
	}

	res, data = doJSON(t, client, http.MethodGet, fileURL+"/url", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("file url: %d %s", res.StatusCode, string(data))
	}
	if link := decode[FileURLResponse](t, data); link.Direct || !strings.HasPrefix(link.URL, engine.BlobScheme) {
		t.Fatalf("memory blobs cannot presign, got %+v", link)
	}

	res, data = doJSON(t, client, http.MethodPost, fileURL+"/send", map[string]any{}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("send: %d %s", res.StatusCode, string(data))
	}
	if sent := decode[SendFileResponse](t, data); !sent.Sent || len(sent.Recipients) != 1 || sent.Recipients[0] != "vet@example.com" {
		t.Fatalf("unexpected send result: %s", string(data))
	}

	res, data = doJSON(t, client, http.MethodDelete, fileURL, nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("detach: %d %s", res.StatusCode, string(data))
	}
	res, data = doRaw(t, client, http.MethodGet, fileURL, nil, nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 after detach, got %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, base+"/shipments/"+s.ID+"/history", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("history: %d %s", res.StatusCode, string(data))
	}
	var types []string
	toggled := false
	for _, h := range decode[[]domain.HistoryEntry](t, data) {
		types = append(types, h.Type)
		if h.Type == "task.updated" && h.Details["taskId"] == taskID && h.Details["completed"] == true {
			toggled = true
		}
	}
	if !toggled {
		t.Fatalf("toggle left no task.updated entry: %s", string(data))
	}
	joined := strings.Join(types, ",")
	for _, want := range []string{"shipment.created", "status.changed", "file.attached", "file.emailed", "file.removed"} {
		if !strings.Contains(joined, want) {
			t.Fatalf("history missing %s: %s", want, joined)
		}
	}
}

func TestErrorEnvelope(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{})
	defer cleanup()
	client := srv.Client()
	base := srv.URL + "/v1"

	cases := []struct {
		name   string
		method string
		url    string
		body   any
		status int
		code   string
	}{
		{"missing shipment", http.MethodGet, base + "/shipments/nope", nil, http.StatusNotFound, "not_found"},
		{"bad type", http.MethodPost, base + "/shipments", map[string]any{"type": "Cruise", "date": "2024-03-01"}, http.StatusBadRequest, "bad_request"},
		{"half filter", http.MethodGet, base + "/shipments?date=2024-03-01", nil, http.StatusBadRequest, "bad_request"},
		{"unknown kind", http.MethodGet, base + "/directory/vets/x/shipments", nil, http.StatusBadRequest, "unknown_entity_kind"},
		{"missing agent", http.MethodGet, base + "/directory/agent/x/shipments", nil, http.StatusNotFound, "not_found"},
		{"missing task", http.MethodPatch, base + "/shipments/nope/tasks/task-1", map[string]any{"completed": true}, http.StatusNotFound, "not_found"},
		{"send to missing shipment", http.MethodPost, base + "/shipments/nope/tasks/task-1/files/a.pdf/send", map[string]any{"emails": []string{"a@example.com"}}, http.StatusNotFound, "not_found"},
	}
	for _, tc := range cases {
		res, data := doJSON(t, client, tc.method, tc.url, tc.body, nil)
		if res.StatusCode != tc.status {
			t.Fatalf("%s: expected %d, got %d %s", tc.name, tc.status, res.StatusCode, string(data))
		}
		if code := errorCode(t, data); code != tc.code {
			t.Fatalf("%s: expected code %s, got %s", tc.name, tc.code, code)
		}
	}
}

func TestDirectoryAndRequests(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{})
	defer cleanup()
	client := srv.Client()
	base := srv.URL + "/v1"

	res, data := doJSON(t, client, http.MethodPost, base+"/agents", map[string]any{"name": "Jane Smith", "company": "Equine Air"}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create agent: %d %s", res.StatusCode, string(data))
	}
	agent := decode[domain.Agent](t, data)

	s := createShipment(t, srv, map[string]any{
		"type":       "Export",
		"date":       "2024-04-10",
		"numAnimals": 1,
		"agents":     []map[string]any{{"name": "Jane Smith", "animalCount": 1}},
	})
	res, data = doJSON(t, client, http.MethodGet, base+"/directory/agents/"+agent.ID+"/shipments", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("agent shipments: %d %s", res.StatusCode, string(data))
	}
	if got := decode[[]domain.Shipment](t, data); len(got) != 1 || got[0].ID != s.ID {
		t.Fatalf("expected linked shipment, got %s", string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, base+"/requests", map[string]any{
		"customerName":  "Lena Berg",
		"email":         "lena@example.com",
		"type":          "Import",
		"numAnimals":    3,
		"preferredDate": "2024-05-01",
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create request: %d %s", res.StatusCode, string(data))
	}
	req := decode[domain.ShipmentRequest](t, data)
	if req.Status != domain.RequestNew {
		t.Fatalf("expected new request, got %s", req.Status)
	}

	res, data = doJSON(t, client, http.MethodPost, base+"/requests/"+req.ID+"/convert", map[string]any{}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("convert: %d %s", res.StatusCode, string(data))
	}
	conv := decode[engine.ConvertResult](t, data)
	if conv.Request.Status != domain.RequestConverted || conv.Shipment.Date != "2024-05-01" {
		t.Fatalf("unexpected conversion: %s", string(data))
	}
	if conv.Customer.LoyaltyPoints != 130 {
		t.Fatalf("expected 130 points, got %d", conv.Customer.LoyaltyPoints)
	}

	res, data = doJSON(t, client, http.MethodPost, base+"/requests/"+req.ID+"/convert", map[string]any{}, nil)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("second convert: expected 409, got %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, base+"/analytics/summary", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("summary: %d %s", res.StatusCode, string(data))
	}
	summary := decode[struct {
		Shipments    int `json:"shipments"`
		OpenRequests int `json:"openRequests"`
	}](t, data)
	if summary.Shipments != 2 || summary.OpenRequests != 0 {
		t.Fatalf("unexpected summary: %s", string(data))
	}
}

func TestTemplateOverrideAndNumbers(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{})
	defer cleanup()
	client := srv.Client()
	base := srv.URL + "/v1"

	res, data := doJSON(t, client, http.MethodGet, base+"/numbers/Export", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("peek: %d %s", res.StatusCode, string(data))
	}
	if n := decode[NumberResponse](t, data); n.Next != "EXPORT-001" {
		t.Fatalf("expected EXPORT-001, got %s", n.Next)
	}

	res, data = doJSON(t, client, http.MethodPut, base+"/templates/Export", map[string]any{
		"tasks": []map[string]any{
			{"title": "Book flight", "category": "Transport", "required": true, "daysBefore": 10},
			{"title": "Load horse", "category": "Logistics", "required": true, "daysBefore": 1},
		},
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("set templates: %d %s", res.StatusCode, string(data))
	}
	s := createShipment(t, srv, map[string]any{"type": "Export", "date": "2024-06-20", "numAnimals": 1})
	if len(s.Tasks) != 2 || s.Tasks[0].Title != "Book flight" || s.Tasks[0].DueDate != "2024-06-10" {
		t.Fatalf("override not applied: %+v", s.Tasks)
	}

	res, data = doJSON(t, client, http.MethodPut, base+"/templates/Export", map[string]any{
		"tasks": []map[string]any{
			{"title": "Late", "category": "Transport", "required": true, "daysBefore": 1},
			{"title": "Early", "category": "Transport", "required": true, "daysBefore": 5},
		},
	}, nil)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for increasing offsets, got %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodDelete, base+"/templates/Export", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("reset: %d %s", res.StatusCode, string(data))
	}
	if got := decode[TemplatesResponse](t, data); got.Override || len(got.Tasks) < 3 {
		t.Fatalf("expected built-in list after reset, got %s", string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, base+"/numbers/Export", nil, nil)
	if n := decode[NumberResponse](t, data); n.Next != "EXPORT-002" {
		t.Fatalf("expected EXPORT-002, got %s", n.Next)
	}
}

func TestAuthRequired(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{JWTSecret: "test-secret", DevLogin: true})
	defer cleanup()
	client := srv.Client()
	base := srv.URL + "/v1"

	res, data := doJSON(t, client, http.MethodGet, base+"/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health: %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodGet, base+"/shipments", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d %s", res.StatusCode, string(data))
	}
	res, _ = doJSON(t, client, http.MethodGet, base+"/shipments", nil, map[string]string{"Authorization": "Bearer not-a-token"})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad token, got %d", res.StatusCode)
	}

	res, data = doJSON(t, client, http.MethodPost, base+"/auth/dev/login", map[string]any{"actorId": "anyone", "roles": []string{RoleAdmin}}, nil)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for self-assigned admin, got %d %s", res.StatusCode, string(data))
	}
	if code := errorCode(t, data); code != "forbidden" {
		t.Fatalf("expected forbidden, got %s", code)
	}

	res, data = doJSON(t, client, http.MethodPost, base+"/auth/dev/login", map[string]any{"actorId": "clerk"}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("login: %d %s", res.StatusCode, string(data))
	}
	clerk := map[string]string{"Authorization": "Bearer " + decode[DevLoginResponse](t, data).Token}

	res, data = doJSON(t, client, http.MethodGet, base+"/me", nil, clerk)
	if who := decode[WhoAmIResponse](t, data); res.StatusCode != http.StatusOK || who.ActorID != "clerk" {
		t.Fatalf("me: %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPost, base+"/seed", map[string]any{"seed": 1}, clerk)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for non-admin seed, got %d %s", res.StatusCode, string(data))
	}

	token, err := SignToken("test-secret", "ops", []string{RoleAdmin}, time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	admin := map[string]string{"Authorization": "Bearer " + token}
	res, data = doJSON(t, client, http.MethodPost, base+"/seed", map[string]any{"seed": 1, "shipments": 3}, admin)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("seed: %d %s", res.StatusCode, string(data))
	}
	if got := decode[SeedResponse](t, data); got.Shipments != 3 {
		t.Fatalf("expected 3 demo shipments, got %d", got.Shipments)
	}

	s := createShipment(t, &testServer{URL: srv.URL, client: &http.Client{Transport: headerTransport(admin)}}, map[string]any{
		"type": "Import", "date": "2024-02-01", "numAnimals": 1,
	})
	var created domain.HistoryEntry
	for _, h := range s.History {
		if h.Type == "shipment.created" {
			created = h
		}
	}
	if created.Details["actor"] != "ops" {
		t.Fatalf("expected actor ops on creation entry, got %+v", created.Details)
	}
}

func TestDevLoginDisabledByDefault(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{JWTSecret: "test-secret"})
	defer cleanup()
	client := srv.Client()
	base := srv.URL + "/v1"

	res, data := doJSON(t, client, http.MethodPost, base+"/auth/dev/login", map[string]any{"actorId": "anyone", "roles": []string{RoleAdmin}}, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for dev login without the flag, got %d %s", res.StatusCode, string(data))
	}

	token, err := SignToken("test-secret", "ops", []string{RoleAdmin}, time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	res, data = doJSON(t, client, http.MethodPost, base+"/auth/dev/login", map[string]any{"actorId": "anyone"},
		map[string]string{"Authorization": "Bearer " + token})
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected unregistered dev login route, got %d %s", res.StatusCode, string(data))
	}
}

type headerTransport map[string]string

func (h headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	for k, v := range h {
		req.Header.Set(k, v)
	}
	return http.DefaultTransport.RoundTrip(req)
}

func TestOpenAPIServedConcurrently(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{})
	defer cleanup()
	client := srv.Client()

	const n = 8
	bodies := make([]string, n)
	codes := make([]int, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := client.Get(srv.URL + "/v1/openapi.json")
			if err != nil {
				return
			}
			defer res.Body.Close()
			data, _ := io.ReadAll(res.Body)
			codes[i], bodies[i] = res.StatusCode, string(data)
		}(i)
	}
	wg.Wait()
	for i := 0; i < n; i++ {
		if codes[i] != http.StatusOK {
			t.Fatalf("request %d: status %d", i, codes[i])
		}
		if bodies[i] != bodies[0] {
			t.Fatalf("request %d served a different document", i)
		}
	}
	if !strings.Contains(bodies[0], "/v1/shipments") {
		t.Fatalf("expected shipment routes in the document")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{})
	defer cleanup()
	client := srv.Client()

	doJSON(t, client, http.MethodGet, srv.URL+"/v1/health", nil, nil)
	res, data := doRaw(t, client, http.MethodGet, srv.URL+"/metrics", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("metrics: %d", res.StatusCode)
	}
	if !strings.Contains(string(data), "shipline_http_requests_total") {
		t.Fatalf("expected request counter in metrics output")
	}
}
