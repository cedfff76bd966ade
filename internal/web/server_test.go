package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/JonMunkholm/roster/internal/config"
	"github.com/JonMunkholm/roster/internal/core"
	"github.com/JonMunkholm/roster/internal/roster"
	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"
)

const testRoster = "student_id,first_name,middle_name,last_name,gender,is_active\n" +
	"S001,Ada,,Lovelace,female,1\n" +
	"S002,Alan,,Turing,male,1\n"

type staticAuth map[string]string

func (a staticAuth) Authenticate(user, pass string) bool {
	want, ok := a[user]
	return ok && want == pass
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.LoadFrom(func(key string) (string, bool) {
		if key == "DATABASE_URL" {
			return "postgres://localhost/roster_test", true
		}
		return "", false
	})
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}
	cfg.Security.RateLimit = 0
	return cfg
}

func newTestServer(t *testing.T, f *fakeStore, mods ...func(*config.Config)) *Server {
	t.Helper()
	cfg := testConfig(t)
	for _, mod := range mods {
		mod(cfg)
	}
	ing := core.NewIngester(f, core.WithWorkers(2), core.WithChunkSize(10))
	svc := core.NewService(ing, core.NewIngestLimiter(2, 100*time.Millisecond))
	srv := NewServer(cfg, Deps{
		Service:   svc,
		Directory: f,
		Exporter:  core.NewExporter(f.Accounts()),
		Auth:      staticAuth{"registrar": "s3cret"},
	})
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	return srv
}

func do(srv *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func uploadRequest(t *testing.T, path, filename, content string, fields map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mpw := multipart.NewWriter(&body)
	for k, v := range fields {
		if err := mpw.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	if filename != "" {
		fw, err := mpw.CreateFormFile("file", filename)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := fw.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}
	if err := mpw.Close(); err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", mpw.FormDataContentType())
	return req
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return v
}

func wantError(t *testing.T, rec *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	if rec.Code != status {
		t.Fatalf("status = %d, want %d (body %s)", rec.Code, status, rec.Body.String())
	}
	resp := decode[ErrorResponse](t, rec)
	if resp.Code != code {
		t.Errorf("code = %q, want %q", resp.Code, code)
	}
}

// waitForResult polls the result endpoint until the ingest leaves 202.
func waitForResult(t *testing.T, srv *Server, id string) *httptest.ResponseRecorder {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		rec := do(srv, httptest.NewRequest(http.MethodGet, "/api/ingests/"+id+"/result", nil))
		if rec.Code != http.StatusAccepted {
			return rec
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("ingest did not finish")
	return nil
}

func TestHealth(t *testing.T) {
	f := newFakeStore()
	srv := newTestServer(t, f)

	rec := do(srv, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	resp := decode[healthResponse](t, rec)
	if resp.Status != "ok" || resp.Ingests.MaxConcurrent != 2 {
		t.Errorf("health = %+v", resp)
	}
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("security headers missing")
	}

	f.pingErr = errors.New("connection refused")
	rec = do(srv, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("degraded status = %d, want 503", rec.Code)
	}
}

func TestTemplate(t *testing.T) {
	srv := newTestServer(t, newFakeStore())
	rec := do(srv, httptest.NewRequest(http.MethodGet, "/api/template", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.HasPrefix(rec.Body.String(), "student_id,first_name,middle_name,last_name") {
		t.Errorf("template = %q", rec.Body.String())
	}
	if !strings.Contains(rec.Header().Get("Content-Disposition"), "roster_template.csv") {
		t.Error("missing attachment filename")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		content  string
		status   int
		code     string
	}{
		{name: "missing file", filename: "", status: http.StatusBadRequest, code: "FILE004"},
		{name: "wrong extension", filename: "roster.txt", content: testRoster, status: http.StatusUnsupportedMediaType, code: "FILE002"},
		{name: "missing header", filename: "roster.csv", content: "student_id,first_name\nS1,A\n", status: http.StatusUnprocessableEntity, code: "VAL002"},
		{name: "bad cell", filename: "roster.csv", content: "student_id,first_name,middle_name,last_name,gender\nS1,A,,L,robot\n", status: http.StatusUnprocessableEntity, code: "VAL001"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, newFakeStore())
			rec := do(srv, uploadRequest(t, "/api/validate", tt.filename, tt.content, nil))
			wantError(t, rec, tt.status, tt.code)
		})
	}

	t.Run("valid", func(t *testing.T) {
		f := newFakeStore()
		f.accounts["S001"] = roster.Account{ID: uuid.New(), SchoolID: "S001"}
		srv := newTestServer(t, f)

		rec := do(srv, uploadRequest(t, "/api/validate", "fall.csv", testRoster, nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d (body %s)", rec.Code, rec.Body.String())
		}
		resp := decode[validateResponse](t, rec)
		if !resp.Report.IsValid || resp.Report.TotalRows != 2 || resp.Report.FileName != "fall.csv" {
			t.Errorf("report = %+v", resp.Report)
		}
		if resp.Existing.ExistingCount != 1 || resp.Existing.NewCount != 1 {
			t.Errorf("existing = %+v", resp.Existing)
		}
		if len(f.accounts) != 1 {
			t.Error("validate must not write")
		}
	})
}

func TestIngestFlow(t *testing.T) {
	f := newFakeStore()
	srv := newTestServer(t, f, func(c *config.Config) { c.Security.RequireAuth = true })

	// Create and activate the target term.
	req := httptest.NewRequest(http.MethodPost, "/api/terms", strings.NewReader(`{"label":"Fall 2025","activate":true}`))
	req.SetBasicAuth("registrar", "s3cret")
	rec := do(srv, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create term status = %d (body %s)", rec.Code, rec.Body.String())
	}
	term := decode[roster.Term](t, rec)

	req = uploadRequest(t, "/api/ingests", "fall.csv", testRoster, map[string]string{"force_update": "true"})
	req.SetBasicAuth("registrar", "s3cret")
	rec = do(srv, req)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("start status = %d (body %s)", rec.Code, rec.Body.String())
	}
	started := decode[startIngestResponse](t, rec)
	if started.TargetTerm != term.ID {
		t.Errorf("target term = %s, want active term %s", started.TargetTerm, term.ID)
	}

	rec = waitForResult(t, srv, started.IngestID)
	if rec.Code != http.StatusOK {
		t.Fatalf("result status = %d (body %s)", rec.Code, rec.Body.String())
	}
	result := decode[ingestResultResponse](t, rec)
	if result.Report == nil || result.Report.Created != 2 || result.Progress.Phase != core.PhaseComplete {
		t.Errorf("result = %+v", result)
	}

	rec = do(srv, httptest.NewRequest(http.MethodGet, "/api/accounts/by-school-id/S002", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("get account status = %d", rec.Code)
	}
	acct := decode[roster.Account](t, rec)
	if roster.Deref(acct.LastName) != "Turing" || acct.LastSeenTerm == nil || *acct.LastSeenTerm != term.ID {
		t.Errorf("account = %+v", acct)
	}

	// A finished ingest replays its final state and closes the stream.
	rec = do(srv, httptest.NewRequest(http.MethodGet, "/api/ingests/"+started.IngestID+"/progress", nil))
	body := rec.Body.String()
	if rec.Header().Get("Content-Type") != "text/event-stream" ||
		!strings.Contains(body, "event: progress") || !strings.Contains(body, "event: complete") {
		t.Errorf("progress stream = %q", body)
	}
}

func TestStartIngestErrors(t *testing.T) {
	t.Run("no active term", func(t *testing.T) {
		srv := newTestServer(t, newFakeStore())
		rec := do(srv, uploadRequest(t, "/api/ingests", "r.csv", testRoster, nil))
		wantError(t, rec, http.StatusConflict, "TERM002")
	})
	t.Run("malformed term id", func(t *testing.T) {
		srv := newTestServer(t, newFakeStore())
		rec := do(srv, uploadRequest(t, "/api/ingests", "r.csv", testRoster, map[string]string{"term_id": "nope"}))
		wantError(t, rec, http.StatusBadRequest, "VAL001")
	})
	t.Run("malformed force flag", func(t *testing.T) {
		srv := newTestServer(t, newFakeStore())
		rec := do(srv, uploadRequest(t, "/api/ingests", "r.csv", testRoster, map[string]string{"term_id": uuid.NewString(), "force_update": "maybe"}))
		wantError(t, rec, http.StatusBadRequest, "VAL001")
	})
	t.Run("unknown term fails in background", func(t *testing.T) {
		srv := newTestServer(t, newFakeStore())
		rec := do(srv, uploadRequest(t, "/api/ingests", "r.csv", testRoster, map[string]string{"term_id": uuid.NewString()}))
		if rec.Code != http.StatusAccepted {
			t.Fatalf("status = %d", rec.Code)
		}
		id := decode[startIngestResponse](t, rec).IngestID
		wantError(t, waitForResult(t, srv, id), http.StatusNotFound, "TERM001")
	})
	t.Run("auth required", func(t *testing.T) {
		srv := newTestServer(t, newFakeStore(), func(c *config.Config) { c.Security.RequireAuth = true })
		rec := do(srv, uploadRequest(t, "/api/ingests", "r.csv", testRoster, nil))
		wantError(t, rec, http.StatusUnauthorized, "AUTH001")
	})
}

func TestIngestLookupUnknown(t *testing.T) {
	srv := newTestServer(t, newFakeStore())
	for _, req := range []*http.Request{
		httptest.NewRequest(http.MethodGet, "/api/ingests/missing/result", nil),
		httptest.NewRequest(http.MethodGet, "/api/ingests/missing/progress", nil),
		httptest.NewRequest(http.MethodPost, "/api/ingests/missing/cancel", nil),
	} {
		wantError(t, do(srv, req), http.StatusNotFound, "ING003")
	}

	rec := do(srv, httptest.NewRequest(http.MethodGet, "/api/ingests", nil))
	if rec.Code != http.StatusOK || strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Errorf("list = %d %q", rec.Code, rec.Body.String())
	}
}

func TestTerms(t *testing.T) {
	f := newFakeStore()
	srv := newTestServer(t, f)

	post := func(body string) *httptest.ResponseRecorder {
		return do(srv, httptest.NewRequest(http.MethodPost, "/api/terms", strings.NewReader(body)))
	}

	if rec := post(`{"label":"Spring 2026"}`); rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d (body %s)", rec.Code, rec.Body.String())
	}
	wantError(t, post(`{"label":"Spring 2026"}`), http.StatusConflict, "DB001")
	wantError(t, post(`{"label":""}`), http.StatusUnprocessableEntity, "VAL001")
	if rec := post(`{"label":"X","colour":"red"}`); rec.Code != http.StatusBadRequest {
		t.Errorf("unknown field status = %d, want 400", rec.Code)
	}

	wantError(t, do(srv, httptest.NewRequest(http.MethodGet, "/api/terms/active", nil)), http.StatusNotFound, "DB007")

	terms := decode[[]roster.Term](t, do(srv, httptest.NewRequest(http.MethodGet, "/api/terms", nil)))
	if len(terms) != 1 {
		t.Fatalf("terms = %+v", terms)
	}

	rec := do(srv, httptest.NewRequest(http.MethodPost, "/api/terms/"+terms[0].ID.String()+"/activate", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("activate status = %d", rec.Code)
	}
	active := decode[roster.Term](t, do(srv, httptest.NewRequest(http.MethodGet, "/api/terms/active", nil)))
	if active.ID != terms[0].ID {
		t.Errorf("active = %+v", active)
	}

	wantError(t, do(srv, httptest.NewRequest(http.MethodPost, "/api/terms/"+uuid.NewString()+"/activate", nil)), http.StatusNotFound, "DB007")
	if rec := do(srv, httptest.NewRequest(http.MethodPost, "/api/terms/bogus/activate", nil)); rec.Code != http.StatusBadRequest {
		t.Errorf("bogus id status = %d, want 400", rec.Code)
	}
}

func TestAccounts(t *testing.T) {
	f := newFakeStore()
	term := uuid.New()
	for _, sid := range []string{"S001", "S002", "S003"} {
		f.accounts[sid] = roster.Account{ID: uuid.New(), SchoolID: sid, LastName: roster.Text("Name" + sid), IsActive: true}
	}
	f.accounts["S002"] = roster.Account{ID: f.accounts["S002"].ID, SchoolID: "S002", LastName: roster.Text("Turing"), LastSeenTerm: &term}
	srv := newTestServer(t, f)

	page := decode[roster.Page](t, do(srv, httptest.NewRequest(http.MethodGet, "/api/accounts?page=2&page_size=2", nil)))
	if page.Total != 3 || len(page.Accounts) != 1 || page.Accounts[0].SchoolID != "S003" {
		t.Errorf("page = %+v", page)
	}

	page = decode[roster.Page](t, do(srv, httptest.NewRequest(http.MethodGet, "/api/accounts?term_id="+term.String(), nil)))
	if page.Total != 1 || page.Accounts[0].SchoolID != "S002" {
		t.Errorf("term page = %+v", page)
	}
	if rec := do(srv, httptest.NewRequest(http.MethodGet, "/api/accounts?term_id=nope", nil)); rec.Code != http.StatusBadRequest {
		t.Errorf("bad term_id status = %d", rec.Code)
	}

	found := decode[[]roster.Account](t, do(srv, httptest.NewRequest(http.MethodGet, "/api/accounts/search?q=turing", nil)))
	if len(found) != 1 || found[0].SchoolID != "S002" {
		t.Errorf("search = %+v", found)
	}
	empty := decode[[]roster.Account](t, do(srv, httptest.NewRequest(http.MethodGet, "/api/accounts/search", nil)))
	if len(empty) != 0 {
		t.Errorf("empty search = %+v", empty)
	}

	id := f.accounts["S001"].ID
	got := decode[roster.Account](t, do(srv, httptest.NewRequest(http.MethodGet, "/api/accounts/"+id.String(), nil)))
	if got.SchoolID != "S001" {
		t.Errorf("get = %+v", got)
	}
	wantError(t, do(srv, httptest.NewRequest(http.MethodGet, "/api/accounts/"+uuid.NewString(), nil)), http.StatusNotFound, "DB007")
	wantError(t, do(srv, httptest.NewRequest(http.MethodGet, "/api/accounts/by-school-id/S999", nil)), http.StatusNotFound, "DB007")
}

func TestExportAccounts(t *testing.T) {
	f := newFakeStore()
	f.accounts["S001"] = roster.Account{ID: uuid.New(), SchoolID: "S001", FirstName: roster.Text("Ada"), IsActive: true}
	srv := newTestServer(t, f)

	rec := do(srv, httptest.NewRequest(http.MethodGet, "/api/accounts/export", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("csv status = %d", rec.Code)
	}
	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	if len(lines) != 2 || !strings.HasPrefix(lines[1], "S001,Ada,") {
		t.Errorf("csv = %q", rec.Body.String())
	}

	rec = do(srv, httptest.NewRequest(http.MethodGet, "/api/accounts/export?format=xlsx", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("xlsx status = %d", rec.Code)
	}
	wb, err := excelize.OpenReader(rec.Body)
	if err != nil {
		t.Fatalf("OpenReader() error = %v", err)
	}
	defer wb.Close()
	rows, err := wb.GetRows(core.ExportSheet)
	if err != nil || len(rows) != 2 {
		t.Errorf("xlsx rows = %v, %v", rows, err)
	}

	if rec := do(srv, httptest.NewRequest(http.MethodGet, "/api/accounts/export?format=pdf", nil)); rec.Code != http.StatusBadRequest {
		t.Errorf("pdf status = %d, want 400", rec.Code)
	}
}

func TestRateLimit(t *testing.T) {
	srv := newTestServer(t, newFakeStore(), func(c *config.Config) { c.Security.RateLimit = 2 })

	for i := range 2 {
		if rec := do(srv, httptest.NewRequest(http.MethodGet, "/api/template", nil)); rec.Code != http.StatusOK {
			t.Fatalf("request %d status = %d", i, rec.Code)
		}
	}
	rec := do(srv, httptest.NewRequest(http.MethodGet, "/api/template", nil))
	if rec.Code != http.StatusTooManyRequests || rec.Header().Get("Retry-After") == "" {
		t.Errorf("status = %d, want 429 with Retry-After", rec.Code)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		code string
		want int
	}{
		{"DB001", http.StatusConflict},
		{"FILE001", http.StatusRequestEntityTooLarge},
		{"ING002", http.StatusServiceUnavailable},
		{"TERM001", http.StatusNotFound},
		{"ERR000", http.StatusInternalServerError},
		{"", http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.code); got != tt.want {
			t.Errorf("statusFor(%q) = %d, want %d", tt.code, got, tt.want)
		}
	}
}
