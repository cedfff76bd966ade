package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/JonMunkholm/roster/internal/core"
)

type staticAuth map[string]string

func (a staticAuth) Authenticate(user, pass string) bool {
	want, ok := a[user]
	return ok && want == pass
}

func TestBasicAuth(t *testing.T) {
	authn := staticAuth{"registrar": "s3cret"}

	tests := []struct {
		name      string
		required  bool
		user      string
		pass      string
		noCreds   bool
		wantCode  int
		wantActor string
	}{
		{name: "valid", required: true, user: "registrar", pass: "s3cret", wantCode: http.StatusOK, wantActor: "registrar"},
		{name: "wrong password", required: true, user: "registrar", pass: "nope", wantCode: http.StatusUnauthorized},
		{name: "missing when required", required: true, noCreds: true, wantCode: http.StatusUnauthorized},
		{name: "missing when optional", required: false, noCreds: true, wantCode: http.StatusOK},
		{name: "bad creds when optional", required: false, user: "x", pass: "y", wantCode: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var actor string
			h := BasicAuth(authn, tt.required)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				actor = core.ActorFromContext(r.Context())
			}))

			req := httptest.NewRequest(http.MethodPost, "/api/ingest", nil)
			if !tt.noCreds {
				req.SetBasicAuth(tt.user, tt.pass)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantCode)
			}
			if actor != tt.wantActor {
				t.Errorf("actor = %q, want %q", actor, tt.wantActor)
			}
			if rec.Code == http.StatusUnauthorized {
				var body map[string]string
				if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
					t.Fatal(err)
				}
				if body["code"] != "AUTH001" {
					t.Errorf("code = %q, want AUTH001", body["code"])
				}
				if rec.Header().Get("WWW-Authenticate") == "" {
					t.Error("missing WWW-Authenticate header")
				}
			}
		})
	}
}

func TestTrustedRealIP(t *testing.T) {
	tests := []struct {
		name    string
		trusted []string
		remote  string
		headers map[string]string
		want    string
	}{
		{name: "untrusted ignores header", trusted: []string{"10.0.0.0/8"}, remote: "203.0.113.5:4000", headers: map[string]string{"X-Real-IP": "1.2.3.4"}, want: "203.0.113.5:4000"},
		{name: "trusted real ip", trusted: []string{"10.0.0.0/8"}, remote: "10.1.2.3:4000", headers: map[string]string{"X-Real-IP": "1.2.3.4"}, want: "1.2.3.4"},
		{name: "trusted forwarded for", trusted: []string{"10.0.0.1"}, remote: "10.0.0.1:4000", headers: map[string]string{"X-Forwarded-For": "5.6.7.8, 10.0.0.1"}, want: "5.6.7.8"},
		{name: "invalid header kept out", trusted: []string{"10.0.0.0/8"}, remote: "10.1.2.3:4000", headers: map[string]string{"X-Real-IP": "not-an-ip"}, want: "10.1.2.3:4000"},
		{name: "no trusted proxies", trusted: nil, remote: "10.1.2.3:4000", headers: map[string]string{"X-Real-IP": "1.2.3.4"}, want: "10.1.2.3:4000"},
		{name: "invalid cidr skipped", trusted: []string{"garbage", "::1"}, remote: "[::1]:4000", headers: map[string]string{"X-Real-IP": "2001:db8::1"}, want: "2001:db8::1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got string
			h := TrustedRealIP(tt.trusted)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got = r.RemoteAddr
			}))
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			h.ServeHTTP(httptest.NewRecorder(), req)
			if got != tt.want {
				t.Errorf("RemoteAddr = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestLogger(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	defer slog.SetDefault(prev)

	h := Logger(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte("missing"))
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/accounts/x", nil))

	line := buf.String()
	for _, want := range []string{"level=WARN", "status=404", "bytes=7", "path=/api/accounts/x"} {
		if !strings.Contains(line, want) {
			t.Errorf("log line %q missing %q", line, want)
		}
	}
}
