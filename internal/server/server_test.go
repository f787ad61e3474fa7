package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"leboy/internal/app"
	"leboy/internal/config"
	"leboy/internal/db"
	"leboy/internal/engine"
	"leboy/internal/migrate"
)

const testJWTSecret = "test-secret"

type testServer struct {
	URL    string
	Engine engine.Engine
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	cfg := config.Default()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, cfg)
	now := time.Now().UTC().Format(time.RFC3339)
	if err := app.SeedCommissionConfigs(context.Background(), e.Repo, cfg, now); err != nil {
		t.Fatalf("seed commission configs: %v", err)
	}
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v1",
		Auth: AuthConfig{
			JWTSecret:             testJWTSecret,
			AllowLegacyRoleHeader: true,
		},
	})
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
		Engine: e,
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
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
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

func asHeaders(role, email string) map[string]string {
	return map[string]string{"X-Role": role, "X-Email": email}
}

func signToken(t *testing.T, role, email string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwtClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   email,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Role:  role,
		Email: email,
	})
	signed, err := token.SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func TestMissionLifecycleOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	admin := asHeaders("admin", "ops@leboy.app")
	provider := asHeaders("prestataire", "presta@example.cm")

	createRes, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/missions", map[string]any{
		"client_email": "client@example.com",
		"category":     "demarches",
		"title":        "Renouvellement de passeport",
	}, asHeaders("client", "client@example.com"))
	if createRes.StatusCode != http.StatusCreated {
		t.Fatalf("create mission status %d: %s", createRes.StatusCode, string(data))
	}
	var created MissionResponse
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal mission: %v", err)
	}
	if created.Status == "" || created.Progress == 0 || len(created.Steps) == 0 {
		t.Fatalf("expected derived projections, got %+v", created)
	}
	id := created.ID

	steps := []struct {
		path string
		body any
		hdrs map[string]string
	}{
		{"/assign", map[string]any{"provider_id": "presta-1", "provider_email": "presta@example.cm"}, admin},
		{"/estimation", map[string]any{"price": 200000, "delay_hours": 72}, provider},
		{"/request-payment", nil, admin},
		{"/confirm-payment", nil, admin},
		{"/advance", map[string]any{"percentage": 50}, admin},
		{"/takeover", nil, provider},
		{"/proofs", map[string]any{"filename": "recu.pdf"}, provider},
		{"/submit-validation", map[string]any{"comment": "fini"}, provider},
		{"/confirm-completion", map[string]any{"solde_paid": true}, admin},
		{"/close", nil, admin},
	}
	var last MissionResponse
	for _, step := range steps {
		res, body := doJSON(t, client, http.MethodPost, srv.URL+"/v1/missions/"+id+step.path, step.body, step.hdrs)
		if res.StatusCode >= 300 {
			t.Fatalf("%s status %d: %s", step.path, res.StatusCode, string(body))
		}
		_ = json.Unmarshal(body, &last)
	}
	if last.InternalState != "COMPLETED" || last.Progress != 100 {
		t.Fatalf("expected COMPLETED/100, got %s/%d", last.InternalState, last.Progress)
	}
}

func TestInvalidTransitionConflict(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	admin := asHeaders("admin", "ops@leboy.app")

	_, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/missions", map[string]any{
		"client_email": "client@example.com",
		"title":        "Suivi chantier",
	}, admin)
	var created MissionResponse
	_ = json.Unmarshal(data, &created)

	res, body := doJSON(t, client, http.MethodPost, srv.URL+"/v1/missions/"+created.ID+"/confirm-payment", nil, admin)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", res.StatusCode, string(body))
	}
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		t.Fatalf("unmarshal error envelope: %v", err)
	}
	if envelope.Error.Code != "invalid_state_transition" {
		t.Fatalf("expected invalid_state_transition, got %q", envelope.Error.Code)
	}
}

func TestRoleForbidden(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	_, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/missions", map[string]any{
		"client_email": "client@example.com",
		"title":        "Achat groupé",
	}, asHeaders("client", "client@example.com"))
	var created MissionResponse
	_ = json.Unmarshal(data, &created)

	// client cannot assign a provider
	res, body := doJSON(t, client, http.MethodPost, srv.URL+"/v1/missions/"+created.ID+"/assign", map[string]any{
		"provider_id": "presta-1",
	}, asHeaders("client", "client@example.com"))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", res.StatusCode, string(body))
	}
}

func TestAuthRequired(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, _ := doJSON(t, client, http.MethodGet, srv.URL+"/v1/missions", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without credentials, got %d", res.StatusCode)
	}
	// health stays open
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v1/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected open health endpoint, got %d", res.StatusCode)
	}
}

func TestJWTAuth(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	token := signToken(t, "client", "client@example.com")
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/missions", map[string]any{
		"client_email": "client@example.com",
		"title":        "Via JWT",
	}, map[string]string{"Authorization": "Bearer " + token})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201 with JWT, got %d: %s", res.StatusCode, string(data))
	}

	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v1/missions", nil, map[string]string{
		"Authorization": "Bearer not-a-token",
	})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 with bad token, got %d", res.StatusCode)
	}
}

func TestAPIKeyAuth(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	ctx := context.Background()

	_, raw, err := srv.Engine.CreateAPIKey(ctx, "prestataire", "presta@example.cm", "test key", engine.Actor{Role: "admin", Email: "ops@leboy.app"})
	if err != nil {
		t.Fatalf("create api key: %v", err)
	}
	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v1/missions", nil, map[string]string{"X-Api-Key": raw})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 with api key, got %d: %s", res.StatusCode, string(data))
	}
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v1/missions", nil, map[string]string{"X-Api-Key": "lby_bogus"})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 with bogus key, got %d", res.StatusCode)
	}
}

func TestCommissionQuoteEndpoint(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	admin := asHeaders("admin", "ops@leboy.app")

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v1/commission/quote?category=demarches&price=100000", nil, admin)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("quote status %d: %s", res.StatusCode, string(data))
	}
	var quote CommissionQuoteResponse
	if err := json.Unmarshal(data, &quote); err != nil {
		t.Fatalf("unmarshal quote: %v", err)
	}
	if quote.Commission != 12000 || quote.Total != 112000 {
		t.Fatalf("unexpected quote: %+v", quote)
	}
}

func TestArchivedMissionGone(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	admin := asHeaders("admin", "ops@leboy.app")

	_, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/missions", map[string]any{
		"client_email": "client@example.com",
		"title":        "A archiver",
	}, admin)
	var created MissionResponse
	_ = json.Unmarshal(data, &created)

	res, body := doJSON(t, client, http.MethodPost, srv.URL+"/v1/missions/"+created.ID+"/archive", nil, admin)
	if res.StatusCode >= 300 {
		t.Fatalf("archive status %d: %s", res.StatusCode, string(body))
	}
	// mutations on archived missions conflict
	res, body = doJSON(t, client, http.MethodPost, srv.URL+"/v1/missions/"+created.ID+"/assign", map[string]any{
		"provider_id": "presta-1",
	}, admin)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 on archived mutation, got %d: %s", res.StatusCode, string(body))
	}
	res, body = doJSON(t, client, http.MethodPost, srv.URL+"/v1/missions/"+created.ID+"/restore", nil, admin)
	if res.StatusCode >= 300 {
		t.Fatalf("restore status %d: %s", res.StatusCode, string(body))
	}
}
