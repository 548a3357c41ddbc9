package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-forms-backend/internal/app"
	"github.com/tbourn/go-forms-backend/internal/config"
	"github.com/tbourn/go-forms-backend/internal/domain"
	"github.com/tbourn/go-forms-backend/internal/events"
	"github.com/tbourn/go-forms-backend/internal/form"
	"github.com/tbourn/go-forms-backend/internal/http/handlers"
	"github.com/tbourn/go-forms-backend/internal/http/middleware"
	"github.com/tbourn/go-forms-backend/internal/mailer"
	"github.com/tbourn/go-forms-backend/internal/repo"
	"github.com/tbourn/go-forms-backend/internal/uploads"
	"github.com/tbourn/go-forms-backend/internal/webhook"
)

const adminToken = "s3cret"

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:router_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.Exec("PRAGMA foreign_keys=ON;")
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func testConfig() config.Config {
	return config.Config{
		APIBasePath:    "/api/v1",
		MaxBodyBytes:   1 << 20,
		RateRPS:        100,
		RateBurst:      100,
		AdminToken:     adminToken,
		IdempotencyTTL: time.Hour,
		OTEL:           config.OTELConfig{ServiceName: "test-svc"},
		Delivery:       config.DeliveryConfig{MaxAttempts: 3, BatchSize: 10, ClaimTTL: time.Minute},
		Email:          config.EmailConfig{SenderEmail: "noreply@example.com", SenderName: "Forms"},
	}
}

// hook counts webhook deliveries.
type hook struct {
	*httptest.Server
	calls atomic.Int32
}

func newHook(t *testing.T) *hook {
	h := &hook{}
	h.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		h.calls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(h.Close)
	return h
}

func newServer(t *testing.T, cfg config.Config, webhookURL string) (*gin.Engine, *gorm.DB) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db := newTestDB(t)

	c := domain.Client{ID: "c1", Name: "Acme"}
	if webhookURL != "" {
		c.WebhookURL = &webhookURL
	}
	mustCreate(t, db, &c)
	mustCreate(t, db, &domain.Form{ID: "f1", ClientID: "c1", Name: "Kitchen Quote", IsActive: true})
	mustCreate(t, db, &domain.FormStep{ID: "s1", FormID: "f1", Kind: string(form.KindEmail), Title: "Email", Position: 0, IsRequired: true})

	a := app.New(db, cfg, app.Adapters{
		Uploader: uploads.NewLocal(t.TempDir(), "/uploads"),
		Mailer:   mailer.NewLog(),
		Poster:   webhook.New(2 * time.Second),
		Events:   events.Nop{},
	})
	r := gin.New()
	RegisterRoutes(r, db, cfg, a.HandlerDeps())
	return r, db
}

func mustCreate(t *testing.T, db *gorm.DB, v any) {
	t.Helper()
	if err := db.Create(v).Error; err != nil {
		t.Fatalf("seed %T: %v", v, err)
	}
}

func do(r http.Handler, method, path, body string, hdr map[string]string) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRouter_HealthMetricsFallbacks(t *testing.T) {
	r, _ := newServer(t, testConfig(), "")

	w := do(r, http.MethodGet, "/health", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /health = %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("allow-all CORS expected '*', got %q", got)
	}
	if w.Header().Get("X-Request-ID") == "" || w.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Fatalf("missing request id or security headers: %v", w.Header())
	}

	if w = do(r, http.MethodGet, "/metrics", "", nil); w.Code != http.StatusOK || w.Body.Len() == 0 {
		t.Fatalf("GET /metrics: %d", w.Code)
	}
	if w = do(r, http.MethodGet, "/nope", "", nil); w.Code != http.StatusNotFound {
		t.Fatalf("GET /nope: %d", w.Code)
	}
	if w = do(r, http.MethodPost, "/health", "", nil); w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("POST /health: %d", w.Code)
	}
}

func TestRouter_CORSAllowlist(t *testing.T) {
	cfg := testConfig()
	cfg.CORS.AllowedOrigins = []string{"https://forms.example.com"}
	r, _ := newServer(t, cfg, "")

	w := do(r, http.MethodGet, "/health", "", map[string]string{"Origin": "https://forms.example.com"})
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://forms.example.com" {
		t.Fatalf("expected origin echo, got %q", got)
	}
}

func TestRouter_SubmitDeliverAndReplay(t *testing.T) {
	h := newHook(t)
	r, db := newServer(t, testConfig(), h.URL)

	w := do(r, http.MethodGet, "/api/v1/forms/f1", "", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"id":"s1"`) {
		t.Fatalf("get form: %d %s", w.Code, w.Body.String())
	}

	w = do(r, http.MethodPost, "/api/v1/forms/f1/responses", `{"answers":{"s1":{"type":"text","value":"  "}}}`, nil)
	if w.Code != http.StatusUnprocessableEntity || !strings.Contains(w.Body.String(), `"first_invalid":"s1"`) {
		t.Fatalf("invalid submit: %d %s", w.Code, w.Body.String())
	}

	body := `{"answers":{"s1":{"type":"text","value":"ada@example.com"}}}`
	key := map[string]string{middleware.HeaderIdempotencyKey: "submit-1"}
	w = do(r, http.MethodPost, "/api/v1/forms/f1/responses", body, key)
	if w.Code != http.StatusCreated {
		t.Fatalf("submit: %d %s", w.Code, w.Body.String())
	}
	var first handlers.SubmissionResponse
	_ = json.Unmarshal(w.Body.Bytes(), &first)

	w = do(r, http.MethodPost, "/api/v1/forms/f1/responses", body, key)
	if w.Code != http.StatusOK || w.Header().Get(middleware.HeaderIdempotencyReplayed) != "true" {
		t.Fatalf("replay: %d %v", w.Code, w.Header())
	}
	var replay handlers.SubmissionResponse
	_ = json.Unmarshal(w.Body.Bytes(), &replay)
	if replay.ResponseID != first.ResponseID {
		t.Fatalf("replay id %q != %q", replay.ResponseID, first.ResponseID)
	}

	var n int64
	db.Model(&domain.Response{}).Count(&n)
	if n != 1 {
		t.Fatalf("responses stored: %d", n)
	}

	auth := map[string]string{"Authorization": "Bearer " + adminToken}
	if w = do(r, http.MethodPost, "/admin/run/webhooks", "", auth); w.Code != http.StatusOK {
		t.Fatalf("run webhooks: %d %s", w.Code, w.Body.String())
	}
	if w = do(r, http.MethodPost, "/admin/run/webhooks", "", auth); w.Code != http.StatusOK {
		t.Fatalf("second run: %d", w.Code)
	}
	if got := h.calls.Load(); got != 1 {
		t.Fatalf("webhook calls = %d; want 1", got)
	}

	w = do(r, http.MethodGet, "/admin/jobs/webhooks?status=sent", "", auth)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), first.ResponseID) {
		t.Fatalf("sent jobs: %d %s", w.Code, w.Body.String())
	}
}

func TestRouter_AdminAuth(t *testing.T) {
	r, _ := newServer(t, testConfig(), "")

	if w := do(r, http.MethodGet, "/admin/stats", "", nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("no token: %d", w.Code)
	}
	if w := do(r, http.MethodGet, "/admin/stats", "", map[string]string{"Authorization": "Bearer wrong"}); w.Code != http.StatusUnauthorized {
		t.Fatalf("wrong token: %d", w.Code)
	}
	if w := do(r, http.MethodGet, "/admin/stats", "", map[string]string{"Authorization": "Bearer " + adminToken}); w.Code != http.StatusOK {
		t.Fatalf("good token: %d", w.Code)
	}
}

func TestRouter_ZapierFlow(t *testing.T) {
	r, _ := newServer(t, testConfig(), "")
	auth := map[string]string{"Authorization": "Bearer " + adminToken}

	w := do(r, http.MethodPost, "/admin/clients/c1/api-keys", `{"name":"zap"}`, auth)
	if w.Code != http.StatusCreated {
		t.Fatalf("issue key: %d %s", w.Code, w.Body.String())
	}
	var issued handlers.IssueKeyResponse
	_ = json.Unmarshal(w.Body.Bytes(), &issued)

	w = do(r, http.MethodGet, "/api/forms?api_key="+issued.Key, "", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"f1"`) {
		t.Fatalf("list forms: %d %s", w.Code, w.Body.String())
	}

	sub := `{"target_url":"https://hooks.zapier.com/1","form_id":"f1"}`
	if w = do(r, http.MethodPost, "/api/webhooks/subscribe", sub, map[string]string{"X-API-Key": issued.Key}); w.Code != http.StatusCreated {
		t.Fatalf("subscribe: %d %s", w.Code, w.Body.String())
	}
	if w = do(r, http.MethodGet, "/api/forms", "", nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("missing key: %d", w.Code)
	}

	if w = do(r, http.MethodDelete, "/admin/api-keys/"+issued.Record.ID, "", auth); w.Code != http.StatusNoContent {
		t.Fatalf("revoke: %d", w.Code)
	}
	if w = do(r, http.MethodGet, "/api/forms?api_key="+issued.Key, "", nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("revoked key: %d", w.Code)
	}
}

func TestLimitBody(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(limitBody(10))
	r.POST("/echo", func(c *gin.Context) {
		if _, err := io.ReadAll(c.Request.Body); err != nil {
			c.String(http.StatusRequestEntityTooLarge, "too big")
			return
		}
		c.String(http.StatusOK, "ok")
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/echo", bytes.NewBufferString("0123456789AB")))
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", w.Code)
	}
}

func TestGroupWithPrefixAndPathPrefix(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	groupWithPrefix(r, "/").GET("/one", func(c *gin.Context) { c.String(http.StatusOK, "one") })
	groupWithPrefix(r, "/api").GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	for path, want := range map[string]string{"/one": "one", "/api/ping": "pong"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		if w.Code != http.StatusOK || w.Body.String() != want {
			t.Fatalf("GET %s got %d %q", path, w.Code, w.Body.String())
		}
	}

	if !isPathPrefix("/uploads") || isPathPrefix("https://cdn.example.com") || isPathPrefix("/") {
		t.Fatal("isPathPrefix")
	}
}
