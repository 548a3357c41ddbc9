package services

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-forms-backend/internal/domain"
	"github.com/tbourn/go-forms-backend/internal/events"
	"github.com/tbourn/go-forms-backend/internal/form"
	"github.com/tbourn/go-forms-backend/internal/mailer"
	"github.com/tbourn/go-forms-backend/internal/repo"
	"github.com/tbourn/go-forms-backend/internal/uploads"
)

// ---------- test helpers ----------

func newSvcDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:svc_%s?mode=memory&cache=shared", uuid.NewString())
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

// newFileSvcDB opens a file-backed database through the production opener so
// several goroutines can share it.
func newFileSvcDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := repo.OpenSQLite(filepath.Join(t.TempDir(), "forms.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.Logger = logger.Default.LogMode(logger.Silent)
	if sqlDB, err := db.DB(); err == nil {
		t.Cleanup(func() { _ = sqlDB.Close() })
	}
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func mustCreate(t *testing.T, db *gorm.DB, v any) {
	t.Helper()
	if err := db.Create(v).Error; err != nil {
		t.Fatalf("seed %T: %v", v, err)
	}
}

func strp(s string) *string { return &s }

func intp(v int) *int { return &v }

// seedForm creates client c1 and active form f1 with the given steps.
func seedForm(t *testing.T, db *gorm.DB, c domain.Client, steps ...domain.FormStep) {
	t.Helper()
	c.ID = "c1"
	if c.Name == "" {
		c.Name = "Acme"
	}
	mustCreate(t, db, &c)
	mustCreate(t, db, &domain.Form{ID: "f1", ClientID: "c1", Name: "Kitchen Quote", IsActive: true})
	for i := range steps {
		steps[i].FormID = "f1"
		mustCreate(t, db, &steps[i])
	}
}

func emailStep(id string, pos int, required bool) domain.FormStep {
	return domain.FormStep{ID: id, Kind: string(form.KindEmail), Title: "Email", Position: pos, IsRequired: required}
}

func count(t *testing.T, db *gorm.DB, model any, where ...any) int64 {
	t.Helper()
	var n int64
	q := db.Model(model)
	if len(where) > 0 {
		q = q.Where(where[0], where[1:]...)
	}
	if err := q.Count(&n).Error; err != nil {
		t.Fatalf("count %T: %v", model, err)
	}
	return n
}

// hookServer records webhook deliveries and answers with status.
type hookServer struct {
	*httptest.Server
	calls  atomic.Int32
	status atomic.Int32

	mu      sync.Mutex
	bodies  []string
	headers []http.Header
}

func newHookServer(t *testing.T, status int) *hookServer {
	t.Helper()
	h := &hookServer{}
	h.status.Store(int32(status))
	h.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		h.mu.Lock()
		h.bodies = append(h.bodies, string(b))
		h.headers = append(h.headers, r.Header.Clone())
		h.mu.Unlock()
		h.calls.Add(1)
		w.WriteHeader(int(h.status.Load()))
	}))
	t.Cleanup(h.Close)
	return h
}

// fakeMailer records messages and fails while err is set.
type fakeMailer struct {
	mu   sync.Mutex
	sent []mailer.Message
	err  error
}

func (f *fakeMailer) Name() string { return "fake" }

func (f *fakeMailer) Send(_ context.Context, m mailer.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, m)
	return nil
}

// fakePublisher records published events.
type fakePublisher struct {
	mu     sync.Mutex
	topics []string
	events []events.Event
}

func (p *fakePublisher) Publish(_ context.Context, topic string, e events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	p.events = append(p.events, e)
	return nil
}

func (p *fakePublisher) Close() error { return nil }

func (p *fakePublisher) ofType(typ string) []events.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []events.Event
	for _, e := range p.events {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

// fakeUploader stores nothing; it fails when err is set.
type fakeUploader struct {
	err     error
	folders []string
}

func (u *fakeUploader) Upload(_ context.Context, folder string, f *form.PendingFile) (uploads.Stored, error) {
	u.folders = append(u.folders, folder)
	if u.err != nil {
		return uploads.Stored{}, u.err
	}
	return uploads.Stored{URL: "https://cdn.example/" + folder + "/" + f.Name, Name: f.Name, Size: f.Size}, nil
}

func pendingFile(name string, size int64) *form.PendingFile {
	return &form.PendingFile{
		Name: name,
		Size: size,
		Open: func() (io.ReadCloser, error) { return io.NopCloser(strings.NewReader("data")), nil },
	}
}

func newSubmissionService(db *gorm.DB) *SubmissionService {
	return &SubmissionService{
		DB:          db,
		Producer:    &NotificationProducer{DB: db},
		PhoneRegion: "US",
	}
}

func fixedClock(t time.Time) func() time.Time { return func() time.Time { return t } }
