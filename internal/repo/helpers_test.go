package repo

import (
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-forms-backend/internal/domain"
	"github.com/tbourn/go-forms-backend/internal/form"
)

// newRepoDB opens a private in-memory database with the full schema.
func newRepoDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:repo_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.Exec("PRAGMA foreign_keys=ON;")
	if err := AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

// seedResponse creates client c1, form f1 with one email step s1, and a
// response with the given id.
func seedResponse(t *testing.T, db *gorm.DB, responseID string) {
	t.Helper()
	var n int64
	db.Model(&domain.Client{}).Where("id = ?", "c1").Count(&n)
	if n == 0 {
		mustCreate(t, db, &domain.Client{ID: "c1", Name: "Acme"})
		mustCreate(t, db, &domain.Form{ID: "f1", ClientID: "c1", Name: "Contact", IsActive: true})
		mustCreate(t, db, &domain.FormStep{ID: "s1", FormID: "f1", Kind: string(form.KindEmail), Title: "Email", Position: 0})
	}
	mustCreate(t, db, &domain.Response{ID: responseID, FormID: "f1", SubmittedAt: time.Now().UTC()})
}

func mustCreate(t *testing.T, db *gorm.DB, v any) {
	t.Helper()
	if err := db.Create(v).Error; err != nil {
		t.Fatalf("seed %T: %v", v, err)
	}
}
