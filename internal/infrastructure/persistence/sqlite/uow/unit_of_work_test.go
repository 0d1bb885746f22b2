package uow

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"devicehub/internal/infrastructure/persistence/sqlite/model"
	"devicehub/internal/ports"
)

func openDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(gormsqlite.Open(filepath.Join(t.TempDir(), "uow.sqlite")), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("get sql db: %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := db.AutoMigrate(model.All()...); err != nil {
		t.Fatalf("auto migrate: %v", err)
	}
	return db
}

func insertAuthority(ctx context.Context, t *testing.T, db *gorm.DB, name string) {
	t.Helper()
	conn := db.WithContext(ctx)
	if tx, ok := ports.TxFromContext(ctx).(*gorm.DB); ok {
		conn = tx
	}
	if err := conn.Create(&model.GrantedAuthority{Authority: name}).Error; err != nil {
		t.Fatalf("insert %s: %v", name, err)
	}
}

func countAuthorities(t *testing.T, db *gorm.DB) int64 {
	t.Helper()
	var n int64
	if err := db.Model(&model.GrantedAuthority{}).Count(&n).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}

func TestWithTxCommitsAndRollsBack(t *testing.T) {
	db := openDB(t)
	u := NewUnitOfWork(db)
	ctx := context.Background()

	if err := u.WithTx(ctx, func(ctx context.Context) error {
		insertAuthority(ctx, t, db, "REST")
		return nil
	}); err != nil {
		t.Fatalf("WithTx(commit) error = %v", err)
	}

	boom := errors.New("abort")
	if err := u.WithTx(ctx, func(ctx context.Context) error {
		insertAuthority(ctx, t, db, "ADMIN_CONSOLE")
		return boom
	}); !errors.Is(err, boom) {
		t.Fatalf("WithTx(rollback) error = %v", err)
	}

	if got := countAuthorities(t, db); got != 1 {
		t.Fatalf("authorities = %d, want 1", got)
	}
}

func TestNestedWithTxJoinsOuterTransaction(t *testing.T) {
	db := openDB(t)
	u := NewUnitOfWork(db)

	boom := errors.New("abort")
	err := u.WithTx(context.Background(), func(outer context.Context) error {
		outerTx := ports.TxFromContext(outer)
		if err := u.WithTx(outer, func(inner context.Context) error {
			if ports.TxFromContext(inner) != outerTx {
				t.Fatalf("nested unit of work opened a new transaction")
			}
			insertAuthority(inner, t, db, "REST")
			return nil
		}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("WithTx() error = %v", err)
	}
	if got := countAuthorities(t, db); got != 0 {
		t.Fatalf("authorities = %d, want 0 after outer rollback", got)
	}
}
