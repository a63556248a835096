package app

import (
	"fmt"
	"testing"

	"gorm.io/gorm"

	"github.com/stagecraft-ai/usagegate/internal/db"
	"github.com/stagecraft-ai/usagegate/internal/models"
	"github.com/stagecraft-ai/usagegate/internal/security"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("sqlite:file:app_%s?mode=memory&cache=shared", t.Name())
	conn, err := db.Open(dsn)
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := db.Migrate(conn); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return conn
}

func TestHasAdminInitialized(t *testing.T) {
	conn := openTestDB(t)

	initialized, err := HasAdminInitialized(conn)
	if err != nil {
		t.Fatalf("HasAdminInitialized: %v", err)
	}
	if initialized {
		t.Fatal("fresh database should have no admins")
	}

	if err := conn.Create(&models.Admin{Username: "root", Password: "x", Active: true}).Error; err != nil {
		t.Fatalf("seed admin: %v", err)
	}
	initialized, err = HasAdminInitialized(conn)
	if err != nil {
		t.Fatalf("HasAdminInitialized: %v", err)
	}
	if !initialized {
		t.Fatal("expected initialized after seeding an admin")
	}
}

func TestEnsureAdminBootstrapsFromEnv(t *testing.T) {
	conn := openTestDB(t)
	t.Setenv(EnvAdminUsername, "root")
	t.Setenv(EnvAdminPassword, "swordfish")

	if err := EnsureAdmin(conn); err != nil {
		t.Fatalf("EnsureAdmin: %v", err)
	}
	var admin models.Admin
	if err := conn.Where("username = ?", "root").First(&admin).Error; err != nil {
		t.Fatalf("load bootstrapped admin: %v", err)
	}
	if !admin.Active || !security.CheckPassword(admin.Password, "swordfish") {
		t.Fatalf("unexpected bootstrapped admin: %+v", admin)
	}

	// A second run must not duplicate or overwrite the account.
	if err := EnsureAdmin(conn); err != nil {
		t.Fatalf("EnsureAdmin second run: %v", err)
	}
	var count int64
	if err := conn.Model(&models.Admin{}).Count(&count).Error; err != nil {
		t.Fatalf("count admins: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected exactly one admin, got %d", count)
	}
}

func TestEnsureAdminWithoutCredentialsIsNoop(t *testing.T) {
	conn := openTestDB(t)
	t.Setenv(EnvAdminUsername, "")
	t.Setenv(EnvAdminPassword, "")

	if err := EnsureAdmin(conn); err != nil {
		t.Fatalf("EnsureAdmin: %v", err)
	}
	var count int64
	if err := conn.Model(&models.Admin{}).Count(&count).Error; err != nil {
		t.Fatalf("count admins: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected no admins, got %d", count)
	}
}
