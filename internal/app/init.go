package app

import (
	"errors"
	"fmt"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/stagecraft-ai/usagegate/internal/models"
	"github.com/stagecraft-ai/usagegate/internal/security"
)

// Bootstrap admin credential environment variables.
const (
	EnvAdminUsername = "ADMIN_USERNAME"
	EnvAdminPassword = "ADMIN_PASSWORD"
)

// HasAdminInitialized reports whether at least one admin account exists.
func HasAdminInitialized(conn *gorm.DB) (bool, error) {
	if conn == nil {
		return false, fmt.Errorf("nil db")
	}
	if !conn.Migrator().HasTable(&models.Admin{}) {
		return false, nil
	}
	var count int64
	if errCount := conn.Model(&models.Admin{}).Count(&count).Error; errCount != nil {
		return false, errCount
	}
	return count > 0, nil
}

// EnsureAdmin bootstraps an admin account from ADMIN_USERNAME and
// ADMIN_PASSWORD when none exists yet. It never overwrites an existing
// account.
func EnsureAdmin(conn *gorm.DB) error {
	initialized, errInit := HasAdminInitialized(conn)
	if errInit != nil {
		return errInit
	}

	username := strings.TrimSpace(os.Getenv(EnvAdminUsername))
	password := os.Getenv(EnvAdminPassword)
	if username == "" || password == "" {
		if !initialized {
			log.Warn("no admin account exists and no bootstrap credentials were supplied")
		}
		return nil
	}

	var existing models.Admin
	errFind := conn.Where("username = ?", username).First(&existing).Error
	if errFind == nil {
		return nil
	}
	if !errors.Is(errFind, gorm.ErrRecordNotFound) {
		return fmt.Errorf("lookup bootstrap admin: %w", errFind)
	}

	hash, errHash := security.HashPassword(password)
	if errHash != nil {
		return errHash
	}
	admin := models.Admin{Username: username, Password: hash, Active: true}
	if errCreate := conn.Create(&admin).Error; errCreate != nil {
		return fmt.Errorf("create bootstrap admin: %w", errCreate)
	}
	log.Infof("bootstrapped admin account %q", username)
	return nil
}
