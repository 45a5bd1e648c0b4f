package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strings"

	"ecomed/libs/reportflow"

	"golang.org/x/crypto/bcrypt"
)

func invalidCredentialsError() *apiError {
	return &apiError{Status: http.StatusUnauthorized, Code: "authentication_failed", Message: reportflow.UserMessage(reportflow.ErrAuthenticationFailed)}
}

func (a *App) authenticateAdminCredentials(ctx context.Context, email string, password string) error {
	var passwordHash sql.NullString
	var isActive bool
	err := a.db.QueryRowContext(ctx, `
		SELECT password_hash, is_active
		FROM admins
		WHERE email = $1
	`, strings.ToLower(strings.TrimSpace(email))).Scan(&passwordHash, &isActive)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return invalidCredentialsError()
		}
		return err
	}
	if !passwordHash.Valid || !isActive || bcrypt.CompareHashAndPassword([]byte(passwordHash.String), []byte(password)) != nil {
		return invalidCredentialsError()
	}

	if _, err := a.db.ExecContext(ctx, `UPDATE admins SET last_login_at = NOW() WHERE email = $1`, strings.ToLower(strings.TrimSpace(email))); err != nil {
		a.log.Warn("admin last login update failed", "err", err)
	}
	return nil
}

func (a *App) adminAuthenticate(ctx context.Context, email, password string) error {
	if strings.TrimSpace(email) == "" || password == "" {
		return invalidCredentialsError()
	}
	if a.adminAuthenticateAdmin != nil {
		return a.adminAuthenticateAdmin(ctx, email, password)
	}
	return a.authenticateAdminCredentials(ctx, email, password)
}
