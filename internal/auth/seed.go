package auth

import (
	"context"
	"fmt"
	"log/slog"
)

// SeedOwnerUsername is the account created on first boot.
const SeedOwnerUsername = "owner"

const seedPasswordBytes = 16

// SeedOwner creates the owner account when the user store is empty and
// returns its generated password, which is also logged once at Warn. On a
// store that already has users it does nothing and returns "".
func SeedOwner(ctx context.Context, users UserRepository, locationName string, logger *slog.Logger) (string, error) {
	n, err := users.Count(ctx)
	if err != nil {
		return "", fmt.Errorf("counting users: %w", err)
	}
	if n > 0 {
		logger.Debug("user store populated, owner seed skipped", "users", n)
		return "", nil
	}

	password, err := randomHex(seedPasswordBytes)
	if err != nil {
		return "", fmt.Errorf("generating owner password: %w", err)
	}
	hash, err := HashPassword(password)
	if err != nil {
		return "", fmt.Errorf("hashing owner password: %w", err)
	}

	name := "Owner"
	if locationName != "" {
		name = locationName + " owner"
	}
	owner := &User{
		Username:     SeedOwnerUsername,
		DisplayName:  name,
		PasswordHash: hash,
		Role:         RoleOwner,
		IsActive:     true,
	}
	if err := users.Create(ctx, owner); err != nil {
		return "", fmt.Errorf("creating owner: %w", err)
	}

	logger.Warn("owner account created, change its password",
		"username", SeedOwnerUsername,
		"password", password,
	)
	return password, nil
}
