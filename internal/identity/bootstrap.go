// Copyright 2026 The Gatekeeper Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/besttravel/gatekeeper/internal/audit"
	"github.com/besttravel/gatekeeper/internal/observability/logger"
)

// SeedUser is an account created at startup when absent.
type SeedUser struct {
	Username    string
	Password    string
	Authorities []string
}

// BootstrapService manages the initial population of the directory
type BootstrapService struct {
	identityService *Service
	auditLogger     audit.Logger
}

// NewBootstrapService creates a new bootstrap service
func NewBootstrapService(identityService *Service, auditLogger audit.Logger) *BootstrapService {
	return &BootstrapService{
		identityService: identityService,
		auditLogger:     auditLogger,
	}
}

// Bootstrap creates every seed user that does not exist yet.
// Existing accounts are left untouched so that runtime role changes survive restarts.
func (s *BootstrapService) Bootstrap(ctx context.Context, seeds []SeedUser) error {
	for _, seed := range seeds {
		user, err := s.identityService.CreateUser(ctx, seed.Username, seed.Password, seed.Authorities)
		if errors.Is(err, ErrUserAlreadyExists) {
			slog.DebugContext(ctx, "seed user already present", logger.Username(seed.Username))
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to seed user %q: %w", seed.Username, err)
		}

		s.auditLogger.Log(ctx, audit.Event{
			Type:     audit.TypeUserSeeded,
			ActorID:  audit.ActorSystemBootstrap,
			Resource: user.Username,
		})
		slog.InfoContext(ctx, "seeded user", logger.Username(user.Username), slog.Any("authorities", user.Authorities))
	}
	return nil
}
