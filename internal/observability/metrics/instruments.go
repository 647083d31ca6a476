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

package metrics

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Instruments are the application counters and histograms.
// A nil *Instruments is valid and records nothing.
type Instruments struct {
	tokensIssued   metric.Int64Counter
	grantsRejected metric.Int64Counter
	authzDecisions metric.Int64Counter
	logins         metric.Int64Counter
	passwordVerify metric.Float64Histogram
	loginSessions  metric.Int64UpDownCounter
}

// NewInstruments registers the application instruments on m.
func NewInstruments(m *Meter) (*Instruments, error) {
	var (
		in  Instruments
		err error
	)
	if in.tokensIssued, err = m.CreateCounter("gatekeeper.tokens.issued", "Tokens minted, by kind and grant"); err != nil {
		return nil, err
	}
	if in.grantsRejected, err = m.CreateCounter("gatekeeper.grants.rejected", "Token endpoint requests rejected, by error code"); err != nil {
		return nil, err
	}
	if in.authzDecisions, err = m.CreateCounter("gatekeeper.authz.decisions", "Route authorization decisions, by rule and outcome"); err != nil {
		return nil, err
	}
	if in.logins, err = m.CreateCounter("gatekeeper.logins", "Login attempts, by result"); err != nil {
		return nil, err
	}
	if in.passwordVerify, err = m.CreateHistogram("gatekeeper.password.verify.duration", "Password hash verification latency", "ms"); err != nil {
		return nil, err
	}
	if in.loginSessions, err = m.CreateUpDownCounter("gatekeeper.login.sessions", "Live login sessions"); err != nil {
		return nil, err
	}
	return &in, nil
}

// TokenIssued counts one minted token.
func (in *Instruments) TokenIssued(ctx context.Context, kind, grant string) {
	if in == nil {
		return
	}
	in.tokensIssued.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("grant_type", grant),
	))
}

// GrantRejected counts one failed token endpoint request.
func (in *Instruments) GrantRejected(ctx context.Context, code string) {
	if in == nil {
		return
	}
	in.grantsRejected.Add(ctx, 1, metric.WithAttributes(attribute.String("error", code)))
}

// AuthzDecision counts one gate decision.
func (in *Instruments) AuthzDecision(ctx context.Context, rule, outcome string) {
	if in == nil {
		return
	}
	in.authzDecisions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("rule", rule),
		attribute.String("outcome", outcome),
	))
}

// Login counts one login attempt.
func (in *Instruments) Login(ctx context.Context, success bool) {
	if in == nil {
		return
	}
	result := "failure"
	if success {
		result = "success"
	}
	in.logins.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// PasswordVerified records the duration of one hash comparison.
func (in *Instruments) PasswordVerified(ctx context.Context, d time.Duration) {
	if in == nil {
		return
	}
	in.passwordVerify.Record(ctx, float64(d.Microseconds())/1000)
}

// SessionsChanged adjusts the live login session count by delta.
func (in *Instruments) SessionsChanged(ctx context.Context, delta int64) {
	if in == nil || delta == 0 {
		return
	}
	in.loginSessions.Add(ctx, delta)
}
