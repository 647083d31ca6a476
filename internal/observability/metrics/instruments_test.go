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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := make(map[string]metricdata.Metrics)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

// TestPurpose: Validates that recorded measurements reach the meter provider.
// Scope: Unit Test
// Expected: Counters, the histogram and the session gauge read back with their attributes.
func TestInstruments_RecordAndCollect(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	m := NewWithReader(reader, "gatekeeper-test")
	t.Cleanup(func() { _ = m.Shutdown(context.Background()) })

	in, err := NewInstruments(m)
	require.NoError(t, err)

	ctx := context.Background()
	in.TokenIssued(ctx, "access", "authorization_code")
	in.TokenIssued(ctx, "access", "authorization_code")
	in.TokenIssued(ctx, "refresh", "authorization_code")
	in.GrantRejected(ctx, "invalid_grant")
	in.AuthzDecision(ctx, "admin", "forbidden")
	in.Login(ctx, true)
	in.PasswordVerified(ctx, 80*time.Millisecond)
	in.SessionsChanged(ctx, 1)
	in.SessionsChanged(ctx, 1)
	in.SessionsChanged(ctx, -1)

	got := collect(t, reader)

	issued, ok := got["gatekeeper.tokens.issued"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	counts := map[string]int64{}
	for _, dp := range issued.DataPoints {
		kind, _ := dp.Attributes.Value(attribute.Key("kind"))
		counts[kind.AsString()] = dp.Value
	}
	assert.Equal(t, map[string]int64{"access": 2, "refresh": 1}, counts)

	rejected, ok := got["gatekeeper.grants.rejected"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, rejected.DataPoints, 1)
	assert.Equal(t, int64(1), rejected.DataPoints[0].Value)

	sessions, ok := got["gatekeeper.login.sessions"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, sessions.DataPoints, 1)
	assert.Equal(t, int64(1), sessions.DataPoints[0].Value)

	verify, ok := got["gatekeeper.password.verify.duration"].Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	require.Len(t, verify.DataPoints, 1)
	assert.Equal(t, uint64(1), verify.DataPoints[0].Count)

	assert.Contains(t, got, "gatekeeper.authz.decisions")
	assert.Contains(t, got, "gatekeeper.logins")
}

func TestMeter_DisabledRecordsNothing(t *testing.T) {
	m, err := New(context.Background(), Config{Enabled: false}, "gatekeeper-test")
	require.NoError(t, err)
	assert.NoError(t, m.Shutdown(context.Background()))

	in, err := NewInstruments(m)
	require.NoError(t, err)
	assert.NotPanics(t, func() {
		in.TokenIssued(context.Background(), "access", "authorization_code")
	})
}

func TestInstruments_NilIsNoop(t *testing.T) {
	var in *Instruments
	assert.NotPanics(t, func() {
		in.TokenIssued(context.Background(), "refresh", "refresh_token")
		in.Login(context.Background(), false)
	})
}
