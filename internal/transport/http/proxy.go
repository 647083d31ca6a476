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

package http

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/besttravel/gatekeeper/internal/observability/logger"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// NewBackendProxy forwards gated requests to the business backend.
// The verified subject is passed along in X-Authenticated-User; any
// client-supplied value of that header is dropped.
func NewBackendProxy(rawURL string) (http.Handler, error) {
	target, err := url.Parse(rawURL)
	if err != nil || target.Scheme == "" || target.Host == "" {
		return nil, fmt.Errorf("invalid backend url %q", rawURL)
	}

	proxy := &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.SetXForwarded()
			pr.Out.Header.Del("X-Authenticated-User")
			if p := GetPrincipal(pr.In.Context()); p != nil {
				pr.Out.Header.Set("X-Authenticated-User", p.Subject)
			}
		},
		Transport: otelhttp.NewTransport(http.DefaultTransport),
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			slog.ErrorContext(r.Context(), "backend unavailable", logger.Error(err), logger.Path(r.URL.Path))
			respondError(w, http.StatusBadGateway, "backend unavailable")
		},
	}
	return proxy, nil
}
