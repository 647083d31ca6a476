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

package authz

import (
	"slices"
	"strings"
)

// Mapper turns raw directory authorities into the names used in tokens and policy.
type Mapper struct {
	prefix string
}

// NewMapper creates a mapper that strips prefix. An empty prefix leaves values untouched apart from trimming.
func NewMapper(prefix string) *Mapper {
	return &Mapper{prefix: strings.TrimSpace(prefix)}
}

// Normalize maps one raw authority. Normalize(Normalize(x)) == Normalize(x) for every x.
func (m *Mapper) Normalize(raw string) string {
	a := strings.TrimSpace(raw)
	if m == nil || m.prefix == "" {
		return a
	}
	for strings.HasPrefix(a, m.prefix) {
		a = strings.TrimSpace(strings.TrimPrefix(a, m.prefix))
	}
	return a
}

// NormalizeAll normalizes a set of authorities, dropping empty values and duplicates.
// The result is sorted so that tokens built from the same input are identical.
func (m *Mapper) NormalizeAll(raw []string) []string {
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		if a := m.Normalize(r); a != "" {
			out = append(out, a)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}
