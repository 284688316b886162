// Copyright 2025 AxonFlow
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

package llmcontext

import "context"

// UserBuilder describes the authenticated principal.
type UserBuilder struct{}

// NewUserBuilder creates a UserBuilder.
func NewUserBuilder() *UserBuilder { return &UserBuilder{} }

func (b *UserBuilder) Key() string { return "user" }

func (b *UserBuilder) Supports(req Request) bool { return req.UserID != "" }

// Build emits one user_profile slice. It is marked sensitive because it
// carries the user's email.
func (b *UserBuilder) Build(_ context.Context, req Request) ([]Slice, error) {
	profile := map[string]interface{}{
		"id":   req.UserID,
		"role": req.Role,
	}
	if req.Username != "" {
		profile["username"] = req.Username
	}
	if req.FullName != "" {
		profile["name"] = req.FullName
	}
	sensitive := false
	if req.Email != "" {
		profile["email"] = req.Email
		sensitive = true
	}
	return []Slice{{
		Type:         "user_profile",
		Payload:      profile,
		Priority:     10,
		ApproxTokens: 120,
		Sensitive:    sensitive,
	}}, nil
}
