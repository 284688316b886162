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

// Package secrets holds credential material for provider adapters. Values
// stay sealed until an adapter is constructed and always render redacted.
package secrets

import (
	"context"
	"errors"
	"fmt"
)

const redacted = "[redacted]"

// ErrNoKeyring is returned when a sealed value is revealed without a keyring.
var ErrNoKeyring = errors.New("secrets: no keyring configured")

// Value is opaque secret material. The zero value is empty.
type Value struct {
	sealed string
	ref    string
	plain  string
}

// Sealed wraps ciphertext produced by Cipher.Seal.
func Sealed(ciphertext string) Value { return Value{sealed: ciphertext} }

// Ref points at a secret held in an external secrets manager.
func Ref(arn string) Value { return Value{ref: arn} }

// Plain wraps a cleartext secret, typically read from the environment.
func Plain(secret string) Value { return Value{plain: secret} }

// IsZero reports whether the value carries no material at all.
func (v Value) IsZero() bool {
	return v.sealed == "" && v.ref == "" && v.plain == ""
}

// Source names where the material lives, for diagnostics.
func (v Value) Source() string {
	switch {
	case v.plain != "":
		return "plain"
	case v.sealed != "":
		return "sealed"
	case v.ref != "":
		return "ref"
	default:
		return "none"
	}
}

// Ciphertext returns the sealed form, for persisting. Empty unless Sealed.
func (v Value) Ciphertext() string { return v.sealed }

// ARN returns the external reference. Empty unless Ref.
func (v Value) ARN() string { return v.ref }

// Or returns v unless it is empty, in which case fallback is returned.
func (v Value) Or(fallback Value) Value {
	if v.IsZero() {
		return fallback
	}
	return v
}

func (v Value) String() string   { return redacted }
func (v Value) GoString() string { return redacted }

// MarshalJSON never emits the material.
func (v Value) MarshalJSON() ([]byte, error) {
	return []byte(`"` + redacted + `"`), nil
}

// MarshalYAML never emits the material.
func (v Value) MarshalYAML() (interface{}, error) {
	return redacted, nil
}

// Reveal returns the cleartext. Plain values need no keyring.
func (v Value) Reveal(ctx context.Context, kr *Keyring) (string, error) {
	if v.plain != "" {
		return v.plain, nil
	}
	if v.IsZero() {
		return "", nil
	}
	if kr == nil {
		return "", ErrNoKeyring
	}
	if v.sealed != "" {
		return kr.open(v.sealed)
	}
	return kr.lookup(ctx, v.ref)
}

// Store resolves secret references to their key/value payload.
type Store interface {
	GetSecret(ctx context.Context, arn string) (map[string]string, error)
}

// Keyring reveals sealed values and external references.
type Keyring struct {
	cipher *Cipher
	store  Store
}

// NewKeyring builds a keyring. Either argument may be nil.
func NewKeyring(cipher *Cipher, store Store) *Keyring {
	return &Keyring{cipher: cipher, store: store}
}

func (k *Keyring) open(sealed string) (string, error) {
	if k.cipher == nil {
		return "", fmt.Errorf("secrets: sealed value present but no encryption key configured")
	}
	return k.cipher.Open(sealed)
}

func (k *Keyring) lookup(ctx context.Context, arn string) (string, error) {
	if k.store == nil {
		return "", fmt.Errorf("secrets: reference %s present but no secrets store configured", maskARN(arn))
	}
	payload, err := k.store.GetSecret(ctx, arn)
	if err != nil {
		return "", err
	}
	for _, field := range []string{"api_key", "apiKey", "value"} {
		if s := payload[field]; s != "" {
			return s, nil
		}
	}
	return "", fmt.Errorf("secrets: secret %s has no api_key field", maskARN(arn))
}

// maskARN masks the secret ARN for logging (shows only last 8 characters)
func maskARN(arn string) string {
	if len(arn) <= 12 {
		return "***"
	}
	return "..." + arn[len(arn)-8:]
}
