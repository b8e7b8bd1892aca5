// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package identity supplies the user identifier sent to the holder
// when a link opens.
package identity

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Provider yields the current user identifier, if any
type Provider interface {
	CurrentUserID() (string, bool)
}

// Static is a fixed user identifier. The empty string means no user.
type Static string

func (s Static) CurrentUserID() (string, bool) {
	id := strings.TrimSpace(string(s))
	return id, id != ""
}

// FileProvider keeps a generated identifier in a file. The file is
// created with a fresh UUID the first time an identifier is requested.
type FileProvider struct {
	path string

	mu sync.Mutex
	id string
}

// NewFileProvider creates a provider backed by path
func NewFileProvider(path string) *FileProvider {
	return &FileProvider{path: path}
}

// CurrentUserID returns the stored identifier, creating it if needed.
// Returns false when the file can be neither read nor created.
func (p *FileProvider) CurrentUserID() (string, bool) {
	id, err := p.Load()
	if err != nil {
		return "", false
	}
	return id, true
}

// Load returns the stored identifier, creating it if needed
func (p *FileProvider) Load() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.id != "" {
		return p.id, nil
	}

	data, err := os.ReadFile(p.path)
	switch {
	case err == nil:
		id := strings.TrimSpace(string(data))
		if id == "" {
			return "", fmt.Errorf("identity file %s is empty", p.path)
		}
		p.id = id
		return id, nil
	case !errors.Is(err, fs.ErrNotExist):
		return "", fmt.Errorf("failed to read identity file: %w", err)
	}

	id := uuid.NewString()
	if err := os.MkdirAll(filepath.Dir(p.path), 0o755); err != nil {
		return "", fmt.Errorf("failed to create identity directory: %w", err)
	}
	if err := os.WriteFile(p.path, []byte(id+"\n"), 0o600); err != nil {
		return "", fmt.Errorf("failed to write identity file: %w", err)
	}
	p.id = id
	return id, nil
}

// Chain returns the first identifier any provider yields
func Chain(providers ...Provider) Provider {
	return chain(providers)
}

type chain []Provider

func (c chain) CurrentUserID() (string, bool) {
	for _, p := range c {
		if p == nil {
			continue
		}
		if id, ok := p.CurrentUserID(); ok {
			return id, true
		}
	}
	return "", false
}
