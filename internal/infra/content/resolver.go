package content

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"attestd/internal/domain"
	"attestd/internal/usecase"
)

var (
	_ usecase.ContentResolver = (*FileResolver)(nil)
	_ usecase.ContentResolver = (*MapResolver)(nil)
)

// FileResolver serves signing targets from JSON documents on disk:
// <dir>/pages/<id>.json and <dir>/change_requests/<id>.json. The version
// reference is a digest of the raw file bytes, so it changes with any edit.
type FileResolver struct {
	Dir string
}

func NewFileResolver(dir string) *FileResolver {
	return &FileResolver{Dir: dir}
}

func (r *FileResolver) Resolve(_ context.Context, target domain.SignatureTarget) (*usecase.TargetContent, error) {
	if err := target.Validate(); err != nil {
		return nil, err
	}
	sub := "pages"
	if target.ChangeRequestID != "" {
		sub = "change_requests"
	}
	path := filepath.Join(r.Dir, sub, target.ID()+".json")
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read target content: %w", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse target content %s: %w", path, err)
	}
	title, _ := doc["title"].(string)
	sum := sha256.Sum256(raw)
	return &usecase.TargetContent{
		Content:    doc,
		Title:      title,
		VersionRef: hex.EncodeToString(sum[:8]),
	}, nil
}

// MapResolver is an in-memory resolver for tests and no-content setups.
type MapResolver struct {
	mu      sync.RWMutex
	entries map[string]usecase.TargetContent
}

func NewMapResolver() *MapResolver {
	return &MapResolver{entries: make(map[string]usecase.TargetContent)}
}

func (r *MapResolver) Set(target domain.SignatureTarget, content usecase.TargetContent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[target.Kind()+":"+target.ID()] = content
}

func (r *MapResolver) Delete(target domain.SignatureTarget) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, target.Kind()+":"+target.ID())
}

func (r *MapResolver) Resolve(_ context.Context, target domain.SignatureTarget) (*usecase.TargetContent, error) {
	if err := target.Validate(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[target.Kind()+":"+target.ID()]
	if !ok {
		return nil, nil
	}
	return &entry, nil
}
