package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/csye6225/webapp/internal/models"
)

// MemoryStorage keeps everything in process. When snapshotPath is set, each
// write is persisted to that JSON file and the file is reloaded on open.
type MemoryStorage struct {
	mu           sync.RWMutex
	files        map[string]models.FileRecord
	checks       []models.HealthCheckEvent
	snapshotPath string
	now          func() time.Time
}

type snapshot struct {
	Checks []models.HealthCheckEvent    `json:"checks"`
	Files  map[string]models.FileRecord `json:"files"`
}

// NewMemoryStorage loads snapshotPath if it exists. An empty path keeps the
// store purely in memory.
func NewMemoryStorage(snapshotPath string) (*MemoryStorage, error) {
	m := &MemoryStorage{
		files:        make(map[string]models.FileRecord),
		snapshotPath: snapshotPath,
		now:          time.Now,
	}
	if snapshotPath == "" {
		return m, nil
	}

	data, err := os.ReadFile(snapshotPath)
	if errors.Is(err, os.ErrNotExist) {
		return m, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to parse snapshot: %w", err)
	}
	m.checks = snap.Checks
	if snap.Files != nil {
		m.files = snap.Files
	}
	return m, nil
}

func (m *MemoryStorage) CreateCheck(_ context.Context) (models.HealthCheckEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ev := models.HealthCheckEvent{ID: int64(len(m.checks)) + 1, DateTime: m.now().UTC()}
	m.checks = append(m.checks, ev)
	if err := m.saveLocked(); err != nil {
		m.checks = m.checks[:len(m.checks)-1]
		return models.HealthCheckEvent{}, err
	}
	return ev, nil
}

func (m *MemoryStorage) CreateFile(_ context.Context, f models.FileRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.files[f.ID]; exists {
		return fmt.Errorf("file %s already exists", f.ID)
	}
	m.files[f.ID] = f
	if err := m.saveLocked(); err != nil {
		delete(m.files, f.ID)
		return err
	}
	return nil
}

func (m *MemoryStorage) GetFile(_ context.Context, id string) (models.FileRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	f, ok := m.files[id]
	if !ok {
		return models.FileRecord{}, ErrNotFound
	}
	return f, nil
}

func (m *MemoryStorage) DeleteFile(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, ok := m.files[id]
	if !ok {
		return ErrNotFound
	}
	delete(m.files, id)
	if err := m.saveLocked(); err != nil {
		m.files[id] = f
		return err
	}
	return nil
}

func (m *MemoryStorage) Close() error {
	return nil
}

// saveLocked writes the snapshot through a temp file and rename. The caller
// holds mu.
func (m *MemoryStorage) saveLocked() error {
	if m.snapshotPath == "" {
		return nil
	}

	data, err := json.MarshalIndent(snapshot{Checks: m.checks, Files: m.files}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	tmp := m.snapshotPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := os.Rename(tmp, m.snapshotPath); err != nil {
		return fmt.Errorf("failed to rename snapshot: %w", err)
	}
	return nil
}
