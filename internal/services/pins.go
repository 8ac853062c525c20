package services

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"code-evolver/internal/logging"
	"code-evolver/internal/repository"
	"code-evolver/pkg/models"
)

// PinStore is a small keyed store for version pins. It is kept outside
// the artifact store: the pin file is the durable state the external
// version-trimming utility reads.
type PinStore interface {
	Get(key string) (*models.Pin, bool, error)
	Set(pin *models.Pin) error
	Delete(key string) (bool, error)
	List() ([]*models.Pin, error)
}

// FilePinStore keeps pins in one flat JSON file, read-modify-written
// as a whole under a lock and swapped in with an atomic rename.
type FilePinStore struct {
	path string
	mu   sync.Mutex
}

// NewFilePinStore creates a FilePinStore at the given path. The file
// is created lazily on the first Set.
func NewFilePinStore(path string) *FilePinStore {
	return &FilePinStore{path: path}
}

func (s *FilePinStore) load() (map[string]*models.Pin, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return map[string]*models.Pin{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read pin file: %w", err)
	}
	pins := map[string]*models.Pin{}
	if len(data) == 0 {
		return pins, nil
	}
	if err := json.Unmarshal(data, &pins); err != nil {
		return nil, fmt.Errorf("failed to parse pin file: %w", err)
	}
	return pins, nil
}

func (s *FilePinStore) save(pins map[string]*models.Pin) error {
	data, err := json.MarshalIndent(pins, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal pins: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write pin file: %w", err)
	}
	return os.Rename(tmp, s.path)
}

// Get returns the pin stored under key.
func (s *FilePinStore) Get(key string) (*models.Pin, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pins, err := s.load()
	if err != nil {
		return nil, false, err
	}
	pin, ok := pins[key]
	return pin, ok, nil
}

// Set stores the pin under its own key.
func (s *FilePinStore) Set(pin *models.Pin) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	pins, err := s.load()
	if err != nil {
		return err
	}
	pins[pin.Key()] = pin
	return s.save(pins)
}

// Delete removes the pin stored under key.
func (s *FilePinStore) Delete(key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pins, err := s.load()
	if err != nil {
		return false, err
	}
	if _, ok := pins[key]; !ok {
		return false, nil
	}
	delete(pins, key)
	return true, s.save(pins)
}

// List returns every pin, ordered by key.
func (s *FilePinStore) List() ([]*models.Pin, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pins, err := s.load()
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(pins))
	for k := range pins {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]*models.Pin, 0, len(keys))
	for _, k := range keys {
		out = append(out, pins[k])
	}
	return out, nil
}

// ToolCatalog resolves tool metadata, in particular the current
// version when a pin request omits one.
type ToolCatalog interface {
	GetTool(ctx context.Context, id string) (*models.ToolMetadata, error)
}

// PinRequest is the input for pinning a tool version.
type PinRequest struct {
	ToolID     string `json:"tool_id"`
	Version    string `json:"version,omitempty"`
	WorkflowID string `json:"workflow_id,omitempty"`
	Reason     string `json:"reason,omitempty"`
	PinnedBy   string `json:"pinned_by,omitempty"`
}

// PinService manages version pins, mirroring each pin as a tag on the
// pinned tool artifact so tag-based tooling sees it too.
type PinService struct {
	pins    PinStore
	catalog ToolCatalog
	store   repository.ArtifactStore
	logger  *logging.Logger
}

// NewPinService creates a new PinService.
func NewPinService(pins PinStore, catalog ToolCatalog, store repository.ArtifactStore, logger *logging.Logger) *PinService {
	return &PinService{pins: pins, catalog: catalog, store: store, logger: logger}
}

// Pin locks a tool version against trimming. An omitted version
// resolves to the tool's current catalog version.
func (s *PinService) Pin(ctx context.Context, req PinRequest) (*models.Pin, error) {
	if req.ToolID == "" {
		return nil, fmt.Errorf("tool_id is required")
	}

	version := req.Version
	if version == "" {
		meta, err := s.catalog.GetTool(ctx, req.ToolID)
		if err != nil {
			return nil, err
		}
		if meta == nil {
			return nil, fmt.Errorf("tool not found: %s", req.ToolID)
		}
		if meta.Version == "" {
			return nil, fmt.Errorf("tool %s has no current version to pin", req.ToolID)
		}
		version = meta.Version
	}

	pin := &models.Pin{
		ToolID:     req.ToolID,
		Version:    version,
		WorkflowID: req.WorkflowID,
		PinnedAt:   time.Now().UTC(),
		Reason:     req.Reason,
		PinnedBy:   req.PinnedBy,
	}
	if err := s.pins.Set(pin); err != nil {
		return nil, err
	}

	// Best-effort mirror tag; the pin file alone is authoritative.
	if found, err := s.store.AddTags(ctx, req.ToolID, []string{pin.PinTag()}); err != nil {
		s.logger.Warn("failed to tag pinned artifact", "tool_id", req.ToolID, "error", err)
	} else if !found {
		s.logger.Warn("pinned tool has no artifact to tag", "tool_id", req.ToolID)
	}

	s.logger.Info("tool version pinned", "key", pin.Key(), "reason", req.Reason)
	return pin, nil
}

// Unpin removes a pin; reports whether one existed.
func (s *PinService) Unpin(ctx context.Context, toolID, version, workflowID string) (bool, error) {
	if toolID == "" || version == "" {
		return false, fmt.Errorf("tool_id and version are required")
	}
	pin := &models.Pin{ToolID: toolID, Version: version, WorkflowID: workflowID}
	removed, err := s.pins.Delete(pin.Key())
	if err != nil {
		return false, err
	}
	if removed {
		s.logger.Info("tool version unpinned", "key", pin.Key())
	}
	return removed, nil
}

// ListPins returns all pins ordered by key.
func (s *PinService) ListPins(ctx context.Context) ([]*models.Pin, error) {
	return s.pins.List()
}
