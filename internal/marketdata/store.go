package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// FileStore loads historical datasets from JSON files, one per asset, under
// a data directory. Loaded datasets are cached in memory; the store is safe
// for concurrent reads from multiple runs.
type FileStore struct {
	mu      sync.RWMutex
	logger  *zap.Logger
	dataDir string
	cache   map[string]*HistoricalData
}

// assetFile is the on-disk layout of one asset's dataset.
type assetFile struct {
	AssetID      string           `json:"assetId"`
	Prices       []PriceBar       `json:"prices"`
	Options      []OptionSnapshot `json:"options"`
	Dividends    []DividendEvent  `json:"dividends"`
	LendingRates []LendingRate    `json:"lendingRates"`
}

// NewFileStore creates a file-backed data store rooted at dataDir.
func NewFileStore(logger *zap.Logger, dataDir string) (*FileStore, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	return &FileStore{
		logger:  logger,
		dataDir: dataDir,
		cache:   make(map[string]*HistoricalData),
	}, nil
}

// Load implements Provider.
func (s *FileStore) Load(ctx context.Context, assetID string, start, end time.Time) (*HistoricalData, error) {
	data, err := s.loadAsset(assetID)
	if err != nil {
		return nil, err
	}
	return filterRange(data, start, end), nil
}

// Save writes an asset dataset to disk and refreshes the cache.
func (s *FileStore) Save(data *HistoricalData) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := json.MarshalIndent(assetFile{
		AssetID:      data.AssetID,
		Prices:       data.Prices,
		Options:      data.Options,
		Dividends:    data.Dividends,
		LendingRates: data.LendingRates,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal asset data: %w", err)
	}

	if err := os.WriteFile(s.assetPath(data.AssetID), raw, 0644); err != nil {
		return fmt.Errorf("failed to write asset file: %w", err)
	}

	s.cache[data.AssetID] = data
	return nil
}

// Assets lists the asset IDs available in the store.
func (s *FileStore) Assets() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.dataDir)
	if err != nil {
		return nil
	}

	var assets []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		assets = append(assets, strings.TrimSuffix(name, ".json"))
	}
	return assets
}

// ClearCache drops the in-memory cache.
func (s *FileStore) ClearCache() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache = make(map[string]*HistoricalData)
}

func (s *FileStore) loadAsset(assetID string) (*HistoricalData, error) {
	s.mu.RLock()
	if cached, ok := s.cache[assetID]; ok {
		s.mu.RUnlock()
		return cached, nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if cached, ok := s.cache[assetID]; ok {
		return cached, nil
	}

	raw, err := os.ReadFile(s.assetPath(assetID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("unknown asset %q", assetID)
		}
		return nil, fmt.Errorf("failed to read asset file: %w", err)
	}

	var file assetFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("failed to parse asset file for %q: %w", assetID, err)
	}

	data := NewHistoricalData(assetID, file.Prices, file.Options, file.Dividends, file.LendingRates)
	s.cache[assetID] = data

	s.logger.Info("Loaded asset data",
		zap.String("asset", assetID),
		zap.Int("prices", len(data.Prices)),
		zap.Int("dividends", len(data.Dividends)),
		zap.Int("lendingRates", len(data.LendingRates)),
	)

	return data, nil
}

func (s *FileStore) assetPath(assetID string) string {
	return filepath.Join(s.dataDir, assetID+".json")
}
