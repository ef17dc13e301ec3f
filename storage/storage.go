package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/docutag/taxonomy/slug"
)

// Report kinds
const (
	KindHierarchy = "hierarchy"
	KindUnmatched = "unmatched"
)

// ErrNotFound is returned when a report key does not exist
var ErrNotFound = errors.New("report not found")

// Store persists exported JSON reports
type Store interface {
	// SaveReport stores data and returns the key it can be read back with
	SaveReport(ctx context.Context, kind, name string, data []byte) (string, error)
	ReadReport(ctx context.Context, key string) ([]byte, error)
	DeleteReport(ctx context.Context, key string) error
}

// Config contains storage configuration
type Config struct {
	BasePath string // Base directory for all stored files
}

// DefaultConfig returns default storage configuration
func DefaultConfig() Config {
	return Config{
		BasePath: "./storage",
	}
}

// Storage handles filesystem storage operations
type Storage struct {
	config Config
}

// New creates a new Storage instance
func New(config Config) (*Storage, error) {
	if config.BasePath == "" {
		return nil, fmt.Errorf("storage base path is required")
	}

	// Create base directory if it doesn't exist
	if err := os.MkdirAll(config.BasePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base storage directory: %w", err)
	}

	return &Storage{
		config: config,
	}, nil
}

// reportDir returns reports/<kind>/YYYY/MM for the given time
func reportDir(kind string, now time.Time) (string, error) {
	kind = slug.Generate(kind)
	if kind == "" {
		return "", fmt.Errorf("report kind is required")
	}
	year := fmt.Sprintf("%04d", now.Year())
	month := fmt.Sprintf("%02d", int(now.Month()))
	return filepath.Join("reports", kind, year, month), nil
}

// reportSlug returns the file name stem for a report name
func reportSlug(name string) string {
	return slug.GenerateWithFallback(name, "report")
}

// SaveReport saves a JSON report to the filesystem.
// Returns the relative file path from the base storage directory.
func (s *Storage) SaveReport(ctx context.Context, kind, name string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	relDir, err := reportDir(kind, time.Now())
	if err != nil {
		return "", err
	}
	dirPath := filepath.Join(s.config.BasePath, relDir)

	if err := os.MkdirAll(dirPath, 0755); err != nil {
		return "", fmt.Errorf("failed to create report directory: %w", err)
	}

	// Claim the first free name; O_EXCL makes concurrent saves pick distinct files
	base := reportSlug(name)
	filePath := filepath.Join(dirPath, base+".json")
	var f *os.File
	for counter := 1; ; counter++ {
		f, err = os.OpenFile(filePath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if err == nil {
			break
		}
		if !errors.Is(err, os.ErrExist) {
			return "", fmt.Errorf("failed to create report file: %w", err)
		}
		filePath = filepath.Join(dirPath, slug.MakeUnique(base, counter)+".json")
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		return "", fmt.Errorf("failed to write report file: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("failed to write report file: %w", err)
	}

	relPath, err := filepath.Rel(s.config.BasePath, filePath)
	if err != nil {
		return "", fmt.Errorf("failed to get relative path: %w", err)
	}

	return filepath.ToSlash(relPath), nil
}

// ReadReport reads a report from the filesystem
func (s *Storage) ReadReport(ctx context.Context, relPath string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	fullPath, err := s.resolve(relPath)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(fullPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, relPath)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read report file: %w", err)
	}

	return data, nil
}

// DeleteReport deletes a report from the filesystem. Missing files are not an error.
func (s *Storage) DeleteReport(ctx context.Context, relPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	fullPath, err := s.resolve(relPath)
	if err != nil {
		return err
	}

	if err := os.Remove(fullPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete report file: %w", err)
	}

	return nil
}

// GetFullPath returns the full filesystem path for a relative path
func (s *Storage) GetFullPath(relPath string) string {
	return filepath.Join(s.config.BasePath, filepath.FromSlash(relPath))
}

// resolve maps a key to a path, rejecting keys that escape the base directory
func (s *Storage) resolve(relPath string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(relPath))
	if clean == "." || filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid report key: %q", relPath)
	}
	return filepath.Join(s.config.BasePath, clean), nil
}
