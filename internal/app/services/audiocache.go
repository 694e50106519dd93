package services

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// AudioCache stores fetched assistant clips on disk so a repeated reply never
// re-downloads its audio.
type AudioCache struct {
	CacheDir string
}

func NewAudioCache(cacheDir string) *AudioCache {
	return &AudioCache{CacheDir: cacheDir}
}

// FindCached returns the path of a previously fetched clip, or "" when the
// clip is not cached.
func (ac *AudioCache) FindCached(url string) string {
	if ac.CacheDir == "" {
		return ""
	}
	path := filepath.Join(ac.CacheDir, ac.filename(url))
	if _, err := os.Stat(path); err == nil {
		return path
	}
	return ""
}

// SaveCached writes clip bytes under a name derived from the source URL and
// returns the stored path. An already cached clip is left untouched.
func (ac *AudioCache) SaveCached(url string, data []byte) (string, error) {
	if ac.CacheDir == "" {
		return "", fmt.Errorf("audio cache directory not configured")
	}
	if err := os.MkdirAll(ac.CacheDir, 0o755); err != nil {
		return "", fmt.Errorf("create cache dir: %w", err)
	}

	path := filepath.Join(ac.CacheDir, ac.filename(url))
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write cached audio: %w", err)
	}
	return path, nil
}

func (ac *AudioCache) filename(url string) string {
	sum := sha1.Sum([]byte(url))
	ext := strings.ToLower(filepath.Ext(url))
	if ext == "" || len(ext) > 5 {
		ext = ".mp3"
	}
	return hex.EncodeToString(sum[:]) + ext
}
