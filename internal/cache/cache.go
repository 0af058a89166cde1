// Package cache keeps a local table mapping song names to server-side song
// identifiers, so a song requested by name can be streamed by id.
package cache

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultExpiry is how long a remembered id stays valid (30 days).
	DefaultExpiry = 30 * 24 * time.Hour
	// SongSubdir is the subdirectory for song id entries.
	SongSubdir = "songs"
	// AppName is used for the cache directory name.
	AppName = "singstream"
)

// Entry is one remembered song.
type Entry struct {
	Song   string `yaml:"song"`
	Artist string `yaml:"artist,omitempty"`
	ID     string `yaml:"id"`
}

// Cache stores one file per song under the user cache directory.
type Cache struct {
	baseDir string
	expiry  time.Duration
}

// NewCache creates a new Cache instance with the default expiry.
func NewCache() (*Cache, error) {
	cacheDir, err := GetCacheDir()
	if err != nil {
		return nil, err
	}

	return &Cache{
		baseDir: cacheDir,
		expiry:  DefaultExpiry,
	}, nil
}

// GetCacheDir returns the platform-specific cache directory for the application.
func GetCacheDir() (string, error) {
	userCacheDir, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user cache directory: %w", err)
	}

	cacheDir := filepath.Join(userCacheDir, AppName)
	return cacheDir, nil
}

func (c *Cache) ensureDir(dir string) error {
	return os.MkdirAll(dir, 0755)
}

// songKey hashes the case-folded artist and song so lookups ignore case
// and surrounding whitespace.
func songKey(song, artist string) string {
	key := strings.ToLower(strings.TrimSpace(artist)) + "\x00" + strings.ToLower(strings.TrimSpace(song))
	hash := md5.Sum([]byte(key))
	return hex.EncodeToString(hash[:])
}

func (c *Cache) entryPath(song, artist string) string {
	return filepath.Join(c.baseDir, SongSubdir, songKey(song, artist)+".yml")
}

// LookupSongID returns the remembered id for a song, or "" if none is known
// or the entry has expired.
func (c *Cache) LookupSongID(song, artist string) string {
	path := c.entryPath(song, artist)

	info, err := os.Stat(path)
	if err != nil {
		return ""
	}

	if time.Since(info.ModTime()) > c.expiry {
		if err := os.Remove(path); err != nil {
			log.Debug().Err(err).Str("file", path).Msg("Failed to remove expired song entry")
		}
		return ""
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}

	var entry Entry
	if err := yaml.Unmarshal(data, &entry); err != nil {
		log.Debug().Err(err).Str("file", path).Msg("Failed to parse song entry")
		return ""
	}

	return strings.TrimSpace(entry.ID)
}

// SaveSongID remembers id for a song. An empty id forgets the song.
func (c *Cache) SaveSongID(song, artist, id string) error {
	path := c.entryPath(song, artist)

	if strings.TrimSpace(id) == "" {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove song entry: %w", err)
		}
		return nil
	}

	if err := c.ensureDir(filepath.Dir(path)); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}

	data, err := yaml.Marshal(Entry{Song: song, Artist: artist, ID: id})
	if err != nil {
		return fmt.Errorf("failed to encode song entry: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write song entry: %w", err)
	}

	return nil
}

// CleanExpired removes entries older than the expiry duration.
func (c *Cache) CleanExpired() error {
	songDir := filepath.Join(c.baseDir, SongSubdir)

	entries, err := os.ReadDir(songDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read cache directory: %w", err)
	}

	now := time.Now()
	var removed, failed int
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			log.Debug().Err(err).Str("file", entry.Name()).Msg("Failed to get file info")
			continue
		}

		if now.Sub(info.ModTime()) > c.expiry {
			filePath := filepath.Join(songDir, entry.Name())
			if err := os.Remove(filePath); err != nil {
				log.Debug().Err(err).Str("file", filePath).Msg("Failed to remove expired cache file")
				failed++
			} else {
				removed++
			}
		}
	}

	if removed > 0 || failed > 0 {
		log.Debug().Int("removed", removed).Int("failed", failed).Msg("Cache cleanup completed")
	}

	return nil
}
