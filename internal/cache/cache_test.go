package cache

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSongKey(t *testing.T) {
	tests := []struct {
		name   string
		song   string
		artist string
	}{
		{"song and artist", "Hello", "Adele"},
		{"song only", "Hey Jude", ""},
		{"empty", "", ""},
		{"unicode", "月亮代表我的心", "邓丽君"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := songKey(tt.song, tt.artist)

			if len(result) != 32 {
				t.Errorf("songKey(%q, %q) length = %d, want 32", tt.song, tt.artist, len(result))
			}

			for _, c := range result {
				if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
					t.Errorf("songKey(%q, %q) contains non-hex character: %c", tt.song, tt.artist, c)
				}
			}
		})
	}
}

func TestSongKeyNormalization(t *testing.T) {
	if songKey("Hello", "Adele") != songKey("  hello ", "ADELE") {
		t.Error("songKey should ignore case and surrounding whitespace")
	}
}

func TestSongKeyUniqueness(t *testing.T) {
	if songKey("Hello", "Adele") == songKey("Adele", "Hello") {
		t.Error("swapping song and artist should produce a different key")
	}
	if songKey("Hello", "") == songKey("Hello", "Adele") {
		t.Error("artist should be part of the key")
	}
}

func TestSaveAndLookupSongID(t *testing.T) {
	cache := &Cache{
		baseDir: t.TempDir(),
		expiry:  DefaultExpiry,
	}

	if err := cache.SaveSongID("Hello", "Adele", "42"); err != nil {
		t.Fatalf("SaveSongID() error = %v", err)
	}

	if got := cache.LookupSongID("hello", "adele"); got != "42" {
		t.Errorf("LookupSongID() = %q, want %q", got, "42")
	}
	if got := cache.LookupSongID("Hello", ""); got != "" {
		t.Errorf("LookupSongID() without artist = %q, want empty", got)
	}
}

func TestSaveSongIDEmptyForgets(t *testing.T) {
	cache := &Cache{
		baseDir: t.TempDir(),
		expiry:  DefaultExpiry,
	}

	if err := cache.SaveSongID("Hello", "Adele", "42"); err != nil {
		t.Fatalf("SaveSongID() error = %v", err)
	}
	if err := cache.SaveSongID("Hello", "Adele", ""); err != nil {
		t.Fatalf("SaveSongID() with empty id error = %v", err)
	}
	if got := cache.LookupSongID("Hello", "Adele"); got != "" {
		t.Errorf("LookupSongID() after forgetting = %q, want empty", got)
	}
	if err := cache.SaveSongID("Never", "Saved", ""); err != nil {
		t.Errorf("forgetting an unknown song should not error, got %v", err)
	}
}

func TestLookupSongIDNonExistent(t *testing.T) {
	cache := &Cache{
		baseDir: t.TempDir(),
		expiry:  DefaultExpiry,
	}

	if got := cache.LookupSongID("Unknown", ""); got != "" {
		t.Errorf("LookupSongID() for unknown song = %q, want empty", got)
	}
}

func TestLookupSongIDExpired(t *testing.T) {
	tmpDir := t.TempDir()
	cache := &Cache{
		baseDir: tmpDir,
		expiry:  1 * time.Millisecond,
	}

	if err := cache.SaveSongID("Hello", "Adele", "42"); err != nil {
		t.Fatalf("SaveSongID() error = %v", err)
	}

	time.Sleep(10 * time.Millisecond)

	if got := cache.LookupSongID("Hello", "Adele"); got != "" {
		t.Errorf("LookupSongID() for expired entry = %q, want empty", got)
	}

	path := filepath.Join(tmpDir, SongSubdir, songKey("Hello", "Adele")+".yml")
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("Expired entry should have been deleted")
	}
}

func TestLookupSongIDCorrupt(t *testing.T) {
	tmpDir := t.TempDir()
	cache := &Cache{
		baseDir: tmpDir,
		expiry:  DefaultExpiry,
	}

	dir := filepath.Join(tmpDir, SongSubdir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, songKey("Hello", "")+".yml")
	if err := os.WriteFile(path, []byte("id: [unclosed"), 0644); err != nil {
		t.Fatal(err)
	}

	if got := cache.LookupSongID("Hello", ""); got != "" {
		t.Errorf("LookupSongID() for corrupt entry = %q, want empty", got)
	}
}

func TestCleanExpired(t *testing.T) {
	tmpDir := t.TempDir()
	cache := &Cache{
		baseDir: tmpDir,
		expiry:  1 * time.Millisecond,
	}

	for i, song := range []string{"One", "Two", "Three"} {
		if err := cache.SaveSongID(song, "", string(rune('a'+i))); err != nil {
			t.Fatalf("SaveSongID(%q) error = %v", song, err)
		}
	}

	time.Sleep(10 * time.Millisecond)

	if err := cache.CleanExpired(); err != nil {
		t.Fatalf("CleanExpired() error = %v", err)
	}

	entries, err := os.ReadDir(filepath.Join(tmpDir, SongSubdir))
	if err != nil {
		t.Fatalf("Failed to read song directory: %v", err)
	}

	if len(entries) != 0 {
		t.Errorf("CleanExpired() left %d files, want 0", len(entries))
	}
}

func TestCleanExpiredKeepsValidFiles(t *testing.T) {
	cache := &Cache{
		baseDir: t.TempDir(),
		expiry:  24 * time.Hour,
	}

	if err := cache.SaveSongID("Hello", "Adele", "42"); err != nil {
		t.Fatalf("SaveSongID() error = %v", err)
	}

	if err := cache.CleanExpired(); err != nil {
		t.Fatalf("CleanExpired() error = %v", err)
	}

	if cache.LookupSongID("Hello", "Adele") != "42" {
		t.Error("CleanExpired() should not remove valid entries")
	}
}

func TestCleanExpiredNonExistentDirectory(t *testing.T) {
	cache := &Cache{
		baseDir: t.TempDir(),
		expiry:  DefaultExpiry,
	}

	if err := cache.CleanExpired(); err != nil {
		t.Errorf("CleanExpired() should not error on non-existent directory, got %v", err)
	}
}

func TestGetCacheDir(t *testing.T) {
	dir, err := GetCacheDir()
	if err != nil {
		t.Fatalf("GetCacheDir() error = %v", err)
	}

	if !filepath.IsAbs(dir) {
		t.Errorf("GetCacheDir() = %q, want absolute path", dir)
	}

	if filepath.Base(dir) != AppName {
		t.Errorf("GetCacheDir() directory name = %q, want %q", filepath.Base(dir), AppName)
	}
}

func TestNewCache(t *testing.T) {
	cache, err := NewCache()
	if err != nil {
		t.Fatalf("NewCache() error = %v", err)
	}

	if cache.baseDir == "" {
		t.Error("NewCache() cache.baseDir is empty")
	}
	if cache.expiry != DefaultExpiry {
		t.Errorf("NewCache() cache.expiry = %v, want %v", cache.expiry, DefaultExpiry)
	}
}
