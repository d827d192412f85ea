// Package blob stores attachment bytes on local disk, gzip-compressed, under
// random names, and serves them back over HTTP.
package blob

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chatsync/internal/logger"
	"github.com/chatsync/internal/model"
	"github.com/google/uuid"
)

// extByType is the set of accepted content types.
var extByType = map[string]string{
	"image/jpeg":         ".jpg",
	"image/png":          ".png",
	"image/gif":          ".gif",
	"image/webp":         ".webp",
	"audio/mpeg":         ".mp3",
	"audio/ogg":          ".ogg",
	"audio/webm":         ".weba",
	"video/mp4":          ".mp4",
	"video/webm":         ".webm",
	"application/pdf":    ".pdf",
	"text/plain":         ".txt",
	"application/msword": ".doc",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": ".docx",
}

func typeByExt(ext string) string {
	for ct, e := range extByType {
		if e == ext {
			return ct
		}
	}
	return "application/octet-stream"
}

type Store struct {
	Dir     string
	MaxSize int64
	// BaseURL prefixes returned URLs, e.g. "http://localhost:8080".
	BaseURL string
}

func New(dir string, maxSize int64, baseURL string) *Store {
	return &Store{Dir: dir, MaxSize: maxSize, BaseURL: strings.TrimSuffix(baseURL, "/")}
}

// Upload saves data and returns the URL it is served under.
func (s *Store) Upload(ctx context.Context, data []byte, contentType string) (string, error) {
	defer logger.DeferLogDuration("blob.Upload", time.Now())()
	contentType = strings.ToLower(strings.TrimSpace(strings.Split(contentType, ";")[0]))
	ext, ok := extByType[contentType]
	if !ok {
		return "", fmt.Errorf("blob.Upload: %w: content type %q not allowed", model.ErrInvalidState, contentType)
	}
	if len(data) == 0 {
		return "", fmt.Errorf("blob.Upload: %w: empty file", model.ErrInvalidState)
	}
	if s.MaxSize > 0 && int64(len(data)) > s.MaxSize {
		return "", fmt.Errorf("blob.Upload: %w: file too large", model.ErrInvalidState)
	}
	if !matchMagic(ext, data) {
		return "", fmt.Errorf("blob.Upload: %w: content does not match type", model.ErrInvalidState)
	}
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("blob.Upload: %w", err)
	}
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return "", fmt.Errorf("blob.Upload mkdir: %w", err)
	}

	name := uuid.New().String() + ext
	path := filepath.Join(s.Dir, name+".gz")
	if err := writeGzip(path, data); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("blob.Upload: %w", err)
	}
	logger.Debugf("blob stored name=%s size=%d", name, len(data))
	return s.BaseURL + "/files/" + name, nil
}

func writeGzip(path string, data []byte) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	gz := gzip.NewWriter(f)
	if _, err := gz.Write(data); err != nil {
		gz.Close()
		f.Close()
		return err
	}
	if err := gz.Close(); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Open returns the decompressed content of a stored blob and its type.
func (s *Store) Open(name string) (io.ReadCloser, string, error) {
	name = filepath.Base(name)
	f, err := os.Open(filepath.Join(s.Dir, name+".gz"))
	if errors.Is(err, os.ErrNotExist) {
		return nil, "", fmt.Errorf("blob.Open: %w", model.ErrNotFound)
	}
	if err != nil {
		return nil, "", fmt.Errorf("blob.Open: %w", err)
	}
	gz, err := gzip.NewReader(f)
	if err != nil {
		f.Close()
		return nil, "", fmt.Errorf("blob.Open: %w", err)
	}
	return &gzipFile{Reader: gz, f: f}, typeByExt(strings.ToLower(filepath.Ext(name))), nil
}

type gzipFile struct {
	*gzip.Reader
	f *os.File
}

func (g *gzipFile) Close() error {
	g.Reader.Close()
	return g.f.Close()
}

// Serve writes a stored blob to w.
func (s *Store) Serve(w http.ResponseWriter, r *http.Request, name string) {
	rc, contentType, err := s.Open(name)
	if errors.Is(err, model.ErrNotFound) {
		http.Error(w, "file not found", http.StatusNotFound)
		return
	}
	if err != nil {
		logger.Errorf("blob serve %s: %v", name, err)
		http.Error(w, "failed to read file", http.StatusInternalServerError)
		return
	}
	defer rc.Close()
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil && r.Context().Err() == nil {
		logger.Errorf("blob serve %s: %v", name, err)
	}
}

func matchMagic(ext string, head []byte) bool {
	switch ext {
	case ".jpg":
		return len(head) >= 3 && head[0] == 0xFF && head[1] == 0xD8 && head[2] == 0xFF
	case ".png":
		return len(head) >= 8 && bytes.Equal(head[:8], []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A})
	case ".gif":
		return len(head) >= 6 && (bytes.Equal(head[:6], []byte("GIF87a")) || bytes.Equal(head[:6], []byte("GIF89a")))
	case ".webp":
		return len(head) >= 12 && bytes.Equal(head[8:12], []byte("WEBP"))
	case ".pdf":
		return len(head) >= 5 && bytes.Equal(head[:5], []byte("%PDF-"))
	case ".doc":
		return len(head) >= 4 && head[0] == 0xD0 && head[1] == 0xCF && head[2] == 0x11 && head[3] == 0xE0
	case ".docx":
		return len(head) >= 4 && head[0] == 0x50 && head[1] == 0x4B && (head[2] == 0x03 || head[2] == 0x05)
	}
	return true
}
