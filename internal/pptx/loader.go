package pptx

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	httpclient "inspection-export/internal/common/http"
	"inspection-export/internal/common/logger"
)

var ErrTemplateLoad = errors.New("TEMPLATE_LOAD_FAILED")

// Source fetches template bytes by file name.
type Source interface {
	Name() string
	Fetch(ctx context.Context, name string) ([]byte, error)
}

// HTTPSource fetches templates from a content endpoint.
type HTTPSource struct {
	BaseURL string
	client  *httpclient.Client
}

func NewHTTPSource(baseURL string, timeout time.Duration) *HTTPSource {
	return &HTTPSource{BaseURL: strings.TrimRight(baseURL, "/"), client: httpclient.NewClient(timeout)}
}

func (s *HTTPSource) Name() string { return "http" }

func (s *HTTPSource) Fetch(ctx context.Context, name string) ([]byte, error) {
	body, _, err := s.client.GetBytes(ctx, s.BaseURL+"/"+url.PathEscape(name), 0)
	return body, err
}

// DirSource reads templates from a static asset directory.
type DirSource struct {
	Dir string
}

func (s *DirSource) Name() string { return "static" }

func (s *DirSource) Fetch(_ context.Context, name string) ([]byte, error) {
	return os.ReadFile(filepath.Join(s.Dir, filepath.Base(name)))
}

type cacheEntry struct {
	data     []byte
	loadedAt time.Time
}

// Loader tries each source in order and caches the first valid container.
type Loader struct {
	sources []Source
	ttl     time.Duration
	logger  logger.Logger
	cache   map[string]*cacheEntry
	mu      sync.RWMutex
}

// NewLoader builds a loader. A ttl of zero disables caching.
func NewLoader(log logger.Logger, ttl time.Duration, sources ...Source) *Loader {
	return &Loader{
		sources: sources,
		ttl:     ttl,
		logger:  log,
		cache:   make(map[string]*cacheEntry),
	}
}

// Load returns the template bytes. The caller must not modify the slice.
func (l *Loader) Load(ctx context.Context, name string) ([]byte, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: empty template name", ErrTemplateLoad)
	}

	if l.ttl > 0 {
		l.mu.RLock()
		if entry, ok := l.cache[name]; ok && time.Since(entry.loadedAt) < l.ttl {
			l.mu.RUnlock()
			return entry.data, nil
		}
		l.mu.RUnlock()
	}

	var errs []string
	for _, src := range l.sources {
		data, err := src.Fetch(ctx, name)
		if err == nil {
			err = checkContainer(data)
		}
		if err != nil {
			l.logger.Warn("template source failed", map[string]interface{}{
				"template": name,
				"source":   src.Name(),
				"error":    err.Error(),
			})
			errs = append(errs, src.Name()+": "+err.Error())
			if ctx.Err() != nil {
				break
			}
			continue
		}

		if l.ttl > 0 {
			l.mu.Lock()
			l.cache[name] = &cacheEntry{data: data, loadedAt: time.Now()}
			l.mu.Unlock()
		}
		l.logger.Debug("template loaded", map[string]interface{}{
			"template": name,
			"source":   src.Name(),
			"bytes":    len(data),
		})
		return data, nil
	}

	if len(errs) == 0 {
		errs = append(errs, "no template source configured")
	}
	return nil, fmt.Errorf("%w: %s: %s", ErrTemplateLoad, name, strings.Join(errs, "; "))
}

// checkContainer rejects bodies that are not zip containers, such as an
// HTML error page served with a 200 status.
func checkContainer(data []byte) error {
	if len(data) == 0 {
		return errors.New("empty template")
	}
	if _, err := zip.NewReader(bytes.NewReader(data), int64(len(data))); err != nil {
		return fmt.Errorf("not a zip container: %w", err)
	}
	return nil
}
