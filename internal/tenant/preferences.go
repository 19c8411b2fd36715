package tenant

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const (
	// PreferencesFile is the file name used inside the data directory.
	PreferencesFile = "preferences.json"
	// DefaultDebounce is used when Watch is given a non-positive
	// debounce.
	DefaultDebounce = 300 * time.Millisecond
)

type preferencesDoc struct {
	TenantID string `json:"tenant_id"`
}

// FilePreferences persists the preferred tenant as JSON and can
// reload it when another process rewrites the file.
type FilePreferences struct {
	path string
	log  *slog.Logger

	mu     sync.RWMutex
	tenant string

	watcher  *fsnotify.Watcher
	debounce time.Duration
	pending  time.Time
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	onReload func(string)
}

// OpenPreferences loads dir/preferences.json. A missing file is an
// empty preference, not an error.
func OpenPreferences(
	dir string, log *slog.Logger,
) (*FilePreferences, error) {
	if log == nil {
		log = slog.Default()
	}
	p := &FilePreferences{
		path: filepath.Join(dir, PreferencesFile),
		log:  log,
	}
	if err := p.reload(); err != nil {
		return nil, err
	}
	return p, nil
}

// Path returns the backing file.
func (p *FilePreferences) Path() string { return p.path }

// Preferred implements PreferenceStore.
func (p *FilePreferences) Preferred() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.tenant
}

// Set stores id (empty clears the preference) and persists it.
func (p *FilePreferences) Set(id string) error {
	id = strings.TrimSpace(id)
	data, err := json.MarshalIndent(
		preferencesDoc{TenantID: id}, "", "  ",
	)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p.path), 0o700); err != nil {
		return fmt.Errorf("creating preferences dir: %w", err)
	}
	tmp := p.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("writing preferences: %w", err)
	}
	if err := os.Rename(tmp, p.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("saving preferences: %w", err)
	}
	p.mu.Lock()
	p.tenant = id
	p.mu.Unlock()
	return nil
}

func (p *FilePreferences) reload() error {
	data, err := os.ReadFile(p.path)
	if errors.Is(err, fs.ErrNotExist) {
		p.mu.Lock()
		p.tenant = ""
		p.mu.Unlock()
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading preferences: %w", err)
	}
	var doc preferencesDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parsing %s: %w", p.path, err)
	}
	p.mu.Lock()
	p.tenant = strings.TrimSpace(doc.TenantID)
	p.mu.Unlock()
	return nil
}

// Watch starts reloading the preference when the file changes.
// onReload, if non-nil, receives the new tenant id after each
// successful reload. A non-positive debounce means DefaultDebounce.
// Call Close to stop.
func (p *FilePreferences) Watch(
	debounce time.Duration, onReload func(string),
) error {
	if p.watcher != nil {
		return errors.New("preferences already watched")
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	dir := filepath.Dir(p.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating preferences dir: %w", err)
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	// Watch the directory: editors and Set replace the file by
	// rename, which drops a watch on the file itself.
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return fmt.Errorf("watching %s: %w", dir, err)
	}
	p.watcher = fsw
	p.debounce = debounce
	p.onReload = onReload
	p.stop = make(chan struct{})
	p.done = make(chan struct{})
	go p.loop()
	return nil
}

// Close stops a running watch. Safe to call more than once.
func (p *FilePreferences) Close() {
	if p.watcher == nil {
		return
	}
	p.stopOnce.Do(func() {
		close(p.stop)
		<-p.done
		p.watcher.Close()
	})
}

func (p *FilePreferences) loop() {
	defer close(p.done)
	ticker := time.NewTicker(p.debounce)
	defer ticker.Stop()

	for {
		select {
		case <-p.stop:
			return
		case event, ok := <-p.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != p.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|
				fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			p.pending = time.Now()
		case err, ok := <-p.watcher.Errors:
			if !ok {
				return
			}
			p.log.Warn("preferences watcher error", "err", err)
		case <-ticker.C:
			p.flush()
		}
	}
}

func (p *FilePreferences) flush() {
	if p.pending.IsZero() || time.Since(p.pending) < p.debounce {
		return
	}
	p.pending = time.Time{}
	if err := p.reload(); err != nil {
		p.log.Warn("reloading preferences", "err", err)
		return
	}
	id := p.Preferred()
	p.log.Info("tenant preference reloaded", "tenant", id)
	if p.onReload != nil {
		p.onReload(id)
	}
}
