// Package indexstore manages the on-disk lifecycle of per-conversation vector indexes.
package indexstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/easeaico/petpal/internal/metrics"
	"github.com/easeaico/petpal/internal/vectorindex"
)

const (
	filePrefix = "index_"
	fileSuffix = ".bin"
)

// ErrInvalidConversationID is returned for ids that cannot name an index file.
var ErrInvalidConversationID = errors.New("invalid conversation id")

var conversationIDPattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// ValidateConversationID checks that id is safe to embed in a file name.
func ValidateConversationID(id string) error {
	if id == "" || id == "." || id == ".." || !conversationIDPattern.MatchString(id) {
		return fmt.Errorf("%w: %q", ErrInvalidConversationID, id)
	}
	return nil
}

// Options configures a Manager.
type Options struct {
	Root        string
	Model       string
	Dimension   int
	Concurrency int
	Logger      *slog.Logger
}

// Manager maps conversation ids to index files and caches loaded collections.
//
// Collections handed out by Load are shared and must not be mutated. Writers
// clone, mutate and Persist inside WithLock for the conversation.
type Manager struct {
	root        string
	header      vectorindex.Header
	concurrency int
	logger      *slog.Logger

	mu       sync.RWMutex
	registry map[string]*vectorindex.Collection
	// epoch advances on every Persist and Delete. A cache miss only
	// registers what it read if no write landed while the file was open.
	epoch uint64

	locksMu sync.Mutex
	locks   map[string]*keyedLock

	// afterRead runs between a cache-miss read and its registration; tests only.
	afterRead func(conversationID string)
}

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

// NewManager returns a Manager rooted at opts.Root.
func NewManager(opts Options) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Manager{
		root:        opts.Root,
		header:      vectorindex.Header{Model: opts.Model, Dimension: opts.Dimension},
		concurrency: concurrency,
		logger:      logger,
		registry:    make(map[string]*vectorindex.Collection),
		locks:       make(map[string]*keyedLock),
	}
}

// Root returns the storage root directory.
func (m *Manager) Root() string {
	return m.root
}

// Dimension returns the canonical embedding dimension.
func (m *Manager) Dimension() int {
	return m.header.Dimension
}

// Path returns the index file path for a conversation.
func (m *Manager) Path(conversationID string) string {
	return filepath.Join(m.root, filePrefix+conversationID+fileSuffix)
}

// EnsureStorageRoot creates the root directory if missing.
func (m *Manager) EnsureStorageRoot() error {
	if err := os.MkdirAll(m.root, 0o755); err != nil {
		return fmt.Errorf("failed to create index root: %w", err)
	}
	return nil
}

// WithLock runs fn while holding the single-writer lock of the conversation.
func (m *Manager) WithLock(conversationID string, fn func() error) error {
	lock := m.acquire(conversationID)
	lock.mu.Lock()
	defer m.release(conversationID, lock)
	return fn()
}

func (m *Manager) acquire(conversationID string) *keyedLock {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()
	lock, ok := m.locks[conversationID]
	if !ok {
		lock = &keyedLock{}
		m.locks[conversationID] = lock
	}
	lock.refs++
	return lock
}

// release unlocks and drops the entry once no caller holds or waits on it.
func (m *Manager) release(conversationID string, lock *keyedLock) {
	lock.mu.Unlock()
	m.locksMu.Lock()
	defer m.locksMu.Unlock()
	lock.refs--
	if lock.refs == 0 {
		delete(m.locks, conversationID)
	}
}

// Load returns the conversation's collection. A missing file yields a fresh
// empty collection; an unreadable or mismatched file is logged and replaced by
// an empty one.
func (m *Manager) Load(conversationID string) (*vectorindex.Collection, error) {
	if err := ValidateConversationID(conversationID); err != nil {
		return nil, err
	}

	m.mu.RLock()
	cached, ok := m.registry[conversationID]
	epoch := m.epoch
	m.mu.RUnlock()
	if ok {
		return cached, nil
	}

	c, err := m.readFile(m.Path(conversationID))
	if m.afterRead != nil {
		m.afterRead(conversationID)
	}
	switch {
	case errors.Is(err, os.ErrNotExist):
		return vectorindex.NewCollection(m.header.Dimension), nil
	case err != nil:
		metrics.IndexOperations.WithLabelValues("load", "corrupt").Inc()
		m.logger.Warn("failed to read index file, using empty index",
			"conversation_id", conversationID, "error", err.Error())
		return vectorindex.NewCollection(m.header.Dimension), nil
	}

	metrics.IndexOperations.WithLabelValues("load", "ok").Inc()
	return m.registerIfCurrent(conversationID, c, epoch), nil
}

// Persist writes the collection to the conversation's file and refreshes the registry.
func (m *Manager) Persist(conversationID string, c *vectorindex.Collection) error {
	if err := ValidateConversationID(conversationID); err != nil {
		return err
	}
	if err := m.EnsureStorageRoot(); err != nil {
		return err
	}
	if err := m.writeFile(m.Path(conversationID), c); err != nil {
		metrics.IndexOperations.WithLabelValues("persist", "error").Inc()
		return fmt.Errorf("failed to persist index for %s: %w", conversationID, err)
	}
	metrics.IndexOperations.WithLabelValues("persist", "ok").Inc()
	m.register(conversationID, c)
	return nil
}

// Delete removes the conversation's file and registry entry. Missing files are not an error.
func (m *Manager) Delete(conversationID string) error {
	if err := ValidateConversationID(conversationID); err != nil {
		return err
	}

	err := os.Remove(m.Path(conversationID))

	m.mu.Lock()
	delete(m.registry, conversationID)
	m.epoch++
	metrics.IndexesLoaded.Set(float64(len(m.registry)))
	m.mu.Unlock()

	if err != nil && !errors.Is(err, os.ErrNotExist) {
		metrics.IndexOperations.WithLabelValues("delete", "error").Inc()
		return fmt.Errorf("failed to delete index for %s: %w", conversationID, err)
	}
	metrics.IndexOperations.WithLabelValues("delete", "ok").Inc()
	return nil
}

// LoadAll eagerly loads every index file under the root. Files that fail to
// parse are logged and skipped.
func (m *Manager) LoadAll(ctx context.Context) (int, error) {
	if err := m.EnsureStorageRoot(); err != nil {
		return 0, err
	}
	entries, err := os.ReadDir(m.root)
	if err != nil {
		return 0, fmt.Errorf("failed to scan index root: %w", err)
	}

	var (
		loadedMu sync.Mutex
		loaded   int
	)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(m.concurrency)
	for _, entry := range entries {
		conversationID, ok := conversationIDFromFile(entry)
		if !ok {
			continue
		}
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			m.mu.RLock()
			epoch := m.epoch
			m.mu.RUnlock()
			c, err := m.readFile(m.Path(conversationID))
			if err != nil {
				metrics.IndexOperations.WithLabelValues("load", "corrupt").Inc()
				m.logger.Warn("skipping unreadable index file",
					"conversation_id", conversationID, "error", err.Error())
				return nil
			}
			metrics.IndexOperations.WithLabelValues("load", "ok").Inc()
			m.registerIfCurrent(conversationID, c, epoch)
			loadedMu.Lock()
			loaded++
			loadedMu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return loaded, err
	}
	m.logger.Info("loaded conversation indexes", "count", loaded, "root", m.root)
	return loaded, nil
}

// Conversations returns the ids held in the registry, sorted.
func (m *Manager) Conversations() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.registry))
	for id := range m.registry {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func (m *Manager) register(conversationID string, c *vectorindex.Collection) {
	m.mu.Lock()
	m.registry[conversationID] = c
	m.epoch++
	metrics.IndexesLoaded.Set(float64(len(m.registry)))
	m.mu.Unlock()
}

// registerIfCurrent caches c read at epoch unless a Persist or Delete has
// happened since. An entry registered in the meantime wins over c.
func (m *Manager) registerIfCurrent(conversationID string, c *vectorindex.Collection, epoch uint64) *vectorindex.Collection {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cached, ok := m.registry[conversationID]; ok {
		return cached
	}
	if m.epoch != epoch {
		return c
	}
	m.registry[conversationID] = c
	metrics.IndexesLoaded.Set(float64(len(m.registry)))
	return c
}

func (m *Manager) readFile(path string) (*vectorindex.Collection, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	c, _, err := vectorindex.Decode(f, m.header)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", filepath.Base(path), err)
	}
	return c, nil
}

func (m *Manager) writeFile(path string, c *vectorindex.Collection) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if err := vectorindex.Encode(tmp, m.header, c); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}

func conversationIDFromFile(entry os.DirEntry) (string, bool) {
	if entry.IsDir() {
		return "", false
	}
	name := entry.Name()
	if !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileSuffix) {
		return "", false
	}
	id := strings.TrimSuffix(strings.TrimPrefix(name, filePrefix), fileSuffix)
	if ValidateConversationID(id) != nil {
		return "", false
	}
	return id, true
}
