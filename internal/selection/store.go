// Package selection holds the hierarchical inclusion-policy store, its durable
// mirror and the change notifications fired after every mutation.
package selection

import (
	"context"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/temirov/ctxchat/internal/types"
	"github.com/temirov/ctxchat/internal/workspace"
)

const (
	logPersistFailed = "failed to persist selection state"
	logLoadFailed    = "failed to load selection state; starting empty"
	logFieldPolicy   = "policy"
	logFieldCount    = "count"
	logPolicyApplied = "applied policy"
	logPolicyCycled  = "cycled policy"
)

// StoreOptions wires a Store to its collaborators. Nil fields get defaults:
// in-memory persistence, a fresh notifier, the OS filesystem and a no-op logger.
type StoreOptions struct {
	Persistence Persistence
	Notifier    *Notifier
	FileSystem  workspace.FileSystem
	Logger      *zap.Logger
	// Warn surfaces non-fatal persistence failures to the user.
	Warn func(error)
}

// Store maps normalized absolute paths to explicit inclusion policies.
// TreeOnly is never stored; deleting an entry is how a path returns to it.
// Mutations, saves and reads of the persisted map all happen under mutex, and
// publishMutex is taken before mutex is released so subscribers see events in
// commit order.
type Store struct {
	mutex        sync.RWMutex
	publishMutex sync.Mutex
	policies    map[string]types.InclusionPolicy
	persistence Persistence
	notifier    *Notifier
	fileSystem  workspace.FileSystem
	logger      *zap.Logger
	warn        func(error)
}

// NewStore constructs an empty Store. Call Load to read persisted state.
func NewStore(options StoreOptions) *Store {
	store := &Store{
		policies:    map[string]types.InclusionPolicy{},
		persistence: options.Persistence,
		notifier:    options.Notifier,
		fileSystem:  options.FileSystem,
		logger:      options.Logger,
		warn:        options.Warn,
	}
	if store.persistence == nil {
		store.persistence = NoopPersistence{}
	}
	if store.notifier == nil {
		store.notifier = NewNotifier()
	}
	if store.fileSystem == nil {
		store.fileSystem = workspace.NewOSFileSystem()
	}
	if store.logger == nil {
		store.logger = zap.NewNop()
	}
	if store.warn == nil {
		store.warn = func(error) {}
	}
	return store
}

// Normalize converts path to the canonical key form: absolute and cleaned.
func Normalize(path string) string {
	absolutePath, absErr := filepath.Abs(path)
	if absErr != nil {
		return filepath.Clean(path)
	}
	return filepath.Clean(absolutePath)
}

// Notifier returns the notifier that receives this store's change events.
func (store *Store) Notifier() *Notifier {
	return store.notifier
}

// ExplicitPolicy returns the policy stored for path itself, ignoring ancestors.
func (store *Store) ExplicitPolicy(path string) types.InclusionPolicy {
	normalized := Normalize(path)
	store.mutex.RLock()
	defer store.mutex.RUnlock()
	return store.policies[normalized]
}

// EffectivePolicy returns Excluded when path or any ancestor is explicitly
// excluded, otherwise the path's own explicit policy, defaulting to TreeOnly.
func (store *Store) EffectivePolicy(path string) types.InclusionPolicy {
	normalized := Normalize(path)
	store.mutex.RLock()
	defer store.mutex.RUnlock()
	return store.effectivePolicyLocked(normalized)
}

func (store *Store) effectivePolicyLocked(normalized string) types.InclusionPolicy {
	current := normalized
	for {
		if store.policies[current] == types.PolicyExcluded {
			return types.PolicyExcluded
		}
		parent := filepath.Dir(current)
		if parent == current {
			break
		}
		current = parent
	}
	return store.policies[normalized]
}

// HasSelectionBeneath reports whether any strict descendant of directory has an
// explicit policy that contributes content.
func (store *Store) HasSelectionBeneath(directory string) bool {
	prefix := Normalize(directory) + string(filepath.Separator)
	store.mutex.RLock()
	defer store.mutex.RUnlock()
	for path, policy := range store.policies {
		if policy.ContributesContent() && strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// Cycle advances the path's own policy TreeOnly → FullContent → SignaturesOnly → TreeOnly.
// Inherited exclusion is ignored. An explicit Excluded entry cycles back to TreeOnly.
func (store *Store) Cycle(path string) types.InclusionPolicy {
	normalized := Normalize(path)

	store.mutex.Lock()
	next := nextPolicy(store.policies[normalized])
	store.assignLocked(normalized, next)
	store.persistLocked()
	store.unlockAndPublish([]string{normalized})

	store.logger.Debug(logPolicyCycled, zap.String(logFieldPath, normalized), zap.Stringer(logFieldPolicy, next))
	return next
}

func nextPolicy(current types.InclusionPolicy) types.InclusionPolicy {
	switch current {
	case types.PolicyTreeOnly:
		return types.PolicyFullContent
	case types.PolicyFullContent:
		return types.PolicySignaturesOnly
	default:
		return types.PolicyTreeOnly
	}
}

// Set stores policy for path itself without expanding directories. Excluding a
// directory this way hides everything beneath it.
func (store *Store) Set(path string, policy types.InclusionPolicy) {
	normalized := Normalize(path)

	store.mutex.Lock()
	store.assignLocked(normalized, policy)
	store.persistLocked()
	store.unlockAndPublish([]string{normalized})

	store.logger.Debug(logPolicyApplied, zap.String(logFieldPath, normalized), zap.Stringer(logFieldPolicy, policy))
}

// SetMany expands every root to its recursive file set and applies policy to
// each file. The map is saved once and one notification carries every touched
// path. An expansion that yields no files changes nothing and publishes nothing.
// Only context cancellation is returned as an error.
func (store *Store) SetMany(ctx context.Context, roots []string, policy types.InclusionPolicy) ([]string, error) {
	files, expandErr := ExpandFiles(ctx, store.fileSystem, roots, store.logger)
	if expandErr != nil {
		return nil, expandErr
	}
	if len(files) == 0 {
		return files, nil
	}

	store.mutex.Lock()
	for _, file := range files {
		store.assignLocked(file, policy)
	}
	store.persistLocked()
	store.unlockAndPublish(files)

	store.logger.Debug(logPolicyApplied, zap.Stringer(logFieldPolicy, policy), zap.Int(logFieldCount, len(files)))
	return files, nil
}

// Remove returns path to TreeOnly.
func (store *Store) Remove(ctx context.Context, path string) ([]string, error) {
	return store.SetMany(ctx, []string{path}, types.PolicyTreeOnly)
}

// Load replaces the in-memory map with the persisted one and publishes the
// reload signal. A corrupt file leaves the store empty and is surfaced via Warn.
func (store *Store) Load() {
	store.mutex.Lock()
	store.policies = store.readPersistedLocked()
	store.unlockAndPublish(nil)
}

// Reload is Load that stays silent when the persisted map equals the current one.
// It reports whether a change was applied. The file is read under the store
// lock so a save racing with the reload cannot be overwritten by older state.
func (store *Store) Reload() bool {
	store.mutex.Lock()
	loaded := store.readPersistedLocked()
	if equalPolicies(store.policies, loaded) {
		store.mutex.Unlock()
		return false
	}
	store.policies = loaded
	store.unlockAndPublish(nil)
	return true
}

// unlockAndPublish releases mutex and delivers paths. Subscribers must not
// mutate the store.
func (store *Store) unlockAndPublish(paths []string) {
	store.publishMutex.Lock()
	store.mutex.Unlock()
	defer store.publishMutex.Unlock()
	store.notifier.Publish(paths)
}

func (store *Store) readPersistedLocked() map[string]types.InclusionPolicy {
	loaded, loadErr := store.persistence.Load()
	if loadErr != nil {
		store.logger.Warn(logLoadFailed, zap.Error(loadErr))
		store.warn(loadErr)
		return map[string]types.InclusionPolicy{}
	}
	if loaded == nil {
		loaded = map[string]types.InclusionPolicy{}
	}
	return loaded
}

// Entries returns the explicit entries sorted by path.
func (store *Store) Entries() []types.PolicyEntry {
	store.mutex.RLock()
	defer store.mutex.RUnlock()
	return store.entriesLocked()
}

// Snapshot returns a copy of the explicit policy map.
func (store *Store) Snapshot() map[string]types.InclusionPolicy {
	store.mutex.RLock()
	defer store.mutex.RUnlock()
	snapshot := make(map[string]types.InclusionPolicy, len(store.policies))
	for path, policy := range store.policies {
		snapshot[path] = policy
	}
	return snapshot
}

func (store *Store) assignLocked(normalized string, policy types.InclusionPolicy) {
	if policy == types.PolicyTreeOnly {
		delete(store.policies, normalized)
		return
	}
	store.policies[normalized] = policy
}

func (store *Store) persistLocked() {
	if saveErr := store.persistence.Save(store.entriesLocked()); saveErr != nil {
		store.logger.Warn(logPersistFailed, zap.Error(saveErr))
		store.warn(saveErr)
	}
}

func (store *Store) entriesLocked() []types.PolicyEntry {
	entries := make([]types.PolicyEntry, 0, len(store.policies))
	for path, policy := range store.policies {
		entries = append(entries, types.PolicyEntry{Path: path, Policy: policy})
	}
	sort.Slice(entries, func(left, right int) bool {
		return entries[left].Path < entries[right].Path
	})
	return entries
}

func equalPolicies(left, right map[string]types.InclusionPolicy) bool {
	if len(left) != len(right) {
		return false
	}
	for path, policy := range left {
		if right[path] != policy {
			return false
		}
	}
	return true
}
