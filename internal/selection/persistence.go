package selection

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"

	"github.com/temirov/ctxchat/internal/types"
	"github.com/temirov/ctxchat/internal/utils"
	"github.com/temirov/ctxchat/internal/workspace"
)

const (
	errorCreateStateDirectoryFormat = "%w: create state directory %s: %v"
	errorWriteStateFormat           = "%w: write %s: %v"
	errorEncodeStateFormat          = "%w: encode state: %v"
	errorReadStateFormat            = "read %s: %w"
	errorDecodeStateFormat          = "%w: decode %s: %v"
	errorPairShapeFormat            = "%w: entry %d in %s has %d elements, expected 2"
	errorPairPolicyFormat           = "%w: entry %d in %s: %v"
	errorPairPathFormat             = "%w: entry %d in %s has an empty path"
)

var (
	// ErrCorruptState reports a state file that exists but cannot be decoded.
	ErrCorruptState = errors.New("corrupt state file")
	// ErrPersist reports a state file that could not be written.
	ErrPersist = errors.New("persist state")
)

// Persistence durably mirrors the policy map.
type Persistence interface {
	Load() (map[string]types.InclusionPolicy, error)
	Save(entries []types.PolicyEntry) error
}

// FilePersistence stores the policy map as a JSON array of [path, tag] pairs
// under the workspace's hidden state directory.
type FilePersistence struct {
	directory  string
	filePath   string
	fileSystem workspace.FileSystem
}

// NewFilePersistence returns a FilePersistence rooted at workspaceRoot.
func NewFilePersistence(workspaceRoot string, fileSystem workspace.FileSystem) *FilePersistence {
	directory := filepath.Join(workspaceRoot, utils.StateDirectoryName)
	return &FilePersistence{
		directory:  directory,
		filePath:   filepath.Join(directory, utils.StateFileName),
		fileSystem: fileSystem,
	}
}

// FilePath returns the location of the state file.
func (persistence *FilePersistence) FilePath() string {
	return persistence.filePath
}

// Save overwrites the state file with entries in the given order.
func (persistence *FilePersistence) Save(entries []types.PolicyEntry) error {
	encoded, encodeErr := EncodeEntries(entries)
	if encodeErr != nil {
		return fmt.Errorf(errorEncodeStateFormat, ErrPersist, encodeErr)
	}
	if mkdirErr := persistence.fileSystem.MkdirAll(persistence.directory); mkdirErr != nil {
		return fmt.Errorf(errorCreateStateDirectoryFormat, ErrPersist, persistence.directory, mkdirErr)
	}
	if writeErr := persistence.fileSystem.WriteFileAtomic(persistence.filePath, encoded); writeErr != nil {
		return fmt.Errorf(errorWriteStateFormat, ErrPersist, persistence.filePath, writeErr)
	}
	return nil
}

// Load reads the state file. A missing file yields an empty map. A file that
// cannot be decoded yields an empty map together with an ErrCorruptState error.
func (persistence *FilePersistence) Load() (map[string]types.InclusionPolicy, error) {
	data, readErr := persistence.fileSystem.ReadFile(persistence.filePath)
	if readErr != nil {
		if errors.Is(readErr, fs.ErrNotExist) {
			return map[string]types.InclusionPolicy{}, nil
		}
		return map[string]types.InclusionPolicy{}, fmt.Errorf(errorReadStateFormat, persistence.filePath, readErr)
	}
	policies, decodeErr := DecodeEntries(data, persistence.filePath)
	if decodeErr != nil {
		return map[string]types.InclusionPolicy{}, decodeErr
	}
	return policies, nil
}

// EncodeEntries renders entries one pair per line so the file diffs cleanly.
func EncodeEntries(entries []types.PolicyEntry) ([]byte, error) {
	var buffer bytes.Buffer
	buffer.WriteString("[")
	for index, entry := range entries {
		pair, marshalErr := json.Marshal([2]string{entry.Path, string(entry.Policy)})
		if marshalErr != nil {
			return nil, marshalErr
		}
		if index > 0 {
			buffer.WriteString(",")
		}
		buffer.WriteString("\n  ")
		buffer.Write(pair)
	}
	if len(entries) > 0 {
		buffer.WriteString("\n")
	}
	buffer.WriteString("]\n")
	return buffer.Bytes(), nil
}

// DecodeEntries parses a state file body. Unknown tags fail the whole decode.
func DecodeEntries(data []byte, source string) (map[string]types.InclusionPolicy, error) {
	policies := map[string]types.InclusionPolicy{}
	if len(bytes.TrimSpace(data)) == 0 {
		return policies, nil
	}
	var pairs [][]string
	if unmarshalErr := json.Unmarshal(data, &pairs); unmarshalErr != nil {
		return nil, fmt.Errorf(errorDecodeStateFormat, ErrCorruptState, source, unmarshalErr)
	}
	for index, pair := range pairs {
		if len(pair) != 2 {
			return nil, fmt.Errorf(errorPairShapeFormat, ErrCorruptState, index, source, len(pair))
		}
		if pair[0] == "" {
			return nil, fmt.Errorf(errorPairPathFormat, ErrCorruptState, index, source)
		}
		policy, parseErr := types.ParseStoredPolicy(pair[1])
		if parseErr != nil {
			return nil, fmt.Errorf(errorPairPolicyFormat, ErrCorruptState, index, source, parseErr)
		}
		policies[Normalize(pair[0])] = policy
	}
	return policies, nil
}

// NoopPersistence keeps state in memory only; it is used when no workspace is open.
type NoopPersistence struct{}

// Load returns an empty map.
func (NoopPersistence) Load() (map[string]types.InclusionPolicy, error) {
	return map[string]types.InclusionPolicy{}, nil
}

// Save discards entries.
func (NoopPersistence) Save([]types.PolicyEntry) error {
	return nil
}

var (
	_ Persistence = (*FilePersistence)(nil)
	_ Persistence = NoopPersistence{}
)
