package persist

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/xeipuuv/gojsonschema"
	"go.uber.org/zap"

	"github.com/carelingo/edgecache/internal/connectivity"
	"github.com/carelingo/edgecache/internal/pattern"
	"github.com/carelingo/edgecache/internal/usage"
)

// CurrentSchemaVersion is written by Save. Older versions are migrated
// on load.
const CurrentSchemaVersion = 2

// Sentinel errors for load outcomes the caller handles differently.
var (
	ErrNotFound = errors.New("persist: snapshot not found")
	ErrCorrupt  = errors.New("persist: snapshot corrupt")
)

// Snapshot is the whole-file persisted state: raw histories plus the
// tuned weights and detected patterns. Derived model state is rebuilt
// from the histories on startup.
type Snapshot struct {
	SchemaVersion int                             `json:"schema_version"`
	SavedAt       time.Time                       `json:"saved_at"`
	Events        []usage.Event                   `json:"events,omitempty"`
	Samples       []connectivity.Sample           `json:"samples,omitempty"`
	RiskWeights   connectivity.RiskWeights        `json:"risk_weights"`
	ScoreWeights  pattern.ScoreWeights            `json:"score_weights"`
	Patterns      []connectivity.RecurringPattern `json:"patterns,omitempty"`
}

// snapshotSchema rejects structurally broken files before any decode.
const snapshotSchema = `{
  "type": "object",
  "required": ["schema_version", "saved_at"],
  "properties": {
    "schema_version": {"type": "integer", "minimum": 1},
    "saved_at": {"type": "string"},
    "events": {"type": "array"},
    "samples": {"type": "array"},
    "risk_weights": {"type": "object"},
    "score_weights": {"type": "object"},
    "patterns": {"type": "array"}
  }
}`

// Store reads and writes snapshots at a fixed path.
type Store struct {
	path     string
	compress bool
	schema   *gojsonschema.Schema
	enc      *zstd.Encoder
	dec      *zstd.Decoder
	log      *zap.Logger
}

// NewStore creates a snapshot store. With compress set, files are
// written zstd-compressed; load handles both forms either way.
func NewStore(path string, compress bool, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(snapshotSchema))
	if err != nil {
		return nil, fmt.Errorf("persist: compile schema: %w", err)
	}
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("persist: init compressor: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("persist: init decompressor: %w", err)
	}
	return &Store{path: path, compress: compress, schema: schema, enc: enc, dec: dec, log: log}, nil
}

// Path returns the snapshot location.
func (s *Store) Path() string { return s.path }

// Save atomically writes the snapshot. The previous file stays intact
// until the new one is fully on disk.
func (s *Store) Save(snap *Snapshot) error {
	snap.SchemaVersion = CurrentSchemaVersion
	snap.SavedAt = time.Now().UTC()

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("persist: encode snapshot: %w", err)
	}
	if s.compress {
		data = s.enc.EncodeAll(data, nil)
	}

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("persist: create snapshot dir: %w", err)
		}
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("persist: write snapshot: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("persist: commit snapshot: %w", err)
	}

	s.log.Debug("snapshot saved",
		zap.String("path", s.path),
		zap.Int("events", len(snap.Events)),
		zap.Int("samples", len(snap.Samples)),
		zap.Int("bytes", len(data)))
	return nil
}

// zstd frame magic.
var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

func isCompressed(data []byte) bool {
	return len(data) >= 4 &&
		data[0] == zstdMagic[0] && data[1] == zstdMagic[1] &&
		data[2] == zstdMagic[2] && data[3] == zstdMagic[3]
}

// Load reads, validates, and if needed migrates the snapshot. Returns
// ErrNotFound when no snapshot exists and ErrCorrupt when the file
// cannot be trusted; callers fall back to empty state on either.
func (s *Store) Load() (*Snapshot, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("persist: read snapshot: %w", err)
	}

	if isCompressed(data) {
		data, err = s.dec.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: decompress: %v", ErrCorrupt, err)
		}
	}

	result, err := s.schema.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if !result.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrCorrupt, result.Errors()[0].String())
	}

	var head struct {
		SchemaVersion int `json:"schema_version"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	switch head.SchemaVersion {
	case 1:
		snap, err := migrateV1(data)
		if err != nil {
			return nil, err
		}
		s.log.Info("migrated snapshot", zap.Int("from_version", 1), zap.Int("to_version", CurrentSchemaVersion))
		return snap, nil
	case CurrentSchemaVersion:
		var snap Snapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		return &snap, nil
	default:
		return nil, fmt.Errorf("%w: unsupported schema version %d", ErrCorrupt, head.SchemaVersion)
	}
}
