package toolindex

import (
	"context"
	"embed"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/yubingjiaocn/mcp-gateway-registry/pkg/db"
	"github.com/yubingjiaocn/mcp-gateway-registry/pkg/log"
)

//go:embed migrations/*.sql
var embeddingMigrations embed.FS

// schemaVersion changes whenever the shape or meaning of a cached
// vector changes (e.g. a new embedder algorithm), forcing every cached
// row to be recomputed rather than served stale.
const schemaVersion = 1

// sidecarMetadata is the JSON document written next to the embedding
// cache's SQLite file recording what produced it, so a mismatch (a
// schema bump, a dimensionality change) or a corrupt/missing file
// triggers a full rebuild instead of serving vectors computed under a
// different scheme.
type sidecarMetadata struct {
	SchemaVersion int `json:"schema_version"`
	VectorDim     int `json:"vector_dim"`
}

func sidecarPath(dbFile string) string { return dbFile + ".meta.json" }

// Store persists the corpus's computed vectors, in the teacher's own
// "OCI-pulled vectors.db" spirit but written locally: one row per
// (service_path, tool_name), so a restart rebuilds embeddings only for
// tools it hasn't seen before rather than recomputing the whole corpus.
// modernc.org/sqlite ships no loadable vector-similarity extension, so
// similarity search itself stays in-process (see index.go); this store
// is purely a computed-vector cache.
type Store struct {
	db *sqlx.DB
}

// Open opens (and migrates) the embedding cache at dbFile, clearing it
// first if the metadata sidecar is missing, corrupt, or describes a
// different schema/dimensionality than the one currently in use.
func Open(dbFile string) (*Store, error) {
	conn, err := db.Open(dbFile, embeddingMigrations, "migrations")
	if err != nil {
		return nil, err
	}
	s := &Store{db: conn}
	if err := s.reconcileMetadata(dbFile); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) reconcileMetadata(dbFile string) error {
	path := sidecarPath(dbFile)
	current := sidecarMetadata{SchemaVersion: schemaVersion, VectorDim: VectorDim}

	if data, err := os.ReadFile(path); err == nil {
		var existing sidecarMetadata
		if json.Unmarshal(data, &existing) == nil && existing == current {
			return nil
		}
		log.Base().Warn().Str("path", path).Msg("tool index metadata mismatch or corrupt, clearing embedding cache")
	}

	if _, err := s.db.Exec(`DELETE FROM tool_embeddings`); err != nil {
		return fmt.Errorf("clearing embedding cache: %w", err)
	}

	out, err := json.MarshalIndent(current, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling tool index metadata: %w", err)
	}
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return fmt.Errorf("writing tool index metadata: %w", err)
	}
	return nil
}

type embeddingRow struct {
	ServicePath string    `db:"service_path"`
	ToolName    string    `db:"tool_name"`
	Vector      []byte    `db:"vector"`
	UpdatedAt   time.Time `db:"updated_at"`
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.BigEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(buf []byte) []float32 {
	out := make([]float32, len(buf)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.BigEndian.Uint32(buf[i*4:]))
	}
	return out
}

// Get returns the cached vector for (servicePath, toolName), if any.
func (s *Store) Get(ctx context.Context, servicePath, toolName string) ([]float32, bool, error) {
	var row embeddingRow
	err := s.db.GetContext(ctx, &row, `
		SELECT service_path, tool_name, vector, updated_at
		FROM tool_embeddings WHERE service_path = ? AND tool_name = ?
	`, servicePath, toolName)
	if err != nil {
		return nil, false, nil //nolint:nilerr // cache miss, not a hard error
	}
	return decodeVector(row.Vector), true, nil
}

// Put upserts the vector computed for (servicePath, toolName).
func (s *Store) Put(ctx context.Context, servicePath, toolName string, vector []float32) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tool_embeddings (service_path, tool_name, vector, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(service_path, tool_name) DO UPDATE SET vector=excluded.vector, updated_at=excluded.updated_at
	`, servicePath, toolName, encodeVector(vector), time.Now())
	if err != nil {
		return fmt.Errorf("caching tool embedding: %w", err)
	}
	return nil
}

// DeleteService removes every cached vector for a removed Service.
func (s *Store) DeleteService(ctx context.Context, servicePath string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM tool_embeddings WHERE service_path = ?`, servicePath)
	if err != nil {
		return fmt.Errorf("evicting cached embeddings for %q: %w", servicePath, err)
	}
	return nil
}
