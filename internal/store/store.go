// Package store implements the funnel's persistent, transactional
// embedding store: one documents table plus three parallel vector tables
// (v_full, v_short, v_bit) keyed by the same UUID primary key, backed by
// SQLite (github.com/mattn/go-sqlite3) with an in-memory arena mirror of
// the bit and Matryoshka-short columns for the hot search path.
//
// The in-memory mirror is the teacher's vectorArena/chunkMeta/
// partitionIndex design (sqlite-vec/store.go), adapted from one embedding
// column to two (bit + short) — the full-precision column is read from
// SQLite on demand during Stage 3, since that stage only ever touches the
// small Stage-2 candidate set.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"localmem/internal/codec"
	"localmem/internal/engineerr"
	"localmem/internal/simdkernel"
)

// Document is the row shape returned by Get.
type Document struct {
	ID        string
	Title     string
	Content   string
	Metadata  json.RawMessage
	CreatedAt uint64
}

// bitArena stores packed bit-vectors contiguously, one fixed-width slot
// per document, for cache-friendly sequential Hamming scans.
type bitArena struct {
	data  []byte
	width int
}

func (a *bitArena) get(slot int) []byte {
	start := slot * a.width
	return a.data[start : start+a.width]
}

func (a *bitArena) append(v []byte) {
	a.data = append(a.data, v...)
}

// floatArena stores float32 vectors contiguously, one fixed-width slot per
// document — directly the teacher's vectorArena shape.
type floatArena struct {
	data []float32
	dim  int
}

func (a *floatArena) get(slot int) []float32 {
	start := slot * a.dim
	return a.data[start : start+a.dim]
}

func (a *floatArena) append(v []float32) {
	a.data = append(a.data, v...)
}

// Store is the shared, concurrency-safe handle to one embedding database.
// A single Store is created per process and passed by reference to every
// insert/search caller (spec.md §5, §9 "shared handles across threads").
type Store struct {
	db *sql.DB
	mu sync.RWMutex

	dimension int // D
	shortDim  int // M = floor(D/3)
	bitWidth  int // ceil(D/8)

	ids      []string
	idToSlot map[string]int
	bits     bitArena
	shorts   floatArena
}

// Open opens (creating if necessary) a store at path for the given
// dimension D. If the database already recorded a different D at
// creation, Open fails with DimensionMismatch — D is fixed for the
// lifetime of a database (spec.md §4.8).
func Open(path string, dimension int) (*Store, error) {
	if dimension <= 0 {
		return nil, engineerr.New(engineerr.InvalidArgument, "open: dimension must be positive")
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, engineerr.Wrap(engineerr.StorageUnavailable, "open database", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, engineerr.Wrap(engineerr.StorageUnavailable, "ping database", err)
	}

	// WAL allows concurrent readers alongside the single writer; use
	// more than one connection so reads don't queue behind a writer.
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(0)

	if err := configurePragmas(db); err != nil {
		db.Close()
		return nil, engineerr.Wrap(engineerr.StorageUnavailable, "configure pragmas", err)
	}
	if err := createTables(db); err != nil {
		db.Close()
		return nil, engineerr.Wrap(engineerr.StorageUnavailable, "create tables", err)
	}

	if err := bindDimension(db, dimension); err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{
		db:        db,
		dimension: dimension,
		shortDim:  codec.MatryoshkaDim(dimension),
		bitWidth:  (dimension + 7) / 8,
		idToSlot:  make(map[string]int),
	}
	if err := s.loadCache(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Dimension returns D.
func (s *Store) Dimension() int { return s.dimension }

// ShortDimension returns M = floor(D/3).
func (s *Store) ShortDimension() int { return s.shortDim }

func bindDimension(db *sql.DB, dimension int) error {
	var recorded string
	err := db.QueryRow(`SELECT value FROM meta WHERE key = 'dimension'`).Scan(&recorded)
	switch {
	case err == sql.ErrNoRows:
		_, err := db.Exec(`INSERT INTO meta (key, value) VALUES ('dimension', ?)`, fmt.Sprint(dimension))
		if err != nil {
			return engineerr.Wrap(engineerr.StorageUnavailable, "record dimension", err)
		}
		return nil
	case err != nil:
		return engineerr.Wrap(engineerr.StorageUnavailable, "read recorded dimension", err)
	}
	if recorded != fmt.Sprint(dimension) {
		return engineerr.New(engineerr.DimensionMismatch,
			fmt.Sprintf("database was created with dimension %s, cannot open with %d", recorded, dimension))
	}
	return nil
}

// loadCache rebuilds the in-memory bit/short arenas from SQLite. Called
// once at Open so a restarted process immediately has a working Stage-1/
// Stage-2 index (spec.md §4.3 "survive process restart").
func (s *Store) loadCache() error {
	rows, err := s.db.Query(`
		SELECT d.id, b.embedding, sh.embedding
		FROM documents d
		JOIN vec_bit_docs b ON b.id = d.id
		JOIN vec_short_docs sh ON sh.id = d.id
		ORDER BY d.created_at ASC, d.id ASC
	`)
	if err != nil {
		return engineerr.Wrap(engineerr.StorageUnavailable, "load cache", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	idToSlot := make(map[string]int)
	bits := bitArena{width: s.bitWidth}
	shorts := floatArena{dim: s.shortDim}

	for rows.Next() {
		var id string
		var bitBlob, shortBlob []byte
		if err := rows.Scan(&id, &bitBlob, &shortBlob); err != nil {
			return engineerr.Wrap(engineerr.StorageUnavailable, "scan cache row", err)
		}
		if len(bitBlob) != s.bitWidth || len(shortBlob) != s.shortDim*4 {
			return engineerr.New(engineerr.StorageCorrupt,
				fmt.Sprintf("document %s has malformed vector rows", id))
		}
		idToSlot[id] = len(ids)
		ids = append(ids, id)
		bits.append(bitBlob)
		shorts.append(decodeFloats(shortBlob))
	}
	if err := rows.Err(); err != nil {
		return engineerr.Wrap(engineerr.StorageUnavailable, "iterate cache rows", err)
	}

	s.ids = ids
	s.idToSlot = idToSlot
	s.bits = bits
	s.shorts = shorts
	return nil
}

// Insert atomically writes the documents row and all three vector rows.
// Dimension mismatches against the database's D/M and duplicate ids are
// hard errors that leave the store in its pre-insert state.
func (s *Store) Insert(id, title, content string, metadata json.RawMessage, vFull, vShort []float32, vBit []byte) error {
	if len(vFull) != s.dimension {
		return engineerr.New(engineerr.DimensionMismatch,
			fmt.Sprintf("v_full has length %d, want %d", len(vFull), s.dimension))
	}
	if len(vShort) != s.shortDim {
		return engineerr.New(engineerr.DimensionMismatch,
			fmt.Sprintf("v_short has length %d, want %d", len(vShort), s.shortDim))
	}
	if len(vBit) != s.bitWidth {
		return engineerr.New(engineerr.DimensionMismatch,
			fmt.Sprintf("v_bit has length %d, want %d", len(vBit), s.bitWidth))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return engineerr.Wrap(engineerr.StorageUnavailable, "begin transaction", err)
	}

	createdAt := uint64(time.Now().Unix())
	_, err = tx.Exec(`INSERT INTO documents (id, title, content, metadata, created_at) VALUES (?, ?, ?, ?, ?)`,
		id, title, content, string(metadata), createdAt)
	if err != nil {
		tx.Rollback()
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return engineerr.New(engineerr.InvalidArgument, fmt.Sprintf("document %s already exists", id))
		}
		return engineerr.Wrap(engineerr.StorageUnavailable, "insert document row", err)
	}

	if _, err := tx.Exec(`INSERT INTO vec_full_docs (id, embedding) VALUES (?, ?)`, id, encodeFloats(vFull)); err != nil {
		tx.Rollback()
		return engineerr.Wrap(engineerr.StorageUnavailable, "insert v_full row", err)
	}
	if _, err := tx.Exec(`INSERT INTO vec_short_docs (id, embedding) VALUES (?, ?)`, id, encodeFloats(vShort)); err != nil {
		tx.Rollback()
		return engineerr.Wrap(engineerr.StorageUnavailable, "insert v_short row", err)
	}
	if _, err := tx.Exec(`INSERT INTO vec_bit_docs (id, embedding) VALUES (?, ?)`, id, vBit); err != nil {
		tx.Rollback()
		return engineerr.Wrap(engineerr.StorageUnavailable, "insert v_bit row", err)
	}

	if err := tx.Commit(); err != nil {
		return engineerr.Wrap(engineerr.StorageUnavailable, "commit transaction", err)
	}

	slot := len(s.ids)
	s.idToSlot[id] = slot
	s.ids = append(s.ids, id)
	s.bits.append(vBit)
	vShortCopy := make([]float32, len(vShort))
	copy(vShortCopy, vShort)
	s.shorts.append(vShortCopy)

	return nil
}

// Delete removes a document and all three companion vector rows
// atomically, then rebuilds the in-memory arenas without it.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	slot, ok := s.idToSlot[id]
	if !ok {
		return engineerr.New(engineerr.NotFound, fmt.Sprintf("document %s not found", id))
	}

	tx, err := s.db.Begin()
	if err != nil {
		return engineerr.Wrap(engineerr.StorageUnavailable, "begin transaction", err)
	}
	for _, table := range []string{"vec_bit_docs", "vec_short_docs", "vec_full_docs", "documents"} {
		if _, err := tx.Exec(fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, table), id); err != nil {
			tx.Rollback()
			return engineerr.Wrap(engineerr.StorageUnavailable, "delete "+table+" row", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return engineerr.Wrap(engineerr.StorageUnavailable, "commit transaction", err)
	}

	newIDs := make([]string, 0, len(s.ids)-1)
	newIdToSlot := make(map[string]int, len(s.ids)-1)
	newBits := bitArena{width: s.bitWidth}
	newShorts := floatArena{dim: s.shortDim}
	for i, docID := range s.ids {
		if i == slot {
			continue
		}
		newIdToSlot[docID] = len(newIDs)
		newIDs = append(newIDs, docID)
		newBits.append(s.bits.get(i))
		newShorts.append(s.shorts.get(i))
	}
	s.ids = newIDs
	s.idToSlot = newIdToSlot
	s.bits = newBits
	s.shorts = newShorts

	return nil
}

// Get returns a document's content and metadata, used by Stage 3 to join
// the final candidate ids back to displayable data.
func (s *Store) Get(id string) (*Document, error) {
	row := s.db.QueryRow(`SELECT id, title, content, metadata, created_at FROM documents WHERE id = ?`, id)
	var doc Document
	var metaStr string
	if err := row.Scan(&doc.ID, &doc.Title, &doc.Content, &metaStr, &doc.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, engineerr.New(engineerr.NotFound, fmt.Sprintf("document %s not found", id))
		}
		return nil, engineerr.Wrap(engineerr.StorageUnavailable, "get document", err)
	}
	doc.Metadata = json.RawMessage(metaStr)
	return &doc, nil
}

// GetFullVector returns v_full for id, used by Stage 3's full-D rerank.
func (s *Store) GetFullVector(id string) ([]float32, error) {
	row := s.db.QueryRow(`SELECT embedding FROM vec_full_docs WHERE id = ?`, id)
	var blob []byte
	if err := row.Scan(&blob); err != nil {
		if err == sql.ErrNoRows {
			return nil, engineerr.New(engineerr.NotFound, fmt.Sprintf("document %s not found", id))
		}
		return nil, engineerr.Wrap(engineerr.StorageUnavailable, "get full vector", err)
	}
	if len(blob) != s.dimension*4 {
		return nil, engineerr.New(engineerr.StorageCorrupt, fmt.Sprintf("document %s has malformed v_full row", id))
	}
	return decodeFloats(blob), nil
}

const minWorkersThreshold = 500

// adaptiveWorkers avoids goroutine fan-out overhead on small corpora,
// directly the teacher's heuristic (sqlite-vec/store.go).
func adaptiveWorkers(n int) int {
	if n < minWorkersThreshold {
		return 1
	}
	w := n / minWorkersThreshold
	if cpus := runtime.NumCPU(); w > cpus {
		w = cpus
	}
	if w < 1 {
		w = 1
	}
	return w
}

type hammingHit struct {
	slot int
	dist int
}

// HammingTopK returns up to k1 ids with smallest Hamming distance to
// queryBits, the Stage-1 scan of spec.md §4.4. Ties are broken by arena
// slot (insertion order), so results are deterministic within one call.
func (s *Store) HammingTopK(queryBits []byte, k1 int) ([]string, error) {
	if len(queryBits) != s.bitWidth {
		return nil, engineerr.New(engineerr.InvalidArgument, "hamming_topk: query bit-width mismatch")
	}
	if k1 <= 0 {
		return nil, engineerr.New(engineerr.InvalidArgument, "hamming_topk: k1 must be positive")
	}

	s.mu.RLock()
	n := len(s.ids)
	bits := s.bits
	slotIDs := s.ids
	s.mu.RUnlock()

	if n == 0 {
		return nil, nil
	}

	numWorkers := adaptiveWorkers(n)
	chunkSize := (n + numWorkers - 1) / numWorkers
	resultsCh := make(chan []hammingHit, numWorkers)

	for w := 0; w < numWorkers; w++ {
		start := w * chunkSize
		end := start + chunkSize
		if end > n {
			end = n
		}
		if start >= end {
			resultsCh <- nil
			continue
		}
		go func(start, end int) {
			local := make([]hammingHit, 0, end-start)
			for slot := start; slot < end; slot++ {
				dist, err := simdkernel.HammingDistance(queryBits, bits.get(slot))
				if err != nil {
					continue
				}
				local = append(local, hammingHit{slot: slot, dist: dist})
			}
			resultsCh <- local
		}(start, end)
	}

	all := make([]hammingHit, 0, n)
	for w := 0; w < numWorkers; w++ {
		all = append(all, <-resultsCh...)
	}

	sort.Slice(all, func(i, j int) bool {
		if all[i].dist != all[j].dist {
			return all[i].dist < all[j].dist
		}
		return all[i].slot < all[j].slot
	})
	if len(all) > k1 {
		all = all[:k1]
	}

	ids := make([]string, len(all))
	for i, h := range all {
		ids[i] = slotIDs[h.slot]
	}
	return ids, nil
}

// CandidateScore is one (id, distance) pair returned by Stage 2.
type CandidateScore struct {
	ID       string
	Distance float64
}

// CosineTopKInSet returns up to k2 ids from candidateIDs with smallest
// cosine distance to queryShort, the Stage-2 refinement of spec.md §4.5.
// Returns an empty slice (no error) if candidateIDs is empty.
func (s *Store) CosineTopKInSet(candidateIDs []string, queryShort []float32, k2 int) ([]CandidateScore, error) {
	if len(candidateIDs) == 0 {
		return nil, nil
	}
	if len(queryShort) != s.shortDim {
		return nil, engineerr.New(engineerr.InvalidArgument, "cosine_topk_in_set: query dimension mismatch")
	}
	if k2 <= 0 {
		return nil, engineerr.New(engineerr.InvalidArgument, "cosine_topk_in_set: k2 must be positive")
	}

	s.mu.RLock()
	slots := make([]int, 0, len(candidateIDs))
	for _, id := range candidateIDs {
		if slot, ok := s.idToSlot[id]; ok {
			slots = append(slots, slot)
		}
	}
	shorts := s.shorts
	ids := s.ids
	s.mu.RUnlock()

	type scored struct {
		slot int
		dist float64
	}
	scores := make([]scored, 0, len(slots))
	for _, slot := range slots {
		dist, err := simdkernel.CosineDistance(queryShort, shorts.get(slot))
		if err != nil {
			continue
		}
		scores = append(scores, scored{slot: slot, dist: dist})
	}

	sort.SliceStable(scores, func(i, j int) bool { return scores[i].dist < scores[j].dist })
	if len(scores) > k2 {
		scores = scores[:k2]
	}

	out := make([]CandidateScore, len(scores))
	for i, sc := range scores {
		out[i] = CandidateScore{ID: ids[sc.slot], Distance: sc.dist}
	}
	return out, nil
}
