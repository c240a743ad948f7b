// Package l3 implements the experience tier of the hierarchical memory
// stack: an append-only JSONL log plus a secondary keyword index, backed by
// an embedded chromem-go collection so the same store can serve either
// keyword or vector-similarity retrieval behind one unchanged interface —
// the "vector-ready" requirement from spec §4.1.
package l3

import (
	"bufio"
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/philippgille/chromem-go"
)

// MaxKeywords is the cap on extracted keywords per experience.
const MaxKeywords = 20

var (
	tokenPattern = regexp.MustCompile(`\b[a-z]{3,}\b`)
	stopwords    = map[string]bool{
		"the": true, "and": true, "for": true, "with": true, "was": true,
		"that": true, "this": true, "from": true, "are": true, "were": true,
		"has": true, "have": true, "had": true, "not": true, "but": true,
		"you": true, "your": true, "all": true, "can": true, "out": true,
	}
)

// Experience is one entry in the append-only log.
type Experience struct {
	ID        string                 `json:"id"`
	AgentID   string                 `json:"agentId"`
	Content   string                 `json:"content"`
	Type      string                 `json:"type"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Score     *float64               `json:"score,omitempty"`
	Keywords  []string               `json:"keywords"`
	Timestamp time.Time              `json:"timestamp"`
}

type index struct {
	ByAgent map[string][]string `json:"byAgent"`
	ByType  map[string][]string `json:"byType"`
	Total   int                 `json:"total"`
}

// Store is the L3 experience store.
type Store struct {
	mu        sync.Mutex
	dir       string
	logPath   string
	indexPath string
	idx       index
	entries   map[string]Experience // id -> experience, hydrated from the log
	db        *chromem.DB
	coll      *chromem.Collection
}

// Open creates (or reopens, replaying the JSONL log) the experience store
// rooted at dir, which will contain experiences.jsonl and index.json per
// spec §6's filesystem layout.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("l3: create directory: %w", err)
	}
	s := &Store{
		dir:       dir,
		logPath:   filepath.Join(dir, "experiences.jsonl"),
		indexPath: filepath.Join(dir, "index.json"),
		idx:       index{ByAgent: map[string][]string{}, ByType: map[string][]string{}},
		entries:   map[string]Experience{},
		db:        chromem.NewDB(),
	}
	coll, err := s.db.CreateCollection("experiences", nil, embed)
	if err != nil {
		return nil, fmt.Errorf("l3: create collection: %w", err)
	}
	s.coll = coll

	if err := s.RebuildIndex(); err != nil {
		return nil, err
	}
	return s, nil
}

// StoreExperience appends a new experience, updates the index, and indexes
// the content for similarity search. Returns the generated id.
func (s *Store) StoreExperience(agentID, content, expType string, metadata map[string]interface{}, score *float64) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	e := Experience{
		ID:        generateID(agentID, content, now),
		AgentID:   agentID,
		Content:   content,
		Type:      expType,
		Metadata:  metadata,
		Score:     score,
		Keywords:  extractKeywords(content),
		Timestamp: now,
	}

	if err := s.appendLocked(e); err != nil {
		return "", err
	}
	return e.ID, nil
}

func (s *Store) appendLocked(e Experience) error {
	f, err := os.OpenFile(s.logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("l3: open log: %w", err)
	}
	defer f.Close()

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("l3: marshal experience: %w", err)
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("l3: write experience: %w", err)
	}

	s.entries[e.ID] = e
	s.idx.ByAgent[e.AgentID] = append(s.idx.ByAgent[e.AgentID], e.ID)
	s.idx.ByType[e.Type] = append(s.idx.ByType[e.Type], e.ID)
	s.idx.Total++

	if err := s.coll.AddDocument(context.Background(), chromem.Document{
		ID:      e.ID,
		Content: e.Content,
		Metadata: map[string]string{
			"agentId": e.AgentID,
			"type":    e.Type,
		},
	}); err != nil {
		return fmt.Errorf("l3: index document: %w", err)
	}

	return s.saveIndexLocked()
}

func (s *Store) saveIndexLocked() error {
	data, err := json.MarshalIndent(s.idx, "", "  ")
	if err != nil {
		return fmt.Errorf("l3: marshal index: %w", err)
	}
	tmp := s.indexPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("l3: write index: %w", err)
	}
	return os.Rename(tmp, s.indexPath)
}

// RetrieveRecent returns the last limit experiences for an agent, newest
// first, optionally filtered by type.
func (s *Store) RetrieveRecent(agentID string, limit int, typeFilter string) []Experience {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := s.idx.ByAgent[agentID]
	var out []Experience
	for i := len(ids) - 1; i >= 0 && len(out) < limit; i-- {
		e, ok := s.entries[ids[i]]
		if !ok {
			continue
		}
		if typeFilter != "" && e.Type != typeFilter {
			continue
		}
		out = append(out, e)
	}
	return out
}

// KeywordMatch is one scored keyword-search result.
type KeywordMatch struct {
	Experience Experience
	Score      float64
}

// SearchByKeywords scores every experience (optionally filtered by agent) by
// matches/len(keywords), descending.
func (s *Store) SearchByKeywords(keywords []string, limit int, agentIDFilter string) []KeywordMatch {
	s.mu.Lock()
	defer s.mu.Unlock()

	lowered := make([]string, len(keywords))
	for i, k := range keywords {
		lowered[i] = strings.ToLower(k)
	}
	if len(lowered) == 0 {
		return nil
	}

	var matches []KeywordMatch
	for _, e := range s.entries {
		if agentIDFilter != "" && e.AgentID != agentIDFilter {
			continue
		}
		hits := 0
		set := make(map[string]bool, len(e.Keywords))
		for _, k := range e.Keywords {
			set[k] = true
		}
		for _, k := range lowered {
			if set[k] {
				hits++
			}
		}
		if hits == 0 {
			continue
		}
		matches = append(matches, KeywordMatch{Experience: e, Score: float64(hits) / float64(len(lowered))})
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].Experience.Timestamp.After(matches[j].Experience.Timestamp)
	})
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches
}

// SimilarityMatch is one cosine-similarity search result.
type SimilarityMatch struct {
	Experience Experience
	Similarity float32
}

// SearchBySimilarity queries the embedded chromem-go collection. This is
// the vector backend the keyword interface was designed to accommodate
// without a signature change; the embedding function is a deterministic
// bag-of-words hash (no external embedding API is assumed).
func (s *Store) SearchBySimilarity(ctx context.Context, query string, limit int) ([]SimilarityMatch, error) {
	s.mu.Lock()
	n := s.coll.Count()
	s.mu.Unlock()
	if n == 0 {
		return nil, nil
	}
	if limit > n {
		limit = n
	}

	results, err := s.coll.Query(ctx, query, limit, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("l3: similarity query: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SimilarityMatch, 0, len(results))
	for _, r := range results {
		if e, ok := s.entries[r.ID]; ok {
			out = append(out, SimilarityMatch{Experience: e, Similarity: r.Similarity})
		}
	}
	return out, nil
}

// GetByType returns the most recent `limit` experiences of a given type.
func (s *Store) GetByType(expType string, limit int) []Experience {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := s.idx.ByType[expType]
	var out []Experience
	for i := len(ids) - 1; i >= 0 && len(out) < limit; i-- {
		if e, ok := s.entries[ids[i]]; ok {
			out = append(out, e)
		}
	}
	return out
}

// GetHighScoring returns experiences with score >= minScore, descending.
func (s *Store) GetHighScoring(minScore float64, limit int, agentIDFilter string) []Experience {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Experience
	for _, e := range s.entries {
		if e.Score == nil || *e.Score < minScore {
			continue
		}
		if agentIDFilter != "" && e.AgentID != agentIDFilter {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return *out[i].Score > *out[j].Score })
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Stats summarizes the store.
type Stats struct {
	Total      int            `json:"total"`
	AgentCount int            `json:"agentCount"`
	TypeCounts map[string]int `json:"typeCounts"`
}

// GetStats reports aggregate counts.
func (s *Store) GetStats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	typeCounts := make(map[string]int, len(s.idx.ByType))
	for t, ids := range s.idx.ByType {
		typeCounts[t] = len(ids)
	}
	return Stats{Total: s.idx.Total, AgentCount: len(s.idx.ByAgent), TypeCounts: typeCounts}
}

// RebuildIndex replays the JSONL log from scratch, rebuilding both the
// secondary index and the similarity collection.
func (s *Store) RebuildIndex() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.idx = index{ByAgent: map[string][]string{}, ByType: map[string][]string{}}
	s.entries = map[string]Experience{}

	if s.coll != nil {
		_ = s.db.DeleteCollection("experiences")
	}
	coll, err := s.db.CreateCollection("experiences", nil, embed)
	if err != nil {
		return fmt.Errorf("l3: recreate collection: %w", err)
	}
	s.coll = coll

	f, err := os.Open(s.logPath)
	if err != nil {
		if os.IsNotExist(err) {
			return s.saveIndexLocked()
		}
		return fmt.Errorf("l3: open log: %w", err)
	}
	defer f.Close()

	ctx := context.Background()
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e Experience
		if err := json.Unmarshal(line, &e); err != nil {
			continue
		}
		s.entries[e.ID] = e
		s.idx.ByAgent[e.AgentID] = append(s.idx.ByAgent[e.AgentID], e.ID)
		s.idx.ByType[e.Type] = append(s.idx.ByType[e.Type], e.ID)
		s.idx.Total++
		_ = s.coll.AddDocument(ctx, chromem.Document{
			ID:       e.ID,
			Content:  e.Content,
			Metadata: map[string]string{"agentId": e.AgentID, "type": e.Type},
		})
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("l3: scan log: %w", err)
	}

	return s.saveIndexLocked()
}

func generateID(agentID, content string, ts time.Time) string {
	h := md5.New()
	truncated := content
	if len(truncated) > 100 {
		truncated = truncated[:100]
	}
	fmt.Fprintf(h, "%s%s%s", agentID, truncated, ts.Format(time.RFC3339Nano))
	return hex.EncodeToString(h.Sum(nil))[:12]
}

func extractKeywords(content string) []string {
	lowered := strings.ToLower(content)
	tokens := tokenPattern.FindAllString(lowered, -1)

	seen := make(map[string]bool)
	var out []string
	for _, t := range tokens {
		if stopwords[t] || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
		if len(out) >= MaxKeywords {
			break
		}
	}
	return out
}

// embed is a deterministic, dependency-free bag-of-words embedding: each
// token is hashed into one of embeddingDims buckets and the resulting
// vector is L2-normalized. It keeps the System provider-agnostic (spec §1:
// "the System never assumes a particular LLM provider") while still giving
// chromem-go's cosine search something meaningful to compare.
const embeddingDims = 128

func embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, embeddingDims)
	for _, tok := range tokenPattern.FindAllString(strings.ToLower(text), -1) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(tok))
		vec[h.Sum32()%embeddingDims]++
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		return vec, nil
	}
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec, nil
}
