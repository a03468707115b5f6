package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"unicode"

	"go.uber.org/zap"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"petition-hand/config"
	"petition-hand/validators"
)

// Identity is the uniform view of a client or authority the resolver
// indexes for a session. Attributes carry the autofill source values keyed
// by domain field name.
type Identity struct {
	Kind       string            `json:"kind"` // client | authority
	ID         uint              `json:"id"`
	Document   string            `json:"document,omitempty"` // cpf/cnpj digits
	Display    string            `json:"display"`
	Attributes map[string]string `json:"attributes"`
}

// Match pairs a candidate with its score. Lower scores are better matches;
// zero is an exact hit.
type Match struct {
	Identity Identity `json:"identity"`
	Score    float64  `json:"score"`
}

// SearchResult is what a field-level identity search produces. Exactly one
// of AutoSelected or Candidates is meaningful; Notice carries the
// non-blocking message shown when lookups degrade.
type SearchResult struct {
	AutoSelected *Identity `json:"auto_selected,omitempty"`
	Candidates   []Match   `json:"candidates,omitempty"`
	Notice       string    `json:"notice,omitempty"`
}

// Directory is the identity store the resolver snapshots from and falls
// back to when the local index has no confident answer.
type Directory interface {
	LoadAll(ctx context.Context) ([]Identity, error)
	FindByDocument(ctx context.Context, digits string) (*Identity, error)
	FindByName(ctx context.Context, query string) ([]Identity, error)
}

// ErrSuperseded is returned when a newer search for the same field started
// while this one was running. Its result must be discarded.
var ErrSuperseded = errors.New("search superseded by a newer query")

type indexEntry struct {
	identity Identity
	fields   []indexedField
}

type indexedField struct {
	value  string // normalized
	weight float64
}

// Resolver ranks identity records against free-form queries. The snapshot
// is loaded once per session and treated as immutable; the source of truth
// stays in the directory.
type Resolver struct {
	cfg       *config.Config
	logger    *zap.Logger
	directory Directory

	mu       sync.Mutex
	entries  []indexEntry
	loaded   bool
	inflight map[string]int // field id -> latest search generation
}

// NewResolver creates a resolver over the given directory.
func NewResolver(cfg *config.Config, directory Directory, logger *zap.Logger) *Resolver {
	return &Resolver{
		cfg:       cfg,
		logger:    logger,
		directory: directory,
		inflight:  map[string]int{},
	}
}

// LoadSnapshot fetches the bounded session snapshot and builds the index.
// A load failure leaves the resolver usable: searches then go straight to
// the directory fallback.
func (r *Resolver) LoadSnapshot(ctx context.Context) error {
	identities, err := r.directory.LoadAll(ctx)
	if err != nil {
		r.logger.Warn("identity snapshot load failed, fuzzy index disabled", zap.Error(err))
		return err
	}
	entries := make([]indexEntry, 0, len(identities))
	for _, id := range identities {
		entries = append(entries, buildEntry(id))
	}
	r.mu.Lock()
	r.entries = entries
	r.loaded = true
	r.mu.Unlock()
	r.logger.Info("identity snapshot indexed", zap.Int("records", len(entries)))
	return nil
}

func buildEntry(id Identity) indexEntry {
	e := indexEntry{identity: id}
	add := func(value string, weight float64) {
		if v := normalizeQuery(value); v != "" {
			e.fields = append(e.fields, indexedField{value: v, weight: weight})
		}
	}
	add(id.Document, 1.0)
	add(id.Display, 0.9)
	add(id.Attributes["acronym"], 0.8)
	add(id.Attributes["email"], 0.5)
	add(id.Attributes["city"], 0.3)
	return e
}

// ResolveExact looks a record up by document number. The exact path is
// authoritative: a hit short-circuits any fuzzy search.
func (r *Resolver) ResolveExact(ctx context.Context, idValue string) (*Identity, error) {
	digits := validators.OnlyDigits(idValue)
	if digits == "" {
		return nil, nil
	}

	r.mu.Lock()
	for i := range r.entries {
		if r.entries[i].identity.Document == digits {
			id := r.entries[i].identity
			r.mu.Unlock()
			return &id, nil
		}
	}
	r.mu.Unlock()

	id, err := r.directory.FindByDocument(ctx, digits)
	if err != nil {
		r.logger.Warn("exact lookup fallback failed", zap.Error(err))
		return nil, nil // degrade to not-found, never interrupt editing
	}
	return id, nil
}

// SearchField runs a ranked search for a query typed into a given form
// field. Only one search per field is live at a time: starting a new one
// supersedes the previous, whose result is discarded on arrival.
func (r *Resolver) SearchField(ctx context.Context, fieldID, query string) (*SearchResult, error) {
	r.mu.Lock()
	r.inflight[fieldID]++
	gen := r.inflight[fieldID]
	r.mu.Unlock()

	result := r.search(ctx, query)

	r.mu.Lock()
	stale := r.inflight[fieldID] != gen
	r.mu.Unlock()
	if stale {
		return nil, ErrSuperseded
	}
	return result, nil
}

// Autocomplete ranks entries whose indexed fields start with the query,
// for as-you-type suggestion lists. Prefix hits rank ahead of everything
// else; with no prefix hit at all the regular fuzzy ranking answers.
func (r *Resolver) Autocomplete(query string) []Match {
	normalized := normalizeQuery(query)
	if normalized == "" {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var matches []Match
	for i := range r.entries {
		best := 2.0
		for _, f := range r.entries[i].fields {
			if !strings.HasPrefix(f.value, normalized) {
				continue
			}
			raw := 0.1 * (1.0 - float64(len(normalized))/float64(len(f.value)))
			if s := raw / f.weight; s < best {
				best = s
			}
		}
		if best > 1.0 {
			continue
		}
		matches = append(matches, Match{Identity: r.entries[i].identity, Score: best})
	}
	if len(matches) == 0 {
		return rankEntries(r.entries, normalized, r.cfg.ResolverTopN)
	}

	for i := 1; i < len(matches); i++ {
		for j := i; j > 0 && matches[j].Score < matches[j-1].Score; j-- {
			matches[j], matches[j-1] = matches[j-1], matches[j]
		}
	}
	if r.cfg.ResolverTopN > 0 && len(matches) > r.cfg.ResolverTopN {
		matches = matches[:r.cfg.ResolverTopN]
	}
	return matches
}

func (r *Resolver) search(ctx context.Context, query string) *SearchResult {
	digits := validators.OnlyDigits(query)
	digitQuery := len(digits) >= 8 && len(digits) >= len(strings.TrimSpace(query))-4

	// Exact document match wins outright.
	if digitQuery {
		if id, _ := r.ResolveExact(ctx, digits); id != nil {
			return &SearchResult{AutoSelected: id}
		}
	}

	normalized := normalizeQuery(query)
	if normalized == "" {
		return &SearchResult{}
	}

	r.mu.Lock()
	loaded := r.loaded && len(r.entries) > 0
	matches := make([]Match, 0, r.cfg.ResolverTopN)
	if loaded {
		matches = rankEntries(r.entries, normalized, r.cfg.ResolverTopN)
	}
	r.mu.Unlock()

	threshold := r.cfg.ResolverScoreLoose
	if digitQuery {
		threshold = r.cfg.ResolverScoreStrict
	}
	// Auto-select needs one confident match, not several: two candidates
	// under the threshold means the user has to disambiguate.
	if len(matches) > 0 && matches[0].Score <= threshold &&
		(len(matches) == 1 || matches[1].Score > threshold) {
		id := matches[0].Identity
		return &SearchResult{AutoSelected: &id}
	}

	// No confident local answer: ask the directory before giving up.
	if !loaded || len(matches) == 0 {
		remote, err := r.directory.FindByName(ctx, query)
		if err != nil {
			r.logger.Warn("remote identity lookup failed", zap.String("query", query), zap.Error(err))
			return &SearchResult{Notice: "lookup unavailable, fill the fields manually"}
		}
		if len(remote) == 1 {
			return &SearchResult{AutoSelected: &remote[0]}
		}
		if len(remote) > 0 {
			candidates := make([]Match, 0, len(remote))
			for _, id := range remote {
				candidates = append(candidates, Match{Identity: id, Score: threshold})
			}
			return &SearchResult{Candidates: candidates}
		}
		return &SearchResult{Notice: "no matching record found"}
	}

	return &SearchResult{Candidates: matches}
}

// rankEntries scores every entry and returns the best topN, ascending.
func rankEntries(entries []indexEntry, query string, topN int) []Match {
	var matches []Match
	for i := range entries {
		score := entryScore(&entries[i], query)
		if score > 1.0 {
			continue
		}
		matches = append(matches, Match{Identity: entries[i].identity, Score: score})
	}
	// insertion sort keeps ties stable in snapshot order
	for i := 1; i < len(matches); i++ {
		for j := i; j > 0 && matches[j].Score < matches[j-1].Score; j-- {
			matches[j], matches[j-1] = matches[j-1], matches[j]
		}
	}
	if topN > 0 && len(matches) > topN {
		matches = matches[:topN]
	}
	return matches
}

// entryScore is the best weighted field score for the entry. A field's raw
// score is 0 for equality, a length-based fraction for substring
// containment, and the normalized edit distance otherwise; the weight
// divides it so heavier fields match more easily.
func entryScore(e *indexEntry, query string) float64 {
	best := 2.0
	for _, f := range e.fields {
		var raw float64
		switch {
		case f.value == query:
			raw = 0
		case strings.Contains(f.value, query):
			raw = 0.25 * (1.0 - float64(len(query))/float64(len(f.value)))
		default:
			raw = normalizedEditDistance(query, f.value)
		}
		if s := raw / f.weight; s < best {
			best = s
		}
	}
	return best
}

// normalizedEditDistance is the Levenshtein distance divided by the longer
// length. Standard O(m×n) DP; identity fields are short.
func normalizedEditDistance(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	m, n := len(ra), len(rb)
	if m == 0 || n == 0 {
		return 1.0
	}
	prev := make([]int, n+1)
	curr := make([]int, n+1)
	for j := 0; j <= n; j++ {
		prev[j] = j
	}
	for i := 1; i <= m; i++ {
		curr[0] = i
		for j := 1; j <= n; j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = minInt(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	longer := m
	if n > longer {
		longer = n
	}
	return float64(prev[n]) / float64(longer)
}

var foldTransformer = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// normalizeQuery lowercases, strips accents and collapses whitespace so
// "João" and "joao" index identically.
func normalizeQuery(s string) string {
	folded, _, err := transform.String(foldTransformer, s)
	if err != nil {
		folded = s
	}
	return strings.Join(strings.Fields(strings.ToLower(folded)), " ")
}

func minInt(values ...int) int {
	m := values[0]
	for _, v := range values[1:] {
		if v < m {
			m = v
		}
	}
	return m
}
