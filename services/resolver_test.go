package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"petition-hand/config"
)

type fakeDirectory struct {
	identities []Identity
	loadErr    error
	findErr    error
	byName     []Identity
}

func (f *fakeDirectory) LoadAll(ctx context.Context) ([]Identity, error) {
	return f.identities, f.loadErr
}

func (f *fakeDirectory) FindByDocument(ctx context.Context, digits string) (*Identity, error) {
	if f.findErr != nil {
		return nil, f.findErr
	}
	for i := range f.identities {
		if f.identities[i].Document == digits {
			return &f.identities[i], nil
		}
	}
	return nil, nil
}

func (f *fakeDirectory) FindByName(ctx context.Context, query string) ([]Identity, error) {
	if f.findErr != nil {
		return nil, f.findErr
	}
	return f.byName, nil
}

func testConfig() *config.Config {
	return &config.Config{
		ResolverScoreStrict: 0.15,
		ResolverScoreLoose:  0.45,
		ResolverTopN:        5,
		DraftFreshness:      24 * time.Hour,
		PollInterval:        5 * time.Millisecond,
		PollTimeout:         250 * time.Millisecond,
	}
}

func testIdentities() []Identity {
	return []Identity{
		{Kind: "client", ID: 1, Document: "11144477735", Display: "Maria da Silva",
			Attributes: map[string]string{"name": "Maria da Silva", "city": "São Paulo"}},
		{Kind: "client", ID: 2, Document: "52998224725", Display: "João Pereira",
			Attributes: map[string]string{"name": "João Pereira", "city": "Campinas"}},
		{Kind: "client", ID: 3, Document: "", Display: "Mariana Costa",
			Attributes: map[string]string{"name": "Mariana Costa"}},
	}
}

func newTestResolver(t *testing.T, dir Directory) *Resolver {
	t.Helper()
	r := NewResolver(testConfig(), dir, zap.NewNop())
	if err := r.LoadSnapshot(context.Background()); err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	return r
}

func TestResolveExactShortCircuits(t *testing.T) {
	r := newTestResolver(t, &fakeDirectory{identities: testIdentities()})

	id, err := r.ResolveExact(context.Background(), "111.444.777-35")
	if err != nil {
		t.Fatal(err)
	}
	if id == nil || id.ID != 1 {
		t.Fatalf("expected client 1, got %+v", id)
	}
}

func TestSearchAutoSelectsExactDocument(t *testing.T) {
	r := newTestResolver(t, &fakeDirectory{identities: testIdentities()})

	res, err := r.SearchField(context.Background(), "claimant_cpf", "529.982.247-25")
	if err != nil {
		t.Fatal(err)
	}
	if res.AutoSelected == nil || res.AutoSelected.ID != 2 {
		t.Fatalf("expected auto-selected client 2, got %+v", res)
	}
}

func TestSearchConfidentNameMatch(t *testing.T) {
	r := newTestResolver(t, &fakeDirectory{identities: testIdentities()})

	// Accent-free query must still hit the accented record.
	res, err := r.SearchField(context.Background(), "claimant_name", "joao pereira")
	if err != nil {
		t.Fatal(err)
	}
	if res.AutoSelected == nil || res.AutoSelected.ID != 2 {
		t.Fatalf("expected confident match for client 2, got %+v", res)
	}
}

func TestSearchAmbiguousReturnsCandidates(t *testing.T) {
	r := newTestResolver(t, &fakeDirectory{identities: testIdentities()})

	res, err := r.SearchField(context.Background(), "claimant_name", "mar")
	if err != nil {
		t.Fatal(err)
	}
	if res.AutoSelected != nil {
		t.Fatalf("short prefix must not auto-select, got %+v", res.AutoSelected)
	}
	if len(res.Candidates) == 0 {
		t.Fatal("expected ranked candidates")
	}
	for i := 1; i < len(res.Candidates); i++ {
		if res.Candidates[i].Score < res.Candidates[i-1].Score {
			t.Fatal("candidates not ranked ascending by score")
		}
	}
}

func TestSearchFallsBackToDirectory(t *testing.T) {
	remote := []Identity{{Kind: "client", ID: 9, Display: "Remote Only"}}
	dir := &fakeDirectory{byName: remote}
	r := NewResolver(testConfig(), dir, zap.NewNop()) // snapshot never loaded

	res, err := r.SearchField(context.Background(), "claimant_name", "remote only")
	if err != nil {
		t.Fatal(err)
	}
	if res.AutoSelected == nil || res.AutoSelected.ID != 9 {
		t.Fatalf("expected single remote hit auto-selected, got %+v", res)
	}
}

func TestSearchNetworkFailureDegradesToNotice(t *testing.T) {
	dir := &fakeDirectory{findErr: errors.New("connection refused")}
	r := NewResolver(testConfig(), dir, zap.NewNop())

	res, err := r.SearchField(context.Background(), "claimant_name", "anyone")
	if err != nil {
		t.Fatal(err)
	}
	if res.Notice == "" {
		t.Fatal("expected a user-visible notice on lookup failure")
	}
	if res.AutoSelected != nil || len(res.Candidates) > 0 {
		t.Fatal("degraded lookup must report not-found")
	}
}

// hookDirectory lets a test interleave a second search while the first is
// still inside its directory fallback.
type hookDirectory struct {
	fakeDirectory
	onFindByName func()
}

func (h *hookDirectory) FindByName(ctx context.Context, query string) ([]Identity, error) {
	if h.onFindByName != nil {
		hook := h.onFindByName
		h.onFindByName = nil
		hook()
	}
	return h.fakeDirectory.FindByName(ctx, query)
}

func TestSearchSupersession(t *testing.T) {
	dir := &hookDirectory{}
	r := NewResolver(testConfig(), dir, zap.NewNop())

	// While the older query waits on the directory, a newer query for the
	// same field arrives. The older result must be discarded on arrival.
	dir.onFindByName = func() {
		if _, err := r.SearchField(context.Background(), "claimant_name", "newer query"); err != nil {
			t.Errorf("newer search must not be superseded: %v", err)
		}
	}

	_, err := r.SearchField(context.Background(), "claimant_name", "older query")
	if !errors.Is(err, ErrSuperseded) {
		t.Fatalf("expected ErrSuperseded, got %v", err)
	}
}

func TestAutocompletePrefersPrefixMatches(t *testing.T) {
	authorities := []Identity{
		{Kind: "authority", ID: 11, Display: "Departamento Estadual de Trânsito de São Paulo",
			Attributes: map[string]string{"acronym": "DETRAN-SP", "city": "São Paulo"}},
		{Kind: "authority", ID: 12, Display: "Junta Administrativa de Recursos de Infrações",
			Attributes: map[string]string{"acronym": "JARI"}},
	}
	r := newTestResolver(t, &fakeDirectory{identities: authorities})

	matches := r.Autocomplete("detran")
	if len(matches) != 1 || matches[0].Identity.ID != 11 {
		t.Fatalf("Autocomplete(detran) = %+v, want only DETRAN-SP", matches)
	}

	matches = r.Autocomplete("junta")
	if len(matches) != 1 || matches[0].Identity.ID != 12 {
		t.Fatalf("Autocomplete(junta) = %+v, want only JARI", matches)
	}

	// No prefix hit anywhere: fall back to the fuzzy ranking.
	matches = r.Autocomplete("transito")
	if len(matches) == 0 || matches[0].Identity.ID != 11 {
		t.Fatalf("Autocomplete(transito) fallback = %+v", matches)
	}
}

func TestNormalizedEditDistance(t *testing.T) {
	tests := []struct {
		a, b string
		max  float64
		min  float64
	}{
		{"maria", "maria", 0, 0},
		{"maria", "marla", 0.21, 0.19}, // one substitution over five runes
		{"abc", "xyz", 1.0, 1.0},
	}
	for _, tt := range tests {
		got := normalizedEditDistance(tt.a, tt.b)
		if got < tt.min || got > tt.max {
			t.Errorf("normalizedEditDistance(%q, %q) = %f, want within [%f, %f]",
				tt.a, tt.b, got, tt.min, tt.max)
		}
	}
}

func TestNormalizeQuery(t *testing.T) {
	if got := normalizeQuery("  João   DA  Silva "); got != "joao da silva" {
		t.Errorf("normalizeQuery = %q", got)
	}
}
