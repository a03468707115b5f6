package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"petition-hand/storage"
)

func intPtr(n int) *int { return &n }

func clientIdentityFixture() Identity {
	return Identity{
		Kind:     "client",
		ID:       1,
		Document: "11144477735",
		Display:  "Maria da Silva",
		Attributes: map[string]string{
			"name":        "Maria da Silva",
			"cpf":         "11144477735",
			"email":       "maria@example.com",
			"city":        "São Paulo",
			"postal_code": "01310100",
		},
	}
}

func newSession(registry *FormRegistry) *FormSession {
	return registry.Open("form-1", "appeal-template", nil)
}

func newTestRegistry() *FormRegistry {
	cfg := testConfig()
	return NewFormRegistry(cfg, storage.NewMemoryKV(), zap.NewNop())
}

func TestAutofillWritesEmptyFields(t *testing.T) {
	registry := newTestRegistry()
	session := newSession(registry)
	autofill := NewAutofill(zap.NewNop())

	n, errs := autofill.Apply(session, clientIdentityFixture(), nil, false)

	assert.Equal(t, 5, n)
	assert.Empty(t, errs)
	assert.Equal(t, "Maria da Silva", session.Value("name"))
	// masks re-applied once, after the raw value settled
	assert.Equal(t, "111.444.777-35", session.Value("cpf"))
	assert.Equal(t, "01310-100", session.Value("postal_code"))
	assert.True(t, session.Programmatic("cpf"))
}

func TestAutofillNeverClobbersManualEdits(t *testing.T) {
	registry := newTestRegistry()
	session := newSession(registry)
	session.SetField("name", "Handwritten Name", false)
	autofill := NewAutofill(zap.NewNop())

	n, _ := autofill.Apply(session, clientIdentityFixture(), nil, false)

	assert.Equal(t, 4, n)
	assert.Equal(t, "Handwritten Name", session.Value("name"))
	assert.False(t, session.Programmatic("name"))
}

func TestAutofillOverwriteForcesWrite(t *testing.T) {
	registry := newTestRegistry()
	session := newSession(registry)
	session.SetField("name", "Handwritten Name", false)
	autofill := NewAutofill(zap.NewNop())

	n, _ := autofill.Apply(session, clientIdentityFixture(), nil, true)

	assert.Equal(t, 5, n)
	assert.Equal(t, "Maria da Silva", session.Value("name"))
}

func TestAutofillEntityPrefix(t *testing.T) {
	registry := newTestRegistry()
	session := newSession(registry)
	autofill := NewAutofill(zap.NewNop())

	n, _ := autofill.Apply(session, clientIdentityFixture(), intPtr(2), false)

	assert.Equal(t, 5, n)
	assert.Equal(t, "Maria da Silva", session.Value("entity_2_name"))
	assert.Equal(t, "", session.Value("name"))
}

func TestAutofillMarksDirtyOnce(t *testing.T) {
	registry := newTestRegistry()
	session := newSession(registry)
	autofill := NewAutofill(zap.NewNop())

	assert.Equal(t, FormClean, session.Phase())
	autofill.Apply(session, clientIdentityFixture(), nil, false)
	assert.Equal(t, FormDirty, session.Phase())

	// An identity with nothing to give must not dirty the form.
	clean := registry.Open("form-2", "appeal-template", nil)
	autofill.Apply(clean, Identity{Attributes: map[string]string{}}, nil, false)
	assert.Equal(t, FormClean, clean.Phase())
}

func TestAutofillSkipsEmptySourceAttributes(t *testing.T) {
	registry := newTestRegistry()
	session := newSession(registry)
	session.SetField("email", "", false)
	autofill := NewAutofill(zap.NewNop())

	identity := Identity{Attributes: map[string]string{"email": "", "name": "Someone"}}
	n, _ := autofill.Apply(session, identity, nil, true)

	assert.Equal(t, 1, n)
	assert.Equal(t, "", session.Value("email"))
}
