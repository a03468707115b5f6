package services

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"petition-hand/config"
	"petition-hand/storage"
)

// Form lifecycle phases. A session starts CLEAN, turns DIRTY on the first
// mutation after the snapshot, and ends SAVED, DISCARDED or SUBMITTED.
const (
	FormClean     = "CLEAN"
	FormDirty     = "DIRTY"
	FormSaved     = "SAVED"
	FormDiscarded = "DISCARDED"
	FormSubmitted = "SUBMITTED"
)

// FormSession owns the field values of one open generation form. Sessions
// are independent: concurrently open forms share no mutable state.
type FormSession struct {
	Slug         string
	TemplateSlug string

	mu           sync.Mutex
	bulkMu       sync.Mutex
	fieldValues  map[string]string
	snapshot     map[string]string
	phase        string
	suspended    bool
	programmatic map[string]bool
	required     []string
}

// SetRequired records the template's required field keys. The submission
// gate checks them even when the caller supplies no required list.
func (s *FormSession) SetRequired(keys []string) {
	s.mu.Lock()
	s.required = append([]string(nil), keys...)
	s.mu.Unlock()
}

// RequiredFields returns the template-required field keys.
func (s *FormSession) RequiredFields() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.required...)
}

// BeginBulk serializes bulk writes to this session and suspends change
// tracking for their duration. Bulk writes to different sessions proceed
// independently.
func (s *FormSession) BeginBulk() {
	s.bulkMu.Lock()
	s.Suspend()
}

// EndBulk re-enables change tracking and, when the bulk write changed
// anything, marks the session dirty exactly once.
func (s *FormSession) EndBulk(touched bool) {
	s.Resume()
	if touched {
		s.Touch()
	}
	s.bulkMu.Unlock()
}

// SetField records a field mutation. Programmatic writes (autofill) are
// flagged so masking and validation can tell them from user keystrokes.
func (s *FormSession) SetField(key, value string, programmatic bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fieldValues[key] = value
	s.programmatic[key] = programmatic
	if !s.suspended {
		s.markDirtyLocked()
	}
}

// Value returns the current value of a field.
func (s *FormSession) Value(key string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fieldValues[key]
}

// Values returns a copy of the full field map.
func (s *FormSession) Values() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.fieldValues))
	for k, v := range s.fieldValues {
		out[k] = v
	}
	return out
}

// Programmatic reports whether the last write to key came from autofill.
func (s *FormSession) Programmatic(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.programmatic[key]
}

// Suspend pauses change tracking while autofill bulk-writes fields, so a
// single fill does not raise a flood of unsaved-changes banners.
func (s *FormSession) Suspend() {
	s.mu.Lock()
	s.suspended = true
	s.mu.Unlock()
}

// Resume re-enables change tracking.
func (s *FormSession) Resume() {
	s.mu.Lock()
	s.suspended = false
	s.mu.Unlock()
}

// Touch marks the session dirty once, used after a bulk write completes.
func (s *FormSession) Touch() {
	s.mu.Lock()
	s.markDirtyLocked()
	s.mu.Unlock()
}

func (s *FormSession) markDirtyLocked() {
	if s.phase == FormClean || s.phase == FormSaved {
		s.phase = FormDirty
	}
}

// Phase returns the current lifecycle phase.
func (s *FormSession) Phase() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Dirty reports whether there are unsaved changes since the snapshot.
func (s *FormSession) Dirty() bool {
	return s.Phase() == FormDirty
}

// CanNavigateAway is the unload-protection decision: false means the UI
// must raise a blocking, cancelable confirmation before leaving.
func (s *FormSession) CanNavigateAway() bool {
	return !s.Dirty()
}

// Changed lists the keys whose value differs from the original snapshot.
func (s *FormSession) Changed() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var keys []string
	for k, v := range s.fieldValues {
		if s.snapshot[k] != v {
			keys = append(keys, k)
		}
	}
	for k, v := range s.snapshot {
		if _, ok := s.fieldValues[k]; !ok && v != "" {
			keys = append(keys, k)
		}
	}
	return keys
}

// MarkSubmitted clears the unsaved-changes state after a successful
// generation.
func (s *FormSession) MarkSubmitted() {
	s.setPhase(FormSubmitted)
}

func (s *FormSession) setPhase(phase string) {
	s.mu.Lock()
	s.phase = phase
	s.mu.Unlock()
}

// FormRegistry creates and tracks form sessions and owns draft and custom
// field-order persistence. Collaborators receive explicit *FormSession
// handles from here; there is no process-wide current form.
type FormRegistry struct {
	cfg    *config.Config
	kv     storage.KV
	logger *zap.Logger

	mu       sync.Mutex
	sessions map[string]*FormSession
}

// NewFormRegistry creates the registry over the local persistence surface.
func NewFormRegistry(cfg *config.Config, kv storage.KV, logger *zap.Logger) *FormRegistry {
	return &FormRegistry{
		cfg:      cfg,
		kv:       kv,
		logger:   logger,
		sessions: map[string]*FormSession{},
	}
}

// Open creates (or replaces) the session for a slug. The initial values
// become the change-detection snapshot.
func (r *FormRegistry) Open(slug, templateSlug string, initial map[string]string) *FormSession {
	values := make(map[string]string, len(initial))
	snapshot := make(map[string]string, len(initial))
	for k, v := range initial {
		values[k] = v
		snapshot[k] = v
	}
	session := &FormSession{
		Slug:         slug,
		TemplateSlug: templateSlug,
		fieldValues:  values,
		snapshot:     snapshot,
		phase:        FormClean,
		programmatic: map[string]bool{},
	}
	r.mu.Lock()
	r.sessions[slug] = session
	r.mu.Unlock()
	return session
}

// Session returns the open session for a slug.
func (r *FormRegistry) Session(slug string) (*FormSession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[slug]
	return s, ok
}

// Discard drops the session without saving.
func (r *FormRegistry) Discard(slug string) {
	r.mu.Lock()
	s, ok := r.sessions[slug]
	delete(r.sessions, slug)
	r.mu.Unlock()
	if ok {
		s.setPhase(FormDiscarded)
	}
}

func draftKey(slug string) string     { return "draft_" + slug }
func draftTimeKey(slug string) string { return "draft_" + slug + "_ts" }
func orderKey(template string) string { return "order_" + template }

// SaveDraft snapshots the session's field values under the slug's draft
// key together with a timestamp. Last write wins.
func (r *FormRegistry) SaveDraft(session *FormSession) error {
	payload, err := json.Marshal(session.Values())
	if err != nil {
		return err
	}
	if err := r.kv.Set(draftKey(session.Slug), string(payload)); err != nil {
		return err
	}
	if err := r.kv.Set(draftTimeKey(session.Slug), time.Now().UTC().Format(time.RFC3339)); err != nil {
		return err
	}
	session.setPhase(FormSaved)
	r.logger.Info("draft saved", zap.String("slug", session.Slug))
	return nil
}

// PendingDraft returns a saved draft for the slug if one exists within the
// freshness window. The draft is removed before returning, whatever the
// user answers to the restore prompt: it is offered exactly once. Stale or
// corrupted drafts are discarded silently.
func (r *FormRegistry) PendingDraft(slug string) (map[string]string, bool) {
	raw, ok := r.kv.Get(draftKey(slug))
	if !ok {
		return nil, false
	}

	defer func() {
		r.kv.Remove(draftKey(slug))
		r.kv.Remove(draftTimeKey(slug))
	}()

	ts, _ := r.kv.Get(draftTimeKey(slug))
	savedAt, err := time.Parse(time.RFC3339, ts)
	if err != nil || time.Since(savedAt) > r.cfg.DraftFreshness {
		r.logger.Debug("stale draft discarded", zap.String("slug", slug))
		return nil, false
	}

	var values map[string]string
	if err := json.Unmarshal([]byte(raw), &values); err != nil {
		r.logger.Warn("corrupted draft discarded", zap.String("slug", slug), zap.Error(err))
		return nil, false
	}
	return values, true
}

// RetireDraft removes any saved draft for a slug, used after a successful
// submission.
func (r *FormRegistry) RetireDraft(slug string) {
	r.kv.Remove(draftKey(slug))
	r.kv.Remove(draftTimeKey(slug))
}

// PurgeStaleDrafts removes every draft older than the freshness window.
// Wired to the nightly cron.
func (r *FormRegistry) PurgeStaleDrafts() int {
	purged := 0
	for _, key := range r.kv.Keys() {
		if !strings.HasPrefix(key, "draft_") || strings.HasSuffix(key, "_ts") {
			continue
		}
		slug := strings.TrimPrefix(key, "draft_")
		ts, _ := r.kv.Get(draftTimeKey(slug))
		savedAt, err := time.Parse(time.RFC3339, ts)
		if err == nil && time.Since(savedAt) <= r.cfg.DraftFreshness {
			continue
		}
		r.kv.Remove(key)
		r.kv.Remove(draftTimeKey(slug))
		purged++
	}
	if purged > 0 {
		r.logger.Info("stale drafts purged", zap.Int("count", purged))
	}
	return purged
}

// SetCustomOrder persists the user's field ordering for a template. It is
// reapplied on every later load until explicitly reset.
func (r *FormRegistry) SetCustomOrder(templateSlug string, keys []string) error {
	payload, err := json.Marshal(keys)
	if err != nil {
		return err
	}
	return r.kv.Set(orderKey(templateSlug), string(payload))
}

// CustomOrder returns the persisted field ordering for a template, or nil.
func (r *FormRegistry) CustomOrder(templateSlug string) []string {
	raw, ok := r.kv.Get(orderKey(templateSlug))
	if !ok {
		return nil
	}
	var keys []string
	if err := json.Unmarshal([]byte(raw), &keys); err != nil {
		r.logger.Warn("corrupted field order discarded", zap.String("template", templateSlug), zap.Error(err))
		r.kv.Remove(orderKey(templateSlug))
		return nil
	}
	return keys
}

// ResetCustomOrder removes the persisted ordering for a template.
func (r *FormRegistry) ResetCustomOrder(templateSlug string) {
	r.kv.Remove(orderKey(templateSlug))
}
