// Package registry implements the Adapter Registry: manifest proposal
// submission and approval, the active-revision index, and the
// time-ordered audit log, all persisted through internal/store with
// the write ordering the concurrency model requires (snapshot, then
// index, then proposal deletion) since the underlying KV gives no
// cross-key atomicity.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dhannusch/pincer/internal/apierr"
	"github.com/dhannusch/pincer/internal/manifest"
	"github.com/dhannusch/pincer/internal/metrics"
	"github.com/dhannusch/pincer/internal/store"
)

const (
	indexKey          = "adapter_registry:index"
	proposalKeyPrefix = "adapter_registry:proposal:"
	snapshotKeyPrefix = "adapter_registry:manifest:"
	auditKeyPrefix    = "audit:proposal:"

	maxReasonLen   = 500
	defaultLimit   = 50
	maxLimit       = 200
	auditTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"
)

// SecretResolver resolves a vault binding to its plaintext, used to
// verify every requiredSecrets binding is non-empty before Apply
// activates a manifest. Satisfied by *vault.Vault.
type SecretResolver interface {
	Resolve(ctx context.Context, binding string) (string, error)
}

// Registry is the boundary's manifest proposal/approval state machine.
type Registry struct {
	kv      *store.Store
	vault   SecretResolver
	cache   readCache
	nowFn   func() time.Time
	metrics *metrics.Metrics
}

func New(kv *store.Store, vault SecretResolver) *Registry {
	return &Registry{kv: kv, vault: vault, nowFn: time.Now}
}

// WithMetrics attaches a metrics sink for registry write observations.
// Optional: a Registry with no metrics attached simply skips recording.
func (r *Registry) WithMetrics(m *metrics.Metrics) *Registry {
	r.metrics = m
	return r
}

func (r *Registry) observeWrite(operation, outcome string) {
	if r.metrics != nil {
		r.metrics.ObserveRegistryWrite(operation, outcome)
	}
}

func (r *Registry) now() time.Time {
	if r.nowFn != nil {
		return r.nowFn()
	}
	return time.Now()
}

func snapshotKey(adapterID string, revision int) string {
	return fmt.Sprintf("%s%s:%d", snapshotKeyPrefix, adapterID, revision)
}

func proposalKey(proposalID string) string {
	return proposalKeyPrefix + proposalID
}

func (r *Registry) loadIndex(ctx context.Context) (Index, error) {
	raw, err := r.kv.Get(ctx, indexKey)
	if err == store.ErrNotFound {
		return newIndex(), nil
	}
	if err != nil {
		return Index{}, err
	}
	var idx Index
	if err := json.Unmarshal(raw, &idx); err != nil {
		return Index{}, err
	}
	if idx.Active == nil {
		idx.Active = make(map[string]ActiveEntry)
	}
	return idx, nil
}

func (r *Registry) writeIndex(ctx context.Context, idx Index) error {
	raw, err := json.Marshal(idx)
	if err != nil {
		return err
	}
	if err := r.kv.Put(ctx, indexKey, raw); err != nil {
		return err
	}
	r.cache.invalidate()
	return nil
}

func (r *Registry) loadSnapshot(ctx context.Context, adapterID string, revision int) (*manifest.Manifest, error) {
	raw, err := r.kv.Get(ctx, snapshotKey(adapterID, revision))
	if err != nil {
		return nil, err
	}
	var m manifest.Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *Registry) writeSnapshot(ctx context.Context, m *manifest.Manifest) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return err
	}
	if err := r.kv.Put(ctx, snapshotKey(m.ID, m.Revision), raw); err != nil {
		return err
	}
	r.cache.invalidate()
	return nil
}

func (r *Registry) writeAuditEvent(ctx context.Context, ev AuditEvent) error {
	raw, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	key := auditKeyPrefix + ev.OccurredAt.UTC().Format(auditTimeLayout) + ":" + ev.EventID
	return r.kv.Put(ctx, key, raw)
}

func newProposalID() string {
	return "pr_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

func newEventID() string {
	return "ae_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

func validateReason(reason string) (string, error) {
	reason = strings.TrimSpace(reason)
	if len(reason) > maxReasonLen {
		return "", apierr.ErrInvalidReason
	}
	return reason, nil
}

// SubmitProposal validates manifestRaw, persists a new proposal record
// and index summary, and writes a proposal_submitted audit event.
func (r *Registry) SubmitProposal(ctx context.Context, m *manifest.Manifest, submittedBy, clientNote string) (ProposalSummary, error) {
	res := manifest.Validate(m)
	if !res.OK {
		return ProposalSummary{}, apierr.ErrInvalidManifest.WithDetails(res.Errors...)
	}

	idx, err := r.loadIndex(ctx)
	if err != nil {
		r.observeWrite("submit_proposal", "error")
		return ProposalSummary{}, err
	}

	now := r.now()
	rec := ProposalRecord{
		ProposalID:  newProposalID(),
		AdapterID:   m.ID,
		Revision:    m.Revision,
		SubmittedAt: now,
		SubmittedBy: submittedBy,
		ClientNote:  clientNote,
		Manifest:    m,
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return ProposalSummary{}, err
	}
	if err := r.kv.Put(ctx, proposalKey(rec.ProposalID), raw); err != nil {
		return ProposalSummary{}, err
	}

	summary := ProposalSummary{
		ProposalID:  rec.ProposalID,
		AdapterID:   rec.AdapterID,
		Revision:    rec.Revision,
		SubmittedAt: rec.SubmittedAt,
		SubmittedBy: rec.SubmittedBy,
	}
	idx.Proposals = append(idx.Proposals, summary)
	if err := r.writeIndex(ctx, idx); err != nil {
		return ProposalSummary{}, err
	}

	_ = r.writeAuditEvent(ctx, AuditEvent{
		EventID:    newEventID(),
		EventType:  EventProposalSubmitted,
		OccurredAt: now,
		ProposalID: rec.ProposalID,
		AdapterID:  rec.AdapterID,
		Revision:   rec.Revision,
		Actor:      submittedBy,
		Manifest:   m,
	})

	r.observeWrite("submit_proposal", "ok")
	return summary, nil
}

// ListProposals returns every pending proposal summary.
func (r *Registry) ListProposals(ctx context.Context) ([]ProposalSummary, error) {
	idx, err := r.loadIndex(ctx)
	if err != nil {
		return nil, err
	}
	if idx.Proposals == nil {
		return []ProposalSummary{}, nil
	}
	return idx.Proposals, nil
}

// GetProposal returns one full proposal record.
func (r *Registry) GetProposal(ctx context.Context, proposalID string) (ProposalRecord, error) {
	raw, err := r.kv.Get(ctx, proposalKey(proposalID))
	if err == store.ErrNotFound {
		return ProposalRecord{}, apierr.ErrProposalNotFound
	}
	if err != nil {
		return ProposalRecord{}, err
	}
	var rec ProposalRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return ProposalRecord{}, err
	}
	return rec, nil
}

// RejectResult is what RejectProposal returns.
type RejectResult struct {
	ProposalID string    `json:"proposalId"`
	Status     string    `json:"status"`
	RejectedAt time.Time `json:"rejectedAt"`
}

// RejectProposal removes proposalID from the index, deletes its
// record, and writes a proposal_rejected audit event.
func (r *Registry) RejectProposal(ctx context.Context, proposalID, reason, actor string) (RejectResult, error) {
	trimmedReason, err := validateReason(reason)
	if err != nil {
		return RejectResult{}, err
	}

	rec, err := r.GetProposal(ctx, proposalID)
	if err != nil {
		return RejectResult{}, err
	}

	idx, err := r.loadIndex(ctx)
	if err != nil {
		return RejectResult{}, err
	}
	idx.Proposals = removeProposal(idx.Proposals, proposalID)
	if err := r.writeIndex(ctx, idx); err != nil {
		return RejectResult{}, err
	}
	if err := r.kv.Delete(ctx, proposalKey(proposalID)); err != nil {
		return RejectResult{}, err
	}

	now := r.now()
	_ = r.writeAuditEvent(ctx, AuditEvent{
		EventID:    newEventID(),
		EventType:  EventProposalRejected,
		OccurredAt: now,
		ProposalID: rec.ProposalID,
		AdapterID:  rec.AdapterID,
		Revision:   rec.Revision,
		Actor:      actor,
		Reason:     trimmedReason,
		Manifest:   rec.Manifest,
	})

	r.observeWrite("reject_proposal", "ok")
	return RejectResult{ProposalID: proposalID, Status: "rejected", RejectedAt: now}, nil
}

func removeProposal(list []ProposalSummary, proposalID string) []ProposalSummary {
	out := make([]ProposalSummary, 0, len(list))
	for _, p := range list {
		if p.ProposalID != proposalID {
			out = append(out, p)
		}
	}
	return out
}

// ApplyInput carries exactly one of ProposalID or ManifestRaw.
type ApplyInput struct {
	ProposalID  string
	ManifestRaw *manifest.Manifest
	Actor       string
}

// Apply runs the full state machine described by the registry's
// operations: outdated/conflict detection, required-secret resolution,
// and the mandated snapshot -> index -> proposal-delete write order.
func (r *Registry) Apply(ctx context.Context, in ApplyInput) (ApplyResult, error) {
	if (in.ProposalID == "") == (in.ManifestRaw == nil) {
		return ApplyResult{}, apierr.ErrInvalidPayload.WithDetails("exactly one of proposalId or manifest must be present")
	}

	var m *manifest.Manifest
	var fromProposal *ProposalRecord

	if in.ProposalID != "" {
		rec, err := r.GetProposal(ctx, in.ProposalID)
		if err != nil {
			return ApplyResult{}, err
		}
		m = rec.Manifest
		fromProposal = &rec
	} else {
		m = in.ManifestRaw
		res := manifest.Validate(m)
		if !res.OK {
			return ApplyResult{}, apierr.ErrInvalidManifest.WithDetails(res.Errors...)
		}
	}

	idx, err := r.loadIndex(ctx)
	if err != nil {
		return ApplyResult{}, err
	}

	active, hasActive := idx.Active[m.ID]
	var outcome ApplyOutcome
	switch {
	case hasActive && m.Revision < active.Revision:
		return ApplyResult{}, apierr.ErrRevisionOutdated.WithDetails(
			fmt.Sprintf("incoming revision %d", m.Revision),
			fmt.Sprintf("active revision %d", active.Revision),
		)
	case hasActive && m.Revision == active.Revision:
		existing, err := r.loadSnapshot(ctx, m.ID, active.Revision)
		if err != nil {
			return ApplyResult{}, err
		}
		existingCanon, err := manifest.StableStringify(existing)
		if err != nil {
			return ApplyResult{}, err
		}
		incomingCanon, err := manifest.StableStringify(m)
		if err != nil {
			return ApplyResult{}, err
		}
		if existingCanon != incomingCanon {
			return ApplyResult{}, apierr.ErrRevisionConflict
		}
		if active.Enabled {
			outcome = OutcomeInPlaceUpdate
		} else {
			outcome = OutcomeReEnable
		}
	default:
		outcome = OutcomeNewInstall
		if hasActive {
			outcome = OutcomeInPlaceUpdate
		}
	}

	var missing []string
	for _, binding := range m.RequiredSecrets {
		val, err := r.vault.Resolve(ctx, binding)
		if err != nil {
			return ApplyResult{}, err
		}
		if val == "" {
			missing = append(missing, binding)
		}
	}
	if len(missing) > 0 {
		return ApplyResult{}, apierr.ErrMissingRequiredSecrets.WithMissingSecrets(missing...)
	}

	if err := r.writeSnapshot(ctx, m); err != nil {
		return ApplyResult{}, err
	}

	now := r.now()
	idx.Active[m.ID] = ActiveEntry{Revision: m.Revision, Enabled: true, UpdatedAt: now}
	if fromProposal != nil {
		idx.Proposals = removeProposal(idx.Proposals, fromProposal.ProposalID)
	}
	if err := r.writeIndex(ctx, idx); err != nil {
		return ApplyResult{}, err
	}

	if fromProposal != nil {
		if err := r.kv.Delete(ctx, proposalKey(fromProposal.ProposalID)); err != nil {
			return ApplyResult{}, err
		}
		_ = r.writeAuditEvent(ctx, AuditEvent{
			EventID:    newEventID(),
			EventType:  EventProposalApproved,
			OccurredAt: now,
			ProposalID: fromProposal.ProposalID,
			AdapterID:  m.ID,
			Revision:   m.Revision,
			Actor:      in.Actor,
			Manifest:   m,
		})
	}

	r.observeWrite("apply", "ok")
	return ApplyResult{AdapterID: m.ID, Revision: m.Revision, Outcome: outcome, Enabled: true, UpdatedAt: now}, nil
}

// setEnabled flips the enabled flag for adapterID and refreshes updatedAt.
func (r *Registry) setEnabled(ctx context.Context, adapterID string, enabled bool) (ActiveEntry, error) {
	idx, err := r.loadIndex(ctx)
	if err != nil {
		return ActiveEntry{}, err
	}
	entry, ok := idx.Active[adapterID]
	if !ok {
		return ActiveEntry{}, apierr.ErrAdapterNotFound
	}
	entry.Enabled = enabled
	entry.UpdatedAt = r.now()
	idx.Active[adapterID] = entry
	if err := r.writeIndex(ctx, idx); err != nil {
		return ActiveEntry{}, err
	}
	operation := "disable"
	if enabled {
		operation = "enable"
	}
	r.observeWrite(operation, "ok")
	return entry, nil
}

// Enable flips adapterID's enabled flag on.
func (r *Registry) Enable(ctx context.Context, adapterID string) (ActiveEntry, error) {
	return r.setEnabled(ctx, adapterID, true)
}

// Disable flips adapterID's enabled flag off.
func (r *Registry) Disable(ctx context.Context, adapterID string) (ActiveEntry, error) {
	return r.setEnabled(ctx, adapterID, false)
}

// ListAuditOptions bounds ListAuditEvents.
type ListAuditOptions struct {
	Since string // ISO-8601 string-compare lower bound, inclusive: events at exactly Since are kept
	Limit int
}

// ListAuditEvents range-reads the audit prefix, string-filters by
// since, sorts descending by occurredAt, and truncates to limit.
func (r *Registry) ListAuditEvents(ctx context.Context, opts ListAuditOptions) ([]AuditEvent, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}

	seekKey := auditKeyPrefix
	if opts.Since != "" {
		seekKey = auditKeyPrefix + opts.Since
	}
	entries, err := r.kv.ListFromKey(ctx, auditKeyPrefix, seekKey)
	if err != nil {
		return nil, err
	}

	events := make([]AuditEvent, 0, len(entries))
	for _, e := range entries {
		var ev AuditEvent
		if err := json.Unmarshal(e.Value, &ev); err != nil {
			continue
		}
		if opts.Since != "" && ev.OccurredAt.UTC().Format(auditTimeLayout) < opts.Since {
			continue
		}
		events = append(events, ev)
	}

	sort.Slice(events, func(i, j int) bool {
		return events[i].OccurredAt.After(events[j].OccurredAt)
	})
	if len(events) > limit {
		events = events[:limit]
	}
	return events, nil
}

// GetAdapterAction returns the active manifest and action for
// (adapterId, actionName), serving the hot path from the ~10s read
// cache when it is fresh and reloading from the store otherwise.
func (r *Registry) GetAdapterAction(ctx context.Context, adapterID, actionName string) (*manifest.Manifest, *manifest.Action, error) {
	var idx Index
	var manifests map[string]*manifest.Manifest

	if r.cache.valid() {
		idx, manifests = r.cache.get()
	} else {
		loaded, err := r.loadIndex(ctx)
		if err != nil {
			return nil, nil, err
		}
		idx = loaded
		manifests = make(map[string]*manifest.Manifest, len(idx.Active))
		for adapterID, entry := range idx.Active {
			m, err := r.loadSnapshot(ctx, adapterID, entry.Revision)
			if err != nil {
				continue
			}
			manifests[adapterID] = m
		}
		r.cache.store(idx, manifests)
	}

	entry, ok := idx.Active[adapterID]
	if !ok || !entry.Enabled {
		return nil, nil, apierr.ErrAdapterNotFound
	}
	m, ok := manifests[adapterID]
	if !ok {
		return nil, nil, apierr.ErrAdapterNotFound
	}
	action, ok := m.Actions[actionName]
	if !ok {
		return nil, nil, apierr.ErrActionNotAllowed
	}
	return m, &action, nil
}

// Ping performs a throwaway write/read/delete against the underlying
// store, for the admin doctor check.
func (r *Registry) Ping(ctx context.Context) error {
	const pingKey = "registry:__ping__"
	if err := r.kv.Put(ctx, pingKey, []byte("ok")); err != nil {
		return err
	}
	defer r.kv.Delete(ctx, pingKey)
	v, err := r.kv.Get(ctx, pingKey)
	if err != nil {
		return err
	}
	if string(v) != "ok" {
		return fmt.Errorf("registry: ping round trip mismatch")
	}
	return nil
}

// AdapterSummary is the shape GET /v1/adapters and GET /v1/admin/adapters
// both render: enabled adapters only, with their action names.
type AdapterSummary struct {
	AdapterID   string   `json:"adapterId"`
	Revision    int      `json:"revision"`
	ActionNames []string `json:"actionNames"`
}

// ListEnabledAdapters returns every enabled adapter's active manifest
// summary, sorted by adapter id.
func (r *Registry) ListEnabledAdapters(ctx context.Context) ([]AdapterSummary, error) {
	idx, err := r.loadIndex(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]AdapterSummary, 0, len(idx.Active))
	for adapterID, entry := range idx.Active {
		if !entry.Enabled {
			continue
		}
		m, err := r.loadSnapshot(ctx, adapterID, entry.Revision)
		if err != nil {
			continue
		}
		actionNames := make([]string, 0, len(m.Actions))
		for name := range m.Actions {
			actionNames = append(actionNames, name)
		}
		sort.Strings(actionNames)
		out = append(out, AdapterSummary{
			AdapterID:   adapterID,
			Revision:    entry.Revision,
			ActionNames: actionNames,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AdapterID < out[j].AdapterID })
	return out, nil
}
