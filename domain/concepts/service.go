package concepts

import (
	"context"
	"hash/fnv"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/conceptdb/gateway/pkg/apperror"
	"github.com/conceptdb/gateway/pkg/logger"
	"github.com/conceptdb/gateway/pkg/mathutil"
	"github.com/conceptdb/gateway/pkg/vectorstore"
)

const (
	// MaxTraversalDepth bounds graph traversal.
	MaxTraversalDepth = 3

	defaultSearchK = 10
	maxSearchK     = 100

	// defaultSearchTimeout bounds a semantic search when the caller carries
	// no deadline of its own.
	defaultSearchTimeout = 2 * time.Second

	lockStripes = 64
)

// vectorRetryDelays is the backoff schedule for idempotent vector operations.
var vectorRetryDelays = []time.Duration{100 * time.Millisecond, 250 * time.Millisecond, 600 * time.Millisecond}

// Embedder turns text into a fixed-dimension vector. Deterministic for
// identical inputs within a deployment.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// CapacityChecker evaluates bulk-resource headroom before a write.
// Satisfied by the quota gate.
type CapacityChecker interface {
	CheckCapacity(ctx context.Context, tenant, resource string, delta int64) error
}

// MutationHook is notified after a concept carrying a source_key is mutated,
// so the synchronizer can schedule relational writeback.
type MutationHook func(ctx context.Context, concept *Concept)

// Service owns all writes to the concept layer: the metadata rows and the
// vector collection. It writes vector first, then metadata, and compensates
// by deleting the just-written vector when the metadata write fails.
type Service struct {
	repo     *Repository
	vectors  vectorstore.Store
	embedder Embedder
	capacity CapacityChecker
	dim      int
	log      *slog.Logger

	// Per-id write serialization
	locks [lockStripes]sync.Mutex

	hookMu     sync.RWMutex
	onMutation MutationHook
}

// NewService creates a new concept service.
func NewService(repo *Repository, vectors vectorstore.Store, embedder Embedder, capacity CapacityChecker, dim int, log *slog.Logger) *Service {
	return &Service{
		repo:     repo,
		vectors:  vectors,
		embedder: embedder,
		capacity: capacity,
		dim:      dim,
		log:      log.With(logger.Scope("concepts.svc")),
	}
}

// SetMutationHook registers the synchronizer's writeback trigger.
func (s *Service) SetMutationHook(hook MutationHook) {
	s.hookMu.Lock()
	defer s.hookMu.Unlock()
	s.onMutation = hook
}

func (s *Service) notifyMutation(ctx context.Context, concept *Concept) {
	if _, ok := concept.SourceKey(); !ok {
		return
	}
	s.hookMu.RLock()
	hook := s.onMutation
	s.hookMu.RUnlock()
	if hook != nil {
		hook(ctx, concept)
	}
}

// lockFor serializes writes per concept id.
func (s *Service) lockFor(id string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(id))
	return &s.locks[h.Sum32()%lockStripes]
}

// Dimension returns the deployment embedding dimension.
func (s *Service) Dimension() int {
	return s.dim
}

// Create stores a new concept. The vector is computed from name and
// description when not supplied. Both the vector and the metadata row are
// observed after a successful return; neither remains after a failure.
func (s *Service) Create(ctx context.Context, tenant string, req *CreateConceptRequest) (*Concept, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, apperror.ErrValidation.WithMessage("concept name is required")
	}

	if s.capacity != nil {
		if err := s.capacity.CheckCapacity(ctx, tenant, "concepts", 1); err != nil {
			return nil, err
		}
	}

	vector := req.Vector
	if vector == nil {
		var err error
		vector, err = s.embed(ctx, name, req.Description)
		if err != nil {
			return nil, err
		}
	}
	if len(vector) != s.dim {
		return nil, apperror.ErrDimensionMismatch
	}
	if !mathutil.IsFinite(vector) {
		return nil, apperror.ErrValidation.WithMessage("vector contains non-finite components")
	}

	id := req.ID
	if id == "" {
		id = uuid.New().String()
	}

	mu := s.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	now := time.Now().UTC()
	concept := &Concept{
		ID:          id,
		TenantID:    tenant,
		Name:        name,
		Description: req.Description,
		Metadata:    req.Metadata,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if concept.Metadata == nil {
		concept.Metadata = JSONMap{}
	}
	concept.Strength = computeStrength(0, 0, 0)

	// Vector first, metadata second
	if err := s.retryVector(ctx, func() error {
		return s.vectors.Upsert(ctx, id, vector, vectorPayload(concept))
	}); err != nil {
		return nil, apperror.ErrVectorBackend.WithInternal(err)
	}

	if err := s.repo.Insert(ctx, concept); err != nil {
		// Compensate: remove the just-written vector so a failed Create
		// leaves nothing behind
		if derr := s.retryVector(ctx, func() error {
			return s.vectors.Delete(ctx, id)
		}); derr != nil {
			s.log.Error("failed to compensate vector write after metadata failure",
				slog.String("concept_id", id), logger.Error(derr))
		}
		return nil, err
	}

	concept.Vector = vector
	return concept, nil
}

// Get returns a concept by id.
func (s *Service) Get(ctx context.Context, tenant, id string) (*Concept, error) {
	return s.repo.Get(ctx, tenant, id)
}

// FindBySourceKey returns the concept tied to a relational row, or nil.
func (s *Service) FindBySourceKey(ctx context.Context, tenant, sourceKey string) (*Concept, error) {
	return s.repo.FindBySourceKey(ctx, tenant, sourceKey)
}

// List returns a page of the tenant's concepts.
func (s *Service) List(ctx context.Context, tenant string, limit, offset int) (*ListResponse, error) {
	limit = mathutil.ClampLimit(limit, 50, 200)
	if offset < 0 {
		offset = 0
	}

	out, total, err := s.repo.List(ctx, tenant, limit, offset)
	if err != nil {
		return nil, err
	}
	return &ListResponse{Concepts: out, Total: total, Limit: limit, Offset: offset}, nil
}

// Update applies a patch. Patching name or description re-embeds the concept;
// patching metadata does not.
func (s *Service) Update(ctx context.Context, tenant, id string, patch *UpdateConceptRequest) (*Concept, error) {
	mu := s.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	concept, err := s.repo.Get(ctx, tenant, id)
	if err != nil {
		return nil, err
	}

	prevName, prevDesc := concept.Name, concept.Description

	reEmbed := false
	if patch.Name != nil {
		name := strings.TrimSpace(*patch.Name)
		if name == "" {
			return nil, apperror.ErrValidation.WithMessage("concept name cannot be empty")
		}
		if name != concept.Name {
			concept.Name = name
			reEmbed = true
		}
	}
	if patch.Description != nil && *patch.Description != concept.Description {
		concept.Description = *patch.Description
		reEmbed = true
	}
	if patch.Metadata != nil {
		concept.Metadata = *patch.Metadata
		if concept.Metadata == nil {
			concept.Metadata = JSONMap{}
		}
	}

	if reEmbed {
		vector, err := s.embed(ctx, concept.Name, concept.Description)
		if err != nil {
			return nil, err
		}
		if err := s.retryVector(ctx, func() error {
			return s.vectors.Upsert(ctx, id, vector, vectorPayload(concept))
		}); err != nil {
			return nil, apperror.ErrVectorBackend.WithInternal(err)
		}
		concept.Vector = vector
	}

	if err := s.repo.Update(ctx, concept); err != nil {
		if reEmbed {
			// Best-effort compensation: restore the previous embedding so the
			// vector side doesn't drift ahead of the metadata side
			if prev, eerr := s.embed(ctx, prevName, prevDesc); eerr == nil {
				if derr := s.retryVector(ctx, func() error {
					return s.vectors.Upsert(ctx, id, prev, vectorPayload(concept))
				}); derr != nil {
					s.log.Error("failed to restore previous vector after metadata failure",
						slog.String("concept_id", id), logger.Error(derr))
				}
			}
		}
		return nil, err
	}

	s.recomputeStrength(ctx, concept, true)
	s.notifyMutation(ctx, concept)
	return concept, nil
}

// Delete removes the concept, its vector, and every incident relation.
func (s *Service) Delete(ctx context.Context, tenant, id string) error {
	mu := s.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	concept, err := s.repo.Get(ctx, tenant, id)
	if err != nil {
		return err
	}

	neighborIDs := s.neighborIDs(ctx, id)

	if err := s.repo.Delete(ctx, tenant, id); err != nil {
		return err
	}

	if err := s.retryVector(ctx, func() error {
		return s.vectors.Delete(ctx, id)
	}); err != nil {
		// The metadata row is gone so searches can no longer surface the
		// concept; the orphaned vector is unreachable but worth logging
		s.log.Error("failed to delete vector for removed concept",
			slog.String("concept_id", id), logger.Error(err))
	}

	s.recomputeNeighbors(ctx, concept.TenantID, neighborIDs)
	return nil
}

// SemanticSearch returns up to k concepts with cosine similarity >= threshold,
// sorted descending. Searching bumps each hit's usage count.
func (s *Service) SemanticSearch(ctx context.Context, tenant string, req *SearchRequest) ([]ScoredConcept, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultSearchTimeout)
		defer cancel()
	}

	k := mathutil.ClampLimit(req.K, defaultSearchK, maxSearchK)

	vector := req.Vector
	if vector == nil {
		text := strings.TrimSpace(req.Text)
		if text == "" {
			return nil, apperror.ErrValidation.WithMessage("search requires text or a vector")
		}
		var err error
		vector, err = s.embed(ctx, text, "")
		if err != nil {
			return nil, err
		}
	}
	if len(vector) != s.dim {
		return nil, apperror.ErrDimensionMismatch
	}

	var hits []vectorstore.ScoredHit
	if err := s.retryVector(ctx, func() error {
		var err error
		// Over-fetch so cross-tenant hits don't shrink the page
		hits, err = s.vectors.Search(ctx, vector, k*4, req.Threshold)
		return err
	}); err != nil {
		return nil, apperror.ErrVectorBackend.WithInternal(err)
	}

	ids := make([]string, 0, len(hits))
	scores := make(map[string]float64, len(hits))
	for _, hit := range hits {
		if t, _ := hit.Payload["tenant_id"].(string); t != tenant {
			continue
		}
		ids = append(ids, hit.ID)
		scores[hit.ID] = hit.Score
		if len(ids) == k {
			break
		}
	}

	found, err := s.repo.GetMany(ctx, tenant, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*Concept, len(found))
	for _, c := range found {
		byID[c.ID] = c
	}

	results := make([]ScoredConcept, 0, len(ids))
	hitIDs := make([]string, 0, len(ids))
	for _, id := range ids {
		concept, ok := byID[id]
		if !ok {
			// Vector without a metadata row: a compensation leftover, skip
			continue
		}
		results = append(results, ScoredConcept{Concept: concept, Score: scores[id]})
		hitIDs = append(hitIDs, id)
	}

	if err := s.repo.IncrementUsage(ctx, hitIDs); err != nil {
		s.log.Warn("failed to bump usage counts for search hits", logger.Error(err))
	}

	return results, nil
}

// AddRelation creates a typed edge between two existing concepts.
func (s *Service) AddRelation(ctx context.Context, tenant string, req *AddRelationRequest) (*Relation, error) {
	if !ValidRelationType(req.Type) {
		return nil, apperror.ErrInvalidRelation.WithMessage("unknown relation type")
	}
	if req.SourceID == req.TargetID {
		return nil, apperror.ErrInvalidRelation.WithMessage("relation endpoints must differ")
	}
	if req.Strength <= 0 || req.Strength > 1 {
		return nil, apperror.ErrInvalidRelation.WithMessage("relation strength must be in (0,1]")
	}

	source, err := s.repo.Get(ctx, tenant, req.SourceID)
	if err != nil {
		return nil, err
	}
	target, err := s.repo.Get(ctx, tenant, req.TargetID)
	if err != nil {
		return nil, err
	}

	rel := &Relation{
		SourceID:  req.SourceID,
		TargetID:  req.TargetID,
		Type:      req.Type,
		Strength:  req.Strength,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.repo.InsertRelation(ctx, rel); err != nil {
		return nil, err
	}

	s.recomputeStrength(ctx, source, false)
	s.recomputeStrength(ctx, target, false)
	return rel, nil
}

// RemoveRelation removes a typed edge.
func (s *Service) RemoveRelation(ctx context.Context, tenant string, req *RemoveRelationRequest) error {
	source, err := s.repo.Get(ctx, tenant, req.SourceID)
	if err != nil {
		return err
	}
	target, err := s.repo.Get(ctx, tenant, req.TargetID)
	if err != nil {
		return err
	}

	if err := s.repo.DeleteRelation(ctx, req.SourceID, req.TargetID, req.Type); err != nil {
		return err
	}

	s.recomputeStrength(ctx, source, false)
	s.recomputeStrength(ctx, target, false)
	return nil
}

// Neighbors traverses the graph breadth-first from root up to depth levels
// and returns the visited subgraph. Cycles are suppressed by a visited set;
// ordering is deterministic by (concept id, relation type).
func (s *Service) Neighbors(ctx context.Context, tenant, rootID string, depth int) (*Subgraph, error) {
	depth = mathutil.ClampInt(depth, 1, MaxTraversalDepth)

	if _, err := s.repo.Get(ctx, tenant, rootID); err != nil {
		return nil, err
	}

	visitOrder, edges, err := traverse(ctx, rootID, depth, func(ctx context.Context, frontier []string) ([]*Relation, error) {
		return s.repo.RelationsOf(ctx, frontier)
	})
	if err != nil {
		return nil, err
	}

	found, err := s.repo.GetMany(ctx, tenant, visitOrder)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*Concept, len(found))
	for _, c := range found {
		byID[c.ID] = c
	}

	nodes := make([]*Concept, 0, len(visitOrder))
	for _, id := range visitOrder {
		if c, ok := byID[id]; ok {
			nodes = append(nodes, c)
		}
	}

	return &Subgraph{Nodes: nodes, Edges: edges}, nil
}

// Merge redirects every relation of loser to winner (duplicate edges collapse
// to the higher strength), absorbs the loser's usage count, then deletes the
// loser. Returns the surviving concept.
func (s *Service) Merge(ctx context.Context, tenant, loserID, winnerID string) (*Concept, error) {
	if loserID == winnerID {
		return nil, apperror.NewBadRequest("cannot merge a concept into itself")
	}

	// Lock in a stable order to avoid deadlock with a concurrent inverse merge
	first, second := s.lockFor(loserID), s.lockFor(winnerID)
	if loserID > winnerID {
		first, second = second, first
	}
	first.Lock()
	defer first.Unlock()
	if second != first {
		second.Lock()
		defer second.Unlock()
	}

	loser, err := s.repo.Get(ctx, tenant, loserID)
	if err != nil {
		return nil, err
	}
	winner, err := s.repo.Get(ctx, tenant, winnerID)
	if err != nil {
		return nil, err
	}

	err = s.repo.RunInTx(ctx, func(ctx context.Context, repo *Repository) error {
		loserRels, err := repo.RelationsOf(ctx, []string{loserID})
		if err != nil {
			return err
		}

		for _, rel := range redirectRelations(loserRels, loserID, winnerID) {
			if err := repo.UpsertRelation(ctx, rel); err != nil {
				return err
			}
		}

		if err := repo.AddUsage(ctx, winnerID, loser.UsageCount); err != nil {
			return err
		}

		// Cascades the loser's remaining edges
		return repo.Delete(ctx, tenant, loserID)
	})
	if err != nil {
		return nil, err
	}

	if verr := s.retryVector(ctx, func() error {
		return s.vectors.Delete(ctx, loserID)
	}); verr != nil {
		s.log.Error("failed to delete vector for merged concept",
			slog.String("concept_id", loserID), logger.Error(verr))
	}

	s.recomputeStrength(ctx, winner, true)
	return s.repo.Get(ctx, tenant, winnerID)
}

// SyncUpsert creates or updates a concept on behalf of the synchronizer.
// It follows the same vector-first write path but never fires the mutation
// hook, so forward sync cannot trigger backward writeback of its own work.
func (s *Service) SyncUpsert(ctx context.Context, tenant string, req *CreateConceptRequest) (*Concept, error) {
	sourceKey, _ := req.Metadata[MetaSourceKey].(string)
	if sourceKey == "" {
		return nil, apperror.ErrValidation.WithMessage("sync upsert requires a source_key")
	}

	existing, err := s.repo.FindBySourceKey(ctx, tenant, sourceKey)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return s.Create(ctx, tenant, req)
	}

	mu := s.lockFor(existing.ID)
	mu.Lock()
	defer mu.Unlock()

	existing.Name = req.Name
	existing.Description = req.Description
	existing.Metadata = req.Metadata

	vector, err := s.embed(ctx, existing.Name, existing.Description)
	if err != nil {
		return nil, err
	}
	if err := s.retryVector(ctx, func() error {
		return s.vectors.Upsert(ctx, existing.ID, vector, vectorPayload(existing))
	}); err != nil {
		return nil, apperror.ErrVectorBackend.WithInternal(err)
	}

	if err := s.repo.Update(ctx, existing); err != nil {
		return nil, err
	}
	existing.Vector = vector
	return existing, nil
}

// =============================================================================
// Internals
// =============================================================================

// embed turns a name/description pair into the deployment-dimension vector.
func (s *Service) embed(ctx context.Context, name, description string) ([]float32, error) {
	text := name
	if description != "" {
		text = name + ": " + description
	}

	var vector []float32
	err := s.retryVector(ctx, func() error {
		var err error
		vector, err = s.embedder.EmbedQuery(ctx, text)
		return err
	})
	if err != nil {
		return nil, apperror.ErrEmbeddingUnavailable.WithInternal(err)
	}
	if vector == nil {
		return nil, apperror.ErrEmbeddingUnavailable.WithMessage("embedding provider is not configured")
	}
	if len(vector) != s.dim {
		return nil, apperror.ErrDimensionMismatch
	}
	return vector, nil
}

// retryVector retries an idempotent operation on the 100/250/600 ms schedule.
// Deadline and cancellation errors are surfaced immediately.
func (s *Service) retryVector(ctx context.Context, op func() error) error {
	var lastErr error
	for attempt := 0; attempt <= len(vectorRetryDelays); attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(vectorRetryDelays[attempt-1]):
			}
		}

		if err := op(); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			lastErr = err
			continue
		}
		return nil
	}
	return lastErr
}

// recomputeStrength recomputes the concept's strength synchronously and its
// immediate neighbors' opportunistically.
func (s *Service) recomputeStrength(ctx context.Context, concept *Concept, includeNeighbors bool) {
	rels, err := s.repo.RelationsOf(ctx, []string{concept.ID})
	if err != nil {
		s.log.Warn("strength recompute skipped", slog.String("concept_id", concept.ID), logger.Error(err))
		return
	}

	current, err := s.repo.Get(ctx, concept.TenantID, concept.ID)
	if err != nil {
		return
	}

	strength := computeStrength(current.UsageCount, len(rels), avgStrength(rels))
	if err := s.repo.UpdateStrength(ctx, concept.ID, strength); err != nil {
		s.log.Warn("strength update failed", slog.String("concept_id", concept.ID), logger.Error(err))
		return
	}

	if !includeNeighbors {
		return
	}
	for _, id := range neighborIDsFrom(rels, concept.ID) {
		neighbor, err := s.repo.Get(ctx, concept.TenantID, id)
		if err != nil {
			continue
		}
		s.recomputeStrength(ctx, neighbor, false)
	}
}

func (s *Service) recomputeNeighbors(ctx context.Context, tenant string, ids []string) {
	for _, id := range ids {
		neighbor, err := s.repo.Get(ctx, tenant, id)
		if err != nil {
			continue
		}
		s.recomputeStrength(ctx, neighbor, false)
	}
}

func (s *Service) neighborIDs(ctx context.Context, id string) []string {
	rels, err := s.repo.RelationsOf(ctx, []string{id})
	if err != nil {
		return nil
	}
	return neighborIDsFrom(rels, id)
}

// vectorPayload is the payload stored beside each vector; the tenant id
// scopes search hits.
func vectorPayload(c *Concept) map[string]any {
	return map[string]any{
		"tenant_id": c.TenantID,
		"name":      c.Name,
	}
}

// computeStrength derives a concept's strength from usage and connectivity:
// clamp(0.1*ln(1+usage) + 0.05*degree + 0.5*avg(edge strength), 0, 1).
func computeStrength(usage int64, degree int, avgEdgeStrength float64) float64 {
	raw := 0.1*math.Log(1+float64(usage)) + 0.05*float64(degree) + 0.5*avgEdgeStrength
	return mathutil.Clamp(raw, 0, 1)
}

func avgStrength(rels []*Relation) float64 {
	if len(rels) == 0 {
		return 0
	}
	var sum float64
	for _, rel := range rels {
		sum += rel.Strength
	}
	return sum / float64(len(rels))
}

func neighborIDsFrom(rels []*Relation, selfID string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, rel := range rels {
		for _, id := range []string{rel.SourceID, rel.TargetID} {
			if id == selfID {
				continue
			}
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// redirectRelations rewrites the loser's edges to point at the winner,
// dropping edges that would become self-loops. Duplicates collapse later via
// the GREATEST upsert, which keeps the higher strength.
func redirectRelations(loserRels []*Relation, loserID, winnerID string) []*Relation {
	out := make([]*Relation, 0, len(loserRels))
	for _, rel := range loserRels {
		src, dst := rel.SourceID, rel.TargetID
		if src == loserID {
			src = winnerID
		}
		if dst == loserID {
			dst = winnerID
		}
		if src == dst {
			continue
		}
		out = append(out, &Relation{
			SourceID:  src,
			TargetID:  dst,
			Type:      rel.Type,
			Strength:  rel.Strength,
			CreatedAt: rel.CreatedAt,
		})
	}
	return out
}

// neighborFetch returns the edges incident to the frontier ids.
type neighborFetch func(ctx context.Context, frontier []string) ([]*Relation, error)

// traverse walks the graph breadth-first from root up to depth levels.
// Returns the node ids in visit order and the unique edges encountered.
func traverse(ctx context.Context, root string, depth int, fetch neighborFetch) ([]string, []*Relation, error) {
	visited := map[string]struct{}{root: {}}
	visitOrder := []string{root}
	frontier := []string{root}

	edgeSeen := make(map[string]struct{})
	var edges []*Relation

	for level := 0; level < depth && len(frontier) > 0; level++ {
		rels, err := fetch(ctx, frontier)
		if err != nil {
			return nil, nil, err
		}

		inFrontier := make(map[string]struct{}, len(frontier))
		for _, id := range frontier {
			inFrontier[id] = struct{}{}
		}

		var next []string
		for _, rel := range rels {
			key := rel.SourceID + "\x00" + rel.TargetID + "\x00" + rel.Type
			if _, ok := edgeSeen[key]; !ok {
				edgeSeen[key] = struct{}{}
				edges = append(edges, rel)
			}

			for _, id := range []string{rel.SourceID, rel.TargetID} {
				if _, ok := inFrontier[rel.otherEndpoint(id)]; !ok {
					continue
				}
				if _, ok := visited[id]; ok {
					continue
				}
				visited[id] = struct{}{}
				next = append(next, id)
			}
		}

		// Deterministic visit order regardless of fetch ordering
		sort.Strings(next)
		visitOrder = append(visitOrder, next...)
		frontier = next
	}

	sort.Slice(edges, func(i, j int) bool {
		if edges[i].SourceID != edges[j].SourceID {
			return edges[i].SourceID < edges[j].SourceID
		}
		if edges[i].TargetID != edges[j].TargetID {
			return edges[i].TargetID < edges[j].TargetID
		}
		return edges[i].Type < edges[j].Type
	})

	return visitOrder, edges, nil
}

// otherEndpoint returns the opposite endpoint of the edge relative to id.
func (r *Relation) otherEndpoint(id string) string {
	if r.SourceID == id {
		return r.TargetID
	}
	return r.SourceID
}
