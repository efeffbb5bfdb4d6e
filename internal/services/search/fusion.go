// -----------------------------------------------------------------------
// FusionService - Weighted rank fusion across four index strategies
// -----------------------------------------------------------------------

package search

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/ternarybob/arbor"
	"golang.org/x/sync/errgroup"

	"github.com/Andrewske/kgraph/internal/common"
	"github.com/Andrewske/kgraph/internal/interfaces"
	"github.com/Andrewske/kgraph/internal/models"
)

// Options overrides fusion defaults per query. Zero values fall back to
// the configured defaults.
type Options struct {
	TopK              int
	MinScore          float64
	Weights           map[models.SearchStrategy]float64
	EnabledStrategies []models.SearchStrategy
	Filter            *models.SearchFilter
}

// FusionService runs the four index strategies in parallel and fuses
// their rankings
type FusionService struct {
	storage  interfaces.StorageManager
	embedder interfaces.Embedder
	config   *common.SearchConfig
	logger   arbor.ILogger
}

// NewFusionService creates the fusion search service
func NewFusionService(storage interfaces.StorageManager, embedder interfaces.Embedder, config *common.SearchConfig, logger arbor.ILogger) *FusionService {
	return &FusionService{
		storage:  storage,
		embedder: embedder,
		config:   config,
		logger:   logger,
	}
}

// defaultWeights come from config; the canonical split is
// {entity 0.3, relationship 0.2, semantic 0.3, concept 0.2}
func (s *FusionService) defaultWeights() map[models.SearchStrategy]float64 {
	return map[models.SearchStrategy]float64{
		models.StrategyEntity:       s.config.EntityWeight,
		models.StrategyRelationship: s.config.RelationshipWeight,
		models.StrategySemantic:     s.config.SemanticWeight,
		models.StrategyConcept:      s.config.ConceptWeight,
	}
}

// SearchFusion answers a semantic query by fusing entity, relationship,
// semantic, and concept rankings with a diversity boost for triples found
// by multiple strategies.
func (s *FusionService) SearchFusion(ctx context.Context, query string, opts *Options) ([]models.FusionResult, error) {
	if opts == nil {
		opts = &Options{}
	}

	topK := opts.TopK
	if topK <= 0 {
		topK = s.config.TopK
	}
	minScore := opts.MinScore
	if minScore <= 0 {
		minScore = s.config.MinScore
	}
	weights := opts.Weights
	if len(weights) == 0 {
		weights = s.defaultWeights()
	}
	enabled := opts.EnabledStrategies
	if len(enabled) == 0 {
		enabled = models.AllStrategies
	}

	// Embed the query once; every vector strategy shares the result. A
	// failed embedding switches the strategies to substring fallbacks.
	var queryVec []float32
	if s.anyVectorStrategy(enabled) {
		vec, err := s.embedder.Embed(ctx, query)
		if err != nil {
			s.logger.Warn().Err(err).Msg("Query embedding failed, using substring fallbacks")
		} else {
			queryVec = vec
		}
	}

	resultSets := make(map[models.SearchStrategy][]*models.Triple, len(enabled))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for _, strategy := range enabled {
		strategy := strategy
		g.Go(func() error {
			triples, err := s.runStrategy(gctx, strategy, query, queryVec, topK, minScore, opts.Filter)
			if err != nil {
				return models.NewPipelineError(models.OpSearch, string(strategy)+" strategy failed", err)
			}
			mu.Lock()
			resultSets[strategy] = triples
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, models.NewPipelineError(models.OpFusionSearch, "fusion search failed", err)
	}

	return fuseRankings(resultSets, weights, topK), nil
}

func (s *FusionService) anyVectorStrategy(enabled []models.SearchStrategy) bool {
	return len(enabled) > 0
}

func (s *FusionService) runStrategy(ctx context.Context, strategy models.SearchStrategy, query string, queryVec []float32, topK int, minScore float64, filter *models.SearchFilter) ([]*models.Triple, error) {
	switch strategy {
	case models.StrategyEntity:
		if queryVec != nil {
			return s.vectorTriples(ctx, queryVec, models.VectorTypeEntity, topK, minScore, filter)
		}
		return s.storage.TripleStorage().SearchByEntity(ctx, query, topK, filter)

	case models.StrategyRelationship:
		if queryVec != nil {
			return s.vectorTriples(ctx, queryVec, models.VectorTypeRelationship, topK, minScore, filter)
		}
		return s.storage.TripleStorage().SearchByRelationship(ctx, query, topK, filter)

	case models.StrategySemantic:
		if queryVec != nil {
			return s.vectorTriples(ctx, queryVec, models.VectorTypeSemantic, topK, minScore, filter)
		}
		// No meaningful substring form of a full-sentence match
		return nil, nil

	case models.StrategyConcept:
		return s.conceptTriples(ctx, query, queryVec, topK, minScore, filter)
	}
	return nil, nil
}

func (s *FusionService) vectorTriples(ctx context.Context, queryVec []float32, vectorType models.VectorType, topK int, minScore float64, filter *models.SearchFilter) ([]*models.Triple, error) {
	scored, err := s.storage.VectorStorage().SearchByEmbedding(ctx, queryVec, vectorType, topK, minScore, filter)
	if err != nil {
		return nil, err
	}
	triples := make([]*models.Triple, 0, len(scored))
	for _, st := range scored {
		triples = append(triples, st.Triple)
	}
	return triples, nil
}

// conceptTriples is the indirect strategy: find similar concepts, hop
// their conceptualization links, and collect every triple containing a
// linked element as subject, predicate, or object.
func (s *FusionService) conceptTriples(ctx context.Context, query string, queryVec []float32, topK int, minScore float64, filter *models.SearchFilter) ([]*models.Triple, error) {
	var conceptNames []string

	if queryVec != nil {
		scored, err := s.storage.VectorStorage().SearchConceptsByEmbedding(ctx, queryVec, topK, minScore)
		if err != nil {
			return nil, err
		}
		for _, sc := range scored {
			conceptNames = append(conceptNames, sc.Concept.Concept)
		}
	} else {
		concepts, err := s.storage.ConceptStorage().SearchByConcept(ctx, query, topK)
		if err != nil {
			return nil, err
		}
		for _, c := range concepts {
			conceptNames = append(conceptNames, c.Concept)
		}
	}

	if len(conceptNames) == 0 {
		return nil, nil
	}

	elements := make(map[string]struct{})
	for _, name := range conceptNames {
		links, err := s.storage.ConceptStorage().GetConceptualizationsByConcept(ctx, name)
		if err != nil {
			return nil, err
		}
		for _, link := range links {
			elements[link.SourceElement] = struct{}{}
		}
	}
	if len(elements) == 0 {
		return nil, nil
	}

	// Full scan; acceptable for the embedded store, documented as a
	// scaling caveat on the adapter contract.
	all, err := s.storage.TripleStorage().GetAllTriples(ctx)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	var matched []*models.Triple
	for _, t := range all {
		if !matchesFilter(t, filter) {
			continue
		}
		if _, hit := elements[t.Subject]; !hit {
			if _, hit = elements[t.Predicate]; !hit {
				if _, hit = elements[t.Object]; !hit {
					continue
				}
			}
		}
		if _, dup := seen[t.ID]; dup {
			continue
		}
		seen[t.ID] = struct{}{}
		matched = append(matched, t)
		if len(matched) >= topK {
			break
		}
	}

	return matched, nil
}

// fuseRankings converts each result set into position scores, aggregates
// per triple, normalizes by the weights that contributed, and applies the
// diversity boost.
func fuseRankings(resultSets map[models.SearchStrategy][]*models.Triple, weights map[models.SearchStrategy]float64, topK int) []models.FusionResult {
	type aggregate struct {
		triple     *models.Triple
		scores     map[models.SearchStrategy]float64
		strategies []string
	}
	byID := make(map[string]*aggregate)
	var order []string

	for _, strategy := range models.AllStrategies {
		set, ok := resultSets[strategy]
		if !ok || len(set) == 0 {
			continue
		}
		n := float64(len(set))
		for i, t := range set {
			positionScore := (n - float64(i)) / n
			agg, exists := byID[t.ID]
			if !exists {
				agg = &aggregate{
					triple: t,
					scores: make(map[models.SearchStrategy]float64),
				}
				byID[t.ID] = agg
				order = append(order, t.ID)
			}
			if positionScore > agg.scores[strategy] {
				agg.scores[strategy] = positionScore
			}
			agg.strategies = appendUnique(agg.strategies, string(strategy))
		}
	}

	results := make([]models.FusionResult, 0, len(byID))
	for _, id := range order {
		agg := byID[id]

		var weighted, weightSum float64
		for strategy, score := range agg.scores {
			w := weights[strategy]
			weighted += score * w
			weightSum += w
		}
		if weightSum == 0 {
			continue
		}
		fusion := weighted / weightSum

		// Diversity boost: triples confirmed by more strategies rank higher
		k := float64(len(agg.scores))
		fusion *= 1 + 0.2*math.Log(1+k)/math.Log(5)

		scores := models.FusionScores{Fusion: fusion}
		for strategy, score := range agg.scores {
			v := score
			switch strategy {
			case models.StrategyEntity:
				scores.Entity = &v
			case models.StrategyRelationship:
				scores.Relationship = &v
			case models.StrategySemantic:
				scores.Semantic = &v
			case models.StrategyConcept:
				scores.Concept = &v
			}
		}

		results = append(results, models.FusionResult{
			Triple:      agg.triple,
			Scores:      scores,
			SearchTypes: agg.strategies,
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Scores.Fusion > results[j].Scores.Fusion
	})

	if len(results) > topK {
		results = results[:topK]
	}
	return results
}

func appendUnique(list []string, item string) []string {
	for _, existing := range list {
		if existing == item {
			return list
		}
	}
	return append(list, item)
}

// matchesFilter applies source/type/temporal filtering for strategies that
// scan in memory; the adapter applies the same filter for index queries.
func matchesFilter(t *models.Triple, filter *models.SearchFilter) bool {
	if filter == nil {
		return true
	}
	if len(filter.Sources) > 0 {
		found := false
		for _, src := range filter.Sources {
			if t.Source == src || hasChunkPrefix(t.Source, src) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(filter.Types) > 0 {
		found := false
		for _, tt := range filter.Types {
			if t.Type == tt {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if filter.Temporal != nil {
		from, to := filter.Temporal.Bounds()
		if from != nil && t.ExtractedAt.Before(*from) {
			return false
		}
		if to != nil && t.ExtractedAt.After(*to) {
			return false
		}
	}
	return true
}

func hasChunkPrefix(source, base string) bool {
	return strings.HasPrefix(source, base+"_chunk_")
}
