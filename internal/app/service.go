package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/hylla/turf/internal/domain"
	"github.com/hylla/turf/internal/geometry"
	"github.com/hylla/turf/internal/spatial"
)

// IDGenerator returns unique identifiers for new entities.
type IDGenerator func() string

// Clock returns the current time.
type Clock func() time.Time

// ServiceConfig holds conquest thresholds and policies.
type ServiceConfig struct {
	Sanitize           geometry.SanitizeOptions
	Build              geometry.BuildOptions
	DestroyThreshold   float64
	OverlapEpsilon     float64
	MaxConflictRetries int
	SelfOverlap        SelfOverlapPolicy
}

// DefaultServiceConfig returns the standard conquest thresholds.
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		Sanitize:           geometry.DefaultSanitizeOptions(),
		Build:              geometry.DefaultBuildOptions(),
		DestroyThreshold:   0.95,
		OverlapEpsilon:     0.01,
		MaxConflictRetries: 3,
		SelfOverlap:        SelfOverlapIgnore,
	}
}

// Option customizes a Service.
type Option func(*Service)

// WithLogger sets the runtime logger.
func WithLogger(logger Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(metrics Metrics) Option {
	return func(s *Service) {
		if metrics != nil {
			s.metrics = metrics
		}
	}
}

// WithClipper replaces the polygon clipper.
func WithClipper(clipper geometry.Clipper) Option {
	return func(s *Service) {
		if clipper != nil {
			s.clipper = clipper
		}
	}
}

// WithTracer sets the tracer used for conquest spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(s *Service) {
		if tracer != nil {
			s.tracer = tracer
		}
	}
}

// Service runs conquests and serves territory reads.
type Service struct {
	store   TerritoryStore
	index   spatial.Index
	gate    EventModeGate
	clipper geometry.Clipper
	idGen   IDGenerator
	clock   Clock
	cfg     ServiceConfig
	logger  Logger
	metrics Metrics
	tracer  trace.Tracer
}

// NewService constructs a new value for this package.
func NewService(store TerritoryStore, index spatial.Index, policy PolicyProvider, idGen IDGenerator, clock Clock, cfg ServiceConfig, opts ...Option) *Service {
	if index == nil {
		index = spatial.NewRTree()
	}
	if idGen == nil {
		idGen = func() string { return "" }
	}
	if clock == nil {
		clock = time.Now
	}
	defaults := DefaultServiceConfig()
	if cfg.DestroyThreshold <= 0 || cfg.DestroyThreshold > 1 {
		cfg.DestroyThreshold = defaults.DestroyThreshold
	}
	if cfg.OverlapEpsilon <= 0 {
		cfg.OverlapEpsilon = defaults.OverlapEpsilon
	}
	if cfg.MaxConflictRetries < 0 {
		cfg.MaxConflictRetries = defaults.MaxConflictRetries
	}
	if cfg.SelfOverlap == "" {
		cfg.SelfOverlap = SelfOverlapIgnore
	}
	if cfg.Sanitize == (geometry.SanitizeOptions{}) {
		cfg.Sanitize = defaults.Sanitize
	}
	if cfg.Build == (geometry.BuildOptions{}) {
		cfg.Build = defaults.Build
	}

	s := &Service{
		store:   store,
		index:   index,
		gate:    NewEventModeGate(policy),
		clipper: geometry.NewClipper(),
		idGen:   idGen,
		clock:   clock,
		cfg:     cfg,
		logger:  nopLogger{},
		metrics: nopMetrics{},
		tracer:  otel.Tracer("github.com/hylla/turf/internal/app"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) resolver() resolver {
	return resolver{
		clipper:          s.clipper,
		logger:           s.logger,
		destroyThreshold: s.cfg.DestroyThreshold,
		overlapEpsilon:   s.cfg.OverlapEpsilon,
		selfOverlap:      s.cfg.SelfOverlap,
	}
}

// GetTerritory returns one territory with its history.
func (s *Service) GetTerritory(ctx context.Context, id string) (domain.Territory, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Territory{}, domain.ErrInvalidID
	}
	return s.store.GetTerritory(ctx, id)
}

// ListTerritoriesInBounds returns territories whose box intersects bounds.
func (s *Service) ListTerritoriesInBounds(ctx context.Context, bounds domain.Bounds) ([]domain.Territory, error) {
	if !bounds.Valid() {
		return nil, fmt.Errorf("bounds %+v: %w", bounds, domain.ErrValidation)
	}
	territories, err := s.store.ListTerritoriesInBounds(ctx, bounds)
	if err != nil {
		return nil, err
	}
	sortCandidates(territories)
	return territories, nil
}

// ListInvasions returns recent invasions against one owner, newest first.
func (s *Service) ListInvasions(ctx context.Context, ownerID string, limit int) ([]domain.Invasion, error) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return nil, domain.ErrInvalidOwnerID
	}
	if limit <= 0 {
		limit = 50
	}
	return s.store.ListInvasions(ctx, ownerID, limit)
}

// RebuildIndex reloads every territory box from the store.
func (s *Service) RebuildIndex(ctx context.Context) (int, error) {
	entries, err := s.store.ListTerritoryBounds(ctx)
	if err != nil {
		return 0, fmt.Errorf("list territory bounds: %w", err)
	}
	s.index.Reset(entries)
	s.logger.Info("spatial index rebuilt", "territories", len(entries))
	return len(entries), nil
}

// refreshRegion re-syncs index entries inside bounds with committed state.
func (s *Service) refreshRegion(ctx context.Context, bounds domain.Bounds) error {
	territories, err := s.store.ListTerritoriesInBounds(ctx, bounds)
	if err != nil {
		return err
	}
	live := make(map[string]struct{}, len(territories))
	for _, t := range territories {
		live[t.ID] = struct{}{}
		s.index.Upsert(t.ID, t.Polygon.Bounds())
	}
	for _, id := range s.index.Query(bounds) {
		if _, ok := live[id]; ok {
			continue
		}
		t, err := s.store.GetTerritory(ctx, id)
		switch {
		case errors.Is(err, ErrNotFound):
			s.index.Remove(id)
		case err != nil:
			return err
		default:
			s.index.Upsert(id, t.Polygon.Bounds())
		}
	}
	return nil
}
