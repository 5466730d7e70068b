package service

import (
	"context"
	"sort"
	"strings"
	"time"

	"conviction-engine/internal/consensus"
	"conviction-engine/internal/domain"
	"conviction-engine/internal/provider"
	"conviction-engine/internal/recalibration"
	"conviction-engine/internal/tradeplan"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type EvaluationRequest struct {
	Ticker            string                   `json:"ticker"`
	Tier              domain.AssetTier         `json:"tier"`
	Sector            string                   `json:"sector"`
	Regime            domain.MacroRegime       `json:"regime"`
	Signals           map[string]domain.Signal `json:"signals"`
	Price             float64                  `json:"price"`
	ATR               float64                  `json:"atr,omitempty"`
	Direction         domain.Direction         `json:"direction,omitempty"`
	VolatilityProxy   *float64                 `json:"volatility_proxy,omitempty"`
	VolatilityRegime  domain.VolatilityRegime  `json:"volatility_regime,omitempty"`
	VolatilityProfile domain.VolatilityProfile `json:"volatility_profile,omitempty"`
	SpecialEvent      string                   `json:"special_event,omitempty"`
	BaseConfidence    *float64                 `json:"base_confidence,omitempty"`
	Flags             tradeplan.Flags          `json:"flags"`
	AsOf              *time.Time               `json:"as_of,omitempty"`
	Closes            []float64                `json:"closes,omitempty"`
}

type EvaluationResponse struct {
	DecisionID            string                        `json:"decision_id"`
	Consensus             domain.ConsensusResult        `json:"consensus"`
	Confidence            domain.RecalibratedConfidence `json:"confidence"`
	Plan                  domain.TradePlan              `json:"plan"`
	ContributingSourceIDs []string                      `json:"contributing_source_ids"`
	StateSource           string                        `json:"state_source"`
}

type SignalCollector interface {
	Collect(ctx context.Context, req provider.Request) domain.SignalSet
}

type DecisionStore interface {
	InsertDecision(ctx context.Context, d domain.Decision) error
}

// EvaluationService runs consensus, recalibration and plan construction over one frozen
// signal snapshot. The only side effect is the best-effort decision log.
type EvaluationService struct {
	tracer      trace.Tracer
	collector   SignalCollector
	state       *StateLoader
	engine      *consensus.Engine
	pipeline    *recalibration.Pipeline
	constructor *tradeplan.Constructor
	decisions   DecisionStore
	now         func() time.Time
	newID       func() string
}

func NewEvaluationService(
	tracer trace.Tracer,
	collector SignalCollector,
	state *StateLoader,
	engine *consensus.Engine,
	pipeline *recalibration.Pipeline,
	constructor *tradeplan.Constructor,
	decisions DecisionStore,
) *EvaluationService {
	return &EvaluationService{
		tracer:      tracer,
		collector:   collector,
		state:       state,
		engine:      engine,
		pipeline:    pipeline,
		constructor: constructor,
		decisions:   decisions,
		now:         time.Now,
		newID:       uuid.NewString,
	}
}

func (s *EvaluationService) Evaluate(ctx context.Context, req EvaluationRequest) EvaluationResponse {
	ctx, span := s.tracer.Start(ctx, "evaluation-service.evaluate")
	defer span.End()

	ticker := strings.ToUpper(strings.TrimSpace(req.Ticker))
	span.SetAttributes(attribute.String("ticker", ticker))

	snapshot := s.snapshot(ctx, ticker, req)
	sources := snapshot.SourceIDs()
	sort.Strings(sources)

	state, stateSource := s.state.Load(ctx)

	sourceWeights := make(map[string]float64, len(sources))
	for _, id := range sources {
		sourceWeights[id] = state.Weight(id)
	}

	result := s.engine.Compute(consensus.Input{
		Ticker:          ticker,
		Signals:         snapshot,
		Regime:          req.Regime,
		Tier:            req.Tier,
		Sector:          req.Sector,
		VolatilityProxy: req.VolatilityProxy,
		SourceWeights:   sourceWeights,
	})

	base := float64(result.FinalScore)
	if req.BaseConfidence != nil {
		base = *req.BaseConfidence
	}
	asOf := s.now().UTC()
	if req.AsOf != nil && !req.AsOf.IsZero() {
		asOf = req.AsOf.UTC()
	}
	confidence := s.pipeline.Recalibrate(base, recalibration.Context{
		ContributingSources: sources,
		Weights:             state.Weights,
		Sector:              req.Sector,
		Sectors:             state.Sectors,
		Tier:                req.Tier,
		Volatility:          req.VolatilityRegime,
		Month:               asOf.Month(),
		SpecialEvent:        req.SpecialEvent,
		DriftFactor:         state.Adaptation(domain.ParamDriftCorrection),
	})

	plan := s.constructor.Construct(tradeplan.PlanInput{
		Ticker:     ticker,
		Price:      req.Price,
		ATR:        req.ATR,
		Direction:  req.Direction,
		Confidence: confidence,
		Profile:    req.VolatilityProfile,
		Tier:       req.Tier,
		Sector:     req.Sector,
		Flags:      req.Flags,
		Params:     tradeplan.ParamsFrom(state),
	})

	resp := EvaluationResponse{
		DecisionID:            s.newID(),
		Consensus:             result,
		Confidence:            confidence,
		Plan:                  plan,
		ContributingSourceIDs: sources,
		StateSource:           stateSource,
	}
	s.record(ctx, resp, snapshot)

	span.SetAttributes(
		attribute.Int("consensus.score", result.FinalScore),
		attribute.Int("confidence.score", confidence.Score),
		attribute.Float64("plan.allocation", plan.AllocationPercent),
		attribute.String("state.source", stateSource),
	)
	return resp
}

// snapshot merges provider signals with the request's; request signals win on conflict.
// The returned set is a private copy and is never re-read from providers.
func (s *EvaluationService) snapshot(ctx context.Context, ticker string, req EvaluationRequest) domain.SignalSet {
	set := domain.SignalSet{}
	if s.collector != nil && ticker != "" {
		for id, sig := range s.collector.Collect(ctx, provider.Request{Ticker: ticker, Sector: req.Sector, Tier: req.Tier, Closes: req.Closes}) {
			set[id] = sig
		}
	}
	for key, sig := range req.Signals {
		id := strings.TrimSpace(sig.SourceID)
		if id == "" {
			id = strings.TrimSpace(key)
		}
		if id == "" {
			continue
		}
		sig.SourceID = id
		if sig.Ticker == "" {
			sig.Ticker = ticker
		}
		set[id] = sig
	}
	return set.Clone()
}

func (s *EvaluationService) record(ctx context.Context, resp EvaluationResponse, snapshot domain.SignalSet) {
	if s.decisions == nil {
		return
	}
	signals := make([]domain.Signal, 0, len(snapshot))
	for _, id := range resp.ContributingSourceIDs {
		signals = append(signals, snapshot[id])
	}
	d := domain.Decision{
		ID:         resp.DecisionID,
		Ticker:     resp.Plan.Ticker,
		CreatedAt:  s.now().UTC(),
		Signals:    signals,
		Consensus:  resp.Consensus,
		Confidence: resp.Confidence,
		Plan:       resp.Plan,
	}
	if err := s.decisions.InsertDecision(ctx, d); err != nil {
		log.Warn().Err(err).Str("decision_id", d.ID).Str("ticker", d.Ticker).Msg("failed to record decision")
	}
}
