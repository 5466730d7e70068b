package learning

import (
	"context"
	"sort"
	"sync"
	"time"

	"conviction-engine/internal/domain"
)

// MemoryStore keeps learning state in process. It is used when no database is
// configured and as the last-known-state holder in tests.
type MemoryStore struct {
	mu          sync.Mutex
	weights     map[string]domain.EngineWeight
	adaptations map[string]domain.SystemAdaptation
	sectors     map[string]domain.SectorStats
	processed   map[string]struct{}
	samples     []CalibrationSample
	now         func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		weights:     map[string]domain.EngineWeight{},
		adaptations: domain.DefaultAdaptations(),
		sectors:     map[string]domain.SectorStats{},
		processed:   map[string]struct{}{},
		now:         time.Now,
	}
}

func (s *MemoryStore) ApplyOutcome(_ context.Context, u Update) (Applied, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := u.Outcome.ID
	if _, ok := s.processed[id]; ok {
		return Applied{}, ErrAlreadyProcessed
	}
	now := s.now().UTC()

	ids := append([]string(nil), u.Outcome.ContributingSourceIDs...)
	sort.Strings(ids)
	updated := make([]domain.EngineWeight, 0, len(ids))
	for _, src := range ids {
		w, ok := s.weights[src]
		if !ok {
			w = domain.EngineWeight{SourceID: src, Weight: u.Rules.DefaultWeight}
		}
		w.Weight = clamp(w.Weight*u.WeightFactor, u.Rules.MinWeight, u.Rules.MaxWeight)
		if u.Result == domain.ResultWin {
			w.Wins++
		} else {
			w.Losses++
		}
		w.UpdatedAt = now
		s.weights[src] = w
		updated = append(updated, w)
	}

	padding := s.adaptations[domain.ParamStopLossPadding]
	if padding.ParamKey == "" {
		padding = domain.DefaultAdaptations()[domain.ParamStopLossPadding]
	}
	if u.PaddingFactor != 1.0 {
		padding.Value = clamp(padding.Value*u.PaddingFactor, u.Rules.MinPadding, u.Rules.MaxPadding)
		padding.UpdatedAt = now
		s.adaptations[domain.ParamStopLossPadding] = padding
	}

	if u.Outcome.Sector != "" {
		st := s.sectors[u.Outcome.Sector]
		st.Sector = u.Outcome.Sector
		if u.Result == domain.ResultWin {
			st.Wins++
		} else {
			st.Losses++
		}
		s.sectors[u.Outcome.Sector] = st
	}

	if u.Outcome.PredictedConfidence != nil {
		s.samples = append(s.samples, CalibrationSample{
			PredictedConfidence: *u.Outcome.PredictedConfidence,
			Win:                 u.Result == domain.ResultWin,
			ClosedAt:            u.Outcome.ClosedAt,
		})
	}

	s.processed[id] = struct{}{}
	return Applied{
		OutcomeID:       id,
		Result:          u.Result,
		Weights:         updated,
		StopLossPadding: padding.Value,
	}, nil
}

// LoadState returns a deep copy of the current state.
func (s *MemoryStore) LoadState(_ context.Context) (domain.LearningState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := domain.LearningState{
		Weights:     make(map[string]domain.EngineWeight, len(s.weights)),
		Adaptations: make(map[string]domain.SystemAdaptation, len(s.adaptations)),
		Sectors:     make(map[string]domain.SectorStats, len(s.sectors)),
		LoadedAt:    s.now().UTC(),
	}
	for k, v := range s.weights {
		st.Weights[k] = v
	}
	for k, v := range s.adaptations {
		st.Adaptations[k] = v
	}
	for k, v := range s.sectors {
		st.Sectors[k] = v
	}
	return st, nil
}

// RecentCalibrationSamples returns up to limit samples, newest first.
func (s *MemoryStore) RecentCalibrationSamples(_ context.Context, limit int) ([]CalibrationSample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]CalibrationSample, 0, len(s.samples))
	for i := len(s.samples) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		out = append(out, s.samples[i])
	}
	return out, nil
}

func (s *MemoryStore) SetAdaptation(_ context.Context, key string, value float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.adaptations[key]
	if !ok {
		a = domain.SystemAdaptation{ParamKey: key}
		if seed, ok := domain.DefaultAdaptations()[key]; ok {
			a = seed
		}
	}
	a.Value = value
	a.UpdatedAt = s.now().UTC()
	s.adaptations[key] = a
	return nil
}
