package domain

import "time"

type Group string

const (
	GroupMacro     Group = "macro"
	GroupTechnical Group = "technical"
	GroupSentiment Group = "sentiment"
	GroupInsider   Group = "insider"
	GroupValuation Group = "valuation"
)

// Groups lists the consensus groups in their canonical order.
var Groups = []Group{GroupMacro, GroupTechnical, GroupSentiment, GroupInsider, GroupValuation}

func (g Group) IsValid() bool {
	switch g {
	case GroupMacro, GroupTechnical, GroupSentiment, GroupInsider, GroupValuation:
		return true
	}
	return false
}

type MacroRegime string

const (
	RegimeRiskOn   MacroRegime = "RISK_ON"
	RegimeRiskOff  MacroRegime = "RISK_OFF"
	RegimeRecovery MacroRegime = "RECOVERY"
	RegimeBubble   MacroRegime = "BUBBLE"
)

type ConfidenceTier string

const (
	TierHigh   ConfidenceTier = "HIGH"
	TierMedium ConfidenceTier = "MEDIUM"
	TierLow    ConfidenceTier = "LOW"
)

type VolatilityRegime string

const (
	VolatilityLow     VolatilityRegime = "LOW"
	VolatilityNormal  VolatilityRegime = "NORMAL"
	VolatilityHigh    VolatilityRegime = "HIGH"
	VolatilityExtreme VolatilityRegime = "EXTREME"
)

type VolatilityProfile string

const (
	ProfileLow    VolatilityProfile = "Low"
	ProfileMedium VolatilityProfile = "Medium"
	ProfileHigh   VolatilityProfile = "High"
)

// AssetTier buckets an instrument by size and speculative risk.
type AssetTier string

const (
	AssetLargeCap    AssetTier = "LARGE_CAP"
	AssetMidCap      AssetTier = "MID_CAP"
	AssetSmallCap    AssetTier = "SMALL_CAP"
	AssetSpeculative AssetTier = "SPECULATIVE"
)

type Direction string

const (
	DirectionLong  Direction = "long"
	DirectionShort Direction = "short"
	DirectionNone  Direction = "none"
)

type OutcomeResult string

const (
	ResultWin  OutcomeResult = "WIN"
	ResultLoss OutcomeResult = "LOSS"
)

// Adaptation parameter keys.
const (
	ParamStopLossPadding     = "stop_loss_padding"
	ParamConvictionThreshold = "conviction_threshold"
	ParamMaxAllocationCap    = "max_allocation_cap"
	ParamDriftCorrection     = "drift_correction"
)

// Weight and adaptation bounds.
const (
	MinEngineWeight     = 0.1
	MaxEngineWeight     = 2.0
	DefaultEngineWeight = 1.0

	MinStopLossPadding = 0.8
	MaxStopLossPadding = 1.5

	MinDriftCorrection = 0.85
	MaxDriftCorrection = 1.15
)

type EngineWeight struct {
	SourceID  string    `json:"source_id"`
	Weight    float64   `json:"weight"`
	Wins      int       `json:"wins"`
	Losses    int       `json:"losses"`
	UpdatedAt time.Time `json:"updated_at"`
}

// WinRate returns the observed win rate and the number of closed trades behind it.
func (w EngineWeight) WinRate() (float64, int) {
	n := w.Wins + w.Losses
	if n == 0 {
		return 0, 0
	}
	return float64(w.Wins) / float64(n), n
}

type SystemAdaptation struct {
	ParamKey    string    `json:"param_key"`
	Value       float64   `json:"value"`
	Description string    `json:"description"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// DefaultAdaptations returns the seed values for every adaptation parameter.
func DefaultAdaptations() map[string]SystemAdaptation {
	return map[string]SystemAdaptation{
		ParamStopLossPadding: {
			ParamKey:    ParamStopLossPadding,
			Value:       1.0,
			Description: "multiplier applied to every stop distance",
		},
		ParamConvictionThreshold: {
			ParamKey:    ParamConvictionThreshold,
			Value:       50,
			Description: "minimum final confidence required to allocate capital",
		},
		ParamMaxAllocationCap: {
			ParamKey:    ParamMaxAllocationCap,
			Value:       10,
			Description: "hard ceiling on allocation percent per plan",
		},
		ParamDriftCorrection: {
			ParamKey:    ParamDriftCorrection,
			Value:       1.0,
			Description: "global calibration factor from predicted vs realized outcomes",
		},
	}
}

type SectorStats struct {
	Sector string `json:"sector"`
	Wins   int    `json:"wins"`
	Losses int    `json:"losses"`
}

func (s SectorStats) WinRate() (float64, int) {
	n := s.Wins + s.Losses
	if n == 0 {
		return 0, 0
	}
	return float64(s.Wins) / float64(n), n
}

// LearningState is everything the decision path reads from persisted storage.
type LearningState struct {
	Weights     map[string]EngineWeight     `json:"weights"`
	Adaptations map[string]SystemAdaptation `json:"adaptations"`
	Sectors     map[string]SectorStats      `json:"sectors"`
	LoadedAt    time.Time                   `json:"loaded_at"`
}

// DefaultLearningState is used when nothing could be loaded.
func DefaultLearningState() LearningState {
	return LearningState{
		Weights:     map[string]EngineWeight{},
		Adaptations: DefaultAdaptations(),
		Sectors:     map[string]SectorStats{},
	}
}

// Adaptation returns the value for key, falling back to the seed default.
func (s LearningState) Adaptation(key string) float64 {
	if a, ok := s.Adaptations[key]; ok {
		return a.Value
	}
	return DefaultAdaptations()[key].Value
}

// Weight returns the learned weight for a source, or the default for unseen sources.
func (s LearningState) Weight(sourceID string) float64 {
	if w, ok := s.Weights[sourceID]; ok && w.Weight > 0 {
		return w.Weight
	}
	return DefaultEngineWeight
}

type ConsensusResult struct {
	Ticker           string            `json:"ticker"`
	FinalScore       int               `json:"final_score"`
	Breakdown        map[Group]float64 `json:"breakdown"`
	RegimeAdjustment float64           `json:"regime_adjustment"`
	ConfidenceTier   ConfidenceTier    `json:"confidence_tier"`
}

type AppliedFactor struct {
	Name       string  `json:"name"`
	Multiplier float64 `json:"multiplier"`
	Reason     string  `json:"reason"`
}

type RecalibratedConfidence struct {
	Score          int             `json:"score"`
	AppliedFactors []AppliedFactor `json:"applied_factors"`
}

type TradePlan struct {
	Ticker            string    `json:"ticker"`
	Direction         Direction `json:"direction"`
	EntryPrimary      float64   `json:"entry_primary"`
	StopLoss          float64   `json:"stop_loss"`
	TakeProfit1       float64   `json:"take_profit_1"`
	TakeProfit2       float64   `json:"take_profit_2"`
	TakeProfit3       float64   `json:"take_profit_3"`
	AllocationPercent float64   `json:"allocation_percent"`
	RiskRewardRatio   float64   `json:"risk_reward_ratio"`
	Rationale         string    `json:"rationale"`
}

// IsTrade reports whether the plan allocates capital.
func (p TradePlan) IsTrade() bool {
	return p.AllocationPercent > 0 && p.Direction != DirectionNone
}

// Decision is one persisted evaluation.
type Decision struct {
	ID         string                 `json:"decision_id"`
	Ticker     string                 `json:"ticker"`
	CreatedAt  time.Time              `json:"created_at"`
	Signals    []Signal               `json:"signals"`
	Consensus  ConsensusResult        `json:"consensus"`
	Confidence RecalibratedConfidence `json:"confidence"`
	Plan       TradePlan              `json:"plan"`
}
