package risk

import (
	"context"
	"math"
	"time"

	"github.com/aristath/trading-core/internal/alerting"
	"github.com/aristath/trading-core/internal/domain"
)

// MacroBroadcastJob is a scheduler.Job that periodically estimates market
// sentiment and realized volatility, classifies the macro regime, and
// publishes a MacroState event for PQVolTrader and other subscribers.
// Grounded on risk_service.py's _macro_state_broadcast_loop.
type MacroBroadcastJob struct {
	svc *Service
}

// NewMacroBroadcastJob wraps svc as a schedulable job.
func NewMacroBroadcastJob(svc *Service) *MacroBroadcastJob { return &MacroBroadcastJob{svc: svc} }

func (j *MacroBroadcastJob) Name() string { return "macro_state_broadcast" }

func (j *MacroBroadcastJob) Run() error {
	return j.svc.broadcastMacroState(context.Background())
}

func (s *Service) broadcastMacroState(ctx context.Context) error {
	sentiment := s.fetchSentiment(ctx)
	realizedVol := s.estimateRealizedVol()

	regime, score := inferMacroState(realizedVol, sentiment)
	fomo := computeFomoScore(sentiment, realizedVol)

	state := domain.MacroState{
		Regime:      domain.Regime(regime),
		RegimeScore: score,
		Sentiment:   sentiment,
		Fomo:        fomo,
		TS:          time.Now().UTC(),
	}

	if err := s.bus.Publish(domain.StreamMarketMacroState, state); err != nil {
		return err
	}
	s.alerts.Emit(alerting.MacroBroadcast, "risk_service", map[string]any{
		"regime": regime, "score": score,
	})
	return nil
}

// fetchSentiment queries the configured sentiment endpoints via the shared
// proxypool client, returning nil if none are configured or reachable —
// the caller then falls back to a neutral reading.
func (s *Service) fetchSentiment(ctx context.Context) *float64 {
	if s.sentiment == nil {
		return nil
	}
	var resp domain.SentimentResponse
	if err := s.sentiment.RequestJSON(ctx, "/api/v1/sentiment/twitter?query=BTC&max_results=20", &resp); err != nil {
		s.log.Warn().Err(err).Msg("sentiment fetch failed")
		return nil
	}
	score := resp.WeightedScore
	return &score
}

// estimateRealizedVol derives a rough volatility proxy from the fractional
// change between the last two recorded portfolio valuations, clamped at
// 1.5. Returns nil if fewer than two samples exist.
func (s *Service) estimateRealizedVol() *float64 {
	history, err := s.store.PnlHistory()
	if err != nil || len(history) < 2 {
		return nil
	}
	curr := history[len(history)-1]
	prev := history[len(history)-2]

	denom := math.Abs(prev.TotalValue)
	if denom < 1.0 {
		denom = 1.0
	}
	change := math.Abs(curr.TotalValue-prev.TotalValue) / denom
	if change > 1.5 {
		change = 1.5
	}
	return &change
}

// inferMacroState classifies the current macro regime from realized
// volatility and sentiment, using risk_service.py's exact band thresholds
// and per-regime score formulas. Missing inputs default to vol=0.4,
// sentiment=0.0 (a calm, neutral baseline).
func inferMacroState(vol, sentiment *float64) (string, float64) {
	v := 0.4
	if vol != nil {
		v = *vol
	}
	sent := 0.0
	if sentiment != nil {
		sent = *sentiment
	}

	highVol := v > 0.8
	midVol := v > 0.4 && v <= 0.8
	lowVol := v <= 0.4

	veryBullish := sent > 0.7
	bullish := sent > 0.3 && sent <= 0.7
	neutral := sent >= -0.3 && sent <= 0.3
	bearish := sent >= -0.7 && sent < -0.3
	veryBearish := sent < -0.7

	switch {
	case highVol && veryBearish:
		return "panic", math.Min(1.0, (v-0.8)+math.Abs(sent))
	case highVol && veryBullish:
		return "high_vol_bull", math.Min(1.0, (v-0.8)+sent)
	case (lowVol || midVol) && bullish:
		return "bull", math.Min(1.0, 0.5*v+sent)
	case (midVol || highVol) && bearish:
		return "bear", math.Min(1.0, v+math.Abs(sent))
	case lowVol && neutral:
		return "chop", math.Min(1.0, 0.2+v)
	default:
		return "unknown", 0.1
	}
}

// computeFomoScore blends sentiment and realized volatility into a single
// 0-1 score, or nil if either input is unavailable.
func computeFomoScore(sentiment, realizedVol *float64) *float64 {
	if sentiment == nil || realizedVol == nil {
		return nil
	}
	score := 0.6*(*sentiment) + 0.4*(*realizedVol)
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	return &score
}
