package analysis

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/callscope/backend/internal/metrics"
	"github.com/callscope/backend/internal/models"
)

const DefaultTimeout = 45 * time.Second

// Dispatcher obtains analytics for a finished call. It never fails: when the
// provider is missing, slow or broken the synthetic generator answers.
type Dispatcher struct {
	Analyzer Analyzer
	Audio    AudioFetcher
	Timeout  time.Duration
	Metrics  *metrics.Metrics
	Logger   zerolog.Logger
	Now      func() time.Time
}

func (d *Dispatcher) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

func (d *Dispatcher) timeout() time.Duration {
	if d.Timeout > 0 {
		return d.Timeout
	}
	return DefaultTimeout
}

// Analyze tries audio analysis when the call has a recording and the provider
// supports it, then text analysis, then the synthetic fallback.
func (d *Dispatcher) Analyze(ctx context.Context, call models.CallRecord) models.Analytics {
	start := d.now()
	log := d.Logger.With().Str("call_id", call.ID).Logger()

	if d.Analyzer != nil {
		actx, cancel := context.WithTimeout(ctx, d.timeout())
		a, err := d.analyzeReal(actx, call, log)
		cancel()
		if err == nil {
			source := d.Analyzer.Name()
			d.Metrics.Analysis(source, d.now().Sub(start))
			return Normalize(a, call, source, "", d.now())
		}
		log.Warn().Err(err).Str("provider", d.Analyzer.Name()).Msg("analysis failed, using synthetic fallback")
	}

	a := Synthesize(call)
	d.Metrics.Analysis(SourceSynthetic, d.now().Sub(start))
	return Normalize(a, call, SourceSynthetic, "synthetic-v1", d.now())
}

// Synthetic skips the provider entirely.
func (d *Dispatcher) Synthetic(call models.CallRecord) models.Analytics {
	return Normalize(Synthesize(call), call, SourceSynthetic, "synthetic-v1", d.now())
}

func (d *Dispatcher) analyzeReal(ctx context.Context, call models.CallRecord, log zerolog.Logger) (models.Analytics, error) {
	if aa, ok := d.Analyzer.(AudioAnalyzer); ok && call.AudioURL != "" && d.Audio != nil {
		data, mime, err := d.Audio.FetchAudio(ctx, call.AudioURL)
		if err == nil && len(data) > 0 {
			a, err := aa.AnalyzeAudio(ctx, call, Audio{Data: data, MimeType: mime})
			if err == nil {
				return a, nil
			}
			log.Info().Err(err).Msg("audio analysis failed, trying text")
		} else if err != nil {
			log.Info().Err(err).Msg("audio download failed, trying text")
		}
		if ctx.Err() != nil {
			return models.Analytics{}, ctx.Err()
		}
	}
	return d.Analyzer.AnalyzeText(ctx, call)
}
