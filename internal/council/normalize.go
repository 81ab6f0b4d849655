package council

import (
	"context"
	"strings"

	"github.com/rs/zerolog"
)

// normalizedResponse carries a responder's text into Stage 2, recording
// whether the normalizer rewrote it. Raw is always the Stage 1 original.
type normalizedResponse struct {
	Model      string `json:"model"`
	Raw        string `json:"raw"`
	Text       string `json:"text"`
	Normalized bool   `json:"normalized"`
}

// normalizeResponses optionally rewrites each surviving response through
// the style normalizer before anonymization. Normalization is best-effort:
// a failed or empty rewrite falls back to the raw text, never fails the
// deliberation. Runs within the Stage 2 budget's front half.
func normalizeResponses(ctx context.Context, caller Caller, cfg Config, log zerolog.Logger, survivors []StageResult[string]) []normalizedResponse {
	out := make([]normalizedResponse, len(survivors))
	for i, s := range survivors {
		out[i] = normalizedResponse{Model: s.Model, Raw: *s.Value, Text: *s.Value}
	}
	if !cfg.StyleNormalization || cfg.Normalizer == "" {
		return out
	}

	models := make([]string, len(survivors))
	byModel := make(map[string]int, len(survivors))
	for i, s := range survivors {
		models[i] = s.Model
		byModel[s.Model] = i
	}

	results := fanOut(ctx, models, cfg.Timeouts.Stage2D()/2, func(ctx context.Context, model string) (string, error) {
		return caller.Call(ctx, cfg.Normalizer, normalizeSystem, buildNormalizePrompt(out[byModel[model]].Raw))
	})

	for i, r := range results {
		if !r.OK() || strings.TrimSpace(*r.Value) == "" {
			log.Warn().Str("model", models[i]).Str("error", string(r.Error)).Msg("style normalization failed, using raw response")
			continue
		}
		out[i].Text = *r.Value
		out[i].Normalized = true
	}
	return out
}
