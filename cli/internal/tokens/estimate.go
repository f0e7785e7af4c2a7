// Package tokens provides token estimation for diff payloads and
// context-limit checks. Estimation prefers the cl100k_base tokenizer
// and falls back to a byte-based chars/4 heuristic when encoding fails.
package tokens

import (
	"fmt"
	"math"
	"sync"

	"github.com/tiktoken-go/tokenizer"
)

// charsPerToken is the divisor for the fallback byte-based estimator
// (roughly 4 bytes per token for typical English/code).
const charsPerToken = 4

// DefaultResponseReserve is the default number of tokens reserved for
// the agent's response when checking total context. Total context is
// diff tokens + response reserve for warning purposes.
const DefaultResponseReserve = 2048

var (
	codec     tokenizer.Codec
	codecOnce sync.Once
	codecErr  error
)

// getCodec returns the cl100k_base codec, a reasonable approximation
// for the models lareview targets.
func getCodec() (tokenizer.Codec, error) {
	codecOnce.Do(func() {
		codec, codecErr = tokenizer.Get(tokenizer.Cl100kBase)
	})
	return codec, codecErr
}

// Estimate returns an estimated token count for the given text. It
// encodes with cl100k_base when available; on any tokenizer error it
// falls back to the (len+3)/4 byte heuristic. Empty string returns 0.
func Estimate(text string) int {
	if text == "" {
		return 0
	}
	c, err := getCodec()
	if err == nil {
		ids, _, encErr := c.Encode(text)
		if encErr == nil {
			return len(ids)
		}
	}
	return (len(text) + charsPerToken - 1) / charsPerToken
}

// WarnIfOver returns a non-empty warning string when the total estimated
// tokens (diffTokens + responseReserve) meet or exceed the warn threshold
// of the context limit. contextLimit and warnThreshold come from config
// (context_limit and warn_threshold). If contextLimit <= 0, returns "".
func WarnIfOver(diffTokens, responseReserve, contextLimit int, warnThreshold float64) string {
	if contextLimit <= 0 {
		return ""
	}
	if diffTokens < 0 || responseReserve < 0 {
		return ""
	}
	if responseReserve > math.MaxInt-diffTokens {
		return fmt.Sprintf("token estimate overflow (diff %d + reserve %d)", diffTokens, responseReserve)
	}
	total := diffTokens + responseReserve
	limit := float64(contextLimit) * warnThreshold
	threshold := int(limit)
	if limit > float64(threshold) {
		threshold++
	}
	if total < threshold {
		return ""
	}
	pct := warnThreshold * 100
	return fmt.Sprintf("estimated tokens %d (diff %d + reserve %d) exceeds %.0f%% of context limit %d",
		total, diffTokens, responseReserve, pct, contextLimit)
}
