package translate

// Dialect identifies one of the two client wire formats
type Dialect string

const (
	DialectOpenAI    Dialect = "openai"
	DialectAnthropic Dialect = "anthropic"
)

// Blended per-token fallback rates in USD, one input/output pair per
// dialect. Used only when a provider reports token usage but no
// authoritative cost; real billing comes from the cost table.
const (
	openaiInputRate     = 2.50 / 1e6
	openaiOutputRate    = 10.00 / 1e6
	anthropicInputRate  = 3.00 / 1e6
	anthropicOutputRate = 15.00 / 1e6
)

// EstimateCost computes a fallback cost in USD from token counts using the
// dialect's blended rates. Unknown dialects fall back to the OpenAI pair.
func EstimateCost(dialect Dialect, inputTokens, outputTokens int) float64 {
	in, out := openaiInputRate, openaiOutputRate
	if dialect == DialectAnthropic {
		in, out = anthropicInputRate, anthropicOutputRate
	}
	return float64(inputTokens)*in + float64(outputTokens)*out
}
