package llm

// UsageStats accumulates token counts and cost.
type UsageStats struct {
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	Cost         float64 `json:"cost"`
	Requests     int     `json:"requests"`
}

// Add returns the sum of u and other.
func (u UsageStats) Add(other UsageStats) UsageStats {
	return UsageStats{
		InputTokens:  u.InputTokens + other.InputTokens,
		OutputTokens: u.OutputTokens + other.OutputTokens,
		Cost:         u.Cost + other.Cost,
		Requests:     u.Requests + other.Requests,
	}
}

// Rates are USD prices per million tokens.
type Rates struct {
	InputPerMillion  float64
	OutputPerMillion float64
}

// Cost prices a call.
func (r Rates) Cost(inputTokens, outputTokens int64) float64 {
	return float64(inputTokens)/1_000_000*r.InputPerMillion +
		float64(outputTokens)/1_000_000*r.OutputPerMillion
}
