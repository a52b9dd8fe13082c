package synthesis

// GenerationStats summarizes a finished session: total engine wall
// clock, total audio length, and the real-time factor.
type GenerationStats struct {
	GenerationSeconds float64 `json:"generation_time"`
	AudioSeconds      float64 `json:"audio_duration"`
	RTF               float64 `json:"rtf"`
}

// NewGenerationStats derives the stats. Zero audio duration yields
// RTF 0 rather than failing the request.
func NewGenerationStats(generationSeconds, audioSeconds float64) GenerationStats {
	stats := GenerationStats{
		GenerationSeconds: generationSeconds,
		AudioSeconds:      audioSeconds,
	}
	if audioSeconds > 0 {
		stats.RTF = generationSeconds / audioSeconds
	}
	return stats
}
