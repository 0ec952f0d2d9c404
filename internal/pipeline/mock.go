package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/rahulved/mockboard/internal/interview"
)

// MockProvider is a local fallback provider used when OpenAI is not
// configured. Transcription echoes the audio bytes as text so scenario
// tests can drive exact transcripts through the pipeline.
type MockProvider struct{}

func NewMockProvider() *MockProvider { return &MockProvider{} }

func (p *MockProvider) Transcribe(_ context.Context, audio []byte, _ []string) (Transcript, error) {
	text := strings.TrimSpace(string(audio))
	if text == "" {
		return Transcript{}, NewStageError(StageTranscribe, "unintelligible", false, ErrUnintelligible)
	}
	return Transcript{Text: text, Confidence: 0.7}, nil
}

func (p *MockProvider) Score(_ context.Context, text string) (interview.Sentiment, error) {
	words := len(strings.Fields(text))
	score := 0.1
	if words >= 20 {
		score = 0.5
	}
	return interview.Sentiment{
		Score:     score,
		Magnitude: float64(words) / 10,
		Metrics:   map[string]float64{"word_count": float64(words)},
	}, nil
}

func (p *MockProvider) Generate(_ context.Context, qc QuestionContext) (GeneratedQuestion, error) {
	if qc.QuestionNumber <= 1 {
		return GeneratedQuestion{Text: "Tell us about yourself and why you are here today."}, nil
	}
	return GeneratedQuestion{
		Text: fmt.Sprintf("Question %d: can you expand on your previous answer?", qc.QuestionNumber),
	}, nil
}

func (p *MockProvider) Synthesize(_ context.Context, text string, _ VoiceProfile) (SynthesizedAudio, error) {
	return SynthesizedAudio{Data: []byte(text), Format: "mock_text_bytes"}, nil
}
