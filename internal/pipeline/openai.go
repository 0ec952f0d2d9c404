package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/rahulved/mockboard/internal/audio"
	"github.com/rahulved/mockboard/internal/interview"
	"github.com/rahulved/mockboard/internal/reliability"
)

// OpenAIConfig holds settings for the OpenAI-backed pipeline provider.
type OpenAIConfig struct {
	APIKey          string
	BaseURL         string
	TranscribeModel string
	ChatModel       string
	SpeechModel     string
	DefaultVoice    string
	Timeout         time.Duration
	MaxRetries      int
}

// OpenAIProvider implements all four pipeline stages on the OpenAI API:
// whisper transcription, chat-completion scoring and question generation,
// and speech synthesis.
type OpenAIProvider struct {
	client *openai.Client
	cfg    OpenAIConfig
}

func NewOpenAIProvider(cfg OpenAIConfig) (*OpenAIProvider, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("openai api key is required")
	}
	if cfg.TranscribeModel == "" {
		cfg.TranscribeModel = openai.Whisper1
	}
	if cfg.ChatModel == "" {
		cfg.ChatModel = openai.GPT4oMini
	}
	if cfg.SpeechModel == "" {
		cfg.SpeechModel = string(openai.TTSModel1)
	}
	if cfg.DefaultVoice == "" {
		cfg.DefaultVoice = string(openai.VoiceAlloy)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if strings.TrimSpace(cfg.BaseURL) != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	return &OpenAIProvider{
		client: openai.NewClientWithConfig(clientConfig),
		cfg:    cfg,
	}, nil
}

func (p *OpenAIProvider) Transcribe(ctx context.Context, audio []byte, languageHints []string) (Transcript, error) {
	if len(audio) == 0 {
		return Transcript{}, NewStageError(StageTranscribe, "empty_audio", false, ErrUnintelligible)
	}

	language := ""
	if len(languageHints) > 0 {
		language = languageHints[0]
	}

	var resp openai.AudioResponse
	err := p.doWithRetry(ctx, func(ctx context.Context) error {
		var err error
		resp, err = p.client.CreateTranscription(ctx, openai.AudioRequest{
			Model:    p.cfg.TranscribeModel,
			FilePath: "answer.wav",
			Reader:   bytes.NewReader(audio),
			Language: language,
		})
		return err
	})
	if err != nil {
		return Transcript{}, NewStageError(StageTranscribe, "transcription_failed", isRetryable(err), err)
	}
	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return Transcript{}, NewStageError(StageTranscribe, "unintelligible", false, ErrUnintelligible)
	}
	return Transcript{Text: text, Confidence: 1}, nil
}

const scorerSystemPrompt = `You evaluate one spoken mock-interview answer.
Return strict JSON: {"score": s, "magnitude": m, "clarity": c, "structure": t, "confidence": f}
where s is overall sentiment in [-1,1], m is its non-negative magnitude,
and c, t, f are communication metrics in [0,1]. No prose.`

func (p *OpenAIProvider) Score(ctx context.Context, text string) (interview.Sentiment, error) {
	var resp openai.ChatCompletionResponse
	err := p.doWithRetry(ctx, func(ctx context.Context) error {
		var err error
		resp, err = p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model: p.cfg.ChatModel,
			ResponseFormat: &openai.ChatCompletionResponseFormat{
				Type: openai.ChatCompletionResponseFormatTypeJSONObject,
			},
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: scorerSystemPrompt},
				{Role: openai.ChatMessageRoleUser, Content: text},
			},
		})
		return err
	})
	if err != nil {
		return interview.Sentiment{}, NewStageError(StageScore, "analysis_failed", isRetryable(err), fmt.Errorf("%w: %v", ErrAnalysis, err))
	}
	if len(resp.Choices) == 0 {
		return interview.Sentiment{}, NewStageError(StageScore, "analysis_empty", true, ErrAnalysis)
	}

	var parsed struct {
		Score      float64 `json:"score"`
		Magnitude  float64 `json:"magnitude"`
		Clarity    float64 `json:"clarity"`
		Structure  float64 `json:"structure"`
		Confidence float64 `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &parsed); err != nil {
		return interview.Sentiment{}, NewStageError(StageScore, "analysis_malformed", false, fmt.Errorf("%w: %v", ErrAnalysis, err))
	}
	if parsed.Score < -1 {
		parsed.Score = -1
	}
	if parsed.Score > 1 {
		parsed.Score = 1
	}
	if parsed.Magnitude < 0 {
		parsed.Magnitude = 0
	}
	return interview.Sentiment{
		Score:     parsed.Score,
		Magnitude: parsed.Magnitude,
		Metrics: map[string]float64{
			"clarity":    parsed.Clarity,
			"structure":  parsed.Structure,
			"confidence": parsed.Confidence,
		},
	}, nil
}

func (p *OpenAIProvider) Generate(ctx context.Context, qc QuestionContext) (GeneratedQuestion, error) {
	var history strings.Builder
	for i, q := range qc.Questions {
		fmt.Fprintf(&history, "Q%d: %s\n", q.QuestionNumber, q.Text)
		if i < len(qc.Responses) {
			fmt.Fprintf(&history, "A%d: %s\n", q.QuestionNumber, qc.Responses[i].Transcription)
		}
	}

	system := fmt.Sprintf(
		"You are a panel interviewer running a %s mock interview at %s difficulty. Focus areas: %s. "+
			"Ask exactly one question, concise and spoken-style. Do not number it or add commentary.",
		orDefault(qc.InterviewType, "general"),
		orDefault(qc.Difficulty, "medium"),
		orDefault(strings.Join(qc.FocusAreas, ", "), "candidate background"),
	)
	user := fmt.Sprintf("Interview so far:\n%sAsk question %d.", history.String(), qc.QuestionNumber)
	if qc.PreviousScore != nil {
		user += fmt.Sprintf(" The previous answer scored %.2f sentiment; probe deeper if it was weak.", qc.PreviousScore.Score)
	}

	var resp openai.ChatCompletionResponse
	err := p.doWithRetry(ctx, func(ctx context.Context) error {
		var err error
		resp, err = p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model: p.cfg.ChatModel,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: system},
				{Role: openai.ChatMessageRoleUser, Content: user},
			},
		})
		return err
	})
	if err != nil {
		return GeneratedQuestion{}, NewStageError(StageGenerate, "generation_failed", isRetryable(err), fmt.Errorf("%w: %v", ErrGeneration, err))
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return GeneratedQuestion{}, NewStageError(StageGenerate, "generation_empty", true, ErrGeneration)
	}
	return GeneratedQuestion{Text: strings.TrimSpace(resp.Choices[0].Message.Content)}, nil
}

func (p *OpenAIProvider) Synthesize(ctx context.Context, text string, profile VoiceProfile) (SynthesizedAudio, error) {
	voice := profile.Voice
	if voice == "" {
		voice = p.cfg.DefaultVoice
	}
	speed := profile.Speed
	if speed <= 0 {
		speed = 1
	}

	var pcm []byte
	err := p.doWithRetry(ctx, func(ctx context.Context) error {
		raw, err := p.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
			Model:          openai.SpeechModel(p.cfg.SpeechModel),
			Input:          text,
			Voice:          openai.SpeechVoice(voice),
			ResponseFormat: openai.SpeechResponseFormatPcm,
			Speed:          speed,
		})
		if err != nil {
			return err
		}
		defer raw.Close()
		pcm, err = io.ReadAll(raw)
		return err
	})
	if err != nil {
		return SynthesizedAudio{}, NewStageError(StageSynthesize, "synthesis_failed", isRetryable(err), fmt.Errorf("%w: %v", ErrSynthesis, err))
	}

	// The speech endpoint streams raw 24kHz PCM16LE; wrap it for playback.
	wav, err := audio.EncodeWAVPCM16LE(pcm, 24000)
	if err != nil {
		return SynthesizedAudio{}, NewStageError(StageSynthesize, "synthesis_encode_failed", false, fmt.Errorf("%w: %v", ErrSynthesis, err))
	}
	return SynthesizedAudio{Data: wav, Format: "wav"}, nil
}

func (p *OpenAIProvider) doWithRetry(ctx context.Context, op func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt <= p.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := reliability.ExponentialBackoff(attempt, 200*time.Millisecond, 2*time.Second)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		opCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
		err := op(opCtx)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		if !isRetryable(err) {
			return err
		}
	}
	return lastErr
}

func isRetryable(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return reliability.IsRetryableHTTPStatus(apiErr.HTTPStatusCode)
	}
	return errors.Is(err, context.DeadlineExceeded)
}

func orDefault(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
