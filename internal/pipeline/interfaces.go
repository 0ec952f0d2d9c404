package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/rahulved/mockboard/internal/interview"
)

// Stage identifies which pipeline stage produced a failure so the
// orchestrator can pick stage-specific recovery.
type Stage string

const (
	StageTranscribe Stage = "transcribe"
	StageScore      Stage = "score"
	StageGenerate   Stage = "generate"
	StageSynthesize Stage = "synthesize"
)

var (
	// ErrUnintelligible marks empty or garbled audio; the pipeline aborts
	// before any persistence and the candidate re-records.
	ErrUnintelligible = errors.New("audio unintelligible")
	ErrAnalysis       = errors.New("sentiment analysis failed")
	ErrGeneration     = errors.New("question generation failed")
	ErrSynthesis      = errors.New("speech synthesis failed")
)

// StageError wraps a stage failure with a stable machine code.
type StageError struct {
	Stage     Stage
	Code      string
	Retryable bool
	Err       error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage: %s: %v", e.Stage, e.Code, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

func NewStageError(stage Stage, code string, retryable bool, err error) *StageError {
	return &StageError{Stage: stage, Code: code, Retryable: retryable, Err: err}
}

type Transcript struct {
	Text       string
	Confidence float64
}

// QuestionContext carries everything the generator needs to pick the next
// question: full prior history, the previous answer's score, and the
// interview framing.
type QuestionContext struct {
	InterviewType  string
	Difficulty     string
	FocusAreas     []string
	QuestionNumber int
	Questions      []interview.Question
	Responses      []interview.Response
	PreviousScore  *interview.Sentiment
	Panelists      []interview.Panelist
}

type GeneratedQuestion struct {
	Text string
}

type VoiceProfile struct {
	Voice string
	Speed float64
}

type SynthesizedAudio struct {
	Data   []byte
	Format string
}

type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, languageHints []string) (Transcript, error)
}

type Scorer interface {
	Score(ctx context.Context, text string) (interview.Sentiment, error)
}

type QuestionGenerator interface {
	Generate(ctx context.Context, qc QuestionContext) (GeneratedQuestion, error)
}

type Synthesizer interface {
	Synthesize(ctx context.Context, text string, profile VoiceProfile) (SynthesizedAudio, error)
}

// Provider bundles the four stage collaborators.
type Provider interface {
	Transcriber
	Scorer
	QuestionGenerator
	Synthesizer
}
