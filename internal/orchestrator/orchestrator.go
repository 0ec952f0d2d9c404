package orchestrator

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/rahulved/mockboard/internal/interview"
	"github.com/rahulved/mockboard/internal/observability"
	"github.com/rahulved/mockboard/internal/pipeline"
	"github.com/rahulved/mockboard/internal/policy"
	"github.com/rahulved/mockboard/internal/protocol"
	"github.com/rahulved/mockboard/internal/room"
	"github.com/rahulved/mockboard/internal/session"
)

var (
	// ErrInvalidState is returned when no session exists for the caller or
	// a pipeline run is already in flight. It carries no side effects.
	ErrInvalidState = errors.New("invalid session state")
	ErrNotFound     = errors.New("interview not found")
)

// Orchestrator owns the per-session state machine and drives the answer
// pipeline: transcribe → score → persist → decide → generate → synthesize
// → deliver. At most one pipeline run per session is ever in flight.
type Orchestrator struct {
	sessions *session.Manager
	store    interview.Store
	rooms    *room.Hub
	provider pipeline.Provider
	metrics  *observability.Metrics

	voice         pipeline.VoiceProfile
	languageHints []string

	// now is injectable so lifecycle decisions are testable.
	now func() time.Time
}

func New(
	sessions *session.Manager,
	store interview.Store,
	rooms *room.Hub,
	provider pipeline.Provider,
	metrics *observability.Metrics,
	voice pipeline.VoiceProfile,
	languageHints []string,
) *Orchestrator {
	return &Orchestrator{
		sessions:      sessions,
		store:         store,
		rooms:         rooms,
		provider:      provider,
		metrics:       metrics,
		voice:         voice,
		languageHints: languageHints,
		now:           time.Now,
	}
}

// SetClock overrides the wall clock; used by tests.
func (o *Orchestrator) SetClock(now func() time.Time) { o.now = now }

// Join validates ownership and liveness of the interview, registers the
// connection in the room, and hydrates a session from the persisted
// aggregate. The caller receives interview_state followed by the open
// question (re-asked) or a freshly generated first question.
func (o *Orchestrator) Join(ctx context.Context, interviewID, userID string, sub room.Subscriber) (*session.Session, error) {
	iv, err := o.store.GetInProgress(ctx, interviewID, userID)
	if err != nil {
		if errors.Is(err, interview.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	s := o.sessions.Register(interviewID, userID, len(iv.Questions))
	o.rooms.Join(interviewID, s.ID, sub)
	o.metrics.ActiveSessions.Set(float64(o.sessions.ActiveCount()))
	o.metrics.SessionEvents.WithLabelValues("joined").Inc()

	o.emitTo(interviewID, s.ID, protocol.InterviewState{
		Type:          protocol.TypeInterviewState,
		InterviewID:   interviewID,
		Status:        string(iv.Status),
		QuestionCount: len(iv.Questions),
		ResponseCount: len(iv.Responses),
		MaxQuestions:  iv.MaxQuestions,
		Duration:      iv.DurationMinutes,
		Panelists:     panelistPayload(iv.Panelists),
	})

	if q, ok := iv.OpenQuestion(); ok {
		// Rejoin with an unanswered question: re-ask it rather than
		// generating a duplicate.
		o.emitTo(interviewID, s.ID, protocol.FirstQuestion{
			Type:        protocol.TypeFirstQuestion,
			InterviewID: interviewID,
			Question: protocol.QuestionPayload{
				QuestionID:     q.ID,
				Text:           q.Text,
				QuestionNumber: q.QuestionNumber,
			},
		})
		return s, nil
	}

	// No open question: generate the next one. Lifecycle policy is
	// bypassed here only for the very first question of the interview.
	if err := o.askNextQuestion(ctx, s.ID, iv, nil, protocol.TypeFirstQuestion); err != nil {
		o.emitStageFailure(interviewID, s.ID, err)
		return s, nil
	}
	return s, nil
}

// SubmitAnswer runs one answer pipeline. A missing session or an in-flight
// run yields ErrInvalidState with zero side effects. The latch acquired
// here is released on every exit path of the run.
func (o *Orchestrator) SubmitAnswer(ctx context.Context, sessionID string, audio []byte, questionID string, responseTimeMS int64) error {
	s, err := o.sessions.BeginProcessing(sessionID)
	if err != nil {
		o.metrics.PipelineRuns.WithLabelValues("rejected").Inc()
		return fmt.Errorf("%w: %v", ErrInvalidState, err)
	}

	// The run survives client disconnects: the response may still be
	// persisted for audit, and liveness is checked before each emission.
	runCtx := context.WithoutCancel(ctx)
	o.runPipeline(runCtx, s, audio, questionID, responseTimeMS)
	return nil
}

func (o *Orchestrator) runPipeline(ctx context.Context, s *session.Session, audio []byte, questionID string, responseTimeMS int64) {
	defer o.sessions.EndProcessing(s.ID)

	iv, err := o.store.Get(ctx, s.InterviewID)
	if err != nil {
		o.failRun(s, "processing_failed", "store", false, err)
		return
	}

	// Stage 1: transcribe.
	o.emitTo(s.InterviewID, s.ID, protocol.ProcessingResponse{
		Type:        protocol.TypeProcessingResponse,
		InterviewID: s.InterviewID,
		Status:      protocol.StageTranscribing,
	})
	stageStart := o.now()
	transcript, err := o.provider.Transcribe(ctx, audio, o.languageHints)
	o.metrics.ObserveStageLatency(string(pipeline.StageTranscribe), o.now().Sub(stageStart))
	if err != nil || transcript.Text == "" {
		if err == nil {
			err = pipeline.ErrUnintelligible
		}
		o.countStageError(err)
		o.failRun(s, "transcription_failed", "transcriber", true, err)
		return
	}

	// Stage 2: score. A failure here aborts before persistence so a
	// response only ever exists as transcript+score together.
	o.emitTo(s.InterviewID, s.ID, protocol.ProcessingResponse{
		Type:        protocol.TypeProcessingResponse,
		InterviewID: s.InterviewID,
		Status:      protocol.StageAnalyzing,
	})
	stageStart = o.now()
	sentiment, err := o.provider.Score(ctx, transcript.Text)
	o.metrics.ObserveStageLatency(string(pipeline.StageScore), o.now().Sub(stageStart))
	if err != nil {
		o.countStageError(err)
		o.failRun(s, "processing_failed", "scorer", true, err)
		return
	}

	// Stage 3: persist the response.
	resp := interview.Response{
		QuestionID:     questionID,
		Transcription:  transcript.Text,
		Sentiment:      sentiment,
		Timestamp:      o.now().UTC(),
		ResponseTimeMS: responseTimeMS,
	}
	if err := o.store.AppendResponse(ctx, s.InterviewID, resp); err != nil {
		o.failRun(s, "processing_failed", "store", true, err)
		return
	}
	iv.Responses = append(iv.Responses, resp)

	// Stage 4: lifecycle decision, evaluated exactly once per submission.
	decision := policy.Decide(iv.StartedAt, o.now(), iv.DurationMinutes, len(iv.Questions), iv.MaxQuestions)
	if decision == policy.End {
		reason := "max_questions"
		if len(iv.Questions) < iv.MaxQuestions {
			reason = "time_elapsed"
		}
		if _, err := o.endInterview(ctx, s, reason); err != nil {
			o.failRun(s, "processing_failed", "store", true, err)
		}
		o.metrics.PipelineRuns.WithLabelValues("ended_interview").Inc()
		return
	}

	// Stages 5-7: next question.
	if err := o.askNextQuestion(ctx, s.ID, iv, &resp, protocol.TypeNextQuestion); err != nil {
		o.countStageError(err)
		o.failRun(s, "processing_failed", stageSource(err), true, err)
		return
	}
	o.metrics.PipelineRuns.WithLabelValues("completed").Inc()
}

// askNextQuestion generates, synthesizes, persists and delivers one
// question. Shared by first-question generation on join and by the answer
// pipeline; prev is nil only on join.
func (o *Orchestrator) askNextQuestion(ctx context.Context, sessionID string, iv *interview.Interview, prev *interview.Response, eventType protocol.MessageType) error {
	number := len(iv.Questions) + 1

	o.emitTo(iv.ID, sessionID, protocol.ProcessingResponse{
		Type:        protocol.TypeProcessingResponse,
		InterviewID: iv.ID,
		Status:      protocol.StageGeneratingQuestion,
	})

	qc := pipeline.QuestionContext{
		InterviewType:  iv.Type,
		Difficulty:     iv.Difficulty,
		FocusAreas:     iv.FocusAreas,
		QuestionNumber: number,
		Questions:      iv.Questions,
		Responses:      iv.Responses,
		Panelists:      iv.Panelists,
	}
	if prev != nil {
		qc.PreviousScore = &prev.Sentiment
	}

	stageStart := o.now()
	generated, err := o.provider.Generate(ctx, qc)
	o.metrics.ObserveStageLatency(string(pipeline.StageGenerate), o.now().Sub(stageStart))
	if err != nil {
		return err
	}

	stageStart = o.now()
	synthesized, err := o.provider.Synthesize(ctx, generated.Text, o.voice)
	o.metrics.ObserveStageLatency(string(pipeline.StageSynthesize), o.now().Sub(stageStart))
	if err != nil {
		return err
	}

	q := interview.Question{
		ID:             uuid.NewString(),
		Text:           generated.Text,
		AskedAt:        o.now().UTC(),
		QuestionNumber: number,
	}
	if err := o.store.AppendQuestion(ctx, iv.ID, q); err != nil {
		return err
	}
	iv.Questions = append(iv.Questions, q)
	if _, err := o.sessions.AdvanceQuestionIndex(sessionID); err != nil && !errors.Is(err, session.ErrNotFound) {
		return err
	}

	payload := protocol.QuestionPayload{
		QuestionID:     q.ID,
		Text:           q.Text,
		QuestionNumber: q.QuestionNumber,
		AudioBase64:    encodeAudio(synthesized.Data),
		AudioFormat:    synthesized.Format,
	}
	if eventType == protocol.TypeFirstQuestion {
		o.emitTo(iv.ID, sessionID, protocol.FirstQuestion{
			Type:        protocol.TypeFirstQuestion,
			InterviewID: iv.ID,
			Question:    payload,
		})
		return nil
	}

	var prevSummary *protocol.ResponseSummary
	if prev != nil {
		prevSummary = &protocol.ResponseSummary{
			QuestionID:     prev.QuestionID,
			Transcription:  prev.Transcription,
			SentimentScore: prev.Sentiment.Score,
			Magnitude:      prev.Sentiment.Magnitude,
		}
	}
	// Transcripts are private: next_question goes only to the originating
	// connection, never to observers.
	o.emitTo(iv.ID, sessionID, protocol.NextQuestion{
		Type:        protocol.TypeNextQuestion,
		InterviewID: iv.ID,
		Question:    payload,
		Previous:    prevSummary,
	})
	return nil
}

// EndInterview completes the interview on explicit client request. It is
// idempotent: ending an already-completed interview returns the stored
// summary without re-emitting or double-counting.
func (o *Orchestrator) EndInterview(ctx context.Context, sessionID string) (policy.Summary, error) {
	s, err := o.sessions.Get(sessionID)
	if err != nil {
		return policy.Summary{}, fmt.Errorf("%w: %v", ErrInvalidState, err)
	}
	return o.endInterview(ctx, s, "requested")
}

func (o *Orchestrator) endInterview(ctx context.Context, s *session.Session, reason string) (policy.Summary, error) {
	iv, err := o.store.Get(ctx, s.InterviewID)
	if err != nil {
		return policy.Summary{}, err
	}
	if iv.Status == interview.StatusCompleted {
		endedAt := iv.StartedAt
		if iv.EndedAt != nil {
			endedAt = *iv.EndedAt
		}
		summary := policy.BuildSummary(iv.ID, len(iv.Questions), len(iv.Responses), iv.StartedAt, endedAt, reason)
		summary.DurationSeconds = iv.ActualDuration
		return summary, nil
	}

	endedAt := o.now().UTC()
	actual := int64(endedAt.Sub(iv.StartedAt).Seconds())
	if actual < 0 {
		actual = 0
	}
	iv, err = o.store.Complete(ctx, s.InterviewID, endedAt, actual)
	if err != nil {
		return policy.Summary{}, err
	}

	summary := policy.BuildSummary(iv.ID, len(iv.Questions), len(iv.Responses), iv.StartedAt, endedAt, reason)
	summary.DurationSeconds = iv.ActualDuration

	o.rooms.Broadcast(s.InterviewID, protocol.InterviewEnded{
		Type:            protocol.TypeInterviewEnded,
		InterviewID:     s.InterviewID,
		QuestionCount:   summary.QuestionCount,
		ResponseCount:   summary.ResponseCount,
		DurationSeconds: summary.DurationSeconds,
		Reason:          reason,
	})

	o.rooms.Leave(s.InterviewID, s.ID)
	_, _ = o.sessions.End(s.ID)
	o.metrics.ActiveSessions.Set(float64(o.sessions.ActiveCount()))
	o.metrics.SessionEvents.WithLabelValues("ended").Inc()
	return summary, nil
}

// Disconnect drops the session without touching persisted interview state.
// The interview stays in progress and can be rejoined; an in-flight run is
// left to finish on its own.
func (o *Orchestrator) Disconnect(sessionID string) {
	s, err := o.sessions.Get(sessionID)
	if err != nil {
		return
	}
	o.rooms.Leave(s.InterviewID, s.ID)
	o.sessions.Remove(s.ID)
	o.metrics.ActiveSessions.Set(float64(o.sessions.ActiveCount()))
	o.metrics.SessionEvents.WithLabelValues("disconnected").Inc()
}

// Typing relays a presence indicator to the rest of the room.
func (o *Orchestrator) Typing(sessionID string, isTyping bool) {
	s, err := o.sessions.Get(sessionID)
	if err != nil {
		return
	}
	o.rooms.BroadcastExcept(s.InterviewID, s.ID, protocol.UserTyping{
		Type:        protocol.TypeUserTyping,
		InterviewID: s.InterviewID,
		UserID:      s.UserID,
		IsTyping:    isTyping,
	})
}

// SendToInterview pushes an administrative event into a room.
func (o *Orchestrator) SendToInterview(interviewID string, event any) {
	o.rooms.SendToInterview(interviewID, event)
}

func (o *Orchestrator) ActiveSessionCount() int {
	return o.sessions.ActiveCount()
}

// emitTo delivers to the originating connection only when the session is
// still alive, so late pipeline completions after a disconnect go nowhere.
func (o *Orchestrator) emitTo(interviewID, sessionID string, event any) {
	if !o.sessions.Alive(sessionID) {
		return
	}
	o.rooms.SendTo(interviewID, sessionID, event)
}

func (o *Orchestrator) failRun(s *session.Session, code, source string, retryable bool, err error) {
	o.metrics.PipelineRuns.WithLabelValues("failed").Inc()
	o.emitTo(s.InterviewID, s.ID, protocol.ErrorEvent{
		Type:        protocol.TypeErrorEvent,
		InterviewID: s.InterviewID,
		Code:        code,
		Source:      source,
		Retryable:   retryable,
		Detail:      err.Error(),
	})
}

func (o *Orchestrator) emitStageFailure(interviewID, sessionID string, err error) {
	o.countStageError(err)
	o.metrics.PipelineRuns.WithLabelValues("failed").Inc()
	o.emitTo(interviewID, sessionID, protocol.ErrorEvent{
		Type:        protocol.TypeErrorEvent,
		InterviewID: interviewID,
		Code:        "processing_failed",
		Source:      stageSource(err),
		Retryable:   true,
		Detail:      err.Error(),
	})
}

func (o *Orchestrator) countStageError(err error) {
	var stageErr *pipeline.StageError
	if errors.As(err, &stageErr) {
		o.metrics.StageErrors.WithLabelValues(string(stageErr.Stage), stageErr.Code).Inc()
	}
}

func stageSource(err error) string {
	var stageErr *pipeline.StageError
	if errors.As(err, &stageErr) {
		return string(stageErr.Stage)
	}
	return "pipeline"
}

func encodeAudio(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	return base64.StdEncoding.EncodeToString(b)
}

func panelistPayload(in []interview.Panelist) []protocol.Panelist {
	out := make([]protocol.Panelist, 0, len(in))
	for _, p := range in {
		out = append(out, protocol.Panelist{Name: p.Name, Role: p.Role, Expertise: p.Expertise})
	}
	return out
}
