package policy

import "time"

// Decision is the lifecycle outcome after one answer submission.
type Decision string

const (
	Continue Decision = "continue"
	End      Decision = "end"
)

// DefaultMaxQuestions is the fixed question-count ceiling.
const DefaultMaxQuestions = 15

// Decide is a pure function of the interview clock and counters. It is
// evaluated exactly once per answer submission so a single answer cannot
// straddle two different outcomes. End when elapsed minutes reach the
// configured duration OR the question count reaches the ceiling.
func Decide(startedAt, now time.Time, durationMinutes, questionCount, maxQuestions int) Decision {
	if maxQuestions <= 0 {
		maxQuestions = DefaultMaxQuestions
	}
	if questionCount >= maxQuestions {
		return End
	}
	if durationMinutes > 0 && now.Sub(startedAt) >= time.Duration(durationMinutes)*time.Minute {
		return End
	}
	return Continue
}

// Summary is the terminal report emitted when an interview completes.
type Summary struct {
	InterviewID     string `json:"interview_id"`
	QuestionCount   int    `json:"question_count"`
	ResponseCount   int    `json:"response_count"`
	DurationSeconds int64  `json:"duration_seconds"`
	Reason          string `json:"reason"`
}

// BuildSummary computes the terminal summary for a finished interview.
func BuildSummary(interviewID string, questionCount, responseCount int, startedAt, endedAt time.Time, reason string) Summary {
	duration := int64(endedAt.Sub(startedAt).Seconds())
	if duration < 0 {
		duration = 0
	}
	return Summary{
		InterviewID:     interviewID,
		QuestionCount:   questionCount,
		ResponseCount:   responseCount,
		DurationSeconds: duration,
		Reason:          reason,
	}
}
