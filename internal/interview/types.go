package interview

import "time"

type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
)

// Panelist is a static descriptive record attached at interview creation.
type Panelist struct {
	Name      string `json:"name"`
	Role      string `json:"role"`
	Expertise string `json:"expertise"`
}

// Question is immutable once created.
type Question struct {
	ID             string    `json:"id"`
	Text           string    `json:"text"`
	AskedAt        time.Time `json:"asked_at"`
	QuestionNumber int       `json:"question_number"`
}

// Sentiment carries the scoring result for one transcribed answer.
type Sentiment struct {
	Score     float64            `json:"score"`
	Magnitude float64            `json:"magnitude"`
	Metrics   map[string]float64 `json:"metrics,omitempty"`
}

// Response is created only as a transcript+score pair; never partially.
type Response struct {
	QuestionID     string    `json:"question_id"`
	Transcription  string    `json:"transcription"`
	Sentiment      Sentiment `json:"sentiment"`
	Timestamp      time.Time `json:"timestamp"`
	ResponseTimeMS int64     `json:"response_time_ms"`
}

// Interview is the persisted aggregate. Questions and responses are
// append-only, ordered by creation time, and their lengths differ by at
// most one: a question stays open until it is answered.
type Interview struct {
	ID              string     `json:"id"`
	UserID          string     `json:"user_id"`
	DafID           string     `json:"daf_id"`
	Type            string     `json:"type"`
	Difficulty      string     `json:"difficulty"`
	FocusAreas      []string   `json:"focus_areas"`
	DurationMinutes int        `json:"duration_minutes"`
	MaxQuestions    int        `json:"max_questions"`
	Status          Status     `json:"status"`
	StartedAt       time.Time  `json:"started_at"`
	EndedAt         *time.Time `json:"ended_at,omitempty"`
	ActualDuration  int64      `json:"actual_duration_seconds"`
	Questions       []Question `json:"questions"`
	Responses       []Response `json:"responses"`
	Panelists       []Panelist `json:"panelists"`
}

// OpenQuestion returns the last question if it has not been answered yet.
func (iv *Interview) OpenQuestion() (Question, bool) {
	if len(iv.Questions) == 0 || len(iv.Questions) == len(iv.Responses) {
		return Question{}, false
	}
	return iv.Questions[len(iv.Questions)-1], true
}
