package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	// Client → server.
	TypeJoinInterview MessageType = "join_interview"
	TypeAudioResponse MessageType = "audio_response"
	TypeEndInterview  MessageType = "end_interview"
	TypeTyping        MessageType = "typing"

	// Server → client.
	TypeInterviewState     MessageType = "interview_state"
	TypeFirstQuestion      MessageType = "first_question"
	TypeProcessingResponse MessageType = "processing_response"
	TypeNextQuestion       MessageType = "next_question"
	TypeInterviewEnded     MessageType = "interview_ended"
	TypeUserTyping         MessageType = "user_typing"
	TypeErrorEvent         MessageType = "error_event"
)

// Processing stage labels carried by processing_response events.
const (
	StageTranscribing       = "transcribing"
	StageAnalyzing          = "analyzing"
	StageGeneratingQuestion = "generating_question"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

type JoinInterview struct {
	Type        MessageType `json:"type"`
	InterviewID string      `json:"interview_id"`
}

type AudioResponse struct {
	Type           MessageType `json:"type"`
	InterviewID    string      `json:"interview_id"`
	QuestionID     string      `json:"question_id"`
	AudioBase64    string      `json:"audio_base64"`
	ResponseTimeMS int64       `json:"response_time_ms"`
}

type EndInterview struct {
	Type        MessageType `json:"type"`
	InterviewID string      `json:"interview_id"`
}

type Typing struct {
	Type        MessageType `json:"type"`
	InterviewID string      `json:"interview_id"`
	IsTyping    bool        `json:"is_typing"`
}

type InterviewState struct {
	Type          MessageType `json:"type"`
	InterviewID   string      `json:"interview_id"`
	Status        string      `json:"status"`
	QuestionCount int         `json:"question_count"`
	ResponseCount int         `json:"response_count"`
	MaxQuestions  int         `json:"max_questions"`
	Duration      int         `json:"duration_minutes"`
	Panelists     []Panelist  `json:"panelists,omitempty"`
}

type Panelist struct {
	Name      string `json:"name"`
	Role      string `json:"role"`
	Expertise string `json:"expertise"`
}

type QuestionPayload struct {
	QuestionID     string `json:"question_id"`
	Text           string `json:"text"`
	QuestionNumber int    `json:"question_number"`
	AudioBase64    string `json:"audio_base64,omitempty"`
	AudioFormat    string `json:"audio_format,omitempty"`
}

type ResponseSummary struct {
	QuestionID     string  `json:"question_id"`
	Transcription  string  `json:"transcription"`
	SentimentScore float64 `json:"sentiment_score"`
	Magnitude      float64 `json:"magnitude"`
}

type FirstQuestion struct {
	Type        MessageType     `json:"type"`
	InterviewID string          `json:"interview_id"`
	Question    QuestionPayload `json:"question"`
}

type ProcessingResponse struct {
	Type        MessageType `json:"type"`
	InterviewID string      `json:"interview_id"`
	Status      string      `json:"status"`
}

type NextQuestion struct {
	Type        MessageType      `json:"type"`
	InterviewID string           `json:"interview_id"`
	Question    QuestionPayload  `json:"question"`
	Previous    *ResponseSummary `json:"previous_response,omitempty"`
}

type InterviewEnded struct {
	Type            MessageType `json:"type"`
	InterviewID     string      `json:"interview_id"`
	QuestionCount   int         `json:"question_count"`
	ResponseCount   int         `json:"response_count"`
	DurationSeconds int64       `json:"duration_seconds"`
	Reason          string      `json:"reason"`
}

type UserTyping struct {
	Type        MessageType `json:"type"`
	InterviewID string      `json:"interview_id"`
	UserID      string      `json:"user_id"`
	IsTyping    bool        `json:"is_typing"`
}

type ErrorEvent struct {
	Type        MessageType `json:"type"`
	InterviewID string      `json:"interview_id,omitempty"`
	Code        string      `json:"code"`
	Source      string      `json:"source"`
	Retryable   bool        `json:"retryable"`
	Detail      string      `json:"detail"`
}

func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeJoinInterview:
		var msg JoinInterview
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.InterviewID == "" {
			return nil, errors.New("invalid join_interview")
		}
		return msg, nil
	case TypeAudioResponse:
		var msg AudioResponse
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.QuestionID == "" || msg.AudioBase64 == "" {
			return nil, errors.New("invalid audio_response")
		}
		return msg, nil
	case TypeEndInterview:
		var msg EndInterview
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case TypeTyping:
		var msg Typing
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}
