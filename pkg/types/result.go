package types

import "time"

// Citation is a message surfaced to the user as evidence for the answer
type Citation struct {
	MessageID string    `json:"message_id"`
	Subject   string    `json:"subject"`
	Author    string    `json:"author"`
	Date      time.Time `json:"date"`
	Excerpt   string    `json:"excerpt"`
	SourceURL string    `json:"source_url,omitempty"`
	Score     float64   `json:"score"` // Final relevance in [0, 1]
}

// AnswerResult is the complete response to one question
type AnswerResult struct {
	Answer    string     `json:"answer"`
	Citations []Citation `json:"citations"`
	ThreadIDs []string   `json:"thread_ids"` // Distinct thread roots touched, first-seen order
	QueryID   string     `json:"query_id"`

	Model  string `json:"model,omitempty"` // Empty when no model was called
	Cached bool   `json:"cached,omitempty"`
}

// Validate checks that the result is well formed
func (r *AnswerResult) Validate() error {
	if r.Answer == "" {
		return ErrEmptyAnswer
	}
	if r.QueryID == "" {
		return ErrMissingQueryID
	}
	for _, c := range r.Citations {
		if c.MessageID == "" {
			return ErrInvalidCitation
		}
		if c.Score < 0 || c.Score > 1 {
			return ErrInvalidRelevanceScore
		}
	}
	return nil
}
