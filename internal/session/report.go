package session

import (
	"time"

	"github.com/atmx/arena-engine/internal/model"
)

// Options selects how a session runs.
type Options struct {
	// DryRun runs the full pipeline without writing ledger mutations. The
	// market window check is skipped.
	DryRun bool `json:"dryRun"`
	// SingleModel restricts the session to participants of one model.
	SingleModel string `json:"singleModel,omitempty"`
}

// Report is the outcome of one session.
type Report struct {
	SessionID         string              `json:"sessionId"`
	Timestamp         time.Time           `json:"timestamp"`
	DryRun            bool                `json:"dryRun"`
	MarketHours       bool                `json:"marketHours"`
	CompetitionActive bool                `json:"competitionActive"`
	ModelsProcessed   int                 `json:"modelsProcessed"`
	TradesExecuted    int                 `json:"tradesExecuted"`
	TotalTokensUsed   int                 `json:"totalTokensUsed"`
	Results           []ParticipantResult `json:"results"`
	Errors            []string            `json:"errors"`
}

// ParticipantResult is one participant's share of a session.
type ParticipantResult struct {
	ModelID        string        `json:"modelId"`
	ParticipantID  string        `json:"participantId"`
	Mode           model.Mode    `json:"mode"`
	Success        bool          `json:"success"`
	Sentiment      string        `json:"sentiment,omitempty"`
	TradesExecuted int           `json:"tradesExecuted"`
	Trades         []model.Trade `json:"trades"`
	Rejected       []string      `json:"rejected,omitempty"`
	TokensUsed     int           `json:"tokensUsed"`
	LatencyMs      int64         `json:"latencyMs"`
	Error          string        `json:"error,omitempty"`
}

// Event is pushed to the publisher as a session progresses.
type Event struct {
	Type          string `json:"type"`
	SessionID     string `json:"session_id"`
	ParticipantID string `json:"participant_id,omitempty"`
	Payload       any    `json:"payload,omitempty"`
}

// Event types.
const (
	EventSessionStarted  = "session.started"
	EventParticipantDone = "participant.done"
	EventTrade           = "trade"
	EventSessionFinished = "session.finished"
)

// Publisher receives session events. Publish must not block.
type Publisher interface {
	Publish(e Event)
}
