package stages

import (
	"context"
	"time"

	"presence-tracker-backend/internal/pipeline"
	"presence-tracker-backend/internal/store"
)

// ChatActivityStageID names the chat-driven activity stage.
const ChatActivityStageID = "chat_activity"

// ChatActivityStage reacts to new chat messages. It runs under the
// on_new_chat policy, so the scheduler has already established that at least
// the configured number of new messages exist; the stage records the burst
// and publishes chat_activity.json.
type ChatActivityStage struct {
	store        store.Store
	resourcesDir string
}

// NewChatActivityStage builds the stage.
func NewChatActivityStage(s store.Store, resourcesDir string) *ChatActivityStage {
	return &ChatActivityStage{store: s, resourcesDir: resourcesDir}
}

func (st *ChatActivityStage) Run(ctx context.Context, sc *pipeline.StageContext) (*pipeline.StageResult, error) {
	artifact := struct {
		BoundaryDate string    `json:"boundary_date"`
		ComputedAt   time.Time `json:"computed_at"`
		NewMessages  int64     `json:"new_messages"`
		Since        time.Time `json:"since"`
	}{
		BoundaryDate: sc.BoundaryDate,
		ComputedAt:   sc.Now.UTC(),
		NewMessages:  sc.NewChatCount,
		Since:        sc.ChatSince.UTC(),
	}
	if err := writeArtifact(st.resourcesDir, "chat_activity.json", artifact); err != nil {
		return nil, err
	}

	return &pipeline.StageResult{
		Output: artifact,
		StateDeltas: map[string]any{
			"last_chat_burst_size": sc.NewChatCount,
		},
		Signals: map[string]string{"chat_active": "true"},
	}, nil
}

func (st *ChatActivityStage) ResetForBoundary(ctx context.Context, boundaryDate string) error {
	return nil
}
