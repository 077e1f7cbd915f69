package messagepipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/illmade-knight/go-commitflow/pkg/types"
)

// CommitTransformer decodes a commit submitted through a CommitSink.
func CommitTransformer(_ context.Context, msg *Message) (*types.CommitMessage, bool, error) {
	var commit types.CommitMessage
	if err := json.Unmarshal(msg.Payload, &commit); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal commit payload: %w", err)
	}
	return &commit, false, nil
}
