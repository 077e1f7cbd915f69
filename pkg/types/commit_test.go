package types_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/illmade-knight/go-commitflow/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInboundMessage_HeaderValues(t *testing.T) {
	msg := types.NewInboundMessage("body", map[string][]string{
		"User-Agent": {"Team Foundation (TfsJobAgent.exe, 10.0.40219.1)"},
		"x-custom":   {"a", "b"},
	})

	assert.Equal(t, []string{"Team Foundation (TfsJobAgent.exe, 10.0.40219.1)"}, msg.HeaderValues("User-Agent"))
	assert.Equal(t, []string{"Team Foundation (TfsJobAgent.exe, 10.0.40219.1)"}, msg.HeaderValues("user-agent"))
	assert.Equal(t, []string{"a", "b"}, msg.HeaderValues("X-Custom"))
	assert.Nil(t, msg.HeaderValues("Content-Type"))

	var empty types.InboundMessage
	assert.Nil(t, empty.HeaderValues("User-Agent"))
}

func TestCommitMessage_JSON(t *testing.T) {
	commit := types.CommitMessage{
		Author:   types.Author{Name: "jdoe"},
		Date:     time.Date(2012, 3, 1, 10, 0, 0, 0, time.FixedZone("", -5*60*60)),
		Message:  "fix bug",
		Repo:     types.Repo{Name: "MyProj"},
		Source:   "TFS",
		CommitID: types.CommitID{Name: "42"},
	}

	data, err := json.Marshal(commit)
	require.NoError(t, err)

	assert.JSONEq(t, `{
		"author": {"name": "jdoe"},
		"date": "2012-03-01T10:00:00-05:00",
		"message": "fix bug",
		"repo": {"name": "MyProj"},
		"source": "TFS",
		"commitId": {"name": "42"}
	}`, string(data))
	assert.Equal(t, "TFS/MyProj/42", commit.Key())
}
