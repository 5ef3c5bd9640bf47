package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/agentcore-run/acpcore/internal/event"
	"github.com/agentcore-run/acpcore/internal/logging"
	"github.com/agentcore-run/acpcore/internal/provider"
	"github.com/agentcore-run/acpcore/internal/storage"
	"github.com/agentcore-run/acpcore/pkg/types"
)

// storedMessage is the persisted row shape for one conversation entry:
// the message envelope plus its parts, kept as raw JSON so each part's
// concrete type survives the round-trip through types.UnmarshalPart.
type storedMessage struct {
	Info  *types.Message    `json:"info"`
	Parts []json.RawMessage `json:"parts"`
}

func (rs *runningSession) messagesPath() []string {
	return []string{"sessions", rs.id, "messages"}
}

func (rs *runningSession) sessionPath() []string {
	return []string{"sessions", rs.id, "session"}
}

// restore seeds a freshly constructed session with its persisted history.
// A session id seen for the first time gets a session.created event; a
// known id gets its conversation re-seeded into the Loop so the client
// resumes where it left off.
func (rs *runningSession) restore(ctx context.Context) {
	if rs.db == nil {
		return
	}

	var sess types.Session
	err := rs.db.Get(ctx, rs.sessionPath(), &sess)
	if err == storage.ErrNotFound {
		rs.created = time.Now().UnixMilli()
		event.Publish(event.Event{
			Type: event.SessionCreated,
			Data: event.SessionCreatedData{Info: &types.Session{
				ID:   rs.id,
				Time: types.SessionTime{Created: rs.created, Updated: rs.created},
			}},
		})
		return
	}
	if err != nil {
		logging.Warn().Err(err).Str("session_id", rs.id).Msg("session manager: failed to read session row")
		return
	}
	rs.created = sess.Time.Created
	rs.turns = sess.Summary.Turns
	if rs.loop.WorkDir == "" {
		rs.loop.WorkDir = sess.WorkDir
	}

	var stored []storedMessage
	if err := rs.db.Get(ctx, rs.messagesPath(), &stored); err != nil {
		if err != storage.ErrNotFound {
			logging.Warn().Err(err).Str("session_id", rs.id).Msg("session manager: failed to read conversation")
		}
		return
	}

	msgs := make([]*types.Message, 0, len(stored))
	parts := make(map[string][]types.Part, len(stored))
	for _, row := range stored {
		if row.Info == nil {
			continue
		}
		msgs = append(msgs, row.Info)
		for _, raw := range row.Parts {
			p, err := types.UnmarshalPart(raw)
			if err != nil {
				logging.Warn().Err(err).Str("message_id", row.Info.ID).Msg("session manager: skipping unreadable part")
				continue
			}
			parts[row.Info.ID] = append(parts[row.Info.ID], p)
		}
	}
	rs.loop.SeedMessages(provider.ConvertToEinoMessages(msgs, parts))
	rs.persisted = len(msgs)
}

// persistConversation writes the loop's full conversation back to storage
// after a turn and publishes message/session events for what changed.
func (rs *runningSession) persistConversation(ctx context.Context, stopReason string) {
	if rs.db == nil {
		return
	}

	snapshot := rs.loop.Messages()
	rows := make([]storedMessage, 0, len(snapshot))
	toolCalls := 0
	for i, m := range snapshot {
		info, parts := provider.ConvertFromEinoMessage(m, rs.id, fmt.Sprintf("%s-msg-%d", rs.id, i))
		toolCalls += len(m.ToolCalls)
		raw := make([]json.RawMessage, 0, len(parts))
		for _, p := range parts {
			b, err := json.Marshal(p)
			if err != nil {
				continue
			}
			raw = append(raw, b)
		}
		rows = append(rows, storedMessage{Info: info, Parts: raw})
	}
	if err := rs.db.Put(ctx, rs.messagesPath(), rows); err != nil {
		logging.Warn().Err(err).Str("session_id", rs.id).Msg("session manager: failed to persist conversation")
		return
	}

	for i := rs.persisted; i < len(rows); i++ {
		event.Publish(event.Event{Type: event.MessageCreated, Data: event.MessageCreatedData{Info: rows[i].Info}})
	}
	if len(rows) > 0 {
		// The turn's final assistant message reached its settled form.
		event.Publish(event.Event{Type: event.MessageUpdated, Data: event.MessageUpdatedData{Info: rows[len(rows)-1].Info}})
	}
	rs.persisted = len(rows)
	rs.turns++

	now := time.Now().UnixMilli()
	if rs.created == 0 {
		rs.created = now
	}
	sess := &types.Session{
		ID:      rs.id,
		WorkDir: rs.loop.WorkDir,
		Summary: types.SessionSummary{ToolCalls: toolCalls, Turns: rs.turns},
		Time:    types.SessionTime{Created: rs.created, Updated: now},
	}
	if err := rs.db.Put(ctx, rs.sessionPath(), sess); err != nil {
		logging.Warn().Err(err).Str("session_id", rs.id).Msg("session manager: failed to persist session row")
	} else {
		event.Publish(event.Event{Type: event.SessionUpdated, Data: event.SessionUpdatedData{Info: sess}})
	}

	event.Publish(event.Event{Type: event.TurnEnded, Data: event.TurnEndedData{SessionID: rs.id, Reason: stopReason}})
	event.Publish(event.Event{Type: event.SessionIdle, Data: event.SessionIdleData{SessionID: rs.id}})
}
