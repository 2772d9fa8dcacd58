package node

import (
	"go.uber.org/zap"

	"github.com/tri2820/backend/indexer/internal/database"
	"github.com/tri2820/backend/indexer/internal/dispatch"
)

// journal records every finished task in the SQLite task log
type journal struct {
	db  *database.DB
	log *zap.SugaredLogger
}

func (j *journal) OnTaskStarted(dispatch.TaskEvent) {}

func (j *journal) OnTaskFinished(ev dispatch.TaskEvent) {
	entry := &database.TaskLog{
		SessionID:    ev.SessionID,
		TaskID:       ev.Task.ID,
		TaskType:     ev.Task.Type(),
		PayloadBytes: len(ev.Task.Payload),
		DurationMS:   ev.Duration.Milliseconds(),
		Success:      ev.Err == nil,
		CreatedAt:    ev.Started,
	}
	if ev.Err != nil {
		entry.Error = ev.Err.Error()
	}
	if err := j.db.InsertTaskLog(entry); err != nil {
		j.log.Errorf("failed to record task %s: %v", ev.Task.ID, err)
	}
}

func (j *journal) OnDecodeError(string, error) {}
