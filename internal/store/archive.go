package store

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"openhl7/gateway/internal/events"
	"openhl7/gateway/internal/model"
)

// DefaultMemoryArchiveSize is the number of records MemoryArchive keeps
const DefaultMemoryArchiveSize = 1000

// Archive stores received messages for later review
type Archive interface {
	Save(ctx context.Context, record *model.MessageRecord) error
	List(ctx context.Context, query model.MessageListQuery) (*model.MessageListResponse, error)
}

// RecordFromEvent converts a pipeline event into an archive record. Only
// ack_sent events and connection errors that carry an unanswered message
// produce one.
func RecordFromEvent(e events.Event) (*model.MessageRecord, bool) {
	switch e.Kind {
	case events.KindAckSent:
	case events.KindConnectionError:
		if e.Inbound == "" {
			return nil, false
		}
	default:
		return nil, false
	}

	record := &model.MessageRecord{
		ID:          uuid.NewString(),
		SessionID:   e.SessionID,
		Remote:      e.Remote,
		MessageType: e.MessageType,
		ControlID:   e.ControlID,
		AckCode:     e.AckCode,
		ErrorCode:   e.ErrorCode,
		ErrorText:   e.ErrorText,
		Inbound:     e.Inbound,
		ReceivedAt:  e.Timestamp,
	}
	if e.Kind == events.KindAckSent {
		record.Ack = e.Payload
	} else {
		record.ErrorText = e.Payload
	}
	return record, true
}

// MemoryArchive keeps the most recent records in memory
type MemoryArchive struct {
	mu      sync.RWMutex
	records []model.MessageRecord
	limit   int
}

// NewMemoryArchive creates an archive holding at most limit records
func NewMemoryArchive(limit int) *MemoryArchive {
	if limit <= 0 {
		limit = DefaultMemoryArchiveSize
	}
	return &MemoryArchive{limit: limit}
}

// Save implements Archive
func (m *MemoryArchive) Save(_ context.Context, record *model.MessageRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, *record)
	if over := len(m.records) - m.limit; over > 0 {
		m.records = append(m.records[:0:0], m.records[over:]...)
	}
	return nil
}

// List implements Archive
func (m *MemoryArchive) List(_ context.Context, query model.MessageListQuery) (*model.MessageListResponse, error) {
	query.Normalize()

	m.mu.RLock()
	matched := make([]model.MessageRecord, 0)
	for i := len(m.records) - 1; i >= 0; i-- {
		if Matches(&m.records[i], query) {
			matched = append(matched, m.records[i])
		}
	}
	m.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].ReceivedAt.After(matched[j].ReceivedAt)
	})

	resp := &model.MessageListResponse{
		Data:     []model.MessageRecord{},
		Total:    int64(len(matched)),
		Page:     query.Page,
		PageSize: query.PageSize,
	}
	start := query.Offset()
	if start >= 0 && start < len(matched) {
		end := start + query.PageSize
		if end > len(matched) {
			end = len(matched)
		}
		resp.Data = matched[start:end]
	}
	return resp, nil
}

// Matches applies the type prefix and case-insensitive search filters
func Matches(record *model.MessageRecord, query model.MessageListQuery) bool {
	if query.Type != "" && !strings.HasPrefix(record.MessageType, query.Type) {
		return false
	}
	if query.Query != "" && !strings.Contains(strings.ToLower(record.Inbound), strings.ToLower(query.Query)) {
		return false
	}
	return true
}

// Recorder archives events read from a bus subscription
type Recorder struct {
	archive Archive
	logger  *slog.Logger
}

// NewRecorder creates a recorder writing to archive
func NewRecorder(archive Archive, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{archive: archive, logger: logger.With("component", "archive")}
}

// Run saves records until ctx ends or the channel closes
func (r *Recorder) Run(ctx context.Context, ch <-chan events.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			record, ok := RecordFromEvent(e)
			if !ok {
				continue
			}
			if err := r.archive.Save(ctx, record); err != nil {
				r.logger.Error("Failed to archive message", "control_id", record.ControlID, "error", err)
			}
		}
	}
}
