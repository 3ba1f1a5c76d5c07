package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"openhl7/gateway/internal/events"
	"openhl7/gateway/internal/model"
)

func TestSettingsValidate(t *testing.T) {
	tests := []struct {
		name     string
		settings Settings
		wantErr  bool
	}{
		{"defaults", DefaultSettings(), false},
		{"any address", Settings{IP: "0.0.0.0", Port: 2575}, false},
		{"port zero", Settings{IP: "10.0.0.1", Port: 0}, false},
		{"max port", Settings{IP: "10.0.0.1", Port: 65535}, false},
		{"hostname", Settings{IP: "localhost", Port: 5000}, true},
		{"ipv6", Settings{IP: "::1", Port: 5000}, true},
		{"mapped ipv6", Settings{IP: "::ffff:10.0.0.1", Port: 5000}, true},
		{"short quad", Settings{IP: "10.0.1", Port: 5000}, true},
		{"octet overflow", Settings{IP: "10.0.0.256", Port: 5000}, true},
		{"negative port", Settings{IP: "10.0.0.1", Port: -1}, true},
		{"port overflow", Settings{IP: "10.0.0.1", Port: 65536}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.settings.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidSettings)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestFileSettings(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "settings.yaml")
	store := NewFileSettings(path)

	s, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, DefaultSettings(), s)

	want := Settings{IP: "0.0.0.0", Port: 2575}
	require.NoError(t, store.Save(ctx, want))

	got, err := NewFileSettings(path).Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	assert.ErrorIs(t, store.Save(ctx, Settings{IP: "nope", Port: 1}), ErrInvalidSettings)
	got, err = store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestFileSettingsPartialAndBroken(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	partial := filepath.Join(dir, "partial.yaml")
	require.NoError(t, os.WriteFile(partial, []byte("port: 6000\n"), 0o644))
	s, err := NewFileSettings(partial).Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, Settings{IP: DefaultSettings().IP, Port: 6000}, s)

	broken := filepath.Join(dir, "broken.yaml")
	require.NoError(t, os.WriteFile(broken, []byte("ip: [unclosed"), 0o644))
	_, err = NewFileSettings(broken).Load(ctx)
	assert.Error(t, err)

	invalid := filepath.Join(dir, "invalid.yaml")
	require.NoError(t, os.WriteFile(invalid, []byte("ip: 999.1.1.1\nport: 1\n"), 0o644))
	_, err = NewFileSettings(invalid).Load(ctx)
	assert.ErrorIs(t, err, ErrInvalidSettings)
}

func record(msgType, inbound string, at time.Time) *model.MessageRecord {
	return &model.MessageRecord{ID: inbound, MessageType: msgType, Inbound: inbound, ReceivedAt: at}
}

func TestMemoryArchiveFilters(t *testing.T) {
	ctx := context.Background()
	archive := NewMemoryArchive(10)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, archive.Save(ctx, record("ADT^A01", "MSH|adt|PID|Doe^John", base)))
	require.NoError(t, archive.Save(ctx, record("ORM^O01", "MSH|orm|PID|Roe^Jane", base.Add(time.Minute))))
	require.NoError(t, archive.Save(ctx, record("ADT^A01", "MSH|adt2|PID|DOE^Mary", base.Add(2*time.Minute))))

	all, err := archive.List(ctx, model.MessageListQuery{})
	require.NoError(t, err)
	assert.EqualValues(t, 3, all.Total)
	assert.Equal(t, "MSH|adt2|PID|DOE^Mary", all.Data[0].Inbound)

	adt, err := archive.List(ctx, model.MessageListQuery{Type: "ADT"})
	require.NoError(t, err)
	assert.EqualValues(t, 2, adt.Total)

	doe, err := archive.List(ctx, model.MessageListQuery{Query: "doe"})
	require.NoError(t, err)
	assert.EqualValues(t, 2, doe.Total)

	none, err := archive.List(ctx, model.MessageListQuery{Type: "ORU", Query: "doe"})
	require.NoError(t, err)
	assert.EqualValues(t, 0, none.Total)
	assert.NotNil(t, none.Data)
}

func TestMemoryArchivePagingAndLimit(t *testing.T) {
	ctx := context.Background()
	archive := NewMemoryArchive(5)
	base := time.Now()
	for i := 0; i < 8; i++ {
		require.NoError(t, archive.Save(ctx, record("ORU^R01", string(rune('a'+i)), base.Add(time.Duration(i)*time.Second))))
	}

	page, err := archive.List(ctx, model.MessageListQuery{Page: 2, PageSize: 2})
	require.NoError(t, err)
	assert.EqualValues(t, 5, page.Total)
	require.Len(t, page.Data, 2)
	assert.Equal(t, "f", page.Data[0].Inbound)
	assert.Equal(t, "e", page.Data[1].Inbound)

	past, err := archive.List(ctx, model.MessageListQuery{Page: 9, PageSize: 2})
	require.NoError(t, err)
	assert.Empty(t, past.Data)

	huge, err := archive.List(ctx, model.MessageListQuery{Page: 461168601842738792, PageSize: 20})
	require.NoError(t, err)
	assert.Empty(t, huge.Data)
	assert.Equal(t, model.MaxListPage, huge.Page)
}

func TestRecordFromEvent(t *testing.T) {
	now := time.Now()
	ack := events.Event{
		Kind: events.KindAckSent, Payload: "MSH|ack", Inbound: "MSH|in",
		SessionID: "s1", MessageType: "ADT^A01", ControlID: "C1", AckCode: "AE",
		ErrorCode: "111", ErrorText: "Unsupported", Timestamp: now,
	}
	r, ok := RecordFromEvent(ack)
	require.True(t, ok)
	assert.NotEmpty(t, r.ID)
	assert.Equal(t, "MSH|ack", r.Ack)
	assert.Equal(t, "MSH|in", r.Inbound)
	assert.Equal(t, "111", r.ErrorCode)
	assert.Equal(t, now, r.ReceivedAt)

	unanswered := events.Event{Kind: events.KindConnectionError, Payload: "no acknowledgment possible", Inbound: "PID|1"}
	r, ok = RecordFromEvent(unanswered)
	require.True(t, ok)
	assert.Empty(t, r.Ack)
	assert.Equal(t, "no acknowledgment possible", r.ErrorText)

	_, ok = RecordFromEvent(events.Event{Kind: events.KindConnectionError, Payload: "read timed out"})
	assert.False(t, ok)
	_, ok = RecordFromEvent(events.Event{Kind: events.KindMessageReceived, Payload: "MSH|in"})
	assert.False(t, ok)
	_, ok = RecordFromEvent(events.StatusChanged(events.StatusRunning))
	assert.False(t, ok)
}

func TestRecorderRun(t *testing.T) {
	bus := events.NewBus(nil)
	ch, cancel := bus.Subscribe(16)
	archive := NewMemoryArchive(10)

	done := make(chan struct{})
	go func() {
		NewRecorder(archive, nil).Run(context.Background(), ch)
		close(done)
	}()

	bus.Publish(events.Event{Kind: events.KindMessageReceived, Payload: "MSH|x"})
	bus.Publish(events.Event{Kind: events.KindAckSent, Payload: "MSH|ack", Inbound: "MSH|x", Timestamp: time.Now()})
	cancel()
	<-done

	list, err := archive.List(context.Background(), model.MessageListQuery{})
	require.NoError(t, err)
	assert.EqualValues(t, 1, list.Total)
}

func TestEscapeLike(t *testing.T) {
	assert.Equal(t, `100\%\_a\\b`, escapeLike(`100%_a\b`))
}
