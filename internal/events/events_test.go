// ABOUTME: Tests for NATS update requests and database-updated announcements
// ABOUTME: Exercises the handler and publisher without a NATS server

package events

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/hikmaai-io/hikmaai-cvdmirror/internal/dbupdater"
	"github.com/hikmaai-io/hikmaai-cvdmirror/internal/observability"
)

type fakeTrigger struct {
	accept bool
	got    [][]string
}

func (f *fakeTrigger) Trigger(only ...string) bool {
	f.got = append(f.got, only)
	return f.accept
}

type fakeConn struct {
	subject string
	data    []byte
	err     error
}

func (f *fakeConn) Publish(subject string, data []byte) error {
	f.subject = subject
	f.data = data
	return f.err
}

func TestHandler_ProcessRequest(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		accept bool
		req    UpdateRequest
	}{
		{name: "all databases", accept: true, req: UpdateRequest{RequestID: "r1"}},
		{name: "single database", accept: true, req: UpdateRequest{RequestID: "r2", Databases: []string{"daily.cvd"}}},
		{name: "already queued", accept: false, req: UpdateRequest{RequestID: "r3"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			trig := &fakeTrigger{accept: tt.accept}
			h := NewHandler(trig, observability.NopLogger())

			resp := h.ProcessRequest(context.Background(), tt.req)
			if resp.Accepted != tt.accept {
				t.Errorf("Accepted = %v, want %v", resp.Accepted, tt.accept)
			}
			if resp.RequestID != tt.req.RequestID {
				t.Errorf("RequestID = %q, want %q", resp.RequestID, tt.req.RequestID)
			}
			if len(trig.got) != 1 || !slices.Equal(trig.got[0], tt.req.Databases) {
				t.Errorf("Trigger() calls = %v", trig.got)
			}
		})
	}
}

func TestClient_HandleMessage(t *testing.T) {
	t.Parallel()

	trig := &fakeTrigger{accept: true}
	c := NewClient(DefaultConfig(), observability.NopLogger())
	c.handler = NewHandler(trig, observability.NopLogger())

	var resp UpdateResponse
	if err := json.Unmarshal(c.handleMessage(context.Background(), []byte(`{"request_id":"x","databases":["main.cvd"]}`)), &resp); err != nil {
		t.Fatalf("json.Unmarshal() error = %v", err)
	}
	if !resp.Accepted || resp.RequestID != "x" {
		t.Errorf("response = %+v", resp)
	}

	if err := json.Unmarshal(c.handleMessage(context.Background(), []byte("{bad")), &resp); err != nil {
		t.Fatalf("json.Unmarshal() error = %v", err)
	}
	if resp.Error == "" || resp.Accepted {
		t.Errorf("malformed request response = %+v", resp)
	}
	if len(trig.got) != 1 {
		t.Errorf("Trigger() called %d times, want 1", len(trig.got))
	}
}

func TestPublisher_PublishDatabaseUpdated(t *testing.T) {
	t.Parallel()

	conn := &fakeConn{}
	pub := NewPublisher(conn, DefaultConfig().UpdatedSubject)

	event := dbupdater.DatabaseUpdatedEvent{
		CycleID:      "cycle-1",
		Database:     "daily.cvd",
		LocalVersion: 123,
		Patches:      []string{"daily-123.cdiff"},
		UpdatedAt:    time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	if err := pub.PublishDatabaseUpdated(context.Background(), event); err != nil {
		t.Fatalf("PublishDatabaseUpdated() error = %v", err)
	}
	if conn.subject != "cvdmirror.database.updated" {
		t.Errorf("subject = %q", conn.subject)
	}

	var got dbupdater.DatabaseUpdatedEvent
	if err := json.Unmarshal(conn.data, &got); err != nil {
		t.Fatalf("json.Unmarshal() error = %v", err)
	}
	if got.Database != "daily.cvd" || got.LocalVersion != 123 || !got.UpdatedAt.Equal(event.UpdatedAt) {
		t.Errorf("decoded event = %+v", got)
	}
}

func TestPublisher_Error(t *testing.T) {
	t.Parallel()

	pub := NewPublisher(&fakeConn{err: errors.New("nats: connection closed")}, "s")
	if err := pub.PublishDatabaseUpdated(context.Background(), dbupdater.DatabaseUpdatedEvent{Database: "main.cvd"}); err == nil {
		t.Error("PublishDatabaseUpdated() expected error, got nil")
	}
}

func TestClient_SubscribeRequiresConnection(t *testing.T) {
	t.Parallel()

	c := NewClient(DefaultConfig(), observability.NopLogger())
	if err := c.Subscribe(context.Background(), NewHandler(&fakeTrigger{}, nil)); err == nil {
		t.Error("Subscribe() without Connect() expected error")
	}
	if c.IsConnected() {
		t.Error("IsConnected() = true before Connect()")
	}
}
