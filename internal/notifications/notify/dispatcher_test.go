package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	alerts "coldchain-cloud/internal/alerts/domain"
	notifapp "coldchain-cloud/internal/notifications/application"
	notifications "coldchain-cloud/internal/notifications/domain"
)

type stubTransport struct {
	mu    sync.Mutex
	sends []sentDelivery
	err   error
}

type sentDelivery struct {
	channel notifications.Channel
	content string
}

func (s *stubTransport) Send(_ context.Context, channel notifications.Channel, _ []Contact, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sends = append(s.sends, sentDelivery{channel: channel, content: content})
	return s.err
}

func (s *stubTransport) sent() []sentDelivery {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sentDelivery(nil), s.sends...)
}

type stubDirectory struct {
	contacts []Contact
}

func (s stubDirectory) Resolve(_ context.Context, _ int) ([]Contact, error) {
	return s.contacts, nil
}

type stubRecorder struct {
	mu      sync.Mutex
	records []DeliveryRecord
}

func (s *stubRecorder) Record(_ context.Context, record DeliveryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, record)
	return nil
}

func (s *stubRecorder) all() []DeliveryRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]DeliveryRecord(nil), s.records...)
}

func testAlert() alerts.Alert {
	return alerts.Alert{
		ID:       "u1:ALARM_ACTIVE",
		UnitID:   "u1",
		UnitName: "Walk-in 1",
		SiteName: "Central Kitchen",
		Type:     alerts.TypeAlarmActive,
		Severity: alerts.SeverityCritical,
		Title:    "Temperature Alarm",
		Message:  "Walk-in 1 reading 9.5°C is above the high limit 5.0°C.",
	}
}

func immediateTimeline(alert alerts.Alert, channels ...notifications.Channel) notifapp.DeliveryTimeline {
	return notifapp.DeliveryTimeline{
		AlertID:  alert.ID,
		Severity: alert.Severity,
		Steps: []notifapp.TimelineStep{{
			Kind:     notifapp.StepInitial,
			Channels: channels,
		}},
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met within deadline")
}

func TestDispatcherFiresImmediateStep(t *testing.T) {
	transport := &stubTransport{}
	recorder := &stubRecorder{}
	directory := stubDirectory{contacts: []Contact{{ID: "oncall-1", Name: "Sam"}}}

	d, err := NewDispatcher(transport, directory, nil, nil, WithRecorder(recorder))
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}
	defer d.Close()

	alert := testAlert()
	d.Start(immediateTimeline(alert, notifications.ChannelEmail, notifications.ChannelSMS), alert)

	waitFor(t, func() bool { return len(transport.sent()) == 2 })

	sends := transport.sent()
	if sends[0].channel != notifications.ChannelEmail || sends[1].channel != notifications.ChannelSMS {
		t.Fatalf("channels = %v, want email then sms", sends)
	}
	if !strings.Contains(sends[0].content, "Temperature Alarm") {
		t.Fatalf("content %q lacks title", sends[0].content)
	}
	if !strings.Contains(sends[0].content, "Walk-in 1") {
		t.Fatalf("content %q lacks unit name", sends[0].content)
	}

	waitFor(t, func() bool { return len(recorder.all()) == 2 })
	record := recorder.all()[0]
	if record.AlertID != alert.ID || record.Result != "sent" {
		t.Fatalf("record = %+v, want sent for %s", record, alert.ID)
	}
	if len(record.Recipients) != 1 || record.Recipients[0] != "oncall-1" {
		t.Fatalf("recipients = %v, want resolved contact", record.Recipients)
	}
	if record.ID == "" {
		t.Fatal("record id empty")
	}
}

func TestDispatcherRecordsTransportFailure(t *testing.T) {
	transport := &stubTransport{err: context.DeadlineExceeded}
	recorder := &stubRecorder{}

	d, err := NewDispatcher(transport, stubDirectory{}, nil, nil, WithRecorder(recorder))
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}
	defer d.Close()

	alert := testAlert()
	d.Start(immediateTimeline(alert, notifications.ChannelEmail), alert)

	waitFor(t, func() bool { return len(recorder.all()) == 1 })
	record := recorder.all()[0]
	if record.Result != "error" || record.Detail == "" {
		t.Fatalf("record = %+v, want error with detail", record)
	}
}

func TestDispatcherCancelStopsPendingSteps(t *testing.T) {
	transport := &stubTransport{}

	d, err := NewDispatcher(transport, stubDirectory{}, nil, nil)
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}
	defer d.Close()

	alert := testAlert()
	timeline := notifapp.DeliveryTimeline{
		AlertID: alert.ID,
		Steps: []notifapp.TimelineStep{{
			Kind:          notifapp.StepEscalation,
			OffsetMinutes: 60,
			Channels:      []notifications.Channel{notifications.ChannelSMS},
		}},
	}
	d.Start(timeline, alert)
	d.Cancel(alert.ID)

	time.Sleep(50 * time.Millisecond)
	if got := len(transport.sent()); got != 0 {
		t.Fatalf("sends after cancel = %d, want 0", got)
	}
}

func TestDispatcherSkipsFullySuppressedSteps(t *testing.T) {
	transport := &stubTransport{}

	d, err := NewDispatcher(transport, stubDirectory{}, nil, nil)
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}
	defer d.Close()

	alert := testAlert()
	timeline := notifapp.DeliveryTimeline{
		AlertID: alert.ID,
		Steps: []notifapp.TimelineStep{{
			Kind:       notifapp.StepInitial,
			Suppressed: []notifications.Channel{notifications.ChannelSMS},
		}},
	}
	d.Start(timeline, alert)

	time.Sleep(50 * time.Millisecond)
	if got := len(transport.sent()); got != 0 {
		t.Fatalf("sends for suppressed step = %d, want 0", got)
	}
}

func TestDispatcherResolutionEventLabel(t *testing.T) {
	transport := &stubTransport{}

	d, err := NewDispatcher(transport, stubDirectory{}, nil, nil)
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}
	defer d.Close()

	alert := testAlert()
	timeline := notifapp.DeliveryTimeline{
		AlertID: alert.ID,
		Steps: []notifapp.TimelineStep{{
			Kind:     notifapp.StepResolution,
			Channels: []notifications.Channel{notifications.ChannelEmail},
		}},
	}
	d.SendResolution(timeline, alert)

	waitFor(t, func() bool { return len(transport.sent()) == 1 })
	if !strings.Contains(transport.sent()[0].content, "[Resolved]") {
		t.Fatalf("content %q lacks resolved label", transport.sent()[0].content)
	}
}

func TestWebhookTransportPayload(t *testing.T) {
	payloadCh := make(chan webhookPayload, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		var payload webhookPayload
		if err := json.Unmarshal(body, &payload); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		payloadCh <- payload
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	transport, err := NewWebhookTransport(map[notifications.Channel]string{
		notifications.ChannelEmail: server.URL,
	})
	if err != nil {
		t.Fatalf("new transport: %v", err)
	}

	contacts := []Contact{{ID: "oncall-1", Name: "Sam", Email: "sam@example.com"}}
	if err := transport.Send(context.Background(), notifications.ChannelEmail, contacts, "hello"); err != nil {
		t.Fatalf("send: %v", err)
	}

	select {
	case payload := <-payloadCh:
		if payload.Channel != "EMAIL" || payload.Content != "hello" {
			t.Fatalf("payload = %+v", payload)
		}
		if len(payload.Recipients) != 1 || payload.Recipients[0].Email != "sam@example.com" {
			t.Fatalf("recipients = %+v", payload.Recipients)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("webhook not called")
	}
}

func TestWebhookTransportRejectsUnknownChannel(t *testing.T) {
	transport, err := NewWebhookTransport(map[notifications.Channel]string{
		notifications.ChannelEmail: "http://localhost:0",
	})
	if err != nil {
		t.Fatalf("new transport: %v", err)
	}
	if err := transport.Send(context.Background(), notifications.ChannelSMS, nil, "x"); err == nil {
		t.Fatal("send on unconfigured channel succeeded")
	}
}

func TestWebhookTransportNon2xx(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	transport, err := NewWebhookTransport(map[notifications.Channel]string{
		notifications.ChannelSMS: server.URL,
	})
	if err != nil {
		t.Fatalf("new transport: %v", err)
	}
	if err := transport.Send(context.Background(), notifications.ChannelSMS, nil, "x"); err == nil {
		t.Fatal("non-2xx response not surfaced")
	}
}

func TestTemplateDefault(t *testing.T) {
	tpl, err := NewTemplate("")
	if err != nil {
		t.Fatalf("new template: %v", err)
	}
	content, err := tpl.Render(TemplateData{
		Unit:       "Walk-in 1",
		Site:       "Central Kitchen",
		Area:       "Back of House",
		Severity:   "critical",
		Title:      "Temperature Alarm",
		Message:    "Too warm.",
		EventLabel: "Alert",
	})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	for _, want := range []string{"[Alert] Temperature Alarm", "Walk-in 1 (Back of House)", "Site: Central Kitchen", "Too warm."} {
		if !strings.Contains(content, want) {
			t.Fatalf("content %q lacks %q", content, want)
		}
	}
}

func TestTemplateParseError(t *testing.T) {
	if _, err := NewTemplate("{{.Broken"); err == nil {
		t.Fatal("malformed template accepted")
	}
}
