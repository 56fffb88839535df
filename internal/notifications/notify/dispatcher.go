package notify

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	alerts "coldchain-cloud/internal/alerts/domain"
	notifapp "coldchain-cloud/internal/notifications/application"
	notifications "coldchain-cloud/internal/notifications/domain"
	"coldchain-cloud/internal/observability/metrics"
)

// Clock provides time for delivery records.
type Clock interface {
	Now() time.Time
}

// DeliveryRecord is the audit trail row for one channel delivery attempt.
type DeliveryRecord struct {
	ID         string
	AlertID    string
	StepKind   string
	Channel    string
	Recipients []string
	Result     string
	Detail     string
	At         time.Time
}

// DeliveryRecorder persists delivery attempts. Best effort; failures are
// logged and never block delivery.
type DeliveryRecorder interface {
	Record(ctx context.Context, record DeliveryRecord) error
}

// Dispatcher executes delivery timelines with in-process timers. Timers are a
// convenience for a single running instance; surviving restarts is the job of
// a durable scheduler in front of this.
type Dispatcher struct {
	transport Transport
	directory ContactDirectory
	template  *Template
	recorder  DeliveryRecorder
	logger    *log.Logger
	clock     Clock

	requestTimeout time.Duration

	mu     sync.Mutex
	timers map[string][]*time.Timer
}

// DispatcherOption configures the dispatcher.
type DispatcherOption func(*Dispatcher)

// WithClock overrides the default clock.
func WithClock(clock Clock) DispatcherOption {
	return func(d *Dispatcher) {
		if clock != nil {
			d.clock = clock
		}
	}
}

// WithRecorder assigns a delivery recorder.
func WithRecorder(recorder DeliveryRecorder) DispatcherOption {
	return func(d *Dispatcher) {
		if recorder != nil {
			d.recorder = recorder
		}
	}
}

// WithRequestTimeout overrides the per-delivery timeout.
func WithRequestTimeout(timeout time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.requestTimeout = timeout
		}
	}
}

// NewDispatcher constructs a dispatcher.
func NewDispatcher(transport Transport, directory ContactDirectory, template *Template, logger *log.Logger, opts ...DispatcherOption) (*Dispatcher, error) {
	if transport == nil {
		return nil, errors.New("dispatcher: nil transport")
	}
	if directory == nil {
		return nil, errors.New("dispatcher: nil contact directory")
	}
	if template == nil {
		defaultTemplate, err := NewTemplate("")
		if err != nil {
			return nil, err
		}
		template = defaultTemplate
	}
	d := &Dispatcher{
		transport:      transport,
		directory:      directory,
		template:       template,
		logger:         logger,
		clock:          systemClock{},
		requestTimeout: 5 * time.Second,
		timers:         make(map[string][]*time.Timer),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Start arms timers for every step of the timeline. Steps at offset zero fire
// immediately; repeat steps re-arm themselves until Cancel.
func (d *Dispatcher) Start(timeline notifapp.DeliveryTimeline, alert alerts.Alert) {
	if d == nil || timeline.Empty() {
		return
	}
	d.mu.Lock()
	if _, ok := d.timers[alert.ID]; !ok {
		d.timers[alert.ID] = nil
	}
	d.mu.Unlock()

	for _, step := range timeline.Steps {
		if step.Skipped() {
			metrics.IncNotificationSuppressed("quiet_hours")
			d.logf("delivery suppressed by quiet hours: alert=%s kind=%s", alert.ID, step.Kind)
			continue
		}
		if step.OffsetMinutes == 0 {
			go d.fire(alert, step, "raised")
			continue
		}
		d.arm(alert, step, time.Duration(step.OffsetMinutes)*time.Minute)
	}
}

// SendResolution fires a resolution timeline immediately.
func (d *Dispatcher) SendResolution(timeline notifapp.DeliveryTimeline, alert alerts.Alert) {
	if d == nil || timeline.Empty() {
		return
	}
	for _, step := range timeline.Steps {
		if step.Skipped() {
			metrics.IncNotificationSuppressed("quiet_hours")
			continue
		}
		go d.fire(alert, step, "resolved")
	}
}

// Cancel stops all pending timers for an alert, typically on ack or resolve.
func (d *Dispatcher) Cancel(alertID string) {
	if d == nil || alertID == "" {
		return
	}
	d.mu.Lock()
	timers := d.timers[alertID]
	delete(d.timers, alertID)
	d.mu.Unlock()
	for _, timer := range timers {
		if timer != nil {
			timer.Stop()
		}
	}
}

// Close stops every pending timer.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.mu.Lock()
	all := d.timers
	d.timers = make(map[string][]*time.Timer)
	d.mu.Unlock()
	for _, timers := range all {
		for _, timer := range timers {
			if timer != nil {
				timer.Stop()
			}
		}
	}
}

func (d *Dispatcher) arm(alert alerts.Alert, step notifapp.TimelineStep, after time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.timers[alert.ID]; !ok {
		// Canceled while arming.
		return
	}
	timer := time.AfterFunc(after, func() {
		if !d.active(alert.ID) {
			return
		}
		d.fire(alert, step, "raised")
		if step.Repeat && step.RepeatEveryMinutes > 0 {
			d.arm(alert, step, time.Duration(step.RepeatEveryMinutes)*time.Minute)
		}
	})
	d.timers[alert.ID] = append(d.timers[alert.ID], timer)
}

func (d *Dispatcher) active(alertID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.timers[alertID]
	return ok
}

func (d *Dispatcher) fire(alert alerts.Alert, step notifapp.TimelineStep, event string) {
	ctx := context.Background()
	if d.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.requestTimeout)
		defer cancel()
	}

	recipients, err := d.directory.Resolve(ctx, step.ContactPriority)
	if err != nil {
		d.logf("contact resolution failed: alert=%s priority=%d err=%v", alert.ID, step.ContactPriority, err)
		return
	}

	content, err := d.template.Render(templateData(alert, step, event))
	if err != nil {
		d.logf("template render failed: alert=%s err=%v", alert.ID, err)
		return
	}

	for _, channel := range step.Channels {
		result := "sent"
		detail := ""
		if err := d.transport.Send(ctx, channel, recipients, content); err != nil {
			result = "error"
			detail = err.Error()
			d.logf("delivery failed: alert=%s channel=%s err=%v", alert.ID, channel, err)
		}
		metrics.IncNotificationSent(string(channel), result)
		d.record(ctx, alert, step, channel, recipients, result, detail)
	}
}

func (d *Dispatcher) record(ctx context.Context, alert alerts.Alert, step notifapp.TimelineStep, channel notifications.Channel, recipients []Contact, result, detail string) {
	if d.recorder == nil {
		return
	}
	names := make([]string, 0, len(recipients))
	for _, contact := range recipients {
		names = append(names, contact.ID)
	}
	record := DeliveryRecord{
		ID:         uuid.New().String(),
		AlertID:    alert.ID,
		StepKind:   string(step.Kind),
		Channel:    string(channel),
		Recipients: names,
		Result:     result,
		Detail:     detail,
		At:         d.clock.Now().UTC(),
	}
	if err := d.recorder.Record(ctx, record); err != nil {
		d.logf("delivery record failed: alert=%s err=%v", alert.ID, err)
	}
}

func (d *Dispatcher) logf(format string, args ...any) {
	if d.logger != nil {
		d.logger.Printf(format, args...)
	}
}

func templateData(alert alerts.Alert, step notifapp.TimelineStep, event string) TemplateData {
	return TemplateData{
		Unit:       alert.UnitName,
		Site:       alert.SiteName,
		Area:       alert.AreaName,
		Type:       alert.Type,
		Severity:   string(alert.Severity),
		Title:      alert.Title,
		Message:    alert.Message,
		Event:      event,
		EventLabel: eventLabel(event, step.Kind),
	}
}

func eventLabel(event string, kind notifapp.StepKind) string {
	switch {
	case event == "resolved":
		return "Resolved"
	case kind == notifapp.StepReminder:
		return "Reminder"
	case kind == notifapp.StepEscalation:
		return "Escalated"
	default:
		return "Alert"
	}
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
