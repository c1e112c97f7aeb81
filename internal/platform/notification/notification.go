// Package notification delivers push notifications to patient devices.
// Senders return errors; the Notifier logs them and never lets them reach the
// operation that triggered the notification.
package notification

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/muslih-a/appklinik/internal/platform/metrics"
)

// Sink is the push transport.
type Sink interface {
	Send(ctx context.Context, token, title, body string, data map[string]interface{}) error
}

// Template kinds.
const (
	KindPatientCall         = "patient-call"
	KindRealtimeReminder    = "realtime-reminder"
	KindAppointmentReminder = "appointment-reminder"
	KindVaccinationReminder = "vaccination-reminder"
)

// ---------------------------------------------------------------------------
// Template Engine
// ---------------------------------------------------------------------------

type Template struct {
	ID    string
	Title string
	Body  string
}

// TemplateEngine renders {{key}} placeholders in push titles and bodies.
type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[string]*Template
}

func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{templates: make(map[string]*Template)}
	for _, t := range []Template{
		{
			ID:    KindPatientCall,
			Title: "Panggilan dari Klinik",
			Body:  "Giliran Anda di {{clinic_name}} telah tiba (Antrian {{queue_number}}). Mohon segera menuju ruang pemeriksaan.",
		},
		{
			ID:    KindRealtimeReminder,
			Title: "Persiapan Giliran Anda",
			Body:  "Perkiraan dilayani pukul {{time}}. Mohon bersiap.",
		},
		{
			ID:    KindAppointmentReminder,
			Title: "Pengingat Janji Temu {{day_label}}",
			Body:  "Anda memiliki janji temu pada pukul {{time}}.",
		},
		{
			ID:    KindVaccinationReminder,
			Title: "Pengingat Vaksinasi {{day_label}}",
			Body:  "Anda memiliki jadwal untuk vaksin {{vaccine_name}}.",
		},
	} {
		e.RegisterTemplate(t)
	}
	return e
}

func (e *TemplateEngine) RegisterTemplate(t Template) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[t.ID] = &t
}

// Render fills the template. Placeholders without a value are left as-is.
func (e *TemplateEngine) Render(id string, vars map[string]string) (title, body string, err error) {
	e.mu.RLock()
	t, ok := e.templates[id]
	e.mu.RUnlock()
	if !ok {
		return "", "", fmt.Errorf("template %q not found", id)
	}

	title, body = t.Title, t.Body
	for k, v := range vars {
		placeholder := "{{" + k + "}}"
		title = strings.ReplaceAll(title, placeholder, v)
		body = strings.ReplaceAll(body, placeholder, v)
	}
	return title, body, nil
}

// ---------------------------------------------------------------------------
// Notifier
// ---------------------------------------------------------------------------

// Message is one push to one device.
type Message struct {
	Kind  string
	Token string
	Vars  map[string]string
	Data  map[string]interface{}
	// Ref identifies the appointment or vaccination in logs.
	Ref string
}

var ErrNoToken = errors.New("recipient has no push token")

type Notifier struct {
	sink      Sink
	templates *TemplateEngine
	timeout   time.Duration
	logger    zerolog.Logger
	metrics   *metrics.Metrics
	wg        sync.WaitGroup
}

func NewNotifier(sink Sink, templates *TemplateEngine, timeout time.Duration, logger zerolog.Logger, m *metrics.Metrics) *Notifier {
	if templates == nil {
		templates = NewTemplateEngine()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Notifier{
		sink:      sink,
		templates: templates,
		timeout:   timeout,
		logger:    logger.With().Str("component", "notifier").Logger(),
		metrics:   m,
	}
}

// Notify renders and sends msg with its own timeout. The error is logged and
// returned for accounting; callers must not fail their operation on it.
func (n *Notifier) Notify(ctx context.Context, msg Message) error {
	err := n.send(ctx, msg)
	n.metrics.Push(msg.Kind, err)
	if err != nil {
		n.logger.Warn().
			Err(err).
			Str("kind", msg.Kind).
			Str("ref", msg.Ref).
			Msg("push notification failed")
		return err
	}
	n.logger.Debug().Str("kind", msg.Kind).Str("ref", msg.Ref).Msg("push notification sent")
	return nil
}

func (n *Notifier) send(ctx context.Context, msg Message) error {
	if msg.Token == "" {
		return ErrNoToken
	}
	title, body, err := n.templates.Render(msg.Kind, msg.Vars)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()
	return n.sink.Send(ctx, msg.Token, title, body, msg.Data)
}

// NotifyAsync sends msg in the background, detached from the request
// context so that the response is not held up.
func (n *Notifier) NotifyAsync(msg Message) {
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.Notify(context.Background(), msg)
	}()
}

// Wait blocks until all NotifyAsync sends have finished. It is called during
// shutdown and by tests.
func (n *Notifier) Wait() {
	n.wg.Wait()
}

// ---------------------------------------------------------------------------
// Mock Sender (test double)
// ---------------------------------------------------------------------------

type PushCall struct {
	Token string
	Title string
	Body  string
	Data  map[string]interface{}
}

type MockSender struct {
	mu         sync.Mutex
	calls      []PushCall
	ShouldFail bool
	FailError  string
	// Delay makes Send wait, honoring ctx, before recording the call.
	Delay time.Duration
}

func (m *MockSender) Send(ctx context.Context, token, title, body string, data map[string]interface{}) error {
	if m.Delay > 0 {
		select {
		case <-time.After(m.Delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, PushCall{Token: token, Title: title, Body: body, Data: data})
	if m.ShouldFail {
		return errors.New(m.FailError)
	}
	return nil
}

func (m *MockSender) Calls() []PushCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]PushCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// LogSender only logs. It is used when no push endpoint is configured.
type LogSender struct {
	Logger zerolog.Logger
}

func (l LogSender) Send(_ context.Context, token, title, body string, _ map[string]interface{}) error {
	l.Logger.Info().Str("token", maskToken(token)).Str("title", title).Str("body", body).Msg("push (log only)")
	return nil
}

func maskToken(token string) string {
	if len(token) <= 12 {
		return "***"
	}
	return token[:8] + "..." + token[len(token)-4:]
}
