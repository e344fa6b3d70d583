package campaign

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shineum/mail-dispatch/internal/email"
	"github.com/shineum/mail-dispatch/internal/mailerr"
	"github.com/shineum/mail-dispatch/internal/pacing"
	"github.com/shineum/mail-dispatch/internal/recipient"
	"github.com/shineum/mail-dispatch/internal/relay"
	"github.com/shineum/mail-dispatch/internal/transport"
)

// fakeRelays hands out transports keyed by relay host and records every
// submitted message.
type fakeRelays struct {
	mu    sync.Mutex
	fail  map[string]error
	sent  map[string][]*email.Email
	calls int
}

func newFakeRelays() *fakeRelays {
	return &fakeRelays{fail: map[string]error{}, sent: map[string][]*email.Email{}}
}

func (f *fakeRelays) Open(_ context.Context, cfg relay.Config) (transport.Transport, error) {
	return &fakeTransport{host: cfg.Host, relays: f}, nil
}

func (f *fakeRelays) messages() []*email.Email {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*email.Email
	for _, host := range []string{"r1", "r2"} {
		out = append(out, f.sent[host]...)
	}
	return out
}

type fakeTransport struct {
	host   string
	relays *fakeRelays
}

func (t *fakeTransport) Submit(_ context.Context, msg *email.Email) (string, error) {
	t.relays.mu.Lock()
	defer t.relays.mu.Unlock()
	t.relays.calls++
	if err := t.relays.fail[t.host]; err != nil {
		return "", err
	}
	t.relays.sent[t.host] = append(t.relays.sent[t.host], msg)
	return "ok-" + t.host, nil
}

func (t *fakeTransport) Name() string { return "fake" }

type fakeRenderer struct {
	err error
}

func (r *fakeRenderer) Render(_ context.Context, source string) ([]byte, error) {
	if r.err != nil {
		return nil, r.err
	}
	return []byte("doc:" + source), nil
}

func (r *fakeRenderer) ContentType() string { return "application/pdf" }
func (r *fakeRenderer) Extension() string   { return "pdf" }

// sleepRecorder records requested delays without waiting.
type sleepRecorder struct {
	delays []time.Duration
	hook   func(n int)
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.delays = append(s.delays, d)
	if s.hook != nil {
		s.hook(len(s.delays))
	}
	return ctx.Err()
}

var twoRelays = []relay.Config{
	{Kind: relay.KindCustom, Host: "r1", Port: 587, Username: "u1", Secret: "p1"},
	{Kind: relay.KindCustom, Host: "r2", Port: 587, Username: "u2", Secret: "p2"},
}

const (
	relay1 = "custom_r1_u1_0"
	relay2 = "custom_r2_u2_1"
)

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

var fixedPacing = pacing.Config{MinDelay: time.Second, MaxDelay: time.Second}

func newDispatcher(t *testing.T, relays *fakeRelays, sleeper *sleepRecorder, opts ...Option) *Dispatcher {
	t.Helper()
	pool, err := relay.NewPool(twoRelays, relays, relay.WithLogger(quietLogger))
	require.NoError(t, err)

	opts = append([]Option{WithLogger(quietLogger), WithSleeper(sleeper.sleep)}, opts...)
	return New(pool, opts...)
}

func assertTotals(t *testing.T, res *Result) {
	t.Helper()
	assert.Equal(t, res.Total, res.Sent+res.Failed+res.Skipped+res.NotAttempted)
	assert.Len(t, res.Results, res.Total)
	for i, dr := range res.Results {
		assert.Equal(t, i, dr.Index, "results stay in input order")
	}
}

func TestRun_AuthFailureFailsOver(t *testing.T) {
	t.Parallel()

	relays := newFakeRelays()
	relays.fail["r1"] = mailerr.Auth(errors.New("535 bad credentials"))
	d := newDispatcher(t, relays, &sleepRecorder{})

	res, err := d.Run(context.Background(), Request{
		Recipients: []recipient.Recipient{
			{"email": "a@x.com"}, {"email": "b@x.com"}, {"email": "c@x.com"},
		},
		Templates: Templates{Subject: "Hi", HTML: "<p>Hi</p>"},
		Pacing:    fixedPacing,
	})
	require.NoError(t, err)

	assert.Equal(t, StateCompleted, res.State)
	assert.Equal(t, 3, res.Sent)
	assert.Equal(t, 4, relays.calls, "relay 1 is tried once, then skipped")
	assert.Equal(t, map[string]int{relay2: 3}, res.PerRelay)
	assert.False(t, res.Relays[relay1].Healthy)
	assert.Equal(t, 1, res.Relays[relay1].Failed)
	assert.True(t, res.Relays[relay2].Healthy)
	assert.Equal(t, 3, res.Relays[relay2].Sent)

	assert.Equal(t, relay2, res.Results[0].Relay)
	assert.Equal(t, 2, res.Results[0].Attempts)
	assert.Equal(t, "ok-r2", res.Results[0].Response)
	assertTotals(t, res)
}

func TestRun_InvalidRecipientsAreSkipped(t *testing.T) {
	t.Parallel()

	relays := newFakeRelays()
	sleeper := &sleepRecorder{}
	d := newDispatcher(t, relays, sleeper)

	res, err := d.Run(context.Background(), Request{
		Recipients: []recipient.Recipient{
			{"email": "a@x.com"},
			{"name": "no address"},
			{"Email": "b@x.com"},
			{"email": "broken"},
		},
		Templates: Templates{Subject: "Hi"},
		Pacing:    fixedPacing,
	})
	require.NoError(t, err)

	assert.Equal(t, 2, res.Sent)
	assert.Equal(t, 2, res.Skipped)
	assert.Equal(t, 2, relays.calls, "skipped recipients never reach a relay")
	assert.Equal(t, StatusSkipped, res.Results[1].Status)
	assert.Equal(t, StatusSent, res.Results[2].Status)
	assert.Equal(t, "b@x.com", res.Results[2].Email)

	require.Len(t, res.Errors, 2)
	assert.Equal(t, StageValidate, res.Errors[0].Stage)
	var verr *mailerr.ValidationError
	assert.ErrorAs(t, res.Errors[0].Err, &verr)

	// Delays follow the sends of recipients 0 and 2; skips add none.
	assert.Equal(t, []time.Duration{time.Second, time.Second}, sleeper.delays)
	assertTotals(t, res)
}

func TestRun_PacingBetweenSendsOnly(t *testing.T) {
	t.Parallel()

	sleeper := &sleepRecorder{}
	d := newDispatcher(t, newFakeRelays(), sleeper)

	_, err := d.Run(context.Background(), Request{
		Recipients: []recipient.Recipient{{"email": "a@x.com"}, {"email": "b@x.com"}, {"email": "c@x.com"}},
		Pacing:     fixedPacing,
	})
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{time.Second, time.Second}, sleeper.delays, "no delay after the last recipient")
}

func TestRun_TemplatesAndHeaders(t *testing.T) {
	t.Parallel()

	relays := newFakeRelays()
	d := newDispatcher(t, relays, &sleepRecorder{}, WithSender("Ops <ops@example.com>"))

	res, err := d.Run(context.Background(), Request{
		Recipients: []recipient.Recipient{
			{"name": "Ana", "email": "a@x.com"},
			{"email": "b@x.com"},
		},
		Templates: Templates{
			Subject: "Hi {{name}}",
			HTML:    "<p>Hello {{name}}</p><p>Bye</p>",
		},
		Pacing: fixedPacing,
	})
	require.NoError(t, err)

	msgs := relays.messages()
	require.Len(t, msgs, 2)

	ana := msgs[0]
	assert.Equal(t, "Hi Ana", ana.Subject)
	assert.Equal(t, "<p>Hello Ana</p><p>Bye</p>", ana.HtmlBody)
	assert.Equal(t, "Hello Ana\nBye", ana.TextBody)
	assert.Equal(t, []string{"a@x.com"}, ana.To)
	assert.Equal(t, "Ops <ops@example.com>", ana.From)
	assert.Regexp(t, regexp.MustCompile(`^<[0-9a-f-]{36}@example\.com>$`), ana.MessageID)
	assert.Equal(t, "3", ana.Headers["X-Priority"])
	assert.Equal(t, "Normal", ana.Headers["Importance"])
	assert.Equal(t, Mailer, ana.Headers["X-Mailer"])
	assert.Equal(t, res.ID, ana.Headers["X-Campaign-Id"])

	assert.Equal(t, "Hi ", msgs[1].Subject)
	assert.NotEqual(t, ana.MessageID, msgs[1].MessageID)
}

func TestRun_DefaultSubjectAndExplicitText(t *testing.T) {
	t.Parallel()

	relays := newFakeRelays()
	d := newDispatcher(t, relays, &sleepRecorder{})

	_, err := d.Run(context.Background(), Request{
		Recipients: []recipient.Recipient{{"email": "a@x.com", "code": "42"}},
		Templates:  Templates{HTML: "<b>x</b>", Text: "code {{code}}"},
		Pacing:     fixedPacing,
	})
	require.NoError(t, err)

	msgs := relays.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, DefaultSubject, msgs[0].Subject)
	assert.Equal(t, "code 42", msgs[0].TextBody)
	assert.Contains(t, msgs[0].MessageID, "@"+fallbackDomain+">")
}

func TestRun_Attachments(t *testing.T) {
	t.Parallel()

	relays := newFakeRelays()
	d := newDispatcher(t, relays, &sleepRecorder{}, WithRenderer(&fakeRenderer{}))

	_, err := d.Run(context.Background(), Request{
		Recipients: []recipient.Recipient{
			{"email": "ana@x.com", "Invoice": "INV-7"},
			{"email": "bo@x.com"},
		},
		Templates: Templates{Subject: "Doc", Attachment: "Invoice for {{email}}"},
		Pacing:    fixedPacing,
	})
	require.NoError(t, err)

	msgs := relays.messages()
	require.Len(t, msgs, 2)
	require.Len(t, msgs[0].Attachments, 1)
	assert.Equal(t, "Invoice_INV-7.pdf", msgs[0].Attachments[0].Filename)
	assert.Equal(t, "application/pdf", msgs[0].Attachments[0].ContentType)
	assert.Equal(t, "doc:Invoice for ana@x.com", string(msgs[0].Attachments[0].Content))
	assert.Equal(t, "Document_bo.pdf", msgs[1].Attachments[0].Filename)
}

func TestRun_RenderFailureSendsWithoutAttachment(t *testing.T) {
	t.Parallel()

	relays := newFakeRelays()
	d := newDispatcher(t, relays, &sleepRecorder{}, WithRenderer(&fakeRenderer{err: errors.New("chrome crashed")}))

	res, err := d.Run(context.Background(), Request{
		Recipients: []recipient.Recipient{{"email": "a@x.com"}},
		Templates:  Templates{Subject: "Doc", Attachment: "<h1>x</h1>"},
		Pacing:     fixedPacing,
	})
	require.NoError(t, err)

	assert.Equal(t, 1, res.Sent)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, StageRender, res.Errors[0].Stage)
	var rerr *mailerr.RenderError
	assert.ErrorAs(t, res.Errors[0].Err, &rerr)

	msgs := relays.messages()
	require.Len(t, msgs, 1)
	assert.Empty(t, msgs[0].Attachments)
}

func TestRun_ExhaustedRecipientFails(t *testing.T) {
	t.Parallel()

	relays := newFakeRelays()
	relays.fail["r1"] = mailerr.Transient(errors.New("451 slow down"))
	relays.fail["r2"] = mailerr.Transient(errors.New("451 slow down"))
	d := newDispatcher(t, relays, &sleepRecorder{})

	res, err := d.Run(context.Background(), Request{
		Recipients:  []recipient.Recipient{{"email": "a@x.com"}, {"email": "b@x.com"}},
		Pacing:      fixedPacing,
		MaxAttempts: 5,
	})
	require.NoError(t, err, "per-recipient failures never fail the run")

	assert.Equal(t, StateCompleted, res.State)
	assert.Equal(t, 2, res.Failed)
	assert.Equal(t, 2, res.Results[0].Attempts, "attempts are capped at the relay count")
	require.Len(t, res.Errors, 2)
	assert.Equal(t, StageSend, res.Errors[0].Stage)
	var exhausted *mailerr.DispatchExhaustedError
	assert.ErrorAs(t, res.Errors[0].Err, &exhausted)

	assert.True(t, res.Relays[relay1].Healthy, "transient failures keep relays in rotation")
	assert.True(t, res.Relays[relay2].Healthy)
	assertTotals(t, res)
}

func TestRun_ConfigurationErrorsAbort(t *testing.T) {
	t.Parallel()

	relays := newFakeRelays()

	tests := []struct {
		name string
		d    *Dispatcher
		req  Request
	}{
		{
			name: "no recipients",
			d:    newDispatcher(t, relays, &sleepRecorder{}),
			req:  Request{Pacing: fixedPacing},
		},
		{
			name: "inverted pacing",
			d:    newDispatcher(t, relays, &sleepRecorder{}),
			req: Request{
				Recipients: []recipient.Recipient{{"email": "a@x.com"}},
				Pacing:     pacing.Config{MinDelay: 5 * time.Second, MaxDelay: time.Second},
			},
		},
		{
			name: "no pool",
			d:    New(nil, WithLogger(quietLogger)),
			req:  Request{Recipients: []recipient.Recipient{{"email": "a@x.com"}}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := tt.d.Run(context.Background(), tt.req)
			require.Error(t, err)
			assert.True(t, mailerr.IsConfiguration(err))
			assert.Equal(t, StateAborted, res.State)
			assert.Empty(t, res.Results)
		})
	}
	assert.Zero(t, relays.calls)
}

func TestRun_CancellationLeavesRestNotAttempted(t *testing.T) {
	t.Parallel()

	relays := newFakeRelays()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sleeper := &sleepRecorder{hook: func(int) { cancel() }}
	d := newDispatcher(t, relays, sleeper)

	res, err := d.Run(ctx, Request{
		Recipients: []recipient.Recipient{{"email": "a@x.com"}, {"email": "b@x.com"}, {"email": "c@x.com"}},
		Pacing:     fixedPacing,
	})
	require.ErrorIs(t, err, context.Canceled)

	assert.Equal(t, StateCancelled, res.State)
	assert.Equal(t, 1, res.Sent)
	assert.Equal(t, 2, res.NotAttempted)
	assert.Equal(t, StatusNotAttempted, res.Results[2].Status)
	assert.Equal(t, "c@x.com", res.Results[2].Email)
	assertTotals(t, res)
}

func TestRun_WarmupUsesController(t *testing.T) {
	t.Parallel()

	sleeper := &sleepRecorder{}
	d := newDispatcher(t, newFakeRelays(), sleeper)

	_, err := d.Run(context.Background(), Request{
		Recipients: []recipient.Recipient{{"email": "a@x.com"}, {"email": "b@x.com"}},
		Pacing:     pacing.Config{MinDelay: time.Second, MaxDelay: 2 * time.Second, WarmupMode: true},
	})
	require.NoError(t, err)
	require.Len(t, sleeper.delays, 1)
	assert.GreaterOrEqual(t, sleeper.delays[0], pacing.WarmupMinDelay)
	assert.LessOrEqual(t, sleeper.delays[0], pacing.WarmupMaxDelay)
}

func TestRunCampaign(t *testing.T) {
	t.Parallel()

	relays := newFakeRelays()
	sleeper := &sleepRecorder{}

	res, err := RunCampaign(context.Background(),
		[]recipient.Recipient{{"name": "Ana", "email": "a@x.com"}},
		Templates{Subject: "Hi {{name}}"},
		twoRelays, relays, fixedPacing, 0,
		WithLogger(quietLogger), WithSleeper(sleeper.sleep),
	)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, res.State)
	assert.Equal(t, 1, res.Sent)
	assert.Equal(t, map[string]int{relay1: 1}, res.PerRelay)

	res, err = RunCampaign(context.Background(),
		[]recipient.Recipient{{"email": "a@x.com"}},
		Templates{}, nil, relays, fixedPacing, 0, WithLogger(quietLogger))
	assert.True(t, mailerr.IsConfiguration(err))
	assert.Equal(t, StateAborted, res.State)
}

func TestAttachmentName(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "Invoice_7.html", attachmentName(recipient.Recipient{"invoice": "7"}, "a@x.com", "html"))
	assert.Equal(t, "Document_ana.txt", attachmentName(recipient.Recipient{}, "ana@x.com", "txt"))
}
