package tracking

import (
	"testing"
	"time"

	"github.com/ignite/docsend/internal/dispatch"
)

func ev(t EventType, ts time.Time) DeliveryEvent {
	return DeliveryEvent{EventType: t, Timestamp: ts}
}

func TestParseEventType(t *testing.T) {
	tests := []struct {
		wire string
		want EventType
		ok   bool
	}{
		{"delivery", EventDelivered, true},
		{"delivered", EventDelivered, true},
		{"open", EventOpened, true},
		{"click", EventClicked, true},
		{"bounce", EventBounced, true},
		{"complaint", EventSpamReported, true},
		{"unsubscribe", EventUnsubscribed, true},
		{"teleported", "", false},
	}
	for _, tt := range tests {
		got, ok := ParseEventType(tt.wire)
		if ok != tt.ok || (ok && got != tt.want) {
			t.Errorf("ParseEventType(%q) = (%v, %v), want (%v, %v)", tt.wire, got, ok, tt.want, tt.ok)
		}
	}
}

func TestDeriveStatus(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name   string
		base   dispatch.JobStatus
		events []DeliveryEvent
		want   dispatch.JobStatus
	}{
		{
			name: "no events keeps base",
			base: dispatch.StatusSent,
			want: dispatch.StatusSent,
		},
		{
			name:   "normal progression",
			base:   dispatch.StatusSent,
			events: []DeliveryEvent{ev(EventDelivered, now), ev(EventOpened, now)},
			want:   dispatch.StatusOpened,
		},
		{
			name:   "out of order open before delivered",
			base:   dispatch.StatusSent,
			events: []DeliveryEvent{ev(EventOpened, now), ev(EventDelivered, now.Add(time.Minute))},
			want:   dispatch.StatusOpened,
		},
		{
			name:   "late bounce never rewinds a delivery",
			base:   dispatch.StatusSent,
			events: []DeliveryEvent{ev(EventDelivered, now), ev(EventBounced, now.Add(time.Minute))},
			want:   dispatch.StatusDelivered,
		},
		{
			name:   "bounce advances a sent job",
			base:   dispatch.StatusSent,
			events: []DeliveryEvent{ev(EventBounced, now)},
			want:   dispatch.StatusBounced,
		},
		{
			name:   "annotations do not move the status",
			base:   dispatch.StatusDelivered,
			events: []DeliveryEvent{ev(EventSpamReported, now), ev(EventUnsubscribed, now)},
			want:   dispatch.StatusDelivered,
		},
		{
			name:   "click is the most advanced",
			base:   dispatch.StatusPending,
			events: []DeliveryEvent{ev(EventClicked, now), ev(EventSent, now), ev(EventDelivered, now)},
			want:   dispatch.StatusClicked,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DeriveStatus(tt.base, tt.events); got != tt.want {
				t.Errorf("DeriveStatus() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestDeriveStatus_Idempotent(t *testing.T) {
	now := time.Now()
	events := []DeliveryEvent{ev(EventDelivered, now), ev(EventOpened, now)}

	first := DeriveStatus(dispatch.StatusSent, events)
	replayed := DeriveStatus(first, append(events, events...))
	if first != replayed {
		t.Errorf("replaying the log changed the status: %s -> %s", first, replayed)
	}
}

func TestDeriveTimestamps(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	events := []DeliveryEvent{
		ev(EventOpened, t0.Add(2*time.Minute)),
		ev(EventDelivered, t0.Add(time.Minute)),
		ev(EventOpened, t0.Add(5*time.Minute)), // repeat open, later
		ev(EventSpamReported, t0),              // no timestamp column
	}

	got := DeriveTimestamps(events)
	if !got["delivered_at"].Equal(t0.Add(time.Minute)) {
		t.Errorf("delivered_at = %v", got["delivered_at"])
	}
	if !got["opened_at"].Equal(t0.Add(2 * time.Minute)) {
		t.Errorf("opened_at = %v, want the earliest open", got["opened_at"])
	}
	if _, ok := got["clicked_at"]; ok {
		t.Error("clicked_at present without a click event")
	}
	if len(got) != 2 {
		t.Errorf("timestamps = %v, want exactly delivered_at and opened_at", got)
	}
}

func TestDeriveTimestamps_SkipsZeroTimes(t *testing.T) {
	got := DeriveTimestamps([]DeliveryEvent{{EventType: EventDelivered}})
	if len(got) != 0 {
		t.Errorf("zero-time event produced timestamps: %v", got)
	}
}
