package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	notify "github.com/watchkit/notify"
)

type captureSink struct {
	events []notify.Event
	errors []notify.Error
}

func (s *captureSink) Send(e notify.Event)      { s.events = append(s.events, e) }
func (s *captureSink) SendError(e notify.Error) { s.errors = append(s.errors, e) }

func counterValue(t *testing.T, c prometheus.Collector) float64 {
	t.Helper()
	ch := make(chan prometheus.Metric, 1)
	c.Collect(ch)
	m := &dto.Metric{}
	if err := (<-ch).Write(m); err != nil {
		t.Fatal(err)
	}
	if m.Counter != nil {
		return m.Counter.GetValue()
	}
	return m.Gauge.GetValue()
}

func TestSinkForwardsAndCountsEvents(t *testing.T) {
	reg := prometheus.NewRegistry()
	cap := &captureSink{}
	s := New(cap, reg)

	s.Send(notify.Event{Kind: notify.KindCreate, Paths: []string{"/a"}})
	s.Send(notify.Event{Kind: notify.KindModify, Paths: []string{"/a"}, Attrs: notify.Attrs{Overflow: true}})

	if len(cap.events) != 2 {
		t.Fatalf("expected events forwarded unchanged, got %d", len(cap.events))
	}
	if got := counterValue(t, s.eventsTotal.WithLabelValues(notify.KindCreate.String())); got != 1 {
		t.Fatalf("expected 1 create event counted, got %v", got)
	}
	if got := counterValue(t, s.overflowTotal); got != 1 {
		t.Fatalf("expected 1 overflow counted, got %v", got)
	}
}

func TestSinkCountsErrors(t *testing.T) {
	reg := prometheus.NewRegistry()
	cap := &captureSink{}
	s := New(cap, reg)

	s.SendError(notify.Error{Kind: notify.ErrIo, Msg: "boom"})
	if len(cap.errors) != 1 {
		t.Fatalf("expected error forwarded, got %d", len(cap.errors))
	}
	if got := counterValue(t, s.errorsTotal.WithLabelValues(notify.ErrIo.String())); got != 1 {
		t.Fatalf("expected 1 io error counted, got %v", got)
	}
}

func TestGaugeTracksWatchedPaths(t *testing.T) {
	reg := prometheus.NewRegistry()
	s := New(&captureSink{}, reg)

	s.IncWatched()
	s.IncWatched()
	s.DecWatched()

	if got := counterValue(t, s.watchedPaths); got != 1 {
		t.Fatalf("expected gauge at 1, got %v", got)
	}
}
