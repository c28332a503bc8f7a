package engine

import (
	"fmt"
	"time"
)

type EventType int

const (
	EventSignal EventType = iota
	EventStopHit
	EventTargetHit
	EventMarkToMarket
	EventDiscarded
)

func (t EventType) String() string {
	switch t {
	case EventSignal:
		return "signal"
	case EventStopHit:
		return "stop_hit"
	case EventTargetHit:
		return "target_hit"
	case EventMarkToMarket:
		return "mark_to_market"
	case EventDiscarded:
		return "discarded"
	}
	return "unknown"
}

func (t EventType) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

func (t *EventType) UnmarshalText(b []byte) error {
	for c := EventSignal; c <= EventDiscarded; c++ {
		if c.String() == string(b) {
			*t = c
			return nil
		}
	}
	return fmt.Errorf("unknown event type %q", string(b))
}

type Event struct {
	Ts      time.Time         `json:"ts"`
	Type    EventType         `json:"type"`
	Date    Date              `json:"date"`
	Details map[string]string `json:"details,omitempty"`
}

type EventLog struct {
	Events []Event
}

func (l *EventLog) Append(e Event) { l.Events = append(l.Events, e) }

func (l *EventLog) Len() int {
	if l == nil {
		return 0
	}
	return len(l.Events)
}

func signalEvent(s Signal) Event {
	return Event{
		Ts:   s.EntryTime,
		Type: EventSignal,
		Date: s.Date,
		Details: map[string]string{
			"entry":     s.EntryPrice.String(),
			"stop":      s.StopPrice.String(),
			"target":    s.TargetPrice.String(),
			"reference": s.ReferenceLevel.String(),
		},
	}
}

func resolutionEvent(t Trade) Event {
	typ := EventMarkToMarket
	switch t.Outcome {
	case OutcomeStop:
		typ = EventStopHit
	case OutcomeTarget:
		typ = EventTargetHit
	}
	return Event{
		Ts:   t.ResolutionTime,
		Type: typ,
		Date: t.Date,
		Details: map[string]string{
			"exit": t.ExitPrice.String(),
			"pnl":  t.PnL.String(),
			"fees": t.Fees().String(),
		},
	}
}

func discardEvent(s Signal, err error) Event {
	return Event{
		Ts:      s.EntryTime,
		Type:    EventDiscarded,
		Date:    s.Date,
		Details: map[string]string{"error": err.Error()},
	}
}
