package sms

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/myhometown/textline/internal/carrier"
	"github.com/myhometown/textline/internal/store"
	"github.com/myhometown/textline/pkg/codes"
)

func testSchedule(recipients ...store.ScheduledRecipient) *store.ScheduledMessage {
	return &store.ScheduledMessage{
		ID:             uuid.New(),
		MessageContent: "Reminder: potluck at 6pm",
		Recipients:     recipients,
		OwnerUserID:    "user-42",
		ScheduledFor:   time.Now().Add(-time.Minute),
		CreatedAt:      time.Now().Add(-time.Hour),
	}
}

func TestDispatcher_DispatchTwoRecipients(t *testing.T) {
	t.Parallel()

	sched := testSchedule(
		store.ScheduledRecipient{Name: "A", Phone: "5555550100"},
		store.ScheduledRecipient{Name: "B", Phone: "5555550101"},
	)
	gw := &fakeGateway{}
	logs := newFakeLogStore()
	schedules := newFakeScheduleStore(sched)
	d := NewDispatcher(gw, logs, schedules, nil, DispatcherConfig{FromNumber: "+15550001111"})

	res, err := d.Dispatch(context.Background(), sched.ID)
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}

	if !res.Success {
		t.Error("Success = false")
	}
	if res.LogsCreated != 2 {
		t.Errorf("LogsCreated = %d, want 2", res.LogsCreated)
	}
	if len(res.Results) != 2 {
		t.Fatalf("results = %d, want 2", len(res.Results))
	}
	if !res.Deleted {
		t.Error("Deleted = false")
	}

	// Schedule is consumed exactly once: a later lookup is not-found.
	if _, err := schedules.GetByID(context.Background(), sched.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("schedule lookup after dispatch = %v, want ErrNotFound", err)
	}

	// Both log rows share the group id and reached sent.
	if logs.rowCount() != 2 {
		t.Fatalf("log rows = %d, want 2", logs.rowCount())
	}
	for _, r := range res.Results {
		if r.Status != codes.StatusSent {
			t.Errorf("result for %s = %s, want sent", r.Recipient, r.Status)
		}
	}
}

func TestDispatcher_ScheduleDeletedEvenOnPartialFailure(t *testing.T) {
	t.Parallel()

	sched := testSchedule(
		store.ScheduledRecipient{Name: "A", Phone: "5555550100"},
		store.ScheduledRecipient{Name: "B", Phone: "5555550101"},
	)
	gw := &fakeGateway{
		sendFunc: func(params carrier.SendParams) (*carrier.SendResult, error) {
			if params.To == "+15555550101" {
				return nil, &carrier.SendError{StatusCode: 400, Message: "blocked recipient"}
			}
			return &carrier.SendResult{CarrierMessageID: "SM1", Status: "queued"}, nil
		},
	}
	logs := newFakeLogStore()
	schedules := newFakeScheduleStore(sched)
	d := NewDispatcher(gw, logs, schedules, nil, DispatcherConfig{FromNumber: "+15550001111"})

	res, err := d.Dispatch(context.Background(), sched.ID)
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if !res.Success || !res.Deleted {
		t.Errorf("result = {success:%v deleted:%v}, want both true", res.Success, res.Deleted)
	}

	statuses := map[string]int{}
	for _, r := range res.Results {
		statuses[r.Status]++
	}
	if statuses[codes.StatusSent] != 1 || statuses[codes.StatusFailed] != 1 {
		t.Errorf("statuses = %v, want one sent and one failed", statuses)
	}
	if _, err := schedules.GetByID(context.Background(), sched.ID); !errors.Is(err, store.ErrNotFound) {
		t.Error("partially failed schedule was not deleted")
	}
}

func TestDispatcher_ExactlyOneTerminalUpdatePerRecipient(t *testing.T) {
	t.Parallel()

	sched := testSchedule(
		store.ScheduledRecipient{Name: "A", Phone: "5555550100"},
		store.ScheduledRecipient{Name: "B", Phone: "nope"},
		store.ScheduledRecipient{Name: "C", Phone: "5555550102"},
	)
	logs := newFakeLogStore()
	d := NewDispatcher(&fakeGateway{}, logs, newFakeScheduleStore(sched), nil, DispatcherConfig{FromNumber: "+15550001111"})

	res, err := d.Dispatch(context.Background(), sched.ID)
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if res.LogsCreated != 3 {
		t.Errorf("LogsCreated = %d, want 3", res.LogsCreated)
	}
	// Three pre-created rows, three terminal writes, nothing pending.
	if logs.writeCount() != 3 {
		t.Errorf("terminal writes = %d, want 3", logs.writeCount())
	}
}

func TestDispatcher_NotFound(t *testing.T) {
	t.Parallel()

	d := NewDispatcher(&fakeGateway{}, newFakeLogStore(), newFakeScheduleStore(), nil, DispatcherConfig{})
	_, err := d.Dispatch(context.Background(), uuid.New())
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Dispatch() error = %v, want ErrNotFound", err)
	}
}

func TestDispatcher_DeleteFailureStillSucceeds(t *testing.T) {
	t.Parallel()

	sched := testSchedule(store.ScheduledRecipient{Name: "A", Phone: "5555550100"})
	schedules := newFakeScheduleStore(sched)
	schedules.deleteErr = errors.New("db hiccup")
	d := NewDispatcher(&fakeGateway{}, newFakeLogStore(), schedules, nil, DispatcherConfig{FromNumber: "+15550001111"})

	res, err := d.Dispatch(context.Background(), sched.ID)
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if !res.Success {
		t.Error("Success = false, want true despite delete failure")
	}
	if res.Deleted {
		t.Error("Deleted = true, want false")
	}
}

func TestDispatcher_InFlightDispatchIsTracked(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	proceed := make(chan struct{})
	gw := &fakeGateway{
		sendFunc: func(carrier.SendParams) (*carrier.SendResult, error) {
			close(started)
			<-proceed
			return &carrier.SendResult{CarrierMessageID: "SM1", Status: "queued"}, nil
		},
	}
	sched := testSchedule(store.ScheduledRecipient{Name: "A", Phone: "5555550100"})
	monitor := NewStreamMonitor(StreamMonitorConfig{})
	d := NewDispatcher(gw, newFakeLogStore(), newFakeScheduleStore(sched), monitor, DispatcherConfig{FromNumber: "+15550001111"})

	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, err := d.Dispatch(context.Background(), sched.ID); err != nil {
			t.Errorf("Dispatch() error = %v", err)
		}
	}()

	<-started
	if got := monitor.Count(); got != 1 {
		t.Errorf("tracked streams during dispatch = %d, want 1", got)
	}
	close(proceed)
	<-done
	if got := monitor.Count(); got != 0 {
		t.Errorf("tracked streams after dispatch = %d, want 0", got)
	}
}

func TestDispatcher_LogCreationFailureAborts(t *testing.T) {
	t.Parallel()

	sched := testSchedule(store.ScheduledRecipient{Name: "A", Phone: "5555550100"})
	logs := newFakeLogStore()
	logs.createErr = errors.New("insert failed")
	gw := &fakeGateway{}
	d := NewDispatcher(gw, logs, newFakeScheduleStore(sched), nil, DispatcherConfig{FromNumber: "+15550001111"})

	if _, err := d.Dispatch(context.Background(), sched.ID); err == nil {
		t.Fatal("Dispatch() error = nil, want log-creation failure")
	}
	if got := len(gw.sentParams()); got != 0 {
		t.Errorf("carrier sends = %d, want 0 when log creation fails", got)
	}
}
