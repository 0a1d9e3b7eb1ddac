package ledger_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/lzjever/ledgerseal/internal/core"
	"github.com/lzjever/ledgerseal/internal/ledger"
	"github.com/lzjever/ledgerseal/internal/store/memstore"
)

func fixedClock() func() time.Time {
	var mu sync.Mutex
	t := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Second)
		return t
	}
}

func appendN(t *testing.T, l *ledger.Ledger, tenant string, n int) []core.AuditEvent {
	t.Helper()
	out := make([]core.AuditEvent, 0, n)
	for i := 0; i < n; i++ {
		evt, err := l.Append(context.Background(), ledger.AppendInput{
			TenantID:   tenant,
			ActorID:    "user-1",
			ActorRole:  "admin",
			Action:     "quote.updated",
			TargetType: "quote",
			TargetID:   fmt.Sprintf("q-%d", i),
			After:      json.RawMessage(fmt.Sprintf(`{"n":%d}`, i)),
		})
		if err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
		out = append(out, evt)
	}
	return out
}

func TestAppendLinksToPreviousHash(t *testing.T) {
	l := ledger.New(memstore.New(), nil, ledger.WithClock(fixedClock()))
	events := appendN(t, l, "t1", 3)

	if events[0].PreviousHash != ledger.GenesisHash {
		t.Fatalf("first event previous hash = %s", events[0].PreviousHash)
	}
	for i := 1; i < len(events); i++ {
		if events[i].PreviousHash != events[i-1].Hash {
			t.Fatalf("event %d not linked", i)
		}
		if events[i].Seq != int64(i+1) {
			t.Fatalf("event %d seq = %d", i, events[i].Seq)
		}
	}
	if !ledger.VerifyChain(events) {
		t.Fatal("fresh chain does not verify")
	}
}

func TestChainsAreIndependentPerTenant(t *testing.T) {
	l := ledger.New(memstore.New(), nil)
	a := appendN(t, l, "a", 2)
	b := appendN(t, l, "b", 1)
	if b[0].PreviousHash != ledger.GenesisHash || b[0].Seq != 1 {
		t.Fatalf("tenant b not rooted at genesis: %+v", b[0])
	}
	if a[1].PreviousHash != a[0].Hash {
		t.Fatal("tenant a chain not linked")
	}
}

func TestVerifyEmptyChain(t *testing.T) {
	if !ledger.VerifyChain(nil) {
		t.Fatal("empty chain must verify")
	}
	l := ledger.New(memstore.New(), nil)
	res, err := l.Verify(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !res.Valid || res.EventsChecked != 0 || res.HeadHash != ledger.GenesisHash {
		t.Fatalf("empty verification = %+v", res)
	}
}

func TestTamperBreaksChainFromThatEvent(t *testing.T) {
	l := ledger.New(memstore.New(), nil, ledger.WithClock(fixedClock()))
	events := appendN(t, l, "t1", 5)

	tampered := append([]core.AuditEvent(nil), events...)
	tampered[2].After = json.RawMessage(`{"n":999}`)

	res := ledger.VerifySegment(tampered, ledger.GenesisHash)
	if res.Valid {
		t.Fatal("tampered chain verified")
	}
	if res.BrokenAt != 3 || res.BrokenEventID != events[2].ID || res.EventsChecked != 2 {
		t.Fatalf("verification = %+v", res)
	}

	// Rehashing the tampered event moves the break to its successor.
	tampered[2].Hash, _ = ledger.ComputeEventHash(tampered[2])
	res = ledger.VerifySegment(tampered, ledger.GenesisHash)
	if res.Valid || res.BrokenAt != 4 {
		t.Fatalf("rehash verification = %+v", res)
	}
}

func TestTamperWithLargeIntegerBreaksChain(t *testing.T) {
	l := ledger.New(memstore.New(), nil, ledger.WithClock(fixedClock()))
	evt, err := l.Append(context.Background(), ledger.AppendInput{
		TenantID: "t1", ActorID: "user-1", Action: "payment.captured", TargetType: "payment", TargetID: "p-1",
		After: json.RawMessage(`{"amount_minor":9007199254740993}`),
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if !ledger.VerifyChain([]core.AuditEvent{evt}) {
		t.Fatal("fresh event does not verify")
	}

	evt.After = json.RawMessage(`{"amount_minor":9007199254740992}`)
	if ledger.VerifyChain([]core.AuditEvent{evt}) {
		t.Fatal("snapshot with a rewritten large integer still verifies")
	}
}

func TestVerifyDetectsReorderAndDeletion(t *testing.T) {
	l := ledger.New(memstore.New(), nil)
	events := appendN(t, l, "t1", 4)

	reordered := []core.AuditEvent{events[0], events[2], events[1], events[3]}
	if ledger.VerifyChain(reordered) {
		t.Fatal("reordered chain verified")
	}
	deleted := []core.AuditEvent{events[0], events[1], events[3]}
	if ledger.VerifyChain(deleted) {
		t.Fatal("chain with a deleted event verified")
	}
	if !ledger.VerifySegment(events[2:], events[1].Hash).Valid {
		t.Fatal("segment with correct anchor did not verify")
	}
}

func TestStoredVerifyPagesThroughChain(t *testing.T) {
	st := memstore.New()
	l := ledger.New(st, nil)
	n := ledger.VerifyPageSize + 7
	appendN(t, l, "t1", n)

	res, err := l.Verify(context.Background(), "t1")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !res.Valid || res.EventsChecked != n {
		t.Fatalf("verification = %+v", res)
	}

	if err := st.OverwriteEvent("t1", int64(ledger.VerifyPageSize+3), func(e *core.AuditEvent) {
		e.ActorID = "intruder"
	}); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	res, err = l.Verify(context.Background(), "t1")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if res.Valid || res.BrokenAt != int64(ledger.VerifyPageSize+3) || res.EventsChecked != ledger.VerifyPageSize+2 {
		t.Fatalf("verification = %+v", res)
	}
}

func TestConcurrentAppendsKeepChainLinear(t *testing.T) {
	l := ledger.New(memstore.New(), nil)
	const workers, perWorker = 8, 25

	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				_, err := l.Append(context.Background(), ledger.AppendInput{
					TenantID: "t1", ActorID: fmt.Sprintf("w%d", w), Action: "row.updated", TargetType: "row",
				})
				if err != nil {
					errs <- err
					return
				}
			}
		}(w)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("append: %v", err)
	}

	res, err := l.Verify(context.Background(), "t1")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !res.Valid || res.EventsChecked != workers*perWorker {
		t.Fatalf("verification = %+v", res)
	}
	head, _ := l.Head(context.Background(), "t1")
	if head.Seq != workers*perWorker {
		t.Fatalf("head seq = %d", head.Seq)
	}
}

func TestAppendValidation(t *testing.T) {
	l := ledger.New(memstore.New(), nil)
	cases := map[string]ledger.AppendInput{
		"tenant": {ActorID: "a", Action: "x", TargetType: "y"},
		"actor":  {TenantID: "t", Action: "x", TargetType: "y"},
		"action": {TenantID: "t", ActorID: "a", TargetType: "y"},
		"target": {TenantID: "t", ActorID: "a", Action: "x"},
		"before": {TenantID: "t", ActorID: "a", Action: "x", TargetType: "y", Before: json.RawMessage(`{`)},
	}
	for name, in := range cases {
		if _, err := l.Append(context.Background(), in); !core.IsValidation(err) {
			t.Errorf("%s: expected validation error, got %v", name, err)
		}
	}
}

func TestComputeEventHashIgnoresKeyOrderInSnapshots(t *testing.T) {
	base := core.AuditEvent{ID: "e1", TenantID: "t", Seq: 1, Action: "a", PreviousHash: ledger.GenesisHash,
		After: json.RawMessage(`{"a":1,"b":2}`)}
	other := base
	other.After = json.RawMessage(`{ "b": 2, "a": 1 }`)
	h1, err := ledger.ComputeEventHash(base)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	h2, _ := ledger.ComputeEventHash(other)
	if h1 != h2 {
		t.Fatal("snapshot key order changed the hash")
	}

	base.Hash = "ignored"
	if h3, _ := ledger.ComputeEventHash(base); h3 != h1 {
		t.Fatal("stored hash field leaked into the hash input")
	}
}

func TestGetUnknownEvent(t *testing.T) {
	l := ledger.New(memstore.New(), nil)
	if _, err := l.Get(context.Background(), "t1", "missing"); !errors.Is(err, core.ErrRecordNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
