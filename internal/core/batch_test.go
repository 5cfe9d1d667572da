package core

import (
	"context"
	"fmt"
	"testing"

	"passcore/pkg/domain"
)

func TestUpdateManyPreservesOrderAndIsolatesFailures(t *testing.T) {
	ctx := context.Background()
	store := newCountingStore()
	var ids []string
	for i := 0; i < 6; i++ {
		id := fmt.Sprintf("submissions/s%d", i)
		sub := submission(id, false, "")
		seed(t, store, sub)
		ids = append(ids, id)
	}
	ids = append(ids[:3], append([]string{"submissions/missing"}, ids[3:]...)...)

	results := newService(store).UpdateMany(ctx, ids, false, 2)
	if len(results) != len(ids) {
		t.Fatalf("expected %d results, got %d", len(ids), len(results))
	}
	for i, res := range results {
		if res.ID != ids[i] {
			t.Fatalf("result %d is for %s, want %s", i, res.ID, ids[i])
		}
		if res.ID == "submissions/missing" {
			if !domain.IsNotFound(res.Err) {
				t.Fatalf("expected not found for missing id, got %v", res.Err)
			}
			continue
		}
		if res.Err != nil {
			t.Fatalf("update %s: %v", res.ID, res.Err)
		}
		if res.Status != "manuscript-required" {
			t.Fatalf("unexpected status %s for %s", res.Status, res.ID)
		}
	}
}

func TestUpdateManyDefaultsParallelism(t *testing.T) {
	store := newCountingStore()
	seed(t, store, submission(subID, false, ""))
	results := newService(store).UpdateMany(context.Background(), []string{subID}, false, 0)
	if len(results) != 1 || results[0].Err != nil {
		t.Fatalf("unexpected results %+v", results)
	}
	if got := newService(store).UpdateMany(context.Background(), nil, false, 3); len(got) != 0 {
		t.Fatalf("expected no results, got %+v", got)
	}
}
