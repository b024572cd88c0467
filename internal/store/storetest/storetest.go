// Package storetest holds the behavioural checks every store.Store backend
// must pass.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/geddydukes/portfolio/internal/store"
)

// Run exercises s. Each subtest uses its own keys so s can be shared.
func Run(t *testing.T, s store.Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("Ping", func(t *testing.T) {
		if err := s.Ping(ctx); err != nil {
			t.Fatalf("Ping: %v", err)
		}
	})

	t.Run("HashIncr", func(t *testing.T) {
		for i := int64(1); i <= 3; i++ {
			got, err := s.HashIncr(ctx, "t:hash", "page:home", 1)
			if err != nil {
				t.Fatalf("HashIncr: %v", err)
			}
			if got != i {
				t.Errorf("HashIncr #%d = %d, want %d", i, got, i)
			}
		}
		if _, err := s.HashIncr(ctx, "t:hash", "blog:x", 5); err != nil {
			t.Fatalf("HashIncr: %v", err)
		}

		all, err := s.HashGetAll(ctx, "t:hash")
		if err != nil {
			t.Fatalf("HashGetAll: %v", err)
		}
		if len(all) != 2 || all["page:home"] != 3 || all["blog:x"] != 5 {
			t.Errorf("HashGetAll = %v, want map[blog:x:5 page:home:3]", all)
		}
	})

	t.Run("HashGetAllMissing", func(t *testing.T) {
		all, err := s.HashGetAll(ctx, "t:hash:missing")
		if err != nil {
			t.Fatalf("HashGetAll: %v", err)
		}
		if len(all) != 0 {
			t.Errorf("HashGetAll(missing) = %v, want empty", all)
		}
	})

	t.Run("SetAdd", func(t *testing.T) {
		added, err := s.SetAdd(ctx, "t:set", "v1")
		if err != nil || !added {
			t.Fatalf("first SetAdd = %v, %v; want true, nil", added, err)
		}
		added, err = s.SetAdd(ctx, "t:set", "v1")
		if err != nil || added {
			t.Fatalf("repeat SetAdd = %v, %v; want false, nil", added, err)
		}
		if _, err := s.SetAdd(ctx, "t:set", "v2"); err != nil {
			t.Fatalf("SetAdd: %v", err)
		}
		n, err := s.SetCard(ctx, "t:set")
		if err != nil {
			t.Fatalf("SetCard: %v", err)
		}
		if n != 2 {
			t.Errorf("SetCard = %d, want 2", n)
		}
		if n, _ := s.SetCard(ctx, "t:set:missing"); n != 0 {
			t.Errorf("SetCard(missing) = %d, want 0", n)
		}
	})

	t.Run("PushBounded", func(t *testing.T) {
		for i := 0; i < 7; i++ {
			if err := s.PushBounded(ctx, "t:list", []byte(fmt.Sprintf("item-%d", i)), 5); err != nil {
				t.Fatalf("PushBounded: %v", err)
			}
		}
		all, err := s.ListRange(ctx, "t:list", 100)
		if err != nil {
			t.Fatalf("ListRange: %v", err)
		}
		if len(all) != 5 {
			t.Fatalf("list length = %d, want 5", len(all))
		}
		for i, item := range all {
			want := fmt.Sprintf("item-%d", 6-i)
			if string(item) != want {
				t.Errorf("entry %d = %q, want %q", i, item, want)
			}
		}

		head, err := s.ListRange(ctx, "t:list", 2)
		if err != nil {
			t.Fatalf("ListRange: %v", err)
		}
		if len(head) != 2 || string(head[0]) != "item-6" || string(head[1]) != "item-5" {
			t.Errorf("ListRange(2) = %q, want [item-6 item-5]", head)
		}

		empty, err := s.ListRange(ctx, "t:list:missing", 10)
		if err != nil {
			t.Fatalf("ListRange(missing): %v", err)
		}
		if len(empty) != 0 {
			t.Errorf("ListRange(missing) = %q, want empty", empty)
		}
	})

	t.Run("ConcurrentIncrements", func(t *testing.T) {
		const writers, each = 8, 25
		var wg sync.WaitGroup
		errs := make(chan error, writers)
		for w := 0; w < writers; w++ {
			wg.Add(1)
			go func(w int) {
				defer wg.Done()
				for i := 0; i < each; i++ {
					if _, err := s.HashIncr(ctx, "t:concurrent", "page:home", 1); err != nil {
						errs <- err
						return
					}
					if _, err := s.SetAdd(ctx, "t:concurrent:set", fmt.Sprintf("%d-%d", w, i%5)); err != nil {
						errs <- err
						return
					}
				}
			}(w)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			t.Fatalf("concurrent write: %v", err)
		}

		all, err := s.HashGetAll(ctx, "t:concurrent")
		if err != nil {
			t.Fatalf("HashGetAll: %v", err)
		}
		if all["page:home"] != writers*each {
			t.Errorf("counter = %d, want %d", all["page:home"], writers*each)
		}
		n, err := s.SetCard(ctx, "t:concurrent:set")
		if err != nil {
			t.Fatalf("SetCard: %v", err)
		}
		if n != writers*5 {
			t.Errorf("SetCard = %d, want %d", n, writers*5)
		}
	})
}
