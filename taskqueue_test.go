package sigtransport

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestTaskQueueRunsInOrder(t *testing.T) {
	q := NewTaskQueue(time.Second, nil, zerolog.Nop())
	ctx := context.Background()

	var mu sync.Mutex
	var order []int
	done := make(chan struct{})

	for i := 0; i < 5; i++ {
		i := i
		q.Add(ctx, func(ctx context.Context) error {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			if i == 4 {
				close(done)
			}
			return nil
		})
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for tasks to complete")
	}

	mu.Lock()
	defer mu.Unlock()
	for i, v := range order {
		if v != i {
			t.Fatalf("order = %v, want sequential 0..4", order)
		}
	}
}

func TestTaskQueueProgressEveryTen(t *testing.T) {
	var mu sync.Mutex
	var progressCounts []int
	q := NewTaskQueue(time.Second, func(count int) {
		mu.Lock()
		progressCounts = append(progressCounts, count)
		mu.Unlock()
	}, zerolog.Nop())

	ctx := context.Background()
	done := make(chan struct{})
	for i := 0; i < 10; i++ {
		i := i
		q.Add(ctx, func(ctx context.Context) error {
			if i == 9 {
				close(done)
			}
			return nil
		})
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for tasks to complete")
	}
	time.Sleep(20 * time.Millisecond) // let the progress callback for task 10 fire

	mu.Lock()
	defer mu.Unlock()
	if len(progressCounts) != 1 || progressCounts[0] != 10 {
		t.Fatalf("progressCounts = %v, want [10]", progressCounts)
	}
}

func TestTaskQueueTimeoutDoesNotBreakChain(t *testing.T) {
	q := NewTaskQueue(20*time.Millisecond, nil, zerolog.Nop())
	ctx := context.Background()

	blocked := make(chan struct{})
	q.Add(ctx, func(ctx context.Context) error {
		<-blocked // never unblocks during the test; simulates a stuck ratchet call
		return nil
	})

	ran := make(chan struct{})
	q.Add(ctx, func(ctx context.Context) error {
		close(ran)
		return nil
	})

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("second task never ran after the first timed out")
	}
}

func TestIncomingChainOrdersBeforeQueueInsertion(t *testing.T) {
	chain := NewIncomingChain()

	wait1, done1 := chain.Next()
	wait2, done2 := chain.Next()

	var mu sync.Mutex
	var order []int

	go func() {
		<-wait2
		mu.Lock()
		order = append(order, 2)
		mu.Unlock()
	}()
	go func() {
		<-wait1
		mu.Lock()
		order = append(order, 1)
		mu.Unlock()
		done1()
	}()

	done2() // entry 2 finishes decrypting before entry 1, but must still wait on wait2 closing after done1

	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Fatalf("order = %v, want [1 2]", order)
	}
}
