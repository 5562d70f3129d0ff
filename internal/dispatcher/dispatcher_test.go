package dispatcher

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type reply struct {
	id     int
	result any
	err    error
}

func collectReplies() (ReplyFunc, func() []reply) {
	var mu sync.Mutex
	var got []reply
	return func(id int, result any, err error) {
			mu.Lock()
			defer mu.Unlock()
			got = append(got, reply{id, result, err})
		}, func() []reply {
			mu.Lock()
			defer mu.Unlock()
			out := make([]reply, len(got))
			copy(out, got)
			return out
		}
}

func TestDispatchRunsRegisteredHandler(t *testing.T) {
	fn, replies := collectReplies()
	d := New(fn, 8)
	d.Register("ping", func(ctx context.Context, req Request) (any, error) {
		return "pong", nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	id := 1
	d.Dispatch(Request{ID: &id, Method: "ping"})

	require.Eventually(t, func() bool { return len(replies()) == 1 }, time.Second, time.Millisecond)
	r := replies()[0]
	require.NoError(t, r.err)
	require.Equal(t, "pong", r.result)
}

func TestUnknownMethodRepliesWithError(t *testing.T) {
	fn, replies := collectReplies()
	d := New(fn, 8)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	id := 1
	d.Dispatch(Request{ID: &id, Method: "does/not/exist"})

	require.Eventually(t, func() bool { return len(replies()) == 1 }, time.Second, time.Millisecond)
	require.Error(t, replies()[0].err)
}

func TestPanicInHandlerIsRecoveredAndReported(t *testing.T) {
	fn, replies := collectReplies()
	d := New(fn, 8)
	d.Register("boom", func(ctx context.Context, req Request) (any, error) {
		panic("kaboom")
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	id := 1
	d.Dispatch(Request{ID: &id, Method: "boom"})

	require.Eventually(t, func() bool { return len(replies()) == 1 }, time.Second, time.Millisecond)
	require.Error(t, replies()[0].err)
}

func TestCancelRequestCancelsHandlerContext(t *testing.T) {
	fn, replies := collectReplies()
	d := New(fn, 8)

	cancelled := make(chan struct{})
	d.Register("slow", func(ctx context.Context, req Request) (any, error) {
		<-ctx.Done()
		close(cancelled)
		return nil, ctx.Err()
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	id := 42
	d.Dispatch(Request{ID: &id, Method: "slow"})
	d.Dispatch(Request{Method: "$/cancelRequest", Params: map[string]any{"id": float64(42)}})

	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("handler was not cancelled")
	}
	require.Eventually(t, func() bool { return len(replies()) == 1 }, time.Second, time.Millisecond)
}

func TestNotificationsGetNoReply(t *testing.T) {
	fn, replies := collectReplies()
	d := New(fn, 8)
	var ran bool
	var mu sync.Mutex
	d.Register("textDocument/didOpen", func(ctx context.Context, req Request) (any, error) {
		mu.Lock()
		ran = true
		mu.Unlock()
		return nil, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	d.Dispatch(Request{Method: "textDocument/didOpen"})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return ran
	}, time.Second, time.Millisecond)
	require.Empty(t, replies())
}
