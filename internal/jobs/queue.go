package jobs

import (
	"context"
	"sync"
)

// TaskHandler はキューから取り出した Task を処理します。
type TaskHandler func(ctx context.Context, task Task) error

// Queue はリクエスト層とワーカーの間の作業キューです。
type Queue interface {
	// Enqueue は呼び出し側をブロックせず、Task を取りこぼしません。
	Enqueue(ctx context.Context, task Task) error
	// Consume は concurrency 個の消費者で Task を処理し、ctx 終了まで戻りません。
	// 各 Task はちょうど1つの消費者にだけ渡されます。
	Consume(ctx context.Context, concurrency int, handle TaskHandler) error
	Close() error
}

// MemoryQueue は上限なしの FIFO キューです。
type MemoryQueue struct {
	mu     sync.Mutex
	items  []Task
	wake   chan struct{}
	closed bool
}

// NewMemoryQueue は MemoryQueue を作成します。
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{wake: make(chan struct{}, 1)}
}

// Enqueue は末尾に Task を追加します。
func (q *MemoryQueue) Enqueue(ctx context.Context, task Task) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	q.items = append(q.items, task)
	q.mu.Unlock()

	q.signal()
	return nil
}

// Dequeue は先頭の Task を取り出します。空なら追加されるか ctx が終わるまで待ちます。
func (q *MemoryQueue) Dequeue(ctx context.Context) (Task, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			task := q.items[0]
			q.items[0] = Task{}
			q.items = q.items[1:]
			remaining := len(q.items)
			q.mu.Unlock()
			// 他の待機者にも残りがあることを知らせる
			if remaining > 0 {
				q.signal()
			}
			return task, nil
		}
		if q.closed {
			q.mu.Unlock()
			q.signal()
			return Task{}, ErrQueueClosed
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return Task{}, ctx.Err()
		case <-q.wake:
		}
	}
}

// Len は待機中の Task 数を返します。
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Consume は concurrency 個のゴルーチンで Dequeue→handle を繰り返します。
// 処理中の Task は ctx 終了後も最後まで実行されます。
func (q *MemoryQueue) Consume(ctx context.Context, concurrency int, handle TaskHandler) error {
	if concurrency < 1 {
		concurrency = 1
	}
	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				task, err := q.Dequeue(ctx)
				if err != nil {
					return
				}
				_ = handle(context.WithoutCancel(ctx), task)
			}
		}()
	}
	wg.Wait()
	return ctx.Err()
}

// Close 以降の Enqueue は失敗し、空になった時点で消費者は終了します。
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.signal()
	return nil
}

func (q *MemoryQueue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}
