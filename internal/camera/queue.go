package camera

import (
	"sync"
)

// Dispatcher は作業単位を特定の実行コンテキストへ送る
type Dispatcher interface {
	Async(work func())
}

// SerialQueue は単一ゴルーチンで作業を投入順に実行するキュー
type SerialQueue struct {
	name   string
	workCh chan func()

	closeOnce sync.Once
	quitCh    chan struct{}
	doneCh    chan struct{}
}

// NewSerialQueue は新しいSerialQueueを作成して消費ゴルーチンを開始する
func NewSerialQueue(name string, size int) *SerialQueue {
	if size <= 0 {
		size = 64
	}

	q := &SerialQueue{
		name:   name,
		workCh: make(chan func(), size),
		quitCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}

	go q.run()

	return q
}

// Name はキュー名を返す
func (q *SerialQueue) Name() string {
	return q.name
}

// Async は作業を末尾に追加する。バッファが満杯の間だけブロックする。
// Close後の投入は破棄される
func (q *SerialQueue) Async(work func()) {
	select {
	case <-q.quitCh:
		return
	default:
	}

	select {
	case q.workCh <- work:
	case <-q.quitCh:
	}
}

// Sync は作業を追加し、その完了まで待つ。キュー上の作業から呼んではならない
func (q *SerialQueue) Sync(work func()) {
	done := make(chan struct{})
	q.Async(func() {
		defer close(done)
		work()
	})

	select {
	case <-done:
	case <-q.doneCh:
	}
}

// Close は新規投入を止め、投入済みの作業をすべて実行してから戻る
func (q *SerialQueue) Close() {
	q.closeOnce.Do(func() {
		close(q.quitCh)
	})
	<-q.doneCh
}

// run はキューの作業を順番に実行する
func (q *SerialQueue) run() {
	defer close(q.doneCh)

	for {
		select {
		case work := <-q.workCh:
			work()
		case <-q.quitCh:
			// 残りを排出して終了
			for {
				select {
				case work := <-q.workCh:
					work()
				default:
					return
				}
			}
		}
	}
}

// ResourceToken は長時間処理の間保持される資源。Release は何度呼んでも1回分として扱う
type ResourceToken interface {
	Release()
}

// BackgroundTasks は録画などの長時間処理の生存期間を追跡する
type BackgroundTasks struct {
	mu     sync.Mutex
	active int
	idle   chan struct{} // active が0になると閉じる
}

// Begin はトークンを取得する
func (b *BackgroundTasks) Begin() ResourceToken {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.active == 0 {
		b.idle = make(chan struct{})
	}
	b.active++
	return &backgroundToken{tasks: b}
}

// Wait は全トークンが解放されると閉じるチャネルを返す
func (b *BackgroundTasks) Wait() <-chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.active == 0 {
		done := make(chan struct{})
		close(done)
		return done
	}
	return b.idle
}

func (b *BackgroundTasks) release() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.active--
	if b.active == 0 {
		close(b.idle)
	}
}

type backgroundToken struct {
	once  sync.Once
	tasks *BackgroundTasks
}

func (t *backgroundToken) Release() {
	t.once.Do(t.tasks.release)
}
