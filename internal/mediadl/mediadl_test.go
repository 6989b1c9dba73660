package mediadl

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/tinoosan/devsync/internal/data"
	"github.com/tinoosan/devsync/internal/downloader"
	"github.com/tinoosan/devsync/internal/transport/memtransport"
)

const root = "internal_000"

type completion struct {
	name string
	err  error
}

// recorder is an Observer collecting callbacks in order.
type recorder struct {
	mu       sync.Mutex
	progress map[string][]uint8
	done     []completion
	doneCh   chan completion
}

func newRecorder() *recorder {
	return &recorder{progress: map[string][]uint8{}, doneCh: make(chan completion, 64)}
}

func (r *recorder) OnProgress(rec data.MediaRecord, p uint8) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress[rec.Name] = append(r.progress[rec.Name], p)
}

func (r *recorder) OnComplete(rec data.MediaRecord, err error) {
	r.mu.Lock()
	r.done = append(r.done, completion{rec.Name, err})
	r.mu.Unlock()
	r.doneCh <- completion{rec.Name, err}
}

func (r *recorder) wait(t *testing.T, n int) []completion {
	t.Helper()
	var out []completion
	for len(out) < n {
		select {
		case c := <-r.doneCh:
			out = append(out, c)
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out after %d of %d completions", len(out), n)
		}
	}
	return out
}

type fixture struct {
	mem   *memtransport.Mem
	queue *memtransport.Mem
	dl    *MediasDownloader
	local string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mem := memtransport.New()
	q := mem.Handle()
	local := t.TempDir()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	dl, err := New(log, Options{Root: root, LocalDir: local, List: mem, Queue: q, Delete: mem.Handle()})
	if err != nil {
		t.Fatal(err)
	}
	return &fixture{mem: mem, queue: q, dl: dl, local: local}
}

func (f *fixture) run(t *testing.T) <-chan error {
	t.Helper()
	errc := make(chan error, 1)
	go func() { errc <- f.dl.RunQueueLoop(testContext(t)) }()
	deadline := time.Now().Add(2 * time.Second)
	for !f.dl.Running() {
		if time.Now().After(deadline) {
			t.Fatal("queue loop did not start")
		}
		time.Sleep(time.Millisecond)
	}
	return errc
}

func (f *fixture) stop(t *testing.T, errc <-chan error) {
	t.Helper()
	_ = f.dl.CancelQueueLoop()
	select {
	case err := <-errc:
		if err != nil {
			t.Fatalf("queue loop: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("queue loop did not exit")
	}
}

func content(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i * 7)
	}
	return b
}

func TestNewCreatesMediaDir(t *testing.T) {
	f := newFixture(t)
	fi, err := os.Stat(filepath.Join(f.local, "media"))
	if err != nil || !fi.IsDir() {
		t.Fatalf("media dir: %v", err)
	}
	if _, err := New(nil, Options{LocalDir: f.local}); !errors.Is(err, data.ErrBadParameter) {
		t.Fatalf("missing handles: %v", err)
	}
}

func TestClipScenario(t *testing.T) {
	f := newFixture(t)
	clip := content(5_000_000)
	f.mem.AddFile("/internal_000/0901/media/clip_20230101_ABCDEF.mp4", clip)
	f.mem.AddFile("/internal_000/0901/thumb/clip_20230101_ABCDEF.mp4.jpg", []byte("jpg"))

	recs, err := f.dl.ListAvailableSync(testContext(t), true)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 {
		t.Fatalf("records %d", len(recs))
	}
	rec := recs[0]
	if rec.Date != "20230101" || rec.Token != "ABCDEF" || rec.Size != 5_000_000 || string(rec.Thumbnail) != "jpg" {
		t.Fatalf("record %+v", rec)
	}

	obs := newRecorder()
	if _, err := f.dl.Enqueue(rec, obs); err != nil {
		t.Fatal(err)
	}
	errc := f.run(t)
	got := obs.wait(t, 1)
	f.stop(t, errc)

	if got[0].err != nil {
		t.Fatalf("completion error %v", got[0].err)
	}
	p := obs.progress[rec.Name]
	if len(p) == 0 || p[len(p)-1] != 100 {
		t.Fatalf("progress %v", p)
	}
	for i := 1; i < len(p); i++ {
		if p[i] < p[i-1] {
			t.Fatalf("progress went backwards: %v", p)
		}
	}
	b, err := os.ReadFile(rec.FilePath)
	if err != nil || !bytes.Equal(b, clip) {
		t.Fatalf("local file mismatch: %v", err)
	}
	if _, err := os.Stat(filepath.Join(f.dl.MediaDir(), "downloading_clip_20230101_ABCDEF.mp4")); !os.IsNotExist(err) {
		t.Fatalf("partial file left: %v", err)
	}
}

func TestOneTransferAtATimeInOrder(t *testing.T) {
	f := newFixture(t)
	f.queue.ChunkSize = 512
	names := []string{"a_20230101_A.jpg", "b_20230101_B.jpg", "c_20230101_C.mp4", "d_20230101_D.jpg", "e_20230101_E.mp4"}
	for _, n := range names {
		f.mem.AddFile("/internal_000/0901/media/"+n, content(4096))
	}
	if _, err := f.dl.ListAvailableSync(testContext(t), false); err != nil {
		t.Fatal(err)
	}
	obs := newRecorder()
	errc := f.run(t)
	for _, n := range names {
		rec, err := f.dl.Record(0x0901, n)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := f.dl.Enqueue(rec, obs); err != nil {
			t.Fatal(err)
		}
	}
	got := obs.wait(t, len(names))
	f.stop(t, errc)

	for i, c := range got {
		if c.name != names[i] || c.err != nil {
			t.Fatalf("completion %d = %+v, want %s", i, c, names[i])
		}
	}
	if m := f.queue.MaxConcurrentGets(); m != 1 {
		t.Fatalf("max concurrent transfers %d", m)
	}
}

func TestFailedJobDoesNotStopWorker(t *testing.T) {
	f := newFixture(t)
	f.mem.AddFile("/internal_000/0901/media/bad.jpg", content(10))
	f.mem.AddFile("/internal_000/0901/media/good.jpg", content(10))
	f.mem.Fail("get", "/internal_000/0901/media/bad.jpg", errors.New("550 io"))
	if _, err := f.dl.ListAvailableSync(testContext(t), false); err != nil {
		t.Fatal(err)
	}
	obs := newRecorder()
	for _, rec := range f.dl.Catalog() {
		if _, err := f.dl.Enqueue(rec, obs); err != nil {
			t.Fatal(err)
		}
	}
	errc := f.run(t)
	got := obs.wait(t, 2)
	f.stop(t, errc)
	if got[0].name != "bad.jpg" || !errors.Is(got[0].err, data.ErrTransport) {
		t.Fatalf("first %+v", got[0])
	}
	if got[1].name != "good.jpg" || got[1].err != nil {
		t.Fatalf("second %+v", got[1])
	}
}

func TestCancelThenIdle(t *testing.T) {
	f := newFixture(t)
	f.queue.ChunkSize = 100
	f.queue.Hold = make(chan struct{})
	f.queue.Held = make(chan string, 1)
	for _, n := range []string{"a.mp4", "b.mp4", "c.mp4"} {
		f.mem.AddFile("/internal_000/0901/media/"+n, content(1000))
	}
	if _, err := f.dl.ListAvailableSync(testContext(t), false); err != nil {
		t.Fatal(err)
	}
	obs := newRecorder()
	for _, rec := range f.dl.Catalog() {
		if _, err := f.dl.Enqueue(rec, obs); err != nil {
			t.Fatal(err)
		}
	}
	errc := f.run(t)
	<-f.queue.Held
	f.stop(t, errc)

	got := obs.wait(t, 1)
	if got[0].name != "a.mp4" || !errors.Is(got[0].err, data.ErrCanceled) {
		t.Fatalf("in-flight job %+v", got[0])
	}
	select {
	case c := <-obs.doneCh:
		t.Fatalf("discarded job got a callback: %+v", c)
	case <-time.After(50 * time.Millisecond):
	}
	if f.dl.Pending() != 0 || f.dl.Running() {
		t.Fatalf("not idle: pending=%d running=%v", f.dl.Pending(), f.dl.Running())
	}
	if _, err := os.Stat(filepath.Join(f.dl.MediaDir(), "downloading_a.mp4")); err != nil {
		t.Fatalf("partial not kept: %v", err)
	}

	// the next run resumes the partial file
	f.queue.Hold = nil
	rec, _ := f.dl.Record(0x0901, "a.mp4")
	if _, err := f.dl.Enqueue(rec, obs); err != nil {
		t.Fatal(err)
	}
	errc = f.run(t)
	got = obs.wait(t, 1)
	f.stop(t, errc)
	if got[0].err != nil {
		t.Fatalf("resume: %v", got[0].err)
	}
	b, _ := os.ReadFile(rec.FilePath)
	if !bytes.Equal(b, content(1000)) {
		t.Fatalf("resumed file differs")
	}
}

func TestCancelBeforeStartIsConsumed(t *testing.T) {
	f := newFixture(t)
	if err := f.dl.CancelQueueLoop(); err != nil {
		t.Fatal(err)
	}
	if err := f.dl.RunQueueLoop(testContext(t)); !errors.Is(err, data.ErrCanceled) {
		t.Fatalf("want ErrCanceled, got %v", err)
	}
	f.mem.AddFile("/internal_000/0901/media/x.jpg", content(10))
	if _, err := f.dl.ListAvailableSync(testContext(t), false); err != nil {
		t.Fatal(err)
	}
	obs := newRecorder()
	rec, _ := f.dl.Record(0x0901, "x.jpg")
	if _, err := f.dl.Enqueue(rec, obs); err != nil {
		t.Fatal(err)
	}
	errc := f.run(t)
	got := obs.wait(t, 1)
	f.stop(t, errc)
	if got[0].err != nil {
		t.Fatalf("second run: %v", got[0].err)
	}
}

func TestRunGuards(t *testing.T) {
	f := newFixture(t)
	errc := f.run(t)
	if err := f.dl.RunQueueLoop(testContext(t)); !errors.Is(err, data.ErrThreadAlreadyRunning) {
		t.Fatalf("second run: %v", err)
	}
	if err := f.dl.Delete(); !errors.Is(err, data.ErrThreadProcessing) {
		t.Fatalf("delete while running: %v", err)
	}
	f.stop(t, errc)
	if err := f.dl.Delete(); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := f.dl.Enqueue(data.MediaRecord{Name: "x"}, nil); !errors.Is(err, data.ErrNotInitialized) {
		t.Fatalf("enqueue after delete: %v", err)
	}
}

// A second RunQueueLoop while the first is busy must leave the pending
// cancel to the running loop.
func TestCancelSurvivesConcurrentRun(t *testing.T) {
	f := newFixture(t)
	f.mem.AddFile("/internal_000/0901/media/x.jpg", content(10))
	if _, err := f.dl.ListAvailableSync(testContext(t), false); err != nil {
		t.Fatal(err)
	}
	entered := make(chan struct{}, 1)
	gate := make(chan struct{})
	obs := downloader.ObserverFuncs{Complete: func(data.MediaRecord, error) {
		entered <- struct{}{}
		<-gate
	}}
	rec, _ := f.dl.Record(0x0901, "x.jpg")
	if _, err := f.dl.Enqueue(rec, obs); err != nil {
		t.Fatal(err)
	}
	errc := f.run(t)
	select {
	case <-entered:
	case <-time.After(5 * time.Second):
		t.Fatal("job did not complete")
	}
	if err := f.dl.CancelQueueLoop(); err != nil {
		t.Fatal(err)
	}
	if err := f.dl.RunQueueLoop(testContext(t)); !errors.Is(err, data.ErrThreadAlreadyRunning) {
		t.Fatalf("second run: %v", err)
	}
	close(gate)
	select {
	case err := <-errc:
		if err != nil {
			t.Fatalf("queue loop: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("cancel lost: queue loop still running")
	}
	if f.dl.Running() {
		t.Fatal("still marked running")
	}
}

func TestEventsReported(t *testing.T) {
	mem := memtransport.New()
	mem.AddFile("/internal_000/0901/media/x.jpg", content(10))
	ch := make(chan downloader.Event, 64)
	dl, err := New(nil, Options{Root: root, LocalDir: t.TempDir(), List: mem, Queue: mem.Handle(), Delete: mem.Handle(), Reporter: downloader.NewChanReporter(ch)})
	if err != nil {
		t.Fatal(err)
	}
	f := &fixture{mem: mem, dl: dl}
	if _, err := dl.ListAvailableSync(testContext(t), false); err != nil {
		t.Fatal(err)
	}
	obs := newRecorder()
	rec, _ := dl.Record(0x0901, "x.jpg")
	id, err := dl.Enqueue(rec, obs)
	if err != nil {
		t.Fatal(err)
	}
	errc := f.run(t)
	obs.wait(t, 1)
	f.stop(t, errc)
	close(ch)
	var types []downloader.EventType
	for e := range ch {
		if e.ID != id || e.Kind != data.KindMedia || e.Product != "0901" {
			t.Fatalf("unexpected event %+v", e)
		}
		types = append(types, e.Type)
	}
	if types[0] != downloader.EventQueued || types[1] != downloader.EventStart || types[len(types)-1] != downloader.EventComplete {
		t.Fatalf("event order %v", types)
	}
}

func TestDeleteRecord(t *testing.T) {
	f := newFixture(t)
	f.mem.AddFile("/internal_000/0901/media/x.jpg", content(10))
	if _, err := f.dl.ListAvailableSync(testContext(t), false); err != nil {
		t.Fatal(err)
	}
	if err := f.dl.DeleteRecord(testContext(t), 0x0901, "missing.jpg"); !errors.Is(err, data.ErrNotFound) {
		t.Fatalf("missing: %v", err)
	}
	if err := f.dl.DeleteRecord(testContext(t), 0x0901, "x.jpg"); err != nil {
		t.Fatal(err)
	}
	if len(f.dl.Catalog()) != 0 {
		t.Fatalf("catalog not updated")
	}
	f.dl.FreeCatalog()
	if _, err := f.dl.ListAvailableSync(testContext(t), false); err != nil {
		t.Fatalf("relist: %v", err)
	}
}
