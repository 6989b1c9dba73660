package v1_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/tinoosan/devsync/internal/data"
	"github.com/tinoosan/devsync/internal/datadl"
	"github.com/tinoosan/devsync/internal/downloader"
	"github.com/tinoosan/devsync/internal/hub"
	"github.com/tinoosan/devsync/internal/manager"
	"github.com/tinoosan/devsync/internal/mediadl"
	"github.com/tinoosan/devsync/internal/repo"
	"github.com/tinoosan/devsync/internal/router"
	"github.com/tinoosan/devsync/internal/service"
	"github.com/tinoosan/devsync/internal/transport/memtransport"
)

const (
	testToken = "testtoken"
	clip      = "clip_20230101_ABCDEF.mp4"
)

type fixture struct {
	h    http.Handler
	repo *repo.InMemoryTransferRepo
	hub  *hub.Hub
	mem  *memtransport.Mem
}

func setup(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mem := memtransport.New()
	mem.AddFile("/internal_000/0901/media/"+clip, make([]byte, 5000))
	mem.AddFile("/0901/academy/a.pud", []byte("a"))
	mgr := manager.New(logger)
	local := t.TempDir()
	if _, err := mgr.NewMedia(mediadl.Options{Root: "internal_000", LocalDir: local, List: mem.Handle(), Queue: mem.Handle(), Delete: mem.Handle()}); err != nil {
		t.Fatal(err)
	}
	if _, err := mgr.NewData(datadl.Options{RemoteDir: "/", LocalDir: local, List: mem.Handle(), Data: mem.Handle()}); err != nil {
		t.Fatal(err)
	}
	rpo := repo.NewInMemoryTransferRepo()
	events := hub.New(logger)
	svc := service.NewMedia(mgr, rpo)
	return &fixture{h: router.New(logger, svc, events, testToken), repo: rpo, hub: events, mem: mem}
}

func (f *fixture) do(t *testing.T, method, target string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	req.Header.Set("Authorization", "Bearer "+testToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	f.h.ServeHTTP(rr, req)
	return rr
}

func TestMediaLifecycle(t *testing.T) {
	f := setup(t)

	rr := f.do(t, http.MethodGet, "/v1/media", nil)
	if rr.Code != http.StatusOK || strings.TrimSpace(rr.Body.String()) != "[]" {
		t.Fatalf("empty catalog: %d %q", rr.Code, rr.Body.String())
	}

	rr = f.do(t, http.MethodPost, "/v1/media/refresh?thumbnails=false", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("refresh: %d %s", rr.Code, rr.Body.String())
	}
	var entries []service.CatalogEntry
	if err := json.Unmarshal(rr.Body.Bytes(), &entries); err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name != clip || entries[0].Date != "20230101" || entries[0].Token != "ABCDEF" {
		t.Fatalf("unexpected entries %+v", entries)
	}

	rr = f.do(t, http.MethodPost, "/v1/queue", []byte(`{"product":"0901","name":"`+clip+`"}`))
	if rr.Code != http.StatusAccepted {
		t.Fatalf("enqueue: %d %s", rr.Code, rr.Body.String())
	}
	var out map[string]string
	_ = json.Unmarshal(rr.Body.Bytes(), &out)
	if out["id"] == "" || rr.Header().Get("Location") != "/v1/transfers/"+out["id"] {
		t.Fatalf("enqueue response %v %q", out, rr.Header().Get("Location"))
	}

	rr = f.do(t, http.MethodGet, "/v1/queue", nil)
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"pending":1`) {
		t.Fatalf("queue: %d %s", rr.Code, rr.Body.String())
	}

	rr = f.do(t, http.MethodDelete, "/v1/media/0901/"+clip, nil)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("delete: %d %s", rr.Code, rr.Body.String())
	}
	rr = f.do(t, http.MethodDelete, "/v1/media/0901/"+clip, nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("second delete: %d", rr.Code)
	}
}

func TestEnqueueValidation(t *testing.T) {
	f := setup(t)
	cases := []struct {
		body string
		want int
	}{
		{`{"name":"x.jpg"}`, http.StatusBadRequest},
		{`{"product":"0901"}`, http.StatusBadRequest},
		{`{"product":"0901","name":"x.jpg","extra":1}`, http.StatusBadRequest},
		{`{"product":"zzzz","name":"x.jpg"}`, http.StatusBadRequest},
		{`{"product":"0901","name":"missing.jpg"}`, http.StatusNotFound},
	}
	for _, c := range cases {
		rr := f.do(t, http.MethodPost, "/v1/queue", []byte(c.body))
		if rr.Code != c.want {
			t.Errorf("%s: got %d want %d", c.body, rr.Code, c.want)
		}
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/queue", strings.NewReader(`{}`))
	req.Header.Set("Authorization", "Bearer "+testToken)
	req.Header.Set("Content-Type", "text/plain")
	rr := httptest.NewRecorder()
	f.h.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("content type: %d", rr.Code)
	}
}

func TestTransfers(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	if _, err := f.repo.Add(ctx, &data.TransferRecord{ID: "t1", Kind: data.KindData, Name: "a.pud", Status: data.StatusComplete, Percent: 100}); err != nil {
		t.Fatal(err)
	}
	rr := f.do(t, http.MethodGet, "/v1/transfers", nil)
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"id":"t1"`) {
		t.Fatalf("list: %d %s", rr.Code, rr.Body.String())
	}
	rr = f.do(t, http.MethodGet, "/v1/transfers/t1", nil)
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"status":"Complete"`) {
		t.Fatalf("get: %d %s", rr.Code, rr.Body.String())
	}
	rr = f.do(t, http.MethodGet, "/v1/transfers/nope", nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("missing: %d", rr.Code)
	}
}

func TestDataFilesAndCancel(t *testing.T) {
	f := setup(t)
	rr := f.do(t, http.MethodGet, "/v1/data/files", nil)
	if rr.Code != http.StatusOK || strings.TrimSpace(rr.Body.String()) != `{"count":1}` {
		t.Fatalf("files: %d %s", rr.Code, rr.Body.String())
	}
	rr = f.do(t, http.MethodPost, "/v1/queue/cancel", nil)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("cancel: %d", rr.Code)
	}
}

func TestEventStream(t *testing.T) {
	f := setup(t)
	srv := httptest.NewServer(f.h)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	msgs, err := hub.Watch(ctx, srv.URL, testToken)
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	for f.hub.Len() == 0 {
		select {
		case <-ctx.Done():
			t.Fatal("subscriber never registered")
		case <-time.After(5 * time.Millisecond):
		}
	}
	f.hub.Publish(downloader.Event{ID: "e1", Kind: data.KindMedia, Type: downloader.EventProgress, Name: clip, Progress: &downloader.Progress{Percent: 30}})
	select {
	case m := <-msgs:
		if m.ID != "e1" || m.Percent != 30 || m.Type != "Progress" {
			t.Fatalf("unexpected message %+v", m)
		}
	case <-ctx.Done():
		t.Fatal("no message received")
	}
}

func TestEventStreamRequiresToken(t *testing.T) {
	f := setup(t)
	srv := httptest.NewServer(f.h)
	defer srv.Close()
	if _, err := hub.Watch(context.Background(), srv.URL, "wrong"); err == nil {
		t.Fatal("expected dial to fail")
	}
}
