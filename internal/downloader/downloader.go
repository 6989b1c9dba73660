// Package downloader carries what the transfer loops report: per-job
// observer callbacks to the caller and events to the rest of the service.
package downloader

import "github.com/tinoosan/devsync/internal/data"

// Observer receives the outcome of one queued media job. OnProgress may be
// called many times; OnComplete is called exactly once, last.
type Observer interface {
	OnProgress(rec data.MediaRecord, percent uint8)
	OnComplete(rec data.MediaRecord, err error)
}

// ObserverFuncs adapts plain functions to Observer. Nil fields are skipped.
type ObserverFuncs struct {
	Progress func(rec data.MediaRecord, percent uint8)
	Complete func(rec data.MediaRecord, err error)
}

func (o ObserverFuncs) OnProgress(rec data.MediaRecord, percent uint8) {
	if o.Progress != nil {
		o.Progress(rec, percent)
	}
}

func (o ObserverFuncs) OnComplete(rec data.MediaRecord, err error) {
	if o.Complete != nil {
		o.Complete(rec, err)
	}
}

// FileCallback receives the outcome of one file handled by the data poller.
type FileCallback func(name string, err error)
