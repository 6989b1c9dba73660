package downloader

// NopReporter drops every event. Loops built without a reporter use it.
type NopReporter struct{}

func (NopReporter) Report(Event) {}
