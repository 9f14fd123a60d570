package metrics

import (
	"sync"
	"testing"
	"time"
)

type fakeBackend struct {
	mu       sync.Mutex
	counters map[string]float64
	observed map[string]int
}

func newFake() *fakeBackend {
	return &fakeBackend{counters: map[string]float64{}, observed: map[string]int{}}
}

func (f *fakeBackend) IncCounter(name string, delta float64, labels Labels) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counters[name+"/"+labels["direction"]+"/"+labels["kind"]+labels["status"]] += delta
}

func (f *fakeBackend) ObserveHistogram(name string, value float64, labels Labels) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.observed[name]++
}

func (f *fakeBackend) Flush() error { return nil }

func TestRecorders(t *testing.T) {
	f := newFake()
	SetBackend(f)
	defer SetBackend(nil)

	RecordRows("FILE_TO_DB", KindWritten, 997)
	RecordRows("FILE_TO_DB", KindParseErrors, 3)
	RecordRows("FILE_TO_DB", KindParseErrors, 0) // ignored
	RecordBatches("FILE_TO_DB", 1)
	RecordTransfer("FILE_TO_DB", "DONE", time.Second)

	tests := []struct {
		key  string
		want float64
	}{
		{RowsTotal + "/FILE_TO_DB/written", 997},
		{RowsTotal + "/FILE_TO_DB/parse_errors", 3},
		{BatchesTotal + "/FILE_TO_DB/", 1},
		{TransfersTotal + "/FILE_TO_DB/DONE", 1},
	}
	for _, tt := range tests {
		if got := f.counters[tt.key]; got != tt.want {
			t.Errorf("%s = %v, want %v", tt.key, got, tt.want)
		}
	}
	if f.observed[TransferSeconds] != 1 {
		t.Errorf("duration observations = %d", f.observed[TransferSeconds])
	}
}

func TestDefaultBackendIsSafe(t *testing.T) {
	SetBackend(nil)
	RecordRows("DB_TO_FILE", KindWritten, 10)
	if err := Flush(); err != nil {
		t.Errorf("Flush = %v", err)
	}
}
