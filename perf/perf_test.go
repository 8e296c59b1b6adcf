package perf

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
)

func TestTimer_StopWithThreshold(t *testing.T) {
	var buf bytes.Buffer
	logger := logrus.New()
	logger.SetOutput(&buf)
	logger.SetLevel(logrus.DebugLevel)

	timer := Start("md5", logger)
	time.Sleep(2 * time.Millisecond)
	if d := timer.StopWithThreshold(time.Nanosecond); d <= 0 {
		t.Fatalf("duration = %v", d)
	}
	if !strings.Contains(buf.String(), "operation exceeded threshold") {
		t.Errorf("expected threshold warning, got %q", buf.String())
	}
}

func TestTimer_NilLogger(t *testing.T) {
	timer := Start("noop", nil)
	if d := timer.Stop(); d < 0 {
		t.Fatalf("duration = %v", d)
	}
}

func TestRunMetrics(t *testing.T) {
	m := NewRunMetrics()
	m.RecordFile("corr")
	m.RecordFile("corr")
	m.RecordFile("log")
	m.RecordSkip()
	m.RecordFailure()
	m.RecordChecksum(1<<20, time.Second)

	byType := m.ByType()
	if byType["corr"] != 2 || byType["log"] != 1 {
		t.Errorf("ByType = %v", byType)
	}

	s := m.Summary()
	for _, want := range []string{"Registered:          3", "Already present:     1", "Failed:              1", "1.0 MiB/s"} {
		if !strings.Contains(s, want) {
			t.Errorf("summary missing %q:\n%s", want, s)
		}
	}
}

func TestMetricsContext(t *testing.T) {
	if MetricsFromContext(context.Background()) != nil {
		t.Fatal("expected nil metrics in bare context")
	}
	m := NewRunMetrics()
	if got := MetricsFromContext(WithMetrics(context.Background(), m)); got != m {
		t.Fatal("metrics not carried by context")
	}
}

func TestCollectors(t *testing.T) {
	before := testutil.ToFloat64(filesClassified.WithLabelValues("weather"))
	ObserveClassified("weather")
	if got := testutil.ToFloat64(filesClassified.WithLabelValues("weather")); got != before+1 {
		t.Errorf("files classified = %v, want %v", got, before+1)
	}

	ObserveClassifyFailure(StageDetect)
	ObserveChecksum(3, time.Millisecond)
	ObserveRegistration("registered")

	var buf bytes.Buffer
	if err := WriteText(&buf); err != nil {
		t.Fatalf("WriteText: %v", err)
	}
	for _, want := range []string{
		"dataindex_files_classified_total",
		"dataindex_classify_failures_total",
		"dataindex_checksum_bytes_total",
		"dataindex_checksum_duration_seconds_bucket",
		"dataindex_files_registered_total",
	} {
		if !strings.Contains(buf.String(), want) {
			t.Errorf("exposition missing %s", want)
		}
	}
}

func TestWriteTextfile(t *testing.T) {
	ObserveRegistration("exists")

	path := filepath.Join(t.TempDir(), "dataindex.prom")
	if err := WriteTextfile(path); err != nil {
		t.Fatalf("WriteTextfile: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !strings.Contains(string(data), `dataindex_files_registered_total{outcome="exists"}`) {
		t.Errorf("textfile missing registration counter:\n%s", data)
	}
}
