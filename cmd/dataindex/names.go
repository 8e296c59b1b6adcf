package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/chime-experiment/dataindex"
	"github.com/chime-experiment/dataindex/checksum"
	"github.com/chime-experiment/dataindex/ingest"
	"github.com/chime-experiment/dataindex/names"
	"github.com/chime-experiment/dataindex/perf"
)

// errSomeFailed is returned by the multi-argument commands when at least one
// argument could not be handled. Each failure has already been reported.
var errSomeFailed = errors.New("one or more arguments failed")

// acqReport is the JSON form of a parsed acquisition name.
type acqReport struct {
	Name string            `json:"name"`
	Acq  dataindex.AcqName `json:"acq"`
}

func runParseAcq(cfg Config, args []string) error {
	var failed bool
	for _, name := range args {
		acq, err := names.ParseAcqName(name)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			failed = true
			continue
		}
		if err := printJSON(acqReport{Name: name, Acq: acq}); err != nil {
			return err
		}
	}
	if failed {
		return errSomeFailed
	}
	return nil
}

// fileReport is the JSON form of a classified file name.
type fileReport struct {
	Name     string `json:"name"`
	FileType string `json:"file_type"`
	InfoKind string `json:"info_kind,omitempty"`
	Fields   any    `json:"fields,omitempty"`
}

// describeFile classifies name and parses it with its type's grammar.
func describeFile(name, acqType string) (*fileReport, error) {
	c, err := ingest.Classify(name, acqType)
	if err != nil {
		perf.ObserveClassifyFailure(perf.StageDetect)
		return nil, err
	}
	fields, err := parseFields(c.FileType, name)
	if err != nil {
		perf.ObserveClassifyFailure(perf.StageParse)
		return nil, err
	}
	perf.ObserveClassified(c.FileType)
	return &fileReport{Name: name, FileType: c.FileType, InfoKind: string(c.Kind), Fields: fields}, nil
}

// parseFields returns the parsed name for file types with a field-bearing
// grammar, or nil for the rest.
func parseFields(fileType, name string) (any, error) {
	switch fileType {
	case "corr":
		return names.ParseCorrFileName(name)
	case "hfb":
		return names.ParseHFBFileName(name)
	case "hk":
		return names.ParseHKFileName(name)
	case "weather":
		return names.ParseWeatherFileName(name)
	case "miscellaneous":
		return names.ParseMiscFileName(name)
	}
	return nil, nil
}

func runParseFile(cfg Config, args []string) error {
	var failed bool
	for _, name := range args {
		r, err := describeFile(name, cfg.AcqType)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			failed = true
			continue
		}
		if err := printJSON(r); err != nil {
			return err
		}
	}
	if failed {
		return errSomeFailed
	}
	return nil
}

func runDetect(cfg Config, args []string) error {
	var failed bool
	for _, name := range args {
		if cfg.FileType != "" {
			if err := ingest.ValidateFile(name, cfg.FileType, cfg.AcqType); err != nil {
				fmt.Fprintln(os.Stderr, err)
				fmt.Printf("%s\t-\n", name)
				failed = true
				continue
			}
			fmt.Printf("%s\t%s\n", name, cfg.FileType)
			continue
		}

		fileType, err := names.DetectFileType(name, cfg.AcqType)
		if err != nil {
			perf.ObserveClassifyFailure(perf.StageDetect)
			fmt.Printf("%s\t-\n", name)
			failed = true
			continue
		}
		perf.ObserveClassified(fileType)
		fmt.Printf("%s\t%s\n", name, fileType)
	}
	if failed {
		return errSomeFailed
	}
	return nil
}

// runMD5Sum prints digests in md5sum(1) format.
func runMD5Sum(cfg Config, args []string) error {
	var failed bool
	for _, path := range args {
		timer := perf.Start("md5sum", log.WithField("file", path))
		sum, err := checksum.MD5File(path)
		elapsed := timer.Stop()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			failed = true
			continue
		}
		if st, err := os.Stat(path); err == nil {
			perf.ObserveChecksum(st.Size(), elapsed)
		}
		fmt.Printf("%s  %s\n", sum, path)
	}
	if failed {
		return errSomeFailed
	}
	return nil
}

// runMetrics classifies the names given as arguments (if any) and prints
// the collectors. It is mostly useful after a batch of detect calls in the
// same process, or to inspect the metric names.
func runMetrics(cfg Config, args []string) error {
	for _, name := range args {
		if _, err := describeFile(name, cfg.AcqType); err != nil {
			log.WithError(err).Debug("name not classified")
		}
	}
	return perf.WriteText(os.Stdout)
}

// writeMetricsFile dumps the collectors for the node_exporter textfile
// collector, so counters from a batch run outlive the process.
func writeMetricsFile(path string) error {
	if err := perf.WriteTextfile(path); err != nil {
		return fmt.Errorf("failed to write metrics to %s: %w", path, err)
	}
	log.WithField("path", path).Debug("wrote metrics file")
	return nil
}
