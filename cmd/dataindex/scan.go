package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/chime-experiment/dataindex"
	"github.com/chime-experiment/dataindex/database"
	"github.com/chime-experiment/dataindex/ingest"
	"github.com/chime-experiment/dataindex/names"
	"github.com/chime-experiment/dataindex/perf"
	"github.com/chime-experiment/dataindex/s3"
	"github.com/chime-experiment/dataindex/tui"
)

// scannedObject is one listed S3 object after classification.
type scannedObject struct {
	Object   s3.Object
	FileType string
	Err      error
}

// classifyObjects classifies every object whose key ends in
// "<acquisition>/<file>". The acquisition type restricts detection.
func classifyObjects(objs []s3.Object) []scannedObject {
	out := make([]scannedObject, 0, len(objs))
	for _, o := range objs {
		if o.AcqName == "" {
			continue
		}
		s := scannedObject{Object: o}
		acq, err := names.ParseAcqName(o.AcqName)
		if err != nil {
			perf.ObserveClassifyFailure(perf.StageParse)
			s.Err = err
			out = append(out, s)
			continue
		}
		c, err := ingest.Classify(o.FileName, acq.Type)
		if err != nil {
			perf.ObserveClassifyFailure(perf.StageDetect)
			s.Err = err
		} else {
			perf.ObserveClassified(c.FileType)
			s.FileType = c.FileType
		}
		out = append(out, s)
	}
	return out
}

// newS3Client opens bucket with the configured region and endpoint. Reads
// still running after --slow-checksum are logged as warnings.
func newS3Client(ctx context.Context, cfg Config, bucket string) (*s3.Client, error) {
	client, err := s3.New(ctx, s3.Config{
		Region:   cfg.S3Region,
		Bucket:   bucket,
		Endpoint: cfg.S3Endpoint,
	})
	if err != nil {
		return nil, err
	}
	client.SetLogger(log)
	client.SetProgressFunc(slowReadLogger(log.WithField("bucket", bucket), cfg.SlowThresh))
	return client, nil
}

// slowReadLogger warns about object reads that have taken longer than
// thresh so far.
func slowReadLogger(logger logrus.FieldLogger, thresh time.Duration) s3.ProgressFunc {
	return func(key string, read, total int64, elapsed time.Duration) {
		if thresh <= 0 || elapsed < thresh {
			return
		}
		logger.WithFields(logrus.Fields{
			"key":     key,
			"read":    tui.FormatBytes(read),
			"total":   tui.FormatBytes(total),
			"elapsed": elapsed.Round(time.Millisecond).String(),
		}).Warn("slow S3 read")
	}
}

// runScanS3 lists objects under --prefix and classifies them. With
// --register every classified object is streamed through MD5 and recorded.
func runScanS3(cfg Config, _ []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	client, err := newS3Client(ctx, cfg, cfg.S3Bucket)
	if err != nil {
		return err
	}

	objs, err := client.ListObjects(ctx, cfg.Prefix)
	if err != nil {
		return err
	}
	scanned := classifyObjects(objs)

	if !cfg.Register {
		rows := make([]tui.FileRow, 0, len(scanned))
		for _, s := range scanned {
			fileType := s.FileType
			if s.Err != nil {
				fileType = "?"
			}
			rows = append(rows, tui.FileRow{AcqName: s.Object.AcqName, Name: s.Object.FileName, Type: fileType, Size: s.Object.Size})
		}
		fmt.Print(tui.RenderFilesTable(rows))
		return nil
	}

	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	metrics := perf.NewRunMetrics()
	ctx = perf.WithMetrics(ctx, metrics)
	start := time.Now()

	err = registerScanned(ctx, cfg, client, newRegistrar(cfg, db), scanned)
	metrics.TotalDuration = time.Since(start)
	fmt.Print(metrics.Summary())
	return err
}

func registerScanned(ctx context.Context, cfg Config, client *s3.Client, reg *ingest.Registrar, scanned []scannedObject) error {
	acqs := map[string]*database.ArchiveAcq{}
	var failed bool

	for _, s := range scanned {
		if err := ctx.Err(); err != nil {
			return err
		}
		logger := log.WithFields(logrus.Fields{"bucket": client.Bucket(), "key": s.Object.Key})
		if s.Err != nil {
			logger.WithError(s.Err).Warn("skipping unclassified object")
			continue
		}

		acq, ok := acqs[s.Object.AcqName]
		if !ok {
			var err error
			if acq, _, err = reg.RegisterAcq(ctx, s.Object.AcqName, ""); err != nil {
				logger.WithError(err).Error("failed to register acquisition")
				failed = true
				continue
			}
			acqs[s.Object.AcqName] = acq
		}

		timer := perf.Start("s3_checksum", logger)
		sum, size, err := client.MD5Object(ctx, s.Object.Key)
		elapsed := timer.StopWithThreshold(cfg.SlowThresh)
		if err != nil {
			logger.WithError(err).Error("failed to checksum object")
			failed = true
			continue
		}
		if m := perf.MetricsFromContext(ctx); m != nil {
			m.RecordChecksum(size, elapsed)
		}

		_, err = reg.RegisterFileMeta(ctx, acq, ingest.FileMeta{Name: s.Object.FileName, SizeBytes: &size, MD5Sum: sum})
		if err != nil && !errors.Is(err, ingest.ErrAlreadyRegistered) {
			logger.WithError(err).Error("failed to register object")
			failed = true
			continue
		}

		if cfg.Node != "" {
			rel := dataindex.RelativePath(acq.Name, s.Object.FileName)
			if _, err := reg.AddCopy(ctx, rel, cfg.Node, database.FilePresent); err != nil && !database.IsUniqueViolation(err) {
				logger.WithError(err).Error("failed to record copy")
				failed = true
			}
		}
	}

	if failed {
		return errSomeFailed
	}
	return nil
}
