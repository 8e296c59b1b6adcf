package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/chime-experiment/dataindex/database"
	"github.com/chime-experiment/dataindex/ingest"
	"github.com/chime-experiment/dataindex/s3"
)

// parseVerifyFlags parses flags for the verify-node command.
func parseVerifyFlags(cfg *Config, fs *flag.FlagSet, args []string) []string {
	dbFlags(cfg, fs)
	metricsFlag(cfg, fs)
	fs.StringVar(&cfg.Node, "node", "", "Node to verify (required)")
	fs.BoolVar(&cfg.DryRun, "dry-run", false, "Show which copy states would change without changing them")
	fs.BoolVar(&cfg.Force, "force", false, "Actually update copy states (required for non-dry-run)")
	fs.BoolVar(&cfg.Checksum, "checksum", false, "Recompute MD5 digests of present files")
	fs.StringVar(&cfg.S3Region, "region", cfg.S3Region, "S3 region, for nodes rooted at s3://bucket/prefix")
	fs.StringVar(&cfg.S3Endpoint, "endpoint", cfg.S3Endpoint, "S3 endpoint override")
	fs.DurationVar(&cfg.SlowThresh, "slow-checksum", cfg.SlowThresh, "Log checksums slower than this")
	fs.Parse(args)
	requireFlag(fs, "node", cfg.Node)
	return fs.Args()
}

// validateVerifyFlags requires exactly one of --dry-run and --force.
func validateVerifyFlags(cfg Config) error {
	if !cfg.DryRun && !cfg.Force {
		return fmt.Errorf("must specify either --dry-run or --force")
	}
	if cfg.DryRun && cfg.Force {
		return fmt.Errorf("cannot specify both --dry-run and --force")
	}
	return nil
}

// runVerifyNode compares the copies recorded on a node with the files under
// its root and corrects their has_file states.
func runVerifyNode(cfg Config, _ []string) error {
	if err := validateVerifyFlags(cfg); err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	logger := log.WithFields(logrus.Fields{"command": "verify-node", "node": cfg.Node})
	if cfg.DryRun {
		logger.Info("running in DRY RUN mode - no changes will be made")
	} else {
		release, err := acquireLock(cfg.DBPath, "verify-node")
		if err != nil {
			return err
		}
		defer release()
		logger.Warn("running in FORCE mode - copy states will be updated")
	}

	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	opts := ingest.VerifyOptions{Checksum: cfg.Checksum, DryRun: cfg.DryRun}
	if opts.Store, err = nodeStore(ctx, cfg, db); err != nil {
		return err
	}

	result, err := newRegistrar(cfg, db).VerifyNode(ctx, cfg.Node, opts)
	if err != nil {
		return fmt.Errorf("verification failed: %w", err)
	}

	for _, c := range result.Changed {
		status := "would change"
		switch {
		case c.Applied:
			status = "changed"
		case c.Error != "":
			status = "failed: " + c.Error
		}
		fmt.Printf("%-50s %s -> %s (%s)\n", c.Path, c.From, c.To, status)
	}

	logger.WithFields(logrus.Fields{
		"checked": result.Checked,
		"changed": len(result.Changed),
		"failed":  result.Failed,
	}).Info("verification summary")

	if cfg.DryRun && len(result.Changed) > 0 {
		logger.Info("run with --force to apply these changes")
	}
	if result.Failed > 0 {
		return errSomeFailed
	}
	return nil
}

// nodeStore returns an S3 store for nodes rooted at "s3://bucket/prefix",
// and nil (the local tree under the root) otherwise.
func nodeStore(ctx context.Context, cfg Config, db *database.DB) (ingest.NodeStore, error) {
	node, err := db.GetNode(ctx, cfg.Node)
	if err != nil {
		return nil, err
	}
	bucket, prefix, ok := s3.ParseURL(node.Root)
	if !ok {
		return nil, nil
	}
	client, err := newS3Client(ctx, cfg, bucket)
	if err != nil {
		return nil, err
	}
	log.WithFields(logrus.Fields{"node": node.Name, "bucket": bucket, "prefix": prefix}).Info("verifying S3-backed node")
	return client.NodeStore(prefix), nil
}
