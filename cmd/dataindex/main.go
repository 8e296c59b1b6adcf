// Package main implements the dataindex command, the administrative front
// end of the data index.
//
// It creates and seeds the index database, classifies and checksums archive
// files, registers acquisitions, files and copies, and lists what the index
// holds. Files on S3-backed nodes can be scanned in place.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/chime-experiment/dataindex/config"
	"github.com/chime-experiment/dataindex/database"
)

// Config holds application configuration.
type Config struct {
	// Database Configuration
	DBPath string

	// S3 Configuration
	S3Bucket   string
	S3Region   string
	S3Endpoint string

	// Logging and metrics
	LogLevel    string
	MetricsFile string

	// Command-specific flags
	LayoutPath string
	AcqType    string
	AcqName    string
	FileType   string
	Inst       string
	Comment    string
	Node       string
	FromNode   string
	State      string
	FilePath   string
	Prefix     string
	Nice       int
	Limit      int
	All        bool
	Register   bool
	Checksum   bool
	DryRun     bool
	Force      bool
	SlowThresh time.Duration
}

// DefaultConfig returns the default configuration. Environment variables
// (optionally loaded from .env) override the built-in defaults; flags
// override both.
func DefaultConfig() Config {
	return Config{
		DBPath:      config.GetEnv(config.EnvDB, database.DefaultConfig().Path),
		S3Bucket:    config.GetEnv(config.EnvS3Bucket, "chime-archive"),
		S3Region:    config.GetEnv(config.EnvS3Region, "us-east-1"),
		S3Endpoint:  config.GetEnv(config.EnvS3Endpoint, ""),
		LogLevel:    config.GetEnv(config.EnvLogLevel, "info"),
		MetricsFile: config.GetEnv(config.EnvMetricsFile, ""),
		State:       "present",
		SlowThresh:  2 * time.Second,
	}
}

var (
	// Global logger
	log = logrus.New()

	// Command flags
	initCmd          = flag.NewFlagSet("init", flag.ExitOnError)
	populateTypesCmd = flag.NewFlagSet("populate-types", flag.ExitOnError)
	populateStoreCmd = flag.NewFlagSet("populate-storage", flag.ExitOnError)
	parseAcqCmd      = flag.NewFlagSet("parse-acq", flag.ExitOnError)
	parseFileCmd     = flag.NewFlagSet("parse-file", flag.ExitOnError)
	detectCmd        = flag.NewFlagSet("detect", flag.ExitOnError)
	md5sumCmd        = flag.NewFlagSet("md5sum", flag.ExitOnError)
	registerAcqCmd   = flag.NewFlagSet("register-acq", flag.ExitOnError)
	registerFileCmd  = flag.NewFlagSet("register-file", flag.ExitOnError)
	importAcqCmd     = flag.NewFlagSet("import-acq", flag.ExitOnError)
	addCopyCmd       = flag.NewFlagSet("add-copy", flag.ExitOnError)
	requestCopyCmd   = flag.NewFlagSet("request-copy", flag.ExitOnError)
	listAcqsCmd      = flag.NewFlagSet("list-acqs", flag.ExitOnError)
	listFilesCmd     = flag.NewFlagSet("list-files", flag.ExitOnError)
	listCopiesCmd    = flag.NewFlagSet("list-copies", flag.ExitOnError)
	listNodesCmd     = flag.NewFlagSet("list-nodes", flag.ExitOnError)
	verifyNodeCmd    = flag.NewFlagSet("verify-node", flag.ExitOnError)
	scanS3Cmd        = flag.NewFlagSet("scan-s3", flag.ExitOnError)
	metricsCmd       = flag.NewFlagSet("metrics", flag.ExitOnError)
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	if err := config.LoadEnv(); err != nil {
		log.WithError(err).Fatal("failed to load environment")
	}
	cfg := DefaultConfig()

	var (
		args []string
		run  func(Config, []string) error
	)
	switch os.Args[1] {
	case "init":
		args, run = parseDBFlags(&cfg, initCmd, os.Args[2:]), runInit
	case "populate-types":
		args, run = parseDBFlags(&cfg, populateTypesCmd, os.Args[2:]), runPopulateTypes
	case "populate-storage":
		args, run = parsePopulateStorageFlags(&cfg, populateStoreCmd, os.Args[2:]), runPopulateStorage
	case "parse-acq":
		args, run = parseNameFlags(&cfg, parseAcqCmd, os.Args[2:]), runParseAcq
	case "parse-file":
		args, run = parseNameFlags(&cfg, parseFileCmd, os.Args[2:]), runParseFile
	case "detect":
		args, run = parseDetectFlags(&cfg, detectCmd, os.Args[2:]), runDetect
	case "md5sum":
		args, run = parseMD5SumFlags(&cfg, md5sumCmd, os.Args[2:]), runMD5Sum
	case "register-acq":
		args, run = parseRegisterAcqFlags(&cfg, registerAcqCmd, os.Args[2:]), runRegisterAcq
	case "register-file":
		args, run = parseRegisterFileFlags(&cfg, registerFileCmd, os.Args[2:]), runRegisterFile
	case "import-acq":
		args, run = parseImportFlags(&cfg, importAcqCmd, os.Args[2:]), runImportAcq
	case "add-copy":
		args, run = parseAddCopyFlags(&cfg, addCopyCmd, os.Args[2:]), runAddCopy
	case "request-copy":
		args, run = parseRequestCopyFlags(&cfg, requestCopyCmd, os.Args[2:]), runRequestCopy
	case "list-acqs":
		args, run = parseListAcqsFlags(&cfg, listAcqsCmd, os.Args[2:]), runListAcqs
	case "list-files":
		args, run = parseListFilesFlags(&cfg, listFilesCmd, os.Args[2:]), runListFiles
	case "list-copies":
		args, run = parseListCopiesFlags(&cfg, listCopiesCmd, os.Args[2:]), runListCopies
	case "list-nodes":
		args, run = parseListNodesFlags(&cfg, listNodesCmd, os.Args[2:]), runListNodes
	case "verify-node":
		args, run = parseVerifyFlags(&cfg, verifyNodeCmd, os.Args[2:]), runVerifyNode
	case "scan-s3":
		args, run = parseScanS3Flags(&cfg, scanS3Cmd, os.Args[2:]), runScanS3
	case "metrics":
		args, run = parseNameFlags(&cfg, metricsCmd, os.Args[2:]), runMetrics
	case "help", "-h", "--help":
		printUsage()
		return
	default:
		fmt.Printf("Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}

	if err := setupLogger(cfg.LogLevel); err != nil {
		log.WithError(err).Fatal("invalid configuration")
	}
	err := run(cfg, args)
	if cfg.MetricsFile != "" {
		if werr := writeMetricsFile(cfg.MetricsFile); werr != nil {
			log.WithError(werr).Warn("failed to write metrics file")
		}
	}
	if err != nil {
		log.WithError(err).WithField("command", os.Args[1]).Fatal("command failed")
	}
}

func printUsage() {
	fmt.Println("CHIME data index")
	fmt.Println()
	fmt.Println("Usage: dataindex <command> [options] [args]")
	fmt.Println()
	fmt.Println("Database:")
	fmt.Println("  init              Create the index database and apply schema migrations")
	fmt.Println("  populate-types    Seed the acquisition and file type registries")
	fmt.Println("  populate-storage  Seed storage groups, nodes and transfer actions from a layout file")
	fmt.Println()
	fmt.Println("Names:")
	fmt.Println("  parse-acq NAME    Parse an acquisition name")
	fmt.Println("  parse-file NAME   Detect a file's type and parse its name")
	fmt.Println("  detect NAME...    Print the detected file type of each name (--type checks one)")
	fmt.Println("  md5sum PATH...    Print MD5 digests")
	fmt.Println()
	fmt.Println("Registration:")
	fmt.Println("  register-acq NAME           Register an acquisition")
	fmt.Println("  register-file --acq A PATH  Register files of an acquisition")
	fmt.Println("  import-acq --node N DIR     Register an acquisition directory and its copies on a node")
	fmt.Println("  add-copy --node N ACQ/FILE  Record a copy of a file on a node")
	fmt.Println("  request-copy --node N ...   Request copies of files onto a node")
	fmt.Println("  verify-node --node N        Check recorded copies against the node's files")
	fmt.Println("  scan-s3 --prefix P          Classify (and optionally register) objects on S3")
	fmt.Println()
	fmt.Println("Listings:")
	fmt.Println("  list-acqs, list-files, list-copies, list-nodes")
	fmt.Println("  metrics           Print run metrics in Prometheus text format")
	fmt.Println()
	fmt.Println("Run 'dataindex <command> --help' for more information on a command.")
}

// dbFlags registers the flags shared by every database command.
func dbFlags(cfg *Config, fs *flag.FlagSet) {
	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "Database path (env "+config.EnvDB+")")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")
}

// parseDBFlags parses flags for commands that only need the database.
func parseDBFlags(cfg *Config, fs *flag.FlagSet, args []string) []string {
	dbFlags(cfg, fs)
	fs.Parse(args)
	return fs.Args()
}

// metricsFlag registers --metrics-file on the batch commands.
func metricsFlag(cfg *Config, fs *flag.FlagSet) {
	fs.StringVar(&cfg.MetricsFile, "metrics-file", cfg.MetricsFile,
		"Write Prometheus counters to this .prom file on exit (env "+config.EnvMetricsFile+")")
}

// parseNameFlags parses flags for the commands that work on names alone.
func parseNameFlags(cfg *Config, fs *flag.FlagSet, args []string) []string {
	fs.StringVar(&cfg.AcqType, "acq-type", "", "Restrict detection to file types of this acquisition type")
	fs.StringVar(&cfg.LogLevel, "log-level", "warn", "Log level")
	fs.Parse(args)
	return fs.Args()
}

func parseDetectFlags(cfg *Config, fs *flag.FlagSet, args []string) []string {
	fs.StringVar(&cfg.FileType, "type", "", "Check each name against this file type instead of detecting")
	return parseNameFlags(cfg, fs, args)
}

func parseMD5SumFlags(cfg *Config, fs *flag.FlagSet, args []string) []string {
	metricsFlag(cfg, fs)
	return parseNameFlags(cfg, fs, args)
}

func parsePopulateStorageFlags(cfg *Config, fs *flag.FlagSet, args []string) []string {
	dbFlags(cfg, fs)
	fs.StringVar(&cfg.LayoutPath, "layout", "", "Storage layout YAML file (required)")
	fs.Parse(args)
	requireFlag(fs, "layout", cfg.LayoutPath)
	return fs.Args()
}

func parseRegisterAcqFlags(cfg *Config, fs *flag.FlagSet, args []string) []string {
	dbFlags(cfg, fs)
	fs.StringVar(&cfg.Comment, "comment", "", "Acquisition comment")
	fs.Parse(args)
	requireArgs(fs, 1)
	return fs.Args()
}

func parseRegisterFileFlags(cfg *Config, fs *flag.FlagSet, args []string) []string {
	dbFlags(cfg, fs)
	metricsFlag(cfg, fs)
	fs.StringVar(&cfg.AcqName, "acq", "", "Acquisition name (required, registered if absent)")
	fs.StringVar(&cfg.Node, "node", "", "Also record a present copy on this node")
	fs.DurationVar(&cfg.SlowThresh, "slow-checksum", cfg.SlowThresh, "Log checksums slower than this")
	fs.Parse(args)
	requireFlag(fs, "acq", cfg.AcqName)
	requireArgs(fs, 1)
	return fs.Args()
}

func parseImportFlags(cfg *Config, fs *flag.FlagSet, args []string) []string {
	dbFlags(cfg, fs)
	metricsFlag(cfg, fs)
	fs.StringVar(&cfg.Node, "node", "", "Node holding the acquisition directories (required)")
	fs.DurationVar(&cfg.SlowThresh, "slow-checksum", cfg.SlowThresh, "Log checksums slower than this")
	fs.Parse(args)
	requireFlag(fs, "node", cfg.Node)
	requireArgs(fs, 1)
	return fs.Args()
}

func parseAddCopyFlags(cfg *Config, fs *flag.FlagSet, args []string) []string {
	dbFlags(cfg, fs)
	fs.StringVar(&cfg.Node, "node", "", "Node holding the copy (required)")
	fs.StringVar(&cfg.State, "state", cfg.State, "Copy state: present, corrupt, removed or suspect")
	fs.Parse(args)
	requireFlag(fs, "node", cfg.Node)
	requireArgs(fs, 1)
	return fs.Args()
}

func parseRequestCopyFlags(cfg *Config, fs *flag.FlagSet, args []string) []string {
	dbFlags(cfg, fs)
	fs.StringVar(&cfg.Node, "node", "", "Destination node (required)")
	fs.StringVar(&cfg.FromNode, "from", "", "Source node (optional)")
	fs.IntVar(&cfg.Nice, "nice", 0, "Request priority; lower runs first")
	fs.Parse(args)
	requireFlag(fs, "node", cfg.Node)
	requireArgs(fs, 1)
	return fs.Args()
}

func parseListAcqsFlags(cfg *Config, fs *flag.FlagSet, args []string) []string {
	dbFlags(cfg, fs)
	fs.StringVar(&cfg.Inst, "inst", "", "Only acquisitions from this instrument")
	fs.StringVar(&cfg.AcqType, "type", "", "Only acquisitions of this type")
	fs.IntVar(&cfg.Limit, "limit", 0, "Maximum rows (0 for all)")
	fs.Parse(args)
	return fs.Args()
}

func parseListFilesFlags(cfg *Config, fs *flag.FlagSet, args []string) []string {
	dbFlags(cfg, fs)
	fs.StringVar(&cfg.AcqName, "acq", "", "Only files of this acquisition")
	fs.StringVar(&cfg.FileType, "type", "", "Only files of this type")
	fs.IntVar(&cfg.Limit, "limit", 0, "Maximum rows (0 for all)")
	fs.Parse(args)
	return fs.Args()
}

func parseListCopiesFlags(cfg *Config, fs *flag.FlagSet, args []string) []string {
	dbFlags(cfg, fs)
	fs.StringVar(&cfg.Node, "node", "", "List copies on this node")
	fs.StringVar(&cfg.FilePath, "file", "", "List copies of this file (ACQ/FILE)")
	fs.StringVar(&cfg.State, "state", "", "Only copies in this state (with --node)")
	fs.Parse(args)
	if (cfg.Node == "") == (cfg.FilePath == "") {
		fmt.Println("Error: exactly one of --node or --file is required")
		fs.Usage()
		os.Exit(1)
	}
	return fs.Args()
}

func parseListNodesFlags(cfg *Config, fs *flag.FlagSet, args []string) []string {
	dbFlags(cfg, fs)
	fs.BoolVar(&cfg.All, "all", false, "Include inactive nodes")
	fs.Parse(args)
	return fs.Args()
}

func parseScanS3Flags(cfg *Config, fs *flag.FlagSet, args []string) []string {
	dbFlags(cfg, fs)
	metricsFlag(cfg, fs)
	fs.StringVar(&cfg.S3Bucket, "bucket", cfg.S3Bucket, "S3 bucket name (env "+config.EnvS3Bucket+")")
	fs.StringVar(&cfg.S3Region, "region", cfg.S3Region, "S3 region")
	fs.StringVar(&cfg.S3Endpoint, "endpoint", cfg.S3Endpoint, "S3 endpoint override")
	fs.StringVar(&cfg.Prefix, "prefix", "", "Key prefix holding acquisition directories")
	fs.BoolVar(&cfg.Register, "register", false, "Register classified objects (checksums every object)")
	fs.StringVar(&cfg.Node, "node", "", "With --register, record present copies on this node")
	fs.Parse(args)
	return fs.Args()
}

// requireFlag exits with usage when a required flag is empty.
func requireFlag(fs *flag.FlagSet, name, value string) {
	if value == "" {
		fmt.Printf("Error: --%s is required\n", name)
		fs.Usage()
		os.Exit(1)
	}
}

// requireArgs exits with usage when fewer than n positional arguments remain.
func requireArgs(fs *flag.FlagSet, n int) {
	if fs.NArg() < n {
		fmt.Printf("Error: %s needs at least %d argument(s)\n", fs.Name(), n)
		fs.Usage()
		os.Exit(1)
	}
}

// setupLogger configures the global logger.
func setupLogger(level string) error {
	log.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: time.RFC3339Nano,
	})

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	log.SetLevel(lvl)

	return nil
}

// openDB opens the index database at cfg.DBPath.
func openDB(cfg Config) (*database.DB, error) {
	dbCfg := database.DefaultConfig()
	dbCfg.Path = cfg.DBPath
	dbCfg.Logger = log

	db, err := database.New(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return db, nil
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// printJSON writes v to stdout as indented JSON.
func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

// parseFileState maps a long state name or its one-letter code to a
// FileState.
func parseFileState(s string) (database.FileState, error) {
	switch strings.ToLower(s) {
	case "present", "y":
		return database.FilePresent, nil
	case "corrupt", "x":
		return database.FileCorrupt, nil
	case "removed", "n":
		return database.FileRemoved, nil
	case "suspect", "m":
		return database.FileSuspect, nil
	}
	return "", fmt.Errorf("unknown copy state %q", s)
}
