package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/jessevdk/go-flags"
	"go.uber.org/zap"

	"github.com/goodnatureofminers/blockparser7000-backend/internal/blkfile"
	"github.com/goodnatureofminers/blockparser7000-backend/internal/callback"
	"github.com/goodnatureofminers/blockparser7000-backend/internal/metrics"
	"github.com/goodnatureofminers/blockparser7000-backend/internal/parser"
)

const (
	exitSuccess          = 0
	exitInvalidArguments = 2
)

type config struct {
	BlocksDir    string `short:"b" long:"blocks-dir" env:"BLOCKPARSER_BLOCKS_DIR" description:"directory containing blkNNNNN.dat archive files" required:"true"`
	ChainStorage string `short:"s" long:"chain-storage" env:"BLOCKPARSER_CHAIN_STORAGE" description:"path of the persisted chain state file" default:"chain.json"`
	Magic        string `long:"magic" env:"BLOCKPARSER_MAGIC" description:"record marker as 8 hex digits" default:"d9b4bef9"`
	Workers      int    `short:"t" long:"workers" env:"BLOCKPARSER_WORKERS" description:"number of decode workers" default:"4"`
	Backlog      int    `long:"backlog" env:"BLOCKPARSER_BACKLOG" description:"maximum decoded blocks buffered ahead of the callback" default:"100"`
	SaveInterval int    `long:"save-interval" env:"BLOCKPARSER_SAVE_INTERVAL" description:"persist progress every N delivered blocks" default:"10000"`
	Verify       bool   `long:"verify-merkle-root" env:"BLOCKPARSER_VERIFY_MERKLE_ROOT" description:"recompute and verify merkle roots"`
	Resume       bool   `short:"r" long:"resume" description:"resume from the persisted chain state and look for new archive files"`
	New          bool   `short:"n" long:"new" description:"discard persisted chain state and rescan everything"`
	Verbose      []bool `short:"v" long:"verbose" description:"increase log verbosity"`
	Debug        bool   `short:"d" long:"debug" description:"debug-level logging"`
	List         bool   `long:"list-callbacks" description:"list available callbacks and exit"`

	Args struct {
		Callback string   `positional-arg-name:"callback" description:"callback name, see --list-callbacks"`
		Rest     []string `positional-arg-name:"args" description:"callback arguments"`
	} `positional-args:"true"`
}

func main() {
	cfg := config{}

	flagParser := flags.NewParser(&cfg, flags.Default)
	if _, err := flagParser.Parse(); err != nil {
		var ferr *flags.Error
		if errors.As(err, &ferr) && ferr.Type == flags.ErrHelp {
			os.Exit(exitSuccess)
		}
		os.Exit(exitInvalidArguments)
	}

	if cfg.List {
		for _, name := range callback.Names() {
			fmt.Printf("%-16s %s\n", name, callback.Describe(name))
		}
		os.Exit(exitSuccess)
	}

	logger := buildLogger(len(cfg.Verbose) > 0 || cfg.Debug)
	defer func() {
		_ = logger.Sync()
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		switch {
		case errors.Is(err, parser.ErrNothingToDo):
			logger.Info(err.Error())
		case errors.Is(err, callback.ErrInvalidArguments):
			logger.Error("invalid arguments", zap.Error(err))
			_ = logger.Sync()
			os.Exit(exitInvalidArguments)
		default:
			logger.Fatal("blockparser failed", zap.Error(err))
		}
	}
}

func run(ctx context.Context, cfg config, logger *zap.Logger) error {
	if cfg.Args.Callback == "" {
		return fmt.Errorf("callback name is required, see --list-callbacks: %w", callback.ErrInvalidArguments)
	}
	if cfg.New && cfg.Resume {
		return fmt.Errorf("--new and --resume are mutually exclusive: %w", callback.ErrInvalidArguments)
	}
	magic, err := parseMagic(cfg.Magic)
	if err != nil {
		return err
	}

	cb, err := callback.New(cfg.Args.Callback, logger)
	if err != nil {
		return err
	}
	if err := cb.Configure(cfg.Args.Rest); err != nil {
		return err
	}

	engine, err := parser.New(
		parser.Options{
			BlocksDir:        cfg.BlocksDir,
			StoragePath:      cfg.ChainStorage,
			Magic:            magic,
			Workers:          cfg.Workers,
			Backlog:          cfg.Backlog,
			SaveInterval:     cfg.SaveInterval,
			VerifyMerkleRoot: cfg.Verify,
			Resume:           cfg.Resume,
			New:              cfg.New,
		},
		cb,
		metrics.NewParser(cfg.Args.Callback),
		logger,
	)
	if err != nil {
		return err
	}
	return engine.Run(ctx)
}

func parseMagic(s string) (uint32, error) {
	v, err := strconv.ParseUint(strings.TrimPrefix(s, "0x"), 16, 32)
	if err != nil {
		return 0, fmt.Errorf("magic %q is not 8 hex digits: %w", s, callback.ErrInvalidArguments)
	}
	if v == 0 {
		return blkfile.DefaultMagic, nil
	}
	return uint32(v), nil
}

func buildLogger(verbose bool) *zap.Logger {
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	logger, err := cfg.Build()
	if err != nil {
		panic("can't initialize zap logger: " + err.Error())
	}
	return logger
}
