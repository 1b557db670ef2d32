package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/multiformats/go-multiaddr"
	"github.com/shoalstore/shoal"
	"github.com/shoalstore/shoal/build"
	"github.com/shoalstore/shoal/chunk"
	"github.com/shoalstore/shoal/config"
	shttp "github.com/shoalstore/shoal/http"
	"github.com/shoalstore/shoal/kad"
	"github.com/shoalstore/shoal/persist/badger"
	"go.sia.tech/jape"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
	"lukechampine.com/frand"
)

var (
	dir = "."
	cfg = config.Config{
		Node: config.Node{
			Replicas: kad.DefaultReplicas,
		},
		Store: config.Store{
			MinFreeSpace: 1 << 30, // 1 GiB
			GCInterval:   5 * time.Minute,
		},
		Fetch: config.Fetch{
			MaxInflight: 16,
			CacheSize:   256,
			Timeout:     time.Minute,
		},
		API: config.API{
			Address:       ":9480",
			MaxUploadSize: 256 << 20, // 256 MiB
		},
		Log: config.Log{
			Level: "info",
		},
	}
)

// mustLoadConfig loads the config file.
func mustLoadConfig(dir string, log *zap.Logger) {
	configPath := filepath.Join(dir, "shoald.yml")

	// If the config file doesn't exist, don't try to load it.
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return
	}

	f, err := os.Open(configPath)
	if err != nil {
		log.Fatal("failed to open config file", zap.Error(err))
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)

	if err := dec.Decode(&cfg); err != nil {
		log.Fatal("failed to decode config file", zap.Error(err))
	}
}

func main() {
	// configure console logging note: this is configured before anything else
	// to have consistent logging. File logging will be added after the cli
	// flags and config is parsed
	consoleCfg := zap.NewProductionEncoderConfig()
	consoleCfg.TimeKey = "" // prevent duplicate timestamps
	consoleCfg.EncodeTime = zapcore.RFC3339TimeEncoder
	consoleCfg.EncodeDuration = zapcore.StringDurationEncoder
	consoleCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	consoleCfg.StacktraceKey = ""
	consoleCfg.CallerKey = ""
	consoleEncoder := zapcore.NewConsoleEncoder(consoleCfg)

	// only log info messages to console unless stdout logging is enabled
	consoleCore := zapcore.NewCore(consoleEncoder, zapcore.Lock(os.Stdout), zap.NewAtomicLevelAt(zap.InfoLevel))
	log := zap.New(consoleCore, zap.AddCaller())
	defer log.Sync()
	// redirect stdlib log to zap
	zap.RedirectStdLog(log.Named("stdlib"))

	flag.StringVar(&dir, "dir", dir, "directory to use for data")
	flag.Parse()

	mustLoadConfig(dir, log)

	var level zap.AtomicLevel
	switch cfg.Log.Level {
	case "debug":
		level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info":
		level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		log.Fatal("invalid log level", zap.String("level", cfg.Log.Level))
	}

	log = log.WithOptions(zap.WrapCore(func(core zapcore.Core) zapcore.Core {
		return zapcore.NewCore(consoleEncoder, zapcore.Lock(os.Stdout), level)
	}))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	if free, err := badger.FreeSpace(dir); err != nil {
		log.Fatal("failed to check free space", zap.Error(err))
	} else if free < cfg.Store.MinFreeSpace {
		log.Fatal("insufficient free space", zap.Uint64("free", free), zap.Uint64("required", cfg.Store.MinFreeSpace))
	}

	db, err := badger.OpenDatabase(filepath.Join(dir, "shoald.badgerdb"), log.Named("badger"))
	if err != nil {
		log.Fatal("failed to open badger database", zap.Error(err))
	}
	defer db.Close()

	var id chunk.Address
	if cfg.Node.ID != "" {
		id, err = chunk.ParseAddress(cfg.Node.ID)
		if err != nil {
			log.Fatal("failed to parse node id", zap.Error(err))
		}
	} else {
		id = chunk.Address(frand.Entropy256())
		log.Info("generated node id", zap.Stringer("id", id))
	}

	// TODO: wire a peer transport; until one exists the node keeps chunks
	// locally and the table keeps residents over newcomers
	table := kad.NewTable(id, nil, kad.TableOptions{
		BucketSize:   cfg.Routing.BucketSize,
		ProbeTimeout: cfg.Routing.ProbeTimeout,
	}, log.Named("kad"))
	selector := kad.NewSelector(table, kad.SelectorOptions{
		Replicas: cfg.Node.Replicas,
	})

	node, err := shoal.NewNode(db, table, selector, nil, nil, shoal.Options{
		Chunk: chunk.Options{
			MinSize: cfg.Chunker.MinSize,
			MaxSize: cfg.Chunker.MaxSize,
		},
		MaxInflight:  cfg.Fetch.MaxInflight,
		CacheSize:    cfg.Fetch.CacheSize,
		FetchTimeout: cfg.Fetch.Timeout,
	}, log.Named("node"))
	if err != nil {
		log.Fatal("failed to create node", zap.Error(err))
	}

	for _, p := range cfg.Routing.Bootstrap {
		pid, err := chunk.ParseAddress(p.ID)
		if err != nil {
			log.Fatal("failed to parse bootstrap peer id", zap.String("id", p.ID), zap.Error(err))
		}
		addr, err := multiaddr.NewMultiaddr(p.Address)
		if err != nil {
			log.Fatal("failed to parse bootstrap peer address", zap.String("address", p.Address), zap.Error(err))
		}
		if err := node.Observe(ctx, kad.Peer{ID: pid, Addr: addr}); err != nil {
			log.Warn("failed to observe bootstrap peer", zap.Stringer("peer", pid), zap.Error(err))
		}
	}

	if cfg.Store.GCInterval > 0 {
		go func() {
			t := time.NewTicker(cfg.Store.GCInterval)
			defer t.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-t.C:
				}
				if err := db.GC(); err != nil {
					log.Debug("failed to garbage collect value log", zap.Error(err))
				}
			}
		}()
	}

	apiListener, err := net.Listen("tcp", cfg.API.Address)
	if err != nil {
		log.Fatal("failed to listen", zap.Error(err))
	}
	defer apiListener.Close()

	apiServer := &http.Server{
		Handler: jape.BasicAuth(cfg.API.Password)(shttp.NewAPIHandler(node, cfg, log.Named("api"))),
	}
	defer apiServer.Close()

	go func() {
		if err := apiServer.Serve(apiListener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("failed to serve api", zap.Error(err))
		}
	}()

	log.Info("shoald started",
		zap.Stringer("id", id),
		zap.String("apiAddress", apiListener.Addr().String()),
		zap.String("version", build.Version()),
		zap.String("revision", build.Commit()),
		zap.Time("buildTime", build.Time()))

	<-ctx.Done()
}
