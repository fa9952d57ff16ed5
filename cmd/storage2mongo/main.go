// Package main 文件观察者 → MongoDB 迁移工具入口
//
// 用法：
//
//	storage2mongo -runs ./my_runs -source ./src -host localhost -port 27017 -db sacred
//	storage2mongo -run 3 -run 7 ./my_runs
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"observer-migrate/internal/config"
	"observer-migrate/internal/contentstore"
	"observer-migrate/internal/migrate"
	objstore "observer-migrate/internal/shared/minio"
	"observer-migrate/internal/shared/storage"
	"observer-migrate/internal/shared/storage/mongostore"
	"observer-migrate/pkg/logging"
)

type idList []int

func (l *idList) String() string {
	parts := make([]string, 0, len(*l))
	for _, id := range *l {
		parts = append(parts, strconv.Itoa(id))
	}
	return strings.Join(parts, ",")
}

func (l *idList) Set(v string) error {
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := migrate.ParseRunID(part)
		if err != nil {
			return err
		}
		*l = append(*l, id)
	}
	return nil
}

func main() {
	var runIDs idList
	configDirFlag := flag.String("config", "", "配置文件目录（或 YAML 文件路径）")
	runsRoot := flag.String("runs", "", "文件观察者根目录（也可作为第一个位置参数）")
	sourceDir := flag.String("source", "", "源码目录，附加到每个运行")
	host := flag.String("host", "", "MongoDB 主机")
	port := flag.Int("port", 0, "MongoDB 端口")
	dbName := flag.String("db", "", "数据库名称")
	prefix := flag.String("prefix", "", "集合前缀（{prefix}_runs / {prefix}_metrics）")
	workers := flag.Int("workers", 0, "并发迁移的运行数")
	dryRun := flag.Bool("dry-run", false, "只解析和组装文档，不连接数据库")
	metricsAddr := flag.String("metrics-addr", "", "Prometheus /metrics 监听地址，例如 :9108")
	flag.Var(&runIDs, "run", "只迁移指定运行 ID（可重复）")
	flag.Parse()

	if *configDirFlag != "" {
		dir := *configDirFlag
		if strings.HasSuffix(dir, ".yaml") || strings.HasSuffix(dir, ".yml") {
			dir = filepath.Dir(dir)
		}
		config.SetConfigDir(dir)
	}

	cfg := config.Load()

	// 命令行参数覆盖配置
	if *runsRoot != "" {
		cfg.Migration.RunsRoot = *runsRoot
	} else if flag.NArg() > 0 {
		cfg.Migration.RunsRoot = flag.Arg(0)
	}
	if *sourceDir != "" {
		cfg.Migration.SourceDir = *sourceDir
	}
	if *host != "" {
		cfg.Database.Host = *host
		cfg.Database.URI = ""
	}
	if *port != 0 {
		cfg.Database.Port = *port
		cfg.Database.URI = ""
	}
	if *dbName != "" {
		cfg.Database.Name = *dbName
	}
	if *prefix != "" {
		cfg.Database.CollectionPrefix = *prefix
	}
	if *workers > 0 {
		cfg.Migration.Workers = *workers
	}
	if *metricsAddr != "" {
		cfg.Metrics.Listen = *metricsAddr
	}
	cfg.Finalize()

	if cfg.Migration.RunsRoot == "" {
		fmt.Fprintln(os.Stderr, "runs root is required (-runs or RUNS_ROOT)")
		flag.Usage()
		os.Exit(2)
	}

	log.Printf("Starting storage2mongo... [env=%s]", cfg.Env)
	log.Printf("Config: %s", cfg.String())

	logger := logging.New(logging.Config{
		Level:     cfg.Log.Level,
		Format:    cfg.Log.Format,
		Output:    "stderr",
		Component: "storage2mongo",
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runs, blobs, closeFn := openStores(ctx, cfg, *dryRun)
	defer closeFn()

	metrics := migrate.NewMetrics("observer_migrate")
	if cfg.Metrics.Listen != "" {
		go serveMetrics(cfg.Metrics.Listen, metrics)
	}

	content := contentstore.New(blobs, contentstore.WithRecorder(metrics), contentstore.WithLogger(logger))
	engine := migrate.NewEngine(runs, content, migrate.Options{
		SourceDir: cfg.Migration.SourceDir,
		RunIDs:    runIDs,
		Workers:   cfg.Migration.Workers,
	}, logger, metrics)

	start := time.Now()
	report, err := engine.Migrate(ctx, cfg.Migration.RunsRoot)
	if report != nil {
		fmt.Print(report.Summary())
	}
	log.Printf("Migration finished in %s", time.Since(start).Round(time.Millisecond))

	if cfg.Metrics.Textfile != "" {
		if werr := metrics.WriteTextfile(cfg.Metrics.Textfile); werr != nil {
			log.Printf("WARNING: write metrics textfile: %v", werr)
		}
	}

	if err != nil {
		log.Printf("Migration aborted: %v", err)
		closeFn()
		os.Exit(1)
	}
	if report.HasFailures() {
		closeFn()
		os.Exit(1)
	}
}

// openStores 初始化运行存储与 Blob 存储
//
// dry-run 使用内存存储，不连接任何外部服务。
func openStores(ctx context.Context, cfg *config.Config, dryRun bool) (storage.RunStore, storage.BlobStore, func()) {
	if dryRun {
		log.Println("Dry run: documents are built in memory only")
		mem := storage.NewMemoryStore()
		return mem, mem, func() {}
	}

	store, err := mongostore.NewStore(cfg.DatabaseURL, cfg.DatabaseName, cfg.Database.CollectionPrefix)
	if err != nil {
		var ce *storage.ConnectionError
		if errors.As(err, &ce) {
			log.Fatalf("Failed to connect to MongoDB: %v", err)
		}
		log.Fatalf("Failed to open MongoDB store: %v", err)
	}
	log.Printf("Connected to MongoDB [db=%s]", cfg.DatabaseName)

	var closed bool
	closeFn := func() {
		if closed {
			return
		}
		closed = true
		if err := store.Close(); err != nil {
			log.Printf("WARNING: close MongoDB: %v", err)
		}
	}

	if cfg.Migration.BlobBackend != config.BlobBackendMinIO {
		return store, store, closeFn
	}

	mc, err := objstore.NewClient(cfg.MinIO)
	if err != nil {
		closeFn()
		log.Fatalf("Failed to create MinIO client: %v", err)
	}
	if err := mc.EnsureBucket(ctx); err != nil {
		closeFn()
		log.Fatalf("Failed to connect to MinIO: %v", err)
	}
	log.Printf("Blob backend: MinIO %s", cfg.MinIO.Endpoint)
	return store, mc, closeFn
}

func serveMetrics(addr string, metrics *migrate.Metrics) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	log.Printf("Metrics listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Printf("WARNING: metrics server: %v", err)
	}
}
