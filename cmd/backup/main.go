// Command backup takes one full snapshot of a REDCap project, either into
// MinIO or into a local directory.
//
//	backup -project "CAPTIVA DC"                 # to MinIO
//	backup -project "CAPTIVA DC" -dir ./backups  # to a local directory
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"strings"

	"github.com/corelab-ris/capsync/internal/backup"
	"github.com/corelab-ris/capsync/internal/config"
	"github.com/corelab-ris/capsync/internal/redcap"
	"github.com/corelab-ris/capsync/internal/storage"
	"github.com/corelab-ris/capsync/pkg/logger"
)

func main() {
	project := flag.String("project", "", "project name (credentials section)")
	dir := flag.String("dir", "", "write the snapshot into this directory instead of MinIO")
	flag.Parse()

	logger.Init(os.Getenv("LOG_LEVEL"))

	if *project == "" {
		logger.Fatalf("usage: backup -project <name> [-dir <path>]")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatalf("failed to load config: %v", err)
	}
	tokens, err := config.ProjectTokens(cfg.RedCap.CredentialsFile)
	if err != nil {
		logger.Fatalf("failed to load credentials: %v", err)
	}
	token, ok := tokens[strings.ToLower(*project)]
	if !ok {
		logger.Fatalf("no token for project %q in %s", *project, cfg.RedCap.CredentialsFile)
	}

	client := redcap.New(cfg.RedCap.URL, token,
		redcap.WithRateLimit(cfg.RedCap.RequestsPerSecond, cfg.RedCap.Burst),
		redcap.WithHTTPClient(&http.Client{Timeout: cfg.RedCap.Timeout}))

	var sink backup.Sink
	if *dir != "" {
		sink = backup.DirSink{Root: *dir}
	} else {
		objStore, err := storage.NewMinIOStorage(storage.LoadMinIOConfig())
		if err != nil {
			logger.Fatalf("minio: %v", err)
		}
		sink = backup.StoreSink{Store: objStore}
	}

	m, err := backup.NewService(*project, client, sink).Run(context.Background())
	if err != nil {
		logger.Fatalf("backup failed: %v", err)
	}
	logger.Infof("snapshot complete: %d objects (%d attachments) under %s", len(m.Objects), m.FileCount, m.Prefix)
}
