package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/corelab-ris/capsync/handlers"
	"github.com/corelab-ris/capsync/internal/backup"
	"github.com/corelab-ris/capsync/internal/config"
	"github.com/corelab-ris/capsync/internal/database"
	"github.com/corelab-ris/capsync/internal/lock"
	"github.com/corelab-ris/capsync/internal/redcap"
	"github.com/corelab-ris/capsync/internal/storage"
	"github.com/corelab-ris/capsync/internal/store"
	syncsvc "github.com/corelab-ris/capsync/internal/sync"
	"github.com/corelab-ris/capsync/pkg/logger"
	"github.com/corelab-ris/capsync/pkg/metrics"
	"github.com/corelab-ris/capsync/pkg/middleware"
)

var startTime = time.Now()

func main() {
	// initialize logging (can be controlled with LOG_LEVEL env: debug|info|warn|error|fatal)
	logger.Init(os.Getenv("LOG_LEVEL"))

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatalf("failed to load config: %v", err)
	}
	logger.Infof("config loaded: redcap=%v mongo=%v redis=%v", cfg.RedCap.URL != "", cfg.MongoDB.URI != "", cfg.Redis.Host != "")

	tokens, err := config.ProjectTokens(cfg.RedCap.CredentialsFile)
	if err != nil {
		logger.Warnf("no REDCap credentials loaded from %s: %v", cfg.RedCap.CredentialsFile, err)
		tokens = map[string]string{}
	}
	logger.Infof("loaded tokens for %d project(s)", len(tokens))

	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())

	// Connect to Redis early so the rate limiter and the sync lock can use it
	var redisClient *redis.Client
	if cfg.Redis.Host != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.Redis.Host + ":" + cfg.Redis.Port, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			logger.Warnf("failed to connect to Redis (%s:%s): %v", cfg.Redis.Host, cfg.Redis.Port, err)
			redisClient = nil
		} else {
			logger.Infof("connected to Redis at %s:%s", cfg.Redis.Host, cfg.Redis.Port)
		}
	}

	if cfg.RateLimit.Enabled {
		if cfg.RateLimit.UseRedis && redisClient != nil {
			win := time.Duration(cfg.RateLimit.WindowSeconds) * time.Second
			r.Use(middleware.RedisRateLimitMiddleware(redisClient, cfg.RateLimit.RPS, cfg.RateLimit.Burst, win))
		} else {
			r.Use(middleware.RateLimitMiddleware(cfg.RateLimit.RPS, cfg.RateLimit.Burst))
		}
	}

	// MongoDB with retry/backoff to tolerate startup races
	ctx := context.Background()
	var mongoClient *mongo.Client
	var st *store.Store
	if cfg.MongoDB.URI != "" {
		const maxAttempts = 5
		backoff := time.Second
		var errConn error
		for attempt := 1; attempt <= maxAttempts; attempt++ {
			mongoClient, errConn = database.ConnectMongo(ctx, cfg.MongoDB.URI, cfg.MongoDB.Timeout)
			if errConn == nil {
				break
			}
			logger.Warnf("attempt %d/%d: failed to connect to MongoDB: %v", attempt, maxAttempts, errConn)
			if attempt < maxAttempts {
				time.Sleep(backoff)
				backoff *= 2
			}
		}
		if errConn != nil {
			logger.Warnf("could not connect to MongoDB after %d attempts: %v", maxAttempts, errConn)
		} else {
			defer func() { _ = mongoClient.Disconnect(ctx) }()
			st = store.New(mongoClient.Database(cfg.MongoDB.Database))
			logger.Infof("connected to MongoDB database %s", cfg.MongoDB.Database)
		}
	}

	// MinIO is optional for the admin service; backups fall back to the CLI
	var objStore *storage.MinIOStorage
	if mc := storage.LoadMinIOConfig(); mc.Endpoint != "" {
		objStore, err = storage.NewMinIOStorage(mc)
		if err != nil {
			logger.Warnf("minio unavailable: %v", err)
			objStore = nil
		}
	}

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "healthy")
	})

	// readiness: 200 only when the dependencies the sync routes need are up
	r.GET("/ready", func(c *gin.Context) {
		ready := true
		deps := map[string]bool{}

		deps["mongodb"] = st != nil
		if st == nil {
			ready = false
		}
		deps["redis"] = redisClient != nil
		if redisClient == nil {
			ready = false
		}
		deps["tokens"] = len(tokens) > 0
		if len(tokens) == 0 {
			ready = false
		}
		if objStore != nil {
			pctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			deps["minio"] = objStore.Ping(pctx) == nil
		}

		status := gin.H{"deps": deps, "uptime": time.Since(startTime).String()}
		if !ready {
			status["status"] = "not_ready"
			c.JSON(http.StatusServiceUnavailable, status)
			return
		}
		status["status"] = "ready"
		c.JSON(http.StatusOK, status)
	})

	if st != nil && redisClient != nil {
		locker := lock.NewLocker(redisClient, 30*time.Minute)
		newRunner := func(project string) (handlers.Runner, error) {
			// credential sections are lowercased by the INI reader
			token, ok := tokens[strings.ToLower(project)]
			if !ok {
				return nil, fmt.Errorf("no token for project %q", project)
			}
			client := redcap.New(cfg.RedCap.URL, token,
				redcap.WithRateLimit(cfg.RedCap.RequestsPerSecond, cfg.RedCap.Burst),
				redcap.WithHTTPClient(&http.Client{Timeout: cfg.RedCap.Timeout}))
			return syncsvc.NewService(project, client, syncsvc.FromStore(st)), nil
		}
		handlers.NewSyncHandler(newRunner, locker, st.BackupInfo).Register(r.Group("/"))
	} else {
		logger.Warnf("sync routes not registered because MongoDB or Redis is unavailable")
	}

	if st != nil {
		r.GET("/audit", func(c *gin.Context) {
			entries, err := st.Audit.Recent(c.Request.Context(), 100)
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusOK, gin.H{"entries": entries})
		})
	}

	if objStore != nil {
		r.GET("/backups/:project", func(c *gin.Context) {
			keys, err := objStore.ListPrefix(c.Request.Context(), backup.Slug(c.Param("project"))+"/")
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusOK, gin.H{"project": c.Param("project"), "objects": keys})
		})
		r.GET("/backups/:project/url", func(c *gin.Context) {
			key := c.Query("key")
			if key == "" || !strings.HasPrefix(key, backup.Slug(c.Param("project"))+"/") {
				c.JSON(http.StatusBadRequest, gin.H{"error": "key must belong to the project prefix"})
				return
			}
			u, err := objStore.GetPresignedURL(c.Request.Context(), key, 15*time.Minute)
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusOK, gin.H{"url": u})
		})
	}

	handlers.RegisterSwagger(r)

	metrics.RegisterCollectors(prometheus.DefaultRegisterer)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	logger.Infof("starting capsync admin service on %s", addr)
	if err := r.Run(addr); err != nil {
		logger.Fatalf("server failed: %v", err)
	}
}
