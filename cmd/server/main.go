package main

import (
	"fmt"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"agentdeck/config"
	"agentdeck/internal/cache"
	"agentdeck/internal/events"
	"agentdeck/internal/handler"
	"agentdeck/internal/monitor"
	"agentdeck/internal/queue"
	"agentdeck/internal/router"
	"agentdeck/internal/service"
	"agentdeck/internal/storage"
	"agentdeck/internal/syncer"
	"agentdeck/log"
	"agentdeck/pkg/agentapi"
	"agentdeck/pkg/githubsearch"
	"agentdeck/pkg/npmsearch"
)

func main() {
	log.InitLogger()
	defer log.GetLogger().Sync()

	created, err := config.LoadOrCreateConfig()
	if err != nil {
		log.GetLogger().Error("failed to load config", zap.Error(err))
		os.Exit(1)
	}
	if created {
		path, _ := config.ResolveConfigPath()
		log.GetLogger().Info("wrote default config, fill in the agent section and restart",
			zap.String("path", path))
		return
	}
	if err := config.CheckConfig(); err != nil {
		log.GetLogger().Error("invalid config", zap.Error(err))
		os.Exit(1)
	}

	db, err := storage.OpenDefault()
	if err != nil {
		log.GetLogger().Error("failed to open database", zap.Error(err))
		os.Exit(1)
	}

	apiClient := agentapi.NewClient(
		config.Conf.Agent.BaseUrl,
		config.Conf.Agent.ApiKey,
		time.Duration(config.Conf.Agent.TimeoutSecond)*time.Second,
	)
	runCache := cache.New(storage.NewGormKV(db))
	bus := events.NewBus()

	mon := monitor.New(apiClient, runCache, bus, monitor.Config{
		Tick:             time.Duration(config.Conf.Monitor.TickSecond) * time.Second,
		ActiveInterval:   time.Duration(config.Conf.Monitor.ActiveIntervalSecond) * time.Second,
		TerminalInterval: time.Duration(config.Conf.Monitor.TerminalIntervalSecond) * time.Second,
		MaxRetries:       config.Conf.Monitor.MaxRetries,
		RetryBaseDelay:   time.Duration(config.Conf.Monitor.RetryBaseDelaySecond) * time.Second,
	})
	defer mon.Stop()

	orgSyncer := syncer.New(apiClient, runCache)

	var taskQueue *queue.Queue
	if config.Conf.Queue.Enabled {
		taskQueue = queue.NewQueue(queue.QueueConfig{
			RedisAddr:     config.Conf.Queue.RedisAddr,
			RedisPassword: config.Conf.Queue.RedisPassword,
			RedisDB:       config.Conf.Queue.RedisDB,
			Concurrency:   config.Conf.Queue.Concurrency,
		})
		defer taskQueue.Close()

		go func() {
			if err := queue.StartWorker(taskQueue, orgSyncer); err != nil {
				log.GetLogger().Error("queue worker exited", zap.Error(err))
			}
		}()
	}

	svc := service.NewService(
		apiClient, runCache, bus, mon, orgSyncer,
		githubsearch.NewClient(config.Conf.Github.BaseUrl, config.Conf.Github.Token, 15*time.Second),
		npmsearch.NewClient(config.Conf.Npm.RegistryUrl, 15*time.Second),
		taskQueue,
	)

	// Resume monitoring of runs that were still in flight when the
	// process last stopped.
	organizationId := config.Conf.Agent.OrganizationId
	for _, run := range runCache.GetEntities(organizationId) {
		if run.Status.IsActive() {
			mon.TrackRun(organizationId, run.Id, run.Status)
		}
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.Default()
	router.SetupRouter(engine, handler.NewHandler(svc, bus))

	addr := fmt.Sprintf("%s:%d", config.Conf.Server.Host, config.Conf.Server.Port)
	log.GetLogger().Info("server listening", zap.String("addr", addr))
	if err := engine.Run(addr); err != nil {
		log.GetLogger().Error("server exited", zap.Error(err))
		os.Exit(1)
	}
}
