// Command processor-service is the underwriting processing engine: it
// consumes the six broker topics that feed the five workflows, runs them through the
// orchestrator, and exposes a metrics server and a thin HTTP trigger
// facade alongside it (spec.md §6 "Message flow").
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/jude-scai/processor/internal/config"
	"github.com/jude-scai/processor/internal/database"
	"github.com/jude-scai/processor/internal/logging"
	"github.com/jude-scai/processor/pkg/broker"
	"github.com/jude-scai/processor/pkg/consolidation"
	"github.com/jude-scai/processor/pkg/execution"
	"github.com/jude-scai/processor/pkg/filtration"
	"github.com/jude-scai/processor/pkg/httpapi"
	"github.com/jude-scai/processor/pkg/metrics"
	"github.com/jude-scai/processor/pkg/orchestrator"

	// Registers every known processor kind via init() (spec.md §3
	// "Processor registration").
	_ "github.com/jude-scai/processor/pkg/processors"
	"github.com/jude-scai/processor/pkg/repository"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync() //nolint:errcheck
	defer zap.ReplaceGlobals(logger)()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("processor-service exited with error", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	dbCfg := &database.Config{
		Host:            cfg.Postgres.Host,
		Port:            cfg.Postgres.Port,
		User:            cfg.Postgres.User,
		Password:        cfg.Postgres.Password,
		Database:        cfg.Postgres.Database,
		SSLMode:         cfg.Postgres.SSLMode,
		MaxOpenConns:    cfg.Postgres.MaxOpenConns,
		MaxIdleConns:    cfg.Postgres.MaxIdleConns,
		ConnMaxLifetime: cfg.Postgres.ConnMaxLifetime,
		ConnectTimeout:  cfg.Postgres.ConnectTimeout,
	}
	db, err := database.Connect(dbCfg, logger)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()

	underwritingRepo := repository.NewUnderwritingRepository(db)
	processorRepo := repository.NewProcessorRepository(db)
	executionRepo := repository.NewExecutionRepository(db)
	factorRepo := repository.NewFactorRepository(db)
	workflowLogRepo := repository.NewWorkflowLogRepository(db)

	filtrationSvc := filtration.NewService(underwritingRepo, processorRepo, executionRepo)
	executionSvc := execution.NewService(executionRepo, processorRepo, logger, cfg.Execution.WorkerPoolSize)
	consolidationSvc := consolidation.NewService(processorRepo, executionRepo, factorRepo, logger)

	orch := orchestrator.New(
		underwritingRepo,
		filtrationSvc,
		executionSvc,
		consolidationSvc,
		executionRepo,
		processorRepo,
		factorRepo,
		workflowLogRepo,
		logger,
	)

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.Broker.Addr})
	defer redisClient.Close()

	msgBroker := broker.New(redisClient, cfg.Broker.ConsumerGroup, logger)
	subscriber := broker.NewSubscriber(redisClient, cfg.Broker.ConsumerName, cfg.Broker.ConsumerGroup, logger)

	registerWorkflows(subscriber, orch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	topics := []broker.Topic{
		broker.TopicUnderwritingUpdated,
		broker.TopicDocumentAnalyzed,
		broker.TopicProcessorExecute,
		broker.TopicProcessorConsolidation,
		broker.TopicExecutionActivate,
		broker.TopicExecutionDisable,
	}
	for _, topic := range topics {
		if err := msgBroker.EnsureGroup(ctx, topic); err != nil {
			return fmt.Errorf("ensure consumer group for %s: %w", topic, err)
		}
	}

	subErrCh := make(chan error, 1)
	go func() {
		subErrCh <- subscriber.Run(ctx)
	}()

	if cfg.Scheduler.Enabled {
		scheduler := orchestrator.NewScheduler(underwritingRepo, msgBroker, logger, cfg.Scheduler.Interval, cfg.Scheduler.StalenessWindow)
		go scheduler.Run(ctx)
	}

	metricsServer := metrics.NewServer("9090", logger)
	metricsServer.StartAsync()

	triggerServer := &http.Server{
		Addr:    ":" + cfg.HTTP.Port,
		Handler: httpapi.NewRouter(msgBroker, logger),
	}
	go func() {
		if err := triggerServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("trigger http server failed", zap.Error(err))
		}
	}()

	logger.Info("processor-service started",
		zap.String("http_port", cfg.HTTP.Port),
		zap.String("broker_addr", cfg.Broker.Addr),
		zap.Int("worker_pool_size", cfg.Execution.WorkerPoolSize),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
	case err := <-subErrCh:
		if err != nil {
			logger.Error("subscriber loop exited", zap.Error(err))
		}
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := triggerServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("trigger server shutdown error", zap.Error(err))
	}
	if err := metricsServer.Stop(shutdownCtx); err != nil {
		logger.Warn("metrics server shutdown error", zap.Error(err))
	}

	return nil
}

// registerWorkflows wires each topic to its workflow handler, extracting
// the relevant id(s) out of the message payload (spec.md §6 "Message
// topics").
func registerWorkflows(sub *broker.Subscriber, orch *orchestrator.Orchestrator) {
	sub.On(broker.TopicUnderwritingUpdated, func(ctx context.Context, msg broker.Message) error {
		var payload struct {
			UnderwritingID uuid.UUID `json:"underwriting_id"`
		}
		if err := decode(msg, &payload); err != nil {
			return err
		}
		_, err := orch.HandleWorkflow1(ctx, payload.UnderwritingID)
		return err
	})

	sub.On(broker.TopicDocumentAnalyzed, func(ctx context.Context, msg broker.Message) error {
		var payload struct {
			UnderwritingID uuid.UUID `json:"underwriting_id"`
		}
		if err := decode(msg, &payload); err != nil {
			return err
		}
		_, err := orch.HandleWorkflow1(ctx, payload.UnderwritingID)
		return err
	})

	sub.On(broker.TopicProcessorExecute, func(ctx context.Context, msg broker.Message) error {
		var payload struct {
			UnderwritingProcessorID uuid.UUID      `json:"underwriting_processor_id"`
			ExecutionID             *uuid.UUID      `json:"execution_id,omitempty"`
			Duplicate               bool            `json:"duplicate,omitempty"`
			ApplicationForm         map[string]any  `json:"application_form,omitempty"`
			DocumentList            []string        `json:"document_list,omitempty"`
		}
		if err := decode(msg, &payload); err != nil {
			return err
		}
		_, err := orch.HandleWorkflow2(ctx, payload.UnderwritingProcessorID, orchestrator.Workflow2Input{
			ExecutionID:     payload.ExecutionID,
			Duplicate:       payload.Duplicate,
			ApplicationForm: payload.ApplicationForm,
			DocumentList:    payload.DocumentList,
		})
		return err
	})

	sub.On(broker.TopicProcessorConsolidation, func(ctx context.Context, msg broker.Message) error {
		var payload struct {
			UnderwritingProcessorID uuid.UUID `json:"underwriting_processor_id"`
		}
		if err := decode(msg, &payload); err != nil {
			return err
		}
		_, err := orch.HandleWorkflow3(ctx, payload.UnderwritingProcessorID)
		return err
	})

	sub.On(broker.TopicExecutionActivate, func(ctx context.Context, msg broker.Message) error {
		var payload struct {
			ExecutionID uuid.UUID `json:"execution_id"`
		}
		if err := decode(msg, &payload); err != nil {
			return err
		}
		_, err := orch.HandleWorkflow4(ctx, payload.ExecutionID)
		return err
	})

	sub.On(broker.TopicExecutionDisable, func(ctx context.Context, msg broker.Message) error {
		var payload struct {
			ExecutionID uuid.UUID `json:"execution_id"`
		}
		if err := decode(msg, &payload); err != nil {
			return err
		}
		_, err := orch.HandleWorkflow5(ctx, payload.ExecutionID)
		return err
	})
}

func decode(msg broker.Message, v any) error {
	return json.Unmarshal(msg.Payload, v)
}
