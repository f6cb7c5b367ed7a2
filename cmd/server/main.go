package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/Brownie44l1/tumor-api/internal/config"
	"github.com/Brownie44l1/tumor-api/internal/handlers"
	"github.com/Brownie44l1/tumor-api/internal/imaging"
	"github.com/Brownie44l1/tumor-api/internal/logger"
	"github.com/Brownie44l1/tumor-api/internal/model"
	"github.com/Brownie44l1/tumor-api/internal/pipeline"
	"github.com/Brownie44l1/tumor-api/internal/upload"
)

func main() {
	cfg, err := config.Load(config.ParseConfigFlag())
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	l := logger.New(cfg.Server.Debug)
	defer func() { _ = l.Sync() }()

	if err := run(cfg, l); err != nil {
		l.Fatal("server failed", zap.Error(err))
	}
}

func run(cfg *config.AppConfig, l *zap.Logger) error {
	runtime, err := model.NewRuntime(cfg.ONNX, l)
	if err != nil {
		return err
	}
	defer runtime.Close()

	renderer, err := imaging.NewRenderer()
	if err != nil {
		return err
	}

	tasks := []struct {
		name string
		cfg  config.TaskConfig
	}{
		{"brain", cfg.Models.Brain},
		{"bone", cfg.Models.Bone},
	}

	endpoints := make([]handlers.Endpoint, 0, len(tasks))
	for _, t := range tasks {
		task := model.Task{Name: t.name, WeightsPath: t.cfg.Path, Labels: t.cfg.Labels}

		l.Info("loading model", zap.String("task", task.Name), zap.String("path", task.WeightsPath))
		network, err := runtime.Load(task)
		if err != nil {
			return errors.Wrapf(err, "load %s model", task.Name)
		}
		defer network.Close()

		endpoints = append(endpoints, handlers.Endpoint{
			Route:    t.cfg.Route,
			Pipeline: pipeline.New(task, network, renderer, l),
		})
	}

	store, err := upload.NewStore(cfg.Upload, l)
	if err != nil {
		return err
	}

	h := handlers.NewHandler(store, endpoints, runtime.Device(), l)
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: handlers.NewRouter(h, cfg.Server.MaxUploadBytes, l),
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		l.Info("server starting",
			zap.Int("port", cfg.Server.Port),
			zap.String("device", runtime.Device()),
			zap.String("brain_route", cfg.Models.Brain.Route),
			zap.String("bone_route", cfg.Models.Bone.Route))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	l.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "shutdown")
	}
	return <-errCh
}
