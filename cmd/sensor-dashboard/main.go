package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	httpapi "github.com/i474232898/sensor-dashboard/internal/api/http"
	"github.com/i474232898/sensor-dashboard/internal/collector"
	"github.com/i474232898/sensor-dashboard/internal/config"
	"github.com/i474232898/sensor-dashboard/internal/logging"
	"github.com/i474232898/sensor-dashboard/internal/publish"
	"github.com/i474232898/sensor-dashboard/internal/readings"
	"github.com/i474232898/sensor-dashboard/internal/scheduler"
	"github.com/i474232898/sensor-dashboard/internal/store"
)

func main() {
	// Load configuration.
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("failed to load config: %v", err)
	}

	log := logging.New(cfg.LogLevel, cfg.LogFormat)

	sqliteStore, err := store.NewSQLiteStore(cfg.DBPath, log)
	if err != nil {
		log.WithError(err).Fatal("failed to open reading store")
	}
	defer sqliteStore.Close()

	resolver := readings.NewRangeResolver(cfg.StrictRange, nil)
	service := readings.NewService(sqliteStore, resolver, cfg.Location, log)

	if cfg.MQTT.Enabled() {
		client, err := publish.NewClient(cfg.MQTT.URL, "sensor-dashboard-"+uuid.NewString()[:8], log)
		if err != nil {
			// The dashboard works without the mirror.
			log.WithError(err).Warn("MQTT mirror disabled")
		} else {
			defer client.Disconnect(250)
			service.SetSink(publish.NewMQTTSink(client, cfg.MQTT.TopicPrefix))
		}
	}

	// Core collection loop.
	sched := scheduler.New(service, buildJobs(cfg, log), scheduler.Backoff{
		Base: cfg.Backoff.Base,
		Max:  cfg.Backoff.Max,
	}, collector.RequestBudget(cfg.HTTPTimeout), log)
	if err := sched.Start(); err != nil {
		log.WithError(err).Fatal("failed to start scheduler")
	}
	defer sched.Stop()

	app := fiber.New(fiber.Config{
		AppName:               "sensor-dashboard",
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          10 * time.Second,
		ErrorHandler:          httpapi.ErrorHandler,
	})

	// Global middleware
	app.Use(requestid.New(requestid.Config{Generator: uuid.NewString}))
	app.Use(fiberlogger.New(fiberlogger.Config{
		Format: "${time} ${locals:requestid} ${status} ${method} ${path} ${latency}\n",
		Output: log.Writer(),
	}))
	app.Use(recover.New())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"service": "sensor-dashboard",
		})
	})
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	httpapi.RegisterRoutes(app, service)

	go func() {
		log.WithField("port", cfg.Port).Info("http server listening")
		if err := app.Listen(":" + cfg.Port); err != nil {
			log.WithError(err).Error("fiber server stopped")
		}
	}()

	// Wait for termination signal
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.WithError(err).Error("error during shutdown")
	}
}

// buildJobs enables each collector whose credentials are configured. Each
// job's timeout covers the requests one run makes, retries included.
func buildJobs(cfg *config.AppConfig, log *logrus.Logger) []scheduler.Job {
	// Shared HTTP client for outbound vendor calls.
	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}
	request := collector.RequestBudget(cfg.HTTPTimeout)

	var jobs []scheduler.Job

	if cfg.Sensibo.Enabled() {
		// One request for the pod list plus one per pod. The pod count is
		// only known mid-run, so the run may use its whole period.
		jobs = append(jobs, scheduler.Job{
			Collector: collector.NewSensiboCollector(httpClient, cfg.Sensibo.APIKey, log),
			Interval:  cfg.Sensibo.Interval,
			Timeout:   max(cfg.Sensibo.Interval, 2*request),
		})
	}

	if cfg.Govee.Enabled() {
		jobs = append(jobs, scheduler.Job{
			Collector: collector.NewGoveeCollector(collector.NewBLEScanner(), cfg.Govee.Devices, cfg.Govee.ScanDuration, log),
			Interval:  cfg.Govee.Interval,
			Timeout:   cfg.Govee.ScanDuration + 5*time.Second,
		})
	}

	if cfg.Weather.Enabled() {
		geo := &collector.AddressGeocoder{
			City:    cfg.Weather.AQICity,
			State:   cfg.Weather.AQIState,
			Country: cfg.Weather.AQICountry,
			APIKey:  cfg.Weather.GeocoderAPIKey,
		}
		wu := collector.NewWeatherCollector(httpClient, cfg.Weather.StationID, cfg.Weather.APIKey, log).
			WithAirQuality(collector.NewOpenMeteoAirQuality(httpClient), geo)
		// Station observation, then air quality.
		jobs = append(jobs, scheduler.Job{Collector: wu, Interval: cfg.Weather.Interval, Timeout: 2 * request})
	}

	if cfg.Enphase.Enabled() {
		jobs = append(jobs, scheduler.Job{
			Collector: collector.NewEnphaseCollector(cfg.Enphase.Host, cfg.Enphase.Token, cfg.HTTPTimeout),
			Interval:  cfg.Enphase.Interval,
			Timeout:   request,
		})
	}

	for _, job := range jobs {
		log.WithField("collector", job.Collector.Name()).Info("collector enabled")
	}
	return jobs
}
