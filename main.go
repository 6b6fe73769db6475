package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"obd-reader/config"
	"obd-reader/elm327"
	"obd-reader/logger"
	"obd-reader/mqtt"
	"obd-reader/obd"
	"obd-reader/poller"
)

// dialFunc открывает транспорт к адаптеру
type dialFunc func(ctx context.Context, config elm327.Config, log *zap.Logger) (obd.Transport, error)

func dialSerial(ctx context.Context, config elm327.Config, log *zap.Logger) (obd.Transport, error) {
	adapter, err := elm327.Open(ctx, config, log)
	if err != nil {
		return nil, err
	}
	return adapter, nil
}

// run возвращает код завершения процесса
func run(ctx context.Context, stdout, stderr io.Writer, dial dialFunc) int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log, err := logger.New(cfg.Logging.Level, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to create logger: %v\n", err)
		return 1
	}
	defer log.Sync()

	// Родительский процесс посылает SIGINT при закрытии окна
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, unix.SIGTERM)
	defer stop()

	transport, err := dial(ctx, cfg.Serial, log)
	if err != nil {
		if ctx.Err() != nil {
			log.Info("Interrupted while connecting")
			return 0
		}
		log.Error("Failed to connect to OBD adapter", zap.Error(err))
		return 1
	}
	defer transport.Close()

	conn, err := obd.Connect(ctx, transport, log)
	if err != nil {
		log.Info("Interrupted while probing vehicle", zap.Error(err))
		return 0
	}

	var opts []poller.Option
	if cfg.MQTT.Enabled {
		client := mqtt.NewClient(cfg.MQTT, log)
		if err := client.Start(); err != nil {
			log.Warn("MQTT mirror disabled", zap.Error(err))
		} else {
			defer client.Stop()
			opts = append(opts, poller.WithPublisher(client))
		}
	}

	if err := poller.New(conn, stdout, log, opts...).Run(ctx); err != nil {
		log.Error("Poll loop failed", zap.Error(err))
		return 1
	}

	log.Info("Shutting down")
	return 0
}

func main() {
	os.Exit(run(context.Background(), os.Stdout, os.Stderr, dialSerial))
}
