package poller

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"obd-reader/obd"
)

// Interval - пауза после каждого такта. Период равен времени опроса плюс Interval.
const Interval = 500 * time.Millisecond

// Querier выполняет один OBD запрос. Реализуется obd.Connection.
type Querier interface {
	Query(ctx context.Context, cmd obd.Command, force bool) obd.Response
}

// Publisher получает копию каждого кадра, например для MQTT
type Publisher interface {
	Publish(payload []byte) error
}

// Poller опрашивает параметры и пишет по одной JSON строке на такт
type Poller struct {
	querier   Querier
	out       io.Writer
	interval  time.Duration
	publisher Publisher
	logger    *zap.Logger
}

// Option настраивает Poller
type Option func(*Poller)

// WithInterval задает паузу между тактами
func WithInterval(d time.Duration) Option {
	return func(p *Poller) {
		p.interval = d
	}
}

// WithPublisher добавляет получателя копий кадров
func WithPublisher(pub Publisher) Option {
	return func(p *Poller) {
		p.publisher = pub
	}
}

// New создает Poller, пишущий кадры в out
func New(querier Querier, out io.Writer, logger *zap.Logger, opts ...Option) *Poller {
	p := &Poller{
		querier:  querier,
		out:      out,
		interval: Interval,
		logger:   logger.Named("poller"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run работает до отмены ctx (возвращает nil) или до ошибки записи.
func (p *Poller) Run(ctx context.Context) error {
	p.logger.Info("Starting poll loop", zap.Duration("interval", p.interval), zap.Int("params", len(Params)))

	timer := time.NewTimer(p.interval)
	defer timer.Stop()

	for ticks := 0; ; ticks++ {
		if ctx.Err() != nil {
			p.logger.Info("Poll loop stopped", zap.Int("frames", ticks))
			return nil
		}

		frame, ok := p.Tick(ctx)
		if !ok {
			// Такт прерван отменой: неполный кадр не печатается
			p.logger.Info("Poll loop stopped", zap.Int("frames", ticks))
			return nil
		}

		if err := p.emit(frame); err != nil {
			return err
		}

		timer.Reset(p.interval)
		select {
		case <-ctx.Done():
			p.logger.Info("Poll loop stopped", zap.Int("frames", ticks+1))
			return nil
		case <-timer.C:
		}
	}
}

// Tick опрашивает все параметры по порядку.
// ok=false, если ctx отменен во время опроса.
func (p *Poller) Tick(ctx context.Context) (frame Frame, ok bool) {
	for i, param := range Params {
		if ctx.Err() != nil {
			return Frame{}, false
		}

		resp := p.querier.Query(ctx, param.Command, true)
		if v, defined := Normalize(resp.Value); defined {
			frame.Set(i, v)
		}
	}

	if ctx.Err() != nil {
		return Frame{}, false
	}
	return frame, true
}

// emit пишет кадр одной строкой одним вызовом Write
func (p *Poller) emit(frame Frame) error {
	payload, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("failed to marshal frame: %w", err)
	}

	line := make([]byte, 0, len(payload)+1)
	line = append(line, payload...)
	line = append(line, '\n')
	if _, err := p.out.Write(line); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	p.logger.Debug("Frame written", zap.Int("values", frame.Len()))

	if p.publisher != nil {
		if err := p.publisher.Publish(payload); err != nil {
			p.logger.Warn("Failed to publish frame", zap.Error(err))
		}
	}
	return nil
}
