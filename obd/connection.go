package obd

import (
	"context"
	"time"

	"go.uber.org/zap"

	"obd-reader/common"
)

// Transport отправляет команду адаптеру и возвращает строки ответа.
// Реализуется elm327.Adapter.
type Transport interface {
	Send(ctx context.Context, cmd string) ([]string, error)
	Close() error
}

// Response - результат одного запроса
type Response struct {
	Command Command
	Value   common.Value
	Raw     []string
	Time    time.Time
}

// IsNull возвращает true, если запрос не дал данных
func (r Response) IsNull() bool {
	if r.Value == nil {
		return true
	}
	_, ok := r.Value.(common.Null)
	return ok
}

// Connection представляет сессию с автомобилем поверх транспорта
type Connection struct {
	transport Transport
	supported map[string]bool
	logger    *zap.Logger
}

// Connect опрашивает битовые карты поддерживаемых PID.
// Молчащая шина автомобиля не считается ошибкой: возвращается только ошибка контекста.
func Connect(ctx context.Context, transport Transport, logger *zap.Logger) (*Connection, error) {
	c := &Connection{
		transport: transport,
		supported: make(map[string]bool),
		logger:    logger.Named("obd"),
	}

	for _, bitmap := range Commands {
		if !isPIDBitmap(bitmap) {
			continue
		}
		if bitmap.PID != 0 && !c.Supports(bitmap) {
			break
		}

		resp := c.Query(ctx, bitmap, true)
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if resp.IsNull() {
			if bitmap.PID == 0 {
				c.logger.Warn("Vehicle did not answer supported PIDs request, queries may return no data")
			}
			break
		}
		c.markSupported(bitmap.PID, resp.Value)
	}

	c.logger.Info("OBD connection ready", zap.Int("supportedPIDs", len(c.supported)))
	return c, nil
}

func (c *Connection) markSupported(base byte, value common.Value) {
	bits, ok := value.(common.Number)
	if !ok {
		return
	}
	mask := uint32(bits)
	for i := 0; i < 32; i++ {
		if mask&(1<<(31-i)) == 0 {
			continue
		}
		pid := base + byte(i) + 1
		code := Command{Mode: 0x01, PID: pid}.String()
		c.supported[code] = true
		if known, ok := Lookup(code); ok {
			c.logger.Debug("Vehicle supports command", zap.String("cmd", known.Name), zap.String("code", code))
		}
	}
}

// Supports сообщает, заявлена ли команда автомобилем как поддерживаемая
func (c *Connection) Supports(cmd Command) bool {
	if cmd.Mode == 0x01 && cmd.PID == 0 {
		return true
	}
	return c.supported[cmd.String()]
}

// Query выполняет запрос. С force=true запрос отправляется даже для PID,
// не заявленных как поддерживаемые. Любая ошибка дает Null.
func (c *Connection) Query(ctx context.Context, cmd Command, force bool) Response {
	resp := Response{Command: cmd, Value: common.Null{}, Time: time.Now()}

	if !force && !c.Supports(cmd) {
		c.logger.Debug("Command not supported by vehicle", zap.String("cmd", cmd.Name))
		return resp
	}

	lines, err := c.transport.Send(ctx, cmd.String())
	if err != nil {
		c.logger.Debug("Query failed", zap.String("cmd", cmd.Name), zap.Error(err))
		return resp
	}
	resp.Raw = lines

	value, err := ParseResponse(cmd, lines)
	if err != nil {
		c.logger.Debug("Failed to parse response", zap.String("cmd", cmd.Name), zap.Strings("raw", lines), zap.Error(err))
		return resp
	}

	resp.Value = value
	return resp
}

// Close закрывает транспорт
func (c *Connection) Close() error {
	return c.transport.Close()
}
