package elm327

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"go.bug.st/serial"
	"go.uber.org/zap"
)

var (
	// ErrNoAdapter - ни один из портов не ответил как ELM327
	ErrNoAdapter = errors.New("no ELM327 adapter found")
	// ErrTimeout - адаптер не прислал приглашение '>' вовремя
	ErrTimeout = errors.New("timed out waiting for ELM327 prompt")
	// ErrClosed - адаптер уже закрыт
	ErrClosed = errors.New("adapter closed")
)

// readSlice - максимальное время одного вызова Read.
// Между срезами проверяется контекст, поэтому отмена наблюдается не позже, чем через readSlice.
const readSlice = 100 * time.Millisecond

// candidatePrefixes задает порты, которые проверяются при автоопределении
var candidatePrefixes = []string{"/dev/ttyUSB", "/dev/ttyACM", "/dev/rfcomm"}

// Config представляет конфигурацию последовательного подключения к ELM327
type Config struct {
	Port         string        `mapstructure:"port"`          // Путь к порту, пустой - автоопределение
	BaudRate     int           `mapstructure:"baud_rate"`     // Скорость порта
	Timeout      time.Duration `mapstructure:"timeout"`       // Таймаут ожидания ответа на одну команду
	Fast         bool          `mapstructure:"fast"`          // Добавлять к OBD запросам ожидаемое число ответов
	InitCommands []string      `mapstructure:"init_commands"` // Команды инициализации ELM327
}

// DefaultConfig возвращает конфигурацию по умолчанию
func DefaultConfig() Config {
	return Config{
		BaudRate: 115200,
		Timeout:  1 * time.Second,
		Fast:     false,
		InitCommands: []string{
			"ATZ",   // Полный сброс
			"ATE0",  // Отключить эхо
			"ATL0",  // Отключить перевод строки
			"ATS1",  // Пробелы между байтами
			"ATH0",  // Без заголовков
			"ATSP0", // Автоматический выбор протокола
		},
	}
}

// Port - подмножество serial.Port, которое использует адаптер
type Port interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
	ResetInputBuffer() error
}

// OpenFunc открывает порт по имени
type OpenFunc func(name string, mode *serial.Mode) (Port, error)

// ListFunc возвращает список доступных портов
type ListFunc func() ([]string, error)

func openSerial(name string, mode *serial.Mode) (Port, error) {
	return serial.Open(name, mode)
}

// Adapter представляет открытое подключение к ELM327
type Adapter struct {
	config  Config
	port    Port
	name    string
	version string
	buf     []byte
	logger  *zap.Logger
}

// Open находит адаптер и выполняет его инициализацию.
// Блокируется, пока адаптер не ответит или не истечет таймаут.
func Open(ctx context.Context, config Config, logger *zap.Logger) (*Adapter, error) {
	return OpenWith(ctx, config, logger, openSerial, serial.GetPortsList)
}

// OpenWith работает как Open, но с заданными функциями открытия и перечисления портов
func OpenWith(ctx context.Context, config Config, logger *zap.Logger, open OpenFunc, list ListFunc) (*Adapter, error) {
	logger = logger.Named("elm327")

	names, err := candidates(config, list)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoAdapter, err)
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("%w: no candidate serial ports", ErrNoAdapter)
	}

	var lastErr error
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		logger.Info("Trying serial port", zap.String("port", name), zap.Int("baudRate", config.BaudRate))
		port, err := open(name, &serial.Mode{BaudRate: config.BaudRate})
		if err != nil {
			logger.Warn("Failed to open serial port", zap.String("port", name), zap.Error(err))
			lastErr = err
			continue
		}

		a := newAdapter(port, name, config, logger)
		if err := a.initialize(ctx); err != nil {
			a.Close()
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			logger.Warn("Port did not answer as ELM327", zap.String("port", name), zap.Error(err))
			lastErr = err
			continue
		}

		logger.Info("ELM327 connected", zap.String("port", name), zap.String("version", a.version))
		return a, nil
	}

	return nil, fmt.Errorf("%w (last error: %v)", ErrNoAdapter, lastErr)
}

// candidates возвращает порты для проверки в порядке перебора
func candidates(config Config, list ListFunc) ([]string, error) {
	if config.Port != "" {
		return []string{config.Port}, nil
	}

	ports, err := list()
	if err != nil {
		return nil, err
	}

	var names []string
	for _, p := range ports {
		for _, prefix := range candidatePrefixes {
			if strings.HasPrefix(p, prefix) {
				names = append(names, p)
				break
			}
		}
	}
	sort.Strings(names)
	return names, nil
}

func newAdapter(port Port, name string, config Config, logger *zap.Logger) *Adapter {
	return &Adapter{
		config: config,
		port:   port,
		name:   name,
		buf:    make([]byte, 128),
		logger: logger,
	}
}

// initialize выполняет инициализацию ELM327 после подключения
func (a *Adapter) initialize(ctx context.Context) error {
	if err := a.port.SetReadTimeout(readSlice); err != nil {
		return fmt.Errorf("set read timeout: %w", err)
	}
	if err := a.port.ResetInputBuffer(); err != nil {
		a.logger.Debug("Failed to flush input buffer", zap.Error(err))
	}

	for i, cmd := range a.config.InitCommands {
		a.logger.Debug("Sending init command",
			zap.Int("step", i+1), zap.Int("total", len(a.config.InitCommands)), zap.String("cmd", cmd))

		timeout := a.config.Timeout
		expect := "OK"
		if isReset(cmd) {
			// После сброса адаптер печатает баннер с версией
			timeout = 2 * a.config.Timeout
			expect = "ELM327"
		}

		lines, err := a.exchange(ctx, cmd, timeout)
		if err != nil {
			return fmt.Errorf("init command %s: %w", cmd, err)
		}

		reply := strings.Join(lines, " ")
		if !strings.Contains(strings.ToUpper(reply), expect) {
			return fmt.Errorf("init command %s: unexpected reply %q", cmd, reply)
		}
		if isReset(cmd) {
			a.version = bannerVersion(lines)
		}
	}

	return nil
}

// Send отправляет команду и возвращает строки ответа без эха и приглашения
func (a *Adapter) Send(ctx context.Context, cmd string) ([]string, error) {
	if a.config.Fast && isOBDRequest(cmd) {
		cmd += "1"
	}
	return a.exchange(ctx, cmd, a.config.Timeout)
}

func (a *Adapter) exchange(ctx context.Context, cmd string, timeout time.Duration) ([]string, error) {
	if a.port == nil {
		return nil, ErrClosed
	}

	// Опоздавший ответ на прошлую команду не должен попасть в этот
	if err := a.port.ResetInputBuffer(); err != nil {
		a.logger.Debug("Failed to flush input buffer", zap.Error(err))
	}

	if _, err := a.port.Write([]byte(cmd + "\r")); err != nil {
		return nil, fmt.Errorf("write %q: %w", cmd, err)
	}

	raw, err := a.readUntilPrompt(ctx, timeout)
	if err != nil {
		return nil, fmt.Errorf("read reply to %q: %w", cmd, err)
	}

	lines := splitLines(raw, cmd)
	a.logger.Debug("ELM327 exchange", zap.String("cmd", cmd), zap.Strings("reply", lines))
	return lines, nil
}

// readUntilPrompt читает до символа '>' (конец ответа ELM327)
func (a *Adapter) readUntilPrompt(ctx context.Context, timeout time.Duration) ([]byte, error) {
	deadline := time.Now().Add(timeout)
	var resp []byte

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if time.Now().After(deadline) {
			return nil, ErrTimeout
		}

		n, err := a.port.Read(a.buf)
		if err != nil {
			return nil, err
		}
		if n == 0 {
			continue
		}

		resp = append(resp, a.buf[:n]...)
		if i := bytes.IndexByte(resp, '>'); i >= 0 {
			return resp[:i], nil
		}
	}
}

// Close закрывает порт. Повторный вызов ничего не делает.
func (a *Adapter) Close() error {
	if a.port == nil {
		return nil
	}
	err := a.port.Close()
	a.port = nil
	a.logger.Info("ELM327 port closed", zap.String("port", a.name))
	return err
}

// Name возвращает путь к порту
func (a *Adapter) Name() string {
	return a.name
}

// Version возвращает баннер адаптера, например "ELM327 v1.5"
func (a *Adapter) Version() string {
	return a.version
}

// splitLines разбивает ответ на строки, убирая эхо команды и служебные сообщения
func splitLines(raw []byte, echo string) []string {
	raw = bytes.ReplaceAll(raw, []byte{0}, nil)

	var lines []string
	for _, line := range strings.FieldsFunc(string(raw), func(r rune) bool { return r == '\r' || r == '\n' }) {
		line = strings.TrimSpace(line)
		if line == "" || strings.EqualFold(line, echo) || line == "SEARCHING..." {
			continue
		}
		lines = append(lines, line)
	}
	return lines
}

func isReset(cmd string) bool {
	cmd = strings.ToUpper(cmd)
	return cmd == "ATZ" || cmd == "ATWS"
}

// isOBDRequest проверяет, что команда - это запрос режима/PID, например "010C"
func isOBDRequest(cmd string) bool {
	if len(cmd) != 4 {
		return false
	}
	for _, r := range cmd {
		if !strings.ContainsRune("0123456789ABCDEFabcdef", r) {
			return false
		}
	}
	return true
}

func bannerVersion(lines []string) string {
	for _, line := range lines {
		if strings.Contains(strings.ToUpper(line), "ELM327") {
			return line
		}
	}
	return ""
}
