package mqtt

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	mqttLib "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// ErrNotConnected - публикация без подключения к брокеру
var ErrNotConnected = errors.New("MQTT client not connected")

// Config представляет конфигурацию MQTT зеркала кадров
type Config struct {
	Enabled        bool          `mapstructure:"enabled"`         // Публиковать кадры в MQTT
	Broker         string        `mapstructure:"broker"`          // Адрес брокера, например "tcp://localhost:1883"
	Username       string        `mapstructure:"username"`        // Имя пользователя (опционально)
	Password       string        `mapstructure:"password"`        // Пароль (опционально)
	ClientID       string        `mapstructure:"client_id"`       // ID клиента (генерируется если пустой)
	Topic          string        `mapstructure:"topic"`           // Топик для кадров
	QoS            byte          `mapstructure:"qos"`             // Quality of Service (0, 1, 2)
	KeepAlive      time.Duration `mapstructure:"keep_alive"`      // Интервал keep alive
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"` // Таймаут подключения
	PublishTimeout time.Duration `mapstructure:"publish_timeout"` // Максимальное ожидание подтверждения публикации
}

// fallbackClientID используется, если не удалось получить случайные байты
const fallbackClientID = "obd-reader"

var randRead = rand.Read

// generateClientID генерирует случайный ID клиента
func generateClientID() string {
	bytes := make([]byte, 4)
	if _, err := randRead(bytes); err != nil {
		return fallbackClientID
	}
	return "obd-reader-" + hex.EncodeToString(bytes)
}

// DefaultConfig возвращает конфигурацию по умолчанию
func DefaultConfig() Config {
	return Config{
		Enabled:        false,
		Broker:         "tcp://localhost:1883",
		Topic:          "car/obd/frame",
		QoS:            0,
		KeepAlive:      60 * time.Second,
		ConnectTimeout: 10 * time.Second,
		PublishTimeout: 200 * time.Millisecond,
	}
}

// Client публикует кадры в MQTT
type Client struct {
	config     Config
	mqttClient mqttLib.Client
	logger     *zap.Logger
}

// NewClient создает клиента. Подключение выполняет Start.
func NewClient(config Config, logger *zap.Logger) *Client {
	if config.ClientID == "" {
		config.ClientID = generateClientID()
	}

	c := &Client{
		config: config,
		logger: logger.Named("mqtt"),
	}
	c.mqttClient = mqttLib.NewClient(c.options())
	return c
}

// newClientWith создает клиента поверх готового mqttLib.Client
func newClientWith(config Config, client mqttLib.Client, logger *zap.Logger) *Client {
	return &Client{
		config:     config,
		mqttClient: client,
		logger:     logger.Named("mqtt"),
	}
}

func (c *Client) options() *mqttLib.ClientOptions {
	opts := mqttLib.NewClientOptions()
	opts.AddBroker(c.config.Broker)
	opts.SetClientID(c.config.ClientID)
	opts.SetKeepAlive(c.config.KeepAlive)
	opts.SetConnectTimeout(c.config.ConnectTimeout)
	opts.SetAutoReconnect(true)

	// Устанавливаем аутентификацию если задана
	if c.config.Username != "" && c.config.Password != "" {
		opts.SetUsername(c.config.Username)
		opts.SetPassword(c.config.Password)
	}

	opts.SetOnConnectHandler(c.onConnectHandler)
	opts.SetConnectionLostHandler(c.onConnectionLostHandler)
	opts.SetReconnectingHandler(c.onReconnectingHandler)
	return opts
}

// Start подключается к брокеру
func (c *Client) Start() error {
	c.logger.Info("Starting MQTT client", zap.String("broker", c.config.Broker), zap.String("topic", c.config.Topic))

	token := c.mqttClient.Connect()
	if !token.WaitTimeout(c.config.ConnectTimeout) {
		return fmt.Errorf("failed to connect to MQTT broker %s: timeout after %v", c.config.Broker, c.config.ConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to connect to MQTT broker %s: %w", c.config.Broker, err)
	}

	c.logger.Info("MQTT client started")
	return nil
}

// Stop отключается от брокера
func (c *Client) Stop() {
	if c.mqttClient != nil && c.mqttClient.IsConnected() {
		c.mqttClient.Disconnect(250)
		c.logger.Info("MQTT client disconnected")
	}
}

func (c *Client) onConnectHandler(client mqttLib.Client) {
	c.logger.Info("Connected to MQTT broker")
}

func (c *Client) onConnectionLostHandler(client mqttLib.Client, err error) {
	c.logger.Warn("MQTT connection lost", zap.Error(err))
}

func (c *Client) onReconnectingHandler(client mqttLib.Client, opts *mqttLib.ClientOptions) {
	c.logger.Info("Attempting to reconnect to MQTT broker")
}

// Publish публикует кадр. Ждет подтверждения не дольше PublishTimeout,
// чтобы не задерживать цикл опроса.
func (c *Client) Publish(payload []byte) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	token := c.mqttClient.Publish(c.config.Topic, c.config.QoS, false, payload)
	if !token.WaitTimeout(c.config.PublishTimeout) {
		return fmt.Errorf("publish to %s: timeout after %v", c.config.Topic, c.config.PublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish to topic %s: %w", c.config.Topic, err)
	}
	return nil
}

// IsConnected возвращает true если клиент подключен к брокеру
func (c *Client) IsConnected() bool {
	return c.mqttClient != nil && c.mqttClient.IsConnected()
}
