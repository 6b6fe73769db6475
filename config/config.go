package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"obd-reader/elm327"
	"obd-reader/mqtt"
)

// EnvPrefix - префикс переменных окружения, например OBD_READER_SERIAL_PORT
const EnvPrefix = "OBD_READER"

// DefaultPaths - каталоги поиска obd-reader.yaml
var DefaultPaths = []string{".", "/etc/obd-reader"}

// Config представляет конфигурацию приложения
type Config struct {
	Serial  elm327.Config `mapstructure:"serial"`
	MQTT    mqtt.Config   `mapstructure:"mqtt"`
	Logging struct {
		Level string `mapstructure:"level"`
	} `mapstructure:"logging"`
}

func setDefaults(v *viper.Viper) {
	serial := elm327.DefaultConfig()
	v.SetDefault("serial.port", serial.Port)
	v.SetDefault("serial.baud_rate", serial.BaudRate)
	v.SetDefault("serial.timeout", serial.Timeout)
	v.SetDefault("serial.fast", serial.Fast)
	v.SetDefault("serial.init_commands", serial.InitCommands)

	broker := mqtt.DefaultConfig()
	v.SetDefault("mqtt.enabled", broker.Enabled)
	v.SetDefault("mqtt.broker", broker.Broker)
	v.SetDefault("mqtt.username", broker.Username)
	v.SetDefault("mqtt.password", broker.Password)
	v.SetDefault("mqtt.client_id", broker.ClientID)
	v.SetDefault("mqtt.topic", broker.Topic)
	v.SetDefault("mqtt.qos", broker.QoS)
	v.SetDefault("mqtt.keep_alive", broker.KeepAlive)
	v.SetDefault("mqtt.connect_timeout", broker.ConnectTimeout)
	v.SetDefault("mqtt.publish_timeout", broker.PublishTimeout)

	v.SetDefault("logging.level", "info")
}

// Load читает конфигурацию: значения по умолчанию, затем obd-reader.yaml
// из paths (если найден), затем переменные окружения.
// Отсутствие файла не является ошибкой.
func Load(paths ...string) (Config, error) {
	if len(paths) == 0 {
		paths = DefaultPaths
	}

	v := viper.New()
	setDefaults(v)

	v.SetConfigName("obd-reader")
	v.SetConfigType("yaml")
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return Config{}, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return Config{}, err
	}
	return config, nil
}

// Validate проверяет значения, с которыми невозможно работать
func (c Config) Validate() error {
	if c.Serial.BaudRate <= 0 {
		return fmt.Errorf("serial.baud_rate must be positive, got %d", c.Serial.BaudRate)
	}
	if c.Serial.Timeout <= 0 {
		return fmt.Errorf("serial.timeout must be positive, got %v", c.Serial.Timeout)
	}
	if len(c.Serial.InitCommands) == 0 {
		return errors.New("serial.init_commands must not be empty")
	}
	if c.MQTT.Enabled {
		if c.MQTT.Broker == "" {
			return errors.New("mqtt.broker is required when mqtt is enabled")
		}
		if c.MQTT.Topic == "" {
			return errors.New("mqtt.topic is required when mqtt is enabled")
		}
		if c.MQTT.QoS > 2 {
			return fmt.Errorf("mqtt.qos must be 0, 1 or 2, got %d", c.MQTT.QoS)
		}
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn or error, got %q", c.Logging.Level)
	}
	return nil
}
