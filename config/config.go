package config

import "github.com/caarlos0/env/v11"

type Config struct {
	Port           string   `env:"PORT" envDefault:"8080"`
	Environment    string   `env:"ENVIRONMENT" envDefault:"development"`
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost:3000,http://localhost:5173"`
	JWTSecret      string   `env:"JWT_SECRET" envDefault:"change-me-in-production"`

	// BusChannel is the single shared pub/sub channel every process
	// subscribes to.
	BusChannel string `env:"BUS_CHANNEL" envDefault:"relay:events"`

	// HistoryReplay is how many messages are replayed to a client right
	// after a successful handshake.
	HistoryReplay int `env:"HISTORY_REPLAY" envDefault:"50"`

	Redis RedisConfig `envPrefix:"REDIS_"`
	Blob  BlobConfig  `envPrefix:"BLOB_"`
}

type RedisConfig struct {
	Host     string `env:"HOST" envDefault:"localhost"`
	Port     string `env:"PORT" envDefault:"6379"`
	Password string `env:"PASSWORD" envDefault:""`
	DB       int    `env:"DB" envDefault:"0"`
}

type BlobConfig struct {
	Dir string `env:"DIR" envDefault:"./blobs"`
	// URLSecret signs time-limited download URLs.
	URLSecret string `env:"URL_SECRET" envDefault:"change-me-in-production"`
	// URLTTLSeconds is how long a signed download URL stays valid.
	URLTTLSeconds int `env:"URL_TTL" envDefault:"3600"`
}

func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
