package config

import (
	"log"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type (
	Config struct {
		HTTP        HTTP        `envPrefix:"HTTP_"`
		Logger      Logger      `envPrefix:"LOGGER_"`
		Telemetry   Telemetry   `envPrefix:"TELEMETRY_"`
		Redis       Redis       `envPrefix:"REDIS_"`
		Backend     Backend     `envPrefix:"BACKEND_"`
		Store       Store       `envPrefix:"STORE_"`
		Render      Render      `envPrefix:"RENDER_"`
		Session     Session     `envPrefix:"SESSION_"`
		Interaction Interaction `envPrefix:"INTERACTION_"`
		CORS        CORS        `envPrefix:"CORS_"`
	}

	HTTP struct {
		Server  Server        `envPrefix:"SERVER_"`
		Timeout time.Duration `env:"TIMEOUT" envDefault:"10s"`
	}

	Server struct {
		Port         string        `env:"PORT,required"`
		ReadTimeout  time.Duration `env:"READ_TIMEOUT" envDefault:"15s"`
		WriteTimeout time.Duration `env:"WRITE_TIMEOUT" envDefault:"30s"`
		IdleTimeout  time.Duration `env:"IDLE_TIMEOUT" envDefault:"60s"`
	}

	Logger struct {
		Level string `env:"LEVEL,required"`
		// Format is "console" for colored development output or "json".
		Format string `env:"FORMAT" envDefault:"console"`
	}

	Telemetry struct {
		Enabled        bool   `env:"ENABLED" envDefault:"false"`
		ServiceName    string `env:"SERVICE_NAME" envDefault:"guide-helper-isochrone"`
		ServiceVersion string `env:"SERVICE_VERSION" envDefault:"1.0.0"`
		Environment    string `env:"ENVIRONMENT" envDefault:"production"`
		OTLPEndpoint   string `env:"OTLP_ENDPOINT" envDefault:"otel-collector.observability.svc.cluster.local:4317"`
	}

	Redis struct {
		Enabled  bool          `env:"ENABLED" envDefault:"false"`
		Addr     string        `env:"ADDR" envDefault:"localhost:6379"`
		Password string        `env:"PASSWORD" envDefault:""`
		DB       int           `env:"DB" envDefault:"0"`
		TTL      time.Duration `env:"TTL" envDefault:"1h"`
	}

	Backend struct {
		BaseURL      string        `env:"BASE_URL" envDefault:"http://127.0.0.1:3030"`
		Timeout      time.Duration `env:"TIMEOUT" envDefault:"60s"`
		ReplyCacheSz int           `env:"REPLY_CACHE_SIZE" envDefault:"15"`
	}

	// Store selects the spatial feature source: memory (GeoJSON seed), sqlite or mvt.
	Store struct {
		Kind        string `env:"KIND" envDefault:"memory"`
		GeoJSONPath string `env:"GEOJSON_PATH"`
		SQLitePath  string `env:"SQLITE_PATH" envDefault:"file:edges.db?cache=shared"`
		MVTURL      string `env:"MVT_URL" envDefault:"http://127.0.0.1:3030/mvt/{layer}/{z}/{x}/{y}.bin"`
		MVTLayer    string `env:"MVT_LAYER" envDefault:"all_cities"`
		MVTZoom     int    `env:"MVT_ZOOM" envDefault:"13"`
		MVTCacheSz  int    `env:"MVT_CACHE_SIZE" envDefault:"512"`
	}

	Render struct {
		TileSize         int           `env:"TILE_SIZE" envDefault:"512"`
		LineWidth        float64       `env:"LINE_WIDTH" envDefault:"4"`
		MaxFeatures      int           `env:"MAX_FEATURES" envDefault:"100000"`
		MarginPx         float64       `env:"MARGIN_PX" envDefault:"8"`
		YieldProbability float64       `env:"YIELD_PROBABILITY" envDefault:"0.01"`
		YieldPause       time.Duration `env:"YIELD_PAUSE" envDefault:"0s"`
		ColorMode        string        `env:"COLOR_MODE" envDefault:"endpoints"`
		GeometryCache    bool          `env:"GEOMETRY_CACHE" envDefault:"true"`
	}

	Session struct {
		DefaultDuration time.Duration `env:"DEFAULT_DURATION" envDefault:"90m"`
		LayerRetryDelay time.Duration `env:"LAYER_RETRY_DELAY" envDefault:"2s"`
	}

	Interaction struct {
		HitBufferPx float64       `env:"HIT_BUFFER_PX" envDefault:"3"`
		Debounce    time.Duration `env:"DEBOUNCE" envDefault:"40ms"`
	}

	CORS struct {
		AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:"," envDefault:"*"`
	}
)

func New() (*Config, error) {
	err := godotenv.Load()
	if err != nil {
		log.Printf("NOTICE: .env file not found or cannot be loaded: %v\n", err)
	}

	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, err
	}

	return &cfg, nil
}
