// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	DataDir  string // Base directory for all databases and state files
	LogLevel string
	Port     int
	DevMode  bool

	StartingCapital float64 // Paper account seed when no state file exists

	Clustering ClusteringConfig
	Quality    QualityConfig
	Sizing     SizingConfig
	Risk       RiskConfig
	Lifecycle  LifecycleConfig
	Oracle     OracleConfig
	Sources    SourcesConfig
	Backup     BackupConfig
	Schedule   ScheduleConfig
}

// ClusteringConfig holds clustering and scoring parameters
type ClusteringConfig struct {
	WindowDays        int     // rolling cluster window
	DedupeTolerance   float64 // partial-amendment value tolerance (fraction)
	MinHistoryTrades  int     // resolved outcomes before an insider's track record counts
	RealertDays       int     // suppress re-alerting the same ticker for this many days
	SectorEnabled     bool    // sector-relative momentum adjustment
	HistoricalEnabled bool    // insider historical performance weighting

	PoliticianAllowList []string // tracked high-conviction politicians
}

// QualityConfig holds the quality filter chain thresholds
type QualityConfig struct {
	MinPrice             float64 // price floor, excludes penny stocks
	MaxDrawdown          float64 // falling-knife guard, negative fraction
	DrawdownLookbackDays int

	// Go-private / M&A detector
	GoPrivateCapFraction   float64 // single insider above this share of market cap
	GoPrivateAbsDollar     float64 // absolute dollar threshold
	GoPrivateCapPct        float64 // paired percentage-of-cap threshold
	InstitutionalAbsDollar float64 // institutional-entity dollar threshold
	InstitutionalCapPct    float64 // institutional-entity cap threshold

	SeasonalRelaxation float64 // applied as (1 - relaxation) to steps 4-5 in holiday windows
}

// SizingConfig holds position sizing parameters
type SizingConfig struct {
	MinPositionPct   float64 // smallest score-weighted allocation
	MaxPositionPct   float64 // largest score-weighted allocation
	MinScore         float64 // score band floor
	MaxScore         float64 // score band ceiling
	AbsMaxPct        float64 // hard per-position cap
	MaxTotalExposure float64 // portfolio-level deployed cap
	MaxPositions     int
}

// RiskConfig holds circuit breaker parameters
type RiskConfig struct {
	DailyLossLimitPct    float64 // fraction of portfolio value
	MaxConsecutiveLosses int
	MaxDrawdownHaltPct   float64 // drawdown from peak
}

// LifecycleConfig holds position monitoring parameters
type LifecycleConfig struct {
	RedeployMaxPerDay    int
	RedeployPriceBandPct float64 // queued signal must still trade within this band
	RedeployMinMinutes   int     // minutes before market close required
	MarketCloseUTC       string  // HH:MM, used by the redeploy time gate
}

// OracleConfig holds external call parameters
type OracleConfig struct {
	MaxAttempts    int
	TimeoutSeconds int
	CacheTTLMin    int
}

// SourcesConfig holds the external data source endpoints and credentials
type SourcesConfig struct {
	DisclosureFeedURL string // normalized disclosure feed (insider/congress/13F)
	DisclosureAPIKey  string
	AlphaVantageKey   string
}

// BackupConfig holds S3 backup parameters
type BackupConfig struct {
	Enabled   bool
	Bucket    string
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
}

// ScheduleConfig holds the cron expressions driving the scheduled jobs.
// All expressions are evaluated in UTC.
type ScheduleConfig struct {
	ScanSpec        string // daily signal scan
	MonitorSpec     string // intraday position monitor
	ReconcileSpec   string // broker reconciliation
	MaintenanceSpec string // nightly cache pruning, checkpoints, backup
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("CONVICTIOND_DATA_DIR", "")
	if dataDir == "" {
		dataDir = "./data"
	}

	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:         absDataDir,
		Port:            getEnvAsInt("PORT", 8011),
		DevMode:         getEnvAsBool("DEV_MODE", false),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		StartingCapital: getEnvAsFloat("STARTING_CAPITAL", 100000),

		Clustering: ClusteringConfig{
			WindowDays:        getEnvAsInt("CLUSTER_WINDOW_DAYS", 5),
			DedupeTolerance:   getEnvAsFloat("DEDUPE_TOLERANCE", 0.01),
			MinHistoryTrades:  getEnvAsInt("MIN_HISTORY_TRADES", 3),
			RealertDays:       getEnvAsInt("REALERT_DAYS", 7),
			SectorEnabled:     getEnvAsBool("SECTOR_MOMENTUM_ENABLED", false),
			HistoricalEnabled: getEnvAsBool("INSIDER_HISTORY_ENABLED", false),

			PoliticianAllowList: getEnvAsList("POLITICIAN_ALLOW_LIST"),
		},
		Quality: QualityConfig{
			MinPrice:               getEnvAsFloat("MIN_PRICE", 2.0),
			MaxDrawdown:            getEnvAsFloat("MAX_DRAWDOWN", -0.40),
			DrawdownLookbackDays:   getEnvAsInt("DRAWDOWN_LOOKBACK_DAYS", 90),
			GoPrivateCapFraction:   getEnvAsFloat("GOPRIVATE_CAP_FRACTION", 0.50),
			GoPrivateAbsDollar:     getEnvAsFloat("GOPRIVATE_ABS_DOLLAR", 50_000_000),
			GoPrivateCapPct:        getEnvAsFloat("GOPRIVATE_CAP_PCT", 0.20),
			InstitutionalAbsDollar: getEnvAsFloat("INSTITUTIONAL_ABS_DOLLAR", 20_000_000),
			InstitutionalCapPct:    getEnvAsFloat("INSTITUTIONAL_CAP_PCT", 0.15),
			SeasonalRelaxation:     getEnvAsFloat("SEASONAL_RELAXATION", 0.20),
		},
		Sizing: SizingConfig{
			MinPositionPct:   getEnvAsFloat("MIN_POSITION_PCT", 0.05),
			MaxPositionPct:   getEnvAsFloat("MAX_POSITION_PCT_BAND", 0.12),
			MinScore:         getEnvAsFloat("SIZING_MIN_SCORE", 6.0),
			MaxScore:         getEnvAsFloat("SIZING_MAX_SCORE", 20.0),
			AbsMaxPct:        getEnvAsFloat("MAX_POSITION_PCT", 0.10),
			MaxTotalExposure: getEnvAsFloat("MAX_TOTAL_EXPOSURE", 0.70),
			MaxPositions:     getEnvAsInt("MAX_POSITIONS", 10),
		},
		Risk: RiskConfig{
			DailyLossLimitPct:    getEnvAsFloat("DAILY_LOSS_LIMIT_PCT", 0.05),
			MaxConsecutiveLosses: getEnvAsInt("MAX_CONSECUTIVE_LOSSES", 5),
			MaxDrawdownHaltPct:   getEnvAsFloat("MAX_DRAWDOWN_HALT_PCT", 0.15),
		},
		Lifecycle: LifecycleConfig{
			RedeployMaxPerDay:    getEnvAsInt("REDEPLOY_MAX_PER_DAY", 1),
			RedeployPriceBandPct: getEnvAsFloat("REDEPLOY_PRICE_BAND_PCT", 0.03),
			RedeployMinMinutes:   getEnvAsInt("REDEPLOY_MIN_MINUTES", 30),
			MarketCloseUTC:       getEnv("MARKET_CLOSE_UTC", "20:00"),
		},
		Oracle: OracleConfig{
			MaxAttempts:    getEnvAsInt("ORACLE_MAX_ATTEMPTS", 3),
			TimeoutSeconds: getEnvAsInt("ORACLE_TIMEOUT_SECONDS", 30),
			CacheTTLMin:    getEnvAsInt("ORACLE_CACHE_TTL_MIN", 15),
		},
		Sources: SourcesConfig{
			DisclosureFeedURL: getEnv("DISCLOSURE_FEED_URL", ""),
			DisclosureAPIKey:  getEnv("DISCLOSURE_API_KEY", ""),
			AlphaVantageKey:   getEnv("ALPHAVANTAGE_API_KEY", ""),
		},
		Backup: BackupConfig{
			Enabled:   getEnvAsBool("BACKUP_ENABLED", false),
			Bucket:    getEnv("BACKUP_BUCKET", ""),
			Endpoint:  getEnv("BACKUP_ENDPOINT", ""),
			Region:    getEnv("BACKUP_REGION", "auto"),
			AccessKey: getEnv("BACKUP_ACCESS_KEY", ""),
			SecretKey: getEnv("BACKUP_SECRET_KEY", ""),
		},
		Schedule: ScheduleConfig{
			ScanSpec:        getEnv("SCAN_CRON", "30 13 * * 1-5"),
			MonitorSpec:     getEnv("MONITOR_CRON", "* 14-20 * * 1-5"),
			ReconcileSpec:   getEnv("RECONCILE_CRON", "*/15 * * * *"),
			MaintenanceSpec: getEnv("MAINTENANCE_CRON", "0 2 * * *"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks configuration consistency
func (c *Config) Validate() error {
	if c.StartingCapital <= 0 {
		return fmt.Errorf("starting capital must be positive, got %f", c.StartingCapital)
	}
	if c.Sizing.MinScore >= c.Sizing.MaxScore {
		return fmt.Errorf("sizing score band is empty: [%f, %f]", c.Sizing.MinScore, c.Sizing.MaxScore)
	}
	if c.Sizing.MinPositionPct > c.Sizing.MaxPositionPct {
		return fmt.Errorf("sizing position band inverted: [%f, %f]", c.Sizing.MinPositionPct, c.Sizing.MaxPositionPct)
	}
	if c.Quality.MaxDrawdown >= 0 {
		return fmt.Errorf("drawdown guard must be a negative fraction, got %f", c.Quality.MaxDrawdown)
	}
	if c.Backup.Enabled && c.Backup.Bucket == "" {
		return fmt.Errorf("backups enabled but no bucket configured")
	}
	return nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

// getEnvAsList parses a comma-separated environment variable, dropping empty
// entries.
func getEnvAsList(key string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if v := strings.TrimSpace(part); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
