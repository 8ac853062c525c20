package config

import (
	"strings"

	"github.com/spf13/viper"
)

// Config holds the configuration for the application.
type Config struct {
	Environment   string `mapstructure:"environment"`
	DevModeBypass bool   `mapstructure:"dev_mode_bypass"`
	DB            struct {
		Host     string `mapstructure:"host"`
		Port     int    `mapstructure:"port"`
		User     string `mapstructure:"user"`
		Password string `mapstructure:"password"`
		Name     string `mapstructure:"name"`
		SSLMode  string `mapstructure:"sslmode"`
	} `mapstructure:"db"`
	Embedding struct {
		URL string `mapstructure:"url"`
		Dim int    `mapstructure:"dim"`
	} `mapstructure:"embedding"`
	ToolRunner struct {
		URL       string `mapstructure:"url"`
		TimeoutMs int    `mapstructure:"timeout_ms"`
	} `mapstructure:"tool_runner"`
	Invoker struct {
		MaxAttempts int `mapstructure:"max_attempts"`
	} `mapstructure:"invoker"`
	Ranker struct {
		MaxCandidates      int     `mapstructure:"max_candidates"`
		DuplicateThreshold float64 `mapstructure:"duplicate_threshold"`
		DemotionSimilarity float64 `mapstructure:"demotion_similarity"`
		DemotionPerFailure float64 `mapstructure:"demotion_per_failure"`
	} `mapstructure:"ranker"`
	Pins struct {
		Path string `mapstructure:"path"`
	} `mapstructure:"pins"`
	Auth struct {
		OktaDomain      string `mapstructure:"okta_domain"`
		ClientID        string `mapstructure:"client_id"`
		ClientSecret    string `mapstructure:"client_secret"`
		RedirectURL     string `mapstructure:"redirect_url"`
		SwaggerClientID string `mapstructure:"swagger_client_id"`
	} `mapstructure:"auth"`
	TLS struct {
		Enable    bool     `mapstructure:"enable"`
		CertFile  string   `mapstructure:"cert_file"`
		KeyFile   string   `mapstructure:"key_file"`
		Hostnames []string `mapstructure:"hostnames"`
	} `mapstructure:"tls"`
}

// LoadConfig loads the configuration from a file and the environment.
// An explicit config file path overrides the default search locations.
func LoadConfig(configFile string) (*Config, error) {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("./config")
	}
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		// A missing config file is fine; defaults plus env cover local use.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	// normalize OKTA issuer url (strip trailing slash if any)
	config.Auth.OktaDomain = normalizeOktaIssuer(config.Auth.OktaDomain)

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("environment", "DEV")
	viper.SetDefault("db.host", "localhost")
	viper.SetDefault("db.port", 5432)
	viper.SetDefault("db.sslmode", "disable")
	viper.SetDefault("embedding.url", "http://localhost:8001")
	viper.SetDefault("embedding.dim", 384)
	viper.SetDefault("tool_runner.url", "http://localhost:8002")
	viper.SetDefault("tool_runner.timeout_ms", 30000)
	viper.SetDefault("invoker.max_attempts", 5)
	viper.SetDefault("ranker.max_candidates", 5)
	viper.SetDefault("ranker.duplicate_threshold", 0.85)
	viper.SetDefault("ranker.demotion_similarity", 0.7)
	viper.SetDefault("ranker.demotion_per_failure", 0.3)
	viper.SetDefault("pins.path", "pinned_versions.json")
}

// normalizeOktaIssuer ensures the provided Okta issuer string is in a
// predictable form. It removes any trailing slash and leaves the scheme and
// path intact. This allows users to paste the full URL from the Okta admin
// console without worrying about double prefixes.
func normalizeOktaIssuer(input string) string {
	iss := strings.TrimSpace(input)
	if strings.HasSuffix(iss, "/") {
		iss = strings.TrimRight(iss, "/")
	}
	return iss
}
