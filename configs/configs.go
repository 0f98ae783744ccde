package configs

import (
	"os"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server struct {
		Port     string
		Env      string
		LogLevel string
	}
	Storage struct {
		Dir string
	}
	WebSocket struct {
		PingInterval   string
		MaxMessageSize int
	}
	Auth struct {
		SecretKey string
	}
	Auctions struct {
		// Seeds bootstrap the auction collection when the data set is
		// empty, so a fresh install shows live lots immediately.
		Seeds []SeedAuction
	}
	Features struct {
		EnableLogging    bool
		AllowCrossOrigin bool
	}
}

// SeedAuction is a configuration-provided starter auction. Time windows
// are relative so the demo data is always live at seeding time.
type SeedAuction struct {
	ListingID         int     `mapstructure:"listing_id"`
	StartingBid       float64 `mapstructure:"starting_bid"`
	CurrentHighestBid float64 `mapstructure:"current_highest_bid"`
	BidCount          int     `mapstructure:"bid_count"`
	HoursElapsed      int     `mapstructure:"hours_elapsed"`
	HoursUntilClose   int     `mapstructure:"hours_until_close"`
	SellerCompany     string  `mapstructure:"seller_company"`
	SellerContact     string  `mapstructure:"seller_contact"`
	Watchers          int     `mapstructure:"watchers"`
	Featured          bool    `mapstructure:"featured"`
}

func LoadConfig() (*Config, error) {
	// Load .env file
	if err := godotenv.Load("./configs/.env"); err != nil {
		log.Info("No .env file found")
	}

	viper.SetConfigName("config")    // Name of the config file (without extension)
	viper.SetConfigType("yaml")      // Config file type
	viper.AddConfigPath("./configs") // Path to look for the config file
	viper.AutomaticEnv()             // Automatically map environment variables

	// Allow dots in environment variables to map to nested keys
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read the config file
	if err := viper.ReadInConfig(); err != nil {
		return nil, err
	}

	// Manually substitute environment variables in the config
	substituteEnvVarsInConfig()

	// Unmarshal the config into a struct
	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	if config.Storage.Dir == "" {
		config.Storage.Dir = "./data"
	}

	return &config, nil
}

// Helper function to manually replace environment variables in config file values
func substituteEnvVarsInConfig() {
	for _, key := range viper.AllKeys() {
		value := viper.GetString(key)

		// Check if the value contains environment variable syntax (e.g., ${PORT})
		if strings.Contains(value, "${") {
			replacedValue := os.Expand(value, func(name string) string {
				return os.Getenv(name)
			})
			viper.Set(key, replacedValue)
		}
	}
}
