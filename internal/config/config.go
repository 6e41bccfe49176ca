package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	// Dify backend
	DifyBaseURL  string `env:"DIFY_BASE_URL,required"`
	DifyAPIKey   string `env:"DIFY_API_KEY,required"`
	DifyWorkflow string `env:"DIFY_WORKFLOW" envDefault:"Dify Workflow"`
	DifyModelID  string `env:"DIFY_MODEL_ID" envDefault:"dify_id"`

	// State store: file-backed by default, Postgres when DATABASE_URL is set
	DataDir     string `env:"DATA_DIR" envDefault:"data/dify"`
	DatabaseURL string `env:"DATABASE_URL"`

	// HTTP server
	Port int `env:"PORT" envDefault:"3000"`

	// Telegram front end (disabled when token is empty)
	BotToken         string  `env:"BOT_TOKEN"`
	AllowedChatIDs   []int64 `env:"ALLOWED_CHAT_IDS" envSeparator:","`
	AdminChatID      int64   `env:"ADMIN_CHAT_ID"`
	BotStreamDefault bool    `env:"BOT_STREAM_DEFAULT" envDefault:"true"`

	// Firecrawl scrape tool
	FirecrawlAPIURL       string            `env:"FIRECRAWL_API_URL" envDefault:"https://api.firecrawl.dev/v1"`
	FirecrawlAPIKey       string            `env:"FIRECRAWL_API_KEY"`
	ScrapeFormats         []string          `env:"SCRAPE_FORMATS" envSeparator:"," envDefault:"markdown"`
	ScrapeVerifySSL       bool              `env:"SCRAPE_VERIFY_SSL" envDefault:"true"`
	ScrapeTimeout         time.Duration     `env:"SCRAPE_TIMEOUT" envDefault:"30s"`
	ScrapeMaxDepth        int               `env:"SCRAPE_MAX_DEPTH" envDefault:"2"`
	ScrapeFollowRedirects bool              `env:"SCRAPE_FOLLOW_REDIRECTS" envDefault:"true"`
	ScrapeIncludeTags     []string          `env:"SCRAPE_INCLUDE_TAGS" envSeparator:","`
	ScrapeExcludeTags     []string          `env:"SCRAPE_EXCLUDE_TAGS" envSeparator:","`
	ScrapeHeaders         map[string]string `env:"SCRAPE_HEADERS" envSeparator:"," envKeyValSeparator:":"`
	ScrapeWaitFor         int               `env:"SCRAPE_WAIT_FOR" envDefault:"0"`
	ScrapeCacheTTL        time.Duration     `env:"SCRAPE_CACHE_TTL" envDefault:"0"`
}

func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// IsAllowed reports whether the chat may talk to the bot.
// An empty allowlist means every chat is allowed.
func (c *Config) IsAllowed(chatID int64) bool {
	if len(c.AllowedChatIDs) == 0 {
		return true
	}
	for _, id := range c.AllowedChatIDs {
		if id == chatID {
			return true
		}
	}
	return false
}
