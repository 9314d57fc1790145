package config

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"
	"moff.io/wallet-sync/internal/signin"
	"moff.io/wallet-sync/pkg/errors"
)

// DBCredential struct
type DBCredential struct {
	Address  string `yaml:"address"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Port     string `yaml:"port"`
	Database string `yaml:"database"`
}

func (c *DBCredential) Dsn() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s",
		c.Address, c.Port, c.User, c.Password, c.Database)
}

// GetRedisAddress returns host:port.
func (c *DBCredential) GetRedisAddress() string {
	return fmt.Sprintf("%v:%v", c.Address, c.Port)
}

func (c *DBCredential) Enabled() bool { return c.Address != "" }

// Configuration struct
type Configuration struct {
	LogLevel         string       `yaml:"log_level"`
	HTTP             HTTP         `yaml:"http"`
	Wallet           Wallet       `yaml:"wallet"`
	SignIn           SignIn       `yaml:"sign_in"`
	AuthServer       AuthServer   `yaml:"auth_server"`
	RedisCredential  DBCredential `yaml:"redis"`
	Postgres         DBCredential `yaml:"postgres"`
	KafkaServer      string       `yaml:"kafka-server"`
	KafkaTopic       string       `yaml:"kafka_topic"`
	Aws              Aws          `yaml:"aws"`
	LarkAlarmWebhook string       `yaml:"lark_alarm_webhook"`
	SentryDSN        string       `yaml:"sentry_dsn"`
	DingTalk         DingTalk     `yaml:"dingtalk"`
}

type HTTP struct {
	Address        string        `yaml:"address"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

type App struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	URL         string   `yaml:"url"`
	Icons       []string `yaml:"icons"`
}

type Wallet struct {
	ProjectID    string        `yaml:"project_id"`
	App          App           `yaml:"app"`
	Chains       []int         `yaml:"chains"`
	AlchemyKey   string        `yaml:"alchemy_key"`
	InjectedKey  string        `yaml:"injected_key"`
	BridgeURL    string        `yaml:"bridge_url"`
	AutoConnect  *bool         `yaml:"auto_connect"`
	ModalTimeout time.Duration `yaml:"modal_timeout"`
	QRFilePath   string        `yaml:"qr_file_path"`
}

// SignIn enables the sign-in gate. BaseURL fills in the endpoints that are
// not set explicitly.
type SignIn struct {
	Enabled   bool         `yaml:"enabled"`
	BaseURL   string       `yaml:"base_url"`
	Paths     signin.Paths `yaml:"paths"`
	Domain    string       `yaml:"domain"`
	Origin    string       `yaml:"origin"`
	Statement string       `yaml:"statement"`
}

// ResolvedPaths returns the configured endpoints, defaulting from BaseURL.
func (s SignIn) ResolvedPaths() signin.Paths {
	p := s.Paths
	if s.BaseURL == "" {
		return p
	}
	defaults := signin.DefaultPaths(s.BaseURL)
	if p.Nonce.URL == "" {
		p.Nonce = defaults.Nonce
	}
	if p.Verify.URL == "" {
		p.Verify = defaults.Verify
	}
	if p.Session.URL == "" {
		p.Session = defaults.Session
	}
	return p
}

type AuthServer struct {
	Enabled bool `yaml:"enabled"`
	// Domain, when set, must match the domain of every verified message.
	Domain         string        `yaml:"domain"`
	NonceTTL       time.Duration `yaml:"nonce_ttl"`
	SessionTTL     time.Duration `yaml:"session_ttl"`
	CookieSecure   bool          `yaml:"cookie_secure"`
	MaxConcurrency int           `yaml:"max_concurrency"`
	// NoncesPerMinute limits nonce issuance per client ip, Redis only.
	NoncesPerMinute int `yaml:"nonces_per_minute"`
	// RevokeOnStart drops every session kept in Redis at startup.
	RevokeOnStart bool `yaml:"revoke_sessions_on_start"`
}

type Aws struct {
	Region        string `yaml:"region"`
	StateQueueURL string `yaml:"state_queue_url"`
}

type DingTalk struct {
	Webhook string `yaml:"webhook"`
	Secret  string `yaml:"secret"`
}

const ssmPrefix = "ssm:"

// ParameterStore resolves secret references.
type ParameterStore interface {
	GetParameterValue(ctx context.Context, name string) (string, error)
}

func (c *Configuration) secretRefs() []*string {
	return []*string{
		&c.Wallet.ProjectID,
		&c.Wallet.AlchemyKey,
		&c.Wallet.InjectedKey,
		&c.RedisCredential.Password,
		&c.Postgres.Password,
		&c.SentryDSN,
		&c.LarkAlarmWebhook,
		&c.DingTalk.Secret,
	}
}

// NeedsSecrets reports whether any value refers to the parameter store.
func (c *Configuration) NeedsSecrets() bool {
	for _, ref := range c.secretRefs() {
		if strings.HasPrefix(*ref, ssmPrefix) {
			return true
		}
	}
	return false
}

// ResolveSecrets replaces every "ssm:<name>" value with the parameter value.
func (c *Configuration) ResolveSecrets(ctx context.Context, store ParameterStore) error {
	for _, ref := range c.secretRefs() {
		if !strings.HasPrefix(*ref, ssmPrefix) {
			continue
		}
		name := strings.TrimPrefix(*ref, ssmPrefix)
		value, err := store.GetParameterValue(ctx, name)
		if err != nil {
			return errors.Wrapf(err, "resolve secret %s", name)
		}
		*ref = value
	}
	return nil
}

func (c *Configuration) applyDefaults() {
	if c.HTTP.Address == "" {
		c.HTTP.Address = ":8080"
	}
	if c.KafkaTopic == "" {
		c.KafkaTopic = "wallet_state"
	}
	if c.AuthServer.NonceTTL <= 0 {
		c.AuthServer.NonceTTL = 10 * time.Minute
	}
	if c.AuthServer.SessionTTL <= 0 {
		c.AuthServer.SessionTTL = 24 * time.Hour
	}
	if c.AuthServer.MaxConcurrency <= 0 {
		c.AuthServer.MaxConcurrency = 16
	}
}

// Validate reports the first configuration error.
func (c *Configuration) Validate() error {
	if c.Wallet.ProjectID == "" {
		return errors.New("wallet.project_id is required")
	}
	if c.SignIn.Enabled {
		if err := c.SignIn.ResolvedPaths().Validate(); err != nil {
			return errors.Wrap(err, "sign_in")
		}
	}
	return nil
}

// Load reads and decodes the file at path.
func Load(path string) (*Configuration, error) {
	dat, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Errorf("file %s does not exist", path)
		}
		return nil, errors.Wrapf(err, "read config %s", path)
	}
	t := Configuration{}
	if err := yaml.Unmarshal(dat, &t); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}
	t.applyDefaults()
	return &t, nil
}

var Global *Configuration

// Read reads configuration information from yml.
func Read() {
	configFilePath := flag.String("config-path", "internal/config/config.yml", "The path to the configuration file")
	flag.Parse()
	logrus.Infof("Loading configuration file from %s", *configFilePath)
	globalConfig, err := Load(*configFilePath)
	if err != nil {
		logrus.Fatal(err)
	}
	Global = globalConfig
}
