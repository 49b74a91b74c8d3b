package bubble

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/yungbote/promptbridge-backend/internal/platform/envutil"
)

type Environment string

const (
	EnvironmentProduction  Environment = "production"
	EnvironmentVersionTest Environment = "version-test"
)

func (e Environment) Valid() bool {
	return e == EnvironmentProduction || e == EnvironmentVersionTest
}

// pathSegment is inserted between the domain and /api/1.1.
func (e Environment) pathSegment() string {
	if e == EnvironmentVersionTest {
		return "/version-test"
	}
	return ""
}

// ParseEnvironment maps raw input onto an Environment. Empty input yields fallback.
func ParseEnvironment(raw string, fallback Environment) (Environment, error) {
	v := strings.ToLower(strings.TrimSpace(raw))
	switch v {
	case "":
		if fallback.Valid() {
			return fallback, nil
		}
		return EnvironmentProduction, nil
	case "production", "prod", "live":
		return EnvironmentProduction, nil
	case "version-test", "version_test", "test":
		return EnvironmentVersionTest, nil
	default:
		return "", &ConfigError{Code: ConfigErrorInvalidEnvironment, Value: raw}
	}
}

// Collections names the Bubble data types the pipeline writes to.
type Collections struct {
	PromptField     string `yaml:"prompt_field"`
	GeneratedPrompt string `yaml:"generated_prompt"`
	APIRequest      string `yaml:"api_request"`
}

// Fields names the record fields read and written on each collection.
type Fields struct {
	PromptFieldName      string `yaml:"prompt_field_name"`
	GeneratedPromptField string `yaml:"generated_prompt_field"`
	GeneratedPromptValue string `yaml:"generated_prompt_value"`
	APIRequestAttributes string `yaml:"api_request_attributes"`
	APIRequestPrompts    string `yaml:"api_request_prompts"`
	APIRequestStatus     string `yaml:"api_request_status"`
}

type Config struct {
	Domain             string        `yaml:"domain"`
	Token              string        `yaml:"token"`
	BaseURL            string        `yaml:"base_url"`
	DefaultEnvironment Environment   `yaml:"environment"`
	Timeout            time.Duration `yaml:"timeout"`
	Collections        Collections   `yaml:"collections"`
	Fields             Fields        `yaml:"fields"`
}

func DefaultFields() Fields {
	return Fields{
		PromptFieldName:      "Name",
		GeneratedPromptField: "PromptField",
		GeneratedPromptValue: "Value",
		APIRequestAttributes: "Attributes",
		APIRequestPrompts:    "GeneratedPrompts",
		APIRequestStatus:     "Status",
	}
}

func ConfigFromEnv() Config {
	timeoutSec := envutil.Int("BUBBLE_TIMEOUT_SECONDS", 30)
	env := Environment(strings.ToLower(strings.TrimSpace(os.Getenv("BUBBLE_ENVIRONMENT"))))
	if env == "" {
		env = EnvironmentProduction
	}
	return Config{
		Domain:             strings.TrimSpace(os.Getenv("BUBBLE_APP_DOMAIN")),
		Token:              strings.TrimSpace(os.Getenv("BUBBLE_API_TOKEN")),
		BaseURL:            strings.TrimSpace(os.Getenv("BUBBLE_BASE_URL")),
		DefaultEnvironment: env,
		Timeout:            time.Duration(timeoutSec) * time.Second,
		Collections: Collections{
			PromptField:     strings.TrimSpace(os.Getenv("BUBBLE_PROMPTFIELD_DATA_TYPE")),
			GeneratedPrompt: strings.TrimSpace(os.Getenv("BUBBLE_GENERATEDPROMPT_DATA_TYPE")),
			APIRequest:      strings.TrimSpace(os.Getenv("BUBBLE_API_REQUEST_DATA_TYPE")),
		},
		Fields: DefaultFields(),
	}
}

// Normalize trims input and fills defaults. It does not validate.
func (c Config) Normalize() Config {
	c.Domain = strings.Trim(strings.TrimSpace(c.Domain), "/")
	c.Token = strings.TrimSpace(c.Token)
	c.BaseURL = strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	c.DefaultEnvironment = Environment(strings.ToLower(strings.TrimSpace(string(c.DefaultEnvironment))))
	if c.DefaultEnvironment == "" {
		c.DefaultEnvironment = EnvironmentProduction
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	c.Collections.PromptField = strings.TrimSpace(c.Collections.PromptField)
	c.Collections.GeneratedPrompt = strings.TrimSpace(c.Collections.GeneratedPrompt)
	c.Collections.APIRequest = strings.TrimSpace(c.Collections.APIRequest)

	def := DefaultFields()
	c.Fields.PromptFieldName = orDefault(c.Fields.PromptFieldName, def.PromptFieldName)
	c.Fields.GeneratedPromptField = orDefault(c.Fields.GeneratedPromptField, def.GeneratedPromptField)
	c.Fields.GeneratedPromptValue = orDefault(c.Fields.GeneratedPromptValue, def.GeneratedPromptValue)
	c.Fields.APIRequestAttributes = orDefault(c.Fields.APIRequestAttributes, def.APIRequestAttributes)
	c.Fields.APIRequestPrompts = orDefault(c.Fields.APIRequestPrompts, def.APIRequestPrompts)
	c.Fields.APIRequestStatus = orDefault(c.Fields.APIRequestStatus, def.APIRequestStatus)
	return c
}

// ValidateConfig checks everything needed before the first request is sent.
// Collection names are validated as a set here and again per call.
func ValidateConfig(cfg Config) error {
	if cfg.Domain == "" && cfg.BaseURL == "" {
		return &ConfigError{Code: ConfigErrorMissingDomain}
	}
	if cfg.BaseURL != "" {
		parsed, err := url.Parse(cfg.BaseURL)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			return &ConfigError{Code: ConfigErrorInvalidBaseURL, Value: cfg.BaseURL, Cause: err}
		}
	}
	if cfg.Token == "" {
		return &ConfigError{Code: ConfigErrorMissingToken}
	}
	if !cfg.DefaultEnvironment.Valid() {
		return &ConfigError{Code: ConfigErrorInvalidEnvironment, Value: string(cfg.DefaultEnvironment)}
	}
	for _, c := range []struct{ env, value string }{
		{"BUBBLE_PROMPTFIELD_DATA_TYPE", cfg.Collections.PromptField},
		{"BUBBLE_GENERATEDPROMPT_DATA_TYPE", cfg.Collections.GeneratedPrompt},
		{"BUBBLE_API_REQUEST_DATA_TYPE", cfg.Collections.APIRequest},
	} {
		if c.value == "" {
			return &ConfigError{Code: ConfigErrorMissingCollection, Value: c.env}
		}
	}
	return nil
}

// ObjectURL returns https://{domain}[/version-test]/api/1.1/obj/{collection}.
func (c Config) ObjectURL(env Environment, collection string) string {
	base := c.BaseURL
	if base == "" {
		base = "https://" + c.Domain
	}
	return fmt.Sprintf("%s%s/api/1.1/obj/%s", base, env.pathSegment(), url.PathEscape(collection))
}

func orDefault(v, def string) string {
	if s := strings.TrimSpace(v); s != "" {
		return s
	}
	return def
}
