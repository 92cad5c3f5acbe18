package core

import (
	"fmt"
	"strings"
	"time"
)

// ConnectorConfig is the per-connector configuration payload. The source
// system treated this as an open record; here it is a tagged variant
// discriminated on the connector type, with per-variant validation at load
// time. Unknown fields are preserved in Extra rather than rejected so that
// vendor-specific settings round-trip through the Store.
type ConnectorConfig struct {
	ConnectionMethod ConnectorType          `json:"connectionMethod" yaml:"connectionMethod"`
	PollIntervalSec  int                    `json:"pollingInterval,omitempty" yaml:"pollingInterval,omitempty"`
	Credentials      map[string]string      `json:"credentials,omitempty" yaml:"credentials,omitempty"`
	API              *APIConfig             `json:"api,omitempty" yaml:"api,omitempty"`
	Syslog           *SyslogConfig          `json:"syslog,omitempty" yaml:"syslog,omitempty"`
	Agent            *AgentConfig           `json:"agent,omitempty" yaml:"agent,omitempty"`
	Webhook          *WebhookConfig         `json:"webhook,omitempty" yaml:"webhook,omitempty"`
	State            *CursorState           `json:"state,omitempty" yaml:"state,omitempty"`
	Extra            map[string]interface{} `json:"extra,omitempty" yaml:"extra,omitempty"`
}

// APIConfig configures a pull-mode API connector.
type APIConfig struct {
	Endpoint       string                 `json:"endpoint" yaml:"endpoint"`
	APIKey         string                 `json:"apiKey,omitempty" yaml:"apiKey,omitempty"`
	APIKeyHeader   string                 `json:"apiKeyHeader,omitempty" yaml:"apiKeyHeader,omitempty"`
	DefaultHeaders map[string]string      `json:"defaultHeaders,omitempty" yaml:"defaultHeaders,omitempty"`
	Endpoints      map[string]APIEndpoint `json:"endpoints,omitempty" yaml:"endpoints,omitempty"`
}

// APIEndpoint describes one named sub-source on an API connector.
type APIEndpoint struct {
	Path         string `json:"path" yaml:"path"`
	Method       string `json:"method,omitempty" yaml:"method,omitempty"`
	BodyTemplate string `json:"bodyTemplate,omitempty" yaml:"bodyTemplate,omitempty"`
}

// SyslogConfig configures a push-mode syslog listener.
type SyslogConfig struct {
	Protocol  string         `json:"protocol" yaml:"protocol"` // udp, tcp, tls
	Host      string         `json:"host,omitempty" yaml:"host,omitempty"`
	Port      int            `json:"port" yaml:"port"`
	TLSCert   string         `json:"tlsCert,omitempty" yaml:"tlsCert,omitempty"`
	TLSKey    string         `json:"tlsKey,omitempty" yaml:"tlsKey,omitempty"`
	Filtering *SyslogFilters `json:"filtering,omitempty" yaml:"filtering,omitempty"`
}

// SyslogFilters is an allow-list on facility and severity codes. Empty
// slices allow everything.
type SyslogFilters struct {
	Facilities []int `json:"facilities,omitempty" yaml:"facilities,omitempty"`
	Severities []int `json:"severities,omitempty" yaml:"severities,omitempty"`
}

// AgentConfig configures a passive agent connector.
type AgentConfig struct {
	RegistrationEnabled          bool                   `json:"registrationEnabled" yaml:"registrationEnabled"`
	RegistrationRequiresApproval bool                   `json:"registrationRequiresApproval,omitempty" yaml:"registrationRequiresApproval,omitempty"`
	HeartbeatIntervalSec         int                    `json:"agentHeartbeatInterval,omitempty" yaml:"agentHeartbeatInterval,omitempty"`
	BatchSize                    int                    `json:"batchSize,omitempty" yaml:"batchSize,omitempty"`
	BatchTimeLimitSec            int                    `json:"batchTimeLimit,omitempty" yaml:"batchTimeLimit,omitempty"`
	Capabilities                 []string               `json:"capabilities,omitempty" yaml:"capabilities,omitempty"`
	OrganizationKey              string                 `json:"organizationKey" yaml:"organizationKey"`
	CustomConfig                 map[string]interface{} `json:"customConfig,omitempty" yaml:"customConfig,omitempty"`
}

// WebhookConfig configures a push-mode webhook endpoint.
type WebhookConfig struct {
	Path            string `json:"path" yaml:"path"`
	VerifySignature bool   `json:"verifySignature,omitempty" yaml:"verifySignature,omitempty"`
	SignatureHeader string `json:"signatureHeader,omitempty" yaml:"signatureHeader,omitempty"`
	SignatureSecret string `json:"signatureSecret,omitempty" yaml:"signatureSecret,omitempty"`
}

// Default intervals and limits applied by Validate.
const (
	DefaultPollInterval      = 300 * time.Second
	DefaultHeartbeatInterval = 60 * time.Second
	DefaultAgentBatchSize    = 100
	DefaultBatchTimeLimit    = 120 * time.Second
)

// PollInterval returns the effective polling interval.
func (c *ConnectorConfig) PollInterval() time.Duration {
	if c.PollIntervalSec > 0 {
		return time.Duration(c.PollIntervalSec) * time.Second
	}
	return DefaultPollInterval
}

// Validate checks the variant selected by typ and applies defaults. A
// failure here is ErrConfigInvalid: the connector refuses to start and is
// never retried.
func (c *ConnectorConfig) Validate(typ ConnectorType) error {
	if c.ConnectionMethod == "" {
		c.ConnectionMethod = typ
	}
	if c.ConnectionMethod != typ {
		return fmt.Errorf("connectionMethod %q does not match connector type %q: %w", c.ConnectionMethod, typ, ErrConfigInvalid)
	}
	switch typ {
	case ConnectorTypeAPI:
		if c.API == nil || c.API.Endpoint == "" {
			return fmt.Errorf("api connector requires endpoint: %w", ErrConfigInvalid)
		}
	case ConnectorTypeSyslog:
		if c.Syslog == nil {
			return fmt.Errorf("syslog connector requires syslog config: %w", ErrConfigInvalid)
		}
		switch strings.ToLower(c.Syslog.Protocol) {
		case "udp", "tcp":
		case "tls":
			if c.Syslog.TLSCert == "" || c.Syslog.TLSKey == "" {
				return fmt.Errorf("tls syslog requires tlsCert and tlsKey: %w", ErrConfigInvalid)
			}
		default:
			return fmt.Errorf("unknown syslog protocol %q: %w", c.Syslog.Protocol, ErrConfigInvalid)
		}
		// Port 0 binds an OS-assigned port.
		if c.Syslog.Port < 0 || c.Syslog.Port > 65535 {
			return fmt.Errorf("syslog port %d out of range: %w", c.Syslog.Port, ErrConfigInvalid)
		}
	case ConnectorTypeAgent:
		if c.Agent == nil {
			c.Agent = &AgentConfig{}
		}
		if c.Agent.OrganizationKey == "" {
			return fmt.Errorf("agent connector requires organizationKey: %w", ErrConfigInvalid)
		}
		if c.Agent.HeartbeatIntervalSec <= 0 {
			c.Agent.HeartbeatIntervalSec = int(DefaultHeartbeatInterval / time.Second)
		}
		if c.Agent.BatchSize <= 0 {
			c.Agent.BatchSize = DefaultAgentBatchSize
		}
		if c.Agent.BatchTimeLimitSec <= 0 {
			c.Agent.BatchTimeLimitSec = int(DefaultBatchTimeLimit / time.Second)
		}
	case ConnectorTypeWebhook:
		if c.Webhook == nil || c.Webhook.Path == "" {
			return fmt.Errorf("webhook connector requires path: %w", ErrConfigInvalid)
		}
		if !strings.HasPrefix(c.Webhook.Path, "/") {
			return fmt.Errorf("webhook path %q must start with /: %w", c.Webhook.Path, ErrConfigInvalid)
		}
		if c.Webhook.VerifySignature && c.Webhook.SignatureSecret == "" {
			return fmt.Errorf("verifySignature requires signatureSecret: %w", ErrConfigInvalid)
		}
	default:
		return fmt.Errorf("unknown connector type %q: %w", typ, ErrConfigInvalid)
	}
	return nil
}

// Merge applies a partial update onto c. The connection method is
// immutable; attempting to change it, or to attach the variant section of
// another connector type, is rejected.
func (c *ConnectorConfig) Merge(partial *ConnectorConfig) error {
	if partial == nil {
		return nil
	}
	if partial.ConnectionMethod != "" && partial.ConnectionMethod != c.ConnectionMethod {
		return fmt.Errorf("cannot change connector type %q to %q: %w", c.ConnectionMethod, partial.ConnectionMethod, ErrConfigInvalid)
	}
	if c.ConnectionMethod != "" {
		for typ, present := range map[ConnectorType]bool{
			ConnectorTypeAPI:     partial.API != nil,
			ConnectorTypeSyslog:  partial.Syslog != nil,
			ConnectorTypeAgent:   partial.Agent != nil,
			ConnectorTypeWebhook: partial.Webhook != nil,
		} {
			if present && typ != c.ConnectionMethod {
				return fmt.Errorf("%s configuration not valid for a %s connector: %w", typ, c.ConnectionMethod, ErrConfigInvalid)
			}
		}
	}
	if partial.PollIntervalSec > 0 {
		c.PollIntervalSec = partial.PollIntervalSec
	}
	if partial.Credentials != nil {
		if c.Credentials == nil {
			c.Credentials = map[string]string{}
		}
		for k, v := range partial.Credentials {
			c.Credentials[k] = v
		}
	}
	if partial.API != nil {
		c.API = partial.API
	}
	if partial.Syslog != nil {
		c.Syslog = partial.Syslog
	}
	if partial.Agent != nil {
		c.Agent = partial.Agent
	}
	if partial.Webhook != nil {
		c.Webhook = partial.Webhook
	}
	if partial.State != nil {
		c.State = partial.State
	}
	if partial.Extra != nil {
		if c.Extra == nil {
			c.Extra = map[string]interface{}{}
		}
		for k, v := range partial.Extra {
			c.Extra[k] = v
		}
	}
	return nil
}
