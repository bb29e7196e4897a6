package mqtt

import (
	"errors"
	"fmt"
	"net/url"
	"time"
)

// ClientConfig holds everything needed to build a Client.
type ClientConfig struct {
	BrokerURL string
	Username  string
	Password  string
	ClientID  string

	// KeepAlive is in seconds.
	KeepAlive      uint16
	SessionExpiry  uint32
	ConnectTimeout time.Duration
	CleanStart     bool

	InsecureSkipVerify bool

	// Last Will and Testament. Empty WillTopic means no will.
	WillTopic   string
	WillPayload []byte
	WillQoS     byte
	WillRetain  bool
}

// Validate checks the fields NewClient cannot default.
func (c *ClientConfig) Validate() error {
	if c.BrokerURL == "" {
		return errors.New("broker url is required")
	}
	u, err := url.Parse(c.BrokerURL)
	if err != nil {
		return fmt.Errorf("invalid broker url %q: %w", c.BrokerURL, err)
	}
	switch u.Scheme {
	case "tcp", "mqtt", "ssl", "tls", "mqtts", "ws", "wss":
	default:
		return fmt.Errorf("unsupported broker scheme %q", u.Scheme)
	}
	if c.ClientID == "" {
		return errors.New("client id is required")
	}
	if c.WillQoS > 2 {
		return fmt.Errorf("invalid will qos %d", c.WillQoS)
	}
	return nil
}

func setDefaultConfig(c *ClientConfig) {
	if c.KeepAlive == 0 {
		c.KeepAlive = 60
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = 5 * time.Second
	}
}
