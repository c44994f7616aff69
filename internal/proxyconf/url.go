package proxyconf

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// ParseURL parses a proxy URL into a Config.
//
// Supported schemes:
//   - direct://
//   - socks4://[user@]host[:port]
//   - socks4a://[user@]host[:port] (SOCKS4 with remote DNS)
//   - socks5://[user:pass@]host[:port]
//   - socks5h://[user:pass@]host[:port] (SOCKS5 with remote DNS)
//   - http://[user:pass@]host[:port]
//   - https://[user:pass@]host[:port]
//
// A "rdns" query parameter (true or false) overrides the DNS mode implied by
// the scheme.
func ParseURL(raw string) (Config, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Config{}, fmt.Errorf("invalid url: %w", err)
	}

	u.Scheme = strings.ToLower(u.Scheme)

	if u.Path != "" && u.Path != "/" {
		return Config{}, errors.New("invalid url: path should be empty")
	}

	var c Config
	switch u.Scheme {
	case "":
		return Config{}, errors.New("invalid url: missing scheme")
	case "direct":
		return Config{Variant: None}, nil
	case "socks4":
		c.Variant = SOCKS4
	case "socks4a":
		c.Variant, c.DNS = SOCKS4, DNSRemote
	case "socks5":
		c.Variant = SOCKS5
	case "socks5h":
		c.Variant, c.DNS = SOCKS5, DNSRemote
	case "http":
		c.Variant = HTTP
	case "https":
		c.Variant, c.TLS = HTTP, true
	default:
		return Config{}, fmt.Errorf("invalid url scheme: %q", u.Scheme)
	}

	c.Host = u.Hostname()
	if c.Host == "" {
		return Config{}, errors.New("invalid url: missing host")
	}
	if p := u.Port(); p != "" {
		c.Port, err = strconv.Atoi(p)
		if err != nil {
			return Config{}, fmt.Errorf("invalid url port: %w", err)
		}
	}

	if u.User != nil {
		c.Username = u.User.Username()
		c.Password, _ = u.User.Password()
	}

	q := u.Query()
	if v := q.Get("rdns"); v != "" {
		remote, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid url rdns: %w", err)
		}
		c.DNS = DNSLocal
		if remote {
			c.DNS = DNSRemote
		}
	}

	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}
