// SPDX-License-Identifier: Apache-2.0

package postgres

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

var errInvalidURL = errors.New("invalid URL")

const (
	connectTimeout    = 90 * time.Second
	keepaliveIdle     = 15 * time.Second
	keepaliveInterval = 15 * time.Second
	keepaliveCount    = 9
)

// ParsePoolConfig parses the connection string. Passwords holding characters
// that break URL parsing are escaped. Connections are dialled with TCP
// keepalive so that a dead peer is detected instead of hanging a sync run.
func ParsePoolConfig(pgurl string) (*pgxpool.Config, error) {
	cfg, err := pgxpool.ParseConfig(pgurl)
	if err != nil {
		urlErr := &url.Error{}
		if !errors.As(err, &urlErr) {
			return nil, fmt.Errorf("parsing postgres connection string: %w", MapError(err))
		}
		escaped, escErr := escapeConnectionURL(pgurl)
		if escErr != nil {
			return nil, fmt.Errorf("escaping postgres connection string: %w", escErr)
		}
		if cfg, err = pgxpool.ParseConfig(escaped); err != nil {
			return nil, fmt.Errorf("parsing postgres connection string: %w", MapError(err))
		}
	}

	cfg.ConnConfig.ConnectTimeout = connectTimeout
	dialer := &net.Dialer{
		Timeout: connectTimeout,
		KeepAliveConfig: net.KeepAliveConfig{
			Enable:   true,
			Idle:     keepaliveIdle,
			Interval: keepaliveInterval,
			Count:    keepaliveCount,
		},
	}
	cfg.ConnConfig.DialFunc = dialer.DialContext
	return cfg, nil
}

var postgresURLRegex = regexp.MustCompile(`^(postgres(?:ql)?://)([^@]+?)@(.+)$`)

// escapeConnectionURL query escapes the password of a postgres URL. As psql
// does, the password starts after the first colon of the user info.
func escapeConnectionURL(rawURL string) (string, error) {
	if !strings.HasPrefix(rawURL, "postgresql://") && !strings.HasPrefix(rawURL, "postgres://") {
		return rawURL, nil
	}

	m := postgresURLRegex.FindStringSubmatch(rawURL)
	if m == nil {
		return "", errInvalidURL
	}
	scheme, userInfo, rest := m[1], m[2], m[3]

	username, password, found := strings.Cut(userInfo, ":")
	if !found {
		return rawURL, nil
	}
	if username == "" {
		return "", errInvalidURL
	}

	// already escaped passwords are decoded first so they are not escaped
	// twice
	if strings.Contains(password, "%") {
		if decoded, err := url.PathUnescape(password); err == nil {
			password = decoded
		}
	}
	return scheme + username + ":" + url.QueryEscape(password) + "@" + rest, nil
}
