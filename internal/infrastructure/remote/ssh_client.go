package remote

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
)

var (
	ErrSSHConnection     = errors.New("ssh: connection failed")
	ErrSSHAuthentication = errors.New("ssh: authentication failed")
)

type SSHConfig struct {
	Host       string
	Port       int
	User       string
	Password   string
	PrivateKey string
	// HostKey is an authorized_keys style line; empty disables host key checks.
	HostKey    string
	Timeout    time.Duration
	MaxRetries int
}

type SSHClient struct {
	config SSHConfig
}

func NewSSHClient(cfg SSHConfig) *SSHClient {
	if cfg.Port == 0 {
		cfg.Port = 22
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	return &SSHClient{config: cfg}
}

func (c *SSHClient) Address() string {
	return net.JoinHostPort(c.config.Host, fmt.Sprint(c.config.Port))
}

func (c *SSHClient) getAuthMethods() ([]ssh.AuthMethod, error) {
	var authMethods []ssh.AuthMethod

	if c.config.PrivateKey != "" {
		signer, err := ssh.ParsePrivateKey([]byte(c.config.PrivateKey))
		if err != nil {
			return nil, fmt.Errorf("%w: invalid private key", ErrSSHAuthentication)
		}
		authMethods = append(authMethods, ssh.PublicKeys(signer))
	}

	if c.config.Password != "" {
		authMethods = append(authMethods, ssh.Password(c.config.Password))
	}

	if len(authMethods) == 0 {
		return nil, fmt.Errorf("%w: no credentials provided", ErrSSHAuthentication)
	}

	return authMethods, nil
}

func (c *SSHClient) hostKeyCallback() (ssh.HostKeyCallback, error) {
	if strings.TrimSpace(c.config.HostKey) == "" {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	key, _, _, _, err := ssh.ParseAuthorizedKey([]byte(c.config.HostKey))
	if err != nil {
		return nil, fmt.Errorf("%w: invalid host key: %v", ErrSSHConnection, err)
	}
	return ssh.FixedHostKey(key), nil
}

// ConnectWithRetry dials with a linear backoff between attempts and gives up
// early when ctx is done.
func (c *SSHClient) ConnectWithRetry(ctx context.Context) (*ssh.Client, error) {
	authMethods, err := c.getAuthMethods()
	if err != nil {
		return nil, err
	}
	hostKey, err := c.hostKeyCallback()
	if err != nil {
		return nil, err
	}

	sshConfig := &ssh.ClientConfig{
		User:            c.config.User,
		Auth:            authMethods,
		HostKeyCallback: hostKey,
		Timeout:         c.config.Timeout,
	}

	addr := c.Address()
	var connectErr error
	for attempt := 1; attempt <= c.config.MaxRetries; attempt++ {
		dialer := net.Dialer{Timeout: c.config.Timeout, KeepAlive: 60 * time.Second}

		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			connectErr = err
		} else {
			_ = conn.SetDeadline(time.Now().Add(c.config.Timeout))
			cc, chans, reqs, err := ssh.NewClientConn(conn, addr, sshConfig)
			if err != nil {
				conn.Close()
				connectErr = err
			} else {
				_ = conn.SetDeadline(time.Time{})
				return ssh.NewClient(cc, chans, reqs), nil
			}
		}

		if attempt < c.config.MaxRetries {
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %v", ErrSSHConnection, ctx.Err())
			case <-time.After(time.Duration(attempt*2) * time.Second):
			}
		}
	}

	return nil, fmt.Errorf("%w: %s: %v (after %d attempts)", ErrSSHConnection, addr, connectErr, c.config.MaxRetries)
}
