package remoteshell

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
)

// SSH is a persistent remote-shell session over golang.org/x/crypto/ssh,
// grounded on that package's client/session examples and reconnecting
// lazily on transport error per spec.md §9's "reconnect on next use"
// design note.
type SSH struct {
	addr   string
	config *ssh.ClientConfig

	mu     sync.Mutex
	client *ssh.Client
}

// Config carries the connection parameters sourced from hpc.*.
type Config struct {
	Host           string
	Port           int
	User           string
	KeyPath        string
	ConnectTimeout time.Duration
}

func NewSSH(cfg Config) (*SSH, error) {
	key, err := os.ReadFile(cfg.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("remoteshell: read private key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("remoteshell: parse private key: %w", err)
	}

	timeout := cfg.ConnectTimeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	port := cfg.Port
	if port == 0 {
		port = 22
	}

	return &SSH{
		addr: net.JoinHostPort(cfg.Host, strconv.Itoa(port)),
		config: &ssh.ClientConfig{
			User:            cfg.User,
			Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
			HostKeyCallback: ssh.InsecureIgnoreHostKey(),
			Timeout:         timeout,
		},
	}, nil
}

func (s *SSH) connection() (*ssh.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client != nil {
		// A cheap liveness check; x/crypto/ssh has no built-in ping, so a
		// session open/close stands in for one.
		if sess, err := s.client.NewSession(); err == nil {
			_ = sess.Close()
			return s.client, nil
		}
		_ = s.client.Close()
		s.client = nil
	}

	client, err := ssh.Dial("tcp", s.addr, s.config)
	if err != nil {
		return nil, fmt.Errorf("remoteshell: dial %s: %w", s.addr, err)
	}
	s.client = client
	return client, nil
}

func (s *SSH) run(command string) (string, error) {
	client, err := s.connection()
	if err != nil {
		return "", err
	}
	session, err := client.NewSession()
	if err != nil {
		return "", fmt.Errorf("remoteshell: new session: %w", err)
	}
	defer session.Close()

	var stdout bytes.Buffer
	session.Stdout = &stdout
	if err := session.Run(command); err != nil {
		return "", fmt.Errorf("remoteshell: run %q: %w", command, err)
	}
	return stdout.String(), nil
}

// StartDetached runs `nohup sh -c '<command>' >/dev/null 2>&1 & echo $!`
// over the persistent session and parses the echoed PID, the exact
// pattern named in spec.md §4.4.
func (s *SSH) StartDetached(ctx context.Context, command string) (int, error) {
	wrapped := fmt.Sprintf("nohup sh -c '%s' >/dev/null 2>&1 & echo $!", strings.ReplaceAll(command, "'", `'\''`))
	out, err := s.run(wrapped)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(out))
	if err != nil {
		return 0, fmt.Errorf("remoteshell: parse pid from %q: %w", out, err)
	}
	return pid, nil
}

// RunAndWait runs command over the persistent session and returns its
// captured stdout.
func (s *SSH) RunAndWait(ctx context.Context, command string) (string, error) {
	return s.run(command)
}

// Probe runs `kill -0 <pid>`; a zero exit means the process exists.
func (s *SSH) Probe(ctx context.Context, pid int) (bool, error) {
	_, err := s.run(fmt.Sprintf("kill -0 %d", pid))
	return err == nil, nil
}

// Signal runs `kill -<signal> <pid>` (or kill -9 for KILL).
func (s *SSH) Signal(ctx context.Context, pid int, signal string) error {
	sig := "TERM"
	if signal == "KILL" {
		sig = "9"
	}
	_, err := s.run(fmt.Sprintf("kill -%s %d", sig, pid))
	return err
}

func (s *SSH) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return nil
	}
	err := s.client.Close()
	s.client = nil
	return err
}
