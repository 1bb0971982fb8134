package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"path"
	"sort"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/Lllllllleong/pdfrasterflow/internal/config"
)

// SFTPSource reads from an SFTP server over one SSH connection.
type SFTPSource struct {
	conn   *ssh.Client
	client *sftp.Client
	root   string
}

// NewSFTPSource dials the server with password authentication.
func NewSFTPSource(cfg config.RemoteConfig) (*SFTPSource, error) {
	hostKey, err := hostKeyCallback(cfg)
	if err != nil {
		return nil, err
	}

	sshCfg := &ssh.ClientConfig{
		User:            cfg.Username,
		Auth:            []ssh.AuthMethod{ssh.Password(cfg.Password)},
		HostKeyCallback: hostKey,
		Timeout:         cfg.DialTimeout,
	}
	addr := net.JoinHostPort(cfg.Host, cfg.Port)
	conn, err := ssh.Dial("tcp", addr, sshCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}

	client, err := sftp.NewClient(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to start sftp session: %w", err)
	}
	return &SFTPSource{conn: conn, client: client, root: cfg.Root}, nil
}

func hostKeyCallback(cfg config.RemoteConfig) (ssh.HostKeyCallback, error) {
	if cfg.KnownHostsFile != "" {
		cb, err := knownhosts.New(cfg.KnownHostsFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load known hosts %s: %w", cfg.KnownHostsFile, err)
		}
		return cb, nil
	}
	if cfg.InsecureIgnoreHostKey {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	return nil, fmt.Errorf("sftp needs remote.known_hosts_file or remote.insecure_ignore_host_key")
}

func (s *SFTPSource) resolve(name string) string {
	return path.Join(s.root, name)
}

func (s *SFTPSource) List(_ context.Context, dir string) ([]Entry, error) {
	infos, err := s.client.ReadDir(s.resolve(dir))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotExist, dir)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}
	entries := make([]Entry, 0, len(infos))
	for _, info := range infos {
		entries = append(entries, entryFromInfo(info))
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

func (s *SFTPSource) Open(_ context.Context, name string) (io.ReadCloser, error) {
	f, err := s.client.Open(s.resolve(name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotExist, name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", name, err)
	}
	return f, nil
}

func (s *SFTPSource) Stat(_ context.Context, name string) (Entry, error) {
	info, err := s.client.Stat(s.resolve(name))
	if errors.Is(err, fs.ErrNotExist) {
		return Entry{}, fmt.Errorf("%w: %s", ErrNotExist, name)
	}
	if err != nil {
		return Entry{}, fmt.Errorf("failed to stat %s: %w", name, err)
	}
	return entryFromInfo(info), nil
}

// Close ends the sftp session and the SSH connection.
func (s *SFTPSource) Close() error {
	err := s.client.Close()
	if cerr := s.conn.Close(); err == nil {
		err = cerr
	}
	return err
}
