package targets

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/tphakala/padmatch/internal/backup"
	"github.com/tphakala/padmatch/internal/conf"
	"github.com/tphakala/padmatch/internal/errors"
)

const sftpDialTimeout = 30 * time.Second

// SFTPTarget stores snapshots on a remote host over SFTP. Connections are
// opened per operation; snapshot traffic is far too light to keep one alive.
type SFTPTarget struct {
	settings conf.SFTPTargetSettings
}

// NewSFTPTarget creates a target from the configured connection settings.
func NewSFTPTarget(settings conf.SFTPTargetSettings) *SFTPTarget {
	return &SFTPTarget{settings: settings}
}

// Name returns the target name used in logs and listings.
func (t *SFTPTarget) Name() string {
	return "sftp"
}

// Validate checks the connection settings.
func (t *SFTPTarget) Validate() error {
	if t.settings.Host == "" || t.settings.Username == "" {
		return errors.Newf("sftp snapshot target requires host and username").
			Component("backup").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if t.settings.KnownHosts != "" {
		if _, err := os.Stat(t.settings.KnownHosts); err != nil {
			return errors.New(fmt.Errorf("known_hosts file: %w", err)).
				Component("backup").
				Category(errors.CategoryConfiguration).
				Build()
		}
	}
	return nil
}

func (t *SFTPTarget) hostKeyCallback() (ssh.HostKeyCallback, error) {
	if t.settings.KnownHosts == "" {
		return nil, errors.Newf("sftp target requires a known_hosts file").
			Component("backup").
			Category(errors.CategoryConfiguration).
			Build()
	}
	return knownhosts.New(t.settings.KnownHosts)
}

func (t *SFTPTarget) connect(ctx context.Context) (*ssh.Client, *sftp.Client, error) {
	hostKeyCallback, err := t.hostKeyCallback()
	if err != nil {
		return nil, nil, err
	}

	config := &ssh.ClientConfig{
		User:            t.settings.Username,
		Auth:            []ssh.AuthMethod{ssh.Password(t.settings.Password)},
		HostKeyCallback: hostKeyCallback,
		Timeout:         sftpDialTimeout,
	}

	address := net.JoinHostPort(t.settings.Host, t.settings.Port)
	dialer := &net.Dialer{Timeout: sftpDialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, nil, t.netError(err, "dial")
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, address, config)
	if err != nil {
		conn.Close()
		return nil, nil, t.netError(err, "handshake")
	}
	sshClient := ssh.NewClient(sshConn, chans, reqs)

	sftpClient, err := sftp.NewClient(sshClient)
	if err != nil {
		sshClient.Close()
		return nil, nil, t.netError(err, "sftp_session")
	}
	return sshClient, sftpClient, nil
}

func (t *SFTPTarget) netError(err error, operation string) error {
	return errors.New(err).
		Component("backup").
		Category(errors.CategoryNetwork).
		Context("operation", operation).
		Context("host", t.settings.Host).
		Build()
}

// Store uploads the snapshot file under the configured base path.
func (t *SFTPTarget) Store(ctx context.Context, sourcePath string, metadata *backup.Metadata) error {
	sshClient, client, err := t.connect(ctx)
	if err != nil {
		return err
	}
	defer sshClient.Close()
	defer client.Close()

	if err := client.MkdirAll(t.settings.BasePath); err != nil {
		return t.netError(err, "mkdir")
	}

	src, err := os.Open(sourcePath)
	if err != nil {
		return errors.New(err).
			Component("backup").
			Category(errors.CategoryFileIO).
			Context("path", sourcePath).
			Build()
	}
	defer src.Close()

	remotePath := path.Join(t.settings.BasePath, metadata.ID+".db")
	dst, err := client.Create(remotePath)
	if err != nil {
		return t.netError(err, "create")
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		client.Remove(remotePath)
		return t.netError(err, "upload")
	}
	if err := dst.Close(); err != nil {
		return t.netError(err, "close")
	}
	return nil
}

// List returns the snapshots stored under the base path.
func (t *SFTPTarget) List(ctx context.Context) ([]backup.BackupInfo, error) {
	sshClient, client, err := t.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer sshClient.Close()
	defer client.Close()

	files, err := client.ReadDir(t.settings.BasePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, t.netError(err, "list")
	}

	var backups []backup.BackupInfo
	for _, file := range files {
		if file.IsDir() {
			continue
		}
		metadata, ok := backup.ParseSnapshotName(file.Name(), file.Size())
		if !ok {
			continue
		}
		backups = append(backups, backup.BackupInfo{Metadata: metadata, Target: t.Name()})
	}
	return backups, nil
}

// Delete removes one snapshot by id.
func (t *SFTPTarget) Delete(ctx context.Context, id string) error {
	if err := backup.ValidateSnapshotID(id); err != nil {
		return err
	}

	sshClient, client, err := t.connect(ctx)
	if err != nil {
		return err
	}
	defer sshClient.Close()
	defer client.Close()

	if err := client.Remove(path.Join(t.settings.BasePath, id+".db")); err != nil {
		return t.netError(err, "delete")
	}
	return nil
}
