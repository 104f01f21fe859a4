package runner

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path"
	"strings"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// SSHOptions selects a remote deployment target.
type SSHOptions struct {
	Host    string
	Port    int
	User    string
	KeyPath string
}

// SSH runs commands on a remote host over an established SSH connection.
type SSH struct {
	client *ssh.Client
}

var _ Runner = (*SSH)(nil)
var _ Uploader = (*SSH)(nil)

// DialSSH connects to the remote target. Callers own the returned runner and
// must Close it when the run finishes.
func DialSSH(opts SSHOptions) (*SSH, error) {
	if strings.TrimSpace(opts.Host) == "" {
		return nil, fmt.Errorf("ssh: host is required")
	}
	if opts.Port == 0 {
		opts.Port = 22
	}

	signer, err := loadSigner(opts.KeyPath)
	if err != nil {
		return nil, err
	}

	config := &ssh.ClientConfig{
		User:            opts.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         30 * time.Second,
	}

	addr := fmt.Sprintf("%s:%d", opts.Host, opts.Port)
	client, err := ssh.Dial("tcp", addr, config)
	if err != nil {
		return nil, fmt.Errorf("ssh dial failed: %w", err)
	}
	return &SSH{client: client}, nil
}

func (s *SSH) Close() error {
	return s.client.Close()
}

func (s *SSH) Run(ctx context.Context, args ...string) (string, error) {
	sess, err := s.client.NewSession()
	if err != nil {
		return "", err
	}
	defer sess.Close()

	var out bytes.Buffer
	sess.Stdout = &out
	sess.Stderr = &out

	done := make(chan error, 1)
	go func() {
		done <- sess.Run(shellQuote(args))
	}()

	select {
	case <-ctx.Done():
		_ = sess.Signal(ssh.SIGKILL)
		return out.String(), ctx.Err()
	case err := <-done:
		return out.String(), err
	}
}

// Upload writes a file on the remote host via sftp, creating parent
// directories as needed.
func (s *SSH) Upload(_ context.Context, remotePath string, data []byte, perm os.FileMode) error {
	sftpClient, err := sftp.NewClient(s.client)
	if err != nil {
		return err
	}
	defer sftpClient.Close()

	if dir := path.Dir(remotePath); dir != "." {
		if err := sftpClient.MkdirAll(dir); err != nil {
			return err
		}
	}

	file, err := sftpClient.Create(remotePath)
	if err != nil {
		return err
	}
	defer file.Close()

	if _, err := file.Write(data); err != nil {
		return err
	}
	return file.Chmod(perm)
}

func loadSigner(keyPath string) (ssh.Signer, error) {
	if path := strings.TrimSpace(keyPath); path != "" {
		data, err := os.ReadFile(expandHome(path))
		if err != nil {
			return nil, fmt.Errorf("read ssh key: %w", err)
		}
		return ssh.ParsePrivateKey(data)
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}
	for _, name := range []string{"id_ed25519", "id_ecdsa", "id_rsa"} {
		data, err := os.ReadFile(path.Join(home, ".ssh", name))
		if err != nil {
			continue
		}
		signer, parseErr := ssh.ParsePrivateKey(data)
		if parseErr != nil {
			continue
		}
		return signer, nil
	}
	return nil, fmt.Errorf("no ssh private key found")
}

func expandHome(p string) string {
	if strings.HasPrefix(p, "~") {
		home, err := os.UserHomeDir()
		if err == nil {
			return path.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}

// shellQuote joins args into a single command line safe to pass to a remote
// shell. Plain words pass through unquoted.
func shellQuote(args []string) string {
	quoted := make([]string, 0, len(args))
	for _, arg := range args {
		if arg != "" && !strings.ContainsAny(arg, " \t\n'\"\\$&|;<>()*?[]{}~#`") {
			quoted = append(quoted, arg)
			continue
		}
		quoted = append(quoted, "'"+strings.ReplaceAll(arg, "'", `'\''`)+"'")
	}
	return strings.Join(quoted, " ")
}
