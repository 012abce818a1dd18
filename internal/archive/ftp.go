package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/textproto"
	"time"

	"github.com/jlaffaye/ftp"
	"go.uber.org/zap"

	"github.com/heyitswin/zipsea-sub004/internal/pricesync"
)

// FTPConfig captures the parameters required to reach the archive host.
type FTPConfig struct {
	Host        string
	User        string
	Password    string
	DialTimeout time.Duration
}

// FTPDialer dials authenticated FTP sessions to the archive.
type FTPDialer struct {
	cfg    FTPConfig
	logger *zap.Logger
}

// NewFTPDialer constructs a dialer from config.
func NewFTPDialer(cfg FTPConfig, logger *zap.Logger) (*FTPDialer, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("ftp.host is required")
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FTPDialer{cfg: cfg, logger: logger}, nil
}

// Dial opens and authenticates one session.
func (d *FTPDialer) Dial(ctx context.Context) (Conn, error) {
	conn, err := ftp.Dial(
		d.cfg.Host,
		ftp.DialWithContext(ctx),
		ftp.DialWithTimeout(d.cfg.DialTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("dial archive %s: %w", d.cfg.Host, err)
	}
	if err := conn.Login(d.cfg.User, d.cfg.Password); err != nil {
		if quitErr := conn.Quit(); quitErr != nil {
			d.logger.Debug("quit after failed login", zap.Error(quitErr))
		}
		return nil, fmt.Errorf("archive login: %w", err)
	}
	return &ftpConn{conn: conn}, nil
}

type ftpConn struct {
	conn *ftp.ServerConn
}

func (c *ftpConn) List(ctx context.Context, path string) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("list %s: %w", path, err)
	}
	entries, err := c.conn.List(path)
	if err != nil {
		return nil, classifyFTPError("list "+path, err)
	}
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if e.Name == "." || e.Name == ".." {
			continue
		}
		out = append(out, Entry{
			Name: e.Name,
			Dir:  e.Type == ftp.EntryTypeFolder,
			Size: int64(e.Size),
		})
	}
	return out, nil
}

func (c *ftpConn) Retrieve(ctx context.Context, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("retrieve %s: %w", path, err)
	}
	resp, err := c.conn.Retr(path)
	if err != nil {
		return nil, classifyFTPError("retrieve "+path, err)
	}
	data, err := io.ReadAll(resp)
	closeErr := resp.Close()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if closeErr != nil {
		return nil, classifyFTPError("close "+path, closeErr)
	}
	return data, nil
}

func (c *ftpConn) Ping() error {
	if err := c.conn.NoOp(); err != nil {
		return fmt.Errorf("noop: %w", err)
	}
	return nil
}

func (c *ftpConn) Close() error {
	if err := c.conn.Quit(); err != nil {
		return fmt.Errorf("quit: %w", err)
	}
	return nil
}

// classifyFTPError maps a 550 reply onto ErrNotFound; absence of a file or
// any intermediate directory is legitimate, not a connection failure.
func classifyFTPError(op string, err error) error {
	var proto *textproto.Error
	if errors.As(err, &proto) && proto.Code == ftp.StatusFileUnavailable {
		return fmt.Errorf("%s: %w", op, pricesync.ErrNotFound)
	}
	return fmt.Errorf("%s: %w", op, err)
}
