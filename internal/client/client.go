// Package client is the producer side of the encoder bridge. It attaches to
// a running worker, or launches one, and exchanges frames for packets over
// the shared channel.
package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zsiec/encbridge/internal/channel"
	"github.com/zsiec/encbridge/internal/codec"
	"github.com/zsiec/encbridge/internal/layout"
	"github.com/zsiec/encbridge/internal/media"
)

const (
	DefaultAttachAttempts = 50
	DefaultAttachInterval = 100 * time.Millisecond
	DefaultReadyTimeout   = 5 * time.Second
	DefaultPacketTimeout  = time.Second
	DefaultExitTimeout    = 3 * time.Second
)

// ErrWorkerExited is returned when a launched worker exits before the
// channel becomes usable.
var ErrWorkerExited = errors.New("client: worker exited")

// Config describes how to reach the worker.
type Config struct {
	// Channel must match the worker's transport settings. When WorkerPath is
	// set and Channel.Name is empty, a unique session name is generated and
	// handed to the worker along with the layout and acknowledgment settings.
	// StrictPixelFormat only governs the worker's own validation; a launched
	// worker keeps its default unless Env sets ENCBRIDGE_STRICT_PIXFMT.
	Channel channel.Config

	// WorkerPath launches the worker binary when nothing is attached yet.
	// Empty means attach only.
	WorkerPath string
	Width      int
	Height     int
	Codec      codec.Kind

	// Env is appended to the current environment of the launched worker.
	Env []string

	AttachAttempts int
	AttachInterval time.Duration
	ReadyTimeout   time.Duration
	PacketTimeout  time.Duration
	ExitTimeout    time.Duration

	Logger *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.AttachAttempts <= 0 {
		c.AttachAttempts = DefaultAttachAttempts
	}
	if c.AttachInterval <= 0 {
		c.AttachInterval = DefaultAttachInterval
	}
	if c.ReadyTimeout <= 0 {
		c.ReadyTimeout = DefaultReadyTimeout
	}
	if c.PacketTimeout <= 0 {
		c.PacketTimeout = DefaultPacketTimeout
	}
	if c.ExitTimeout <= 0 {
		c.ExitTimeout = DefaultExitTimeout
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Client is one producer session.
type Client struct {
	log *slog.Logger
	cfg Config
	ch  *channel.Channel

	// Launched worker; exited closes once waitErr is set.
	cmd     *exec.Cmd
	exited  chan struct{}
	waitErr error
}

// Connect attaches to the worker named by cfg.Channel, launching
// cfg.WorkerPath first if the channel does not exist yet, and waits for the
// encoder-ready signal.
func Connect(ctx context.Context, cfg Config) (*Client, error) {
	cfg = cfg.withDefaults()
	if cfg.WorkerPath != "" && cfg.Channel.Name == "" {
		cfg.Channel.Name = SessionName()
	}
	if cfg.Channel.Name == "" {
		cfg.Channel.Name = channel.DefaultName
	}
	cfg.Channel.Logger = cfg.Logger

	c := &Client{
		log: cfg.Logger.With("component", "client", "channel", cfg.Channel.Name),
		cfg: cfg,
	}

	ch, err := channel.Open(cfg.Channel)
	if err != nil {
		if cfg.WorkerPath == "" {
			return nil, err
		}
		if err := c.launch(); err != nil {
			return nil, err
		}
		if ch, err = c.attach(ctx); err != nil {
			c.stopWorker()
			return nil, err
		}
	}
	c.ch = ch

	if err := ch.WaitReady(cfg.ReadyTimeout); err != nil {
		c.stopWorker()
		ch.Close()
		return nil, fmt.Errorf("client: waiting for encoder: %w", err)
	}
	c.log.Info("connected to encoder", "launched", c.cmd != nil)
	return c, nil
}

// SessionName returns a fresh channel name for a launched worker.
func SessionName() string {
	return channel.DefaultName + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Name is the channel base name in use.
func (c *Client) Name() string { return c.cfg.Channel.Name }

// SendFrame publishes f. It fails with channel.ErrTransportWrite when f does
// not fit the frame slot.
func (c *Client) SendFrame(f media.Frame) error {
	return c.ch.PublishFrame(f)
}

// ReceivePacket waits up to Config.PacketTimeout for the next packet.
func (c *Client) ReceivePacket() (media.Packet, error) {
	return c.ch.ReceivePacket(c.cfg.PacketTimeout)
}

// Close asks the worker to shut down, waits for a launched worker to exit,
// and releases the channel.
func (c *Client) Close() error {
	var errs []error
	if err := c.ch.RequestShutdown(); err != nil {
		errs = append(errs, err)
	}
	if err := c.awaitWorker(); err != nil {
		errs = append(errs, err)
	}
	if err := c.ch.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (c *Client) launch() error {
	args := []string{
		strconv.Itoa(c.cfg.Width),
		strconv.Itoa(c.cfg.Height),
		c.cfg.Codec.String(),
	}
	cmd := exec.Command(c.cfg.WorkerPath, args...)
	cmd.Env = append(os.Environ(), c.workerEnv()...)
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("client: worker stderr: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("client: launch %s: %w", c.cfg.WorkerPath, err)
	}
	c.cmd = cmd
	c.exited = make(chan struct{})
	c.log.Info("worker launched", "path", c.cfg.WorkerPath, "pid", cmd.Process.Pid, "args", args)

	go func() {
		// Wait closes the pipe, so drain it first.
		c.forwardLogs(stderr)
		c.waitErr = cmd.Wait()
		close(c.exited)
	}()
	return nil
}

func (c *Client) workerEnv() []string {
	ch := c.cfg.Channel
	env := []string{
		"ENCBRIDGE_NAME=" + ch.Name,
		"ENCBRIDGE_ACK=" + strconv.FormatBool(ch.Acknowledge),
	}
	if ch.Dir != "" {
		env = append(env, "ENCBRIDGE_SHM_DIR="+ch.Dir)
	}
	if ch.AckTimeout > 0 {
		env = append(env, "ENCBRIDGE_ACK_TIMEOUT="+ch.AckTimeout.String())
	}
	if ch.Layout != (layout.Layout{}) {
		env = append(env,
			"ENCBRIDGE_FRAME_CAPACITY="+strconv.Itoa(ch.Layout.FrameCapacity),
			"ENCBRIDGE_PACKET_CAPACITY="+strconv.Itoa(ch.Layout.PacketCapacity),
		)
	}
	return append(env, c.cfg.Env...)
}

// attach polls for the worker's channel.
func (c *Client) attach(ctx context.Context) (*channel.Channel, error) {
	ticker := time.NewTicker(c.cfg.AttachInterval)
	defer ticker.Stop()

	var err error
	for range c.cfg.AttachAttempts {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-c.exited:
			return nil, fmt.Errorf("%w before attach: %v", ErrWorkerExited, c.waitErr)
		case <-ticker.C:
		}
		var ch *channel.Channel
		if ch, err = channel.Open(c.cfg.Channel); err == nil {
			return ch, nil
		}
	}
	return nil, fmt.Errorf("client: worker channel not available after %d attempts: %w", c.cfg.AttachAttempts, err)
}

// awaitWorker waits for a launched worker to exit, killing it after
// Config.ExitTimeout.
func (c *Client) awaitWorker() error {
	if c.cmd == nil {
		return nil
	}
	select {
	case <-c.exited:
		var exitErr *exec.ExitError
		if errors.As(c.waitErr, &exitErr) {
			return fmt.Errorf("%w: %v", ErrWorkerExited, exitErr)
		}
		c.log.Info("worker exited cleanly")
		return nil
	case <-time.After(c.cfg.ExitTimeout):
		c.log.Warn("worker exit timeout, killing process", "pid", c.cmd.Process.Pid)
		c.stopWorker()
		return nil
	}
}

func (c *Client) stopWorker() {
	if c.cmd == nil {
		return
	}
	if err := c.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		c.log.Error("kill worker", "error", err)
	}
	<-c.exited
}

func (c *Client) forwardLogs(r io.Reader) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		c.log.Debug("worker log", "line", sc.Text())
	}
}
