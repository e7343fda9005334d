// Command synth-producer drives an encoder worker end to end: it attaches to
// (or launches) the worker, feeds it a synthetic moving pattern, checks every
// packet it gets back and optionally writes the elementary stream to a file.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/zsiec/encbridge/internal/bitstream"
	"github.com/zsiec/encbridge/internal/channel"
	"github.com/zsiec/encbridge/internal/client"
	"github.com/zsiec/encbridge/internal/codec"
	"github.com/zsiec/encbridge/internal/media"
)

func main() {
	workerFlag := flag.String("worker", "", "Worker binary to launch when no worker is attached")
	nameFlag := flag.String("name", "", "Channel base name (default: generated when launching, else "+channel.DefaultName+")")
	dirFlag := flag.String("shm-dir", "", "Directory holding the shared objects (Linux)")
	widthFlag := flag.Int("width", 1280, "Frame width")
	heightFlag := flag.Int("height", 720, "Frame height")
	codecFlag := flag.String("codec", "h264", "Codec requested from a launched worker (h264|hevc)")
	pixfmtFlag := flag.String("pixfmt", "rgba", "Pixel format (rgba|nv12|p010)")
	padFlag := flag.Int("pad", 0, "Extra bytes per row")
	framesFlag := flag.Int("frames", 300, "Frames to send")
	fpsFlag := flag.Int("fps", 60, "Frame rate of the synthetic clock")
	idrFlag := flag.Int("idr-every", 60, "Request an IDR every N frames (0 disables)")
	ackFlag := flag.Bool("ack", false, "Use the acknowledged protocol")
	outFlag := flag.String("out", "", "Write received packets to this Annex-B file")
	flag.Parse()

	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	kind, ok := codec.ParseKind(*codecFlag)
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown codec %q\n", *codecFlag)
		os.Exit(2)
	}
	format, ok := parsePixelFormat(*pixfmtFlag)
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown pixel format %q\n", *pixfmtFlag)
		os.Exit(2)
	}
	if *fpsFlag <= 0 {
		fmt.Fprintf(os.Stderr, "fps must be positive\n")
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	c, err := client.Connect(ctx, client.Config{
		Channel: channel.Config{
			Name:        *nameFlag,
			Dir:         *dirFlag,
			Acknowledge: *ackFlag,
		},
		WorkerPath: *workerFlag,
		Width:      *widthFlag,
		Height:     *heightFlag,
		Codec:      kind,
	})
	if err != nil {
		slog.Error("connect", "error", err)
		os.Exit(1)
	}

	var out *os.File
	if *outFlag != "" {
		if out, err = os.Create(*outFlag); err != nil {
			slog.Error("create output", "error", err)
			c.Close()
			os.Exit(1)
		}
	}

	r := runner{
		client:   c,
		kind:     kind,
		pattern:  pattern{width: *widthFlag, height: *heightFlag, format: format, pad: *padFlag},
		interval: time.Second / time.Duration(*fpsFlag),
		idrEvery: *idrFlag,
		out:      out,
	}
	sum := r.run(ctx, *framesFlag)

	if out != nil {
		if err := out.Close(); err != nil {
			slog.Error("close output", "error", err)
		}
	}
	if err := c.Close(); err != nil {
		slog.Warn("close client", "error", err)
	}

	fmt.Printf("channel %s: sent %d frames, received %d packets (%d key, %d bytes), %d missing, %d IDR requests unmet\n",
		c.Name(), sum.sent, sum.packets, sum.keys, sum.bytes, sum.missing, sum.idrMissed)
	if sum.width > 0 {
		fmt.Printf("stream reports %dx%d\n", sum.width, sum.height)
	}
	if sum.packets == 0 {
		os.Exit(1)
	}
}

type summary struct {
	sent      int
	packets   int
	keys      int
	bytes     int
	missing   int
	idrMissed int
	width     int
	height    int
}

type runner struct {
	client   *client.Client
	kind     codec.Kind
	pattern  pattern
	interval time.Duration
	idrEvery int
	out      *os.File
}

func (r *runner) run(ctx context.Context, frames int) summary {
	var sum summary
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for n := 0; n < frames; n++ {
		select {
		case <-ctx.Done():
			return sum
		case <-ticker.C:
		}

		idr := n == 0 || (r.idrEvery > 0 && n%r.idrEvery == 0)
		ts := uint64(n) * uint64(r.interval)
		if err := r.client.SendFrame(r.pattern.frame(n, ts, idr)); err != nil {
			slog.Error("send frame", "n", n, "error", err)
			continue
		}
		sum.sent++

		p, err := r.client.ReceivePacket()
		if errors.Is(err, channel.ErrTimeout) {
			sum.missing++
			slog.Warn("no packet for frame", "n", n)
			continue
		}
		if err != nil {
			slog.Error("receive packet", "n", n, "error", err)
			continue
		}
		r.check(&sum, n, ts, idr, p)
	}
	return sum
}

func (r *runner) check(sum *summary, n int, ts uint64, idr bool, p media.Packet) {
	sum.packets++
	sum.bytes += len(p.Data)
	if p.IsIDR {
		sum.keys++
	}
	if p.TimestampNs != ts {
		slog.Warn("timestamp mismatch", "n", n, "sent", ts, "got", p.TimestampNs)
	}

	info, err := bitstream.Inspect(r.kind, p.Data)
	switch {
	case err == nil:
		sum.width, sum.height = info.Width, info.Height
	case !errors.Is(err, bitstream.ErrNoParameterSet):
		slog.Warn("unparseable parameter set", "n", n, "error", err)
	}
	if info.Key != p.IsIDR {
		slog.Warn("key flag disagrees with bitstream", "n", n, "flag", p.IsIDR, "bitstream", info)
	}
	if idr && !info.Key {
		sum.idrMissed++
	}
	slog.Debug("packet", "n", n, "size", len(p.Data), "idr", p.IsIDR, "nal", info)

	if r.out != nil {
		if _, err := r.out.Write(p.Data); err != nil {
			slog.Error("write output", "error", err)
			r.out = nil
		}
	}
}

func parsePixelFormat(s string) (media.PixelFormat, bool) {
	for _, f := range []media.PixelFormat{media.PixelFormatRGBA, media.PixelFormatNV12, media.PixelFormatP010} {
		if f.String() == s {
			return f, true
		}
	}
	return 0, false
}
