// Package ytdlp wraps the yt-dlp binary as lister, prober, and fetcher.
package ytdlp

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/ytarchive/go-yt-archive/models"
)

const defaultBinary = "yt-dlp"

// Client runs yt-dlp subprocesses. The zero value uses the binary from
// PATH; all methods are safe for concurrent use.
type Client struct {
	Binary string
}

// CheckDependencies verifies yt-dlp and ffmpeg are installed.
func (c *Client) CheckDependencies() error {
	if _, err := exec.LookPath(c.binary()); err != nil {
		return fmt.Errorf("missing dependency: %s is not installed or not on PATH", c.binary())
	}
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return fmt.Errorf("missing dependency: ffmpeg is required to merge formats and was not found on PATH")
	}
	return nil
}

// List extracts the channel's flat video listing in a single call.
func (c *Client) List(ctx context.Context, canonicalURL string) ([]models.ItemRef, error) {
	args := []string{"--flat-playlist", "-J", "--no-warnings"}
	args = append(args, canonicalURL)

	out, err := c.run(ctx, args)
	if err != nil {
		return nil, err
	}
	return parseFlatPlaylist(out)
}

// Probe extracts a single item's metadata without downloading anything.
func (c *Client) Probe(ctx context.Context, itemURL string) (*models.ItemMeta, error) {
	args := []string{"-J", "--skip-download", "--no-warnings", itemURL}
	out, err := c.run(ctx, args)
	if err != nil {
		return nil, err
	}
	return parseProbe(out)
}

// Fetch downloads one item into destDir, creating the directory if
// absent. Partially downloaded files are resumed, so re-invoking on retry
// is safe.
func (c *Client) Fetch(ctx context.Context, itemURL, destDir, cookiesFile string) error {
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return fmt.Errorf("create download directory %q: %w", destDir, err)
	}

	args := []string{
		"-o", filepath.Join(destDir, "%(title)s [%(id)s].%(ext)s"),
		"--write-subs",
		"--write-auto-subs",
		"--write-info-json",
		"--write-description",
		"--continue",
		"--no-warnings",
		"--quiet",
		"--cache-dir", filepath.Join(destDir, ".cache"),
		"--merge-output-format", "mkv",
		"-f", "bestvideo+bestaudio/best",
	}
	if cookiesFile != "" {
		args = append(args, "--cookies", cookiesFile)
	}
	args = append(args, itemURL)

	slog.Debug("starting yt-dlp download", slog.String("url", itemURL), slog.String("dir", destDir))
	_, err := c.run(ctx, args)
	return err
}

func (c *Client) run(ctx context.Context, args []string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, c.binary(), args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			return nil, fmt.Errorf("yt-dlp failed: %w", err)
		}
		return nil, fmt.Errorf("yt-dlp failed: %w: %s", err, detail)
	}
	return stdout.Bytes(), nil
}

func (c *Client) binary() string {
	if c.Binary != "" {
		return c.Binary
	}
	return defaultBinary
}
