// Package hooks runs the external collaborators: the device allow-list
// binary and the DAT download script.
package hooks

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

const defaultTimeout = 10 * time.Second

type Config struct {
	AllowlistBinary string
	DownloadScript  string
	Timeout         time.Duration
}

func LoadConfig() Config {
	cfg := Config{
		AllowlistBinary: viper.GetString("hooks.allowlist_binary"),
		DownloadScript:  viper.GetString("hooks.download_script"),
		Timeout:         viper.GetDuration("hooks.timeout"),
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return cfg
}

// AllowList decides whether a client address may use the dashboard.
type AllowList interface {
	Allowed(ctx context.Context, ip string) (bool, error)
}

// AllowAll admits every client. It is used when no binary is configured.
type AllowAll struct{}

func (AllowAll) Allowed(context.Context, string) (bool, error) { return true, nil }

// ExecAllowList runs Binary with the client IP as its only argument. Exit
// status 0 admits the client, any other exit status rejects it.
type ExecAllowList struct {
	Binary  string
	Timeout time.Duration
}

func (a ExecAllowList) Allowed(ctx context.Context, ip string) (bool, error) {
	ctx, cancel := withTimeout(ctx, a.Timeout)
	defer cancel()

	err := exec.CommandContext(ctx, a.Binary, ip).Run()
	if err == nil {
		return true, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && ctx.Err() == nil {
		return false, nil
	}
	return false, fmt.Errorf("allow-list check: %w", err)
}

// NewAllowList picks the exec check when a binary is configured.
func NewAllowList(cfg Config) AllowList {
	if cfg.AllowlistBinary == "" {
		return AllowAll{}
	}
	return ExecAllowList{Binary: cfg.AllowlistBinary, Timeout: cfg.Timeout}
}

// ScriptDownloader runs the download script that drops new DAT files into
// the input directory.
type ScriptDownloader struct {
	Script  string
	Dir     string
	Timeout time.Duration
	Log     zerolog.Logger
}

func (d ScriptDownloader) Trigger(ctx context.Context) error {
	if d.Script == "" {
		return errors.New("no download script configured")
	}
	ctx, cancel := withTimeout(ctx, d.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, d.Script)
	cmd.Dir = d.Dir
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	cmd.WaitDelay = time.Second

	start := time.Now()
	err := cmd.Run()
	ev := d.Log.Info()
	if err != nil {
		ev = d.Log.Warn().Err(err)
	}
	ev.Str("script", d.Script).
		Dur("elapsed", time.Since(start)).
		Str("output", strings.TrimSpace(out.String())).
		Msg("download script finished")

	if err != nil {
		return fmt.Errorf("download script %s: %w", d.Script, err)
	}
	return nil
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		d = defaultTimeout
	}
	return context.WithTimeout(ctx, d)
}
