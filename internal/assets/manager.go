// Package assets downloads large model files from the remote store
// with redirect-following, progress reporting, stall detection, retry,
// and atomic install.
package assets

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tzamtzis/obsidian-transcription-plugin/internal/domain"
)

const (
	maxRedirects     = 5
	attemptRetries   = 2
	installRetries   = 3
	downloadChunk    = 32 * 1024
	tempSuffix       = ".download"
	// A model file smaller than this is a truncated artifact, not a
	// valid install.
	minAssetBytes int64 = 4096
)

var errRedirectLimit = errors.New("redirect limit reached")

// ProgressFunc receives (bytesDownloaded, bytesTotal) after every
// chunk; bytesTotal is -1 when the store sends no content length.
type ProgressFunc func(done, total int64)

// Manager owns the model install directory and serializes acquisition
// per asset identity.
type Manager struct {
	installDir     string
	catalog        []domain.ModelAsset
	client         *http.Client
	connectTimeout time.Duration
	stallTimeout   time.Duration
	retryBackoff   time.Duration
	logger         *slog.Logger

	mu       sync.Mutex
	inflight map[string]struct{}
}

// NewManager constructs the production acquisition manager.
func NewManager(installDir string, logger *slog.Logger) *Manager {
	m := &Manager{
		installDir:     installDir,
		catalog:        domain.ModelCatalog(),
		connectTimeout: 15 * time.Second,
		stallTimeout:   30 * time.Second,
		retryBackoff:   2 * time.Second,
		logger:         logger,
		inflight:       map[string]struct{}{},
	}
	m.client = &http.Client{
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			// via includes the initial request, so its length equals the
			// number of the redirect about to be followed.
			if len(via) > maxRedirects {
				return errRedirectLimit
			}
			return nil
		},
	}
	return m
}

// NewManagerForTests constructs a manager with injectable catalog,
// transport, and timing.
func NewManagerForTests(
	installDir string,
	catalog []domain.ModelAsset,
	connectTimeout time.Duration,
	stallTimeout time.Duration,
	retryBackoff time.Duration,
) *Manager {
	m := NewManager(installDir, slog.New(slog.NewTextHandler(io.Discard, nil)))
	m.catalog = catalog
	m.connectTimeout = connectTimeout
	m.stallTimeout = stallTimeout
	m.retryBackoff = retryBackoff
	return m
}

// Catalog returns the model presets annotated with install state.
func (m *Manager) Catalog() []domain.ModelAsset {
	out := make([]domain.ModelAsset, len(m.catalog))
	copy(out, m.catalog)
	for i := range out {
		if path, ok := m.installedPath(out[i]); ok {
			out[i].Installed = true
			out[i].LocalPath = path
		}
	}
	return out
}

// Installed reports whether the asset is fully valid on disk. Partial
// downloads live under a temp suffix and are never visible here.
func (m *Manager) Installed(assetID string) bool {
	asset, ok := m.lookup(assetID)
	if !ok {
		return false
	}
	_, ok = m.installedPath(asset)
	return ok
}

// InstallPath returns the final on-disk location for an asset.
func (m *Manager) InstallPath(assetID string) (string, error) {
	asset, ok := m.lookup(assetID)
	if !ok {
		return "", failUnknownAsset(assetID)
	}
	return filepath.Join(m.installDir, asset.FileName), nil
}

// Remove deletes an installed asset.
func (m *Manager) Remove(assetID string) error {
	path, err := m.InstallPath(assetID)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove model file: %w", err)
	}
	return nil
}

// Acquire downloads and installs the asset. It is idempotent when the
// asset is already valid, serialized per asset identity, and retried
// with backoff for transient failures only.
func (m *Manager) Acquire(ctx context.Context, assetID string, onProgress ProgressFunc) error {
	asset, ok := m.lookup(assetID)
	if !ok {
		return failUnknownAsset(assetID)
	}
	if _, installed := m.installedPath(asset); installed {
		m.logger.Debug("asset already installed", "asset", assetID)
		return nil
	}

	if !m.begin(assetID) {
		return domain.NewFailure(
			domain.CodeAlreadyInProgress,
			domain.KindConfig,
			fmt.Sprintf("download already in progress for model %s", assetID),
			nil,
		).WithHint("Wait for the current download to finish.")
	}
	defer m.end(assetID)

	var lastErr error
	for attempt := 0; attempt <= attemptRetries; attempt++ {
		if attempt > 0 {
			m.logger.Warn("retrying model download",
				"asset", assetID, "attempt", attempt, "error", lastErr)
			select {
			case <-ctx.Done():
				return domain.CancelledFailure("model download cancelled")
			case <-time.After(m.retryBackoff):
			}
		}

		lastErr = m.attempt(ctx, asset, onProgress)
		if lastErr == nil {
			m.logger.Info("model installed", "asset", assetID)
			return nil
		}
		if domain.KindOf(lastErr) != domain.KindTransient {
			return lastErr
		}
	}
	return lastErr
}

// begin registers the asset as in flight; false means already active.
func (m *Manager) begin(assetID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, active := m.inflight[assetID]; active {
		return false
	}
	m.inflight[assetID] = struct{}{}
	return true
}

func (m *Manager) end(assetID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.inflight, assetID)
}

// attempt performs one preflight + transfer + install cycle. The temp
// file is deleted on every failure path, including cancellation.
func (m *Manager) attempt(ctx context.Context, asset domain.ModelAsset, onProgress ProgressFunc) error {
	if err := m.preflight(ctx, asset.URL); err != nil {
		return err
	}

	destPath := filepath.Join(m.installDir, asset.FileName)
	tmpPath := destPath + tempSuffix
	if err := os.MkdirAll(m.installDir, 0o755); err != nil {
		return failResource("prepare model directory", err)
	}

	if err := m.transfer(ctx, asset.URL, tmpPath, onProgress); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}

	if err := installAtomically(tmpPath, destPath); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return nil
}

// preflight cheaply tests host reachability before a full transfer,
// distinguishing "network unreachable" from "server error". Stores
// that reject HEAD (403/405) still count as reachable.
func (m *Manager) preflight(ctx context.Context, url string) error {
	preflightCtx, cancel := context.WithTimeout(ctx, m.connectTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(preflightCtx, http.MethodHead, url, nil)
	if err != nil {
		return fmt.Errorf("build preflight request: %w", err)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return domain.CancelledFailure("model download cancelled")
		}
		return domain.TransientFailure(
			domain.CodeHostUnreachable,
			"model store is unreachable, check the network connection",
			err,
		)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return domain.TransientFailure(
			domain.CodeServerError,
			fmt.Sprintf("model store returned %s during preflight", resp.Status),
			nil,
		)
	}
	if resp.StatusCode == http.StatusNotFound {
		return domain.ConfigFailure(
			domain.CodeUnknownAsset,
			fmt.Sprintf("model store has no file at %s", url),
			"The catalog entry may be outdated; update the plugin.",
		)
	}
	return nil
}

// transfer streams the download to tmpPath with two independent
// clocks: a connection-establishment timeout that fires if response
// headers never arrive, and a stall timeout that resets on every
// received chunk. A single fixed timeout cannot distinguish slow first
// byte from a dead connection after progress.
func (m *Manager) transfer(ctx context.Context, url, tmpPath string, onProgress ProgressFunc) error {
	reqCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// timeoutReason records which clock fired before the context blew
	// up, so the error can name the right one.
	var timeoutReason atomic.Value

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build download request: %w", err)
	}
	req.Header.Set("User-Agent", "obsidian-transcription")

	clock := newConnectClock(m.connectTimeout, &timeoutReason, cancel)

	resp, err := m.client.Do(req)
	clock.headersArrived()
	if err != nil {
		return m.mapTransferError(err, &timeoutReason, ctx)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode >= 500 {
			return domain.TransientFailure(
				domain.CodeServerError,
				fmt.Sprintf("model store returned %s", resp.Status),
				nil,
			)
		}
		return domain.NewFailure(
			domain.CodeServerError,
			domain.KindInternal,
			fmt.Sprintf("unexpected status %s from model store", resp.Status),
			nil,
		)
	}

	file, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return failResource("create temporary download file", err)
	}

	stallTimer := time.AfterFunc(m.stallTimeout, func() {
		timeoutReason.Store("stall")
		cancel()
	})
	defer stallTimer.Stop()

	total := resp.ContentLength
	var done int64
	buf := make([]byte, downloadChunk)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			stallTimer.Reset(m.stallTimeout)
			if _, writeErr := file.Write(buf[:n]); writeErr != nil {
				_ = file.Close()
				return failResource("write model file", writeErr)
			}
			done += int64(n)
			if onProgress != nil {
				onProgress(done, total)
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				break
			}
			_ = file.Close()
			return m.mapTransferError(readErr, &timeoutReason, ctx)
		}
	}

	if err := file.Close(); err != nil {
		return failResource("close model file", err)
	}
	if total > 0 && done != total {
		return domain.TransientFailure(
			domain.CodeStalledTransfer,
			fmt.Sprintf("transfer ended early: %d of %d bytes", done, total),
			nil,
		)
	}
	return nil
}

// connectClock is the connection-establishment timeout. The callback
// re-checks the headers flag so a firing that loses the race against a
// successful response cannot cancel the body read and mislabel it as a
// connect timeout.
type connectClock struct {
	headers atomic.Bool
	timer   *time.Timer
}

func newConnectClock(d time.Duration, reason *atomic.Value, cancel context.CancelFunc) *connectClock {
	c := &connectClock{}
	c.timer = time.AfterFunc(d, func() {
		if c.headers.Load() {
			return
		}
		reason.Store("connect")
		cancel()
	})
	return c
}

// headersArrived disarms the clock once a response came back.
func (c *connectClock) headersArrived() {
	c.headers.Store(true)
	c.timer.Stop()
}

// mapTransferError turns transport errors into the typed taxonomy,
// consulting which timeout clock fired.
func (m *Manager) mapTransferError(err error, timeoutReason *atomic.Value, jobCtx context.Context) error {
	if errors.Is(err, errRedirectLimit) {
		return domain.NewFailure(
			domain.CodeTooManyRedirects,
			domain.KindInternal,
			fmt.Sprintf("model store redirected more than %d times", maxRedirects),
			err,
		)
	}

	switch timeoutReason.Load() {
	case "connect":
		return domain.TransientFailure(
			domain.CodeConnectionTimeout,
			fmt.Sprintf("no response from model store within %s", m.connectTimeout),
			err,
		)
	case "stall":
		return domain.TransientFailure(
			domain.CodeStalledTransfer,
			fmt.Sprintf("transfer stalled, no data for %s", m.stallTimeout),
			err,
		)
	}

	if jobCtx.Err() != nil {
		return domain.CancelledFailure("model download cancelled")
	}
	return domain.TransientFailure(domain.CodeHostUnreachable, "model download failed", err)
}

// installAtomically moves the temp file into place, replacing any
// prior file. Retried a few times to ride out transient file locks.
func installAtomically(tmpPath, destPath string) error {
	var lastErr error
	for i := 0; i < installRetries; i++ {
		if i > 0 {
			time.Sleep(150 * time.Millisecond)
		}
		if err := os.Remove(destPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			lastErr = err
			continue
		}
		if err := os.Rename(tmpPath, destPath); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return domain.NewFailure(
		domain.CodeInstallFailed,
		domain.KindResource,
		"could not move downloaded model into place",
		lastErr,
	)
}

func (m *Manager) lookup(assetID string) (domain.ModelAsset, bool) {
	for _, asset := range m.catalog {
		if asset.ID == assetID {
			return asset, true
		}
	}
	return domain.ModelAsset{}, false
}

// installedPath applies the validity predicate: the file exists at its
// final path and has a non-trivial size.
func (m *Manager) installedPath(asset domain.ModelAsset) (string, bool) {
	path := filepath.Join(m.installDir, asset.FileName)
	info, err := os.Stat(path)
	if err != nil || info.IsDir() || info.Size() < minAssetBytes {
		return "", false
	}
	return path, true
}

func failUnknownAsset(assetID string) error {
	return domain.ConfigFailure(
		domain.CodeUnknownAsset,
		fmt.Sprintf("unknown model id: %s", assetID),
		"Run `transcriber models list` to see available models.",
	)
}

func failResource(action string, err error) error {
	return domain.NewFailure(
		domain.CodeInstallFailed,
		domain.KindResource,
		action+" failed",
		err,
	)
}
