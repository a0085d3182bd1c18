// Package fileagent implements the Executor's file-agent (spec §4.6 steps
// 2–3, §9): it moves ciphertext blobs between remote URLs and the
// Executor's in-memory staging area for one task at a time, fanning
// parallel downloads/uploads out across goroutines the way the original
// implementation's tokio runtime fanned them across async tasks spawned
// with join_all (_examples/original_source/file_agent/src/agent.rs).
//
// Supported URL schemes mirror the original: "http"/"https" for remote
// object storage, and "file" for local-disk and loopback test fixtures.
// The original's "fusion" scheme (a local path rewritten against a shared
// fusion-base directory) has no analog here: this repository's Fusion
// Output records are addressed the same way any other output is (spec
// §3's "becomes an Input File... when re-registered"), so a fusion output
// is just another file:// or https:// URL once written.
package fileagent

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
)

// Agent is the concrete file-agent an Executor drives. It is safe for
// concurrent use; a single Agent instance handles every input/output
// resolution for one task's run (the Executor itself never overlaps two
// tasks, per spec §4.6/§5).
type Agent struct {
	client *http.Client
}

// New constructs an Agent with a bounded per-request timeout.
func New(requestTimeout time.Duration) *Agent {
	if requestTimeout <= 0 {
		requestTimeout = 60 * time.Second
	}
	return &Agent{client: &http.Client{Timeout: requestTimeout}}
}

// Download fetches the ciphertext at rawURL.
func (a *Agent) Download(ctx context.Context, rawURL string) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("fileagent: parse url %q: %w", rawURL, err)
	}
	switch u.Scheme {
	case "http", "https":
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, fmt.Errorf("fileagent: build request: %w", err)
		}
		resp, err := a.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("fileagent: download %s: %w", rawURL, err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("fileagent: download %s: status %s", rawURL, resp.Status)
		}
		return io.ReadAll(resp.Body)
	case "file", "":
		path := u.Path
		if u.Scheme == "" {
			path = rawURL
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("fileagent: read local file %s: %w", path, err)
		}
		return data, nil
	default:
		return nil, fmt.Errorf("fileagent: unsupported scheme %q in %q", u.Scheme, rawURL)
	}
}

// Upload writes ciphertext data to rawURL.
func (a *Agent) Upload(ctx context.Context, rawURL string, data []byte) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("fileagent: parse url %q: %w", rawURL, err)
	}
	switch u.Scheme {
	case "http", "https":
		req, err := http.NewRequestWithContext(ctx, http.MethodPut, rawURL, bytes.NewReader(data))
		if err != nil {
			return fmt.Errorf("fileagent: build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/x-binary")
		req.ContentLength = int64(len(data))
		resp, err := a.client.Do(req)
		if err != nil {
			return fmt.Errorf("fileagent: upload %s: %w", rawURL, err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusNoContent {
			return fmt.Errorf("fileagent: upload %s: status %s", rawURL, resp.Status)
		}
		return nil
	case "file", "":
		path := u.Path
		if u.Scheme == "" {
			path = rawURL
		}
		if err := os.WriteFile(path, data, 0o600); err != nil {
			return fmt.Errorf("fileagent: write local file %s: %w", path, err)
		}
		return nil
	default:
		return fmt.Errorf("fileagent: unsupported scheme %q in %q", u.Scheme, rawURL)
	}
}

// DownloadAll resolves every slot→URL pair concurrently and joins all
// results before returning, matching spec §9's "all results are joined
// before update_task_result is sent" and the original's join_all fan-out.
// A partial failure reports every failing slot via a multierror rather
// than failing fast on the first error.
func (a *Agent) DownloadAll(ctx context.Context, urlsBySlot map[string]string) (map[string][]byte, error) {
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results = make(map[string][]byte, len(urlsBySlot))
		errs    *multierror.Error
	)
	for slot, rawURL := range urlsBySlot {
		wg.Add(1)
		go func(slot, rawURL string) {
			defer wg.Done()
			data, err := a.Download(ctx, rawURL)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = multierror.Append(errs, fmt.Errorf("slot %q: %w", slot, err))
				return
			}
			results[slot] = data
		}(slot, rawURL)
	}
	wg.Wait()
	if err := errs.ErrorOrNil(); err != nil {
		return nil, err
	}
	return results, nil
}

// UploadAll mirrors DownloadAll for a set of slot→(URL, ciphertext) outputs.
func (a *Agent) UploadAll(ctx context.Context, dataBySlot map[string][]byte, urlsBySlot map[string]string) error {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs *multierror.Error
	)
	for slot, rawURL := range urlsBySlot {
		wg.Add(1)
		go func(slot, rawURL string) {
			defer wg.Done()
			if err := a.Upload(ctx, rawURL, dataBySlot[slot]); err != nil {
				mu.Lock()
				errs = multierror.Append(errs, fmt.Errorf("slot %q: %w", slot, err))
				mu.Unlock()
			}
		}(slot, rawURL)
	}
	wg.Wait()
	return errs.ErrorOrNil()
}
