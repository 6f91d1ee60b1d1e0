package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/mschirtzinger/prodcal/internal/store"
	"github.com/mschirtzinger/prodcal/internal/task"
)

const (
	// DocumentName is the fixed name of the dataset document in the remote
	// store. One account, one document.
	DocumentName = "productivity-calendar-data.json"

	// requestTimeout bounds every individual remote call.
	requestTimeout = 10 * time.Second

	// minWriteGap is the minimum spacing between consecutive uploads.
	// A write arriving early is delayed, not dropped.
	minWriteGap = 500 * time.Millisecond

	// minLoadGap is the minimum spacing between consecutive downloads.
	// A load arriving early is a silent no-op.
	minLoadGap = 2 * time.Second
)

// Config configures a remote client.
type Config struct {
	// BaseURL is the root of the document store API.
	BaseURL string

	// HTTPClient overrides the transport. Nil means a client with
	// requestTimeout applied.
	HTTPClient *http.Client

	// Logger receives client activity. Nil means stderr.
	Logger *log.Logger

	// Clock overrides time.Now for throttle bookkeeping. Nil means
	// time.Now.
	Clock func() time.Time
}

// loadCall collapses concurrent document reads into one network operation.
type loadCall struct {
	done chan struct{}
	ds   *task.Dataset
	err  error
}

type client struct {
	base   *url.URL
	http   *http.Client
	tokens TokenSource
	kv     KV
	logger *log.Logger
	now    func() time.Time

	mu            sync.Mutex
	state         AuthState
	docID         string
	syncVersion   int
	lastWriteAt   time.Time
	lastLoadAt    time.Time
	writeInFlight bool
	inflight      *loadCall
}

// NewClient builds a Client for the document store at cfg.BaseURL,
// restoring any persisted credential state from kv. An expired persisted
// credential is discarded rather than restored.
func NewClient(cfg Config, tokens TokenSource, kv KV) (Client, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base URL: %w", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[remote] ", log.LstdFlags)
	}
	httpc := cfg.HTTPClient
	if httpc == nil {
		httpc = &http.Client{Timeout: requestTimeout}
	}
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}
	c := &client{
		base:   base,
		http:   httpc,
		tokens: tokens,
		kv:     kv,
		logger: logger,
		now:    now,
	}
	c.restoreState()
	return c, nil
}

func (c *client) restoreState() {
	raw, err := c.kv.Get(store.AuthKey)
	if err != nil {
		return
	}
	var st AuthState
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		c.logger.Printf("discarding unreadable auth state: %v", err)
		_ = c.kv.Delete(store.AuthKey)
		return
	}
	if st.Credential.Expired(c.now()) {
		c.logger.Printf("persisted credential expired, signing out")
		_ = c.kv.Delete(store.AuthKey)
		return
	}
	c.state = st
}

func (c *client) persistState() {
	raw, err := json.Marshal(c.state)
	if err != nil {
		c.logger.Printf("persist auth state: %v", err)
		return
	}
	if err := c.kv.Set(store.AuthKey, string(raw)); err != nil {
		c.logger.Printf("persist auth state: %v", err)
	}
}

func (c *client) Authenticate(ctx context.Context) error {
	cred, err := c.tokens.Token(ctx)
	if err != nil {
		return &AuthError{Err: err}
	}
	c.mu.Lock()
	c.state = AuthState{
		SignedIn:   true,
		Credential: cred,
		Expiry:     cred.ExpiresAt,
	}
	c.persistState()
	c.mu.Unlock()
	c.logger.Printf("authenticated, credential valid until %s", cred.ExpiresAt.Format(time.RFC3339))
	return nil
}

func (c *client) SignedIn() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.SignedIn && !c.state.Credential.Expired(c.now())
}

func (c *client) Revoke(ctx context.Context) error {
	c.mu.Lock()
	token := c.state.Credential.AccessToken
	c.state = AuthState{}
	c.docID = ""
	c.mu.Unlock()
	_ = c.kv.Delete(store.AuthKey)

	if token == "" {
		return nil
	}
	// Best effort: local sign-out already happened.
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("revoke"), strings.NewReader(token))
	if err != nil {
		return nil
	}
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Printf("revoke: %v", err)
		return nil
	}
	resp.Body.Close()
	return nil
}

// ReadDocument fetches the remote dataset subject to load spacing and
// in-flight collapsing.
func (c *client) ReadDocument(ctx context.Context) (*task.Dataset, error) {
	return c.read(ctx, false)
}

// ForceReadDocument fetches the remote dataset ignoring load spacing.
func (c *client) ForceReadDocument(ctx context.Context) (*task.Dataset, error) {
	return c.read(ctx, true)
}

func (c *client) read(ctx context.Context, force bool) (*task.Dataset, error) {
	c.mu.Lock()
	if !c.state.SignedIn {
		c.mu.Unlock()
		return nil, &AuthError{Err: fmt.Errorf("not signed in")}
	}
	if call := c.inflight; call != nil {
		c.mu.Unlock()
		select {
		case <-call.done:
			return call.ds, call.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if !force && c.now().Sub(c.lastLoadAt) < minLoadGap {
		c.mu.Unlock()
		c.logger.Printf("load throttled, previous load too recent")
		return nil, nil
	}
	call := &loadCall{done: make(chan struct{})}
	c.inflight = call
	c.mu.Unlock()

	ds, err := c.fetchDocument(ctx)

	c.mu.Lock()
	c.lastLoadAt = c.now()
	c.inflight = nil
	if ds != nil && ds.Meta.SyncVersion > c.syncVersion {
		c.syncVersion = ds.Meta.SyncVersion
	}
	c.mu.Unlock()

	call.ds, call.err = ds, err
	close(call.done)
	return ds, err
}

func (c *client) fetchDocument(ctx context.Context) (*task.Dataset, error) {
	id, err := c.findDocument(ctx)
	if err != nil {
		return nil, err
	}
	if id == "" {
		c.logger.Printf("no remote document yet")
		return nil, nil
	}

	body, err := c.do(ctx, http.MethodGet, "documents/"+id, nil, "")
	if err != nil {
		return nil, err
	}

	// Malformed payloads never fail a read: decode sanitizes what it can
	// and drops what it cannot.
	ds, err := task.Decode(body, c.now())
	if err != nil {
		c.logger.Printf("remote document unreadable, treating as empty: %v", err)
		return task.NewDataset(), nil
	}
	ds.Meta.SyncedFrom = "remote"
	return ds, nil
}

// WriteDocument uploads the dataset. Exactly one write may be in flight at
// a time; a second caller gets ErrSkipped. Writes closer together than
// minWriteGap block until the gap has elapsed.
func (c *client) WriteDocument(ctx context.Context, ds *task.Dataset) error {
	c.mu.Lock()
	if !c.state.SignedIn {
		c.mu.Unlock()
		return &AuthError{Err: fmt.Errorf("not signed in")}
	}
	if c.writeInFlight {
		c.mu.Unlock()
		c.logger.Printf("write skipped, another write in flight")
		return ErrSkipped
	}
	c.writeInFlight = true
	gap := minWriteGap - c.now().Sub(c.lastWriteAt)
	version := c.syncVersion + 1
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.writeInFlight = false
		c.mu.Unlock()
	}()

	if gap > 0 {
		select {
		case <-time.After(gap):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	out := ds.Clone()
	now := c.now()
	out.Meta.LastSyncedAt = now
	out.Meta.SyncedFrom = "local"
	out.Meta.SyncVersion = version

	payload, err := json.Marshal(out)
	if err != nil {
		return &GenericError{Err: fmt.Errorf("encode dataset: %w", err)}
	}

	id, err := c.findDocument(ctx)
	if err != nil {
		return err
	}
	if id == "" {
		if _, err := c.do(ctx, http.MethodPost, "documents?name="+url.QueryEscape(DocumentName), payload, "application/json"); err != nil {
			return err
		}
		c.logger.Printf("created remote document (%d tasks, version %d)", out.TaskCount(), version)
	} else {
		if _, err := c.do(ctx, http.MethodPut, "documents/"+id, payload, "application/json"); err != nil {
			return err
		}
		c.logger.Printf("updated remote document (%d tasks, version %d)", out.TaskCount(), version)
	}

	c.mu.Lock()
	c.lastWriteAt = c.now()
	c.syncVersion = version
	c.state.LastSyncTime = now
	c.persistState()
	c.mu.Unlock()
	return nil
}

// findDocument resolves the fixed document name to a store ID, caching the
// result. Returns "" when no document exists yet.
func (c *client) findDocument(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.docID != "" {
		id := c.docID
		c.mu.Unlock()
		return id, nil
	}
	c.mu.Unlock()

	body, err := c.do(ctx, http.MethodGet, "documents?name="+url.QueryEscape(DocumentName), nil, "")
	if err != nil {
		return "", err
	}
	var result struct {
		Documents []struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"documents"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return "", &GenericError{Err: fmt.Errorf("decode document listing: %w", err)}
	}
	if len(result.Documents) == 0 {
		return "", nil
	}
	id := result.Documents[0].ID
	c.mu.Lock()
	c.docID = id
	c.mu.Unlock()
	return id, nil
}

func (c *client) endpoint(path string) string {
	ref, err := url.Parse(path)
	if err != nil {
		return c.base.String() + "/" + path
	}
	return c.base.ResolveReference(ref).String()
}

// do performs one authenticated request and classifies any failure.
func (c *client) do(ctx context.Context, method, path string, body []byte, contentType string) ([]byte, error) {
	c.mu.Lock()
	token := c.state.Credential.AccessToken
	c.mu.Unlock()

	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path), rdr)
	if err != nil {
		return nil, &GenericError{Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, classifyTransport(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &NetworkError{Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, classifyStatus(resp.StatusCode, fmt.Errorf("%s %s: %s", method, path, strings.TrimSpace(string(data))))
	}
	return data, nil
}
