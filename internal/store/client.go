// Package store is a REST client for a remote case record store. The same
// Client type serves as migration source and destination.
package store

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"gitlab.com/tozd/go/errors"

	"github.com/chmdznr/case-attachment-migrator/pkg/models"
)

const defaultAPIVersion = "55.0"

// Session is an authenticated connection to one store instance.
type Session struct {
	InstanceURL string
	AccessToken string
}

// Options tunes a Client.
type Options struct {
	// Timeout bounds every remote call. Blob downloads are bounded per read
	// instead, so the timeout limits stalls rather than attachment size.
	Timeout time.Duration
	// MaxFetch caps the number of records returned by a single query.
	MaxFetch   int
	HTTPClient *http.Client
}

// DefaultOptions returns default client options
func DefaultOptions() Options {
	return Options{
		Timeout:  2 * time.Minute,
		MaxFetch: 100000,
	}
}

// Client talks to one record store instance.
type Client struct {
	name       string
	endpoint   models.Endpoint
	session    Session
	httpClient *http.Client
	timeout    time.Duration
	maxFetch   int
}

// New creates a client for endpoint. Login must be called before use.
func New(name string, endpoint models.Endpoint, opts Options) *Client {
	defaults := DefaultOptions()
	if opts.Timeout <= 0 {
		opts.Timeout = defaults.Timeout
	}
	if opts.MaxFetch <= 0 {
		opts.MaxFetch = defaults.MaxFetch
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				MinVersion: tls.VersionTLS12,
			},
			DialContext: (&net.Dialer{
				Timeout:   30 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		}}
	}
	if endpoint.APIVersion == "" {
		endpoint.APIVersion = defaultAPIVersion
	}
	return &Client{
		name:       name,
		endpoint:   endpoint,
		httpClient: opts.HTTPClient,
		timeout:    opts.Timeout,
		maxFetch:   opts.MaxFetch,
	}
}

// NewWithSession creates a client around an already established session.
func NewWithSession(name string, endpoint models.Endpoint, session Session, opts Options) *Client {
	c := New(name, endpoint, opts)
	c.session = session
	return c
}

func (c *Client) Session() Session { return c.session }

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	InstanceURL string `json:"instance_url"`
}

// Login performs the OAuth2 password grant and stores the resulting session.
func (c *Client) Login(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	form := url.Values{
		"grant_type":    {"password"},
		"client_id":     {c.endpoint.ClientID},
		"client_secret": {c.endpoint.ClientSecret},
		"username":      {c.endpoint.Username},
		"password":      {c.endpoint.Password},
	}
	tokenURL := strings.TrimRight(c.endpoint.LoginURL, "/") + "/services/oauth2/token"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return errors.Errorf("creating login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.send("login", req, false)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var tok tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return errors.Errorf("decoding login response: %w", err)
	}
	if tok.AccessToken == "" || tok.InstanceURL == "" {
		return errors.New("login response is missing access_token or instance_url")
	}
	c.session = Session{InstanceURL: tok.InstanceURL, AccessToken: tok.AccessToken}

	zerolog.Ctx(ctx).Info().Str("store", c.name).Str("instance", tok.InstanceURL).Msg("logged in")
	return nil
}

func (c *Client) apiURL(path string) string {
	return fmt.Sprintf("%s/services/data/v%s%s", strings.TrimRight(c.session.InstanceURL, "/"), c.endpoint.APIVersion, path)
}

// send executes req. Non-2xx responses are drained into a CallError.
func (c *Client) send(op string, req *http.Request, auth bool) (*http.Response, error) {
	if auth {
		req.Header.Set("Authorization", "Bearer "+c.session.AccessToken)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, transportError(op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return nil, &CallError{Op: op, Kind: ErrRejected, Status: resp.StatusCode, Body: string(body)}
	}
	return resp, nil
}

type queryResponse struct {
	Done           bool              `json:"done"`
	NextRecordsURL string            `json:"nextRecordsUrl"`
	Records        []json.RawMessage `json:"records"`
}

// query runs a SOQL query and follows nextRecordsUrl until done or maxFetch.
func (c *Client) query(ctx context.Context, op, soql string) ([]json.RawMessage, error) {
	next := c.apiURL("/query?q=" + url.QueryEscape(soql))
	var records []json.RawMessage
	for next != "" && len(records) < c.maxFetch {
		page, err := c.queryPage(ctx, op, next)
		if err != nil {
			return nil, err
		}
		records = append(records, page.Records...)
		next = ""
		if !page.Done && page.NextRecordsURL != "" {
			next = strings.TrimRight(c.session.InstanceURL, "/") + page.NextRecordsURL
		}
	}
	if len(records) > c.maxFetch {
		records = records[:c.maxFetch]
	}
	return records, nil
}

func (c *Client) queryPage(ctx context.Context, op, pageURL string) (*queryResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, http.NoBody)
	if err != nil {
		return nil, errors.Errorf("creating %s request: %w", op, err)
	}
	resp, err := c.send(op, req, true)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var page queryResponse
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, transportError(op, errors.Errorf("decoding query response: %w", err))
	}
	return &page, nil
}

type documentRecord struct {
	ID                       string `json:"Id"`
	Title                    string `json:"Title"`
	FileExtension            string `json:"FileExtension"`
	ContentSize              int64  `json:"ContentSize"`
	LatestPublishedVersionID string `json:"LatestPublishedVersionId"`
}

type linkRecord struct {
	ID              string          `json:"Id"`
	ContentDocument *documentRecord `json:"ContentDocument"`
}

type caseRecord struct {
	ID         string `json:"Id"`
	CaseNumber string `json:"CaseNumber"`
	Links      *struct {
		Records []linkRecord `json:"records"`
	} `json:"ContentDocumentLinks"`
}

func decodeCase(raw json.RawMessage, crossRefField string) (models.Case, error) {
	var rec caseRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return models.Case{}, errors.Errorf("decoding case record: %w", err)
	}
	out := models.Case{ID: rec.ID, CaseNumber: rec.CaseNumber}
	if crossRefField != "" {
		var fields map[string]any
		if err := json.Unmarshal(raw, &fields); err != nil {
			return models.Case{}, errors.Errorf("decoding case record: %w", err)
		}
		if ref, ok := fields[crossRefField].(string); ok {
			out.CrossReference = ref
		}
	}
	if rec.Links != nil {
		out.Links = make([]models.FileLink, 0, len(rec.Links.Records))
		for _, l := range rec.Links.Records {
			link := models.FileLink{ID: l.ID}
			if d := l.ContentDocument; d != nil {
				link.Document = models.FileDocument{
					ID:              d.ID,
					Title:           d.Title,
					Extension:       d.FileExtension,
					ContentSize:     d.ContentSize,
					LatestVersionID: d.LatestPublishedVersionID,
				}
			}
			out.Links = append(out.Links, link)
		}
	}
	return out, nil
}

// FindCases returns every case matching filter with its file links.
func (c *Client) FindCases(ctx context.Context, filter models.CaseFilter) ([]models.Case, error) {
	soql, err := casesQuery(filter)
	if err != nil {
		return nil, err
	}
	records, err := c.query(ctx, "find cases", soql)
	if err != nil {
		return nil, err
	}
	cases := make([]models.Case, 0, len(records))
	for _, raw := range records {
		cs, err := decodeCase(raw, filter.CrossReferenceField)
		if err != nil {
			return nil, err
		}
		cases = append(cases, cs)
	}
	return cases, nil
}

// FindCase looks up a case by identifier. It fails with ErrNotFound when the
// store has no such case.
func (c *Client) FindCase(ctx context.Context, id string) (*models.Case, error) {
	records, err := c.query(ctx, "find case", caseByIDQuery(id))
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, errors.Errorf("case %s: %w", id, ErrNotFound)
	}
	cs, err := decodeCase(records[0], "")
	if err != nil {
		return nil, err
	}
	return &cs, nil
}

type versionRecord struct {
	ID                string `json:"Id"`
	ContentDocumentID string `json:"ContentDocumentId"`
	Title             string `json:"Title"`
	FileExtension     string `json:"FileExtension"`
	ContentSize       int64  `json:"ContentSize"`
}

// LatestVersion returns the version flagged latest for a document, or
// ErrNotFound.
func (c *Client) LatestVersion(ctx context.Context, documentID string) (*models.FileVersion, error) {
	records, err := c.query(ctx, "latest version", latestVersionQuery(documentID))
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, errors.Errorf("latest version of document %s: %w", documentID, ErrNotFound)
	}
	var rec versionRecord
	if err := json.Unmarshal(records[0], &rec); err != nil {
		return nil, errors.Errorf("decoding version record: %w", err)
	}
	return &models.FileVersion{
		ID:         rec.ID,
		DocumentID: rec.ContentDocumentID,
		Title:      rec.Title,
		Extension:  rec.FileExtension,
		Size:       rec.ContentSize,
	}, nil
}

// idleBody streams a blob response. The call is cancelled when the response
// or any subsequent read stalls for longer than idle, so the total transfer
// time of a large blob is not bounded.
type idleBody struct {
	io.ReadCloser
	idle    time.Duration
	timer   *time.Timer
	cancel  context.CancelFunc
	expired atomic.Bool
}

func (b *idleBody) Read(p []byte) (int, error) {
	n, err := b.ReadCloser.Read(p)
	if err != nil && err != io.EOF {
		if b.expired.Load() {
			return n, &CallError{Op: "read blob", Kind: ErrTimeout, Err: err}
		}
		return n, transportError("read blob", err)
	}
	b.timer.Reset(b.idle)
	return n, err
}

func (b *idleBody) Close() error {
	b.timer.Stop()
	defer b.cancel()
	return b.ReadCloser.Close()
}

// OpenBlob streams the content of a file version. The caller must close the
// returned reader. The client timeout applies to the wait for the response
// and to every pause between reads, not to the whole download.
func (c *Client) OpenBlob(ctx context.Context, versionID string) (io.ReadCloser, error) {
	ctx, cancel := context.WithCancel(ctx)
	body := &idleBody{idle: c.timeout, cancel: cancel}
	body.timer = time.AfterFunc(c.timeout, func() {
		body.expired.Store(true)
		cancel()
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.apiURL("/sobjects/ContentVersion/"+url.PathEscape(versionID)+"/VersionData"), http.NoBody)
	if err != nil {
		body.timer.Stop()
		cancel()
		return nil, errors.Errorf("creating blob request: %w", err)
	}
	resp, err := c.send("read blob", req, true)
	if err != nil {
		body.timer.Stop()
		cancel()
		if body.expired.Load() {
			return nil, &CallError{Op: "read blob", Kind: ErrTimeout, Err: err}
		}
		return nil, err
	}
	body.ReadCloser = resp.Body
	return body, nil
}

type writeResponse struct {
	ID      string `json:"id"`
	Success bool   `json:"success"`
	Errors  []any  `json:"errors"`
}

var quoteEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

// WriteVersion uploads content as a new file version in a single multipart
// request and returns the new version identifier.
func (c *Client) WriteVersion(ctx context.Context, meta models.VersionMetadata, content io.Reader) (string, error) {
	const op = "write version"

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	metaHeader := textproto.MIMEHeader{}
	metaHeader.Set("Content-Disposition", `form-data; name="entity_content"`)
	metaHeader.Set("Content-Type", "application/json")
	part, err := mw.CreatePart(metaHeader)
	if err != nil {
		return "", errors.Errorf("creating metadata part: %w", err)
	}
	if err := json.NewEncoder(part).Encode(meta); err != nil {
		return "", errors.Errorf("encoding metadata: %w", err)
	}

	dataHeader := textproto.MIMEHeader{}
	dataHeader.Set("Content-Disposition",
		fmt.Sprintf(`form-data; name="VersionData"; filename="%s"`, quoteEscaper.Replace(meta.PathOnClient)))
	dataHeader.Set("Content-Type", "application/octet-stream")
	part, err = mw.CreatePart(dataHeader)
	if err != nil {
		return "", errors.Errorf("creating content part: %w", err)
	}
	if _, err := io.Copy(part, content); err != nil {
		return "", errors.Errorf("buffering content: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", errors.Errorf("closing multipart body: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL("/sobjects/ContentVersion"), &body)
	if err != nil {
		return "", errors.Errorf("creating write request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.send(op, req, true)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", transportError(op, err)
	}
	var out writeResponse
	if err := json.Unmarshal(raw, &out); err != nil || out.ID == "" || !out.Success {
		return "", &CallError{Op: op, Kind: ErrRejected, Status: resp.StatusCode, Body: string(raw)}
	}
	return out.ID, nil
}
