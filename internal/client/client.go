// Package client is a typed HTTP client for the certd API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"certd/internal/certmgr"
	"certd/internal/certs"
	certderrors "certd/internal/errors"
	"certd/internal/upload"
)

// APIError is a non-2xx answer decoded from the server's error body. It
// unwraps to the matching certd error sentinel.
type APIError struct {
	Status   int    `json:"-"`
	Code     string `json:"code"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
	ExitCode *int   `json:"exitCode,omitempty"`
	Stderr   string `json:"stderr,omitempty"`
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("%s (HTTP %d, %s)", e.Message, e.Status, e.Code)
	if e.Field != "" {
		msg += ": field " + e.Field
	}
	if e.ExitCode != nil {
		msg += fmt.Sprintf(": exit code %d", *e.ExitCode)
	}
	if e.Stderr != "" {
		msg += "\n" + strings.TrimRight(e.Stderr, "\n")
	}
	return msg
}

func (e *APIError) Unwrap() error {
	return certderrors.FromKind(e.Code)
}

// Session is the result of a login.
type Session struct {
	Name      string    `json:"name"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

type Option func(*Client)

// WithHTTPClient replaces the default client, which times out after ten
// minutes to leave room for cluster installs.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.http = c }
}

// WithToken authenticates requests with a session token.
func WithToken(token string) Option {
	return func(cl *Client) { cl.token = token }
}

func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, certderrors.Invalid("server-url", baseURL, "an http or https URL is required")
	}
	c := &Client{baseURL: strings.TrimRight(u.String(), "/"), http: &http.Client{Timeout: 10 * time.Minute}}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) Login(ctx context.Context, name, password string) (Session, error) {
	var s Session
	err := c.doJSON(ctx, http.MethodPost, "/api/auth/login", map[string]string{"name": name, "password": password}, &s)
	if err == nil {
		c.token = s.Token
	}
	return s, err
}

func (c *Client) Logout(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodPost, "/api/auth/logout", nil, nil)
}

type serverRequest struct {
	Server string `json:"server"`
	certmgr.CertificateRequest
	CommCert *certmgr.UploadedCertBundle `json:"commCert,omitempty"`
}

type serverResponse struct {
	Server string `json:"server"`
}

// GenerateCSR returns the server id the CSR was generated on, or the
// all-servers sentinel.
func (c *Client) GenerateCSR(ctx context.Context, server string, req certmgr.CertificateRequest) (string, error) {
	var resp serverResponse
	err := c.doJSON(ctx, http.MethodPost, "/api/certs/csr", serverRequest{Server: server, CertificateRequest: req}, &resp)
	return resp.Server, err
}

func (c *Client) InstallCertificate(ctx context.Context, server string, req certmgr.CertificateRequest, bundle *certmgr.UploadedCertBundle) (string, error) {
	var resp serverResponse
	err := c.doJSON(ctx, http.MethodPost, "/api/certs/install", serverRequest{Server: server, CertificateRequest: req, CommCert: bundle}, &resp)
	return resp.Server, err
}

// DownloadCSR returns the PEM of the staged commercial CSR. An empty
// server means the local one.
func (c *Client) DownloadCSR(ctx context.Context, server string) ([]byte, error) {
	path := "/api/certs/csr/download"
	if server != "" {
		path += "?" + url.Values{"server": {server}}.Encode()
	}
	resp, err := c.send(ctx, http.MethodGet, path, nil, "")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

func (c *Client) GetCertificates(ctx context.Context, server, certType, option string) (*certmgr.InspectionReport, error) {
	q := url.Values{"server": {server}}
	if certType != "" {
		q.Set("type", certType)
	}
	if option != "" {
		q.Set("option", option)
	}
	var report certmgr.InspectionReport
	if err := c.doJSON(ctx, http.MethodGet, "/api/certs?"+q.Encode(), nil, &report); err != nil {
		return nil, err
	}
	return &report, nil
}

func (c *Client) GetDomainCertificate(ctx context.Context, domain string) (certs.Metadata, error) {
	var md certs.Metadata
	err := c.doJSON(ctx, http.MethodGet, "/api/domains/"+url.PathEscape(domain)+"/cert", nil, &md)
	return md, err
}

func (c *Client) VerifyCertKey(ctx context.Context, certPEM, keyPEM, chainPEM string) (bool, error) {
	var resp struct {
		VerifyResult bool `json:"verifyResult"`
	}
	body := map[string]string{"cert": certPEM, "key": keyPEM, "chain": chainPEM}
	err := c.doJSON(ctx, http.MethodPost, "/api/certs/verify", body, &resp)
	return resp.VerifyResult, err
}

// Upload stores a file for a later commercial install.
func (c *Client) Upload(ctx context.Context, filename string, content io.Reader) (upload.Upload, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return upload.Upload{}, err
	}
	if _, err := io.Copy(part, content); err != nil {
		return upload.Upload{}, fmt.Errorf("%w: read %s: %v", certderrors.ErrIO, filename, err)
	}
	if err := mw.Close(); err != nil {
		return upload.Upload{}, err
	}
	resp, err := c.send(ctx, http.MethodPost, "/api/uploads", &body, mw.FormDataContentType())
	if err != nil {
		return upload.Upload{}, err
	}
	defer resp.Body.Close()
	var up upload.Upload
	if err := json.NewDecoder(resp.Body).Decode(&up); err != nil {
		return upload.Upload{}, fmt.Errorf("%w: upload response: %v", certderrors.ErrParse, err)
	}
	return up, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	contentType := ""
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
		contentType = "application/json"
	}
	resp, err := c.send(ctx, method, path, body, contentType)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %s %s response: %v", certderrors.ErrParse, method, path, err)
	}
	return nil
}

// send performs the request and turns non-2xx answers into *APIError. The
// caller closes the body of a successful response.
func (c *Client) send(ctx context.Context, method, path string, body io.Reader, contentType string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %v", certderrors.ErrIO, method, path, err)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}
	defer resp.Body.Close()
	apiErr := &APIError{Status: resp.StatusCode}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if json.Unmarshal(data, apiErr) != nil || apiErr.Code == "" {
		apiErr.Code = "internal"
		apiErr.Message = strings.TrimSpace(string(data))
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
	}
	return nil, apiErr
}
