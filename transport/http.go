package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// HTTP é o Transport concreto sobre net/http.
//
// Credenciais são os cookies do Jar do client: em "omit" o Jar não é usado; em
// "same-origin" ele só é usado quando o host do alvo é o host de BaseURL.
type HTTP struct {
	Client  *http.Client
	BaseURL string

	// MaxBody limita a leitura do corpo. Se 0, usa 4 MiB.
	MaxBody int64
}

func NewHTTP(client *http.Client, baseURL string) *HTTP {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &HTTP{Client: client, BaseURL: strings.TrimRight(baseURL, "/")}
}

func (t *HTTP) RoundTrip(ctx context.Context, req *Request) (*Response, error) {
	target, err := t.resolve(req.URL)
	if err != nil {
		return nil, fmt.Errorf("resolve %q: %w", req.URL, err)
	}

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	hreq, err := http.NewRequestWithContext(ctx, req.method(), target.String(), body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			hreq.Header.Add(k, v)
		}
	}

	resp, err := t.clientFor(req.Credentials, target).Do(hreq)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNetwork, err)
	}
	defer resp.Body.Close()

	limit := t.MaxBody
	if limit <= 0 {
		limit = 4 << 20
	}
	// lê um byte a mais para distinguir "cabe exatamente" de "foi cortado"
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %w", ErrNetwork, err)
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%s %s: %w (limit %d bytes)", req.method(), target.Path, ErrBodyTooLarge, limit)
	}

	return &Response{Status: resp.StatusCode, Header: resp.Header.Clone(), Body: data}, nil
}

func (t *HTTP) resolve(raw string) (*url.URL, error) {
	ref, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if ref.IsAbs() || t.BaseURL == "" {
		return ref, nil
	}
	base, err := url.Parse(t.BaseURL + "/")
	if err != nil {
		return nil, err
	}
	return base.ResolveReference(ref), nil
}

func (t *HTTP) clientFor(cred Credentials, target *url.URL) *http.Client {
	c := t.Client
	if c == nil {
		c = http.DefaultClient
	}
	if c.Jar == nil {
		return c
	}

	attach := true
	switch cred {
	case CredentialsOmit:
		attach = false
	case CredentialsSameOrigin, CredentialsDefault:
		attach = t.sameOrigin(target)
	}
	if attach {
		return c
	}

	noJar := *c
	noJar.Jar = nil
	return &noJar
}

func (t *HTTP) sameOrigin(target *url.URL) bool {
	if t.BaseURL == "" {
		return true
	}
	base, err := url.Parse(t.BaseURL)
	if err != nil {
		return false
	}
	return strings.EqualFold(base.Scheme, target.Scheme) && strings.EqualFold(base.Host, target.Host)
}
