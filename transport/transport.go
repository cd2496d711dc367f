// Package transport define a fronteira de rede do runtime: o formato de uma
// chamada (Request/Response), o contrato Transport e a composição de middlewares.
//
// Tudo que sai do runtime para a rede passa por um Transport. O gateway monta a
// cadeia (dedupe -> rate limit -> concorrência -> observação -> HTTP) usando o
// mesmo formato de middleware que o pacote ratelimit expõe.
package transport

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
)

// Credentials espelha o modo de credenciais de uma chamada (cookies de sessão).
type Credentials string

const (
	CredentialsDefault    Credentials = ""
	CredentialsSameOrigin Credentials = "same-origin"
	CredentialsInclude    Credentials = "include"
	CredentialsOmit       Credentials = "omit"
)

var (
	// ErrNetwork marca falhas de transporte (conexão recusada, timeout, DNS...).
	ErrNetwork = errors.New("network error")

	// ErrUnexpectedContentType indica HTML onde JSON era esperado.
	// Normalmente é sintoma de redirect de autenticação; não deve ser re-tentado.
	ErrUnexpectedContentType = errors.New("unexpected content type")

	// ErrBodyTooLarge indica corpo de resposta acima de HTTP.MaxBody.
	ErrBodyTooLarge = errors.New("response body too large")
)

type Request struct {
	Method      string
	URL         string
	Header      http.Header
	Body        []byte
	Credentials Credentials

	// IdempotencyKey ativa a supressão de duplicatas: se uma chamada com a
	// mesma chave estiver em voo, a nova vira no-op.
	IdempotencyKey string
}

// NewJSONRequest monta um Request que espera JSON de volta.
func NewJSONRequest(method, rawURL string) *Request {
	h := make(http.Header)
	h.Set("Accept", "application/json")
	return &Request{Method: method, URL: rawURL, Header: h}
}

// ID retorna o identificador "method_url" usado para dedupe e para o set de chamadas em voo.
func (r *Request) ID() string {
	if r.IdempotencyKey != "" {
		return r.IdempotencyKey
	}
	return strings.ToUpper(r.method()) + "_" + r.URL
}

// Path retorna o path do alvo, usado como chave de rate limit.
func (r *Request) Path() string {
	u, err := url.Parse(r.URL)
	if err != nil || u.Path == "" {
		return r.URL
	}
	return u.Path
}

// ExpectsJSON informa se o chamador pediu JSON.
func (r *Request) ExpectsJSON() bool {
	if r.Header == nil {
		return false
	}
	return strings.Contains(strings.ToLower(r.Header.Get("Accept")), "json")
}

func (r *Request) method() string {
	if r.Method == "" {
		return http.MethodGet
	}
	return r.Method
}

type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

func (r *Response) ContentType() string {
	if r == nil || r.Header == nil {
		return ""
	}
	return r.Header.Get("Content-Type")
}

// IsHTML detecta um documento HTML, pelo content-type ou pelo começo do corpo.
func (r *Response) IsHTML() bool {
	if r == nil {
		return false
	}
	if strings.Contains(strings.ToLower(r.ContentType()), "text/html") {
		return true
	}
	head := strings.ToLower(strings.TrimSpace(string(r.Body[:min(len(r.Body), 64)])))
	return strings.HasPrefix(head, "<!doctype html") || strings.HasPrefix(head, "<html")
}

// JSON devolve o corpo quando ele é JSON; HTML vira ErrUnexpectedContentType.
func (r *Response) JSON() ([]byte, error) {
	if r.IsHTML() {
		return nil, ErrUnexpectedContentType
	}
	return r.Body, nil
}

func (r *Response) Text() string { return string(r.Body) }

func (r *Response) OK() bool { return r != nil && r.Status >= 200 && r.Status < 300 }

// Transport executa uma chamada. Um retorno (nil, nil) significa no-op
// (chamada duplicada suprimida).
type Transport interface {
	RoundTrip(ctx context.Context, req *Request) (*Response, error)
}

// Func adapta uma função para Transport.
type Func func(ctx context.Context, req *Request) (*Response, error)

func (f Func) RoundTrip(ctx context.Context, req *Request) (*Response, error) {
	return f(ctx, req)
}

// Middleware envolve um Transport, no mesmo formato de func(next http.Handler) http.Handler.
type Middleware func(next Transport) Transport

// Chain aplica os middlewares de forma que o primeiro da lista seja o mais externo.
func Chain(base Transport, mws ...Middleware) Transport {
	t := base
	for i := len(mws) - 1; i >= 0; i-- {
		if mws[i] != nil {
			t = mws[i](t)
		}
	}
	return t
}
