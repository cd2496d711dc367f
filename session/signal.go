// Package session lê o Session Signal: um booleano externo que diz se o usuário
// está autenticado. O runtime nunca escreve nele, só observa.
package session

import (
	"errors"
	"net/http"
	"net/url"
)

var ErrNoJar = errors.New("session: cookie jar not configured")

type Signal interface {
	Authenticated() (bool, error)
}

// SignalFunc adapta uma função para Signal.
type SignalFunc func() (bool, error)

func (f SignalFunc) Authenticated() (bool, error) { return f() }

// CookieSignal considera a sessão ativa quando o cookie Name tem o valor Value
// para a URL dada. É o equivalente de "o cookie X é igual a Y".
type CookieSignal struct {
	Jar   http.CookieJar
	URL   *url.URL
	Name  string
	Value string
}

func (s CookieSignal) Authenticated() (bool, error) {
	if s.Jar == nil || s.URL == nil {
		return false, ErrNoJar
	}
	for _, c := range s.Jar.Cookies(s.URL) {
		if c.Name == s.Name {
			return c.Value == s.Value, nil
		}
	}
	return false, nil
}
