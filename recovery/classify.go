package recovery

import (
	"errors"
	"strings"

	"nightmate-runtime/dom"
	"nightmate-runtime/gateway"
	"nightmate-runtime/lifecycle"
)

type Category string

const (
	CategoryNetwork    Category = "network"
	CategoryAPI        Category = "api"
	CategoryResource   Category = "resource"
	CategoryModuleInit Category = "module-init"
	CategoryAuth       Category = "auth"
	CategoryUnknown    Category = "unknown"
)

// Mensagens fixas mostradas ao usuário. O erro bruto vai só para o log.
var messages = map[Category]string{
	CategoryNetwork:    "Connection problem. Check your internet and try again.",
	CategoryAPI:        "The server is having trouble right now. Please try again shortly.",
	CategoryResource:   "Some content failed to load. Please refresh the page.",
	CategoryModuleInit: "This section failed to start. Please reload the page.",
	CategoryAuth:       "Your session may have expired. Please sign in again.",
	CategoryUnknown:    "Something went wrong. Please try again.",
}

func (c Category) Message() string {
	if m, ok := messages[c]; ok {
		return m
	}
	return messages[CategoryUnknown]
}

// Recoverable diz se a categoria agenda recuperação automática.
func (c Category) Recoverable() bool {
	return c == CategoryNetwork || c == CategoryAPI
}

var keywords = []struct {
	cat   Category
	words []string
}{
	{CategoryNetwork, []string{"network", "fetch", "connection", "timeout", "offline", "dial"}},
	{CategoryAPI, []string{"api", "status", "http", "json", "rate", "server"}},
	{CategoryResource, []string{"resource", "image", "script", "stylesheet", "asset", "load"}},
	{CategoryModuleInit, []string{"module-init", "init", "constructor", "module"}},
}

// Classify usa primeiro a taxonomia de erros e, sem correspondência, busca
// palavras-chave no contexto e na mensagem.
func Classify(context string, err error) Category {
	var mie *lifecycle.ModuleInitError
	switch {
	case err == nil:
	case errors.Is(err, gateway.ErrUnexpectedContentType):
		return CategoryAuth
	case errors.Is(err, gateway.ErrNetwork):
		return CategoryNetwork
	case errors.Is(err, gateway.ErrRateLimited), errors.Is(err, gateway.ErrTooManyConcurrent):
		return CategoryAPI
	case errors.As(err, &mie):
		return CategoryModuleInit
	case errors.Is(err, dom.ErrNotReady):
		return CategoryResource
	}

	text := strings.ToLower(context)
	if err != nil {
		text += " " + strings.ToLower(err.Error())
	}
	for _, k := range keywords {
		for _, w := range k.words {
			if strings.Contains(text, w) {
				return k.cat
			}
		}
	}
	return CategoryUnknown
}
