package main

import (
	"fmt"
	"net/http"
)

// Reproduz o sintoma do redirect de autenticação: um endpoint JSON que devolve
// a página de login em HTML com status 200. O runtime deve avisar no log e não
// re-tentar.
func main() {
	http.HandleFunc("/api/feed", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, "<!doctype html><html><body><h1>Sign in</h1><p>Sua sessão expirou.</p></body></html>")
		fmt.Printf("Log: %s %s respondido com HTML (accept=%q)\n", r.Method, r.URL.Path, r.Header.Get("Accept"))
	})
	http.HandleFunc("/api/login", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "nm_session", Value: "authenticated", Path: "/"})
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"ok":true}`)
	})
	fmt.Println("Servidor de redirect rodando em http://localhost:8082")
	err := http.ListenAndServe(":8082", nil)
	if err != nil {
		fmt.Printf("Erro ao subir o servidor: %s\n", err)
	}
}
