package main

import (
	"encoding/json"
	"net/http"
	"strings"
)

const (
	sessionCookie = "nm_session"
	sessionValue  = "authenticated"
)

type profile struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Age      int    `json:"age"`
	Bio      string `json:"bio"`
	Photo    string `json:"photo,omitempty"`
	Favorite string `json:"favorite_film"`
	Genre    string `json:"genre"`
}

var profiles = []profile{
	{ID: "1", Name: "Mina", Age: 29, Bio: "Night owl. Will debate vampire lore until sunrise.", Favorite: "Nosferatu", Genre: "gothic"},
	{ID: "2", Name: "Ash", Age: 33, Bio: "Chainsaw collector, surprisingly gentle.", Favorite: "Evil Dead II", Genre: "slasher"},
	{ID: "3", Name: "Laurie", Age: 31, Bio: "Babysitter turned survivalist.", Favorite: "Halloween", Genre: "slasher"},
	{ID: "4", Name: "Ellen", Age: 36, Bio: "Looking for someone who checks the air vents.", Favorite: "Alien", Genre: "sci-fi"},
	{ID: "5", Name: "Carol Anne", Age: 27, Bio: "They're here. Are you?", Favorite: "Poltergeist", Genre: "supernatural"},
}

var lists = map[string]any{
	"/api/matches": map[string]any{"matches": []map[string]any{
		{"id": "m1", "name": "Carrie", "favorite_film": "Suspiria"},
		{"id": "m2", "name": "Norman", "favorite_film": "Psycho"},
	}},
	"/api/events": map[string]any{"events": []map[string]any{
		{"id": "e1", "title": "Midnight double feature", "date": "2026-10-31"},
		{"id": "e2", "title": "Haunted hayride meetup", "date": "2026-11-02"},
	}},
	"/api/boards": map[string]any{"threads": []map[string]any{
		{"id": "b1", "title": "Most underrated 80s creature feature?", "author": "ash"},
	}},
	"/api/dms": map[string]any{"conversations": []map[string]any{
		{"id": "d1", "with": "Mina", "last_message": "Garlic bread or no garlic bread?"},
	}},
	"/api/bookmarks": map[string]any{"bookmarks": []map[string]any{
		{"id": "k1", "title": "The Thing", "kind": "film"},
	}},
	"/api/profile": map[string]any{"profile": map[string]any{
		"id": "me", "name": "Sidney", "bio": "Final girl energy.",
	}},
}

func newMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/login", handleLogin)
	mux.HandleFunc("POST /api/logout", handleLogout)
	mux.HandleFunc("GET /login", handleLoginPage)
	mux.Handle("GET /api/feed", requireSession(http.HandlerFunc(handleFeed)))
	for path, payload := range lists {
		mux.Handle("GET "+path, requireSession(jsonHandler(payload)))
	}
	return mux
}

func authenticated(r *http.Request) bool {
	c, err := r.Cookie(sessionCookie)
	return err == nil && c.Value == sessionValue
}

// requireSession redireciona para a página de login (HTML), como um backend
// de sessão faria. É esse redirect que o runtime precisa reconhecer.
func requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !authenticated(r) {
			http.Redirect(w, r, "/login", http.StatusFound)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func handleLogin(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{Name: sessionCookie, Value: sessionValue, Path: "/", HttpOnly: true, SameSite: http.SameSiteLaxMode})
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func handleLogout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{Name: sessionCookie, Value: "", Path: "/", MaxAge: -1})
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func handleLoginPage(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte("<!doctype html><html><body><h1>Sign in</h1><form method=\"post\" action=\"/api/login\"></form></body></html>"))
}

func handleFeed(w http.ResponseWriter, r *http.Request) {
	genre := strings.TrimSpace(r.URL.Query().Get("prefs"))
	out := make([]profile, 0, len(profiles))
	for _, p := range profiles {
		if genre == "" || strings.EqualFold(p.Genre, genre) {
			out = append(out, p)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"profiles": out})
}

func jsonHandler(payload any) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, payload)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
