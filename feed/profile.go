package feed

import (
	"errors"
	"strings"

	"github.com/tidwall/gjson"
)

var errMalformedPayload = errors.New("feed payload has no profiles array")

// Profile é um card do feed.
type Profile struct {
	ID       string
	Name     string
	Age      int
	Bio      string
	Photo    string
	Favorite string
}

// parseProfiles aceita {"profiles": [...]} ou um array no topo.
func parseProfiles(body []byte) ([]Profile, error) {
	if !gjson.ValidBytes(body) {
		return nil, errMalformedPayload
	}
	arr := gjson.GetBytes(body, "profiles")
	if !arr.Exists() {
		arr = gjson.ParseBytes(body)
	}
	if !arr.IsArray() {
		return nil, errMalformedPayload
	}

	out := make([]Profile, 0, len(arr.Array()))
	arr.ForEach(func(_, v gjson.Result) bool {
		out = append(out, Profile{
			ID:       v.Get("id").String(),
			Name:     v.Get("name").String(),
			Age:      int(v.Get("age").Int()),
			Bio:      v.Get("bio").String(),
			Photo:    v.Get("photo").String(),
			Favorite: v.Get("favorite_film").String(),
		})
		return true
	})
	return out, nil
}

func (p Profile) matches(query string) bool {
	if query == "" {
		return true
	}
	q := strings.ToLower(query)
	for _, field := range []string{p.Name, p.Bio, p.Favorite} {
		if strings.Contains(strings.ToLower(field), q) {
			return true
		}
	}
	return false
}

func filter(ps []Profile, query string) []Profile {
	if query == "" {
		return ps
	}
	var out []Profile
	for _, p := range ps {
		if p.matches(query) {
			out = append(out, p)
		}
	}
	return out
}
