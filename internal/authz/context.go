package authz

import (
	"context"
	"net/http"
)

type contextKey string

const (
	subjectKey contextKey = "subject"
	scopesKey  contextKey = "scopes"
)

// WithIdentity stores the token subject and its scopes on the context.
func WithIdentity(ctx context.Context, subject string, scopes []string) context.Context {
	if subject != "" {
		ctx = context.WithValue(ctx, subjectKey, subject)
	}
	if len(scopes) > 0 {
		ctx = context.WithValue(ctx, scopesKey, scopes)
	}
	return ctx
}

func SubjectFromRequest(r *http.Request) (string, bool) {
	sub, ok := r.Context().Value(subjectKey).(string)
	if !ok || sub == "" {
		return "", false
	}
	return sub, true
}

func ScopesFromRequest(r *http.Request) []string {
	scopes, _ := r.Context().Value(scopesKey).([]string)
	return scopes
}
