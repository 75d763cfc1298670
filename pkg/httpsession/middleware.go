package httpsession

import (
	"context"
	"net/http"
)

type containerContextKey struct{}

// WithContainer returns a context carrying c.
func WithContainer(ctx context.Context, c *Container) context.Context {
	return context.WithValue(ctx, containerContextKey{}, c)
}

// FromContext returns the container stored by Middleware.
func FromContext(ctx context.Context) (*Container, bool) {
	if ctx == nil {
		return nil, false
	}
	c, ok := ctx.Value(containerContextKey{}).(*Container)
	return c, ok && c != nil
}

// Middleware resolves the request's container from its cookie, creating a
// new container (and cookie) when there is none or it has ended.
func (s *Store) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var c *Container
		if cookie, err := r.Cookie(s.config.CookieName); err == nil {
			c, _ = s.Get(cookie.Value)
		}
		if c == nil {
			c = s.Create()
			http.SetCookie(w, s.cookie(c.ID, 0))
		} else {
			s.Touch(c.ID)
		}
		next.ServeHTTP(w, r.WithContext(WithContainer(r.Context(), c)))
	})
}

// Logout invalidates the request's container and clears its cookie.
func (s *Store) Logout(w http.ResponseWriter, r *http.Request) {
	if c, ok := FromContext(r.Context()); ok {
		s.Invalidate(c.ID)
	} else if cookie, err := r.Cookie(s.config.CookieName); err == nil {
		s.Invalidate(cookie.Value)
	}
	http.SetCookie(w, s.cookie("", -1))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Store) cookie(value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     s.config.CookieName,
		Value:    value,
		Path:     s.config.CookiePath,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   s.config.Secure,
		SameSite: s.config.SameSite,
	}
}
