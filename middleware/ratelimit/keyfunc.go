package ratelimit

import (
	"net"
	"net/http"
	"strings"
)

// KeyFunc extrai a identidade do cliente. String vazia significa "não deu para
// determinar" e cai no sentinela configurado no application.Service.
type KeyFunc func(r *http.Request) string

// DefaultKeyFunc monta a extração padrão, em ordem:
//
//  1. header configurado (ex: X-Api-Key), se presente
//  2. primeiro IP válido de X-Forwarded-For e depois X-Real-IP, se trustXFF
//  3. host de RemoteAddr, se useRemoteAddr
//
// IPs malformados são ignorados.
func DefaultKeyFunc(keyHeader string, trustXFF, useRemoteAddr bool) KeyFunc {
	return func(r *http.Request) string {
		if keyHeader != "" {
			if v := strings.TrimSpace(r.Header.Get(keyHeader)); v != "" {
				return v
			}
		}

		if trustXFF {
			// pega o primeiro IP do X-Forwarded-For (cliente original)
			if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
				first, _, _ := strings.Cut(xff, ",")
				if ip := validIP(first); ip != "" {
					return ip
				}
			}
			if ip := validIP(r.Header.Get("X-Real-IP")); ip != "" {
				return ip
			}
		}

		if useRemoteAddr {
			host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
			if err != nil {
				host = r.RemoteAddr
			}
			if ip := validIP(host); ip != "" {
				return ip
			}
		}
		return ""
	}
}

func validIP(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	ip := net.ParseIP(strings.Trim(s, "[]"))
	if ip == nil {
		return ""
	}
	return ip.String()
}
