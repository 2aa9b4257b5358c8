// Package api implements HTTP handlers and helpers for the locker platform.
package api

import (
    "net/http"
    "strings"
)

type Principal struct {
    Org      string
    Role     string // admin, staff, member
    MemberID string
}

// getPrincipal extracts org and role from JWT or headers.
// - If Authorization: Bearer is present, uses configured verifier (dev/hmac/jwks).
// - Else falls back to headers for dev.
func (s *Server) getPrincipal(r *http.Request) Principal {
    authz := r.Header.Get("Authorization")
    if strings.HasPrefix(strings.ToLower(authz), "bearer ") && s.Auth != nil {
        tok := strings.TrimSpace(authz[len("Bearer "):])
        if pr, err := s.Auth.Verify(tok); err == nil {
            return Principal{Org: pr.Org, Role: pr.Role, MemberID: pr.MemberID}
        }
    }
    org := r.Header.Get("X-Org-Id")
    role := r.Header.Get("X-Role")
    member := r.Header.Get("X-Member-Id")
    if org == "" {
        org = "org_demo"
    }
    if role == "" {
        role = "admin"
    }
    return Principal{Org: org, Role: role, MemberID: member}
}

// IsAdmin reports whether the principal has the admin role.
func (p Principal) IsAdmin() bool { return p.Role == "admin" }
