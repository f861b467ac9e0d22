package handlers

import (
	"net/http"

	"github.com/pulsegram/backend/internal/middleware"
)

// Dependencies aggregates collaborators required by HTTP handlers.
type Dependencies struct {
	Accounts      AccountStore
	AccountCache  AccountCache
	Sessions      SessionManager
	Graph         FollowGraph
	Engagement    Engagement
	Notifications NotificationFeed
	Conversations Conversations
	Presence      PresenceCounter

	// Verifier enables bearer-token authentication on API routes when set.
	Verifier     middleware.TokenVerifier
	AuthLimiter  RateLimiter
	WriteLimiter middleware.RateLimiter

	Socket  http.Handler
	Metrics http.Handler
}

// RegisterRoutes wires HTTP handlers into the provided ServeMux.
func RegisterRoutes(mux *http.ServeMux, deps Dependencies) {
	health := HealthHandler{Presence: deps.Presence}
	authn := AuthHandler{Accounts: deps.Accounts, Sessions: deps.Sessions, Limiter: deps.AuthLimiter}
	follows := FollowHandler{Graph: deps.Graph}
	accounts := AccountHandler{Accounts: deps.Accounts, Cache: deps.AccountCache}
	posts := PostHandler{Engagement: deps.Engagement}
	notes := NotificationHandler{Feed: deps.Notifications}
	messages := MessageHandler{Conversations: deps.Conversations}

	protect := middleware.Authenticate(deps.Verifier)
	limitWrites := middleware.RateLimit(deps.WriteLimiter, writeRateKey)
	read := func(h http.HandlerFunc) http.Handler { return protect(h) }
	write := func(h http.HandlerFunc) http.Handler { return protect(limitWrites(h)) }

	mux.HandleFunc("GET /healthz", health.Handle)
	if deps.Metrics != nil {
		mux.Handle("GET /metrics", deps.Metrics)
	}
	if deps.Socket != nil {
		mux.Handle("GET /ws", deps.Socket)
	}

	mux.HandleFunc("POST /api/v1/auth/login", authn.Login)
	mux.HandleFunc("POST /api/v1/auth/signup", authn.SignUp)
	mux.HandleFunc("POST /api/v1/auth/refresh", authn.Refresh)

	mux.Handle("POST /api/v1/follow", write(follows.Toggle))
	mux.Handle("POST /api/v1/follows/respond", write(follows.Respond))
	mux.Handle("GET /api/v1/follows/requests/{accountId}", read(follows.Requests))
	mux.Handle("GET /api/v1/accounts/{accountId}/followers", read(follows.Followers))
	mux.Handle("GET /api/v1/accounts/{accountId}/following", read(follows.Following))
	mux.Handle("POST /api/v1/accounts/{accountId}/privacy", write(accounts.SetPrivacy))

	mux.Handle("POST /api/v1/posts", write(posts.Create))
	mux.Handle("POST /api/v1/posts/{postId}/like", write(posts.Like))
	mux.Handle("POST /api/v1/posts/{postId}/comments", write(posts.Comment))
	mux.Handle("GET /api/v1/posts/{postId}/comments", read(posts.Comments))

	mux.Handle("GET /api/v1/notifications/{accountId}", read(notes.List))
	mux.Handle("POST /api/v1/notifications/read", write(notes.MarkAllRead))

	mux.Handle("GET /api/v1/messages/{accountId}/{peerId}", read(messages.History))
	mux.Handle("POST /api/v1/messages/{accountId}/{peerId}/read", write(messages.MarkRead))
}
