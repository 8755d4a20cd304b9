package rest

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/indo-san/WKWebView/internal/activation"
	"github.com/indo-san/WKWebView/internal/blocklist"
	"github.com/indo-san/WKWebView/internal/downloader"
	"github.com/indo-san/WKWebView/internal/logctx"
	"github.com/indo-san/WKWebView/internal/state"
)

// BlockListHandler exposes the rule list lifecycle over HTTP.
type BlockListHandler struct {
	username   string
	password   string
	models     *state.Models
	resolver   *activation.Resolver
	expiration time.Duration

	// newEngine builds a download engine for one user action session.
	newEngine func(user blocklist.User) (*downloader.Engine, error)
}

func NewBlockListHandler(
	username, password string,
	models *state.Models,
	resolver *activation.Resolver,
	expiration time.Duration,
	newEngine func(user blocklist.User) (*downloader.Engine, error),
) *BlockListHandler {
	return &BlockListHandler{
		username:   username,
		password:   password,
		models:     models,
		resolver:   resolver,
		expiration: expiration,
		newEngine:  newEngine,
	}
}

func (h *BlockListHandler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(h.basicAuthMiddleware)

	r.Get("/status", h.HandleStatus)
	r.Post("/update", h.HandleUpdate)
	r.Put("/whitelist", h.HandleWhitelist)

	return r
}

type ListPayload struct {
	Name         string     `json:"name"`
	Source       string     `json:"source"`
	DateDownload *time.Time `json:"dateDownload,omitempty"`
	Initiator    string     `json:"initiator"`
}

type StatusResponse struct {
	ActiveList         *ListPayload  `json:"activeList"`
	History            []ListPayload `json:"history"`
	Downloads          []ListPayload `json:"downloads"`
	LastVersion        string        `json:"lastVersion"`
	AcceptableAds      bool          `json:"acceptableAds"`
	WhitelistedDomains []string      `json:"whitelistedDomains"`
}

type WhitelistRequest struct {
	Domains []string `json:"domains"`
}

// HandleStatus reports the persisted user state.
func (h *BlockListHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	logger := logctx.LoggerFromContext(r.Context())

	user, err := h.models.LoadUserOrNew()
	if err != nil {
		logger.Error("failed to load user state", "err", err)
		http.Error(w, "failed to load user state", http.StatusInternalServerError)

		return
	}

	h.writeStatus(w, r, user)
}

// HandleUpdate runs a full user action session: download, synchronize,
// activate, persist.
func (h *BlockListHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logctx.LoggerFromContext(ctx)

	user, err := h.models.LoadUserOrNew()
	if err != nil {
		logger.Error("failed to load user state", "err", err)
		http.Error(w, "failed to load user state", http.StatusInternalServerError)

		return
	}

	engine, err := h.newEngine(user)
	if err != nil {
		logger.Error("failed to build download engine", "err", err)
		http.Error(w, "failed to build download engine", http.StatusInternalServerError)

		return
	}

	stream, err := engine.StartDownloads(ctx)
	if err != nil {
		logger.Error("failed to start downloads", "err", err)
		http.Error(w, "failed to start downloads", http.StatusInternalServerError)

		return
	}

	snapshot, err := engine.AfterDownloads(blocklist.UserAction, stream)
	if err != nil {
		logger.Error("download session failed", "err", err)

		var respErr *downloader.InvalidResponseError
		if errors.As(err, &respErr) {
			http.Error(w, "list server rejected the request", http.StatusBadGateway)

			return
		}

		http.Error(w, "download session failed", http.StatusInternalServerError)

		return
	}

	downloaded, ok := snapshot.(blocklist.User)
	if !ok {
		http.Error(w, "unexpected consumer state", http.StatusInternalServerError)

		return
	}

	candidate := activation.MatchUserBlockList(activation.TargetUserDownload, h.expiration)(downloaded, blocklist.Updater{})
	if candidate == nil {
		logger.Error("no activatable download after session")
		http.Error(w, "no activatable download", http.StatusInternalServerError)

		return
	}

	synced, err := engine.SyncDownloads(ctx, downloaded.WithBlockList(*candidate), blocklist.UserAction)
	if err != nil {
		logger.Error("failed to synchronize downloads", "err", err)
		http.Error(w, "failed to synchronize downloads", http.StatusInternalServerError)

		return
	}

	activated, err := h.resolver.Activate(ctx, synced.(blocklist.User))
	if err != nil {
		logger.Error("failed to activate rule list", "err", err)
		http.Error(w, "failed to activate rule list", http.StatusInternalServerError)

		return
	}

	if err := h.models.SaveUser(activated); err != nil {
		logger.Error("failed to save user state", "err", err)
		http.Error(w, "failed to save user state", http.StatusInternalServerError)

		return
	}

	logger.Info("user action update completed", "filter_list", activated.ActiveBlockList().Name)

	h.writeStatus(w, r, activated)
}

// HandleWhitelist replaces the user's whitelisted domains and recompiles the
// active rule list so the exemption takes effect.
func (h *BlockListHandler) HandleWhitelist(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logctx.LoggerFromContext(ctx)

	var req WhitelistRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Error("failed to decode request", "err", err)
		http.Error(w, "invalid request body", http.StatusBadRequest)

		return
	}

	user, err := h.models.LoadUserOrNew()
	if err != nil {
		logger.Error("failed to load user state", "err", err)
		http.Error(w, "failed to load user state", http.StatusInternalServerError)

		return
	}

	user = user.WithWhitelistedDomains(req.Domains)

	if active := user.ActiveBlockList(); active != nil && active.DateDownload != nil {
		activated, err := h.resolver.Activate(ctx, user)
		if err != nil {
			logger.Error("failed to recompile with whitelist", "err", err)
			http.Error(w, "failed to recompile rule list", http.StatusInternalServerError)

			return
		}

		user = activated
	}

	if err := h.models.SaveUser(user); err != nil {
		logger.Error("failed to save user state", "err", err)
		http.Error(w, "failed to save user state", http.StatusInternalServerError)

		return
	}

	h.writeStatus(w, r, user)
}

func (h *BlockListHandler) writeStatus(w http.ResponseWriter, r *http.Request, user blocklist.User) {
	logger := logctx.LoggerFromContext(r.Context())

	resp := StatusResponse{
		ActiveList:         payloadPtr(user.ActiveBlockList()),
		History:            payloads(user.History()),
		Downloads:          payloads(user.Downloads),
		LastVersion:        user.LastVersion,
		AcceptableAds:      user.AcceptableAdsInUse(),
		WhitelistedDomains: user.WhitelistedDomains,
	}

	w.Header().Set("Content-Type", "application/json")

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logger.Error("failed to encode response", "err", err)
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
	}
}

func payloadPtr(blst *blocklist.BlockList) *ListPayload {
	if blst == nil {
		return nil
	}

	p := payload(*blst)

	return &p
}

func payloads(lists []blocklist.BlockList) []ListPayload {
	out := make([]ListPayload, len(lists))
	for i, blst := range lists {
		out[i] = payload(blst)
	}

	return out
}

func payload(blst blocklist.BlockList) ListPayload {
	return ListPayload{
		Name:         blst.Name,
		Source:       blst.Source.Encode(),
		DateDownload: blst.DateDownload,
		Initiator:    string(blst.Initiator),
	}
}

func (h *BlockListHandler) basicAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		username, password, ok := r.BasicAuth()
		if !ok {
			http.Error(w, "invalid authorization format", http.StatusUnauthorized)

			return
		}

		if username != h.username || password != h.password {
			http.Error(w, "invalid username or password", http.StatusUnauthorized)

			return
		}

		next.ServeHTTP(w, r)
	})
}
