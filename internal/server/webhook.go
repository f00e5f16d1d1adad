package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/google/go-github/v57/github"

	"codemorph/pkg/domain"
)

// handleWebhook receives GitHub App lifecycle events. The payload signature
// is verified before any parsing; unverified bodies are never decoded.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if len(s.webhookSecret) == 0 {
		writeError(w, http.StatusServiceUnavailable, "webhooks not configured")
		return
	}
	payload, err := github.ValidatePayload(r, s.webhookSecret)
	if err != nil {
		slog.Warn("webhook signature rejected", "error", err)
		writeError(w, http.StatusUnauthorized, "invalid signature")
		return
	}
	event, err := github.ParseWebHook(github.WebHookType(r), payload)
	if err != nil {
		writeError(w, http.StatusBadRequest, "unparseable payload")
		return
	}
	switch ev := event.(type) {
	case *github.InstallationEvent:
		s.handleInstallationEvent(w, ev)
	default:
		// Unknown event types are acknowledged without state changes.
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
	}
}

func (s *Server) handleInstallationEvent(w http.ResponseWriter, ev *github.InstallationEvent) {
	inst := ev.GetInstallation()
	action := ev.GetAction()
	installationID := inst.GetID()
	login := inst.GetAccount().GetLogin()
	log := slog.With("installationId", installationID, "account", login, "action", action)

	switch action {
	case "created", "new_permissions_accepted", "unsuspend":
		user, ok, err := s.store.GetUserByGitHubLogin(login)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		if !ok {
			// Installed before registering; link on a later event.
			log.Info("installation for unknown account")
			writeJSON(w, http.StatusOK, map[string]string{"status": "unlinked"})
			return
		}
		err = s.store.UpsertInstallation(domain.Installation{
			InstallationID:      installationID,
			UserID:              user.ID,
			RepositorySelection: inst.GetRepositorySelection(),
			LinkedAt:            time.Now().UTC(),
		})
		if err != nil {
			writeDomainError(w, err)
			return
		}
		log.Info("installation linked", "userId", user.ID)
		writeJSON(w, http.StatusOK, map[string]string{"status": "linked"})
	case "deleted", "suspend":
		if err := s.store.DeleteInstallation(installationID); err != nil {
			writeDomainError(w, err)
			return
		}
		log.Info("installation unlinked")
		writeJSON(w, http.StatusOK, map[string]string{"status": "unlinked"})
	default:
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
	}
}
