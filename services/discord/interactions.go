package discord

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	supa "github.com/aethex/platform/infra/supabase"
	"github.com/aethex/platform/internal/arms"
	"github.com/aethex/platform/internal/httputil"
	"github.com/aethex/platform/services/discord/supabase"
)

// Interaction and response types.
const (
	interactionPing        = 1
	interactionCommand     = 2
	responsePong           = 1
	responseChannelMessage = 4
	flagEphemeral          = 64
)

const (
	maxInteractionBody       = 1 << 20
	verificationCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	verificationCodeLength   = 8
)

type interactionResponse struct {
	Type int                      `json:"type"`
	Data *interactionResponseData `json:"data,omitempty"`
}

type interactionResponseData struct {
	Content string `json:"content"`
	Flags   int    `json:"flags,omitempty"`
}

func reply(content string) interactionResponse {
	return interactionResponse{
		Type: responseChannelMessage,
		Data: &interactionResponseData{Content: content, Flags: flagEphemeral},
	}
}

// handleInteraction serves Discord's interactions webhook. Every request is
// signed with the application's Ed25519 key over timestamp+body.
func (s *Service) handleInteraction(w http.ResponseWriter, r *http.Request) {
	if s.publicKey == nil {
		httputil.ServiceUnavailable(w, "discord interactions not configured")
		return
	}
	body, err := httputil.ReadAllStrict(r.Body, maxInteractionBody)
	if err != nil {
		httputil.BadRequest(w, "invalid body")
		return
	}
	if !s.verifySignature(r.Header.Get("X-Signature-Ed25519"), r.Header.Get("X-Signature-Timestamp"), body) {
		s.metrics.RecordWebhook(ServiceName, "interaction", "invalid_signature")
		s.logger.LogSecurityEvent(r.Context(), "discord_signature_invalid", map[string]interface{}{"remote": r.RemoteAddr})
		httputil.Unauthorized(w, "invalid request signature")
		return
	}
	if !gjson.ValidBytes(body) {
		httputil.BadRequest(w, "invalid JSON")
		return
	}

	payload := gjson.ParseBytes(body)
	switch payload.Get("type").Int() {
	case interactionPing:
		s.metrics.RecordWebhook(ServiceName, "ping", "ok")
		httputil.WriteJSON(w, http.StatusOK, interactionResponse{Type: responsePong})
	case interactionCommand:
		name := payload.Get("data.name").String()
		s.metrics.RecordWebhook(ServiceName, "command."+name, "ok")
		httputil.WriteJSON(w, http.StatusOK, s.runCommand(r.Context(), name, payload))
	default:
		httputil.BadRequest(w, "unsupported interaction type")
	}
}

func (s *Service) verifySignature(sigHex, timestamp string, body []byte) bool {
	if sigHex == "" || timestamp == "" {
		return false
	}
	sig, err := hex.DecodeString(sigHex)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return false
	}
	msg := make([]byte, 0, len(timestamp)+len(body))
	msg = append(msg, timestamp...)
	msg = append(msg, body...)
	return ed25519.Verify(s.publicKey, msg, sig)
}

// invoker returns the Discord user behind an interaction. Guild interactions
// carry it under member.user, DMs under user.
func invoker(payload gjson.Result) (id, username string) {
	u := payload.Get("member.user")
	if !u.Exists() {
		u = payload.Get("user")
	}
	username = u.Get("global_name").String()
	if username == "" {
		username = u.Get("username").String()
	}
	return u.Get("id").String(), username
}

func (s *Service) runCommand(ctx context.Context, name string, payload gjson.Result) interactionResponse {
	discordID, username := invoker(payload)
	if discordID == "" {
		return reply("Could not identify your Discord account.")
	}
	log := s.logger.WithContext(ctx).WithField("command", name).WithField("discord_id", discordID)

	switch name {
	case "verify":
		code, err := newVerificationCode()
		if err != nil {
			log.WithError(err).Error("generate verification code failed")
			return reply("Something went wrong, please try again.")
		}
		if err := s.repo.SaveVerification(ctx, &supabase.Verification{
			Code:            code,
			DiscordID:       discordID,
			DiscordUsername: username,
			ExpiresAt:       s.now().Add(VerificationTTL),
		}); err != nil {
			log.WithError(err).Error("save verification failed")
			return reply("Something went wrong, please try again.")
		}
		msg := fmt.Sprintf("Your verification code is **%s**. It expires in %d minutes.", code, int(VerificationTTL.Minutes()))
		if s.appURL != "" {
			msg += " Enter it at " + s.appURL + "/discord-verify"
		}
		return reply(msg)

	case "set-arm":
		arm := arms.Normalize(payload.Get(`data.options.#(name=="arm").value`).String())
		if !arms.Valid(arm) {
			return reply("Unknown arm. Choose one of: " + strings.Join(arms.All, ", "))
		}
		if _, err := s.repo.SetPrimaryArm(ctx, discordID, arm); err != nil {
			if supa.IsNotFound(err) {
				return reply("Your Discord account is not linked yet. Use /verify first.")
			}
			log.WithError(err).Error("set primary arm failed")
			return reply("Something went wrong, please try again.")
		}
		return reply("Primary arm set to **" + arm + "**.")

	case "profile":
		link, err := s.repo.GetLinkByDiscordID(ctx, discordID)
		if err != nil {
			if supa.IsNotFound(err) {
				return reply("Your Discord account is not linked yet. Use /verify first.")
			}
			log.WithError(err).Error("profile lookup failed")
			return reply("Something went wrong, please try again.")
		}
		arm := link.PrimaryArm
		if arm == "" {
			arm = "not set"
		}
		msg := fmt.Sprintf("Linked to AeThex account `%s`. Primary arm: %s.", link.UserID, arm)
		return reply(msg)
	}
	return reply("Unknown command.")
}

func newVerificationCode() (string, error) {
	buf := make([]byte, verificationCodeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	for i, b := range buf {
		buf[i] = verificationCodeAlphabet[int(b)%len(verificationCodeAlphabet)]
	}
	return string(buf), nil
}
