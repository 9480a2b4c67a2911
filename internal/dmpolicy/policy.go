// Package dmpolicy evaluates per-agent authorization for inbound messages
// and manages the pairing handshake for peers that are not yet allowed.
package dmpolicy

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/primehq/prime/pkg/models"
)

// Reason codes returned with every decision.
const (
	ReasonPolicyDisabled  = "policy_disabled"
	ReasonOpen            = "open"
	ReasonAllowlisted     = "allowlisted"
	ReasonNotAllowlisted  = "not_allowlisted"
	ReasonPaired          = "paired"
	ReasonPairingRequired = "pairing_required"
	ReasonMentionRequired = "mention_required"
)

// PairingTTL is how long a pairing code stays redeemable.
const PairingTTL = time.Hour

// Context describes one inbound message for policy evaluation.
type Context struct {
	Channel      models.ChannelType
	AccountID    string
	Peer         string
	SenderUserID string
	SenderName   string
	IsGroup      bool
	BotMentioned bool
}

// Decision is the policy outcome.
type Decision struct {
	Allowed bool
	Reason  string
	// PairingRequest is set when a pairing policy denied the message and a
	// request was created (or an unexpired one already existed).
	PairingRequest *models.PairingRequest
}

// PairingStore persists pairing requests and granted devices. Implemented by
// the relational store.
type PairingStore interface {
	FindPending(ctx context.Context, agentID string, channel models.ChannelType, accountID, peer string) (*models.PairingRequest, error)
	CreateRequest(ctx context.Context, req *models.PairingRequest) error
	IsPaired(ctx context.Context, agentID string, channel models.ChannelType, accountID, peer string) (bool, error)
}

// Evaluator applies an agent's DM policy to inbound message contexts.
type Evaluator struct {
	pairing PairingStore
	logger  *slog.Logger
	now     func() time.Time
}

// NewEvaluator creates a policy evaluator. The pairing store may be nil when
// no agent uses the pairing policy.
func NewEvaluator(pairing PairingStore, logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{pairing: pairing, logger: logger, now: time.Now}
}

// Evaluate returns whether the message is allowed for the agent, with a
// reason code. For the pairing policy, a denial emits (or reuses) a pairing
// request the operator can approve.
func (e *Evaluator) Evaluate(ctx context.Context, agent *models.Agent, mctx Context) (Decision, error) {
	if agent == nil || !agent.Active {
		return Decision{Allowed: false, Reason: ReasonPolicyDisabled}, nil
	}

	// Group mention gating applies to every policy except disabled.
	if mctx.IsGroup && agent.GroupRequiresMention && !mctx.BotMentioned {
		if agent.DMPolicy != models.DMPolicyDisabled {
			return Decision{Allowed: false, Reason: ReasonMentionRequired}, nil
		}
	}

	switch agent.DMPolicy {
	case models.DMPolicyDisabled:
		return Decision{Allowed: false, Reason: ReasonPolicyDisabled}, nil

	case models.DMPolicyOpen:
		return Decision{Allowed: true, Reason: ReasonOpen}, nil

	case models.DMPolicyAllowlist:
		if contains(agent.AllowedUserIDs, mctx.SenderUserID) {
			return Decision{Allowed: true, Reason: ReasonAllowlisted}, nil
		}
		return Decision{Allowed: false, Reason: ReasonNotAllowlisted}, nil

	case models.DMPolicyPairing:
		if contains(agent.AllowedUserIDs, mctx.SenderUserID) {
			return Decision{Allowed: true, Reason: ReasonAllowlisted}, nil
		}
		if e.pairing != nil {
			paired, err := e.pairing.IsPaired(ctx, agent.ID, mctx.Channel, mctx.AccountID, mctx.Peer)
			if err != nil {
				return Decision{}, err
			}
			if paired {
				return Decision{Allowed: true, Reason: ReasonPaired}, nil
			}
		}
		req, err := e.ensurePairingRequest(ctx, agent, mctx)
		if err != nil {
			return Decision{}, err
		}
		return Decision{Allowed: false, Reason: ReasonPairingRequired, PairingRequest: req}, nil

	default:
		return Decision{Allowed: false, Reason: ReasonPolicyDisabled}, nil
	}
}

func (e *Evaluator) ensurePairingRequest(ctx context.Context, agent *models.Agent, mctx Context) (*models.PairingRequest, error) {
	if e.pairing == nil {
		return nil, nil
	}

	existing, err := e.pairing.FindPending(ctx, agent.ID, mctx.Channel, mctx.AccountID, mctx.Peer)
	if err != nil {
		return nil, err
	}
	now := e.now()
	if existing != nil && existing.ExpiresAt.After(now) {
		return existing, nil
	}

	code, err := generateCode()
	if err != nil {
		return nil, err
	}
	req := &models.PairingRequest{
		ID:         uuid.NewString(),
		AgentID:    agent.ID,
		Channel:    mctx.Channel,
		AccountID:  mctx.AccountID,
		Peer:       mctx.Peer,
		SenderName: mctx.SenderName,
		Code:       code,
		Status:     models.PairingPending,
		ExpiresAt:  now.Add(PairingTTL),
		CreatedAt:  now,
	}
	if err := e.pairing.CreateRequest(ctx, req); err != nil {
		return nil, err
	}
	e.logger.Info("pairing request created",
		"agent_id", agent.ID,
		"channel", mctx.Channel,
		"peer", mctx.Peer,
		"code", code)
	return req, nil
}

const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

func generateCode() (string, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("dmpolicy: generate code: %w", err)
	}
	for i := range buf {
		buf[i] = codeAlphabet[int(buf[i])%len(codeAlphabet)]
	}
	return string(buf), nil
}

func contains(list []string, v string) bool {
	if v == "" {
		return false
	}
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
