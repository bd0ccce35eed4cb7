// Copyright (c) 2026 Loop Server. All rights reserved.

package call

import (
	"context"
	"log/slog"
	"time"

	"github.com/frsela/loop-server/internal/callurl"
	"github.com/frsela/loop-server/internal/kvstore"
	"github.com/frsela/loop-server/internal/platform/apperr"
	"github.com/frsela/loop-server/internal/platform/config"
	"github.com/frsela/loop-server/internal/platform/constants"
	"github.com/frsela/loop-server/internal/platform/sec"
	"github.com/frsela/loop-server/internal/platform/validate"
)

// EndpointDirectory resolves an identity to its registered push endpoints.
//
// # Why an interface?
//
// The orchestrator only consumes the endpoint set; declaring the dependency
// here keeps the registration package unaware of calls and lets tests swap
// in a fixed directory.
type EndpointDirectory interface {
	EndpointsFor(ctx context.Context, ownerID string) ([]string, error)
}

// Orchestrator coordinates call initiation and the call-record lifecycle.
type Orchestrator struct {
	store     kvstore.Store[Record]
	directory EndpointDirectory
	provider  SessionProvider
	notifier  Notifier
	cfg       *config.Config
	logger    *slog.Logger
}

// NewOrchestrator constructs the call orchestrator.
func NewOrchestrator(
	store kvstore.Store[Record],
	directory EndpointDirectory,
	provider SessionProvider,
	notifier Notifier,
	cfg *config.Config,
	logger *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		store:     store,
		directory: directory,
		provider:  provider,
		notifier:  notifier,
		cfg:       cfg,
		logger:    logger,
	}
}

// InitiateDirect places a call to one or more recipient identifiers
// (email- or phone-equivalent). Identifiers are reduced to pseudonymous
// identities before any lookup, so raw identifiers never reach storage.
func (o *Orchestrator) InitiateDirect(ctx context.Context, caller *sec.Session, identifiers []string, callType Type) ([]Initiation, error) {
	v := &validate.Validator{}
	v.Custom("callee_id", len(identifiers) == 0, "At least one recipient is required").
		OneOf("call_type", string(callType), string(TypeAudio), string(TypeAudioVideo))
	if err := v.Err(); err != nil {
		return nil, err
	}

	recipients := make([]string, 0, len(identifiers))
	for _, identifier := range identifiers {
		recipients = append(recipients, sec.DeriveIdentity(o.cfg.IdentitySecret, identifier))
	}

	return o.initiate(ctx, callerIdentity(caller), recipients, callType, nil)
}

// InitiateViaInvite places a call through a call-URL invitation token. The
// caller may be anonymous; the sole recipient is the token's owner.
func (o *Orchestrator) InitiateViaInvite(ctx context.Context, caller *sec.Session, invite *callurl.Token, callType Type) ([]Initiation, error) {
	v := &validate.Validator{}
	v.OneOf("call_type", string(callType), string(TypeAudio), string(TypeAudioVideo))
	if err := v.Err(); err != nil {
		return nil, err
	}

	return o.initiate(ctx, callerIdentity(caller), []string{invite.OwnerID}, callType, invite)
}

// initiate is the shared fan-out core.
//
// Recipients with zero registered endpoints are dropped before any
// allocation; if every recipient drops, the call fails with the
// "no user to call found" outcome. Each surviving recipient gets an
// independent call record — initiating twice is two calls, idempotence is
// deliberately not provided.
func (o *Orchestrator) initiate(ctx context.Context, callerID string, recipients []string, callType Type, invite *callurl.Token) ([]Initiation, error) {
	type resolved struct {
		ownerID   string
		endpoints []string
	}

	reachable := make([]resolved, 0, len(recipients))
	for _, ownerID := range recipients {
		endpoints, err := o.directory.EndpointsFor(ctx, ownerID)
		if err != nil {
			return nil, err
		}
		if len(endpoints) == 0 {
			continue
		}
		reachable = append(reachable, resolved{ownerID: ownerID, endpoints: endpoints})
	}

	if len(reachable) == 0 {
		return nil, apperr.NotFound("User to call")
	}

	// Each recipient is initiated independently. A provider or storage
	// failure on one recipient must not discard the records already
	// persisted, and devices already woken, for the recipients before it.
	results := make([]Initiation, 0, len(reachable))
	var failure *apperr.AppError
	for _, recipient := range reachable {
		providerSession, err := o.provider.AllocateSession(ctx)
		if err != nil {
			failure = apperr.Unavailable("Media provider unavailable", err)
			o.logger.ErrorContext(ctx, "provider_session_failed",
				slog.String("callee_id", recipient.ownerID),
				slog.Any("error", err),
			)
			continue
		}

		now := time.Now().Unix()
		record := Record{
			CallID:              sec.NewCallID(),
			CalleeID:            recipient.ownerID,
			CallerID:            callerID,
			Type:                callType,
			State:               StateInit,
			CreatedAt:           now,
			ProviderSessionID:   providerSession.SessionID,
			ProviderCalleeToken: providerSession.CalleeToken,
			ProviderCallerToken: providerSession.CallerToken,
			CalleeChannelToken:  sec.NewHexToken(constants.ChannelTokenBytes),
			CallerChannelToken:  sec.NewHexToken(constants.ChannelTokenBytes),
		}
		if invite != nil {
			record.CallToken = invite.Token
			record.URLCreationDate = invite.CreatedAt
		}

		if err := o.store.Add(ctx, record, "callId"); err != nil {
			failure = apperr.Unavailable("Storage unavailable", err)
			o.logger.ErrorContext(ctx, "call_record_write_failed",
				slog.String("callee_id", recipient.ownerID),
				slog.Any("error", err),
			)
			continue
		}

		o.logger.InfoContext(ctx, "call_initiated",
			slog.String("call_id", record.CallID),
			slog.String("callee_id", record.CalleeID),
			slog.Int("endpoints", len(recipient.endpoints)),
		)

		// Wake the recipient's devices. Awaited only to complete the
		// response; a dead endpoint cannot fail the call.
		fanOut(ctx, o.notifier, recipient.endpoints, record.CreatedAt)

		results = append(results, Initiation{
			CallID:       record.CallID,
			ChannelToken: record.CallerChannelToken,
			SessionID:    record.ProviderSessionID,
			SessionToken: record.ProviderCallerToken,
			APIKey:       o.provider.APIKey(),
			ProgressURL:  o.progressURL(record.CallID),
		})
	}

	// Partial success returns the initiated recipients; only a fan-out
	// where nothing succeeded surfaces the dependency failure.
	if len(results) == 0 && failure != nil {
		return nil, failure
	}
	return results, nil
}

// ListCalls returns the callee's calls with createdAt >= sinceVersion,
// newest last. Records that sat in init past the supervisory deadline are
// released on the way through — the passive half of the supervisory timer.
func (o *Orchestrator) ListCalls(ctx context.Context, callee *sec.Session, sinceVersion int64) ([]Summary, error) {
	records, err := o.store.Find(ctx, kvstore.Query{"calleeId": callee.Identity()})
	if err != nil {
		return nil, apperr.Unavailable("Storage unavailable", err)
	}

	summaries := make([]Summary, 0, len(records))
	for _, record := range records {
		released, err := o.releaseIfAbandoned(ctx, &record)
		if err != nil {
			return nil, err
		}
		if released || record.CreatedAt < sinceVersion {
			continue
		}

		summary := Summary{
			CallID:       record.CallID,
			CallerID:     record.CallerID,
			Type:         record.Type,
			CreatedAt:    record.CreatedAt,
			ChannelToken: record.CalleeChannelToken,
			SessionID:    record.ProviderSessionID,
			SessionToken: record.ProviderCalleeToken,
			APIKey:       o.provider.APIKey(),
			ProgressURL:  o.progressURL(record.CallID),
		}
		if record.CallToken != "" {
			summary.CallURL = o.cfg.ServerRootURL + "/calls/" + record.CallToken
			summary.URLCreationDate = record.URLCreationDate
		}
		summaries = append(summaries, summary)
	}

	return summaries, nil
}

// GetCall fetches one call by id. An abandoned init record is released and
// reported as not found.
func (o *Orchestrator) GetCall(ctx context.Context, callID string) (*Record, error) {
	record, err := o.store.FindOne(ctx, kvstore.Query{"callId": callID})
	if err != nil {
		return nil, apperr.Unavailable("Storage unavailable", err)
	}
	if record == nil {
		return nil, apperr.NotFound("Call")
	}

	released, err := o.releaseIfAbandoned(ctx, record)
	if err != nil {
		return nil, err
	}
	if released {
		return nil, apperr.NotFound("Call")
	}

	return record, nil
}

// TerminateCall deletes a call record (reject/cancel). No tombstone remains.
func (o *Orchestrator) TerminateCall(ctx context.Context, callID string) error {
	removed, err := o.store.Delete(ctx, kvstore.Query{"callId": callID})
	if err != nil {
		return apperr.Unavailable("Storage unavailable", err)
	}
	if removed == 0 {
		return apperr.NotFound("Call")
	}

	o.logger.InfoContext(ctx, "call_terminated", slog.String("call_id", callID))
	return nil
}

// releaseIfAbandoned deletes a record still in init past the supervisory
// deadline and reports whether it did.
func (o *Orchestrator) releaseIfAbandoned(ctx context.Context, record *Record) (bool, error) {
	if record.State != StateInit {
		return false, nil
	}

	deadline := record.CreatedAt + int64(o.cfg.CallSupervisoryWindow.Seconds())
	if time.Now().Unix() <= deadline {
		return false, nil
	}

	if _, err := o.store.Delete(ctx, kvstore.Query{"callId": record.CallID}); err != nil {
		return false, apperr.Unavailable("Storage unavailable", err)
	}

	o.logger.InfoContext(ctx, "call_abandoned", slog.String("call_id", record.CallID))
	return true, nil
}

// progressURL is the real-time channel endpoint for one call.
func (o *Orchestrator) progressURL(callID string) string {
	return o.cfg.WebSocketURL + "/websocket/" + callID
}

// callerIdentity extracts the scoping identity, empty for anonymous callers.
func callerIdentity(caller *sec.Session) string {
	if caller == nil {
		return ""
	}
	return caller.Identity()
}
