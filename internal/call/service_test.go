// Copyright (c) 2026 Loop Server. All rights reserved.

package call_test

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frsela/loop-server/internal/call"
	"github.com/frsela/loop-server/internal/callurl"
	"github.com/frsela/loop-server/internal/kvstore"
	"github.com/frsela/loop-server/internal/platform/apperr"
	"github.com/frsela/loop-server/internal/platform/config"
	"github.com/frsela/loop-server/internal/platform/constants"
	"github.com/frsela/loop-server/internal/platform/sec"
)

const testIdentitySecret = "test-identity-secret"

// fakeDirectory maps identities to endpoint sets.
type fakeDirectory struct {
	endpoints map[string][]string
}

func (d *fakeDirectory) EndpointsFor(ctx context.Context, ownerID string) ([]string, error) {
	return d.endpoints[ownerID], nil
}

// fakeProvider mints predictable sessions and counts allocations. failing
// rejects every allocation; failFrom rejects the Nth and later ones.
type fakeProvider struct {
	allocated int
	failing   bool
	failFrom  int
}

func (p *fakeProvider) AllocateSession(ctx context.Context) (*call.ProviderSession, error) {
	if p.failing || (p.failFrom > 0 && p.allocated+1 >= p.failFrom) {
		return nil, fmt.Errorf("provider down")
	}
	p.allocated++
	return &call.ProviderSession{
		SessionID:   fmt.Sprintf("session-%d", p.allocated),
		CalleeToken: fmt.Sprintf("callee-token-%d", p.allocated),
		CallerToken: fmt.Sprintf("caller-token-%d", p.allocated),
	}, nil
}

func (p *fakeProvider) CheckHealth(ctx context.Context) error { return nil }
func (p *fakeProvider) APIKey() string                        { return "test-api-key" }

// fakeNotifier records every dispatched endpoint. Dispatch is concurrent, so
// the recording is mutex guarded.
type fakeNotifier struct {
	mu   sync.Mutex
	sent []string
}

func (n *fakeNotifier) Notify(ctx context.Context, endpoint string, version int64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, endpoint)
}

func (n *fakeNotifier) sentEndpoints() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.sent...)
}

type fixture struct {
	orchestrator *call.Orchestrator
	store        kvstore.Store[call.Record]
	directory    *fakeDirectory
	provider     *fakeProvider
	notifier     *fakeNotifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	cfg := &config.Config{
		IdentitySecret:        testIdentitySecret,
		ServerRootURL:         "https://loop.example.com",
		WebSocketURL:          "wss://loop.example.com",
		CallSupervisoryWindow: 30 * time.Second,
	}
	store := kvstore.NewMemory[call.Record](constants.CollectionCalls)
	directory := &fakeDirectory{endpoints: map[string][]string{}}
	provider := &fakeProvider{}
	notifier := &fakeNotifier{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	return &fixture{
		orchestrator: call.NewOrchestrator(store, directory, provider, notifier, cfg, logger),
		store:        store,
		directory:    directory,
		provider:     provider,
		notifier:     notifier,
	}
}

// reach registers endpoints for the identity derived from an identifier.
func (f *fixture) reach(identifier string, endpoints ...string) string {
	identity := sec.DeriveIdentity(testIdentitySecret, identifier)
	f.directory.endpoints[identity] = endpoints
	return identity
}

/*
TestOrchestrator_InitiateDirect covers the direct-call happy path: provider
allocation, the persisted record, the caller-role result, and push fan-out.
*/
func TestOrchestrator_InitiateDirect(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	calleeIdentity := f.reach("bob@example.com", "https://push.example.com/bob/1", "https://push.example.com/bob/2")
	caller := &sec.Session{SessionID: "alice-session"}

	results, err := f.orchestrator.InitiateDirect(ctx, caller, []string{"bob@example.com"}, call.TypeAudioVideo)
	require.NoError(t, err)
	require.Len(t, results, 1)

	initiation := results[0]
	assert.Len(t, initiation.CallID, 32)
	_, err = hex.DecodeString(initiation.CallID)
	assert.NoError(t, err)

	assert.Equal(t, "session-1", initiation.SessionID)
	assert.Equal(t, "caller-token-1", initiation.SessionToken)
	assert.Equal(t, "test-api-key", initiation.APIKey)
	assert.Equal(t, "wss://loop.example.com/websocket/"+initiation.CallID, initiation.ProgressURL)
	assert.NotEmpty(t, initiation.ChannelToken)

	// The persisted record carries both role tokens and the init state.
	record, err := f.store.FindOne(ctx, kvstore.Query{"callId": initiation.CallID})
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, call.StateInit, record.State)
	assert.Equal(t, calleeIdentity, record.CalleeID)
	assert.Equal(t, caller.Identity(), record.CallerID)
	assert.Equal(t, "callee-token-1", record.ProviderCalleeToken)
	assert.NotEqual(t, record.CalleeChannelToken, record.CallerChannelToken)

	// Every registered endpoint was woken.
	assert.ElementsMatch(t, []string{
		"https://push.example.com/bob/1",
		"https://push.example.com/bob/2",
	}, f.notifier.sentEndpoints())
}

/*
TestOrchestrator_NoIdempotence verifies that initiating twice yields two
independent calls.
*/
func TestOrchestrator_NoIdempotence(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.reach("bob@example.com", "https://push.example.com/bob/1")
	caller := &sec.Session{SessionID: "alice-session"}

	first, err := f.orchestrator.InitiateDirect(ctx, caller, []string{"bob@example.com"}, call.TypeAudio)
	require.NoError(t, err)
	second, err := f.orchestrator.InitiateDirect(ctx, caller, []string{"bob@example.com"}, call.TypeAudio)
	require.NoError(t, err)

	assert.NotEqual(t, first[0].CallID, second[0].CallID)
	assert.Equal(t, 2, f.provider.allocated)
}

/*
TestOrchestrator_UnreachableRecipients covers the drop policy: recipients
with no endpoints are skipped, and an entirely unreachable recipient set
fails the call.
*/
func TestOrchestrator_UnreachableRecipients(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	caller := &sec.Session{SessionID: "alice-session"}

	t.Run("all_unreachable", func(t *testing.T) {
		_, err := f.orchestrator.InitiateDirect(ctx, caller, []string{"ghost@example.com"}, call.TypeAudio)
		require.Error(t, err)
		assert.True(t, apperr.IsCode(err, "NOT_FOUND"))
		assert.Zero(t, f.provider.allocated)
	})

	t.Run("partially_reachable", func(t *testing.T) {
		reachable := f.reach("bob@example.com", "https://push.example.com/bob/1")

		results, err := f.orchestrator.InitiateDirect(ctx, caller,
			[]string{"ghost@example.com", "bob@example.com"}, call.TypeAudio)
		require.NoError(t, err)
		require.Len(t, results, 1)

		record, err := f.store.FindOne(ctx, kvstore.Query{"callId": results[0].CallID})
		require.NoError(t, err)
		assert.Equal(t, reachable, record.CalleeID)
	})
}

/*
TestOrchestrator_Validation rejects empty recipient lists and unknown call
types before touching any dependency.
*/
func TestOrchestrator_Validation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	caller := &sec.Session{SessionID: "alice-session"}

	_, err := f.orchestrator.InitiateDirect(ctx, caller, nil, call.TypeAudio)
	assert.True(t, apperr.IsCode(err, "VALIDATION_ERROR"))

	_, err = f.orchestrator.InitiateDirect(ctx, caller, []string{"bob@example.com"}, call.Type("video"))
	assert.True(t, apperr.IsCode(err, "VALIDATION_ERROR"))

	assert.Zero(t, f.provider.allocated)
}

/*
TestOrchestrator_ProviderFailure verifies that an allocation failure surfaces
as a dependency outage and nothing is persisted.
*/
func TestOrchestrator_ProviderFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.provider.failing = true

	f.reach("bob@example.com", "https://push.example.com/bob/1")
	caller := &sec.Session{SessionID: "alice-session"}

	_, err := f.orchestrator.InitiateDirect(ctx, caller, []string{"bob@example.com"}, call.TypeAudio)
	assert.True(t, apperr.IsCode(err, "SERVICE_UNAVAILABLE"))

	records, err := f.store.Find(ctx, kvstore.Query{})
	require.NoError(t, err)
	assert.Empty(t, records)
}

/*
TestOrchestrator_PartialProviderFailure verifies that recipients are
initiated independently: an allocation failure for one recipient does not
discard the records already persisted, and devices already woken, for the
recipients before it.
*/
func TestOrchestrator_PartialProviderFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.provider.failFrom = 2

	bob := f.reach("bob@example.com", "https://push.example.com/bob/1")
	f.reach("carol@example.com", "https://push.example.com/carol/1")
	caller := &sec.Session{SessionID: "alice-session"}

	results, err := f.orchestrator.InitiateDirect(ctx, caller,
		[]string{"bob@example.com", "carol@example.com"}, call.TypeAudio)
	require.NoError(t, err)
	require.Len(t, results, 1)

	// The caller learns the callId that did go through.
	record, err := f.store.FindOne(ctx, kvstore.Query{"callId": results[0].CallID})
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, bob, record.CalleeID)

	records, err := f.store.Find(ctx, kvstore.Query{})
	require.NoError(t, err)
	assert.Len(t, records, 1)

	// Only the initiated recipient's devices were woken.
	assert.Equal(t, []string{"https://push.example.com/bob/1"}, f.notifier.sentEndpoints())
}

/*
TestOrchestrator_InitiateViaInvite verifies calling through an invitation
token: the token's owner is the sole recipient and the record is linked back
to the originating token.
*/
func TestOrchestrator_InitiateViaInvite(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	ownerID := "owner-identity"
	f.directory.endpoints[ownerID] = []string{"https://push.example.com/owner/1"}

	invite := &callurl.Token{
		Token:      "invite-token",
		OwnerID:    ownerID,
		CalleeName: "Alice",
		CreatedAt:  time.Now().Unix() - 60,
	}

	// Anonymous caller.
	results, err := f.orchestrator.InitiateViaInvite(ctx, nil, invite, call.TypeAudioVideo)
	require.NoError(t, err)
	require.Len(t, results, 1)

	record, err := f.store.FindOne(ctx, kvstore.Query{"callId": results[0].CallID})
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, ownerID, record.CalleeID)
	assert.Empty(t, record.CallerID)
	assert.Equal(t, "invite-token", record.CallToken)
	assert.Equal(t, invite.CreatedAt, record.URLCreationDate)
}

/*
TestOrchestrator_ListCalls covers the callee-role listing: version filtering
and the reconstructed invitation URL.
*/
func TestOrchestrator_ListCalls(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	callee := &sec.Session{SessionID: "callee-identity"}
	now := time.Now().Unix()

	older := call.Record{
		CallID: sec.NewCallID(), CalleeID: callee.Identity(),
		Type: call.TypeAudio, State: call.StateAnswered, CreatedAt: now - 100,
		ProviderSessionID: "s1", ProviderCalleeToken: "ct1", ProviderCallerToken: "rt1",
		CalleeChannelToken: "cc1", CallerChannelToken: "rc1",
	}
	newer := call.Record{
		CallID: sec.NewCallID(), CalleeID: callee.Identity(),
		Type: call.TypeAudioVideo, State: call.StateInit, CreatedAt: now,
		ProviderSessionID: "s2", ProviderCalleeToken: "ct2", ProviderCallerToken: "rt2",
		CalleeChannelToken: "cc2", CallerChannelToken: "rc2",
		CallToken: "invite-token", URLCreationDate: now - 500,
	}
	foreign := call.Record{
		CallID: sec.NewCallID(), CalleeID: "someone-else",
		Type: call.TypeAudio, State: call.StateInit, CreatedAt: now,
		ProviderSessionID: "s3", ProviderCalleeToken: "ct3", ProviderCallerToken: "rt3",
		CalleeChannelToken: "cc3", CallerChannelToken: "rc3",
	}
	for _, record := range []call.Record{older, newer, foreign} {
		require.NoError(t, f.store.Add(ctx, record, "callId"))
	}

	t.Run("all", func(t *testing.T) {
		summaries, err := f.orchestrator.ListCalls(ctx, callee, 0)
		require.NoError(t, err)
		require.Len(t, summaries, 2)

		// The callee sees its own role tokens, never the caller's.
		assert.Equal(t, "ct1", summaries[0].SessionToken)
		assert.Equal(t, "cc1", summaries[0].ChannelToken)

		// Invite-originated calls carry the reconstructed URL.
		assert.Equal(t, "https://loop.example.com/calls/invite-token", summaries[1].CallURL)
		assert.Equal(t, now-500, summaries[1].URLCreationDate)
	})

	t.Run("since_version", func(t *testing.T) {
		summaries, err := f.orchestrator.ListCalls(ctx, callee, now-50)
		require.NoError(t, err)
		require.Len(t, summaries, 1)
		assert.Equal(t, newer.CallID, summaries[0].CallID)
	})
}

/*
TestOrchestrator_SupervisoryRelease verifies the passive abandonment sweep:
a record stuck in init past the supervisory window is evicted when read, and
answered records are untouched no matter their age.
*/
func TestOrchestrator_SupervisoryRelease(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	callee := &sec.Session{SessionID: "callee-identity"}
	stale := time.Now().Unix() - 120 // well past the 30s window

	abandoned := call.Record{
		CallID: sec.NewCallID(), CalleeID: callee.Identity(),
		Type: call.TypeAudio, State: call.StateInit, CreatedAt: stale,
		ProviderSessionID: "s1", ProviderCalleeToken: "ct1", ProviderCallerToken: "rt1",
		CalleeChannelToken: "cc1", CallerChannelToken: "rc1",
	}
	answered := call.Record{
		CallID: sec.NewCallID(), CalleeID: callee.Identity(),
		Type: call.TypeAudio, State: call.StateAnswered, CreatedAt: stale,
		ProviderSessionID: "s2", ProviderCalleeToken: "ct2", ProviderCallerToken: "rt2",
		CalleeChannelToken: "cc2", CallerChannelToken: "rc2",
	}
	require.NoError(t, f.store.Add(ctx, abandoned, "callId"))
	require.NoError(t, f.store.Add(ctx, answered, "callId"))

	t.Run("list_sweeps", func(t *testing.T) {
		summaries, err := f.orchestrator.ListCalls(ctx, callee, 0)
		require.NoError(t, err)
		require.Len(t, summaries, 1)
		assert.Equal(t, answered.CallID, summaries[0].CallID)

		// The abandoned record is gone for good.
		record, err := f.store.FindOne(ctx, kvstore.Query{"callId": abandoned.CallID})
		require.NoError(t, err)
		assert.Nil(t, record)
	})

	t.Run("get_sweeps", func(t *testing.T) {
		fresh := call.Record{
			CallID: sec.NewCallID(), CalleeID: callee.Identity(),
			Type: call.TypeAudio, State: call.StateInit, CreatedAt: stale,
			ProviderSessionID: "s3", ProviderCalleeToken: "ct3", ProviderCallerToken: "rt3",
			CalleeChannelToken: "cc3", CallerChannelToken: "rc3",
		}
		require.NoError(t, f.store.Add(ctx, fresh, "callId"))

		_, err := f.orchestrator.GetCall(ctx, fresh.CallID)
		assert.True(t, apperr.IsCode(err, "NOT_FOUND"))
	})
}

/*
TestOrchestrator_GetAndTerminate covers capability-style retrieval by call id
and explicit termination.
*/
func TestOrchestrator_GetAndTerminate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.reach("bob@example.com", "https://push.example.com/bob/1")
	caller := &sec.Session{SessionID: "alice-session"}

	results, err := f.orchestrator.InitiateDirect(ctx, caller, []string{"bob@example.com"}, call.TypeAudio)
	require.NoError(t, err)
	callID := results[0].CallID

	record, err := f.orchestrator.GetCall(ctx, callID)
	require.NoError(t, err)
	assert.Equal(t, callID, record.CallID)

	require.NoError(t, f.orchestrator.TerminateCall(ctx, callID))

	_, err = f.orchestrator.GetCall(ctx, callID)
	assert.True(t, apperr.IsCode(err, "NOT_FOUND"))

	err = f.orchestrator.TerminateCall(ctx, callID)
	assert.True(t, apperr.IsCode(err, "NOT_FOUND"))
}
