package voice

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/Realm/internal/core"
	"github.com/dkeye/Realm/internal/domain"
	"github.com/dkeye/Realm/internal/protocol"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	m       *Manager
	devices *fakeDevices
	peers   *fakePeers
	api     *fakeAPI
	sig     *fakeSignaler
	sink    *fakeSink
}

func newHarness(t *testing.T, self domain.UserID) *harness {
	t.Helper()
	h := &harness{
		devices: &fakeDevices{},
		peers:   &fakePeers{},
		api:     &fakeAPI{users: map[domain.ChannelID][]domain.VoiceState{}},
		sig:     newFakeSignaler(),
		sink:    &fakeSink{ch: make(chan played, 64)},
	}
	h.m = NewManager(Options{
		Self:     domain.User{ID: self, Username: string(self)},
		Devices:  h.devices,
		Peers:    h.peers,
		Decoders: func() (core.AudioDecoder, error) { return constDecoder{v: 0.5}, nil },
		Sink:     h.sink,
		API:      h.api,
		Signal:   h.sig,
		Config:   Config{SampleInterval: time.Hour},
	})
	t.Cleanup(func() { h.m.Close(context.Background()) })
	return h
}

func voiceState(user domain.UserID, ch domain.ChannelID) protocol.VoiceStateUpdated {
	st := domain.VoiceState{UserID: user}
	if ch != "" {
		st.ChannelID = &ch
	}
	return protocol.VoiceStateUpdated{Meta: protocol.Meta{UserID: user}, State: st}
}

func signal(kind protocol.Type, from, to domain.UserID, ch domain.ChannelID, d protocol.SignalData) protocol.VoiceSignal {
	d.TargetUserID = to
	return protocol.VoiceSignal{Meta: protocol.Meta{UserID: from, ChannelID: ch}, Kind: kind, Signal: d}
}

func TestJoinLoadsRosterAndPublishesState(t *testing.T) {
	h := newHarness(t, "b")
	h.api.users["v1"] = []domain.VoiceState{
		{UserID: "a", SelfMuted: true, User: &domain.User{Username: "alice"}},
		{UserID: "b"},
	}

	require.NoError(t, h.m.Join(context.Background(), "v1"))

	snap := h.m.Snapshot()
	require.NotNil(t, snap.ChannelID)
	assert.Equal(t, domain.ChannelID("v1"), *snap.ChannelID)
	require.Len(t, snap.Participants, 2)
	assert.Equal(t, domain.UserID("b"), snap.Participants[0].UserID, "self is listed first")
	assert.Equal(t, "alice", snap.Participants[1].Username)
	assert.True(t, snap.Participants[1].Muted)

	assert.Equal(t, []domain.ChannelID{"v1"}, h.api.joins)
	st := h.sig.lastState()
	require.NotNil(t, st.ChannelID)
	assert.Equal(t, domain.ChannelID("v1"), *st.ChannelID)
	assert.Empty(t, h.sig.sent(protocol.TypeVoiceOffer), "the larger id waits for an offer")
}

func TestJoinPermissionDenied(t *testing.T) {
	h := newHarness(t, "b")
	h.devices.micErr = domain.ErrPermissionDenied

	err := h.m.Join(context.Background(), "v1")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrPermissionDenied)
	assert.Equal(t, domain.KindPermissionDenied, domain.KindOf(err))
	assert.Empty(t, h.api.joins)
	assert.Nil(t, h.m.Snapshot().ChannelID)
}

func TestJoinRejectedReleasesMicrophone(t *testing.T) {
	h := newHarness(t, "b")
	h.api.joinErr = &domain.Error{Kind: domain.KindServerRejected, Op: "rest.voice_join", Status: 403}

	err := h.m.Join(context.Background(), "v1")
	assert.Equal(t, domain.KindServerRejected, domain.KindOf(err))
	assert.True(t, h.devices.mic(0).stopped())
	assert.Nil(t, h.m.Snapshot().ChannelID)
}

func TestConcurrentJoinIsRejected(t *testing.T) {
	h := newHarness(t, "b")
	h.devices.gate = make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(1)
	var first error
	go func() {
		defer wg.Done()
		first = h.m.Join(context.Background(), "v1")
	}()

	require.Eventually(t, func() bool {
		h.m.mu.Lock()
		defer h.m.mu.Unlock()
		return h.m.joining
	}, time.Second, time.Millisecond)

	err := h.m.Join(context.Background(), "v1")
	assert.ErrorIs(t, err, domain.ErrJoinInProgress)

	close(h.devices.gate)
	wg.Wait()
	require.NoError(t, first)
}

func TestJoinSecondChannelLeavesFirst(t *testing.T) {
	h := newHarness(t, "b")
	require.NoError(t, h.m.Join(context.Background(), "v1"))
	require.NoError(t, h.m.Join(context.Background(), "v2"))

	assert.True(t, h.devices.mic(0).stopped())
	assert.False(t, h.devices.mic(1).stopped())
	assert.Equal(t, 1, h.api.leaves)
	assert.Equal(t, domain.ChannelID("v2"), *h.m.Snapshot().ChannelID)

	require.NoError(t, h.m.Join(context.Background(), "v2"), "rejoining the same channel is a no-op")
	assert.Len(t, h.devices.mics, 2)
}

func TestLeaveWithoutConnectionIsNoop(t *testing.T) {
	h := newHarness(t, "b")
	require.NoError(t, h.m.Leave(context.Background(), "nope"))
	assert.Equal(t, 0, h.api.leaves)
	assert.Nil(t, h.m.Snapshot().ChannelID)
	assert.Empty(t, h.sig.states)
}

func TestLeaveStopsTracksAndClosesPeers(t *testing.T) {
	h := newHarness(t, "b")
	require.NoError(t, h.m.Join(context.Background(), "v1"))
	h.m.HandleEvent(context.Background(), voiceState("a", "v1"))
	p := h.peers.get("a")
	require.NotNil(t, p)

	require.NoError(t, h.m.Leave(context.Background(), "v1"))
	assert.True(t, h.devices.mic(0).stopped())
	_, _, _, closed := p.snapshot()
	assert.True(t, closed)
	assert.Nil(t, h.m.Snapshot().ChannelID)
	assert.Nil(t, h.sig.lastState().ChannelID)

	require.NoError(t, h.m.Leave(context.Background(), "v1"))
	assert.Equal(t, 1, h.api.leaves)
}

func TestDeafenForcesMute(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "b")
	require.NoError(t, h.m.Join(ctx, "v1"))

	deaf, err := h.m.ToggleDeafen(ctx)
	require.NoError(t, err)
	assert.True(t, deaf)
	assert.True(t, h.m.Muted())

	deaf, _ = h.m.ToggleDeafen(ctx)
	assert.False(t, deaf)
	assert.True(t, h.m.Muted(), "undeafen does not restore mute")

	muted, _ := h.m.ToggleMute(ctx)
	assert.False(t, muted)
	muted, _ = h.m.ToggleMute(ctx)
	assert.True(t, muted)
	h.m.ToggleDeafen(ctx)
	assert.True(t, h.m.Muted(), "deafen while muted leaves mute on")
	assert.True(t, h.m.Deafened())

	last := h.api.patches[len(h.api.patches)-1]
	require.NotNil(t, last.Muted)
	require.NotNil(t, last.Deafened)
	assert.True(t, *last.Muted)
	assert.True(t, *last.Deafened)
	assert.True(t, h.sig.lastState().Deafened)
}

func TestMuteGatesLocalAudio(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "b")
	require.NoError(t, h.m.Join(ctx, "v1"))
	conn := h.m.connections["v1"]
	assert.Equal(t, GateOpen, conn.audioGate.State())

	h.m.ToggleMute(ctx)
	assert.Equal(t, GateMuted, conn.audioGate.State())

	h.m.PushToTalk(true)
	assert.Equal(t, GateMuted, conn.audioGate.State(), "key ignored while push-to-talk is off")

	h.m.SetPushToTalk(true)
	h.m.PushToTalk(true)
	assert.Equal(t, GateOpen, conn.audioGate.State())
	assert.True(t, h.m.Snapshot().Transmitting)
	h.m.PushToTalk(false)
	assert.Equal(t, GateMuted, conn.audioGate.State())

	h.m.ToggleDeafen(ctx)
	h.m.PushToTalk(true)
	assert.Equal(t, GateMuted, conn.audioGate.State(), "deafened users do not transmit")

	require.NoError(t, h.m.Leave(ctx, "v1"))
	assert.Equal(t, GateDelete, conn.audioGate.State())
}

func TestToggleWithoutConnectionOnlyFlipsLocalState(t *testing.T) {
	h := newHarness(t, "b")
	muted, err := h.m.ToggleMute(context.Background())
	require.NoError(t, err)
	assert.True(t, muted)
	assert.Empty(t, h.api.patches)
}

func TestNewcomerGetsOfferFromExistingMember(t *testing.T) {
	h := newHarness(t, "a")
	require.NoError(t, h.m.Join(context.Background(), "v1"))

	h.m.HandleEvent(context.Background(), voiceState("c", "v1"))
	offers := h.sig.sent(protocol.TypeVoiceOffer)
	require.Len(t, offers, 1)
	assert.Equal(t, domain.UserID("c"), offers[0].data.TargetUserID)
	assert.Equal(t, "offer-1", offers[0].data.SDP)
	assert.Equal(t, domain.ChannelID("v1"), offers[0].channel)

	_, tracks, _, _ := h.peers.get("c").snapshot()
	assert.Equal(t, 1, tracks, "microphone track attached")

	// A later state change from the same user does not renegotiate.
	h.m.HandleEvent(context.Background(), voiceState("c", "v1"))
	assert.Len(t, h.sig.sent(protocol.TypeVoiceOffer), 1)

	h.m.HandleEvent(context.Background(), signal(protocol.TypeVoiceAnswer, "c", "a", "v1", protocol.SignalData{SDP: "answer"}))
	assert.Equal(t, webrtc.SignalingStateStable, h.peers.get("c").SignalingState())

	// Leaving the channel tears the peer down.
	h.m.HandleEvent(context.Background(), voiceState("c", ""))
	_, _, _, closed := h.peers.get("c").snapshot()
	assert.True(t, closed)
	assert.Len(t, h.m.Snapshot().Participants, 1)
}

func TestSimultaneousJoinersConnect(t *testing.T) {
	ctx := context.Background()
	a, b := newHarness(t, "a"), newHarness(t, "b")
	roster := []domain.VoiceState{{UserID: "a"}, {UserID: "b"}}
	a.api.users["v1"] = roster
	b.api.users["v1"] = roster

	require.NoError(t, a.m.Join(ctx, "v1"))
	require.NoError(t, b.m.Join(ctx, "v1"))
	a.m.HandleEvent(ctx, voiceState("b", "v1"))
	b.m.HandleEvent(ctx, voiceState("a", "v1"))

	offers := a.sig.sent(protocol.TypeVoiceOffer)
	require.Len(t, offers, 1, "smaller id offers at join")
	assert.Equal(t, domain.UserID("b"), offers[0].data.TargetUserID)
	assert.Empty(t, b.sig.sent(protocol.TypeVoiceOffer))

	b.m.HandleEvent(ctx, signal(protocol.TypeVoiceOffer, "a", "b", "v1", offers[0].data))
	answers := b.sig.sent(protocol.TypeVoiceAnswer)
	require.Len(t, answers, 1)
	a.m.HandleEvent(ctx, signal(protocol.TypeVoiceAnswer, "b", "a", "v1", answers[0].data))

	require.NotNil(t, a.peers.get("b"))
	require.NotNil(t, b.peers.get("a"))
	assert.Equal(t, webrtc.SignalingStateStable, a.peers.get("b").SignalingState())
	assert.Equal(t, webrtc.SignalingStateStable, b.peers.get("a").SignalingState())
	assert.True(t, a.peers.get("b").HasRemoteDescription())
}

func TestDepartedParticipantIsForgotten(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "b")
	h.api.users["v1"] = []domain.VoiceState{{UserID: "a"}, {UserID: "b"}, {UserID: "c"}}
	require.NoError(t, h.m.Join(ctx, "v1"))

	h.m.HandleEvent(ctx, voiceState("a", ""))
	assert.True(t, h.sink.forgot("a"))
	assert.False(t, h.sink.forgot("c"))

	require.NoError(t, h.m.Leave(ctx, "v1"))
	assert.True(t, h.sink.forgot("c"))
}

func TestMicrophoneEndLeavesChannel(t *testing.T) {
	h := newHarness(t, "b")
	require.NoError(t, h.m.Join(context.Background(), "v1"))

	h.devices.mic(0).end()
	require.Eventually(t, func() bool { return h.m.Snapshot().ChannelID == nil }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		return h.api.leaveCount() == 1 && h.sig.lastState().ChannelID == nil
	}, time.Second, 5*time.Millisecond)
}

func TestOfferIsAnsweredAndCandidatesBuffered(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "b")
	require.NoError(t, h.m.Join(ctx, "v1"))

	mid := "0"
	h.m.HandleEvent(ctx, signal(protocol.TypeVoiceICECandidate, "a", "b", "v1", protocol.SignalData{Candidate: "candidate:1", SDPMid: &mid}))
	p := h.peers.get("a")
	require.NotNil(t, p)
	_, _, cands, _ := p.snapshot()
	assert.Equal(t, 0, cands, "candidate held until the remote description is set")

	h.m.HandleEvent(ctx, signal(protocol.TypeVoiceOffer, "a", "b", "v1", protocol.SignalData{SDP: "offer"}))
	_, _, cands, _ = p.snapshot()
	assert.Equal(t, 1, cands)

	answers := h.sig.sent(protocol.TypeVoiceAnswer)
	require.Len(t, answers, 1)
	assert.Equal(t, domain.UserID("a"), answers[0].data.TargetUserID)
	assert.Equal(t, "answer", answers[0].data.SDP)

	h.m.HandleEvent(ctx, signal(protocol.TypeVoiceICECandidate, "a", "b", "v1", protocol.SignalData{Candidate: "candidate:2"}))
	_, _, cands, _ = p.snapshot()
	assert.Equal(t, 2, cands)
}

func TestSignalsForOthersAreIgnored(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "b")
	require.NoError(t, h.m.Join(ctx, "v1"))

	h.m.HandleEvent(ctx, signal(protocol.TypeVoiceOffer, "a", "z", "v1", protocol.SignalData{SDP: "offer"}))
	h.m.HandleEvent(ctx, signal(protocol.TypeVoiceOffer, "a", "b", "other", protocol.SignalData{SDP: "offer"}))
	assert.Nil(t, h.peers.get("a"))
	assert.Empty(t, h.sig.sent(protocol.TypeVoiceAnswer))
}

func TestOfferCollision(t *testing.T) {
	ctx := context.Background()

	t.Run("impolite peer ignores", func(t *testing.T) {
		h := newHarness(t, "a") // "a" < "c": impolite
		require.NoError(t, h.m.Join(ctx, "v1"))
		h.m.HandleEvent(ctx, voiceState("c", "v1"))
		require.Equal(t, webrtc.SignalingStateHaveLocalOffer, h.peers.get("c").SignalingState())

		h.m.HandleEvent(ctx, signal(protocol.TypeVoiceOffer, "c", "a", "v1", protocol.SignalData{SDP: "glare"}))
		assert.Empty(t, h.sig.sent(protocol.TypeVoiceAnswer))
		assert.Equal(t, webrtc.SignalingStateHaveLocalOffer, h.peers.get("c").SignalingState())
	})

	t.Run("polite peer rolls back", func(t *testing.T) {
		h := newHarness(t, "z") // "z" > "c": polite
		require.NoError(t, h.m.Join(ctx, "v1"))
		h.m.HandleEvent(ctx, voiceState("c", "v1"))

		h.m.HandleEvent(ctx, signal(protocol.TypeVoiceOffer, "c", "z", "v1", protocol.SignalData{SDP: "glare"}))
		p := h.peers.get("c")
		p.mu.Lock()
		rolledBack := p.rolledBack
		p.mu.Unlock()
		assert.True(t, rolledBack)
		assert.Len(t, h.sig.sent(protocol.TypeVoiceAnswer), 1)
	})
}

func TestLocalCandidatesAreSignalled(t *testing.T) {
	h := newHarness(t, "a")
	require.NoError(t, h.m.Join(context.Background(), "v1"))
	h.m.HandleEvent(context.Background(), voiceState("c", "v1"))

	idx := uint16(0)
	h.peers.get("c").onICE(webrtc.ICECandidateInit{Candidate: "candidate:x", SDPMLineIndex: &idx})
	cands := h.sig.sent(protocol.TypeVoiceICECandidate)
	require.Len(t, cands, 1)
	assert.Equal(t, "candidate:x", cands[0].data.Candidate)
	assert.Equal(t, domain.UserID("c"), cands[0].data.TargetUserID)
}

func TestScreenShareLifecycle(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "a")

	err := h.m.StartScreenShare(ctx)
	assert.ErrorIs(t, err, domain.ErrNotInVoice)

	require.NoError(t, h.m.Join(ctx, "v1"))
	h.m.HandleEvent(ctx, voiceState("c", "v1"))
	p := h.peers.get("c")

	require.NoError(t, h.m.StartScreenShare(ctx))
	assert.True(t, h.m.Snapshot().Streaming)
	offers, tracks, _, _ := p.snapshot()
	assert.Equal(t, 2, tracks, "screen track added next to the microphone")
	assert.Equal(t, 2, offers, "adding a track renegotiates")
	assert.True(t, h.sig.lastState().Streaming)
	last := h.api.patches[len(h.api.patches)-1]
	require.NotNil(t, last.Streaming)
	assert.True(t, *last.Streaming)

	// A peer arriving mid-share gets both tracks up front.
	h.m.HandleEvent(ctx, voiceState("d", "v1"))
	_, tracks, _, _ = h.peers.get("d").snapshot()
	assert.Equal(t, 2, tracks)

	// The OS ends the capture: the share reverts on its own.
	h.devices.screen(0).end()
	assert.False(t, h.m.Snapshot().Streaming)
	p.mu.Lock()
	removed := p.removed
	p.mu.Unlock()
	assert.Equal(t, 1, removed)
	assert.False(t, h.sig.lastState().Streaming)

	require.NoError(t, h.m.StopScreenShare(ctx), "stop after auto-stop is a no-op")
}

func TestSetVolumeClamps(t *testing.T) {
	h := newHarness(t, "b")
	h.api.users["v1"] = []domain.VoiceState{{UserID: "a"}}
	require.NoError(t, h.m.Join(context.Background(), "v1"))

	h.m.SetVolume("a", 5)
	assert.InDelta(t, 2.0, h.m.Snapshot().Participants[1].Volume, 1e-9)
	h.m.SetVolume("a", -1)
	assert.InDelta(t, 0.0, h.m.Snapshot().Participants[1].Volume, 1e-9)
}

func TestRemoteAudioReachesSinkUnlessDeafened(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "b")
	require.NoError(t, h.m.Join(ctx, "v1"))
	h.m.HandleEvent(ctx, signal(protocol.TypeVoiceOffer, "a", "b", "v1", protocol.SignalData{SDP: "offer"}))
	p := h.peers.get("a")
	h.m.SetVolume("a", 0.5)

	track := &fakeRemoteTrack{kind: webrtc.RTPCodecTypeAudio, pkts: make(chan *rtp.Packet, 4)}
	done := make(chan struct{})
	go func() {
		p.onTrack(p.ctx, track)
		close(done)
	}()

	track.pkts <- &rtp.Packet{Payload: []byte{1}}
	select {
	case got := <-h.sink.ch:
		assert.Equal(t, domain.UserID("a"), got.from)
		assert.InDelta(t, 0.25, got.pcm[0], 1e-6)
	case <-time.After(time.Second):
		t.Fatal("no audio played")
	}

	h.m.ToggleDeafen(ctx)
	track.pkts <- &rtp.Packet{Payload: []byte{1}}
	select {
	case <-h.sink.ch:
		t.Fatal("audio played while deafened")
	case <-time.After(30 * time.Millisecond):
	}

	close(track.pkts)
	<-done
}

func TestRemoteVideoRequestsKeyframe(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "b")
	require.NoError(t, h.m.Join(ctx, "v1"))
	h.m.HandleEvent(ctx, signal(protocol.TypeVoiceOffer, "a", "b", "v1", protocol.SignalData{SDP: "offer"}))
	p := h.peers.get("a")

	track := &fakeRemoteTrack{kind: webrtc.RTPCodecTypeVideo, pkts: make(chan *rtp.Packet)}
	go p.onTrack(p.ctx, track)

	require.Eventually(t, func() bool {
		p.mu.Lock()
		defer p.mu.Unlock()
		return len(p.rtcp) > 0
	}, time.Second, time.Millisecond)
	p.mu.Lock()
	pli, ok := p.rtcp[0].(*rtcp.PictureLossIndication)
	p.mu.Unlock()
	require.True(t, ok)
	assert.EqualValues(t, 1234, pli.MediaSSRC)
	assert.True(t, h.m.Snapshot().Participants[1].Streaming)
	close(track.pkts)
}

func TestJoinErrorsAreTyped(t *testing.T) {
	h := newHarness(t, "b")
	h.devices.micErr = errors.New("no device")
	err := h.m.Join(context.Background(), "v1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrPermissionDenied)
}
