package voice

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"sync"

	"github.com/dkeye/Realm/internal/app/fanout"
	"github.com/dkeye/Realm/internal/core"
	"github.com/dkeye/Realm/internal/domain"
	"github.com/dkeye/Realm/internal/protocol"
	"github.com/pion/interceptor"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
)

// fakeCapture blocks reads until stopped.
type fakeCapture struct {
	id      string
	kind    webrtc.RTPCodecType
	pcm     chan []float32
	stop    chan struct{}
	once    sync.Once
	mu      sync.Mutex
	onEnded func()
}

func newFakeCapture(id string, kind webrtc.RTPCodecType) *fakeCapture {
	return &fakeCapture{id: id, kind: kind, pcm: make(chan []float32, 16), stop: make(chan struct{})}
}

func (c *fakeCapture) ID() string                { return c.id }
func (c *fakeCapture) Kind() webrtc.RTPCodecType { return c.kind }

func (c *fakeCapture) Codec() webrtc.RTPCodecCapability {
	if c.kind == webrtc.RTPCodecTypeVideo {
		return webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}
	}
	return webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}
}

func (c *fakeCapture) ReadSample() (media.Sample, error) {
	<-c.stop
	return media.Sample{}, io.EOF
}

func (c *fakeCapture) ReadPCM() ([]float32, error) {
	select {
	case p := <-c.pcm:
		return p, nil
	case <-c.stop:
		return nil, io.EOF
	}
}

func (c *fakeCapture) OnEnded(f func()) {
	c.mu.Lock()
	c.onEnded = f
	c.mu.Unlock()
}

func (c *fakeCapture) Stop() { c.once.Do(func() { close(c.stop) }) }

func (c *fakeCapture) stopped() bool {
	select {
	case <-c.stop:
		return true
	default:
		return false
	}
}

// end simulates the OS ending the capture.
func (c *fakeCapture) end() {
	c.Stop()
	c.mu.Lock()
	f := c.onEnded
	c.mu.Unlock()
	if f != nil {
		f()
	}
}

type fakeDevices struct {
	mu      sync.Mutex
	mics    []*fakeCapture
	screens []*fakeCapture
	micErr  error
	gate    chan struct{} // when set, GetUserMedia waits on it
}

func (d *fakeDevices) GetUserMedia(ctx context.Context) (core.AudioCapture, error) {
	d.mu.Lock()
	g := d.gate
	d.mu.Unlock()
	if g != nil {
		select {
		case <-g:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.micErr != nil {
		return nil, d.micErr
	}
	c := newFakeCapture(fmt.Sprintf("mic-%d", len(d.mics)), webrtc.RTPCodecTypeAudio)
	d.mics = append(d.mics, c)
	return c, nil
}

func (d *fakeDevices) GetDisplayMedia(context.Context) (core.CaptureTrack, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c := newFakeCapture(fmt.Sprintf("screen-%d", len(d.screens)), webrtc.RTPCodecTypeVideo)
	d.screens = append(d.screens, c)
	return c, nil
}

func (d *fakeDevices) mic(i int) *fakeCapture {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.mics[i]
}

func (d *fakeDevices) screen(i int) *fakeCapture {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.screens[i]
}

type fakeSender struct {
	mu    sync.Mutex
	track webrtc.TrackLocal
}

func (s *fakeSender) Track() webrtc.TrackLocal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.track
}

func (s *fakeSender) ReplaceTrack(t webrtc.TrackLocal) error {
	s.mu.Lock()
	s.track = t
	s.mu.Unlock()
	return nil
}

type fakePeer struct {
	remote domain.UserID

	mu         sync.Mutex
	state      webrtc.SignalingState
	hasRemote  bool
	offers     int
	candidates []webrtc.ICECandidateInit
	tracks     []webrtc.TrackLocal
	removed    int
	rtcp       []rtcp.Packet
	rolledBack bool
	closed     bool
	onClosed   func()
	onTrack    func(context.Context, core.RemoteTrack)
	onICE      func(webrtc.ICECandidateInit)
	ctx        context.Context
}

func (p *fakePeer) Start(ctx context.Context) error {
	p.mu.Lock()
	p.ctx = ctx
	p.state = webrtc.SignalingStateStable
	p.mu.Unlock()
	return nil
}

func (p *fakePeer) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	f := p.onClosed
	p.mu.Unlock()
	if f != nil {
		f()
	}
}

func (p *fakePeer) CreateOffer() (webrtc.SessionDescription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.offers++
	p.state = webrtc.SignalingStateHaveLocalOffer
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: fmt.Sprintf("offer-%d", p.offers)}, nil
}

func (p *fakePeer) CreateAnswer() (webrtc.SessionDescription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != webrtc.SignalingStateHaveRemoteOffer {
		return webrtc.SessionDescription{}, errors.New("no remote offer")
	}
	p.state = webrtc.SignalingStateStable
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer"}, nil
}

func (p *fakePeer) SetRemoteDescription(d webrtc.SessionDescription) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch d.Type {
	case webrtc.SDPTypeOffer:
		if p.state != webrtc.SignalingStateStable {
			return errors.New("offer in wrong state")
		}
		p.state = webrtc.SignalingStateHaveRemoteOffer
	case webrtc.SDPTypeAnswer:
		p.state = webrtc.SignalingStateStable
	}
	p.hasRemote = true
	return nil
}

func (p *fakePeer) HasRemoteDescription() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hasRemote
}

func (p *fakePeer) SignalingState() webrtc.SignalingState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *fakePeer) Rollback() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rolledBack = true
	p.state = webrtc.SignalingStateStable
	return nil
}

func (p *fakePeer) AddICECandidate(ci webrtc.ICECandidateInit) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.candidates = append(p.candidates, ci)
	return nil
}

func (p *fakePeer) OnICECandidate(f func(webrtc.ICECandidateInit)) { p.onICE = f }

func (p *fakePeer) OnTrack(f func(context.Context, core.RemoteTrack)) { p.onTrack = f }

func (p *fakePeer) OnClosed(f func()) { p.onClosed = f }

func (p *fakePeer) AddTrack(t webrtc.TrackLocal) (core.RTPSender, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tracks = append(p.tracks, t)
	return &fakeSender{track: t}, nil
}

func (p *fakePeer) RemoveTrack(core.RTPSender) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.removed++
	return nil
}

func (p *fakePeer) WriteRTCP(pkts []rtcp.Packet) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return io.ErrClosedPipe
	}
	p.rtcp = append(p.rtcp, pkts...)
	return nil
}

func (p *fakePeer) snapshot() (offers int, tracks int, candidates int, closed bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.offers, len(p.tracks), len(p.candidates), p.closed
}

type fakePeers struct {
	mu    sync.Mutex
	peers map[domain.UserID]*fakePeer
}

func (f *fakePeers) NewPeer(remote domain.UserID) (core.PeerConnection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.peers == nil {
		f.peers = make(map[domain.UserID]*fakePeer)
	}
	p := &fakePeer{remote: remote}
	f.peers[remote] = p
	return p, nil
}

func (f *fakePeers) get(u domain.UserID) *fakePeer {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.peers[u]
}

type fakeRemoteTrack struct {
	kind webrtc.RTPCodecType
	pkts chan *rtp.Packet
}

func (t *fakeRemoteTrack) ID() string                { return "remote-" + t.kind.String() }
func (t *fakeRemoteTrack) Kind() webrtc.RTPCodecType { return t.kind }
func (t *fakeRemoteTrack) SSRC() webrtc.SSRC         { return 1234 }

func (t *fakeRemoteTrack) Codec() webrtc.RTPCodecParameters {
	return webrtc.RTPCodecParameters{RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}}
}

func (t *fakeRemoteTrack) ReadRTP() (*rtp.Packet, interceptor.Attributes, error) {
	p, ok := <-t.pkts
	if !ok {
		return nil, nil, io.EOF
	}
	return p, nil, nil
}

// constDecoder returns n samples of a fixed value per packet.
type constDecoder struct{ v float32 }

func (d constDecoder) Decode([]byte) ([]float32, error) {
	out := make([]float32, 960)
	for i := range out {
		out[i] = d.v
	}
	return out, nil
}

type played struct {
	from domain.UserID
	pcm  []float32
}

type fakeSink struct {
	ch chan played

	mu        sync.Mutex
	forgotten []domain.UserID
}

func (s *fakeSink) Play(from domain.UserID, pcm []float32) {
	s.ch <- played{from: from, pcm: pcm}
}

func (s *fakeSink) Forget(from domain.UserID) {
	s.mu.Lock()
	s.forgotten = append(s.forgotten, from)
	s.mu.Unlock()
}

func (s *fakeSink) forgot(u domain.UserID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Contains(s.forgotten, u)
}

type fakeAPI struct {
	mu       sync.Mutex
	joins    []domain.ChannelID
	leaves   int
	patches  []domain.VoiceStatePatch
	users    map[domain.ChannelID][]domain.VoiceState
	joinErr  error
	patchErr error
}

func (a *fakeAPI) JoinVoice(_ context.Context, ch domain.ChannelID) (*domain.VoiceState, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.joinErr != nil {
		return nil, a.joinErr
	}
	a.joins = append(a.joins, ch)
	return &domain.VoiceState{ChannelID: &ch}, nil
}

func (a *fakeAPI) LeaveVoice(context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.leaves++
	return nil
}

func (a *fakeAPI) UpdateVoiceState(_ context.Context, p domain.VoiceStatePatch) (*domain.VoiceState, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.patches = append(a.patches, p)
	return &domain.VoiceState{}, a.patchErr
}

func (a *fakeAPI) leaveCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.leaves
}

func (a *fakeAPI) VoiceUsers(_ context.Context, ch domain.ChannelID) ([]domain.VoiceState, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.users[ch], nil
}

type sentSignal struct {
	kind    protocol.Type
	channel domain.ChannelID
	data    protocol.SignalData
}

type fakeSignaler struct {
	hub *fanout.Hub[protocol.Event]

	mu      sync.Mutex
	signals []sentSignal
	states  []protocol.VoiceStateData
}

func newFakeSignaler() *fakeSignaler {
	return &fakeSignaler{hub: fanout.NewHub[protocol.Event](nil)}
}

func (s *fakeSignaler) SendSignal(kind protocol.Type, ch domain.ChannelID, d protocol.SignalData) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signals = append(s.signals, sentSignal{kind: kind, channel: ch, data: d})
	return nil
}

func (s *fakeSignaler) UpdateVoiceState(st protocol.VoiceStateData) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states = append(s.states, st)
	return nil
}

func (s *fakeSignaler) Subscribe(opts ...fanout.Option[protocol.Event]) *fanout.Subscription[protocol.Event] {
	return s.hub.Subscribe(opts...)
}

func (s *fakeSignaler) sent(kind protocol.Type) []sentSignal {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []sentSignal
	for _, sig := range s.signals {
		if sig.kind == kind {
			out = append(out, sig)
		}
	}
	return out
}

func (s *fakeSignaler) lastState() protocol.VoiceStateData {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.states) == 0 {
		return protocol.VoiceStateData{}
	}
	return s.states[len(s.states)-1]
}
