package server

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func newTestServer(t *testing.T, cfg Config) *Server {
	t.Helper()
	var log = logrus.NewEntry(logrus.New())
	return New(cfg, NewSyntheticFramebuffer(64, 64), nil, log)
}

func TestApplySharingPolicyAlwaysSharedIgnoresClientFlag(t *testing.T) {
	var srv = newTestServer(t, Config{AlwaysShared: true})
	var s = newTestSession(t, 64, 64)
	srv.register(&Session{}) // a distinct "other" session present

	assert.NoError(t, srv.applySharingPolicy(s, false))
}

func TestApplySharingPolicyNonSharedClosesOthers(t *testing.T) {
	var srv = newTestServer(t, Config{})
	var other, _ = pipeSession(t)
	srv.register(other)

	var s = newTestSession(t, 64, 64)
	assert.NoError(t, srv.applySharingPolicy(s, false))

	srv.mu.Lock()
	_, stillPresent := srv.sessions[other]
	srv.mu.Unlock()
	assert.False(t, stillPresent, "the non-shared request must close the pre-existing session")
}

func TestApplySharingPolicyDontDisconnectRefusesNewClient(t *testing.T) {
	var srv = newTestServer(t, Config{DontDisconnect: true})
	var other = newTestSession(t, 64, 64)
	srv.register(other)

	var s = newTestSession(t, 64, 64)
	assert.Error(t, srv.applySharingPolicy(s, false))

	srv.mu.Lock()
	_, stillPresent := srv.sessions[other]
	srv.mu.Unlock()
	assert.True(t, stillPresent, "dontDisconnect must leave the existing session untouched")
}

func TestApplySharingPolicySharedRequestNeverDisturbsOthers(t *testing.T) {
	var srv = newTestServer(t, Config{})
	var other = newTestSession(t, 64, 64)
	srv.register(other)

	var s = newTestSession(t, 64, 64)
	assert.NoError(t, srv.applySharingPolicy(s, true))

	srv.mu.Lock()
	_, stillPresent := srv.sessions[other]
	srv.mu.Unlock()
	assert.True(t, stillPresent)
}

func TestEnterPushModeSetsDatagramOnBothSessionAndTransport(t *testing.T) {
	var srv = newTestServer(t, Config{})
	var s, _ = pipeSession(t)

	srv.EnterPushMode(s)

	assert.True(t, s.UseDatagram)
	assert.True(t, s.conn.UseDatagram)
}
