package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMomentExpired(t *testing.T) {
	deadline := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	m := &Moment{ExpiresAt: deadline}

	tests := []struct {
		name    string
		now     time.Time
		expired bool
	}{
		{"before deadline", deadline.Add(-time.Second), false},
		{"at deadline", deadline, false},
		{"after deadline", deadline.Add(time.Second), true},
		{"long after deadline", deadline.Add(24 * time.Hour), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expired, m.Expired(tt.now))
		})
	}
}

func TestMomentExpiredZeroDeadline(t *testing.T) {
	m := &Moment{}
	assert.False(t, m.Expired(time.Now()))
}

func TestMomentStatusTerminal(t *testing.T) {
	assert.False(t, MomentPendingPartner.Terminal())
	assert.True(t, MomentCompleted.Terminal())
	assert.True(t, MomentFailed.Terminal())
	assert.True(t, MomentExpired.Terminal())
}

func TestCouplePartnerOf(t *testing.T) {
	c := &Couple{ID: "c1", UserAID: "alice", UserBID: "bob"}

	assert.Equal(t, "bob", c.PartnerOf("alice"))
	assert.Equal(t, "alice", c.PartnerOf("bob"))
	assert.Equal(t, "", c.PartnerOf("mallory"))

	assert.True(t, c.HasMember("alice"))
	assert.True(t, c.HasMember("bob"))
	assert.False(t, c.HasMember("mallory"))
}
