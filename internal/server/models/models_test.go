package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVaultRecord_Simulated(t *testing.T) {
	r := &VaultRecord{}
	assert.True(t, r.Simulated())

	r.Storage = &StoredArtifact{Path: "KEY-1.enc"}
	assert.False(t, r.Simulated())
}

func TestPrincipal(t *testing.T) {
	u := &User{ID: "1", UserName: "admin", Role: "admin", Status: "active"}
	p := u.Principal()
	assert.True(t, p.IsAdmin())
	assert.True(t, p.Active())

	p = Principal{Role: "user", Status: "locked"}
	assert.False(t, p.IsAdmin())
	assert.False(t, p.Active())
}

func TestValidDeviceStatus(t *testing.T) {
	for _, s := range []string{DeviceTrusted, DevicePending, DeviceRevoked} {
		assert.True(t, ValidDeviceStatus(s), s)
	}
	assert.False(t, ValidDeviceStatus("lost"))
	assert.False(t, ValidDeviceStatus(""))
}
