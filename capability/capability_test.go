package capability

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRequiredForAddsDASForRecognizedMethods(t *testing.T) {
	s := RequiredFor("getAssetsByOwner")
	assert.True(t, s.Has(Standard))
	assert.True(t, s.Has(DAS))
}

func TestRequiredForPlainMethodIsStandardOnly(t *testing.T) {
	s := RequiredFor("getBalance")
	assert.True(t, s.Has(Standard))
	assert.False(t, s.Has(DAS))
}

func TestHasAll(t *testing.T) {
	endpoint := NewSet(Standard, WebSocket)
	assert.True(t, endpoint.HasAll(NewSet(Standard)))
	assert.False(t, endpoint.HasAll(NewSet(Standard, DAS)))
}

func TestIsDASMethodCoversFullSet(t *testing.T) {
	for _, m := range []string{
		"getAsset", "getAssetProof", "getAssetsByOwner", "getAssetsByGroup",
		"getAssetsByCreator", "getAssetsByAuthority", "searchAssets",
		"getSignaturesForAsset", "getTokenAccounts",
	} {
		assert.True(t, IsDASMethod(m), m)
	}
	assert.False(t, IsDASMethod("getBalance"))
}
