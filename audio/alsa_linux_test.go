//go:build linux

package audio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveALSAName(t *testing.T) {
	tests := []struct {
		name     string
		device   string
		wantCard uint
		wantDev  uint
		wantErr  bool
	}{
		{name: "empty", device: "", wantCard: 0, wantDev: 0},
		{name: "default", device: "default", wantCard: 0, wantDev: 0},
		{name: "hw_card_only", device: "hw:1", wantCard: 1, wantDev: 0},
		{name: "hw_card_device", device: "hw:2,1", wantCard: 2, wantDev: 1},
		{name: "plughw", device: "plughw:0,0", wantCard: 0, wantDev: 0},
		{name: "garbage", device: "front:CARD=Intel", wantErr: true},
		{name: "named_card", device: "hw:Loopback,0", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			card, dev, err := resolveALSAName(tt.device)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantCard, card)
			assert.Equal(t, tt.wantDev, dev)
		})
	}
}
