package util

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestValidateDuration(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		d       time.Duration
		wantErr bool
	}{
		{name: "zero", d: 0},
		{name: "positive", d: time.Second},
		{name: "negative", d: -time.Millisecond, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := ValidateDuration(tt.d)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestValidatePositiveDuration(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		d       time.Duration
		wantErr bool
	}{
		{name: "positive", d: 50 * time.Millisecond},
		{name: "zero", d: 0, wantErr: true},
		{name: "negative", d: -time.Second, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := ValidatePositiveDuration(tt.d)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestValidatePercentage(t *testing.T) {
	t.Parallel()

	assert.NoError(t, ValidatePercentage(0))
	assert.NoError(t, ValidatePercentage(100))
	assert.Error(t, ValidatePercentage(-1))
	assert.Error(t, ValidatePercentage(100.5))
}

func TestValidateNonEmpty(t *testing.T) {
	t.Parallel()

	assert.NoError(t, ValidateNonEmpty(":8080", "address"))

	err := ValidateNonEmpty("   ", "address")
	assert.EqualError(t, err, "address cannot be empty")
}
